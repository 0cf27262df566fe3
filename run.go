package dup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zalando/dup/logging"
	"github.com/zalando/dup/metrics"
)

func createLogFile(path string) (io.Writer, error) {
	switch path {
	case "", "/dev/stderr":
		return os.Stderr, nil
	case "/dev/stdout":
		return os.Stdout, nil
	default:
		return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	}
}

func initLog(o Options) error {
	logOutput, err := createLogFile(o.ApplicationLogOutput)
	if err != nil {
		return err
	}

	dupLogOutput, err := createLogFile(o.DupLogOutput)
	if err != nil {
		return err
	}

	logging.Init(logging.Options{
		ApplicationLogPrefix:      o.ApplicationLogPrefix,
		ApplicationLogOutput:      logOutput,
		ApplicationLogLevel:       o.ApplicationLogLevel,
		ApplicationLogLevelSet:    o.ApplicationLogLevelSet,
		ApplicationLogJSONEnabled: o.ApplicationLogJSONEnabled,
		DupLogOutput:              dupLogOutput,
		DupLogEnabled:             !o.DupLogDisabled,
		DupLogJSONEnabled:         o.DupLogJSONEnabled,
	})

	return nil
}

func metricsKind(flavours []string) (metrics.Kind, error) {
	kind := metrics.UnknownKind
	for _, f := range flavours {
		k, err := metrics.ParseMetricsKind(f)
		if err != nil {
			return metrics.UnknownKind, err
		}

		kind |= k
	}

	if kind == metrics.UnknownKind {
		kind = metrics.CodaHaleKind
	}

	return kind, nil
}

func newSupportServer(address string, m metrics.Metrics) *http.Server {
	h := metrics.NewDefaultHandler(m, "/metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	mux.Handle("/metrics/", h)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &http.Server{Addr: address, Handler: mux}
}

func listenAndServe(name string, s *http.Server) error {
	log.Infof("%s listener on %v", name, s.Addr)
	if err := s.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s listener: %w", name, err)
	}

	return nil
}

func shutdown(ctx context.Context, o Options, servers ...*http.Server) error {
	<-ctx.Done()
	log.Infof("shutting down the servers in %s...", o.ShutdownTimeout)

	sctx, cancel := context.WithTimeout(context.Background(), o.ShutdownTimeout)
	defer cancel()

	var errs []error
	for _, s := range servers {
		if err := s.Shutdown(sctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func run(o Options, sig <-chan os.Signal) error {
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = DefaultShutdownTimeout
	}

	if o.Backend == "" {
		return ErrMissingBackend
	}

	backend, err := url.Parse(o.Backend)
	if err != nil {
		return fmt.Errorf("invalid backend: %w", err)
	}

	if o.Metrics == nil {
		kind, err := metricsKind(o.MetricsFlavours)
		if err != nil {
			return err
		}

		m := metrics.NewMetrics(metrics.Options{
			Format:               kind,
			Prefix:               o.MetricsPrefix,
			EnableRuntimeMetrics: o.EnableRuntimeMetrics,
			UseExpDecaySample:    o.MetricsUseExpDecaySample,
			HistogramBuckets:     o.HistogramMetricBuckets,
		})

		defer m.Close()
		o.Metrics = m
	}

	d, err := New(o)
	if err != nil {
		return err
	}

	proxy := &http.Server{
		Addr:    o.Address,
		Handler: d.Handler(httputil.NewSingleHostReverseProxy(backend)),
	}

	servers := []*http.Server{proxy}
	if o.SupportListener != "" {
		servers = append(servers, newSupportServer(o.SupportListener, o.Metrics))
	}

	if err := d.Start(); err != nil {
		d.Stop()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case s := <-sig:
			log.Infof("received %v", s)
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listenAndServe("proxy", proxy) })
	if len(servers) > 1 {
		g.Go(func() error { return listenAndServe("support", servers[1]) })
	}

	g.Go(func() error { return shutdown(gctx, o, servers...) })

	err = g.Wait()

	// the handlers don't push to the queue anymore
	d.Stop()
	log.Info("duplicator stopped")
	return err
}

// Run starts the proxy, the support listener and the workers, and
// blocks until a SIGTERM or SIGINT arrives, or one of the listeners
// fails. On shutdown, it waits for the open connections of the
// listeners, and then until the workers finish the queued duplicates.
func Run(o Options) error {
	if err := initLog(o); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sig)

	return run(o, sig)
}
