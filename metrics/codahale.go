package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/rcrowley/go-metrics"
)

const (
	KeyDispatchLocation = "dup.dispatch.%s.%d"

	statsRefreshDuration = 5 * time.Second

	defaultUniformReservoirSize  = 1024
	defaultExpDecayReservoirSize = 1028
	defaultExpDecayAlpha         = 0.015
)

// CodaHale is the CodaHale format backend, implements Metrics interface in DropWizard's CodaHale metrics format.
type CodaHale struct {
	reg           metrics.Registry
	createTimer   func() metrics.Timer
	createCounter func() metrics.Counter
	createGauge   func() metrics.GaugeFloat64
	options       Options
	handler       http.Handler
	quit          chan struct{}
}

// NewCodaHale returns a new CodaHale backend of metrics.
func NewCodaHale(o Options) *CodaHale {
	c := &CodaHale{quit: make(chan struct{})}
	c.reg = metrics.NewRegistry()

	createSample := newUniformSample
	if o.UseExpDecaySample {
		createSample = newExpDecaySample
	}

	c.createTimer = func() metrics.Timer {
		return metrics.NewCustomTimer(metrics.NewHistogram(createSample()), metrics.NewMeter())
	}

	c.createCounter = metrics.NewCounter
	c.createGauge = metrics.NewGaugeFloat64
	c.options = o

	if o.EnableRuntimeMetrics {
		metrics.RegisterRuntimeMemStats(c.reg)
		go c.captureRuntimeMemStats()
	}

	return c
}

// NewVoid returns a backend that does not collect anything.
func NewVoid() *CodaHale {
	c := &CodaHale{quit: make(chan struct{})}
	c.reg = metrics.NewRegistry()
	c.createTimer = func() metrics.Timer { return metrics.NilTimer{} }
	c.createCounter = func() metrics.Counter { return metrics.NilCounter{} }
	c.createGauge = func() metrics.GaugeFloat64 { return metrics.NilGaugeFloat64{} }
	return c
}

func newUniformSample() metrics.Sample {
	return metrics.NewUniformSample(defaultUniformReservoirSize)
}

func newExpDecaySample() metrics.Sample {
	return metrics.NewExpDecaySample(defaultExpDecayReservoirSize, defaultExpDecayAlpha)
}

func (c *CodaHale) captureRuntimeMemStats() {
	t := time.NewTicker(statsRefreshDuration)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			metrics.CaptureRuntimeMemStatsOnce(c.reg)
		case <-c.quit:
			return
		}
	}
}

func (c *CodaHale) getTimer(key string) metrics.Timer {
	return c.reg.GetOrRegister(key, c.createTimer).(metrics.Timer)
}

func (c *CodaHale) getCounter(key string) metrics.Counter {
	return c.reg.GetOrRegister(key, c.createCounter).(metrics.Counter)
}

func (c *CodaHale) getGauge(key string) metrics.GaugeFloat64 {
	return c.reg.GetOrRegister(key, c.createGauge).(metrics.GaugeFloat64)
}

func (c *CodaHale) MeasureSince(key string, start time.Time) {
	c.getTimer(key).UpdateSince(start)
}

func (c *CodaHale) MeasureDispatch(location string, code int, start time.Time) {
	d := time.Since(start)
	c.getTimer(KeyDispatch).Update(d)
	c.getTimer(fmt.Sprintf(KeyDispatchLocation, locationForKey(location), code)).Update(d)
}

func (c *CodaHale) IncCounter(key string) {
	c.getCounter(key).Inc(1)
}

func (c *CodaHale) IncCounterBy(key string, value int64) {
	c.getCounter(key).Inc(value)
}

func (c *CodaHale) UpdateGauge(key string, v float64) {
	c.getGauge(key).Update(v)
}

func (c *CodaHale) Close() {
	select {
	case <-c.quit:
	default:
		close(c.quit)
	}
}

func (c *CodaHale) RegisterHandler(path string, mux *http.ServeMux) {
	mux.Handle(path, c.getHandler(path))
}

func (c *CodaHale) CreateHandler(path string) http.Handler {
	return &codaHaleMetricsHandler{path: path, registry: c.reg, options: c.options}
}

func (c *CodaHale) getHandler(path string) http.Handler {
	if c.handler != nil {
		return c.handler
	}

	c.handler = c.CreateHandler(path)
	return c.handler
}

// locationForKey turns a location path into a single key segment.
func locationForKey(l string) string {
	l = strings.Trim(l, "/")
	if l == "" {
		return "_root_"
	}

	l = strings.ReplaceAll(l, ".", "_")
	return strings.ReplaceAll(l, "/", "_")
}

type codaHaleMetricsHandler struct {
	path     string
	registry metrics.Registry
	options  Options
}

func (c *codaHaleMetricsHandler) sendMetrics(w http.ResponseWriter, p string) {
	_, k := path.Split(p)

	metrics := filterMetrics(c.registry, c.options.Prefix, k)

	if len(metrics) > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(metrics)
	} else {
		http.NotFound(w, nil)
	}
}

// This listener is only used to expose the metrics
func (c *codaHaleMetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" && r.Method != "HEAD" {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	c.sendMetrics(w, strings.TrimPrefix(r.URL.Path, c.path))
}

func filterMetrics(reg metrics.Registry, prefix, key string) dupMetrics {
	metrics := make(dupMetrics)

	canonicalKey := strings.TrimPrefix(key, prefix)
	m := reg.Get(canonicalKey)
	if m != nil {
		metrics[key] = m
	} else {
		reg.Each(func(name string, i interface{}) {
			if key == "" || strings.HasPrefix(name, canonicalKey) {
				metrics[prefix+name] = i
			}
		})
	}

	return metrics
}

type dupMetrics map[string]interface{}

// This listener is used to expose the collected metrics.
func (dm dupMetrics) MarshalJSON() ([]byte, error) {
	data := make(map[string]map[string]interface{})
	for name, metric := range dm {
		values := make(map[string]interface{})
		var metricsFamily string

		switch m := metric.(type) {
		case metrics.Gauge:
			metricsFamily = "gauges"
			values["value"] = m.Snapshot().Value()
		case metrics.GaugeFloat64:
			metricsFamily = "gauges"
			values["value"] = m.Snapshot().Value()
		case metrics.Histogram:
			metricsFamily = "histograms"
			h := m.Snapshot()
			ps := h.Percentiles([]float64{0.5, 0.75, 0.95, 0.99, 0.999})
			values["count"] = h.Count()
			values["min"] = h.Min()
			values["max"] = h.Max()
			values["mean"] = h.Mean()
			values["stddev"] = h.StdDev()
			values["median"] = ps[0]
			values["75%"] = ps[1]
			values["95%"] = ps[2]
			values["99%"] = ps[3]
			values["99.9%"] = ps[4]
		case metrics.Timer:
			metricsFamily = "timers"
			t := m.Snapshot()
			ps := t.Percentiles([]float64{0.5, 0.75, 0.95, 0.99, 0.999})
			values["count"] = t.Count()
			values["min"] = t.Min()
			values["max"] = t.Max()
			values["mean"] = t.Mean()
			values["stddev"] = t.StdDev()
			values["median"] = ps[0]
			values["75%"] = ps[1]
			values["95%"] = ps[2]
			values["99%"] = ps[3]
			values["99.9%"] = ps[4]
			values["1m.rate"] = t.Rate1()
			values["5m.rate"] = t.Rate5()
			values["15m.rate"] = t.Rate15()
			values["mean.rate"] = t.RateMean()
		case metrics.Counter:
			metricsFamily = "counters"
			values["count"] = m.Snapshot().Count()
		default:
			metricsFamily = "unknown"
			values["error"] = fmt.Sprintf("unknown metrics type %T", m)
		}

		if data[metricsFamily] == nil {
			data[metricsFamily] = make(map[string]interface{})
		}

		data[metricsFamily][name] = values
	}

	return json.Marshal(data)
}
