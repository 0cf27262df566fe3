package config

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/zalando/dup"
	"github.com/zalando/dup/circuit"
	"github.com/zalando/dup/codec"
	"github.com/zalando/dup/pool"
	"github.com/zalando/dup/queue"
)

type Config struct {
	ConfigFile string
	Flags      *flag.FlagSet

	// generic:
	Address         string        `yaml:"address"`
	Backend         string        `yaml:"backend"`
	SupportListener string        `yaml:"support-listener"`
	Name            string        `yaml:"name"`
	ShutdownTimeout time.Duration `yaml:"shutdown-timeout"`
	ReportInterval  time.Duration `yaml:"report-interval"`

	// duplication:
	Destination          string        `yaml:"destination"`
	Timeout              uint          `yaml:"timeout"`
	URLCodec             string        `yaml:"url-codec"`
	MinThreads           int           `yaml:"min-threads"`
	MaxThreads           int           `yaml:"max-threads"`
	MinQueue             int           `yaml:"min-queue"`
	MaxQueue             int           `yaml:"max-queue"`
	CloseIdleConnsPeriod time.Duration `yaml:"close-idle-conns-period"`
	DestinationBreaker   breakerFlags  `yaml:"destination-breaker"`
	Location             multiFlag     `yaml:"location"`
	Locations            *Locations    `yaml:"locations"`

	// logging:
	ApplicationLog            string    `yaml:"application-log"`
	ApplicationLogLevel       log.Level `yaml:"-"`
	ApplicationLogLevelString string    `yaml:"application-log-level"`
	ApplicationLogPrefix      string    `yaml:"application-log-prefix"`
	ApplicationLogJSONEnabled bool      `yaml:"application-log-json-enabled"`
	DupLog                    string    `yaml:"dup-log"`
	DupLogDisabled            bool      `yaml:"dup-log-disabled"`
	DupLogJSONEnabled         bool      `yaml:"dup-log-json-enabled"`

	// metrics:
	MetricsFlavour               *listFlag `yaml:"metrics-flavour"`
	MetricsPrefix                string    `yaml:"metrics-prefix"`
	EnableRuntimeMetrics         bool      `yaml:"runtime-metrics"`
	MetricsUseExpDecaySample     bool      `yaml:"metrics-exp-decay-sample"`
	HistogramMetricBucketsString string    `yaml:"histogram-metric-buckets"`
	HistogramMetricBuckets       []float64 `yaml:"-"`
}

func NewConfig() *Config {
	cfg := new(Config)
	cfg.MetricsFlavour = commaListFlag("codahale", "prometheus")

	flag := flag.NewFlagSet("", flag.ExitOnError)
	flag.StringVar(&cfg.ConfigFile, "config-file", "", "if provided the flags will be loaded/overwritten by the values on the file (yaml)")

	// generic:
	flag.StringVar(&cfg.Address, "address", ":9090", "network address that the duplicating proxy should listen on")
	flag.StringVar(&cfg.Backend, "backend", "", "URL of the backend serving the original requests")
	flag.StringVar(&cfg.SupportListener, "support-listener", ":9911", "network address used for exposing the /metrics endpoint. An empty value disables support endpoint.")
	flag.StringVar(&cfg.Name, "name", dup.DefaultName, "program name, used as the prefix of the stats report")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", dup.DefaultShutdownTimeout, "time to wait for the open connections on shutdown")
	flag.DurationVar(&cfg.ReportInterval, "report-interval", pool.DefaultReportInterval, "period of the stats report, negative disables it")

	// duplication:
	flag.StringVar(&cfg.Destination, "destination", "", "destination of the duplicated requests, in host[:port] format")
	flag.UintVar(&cfg.Timeout, "timeout", 0, "timeout of sending a duplicate in milliseconds, 0 means no timeout")
	flag.StringVar(&cfg.URLCodec, "url-codec", codec.DefaultName, "decoding and encoding of the arguments, possible values: "+strings.Join(codec.Names(), ", "))
	flag.IntVar(&cfg.MinThreads, "min-threads", pool.DefaultMinWorkers, "minimum number of workers sending the duplicates")
	flag.IntVar(&cfg.MaxThreads, "max-threads", pool.DefaultMaxWorkers, "maximum number of workers sending the duplicates")
	flag.IntVar(&cfg.MinQueue, "min-queue", queue.DefaultMinSize, "number of queued requests above which more workers are started")
	flag.IntVar(&cfg.MaxQueue, "max-queue", queue.DefaultMaxSize, "maximum number of queued requests, the request handlers wait when it is reached")
	flag.DurationVar(&cfg.CloseIdleConnsPeriod, "close-idle-conns-period", 20*time.Second, "period of closing all idle connections to the destination, not closing when 0")
	flag.Var(&cfg.DestinationBreaker, "destination-breaker", breakerUsage)
	flag.Var(&cfg.Location, "location", "path prefix where the requests are duplicated, can be repeated")
	flag.Var(newYamlFlag(&cfg.Locations), "locations", "locations with rules in YAML format, use flow-style for convenience")

	// logging:
	flag.StringVar(&cfg.ApplicationLog, "application-log", "", "output file for the application log. When not set, /dev/stderr is used")
	flag.StringVar(&cfg.ApplicationLogLevelString, "application-log-level", "INFO", "log level for application logs, possible values: PANIC, FATAL, ERROR, WARN, INFO, DEBUG")
	flag.StringVar(&cfg.ApplicationLogPrefix, "application-log-prefix", "[APP]", "prefix for each log entry")
	flag.BoolVar(&cfg.ApplicationLogJSONEnabled, "application-log-json-enabled", false, "when this flag is set, log in JSON format is used")
	flag.StringVar(&cfg.DupLog, "dup-log", "", "output file for the duplicate log, When not set, /dev/stderr is used")
	flag.BoolVar(&cfg.DupLogDisabled, "dup-log-disabled", false, "when this flag is set, no duplicate log is printed")
	flag.BoolVar(&cfg.DupLogJSONEnabled, "dup-log-json-enabled", false, "when this flag is set, log in JSON format is used")

	// metrics:
	flag.Var(cfg.MetricsFlavour, "metrics-flavour", "Metrics flavour is used to change the exposed metrics format. Supported metric formats: 'codahale' and 'prometheus', you can select both of them by using one option with ',' separated values")
	flag.StringVar(&cfg.MetricsPrefix, "metrics-prefix", "", "allows setting a custom prefix for the exported metrics")
	flag.BoolVar(&cfg.EnableRuntimeMetrics, "runtime-metrics", true, "enables reporting the Go runtime statistics")
	flag.BoolVar(&cfg.MetricsUseExpDecaySample, "metrics-exp-decay-sample", false, "use exponentially decaying sample in metrics")
	flag.StringVar(&cfg.HistogramMetricBucketsString, "histogram-metric-buckets", "", "use custom buckets for prometheus histograms, must be a comma-separated list of numbers")

	cfg.Flags = flag
	return cfg
}

func validate(c *Config) error {
	_, err := log.ParseLevel(c.ApplicationLogLevelString)
	if err != nil {
		return err
	}

	if c.Name == "" {
		return dup.ErrMissingName
	}

	if c.MaxThreads < c.MinThreads {
		return fmt.Errorf("invalid threads: min %d, max %d", c.MinThreads, c.MaxThreads)
	}

	if c.MaxQueue < c.MinQueue {
		return fmt.Errorf("invalid queue: min %d, max %d", c.MinQueue, c.MaxQueue)
	}

	if _, err := codec.Get(c.URLCodec); err != nil {
		return err
	}

	for _, p := range c.Location {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("invalid location path: %q", p)
		}
	}

	if c.Locations != nil {
		for _, l := range *c.Locations {
			if err := l.validate(); err != nil {
				return err
			}
		}
	}

	_, err = parseHistogramBuckets(c.HistogramMetricBucketsString)
	return err
}

func parseHistogramBuckets(bucketString string) ([]float64, error) {
	if bucketString == "" {
		return nil, nil
	}

	var result []float64
	for v := range strings.SplitSeq(bucketString, ",") {
		bucket, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("unable to parse histogram-metric-buckets: %w", err)
		}

		result = append(result, bucket)
	}

	slices.Sort(result)
	return result, nil
}

func (c *Config) Parse() error {
	return c.ParseArgs(os.Args[0], os.Args[1:])
}

func (c *Config) ParseArgs(progname string, args []string) error {
	c.Flags.Init(progname, flag.ExitOnError)
	err := c.Flags.Parse(args)
	if err != nil {
		return err
	}

	// check if arguments were correctly parsed.
	if len(c.Flags.Args()) != 0 {
		return fmt.Errorf("invalid arguments: %s", c.Flags.Args())
	}

	if c.ConfigFile != "" {
		yamlFile, err := os.ReadFile(c.ConfigFile)
		if err != nil {
			return fmt.Errorf("invalid config file: %w", err)
		}

		err = yaml.Unmarshal(yamlFile, c)
		if err != nil {
			return fmt.Errorf("unmarshalling config file error: %w", err)
		}

		err = c.Flags.Parse(args)
		if err != nil {
			return err
		}
	}

	if err := validate(c); err != nil {
		return err
	}

	c.ApplicationLogLevel, _ = log.ParseLevel(c.ApplicationLogLevelString)
	c.HistogramMetricBuckets, _ = parseHistogramBuckets(c.HistogramMetricBucketsString)
	return nil
}

func (c *Config) ToOptions() dup.Options {
	return dup.Options{
		// generic:
		Address:         c.Address,
		Backend:         c.Backend,
		SupportListener: c.SupportListener,
		Name:            c.Name,
		ShutdownTimeout: c.ShutdownTimeout,
		ReportInterval:  c.ReportInterval,

		// duplication:
		Destination:          c.Destination,
		Timeout:              c.Timeout,
		URLCodec:             c.URLCodec,
		MinWorkers:           c.MinThreads,
		MaxWorkers:           c.MaxThreads,
		MinQueue:             c.MinQueue,
		MaxQueue:             c.MaxQueue,
		CloseIdleConnsPeriod: c.CloseIdleConnsPeriod,
		DestinationBreaker:   circuit.BreakerSettings(c.DestinationBreaker),
		Locations:            toLocations(c.Locations, c.Location),

		// logging:
		ApplicationLogOutput:      c.ApplicationLog,
		ApplicationLogPrefix:      c.ApplicationLogPrefix,
		ApplicationLogLevel:       c.ApplicationLogLevel,
		ApplicationLogLevelSet:    true,
		ApplicationLogJSONEnabled: c.ApplicationLogJSONEnabled,
		DupLogOutput:              c.DupLog,
		DupLogDisabled:            c.DupLogDisabled,
		DupLogJSONEnabled:         c.DupLogJSONEnabled,

		// metrics:
		MetricsFlavours:          c.MetricsFlavour.values,
		MetricsPrefix:            c.MetricsPrefix,
		EnableRuntimeMetrics:     c.EnableRuntimeMetrics,
		MetricsUseExpDecaySample: c.MetricsUseExpDecaySample,
		HistogramMetricBuckets:   c.HistogramMetricBuckets,
	}
}
