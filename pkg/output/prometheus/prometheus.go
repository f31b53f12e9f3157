// Package prometheus exposes the latest readings as a Prometheus scrape target.
package prometheus

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ericogr/hwmon-to-mqtt/pkg/config"
	"github.com/ericogr/hwmon-to-mqtt/pkg/sensor"
)

const (
	DefaultListen = ":9101"
	DefaultPath   = "/metrics"
)

type Output struct {
	registry *prometheus.Registry
	values   *prometheus.GaugeVec
	readings prometheus.Counter
	log      *zap.Logger

	mu     sync.Mutex
	server *http.Server
}

// New builds an output with its own registry. Nothing is served until Serve.
func New(log *zap.Logger) *Output {
	if log == nil {
		log = zap.NewNop()
	}
	registry := prometheus.NewRegistry()
	hwmonRegistry := prometheus.WrapRegistererWithPrefix("hwmon_", registry)

	values := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sensor_value",
		Help: "Latest calibrated sensor value in the unit of its kind.",
	}, []string{"hardware", "sensor", "kind", "index"})
	hwmonRegistry.MustRegister(values)

	readings := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "readings_published_total",
		Help: "Number of present readings published.",
	})
	hwmonRegistry.MustRegister(readings)

	return &Output{registry: registry, values: values, readings: readings, log: log}
}

// Listen builds an output and serves it as configured.
func Listen(cfg config.PrometheusConfig, log *zap.Logger) (*Output, error) {
	o := New(log)
	if err := o.Serve(cfg); err != nil {
		return nil, err
	}
	return o, nil
}

// Handler serves the output's registry.
func (o *Output) Handler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server for the registry in the background.
func (o *Output) Serve(cfg config.PrometheusConfig) error {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, o.Handler())
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	o.mu.Lock()
	o.server = server
	o.mu.Unlock()

	o.log.Info("serving metrics", zap.String("listen", ln.Addr().String()), zap.String("path", cfg.Path))
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			o.log.Error("metrics server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Publish sets one gauge per present reading and removes the series of
// absent ones, so a sensor with no data does not keep its last value.
func (o *Output) Publish(readings []sensor.Reading) error {
	for _, r := range readings {
		if r.Hidden {
			continue
		}
		labels := []string{r.Hardware, r.Name, r.Kind.String(), strconv.Itoa(r.Index)}
		if !r.Valid {
			o.values.DeleteLabelValues(labels...)
			continue
		}
		o.values.WithLabelValues(labels...).Set(r.Value)
		o.readings.Inc()
	}
	return nil
}

func (o *Output) Close() error {
	o.mu.Lock()
	server := o.server
	o.server = nil
	o.mu.Unlock()
	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
