package metrics

import (
	"net/http"
	"time"
)

// All collects the metrics with both backends.
type All struct {
	prometheus        *Prometheus
	codaHale          *CodaHale
	prometheusHandler http.Handler
	codaHaleHandler   http.Handler
}

func NewAll(o Options) *All {
	return &All{
		prometheus: NewPrometheus(o),
		codaHale:   NewCodaHale(o),
	}
}

func (a *All) MeasureSince(key string, start time.Time) {
	a.prometheus.MeasureSince(key, start)
	a.codaHale.MeasureSince(key, start)
}

func (a *All) MeasureDispatch(location string, code int, start time.Time) {
	a.prometheus.MeasureDispatch(location, code, start)
	a.codaHale.MeasureDispatch(location, code, start)
}

func (a *All) IncCounter(key string) {
	a.prometheus.IncCounter(key)
	a.codaHale.IncCounter(key)
}

func (a *All) IncCounterBy(key string, value int64) {
	a.prometheus.IncCounterBy(key, value)
	a.codaHale.IncCounterBy(key, value)
}

func (a *All) UpdateGauge(key string, v float64) {
	a.prometheus.UpdateGauge(key, v)
	a.codaHale.UpdateGauge(key, v)
}

func (a *All) Close() {
	a.codaHale.Close()
	a.prometheus.Close()
}

func (a *All) RegisterHandler(path string, mux *http.ServeMux) {
	a.prometheusHandler = a.prometheus.getHandler()
	a.codaHaleHandler = a.codaHale.getHandler(path)
	mux.Handle(path, a.newHandler())
}

func (a *All) newHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Accept") == "application/codahale+json" {
			a.codaHaleHandler.ServeHTTP(w, req)
		} else {
			a.prometheusHandler.ServeHTTP(w, req)
		}
	})
}
