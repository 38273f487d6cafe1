// Package metrics holds the per-run Prometheus collectors. A nil *Recorder
// discards everything, so callers never need to check whether metrics are on.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "logfetch"

type Recorder struct {
	reg *prometheus.Registry

	transfers *prometheus.CounterVec
	bytes     prometheus.Counter
	pages     prometheus.Counter
	records   prometheus.Counter
	duration  prometheus.Gauge
}

func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Files handled by the downloader, by outcome.",
		}, []string{"outcome"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transferred_bytes_total",
			Help:      "Bytes written to the download directory.",
		}),
		pages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manifest_pages_total",
			Help:      "Manifest pages read from the metadata store.",
		}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manifest_records_total",
			Help:      "Manifest records matching the download window.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
	}
	r.reg.MustRegister(r.transfers, r.bytes, r.pages, r.records, r.duration)
	return r
}

// Registry exposes the collectors, mostly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

func (r *Recorder) Transfer(outcome string, bytes int64) {
	if r == nil {
		return
	}
	r.transfers.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		r.bytes.Add(float64(bytes))
	}
}

// Page records one manifest page with the given number of kept records.
func (r *Recorder) Page(records int) {
	if r == nil {
		return
	}
	r.pages.Inc()
	r.records.Add(float64(records))
}

func (r *Recorder) RunDuration(d time.Duration) {
	if r == nil {
		return
	}
	r.duration.Set(d.Seconds())
}

// Push sends the collectors to a Pushgateway. An empty url is a no-op.
func (r *Recorder) Push(url, job string) error {
	if r == nil || url == "" {
		return nil
	}
	if job == "" {
		job = namespace
	}
	if err := push.New(url, job).Gatherer(r.reg).Push(); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
