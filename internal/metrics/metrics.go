// Package metrics collects Prometheus metrics and serves them on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what services and middleware record against.
type Recorder interface {
	RecordQuestionSubmitted(withImage bool)
	RecordAnswerSubmitted()
	RecordAnswerDeleted()
	// RecordRejected counts operations refused before reaching a store,
	// e.g. op="answer.delete", reason="forbidden".
	RecordRejected(op, reason string)
	RecordUpload(kind string, d time.Duration, err error)
	RecordLogin(method string, success bool)
	RecordHTTPRequest(method, route string, status int, d time.Duration)
	StreamOpened()
	StreamClosed()
}

var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Nop{}
)

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	questions     *prometheus.CounterVec
	answers       prometheus.Counter
	answerDeletes prometheus.Counter
	rejected      *prometheus.CounterVec
	uploads       *prometheus.CounterVec
	uploadLatency prometheus.Histogram
	logins        *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
	streams       prometheus.Gauge
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		questions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qanda_questions_submitted_total",
			Help: "Questions created, by whether an image was attached.",
		}, []string{"image"}),
		answers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qanda_answers_submitted_total",
			Help: "Answers appended to questions.",
		}),
		answerDeletes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qanda_answers_deleted_total",
			Help: "Answers removed by their authors.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qanda_operations_rejected_total",
			Help: "Operations rejected locally before any store call.",
		}, []string{"op", "reason"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qanda_uploads_total",
			Help: "Image uploads to the object store.",
		}, []string{"kind", "result"}),
		uploadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "qanda_upload_duration_seconds",
			Help:    "Object store upload latency.",
			Buckets: prometheus.DefBuckets,
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qanda_logins_total",
			Help: "Sign-in attempts by method and result.",
		}, []string{"method", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qanda_http_requests_total",
			Help: "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qanda_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qanda_stream_clients",
			Help: "Open question stream connections.",
		}),
	}

	reg.MustRegister(
		c.questions,
		c.answers,
		c.answerDeletes,
		c.rejected,
		c.uploads,
		c.uploadLatency,
		c.logins,
		c.httpRequests,
		c.httpLatency,
		c.streams,
	)

	return c
}

func (c *Collector) RecordQuestionSubmitted(withImage bool) {
	c.questions.WithLabelValues(strconv.FormatBool(withImage)).Inc()
}

func (c *Collector) RecordAnswerSubmitted() {
	c.answers.Inc()
}

func (c *Collector) RecordAnswerDeleted() {
	c.answerDeletes.Inc()
}

func (c *Collector) RecordRejected(op, reason string) {
	c.rejected.WithLabelValues(op, reason).Inc()
}

func (c *Collector) RecordUpload(kind string, d time.Duration, err error) {
	c.uploads.WithLabelValues(kind, result(err == nil)).Inc()
	c.uploadLatency.Observe(d.Seconds())
}

func (c *Collector) RecordLogin(method string, success bool) {
	c.logins.WithLabelValues(method, result(success)).Inc()
}

func (c *Collector) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpLatency.WithLabelValues(route).Observe(d.Seconds())
}

func (c *Collector) StreamOpened() {
	c.streams.Inc()
}

func (c *Collector) StreamClosed() {
	c.streams.Dec()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Nop discards everything. Tests use it where metrics don't matter.
type Nop struct{}

func (Nop) RecordQuestionSubmitted(bool)                          {}
func (Nop) RecordAnswerSubmitted()                                {}
func (Nop) RecordAnswerDeleted()                                  {}
func (Nop) RecordRejected(string, string)                         {}
func (Nop) RecordUpload(string, time.Duration, error)             {}
func (Nop) RecordLogin(string, bool)                              {}
func (Nop) RecordHTTPRequest(string, string, int, time.Duration) {}
func (Nop) StreamOpened()                                         {}
func (Nop) StreamClosed()                                         {}

// Handler returns the Prometheus scrape handler.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
