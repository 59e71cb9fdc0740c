package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Failure stages used as the "stage" label of FailuresTotal.
const (
	StageFetch   = "fetch"
	StageRender  = "render"
	StageConnect = "connect"
	StageSign    = "sign"
	StagePublish = "publish"
	StagePersist = "persist"
)

type Metrics struct {
	reg *prometheus.Registry

	EventsFetched prometheus.Counter
	EventsSkipped prometheus.Counter
	Announced     prometheus.Counter
	Failures      *prometheus.CounterVec
	LedgerSize    prometheus.Gauge
	CycleDuration prometheus.Summary
	LastSuccess   prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}
	m.EventsFetched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "toshiwatcher",
		Name:      "events_fetched_total",
		Help:      "Activities returned by the source",
	})
	m.EventsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "toshiwatcher",
		Name:      "events_skipped_total",
		Help:      "Activities skipped because they were already announced",
	})
	m.Announced = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "toshiwatcher",
		Name:      "announcements_total",
		Help:      "Notes published and recorded in the ledger",
	})
	m.Failures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "toshiwatcher",
		Name:      "failures_total",
		Help:      "Failures by pipeline stage",
	}, []string{"stage"})
	m.LedgerSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "toshiwatcher",
		Name:      "ledger_size",
		Help:      "Activity ids recorded as announced",
	})
	m.CycleDuration = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: "toshiwatcher",
		Name:      "cycle_duration_seconds",
		Help:      "Time spent on one fetch-and-announce cycle",
	})
	m.LastSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "toshiwatcher",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last cycle that fetched successfully",
	})
	m.reg.MustRegister(
		m.EventsFetched, m.EventsSkipped, m.Announced, m.Failures,
		m.LedgerSize, m.CycleDuration, m.LastSuccess,
	)
	for _, s := range []string{StageFetch, StageRender, StageConnect, StageSign, StagePublish, StagePersist} {
		m.Failures.WithLabelValues(s)
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves /metrics and /healthz.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

type Server struct {
	srv *http.Server
}

func (m *Metrics) NewServer(addr string) *Server {
	return &Server{srv: &http.Server{
		Addr:         addr,
		Handler:      m.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}}
}

func (s *Server) Serve() error                       { return s.srv.ListenAndServe() }
func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }

// Dump returns a one-line-per-series snapshot for logging.
func (m *Metrics) Dump() string {
	mfs, err := m.reg.Gather()
	if err != nil {
		return ""
	}
	var out []string
	for _, mf := range mfs {
		for _, mt := range mf.GetMetric() {
			out = append(out, fmt.Sprintf("%s{%s} %g", mf.GetName(), labels(mt), value(mf.GetType(), mt)))
		}
	}
	sort.Strings(out)
	return strings.Join(out, "\n")
}

func labels(mt *dto.Metric) string {
	parts := make([]string, 0, len(mt.GetLabel()))
	for _, lp := range mt.GetLabel() {
		parts = append(parts, lp.GetName()+"="+lp.GetValue())
	}
	return strings.Join(parts, ",")
}

func value(t dto.MetricType, mt *dto.Metric) float64 {
	switch t {
	case dto.MetricType_COUNTER:
		return mt.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return mt.GetGauge().GetValue()
	case dto.MetricType_SUMMARY:
		return mt.GetSummary().GetSampleSum()
	default:
		return 0
	}
}
