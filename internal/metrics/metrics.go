// Package metrics exposes Prometheus collectors for the HTTP surface and
// the assistant pipeline.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/suPer8Hu/mas-assistant/internal/events"
)

type Metrics struct {
	reg *prometheus.Registry

	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Turns           *prometheus.CounterVec
	TurnLatency     *prometheus.HistogramVec
	TokensUsed      *prometheus.CounterVec
	ContextInjected *prometheus.CounterVec
	CRMSectionFails *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		RequestCount: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mas_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "mas_http_request_duration_seconds",
				Help: "HTTP request duration in seconds",
			},
			[]string{"method", "route"},
		),
		Turns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mas_assistant_turns_total",
				Help: "Assistant turns by outcome and provider slot",
			},
			[]string{"outcome", "slot"},
		),
		TurnLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mas_assistant_turn_latency_seconds",
				Help:    "End to end assistant turn latency in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"slot"},
		),
		TokensUsed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mas_assistant_tokens_total",
				Help: "Tokens reported by providers",
			},
			[]string{"provider"},
		),
		ContextInjected: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mas_assistant_context_injected_total",
				Help: "Turns whose prompt carried retrieved context",
			},
			[]string{"source"},
		),
		CRMSectionFails: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mas_crm_section_failures_total",
				Help: "CRM sections omitted because their call failed",
			},
			[]string{"section"},
		),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Emit implements events.Sink.
func (m *Metrics) Emit(_ context.Context, e events.Event) {
	slot := e.Slot
	if slot == "" {
		slot = "none"
	}
	m.Turns.WithLabelValues(string(e.Outcome), slot).Inc()
	if e.Outcome == events.OutcomeInvalid {
		return
	}
	m.TurnLatency.WithLabelValues(slot).Observe(float64(e.LatencyMS) / 1000)
	if e.TokensUsed > 0 && e.Provider != "" {
		m.TokensUsed.WithLabelValues(e.Provider).Add(float64(e.TokensUsed))
	}
	if e.HadCRMData {
		m.ContextInjected.WithLabelValues("crm").Inc()
	}
	if e.HadKnowledgeBase {
		m.ContextInjected.WithLabelValues("knowledge_base").Inc()
	}
	for _, s := range e.CRMFailed {
		m.CRMSectionFails.WithLabelValues(s).Inc()
	}
}

// Middleware records request count and duration per route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestCount.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
