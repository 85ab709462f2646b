package testrunner

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"prodtest/internal/schema"
)

// Metrics records runner phase durations and issued DDL statements.
type Metrics struct {
	phaseDuration *prometheus.HistogramVec
	ddlStatements *prometheus.CounterVec
}

// NewMetrics registers the runner metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		phaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prodtest_runner_phase_duration_seconds",
				Help:    "Duration of test runner lifecycle phases",
				Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
			},
			[]string{"phase", "outcome"},
		),
		ddlStatements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prodtest_runner_ddl_statements_total",
				Help: "Total number of create and drop table statements issued by the test runner",
			},
			[]string{"op", "outcome"},
		),
	}
}

func (m *Metrics) observePhase(phase Phase, start time.Time, err error) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase.String(), outcome(err)).Observe(time.Since(start).Seconds())
}

// Instrument wraps b so every DDL statement is counted.
func (m *Metrics) Instrument(b schema.Backend) schema.Backend {
	if m == nil {
		return b
	}
	return &instrumentedBackend{Backend: b, metrics: m}
}

type instrumentedBackend struct {
	schema.Backend
	metrics *Metrics
}

func (b *instrumentedBackend) Begin(ctx context.Context) (schema.Editor, error) {
	ed, err := b.Backend.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &instrumentedEditor{Editor: ed, metrics: b.metrics}, nil
}

type instrumentedEditor struct {
	schema.Editor
	metrics *Metrics
}

func (e *instrumentedEditor) CreateTable(ctx context.Context, t schema.Table) error {
	err := e.Editor.CreateTable(ctx, t)
	e.metrics.ddlStatements.WithLabelValues("create", outcome(err)).Inc()
	return err
}

func (e *instrumentedEditor) DropTable(ctx context.Context, name string) error {
	err := e.Editor.DropTable(ctx, name)
	e.metrics.ddlStatements.WithLabelValues("drop", outcome(err)).Inc()
	return err
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
