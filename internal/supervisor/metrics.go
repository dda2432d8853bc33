package supervisor

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics counts session lifecycle events. A nil *Metrics records nothing.
type Metrics struct {
	sessions        metric.Int64Counter
	recycles        metric.Int64Counter
	transcripts     metric.Int64Counter
	spoken          metric.Int64Counter
	connectFailures metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	sessions, err := meter.Int64Counter("parrot_sessions_total",
		metric.WithDescription("Streaming sessions opened"))
	if err != nil {
		return nil, err
	}
	recycles, err := meter.Int64Counter("parrot_session_recycles_total",
		metric.WithDescription("Sessions closed and reopened, by reason"))
	if err != nil {
		return nil, err
	}
	transcripts, err := meter.Int64Counter("parrot_transcripts_total",
		metric.WithDescription("Transcripts received, by kind"))
	if err != nil {
		return nil, err
	}
	spoken, err := meter.Int64Counter("parrot_utterances_spoken_total",
		metric.WithDescription("Final transcripts spoken back"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("parrot_connect_failures_total",
		metric.WithDescription("Failed attempts to open a streaming session"))
	if err != nil {
		return nil, err
	}
	return &Metrics{
		sessions:        sessions,
		recycles:        recycles,
		transcripts:     transcripts,
		spoken:          spoken,
		connectFailures: failures,
	}, nil
}

func (m *Metrics) sessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessions.Add(ctx, 1)
}

func (m *Metrics) sessionEnded(ctx context.Context, reason endReason) {
	if m == nil {
		return
	}
	m.recycles.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason.String())))
}

func (m *Metrics) transcript(ctx context.Context, final bool) {
	if m == nil {
		return
	}
	kind := "interim"
	if final {
		kind = "final"
	}
	m.transcripts.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) utteranceSpoken(ctx context.Context) {
	if m == nil {
		return
	}
	m.spoken.Add(ctx, 1)
}

func (m *Metrics) connectFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.connectFailures.Add(ctx, 1)
}
