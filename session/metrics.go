package session

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/celestiaorg/go-rlpx/subproto"
)

var meter = otel.Meter("rlpx/session")

type Metrics struct {
	establishedCounter metric.Int64Counter
	unsupportedCounter metric.Int64Counter
	closedCounter      metric.Int64Counter
	sessionDuration    metric.Float64Histogram
}

func initMetrics() (*Metrics, error) {
	establishedCounter, err := meter.Int64Counter(
		"rlpx_session_established_capabilities",
		metric.WithDescription("Total count of sub-protocol connections established"),
	)
	if err != nil {
		return nil, err
	}

	unsupportedCounter, err := meter.Int64Counter(
		"rlpx_session_unsupported_capabilities",
		metric.WithDescription("Total count of offered capabilities the remote did not support"),
	)
	if err != nil {
		return nil, err
	}

	closedCounter, err := meter.Int64Counter(
		"rlpx_session_closed",
		metric.WithDescription("Total count of closed peer sessions"),
	)
	if err != nil {
		return nil, err
	}

	sessionDuration, err := meter.Float64Histogram(
		"rlpx_session_duration",
		metric.WithDescription("Lifetime of a peer session in seconds"),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{
		establishedCounter: establishedCounter,
		unsupportedCounter: unsupportedCounter,
		closedCounter:      closedCounter,
		sessionDuration:    sessionDuration,
	}, nil
}

func (m *Metrics) observeEstablished(ctx context.Context, capability string) {
	if m == nil {
		return
	}
	m.establishedCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("capability", capability)))
}

func (m *Metrics) observeUnsupported(ctx context.Context, capability string, outcome subproto.OnNotSupported) {
	if m == nil {
		return
	}
	m.unsupportedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("capability", capability),
			attribute.String("outcome", outcome.String()),
		))
}

func (m *Metrics) observeClosed(ctx context.Context, reason subproto.DisconnectReason, lifetime time.Duration) {
	if m == nil {
		return
	}
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	m.closedCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason.String())))
	m.sessionDuration.Record(ctx, lifetime.Seconds())
}
