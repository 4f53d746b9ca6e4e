package multiplex

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/celestiaorg/go-rlpx/capability"
)

var meter = otel.Meter("rlpx/multiplex")

type dropReason string

const (
	dropUnnegotiatedID dropReason = "unnegotiated_id"
	dropNoStream       dropReason = "no_open_stream"
)

type Metrics struct {
	routedFrames  metric.Int64Counter
	droppedFrames metric.Int64Counter
}

func initMetrics() (*Metrics, error) {
	routedFrames, err := meter.Int64Counter(
		"rlpx_mux_routed_frames",
		metric.WithDescription("Total count of frames routed to capability sub-streams"),
	)
	if err != nil {
		return nil, err
	}

	droppedFrames, err := meter.Int64Counter(
		"rlpx_mux_dropped_frames",
		metric.WithDescription("Total count of inbound frames dropped by the demultiplexer"),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{
		routedFrames:  routedFrames,
		droppedFrames: droppedFrames,
	}, nil
}

func (m *Metrics) observeRouted(ctx context.Context, c capability.Capability) {
	if m == nil {
		return
	}
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	m.routedFrames.Add(ctx, 1,
		metric.WithAttributes(attribute.String("capability", c.String())))
}

func (m *Metrics) observeDropped(ctx context.Context, reason dropReason) {
	if m == nil {
		return
	}
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	m.droppedFrames.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", string(reason))))
}
