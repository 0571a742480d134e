// Package otelmetrics provides an OpenTelemetry-backed postmsg.Metrics
// implementation plus span helpers for tracing handshakes and object
// sends, for deployments that want the transport core's counters folded
// into a broader OTel pipeline instead of read directly off
// DefaultMetrics.
package otelmetrics

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// atomicCounters mirrors postmsg.DefaultMetrics' fields so Get* can answer
// synchronously without depending on the OTel SDK's pull/push pipeline.
type atomicCounters struct {
	chunksSent          atomic.Int64
	chunksReceived      atomic.Int64
	bytesSent           atomic.Int64
	bytesReceived       atomic.Int64
	controlRetries      atomic.Int64
	objectRetries       atomic.Int64
	handshakesCompleted atomic.Int64
	protocolViolations  atomic.Int64
	objectsDropped      atomic.Int64
}

const (
	// TracerName is the instrumentation scope name for postmsg traces.
	TracerName = "postmsg"
	// MeterName is the instrumentation scope name for postmsg metrics.
	MeterName = "postmsg"
)

// Config selects how Provider exports telemetry.
type Config struct {
	// Exporter selects the trace exporter: "stdout" (pretty-printed spans
	// to stdout) or "none" (spans are created but discarded). There is no
	// OTLP exporter wired here; wire one in if your deployment needs it.
	Exporter string
}

// Provider owns the tracer/meter providers and must be Shutdown on exit.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
}

// Init builds a Provider per cfg.
func Init(cfg Config) (*Provider, error) {
	exporter, err := createExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("otelmetrics: create exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	mp := sdkmetric.NewMeterProvider()

	return &Provider{
		tracerProvider: tp,
		meterProvider:  mp,
		Tracer:         tp.Tracer(TracerName),
		Meter:          mp.Meter(MeterName),
	}, nil
}

// Shutdown flushes and shuts down both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		return err
	}
	return p.meterProvider.Shutdown(ctx)
}

func createExporter(cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout", "":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "none":
		return &noopExporter{}, nil
	default:
		return nil, fmt.Errorf("unknown exporter %q (supported: stdout, none)", cfg.Exporter)
	}
}

type noopExporter struct{}

func (noopExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }
func (noopExporter) Shutdown(context.Context) error                            { return nil }

// Span attribute keys.
var (
	AttrSendID    = attribute.Key("postmsg.send.id")
	AttrState     = attribute.Key("postmsg.session.state")
	AttrVersion   = attribute.Key("postmsg.session.version")
	AttrChunkSize = attribute.Key("postmsg.session.chunk_size")
)

// StartHandshakeSpan starts a span covering one Disconnected->SessionOpen
// attempt.
func StartHandshakeSpan(ctx context.Context, tracer trace.Tracer) (context.Context, trace.Span) {
	return tracer.Start(ctx, "postmsg.handshake", trace.WithSpanKind(trace.SpanKindInternal))
}

// StartObjectSendSpan starts a span covering one PostMessage call's
// transfer to retry exhaustion or success.
func StartObjectSendSpan(ctx context.Context, tracer trace.Tracer, sendID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "postmsg.object.send",
		trace.WithAttributes(AttrSendID.String(sendID)),
		trace.WithSpanKind(trace.SpanKindProducer),
	)
}

// instruments holds the OTel counter handles backing Metrics.
type instruments struct {
	chunksSent          metric.Int64Counter
	chunksReceived      metric.Int64Counter
	bytesSent           metric.Int64Counter
	bytesReceived       metric.Int64Counter
	controlRetries      metric.Int64Counter
	objectRetries       metric.Int64Counter
	handshakesCompleted metric.Int64Counter
	protocolViolations  metric.Int64Counter
	objectsDropped      metric.Int64Counter
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	var in instruments
	var err error
	for _, field := range []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&in.chunksSent, "postmsg.chunks.sent", "Chunks transmitted"},
		{&in.chunksReceived, "postmsg.chunks.received", "Chunks received"},
		{&in.bytesSent, "postmsg.bytes.sent", "Bytes transmitted on the wire"},
		{&in.bytesReceived, "postmsg.bytes.received", "Bytes received on the wire"},
		{&in.controlRetries, "postmsg.control.retries", "Control message retries"},
		{&in.objectRetries, "postmsg.object.retries", "Object message retries"},
		{&in.handshakesCompleted, "postmsg.handshakes.completed", "Handshakes reaching SessionOpen"},
		{&in.protocolViolations, "postmsg.protocol.violations", "Chunk sequencing violations"},
		{&in.objectsDropped, "postmsg.objects.dropped", "Messages dropped: outbound after exhausting retries, or malformed inbound"},
	} {
		*field.target, err = meter.Int64Counter(field.name, metric.WithDescription(field.desc))
		if err != nil {
			return nil, fmt.Errorf("otelmetrics: instrument %s: %w", field.name, err)
		}
	}
	return &in, nil
}

// Metrics implements postmsg.Metrics, recording every increment into both
// an OTel counter (for export) and a local atomic value (so Get* still
// works synchronously without a collector round trip).
type Metrics struct {
	in   *instruments
	ctx  context.Context
	atom atomicCounters
}

// NewMetrics builds a Metrics backed by meter. ctx is used for every
// counter.Add call; pass context.Background() unless your deployment
// threads trace context through metrics recording.
func NewMetrics(ctx context.Context, meter metric.Meter) (*Metrics, error) {
	in, err := newInstruments(meter)
	if err != nil {
		return nil, err
	}
	return &Metrics{in: in, ctx: ctx}, nil
}

func (m *Metrics) IncrementChunksSent() {
	m.in.chunksSent.Add(m.ctx, 1)
	m.atom.chunksSent.Add(1)
}
func (m *Metrics) IncrementChunksReceived() {
	m.in.chunksReceived.Add(m.ctx, 1)
	m.atom.chunksReceived.Add(1)
}
func (m *Metrics) IncrementBytesSent(n int64) {
	m.in.bytesSent.Add(m.ctx, n)
	m.atom.bytesSent.Add(n)
}
func (m *Metrics) IncrementBytesReceived(n int64) {
	m.in.bytesReceived.Add(m.ctx, n)
	m.atom.bytesReceived.Add(n)
}
func (m *Metrics) IncrementControlRetries() {
	m.in.controlRetries.Add(m.ctx, 1)
	m.atom.controlRetries.Add(1)
}
func (m *Metrics) IncrementObjectRetries() {
	m.in.objectRetries.Add(m.ctx, 1)
	m.atom.objectRetries.Add(1)
}
func (m *Metrics) IncrementHandshakesCompleted() {
	m.in.handshakesCompleted.Add(m.ctx, 1)
	m.atom.handshakesCompleted.Add(1)
}
func (m *Metrics) IncrementProtocolViolations() {
	m.in.protocolViolations.Add(m.ctx, 1)
	m.atom.protocolViolations.Add(1)
}
func (m *Metrics) IncrementObjectsDropped() {
	m.in.objectsDropped.Add(m.ctx, 1)
	m.atom.objectsDropped.Add(1)
}

func (m *Metrics) GetChunksSent() int64          { return m.atom.chunksSent.Load() }
func (m *Metrics) GetChunksReceived() int64      { return m.atom.chunksReceived.Load() }
func (m *Metrics) GetBytesSent() int64           { return m.atom.bytesSent.Load() }
func (m *Metrics) GetBytesReceived() int64       { return m.atom.bytesReceived.Load() }
func (m *Metrics) GetControlRetries() int64      { return m.atom.controlRetries.Load() }
func (m *Metrics) GetObjectRetries() int64       { return m.atom.objectRetries.Load() }
func (m *Metrics) GetHandshakesCompleted() int64 { return m.atom.handshakesCompleted.Load() }
func (m *Metrics) GetProtocolViolations() int64  { return m.atom.protocolViolations.Load() }
func (m *Metrics) GetObjectsDropped() int64      { return m.atom.objectsDropped.Load() }
