package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/tbourn/go-recovery-backend/internal/config"
)

// withOTelGlobals restores the global provider and propagator after t.
func withOTelGlobals(t *testing.T) {
	t.Helper()
	tp, prop := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
	})
}

// withMemoryExporter swaps the OTLP exporter for an in-memory one.
func withMemoryExporter(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	mem := tracetest.NewInMemoryExporter()
	orig := newExporter
	newExporter = func(context.Context, config.OTELConfig) (sdktrace.SpanExporter, error) { return mem, nil }
	t.Cleanup(func() { newExporter = orig })
	return mem
}

func enabled(ratio float64) config.OTELConfig {
	return config.OTELConfig{Enabled: true, Insecure: true, Endpoint: "otel:4317", ServiceName: "recovery-test", SampleRatio: ratio}
}

func TestSetupOTel_DisabledIsNoOp(t *testing.T) {
	withOTelGlobals(t)
	before := otel.GetTracerProvider()

	shutdown, err := SetupOTel(context.Background(), config.OTELConfig{Endpoint: "ignored:4317"}, "dev")
	if err != nil || shutdown == nil {
		t.Fatalf("SetupOTel: shutdown=%v err=%v", shutdown != nil, err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("no-op shutdown: %v", err)
	}
	if otel.GetTracerProvider() != before {
		t.Fatal("disabled tracing replaced the global provider")
	}
}

func TestSetupOTel_ExportsSpansWithServiceResource(t *testing.T) {
	withOTelGlobals(t)
	mem := withMemoryExporter(t)

	shutdown, err := SetupOTel(context.Background(), enabled(1), "1.2.3")
	if err != nil {
		t.Fatalf("SetupOTel: %v", err)
	}
	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("global provider is %T", otel.GetTracerProvider())
	}
	carrier := propagation.MapCarrier{}
	ctx, parent := otel.Tracer("test").Start(context.Background(), "parent")
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	parent.End()
	if carrier.Get("traceparent") == "" {
		t.Fatal("trace-context propagator not installed")
	}

	_, span := StartSpan(context.Background(), "services/RecoveryService", "Send",
		attribute.String("declaration.id", "d-1"))
	EndSpan(span, nil)

	// Shutdown flushes the batcher.
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	spans := mem.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	got := spans[0]
	if got.Name != "Send" || got.InstrumentationScope.Name != "services/RecoveryService" {
		t.Fatalf("span %q from %q", got.Name, got.InstrumentationScope.Name)
	}
	var service, version string
	for _, kv := range got.Resource.Attributes() {
		switch kv.Key {
		case semconv.ServiceNameKey:
			service = kv.Value.AsString()
		case semconv.ServiceVersionKey:
			version = kv.Value.AsString()
		}
	}
	if service != "recovery-test" || version != "1.2.3" {
		t.Fatalf("resource service=%q version=%q", service, version)
	}
}

func TestSetupOTel_ZeroRatioDropsRootSpans(t *testing.T) {
	withOTelGlobals(t)
	mem := withMemoryExporter(t)

	shutdown, err := SetupOTel(context.Background(), enabled(0), "dev")
	if err != nil {
		t.Fatalf("SetupOTel: %v", err)
	}
	_, span := StartSpan(context.Background(), "services/ReceiptService", "Validate")
	if span.SpanContext().IsSampled() {
		t.Fatal("root span sampled with ratio 0")
	}
	EndSpan(span, nil)
	_ = shutdown(context.Background())
	if n := len(mem.GetSpans()); n != 0 {
		t.Fatalf("exported %d spans, want 0", n)
	}
}

func TestSetupOTel_ExporterErrorLeavesGlobals(t *testing.T) {
	withOTelGlobals(t)
	before := otel.GetTracerProvider()

	orig := newExporter
	newExporter = func(context.Context, config.OTELConfig) (sdktrace.SpanExporter, error) {
		return nil, errors.New("dial otel:4317: refused")
	}
	t.Cleanup(func() { newExporter = orig })

	shutdown, err := SetupOTel(context.Background(), enabled(1), "dev")
	if err == nil || shutdown != nil {
		t.Fatalf("expected error and nil shutdown, got err=%v", err)
	}
	if otel.GetTracerProvider() != before {
		t.Fatal("global provider changed on exporter error")
	}
}

func TestSetupOTel_ResourceErrorShutsExporterDown(t *testing.T) {
	withOTelGlobals(t)
	mem := withMemoryExporter(t)
	before := otel.GetTracerProvider()

	orig := newResource
	newResource = func(context.Context, string, string) (*resource.Resource, error) {
		return nil, errors.New("schema conflict")
	}
	t.Cleanup(func() { newResource = orig })

	if _, err := SetupOTel(context.Background(), enabled(1), "dev"); err == nil {
		t.Fatal("expected resource error")
	}
	if otel.GetTracerProvider() != before {
		t.Fatal("global provider changed on resource error")
	}
	// A stopped in-memory exporter drops its spans and stays empty.
	if n := len(mem.GetSpans()); n != 0 {
		t.Fatalf("unexpected spans: %d", n)
	}
}

func TestExporterOptions(t *testing.T) {
	if n := len(exporterOptions(config.OTELConfig{Endpoint: "otel:4317", Insecure: true})); n != 2 {
		t.Fatalf("insecure options = %d, want endpoint+insecure", n)
	}
	if n := len(exporterOptions(config.OTELConfig{Endpoint: "otel:4317"})); n != 2 {
		t.Fatalf("tls options = %d, want endpoint+credentials", n)
	}
}

func TestEndSpan_RecordsError(t *testing.T) {
	withOTelGlobals(t)
	rec := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))

	_, ok := StartSpan(context.Background(), "services/NotificationService", "Notify")
	EndSpan(ok, nil)
	_, bad := StartSpan(context.Background(), "services/ReceiptService", "Delete")
	EndSpan(bad, errors.New("already validated"))

	ended := rec.Ended()
	if len(ended) != 2 {
		t.Fatalf("ended %d spans", len(ended))
	}
	if ended[0].Status().Code == codes.Error {
		t.Fatal("successful span marked as error")
	}
	if st := ended[1].Status(); st.Code != codes.Error || st.Description != "already validated" {
		t.Fatalf("error status = %+v", st)
	}
	if len(ended[1].Events()) == 0 || ended[1].Events()[0].Name != "exception" {
		t.Fatalf("error not recorded as an event: %+v", ended[1].Events())
	}
}
