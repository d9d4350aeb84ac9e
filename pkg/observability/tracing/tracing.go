package tracing

import (
    "context"

    "go.opentelemetry.io/otel"
    "go.opentelemetry.io/otel/attribute"
    "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
    sdktrace "go.opentelemetry.io/otel/sdk/trace"
    "go.opentelemetry.io/otel/trace"
)

var enabled bool

// Setup configures a global tracer provider when enable=true.
// It returns a shutdown function which should be deferred.
func Setup(enable bool) (func(context.Context) error, error) {
    enabled = enable
    if !enable {
        return func(context.Context) error { return nil }, nil
    }
    exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
    if err != nil {
        return nil, err
    }
    tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
    otel.SetTracerProvider(tp)
    return tp.Shutdown, nil
}

// StartSpan starts a tracing span if tracing is enabled. Attributes are given
// as key/value string pairs.
func StartSpan(ctx context.Context, name string, kv ...string) (context.Context, func()) {
    if !enabled {
        return ctx, func() {}
    }
    tr := otel.Tracer("go-partition")
    attrs := make([]attribute.KeyValue, 0, len(kv)/2)
    for i := 0; i+1 < len(kv); i += 2 {
        attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
    }
    ctx, span := tr.Start(ctx, name, trace.WithAttributes(attrs...))
    return ctx, func() { span.End() }
}
