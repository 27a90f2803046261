package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// resourceAttrs describes the process emitting telemetry. Both the tracer
// and meter providers build their resource from the same fields, so this
// is shared rather than duplicated per provider.
type resourceAttrs struct {
	serviceName    string
	serviceVersion string
	extra          map[string]string
}

func (r resourceAttrs) build() (*resource.Resource, error) {
	kv := []attribute.KeyValue{semconv.ServiceName(r.serviceName)}
	if r.serviceVersion != "" {
		kv = append(kv, semconv.ServiceVersion(r.serviceVersion))
	}
	for k, v := range r.extra {
		kv = append(kv, attribute.String(k, v))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes("", kv...))
}
