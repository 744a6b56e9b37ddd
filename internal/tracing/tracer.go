// Package tracing настраивает OpenTelemetry с экспортом в Jaeger.
package tracing

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName: имя tracer'а для спанов сервиса.
const InstrumentationName = "github.com/vladislavdragonenkov/flashorder"

// Tracer возвращает tracer из глобального провайдера.
// Без InitProvider это no-op tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// InitProvider регистрирует глобальный TracerProvider с Jaeger-экспортером.
// Возвращает функцию shutdown, которую нужно вызвать при остановке.
func InitProvider(serviceName, jaegerEndpoint string, logger *log.Entry) (func(context.Context) error, error) {
	if jaegerEndpoint == "" {
		return nil, errors.New("jaeger endpoint is empty")
	}
	if logger == nil {
		logger = log.WithField("component", "tracing")
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	logger.WithFields(log.Fields{
		"service":  serviceName,
		"endpoint": jaegerEndpoint,
	}).Info("tracing initialized")

	return tp.Shutdown, nil
}
