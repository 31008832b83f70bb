package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MQPublishSpan 在 MQ 发布时创建 producer span
func MQPublishSpan(ctx context.Context, routingKey, exchange string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "mq.publish "+routingKey,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", exchange),
			attribute.String("messaging.rabbitmq.destination.routing_key", routingKey),
		),
	)
}

// MQConsumeSpan 在 MQ 消费时创建 consumer span；ctx 应该已经通过 ExtractHeaders 带上了上游 context
func MQConsumeSpan(ctx context.Context, routingKey, queue string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "mq.consume "+routingKey,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.source.name", queue),
			attribute.String("messaging.rabbitmq.destination.routing_key", routingKey),
		),
	)
}

// InjectHeaders 把当前 trace context 写入消息头
func InjectHeaders(ctx context.Context, headers map[string]any) {
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(headers))
}

// ExtractHeaders 从消息头恢复上游 trace context
func ExtractHeaders(ctx context.Context, headers map[string]any) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, headerCarrier(headers))
}

// headerCarrier 让 RabbitMQ 消息头满足 propagation.TextMapCarrier
type headerCarrier map[string]any

func (c headerCarrier) Get(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	c[key] = value
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
