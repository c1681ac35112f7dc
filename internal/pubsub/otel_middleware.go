package pubsub

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func messageAttributes(operation, topic string, msg *message.Message) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("messaging.system", "watermill"),
		attribute.String("messaging.operation", operation),
		attribute.String("messaging.destination", topic),
		attribute.String("messaging.message_id", msg.UUID),
		attribute.String("user.id", msg.Metadata.Get(metaKeyUserID)),
		attribute.String("session.id", msg.Metadata.Get(MetaSessionID)),
		attribute.String("realtime.channel", msg.Metadata.Get(MetaChannel)),
		attribute.Int("messaging.message_payload_size_bytes", len(msg.Payload)),
	}
}

// TracingMiddleware creates a watermill middleware that opens a span around
// message handling.
func TracingMiddleware(tracer trace.Tracer) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			ctx := msg.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			topic := msg.Metadata.Get(metaKeyTopic)
			spanCtx, span := tracer.Start(ctx, "pubsub.process."+topic,
				trace.WithAttributes(messageAttributes("process", topic, msg)...),
			)
			defer span.End()

			msg.SetContext(spanCtx)

			produced, err := h(msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			return produced, nil
		}
	}
}

// PublisherTracingMiddleware wraps a publisher with tracing capabilities
type PublisherTracingMiddleware struct {
	publisher message.Publisher
	tracer    trace.Tracer
}

// NewPublisherTracingMiddleware creates a new publisher with tracing middleware
func NewPublisherTracingMiddleware(publisher message.Publisher, tracer trace.Tracer) *PublisherTracingMiddleware {
	return &PublisherTracingMiddleware{
		publisher: publisher,
		tracer:    tracer,
	}
}

// Publish wraps the publish operation with one span per message.
func (p *PublisherTracingMiddleware) Publish(topic string, messages ...*message.Message) error {
	spans := make([]trace.Span, 0, len(messages))
	for _, msg := range messages {
		ctx := msg.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		spanCtx, span := p.tracer.Start(ctx, "pubsub.publish."+topic,
			trace.WithAttributes(messageAttributes("publish", topic, msg)...),
		)
		msg.SetContext(spanCtx)
		spans = append(spans, span)
	}

	err := p.publisher.Publish(topic, messages...)
	for _, span := range spans {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
	return err
}

// Close closes the underlying publisher
func (p *PublisherTracingMiddleware) Close() error {
	return p.publisher.Close()
}
