package pubsub

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracingMiddleware creates a watermill middleware that adds OpenTelemetry tracing
// to publish and subscribe operations, providing visibility into message flows.
func TracingMiddleware(tracer trace.Tracer) func(message.HandlerFunc) message.HandlerFunc {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			ctx := msg.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			topic := msg.Metadata.Get(metaKeyTopic)
			source := msg.Metadata.Get(metaKeySource)

			// Create span for message processing
			spanCtx, span := tracer.Start(ctx, fmt.Sprintf("pubsub.process.%s", topic),
				trace.WithAttributes(
					attribute.String("messaging.system", "watermill"),
					attribute.String("messaging.operation", "process"),
					attribute.String("messaging.destination", topic),
					attribute.String("messaging.message_id", msg.UUID),
					attribute.String("messaging.source", source),
					attribute.Int("messaging.message_payload_size_bytes", len(msg.Payload)),
				),
			)
			defer span.End()

			msg.SetContext(spanCtx)
			span.SetAttributes(attribute.String("messaging.message_payload_preview", preview(msg.Payload)))

			// Execute the handler
			producedMessages, err := h(msg)

			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}

			// Record produced messages count
			span.SetAttributes(attribute.Int("messaging.messages_produced", len(producedMessages)))

			return producedMessages, nil
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

// Publish wraps the publish operation with tracing
func (p *PublisherTracingMiddleware) Publish(topic string, messages ...*message.Message) error {
	for _, msg := range messages {
		ctx := msg.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		source := msg.Metadata.Get(metaKeySource)

		// Create span for publish operation
		spanCtx, span := p.tracer.Start(ctx, fmt.Sprintf("pubsub.publish.%s", topic),
			trace.WithAttributes(
				attribute.String("messaging.system", "watermill"),
				attribute.String("messaging.operation", "publish"),
				attribute.String("messaging.destination", topic),
				attribute.String("messaging.message_id", msg.UUID),
				attribute.String("messaging.source", source),
				attribute.Int("messaging.message_payload_size_bytes", len(msg.Payload)),
			),
		)
		defer span.End()

		span.SetAttributes(attribute.String("messaging.message_payload_preview", preview(msg.Payload)))
		msg.SetContext(spanCtx)
	}

	// Publish the messages
	err := p.publisher.Publish(topic, messages...)
	if err != nil {
		// Record error on all spans
		for _, msg := range messages {
			if span := trace.SpanFromContext(msg.Context()); span != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
		}
	}

	return err
}

// Close closes the underlying publisher
func (p *PublisherTracingMiddleware) Close() error {
	return p.publisher.Close()
}

// preview returns at most the first 100 bytes of a payload
func preview(payload []byte) string {
	if len(payload) > 100 {
		return string(payload[:100]) + "..."
	}
	return string(payload)
}
