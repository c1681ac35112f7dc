package pubsub

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.opentelemetry.io/otel/trace"
)

// WatermillBridge implements the Publisher and Subscriber interfaces using watermill's GoChannel.
//
// Publishing blocks until every subscriber of the topic has acknowledged the
// message, so each topic is consumed one message at a time in publish order.
type WatermillBridge struct {
	pub    message.Publisher
	sub    message.Subscriber
	tracer trace.Tracer
	logger *slog.Logger
}

const (
	// Metadata keys used to transfer our Message structure fields through watermill's message.
	metaKeyUserID = "user_id"
	metaKeyTopic  = "topic"
)

// BridgeOption configures a WatermillBridge.
type BridgeOption func(*WatermillBridge)

// WithTracer wraps publishing and handling in OpenTelemetry spans.
func WithTracer(tracer trace.Tracer) BridgeOption {
	return func(wb *WatermillBridge) {
		wb.tracer = tracer
	}
}

// WithLogger sets the logger used by the bridge and by watermill itself.
func WithLogger(logger *slog.Logger) BridgeOption {
	return func(wb *WatermillBridge) {
		wb.logger = logger
	}
}

// NewWatermillBridge initializes the in-memory Pub/Sub system.
func NewWatermillBridge(opts ...BridgeOption) *WatermillBridge {
	wb := &WatermillBridge{logger: slog.Default()}
	for _, opt := range opts {
		opt(wb)
	}

	goChannel := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            64,
			BlockPublishUntilSubscriberAck: true,
		},
		watermill.NewSlogLogger(wb.logger.With("component", "watermill")),
	)

	wb.sub = goChannel
	wb.pub = goChannel
	if wb.tracer != nil {
		wb.pub = NewPublisherTracingMiddleware(goChannel, wb.tracer)
	}
	wb.logger = wb.logger.With("service", "pubsub")
	return wb
}

// NewWatermillBridgeWithTracer is NewWatermillBridge with tracing enabled.
func NewWatermillBridgeWithTracer(tracer trace.Tracer) *WatermillBridge {
	return NewWatermillBridge(WithTracer(tracer))
}

// mapToWatermillMessage converts our pubsub.Message to a watermill message.
func mapToWatermillMessage(ctx context.Context, msg Message) *message.Message {
	wmMsg := message.NewMessage(watermill.NewUUID(), msg.Payload)
	wmMsg.SetContext(ctx)

	wmMsg.Metadata.Set(metaKeyUserID, msg.UserID)
	wmMsg.Metadata.Set(metaKeyTopic, msg.Topic)
	for k, v := range msg.Metadata {
		wmMsg.Metadata.Set(k, v)
	}

	return wmMsg
}

// mapToPubSubMessage converts a watermill message back to our internal pubsub.Message.
func mapToPubSubMessage(wmMsg *message.Message) Message {
	userID := wmMsg.Metadata.Get(metaKeyUserID)
	topic := wmMsg.Metadata.Get(metaKeyTopic)

	metadata := make(map[string]string, len(wmMsg.Metadata))
	for k, v := range wmMsg.Metadata {
		if k != metaKeyTopic {
			metadata[k] = v
		}
	}

	return Message{
		Topic:    topic,
		UserID:   userID,
		Payload:  wmMsg.Payload,
		Metadata: metadata,
	}
}

// Publish implements the Publisher interface.
func (wb *WatermillBridge) Publish(ctx context.Context, msg Message) error {
	return wb.pub.Publish(msg.Topic, mapToWatermillMessage(ctx, msg))
}

// Subscribe implements the Subscriber interface. It returns once the
// subscription is registered; messages are handled in a background goroutine.
func (wb *WatermillBridge) Subscribe(ctx context.Context, topic string, handler Handler) error {
	messages, err := wb.sub.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	process := func(wmMsg *message.Message) ([]*message.Message, error) {
		return nil, handler(ctx, mapToPubSubMessage(wmMsg))
	}
	if wb.tracer != nil {
		process = TracingMiddleware(wb.tracer)(process)
	}

	go func() {
		for wmMsg := range messages {
			if _, err := process(wmMsg); err != nil {
				wb.logger.Error("Failed to handle message", "topic", topic, "msg_id", wmMsg.UUID, "error", err)
			}
			// Always ack: a nack makes gochannel redeliver forever, and a
			// failed frame is reported to its sender by the handler itself.
			wmMsg.Ack()
		}
		wb.logger.Debug("Subscription message loop ended", "topic", topic)
	}()

	return nil
}

// Close implements the Publisher and Subscriber interface to shut down the bridge.
func (wb *WatermillBridge) Close() error {
	return wb.sub.Close()
}

// Shutdown closes the bus when the application stops.
func (wb *WatermillBridge) Shutdown() error {
	return wb.Close()
}
