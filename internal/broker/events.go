package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"order-lifecycle/internal/models"
	"order-lifecycle/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrMalformedMessage marks a payload that can never be decoded. The
// consumer skips such messages instead of retrying them.
var ErrMalformedMessage = errors.New("malformed message")

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer   *Producer
	orderTopic string
	emailTopic string
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer, orderTopic, emailTopic string) *EventPublisher {
	return &EventPublisher{
		producer:   producer,
		orderTopic: orderTopic,
		emailTopic: emailTopic,
	}
}

// PublishOrderStatusChanged publishes OrderStatusChanged event
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, ep.orderTopic, key, event)
}

// PublishOrderItemStatusChanged publishes OrderItemStatusChanged event
func (ep *EventPublisher) PublishOrderItemStatusChanged(ctx context.Context, event *models.OrderItemStatusChangedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, ep.orderTopic, key, event)
}

// PublishEmailRequested enqueues a rendered email for the email worker
func (ep *EventPublisher) PublishEmailRequested(ctx context.Context, event *models.EmailRequestedEvent) error {
	return ep.producer.PublishEvent(ctx, ep.emailTopic, event.To, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onEmailRequested func(context.Context, *models.EmailRequestedEvent) error
	logger           *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnEmailRequested registers a handler for EmailRequested events
func (eh *EventHandler) OnEmailRequested(handler func(context.Context, *models.EmailRequestedEvent) error) {
	eh.onEmailRequested = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %v: %w", err, ErrMalformedMessage)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeEmailRequested:
		if eh.onEmailRequested != nil {
			var event models.EmailRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal EmailRequested event: %v: %w", err, ErrMalformedMessage)
			}
			return eh.onEmailRequested(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
