package worker

import (
	"context"
	"fmt"

	"order-lifecycle/internal/broker"
	"order-lifecycle/internal/models"
	"order-lifecycle/internal/util"

	"go.uber.org/zap"
)

// EventLog records consumed events so redeliveries are skipped
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Mailer delivers a rendered email
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// EmailWorker sends the emails enqueued by the notification service
type EmailWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	events       EventLog
	mailer       Mailer
	logger       *zap.Logger
}

// NewEmailWorker creates a new email worker
func NewEmailWorker(consumer *broker.Consumer, events EventLog, mailer Mailer) *EmailWorker {
	w := &EmailWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		events:       events,
		mailer:       mailer,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnEmailRequested(w.HandleEmailRequested)
	return w
}

// Start starts the worker
func (w *EmailWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting email worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *EmailWorker) Stop() error {
	w.logger.Info("Stopping email worker")
	return w.consumer.Close()
}

// HandleEmailRequested sends one email at most once per event id. A send
// error is returned so the consumer retries the same message.
func (w *EmailWorker) HandleEmailRequested(ctx context.Context, event *models.EmailRequestedEvent) error {
	ctx, span := util.StartSpan(ctx, "EmailWorker.HandleEmailRequested")
	defer span.End()

	processed, err := w.events.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return util.RecordError(span, fmt.Errorf("failed to check event processed: %w", err))
	}
	if processed {
		w.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	if err := w.mailer.Send(ctx, event.To, event.Subject, event.Body); err != nil {
		util.EmailsSentTotal.WithLabelValues("failed").Inc()
		return util.RecordError(span, err)
	}
	util.EmailsSentTotal.WithLabelValues("success").Inc()

	if err := w.events.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		w.logger.Error("Failed to mark event processed",
			zap.String("event_id", event.EventID),
			zap.Error(err))
	}

	w.logger.Info("Email sent",
		zap.String("template", event.Template),
		zap.String("event_id", event.EventID))
	return nil
}
