package notify

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"order-lifecycle/internal/models"
	"order-lifecycle/internal/redisclient"
	"order-lifecycle/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Store persists notifications
type Store interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotificationsByUser(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID int64) error
}

// Publisher sends realtime payloads
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// EmailQueue hands rendered emails to the email worker
type EmailQueue interface {
	PublishEmailRequested(ctx context.Context, event *models.EmailRequestedEvent) error
}

// Service stores notifications and delivers them over realtime push and email
type Service struct {
	store     Store
	publisher Publisher
	emails    EmailQueue
	templates *template.Template
	logger    *zap.Logger
}

// NewService creates a new notification service
func NewService(store Store, publisher Publisher, emails EmailQueue) (*Service, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}

	return &Service{
		store:     store,
		publisher: publisher,
		emails:    emails,
		templates: tmpl,
		logger:    util.GetLogger(),
	}, nil
}

// CreateNotification persists n and fills its ID
func (s *Service) CreateNotification(ctx context.Context, n *models.Notification) error {
	ctx, span := util.StartSpan(ctx, "NotifyService.CreateNotification")
	defer span.End()

	if err := s.store.CreateNotification(ctx, n); err != nil {
		return util.RecordError(span, fmt.Errorf("failed to create notification: %w", err))
	}
	return nil
}

// PushRealtime publishes n on the user's channel. Subscribers that are not
// connected miss it; the persisted record remains.
func (s *Service) PushRealtime(ctx context.Context, userID int64, n *models.Notification) error {
	ctx, span := util.StartSpan(ctx, "NotifyService.PushRealtime")
	defer span.End()

	payload, err := json.Marshal(n)
	if err != nil {
		return util.RecordError(span, fmt.Errorf("failed to marshal notification: %w", err))
	}

	if err := s.publisher.Publish(ctx, redisclient.UserChannel(userID), payload); err != nil {
		return util.RecordError(span, fmt.Errorf("failed to publish notification: %w", err))
	}
	return nil
}

// SendEmail renders templateName with data and enqueues the email
func (s *Service) SendEmail(ctx context.Context, to, templateName string, data map[string]any) error {
	ctx, span := util.StartSpan(ctx, "NotifyService.SendEmail")
	defer span.End()

	subject, body, err := s.Render(templateName, data)
	if err != nil {
		return util.RecordError(span, err)
	}

	event := &models.EmailRequestedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeEmailRequested,
			Timestamp: time.Now(),
		},
		To:       to,
		Template: templateName,
		Subject:  subject,
		Body:     body,
	}

	if err := s.emails.PublishEmailRequested(ctx, event); err != nil {
		return util.RecordError(span, fmt.Errorf("failed to enqueue email: %w", err))
	}

	s.logger.Debug("Email enqueued",
		zap.String("template", templateName),
		zap.String("event_id", event.EventID))
	return nil
}

// Render executes the subject and body of an email template
func (s *Service) Render(templateName string, data map[string]any) (subject, body string, err error) {
	subjectTmpl := s.templates.Lookup(templateName + ".subject")
	bodyTmpl := s.templates.Lookup(templateName + ".body")
	if subjectTmpl == nil || bodyTmpl == nil {
		return "", "", fmt.Errorf("unknown email template %q", templateName)
	}

	var buf bytes.Buffer
	if err := subjectTmpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("failed to render %s subject: %w", templateName, err)
	}
	subject = strings.TrimSpace(buf.String())

	buf.Reset()
	if err := bodyTmpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("failed to render %s body: %w", templateName, err)
	}
	return subject, buf.String(), nil
}

// ListNotifications returns a user's notifications, newest first
func (s *Service) ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListNotificationsByUser(ctx, userID, unreadOnly, limit)
}

// MarkRead flags a notification as read
func (s *Service) MarkRead(ctx context.Context, notificationID int64) error {
	return s.store.MarkNotificationRead(ctx, notificationID)
}
