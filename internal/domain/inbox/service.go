package inbox

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/heartflow/clinic/internal/platform/apperror"
)

// Mailer sends templated email.
type Mailer interface {
	SendTemplate(ctx context.Context, templateID, to string, data map[string]string) error
}

// Pusher delivers an event to a user's open live streams.
type Pusher interface {
	Push(userID uuid.UUID, eventType string, payload any) (int, error)
}

// EventNotification is the live stream event type for a new inbox entry.
const EventNotification = "notification"

type Service struct {
	repo   NotificationRepository
	mailer Mailer
	pusher Pusher
	logger zerolog.Logger
}

func NewService(repo NotificationRepository, mailer Mailer, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		mailer: mailer,
		logger: logger.With().Str("component", "inbox").Logger(),
	}
}

// WithPusher streams every stored notification to the recipient's open
// connections.
func (s *Service) WithPusher(p Pusher) *Service {
	s.pusher = p
	return s
}

// Notify stores an inbox entry and sends the notice's email, if any. Email
// failures are logged and do not fail the call.
func (s *Service) Notify(ctx context.Context, n Notice) error {
	if n.UserID == uuid.Nil {
		return apperror.Validation("notification recipient is required")
	}
	row := &Notification{
		UserID:        n.UserID,
		Type:          n.Type,
		Title:         n.Title,
		Message:       n.Message,
		AppointmentID: n.AppointmentID,
	}
	if err := s.repo.Create(ctx, row); err != nil {
		return apperror.Internal(err, "failed to store notification")
	}
	if s.pusher != nil {
		if _, err := s.pusher.Push(row.UserID, EventNotification, row); err != nil {
			s.logger.Warn().Err(err).Str("user_id", row.UserID.String()).Msg("notification not pushed")
		}
	}
	if n.Template == "" || n.EmailTo == "" || s.mailer == nil {
		return nil
	}
	if err := s.mailer.SendTemplate(ctx, n.Template, n.EmailTo, n.Data); err != nil {
		s.logger.Warn().Err(err).
			Str("template", n.Template).
			Str("to", n.EmailTo).
			Str("user_id", n.UserID.String()).
			Msg("notification email not delivered")
	}
	return nil
}

// List returns the user's notifications newest first. The returned rows are
// marked read once fetched; the response still shows their prior state.
func (s *Service) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Notification, int, error) {
	items, total, err := s.repo.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, apperror.Internal(err, "failed to list notifications")
	}
	var unread []uuid.UUID
	for _, n := range items {
		if !n.IsRead {
			unread = append(unread, n.ID)
		}
	}
	if len(unread) > 0 {
		if _, err := s.repo.MarkRead(ctx, userID, unread); err != nil {
			return nil, 0, apperror.Internal(err, "failed to mark notifications read")
		}
	}
	if items == nil {
		items = []*Notification{}
	}
	return items, total, nil
}

func (s *Service) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	n, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return 0, apperror.Internal(err, "failed to count notifications")
	}
	return n, nil
}

func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, apperror.Internal(err, "failed to mark notifications read")
	}
	return n, nil
}
