package notification

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/visitflow/internal/platform/apperr"
	"github.com/ehr/visitflow/internal/platform/metrics"
	"github.com/ehr/visitflow/internal/platform/websocket"
)

// RoleResolver lists the users currently holding a role.
type RoleResolver interface {
	ActiveUsersInRole(ctx context.Context, role string) ([]uuid.UUID, error)
}

// Publisher pushes live events; the websocket hub implements it.
type Publisher interface {
	PublishJSON(ctx context.Context, topic, eventType string, payload interface{}) error
}

// maxConcurrentResolves bounds requests delivered at once by one NotifyMany call.
const maxConcurrentResolves = 4

type Service struct {
	repo      Repository
	roles     RoleResolver
	templates *TemplateEngine
	publisher Publisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

func NewService(repo Repository, roles RoleResolver, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		roles:     roles,
		templates: NewTemplateEngine(),
		logger:    logger.With().Str("component", "notification").Logger(),
	}
}

// SetPublisher attaches an optional live publisher.
func (s *Service) SetPublisher(p Publisher) { s.publisher = p }

// SetMetrics attaches optional metrics.
func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// Notify creates one row per recipient of req and returns how many were
// created. A role with no active members yields zero rows and no error.
func (s *Service) Notify(ctx context.Context, req Request) (int, error) {
	return s.notifyOne(ctx, req)
}

// NotifyMany delivers each request on its own, resolving recipients
// concurrently. A request that fails is logged and does not affect its
// siblings; the returned count covers the requests that succeeded and the
// error joins every failure.
func (s *Service) NotifyMany(ctx context.Context, reqs []Request) (int, error) {
	created := make([]int, len(reqs))
	failures := make([]error, len(reqs))

	var g errgroup.Group
	g.SetLimit(maxConcurrentResolves)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			created[i], failures[i] = s.notifyOne(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	total := 0
	for i, req := range reqs {
		total += created[i]
		if failures[i] == nil {
			continue
		}
		s.metrics.IncNotificationFailure("delivery")
		evt := s.logger.Error().Err(failures[i]).
			Str("recipient", req.target()).
			Str("template", req.TemplateID)
		if req.VisitID != nil {
			evt = evt.Str("visit_id", req.VisitID.String())
		}
		evt.Msg("notification request failed")
	}
	return total, errors.Join(failures...)
}

// notifyOne renders req, resolves its recipients and stores their rows in
// one batch, so a request reaches all of its recipients or none.
func (s *Service) notifyOne(ctx context.Context, req Request) (int, error) {
	req, err := s.render(req)
	if err != nil {
		return 0, err
	}
	users, err := s.resolve(ctx, req)
	if err != nil {
		return 0, apperr.NotificationDelivery(err, "resolve %s", req.target())
	}
	if len(users) == 0 {
		return 0, nil
	}

	rows := make([]*Notification, 0, len(users))
	for _, userID := range users {
		rows = append(rows, newRow(req, userID))
	}
	if err := s.repo.CreateBatch(ctx, rows); err != nil {
		return 0, apperr.NotificationDelivery(err, "store %d notifications for %s", len(rows), req.target())
	}

	s.metrics.AddNotificationsCreated(req.Type, len(rows))
	for _, n := range rows {
		s.push(ctx, n)
	}
	return len(rows), nil
}

func (s *Service) render(req Request) (Request, error) {
	if err := req.Validate(); err != nil {
		return req, apperr.Invalid("%v", err)
	}
	if req.TemplateID == "" {
		if req.Type == "" {
			req.Type = TypeGeneral
		}
		return req, nil
	}
	t, err := s.templates.Render(req.TemplateID, req.Data)
	if err != nil {
		return req, apperr.Invalid("%v", err)
	}
	req.Title, req.Message = t.Title, t.Body
	if req.Type == "" {
		req.Type = t.Type
	}
	return req, nil
}

func (s *Service) resolve(ctx context.Context, req Request) ([]uuid.UUID, error) {
	if req.ToUserID != nil {
		return []uuid.UUID{*req.ToUserID}, nil
	}
	return s.roles.ActiveUsersInRole(ctx, req.ToRole)
}

func newRow(req Request, recipient uuid.UUID) *Notification {
	n := &Notification{
		RecipientUserID: recipient,
		VisitID:         req.VisitID,
		Type:            req.Type,
		Title:           req.Title,
		Message:         req.Message,
	}
	if req.FromUserID != uuid.Nil {
		from := req.FromUserID
		n.SenderUserID = &from
	}
	return n
}

// push never fails the caller; the row is already stored.
func (s *Service) push(ctx context.Context, n *Notification) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishJSON(ctx, websocket.UserTopic(n.RecipientUserID), "notification.created", n); err != nil {
		s.logger.Warn().Err(err).Str("notification_id", n.ID.String()).Msg("live push failed")
	}
}

func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	return s.repo.ListForUser(ctx, userID, unreadOnly, limit, offset)
}

func (s *Service) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.UnreadCount(ctx, userID)
}

// MarkRead marks one notification read for its recipient. Any other caller
// gets NotFound.
func (s *Service) MarkRead(ctx context.Context, id, userID uuid.UUID) (*Notification, error) {
	n, err := s.repo.MarkRead(ctx, id, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("notification %s not found", id)
	}
	return n, err
}

func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.MarkAllRead(ctx, userID)
}
