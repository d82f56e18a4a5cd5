package visit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/visitflow/internal/domain/notification"
	"github.com/ehr/visitflow/internal/platform/apperr"
	"github.com/ehr/visitflow/internal/platform/metrics"
)

// DefaultMaxRetries bounds optimistic retries when no limit is configured.
const DefaultMaxRetries = 5

// CompletionService is the only writer of department completion flags.
type CompletionService struct {
	repo     Repository
	records  RecordChecker
	history  *HistoryLog
	notifier notification.Notifier
	metrics  *metrics.Metrics
	retries  int
	logger   zerolog.Logger
}

func NewCompletionService(repo Repository, records RecordChecker, history *HistoryLog, logger zerolog.Logger) *CompletionService {
	return &CompletionService{
		repo:    repo,
		records: records,
		history: history,
		retries: DefaultMaxRetries,
		logger:  logger.With().Str("component", "visit_completion").Logger(),
	}
}

// Toggle flips department d's flag on the visit and re-derives its status as
// one compare-and-swap on the visit version. A lost race re-reads and tries
// again, so concurrent toggles by different departments are never lost.
// Setting a flag requires at least one department record; clearing it does
// not.
func (c *CompletionService) Toggle(ctx context.Context, visitID uuid.UUID, d Department, actorID uuid.UUID) (*Visit, error) {
	var (
		updated    *Visit
		prior      Status
		value      bool
		hasRecords *bool
	)
	err := retryOnConflict(ctx, c.retries, c.metrics, "toggle", func(ctx context.Context) error {
		v, err := c.repo.GetByID(ctx, visitID)
		if errors.Is(err, ErrNotFound) {
			return apperr.NotFound("visit %s not found", visitID)
		}
		if err != nil {
			return fmt.Errorf("load visit: %w", err)
		}

		value = !v.Flag(d)
		if value && hasRecords == nil {
			ok, err := c.records.HasRecords(ctx, visitID, d)
			if err != nil {
				return fmt.Errorf("check %s records: %w", d, err)
			}
			hasRecords = &ok
		}
		if value && !*hasRecords {
			return apperr.PreconditionFailed("visit %s has no %s records yet", v.VisitNumber, d)
		}

		prior = v.Status
		v.setFlag(d, value)
		v.Status = DeriveStatus(v.LabCompleted, v.PharmacyCompleted, v.DoctorCompleted, prior)
		v.CompletionKind = completionKindFor(v.Status)
		if err := c.repo.UpdateState(ctx, v); err != nil {
			return err
		}
		updated = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.metrics.IncToggle(string(d), value)
	entries := []*StatusHistoryEntry{{
		VisitID:   visitID,
		Version:   updated.Version,
		Status:    FlagNarration(d, value),
		ChangedBy: actorID,
	}}
	if updated.Status != prior {
		entries = append(entries, &StatusHistoryEntry{
			VisitID:   visitID,
			Version:   updated.Version,
			Status:    string(updated.Status),
			ChangedBy: actorID,
			Notes:     fmt.Sprintf("derived from %s toggle", d),
		})
	}
	c.history.Record(ctx, entries...)

	if updated.Status == StatusCompleted && prior != StatusCompleted && c.notifier != nil {
		c.notifier.Enqueue(ctx, notification.ForRole(RoleFrontDesk, notification.Request{
			FromUserID: actorID,
			VisitID:    &updated.ID,
			TemplateID: notification.TemplateVisitCompleted,
			Data:       visitTemplateData(updated, ""),
		}))
	}

	c.logger.Info().
		Str("visit_id", visitID.String()).
		Str("department", string(d)).
		Bool("completed", value).
		Str("status", string(updated.Status)).
		Int("version", updated.Version).
		Msg("completion toggled")
	return updated, nil
}

func visitTemplateData(v *Visit, d Department) map[string]string {
	data := map[string]string{
		"visit_number": v.VisitNumber,
		"visit_type":   string(v.Type),
	}
	if d != "" {
		data["department"] = string(d)
	}
	return data
}
