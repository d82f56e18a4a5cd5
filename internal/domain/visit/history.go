package visit

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/visitflow/internal/platform/metrics"
)

// HistoryLog appends audit entries after the state change they describe has
// committed. Writes for one visit are serialized so entries land in commit
// order; a failed write is logged and never reaches the caller.
type HistoryLog struct {
	repo    Repository
	locks   *keyedMutex
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewHistoryLog(repo Repository, logger zerolog.Logger) *HistoryLog {
	return &HistoryLog{
		repo:   repo,
		locks:  newKeyedMutex(),
		logger: logger.With().Str("component", "visit_history").Logger(),
	}
}

// SetMetrics attaches optional metrics.
func (h *HistoryLog) SetMetrics(m *metrics.Metrics) { h.metrics = m }

// Record appends entries in order. It outlives the request that triggered
// it: cancellation of ctx does not abort the write.
func (h *HistoryLog) Record(ctx context.Context, entries ...*StatusHistoryEntry) {
	if len(entries) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	visitID := entries[0].VisitID
	unlock := h.locks.Lock(visitID)
	defer unlock()

	for _, e := range entries {
		if err := h.repo.AddStatusHistory(ctx, e); err != nil {
			h.metrics.IncHistoryFailure()
			h.logger.Warn().Err(err).
				Str("visit_id", e.VisitID.String()).
				Int("version", e.Version).
				Str("status", e.Status).
				Msg("status history write failed")
		}
	}
}

// List returns a visit's entries oldest first.
func (h *HistoryLog) List(ctx context.Context, visitID uuid.UUID) ([]*StatusHistoryEntry, error) {
	return h.repo.GetStatusHistory(ctx, visitID)
}
