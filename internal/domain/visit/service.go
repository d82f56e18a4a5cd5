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
	"github.com/ehr/visitflow/internal/platform/websocket"
)

// Service ties visit creation, item selection, completion and force-close
// together. Every state change is committed before its history entries and
// notifications are emitted; those side effects never fail the operation.
type Service struct {
	repo       Repository
	numberer   *Numberer
	roles      RoleChecker
	records    Records
	history    *HistoryLog
	completion *CompletionService
	tx         TxRunner
	notifier   notification.Notifier
	publisher  Publisher
	metrics    *metrics.Metrics
	retries    int
	logger     zerolog.Logger
}

func NewService(repo Repository, numberer *Numberer, roles RoleChecker, records Records, logger zerolog.Logger) *Service {
	history := NewHistoryLog(repo, logger)
	return &Service{
		repo:       repo,
		numberer:   numberer,
		roles:      roles,
		records:    records,
		history:    history,
		completion: NewCompletionService(repo, records, history, logger),
		tx:         noTx{},
		retries:    DefaultMaxRetries,
		logger:     logger.With().Str("component", "visit").Logger(),
	}
}

// SetNotifier attaches the notification queue. Without one no notifications
// are sent.
func (s *Service) SetNotifier(n notification.Notifier) {
	s.notifier = n
	s.completion.notifier = n
}

// SetPublisher attaches an optional live publisher for visit topics.
func (s *Service) SetPublisher(p Publisher) { s.publisher = p }

// SetTxRunner makes item selection transactional.
func (s *Service) SetTxRunner(tx TxRunner) {
	if tx != nil {
		s.tx = tx
	}
}

// SetMetrics attaches optional metrics.
func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
	s.history.SetMetrics(m)
	s.completion.metrics = m
}

// SetMaxRetries bounds the optimistic retries of every mutating operation.
func (s *Service) SetMaxRetries(n int) {
	if n < 1 {
		n = 1
	}
	s.retries = n
	s.completion.retries = n
}

func (s *Service) requireRole(ctx context.Context, actorID uuid.UUID, role string) error {
	ok, err := s.roles.IsInRole(ctx, actorID, role)
	if err != nil {
		return fmt.Errorf("check role %s: %w", role, err)
	}
	if !ok {
		return apperr.Forbidden("requires role %s", role)
	}
	return nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Visit, error) {
	v, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("visit %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load visit: %w", err)
	}
	return v, nil
}

// CreateVisit numbers and stores a new visit, then tells the departments it
// starts out requiring. Normal visits need all three; doctor-directed visits
// wait on the doctor until items are selected.
func (s *Service) CreateVisit(ctx context.Context, in CreateInput) (*Visit, error) {
	if in.PatientID == uuid.Nil {
		return nil, apperr.Invalid("patient_id is required")
	}
	if in.Type == "" {
		in.Type = TypeNormal
	}
	if !in.Type.Valid() {
		return nil, apperr.Invalid("invalid visit_type %q", in.Type)
	}
	if err := s.requireRole(ctx, in.ActorID, RoleFrontDesk); err != nil {
		return nil, err
	}

	v := &Visit{
		PatientID: in.PatientID,
		Type:      in.Type,
		Status:    StatusPendingAll,
		CreatedBy: in.ActorID,
	}
	if in.Type == TypeDoctorDirected {
		v.Status = StatusPendingDoctor
	}

	err := retryOnConflict(ctx, s.retries, s.metrics, "create", func(ctx context.Context) error {
		number, err := s.numberer.Next(ctx)
		if err != nil {
			return err
		}
		v.VisitNumber = number
		return s.repo.Create(ctx, v)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncVisitCreated(string(v.Type))
	s.history.Record(ctx, &StatusHistoryEntry{
		VisitID:   v.ID,
		Version:   v.Version,
		Status:    string(v.Status),
		ChangedBy: in.ActorID,
		Notes:     "visit created",
	})

	notify := Departments
	if v.Type == TypeDoctorDirected {
		notify = []Department{DeptDoctor}
	}
	reqs := make([]notification.Request, 0, len(notify))
	for _, d := range notify {
		reqs = append(reqs, notification.ForRole(d.Role(), notification.Request{
			FromUserID: in.ActorID,
			VisitID:    &v.ID,
			TemplateID: notification.TemplateVisitCreated,
			Data:       visitTemplateData(v, d),
		}))
	}
	s.enqueue(ctx, reqs...)
	s.publish(ctx, v, "visit.created")

	s.logger.Info().
		Str("visit_id", v.ID.String()).
		Str("visit_number", v.VisitNumber).
		Str("visit_type", string(v.Type)).
		Msg("visit created")
	return v, nil
}

// SelectItems records which lab tests and drugs a doctor-directed visit
// needs, creates their pending placeholders and narrows the visit status to
// the departments involved. Departments already required by an earlier
// selection stay required.
func (s *Service) SelectItems(ctx context.Context, visitID uuid.UUID, labTestIDs, drugIDs []uuid.UUID, actorID uuid.UUID) (Status, error) {
	if err := s.requireRole(ctx, actorID, DeptDoctor.Role()); err != nil {
		return "", err
	}
	v, err := s.load(ctx, visitID)
	if err != nil {
		return "", err
	}
	if v.Type != TypeDoctorDirected {
		return "", apperr.PreconditionFailed("visit %s is not doctor-directed", v.VisitNumber)
	}

	tests, err := lookupAll(ctx, s.records.LookupLabTests, labTestIDs, "lab test")
	if err != nil {
		return "", err
	}
	drugs, err := lookupAll(ctx, s.records.LookupDrugs, drugIDs, "drug")
	if err != nil {
		return "", err
	}

	var prior Status
	err = retryOnConflict(ctx, s.retries, s.metrics, "select_items", func(ctx context.Context) error {
		return s.tx.InTx(ctx, func(ctx context.Context) error {
			cur, err := s.load(ctx, visitID)
			if err != nil {
				return err
			}
			if cur.Status == StatusCompleted {
				return apperr.PreconditionFailed("visit %s is already completed", cur.VisitNumber)
			}
			prior = cur.Status
			needsLab := len(tests) > 0 || prior == StatusPendingAll || prior == StatusPendingLab
			needsDrugs := len(drugs) > 0 || prior == StatusPendingAll || prior == StatusPendingPharmacy
			cur.Status = SelectionStatus(needsLab, needsDrugs)
			cur.CompletionKind = CompletionNone
			if err := s.repo.UpdateState(ctx, cur); err != nil {
				return err
			}
			if len(tests) > 0 {
				if err := s.records.CreatePendingLabResults(ctx, visitID, actorID, tests); err != nil {
					return fmt.Errorf("create pending lab results: %w", err)
				}
			}
			if len(drugs) > 0 {
				if err := s.records.CreatePendingPrescriptions(ctx, visitID, actorID, drugs); err != nil {
					return fmt.Errorf("create pending prescriptions: %w", err)
				}
			}
			v = cur
			return nil
		})
	})
	if err != nil {
		return "", err
	}

	s.history.Record(ctx, &StatusHistoryEntry{
		VisitID:   visitID,
		Version:   v.Version,
		Status:    string(v.Status),
		ChangedBy: actorID,
		Notes:     fmt.Sprintf("items selected: %d lab test(s), %d drug(s)", len(tests), len(drugs)),
	})

	var reqs []notification.Request
	for _, sel := range []struct {
		dept  Department
		count int
	}{{DeptLab, len(tests)}, {DeptPharmacy, len(drugs)}} {
		if sel.count == 0 {
			continue
		}
		data := visitTemplateData(v, sel.dept)
		data["item_count"] = fmt.Sprint(sel.count)
		reqs = append(reqs, notification.ForRole(sel.dept.Role(), notification.Request{
			FromUserID: actorID,
			VisitID:    &v.ID,
			TemplateID: notification.TemplateVisitItemsSelected,
			Data:       data,
		}))
	}
	s.enqueue(ctx, reqs...)
	s.publish(ctx, v, "visit.updated")
	return v.Status, nil
}

// lookupAll resolves ids through lookup and fails with NotFound naming the
// first id the catalog does not know.
func lookupAll(ctx context.Context, lookup func(context.Context, []uuid.UUID) ([]CatalogItem, error), ids []uuid.UUID, kind string) ([]CatalogItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	items, err := lookup(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("lookup %ss: %w", kind, err)
	}
	found := make(map[uuid.UUID]CatalogItem, len(items))
	for _, it := range items {
		found[it.ID] = it
	}
	out := make([]CatalogItem, 0, len(ids))
	for _, id := range ids {
		it, ok := found[id]
		if !ok {
			return nil, apperr.NotFound("%s %s not found", kind, id)
		}
		out = append(out, it)
	}
	return out, nil
}

// ToggleCompletion flips department d's flag for an actor holding d's role.
func (s *Service) ToggleCompletion(ctx context.Context, visitID uuid.UUID, d Department, actorID uuid.UUID) (*Visit, error) {
	if err := s.requireRole(ctx, actorID, d.Role()); err != nil {
		return nil, err
	}
	v, err := s.completion.Toggle(ctx, visitID, d, actorID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, v, "visit.updated")
	return v, nil
}

// ForceClose completes a visit regardless of its flags. Closing a visit that
// is already completed leaves the row as it is and only appends a forced
// history entry.
func (s *Service) ForceClose(ctx context.Context, visitID, actorID uuid.UUID, notes string) (*Visit, error) {
	if err := s.requireRole(ctx, actorID, RoleFrontDesk); err != nil {
		return nil, err
	}

	var (
		v       *Visit
		changed bool
	)
	err := retryOnConflict(ctx, s.retries, s.metrics, "force_close", func(ctx context.Context) error {
		cur, err := s.load(ctx, visitID)
		if err != nil {
			return err
		}
		if cur.Status == StatusCompleted {
			v, changed = cur, false
			return nil
		}
		cur.Status = StatusCompleted
		cur.CompletionKind = CompletionForced
		if err := s.repo.UpdateState(ctx, cur); err != nil {
			return err
		}
		v, changed = cur, true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if notes == "" {
		notes = "force-closed"
	}
	s.history.Record(ctx, &StatusHistoryEntry{
		VisitID:   visitID,
		Version:   v.Version,
		Status:    string(StatusCompleted),
		Forced:    true,
		ChangedBy: actorID,
		Notes:     notes,
	})
	if !changed {
		return v, nil
	}

	s.metrics.IncForceClose()
	reqs := make([]notification.Request, 0, len(Departments))
	for _, d := range Departments {
		data := visitTemplateData(v, d)
		data["notes"] = notes
		reqs = append(reqs, notification.ForRole(d.Role(), notification.Request{
			FromUserID: actorID,
			VisitID:    &v.ID,
			TemplateID: notification.TemplateVisitForceClosed,
			Data:       data,
		}))
	}
	s.enqueue(ctx, reqs...)
	s.publish(ctx, v, "visit.updated")

	s.logger.Info().
		Str("visit_id", visitID.String()).
		Str("actor_id", actorID.String()).
		Msg("visit force-closed")
	return v, nil
}

func (s *Service) GetVisit(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return s.load(ctx, id)
}

func (s *Service) GetVisitByNumber(ctx context.Context, number string) (*Visit, error) {
	v, err := s.repo.GetByNumber(ctx, number)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("visit %s not found", number)
	}
	return v, err
}

func (s *Service) ListVisits(ctx context.Context, limit, offset int) ([]*Visit, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// ListNeedingDepartment is the department dashboard: visits waiting on d
// plus those d has completed and may still retract.
func (s *Service) ListNeedingDepartment(ctx context.Context, d Department, limit, offset int) ([]*Visit, int, error) {
	return s.repo.ListNeedingDepartment(ctx, d, limit, offset)
}

func (s *Service) GetStatusHistory(ctx context.Context, visitID uuid.UUID) ([]*StatusHistoryEntry, error) {
	if _, err := s.load(ctx, visitID); err != nil {
		return nil, err
	}
	return s.history.List(ctx, visitID)
}

func (s *Service) enqueue(ctx context.Context, reqs ...notification.Request) {
	if s.notifier == nil || len(reqs) == 0 {
		return
	}
	s.notifier.Enqueue(ctx, reqs...)
}

func (s *Service) publish(ctx context.Context, v *Visit, eventType string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishJSON(ctx, websocket.VisitTopic(v.ID), eventType, v); err != nil {
		s.logger.Warn().Err(err).Str("visit_id", v.ID.String()).Msg("live push failed")
	}
}
