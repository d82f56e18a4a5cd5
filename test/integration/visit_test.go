package integration

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/visitflow/internal/domain/visit"
	"github.com/ehr/visitflow/internal/platform/apperr"
)

var visitNumberPattern = regexp.MustCompile(`^\d{8}-\d{4,}$`)

func createVisit(t *testing.T, env *pgEnv, typ visit.Type) *visit.Visit {
	t.Helper()
	v, err := env.svc.CreateVisit(context.Background(), visit.CreateInput{PatientID: uuid.New(), Type: typ, ActorID: env.frontDesk})
	if err != nil {
		t.Fatalf("create visit: %v", err)
	}
	return v
}

func TestVisit_FullWorkflowOnPostgres(t *testing.T) {
	env := newPGEnv(t)
	ctx := context.Background()

	v := createVisit(t, env, visit.TypeNormal)
	if !visitNumberPattern.MatchString(v.VisitNumber) {
		t.Errorf("unexpected visit number %q", v.VisitNumber)
	}
	if v.Status != visit.StatusPendingAll || v.Version != 1 {
		t.Fatalf("expected pending_all at version 1, got %s at %d", v.Status, v.Version)
	}

	for _, d := range []visit.Department{visit.DeptLab, visit.DeptPharmacy, visit.DeptDoctor} {
		addRecord(t, v.ID, env.actor(d), d)
	}

	steps := []struct {
		dept visit.Department
		want visit.Status
	}{
		{visit.DeptLab, visit.StatusPendingAll},
		{visit.DeptPharmacy, visit.StatusPendingAll},
		{visit.DeptDoctor, visit.StatusCompleted},
	}
	var err error
	for _, step := range steps {
		v, err = env.svc.ToggleCompletion(ctx, v.ID, step.dept, env.actor(step.dept))
		if err != nil {
			t.Fatalf("toggle %s: %v", step.dept, err)
		}
		if v.Status != step.want {
			t.Fatalf("after %s toggle expected %s, got %s", step.dept, step.want, v.Status)
		}
	}
	if v.CompletionKind != visit.CompletionDerived || v.Version != 4 {
		t.Errorf("expected derived completion at version 4, got %q at %d", v.CompletionKind, v.Version)
	}

	byNumber, err := env.svc.GetVisitByNumber(ctx, v.VisitNumber)
	if err != nil || byNumber.ID != v.ID {
		t.Fatalf("lookup by number: %v (%v)", byNumber, err)
	}

	history, err := env.svc.GetStatusHistory(ctx, v.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) == 0 || history[0].Notes != "visit created" {
		t.Fatalf("expected creation entry first, got %+v", history)
	}
	completedAt := 0
	for i, h := range history {
		if i > 0 && h.Version < history[i-1].Version {
			t.Errorf("history out of version order at %d", i)
		}
		if h.Status == string(visit.StatusCompleted) {
			completedAt = h.Version
		}
	}
	if completedAt != 4 {
		t.Errorf("expected completion recorded at version 4, got %d", completedAt)
	}

	// creation notified every department; completion notified the front desk
	for _, user := range []uuid.UUID{env.lab, env.pharmacy, env.doctor, env.frontDesk} {
		n, err := env.notify.UnreadCount(ctx, user)
		if err != nil {
			t.Fatalf("unread count: %v", err)
		}
		if n != 1 {
			t.Errorf("user %s: expected 1 unread notification, got %d", user, n)
		}
	}
}

func TestVisit_ToggleWithoutRecordsOnPostgres(t *testing.T) {
	env := newPGEnv(t)
	ctx := context.Background()
	v := createVisit(t, env, visit.TypeNormal)

	if _, err := env.svc.ToggleCompletion(ctx, v.ID, visit.DeptLab, env.lab); !apperr.Is(err, apperr.KindPreconditionFailed) {
		t.Errorf("expected PreconditionFailed without records, got %v", err)
	}
	if _, err := env.svc.ToggleCompletion(ctx, v.ID, visit.DeptLab, env.pharmacy); !apperr.Is(err, apperr.KindForbidden) {
		t.Errorf("expected Forbidden for another department, got %v", err)
	}
}

// Every department toggles its own flag at the same moment, many times over.
// Whatever interleaving Postgres picks, no flag may be lost.
func TestVisit_ConcurrentTogglesKeepEveryFlag(t *testing.T) {
	env := newPGEnv(t)
	ctx := context.Background()
	depts := []visit.Department{visit.DeptLab, visit.DeptPharmacy, visit.DeptDoctor}

	for run := 0; run < 10; run++ {
		v := createVisit(t, env, visit.TypeNormal)
		for _, d := range depts {
			addRecord(t, v.ID, env.actor(d), d)
		}

		var wg sync.WaitGroup
		errs := make(chan error, len(depts))
		for _, d := range depts {
			wg.Add(1)
			go func(d visit.Department) {
				defer wg.Done()
				if _, err := env.svc.ToggleCompletion(ctx, v.ID, d, env.actor(d)); err != nil {
					errs <- err
				}
			}(d)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("run %d: toggle failed: %v", run, err)
		}

		got, err := env.svc.GetVisit(ctx, v.ID)
		if err != nil {
			t.Fatalf("run %d: get visit: %v", run, err)
		}
		if !got.LabCompleted || !got.PharmacyCompleted || !got.DoctorCompleted {
			t.Fatalf("run %d: lost a flag: %+v", run, got)
		}
		if got.Status != visit.StatusCompleted || got.Version != 4 {
			t.Errorf("run %d: expected completed at version 4, got %s at %d", run, got.Status, got.Version)
		}
	}
}

func countLabResults(t *testing.T, visitID uuid.UUID, onlyPending bool) int {
	t.Helper()
	query := `SELECT COUNT(*) FROM lab_result WHERE visit_id = $1`
	if onlyPending {
		query += ` AND status = 'pending'`
	}
	var n int
	if err := globalPool.QueryRow(context.Background(), query, visitID).Scan(&n); err != nil {
		t.Fatalf("count lab results: %v", err)
	}
	return n
}

func TestVisit_SelectItemsCreatesPlaceholdersInTransaction(t *testing.T) {
	env := newPGEnv(t)
	ctx := context.Background()

	v := createVisit(t, env, visit.TypeDoctorDirected)
	if v.Status != visit.StatusPendingDoctor {
		t.Fatalf("expected pending_doctor, got %s", v.Status)
	}

	labTest := seedCatalog(t, "lab_test")
	status, err := env.svc.SelectItems(ctx, v.ID, []uuid.UUID{labTest}, nil, env.doctor)
	if err != nil {
		t.Fatalf("select items: %v", err)
	}
	if status != visit.StatusPendingLab {
		t.Errorf("expected pending_lab, got %s", status)
	}
	if n := countLabResults(t, v.ID, true); n != 1 {
		t.Fatalf("expected 1 pending lab result, got %d", n)
	}

	// the placeholder counts as a lab record
	got, err := env.svc.ToggleCompletion(ctx, v.ID, visit.DeptLab, env.lab)
	if err != nil || !got.LabCompleted {
		t.Fatalf("expected lab toggle to succeed on placeholder: %v", err)
	}

	// an unknown drug aborts the whole selection and writes nothing
	_, err = env.svc.SelectItems(ctx, v.ID, []uuid.UUID{labTest}, []uuid.UUID{uuid.New()}, env.doctor)
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected NotFound for unknown drug, got %v", err)
	}
	if n := countLabResults(t, v.ID, false); n != 1 {
		t.Errorf("expected no new lab results, got %d", n)
	}
}

func TestVisit_ForceCloseOnPostgres(t *testing.T) {
	env := newPGEnv(t)
	ctx := context.Background()
	v := createVisit(t, env, visit.TypeNormal)

	closed, err := env.svc.ForceClose(ctx, v.ID, env.frontDesk, "patient left")
	if err != nil {
		t.Fatalf("force close: %v", err)
	}
	if !closed.Forced() {
		t.Fatalf("expected forced completion, got %+v", closed)
	}

	again, err := env.svc.ForceClose(ctx, v.ID, env.frontDesk, "")
	if err != nil {
		t.Fatalf("second force close: %v", err)
	}
	if again.Version != closed.Version {
		t.Errorf("closing a completed visit must not write it: version %d -> %d", closed.Version, again.Version)
	}

	history, err := env.svc.GetStatusHistory(ctx, v.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	forced := 0
	for _, h := range history {
		if h.Forced {
			forced++
		}
	}
	if forced != 2 {
		t.Errorf("expected 2 forced history entries, got %d", forced)
	}

	labQueue, _, err := env.svc.ListNeedingDepartment(ctx, visit.DeptLab, 1000, 0)
	if err != nil {
		t.Fatalf("lab queue: %v", err)
	}
	for _, q := range labQueue {
		if q.ID == v.ID {
			t.Error("force-closed visit must leave the lab queue")
		}
	}
}

func TestPGCounter_ConcurrentNumbersAreUnique(t *testing.T) {
	ctx := context.Background()
	counter := visit.NewPGCounter(globalPool)
	day := time.Now().AddDate(10, 0, 0).Format("20060102")

	const callers = 100
	seen := make(chan int64, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := counter.Next(ctx, day)
			if err != nil {
				t.Errorf("next: %v", err)
				return
			}
			seen <- seq
		}()
	}
	wg.Wait()
	close(seen)

	unique := map[int64]bool{}
	for seq := range seen {
		if unique[seq] {
			t.Fatalf("sequence %d handed out twice", seq)
		}
		unique[seq] = true
	}
	for i := int64(1); i <= callers; i++ {
		if !unique[i] {
			t.Errorf("missing sequence %d", i)
		}
	}
}

func TestPGDaySeeder_ReturnsHighestStoredSequence(t *testing.T) {
	env := newPGEnv(t)
	ctx := context.Background()
	v := createVisit(t, env, visit.TypeNormal)
	day := v.VisitNumber[:8]

	max, err := visit.PGDaySeeder(globalPool)(ctx, day)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	seq, err := strconv.ParseInt(v.VisitNumber[9:], 10, 64)
	if err != nil {
		t.Fatalf("parse %s: %v", v.VisitNumber, err)
	}
	if max < seq {
		t.Errorf("seed %d is below stored visit %s", max, v.VisitNumber)
	}

	empty, err := visit.PGDaySeeder(globalPool)(ctx, "19990101")
	if err != nil || empty != 0 {
		t.Errorf("expected 0 for a day without visits, got %d (%v)", empty, err)
	}
}

func TestVisitRepo_StaleVersionConflicts(t *testing.T) {
	env := newPGEnv(t)
	ctx := context.Background()
	repo := visit.NewRepo(globalPool)
	v := createVisit(t, env, visit.TypeNormal)

	first, err := repo.GetByID(ctx, v.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	second, err := repo.GetByID(ctx, v.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	first.LabCompleted = true
	if err := repo.UpdateState(ctx, first); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if first.Version != 2 {
		t.Errorf("expected version 2, got %d", first.Version)
	}

	second.PharmacyCompleted = true
	if err := repo.UpdateState(ctx, second); !errors.Is(err, visit.ErrConflict) {
		t.Fatalf("expected ErrConflict for stale version, got %v", err)
	}
}
