package visit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newVisit(number string, status Status) *Visit {
	return &Visit{VisitNumber: number, PatientID: uuid.New(), Type: TypeNormal, Status: status, CreatedBy: uuid.New()}
}

func TestMemoryRepo_CreateAndGet(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	v := newVisit("20240305-0001", StatusPendingAll)

	if err := r.Create(ctx, v); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.ID == uuid.Nil || v.Version != 1 || v.CreatedAt.IsZero() {
		t.Fatalf("expected id, version and timestamps to be assigned: %+v", v)
	}

	got, err := r.GetByNumber(ctx, "20240305-0001")
	if err != nil || got.ID != v.ID {
		t.Fatalf("GetByNumber: %v %v", got, err)
	}

	// returned visits are copies
	got.Status = StatusCompleted
	again, _ := r.GetByID(ctx, v.ID)
	if again.Status != StatusPendingAll {
		t.Error("mutating a returned visit changed the store")
	}

	if _, err := r.GetByID(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryRepo_DuplicateNumber(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	r.Create(ctx, newVisit("20240305-0001", StatusPendingAll))

	err := r.Create(ctx, newVisit("20240305-0001", StatusPendingAll))
	if !errors.Is(err, ErrDuplicateNumber) {
		t.Fatalf("expected ErrDuplicateNumber, got %v", err)
	}
}

func TestMemoryRepo_UpdateStateCompareAndSwap(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	v := newVisit("20240305-0001", StatusPendingAll)
	r.Create(ctx, v)

	a, _ := r.GetByID(ctx, v.ID)
	b, _ := r.GetByID(ctx, v.ID)

	a.LabCompleted = true
	if err := r.UpdateState(ctx, a); err != nil {
		t.Fatalf("first writer: %v", err)
	}
	if a.Version != 2 {
		t.Errorf("expected version 2, got %d", a.Version)
	}

	b.PharmacyCompleted = true
	if err := r.UpdateState(ctx, b); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale writer should conflict, got %v", err)
	}

	stored, _ := r.GetByID(ctx, v.ID)
	if !stored.LabCompleted || stored.PharmacyCompleted {
		t.Errorf("unexpected stored flags %v", flags(stored))
	}

	ghost := newVisit("x", StatusPendingAll)
	ghost.ID = uuid.New()
	if err := r.UpdateState(ctx, ghost); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryRepo_ListPaging(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	base := time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		r.now = func() time.Time { return at }
		r.Create(ctx, newVisit(fmt.Sprintf("20240305-%04d", i), StatusPendingAll))
	}

	page1, total, err := r.List(ctx, 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 5 || len(page1) != 2 || page1[0].VisitNumber != "20240305-0005" {
		t.Fatalf("expected newest first, got total=%d %v", total, page1)
	}
	last, _, _ := r.List(ctx, 2, 4)
	if len(last) != 1 || last[0].VisitNumber != "20240305-0001" {
		t.Fatalf("unexpected last page %v", last)
	}
	empty, _, _ := r.List(ctx, 2, 10)
	if len(empty) != 0 {
		t.Fatalf("expected empty page past the end")
	}
}

func TestMemoryRepo_ListNeedingDepartment(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()

	all := newVisit("1", StatusPendingAll)
	labOnly := newVisit("2", StatusPendingLab)
	done := newVisit("3", StatusCompleted)
	done.LabCompleted, done.PharmacyCompleted, done.DoctorCompleted = true, true, true
	for _, v := range []*Visit{all, labOnly, done} {
		r.Create(ctx, v)
	}

	lab, total, _ := r.ListNeedingDepartment(ctx, DeptLab, 10, 0)
	if total != 3 || len(lab) != 3 {
		t.Errorf("lab should see all three, got %d", total)
	}
	pharmacy, total, _ := r.ListNeedingDepartment(ctx, DeptPharmacy, 10, 0)
	if total != 2 {
		t.Errorf("pharmacy should not see the lab-only visit, got %v", pharmacy)
	}
	if pharmacy[0].VisitNumber != "1" {
		t.Errorf("expected oldest first, got %s", pharmacy[0].VisitNumber)
	}
}

func TestMemoryRepo_HistoryOrderedByVersion(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	visitID := uuid.New()

	for _, v := range []int{3, 1, 2, 2} {
		r.AddStatusHistory(ctx, &StatusHistoryEntry{VisitID: visitID, Version: v, Status: fmt.Sprint(v)})
	}
	entries, err := r.GetStatusHistory(ctx, visitID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []int
	for _, e := range entries {
		got = append(got, e.Version)
	}
	if fmt.Sprint(got) != "[1 2 2 3]" {
		t.Errorf("expected entries ordered by version, got %v", got)
	}
}
