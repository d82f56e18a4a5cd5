package visit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is a process-local Repository with the same version semantics
// as the Postgres store. Used for STORE=memory and in tests.
type MemoryRepo struct {
	mu       sync.RWMutex
	visits   map[uuid.UUID]*Visit
	byNumber map[string]uuid.UUID
	history  map[uuid.UUID][]*StatusHistoryEntry
	now      func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		visits:   make(map[uuid.UUID]*Visit),
		byNumber: make(map[string]uuid.UUID),
		history:  make(map[uuid.UUID][]*StatusHistoryEntry),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepo) Create(_ context.Context, v *Visit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byNumber[v.VisitNumber]; taken {
		return ErrDuplicateNumber
	}
	v.ID = uuid.New()
	v.Version = 1
	v.CreatedAt = r.now()
	v.UpdatedAt = v.CreatedAt
	r.visits[v.ID] = v.clone()
	r.byNumber[v.VisitNumber] = v.ID
	return nil
}

// MaxSequence is the DaySeeder for the memory store.
func (r *MemoryRepo) MaxSequence(_ context.Context, day string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var max int64
	for number := range r.byNumber {
		if seq, ok := sequenceOf(number, day); ok && seq > max {
			max = seq
		}
	}
	return max, nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Visit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.visits[id]
	if !ok {
		return nil, ErrNotFound
	}
	return v.clone(), nil
}

func (r *MemoryRepo) GetByNumber(ctx context.Context, number string) (*Visit, error) {
	r.mu.RLock()
	id, ok := r.byNumber[number]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *MemoryRepo) List(_ context.Context, limit, offset int) ([]*Visit, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.sorted(func(*Visit) bool { return true }, true)
	return page(all, limit, offset), len(all), nil
}

func (r *MemoryRepo) ListNeedingDepartment(_ context.Context, d Department, limit, offset int) ([]*Visit, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	matched := r.sorted(func(v *Visit) bool { return v.NeedsDepartment(d) }, false)
	return page(matched, limit, offset), len(matched), nil
}

func (r *MemoryRepo) UpdateState(_ context.Context, v *Visit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.visits[v.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != v.Version {
		return ErrConflict
	}
	stored.LabCompleted = v.LabCompleted
	stored.PharmacyCompleted = v.PharmacyCompleted
	stored.DoctorCompleted = v.DoctorCompleted
	stored.Status = v.Status
	stored.CompletionKind = v.CompletionKind
	stored.Version++
	stored.UpdatedAt = r.now()

	v.Version = stored.Version
	v.UpdatedAt = stored.UpdatedAt
	return nil
}

func (r *MemoryRepo) AddStatusHistory(_ context.Context, e *StatusHistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.ID = uuid.New()
	e.CreatedAt = r.now()
	c := *e
	r.history[e.VisitID] = append(r.history[e.VisitID], &c)
	return nil
}

func (r *MemoryRepo) GetStatusHistory(_ context.Context, visitID uuid.UUID) ([]*StatusHistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.history[visitID]
	out := make([]*StatusHistoryEntry, 0, len(entries))
	for _, e := range entries {
		c := *e
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// sorted must be called with r.mu held.
func (r *MemoryRepo) sorted(keep func(*Visit) bool, newestFirst bool) []*Visit {
	var out []*Visit
	for _, v := range r.visits {
		if keep(v) {
			out = append(out, v.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].VisitNumber < out[j].VisitNumber
		}
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func page(visits []*Visit, limit, offset int) []*Visit {
	if offset >= len(visits) {
		return nil
	}
	end := len(visits)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return visits[offset:end]
}
