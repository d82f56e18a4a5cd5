package visit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/visitflow/internal/domain/notification"
)

type mockRoles struct {
	mu    sync.Mutex
	roles map[uuid.UUID][]string
}

func (m *mockRoles) grant(role string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.roles[id] = []string{role}
	return id
}

func (m *mockRoles) IsInRole(_ context.Context, userID uuid.UUID, role string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles[userID] {
		if r == role || r == RoleAdmin {
			return true, nil
		}
	}
	return false, nil
}

type recordKey struct {
	visitID uuid.UUID
	dept    Department
}

type mockRecords struct {
	mu            sync.Mutex
	has           map[recordKey]bool
	catalog       map[uuid.UUID]CatalogItem
	labs, drugs   []CatalogItem
	failPlacement bool
}

func newMockRecords() *mockRecords {
	return &mockRecords{has: make(map[recordKey]bool), catalog: make(map[uuid.UUID]CatalogItem)}
}

func (m *mockRecords) add(visitID uuid.UUID, d Department) {
	m.mu.Lock()
	m.has[recordKey{visitID, d}] = true
	m.mu.Unlock()
}

func (m *mockRecords) item(name string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := CatalogItem{ID: uuid.New(), Name: name}
	m.catalog[it.ID] = it
	return it.ID
}

func (m *mockRecords) HasRecords(_ context.Context, visitID uuid.UUID, d Department) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.has[recordKey{visitID, d}], nil
}

func (m *mockRecords) lookup(ids []uuid.UUID) []CatalogItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []CatalogItem
	for _, id := range ids {
		if it, ok := m.catalog[id]; ok {
			out = append(out, it)
		}
	}
	return out
}

func (m *mockRecords) LookupLabTests(_ context.Context, ids []uuid.UUID) ([]CatalogItem, error) {
	return m.lookup(ids), nil
}

func (m *mockRecords) LookupDrugs(_ context.Context, ids []uuid.UUID) ([]CatalogItem, error) {
	return m.lookup(ids), nil
}

func (m *mockRecords) CreatePendingLabResults(_ context.Context, visitID, _ uuid.UUID, tests []CatalogItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPlacement {
		return errors.New("insert failed")
	}
	m.labs = append(m.labs, tests...)
	if len(tests) > 0 {
		m.has[recordKey{visitID, DeptLab}] = true
	}
	return nil
}

func (m *mockRecords) CreatePendingPrescriptions(_ context.Context, visitID, _ uuid.UUID, drugs []CatalogItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPlacement {
		return errors.New("insert failed")
	}
	m.drugs = append(m.drugs, drugs...)
	if len(drugs) > 0 {
		m.has[recordKey{visitID, DeptPharmacy}] = true
	}
	return nil
}

// mockNotifier records what would have been queued.
type mockNotifier struct {
	mu   sync.Mutex
	reqs []notification.Request
}

func (m *mockNotifier) Enqueue(_ context.Context, reqs ...notification.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs = append(m.reqs, reqs...)
}

func (m *mockNotifier) roles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.reqs))
	for i, r := range m.reqs {
		out[i] = r.ToRole
	}
	return out
}

func (m *mockNotifier) reset() {
	m.mu.Lock()
	m.reqs = nil
	m.mu.Unlock()
}

// conflictingRepo fails the first n UpdateState calls with ErrConflict.
type conflictingRepo struct {
	*MemoryRepo
	remaining atomic.Int32
}

func (r *conflictingRepo) UpdateState(ctx context.Context, v *Visit) error {
	if r.remaining.Add(-1) >= 0 {
		return ErrConflict
	}
	return r.MemoryRepo.UpdateState(ctx, v)
}

// failingHistoryRepo rejects every history write.
type failingHistoryRepo struct {
	*MemoryRepo
}

func (failingHistoryRepo) AddStatusHistory(context.Context, *StatusHistoryEntry) error {
	return errors.New("history table unavailable")
}

type fixture struct {
	svc       *Service
	repo      Repository
	mem       *MemoryRepo
	roles     *mockRoles
	records   *mockRecords
	notifier  *mockNotifier
	frontDesk uuid.UUID
	lab       uuid.UUID
	pharmacy  uuid.UUID
	doctor    uuid.UUID
	admin     uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithRepo(t, nil)
}

// newFixtureWithRepo wraps the memory store with wrap when it is not nil.
func newFixtureWithRepo(t *testing.T, wrap func(*MemoryRepo) Repository) *fixture {
	t.Helper()
	mem := NewMemoryRepo()
	var repo Repository = mem
	if wrap != nil {
		repo = wrap(mem)
	}
	roles := &mockRoles{roles: make(map[uuid.UUID][]string)}
	records := newMockRecords()
	notifier := &mockNotifier{}

	svc := NewService(repo, NewNumberer(NewMemoryCounter(), nil, 4), roles, records, zerolog.Nop())
	svc.SetNotifier(notifier)

	return &fixture{
		svc:       svc,
		repo:      repo,
		mem:       mem,
		roles:     roles,
		records:   records,
		notifier:  notifier,
		frontDesk: roles.grant(RoleFrontDesk),
		lab:       roles.grant(DeptLab.Role()),
		pharmacy:  roles.grant(DeptPharmacy.Role()),
		doctor:    roles.grant(DeptDoctor.Role()),
		admin:     roles.grant(RoleAdmin),
	}
}

func (f *fixture) create(t *testing.T, typ Type) *Visit {
	t.Helper()
	v, err := f.svc.CreateVisit(context.Background(), CreateInput{PatientID: uuid.New(), Type: typ, ActorID: f.frontDesk})
	if err != nil {
		t.Fatalf("create visit: %v", err)
	}
	return v
}

func (f *fixture) actorFor(d Department) uuid.UUID {
	switch d {
	case DeptLab:
		return f.lab
	case DeptPharmacy:
		return f.pharmacy
	default:
		return f.doctor
	}
}

func flags(v *Visit) [3]bool {
	return [3]bool{v.LabCompleted, v.PharmacyCompleted, v.DoctorCompleted}
}
