package records

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ehr/visitflow/internal/domain/visit"
)

// Placeholder is a pending record held by MemoryStore.
type Placeholder struct {
	VisitID   uuid.UUID
	Item      visit.CatalogItem
	CreatedBy uuid.UUID
}

type recordKey struct {
	visitID uuid.UUID
	dept    visit.Department
}

// MemoryStore is a process-local Store. Department work recorded outside
// the workflow is simulated with AddRecord.
type MemoryStore struct {
	mu            sync.RWMutex
	labTests      map[uuid.UUID]visit.CatalogItem
	drugs         map[uuid.UUID]visit.CatalogItem
	counts        map[recordKey]int
	labResults    []Placeholder
	prescriptions []Placeholder
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		labTests: make(map[uuid.UUID]visit.CatalogItem),
		drugs:    make(map[uuid.UUID]visit.CatalogItem),
		counts:   make(map[recordKey]int),
	}
}

// AddLabTest puts a lab test in the catalog and returns its id.
func (s *MemoryStore) AddLabTest(name string) uuid.UUID {
	it := visit.CatalogItem{ID: uuid.New(), Name: name}
	s.mu.Lock()
	s.labTests[it.ID] = it
	s.mu.Unlock()
	return it.ID
}

// AddDrug puts a drug in the catalog and returns its id.
func (s *MemoryStore) AddDrug(name string) uuid.UUID {
	it := visit.CatalogItem{ID: uuid.New(), Name: name}
	s.mu.Lock()
	s.drugs[it.ID] = it
	s.mu.Unlock()
	return it.ID
}

// AddRecord records one piece of department work on a visit.
func (s *MemoryStore) AddRecord(visitID uuid.UUID, d visit.Department) {
	s.mu.Lock()
	s.counts[recordKey{visitID, d}]++
	s.mu.Unlock()
}

func (s *MemoryStore) HasRecords(_ context.Context, visitID uuid.UUID, d visit.Department) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts[recordKey{visitID, d}] > 0, nil
}

func (s *MemoryStore) LookupLabTests(_ context.Context, ids []uuid.UUID) ([]visit.CatalogItem, error) {
	return s.lookup(s.labTests, ids), nil
}

func (s *MemoryStore) LookupDrugs(_ context.Context, ids []uuid.UUID) ([]visit.CatalogItem, error) {
	return s.lookup(s.drugs, ids), nil
}

func (s *MemoryStore) lookup(catalog map[uuid.UUID]visit.CatalogItem, ids []uuid.UUID) []visit.CatalogItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []visit.CatalogItem
	for _, id := range ids {
		if it, ok := catalog[id]; ok {
			out = append(out, it)
		}
	}
	return out
}

func (s *MemoryStore) CreatePendingLabResults(_ context.Context, visitID, actorID uuid.UUID, tests []visit.CatalogItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tests {
		s.labResults = append(s.labResults, Placeholder{VisitID: visitID, Item: t, CreatedBy: actorID})
		s.counts[recordKey{visitID, visit.DeptLab}]++
	}
	return nil
}

func (s *MemoryStore) CreatePendingPrescriptions(_ context.Context, visitID, actorID uuid.UUID, drugs []visit.CatalogItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range drugs {
		s.prescriptions = append(s.prescriptions, Placeholder{VisitID: visitID, Item: d, CreatedBy: actorID})
		s.counts[recordKey{visitID, visit.DeptPharmacy}]++
	}
	return nil
}

// Placeholders returns the pending lab results and prescriptions of a visit.
func (s *MemoryStore) Placeholders(visitID uuid.UUID) (labs, prescriptions []Placeholder) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.labResults {
		if p.VisitID == visitID {
			labs = append(labs, p)
		}
	}
	for _, p := range s.prescriptions {
		if p.VisitID == visitID {
			prescriptions = append(prescriptions, p)
		}
	}
	return labs, prescriptions
}
