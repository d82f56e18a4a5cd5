package visit

import (
	"context"

	"github.com/google/uuid"
)

// RoleChecker answers whether an actor currently holds a role.
type RoleChecker interface {
	IsInRole(ctx context.Context, userID uuid.UUID, role string) (bool, error)
}

// RecordChecker reports whether a department has recorded any work on a
// visit. Used as the precondition for setting a completion flag.
type RecordChecker interface {
	HasRecords(ctx context.Context, visitID uuid.UUID, d Department) (bool, error)
}

// CatalogItem is the display metadata copied into a placeholder record.
type CatalogItem struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Catalog resolves lab test and drug references. Unknown or inactive ids
// are left out of the result.
type Catalog interface {
	LookupLabTests(ctx context.Context, ids []uuid.UUID) ([]CatalogItem, error)
	LookupDrugs(ctx context.Context, ids []uuid.UUID) ([]CatalogItem, error)
}

// PlaceholderWriter creates the pending department records chosen at item
// selection.
type PlaceholderWriter interface {
	CreatePendingLabResults(ctx context.Context, visitID, actorID uuid.UUID, tests []CatalogItem) error
	CreatePendingPrescriptions(ctx context.Context, visitID, actorID uuid.UUID, drugs []CatalogItem) error
}

// Records bundles the department record collaborators.
type Records interface {
	RecordChecker
	Catalog
	PlaceholderWriter
}

// TxRunner runs fn in one transaction; stores called with the ctx it is
// given join that transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Publisher pushes live visit events.
type Publisher interface {
	PublishJSON(ctx context.Context, topic, eventType string, payload interface{}) error
}

type noTx struct{}

func (noTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
