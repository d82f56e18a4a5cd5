package visit

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("visit not found")
	// ErrConflict means the stored version moved since the visit was read.
	ErrConflict = errors.New("visit version conflict")
	// ErrDuplicateNumber means the visit number is already taken.
	ErrDuplicateNumber = errors.New("duplicate visit number")
)

type Repository interface {
	// Create assigns ID, Version (1) and timestamps.
	Create(ctx context.Context, v *Visit) error
	GetByID(ctx context.Context, id uuid.UUID) (*Visit, error)
	GetByNumber(ctx context.Context, number string) (*Visit, error)
	List(ctx context.Context, limit, offset int) ([]*Visit, int, error)
	ListNeedingDepartment(ctx context.Context, d Department, limit, offset int) ([]*Visit, int, error)

	// UpdateState writes the flags, status and completion kind of v only if
	// the stored version still equals v.Version, then bumps v.Version.
	UpdateState(ctx context.Context, v *Visit) error

	// Status history
	AddStatusHistory(ctx context.Context, e *StatusHistoryEntry) error
	GetStatusHistory(ctx context.Context, visitID uuid.UUID) ([]*StatusHistoryEntry, error)
}
