// Package directory answers who holds which staff role. User and role
// management happen elsewhere; this package only reads what is stored,
// plus Upsert for provisioning and tests.
package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Staff roles.
const (
	RoleLab       = "lab"
	RolePharmacy  = "pharmacy"
	RoleDoctor    = "doctor"
	RoleFrontDesk = "frontdesk"
	RoleAdmin     = "admin"
)

var validRoles = map[string]bool{
	RoleLab:       true,
	RolePharmacy:  true,
	RoleDoctor:    true,
	RoleFrontDesk: true,
	RoleAdmin:     true,
}

func ValidRole(role string) bool { return validRoles[role] }

var ErrInvalidRole = errors.New("invalid role")

type User struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Active      bool      `json:"active"`
	Roles       []string  `json:"roles"`
}

// Directory is the role lookup the workflow consults. IsInRole is true for
// active admins whatever role is asked for; ActiveUsersInRole lists only
// users holding exactly role.
type Directory interface {
	IsInRole(ctx context.Context, userID uuid.UUID, role string) (bool, error)
	ActiveUsersInRole(ctx context.Context, role string) ([]uuid.UUID, error)
	Upsert(ctx context.Context, u *User) error
}

func validate(u *User) error {
	for _, r := range u.Roles {
		if !ValidRole(r) {
			return ErrInvalidRole
		}
	}
	return nil
}
