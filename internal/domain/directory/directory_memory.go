package directory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryDirectory is a process-local Directory.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*User
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{users: make(map[uuid.UUID]*User)}
}

func (d *MemoryDirectory) IsInRole(_ context.Context, userID uuid.UUID, role string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok || !u.Active {
		return false, nil
	}
	for _, r := range u.Roles {
		if r == role || r == RoleAdmin {
			return true, nil
		}
	}
	return false, nil
}

func (d *MemoryDirectory) ActiveUsersInRole(_ context.Context, role string) ([]uuid.UUID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var matched []*User
	for _, u := range d.users {
		if !u.Active {
			continue
		}
		for _, r := range u.Roles {
			if r == role {
				matched = append(matched, u)
				break
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Username < matched[j].Username })
	ids := make([]uuid.UUID, len(matched))
	for i, u := range matched {
		ids[i] = u.ID
	}
	return ids, nil
}

func (d *MemoryDirectory) Upsert(_ context.Context, u *User) error {
	if err := validate(u); err != nil {
		return err
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	c := *u
	c.Roles = append([]string(nil), u.Roles...)
	d.mu.Lock()
	d.users[c.ID] = &c
	d.mu.Unlock()
	return nil
}
