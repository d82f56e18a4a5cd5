package notification

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo keeps notifications in process.
type MemoryRepo struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*Notification
	seq  map[uuid.UUID]int
	next int
	now  func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		rows: make(map[uuid.UUID]*Notification),
		seq:  make(map[uuid.UUID]int),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepo) CreateBatch(_ context.Context, ns []*Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range ns {
		n.ID = uuid.New()
		n.CreatedAt = r.now()
		c := *n
		r.rows[n.ID] = &c
		r.next++
		r.seq[n.ID] = r.next
	}
	return nil
}

func (r *MemoryRepo) ListForUser(_ context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Notification
	for _, n := range r.rows {
		if n.RecipientUserID != userID || (unreadOnly && n.IsRead) {
			continue
		}
		c := *n
		matched = append(matched, &c)
	}
	// newest first
	sort.Slice(matched, func(i, j int) bool { return r.seq[matched[i].ID] > r.seq[matched[j].ID] })

	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

func (r *MemoryRepo) UnreadCount(_ context.Context, userID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, n := range r.rows {
		if n.RecipientUserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (r *MemoryRepo) MarkRead(_ context.Context, id, userID uuid.UUID) (*Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.rows[id]
	if !ok || n.RecipientUserID != userID {
		return nil, ErrNotFound
	}
	if !n.IsRead {
		now := r.now()
		n.IsRead = true
		n.ReadAt = &now
	}
	c := *n
	return &c, nil
}

func (r *MemoryRepo) MarkAllRead(_ context.Context, userID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	count := 0
	for _, n := range r.rows {
		if n.RecipientUserID == userID && !n.IsRead {
			n.IsRead = true
			n.ReadAt = &now
			count++
		}
	}
	return count, nil
}
