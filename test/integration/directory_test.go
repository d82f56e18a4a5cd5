package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/visitflow/internal/domain/directory"
	"github.com/ehr/visitflow/internal/domain/notification"
	"github.com/ehr/visitflow/internal/platform/db"
)

func seedUser(t *testing.T, dir directory.Directory, active bool, roles ...string) uuid.UUID {
	t.Helper()
	u := &directory.User{Username: "user-" + uuid.NewString()[:12], Active: active, Roles: roles}
	if err := dir.Upsert(context.Background(), u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u.ID
}

func contains(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func TestDirectory_RoleChecksOnPostgres(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewPGDirectory(globalPool)

	lab := seedUser(t, dir, true, directory.RoleLab)
	admin := seedUser(t, dir, true, directory.RoleAdmin)
	inactive := seedUser(t, dir, false, directory.RoleLab)

	tests := []struct {
		name string
		user uuid.UUID
		role string
		want bool
	}{
		{"holder", lab, directory.RoleLab, true},
		{"other role", lab, directory.RolePharmacy, false},
		{"admin passes any role", admin, directory.RoleDoctor, true},
		{"inactive user", inactive, directory.RoleLab, false},
		{"unknown user", uuid.New(), directory.RoleLab, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := dir.IsInRole(ctx, tt.user, tt.role)
			if err != nil {
				t.Fatalf("is in role: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsInRole = %v, want %v", got, tt.want)
			}
		})
	}

	members, err := dir.ActiveUsersInRole(ctx, directory.RoleLab)
	if err != nil {
		t.Fatalf("active users: %v", err)
	}
	if !contains(members, lab) {
		t.Error("expected active lab user in fan-out")
	}
	if contains(members, inactive) {
		t.Error("inactive user must not be a fan-out recipient")
	}
	if contains(members, admin) {
		t.Error("admins are not fan-out recipients")
	}
}

func TestDirectory_UpsertReplacesRoles(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewPGDirectory(globalPool)

	u := &directory.User{Username: "swap-" + uuid.NewString()[:12], Active: true, Roles: []string{directory.RoleLab}}
	if err := dir.Upsert(ctx, u); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	u.Roles = []string{directory.RolePharmacy}
	if err := dir.Upsert(ctx, u); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if ok, err := dir.IsInRole(ctx, u.ID, directory.RoleLab); err != nil || ok {
		t.Errorf("expected lab role removed, got %v (%v)", ok, err)
	}
	if ok, err := dir.IsInRole(ctx, u.ID, directory.RolePharmacy); err != nil || !ok {
		t.Errorf("expected pharmacy role, got %v (%v)", ok, err)
	}

	u.Roles = []string{"janitor"}
	if err := dir.Upsert(ctx, u); !errors.Is(err, directory.ErrInvalidRole) {
		t.Errorf("expected ErrInvalidRole, got %v", err)
	}
}

func TestInTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()
	boom := errors.New("boom")

	err := db.NewTransactor(globalPool).InTx(ctx, func(ctx context.Context) error {
		if _, err := db.Conn(ctx, globalPool).Exec(ctx,
			`INSERT INTO staff_user (id, username) VALUES ($1, $2)`, id, "rollback-"+id.String()[:12]); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}

	var exists bool
	if err := globalPool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM staff_user WHERE id = $1)`, id).Scan(&exists); err != nil {
		t.Fatalf("check: %v", err)
	}
	if exists {
		t.Error("row written inside a failed transaction must not persist")
	}
}

func TestNotification_FanOutAndReadOnPostgres(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewPGDirectory(globalPool)
	svc := notification.NewService(notification.NewRepo(globalPool), dir, zerolog.Nop())

	pharmacist := seedUser(t, dir, true, directory.RolePharmacy)
	other := seedUser(t, dir, true, directory.RoleLab)

	n, err := svc.NotifyMany(ctx, []notification.Request{
		notification.ForUser(pharmacist, notification.Request{Title: "Restock", Message: "amoxicillin is low"}),
		notification.ForUser(pharmacist, notification.Request{Title: "Reminder", Message: "inventory count at 5pm"}),
	})
	if err != nil || n != 2 {
		t.Fatalf("expected 2 notifications, got %d (%v)", n, err)
	}

	// a request for an unknown recipient fails alone; its sibling is stored
	n, err = svc.NotifyMany(ctx, []notification.Request{
		notification.ForUser(pharmacist, notification.Request{Title: "A", Message: "a"}),
		notification.ForUser(uuid.New(), notification.Request{Title: "B", Message: "b"}),
	})
	if err == nil {
		t.Error("expected an error for the unknown recipient")
	}
	if n != 1 {
		t.Errorf("expected the valid request to be stored, got %d", n)
	}

	list, total, err := svc.ListForUser(ctx, pharmacist, true, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(list) != 3 {
		t.Fatalf("expected 3 unread, got total=%d len=%d", total, len(list))
	}

	if _, err := svc.MarkRead(ctx, list[0].ID, other); err == nil {
		t.Error("only the recipient may mark a notification read")
	}

	read, err := svc.MarkRead(ctx, list[0].ID, pharmacist)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if !read.IsRead || read.ReadAt == nil {
		t.Errorf("expected read with timestamp, got %+v", read)
	}

	if unread, err := svc.UnreadCount(ctx, pharmacist); err != nil || unread != 2 {
		t.Errorf("expected 2 unread, got %d (%v)", unread, err)
	}
	if marked, err := svc.MarkAllRead(ctx, pharmacist); err != nil || marked != 2 {
		t.Errorf("expected 2 marked, got %d (%v)", marked, err)
	}
}
