package users

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/calendar"
	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/diary"
	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/ids"
	sqlite "github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "users.db")), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&User{}, &diary.Diary{}, &calendar.Day{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Hasher:     auth.NewPasswordHasher(bcrypt.MinCost),
		IDProvider: ids.NewSequence("user"),
		Clock: func() time.Time {
			return time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db
}

func registerAlice(t *testing.T, service *Service) User {
	t.Helper()
	user, err := service.Register(context.Background(), RegisterInput{
		Username: "alice",
		Email:    " Alice@Example.com ",
		Nickname: "Al",
		Password: "correct horse",
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	return user
}

func TestRegisterHashesPasswordAndNormalizesEmail(t *testing.T) {
	service, _ := newTestService(t)
	user := registerAlice(t, service)

	if user.ID != "user-1" {
		t.Fatalf("unexpected id %q", user.ID)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("expected normalized email, got %q", user.Email)
	}
	if user.PasswordHash == "" || user.PasswordHash == "correct horse" {
		t.Fatalf("expected hashed password, got %q", user.PasswordHash)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	service, _ := newTestService(t)
	registerAlice(t, service)

	_, err := service.Register(context.Background(), RegisterInput{
		Username: "alice",
		Email:    "other@example.com",
		Password: "correct horse",
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for duplicate username, got %v", err)
	}
	_, err = service.Register(context.Background(), RegisterInput{
		Username: "alice2",
		Email:    "ALICE@example.com",
		Password: "correct horse",
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for duplicate email, got %v", err)
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	service, _ := newTestService(t)
	inputs := []RegisterInput{
		{Username: "al", Email: "al@example.com", Password: "correct horse"},
		{Username: "a@b", Email: "al@example.com", Password: "correct horse"},
		{Username: "alice", Email: "not-an-email", Password: "correct horse"},
		{Username: "alice", Email: "alice@example.com", Password: "short"},
	}
	for _, input := range inputs {
		if _, err := service.Register(context.Background(), input); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", input, err)
		}
	}
}

func TestAuthenticateAcceptsEmailOrUsername(t *testing.T) {
	service, _ := newTestService(t)
	registered := registerAlice(t, service)

	for _, login := range []string{"alice", "ALICE@example.com"} {
		user, err := service.Authenticate(context.Background(), login, "correct horse")
		if err != nil {
			t.Fatalf("authenticate %q failed: %v", login, err)
		}
		if user.ID != registered.ID {
			t.Fatalf("unexpected user %q", user.ID)
		}
	}
}

func TestAuthenticateFailuresAreUniform(t *testing.T) {
	service, _ := newTestService(t)
	registerAlice(t, service)

	attempts := [][2]string{
		{"alice", "wrong password"},
		{"nobody", "correct horse"},
		{"nobody@example.com", "correct horse"},
		{"", ""},
	}
	for _, attempt := range attempts {
		_, err := service.Authenticate(context.Background(), attempt[0], attempt[1])
		if err != ErrInvalidCredentials {
			t.Fatalf("expected uniform invalid credentials for %q, got %v", attempt[0], err)
		}
	}
}

func TestUpdateChangesProfileAndPassword(t *testing.T) {
	service, _ := newTestService(t)
	user := registerAlice(t, service)

	nickname := "Ally"
	password := "new secret phrase"
	updated, err := service.Update(context.Background(), user.ID, UpdateInput{Nickname: &nickname, Password: &password})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Nickname != "Ally" {
		t.Fatalf("expected nickname update, got %q", updated.Nickname)
	}
	if _, err := service.Authenticate(context.Background(), "alice", "new secret phrase"); err != nil {
		t.Fatalf("expected new password to authenticate: %v", err)
	}
	if _, err := service.Authenticate(context.Background(), "alice", "correct horse"); err != ErrInvalidCredentials {
		t.Fatalf("expected old password to be rejected, got %v", err)
	}
}

func TestUpdateDetectsConflicts(t *testing.T) {
	service, _ := newTestService(t)
	alice := registerAlice(t, service)
	if _, err := service.Register(context.Background(), RegisterInput{
		Username: "bob",
		Email:    "bob@example.com",
		Password: "correct horse",
	}); err != nil {
		t.Fatalf("register bob failed: %v", err)
	}

	taken := "bob"
	if _, err := service.Update(context.Background(), alice.ID, UpdateInput{Username: &taken}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestDeleteCascadesToDiariesAndCalendar(t *testing.T) {
	service, db := newTestService(t)
	alice := registerAlice(t, service)
	now := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

	records := []interface{}{
		&diary.Diary{ID: "d-1", UserID: alice.ID, EntryDate: "2024-05-10", Title: "t", Content: "c", Intensity: "medium", CreatedAt: now, UpdatedAt: now},
		&diary.Diary{ID: "d-2", UserID: "someone-else", EntryDate: "2024-05-10", Title: "t", Content: "c", Intensity: "medium", CreatedAt: now, UpdatedAt: now},
		&calendar.Day{ID: "c-1", UserID: alice.ID, Date: "2024-05-10", CreatedAt: now, UpdatedAt: now},
	}
	for _, record := range records {
		if err := db.Create(record).Error; err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	if _, err := service.ResolveActiveUserID(context.Background(), alice.ID); err != nil {
		t.Fatalf("expected active user before delete: %v", err)
	}
	if err := service.Delete(context.Background(), alice.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	var diaries, days int64
	db.Model(&diary.Diary{}).Count(&diaries)
	db.Model(&calendar.Day{}).Where("user_id = ?", alice.ID).Count(&days)
	if diaries != 1 || days != 0 {
		t.Fatalf("expected only foreign diary to remain, got diaries=%d days=%d", diaries, days)
	}
	if _, err := service.Get(context.Background(), alice.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected user to be gone, got %v", err)
	}
	if _, err := service.ResolveActiveUserID(context.Background(), alice.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted user to be rejected, got %v", err)
	}
	if err := service.Delete(context.Background(), alice.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected second delete to report not found, got %v", err)
	}
}

type countingHasher struct {
	inner    PasswordHasher
	hashes   int
	verifies []string
}

func (h *countingHasher) Hash(password string) (string, error) {
	h.hashes++
	return h.inner.Hash(password)
}

func (h *countingHasher) Verify(password, hash string) bool {
	h.verifies = append(h.verifies, hash)
	return h.inner.Verify(password, hash)
}

func TestAuthenticateUnknownLoginStillComparesPassword(t *testing.T) {
	service, _ := newTestService(t)
	registerAlice(t, service)
	hasher := &countingHasher{inner: auth.NewPasswordHasher(bcrypt.MinCost)}
	service.hasher = hasher

	for _, login := range []string{"nobody", "nobody@example.com"} {
		if _, err := service.Authenticate(context.Background(), login, "correct horse"); err != ErrInvalidCredentials {
			t.Fatalf("expected invalid credentials for %q, got %v", login, err)
		}
	}
	if len(hasher.verifies) != 2 {
		t.Fatalf("expected a password comparison per unknown login, got %d", len(hasher.verifies))
	}
	for _, hash := range hasher.verifies {
		if hash == "" {
			t.Fatalf("expected comparison against a real bcrypt hash")
		}
	}
	if hasher.hashes != 1 {
		t.Fatalf("expected the placeholder hash to be computed once, got %d", hasher.hashes)
	}

	if _, err := service.Authenticate(context.Background(), "alice", "wrong password"); err != ErrInvalidCredentials {
		t.Fatalf("expected invalid credentials for wrong password, got %v", err)
	}
	if len(hasher.verifies) != 3 {
		t.Fatalf("expected wrong password to compare once, got %d comparisons", len(hasher.verifies))
	}
}
