package repository

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vendaflow/broker-auth-service/internal/domain"
)

func newResetCodeRepoForTest(t *testing.T) ResetCodeRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.PasswordResetCode{}); err != nil {
		t.Fatalf("migrate reset code: %v", err)
	}
	return NewResetCodeRepository(db)
}

func makeResetCode(email, code string, expiresAt time.Time) *domain.PasswordResetCode {
	return &domain.PasswordResetCode{
		BrokerID:  1,
		Email:     email,
		Code:      code,
		ExpiresAt: expiresAt,
	}
}

func TestResetCodeFindValid(t *testing.T) {
	repo := newResetCodeRepoForTest(t)
	now := time.Now()

	if err := repo.Create(makeResetCode("a@example.com", "123456", now.Add(15*time.Minute))); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.FindValid("a@example.com", "123456", now)
	if err != nil {
		t.Fatalf("find valid: %v", err)
	}
	if got.Email != "a@example.com" || got.Code != "123456" {
		t.Fatalf("unexpected code row: %+v", got)
	}
}

func TestResetCodeFindValidRejectsWrongCodeAndEmail(t *testing.T) {
	repo := newResetCodeRepoForTest(t)
	now := time.Now()

	if err := repo.Create(makeResetCode("a@example.com", "123456", now.Add(15*time.Minute))); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := repo.FindValid("a@example.com", "654321", now); !errors.Is(err, ErrResetCodeNotFound) {
		t.Fatalf("expected not found for wrong code, got %v", err)
	}
	if _, err := repo.FindValid("b@example.com", "123456", now); !errors.Is(err, ErrResetCodeNotFound) {
		t.Fatalf("expected not found for wrong email, got %v", err)
	}
}

func TestResetCodeFindValidRejectsExpiredAndUsed(t *testing.T) {
	repo := newResetCodeRepoForTest(t)
	now := time.Now()

	expired := makeResetCode("a@example.com", "111111", now.Add(-time.Minute))
	if err := repo.Create(expired); err != nil {
		t.Fatalf("create expired: %v", err)
	}
	if _, err := repo.FindValid("a@example.com", "111111", now); !errors.Is(err, ErrResetCodeNotFound) {
		t.Fatalf("expected expired code rejected, got %v", err)
	}

	used := makeResetCode("a@example.com", "222222", now.Add(15*time.Minute))
	if err := repo.Create(used); err != nil {
		t.Fatalf("create used: %v", err)
	}
	if err := repo.MarkUsed(used.ID); err != nil {
		t.Fatalf("mark used: %v", err)
	}
	if _, err := repo.FindValid("a@example.com", "222222", now); !errors.Is(err, ErrResetCodeNotFound) {
		t.Fatalf("expected used code rejected, got %v", err)
	}
}

func TestResetCodeFindValidPrefersLatest(t *testing.T) {
	repo := newResetCodeRepoForTest(t)
	now := time.Now()

	older := makeResetCode("a@example.com", "123456", now.Add(15*time.Minute))
	older.CreatedAt = now.Add(-10 * time.Minute)
	newer := makeResetCode("a@example.com", "123456", now.Add(15*time.Minute))
	newer.CreatedAt = now
	if err := repo.Create(older); err != nil {
		t.Fatalf("create older: %v", err)
	}
	if err := repo.Create(newer); err != nil {
		t.Fatalf("create newer: %v", err)
	}

	got, err := repo.FindValid("a@example.com", "123456", now)
	if err != nil {
		t.Fatalf("find valid: %v", err)
	}
	if got.ID != newer.ID {
		t.Fatalf("expected newest matching row %d, got %d", newer.ID, got.ID)
	}
}

func TestResetCodeInvalidateByEmail(t *testing.T) {
	repo := newResetCodeRepoForTest(t)
	now := time.Now()

	mine1 := makeResetCode("a@example.com", "111111", now.Add(15*time.Minute))
	mine2 := makeResetCode("a@example.com", "222222", now.Add(15*time.Minute))
	other := makeResetCode("b@example.com", "333333", now.Add(15*time.Minute))
	for _, c := range []*domain.PasswordResetCode{mine1, mine2, other} {
		if err := repo.Create(c); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	invalidated, err := repo.InvalidateByEmail("a@example.com")
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if invalidated != 2 {
		t.Fatalf("expected 2 invalidated, got %d", invalidated)
	}
	if _, err := repo.FindValid("a@example.com", "111111", now); !errors.Is(err, ErrResetCodeNotFound) {
		t.Fatalf("expected invalidated code unusable, got %v", err)
	}
	if _, err := repo.FindValid("b@example.com", "333333", now); err != nil {
		t.Fatalf("expected other email untouched, got %v", err)
	}
}

func TestResetCodeDeleteExpired(t *testing.T) {
	repo := newResetCodeRepoForTest(t)
	now := time.Now()

	live := makeResetCode("a@example.com", "111111", now.Add(15*time.Minute))
	dead := makeResetCode("a@example.com", "222222", now.Add(-time.Minute))
	for _, c := range []*domain.PasswordResetCode{live, dead} {
		if err := repo.Create(c); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	deleted, err := repo.DeleteExpired(now)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}
	if _, err := repo.FindValid("a@example.com", "111111", now); err != nil {
		t.Fatalf("expected live code kept, got %v", err)
	}
}
