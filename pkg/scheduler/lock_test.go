package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nimburion/rabbitqueue/pkg/config"
)

func TestLocalLockProvider_ExclusiveUntilExpiry(t *testing.T) {
	p := NewLocalLockProvider()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	ctx := context.Background()

	lease, ok, err := p.Acquire(ctx, "close-day:1", time.Minute)
	if err != nil || !ok || lease == nil {
		t.Fatalf("expected first acquire to succeed, got %v %v %v", lease, ok, err)
	}
	if _, ok, _ := p.Acquire(ctx, "close-day:1", time.Minute); ok {
		t.Fatal("expected second acquire to fail while held")
	}
	if _, ok, _ := p.Acquire(ctx, "close-day:2", time.Minute); !ok {
		t.Fatal("expected a different key to be free")
	}

	now = now.Add(time.Minute)
	if _, ok, _ := p.Acquire(ctx, "close-day:1", time.Minute); !ok {
		t.Fatal("expected expired lease to be taken over")
	}
	if err := p.Release(ctx, lease); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected stale lease release to conflict, got %v", err)
	}
}

func TestLocalLockProvider_Release(t *testing.T) {
	p := NewLocalLockProvider()
	ctx := context.Background()
	lease, _, _ := p.Acquire(ctx, "k", time.Minute)
	if err := p.Release(ctx, lease); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, _ := p.Acquire(ctx, "k", time.Minute); !ok {
		t.Fatal("expected key free after release")
	}
	if _, _, err := p.Acquire(ctx, "", time.Minute); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty key, got %v", err)
	}
}

func TestNewLockProvider_SelectsBackend(t *testing.T) {
	p, err := NewLockProvider(config.SchedulerConfig{LockBackend: "LOCAL"}, &schedulerTestLogger{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*LocalLockProvider); !ok {
		t.Fatalf("expected local provider, got %T", p)
	}
	if _, err := NewLockProvider(config.SchedulerConfig{LockBackend: "etcd"}, &schedulerTestLogger{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := NewLockProvider(config.SchedulerConfig{LockBackend: config.SchedulerLockRedis}, &schedulerTestLogger{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected missing redis url to fail validation, got %v", err)
	}
}

func newMockPostgresLocks(t *testing.T) (*PostgresLockProvider, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	provider, err := newPostgresLockProviderWithDB(db, PostgresLockProviderConfig{OperationTimeout: time.Second}, &schedulerTestLogger{})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider, mock
}

func TestPostgresLockProvider_Acquire(t *testing.T) {
	provider, mock := newMockPostgresLocks(t)

	mock.ExpectQuery(`INSERT INTO rabbitqueue_scheduler_locks .* SELECT EXISTS`).
		WithArgs("close-day:1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`INSERT INTO rabbitqueue_scheduler_locks`).
		WithArgs("close-day:1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	lease, ok, err := provider.Acquire(context.Background(), "close-day:1", time.Second)
	if err != nil || !ok || lease.Token == "" {
		t.Fatalf("expected acquired lease, got %+v %v %v", lease, ok, err)
	}
	if _, ok, err := provider.Acquire(context.Background(), "close-day:1", time.Second); err != nil || ok {
		t.Fatalf("expected lock held elsewhere, got %v %v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresLockProvider_Release(t *testing.T) {
	provider, mock := newMockPostgresLocks(t)
	lease := &Lease{Key: "close-day:1", Token: "token-1"}

	mock.ExpectExec(`DELETE FROM rabbitqueue_scheduler_locks WHERE lock_key = \$1 AND token = \$2`).
		WithArgs("close-day:1", "token-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM rabbitqueue_scheduler_locks`).
		WithArgs("close-day:1", "token-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := provider.Release(context.Background(), lease); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := provider.Release(context.Background(), lease); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresLockProvider_BackendError(t *testing.T) {
	provider, mock := newMockPostgresLocks(t)
	mock.ExpectQuery(`INSERT INTO`).WillReturnError(errors.New("connection reset"))
	if _, _, err := provider.Acquire(context.Background(), "k", time.Second); !errors.Is(err, ErrLockBackend) {
		t.Fatalf("expected ErrLockBackend, got %v", err)
	}
}

func TestPostgresLockProvider_RejectsTableName(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := newPostgresLockProviderWithDB(db, PostgresLockProviderConfig{Table: "locks; DROP TABLE x"}, &schedulerTestLogger{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
