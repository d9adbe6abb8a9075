package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"queryengine/internal/infra/persistence/backendtest"
	"queryengine/pkg/domain"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(context.Background(), filepath.Join(t.TempDir(), "atoms.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	return store
}

func TestSQLiteStoreContract(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) domain.Backend { return openTemp(t) })
}

func TestSQLiteStorePersistAndReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "atoms.db")
	store, err := NewStore(ctx, path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	rec := backendtest.SetRecord(t, "set", 1, domain.MemberDelta{}.WithAdd(domain.Member{Key: "k", ID: "spec", Version: 1}))
	if err := store.PersistBatch(ctx, []domain.Record{rec}); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if store.Path() != path {
		t.Fatalf("unexpected path %s", store.Path())
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })
	got, ok, err := reopened.FetchLatest(ctx, "set")
	if err != nil || !ok {
		t.Fatalf("fetch after reopen = %v, %v", ok, err)
	}
	if got.Delta == nil || len(got.Delta.Add) != 1 {
		t.Fatalf("delta not restored: %+v", got)
	}
	if m, ok, _ := reopened.LookupMember(ctx, "set", 1, "k"); !ok || m.ID != "spec" {
		t.Fatalf("membership not restored: %+v", m)
	}
}

func TestSQLiteStoreOpenFailure(t *testing.T) {
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("no driver") })
	defer restore()
	if _, err := NewStore(context.Background(), filepath.Join(t.TempDir(), "x.db")); err == nil {
		t.Fatalf("expected open failure")
	}
}
