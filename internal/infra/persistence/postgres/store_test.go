package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"queryengine/internal/infra/persistence/backendtest"
	"queryengine/pkg/domain"
)

func TestNewStorePingsAndAppliesSchema(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	var gotDriver, gotDSN string
	restore := OverrideSQLOpen(func(driver, dsn string) (*sql.DB, error) {
		gotDriver, gotDSN = driver, dsn
		return db, nil
	})
	defer restore()

	mock.ExpectPing()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS atoms").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS latest").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS members").WillReturnResult(sqlmock.NewResult(0, 0))

	store, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if gotDriver != defaultDriver || gotDSN != defaultDSN {
		t.Fatalf("unexpected open(%q, %q)", gotDriver, gotDSN)
	}

	mock.ExpectQuery(`WHERE a.id = \$1`).WithArgs("missing").WillReturnRows(sqlmock.NewRows([]string{"id", "version", "predecessor", "kind", "created_at", "payload", "delta"}))
	if _, ok, err := store.FetchLatest(context.Background(), "missing"); ok || err != nil {
		t.Fatalf("FetchLatest(missing) = %v, %v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestNewStorePingFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectClose()
	if _, err := NewStore(context.Background(), "postgres://nowhere"); err == nil {
		t.Fatalf("expected ping failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestNewStoreOpenFailure(t *testing.T) {
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("bad dsn") })
	defer restore()
	if _, err := NewStore(context.Background(), "bogus"); err == nil {
		t.Fatalf("expected open failure")
	}
}

// TestPostgresStoreContract runs against a live server when
// QUERYENGINE_TEST_POSTGRES_DSN points at a disposable database.
func TestPostgresStoreContract(t *testing.T) {
	dsn := os.Getenv("QUERYENGINE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("QUERYENGINE_TEST_POSTGRES_DSN not set")
	}
	backendtest.Run(t, func(t *testing.T) domain.Backend {
		store, err := NewStore(context.Background(), dsn)
		if err != nil {
			t.Fatalf("NewStore: %v", err)
		}
		for _, table := range []string{"atoms", "latest", "members"} {
			if _, err := store.DB().Exec("TRUNCATE TABLE " + table); err != nil {
				t.Fatalf("truncate %s: %v", table, err)
			}
		}
		return store
	})
}
