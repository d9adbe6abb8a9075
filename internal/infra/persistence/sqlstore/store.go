// Package sqlstore implements the versioned atom backend on database/sql. The
// sqlite and postgres packages supply the driver and dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"queryengine/pkg/domain"
)

// Compile-time contract assertion ensuring sqlstore.Store adheres to the domain backend interface.
var _ domain.Backend = (*Store)(nil)

// Dialect captures the differences between supported SQL engines.
type Dialect struct {
	// Name labels the engine in error messages.
	Name string
	// BlobType is the column type used for JSON payloads.
	BlobType string
	// Numbered rewrites ? placeholders into $1, $2, ... when set.
	Numbered bool
}

// SQLite is the dialect for modernc.org/sqlite.
var SQLite = Dialect{Name: "sqlite", BlobType: "BLOB"}

// Postgres is the dialect for pgx via database/sql.
var Postgres = Dialect{Name: "postgres", BlobType: "BYTEA", Numbered: true}

func (d Dialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS atoms (
			id TEXT NOT NULL,
			version BIGINT NOT NULL,
			predecessor BIGINT NOT NULL,
			kind TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			payload ` + d.BlobType + ` NOT NULL,
			delta ` + d.BlobType + `,
			PRIMARY KEY (id, version)
		)`,
		`CREATE TABLE IF NOT EXISTS latest (
			id TEXT PRIMARY KEY,
			version BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS members (
			set_id TEXT NOT NULL,
			member_key TEXT NOT NULL,
			added BIGINT NOT NULL,
			removed BIGINT NOT NULL DEFAULT 0,
			member_id TEXT NOT NULL,
			member_version BIGINT NOT NULL,
			PRIMARY KEY (set_id, member_key, added)
		)`,
	}
}

// rebind rewrites ? placeholders for dialects with numbered parameters.
func (d Dialect) rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type statements struct {
	fetchLatest  string
	fetchVersion string
	history      string
	latestOf     string
	claimNew     string
	advance      string
	insertAtom   string
	closeMember  string
	insertMember string
	lookupMember string
	pageMembers  string
}

func (d Dialect) statements() statements {
	const atomCols = `a.id, a.version, a.predecessor, a.kind, a.created_at, a.payload, a.delta`
	const visible = `set_id = ? AND added <= ? AND (removed = 0 OR removed > ?)`
	return statements{
		fetchLatest:  d.rebind(`SELECT ` + atomCols + ` FROM atoms a JOIN latest l ON l.id = a.id AND l.version = a.version WHERE a.id = ?`),
		fetchVersion: d.rebind(`SELECT ` + atomCols + ` FROM atoms a WHERE a.id = ? AND a.version = ?`),
		history:      d.rebind(`SELECT id, version, predecessor, created_at FROM atoms WHERE id = ? ORDER BY version`),
		latestOf:     d.rebind(`SELECT version FROM latest WHERE id = ?`),
		claimNew:     d.rebind(`INSERT INTO latest (id, version) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`),
		advance:      d.rebind(`UPDATE latest SET version = ? WHERE id = ? AND version = ?`),
		insertAtom:   d.rebind(`INSERT INTO atoms (id, version, predecessor, kind, created_at, payload, delta) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		closeMember:  d.rebind(`UPDATE members SET removed = ? WHERE set_id = ? AND member_key = ? AND removed = 0`),
		insertMember: d.rebind(`INSERT INTO members (set_id, member_key, added, removed, member_id, member_version) VALUES (?, ?, ?, 0, ?, ?)`),
		lookupMember: d.rebind(`SELECT member_key, member_id, member_version FROM members WHERE ` + visible + ` AND member_key = ?`),
		pageMembers:  d.rebind(`SELECT member_key, member_id, member_version FROM members WHERE ` + visible + ` AND member_key > ? ORDER BY member_key LIMIT ?`),
	}
}

// Store persists atom versions, the latest-version pointer per identity and
// set membership spans in three tables.
type Store struct {
	db      *sql.DB
	dialect Dialect
	stmt    statements
}

// New applies the schema to db and returns a backend over it.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	for _, ddl := range dialect.schema() {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return nil, errors.Wrapf(err, "apply %s schema", dialect.Name)
		}
	}
	return &Store{db: db, dialect: dialect, stmt: dialect.statements()}, nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (domain.Record, error) {
	var (
		rec       domain.Record
		kind      string
		createdAt int64
		payload   []byte
		delta     []byte
	)
	err := row.Scan(&rec.Header.ID, &rec.Header.Version, &rec.Header.Predecessor, &kind, &createdAt, &payload, &delta)
	if err != nil {
		return domain.Record{}, err
	}
	rec.Kind = domain.Kind(kind)
	rec.Header.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.Payload = json.RawMessage(payload)
	if len(delta) > 0 {
		var d domain.MemberDelta
		if err := json.Unmarshal(delta, &d); err != nil {
			return domain.Record{}, errors.Wrapf(err, "decode delta for %s v%d", rec.Header.ID, rec.Header.Version)
		}
		rec.Delta = &d
	}
	return rec, nil
}

func (s *Store) fetchOne(ctx context.Context, op, query string, args ...any) (domain.Record, bool, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Record{}, false, nil
	}
	if err != nil {
		return domain.Record{}, false, domain.WrapBackend(op, err)
	}
	return rec, true, nil
}

// FetchLatest implements domain.Backend.
func (s *Store) FetchLatest(ctx context.Context, id string) (domain.Record, bool, error) {
	return s.fetchOne(ctx, "fetch latest", s.stmt.fetchLatest, id)
}

// FetchVersion implements domain.Backend.
func (s *Store) FetchVersion(ctx context.Context, id string, version uint64) (domain.Record, bool, error) {
	return s.fetchOne(ctx, "fetch version", s.stmt.fetchVersion, id, int64(version))
}

// History implements domain.Backend.
func (s *Store) History(ctx context.Context, id string) ([]domain.Header, error) {
	rows, err := s.db.QueryContext(ctx, s.stmt.history, id)
	if err != nil {
		return nil, domain.WrapBackend("history", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Header
	for rows.Next() {
		var (
			h         domain.Header
			createdAt int64
		)
		if err := rows.Scan(&h.ID, &h.Version, &h.Predecessor, &createdAt); err != nil {
			return nil, domain.WrapBackend("history", err)
		}
		h.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapBackend("history", err)
	}
	return out, nil
}

// PersistBatch implements domain.Backend. The latest-version pointer is moved
// with a compare-and-set per record inside one transaction; any mismatch rolls
// the whole batch back.
func (s *Store) PersistBatch(ctx context.Context, records []domain.Record) (err error) {
	if err := domain.CheckBatch(records); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WrapBackend("begin", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, rec := range records {
		if err := s.persistRecord(ctx, tx, rec); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.WrapBackend("commit", err)
	}
	return nil
}

func (s *Store) persistRecord(ctx context.Context, tx *sql.Tx, rec domain.Record) error {
	h := rec.Header
	var (
		res sql.Result
		err error
	)
	if h.Predecessor == 0 {
		res, err = tx.ExecContext(ctx, s.stmt.claimNew, h.ID, int64(h.Version))
	} else {
		res, err = tx.ExecContext(ctx, s.stmt.advance, int64(h.Version), h.ID, int64(h.Predecessor))
	}
	if err != nil {
		return domain.WrapBackend("advance latest", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.WrapBackend("advance latest", err)
	}
	if affected == 0 {
		return s.conflict(ctx, tx, h)
	}

	var delta []byte
	if rec.Delta != nil {
		if delta, err = json.Marshal(rec.Delta); err != nil {
			return errors.Wrap(err, "encode delta")
		}
	}
	if _, err := tx.ExecContext(ctx, s.stmt.insertAtom,
		h.ID, int64(h.Version), int64(h.Predecessor), string(rec.Kind), h.CreatedAt.UnixNano(), []byte(rec.Payload), delta,
	); err != nil {
		return domain.WrapBackend("insert atom", err)
	}
	if rec.Delta == nil {
		return nil
	}
	version := int64(h.Version)
	for _, key := range rec.Delta.Remove {
		if _, err := tx.ExecContext(ctx, s.stmt.closeMember, version, h.ID, key); err != nil {
			return domain.WrapBackend("remove member", err)
		}
	}
	for _, m := range rec.Delta.Add {
		if _, err := tx.ExecContext(ctx, s.stmt.closeMember, version, h.ID, m.Key); err != nil {
			return domain.WrapBackend("replace member", err)
		}
		if _, err := tx.ExecContext(ctx, s.stmt.insertMember, h.ID, m.Key, version, m.ID, int64(m.Version)); err != nil {
			return domain.WrapBackend("insert member", err)
		}
	}
	return nil
}

func (s *Store) conflict(ctx context.Context, tx *sql.Tx, h domain.Header) error {
	var actual int64
	err := tx.QueryRowContext(ctx, s.stmt.latestOf, h.ID).Scan(&actual)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.WrapBackend("read latest", err)
	}
	return domain.ConflictError{ID: h.ID, Expected: h.Predecessor, Actual: uint64(actual)}
}

// LookupMember implements domain.Backend.
func (s *Store) LookupMember(ctx context.Context, setID string, version uint64, key string) (domain.Member, bool, error) {
	v := int64(version)
	var m domain.Member
	err := s.db.QueryRowContext(ctx, s.stmt.lookupMember, setID, v, v, key).Scan(&m.Key, &m.ID, &m.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Member{}, false, nil
	}
	if err != nil {
		return domain.Member{}, false, domain.WrapBackend("lookup member", err)
	}
	return m, true, nil
}

// PageMembers implements domain.Backend. One extra row is requested to learn
// whether another page follows.
func (s *Store) PageMembers(ctx context.Context, setID string, version uint64, cursor string, limit int) (domain.MemberPage, error) {
	limit = domain.PageLimit(limit)
	v := int64(version)
	rows, err := s.db.QueryContext(ctx, s.stmt.pageMembers, setID, v, v, cursor, limit+1)
	if err != nil {
		return domain.MemberPage{}, domain.WrapBackend("page members", err)
	}
	defer func() { _ = rows.Close() }()
	var page domain.MemberPage
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.Key, &m.ID, &m.Version); err != nil {
			return domain.MemberPage{}, domain.WrapBackend("page members", err)
		}
		page.Members = append(page.Members, m)
	}
	if err := rows.Err(); err != nil {
		return domain.MemberPage{}, domain.WrapBackend("page members", err)
	}
	if len(page.Members) > limit {
		page.Members = page.Members[:limit]
		page.Next = page.Members[limit-1].Key
	}
	return page, nil
}

// Close implements domain.Backend.
func (s *Store) Close() error {
	return s.db.Close()
}
