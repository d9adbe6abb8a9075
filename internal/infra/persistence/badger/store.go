// Package badger provides an embedded BadgerDB-backed versioned atom store.
//
// Key layout:
//
//	a\x00<id>\x00<be64 version>                 atom record (JSON)
//	l\x00<id>                                   latest version (be64)
//	m\x00<set id>\x00<member key>\x00<be64 v>   membership span opened at v (JSON)
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"queryengine/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.Backend = (*Store)(nil)

// maxTxnRetries bounds how often a batch is replayed after badger reports a
// transaction conflict; the replay re-reads the latest versions, so a lost
// race surfaces as a domain.ConflictError.
const maxTxnRetries = 8

// Config holds configuration for the embedded database.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory is true.
	Path string
	// InMemory keeps all data in RAM; useful for tests.
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// Logger receives badger's internal log lines. Nil disables them.
	Logger *zap.Logger
	// GCInterval is how often value log garbage collection runs. Zero disables it.
	GCInterval time.Duration
	// GCDiscardRatio is the minimum discardable share before a value log is rewritten.
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults for the directory at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts zap to badger's Logger interface.
type badgerLogger struct {
	log *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.log.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.log.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.log.Infof(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.log.Debugf(format, args...) }

// Store persists atoms in BadgerDB. Batches run in one read-write
// transaction, which badger commits atomically.
type Store struct {
	db     *badger.DB
	logger *zap.Logger
	stopGC chan struct{}
	gcDone chan struct{}
	once   sync.Once
}

// Open creates or opens the database described by cfg.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger: path is required for persistent database")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithMemTableSize(16 << 20)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, errors.Wrapf(err, "create database directory %s", cfg.Path)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(badgerLogger{log: logger.Sugar()})
	} else {
		logger = zap.NewNop()
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger database")
	}
	s := &Store{db: db, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

func (s *Store) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means there was nothing worth collecting.
			if err := s.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("badger value log gc failed", zap.Error(err))
			}
		}
	}
}

func atomPrefix(id string) []byte { return []byte("a\x00" + id + "\x00") }

func atomKey(id string, version uint64) []byte {
	return binary.BigEndian.AppendUint64(atomPrefix(id), version)
}

func latestKey(id string) []byte { return []byte("l\x00" + id) }

func setPrefix(setID string) []byte { return []byte("m\x00" + setID + "\x00") }

func memberPrefix(setID, key string) []byte {
	return append(setPrefix(setID), key+"\x00"...)
}

func memberKey(setID, key string, added uint64) []byte {
	return binary.BigEndian.AppendUint64(memberPrefix(setID, key), added)
}

// memberKeyOf extracts the member key from a span key under setPrefix.
func memberKeyOf(prefix, raw []byte) string {
	return string(raw[len(prefix) : len(raw)-9])
}

type spanValue struct {
	ID      string `json:"id"`
	Version uint64 `json:"version"`
	Added   uint64 `json:"added"`
	Removed uint64 `json:"removed,omitempty"`
}

func (v spanValue) visibleAt(version uint64) bool {
	return v.Added <= version && (v.Removed == 0 || v.Removed > version)
}

func readLatest(txn *badger.Txn, id string) (uint64, error) {
	item, err := txn.Get(latestKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var version uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return errors.Newf("corrupt latest pointer for %s", id)
		}
		version = binary.BigEndian.Uint64(val)
		return nil
	})
	return version, err
}

func readRecord(txn *badger.Txn, id string, version uint64) (domain.Record, bool, error) {
	item, err := txn.Get(atomKey(id, version))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Record{}, false, nil
	}
	if err != nil {
		return domain.Record{}, false, err
	}
	var rec domain.Record
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
		return domain.Record{}, false, err
	}
	return rec, true, nil
}

func (s *Store) view(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return domain.WrapBackend(op, err)
	}
	return domain.WrapBackend(op, s.db.View(fn))
}

// FetchLatest implements domain.Backend.
func (s *Store) FetchLatest(ctx context.Context, id string) (rec domain.Record, ok bool, err error) {
	err = s.view(ctx, "fetch latest", func(txn *badger.Txn) error {
		version, err := readLatest(txn, id)
		if err != nil || version == 0 {
			return err
		}
		rec, ok, err = readRecord(txn, id, version)
		return err
	})
	return rec, ok, err
}

// FetchVersion implements domain.Backend.
func (s *Store) FetchVersion(ctx context.Context, id string, version uint64) (rec domain.Record, ok bool, err error) {
	err = s.view(ctx, "fetch version", func(txn *badger.Txn) error {
		rec, ok, err = readRecord(txn, id, version)
		return err
	})
	return rec, ok, err
}

// History implements domain.Backend.
func (s *Store) History(ctx context.Context, id string) ([]domain.Header, error) {
	var out []domain.Header
	err := s.view(ctx, "history", func(txn *badger.Txn) error {
		prefix := atomPrefix(id)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec domain.Record
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				return err
			}
			out = append(out, rec.Header)
		}
		return nil
	})
	return out, err
}

// PersistBatch implements domain.Backend.
func (s *Store) PersistBatch(ctx context.Context, records []domain.Record) error {
	if err := domain.CheckBatch(records); err != nil {
		return err
	}
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		if err = ctx.Err(); err != nil {
			return domain.WrapBackend("persist batch", err)
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			for _, rec := range records {
				if err := persistRecord(txn, rec); err != nil {
					return err
				}
			}
			return nil
		})
		if !errors.Is(err, badger.ErrConflict) {
			return domain.WrapBackend("persist batch", err)
		}
		s.logger.Debug("badger transaction conflict, replaying batch", zap.Int("attempt", attempt+1))
	}
	return domain.WrapBackend("persist batch", err)
}

func persistRecord(txn *badger.Txn, rec domain.Record) error {
	h := rec.Header
	latest, err := readLatest(txn, h.ID)
	if err != nil {
		return err
	}
	if latest != h.Predecessor {
		return domain.ConflictError{ID: h.ID, Expected: h.Predecessor, Actual: latest}
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encode record")
	}
	if err := txn.Set(atomKey(h.ID, h.Version), raw); err != nil {
		return err
	}
	if err := txn.Set(latestKey(h.ID), binary.BigEndian.AppendUint64(nil, h.Version)); err != nil {
		return err
	}
	if rec.Delta == nil {
		return nil
	}
	for _, key := range rec.Delta.Remove {
		if err := closeSpan(txn, h.ID, key, h.Version); err != nil {
			return err
		}
	}
	for _, m := range rec.Delta.Add {
		if err := closeSpan(txn, h.ID, m.Key, h.Version); err != nil {
			return err
		}
		val, err := json.Marshal(spanValue{ID: m.ID, Version: m.Version, Added: h.Version})
		if err != nil {
			return errors.Wrap(err, "encode member")
		}
		if err := txn.Set(memberKey(h.ID, m.Key, h.Version), val); err != nil {
			return err
		}
	}
	return nil
}

// closeSpan marks the open span of key, if any, as removed at version.
func closeSpan(txn *badger.Txn, setID, key string, version uint64) error {
	prefix := memberPrefix(setID, key)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	var (
		openKey []byte
		open    spanValue
	)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var v spanValue
		if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &v) }); err != nil {
			it.Close()
			return err
		}
		if v.Removed == 0 {
			openKey = it.Item().KeyCopy(nil)
			open = v
		}
	}
	it.Close()
	if openKey == nil {
		return nil
	}
	open.Removed = version
	val, err := json.Marshal(open)
	if err != nil {
		return errors.Wrap(err, "encode member")
	}
	return txn.Set(openKey, val)
}

// LookupMember implements domain.Backend.
func (s *Store) LookupMember(ctx context.Context, setID string, version uint64, key string) (m domain.Member, ok bool, err error) {
	err = s.view(ctx, "lookup member", func(txn *badger.Txn) error {
		prefix := memberPrefix(setID, key)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var v spanValue
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &v) }); err != nil {
				return err
			}
			if v.visibleAt(version) {
				m, ok = domain.Member{Key: key, ID: v.ID, Version: v.Version}, true
				return nil
			}
		}
		return nil
	})
	return m, ok, err
}

// PageMembers implements domain.Backend. Seeking to cursor+"\x01" skips every
// span of the cursor key, because span keys continue with a NUL separator.
func (s *Store) PageMembers(ctx context.Context, setID string, version uint64, cursor string, limit int) (domain.MemberPage, error) {
	limit = domain.PageLimit(limit)
	var page domain.MemberPage
	err := s.view(ctx, "page members", func(txn *badger.Txn) error {
		prefix := setPrefix(setID)
		seek := prefix
		if cursor != "" {
			seek = append(append([]byte(nil), prefix...), cursor+"\x01"...)
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			key := memberKeyOf(prefix, it.Item().Key())
			if n := len(page.Members); n > 0 && page.Members[n-1].Key == key {
				continue
			}
			var v spanValue
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &v) }); err != nil {
				return err
			}
			if !v.visibleAt(version) {
				continue
			}
			if len(page.Members) == limit {
				page.Next = page.Members[limit-1].Key
				return nil
			}
			page.Members = append(page.Members, domain.Member{Key: key, ID: v.ID, Version: v.Version})
		}
		return nil
	})
	if err != nil {
		return domain.MemberPage{}, err
	}
	return page, nil
}

// Close stops garbage collection and closes the database. Safe to call more than once.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		if s.stopGC != nil {
			close(s.stopGC)
			<-s.gcDone
		}
		err = s.db.Close()
	})
	return err
}
