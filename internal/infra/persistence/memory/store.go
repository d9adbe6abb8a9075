// Package memory provides an in-memory implementation of the versioned atom
// backend used for tests and ephemeral environments.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/cockroachdb/errors"

	"queryengine/pkg/domain"
)

var errClosed = errors.New("memory store closed")

// Compile-time contract assertion ensuring memory.Store adheres to the domain backend interface.
var _ domain.Backend = (*Store)(nil)

type (
	// Record aliases domain.Record for in-memory persistence operations.
	Record = domain.Record
	// Header aliases domain.Header.
	Header = domain.Header
	// Member aliases domain.Member.
	Member = domain.Member
	// MemberPage aliases domain.MemberPage.
	MemberPage = domain.MemberPage
)

// span records the versions of a set during which one member was visible:
// added <= v < removed, with removed zero while the member is still present.
type span struct {
	member  Member
	added   uint64
	removed uint64
}

func (s span) visibleAt(version uint64) bool {
	return s.added <= version && (s.removed == 0 || s.removed > version)
}

// memberIndex holds every span ever recorded for one set. keys is kept sorted
// and only grows, since spans are retained for historical versions.
type memberIndex struct {
	spans map[string][]span
	keys  []string
}

func (ix *memberIndex) append(key string, sp span) {
	if _, ok := ix.spans[key]; !ok {
		i, _ := slices.BinarySearch(ix.keys, key)
		ix.keys = slices.Insert(ix.keys, i, key)
	}
	ix.spans[key] = append(ix.spans[key], sp)
}

type memoryState struct {
	versions map[string][]Record
	members  map[string]*memberIndex
}

func newMemoryState() memoryState {
	return memoryState{
		versions: make(map[string][]Record),
		members:  make(map[string]*memberIndex),
	}
}

func (s memoryState) latest(id string) uint64 {
	history := s.versions[id]
	if len(history) == 0 {
		return 0
	}
	return history[len(history)-1].Header.Version
}

// Store keeps every committed version in process memory. All batch
// application happens under one lock, which makes each batch serializable.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	closed bool
	failFn func(op string) error
}

// NewStore constructs an empty in-memory backend.
func NewStore() *Store {
	return &Store{state: newMemoryState()}
}

// InjectFailure installs a hook consulted before every operation; a non-nil
// return is reported as a backend I/O failure. Intended for tests exercising
// failure paths.
func (s *Store) InjectFailure(fn func(op string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFn = fn
}

func (s *Store) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return domain.WrapBackend(op, err)
	}
	if s.closed {
		return domain.BackendIOError{Op: op, Err: errClosed}
	}
	if s.failFn != nil {
		if err := s.failFn(op); err != nil {
			return domain.WrapBackend(op, err)
		}
	}
	return nil
}

// FetchLatest implements domain.Backend.
func (s *Store) FetchLatest(ctx context.Context, id string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "fetch latest"); err != nil {
		return Record{}, false, err
	}
	history := s.state.versions[id]
	if len(history) == 0 {
		return Record{}, false, nil
	}
	return history[len(history)-1].Clone(), true, nil
}

// FetchVersion implements domain.Backend.
func (s *Store) FetchVersion(ctx context.Context, id string, version uint64) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "fetch version"); err != nil {
		return Record{}, false, err
	}
	history := s.state.versions[id]
	if version == 0 || version > uint64(len(history)) {
		return Record{}, false, nil
	}
	return history[version-1].Clone(), true, nil
}

// History implements domain.Backend.
func (s *Store) History(ctx context.Context, id string) ([]Header, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "history"); err != nil {
		return nil, err
	}
	history := s.state.versions[id]
	out := make([]Header, 0, len(history))
	for _, rec := range history {
		out = append(out, rec.Header)
	}
	return out, nil
}

// PersistBatch implements domain.Backend. Every predecessor is checked before
// anything is written so a conflict leaves the state untouched.
func (s *Store) PersistBatch(ctx context.Context, records []Record) error {
	if err := domain.CheckBatch(records); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "persist batch"); err != nil {
		return err
	}
	for _, rec := range records {
		if latest := s.state.latest(rec.Header.ID); latest != rec.Header.Predecessor {
			return domain.ConflictError{ID: rec.Header.ID, Expected: rec.Header.Predecessor, Actual: latest}
		}
	}
	for _, rec := range records {
		s.state.versions[rec.Header.ID] = append(s.state.versions[rec.Header.ID], rec.Clone())
		if rec.Delta != nil {
			s.applyDelta(rec.Header.ID, rec.Header.Version, *rec.Delta)
		}
	}
	return nil
}

func (s *Store) applyDelta(setID string, version uint64, delta domain.MemberDelta) {
	index := s.state.members[setID]
	if index == nil {
		index = &memberIndex{spans: make(map[string][]span)}
		s.state.members[setID] = index
	}
	closeOpen := func(key string) {
		spans := index.spans[key]
		for i := range spans {
			if spans[i].removed == 0 {
				spans[i].removed = version
			}
		}
	}
	for _, key := range delta.Remove {
		closeOpen(key)
	}
	for _, m := range delta.Add {
		closeOpen(m.Key)
		index.append(m.Key, span{member: m, added: version})
	}
}

// LookupMember implements domain.Backend.
func (s *Store) LookupMember(ctx context.Context, setID string, version uint64, key string) (Member, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "lookup member"); err != nil {
		return Member{}, false, err
	}
	index := s.state.members[setID]
	if index == nil {
		return Member{}, false, nil
	}
	for _, sp := range index.spans[key] {
		if sp.visibleAt(version) {
			return sp.member, true, nil
		}
	}
	return Member{}, false, nil
}

// PageMembers implements domain.Backend. The page starts at the first key
// after cursor in the set's sorted key index.
func (s *Store) PageMembers(ctx context.Context, setID string, version uint64, cursor string, limit int) (MemberPage, error) {
	limit = domain.PageLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "page members"); err != nil {
		return MemberPage{}, err
	}
	var page MemberPage
	index := s.state.members[setID]
	if index == nil {
		return page, nil
	}
	start, found := slices.BinarySearch(index.keys, cursor)
	if found {
		start++
	}
	for _, key := range index.keys[start:] {
		for _, sp := range index.spans[key] {
			if !sp.visibleAt(version) {
				continue
			}
			if len(page.Members) == limit {
				page.Next = page.Members[limit-1].Key
				return page, nil
			}
			page.Members = append(page.Members, sp.member)
			break
		}
	}
	return page, nil
}

// Close implements domain.Backend.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
