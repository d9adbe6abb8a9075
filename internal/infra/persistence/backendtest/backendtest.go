// Package backendtest holds the behavioural contract every domain.Backend
// implementation must satisfy. Adapter packages call Run from their own tests.
package backendtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"queryengine/pkg/domain"
)

// Factory opens a fresh, empty backend for one subtest.
type Factory func(t *testing.T) domain.Backend

// Run executes the full contract suite against backends produced by open.
func Run(t *testing.T, open Factory) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(t *testing.T, b domain.Backend)
	}{
		{"missing identity", testMissing},
		{"version chain", testVersionChain},
		{"stale predecessor", testStalePredecessor},
		{"duplicate first version", testDuplicateFirstVersion},
		{"batch atomicity", testBatchAtomicity},
		{"membership history", testMembershipHistory},
		{"paging", testPaging},
		{"concurrent writers", testConcurrentWriters},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := open(t)
			t.Cleanup(func() { _ = b.Close() })
			tc.fn(t, b)
		})
	}
}

var epoch = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func header(id string, version uint64) domain.Header {
	return domain.Header{ID: id, Version: version, Predecessor: version - 1, CreatedAt: epoch.Add(time.Duration(version) * time.Second)}
}

// SpecRecord encodes a tag spec version for use in backend tests.
func SpecRecord(t *testing.T, id string, version uint64, key string) domain.Record {
	t.Helper()
	rec, err := domain.Encode(domain.TagSpec{Header: header(id, version), Key: key, Type: domain.ValueFloat})
	if err != nil {
		t.Fatalf("encode spec: %v", err)
	}
	return rec
}

// SetRecord encodes a tag spec set version carrying delta.
func SetRecord(t *testing.T, id string, version uint64, delta domain.MemberDelta) domain.Record {
	t.Helper()
	rec, err := domain.Encode(domain.TagSpecSet{Header: header(id, version), Name: "set-" + id, Changes: delta})
	if err != nil {
		t.Fatalf("encode set: %v", err)
	}
	return rec
}

func persist(t *testing.T, b domain.Backend, records ...domain.Record) {
	t.Helper()
	if err := b.PersistBatch(context.Background(), records); err != nil {
		t.Fatalf("persist batch: %v", err)
	}
}

func requireConflict(t *testing.T, err error, id string, expected, actual uint64) {
	t.Helper()
	var conflict domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
	if conflict.ID != id || conflict.Expected != expected || conflict.Actual != actual {
		t.Fatalf("unexpected conflict details %+v", conflict)
	}
	if !errors.Is(err, domain.ErrStaleBase) {
		t.Fatalf("conflict must match ErrStaleBase")
	}
}

func testMissing(t *testing.T, b domain.Backend) {
	ctx := context.Background()
	if _, ok, err := b.FetchLatest(ctx, "nope"); err != nil || ok {
		t.Fatalf("FetchLatest(missing) = %v, %v", ok, err)
	}
	if _, ok, err := b.FetchVersion(ctx, "nope", 1); err != nil || ok {
		t.Fatalf("FetchVersion(missing) = %v, %v", ok, err)
	}
	history, err := b.History(ctx, "nope")
	if err != nil || len(history) != 0 {
		t.Fatalf("History(missing) = %v, %v", history, err)
	}
	page, err := b.PageMembers(ctx, "nope", 1, "", 10)
	if err != nil || len(page.Members) != 0 || page.Next != "" {
		t.Fatalf("PageMembers(missing) = %+v, %v", page, err)
	}
}

func testVersionChain(t *testing.T, b domain.Backend) {
	ctx := context.Background()
	for v := uint64(1); v <= 3; v++ {
		persist(t, b, SpecRecord(t, "spec", v, fmt.Sprintf("k%d", v)))
	}
	latest, ok, err := b.FetchLatest(ctx, "spec")
	if err != nil || !ok {
		t.Fatalf("FetchLatest = %v, %v", ok, err)
	}
	if latest.Header.Version != 3 || latest.Header.Predecessor != 2 || latest.Kind != domain.KindTagSpec {
		t.Fatalf("unexpected latest header %+v", latest.Header)
	}
	if !latest.Header.CreatedAt.Equal(epoch.Add(3 * time.Second)) {
		t.Fatalf("creation time not preserved: %v", latest.Header.CreatedAt)
	}
	first, ok, err := b.FetchVersion(ctx, "spec", 1)
	if err != nil || !ok {
		t.Fatalf("FetchVersion = %v, %v", ok, err)
	}
	atom, err := domain.Decode(first)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if spec := atom.(domain.TagSpec); spec.Key != "k1" || spec.Version != 1 {
		t.Fatalf("historical version mismatch: %+v", spec)
	}
	if _, ok, _ := b.FetchVersion(ctx, "spec", 4); ok {
		t.Fatalf("version 4 must not exist")
	}
	history, err := b.History(ctx, "spec")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(history))
	}
	for i, h := range history {
		if h.Version != uint64(i+1) || h.ID != "spec" {
			t.Fatalf("history out of order at %d: %+v", i, h)
		}
	}
}

func testStalePredecessor(t *testing.T, b domain.Backend) {
	ctx := context.Background()
	persist(t, b, SpecRecord(t, "spec", 1, "a"))
	persist(t, b, SpecRecord(t, "spec", 2, "b"))
	err := b.PersistBatch(ctx, []domain.Record{SpecRecord(t, "spec", 2, "c")})
	requireConflict(t, err, "spec", 1, 2)
	latest, _, err := b.FetchLatest(ctx, "spec")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	atom, _ := domain.Decode(latest)
	if atom.(domain.TagSpec).Key != "b" {
		t.Fatalf("conflicting write must not be visible")
	}
}

func testDuplicateFirstVersion(t *testing.T, b domain.Backend) {
	persist(t, b, SpecRecord(t, "spec", 1, "a"))
	err := b.PersistBatch(context.Background(), []domain.Record{SpecRecord(t, "spec", 1, "b")})
	requireConflict(t, err, "spec", 0, 1)
}

func testBatchAtomicity(t *testing.T, b domain.Backend) {
	ctx := context.Background()
	persist(t, b, SpecRecord(t, "held", 1, "a"))
	persist(t, b, SpecRecord(t, "held", 2, "b"))

	err := b.PersistBatch(ctx, []domain.Record{
		SpecRecord(t, "fresh", 1, "x"),
		SetRecord(t, "set", 1, domain.MemberDelta{}.WithAdd(domain.Member{Key: "x", ID: "fresh", Version: 1})),
		SpecRecord(t, "held", 2, "stale"),
	})
	requireConflict(t, err, "held", 1, 2)
	for _, id := range []string{"fresh", "set"} {
		if _, ok, err := b.FetchLatest(ctx, id); err != nil || ok {
			t.Fatalf("record %s from a failed batch is visible (ok=%v err=%v)", id, ok, err)
		}
	}
	if _, ok, _ := b.LookupMember(ctx, "set", 1, "x"); ok {
		t.Fatalf("membership from a failed batch is visible")
	}
}

func testMembershipHistory(t *testing.T, b domain.Backend) {
	ctx := context.Background()
	m := func(key string, v uint64) domain.Member { return domain.Member{Key: key, ID: "spec-" + key, Version: v} }
	persist(t, b, SetRecord(t, "set", 1, domain.MemberDelta{}.WithAdd(m("a", 1)).WithAdd(m("b", 1)).WithAdd(m("c", 1))))
	persist(t, b, SetRecord(t, "set", 2, domain.MemberDelta{}.WithRemove("b").WithAdd(m("a", 2)).WithAdd(m("d", 1))))
	persist(t, b, SetRecord(t, "set", 3, domain.MemberDelta{}.WithAdd(m("b", 5))))

	expect := map[uint64]map[string]uint64{
		1: {"a": 1, "b": 1, "c": 1},
		2: {"a": 2, "c": 1, "d": 1},
		3: {"a": 2, "b": 5, "c": 1, "d": 1},
	}
	for version, want := range expect {
		for _, key := range []string{"a", "b", "c", "d"} {
			got, ok, err := b.LookupMember(ctx, "set", version, key)
			if err != nil {
				t.Fatalf("lookup: %v", err)
			}
			wantVersion, present := want[key]
			if ok != present {
				t.Fatalf("v%d key %s: present=%v, want %v", version, key, ok, present)
			}
			if present && (got.Version != wantVersion || got.ID != "spec-"+key || got.Key != key) {
				t.Fatalf("v%d key %s: got %+v", version, key, got)
			}
		}
		page, err := b.PageMembers(ctx, "set", version, "", 0)
		if err != nil {
			t.Fatalf("page: %v", err)
		}
		if len(page.Members) != len(want) || page.Next != "" {
			t.Fatalf("v%d: expected %d members in one page, got %+v", version, len(want), page)
		}
		for i := 1; i < len(page.Members); i++ {
			if page.Members[i-1].Key >= page.Members[i].Key {
				t.Fatalf("members not ordered by key: %+v", page.Members)
			}
		}
	}
}

func testPaging(t *testing.T, b domain.Backend) {
	ctx := context.Background()
	const total = 25
	delta := domain.MemberDelta{}
	for i := 0; i < total; i++ {
		delta = delta.WithAdd(domain.Member{Key: fmt.Sprintf("key-%03d", i), ID: fmt.Sprintf("id-%d", i), Version: 1})
	}
	persist(t, b, SetRecord(t, "big", 1, delta))
	persist(t, b, SetRecord(t, "big", 2, domain.MemberDelta{}.WithRemove("key-010")))

	collect := func(version uint64, limit int) []string {
		var keys []string
		cursor := ""
		for pages := 0; ; pages++ {
			if pages > total {
				t.Fatalf("paging does not terminate")
			}
			page, err := b.PageMembers(ctx, "big", version, cursor, limit)
			if err != nil {
				t.Fatalf("page: %v", err)
			}
			if len(page.Members) > limit {
				t.Fatalf("page exceeds limit: %d", len(page.Members))
			}
			for _, m := range page.Members {
				keys = append(keys, m.Key)
			}
			if page.Next == "" {
				return keys
			}
			cursor = page.Next
		}
	}
	v1 := collect(1, 7)
	if len(v1) != total {
		t.Fatalf("expected %d keys, got %d", total, len(v1))
	}
	for i, key := range v1 {
		if key != fmt.Sprintf("key-%03d", i) {
			t.Fatalf("unexpected key at %d: %s", i, key)
		}
	}
	v2 := collect(2, 5)
	if len(v2) != total-1 {
		t.Fatalf("expected %d keys after removal, got %d", total-1, len(v2))
	}
	for _, key := range v2 {
		if key == "key-010" {
			t.Fatalf("removed key still listed")
		}
	}
	exact := collect(1, total)
	if len(exact) != total {
		t.Fatalf("single full page lost members: %d", len(exact))
	}
}

func testConcurrentWriters(t *testing.T, b domain.Backend) {
	ctx := context.Background()
	persist(t, b, SpecRecord(t, "hot", 1, "seed"))
	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
		others    []error
	)
	records := make([]domain.Record, writers)
	for i := range records {
		records[i] = SpecRecord(t, "hot", 2, fmt.Sprintf("w%d", i))
	}
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := b.PersistBatch(ctx, []domain.Record{records[i]})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case domain.IsConflict(err):
				conflicts++
			default:
				others = append(others, err)
			}
		}(i)
	}
	wg.Wait()
	if len(others) > 0 {
		t.Fatalf("unexpected errors: %v", others)
	}
	if winners != 1 || conflicts != writers-1 {
		t.Fatalf("expected exactly one winner, got %d winners and %d conflicts", winners, conflicts)
	}
	history, err := b.History(ctx, "hot")
	if err != nil || len(history) != 2 {
		t.Fatalf("expected two versions, got %v (%v)", history, err)
	}
}
