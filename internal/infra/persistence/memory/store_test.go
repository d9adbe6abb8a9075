package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"queryengine/internal/infra/persistence/backendtest"
	"queryengine/pkg/domain"
)

func TestStoreContract(t *testing.T) {
	backendtest.Run(t, func(*testing.T) domain.Backend { return NewStore() })
}

func TestStoreInjectedFailureLeavesStateUntouched(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	boom := errors.New("disk unplugged")
	store.InjectFailure(func(op string) error {
		if op == "persist batch" {
			return boom
		}
		return nil
	})
	err := store.PersistBatch(ctx, []domain.Record{backendtest.SpecRecord(t, "a", 1, "k")})
	if !errors.Is(err, domain.ErrBackendIO) || !errors.Is(err, boom) {
		t.Fatalf("expected backend i/o error wrapping cause, got %v", err)
	}
	if _, ok, _ := store.FetchLatest(ctx, "a"); ok {
		t.Fatalf("failed batch must not be visible")
	}
	store.InjectFailure(nil)
	if err := store.PersistBatch(ctx, []domain.Record{backendtest.SpecRecord(t, "a", 1, "k")}); err != nil {
		t.Fatalf("persist after recovery: %v", err)
	}
}

func TestStoreReturnsCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	rec := backendtest.SetRecord(t, "s", 1, domain.MemberDelta{}.WithAdd(domain.Member{Key: "k", ID: "x", Version: 1}))
	if err := store.PersistBatch(ctx, []domain.Record{rec}); err != nil {
		t.Fatalf("persist: %v", err)
	}
	rec.Delta.Add[0].Key = "mutated"
	got, _, err := store.FetchLatest(ctx, "s")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	got.Payload[0] = 'X'
	again, _, _ := store.FetchLatest(ctx, "s")
	if again.Delta.Add[0].Key != "k" || again.Payload[0] == 'X' {
		t.Fatalf("store leaked internal state: %+v", again)
	}
}

func TestStoreClosed(t *testing.T) {
	store := NewStore()
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, _, err := store.FetchLatest(context.Background(), "a"); !errors.Is(err, domain.ErrBackendIO) {
		t.Fatalf("expected closed store to report backend failure, got %v", err)
	}
}

func TestStoreHonoursCancelledContext(t *testing.T) {
	store := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := store.PersistBatch(ctx, []domain.Record{backendtest.SpecRecord(t, "a", 1, "k")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestStorePagesSortedKeysAcrossVersions(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	var first domain.MemberDelta
	for i := 9; i >= 0; i-- {
		first = first.WithAdd(domain.Member{Key: fmt.Sprintf("k%02d", i), ID: fmt.Sprintf("id%02d", i), Version: 1})
	}
	second := domain.MemberDelta{}.WithRemove("k03").WithAdd(domain.Member{Key: "k05b", ID: "late", Version: 1})
	if err := store.PersistBatch(ctx, []domain.Record{backendtest.SetRecord(t, "s", 1, first)}); err != nil {
		t.Fatalf("persist v1: %v", err)
	}
	if err := store.PersistBatch(ctx, []domain.Record{backendtest.SetRecord(t, "s", 2, second)}); err != nil {
		t.Fatalf("persist v2: %v", err)
	}

	collect := func(version uint64, cursor string) []string {
		var keys []string
		for {
			page, err := store.PageMembers(ctx, "s", version, cursor, 3)
			if err != nil {
				t.Fatalf("page: %v", err)
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
	want := []string{"k00", "k01", "k02", "k04", "k05", "k05b", "k06", "k07", "k08", "k09"}
	if got := collect(2, ""); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("v2 keys: got %v want %v", got, want)
	}
	if got := collect(1, ""); len(got) != 10 || got[3] != "k03" {
		t.Fatalf("v1 keys must keep k03 and omit k05b, got %v", got)
	}
	if got := collect(2, "k04a"); fmt.Sprint(got) != fmt.Sprint(want[4:]) {
		t.Fatalf("absent cursor: got %v", got)
	}
	page, err := store.PageMembers(ctx, "missing", 1, "", 3)
	if err != nil || len(page.Members) != 0 || page.Next != "" {
		t.Fatalf("expected empty page for unknown set, got %+v err=%v", page, err)
	}
}
