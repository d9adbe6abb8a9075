package badger

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"queryengine/internal/infra/persistence/backendtest"
	"queryengine/pkg/domain"
)

func TestBadgerStoreContract(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) domain.Backend {
		store, err := Open(InMemoryConfig())
		require.NoError(t, err)
		return store
	})
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
}

func TestOpenWithPathPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig(t.TempDir())
	cfg.SyncWrites = false
	cfg.Logger = zap.NewNop()

	store, err := Open(cfg)
	require.NoError(t, err)
	rec := backendtest.SetRecord(t, "set", 1, domain.MemberDelta{}.WithAdd(domain.Member{Key: "coverage", ID: "spec", Version: 2}))
	require.NoError(t, store.PersistBatch(ctx, []domain.Record{rec}))
	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "close must be idempotent")

	reopened, err := Open(cfg)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	got, ok, err := reopened.FetchLatest(ctx, "set")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), got.Header.Version)
	require.NotNil(t, got.Delta)

	m, ok, err := reopened.LookupMember(ctx, "set", 1, "coverage")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.Member{Key: "coverage", ID: "spec", Version: 2}, m)
}

func TestKeyLayout(t *testing.T) {
	prefix := setPrefix("s")
	raw := memberKey("s", "chr1:100", 7)
	assert.Equal(t, "chr1:100", memberKeyOf(prefix, raw))
	assert.Less(t, string(memberKey("s", "a", 99)), string(append(append([]byte(nil), prefix...), "a\x01"...)),
		"every span of a key must sort before the skip-past-key seek position")
	assert.Less(t, string(atomKey("x", 2)), string(atomKey("x", 10)), "versions must sort numerically")
}

func TestPageMembersSkipsReplacedSpans(t *testing.T) {
	ctx := context.Background()
	store, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	m := func(key string, v uint64) domain.Member { return domain.Member{Key: key, ID: "id-" + key, Version: v} }
	require.NoError(t, store.PersistBatch(ctx, []domain.Record{
		backendtest.SetRecord(t, "s", 1, domain.MemberDelta{}.WithAdd(m("a", 1)).WithAdd(m("b", 1))),
	}))
	require.NoError(t, store.PersistBatch(ctx, []domain.Record{
		backendtest.SetRecord(t, "s", 2, domain.MemberDelta{}.WithAdd(m("a", 2))),
	}))
	require.NoError(t, store.PersistBatch(ctx, []domain.Record{
		backendtest.SetRecord(t, "s", 3, domain.MemberDelta{}.WithAdd(m("a", 3))),
	}))

	page, err := store.PageMembers(ctx, "s", 3, "", 1)
	require.NoError(t, err)
	require.Len(t, page.Members, 1)
	assert.Equal(t, uint64(3), page.Members[0].Version)
	assert.Equal(t, "a", page.Next)

	page, err = store.PageMembers(ctx, "s", 3, page.Next, 1)
	require.NoError(t, err)
	require.Len(t, page.Members, 1)
	assert.Equal(t, "b", page.Members[0].Key)
	assert.Empty(t, page.Next)

	err = store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = memberPrefix("s", "a")
		it := txn.NewIterator(opts)
		defer it.Close()
		spans := 0
		for it.Rewind(); it.Valid(); it.Next() {
			spans++
		}
		assert.Equal(t, 3, spans, "each replacement keeps the historical span")
		return nil
	})
	require.NoError(t, err)
}
