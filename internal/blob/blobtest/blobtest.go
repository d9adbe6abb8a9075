// Package blobtest holds the behaviour every blob store driver must share.
package blobtest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"queryengine/internal/blob/core"
)

// Run exercises store against the write-once contract.
func Run(t *testing.T, store core.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("put then read", func(t *testing.T) {
		info, err := store.Put(ctx, "exports/a.jsonl", bytes.NewReader([]byte("line\n")), core.PutOptions{
			ContentType: "application/x-ndjson",
			Metadata:    map[string]string{"set": "a"},
		})
		if err != nil {
			t.Fatalf("put: %v", err)
		}
		if info.Key != "exports/a.jsonl" || info.Size != 5 {
			t.Fatalf("unexpected info %+v", info)
		}
		got, rc, err := store.Get(ctx, "exports/a.jsonl")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		body, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil || string(body) != "line\n" {
			t.Fatalf("unexpected body %q (%v)", body, err)
		}
		if got.Size != 5 {
			t.Fatalf("unexpected size %d", got.Size)
		}
		head, err := store.Head(ctx, "exports/a.jsonl")
		if err != nil || head.Key != "exports/a.jsonl" {
			t.Fatalf("head: %+v %v", head, err)
		}
	})

	t.Run("write once", func(t *testing.T) {
		if _, err := store.Put(ctx, "once", bytes.NewReader([]byte("1")), core.PutOptions{}); err != nil {
			t.Fatalf("put: %v", err)
		}
		_, err := store.Put(ctx, "once", bytes.NewReader([]byte("2")), core.PutOptions{})
		if !errors.Is(err, core.ErrExists) {
			t.Fatalf("expected ErrExists, got %v", err)
		}
	})

	t.Run("missing keys", func(t *testing.T) {
		if _, err := store.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("head: expected ErrNotFound, got %v", err)
		}
		if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("get: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("invalid keys", func(t *testing.T) {
		for _, key := range []string{"", "/abs", "a/../../b"} {
			if _, err := store.Put(ctx, key, bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
				t.Fatalf("put %q: expected ErrInvalidKey, got %v", key, err)
			}
		}
	})

	t.Run("list and delete", func(t *testing.T) {
		for _, key := range []string{"list/b", "list/a", "other/c"} {
			if _, err := store.Put(ctx, key, bytes.NewReader([]byte(key)), core.PutOptions{}); err != nil {
				t.Fatalf("put %s: %v", key, err)
			}
		}
		items, err := store.List(ctx, "list/")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(items) != 2 || items[0].Key != "list/a" || items[1].Key != "list/b" {
			t.Fatalf("unexpected list %+v", items)
		}
		ok, err := store.Delete(ctx, "list/a")
		if err != nil || !ok {
			t.Fatalf("delete: %v %v", ok, err)
		}
		items, err = store.List(ctx, "list/")
		if err != nil || len(items) != 1 {
			t.Fatalf("list after delete: %+v %v", items, err)
		}
	})
}
