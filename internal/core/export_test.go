package core

import (
	"bufio"
	"context"
	"encoding/json"
	"testing"

	"queryengine/internal/blob"
	"queryengine/pkg/domain"
)

func readExport(t *testing.T, store blob.Store, key string) (domain.Record, []ExportedMember) {
	t.Helper()
	_, rc, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get %s: %v", key, err)
	}
	defer func() { _ = rc.Close() }()
	sc := bufio.NewScanner(rc)
	if !sc.Scan() {
		t.Fatalf("empty archive")
	}
	var rec domain.Record
	if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
		t.Fatalf("decode set line: %v", err)
	}
	var members []ExportedMember
	for sc.Scan() {
		var m ExportedMember
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("decode member line: %v", err)
		}
		members = append(members, m)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return rec, members
}

func TestSetExporterWritesJSONLines(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, WithPageSize(2))
	set, specs := seedSpecs(t, svc, 5)
	store := blob.NewMemory()
	exporter := NewSetExporter(svc, store)

	info, err := exporter.Export(ctx, set.ID, 0, ExportOptions{Resolve: true})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	wantKey := ExportKey("", set.ID, 1)
	if info.Key != wantKey || info.ContentType != ExportContentType {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.Metadata["set_id"] != set.ID || info.Metadata["version"] != "1" || info.Metadata["kind"] != string(domain.KindTagSpecSet) {
		t.Fatalf("unexpected metadata %v", info.Metadata)
	}

	rec, members := readExport(t, store, wantKey)
	if rec.Kind != domain.KindTagSpecSet || rec.Header.ID != set.ID {
		t.Fatalf("unexpected set record %+v", rec.Header)
	}
	if len(members) != len(specs) {
		t.Fatalf("expected %d members, got %d", len(specs), len(members))
	}
	for i, m := range members {
		if m.Key != specs[i].Key || m.ID != specs[i].ID {
			t.Fatalf("member %d: got %+v", i, m.Member)
		}
		if m.Atom == nil || m.Atom.Kind != domain.KindTagSpec {
			t.Fatalf("member %d: expected resolved tag spec", i)
		}
	}
}

func TestSetExporterIsIdempotentPerVersion(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	set, _ := seedSpecs(t, svc, 2)
	store := blob.NewMemory()
	exporter := NewSetExporter(svc, store)

	first, err := exporter.Export(ctx, set.ID, 1, ExportOptions{Prefix: "archive"})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	second, err := exporter.Export(ctx, set.ID, 1, ExportOptions{Prefix: "archive"})
	if err != nil {
		t.Fatalf("re-export: %v", err)
	}
	if first.Key != "archive/sets/"+set.ID+"/v1.jsonl" || first.ETag != second.ETag {
		t.Fatalf("expected the same archive twice, got %+v and %+v", first, second)
	}
	_, members := readExport(t, store, first.Key)
	for _, m := range members {
		if m.Atom != nil {
			t.Fatalf("unresolved export must not embed atoms")
		}
	}
}

func TestSetExporterRejectsNonSets(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	_, specs := seedSpecs(t, svc, 1)
	exporter := NewSetExporter(svc, blob.NewMemory())
	if _, err := exporter.Export(ctx, specs[0].ID, 0, ExportOptions{}); err == nil {
		t.Fatalf("expected exporting a tag spec to fail")
	}
	if _, err := exporter.Export(ctx, "missing", 0, ExportOptions{}); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSetExporterToFilesystem(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	set, _ := seedSpecs(t, svc, 3)
	store, err := blob.NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("fs store: %v", err)
	}
	info, err := NewSetExporter(svc, store).Export(ctx, set.ID, 0, ExportOptions{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if info.Size == 0 {
		t.Fatalf("expected non-empty archive")
	}
	_, members := readExport(t, store, info.Key)
	if len(members) != 3 {
		t.Fatalf("expected 3 members, got %d", len(members))
	}
}
