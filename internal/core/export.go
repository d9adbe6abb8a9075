package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"queryengine/internal/blob"
	"queryengine/pkg/domain"
)

// ExportContentType is the media type of set archives.
const ExportContentType = "application/x-ndjson"

// ExportedMember is one member line of a set archive. Atom is set when the
// export resolves members.
type ExportedMember struct {
	domain.Member
	Atom *domain.Record `json:"atom,omitempty"`
}

// ExportOptions tunes an export.
type ExportOptions struct {
	// Prefix is prepended to the archive key; defaults to "exports/".
	Prefix string
	// Resolve embeds the referenced member version in every line.
	Resolve bool
}

// SetExporter writes committed set versions to a blob store as JSON lines:
// the set record first, then one line per member in key order. Archives are
// write-once, so exporting a version twice returns the existing archive.
type SetExporter struct {
	svc   *Service
	store blob.Store
}

// NewSetExporter constructs an exporter reading through svc.
func NewSetExporter(svc *Service, store blob.Store) *SetExporter {
	return &SetExporter{svc: svc, store: store}
}

// ExportKey returns the archive key for a set version.
func ExportKey(prefix, setID string, version uint64) string {
	if prefix == "" {
		prefix = "exports/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return fmt.Sprintf("%ssets/%s/v%d.jsonl", prefix, setID, version)
}

// Export archives set version (id, version); version zero selects the latest.
func (e *SetExporter) Export(ctx context.Context, id string, version uint64, opts ExportOptions) (info blob.Info, err error) {
	ctx, finish := e.svc.obs.begin(ctx, "export")
	defer func() { finish(err) }()

	var atom domain.Atom
	if version == 0 {
		atom, err = e.svc.Latest(ctx, id)
	} else {
		atom, err = e.svc.Version(ctx, id, version)
	}
	if err != nil {
		return blob.Info{}, err
	}
	set, ok := atom.(domain.Collection)
	if !ok {
		return blob.Info{}, domain.InvalidAtomError{Kind: atom.Kind(), Field: "kind", Reason: "only sets can be exported"}
	}
	h := set.Meta()
	key := ExportKey(opts.Prefix, h.ID, h.Version)
	if existing, err := e.store.Head(ctx, key); err == nil {
		return existing, nil
	} else if !errors.Is(err, blob.ErrNotFound) {
		return blob.Info{}, err
	}

	rec, err := domain.Encode(set)
	if err != nil {
		return blob.Info{}, err
	}
	view := newSetView(e.svc.backend, set, e.svc.pageSize)
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := e.write(ctx, pw, rec, view, opts.Resolve)
		_ = pw.CloseWithError(err)
		done <- err
	}()
	info, err = e.store.Put(ctx, key, pr, blob.PutOptions{
		ContentType: ExportContentType,
		Metadata: map[string]string{
			"set_id":  h.ID,
			"version": strconv.FormatUint(h.Version, 10),
			"kind":    string(set.Kind()),
		},
	})
	_ = pr.CloseWithError(io.ErrClosedPipe)
	writeErr := <-done
	if err != nil {
		if errors.Is(err, blob.ErrExists) {
			return e.store.Head(ctx, key)
		}
		if writeErr != nil && !errors.Is(writeErr, io.ErrClosedPipe) {
			return blob.Info{}, writeErr
		}
		return blob.Info{}, err
	}
	e.svc.obs.logger.Info("set exported", "id", h.ID, "version", h.Version, "key", key, "bytes", info.Size)
	return info, nil
}

func (e *SetExporter) write(ctx context.Context, w io.Writer, rec domain.Record, view SetView, resolve bool) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(rec); err != nil {
		return err
	}
	for m, err := range view.Members(ctx) {
		if err != nil {
			return err
		}
		line := ExportedMember{Member: m}
		if resolve {
			r, ok, err := e.svc.backend.FetchVersion(ctx, m.ID, m.Version)
			if err != nil {
				return domain.WrapBackend("fetch version", err)
			}
			if !ok {
				return domain.NotFoundError{ID: m.ID, Version: m.Version}
			}
			line.Atom = &r
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return nil
}
