package domain

import "context"

// DefaultPageSize bounds the number of members a backend returns per page when
// the caller does not ask for a specific limit.
const DefaultPageSize = 256

// Backend is the durable store consulted for conflict detection, version reads
// and paged set membership. Implementations must apply PersistBatch atomically:
// either every record becomes the latest version of its identity or none does.
type Backend interface {
	// FetchLatest returns the latest committed version of id.
	FetchLatest(ctx context.Context, id string) (Record, bool, error)
	// FetchVersion returns one historical version of id.
	FetchVersion(ctx context.Context, id string, version uint64) (Record, bool, error)
	// History lists the headers of every committed version of id in ascending order.
	History(ctx context.Context, id string) ([]Header, error)
	// PersistBatch commits records as new latest versions. Each record's
	// Header.Predecessor is the version the caller expects to be latest (zero
	// for a new identity). The first mismatch aborts the whole batch with a
	// ConflictError; storage failures are reported as BackendIOError.
	PersistBatch(ctx context.Context, records []Record) error
	// PageMembers returns up to limit members of set version (setID, version)
	// with keys strictly greater than cursor, ordered by key.
	PageMembers(ctx context.Context, setID string, version uint64, cursor string, limit int) (MemberPage, error)
	// LookupMember returns the member stored under key in set version (setID, version).
	LookupMember(ctx context.Context, setID string, version uint64, key string) (Member, bool, error)
	// Close releases backend resources.
	Close() error
}

// CheckBatch validates records before a backend applies them. Identities must
// be unique within the batch and every record must carry a consistent header.
func CheckBatch(records []Record) error {
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if !rec.Kind.Valid() {
			return InvalidAtomError{Field: "kind", Reason: "unknown kind " + string(rec.Kind)}
		}
		h := rec.Header
		if blank(h.ID) {
			return IncompleteAtomError{Kind: rec.Kind, Field: "id"}
		}
		if h.Version == 0 || h.Version != h.Predecessor+1 {
			return InvalidAtomError{Kind: rec.Kind, Field: "version", Reason: "version must follow its predecessor"}
		}
		if _, dup := seen[h.ID]; dup {
			return InvalidAtomError{Kind: rec.Kind, Field: "id", Reason: "identity " + h.ID + " staged twice in one batch"}
		}
		seen[h.ID] = struct{}{}
		if rec.Delta != nil {
			if err := rec.Delta.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// PageLimit normalizes a caller supplied page size.
func PageLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	return limit
}
