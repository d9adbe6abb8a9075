package core

import (
	"context"
	"iter"

	"queryengine/pkg/domain"
)

// SetView reads the membership of one committed set version. Lookups go
// through the backend's key index; iteration streams bounded pages, so no
// view ever holds the whole membership in memory. A view is bound to a fixed
// version and every traversal of it observes the same members.
type SetView struct {
	backend  domain.Backend
	header   domain.Header
	kind     domain.Kind
	pageSize int
}

func newSetView(backend domain.Backend, set domain.Collection, pageSize int) SetView {
	return SetView{backend: backend, header: set.Meta(), kind: set.Kind(), pageSize: domain.PageLimit(pageSize)}
}

// ContainsKey reports whether key is a member of the set version.
func (v SetView) ContainsKey(ctx context.Context, key string) (bool, error) {
	_, ok, err := v.backend.LookupMember(ctx, v.header.ID, v.header.Version, key)
	if err != nil {
		return false, domain.WrapBackend("lookup member", err)
	}
	return ok, nil
}

// Lookup returns the member stored under key, or a NotFoundError.
func (v SetView) Lookup(ctx context.Context, key string) (domain.Member, error) {
	m, ok, err := v.backend.LookupMember(ctx, v.header.ID, v.header.Version, key)
	if err != nil {
		return domain.Member{}, domain.WrapBackend("lookup member", err)
	}
	if !ok {
		return domain.Member{}, domain.NotFoundError{Kind: v.kind, ID: v.header.ID, Version: v.header.Version, Key: key}
	}
	return m, nil
}

// Members streams the membership ordered by key. Each call starts a fresh
// traversal. A backend failure is yielded once and ends the sequence.
func (v SetView) Members(ctx context.Context) iter.Seq2[domain.Member, error] {
	return func(yield func(domain.Member, error) bool) {
		cursor := ""
		for {
			page, err := v.backend.PageMembers(ctx, v.header.ID, v.header.Version, cursor, v.pageSize)
			if err != nil {
				yield(domain.Member{}, domain.WrapBackend("page members", err))
				return
			}
			for _, m := range page.Members {
				if !yield(m, nil) {
					return
				}
			}
			if page.Next == "" {
				return
			}
			cursor = page.Next
		}
	}
}

// Count streams the membership and counts it.
func (v SetView) Count(ctx context.Context) (int, error) {
	n := 0
	for _, err := range v.Members(ctx) {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// resolveMember loads the atom version a member references.
func resolveMember[T domain.Atom](ctx context.Context, backend domain.Backend, kind domain.Kind, m domain.Member) (T, error) {
	var zero T
	rec, ok, err := backend.FetchVersion(ctx, m.ID, m.Version)
	if err != nil {
		return zero, domain.WrapBackend("fetch version", err)
	}
	if !ok {
		return zero, domain.NotFoundError{Kind: kind, ID: m.ID, Version: m.Version}
	}
	atom, err := domain.Decode(rec)
	if err != nil {
		return zero, err
	}
	out, ok := atom.(T)
	if !ok {
		return zero, domain.NotFoundError{Kind: kind, ID: m.ID, Version: m.Version}
	}
	return out, nil
}

// TagSpecSetView is a committed TagSpecSet version with its membership.
type TagSpecSetView struct {
	Set domain.TagSpecSet
	SetView
}

// Get resolves the tag specification stored under key.
func (v TagSpecSetView) Get(ctx context.Context, key string) (domain.TagSpec, error) {
	m, err := v.Lookup(ctx, key)
	if err != nil {
		return domain.TagSpec{}, err
	}
	return resolveMember[domain.TagSpec](ctx, v.backend, domain.KindTagSpec, m)
}

// ToBuilder seeds a builder for the next version of the set. Membership is
// inherited by BuildVersion(false) without being copied; Build on the
// returned builder fails since a fork would start with no members.
func (v TagSpecSetView) ToBuilder() TagSpecSetBuilder {
	return NewTagSpecSetBuilder().From(v.Set)
}

// FeatureSetView is a committed FeatureSet version with its membership.
type FeatureSetView struct {
	Set domain.FeatureSet
	SetView
}

// Get resolves the member feature with identity id.
func (v FeatureSetView) Get(ctx context.Context, id string) (domain.Feature, error) {
	m, err := v.Lookup(ctx, id)
	if err != nil {
		return domain.Feature{}, err
	}
	return resolveMember[domain.Feature](ctx, v.backend, domain.KindFeature, m)
}

// Features streams the member features ordered by identity.
func (v FeatureSetView) Features(ctx context.Context) iter.Seq2[domain.Feature, error] {
	return func(yield func(domain.Feature, error) bool) {
		for m, err := range v.Members(ctx) {
			if err != nil {
				yield(domain.Feature{}, err)
				return
			}
			f, err := resolveMember[domain.Feature](ctx, v.backend, domain.KindFeature, m)
			if !yield(f, err) || err != nil {
				return
			}
		}
	}
}

// ToBuilder seeds a builder for the next version of the set. As with
// TagSpecSetView.ToBuilder, only BuildVersion(false) is accepted.
func (v FeatureSetView) ToBuilder() FeatureSetBuilder {
	return NewFeatureSetBuilder().From(v.Set)
}
