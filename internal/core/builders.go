package core

import (
	"slices"

	"queryengine/pkg/domain"
)

// Builders are immutable values. Every setter returns a new builder holding
// an extended change-set, so a builder can be shared, branched and reused to
// produce successive versions. Build stamps a header with the bound
// manager's clock and stages the result; it never persists.

// stamp finishes a build: it stamps the header that follows seed and stages
// the atom in m when one is bound. A bound build returns the staged value, so
// a version collapsed into a pending one carries the pending header.
func stamp[T domain.Atom](m *CreateUpdateManager, kind domain.Kind, seed *domain.Header, newIdentity bool, value T) (T, error) {
	var zero T
	if !newIdentity && seed == nil {
		return zero, domain.IncompleteAtomError{Kind: kind, Field: "base"}
	}
	h := domain.NextHeader(seed, newIdentity, m.clock())
	out := domain.Stamp(value, h).(T)
	if m == nil {
		return out, nil
	}
	staged, err := m.Stage(out)
	if err != nil {
		return zero, err
	}
	return staged.(T), nil
}

func rejectSetFork(kind domain.Kind, seeded, newIdentity bool) error {
	if seeded && newIdentity {
		return domain.InvalidAtomError{
			Kind:   kind,
			Field:  "identity",
			Reason: "a seeded set builder only builds the next version; use BuildVersion(false)",
		}
	}
	return nil
}

func seedHeader[T domain.Atom](seed *T) *domain.Header {
	if seed == nil {
		return nil
	}
	h := (*seed).Meta()
	return &h
}

// TagBuilder produces Tag versions.
type TagBuilder struct {
	seed    *domain.Tag
	change  domain.TagChange
	manager *CreateUpdateManager
}

// NewTagBuilder returns an empty builder for a brand-new tag.
func NewTagBuilder() TagBuilder { return TagBuilder{} }

// From seeds the builder with an existing version.
func (b TagBuilder) From(tag domain.Tag) TagBuilder { b.seed = &tag; return b }

// SetManager binds the builder to m.
func (b TagBuilder) SetManager(m *CreateUpdateManager) TagBuilder { b.manager = m; return b }

// SetKey sets the tag key.
func (b TagBuilder) SetKey(key string) TagBuilder { b.change.Key = &key; return b }

// SetPredicate sets the predicate relating key and value.
func (b TagBuilder) SetPredicate(p string) TagBuilder { b.change.Predicate = &p; return b }

// SetValue sets the typed value.
func (b TagBuilder) SetValue(v domain.Value) TagBuilder { b.change.Value = &v; return b }

// Build produces a tag under a new identity.
func (b TagBuilder) Build() (domain.Tag, error) { return b.BuildVersion(true) }

// BuildVersion produces a tag. With newIdentity false the result is the next
// version of the seed.
func (b TagBuilder) BuildVersion(newIdentity bool) (domain.Tag, error) {
	tag, err := domain.ApplyTag(b.seed, b.change)
	if err != nil {
		return domain.Tag{}, err
	}
	return stamp(b.manager, domain.KindTag, seedHeader(b.seed), newIdentity, tag)
}

// TagSpecBuilder produces TagSpec versions.
type TagSpecBuilder struct {
	seed    *domain.TagSpec
	change  domain.TagSpecChange
	manager *CreateUpdateManager
}

// NewTagSpecBuilder returns an empty builder for a brand-new tag specification.
func NewTagSpecBuilder() TagSpecBuilder { return TagSpecBuilder{} }

// From seeds the builder with an existing version.
func (b TagSpecBuilder) From(spec domain.TagSpec) TagSpecBuilder { b.seed = &spec; return b }

// SetManager binds the builder to m.
func (b TagSpecBuilder) SetManager(m *CreateUpdateManager) TagSpecBuilder { b.manager = m; return b }

// SetKey sets the tag key the specification declares.
func (b TagSpecBuilder) SetKey(key string) TagSpecBuilder { b.change.Key = &key; return b }

// SetType sets the declared value type.
func (b TagSpecBuilder) SetType(t domain.ValueType) TagSpecBuilder { b.change.Type = &t; return b }

// SetDescription sets the free-text description.
func (b TagSpecBuilder) SetDescription(d string) TagSpecBuilder {
	b.change.Description = &d
	return b
}

// Build produces a tag specification under a new identity.
func (b TagSpecBuilder) Build() (domain.TagSpec, error) { return b.BuildVersion(true) }

// BuildVersion produces a tag specification.
func (b TagSpecBuilder) BuildVersion(newIdentity bool) (domain.TagSpec, error) {
	spec, err := domain.ApplyTagSpec(b.seed, b.change)
	if err != nil {
		return domain.TagSpec{}, err
	}
	return stamp(b.manager, domain.KindTagSpec, seedHeader(b.seed), newIdentity, spec)
}

// FeatureBuilder produces Feature versions.
type FeatureBuilder struct {
	seed    *domain.Feature
	change  domain.FeatureChange
	manager *CreateUpdateManager
}

// NewFeatureBuilder returns an empty builder for a brand-new feature.
func NewFeatureBuilder() FeatureBuilder { return FeatureBuilder{} }

// From seeds the builder with an existing version.
func (b FeatureBuilder) From(f domain.Feature) FeatureBuilder { b.seed = &f; return b }

// SetManager binds the builder to m.
func (b FeatureBuilder) SetManager(m *CreateUpdateManager) FeatureBuilder { b.manager = m; return b }

// SetSeqID sets the sequence the feature is located on.
func (b FeatureBuilder) SetSeqID(id string) FeatureBuilder { b.change.SeqID = &id; return b }

// SetInterval sets the 1-based inclusive coordinates.
func (b FeatureBuilder) SetInterval(start, stop int64) FeatureBuilder {
	b.change.Start, b.change.Stop = &start, &stop
	return b
}

// SetStrand sets the strand.
func (b FeatureBuilder) SetStrand(s domain.Strand) FeatureBuilder { b.change.Strand = &s; return b }

// SetSource sets the GFF3 source column.
func (b FeatureBuilder) SetSource(s string) FeatureBuilder { b.change.Source = &s; return b }

// SetType sets the GFF3 type column.
func (b FeatureBuilder) SetType(t string) FeatureBuilder { b.change.Type = &t; return b }

// SetScore sets the score.
func (b FeatureBuilder) SetScore(score float64) FeatureBuilder {
	b.change.Score, b.change.ClearScore = &score, false
	return b
}

// ClearScore removes the score.
func (b FeatureBuilder) ClearScore() FeatureBuilder {
	b.change.Score, b.change.ClearScore = nil, true
	return b
}

// SetPhase sets the coding phase (domain.PhaseUnset for none).
func (b FeatureBuilder) SetPhase(p int) FeatureBuilder { b.change.Phase = &p; return b }

// AddTag attaches a tag by identity.
func (b FeatureBuilder) AddTag(tag domain.Tag) FeatureBuilder { return b.AddTagID(tag.ID) }

// AddTagID attaches a tag identity.
func (b FeatureBuilder) AddTagID(id string) FeatureBuilder {
	b.change.AddTagIDs = append(slices.Clip(b.change.AddTagIDs), id)
	return b
}

// Build produces a feature under a new identity.
func (b FeatureBuilder) Build() (domain.Feature, error) { return b.BuildVersion(true) }

// BuildVersion produces a feature.
func (b FeatureBuilder) BuildVersion(newIdentity bool) (domain.Feature, error) {
	f, err := domain.ApplyFeature(b.seed, b.change)
	if err != nil {
		return domain.Feature{}, err
	}
	return stamp(b.manager, domain.KindFeature, seedHeader(b.seed), newIdentity, f)
}

// TagSpecSetBuilder produces TagSpecSet versions. Members are keyed by the
// tag key of the specification they reference.
type TagSpecSetBuilder struct {
	seed    *domain.TagSpecSet
	change  domain.SetChange
	manager *CreateUpdateManager
}

// NewTagSpecSetBuilder returns an empty builder for a brand-new set.
func NewTagSpecSetBuilder() TagSpecSetBuilder { return TagSpecSetBuilder{} }

// From seeds the builder with an existing version. The seed's own membership
// delta is not carried over.
func (b TagSpecSetBuilder) From(set domain.TagSpecSet) TagSpecSetBuilder {
	set.Changes = domain.MemberDelta{}
	b.seed = &set
	return b
}

// SetManager binds the builder to m.
func (b TagSpecSetBuilder) SetManager(m *CreateUpdateManager) TagSpecSetBuilder {
	b.manager = m
	return b
}

// SetName sets the set name.
func (b TagSpecSetBuilder) SetName(name string) TagSpecSetBuilder { b.change.Name = &name; return b }

// SetDescription sets the free-text description.
func (b TagSpecSetBuilder) SetDescription(d string) TagSpecSetBuilder {
	b.change.Description = &d
	return b
}

// Add stages spec as the member for its key, replacing any current member.
func (b TagSpecSetBuilder) Add(spec domain.TagSpec) TagSpecSetBuilder {
	return b.AddMember(domain.MemberOf(spec.Key, spec))
}

// AddMember stages a raw member reference.
func (b TagSpecSetBuilder) AddMember(m domain.Member) TagSpecSetBuilder {
	b.change.Members = b.change.Members.WithAdd(m)
	return b
}

// Remove stages the removal of key.
func (b TagSpecSetBuilder) Remove(key string) TagSpecSetBuilder {
	b.change.Members = b.change.Members.WithRemove(key)
	return b
}

// Build produces a set under a new identity.
func (b TagSpecSetBuilder) Build() (domain.TagSpecSet, error) { return b.BuildVersion(true) }

// BuildVersion produces a set. A seeded builder only produces the next
// version of its set; forking it under a new identity is rejected because
// membership lives in the backend and is not copied.
func (b TagSpecSetBuilder) BuildVersion(newIdentity bool) (domain.TagSpecSet, error) {
	if err := rejectSetFork(domain.KindTagSpecSet, b.seed != nil, newIdentity); err != nil {
		return domain.TagSpecSet{}, err
	}
	set, err := domain.ApplyTagSpecSet(b.seed, b.change)
	if err != nil {
		return domain.TagSpecSet{}, err
	}
	return stamp(b.manager, domain.KindTagSpecSet, seedHeader(b.seed), newIdentity, set)
}

// FeatureSetBuilder produces FeatureSet versions. Members are keyed by feature identity.
type FeatureSetBuilder struct {
	seed    *domain.FeatureSet
	change  domain.FeatureSetChange
	manager *CreateUpdateManager
}

// NewFeatureSetBuilder returns an empty builder for a brand-new set.
func NewFeatureSetBuilder() FeatureSetBuilder { return FeatureSetBuilder{} }

// From seeds the builder with an existing version.
func (b FeatureSetBuilder) From(set domain.FeatureSet) FeatureSetBuilder {
	set.Changes = domain.MemberDelta{}
	b.seed = &set
	return b
}

// SetManager binds the builder to m.
func (b FeatureSetBuilder) SetManager(m *CreateUpdateManager) FeatureSetBuilder {
	b.manager = m
	return b
}

// SetName sets the set name.
func (b FeatureSetBuilder) SetName(name string) FeatureSetBuilder { b.change.Name = &name; return b }

// SetReference sets the reference genome the features are annotated against.
func (b FeatureSetBuilder) SetReference(ref string) FeatureSetBuilder {
	b.change.Reference = &ref
	return b
}

// SetDescription sets the free-text description.
func (b FeatureSetBuilder) SetDescription(d string) FeatureSetBuilder {
	b.change.Description = &d
	return b
}

// Add stages f as a member keyed by its identity.
func (b FeatureSetBuilder) Add(f domain.Feature) FeatureSetBuilder {
	return b.AddMember(domain.MemberOf(f.ID, f))
}

// AddMember stages a raw member reference.
func (b FeatureSetBuilder) AddMember(m domain.Member) FeatureSetBuilder {
	b.change.Members = b.change.Members.WithAdd(m)
	return b
}

// Remove stages the removal of the feature with identity id.
func (b FeatureSetBuilder) Remove(id string) FeatureSetBuilder {
	b.change.Members = b.change.Members.WithRemove(id)
	return b
}

// Build produces a set under a new identity.
func (b FeatureSetBuilder) Build() (domain.FeatureSet, error) { return b.BuildVersion(true) }

// BuildVersion produces a set. Seeded builders follow the same rule as
// TagSpecSetBuilder.BuildVersion.
func (b FeatureSetBuilder) BuildVersion(newIdentity bool) (domain.FeatureSet, error) {
	if err := rejectSetFork(domain.KindFeatureSet, b.seed != nil, newIdentity); err != nil {
		return domain.FeatureSet{}, err
	}
	set, err := domain.ApplyFeatureSet(b.seed, b.change)
	if err != nil {
		return domain.FeatureSet{}, err
	}
	return stamp(b.manager, domain.KindFeatureSet, seedHeader(b.seed), newIdentity, set)
}
