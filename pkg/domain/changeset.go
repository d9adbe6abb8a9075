package domain

// Change-sets are immutable descriptions of field updates. Nil fields leave the
// base value untouched. The Apply functions are pure: they never mutate base and
// return a value whose header is copied from base (the caller stamps the new
// version header).

// TagChange lists field updates for a Tag.
type TagChange struct {
	Key       *string
	Predicate *string
	Value     *Value
}

// TagSpecChange lists field updates for a TagSpec.
type TagSpecChange struct {
	Key         *string
	Type        *ValueType
	Description *string
}

// FeatureChange lists field updates for a Feature.
type FeatureChange struct {
	SeqID      *string
	Start      *int64
	Stop       *int64
	Strand     *Strand
	Source     *string
	Type       *string
	Score      *float64
	ClearScore bool
	Phase      *int
	AddTagIDs  []string
}

// SetChange lists metadata and membership updates shared by every set kind.
type SetChange struct {
	Name        *string
	Description *string
	Members     MemberDelta
}

// FeatureSetChange lists updates for a FeatureSet.
type FeatureSetChange struct {
	SetChange
	Reference *string
}

// ApplyTag produces a new Tag from base (nil for a brand-new tag) and ch.
func ApplyTag(base *Tag, ch TagChange) (Tag, error) {
	var out Tag
	if base != nil {
		out = *base
	}
	if ch.Key != nil {
		out.Key = *ch.Key
	}
	if ch.Predicate != nil {
		out.Predicate = *ch.Predicate
	}
	if ch.Value != nil {
		out.Value = *ch.Value
	}
	if out.Predicate == "" {
		out.Predicate = "="
	}
	if blank(out.Key) {
		return Tag{}, IncompleteAtomError{Kind: KindTag, Field: "key"}
	}
	if out.Value.Type == "" {
		return Tag{}, IncompleteAtomError{Kind: KindTag, Field: "value"}
	}
	if err := out.Value.Validate(); err != nil {
		return Tag{}, withKind(KindTag, err)
	}
	return out, nil
}

// ApplyTagSpec produces a new TagSpec from base and ch.
func ApplyTagSpec(base *TagSpec, ch TagSpecChange) (TagSpec, error) {
	var out TagSpec
	if base != nil {
		out = *base
	}
	if ch.Key != nil {
		out.Key = *ch.Key
	}
	if ch.Type != nil {
		out.Type = *ch.Type
	}
	if ch.Description != nil {
		out.Description = *ch.Description
	}
	if blank(out.Key) {
		return TagSpec{}, IncompleteAtomError{Kind: KindTagSpec, Field: "key"}
	}
	if err := ValidateMemberKey(out.Key); err != nil {
		return TagSpec{}, withKind(KindTagSpec, err)
	}
	if out.Type == "" {
		return TagSpec{}, IncompleteAtomError{Kind: KindTagSpec, Field: "type"}
	}
	if !out.Type.Valid() {
		return TagSpec{}, InvalidAtomError{Kind: KindTagSpec, Field: "type", Reason: "unsupported value type " + string(out.Type)}
	}
	return out, nil
}

// ApplyFeature produces a new Feature from base and ch.
func ApplyFeature(base *Feature, ch FeatureChange) (Feature, error) {
	out := Feature{Strand: StrandNone, Phase: PhaseUnset}
	if base != nil {
		out = cloneFeature(*base)
	}
	if ch.SeqID != nil {
		out.SeqID = *ch.SeqID
	}
	if ch.Start != nil {
		out.Start = *ch.Start
	}
	if ch.Stop != nil {
		out.Stop = *ch.Stop
	}
	if ch.Strand != nil {
		out.Strand = *ch.Strand
	}
	if ch.Source != nil {
		out.Source = *ch.Source
	}
	if ch.Type != nil {
		out.Type = *ch.Type
	}
	if ch.ClearScore {
		out.Score = nil
	}
	if ch.Score != nil {
		score := *ch.Score
		out.Score = &score
	}
	if ch.Phase != nil {
		out.Phase = *ch.Phase
	}
	for _, id := range ch.AddTagIDs {
		if !containsString(out.TagIDs, id) {
			out.TagIDs = append(out.TagIDs, id)
		}
	}
	if blank(out.SeqID) {
		return Feature{}, IncompleteAtomError{Kind: KindFeature, Field: "seqid"}
	}
	if out.Start == 0 {
		return Feature{}, IncompleteAtomError{Kind: KindFeature, Field: "start"}
	}
	if out.Stop == 0 {
		return Feature{}, IncompleteAtomError{Kind: KindFeature, Field: "stop"}
	}
	if out.Start < 1 {
		return Feature{}, InvalidAtomError{Kind: KindFeature, Field: "start", Reason: "coordinates are 1-based"}
	}
	if out.Stop < out.Start {
		return Feature{}, InvalidAtomError{Kind: KindFeature, Field: "stop", Reason: "stop precedes start"}
	}
	if out.Strand == "" {
		out.Strand = StrandNone
	}
	if !out.Strand.Valid() {
		return Feature{}, InvalidAtomError{Kind: KindFeature, Field: "strand", Reason: "unknown strand " + string(out.Strand)}
	}
	if out.Phase < PhaseUnset || out.Phase > 2 {
		return Feature{}, InvalidAtomError{Kind: KindFeature, Field: "phase", Reason: "phase must be 0, 1 or 2"}
	}
	return out, nil
}

// ApplyTagSpecSet produces a new TagSpecSet from base and ch. The membership
// delta of base is not carried over: a new version only records its own changes.
func ApplyTagSpecSet(base *TagSpecSet, ch SetChange) (TagSpecSet, error) {
	var out TagSpecSet
	if base != nil {
		out = cloneTagSpecSet(*base)
	}
	out.Changes = ch.Members.Clone()
	if ch.Name != nil {
		out.Name = *ch.Name
	}
	if ch.Description != nil {
		out.Description = *ch.Description
	}
	if blank(out.Name) {
		return TagSpecSet{}, IncompleteAtomError{Kind: KindTagSpecSet, Field: "name"}
	}
	if err := out.Changes.Validate(); err != nil {
		return TagSpecSet{}, withKind(KindTagSpecSet, err)
	}
	return out, nil
}

// ApplyFeatureSet produces a new FeatureSet from base and ch.
func ApplyFeatureSet(base *FeatureSet, ch FeatureSetChange) (FeatureSet, error) {
	var out FeatureSet
	if base != nil {
		out = cloneFeatureSet(*base)
	}
	out.Changes = ch.Members.Clone()
	if ch.Name != nil {
		out.Name = *ch.Name
	}
	if ch.Description != nil {
		out.Description = *ch.Description
	}
	if ch.Reference != nil {
		out.Reference = *ch.Reference
	}
	if blank(out.Name) {
		return FeatureSet{}, IncompleteAtomError{Kind: KindFeatureSet, Field: "name"}
	}
	if blank(out.Reference) {
		return FeatureSet{}, IncompleteAtomError{Kind: KindFeatureSet, Field: "reference"}
	}
	if err := out.Changes.Validate(); err != nil {
		return FeatureSet{}, withKind(KindFeatureSet, err)
	}
	return out, nil
}

// Stamp returns a copy of atom carrying header h.
func Stamp(atom Atom, h Header) Atom {
	switch a := atom.(type) {
	case Tag:
		a.Header = h
		return a
	case TagSpec:
		a.Header = h
		return a
	case Feature:
		a = cloneFeature(a)
		a.Header = h
		return a
	case TagSpecSet:
		a = cloneTagSpecSet(a)
		a.Header = h
		return a
	case FeatureSet:
		a = cloneFeatureSet(a)
		a.Header = h
		return a
	default:
		return atom
	}
}

func withKind(kind Kind, err error) error {
	if invalid, ok := err.(InvalidAtomError); ok {
		invalid.Kind = kind
		return invalid
	}
	return err
}

func containsString(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

// WithMembers returns a copy of a set atom whose membership delta is replaced
// by delta. Atoms that are not sets are returned unchanged.
func WithMembers(atom Atom, delta MemberDelta) Atom {
	switch a := atom.(type) {
	case TagSpecSet:
		a = cloneTagSpecSet(a)
		a.Changes = delta.Clone()
		return a
	case FeatureSet:
		a = cloneFeatureSet(a)
		a.Changes = delta.Clone()
		return a
	default:
		return atom
	}
}
