package domain

import (
	"strconv"
	"strings"
)

// ValueType declares how a tag value is interpreted.
type ValueType string

// Supported tag value types.
const (
	ValueString  ValueType = "string"
	ValueFloat   ValueType = "float"
	ValueInteger ValueType = "integer"
	ValueBoolean ValueType = "boolean"
)

// Valid reports whether t is a supported value type.
func (t ValueType) Valid() bool {
	switch t {
	case ValueString, ValueFloat, ValueInteger, ValueBoolean:
		return true
	default:
		return false
	}
}

// Value is a typed tag value. Text holds the canonical textual form so that the
// value round-trips through any encoding without losing precision.
type Value struct {
	Type ValueType `json:"type"`
	Text string    `json:"text"`
}

// StringValue constructs a string typed value.
func StringValue(s string) Value { return Value{Type: ValueString, Text: s} }

// FloatValue constructs a float typed value.
func FloatValue(f float64) Value {
	return Value{Type: ValueFloat, Text: strconv.FormatFloat(f, 'g', -1, 64)}
}

// IntegerValue constructs an integer typed value.
func IntegerValue(i int64) Value { return Value{Type: ValueInteger, Text: strconv.FormatInt(i, 10)} }

// BooleanValue constructs a boolean typed value.
func BooleanValue(b bool) Value { return Value{Type: ValueBoolean, Text: strconv.FormatBool(b)} }

// Float parses the value as a float.
func (v Value) Float() (float64, error) { return strconv.ParseFloat(v.Text, 64) }

// Integer parses the value as an integer.
func (v Value) Integer() (int64, error) { return strconv.ParseInt(v.Text, 10, 64) }

// Boolean parses the value as a boolean.
func (v Value) Boolean() (bool, error) { return strconv.ParseBool(v.Text) }

// Validate checks that Text parses as Type.
func (v Value) Validate() error {
	var err error
	switch v.Type {
	case ValueString:
	case ValueFloat:
		_, err = v.Float()
	case ValueInteger:
		_, err = v.Integer()
	case ValueBoolean:
		_, err = v.Boolean()
	default:
		return InvalidAtomError{Field: "value.type", Reason: "unsupported value type " + strconv.Quote(string(v.Type))}
	}
	if err != nil {
		return InvalidAtomError{Field: "value", Reason: "text " + strconv.Quote(v.Text) + " is not a valid " + string(v.Type)}
	}
	return nil
}

// Strand is the GFF3 strand of a feature.
type Strand string

// Feature strands.
const (
	StrandForward Strand = "+"
	StrandReverse Strand = "-"
	StrandNone    Strand = "."
	StrandUnknown Strand = "?"
)

// Valid reports whether s is a GFF3 strand marker.
func (s Strand) Valid() bool {
	switch s {
	case StrandForward, StrandReverse, StrandNone, StrandUnknown:
		return true
	default:
		return false
	}
}

// PhaseUnset marks a feature without a coding phase.
const PhaseUnset = -1

// Tag is a key/value annotation. Predicate relates the key to the value and
// defaults to "=".
type Tag struct {
	Header
	Key       string `json:"key"`
	Predicate string `json:"predicate"`
	Value     Value  `json:"value"`
}

// TagSpec declares a tag key and the type its values must have.
type TagSpec struct {
	Header
	Key         string    `json:"key"`
	Type        ValueType `json:"type"`
	Description string    `json:"description,omitempty"`
}

// Feature is a genomic interval on a sequence with 1-based inclusive coordinates.
type Feature struct {
	Header
	SeqID  string   `json:"seqid"`
	Start  int64    `json:"start"`
	Stop   int64    `json:"stop"`
	Strand Strand   `json:"strand"`
	Source string   `json:"source,omitempty"`
	Type   string   `json:"type,omitempty"`
	Score  *float64 `json:"score,omitempty"`
	Phase  int      `json:"phase"`
	TagIDs []string `json:"tag_ids,omitempty"`
}

// Length returns the number of bases covered by the feature.
func (f Feature) Length() int64 { return f.Stop - f.Start + 1 }

// Overlaps reports whether f and other share at least one base on the same sequence.
func (f Feature) Overlaps(other Feature) bool {
	return f.SeqID == other.SeqID && f.Start <= other.Stop && other.Start <= f.Stop
}

// TagSpecSet is a named set of tag specifications keyed by tag key.
type TagSpecSet struct {
	Header
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Changes     MemberDelta `json:"-"`
}

// FeatureSet is a named set of features annotated against one reference, keyed by feature ID.
type FeatureSet struct {
	Header
	Name        string      `json:"name"`
	Reference   string      `json:"reference"`
	Description string      `json:"description,omitempty"`
	Changes     MemberDelta `json:"-"`
}

// Kind implements Atom.
func (Tag) Kind() Kind { return KindTag }

// Kind implements Atom.
func (TagSpec) Kind() Kind { return KindTagSpec }

// Kind implements Atom.
func (Feature) Kind() Kind { return KindFeature }

// Kind implements Atom.
func (TagSpecSet) Kind() Kind { return KindTagSpecSet }

// Kind implements Atom.
func (FeatureSet) Kind() Kind { return KindFeatureSet }

// Meta implements Atom.
func (t Tag) Meta() Header { return t.Header }

// Meta implements Atom.
func (t TagSpec) Meta() Header { return t.Header }

// Meta implements Atom.
func (f Feature) Meta() Header { return f.Header }

// Meta implements Atom.
func (s TagSpecSet) Meta() Header { return s.Header }

// Meta implements Atom.
func (s FeatureSet) Meta() Header { return s.Header }

func (Tag) sealed()        {}
func (TagSpec) sealed()    {}
func (Feature) sealed()    {}
func (TagSpecSet) sealed() {}
func (FeatureSet) sealed() {}

// MemberKind implements Collection.
func (TagSpecSet) MemberKind() Kind { return KindTagSpec }

// MemberKind implements Collection.
func (FeatureSet) MemberKind() Kind { return KindFeature }

// Delta implements Collection.
func (s TagSpecSet) Delta() MemberDelta { return s.Changes.Clone() }

// Delta implements Collection.
func (s FeatureSet) Delta() MemberDelta { return s.Changes.Clone() }

// Compile-time contract assertions for the closed variant set.
var (
	_ Atom       = Tag{}
	_ Atom       = TagSpec{}
	_ Atom       = Feature{}
	_ Collection = TagSpecSet{}
	_ Collection = FeatureSet{}
)

func cloneFeature(f Feature) Feature {
	cp := f
	if f.Score != nil {
		score := *f.Score
		cp.Score = &score
	}
	cp.TagIDs = append([]string(nil), f.TagIDs...)
	return cp
}

func cloneTagSpecSet(s TagSpecSet) TagSpecSet {
	cp := s
	cp.Changes = s.Changes.Clone()
	return cp
}

func cloneFeatureSet(s FeatureSet) FeatureSet {
	cp := s
	cp.Changes = s.Changes.Clone()
	return cp
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }
