// Package domain defines the versioned atoms stored by the query engine, the
// change-sets that produce new versions of them and the backend contract that
// persists them.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the concrete variant of a stored atom.
type Kind string

// Supported atom kinds used in records and persistence buckets.
const (
	// KindTag identifies a key/value annotation attached to features.
	KindTag Kind = "tag"
	// KindTagSpec identifies a tag specification (key plus declared value type).
	KindTagSpec Kind = "tag_spec"
	// KindFeature identifies a genomic feature (GFF3 style interval).
	KindFeature Kind = "feature"
	// KindFeatureSet identifies a set of features against one reference.
	KindFeatureSet Kind = "feature_set"
	// KindTagSpecSet identifies a named set of tag specifications.
	KindTagSpecSet Kind = "tag_spec_set"
)

// Kinds lists every supported kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindTag, KindTagSpec, KindFeature, KindFeatureSet, KindTagSpecSet}
}

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindTag, KindTagSpec, KindFeature, KindFeatureSet, KindTagSpecSet:
		return true
	default:
		return false
	}
}

// Header carries the identity and version stamp shared by every atom.
// Predecessor is zero for the first version of an identity.
type Header struct {
	ID          string    `json:"id"`
	Version     uint64    `json:"version"`
	Predecessor uint64    `json:"predecessor"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsFirst reports whether the header describes the first version of its identity.
func (h Header) IsFirst() bool { return h.Predecessor == 0 }

// Atom is the capability shared by every immutable, version-stamped value.
// The set of implementations is closed to this package.
type Atom interface {
	Kind() Kind
	Meta() Header
	sealed()
}

// Collection is implemented by atoms whose payload is a membership of other atoms.
type Collection interface {
	Atom
	MemberKind() Kind
	Delta() MemberDelta
}

// NewID mints a fresh identity for a brand-new atom.
func NewID() string {
	return uuid.NewString()
}

// NextHeader stamps the header of the version that follows prior. When prior is
// nil or newIdentity is set a new identity is minted at version 1; otherwise the
// identity is inherited and the version advances by one with prior as predecessor.
// Construction is purely local and never fails for version reasons; staleness
// of prior is detected when the version is committed.
func NextHeader(prior *Header, newIdentity bool, now time.Time) Header {
	if prior == nil || newIdentity {
		return Header{ID: NewID(), Version: 1, CreatedAt: now}
	}
	return Header{
		ID:          prior.ID,
		Version:     prior.Version + 1,
		Predecessor: prior.Version,
		CreatedAt:   now,
	}
}
