package domain

import (
	"strings"
)

// Member references one atom version from inside a set, addressed by the
// set's natural key for that member.
type Member struct {
	Key     string `json:"key"`
	ID      string `json:"id"`
	Version uint64 `json:"version"`
}

// MemberOf builds a member reference to the given atom version under key.
func MemberOf(key string, atom Atom) Member {
	h := atom.Meta()
	return Member{Key: key, ID: h.ID, Version: h.Version}
}

// Validate checks the member reference is addressable.
func (m Member) Validate() error {
	if err := ValidateMemberKey(m.Key); err != nil {
		return err
	}
	if blank(m.ID) {
		return InvalidAtomError{Field: "member.id", Reason: "member " + m.Key + " has no identity"}
	}
	if m.Version == 0 {
		return InvalidAtomError{Field: "member.version", Reason: "member " + m.Key + " has no version"}
	}
	return nil
}

// ValidateMemberKey rejects keys that cannot be indexed by every backend.
func ValidateMemberKey(key string) error {
	if key == "" {
		return InvalidAtomError{Field: "member.key", Reason: "key must not be empty"}
	}
	if strings.IndexByte(key, 0) >= 0 {
		return InvalidAtomError{Field: "member.key", Reason: "key must not contain NUL"}
	}
	return nil
}

// MemberDelta is the membership change a set version applies to its predecessor.
// A key appears at most once across Add and Remove; the last staged operation wins.
type MemberDelta struct {
	Add    []Member `json:"add,omitempty"`
	Remove []string `json:"remove,omitempty"`
}

// Empty reports whether the delta changes nothing.
func (d MemberDelta) Empty() bool { return len(d.Add) == 0 && len(d.Remove) == 0 }

// Clone returns a deep copy of the delta.
func (d MemberDelta) Clone() MemberDelta {
	return MemberDelta{
		Add:    append([]Member(nil), d.Add...),
		Remove: append([]string(nil), d.Remove...),
	}
}

// WithAdd returns a copy of d that adds (or replaces) m.
func (d MemberDelta) WithAdd(m Member) MemberDelta {
	out := d.without(m.Key)
	out.Add = append(out.Add, m)
	return out
}

// WithRemove returns a copy of d that removes key.
func (d MemberDelta) WithRemove(key string) MemberDelta {
	out := d.without(key)
	out.Remove = append(out.Remove, key)
	return out
}

// Merge applies other on top of d, preserving last-wins semantics per key.
func (d MemberDelta) Merge(other MemberDelta) MemberDelta {
	out := d.Clone()
	for _, key := range other.Remove {
		out = out.WithRemove(key)
	}
	for _, m := range other.Add {
		out = out.WithAdd(m)
	}
	return out
}

// Added returns the member staged under key, if any.
func (d MemberDelta) Added(key string) (Member, bool) {
	for _, m := range d.Add {
		if m.Key == key {
			return m, true
		}
	}
	return Member{}, false
}

// Removed reports whether key is staged for removal.
func (d MemberDelta) Removed(key string) bool {
	for _, k := range d.Remove {
		if k == key {
			return true
		}
	}
	return false
}

// Validate checks every staged member and key.
func (d MemberDelta) Validate() error {
	for _, m := range d.Add {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	for _, key := range d.Remove {
		if err := ValidateMemberKey(key); err != nil {
			return err
		}
	}
	return nil
}

func (d MemberDelta) without(key string) MemberDelta {
	out := MemberDelta{}
	for _, m := range d.Add {
		if m.Key != key {
			out.Add = append(out.Add, m)
		}
	}
	for _, k := range d.Remove {
		if k != key {
			out.Remove = append(out.Remove, k)
		}
	}
	return out
}

// MemberPage is one bounded page of a set version's membership ordered by key.
// Next is empty when the page is the last one.
type MemberPage struct {
	Members []Member
	Next    string
}
