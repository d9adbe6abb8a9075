package domain

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// Record is the durable form of one atom version. The backend persists it keyed
// by (ID, Version) and must preserve the identity/version/predecessor triple
// exactly. Delta is only set for collection kinds.
type Record struct {
	Kind    Kind            `json:"kind"`
	Header  Header          `json:"header"`
	Payload json.RawMessage `json:"payload"`
	Delta   *MemberDelta    `json:"delta,omitempty"`
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	cp := r
	cp.Payload = append(json.RawMessage(nil), r.Payload...)
	if r.Delta != nil {
		d := r.Delta.Clone()
		cp.Delta = &d
	}
	return cp
}

// Encode converts an atom into its durable record.
func Encode(atom Atom) (Record, error) {
	if atom == nil {
		return Record{}, errors.New("encode: nil atom")
	}
	payload, err := json.Marshal(atom)
	if err != nil {
		return Record{}, errors.Wrapf(err, "encode %s", atom.Kind())
	}
	rec := Record{Kind: atom.Kind(), Header: atom.Meta(), Payload: payload}
	if c, ok := atom.(Collection); ok {
		d := c.Delta()
		rec.Delta = &d
	}
	return rec, nil
}

// Decode converts a durable record back into its typed atom. The header stored
// alongside the payload is authoritative.
func Decode(rec Record) (Atom, error) {
	switch rec.Kind {
	case KindTag:
		var v Tag
		if err := decodePayload(rec, &v); err != nil {
			return nil, err
		}
		v.Header = rec.Header
		return v, nil
	case KindTagSpec:
		var v TagSpec
		if err := decodePayload(rec, &v); err != nil {
			return nil, err
		}
		v.Header = rec.Header
		return v, nil
	case KindFeature:
		var v Feature
		if err := decodePayload(rec, &v); err != nil {
			return nil, err
		}
		v.Header = rec.Header
		return v, nil
	case KindTagSpecSet:
		var v TagSpecSet
		if err := decodePayload(rec, &v); err != nil {
			return nil, err
		}
		v.Header = rec.Header
		if rec.Delta != nil {
			v.Changes = rec.Delta.Clone()
		}
		return v, nil
	case KindFeatureSet:
		var v FeatureSet
		if err := decodePayload(rec, &v); err != nil {
			return nil, err
		}
		v.Header = rec.Header
		if rec.Delta != nil {
			v.Changes = rec.Delta.Clone()
		}
		return v, nil
	default:
		return nil, errors.Newf("decode: unknown kind %q", rec.Kind)
	}
}

func decodePayload(rec Record, target any) error {
	if err := json.Unmarshal(rec.Payload, target); err != nil {
		return errors.Wrapf(err, "decode %s %s v%d", rec.Kind, rec.Header.ID, rec.Header.Version)
	}
	return nil
}
