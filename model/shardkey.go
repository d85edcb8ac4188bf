package model

import (
	"fmt"

	"github.com/OneOfOne/xxhash"
	"github.com/pkg/errors"
)

// Direction is a shard-key field's ordering rule: ascending, descending, or
// hashed. At most one field in a Spec may be hashed.
type Direction int

const (
	Asc Direction = iota
	Desc
	Hashed
)

func ParseDirection(v any) (Direction, error) {
	switch t := v.(type) {
	case float64:
		switch t {
		case 1:
			return Asc, nil
		case -1:
			return Desc, nil
		}
	case int:
		switch t {
		case 1:
			return Asc, nil
		case -1:
			return Desc, nil
		}
	case string:
		if t == "hashed" {
			return Hashed, nil
		}
	}
	return 0, errors.Errorf("invalid shard-key direction %v (want 1, -1, or %q)", v, "hashed")
}

// KeyField is one field of the cluster's shard-key specification.
type KeyField struct {
	Name      string
	Direction Direction
}

// Spec is the ordered shard-key field list extracted from `shardKeyJson`.
// It is immutable for the duration of a load, same as the chunk map it
// governs: the balancer is stopped on entry, so re-sharding mid-load is
// out of scope.
type Spec struct {
	Fields  []KeyField
	AddID   bool // synthesize `_id` when included in Fields and missing
	hashIdx int  // index of the Hashed field, or -1
}

func NewSpec(fields []KeyField, addID bool) (*Spec, error) {
	hashIdx := -1
	for i, f := range fields {
		if f.Direction == Hashed {
			if hashIdx != -1 {
				return nil, errors.New("shard key: at most one field may be hashed")
			}
			hashIdx = i
		}
	}
	if len(fields) == 0 {
		return nil, errors.New("shard key: must declare at least one field")
	}
	return &Spec{Fields: fields, AddID: addID, hashIdx: hashIdx}, nil
}

func (s *Spec) HasHashedField() bool { return s.hashIdx >= 0 }

// Key is the extracted, ordered tuple of field values. Hashed-field values
// are pre-hashed to uint64 so comparison is a plain numeric compare, same
// as every other field.
type Key struct {
	Values []any
}

// ErrMissingField is a per-document error: the record is rejected and
// counted, the load continues.
type ErrMissingField struct {
	Field string
}

func (e *ErrMissingField) Error() string {
	return fmt.Sprintf("document missing shard-key field %q", e.Field)
}

// Extract reads the spec's fields off doc in declaration order. If AddID
// is set, the key includes `_id`, and doc lacks one, a fresh id is
// synthesized via genID before extraction reads it back.
func (s *Spec) Extract(doc *Document, genID func() string) (Key, error) {
	if s.AddID && !doc.HasID() {
		for _, f := range s.Fields {
			if f.Name == "_id" {
				doc.SetID(genID())
				break
			}
		}
	}
	key := Key{Values: make([]any, len(s.Fields))}
	for i, f := range s.Fields {
		v, ok := doc.Field(f.Name)
		if !ok {
			return Key{}, &ErrMissingField{Field: f.Name}
		}
		if f.Direction == Hashed {
			v = hashValue(v)
		}
		key.Values[i] = v
	}
	return key, nil
}

func hashValue(v any) uint64 {
	return xxhash.Checksum64S([]byte(fmt.Sprint(v)), 0)
}

// Compare totally orders two keys under the cluster's shard-key rule, so
// chunk lookup reduces to an ordered-range binary search. Hashed fields
// compare numerically ascending regardless of the field's nominal
// direction, since hashing already discards the field's own order.
func (s *Spec) Compare(a, b Key) int {
	for i, f := range s.Fields {
		c := compareValue(a.Values[i], b.Values[i])
		if f.Direction == Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

func compareValue(a, b any) int {
	switch av := a.(type) {
	case uint64:
		bv := b.(uint64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case int64:
		bv := toInt64(b)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case int:
		return compareValue(int64(av), b)
	case float64:
		bv := toFloat64(b)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case string:
		bv, _ := b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	default:
		as, bs := fmt.Sprint(a), fmt.Sprint(b)
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		}
		return 0
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	default:
		return 0
	}
}
