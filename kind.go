package tether

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the semantic type of a column. Every column value held by
// a Variable is in the kind's canonical representation: int64, float64,
// string, bool, []byte or time.Time. UUID values canonicalize to their
// lowercase string form so they round-trip through any driver unchanged.
type Kind int

const (
	KindInt Kind = iota
	KindFloat
	KindText
	KindBool
	KindBytes
	KindTime
	KindUUID
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindText:
		return "text"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	case KindTime:
		return "time"
	case KindUUID:
		return "uuid"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// coerce converts v to the kind's canonical representation. nil passes
// through as SQL NULL. The returned error carries only the reason; callers
// wrap it into a ConversionError with column context.
func (k Kind) coerce(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch k {
	case KindInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int8:
			return int64(n), nil
		case int16:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case uint:
			return int64(n), nil
		case uint8:
			return int64(n), nil
		case uint16:
			return int64(n), nil
		case uint32:
			return int64(n), nil
		case uint64:
			if n > 1<<63-1 {
				return nil, fmt.Errorf("uint64 value overflows int64")
			}
			return int64(n), nil
		}
	case KindFloat:
		switch n := v.(type) {
		case float32:
			return float64(n), nil
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int32:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	case KindText:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
	case KindBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case int64:
			// Wire representation in SQLite.
			return b != 0, nil
		}
	case KindBytes:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
	case KindTime:
		switch t := v.(type) {
		case time.Time:
			return t, nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, fmt.Errorf("not an RFC 3339 timestamp: %v", err)
			}
			return parsed, nil
		}
	case KindUUID:
		switch u := v.(type) {
		case uuid.UUID:
			return u.String(), nil
		case string:
			parsed, err := uuid.Parse(u)
			if err != nil {
				return nil, fmt.Errorf("not a UUID: %v", err)
			}
			return parsed.String(), nil
		case []byte:
			if len(u) == 16 {
				parsed, err := uuid.FromBytes(u)
				if err != nil {
					return nil, fmt.Errorf("not a UUID: %v", err)
				}
				return parsed.String(), nil
			}
			parsed, err := uuid.ParseBytes(u)
			if err != nil {
				return nil, fmt.Errorf("not a UUID: %v", err)
			}
			return parsed.String(), nil
		}
	}
	return nil, fmt.Errorf("unsupported source type %T", v)
}

// valueEqual compares two canonical values of the same kind, treating nil as
// equal only to nil.
func valueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case []byte:
		bv, ok := b.([]byte)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	default:
		return a == b
	}
}
