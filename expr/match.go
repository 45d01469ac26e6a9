package expr

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Match evaluates a predicate against an in-memory row. get returns the
// current value for a column (nil for SQL NULL) and whether the column
// exists. This is the path bulk updates use to patch cached objects so the
// identity map stays consistent with the UPDATE issued to storage.
//
// NULL semantics follow SQL: a comparison against NULL never matches, only
// IsNull does.
func Match(e Expr, get func(column string) (any, bool)) (bool, error) {
	switch n := e.(type) {
	case Compare:
		v, ok := get(n.Column)
		if !ok {
			return false, fmt.Errorf("match: unknown column %q", n.Column)
		}
		if v == nil || n.Value == nil {
			return false, nil
		}
		cmp, err := compareValues(v, n.Value)
		if err != nil {
			return false, fmt.Errorf("match %q: %w", n.Column, err)
		}
		switch n.Op {
		case OpEq:
			return cmp == 0, nil
		case OpNe:
			return cmp != 0, nil
		case OpLt:
			return cmp < 0, nil
		case OpLe:
			return cmp <= 0, nil
		case OpGt:
			return cmp > 0, nil
		case OpGe:
			return cmp >= 0, nil
		default:
			return false, fmt.Errorf("match: unsupported operator %q", n.Op)
		}
	case IsNull:
		v, ok := get(n.Column)
		if !ok {
			return false, fmt.Errorf("match: unknown column %q", n.Column)
		}
		return v == nil, nil
	case NotNull:
		v, ok := get(n.Column)
		if !ok {
			return false, fmt.Errorf("match: unknown column %q", n.Column)
		}
		return v != nil, nil
	case In:
		v, ok := get(n.Column)
		if !ok {
			return false, fmt.Errorf("match: unknown column %q", n.Column)
		}
		if v == nil {
			return false, nil
		}
		for _, candidate := range n.Values {
			if candidate == nil {
				continue
			}
			cmp, err := compareValues(v, candidate)
			if err != nil {
				return false, fmt.Errorf("match %q: %w", n.Column, err)
			}
			if cmp == 0 {
				return true, nil
			}
		}
		return false, nil
	case Like:
		v, ok := get(n.Column)
		if !ok {
			return false, fmt.Errorf("match: unknown column %q", n.Column)
		}
		s, isStr := v.(string)
		if !isStr {
			return false, nil
		}
		return matchLike(n.Pattern, s), nil
	case And:
		for _, child := range n.Exprs {
			ok, err := Match(child, get)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case Or:
		for _, child := range n.Exprs {
			ok, err := Match(child, get)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case Not:
		ok, err := Match(n.Expr, get)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case nil:
		return false, fmt.Errorf("match: nil expression")
	default:
		return false, fmt.Errorf("match: unsupported expression type: %T", e)
	}
}

// compareValues orders two scalar values of compatible kinds.
// Integers and floats compare across kinds; everything else requires the
// same kind on both sides.
func compareValues(a, b any) (int, error) {
	if af, aNum := asFloat(a); aNum {
		bf, bNum := asFloat(b)
		if !bNum {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, fmt.Errorf("cannot compare string with %T", b)
		}
		return strings.Compare(av, bv), nil
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, fmt.Errorf("cannot compare bool with %T", b)
		}
		switch {
		case av == bv:
			return 0, nil
		case !av:
			return -1, nil
		default:
			return 1, nil
		}
	case []byte:
		bv, ok := b.([]byte)
		if !ok {
			return 0, fmt.Errorf("cannot compare []byte with %T", b)
		}
		return bytes.Compare(av, bv), nil
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, fmt.Errorf("cannot compare time.Time with %T", b)
		}
		return av.Compare(bv), nil
	case uuid.UUID:
		bv, ok := b.(uuid.UUID)
		if !ok {
			return 0, fmt.Errorf("cannot compare uuid.UUID with %T", b)
		}
		return bytes.Compare(av[:], bv[:]), nil
	default:
		return 0, fmt.Errorf("cannot compare values of type %T", a)
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// matchLike evaluates a SQL LIKE pattern (% and _ wildcards, no escape
// support) against s, case-sensitively.
func matchLike(pattern, s string) bool {
	return likeAt(pattern, s)
}

func likeAt(pattern, s string) bool {
	if pattern == "" {
		return s == ""
	}
	switch pattern[0] {
	case '%':
		// Greedy is unnecessary; try every split point.
		for i := 0; i <= len(s); i++ {
			if likeAt(pattern[1:], s[i:]) {
				return true
			}
		}
		return false
	case '_':
		if s == "" {
			return false
		}
		return likeAt(pattern[1:], s[1:])
	default:
		if s == "" || s[0] != pattern[0] {
			return false
		}
		return likeAt(pattern[1:], s[1:])
	}
}
