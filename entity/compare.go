package entity

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/grantdesk/grantdesk/internal/recsort"
)

// Equal reports whether two record values are the same. Numbers compare by
// value regardless of their Go type, times compare as instants and everything
// else is compared deeply.
func Equal(a, b interface{}) bool {
	a, b = Normalize(a), Normalize(b)

	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Equal(bt)
		}
		if bs, ok := b.(string); ok {
			return Timestamp(at) == bs
		}
		return false
	}
	if bt, ok := b.(time.Time); ok {
		return Equal(bt, a)
	}

	return reflect.DeepEqual(a, b)
}

// Compare orders two record values. nil sorts before everything else, numbers
// compare numerically, and all other values compare by their string form. It
// returns a negative number if a < b, 0 if equal, and a positive number
// otherwise.
func Compare(a, b interface{}) int {
	a, b = Normalize(a), Normalize(b)

	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}

	return strings.Compare(sortString(a), sortString(b))
}

// Contains reports whether the string form of v contains term, ignoring case.
func Contains(v interface{}, term string) bool {
	if v == nil {
		return false
	}
	return strings.Contains(strings.ToLower(sortString(v)), strings.ToLower(term))
}

// SortAndPage applies the sorting and paging in opts to recs, which is not
// modified.
func SortAndPage(recs []Record, opts ListOptions) []Record {
	col, desc := opts.SortColumn()
	if col != "" {
		recs = recsort.By(recs, func(l, r Record) bool {
			cmp := Compare(l[col], r[col])
			if desc {
				return cmp > 0
			}
			return cmp < 0
		})
	}

	return recsort.Page(recs, opts.Offset, opts.Limit)
}

func toFloat(v interface{}) (float64, bool) {
	switch typed := v.(type) {
	case int64:
		return float64(typed), true
	case float64:
		return typed, true
	case uint:
		return float64(typed), true
	case uint64:
		return float64(typed), true
	case int8:
		return float64(typed), true
	case int16:
		return float64(typed), true
	case uint8:
		return float64(typed), true
	case uint16:
		return float64(typed), true
	case uint32:
		return float64(typed), true
	default:
		return 0, false
	}
}

func sortString(v interface{}) string {
	switch typed := v.(type) {
	case string:
		return typed
	case time.Time:
		return Timestamp(typed)
	case []byte:
		return string(typed)
	default:
		return fmt.Sprintf("%v", typed)
	}
}
