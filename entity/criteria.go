package entity

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/grantdesk/grantdesk"
)

// Op is the comparison a Condition makes.
type Op int

const (
	OpEq Op = iota
	OpIn
)

func (op Op) String() string {
	switch op {
	case OpEq:
		return "="
	case OpIn:
		return "IN"
	default:
		return fmt.Sprintf("Op(%d)", int(op))
	}
}

// Condition is a single normalized constraint of a Criteria. For OpEq, Values
// holds exactly one value. For OpIn it holds the set, which may be empty.
type Condition struct {
	Column string
	Op     Op
	Values []interface{}
}

// Conditions converts c into its constraints, ordered by column name. Keys
// whose value is nil are dropped. Slices and arrays (other than []byte)
// become OpIn, everything else OpEq. Map values and invalid column names give
// an error matching grantdesk.ErrBadArgument.
func (c Criteria) Conditions() ([]Condition, error) {
	cols := make([]string, 0, len(c))
	for k := range c {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	var conds []Condition
	for _, col := range cols {
		v := c[col]
		if isNil(v) {
			continue
		}
		if err := ValidateName(col); err != nil {
			return nil, err
		}

		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Map, reflect.Struct:
			if _, isTime := v.(interface{ Unix() int64 }); !isTime {
				return nil, grantdesk.NewError(fmt.Sprintf("%s: unsupported criteria value of type %T", col, v), grantdesk.ErrBadArgument)
			}
			conds = append(conds, Condition{Column: col, Op: OpEq, Values: []interface{}{v}})
		case reflect.Slice, reflect.Array:
			if _, isBytes := v.([]byte); isBytes {
				conds = append(conds, Condition{Column: col, Op: OpEq, Values: []interface{}{v}})
				continue
			}
			set := make([]interface{}, rv.Len())
			for i := 0; i < rv.Len(); i++ {
				set[i] = Normalize(rv.Index(i).Interface())
			}
			conds = append(conds, Condition{Column: col, Op: OpIn, Values: set})
		default:
			conds = append(conds, Condition{Column: col, Op: OpEq, Values: []interface{}{Normalize(v)}})
		}
	}

	return conds, nil
}

// Matches returns whether rec satisfies every condition. It is used by
// backends that filter in process.
func Matches(rec Record, conds []Condition) bool {
	for _, cond := range conds {
		actual, ok := rec[cond.Column]
		if !ok || actual == nil {
			return false
		}

		matched := false
		for _, want := range cond.Values {
			if Equal(actual, want) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	default:
		return false
	}
}
