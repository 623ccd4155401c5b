package entity

import (
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/grantdesk/grantdesk"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func Test_Criteria_Conditions(t *testing.T) {
	var nilSlice []string
	var nilMap map[string]interface{}
	var nilPtr *int
	when := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	testCases := []struct {
		name      string
		crit      Criteria
		expect    []Condition
		expectErr error
	}{
		{
			name:   "nil criteria",
			crit:   nil,
			expect: nil,
		},
		{
			name:   "nil value is dropped",
			crit:   Criteria{"a": 1, "b": nil},
			expect: []Condition{{Column: "a", Op: OpEq, Values: []interface{}{int64(1)}}},
		},
		{
			name:   "typed nils are dropped",
			crit:   Criteria{"a": nilSlice, "b": nilMap, "c": nilPtr},
			expect: nil,
		},
		{
			name: "slice becomes set membership",
			crit: Criteria{"a": []int{1, 2}},
			expect: []Condition{
				{Column: "a", Op: OpIn, Values: []interface{}{int64(1), int64(2)}},
			},
		},
		{
			name:   "empty slice is an empty set",
			crit:   Criteria{"a": []string{}},
			expect: []Condition{{Column: "a", Op: OpIn, Values: []interface{}{}}},
		},
		{
			name:   "bytes compare as a whole",
			crit:   Criteria{"a": []byte("xy")},
			expect: []Condition{{Column: "a", Op: OpEq, Values: []interface{}{[]byte("xy")}}},
		},
		{
			name:   "time is a scalar",
			crit:   Criteria{"created_date": when},
			expect: []Condition{{Column: "created_date", Op: OpEq, Values: []interface{}{when}}},
		},
		{
			name:   "json numbers are normalized",
			crit:   Criteria{"amount": json.Number("12.5")},
			expect: []Condition{{Column: "amount", Op: OpEq, Values: []interface{}{12.5}}},
		},
		{
			name: "columns come out sorted",
			crit: Criteria{"status": "paid", "client_id": "c1"},
			expect: []Condition{
				{Column: "client_id", Op: OpEq, Values: []interface{}{"c1"}},
				{Column: "status", Op: OpEq, Values: []interface{}{"paid"}},
			},
		},
		{
			name:      "map value is rejected",
			crit:      Criteria{"a": map[string]interface{}{"gt": 1}},
			expectErr: grantdesk.ErrBadArgument,
		},
		{
			name:      "struct value is rejected",
			crit:      Criteria{"a": struct{ X int }{1}},
			expectErr: grantdesk.ErrBadArgument,
		},
		{
			name:      "bad column name is rejected",
			crit:      Criteria{"a b": 1},
			expectErr: grantdesk.ErrBadArgument,
		},
		{
			name:   "bad column name with nil value is ignored",
			crit:   Criteria{"a b": nil},
			expect: nil,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			actual, err := tc.crit.Conditions()

			if tc.expectErr != nil {
				assert.ErrorIs(err, tc.expectErr)
				return
			}
			if !assert.NoError(err) {
				return
			}
			assert.Equal(tc.expect, actual)
		})
	}
}

func Test_Criteria_Conditions_properties(t *testing.T) {
	valueGen := rapid.Custom(func(t *rapid.T) interface{} {
		switch rapid.IntRange(0, 3).Draw(t, "kind") {
		case 0:
			return nil
		case 1:
			return rapid.Int64().Draw(t, "int")
		case 2:
			return rapid.String().Draw(t, "str")
		default:
			return rapid.SliceOf(rapid.Int()).Draw(t, "set")
		}
	})

	rapid.Check(t, func(t *rapid.T) {
		crit := Criteria(rapid.MapOf(rapid.StringMatching(`[a-z_][a-z0-9_]{0,8}`), valueGen).Draw(t, "crit"))

		conds, err := crit.Conditions()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		cols := make([]string, len(conds))
		for i, c := range conds {
			cols[i] = c.Column
		}
		if !sort.StringsAreSorted(cols) {
			t.Fatalf("columns not sorted: %v", cols)
		}

		expectCount := 0
		for col, v := range crit {
			if isNil(v) {
				continue
			}
			expectCount++

			var found *Condition
			for i := range conds {
				if conds[i].Column == col {
					found = &conds[i]
				}
			}
			if found == nil {
				t.Fatalf("non-nil column %q missing from conditions", col)
			}
			if set, ok := v.([]int); ok {
				if found.Op != OpIn || len(found.Values) != len(set) {
					t.Fatalf("column %q: want IN of %d values, got %s of %d", col, len(set), found.Op, len(found.Values))
				}
			} else if found.Op != OpEq || len(found.Values) != 1 {
				t.Fatalf("column %q: want = of one value, got %s of %d", col, found.Op, len(found.Values))
			}
		}
		if expectCount != len(conds) {
			t.Fatalf("want %d conditions, got %d", expectCount, len(conds))
		}
	})
}

func Test_Matches(t *testing.T) {
	rec := Record{"id": "p1", "amount": int64(500), "status": "paid", "note": nil}

	testCases := []struct {
		name   string
		crit   Criteria
		expect bool
	}{
		{name: "no conditions", crit: nil, expect: true},
		{name: "equal string", crit: Criteria{"status": "paid"}, expect: true},
		{name: "equal number of other type", crit: Criteria{"amount": 500.0}, expect: true},
		{name: "unequal", crit: Criteria{"status": "due"}, expect: false},
		{name: "in set", crit: Criteria{"status": []string{"due", "paid"}}, expect: true},
		{name: "not in set", crit: Criteria{"status": []string{"due"}}, expect: false},
		{name: "empty set", crit: Criteria{"status": []string{}}, expect: false},
		{name: "missing column", crit: Criteria{"grant": "g1"}, expect: false},
		{name: "null column never equals", crit: Criteria{"note": ""}, expect: false},
		{name: "all must hold", crit: Criteria{"status": "paid", "amount": 1}, expect: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			conds, err := tc.crit.Conditions()
			if !assert.NoError(err) {
				return
			}

			assert.Equal(tc.expect, Matches(rec, conds))
		})
	}
}

func Test_ListOptions_Validate(t *testing.T) {
	testCases := []struct {
		name      string
		opts      ListOptions
		expectErr bool
	}{
		{name: "zero value", opts: ListOptions{}},
		{name: "ascending sort", opts: ListOptions{Sort: "name"}},
		{name: "descending sort", opts: ListOptions{Sort: "-created_date", Limit: 5}},
		{name: "negative limit", opts: ListOptions{Limit: -1}, expectErr: true},
		{name: "negative offset", opts: ListOptions{Offset: -3}, expectErr: true},
		{name: "injection in sort", opts: ListOptions{Sort: "name; DROP TABLE x"}, expectErr: true},
		{name: "bare dash", opts: ListOptions{Sort: "-"}, expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			err := tc.opts.Validate()

			if tc.expectErr {
				assert.ErrorIs(err, grantdesk.ErrBadArgument)
			} else {
				assert.NoError(err)
			}
		})
	}
}
