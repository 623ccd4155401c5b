// Package entity provides generic access to records stored one table per
// entity type. A Repo exposes a fixed vocabulary of verbs (list, filter, get,
// create, update, delete, createMany, search, count) and forwards each to its
// backing store as a single query. Backends live in the sqlite, inmem and
// dynamo sub-packages; the client package provides one over HTTP.
package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/grantdesk/grantdesk"
)

const (
	// FieldID is the key every record is identified by.
	FieldID = "id"

	// FieldCreated and FieldUpdated are maintained by the backends.
	FieldCreated = "created_date"
	FieldUpdated = "updated_date"
)

var identRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Record is a single schemaless entity.
type Record map[string]interface{}

// Criteria constrains which records a filter or count applies to. Nil values
// place no constraint on their column, slice values match any member of the
// slice, and any other value must be equal.
type Criteria map[string]interface{}

// ListOptions controls the ordering and paging of multi-record results.
type ListOptions struct {
	// Sort is the column to sort by. Prefix it with "-" for descending order.
	// If empty, records are returned in the backend's natural order.
	Sort string

	// Limit is the maximum number of records to return. 0 means no limit.
	Limit int

	// Offset is the number of records to skip.
	Offset int
}

// SortColumn splits Sort into its column and direction.
func (o ListOptions) SortColumn() (column string, desc bool) {
	if strings.HasPrefix(o.Sort, "-") {
		return o.Sort[1:], true
	}
	return o.Sort, false
}

// Validate returns an error matching grantdesk.ErrBadArgument if o cannot be
// used for a query.
func (o ListOptions) Validate() error {
	if o.Limit < 0 {
		return grantdesk.NewError("limit cannot be negative", grantdesk.ErrBadArgument)
	}
	if o.Offset < 0 {
		return grantdesk.NewError("offset cannot be negative", grantdesk.ErrBadArgument)
	}
	if o.Sort != "" {
		col, _ := o.SortColumn()
		if err := ValidateName(col); err != nil {
			return grantdesk.NewError("sort", err)
		}
	}
	return nil
}

// Repo provides the entity verbs for a single table. Every method issues at
// most one query to the backend and returns its error; errors caused by the
// backend match grantdesk.ErrDB and the error reported by the backend itself.
type Repo interface {
	// Name returns the name of the entity the Repo is for.
	Name() string

	// List returns all records.
	List(ctx context.Context, opts ListOptions) ([]Record, error)

	// Filter returns all records matching the criteria.
	Filter(ctx context.Context, crit Criteria, opts ListOptions) ([]Record, error)

	// Get returns the record with the given ID. If there is none, the error
	// matches grantdesk.ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)

	// Create inserts a new record and returns it as stored. If the record has
	// no ID, one is generated.
	Create(ctx context.Context, rec Record) (Record, error)

	// Update sets the fields in patch on the record with the given ID and
	// returns the record as stored. If there is none, the error matches
	// grantdesk.ErrNotFound.
	Update(ctx context.Context, id string, patch Record) (Record, error)

	// Delete removes the record with the given ID and returns it as it was
	// just before deletion. If there is none, the error matches
	// grantdesk.ErrNotFound.
	Delete(ctx context.Context, id string) (Record, error)

	// CreateMany inserts all the records and returns them as stored.
	CreateMany(ctx context.Context, recs []Record) ([]Record, error)

	// Search returns every record whose column contains term, ignoring case.
	// Case is folded with Unicode rules, as Contains does, on every backend.
	Search(ctx context.Context, column, term string) ([]Record, error)

	// Count returns the number of records matching the criteria.
	Count(ctx context.Context, crit Criteria) (int, error)
}

// Store hands out Repos for entities by name.
type Store interface {
	grantdesk.Store

	// Entity returns the Repo for the named entity. If the name is not a
	// valid identifier, every call on the returned Repo fails with an error
	// matching grantdesk.ErrBadArgument.
	Entity(name string) Repo
}

// ValidateName returns an error matching grantdesk.ErrBadArgument if name
// cannot be used as an entity or column name.
func ValidateName(name string) error {
	if !identRegex.MatchString(name) {
		return grantdesk.NewError(fmt.Sprintf("%q is not a valid name", name), grantdesk.ErrBadArgument)
	}
	return nil
}

// ID returns the record's ID, or "" if it has none.
func (r Record) ID() string {
	return r.String(FieldID)
}

// String returns the value of key formatted as a string. nil and missing
// values give "".
func (r Record) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	switch typed := v.(type) {
	case string:
		return typed
	case []byte:
		return string(typed)
	default:
		return fmt.Sprintf("%v", typed)
	}
}

// Int returns the value of key as an int64 and whether it held a number.
func (r Record) Int(key string) (int64, bool) {
	switch typed := Normalize(r[key]).(type) {
	case int64:
		return typed, true
	case float64:
		return int64(typed), true
	case bool:
		if typed {
			return 1, true
		}
		return 0, true
	case string:
		n, err := strconv.ParseInt(typed, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Bool returns the value of key as a bool. Numbers are true if non-zero.
func (r Record) Bool(key string) bool {
	switch typed := Normalize(r[key]).(type) {
	case bool:
		return typed
	case int64:
		return typed != 0
	case float64:
		return typed != 0
	case string:
		b, _ := strconv.ParseBool(typed)
		return b
	default:
		return false
	}
}

// Time returns the value of key as a time. RFC 3339 strings and unix
// timestamps are understood; anything else gives the zero time.
func (r Record) Time(key string) time.Time {
	switch typed := Normalize(r[key]).(type) {
	case time.Time:
		return typed
	case string:
		t, err := time.Parse(time.RFC3339Nano, typed)
		if err != nil {
			return time.Time{}
		}
		return t
	case int64:
		return time.Unix(typed, 0)
	case float64:
		return time.Unix(int64(typed), 0)
	default:
		return time.Time{}
	}
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return cloneValue(map[string]interface{}(r)).(map[string]interface{})
}

func cloneValue(v interface{}) interface{} {
	switch typed := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(typed))
		for k, val := range typed {
			m[k] = cloneValue(val)
		}
		return m
	case Record:
		return Record(cloneValue(map[string]interface{}(typed)).(map[string]interface{}))
	case []interface{}:
		s := make([]interface{}, len(typed))
		for i := range typed {
			s[i] = cloneValue(typed[i])
		}
		return s
	default:
		return v
	}
}

// Timestamp formats t the way backends store created_date and updated_date.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Normalize converts decoded JSON numbers to int64 or float64 and applies the
// same to the members of maps and slices. Other values are returned as-is.
func Normalize(v interface{}) interface{} {
	switch typed := v.(type) {
	case json.Number:
		if n, err := typed.Int64(); err == nil {
			return n
		}
		f, _ := typed.Float64()
		return f
	case int:
		return int64(typed)
	case int32:
		return int64(typed)
	case float32:
		return float64(typed)
	case Record:
		return NormalizeRecord(typed)
	case map[string]interface{}:
		return map[string]interface{}(NormalizeRecord(typed))
	case []interface{}:
		s := make([]interface{}, len(typed))
		for i := range typed {
			s[i] = Normalize(typed[i])
		}
		return s
	default:
		return v
	}
}

// NormalizeRecord returns a copy of rec with Normalize applied to every value.
func NormalizeRecord(rec Record) Record {
	if rec == nil {
		return nil
	}
	norm := make(Record, len(rec))
	for k, v := range rec {
		norm[k] = Normalize(v)
	}
	return norm
}
