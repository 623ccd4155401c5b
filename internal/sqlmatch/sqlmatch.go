// Package sqlmatch contains argument matchers for use with DATA-DOG/go-sqlmock
// when testing code that stores records in SQL tables.
package sqlmatch

import (
	"database/sql/driver"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AnyUUID matches any UUID encoded as a string, as 16 raw bytes, or directly as
// a uuid.UUID.
type AnyUUID struct{}

func (m AnyUUID) Match(v driver.Value) bool {
	switch typed := v.(type) {
	case string:
		_, err := uuid.Parse(typed)
		return err == nil
	case []byte:
		_, err := uuid.FromBytes(typed)
		return err == nil
	case uuid.UUID:
		return true
	default:
		return false
	}
}

// AnyTime matches any time encoded as an RFC 3339 string, a unix timestamp, or
// directly as a time.Time.
//
// If Except is set, the given time does not match. If After or Before is set,
// only times after or before the given one match. Set conditions are AND'd
// together.
type AnyTime struct {
	Except *time.Time
	After  *time.Time
	Before *time.Time
}

func (m AnyTime) Match(v driver.Value) bool {
	var t time.Time

	switch typed := v.(type) {
	case string:
		var err error
		t, err = time.Parse(time.RFC3339Nano, typed)
		if err != nil {
			return false
		}
	case int64:
		t = time.Unix(typed, 0)
	case time.Time:
		t = typed
	default:
		return false
	}

	if m.Except != nil && t.Equal(*m.Except) {
		return false
	}
	if m.After != nil && !t.After(*m.After) {
		return false
	}
	if m.Before != nil && !t.Before(*m.Before) {
		return false
	}
	return true
}

// JSONOf matches a string or []byte argument holding JSON that, once spaces
// are removed, is exactly Text.
type JSONOf struct {
	Text string
}

func (m JSONOf) Match(v driver.Value) bool {
	var s string
	switch typed := v.(type) {
	case string:
		s = typed
	case []byte:
		s = string(typed)
	default:
		return false
	}
	return strings.ReplaceAll(s, " ", "") == strings.ReplaceAll(m.Text, " ", "")
}
