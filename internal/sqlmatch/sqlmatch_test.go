package sqlmatch

import (
	"database/sql/driver"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func Test_AnyUUID_Match(t *testing.T) {
	var nilByteSlice []byte

	testCases := []struct {
		name   string
		input  driver.Value
		expect bool
	}{
		{name: "string - valid", input: "9c9ca5e9-4305-4bfa-ab0d-a9e08ceb3c7b", expect: true},
		{name: "string - null uuid", input: "00000000-0000-0000-0000-000000000000", expect: true},
		{name: "string - empty", input: "", expect: false},
		{name: "string - invalid", input: "not a UUID", expect: false},
		{
			name:   "[]byte - valid",
			input:  []byte{0x67, 0x60, 0x02, 0x42, 0xd9, 0xad, 0x48, 0x1e, 0xae, 0x4b, 0xa5, 0x40, 0x12, 0x62, 0xaa, 0x5a},
			expect: true,
		},
		{name: "[]byte - empty", input: []byte{}, expect: false},
		{name: "[]byte - nil", input: nilByteSlice, expect: false},
		{name: "uuid.UUID", input: uuid.New(), expect: true},
		{name: "int64", input: int64(8), expect: false},
		{name: "nil", input: nil, expect: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			actual := AnyUUID{}.Match(tc.input)

			assert.Equal(tc.expect, actual)
		})
	}
}

func Test_AnyTime_Match(t *testing.T) {
	ref := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	earlier := ref.Add(-time.Hour)
	later := ref.Add(time.Hour)

	testCases := []struct {
		name   string
		m      AnyTime
		input  driver.Value
		expect bool
	}{
		{name: "rfc3339 string", m: AnyTime{}, input: "2024-03-01T12:00:00Z", expect: true},
		{name: "rfc3339 string with nanos", m: AnyTime{}, input: "2024-03-01T12:00:00.123456789Z", expect: true},
		{name: "unparsable string", m: AnyTime{}, input: "yesterday", expect: false},
		{name: "unix int64", m: AnyTime{}, input: ref.Unix(), expect: true},
		{name: "time.Time", m: AnyTime{}, input: ref, expect: true},
		{name: "float", m: AnyTime{}, input: 1.5, expect: false},
		{name: "except - same time", m: AnyTime{Except: &ref}, input: ref, expect: false},
		{name: "except - other time", m: AnyTime{Except: &ref}, input: later, expect: true},
		{name: "after - later", m: AnyTime{After: &ref}, input: later, expect: true},
		{name: "after - earlier", m: AnyTime{After: &ref}, input: earlier, expect: false},
		{name: "before - earlier", m: AnyTime{Before: &ref}, input: earlier, expect: true},
		{name: "before - same", m: AnyTime{Before: &ref}, input: ref, expect: false},
		{name: "window - inside", m: AnyTime{After: &earlier, Before: &later}, input: ref, expect: true},
		{name: "window - outside", m: AnyTime{After: &earlier, Before: &ref}, input: later, expect: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			actual := tc.m.Match(tc.input)

			assert.Equal(tc.expect, actual)
		})
	}
}

func Test_JSONOf_Match(t *testing.T) {
	testCases := []struct {
		name   string
		m      JSONOf
		input  driver.Value
		expect bool
	}{
		{name: "exact", m: JSONOf{Text: `{"a":1}`}, input: `{"a":1}`, expect: true},
		{name: "spacing ignored", m: JSONOf{Text: `{"a": 1}`}, input: []byte(`{"a":1}`), expect: true},
		{name: "different", m: JSONOf{Text: `{"a":1}`}, input: `{"a":2}`, expect: false},
		{name: "not text", m: JSONOf{Text: `1`}, input: int64(1), expect: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			actual := tc.m.Match(tc.input)

			assert.Equal(tc.expect, actual)
		})
	}
}
