package grantdesk

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_PathParam(t *testing.T) {
	testCases := []struct {
		name   string
		input  string
		expect string
	}{
		{name: "name only", input: "id", expect: "{id}"},
		{name: "known type", input: "id:num", expect: `{id:\d+}`},
		{name: "ident type", input: "entity:ident", expect: `{entity:[A-Za-z_][A-Za-z0-9_]*}`},
		{name: "literal regex", input: "code:[A-Z]{2}", expect: "{code:[A-Z]{2}}"},
		{name: "empty type", input: "id:", expect: "{id}"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			assert.Equal(tc.expect, PathParam(tc.input))
		})
	}
}

func Test_UnPathParam(t *testing.T) {
	testCases := []struct {
		name   string
		input  string
		expect string
	}{
		{name: "no params", input: "/api/auth/login", expect: "/api/auth/login"},
		{name: "bare param kept", input: "/api/{id}", expect: "/api/{id}"},
		{
			name:   "typed params",
			input:  "/api/entities/" + PathParam("entity:ident") + "/" + PathParam("id:uuid"),
			expect: "/api/entities/{entity}/{id}",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			assert.Equal(tc.expect, UnPathParam(tc.input))
		})
	}
}

func Test_ParseJSONRequest(t *testing.T) {
	testCases := []struct {
		name        string
		contentType string
		body        string
		expect      map[string]interface{}
		expectErr   bool
	}{
		{
			name:        "numbers are kept exact",
			contentType: "application/json; charset=utf-8",
			body:        `{"name": "Riverside Arts", "budget": 120000}`,
			expect:      map[string]interface{}{"name": "Riverside Arts", "budget": json.Number("120000")},
		},
		{
			name:        "wrong content type",
			contentType: "text/plain",
			body:        `{"name": "Riverside Arts"}`,
			expectErr:   true,
		},
		{
			name:        "malformed body",
			contentType: "application/json",
			body:        `{"name": `,
			expectErr:   true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)
			req := httptest.NewRequest("POST", "/api/entities/organizations", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", tc.contentType)

			var actual map[string]interface{}
			err := ParseJSONRequest(req, &actual)

			if tc.expectErr {
				assert.ErrorIs(err, ErrBodyUnmarshal)
				return
			}
			if !assert.NoError(err) {
				return
			}
			assert.Equal(tc.expect, actual)

			again, err := io.ReadAll(req.Body)
			assert.NoError(err)
			assert.Equal(tc.body, string(again), "body can be read again")
		})
	}
}

func Test_ParseRole(t *testing.T) {
	testCases := []struct {
		input     string
		expect    Role
		expectErr bool
	}{
		{input: "", expect: Guest},
		{input: "guest", expect: Guest},
		{input: "Client", expect: Client},
		{input: "normal", expect: Normal},
		{input: "ADMIN", expect: Admin},
		{input: "root", expect: Guest, expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			assert := assert.New(t)

			actual, err := ParseRole(tc.input)

			if tc.expectErr {
				assert.Error(err)
			} else {
				assert.NoError(err)
			}
			assert.Equal(tc.expect, actual)
		})
	}
}

func Test_Role_String_roundTrip(t *testing.T) {
	for _, r := range []Role{Guest, Client, Normal, Admin} {
		actual, err := ParseRole(r.String())
		assert.NoError(t, err)
		assert.Equal(t, r, actual)
	}
	assert.Equal(t, "Role(7)", Role(7).String())
}
