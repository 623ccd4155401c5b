package middle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/grantdesk/grantdesk"
	"github.com/stretchr/testify/assert"
)

func reqWithContextValues(values map[ctxKey]interface{}) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := req.Context()

	for k, v := range values {
		ctx = context.WithValue(ctx, k, v)
	}

	return req.WithContext(ctx)
}

type stubAuthenticator struct {
	user     grantdesk.AuthUser
	loggedIn bool
	err      error
}

func (sa stubAuthenticator) Authenticate(req *http.Request) (grantdesk.AuthUser, bool, error) {
	return sa.user, sa.loggedIn, sa.err
}

func (sa stubAuthenticator) UnauthDelay() time.Duration {
	return 0
}

// stubResponses implements only the parts of ResponseGenerator middleware
// uses.
type stubResponses struct {
	grantdesk.ResponseGenerator
	logged *int
}

func (sr stubResponses) Unauthorized(userMsg string, internalMsg ...interface{}) grantdesk.Result {
	return grantdesk.Result{Status: http.StatusUnauthorized, IsErr: true, IsJSON: true, Resp: grantdesk.ErrorResponse{Error: "unauthorized", Status: http.StatusUnauthorized}}
}

func (sr stubResponses) TextErr(status int, userMsg, internalMsg string, v ...interface{}) grantdesk.Result {
	return grantdesk.Result{Status: status, IsErr: true, Resp: userMsg}
}

func (sr stubResponses) LogResponse(req *http.Request, r grantdesk.Result) {
	*sr.logged++
}

func Test_GetLoggedInUser(t *testing.T) {
	testCases := []struct {
		name           string
		req            *http.Request
		expectUser     grantdesk.AuthUser
		expectLoggedIn bool
	}{
		{
			name:           "no user present",
			req:            httptest.NewRequest(http.MethodGet, "/", nil),
			expectUser:     grantdesk.AuthUser{},
			expectLoggedIn: false,
		},
		{
			name: "user is logged in",
			req: reqWithContextValues(map[ctxKey]interface{}{
				ctxKeyUser:     grantdesk.AuthUser{Email: "writer@example.com"},
				ctxKeyLoggedIn: true,
			}),
			expectUser:     grantdesk.AuthUser{Email: "writer@example.com"},
			expectLoggedIn: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			actualUser, actualLoggedIn := GetLoggedInUser(tc.req)

			assert.Equal(tc.expectUser, actualUser)
			assert.Equal(tc.expectLoggedIn, actualLoggedIn)
		})
	}
}

func Test_Provider_auth(t *testing.T) {
	someone := grantdesk.AuthUser{ID: "u1", Email: "writer@example.com", Role: grantdesk.Normal}

	testCases := []struct {
		name           string
		required       bool
		authent        stubAuthenticator
		expectStatus   int
		expectLoggedIn bool
		expectUser     grantdesk.AuthUser
	}{
		{name: "required, logged in", required: true, authent: stubAuthenticator{user: someone, loggedIn: true}, expectStatus: http.StatusOK, expectLoggedIn: true, expectUser: someone},
		{name: "required, no credentials", required: true, authent: stubAuthenticator{}, expectStatus: http.StatusUnauthorized},
		{name: "required, bad credentials", required: true, authent: stubAuthenticator{err: grantdesk.ErrBadCredentials}, expectStatus: http.StatusUnauthorized},
		{name: "optional, logged in", authent: stubAuthenticator{user: someone, loggedIn: true}, expectStatus: http.StatusOK, expectLoggedIn: true, expectUser: someone},
		{name: "optional, no credentials", authent: stubAuthenticator{}, expectStatus: http.StatusOK},
		{name: "optional, bad credentials", authent: stubAuthenticator{user: someone, err: errors.New("bad token")}, expectStatus: http.StatusOK},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)
			var p Provider
			logged := 0
			resp := stubResponses{logged: &logged}
			if !assert.NoError(p.RegisterAuthenticator("test.stub", tc.authent)) {
				return
			}

			var gotUser grantdesk.AuthUser
			var gotLoggedIn bool
			next := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				gotUser, gotLoggedIn = GetLoggedInUser(req)
				w.WriteHeader(http.StatusOK)
			})

			var mw grantdesk.Middleware
			if tc.required {
				mw = p.RequiredAuth(resp, "TEST.stub")
			} else {
				mw = p.OptionalAuth(resp, "test.stub")
			}

			w := httptest.NewRecorder()
			mw(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(tc.expectStatus, w.Code)
			assert.Equal(tc.expectLoggedIn, gotLoggedIn)
			assert.Equal(tc.expectUser, gotUser)
			if tc.expectStatus == http.StatusUnauthorized {
				assert.Equal(1, logged)
			}
		})
	}
}

func Test_Provider_SelectAuthenticator(t *testing.T) {
	assert := assert.New(t)
	var p Provider
	first := stubAuthenticator{user: grantdesk.AuthUser{ID: "first"}}
	second := stubAuthenticator{user: grantdesk.AuthUser{ID: "second"}}

	assert.NoError(p.RegisterAuthenticator("a.first", first))
	assert.NoError(p.RegisterAuthenticator("a.second", second))
	assert.Error(p.RegisterAuthenticator("A.First", second), "names are case-insensitive")
	assert.Error(p.RegisterAuthenticator("a.nil", nil))

	assert.Equal(second, p.SelectAuthenticator("missing", "a.second", "a.first"))
	assert.IsType(noopAuthenticator{}, p.SelectAuthenticator())
	assert.Panics(func() { p.SelectAuthenticator("missing") })

	assert.Error(p.RegisterMainAuthenticator("missing"))
	assert.NoError(p.RegisterMainAuthenticator("A.FIRST"))
	assert.Equal(first, p.SelectAuthenticator())
}

func Test_Provider_DontPanic(t *testing.T) {
	assert := assert.New(t)
	var p Provider
	logged := 0

	h := p.DontPanic(stubResponses{logged: &logged})(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		panic("grant deadline missed")
	}))

	w := httptest.NewRecorder()
	assert.NotPanics(func() {
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(http.StatusInternalServerError, w.Code)
	assert.Equal("An internal server error occurred", w.Body.String())
	assert.Equal(1, logged)
}
