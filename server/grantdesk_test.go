package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/grantdesk/grantdesk"
	"github.com/grantdesk/grantdesk/analytics"
	"github.com/grantdesk/grantdesk/auth"
	"github.com/grantdesk/grantdesk/entity"
	"github.com/grantdesk/grantdesk/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stackConfig = `
authenticator: auth.jwt
unauth_delay: -1
dbs:
  main:
    type: inmem
entities:
  enabled: true
auth:
  enabled: true
  secret: "integration-secret-integration-secret"
  unauth_delay: -1
  set_admin: "admin@example.com:admin-pass"
clients:
  enabled: true
  secret: "integration-secret-integration-secret"
  unauth_delay: -1
analytics:
  enabled: true
`

type stack struct {
	t   *testing.T
	srv grantdesk.RESTServer
	web *httptest.Server
}

func newStack(t *testing.T) *stack {
	env := &server.Environment{}
	env.UseComponent(entity.Component{})
	env.UseComponent(auth.Component{})
	env.UseComponent(auth.ClientsComponent{})
	env.UseComponent(analytics.Component{})

	cfg, err := env.DecodeConfig(grantdesk.YAML, []byte(stackConfig))
	require.NoError(t, err)

	srv, err := env.NewServer(&cfg)
	require.NoError(t, err)

	web := httptest.NewServer(srv.Handler())
	t.Cleanup(web.Close)

	return &stack{t: t, srv: srv, web: web}
}

// call sends a JSON request and decodes the JSON response into out, if out is
// not nil. It returns the status code.
func (s *stack) call(method, path, token string, body interface{}, out interface{}) int {
	s.t.Helper()

	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, s.web.URL+path, rdr)
	require.NoError(s.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.web.Client().Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(s.t, err)

	if out != nil && len(respBody) > 0 {
		if sp, ok := out.(*string); ok {
			*sp = string(respBody)
		} else {
			require.NoError(s.t, json.Unmarshal(respBody, out), "body: %s", respBody)
		}
	}
	return resp.StatusCode
}

func (s *stack) signUp(email, password string) string {
	s.t.Helper()

	var user auth.UserModel
	status := s.call(http.MethodPost, "/api/auth/signup", "", auth.SignUpRequest{Email: email, Password: password}, &user)
	require.Equal(s.t, http.StatusCreated, status)
	require.NotEmpty(s.t, user.ID)
	return user.ID
}

func (s *stack) login(email, password string) string {
	s.t.Helper()

	var sess auth.SessionModel
	status := s.call(http.MethodPost, "/api/auth/login", "", auth.LoginRequest{Email: email, Password: password}, &sess)
	require.Equal(s.t, http.StatusCreated, status)
	require.NotEmpty(s.t, sess.Token)
	return sess.Token
}

func (s *stack) adminToken() string {
	s.t.Helper()
	return s.login("admin@example.com", "admin-pass")
}

// staffToken signs up an account, has the admin give it the normal role and
// logs in as it.
func (s *stack) staffToken(email, password string) string {
	s.t.Helper()

	id := s.signUp(email, password)
	status := s.call(http.MethodPatch, "/api/auth/users/"+id, s.adminToken(), auth.RoleRequest{Role: "normal"}, nil)
	require.Equal(s.t, http.StatusOK, status)

	return s.login(email, password)
}

func Test_Server_staffSession(t *testing.T) {
	assert := assert.New(t)
	s := newStack(t)

	tok := s.staffToken("Writer@Example.com", "correct horse")

	var user auth.UserModel
	assert.Equal(http.StatusOK, s.call(http.MethodGet, "/api/auth/user", tok, nil, &user))
	assert.Equal("writer@example.com", user.Email)

	var sess auth.SessionModel
	assert.Equal(http.StatusOK, s.call(http.MethodGet, "/api/auth/session", tok, nil, &sess))
	assert.Equal(user.ID, sess.User.ID)

	assert.Equal(http.StatusUnauthorized, s.call(http.MethodPost, "/api/auth/login", "", auth.LoginRequest{Email: "writer@example.com", Password: "wrong"}, nil))
	assert.Equal(http.StatusConflict, s.call(http.MethodPost, "/api/auth/signup", "", auth.SignUpRequest{Email: "writer@example.com", Password: "again"}, nil))

	assert.Equal(http.StatusNoContent, s.call(http.MethodDelete, "/api/auth/login/"+user.ID, tok, nil, nil))
	assert.Equal(http.StatusUnauthorized, s.call(http.MethodGet, "/api/auth/user", tok, nil, nil), "token is revoked by sign-out")
}

func Test_Server_entities(t *testing.T) {
	assert := assert.New(t)
	s := newStack(t)
	tok := s.staffToken("writer@example.com", "correct horse")

	assert.Equal(http.StatusUnauthorized, s.call(http.MethodGet, "/api/entities/organizations", "", nil, nil))
	assert.Equal(http.StatusNotFound, s.call(http.MethodGet, "/api/entities/auth_users", tok, nil, nil), "auth_users is not exposed")

	var riverside entity.Record
	status := s.call(http.MethodPost, "/api/entities/organizations", tok, map[string]interface{}{"name": "Riverside Arts", "state": "OR", "budget": 120000}, &riverside)
	if !assert.Equal(http.StatusCreated, status) {
		return
	}
	assert.NotEmpty(riverside.ID())

	var bulk []entity.Record
	status = s.call(http.MethodPost, "/api/entities/organizations/bulk", tok, []map[string]interface{}{
		{"name": "Cascade Food Bank", "state": "WA", "budget": 80000},
		{"name": "Oregon Youth Theater", "state": "OR", "budget": 45000},
	}, &bulk)
	assert.Equal(http.StatusCreated, status)
	assert.Len(bulk, 2)

	var listed []entity.Record
	assert.Equal(http.StatusOK, s.call(http.MethodGet, "/api/entities/organizations?sort=-budget&limit=2", tok, nil, &listed))
	if assert.Len(listed, 2) {
		assert.Equal("Riverside Arts", listed[0].String("name"))
		assert.Equal("Cascade Food Bank", listed[1].String("name"))
	}

	var filtered []entity.Record
	assert.Equal(http.StatusOK, s.call(http.MethodPost, "/api/entities/organizations/filter", tok, entity.FilterRequest{Criteria: entity.Criteria{"state": "OR", "name": nil}, Sort: "name"}, &filtered))
	if assert.Len(filtered, 2) {
		assert.Equal("Oregon Youth Theater", filtered[0].String("name"))
	}

	var count entity.CountResponse
	assert.Equal(http.StatusOK, s.call(http.MethodPost, "/api/entities/organizations/count", tok, entity.FilterRequest{}, &count))
	assert.Equal(3, count.Count)

	var found []entity.Record
	assert.Equal(http.StatusOK, s.call(http.MethodGet, "/api/entities/organizations/search?column=name&term=youth", tok, nil, &found))
	assert.Len(found, 1)

	var updated entity.Record
	assert.Equal(http.StatusOK, s.call(http.MethodPatch, "/api/entities/organizations/"+riverside.ID(), tok, map[string]interface{}{"budget": 150000}, &updated))
	budget, _ := updated.Int("budget")
	assert.Equal(int64(150000), budget)
	assert.Equal("Riverside Arts", updated.String("name"))

	assert.Equal(http.StatusOK, s.call(http.MethodDelete, "/api/entities/organizations/"+riverside.ID(), tok, nil, nil))
	assert.Equal(http.StatusNotFound, s.call(http.MethodGet, "/api/entities/organizations/"+riverside.ID(), tok, nil, nil))
}

func Test_Server_signUpIsNotStaff(t *testing.T) {
	assert := assert.New(t)
	s := newStack(t)
	admin := s.adminToken()

	var acme entity.Record
	status := s.call(http.MethodPost, "/api/entities/clients", admin, map[string]interface{}{
		"name":        "Acme Foundation",
		"email":       "acme@example.com",
		"access_code": "SECRET-123",
	}, &acme)
	if !assert.Equal(http.StatusCreated, status) {
		return
	}
	assert.NotContains(acme, "access_code", "access code is never returned")

	strangerID := s.signUp("stranger@example.com", "let me in")
	stranger := s.login("stranger@example.com", "let me in")

	var me auth.UserModel
	assert.Equal(http.StatusOK, s.call(http.MethodGet, "/api/auth/user", stranger, nil, &me))
	assert.Equal("guest", me.Role)

	assert.Equal(http.StatusForbidden, s.call(http.MethodGet, "/api/entities/clients", stranger, nil, nil))
	assert.Equal(http.StatusForbidden, s.call(http.MethodGet, "/api/entities/clients/"+acme.ID(), stranger, nil, nil))
	assert.Equal(http.StatusForbidden, s.call(http.MethodGet, "/api/analytics/preferences/"+acme.ID(), stranger, nil, nil))
	assert.Equal(http.StatusForbidden, s.call(http.MethodPost, "/api/analytics/session", stranger, analytics.SessionStart{ClientID: acme.ID()}, nil))

	// only an admin can hand out roles, and never the client role
	assert.Equal(http.StatusForbidden, s.call(http.MethodPatch, "/api/auth/users/"+strangerID, stranger, auth.RoleRequest{Role: "admin"}, nil))
	assert.Equal(http.StatusBadRequest, s.call(http.MethodPatch, "/api/auth/users/"+strangerID, admin, auth.RoleRequest{Role: "client"}, nil))
	assert.Equal(http.StatusBadRequest, s.call(http.MethodPatch, "/api/auth/users/"+strangerID, admin, auth.RoleRequest{Role: "overlord"}, nil))
	assert.Equal(http.StatusNotFound, s.call(http.MethodPatch, "/api/auth/users/nobody", admin, auth.RoleRequest{Role: "normal"}, nil))

	var promoted auth.UserModel
	assert.Equal(http.StatusOK, s.call(http.MethodPatch, "/api/auth/users/"+strangerID, admin, auth.RoleRequest{Role: "normal"}, &promoted))
	assert.Equal("normal", promoted.Role)

	// staff still never see access codes or query by them
	var listed []entity.Record
	assert.Equal(http.StatusOK, s.call(http.MethodGet, "/api/entities/clients", stranger, nil, &listed))
	if assert.Len(listed, 1) {
		assert.Equal("acme@example.com", listed[0].String("email"))
		assert.NotContains(listed[0], "access_code")
	}
	var got entity.Record
	assert.Equal(http.StatusOK, s.call(http.MethodGet, "/api/entities/clients/"+acme.ID(), stranger, nil, &got))
	assert.NotContains(got, "access_code")

	assert.Equal(http.StatusBadRequest, s.call(http.MethodPost, "/api/entities/clients/filter", stranger, entity.FilterRequest{Criteria: entity.Criteria{"access_code": "SECRET-123"}}, nil))
	assert.Equal(http.StatusBadRequest, s.call(http.MethodPost, "/api/entities/clients/count", stranger, entity.FilterRequest{Criteria: entity.Criteria{"access_code": "SECRET-123"}}, nil))
	assert.Equal(http.StatusBadRequest, s.call(http.MethodGet, "/api/entities/clients/search?column=access_code&term=SECRET", stranger, nil, nil))
	assert.Equal(http.StatusBadRequest, s.call(http.MethodGet, "/api/entities/clients?sort=access_code", stranger, nil, nil))

	// rotating the code through the entity API still works
	var rotated entity.Record
	assert.Equal(http.StatusOK, s.call(http.MethodPatch, "/api/entities/clients/"+acme.ID(), admin, map[string]interface{}{"access_code": "ROTATED-456"}, &rotated))
	assert.NotContains(rotated, "access_code")
	assert.Equal(http.StatusUnauthorized, s.call(http.MethodPost, "/api/clients/login", "", auth.AccessCodeLoginRequest{Email: "acme@example.com", AccessCode: "SECRET-123"}, nil))
	assert.Equal(http.StatusOK, s.call(http.MethodPost, "/api/clients/login", "", auth.AccessCodeLoginRequest{Email: "acme@example.com", AccessCode: "ROTATED-456"}, nil))
}

func (s *stack) clientToken(email, code string) string {
	s.t.Helper()

	var sess auth.ClientSession
	status := s.call(http.MethodPost, "/api/clients/login", "", auth.AccessCodeLoginRequest{Email: email, AccessCode: code}, &sess)
	require.Equal(s.t, http.StatusOK, status)
	return sess.Token
}

func Test_Server_pageViewInOtherClientsSession(t *testing.T) {
	assert := assert.New(t)
	s := newStack(t)
	admin := s.adminToken()

	for _, c := range []map[string]interface{}{
		{"name": "Riverside Arts", "email": "a@riverside.org", "access_code": "CODE-A"},
		{"name": "Cascade Food Bank", "email": "b@cascade.org", "access_code": "CODE-B"},
	} {
		require.Equal(t, http.StatusCreated, s.call(http.MethodPost, "/api/entities/clients", admin, c, nil))
	}
	tokA := s.clientToken("a@riverside.org", "CODE-A")
	tokB := s.clientToken("b@cascade.org", "CODE-B")

	var sessA, sessB entity.Record
	require.Equal(t, http.StatusCreated, s.call(http.MethodPost, "/api/analytics/session", tokA, analytics.SessionStart{}, &sessA))
	require.Equal(t, http.StatusCreated, s.call(http.MethodPost, "/api/analytics/session", tokB, analytics.SessionStart{}, &sessB))

	assert.Equal(http.StatusNotFound, s.call(http.MethodPost, "/api/analytics/pageview", tokA, analytics.PageView{SessionID: sessB.ID(), Path: "/x"}, nil), "session of another client")
	assert.Equal(http.StatusNotFound, s.call(http.MethodPost, "/api/analytics/pageview", tokA, analytics.PageView{SessionID: "no-such-session", Path: "/x"}, nil))
	assert.Equal(http.StatusBadRequest, s.call(http.MethodPost, "/api/analytics/pageview", admin, analytics.PageView{SessionID: sessA.ID(), ClientID: sessB.String("client_id"), Path: "/x"}, nil), "client does not own the session")
	assert.Equal(http.StatusAccepted, s.call(http.MethodPost, "/api/analytics/pageview", tokA, analytics.PageView{SessionID: sessA.ID(), Path: "/mine"}, nil))

	countViews := func(sessionID string) int {
		var count entity.CountResponse
		s.call(http.MethodPost, "/api/entities/page_views/count", admin, entity.FilterRequest{Criteria: entity.Criteria{"session_id": sessionID}}, &count)
		return count.Count
	}
	assert.Eventually(func() bool { return countViews(sessA.ID()) == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(0, countViews(sessB.ID()))

	var got entity.Record
	assert.Equal(http.StatusOK, s.call(http.MethodGet, "/api/entities/analytics_sessions/"+sessB.ID(), admin, nil, &got))
	pages, _ := got.Int("page_count")
	assert.Equal(int64(0), pages)
}

func Test_Server_clientPortal(t *testing.T) {
	assert := assert.New(t)
	s := newStack(t)
	staff := s.staffToken("writer@example.com", "correct horse")

	var client entity.Record
	status := s.call(http.MethodPost, "/api/entities/clients", staff, map[string]interface{}{
		"name":        "Riverside Arts",
		"email":       "director@riverside.org",
		"access_code": "RV-2024",
	}, &client)
	if !assert.Equal(http.StatusCreated, status) {
		return
	}
	clientID := client.ID()

	assert.Equal(http.StatusUnauthorized, s.call(http.MethodPost, "/api/clients/login", "", auth.AccessCodeLoginRequest{Email: "director@riverside.org", AccessCode: "nope"}, nil))

	var sess auth.ClientSession
	status = s.call(http.MethodPost, "/api/clients/login", "", auth.AccessCodeLoginRequest{Email: "Director@Riverside.org", AccessCode: "RV-2024"}, &sess)
	if !assert.Equal(http.StatusOK, status) {
		return
	}
	assert.Equal(clientID, sess.Client.ID())
	assert.NotContains(sess.Client, "access_code")
	tok := sess.Token

	assert.Equal(http.StatusForbidden, s.call(http.MethodGet, "/api/entities/clients", tok, nil, nil), "clients cannot use the entity API")

	var analyticsSession entity.Record
	assert.Equal(http.StatusCreated, s.call(http.MethodPost, "/api/analytics/session", tok, analytics.SessionStart{}, &analyticsSession))
	assert.Equal(clientID, analyticsSession.String("client_id"))
	assert.Equal(http.StatusForbidden, s.call(http.MethodPost, "/api/analytics/session", tok, analytics.SessionStart{ClientID: "someone-else"}, nil))

	assert.Equal(http.StatusAccepted, s.call(http.MethodPost, "/api/analytics/pageview", tok, analytics.PageView{SessionID: analyticsSession.ID(), Path: "/dashboard"}, nil))
	assert.Eventually(func() bool {
		var count entity.CountResponse
		s.call(http.MethodPost, "/api/entities/page_views/count", staff, entity.FilterRequest{Criteria: entity.Criteria{"client_id": clientID}}, &count)
		return count.Count == 1
	}, 5*time.Second, 20*time.Millisecond)

	var ended entity.Record
	assert.Equal(http.StatusOK, s.call(http.MethodPost, "/api/analytics/session/"+analyticsSession.ID()+"/end", tok, nil, &ended))
	assert.NotEmpty(ended.String("ended_at"))

	var prefs analytics.Preferences
	assert.Equal(http.StatusOK, s.call(http.MethodGet, "/api/analytics/preferences/"+clientID, tok, nil, &prefs))
	assert.Equal(analytics.DefaultPreferences(clientID).PrimaryColor, prefs.PrimaryColor)

	assert.Equal(http.StatusOK, s.call(http.MethodPut, "/api/analytics/preferences/"+clientID, tok, map[string]interface{}{"dark_mode": true, "primary_color": "#112233"}, &prefs))
	assert.True(prefs.DarkMode)
	assert.Equal("#112233", prefs.PrimaryColor)
	assert.Equal(analytics.DefaultPreferences(clientID).FontFamily, prefs.FontFamily)
	assert.Equal(http.StatusBadRequest, s.call(http.MethodPut, "/api/analytics/preferences/"+clientID, tok, map[string]interface{}{"primary_color": "red; }"}, nil))

	assert.Equal(http.StatusOK, s.call(http.MethodPost, "/api/analytics/onboarding-complete", tok, analytics.OnboardingRequest{}, &prefs))
	assert.True(prefs.OnboardingCompleted)

	var css string
	assert.Equal(http.StatusOK, s.call(http.MethodGet, "/api/analytics/preferences/"+clientID+"/theme.css", tok, nil, &css))
	assert.Contains(css, "--color-primary: #112233;")
	assert.Contains(css, "color-scheme: dark;")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(s.srv.Shutdown(ctx))
}
