package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/grantdesk/grantdesk"
	"github.com/grantdesk/grantdesk/entity"
	"github.com/grantdesk/grantdesk/token"
)

var useAuthJWT = grantdesk.Override{Authenticators: []string{"auth.jwt"}}

// API holds the endpoint frontend for the login service.
type API struct {
	// Service is the service that the API calls to perform the requested
	// actions.
	Service *Service

	// UnauthDelay is the amount of time that a request will pause before
	// responding with an HTTP-403, HTTP-401, or HTTP-500 to deprioritize such
	// requests from processing and I/O.
	UnauthDelay time.Duration

	// the name this API is configured under, used to find the name of own
	// auth provider
	name string

	unsubscribe func()

	log grantdesk.Logger
}

func (api *API) Init(bnd grantdesk.Bundle) error {
	api.name = bnd.Name()
	api.log = bnd.Logger()
	api.UnauthDelay = unauthDelay(bnd.GetInt(ConfigKeyUnauthDelay))

	store, ok := bnd.DB(0).(entity.Store)
	if !ok {
		return fmt.Errorf("DB provided under '%s' does not implement entity.Store", bnd.UsesDBs())
	}

	api.Service = &Service{
		Users:   store.Entity(UsersEntity),
		Clients: store.Entity(ClientsEntity),
		Secret:  bnd.GetByteSlice(ConfigKeySecret),
		OAuth:   map[string]*OAuthProvider{},
		Log:     api.log,
	}

	if providers, ok := bnd.GetValue(ConfigKeyOAuth).(map[string]OAuthConfig); ok {
		for _, name := range sortedProviderNames(providers) {
			p, err := NewOAuthProvider(name, providers[name])
			if err != nil {
				return fmt.Errorf(ConfigKeyOAuth+": %w", err)
			}
			api.Service.OAuth[name] = p
		}
	}

	api.unsubscribe = api.Service.OnAuthStateChange(api.logEvent)

	setAdmin := bnd.Get(ConfigKeySetAdmin)
	if setAdmin != "" {
		email, pass, err := parseSetAdmin(setAdmin)
		if err != nil {
			return err
		}

		admin, err := api.Service.EnsureAdmin(context.Background(), email, pass)
		if err != nil {
			return fmt.Errorf(ConfigKeySetAdmin+": %w", err)
		}
		api.log.Debugf("ensured admin account %s due to set-admin config", admin.Email)
	}

	return nil
}

func unauthDelay(millis int) time.Duration {
	var d time.Duration
	if millis >= 0 {
		d = time.Duration(millis) * time.Millisecond
	}
	return d
}

func (api *API) logEvent(ev Event) {
	switch ev.Type {
	case PasswordRecovery:
		api.log.Infof("password recovery started for %s; reset token is waiting for delivery", ev.User.Email)
	default:
		api.log.Debugf("auth event %s for %s %s", ev.Type, ev.User.Role, ev.User.ID)
	}
}

func (api *API) Authenticators() map[string]grantdesk.Authenticator {
	// this provides one and only one authenticator, the jwt one.

	// we will have had Init called, ergo secret and the service db will exist
	return map[string]grantdesk.Authenticator{
		"jwt": JWTAuthenticator{
			svc:         api.Service,
			unauthDelay: api.UnauthDelay,
		},
	}
}

// Shutdown shuts down the login API. It stops logging auth events and returns
// the error of the context.
func (api *API) Shutdown(ctx context.Context) error {
	if api.unsubscribe != nil {
		api.unsubscribe()
	}
	return ctx.Err()
}

// httpGetInfo returns a HandlerFunc that retrieves information on the API.
func (api *API) httpGetInfo(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		var resp InfoModel
		resp.Version.Auth = Version
		resp.Providers = []string{}
		for name := range api.Service.OAuth {
			resp.Providers = append(resp.Providers, name)
		}
		sort.Strings(resp.Providers)

		return sp.OK(resp, "got API info")
	}, useAuthJWT)
}

// httpSignUp returns a HandlerFunc that creates a new account.
func (api *API) httpSignUp(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		var body SignUpRequest
		if err := grantdesk.ParseJSONRequest(req, &body); err != nil {
			return sp.BadRequest(err.Error(), err.Error())
		}
		if body.Email == "" {
			return sp.BadRequest("email: property is empty or missing from request", "empty email")
		}
		if body.Password == "" {
			return sp.BadRequest("password: property is empty or missing from request", "empty password")
		}

		user, err := api.Service.SignUp(req.Context(), body.Email, body.Password)
		if err != nil {
			return grantdesk.ErrResult(sp, err, "sign up "+body.Email)
		}

		return sp.Created(userModel(user), "account %s (%s) created", user.Email, user.ID)
	}, useAuthJWT)
}

// httpCreateLogin returns a HandlerFunc that logs in with an email and password
// and returns the session for that account.
func (api *API) httpCreateLogin(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		var body LoginRequest
		if err := grantdesk.ParseJSONRequest(req, &body); err != nil {
			return sp.BadRequest(err.Error(), err.Error())
		}
		if body.Email == "" {
			return sp.BadRequest("email: property is empty or missing from request", "empty email")
		}
		if body.Password == "" {
			return sp.BadRequest("password: property is empty or missing from request", "empty password")
		}

		sess, err := api.Service.SignInWithPassword(req.Context(), body.Email, body.Password)
		if err != nil {
			return grantdesk.ErrResult(sp, err, "login "+body.Email)
		}

		return sp.Created(sessionModel(sess), "account %s successfully logged in", sess.User.Email)
	}, useAuthJWT)
}

// httpDeleteLogin returns a HandlerFunc that ends every session of an account.
// Only admins can log out accounts other than their own.
func (api *API) httpDeleteLogin(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		id := chi.URLParam(req, "id")
		user, _ := sp.GetLoggedInUser(req)

		// is the caller trying to delete someone else's login? they'd betta be
		// the admin if so!
		if user.Role == grantdesk.Client || (id != user.ID && user.Role != grantdesk.Admin) {
			return sp.Forbidden("%s (role %s) logout of user %s: forbidden", user.ID, user.Role, id)
		}

		loggedOut, err := api.Service.SignOut(req.Context(), id)
		if err != nil {
			return grantdesk.ErrResult(sp, err, "log out "+id)
		}

		var otherStr string
		if id != user.ID {
			otherStr = "account " + loggedOut.Email
		} else {
			otherStr = "self"
		}

		return sp.NoContent("account %s successfully logged out %s", user.Email, otherStr)
	}, useAuthJWT)
}

// httpGetSession returns a HandlerFunc that describes the session whose token
// the request carries.
func (api *API) httpGetSession(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		tok, err := token.Get(req)
		if err != nil {
			return sp.Unauthorized("", err.Error())
		}

		sess, err := api.Service.GetSession(req.Context(), tok)
		if err != nil {
			return grantdesk.ErrResult(sp, err, "get session")
		}

		return sp.OK(sessionModel(sess), "account %s got session", sess.User.Email)
	}, useAuthJWT)
}

// httpGetCurrentUser returns a HandlerFunc that gets the account whose session
// token the request carries.
func (api *API) httpGetCurrentUser(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		tok, err := token.Get(req)
		if err != nil {
			return sp.Unauthorized("", err.Error())
		}

		user, err := api.Service.GetUser(req.Context(), tok)
		if err != nil {
			return grantdesk.ErrResult(sp, err, "get current user")
		}

		return sp.OK(userModel(user), "account %s got self", user.Email)
	}, useAuthJWT)
}

// httpGetAllUsers returns a HandlerFunc that lists every account. Only admins
// can call it.
func (api *API) httpGetAllUsers(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		user, _ := sp.GetLoggedInUser(req)
		if user.Role != grantdesk.Admin {
			return sp.Forbidden("%s (role %s) get all users: forbidden", user.ID, user.Role)
		}

		recs, err := api.Service.Users.List(req.Context(), entity.ListOptions{Sort: "email"})
		if err != nil {
			return grantdesk.ErrResult(sp, err, "list users")
		}

		resp := make([]UserModel, len(recs))
		for i := range recs {
			resp[i] = userModel(userFromRecord(recs[i]))
		}
		return sp.OK(resp, "account %s got all users", user.Email)
	}, useAuthJWT)
}

// httpGetUser returns a HandlerFunc that gets an account. Anyone may get their
// own account but only admins can get others.
func (api *API) httpGetUser(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		id := chi.URLParam(req, "id")
		user, _ := sp.GetLoggedInUser(req)

		if user.Role == grantdesk.Client || (id != user.ID && user.Role != grantdesk.Admin) {
			return sp.Forbidden("%s (role %s) get user %s: forbidden", user.ID, user.Role, id)
		}

		got, err := api.Service.GetUserByID(req.Context(), id)
		if err != nil {
			return grantdesk.ErrResult(sp, err, "get user "+id)
		}

		return sp.OK(userModel(got), "account %s got user %s", user.Email, got.Email)
	}, useAuthJWT)
}

// httpUpdateUser returns a HandlerFunc that changes the role of an account.
// Only admins can call it, and they cannot change their own role.
func (api *API) httpUpdateUser(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		id := chi.URLParam(req, "id")
		user, _ := sp.GetLoggedInUser(req)

		if user.Role != grantdesk.Admin {
			return sp.Forbidden("%s (role %s) update user %s: forbidden", user.ID, user.Role, id)
		}
		if id == user.ID {
			return sp.Conflict("admins cannot change their own role", "%s tried to change own role", user.ID)
		}

		var body RoleRequest
		if err := grantdesk.ParseJSONRequest(req, &body); err != nil {
			return sp.BadRequest(err.Error(), err.Error())
		}
		if body.Role == "" {
			return sp.BadRequest("role: property is empty or missing from request", "empty role")
		}
		role, err := grantdesk.ParseRole(body.Role)
		if err != nil {
			return sp.BadRequest("role: "+err.Error(), "role: %s", err.Error())
		}

		updated, err := api.Service.SetRole(req.Context(), id, role)
		if err != nil {
			return grantdesk.ErrResult(sp, err, "update user "+id)
		}

		return sp.OK(userModel(updated), "account %s set role of user %s to %s", user.Email, updated.Email, updated.Role)
	}, useAuthJWT)
}

// httpDeleteUser returns a HandlerFunc that deletes an account. Only admins can
// call it.
func (api *API) httpDeleteUser(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		id := chi.URLParam(req, "id")
		user, _ := sp.GetLoggedInUser(req)

		if user.Role != grantdesk.Admin {
			return sp.Forbidden("%s (role %s) delete user %s: forbidden", user.ID, user.Role, id)
		}

		rec, err := api.Service.Users.Delete(req.Context(), id)
		if err != nil {
			return grantdesk.ErrResult(sp, err, "delete user "+id)
		}

		return sp.OK(userModel(userFromRecord(rec)), "account %s deleted user %s", user.Email, id)
	}, useAuthJWT)
}

// httpRecover returns a HandlerFunc that starts a password reset. It answers
// the same whether or not the email has an account.
func (api *API) httpRecover(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		var body RecoverRequest
		if err := grantdesk.ParseJSONRequest(req, &body); err != nil {
			return sp.BadRequest(err.Error(), err.Error())
		}
		if body.Email == "" {
			return sp.BadRequest("email: property is empty or missing from request", "empty email")
		}

		if err := api.Service.ResetPasswordForEmail(req.Context(), body.Email, body.RedirectTo); err != nil {
			return grantdesk.ErrResult(sp, err, "recover "+body.Email)
		}

		return sp.Accepted(nil, "password recovery requested for %s", body.Email)
	}, useAuthJWT)
}

// httpUpdatePassword returns a HandlerFunc that sets a new password using a
// reset token.
func (api *API) httpUpdatePassword(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		var body PasswordRequest
		if err := grantdesk.ParseJSONRequest(req, &body); err != nil {
			return sp.BadRequest(err.Error(), err.Error())
		}
		if body.Token == "" {
			return sp.BadRequest("token: property is empty or missing from request", "empty token")
		}
		if body.Password == "" {
			return sp.BadRequest("password: property is empty or missing from request", "empty password")
		}

		user, err := api.Service.UpdatePassword(req.Context(), body.Token, body.Password)
		if err != nil {
			return grantdesk.ErrResult(sp, err, "update password")
		}

		return sp.OK(userModel(user), "account %s updated password", user.Email)
	}, useAuthJWT)
}

// httpStartOAuth returns a HandlerFunc that redirects the caller to an OAuth
// provider's sign-in page.
func (api *API) httpStartOAuth(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		provider := chi.URLParam(req, "provider")
		redirectTo := req.URL.Query().Get("redirect_to")

		authURL, err := api.Service.SignInWithOAuth(provider, redirectTo)
		if err != nil {
			return grantdesk.ErrResult(sp, err, "start oauth with "+provider)
		}

		return sp.Found(authURL)
	}, useAuthJWT)
}

// httpFinishOAuth returns a HandlerFunc that completes an OAuth sign-in. If the
// sign-in was started with a redirect, the caller is sent there with the
// session in the URL fragment; otherwise the session is returned as JSON.
func (api *API) httpFinishOAuth(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		provider := chi.URLParam(req, "provider")
		q := req.URL.Query()

		if errCode := q.Get("error"); errCode != "" {
			return sp.Unauthorized("sign-in was not completed", "oauth %s returned error %q", provider, errCode)
		}
		code := q.Get("code")
		if code == "" {
			return sp.BadRequest("code: query parameter is empty or missing", "empty code")
		}

		sess, redirectTo, err := api.Service.ExchangeOAuthCode(req.Context(), provider, code, q.Get("state"))
		if err != nil {
			return grantdesk.ErrResult(sp, err, "finish oauth with "+provider)
		}

		if redirectTo != "" {
			frag := url.Values{}
			frag.Set("access_token", sess.Token)
			frag.Set("expires_at", strconv.FormatInt(sess.ExpiresAt.Unix(), 10))
			frag.Set("token_type", "bearer")
			return sp.Found(redirectTo + "#" + frag.Encode())
		}

		return sp.OK(OAuthCallbackModel{SessionModel: sessionModel(sess)}, "account %s logged in with %s", sess.User.Email, provider)
	}, useAuthJWT)
}
