package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/grantdesk/grantdesk"
	"github.com/grantdesk/grantdesk/auth"
	"github.com/grantdesk/grantdesk/entity"
)

// OnAuthStateChange adds fn as a listener for sign-in, sign-out and other
// changes made through this Client. Listeners are called synchronously on the
// goroutine that made the change. The returned function removes fn.
func (c *Client) OnAuthStateChange(fn func(auth.Event)) (unsubscribe func()) {
	return c.events.Subscribe(fn)
}

// SignUp creates a staff account. It does not sign in.
func (c *Client) SignUp(ctx context.Context, email, password string) (auth.UserModel, error) {
	var user auth.UserModel
	body := auth.SignUpRequest{Email: email, Password: password}
	if err := c.callWithToken(ctx, http.MethodPost, pathAuth+"/signup", nil, "", body, &user); err != nil {
		return auth.UserModel{}, err
	}

	c.events.Emit(auth.Event{Type: auth.SignedUp, User: authUser(user)})
	return user, nil
}

// SignInWithPassword signs in to a staff account and makes its session the
// current one.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (StoredSession, error) {
	var resp auth.SessionModel
	body := auth.LoginRequest{Email: email, Password: password}
	if err := c.callWithToken(ctx, http.MethodPost, pathAuth+"/login", nil, "", body, &resp); err != nil {
		return StoredSession{}, err
	}
	return c.useStaffSession(resp)
}

// SignInWithAccessCode signs in as a client using the access code they were
// given, and makes that session the current one.
func (c *Client) SignInWithAccessCode(ctx context.Context, email, accessCode string) (StoredSession, error) {
	var resp auth.ClientSession
	body := auth.AccessCodeLoginRequest{Email: email, AccessCode: accessCode}
	if err := c.callWithToken(ctx, http.MethodPost, pathClients+"/login", nil, "", body, &resp); err != nil {
		return StoredSession{}, err
	}

	sess := StoredSession{
		Token:     resp.Token,
		ExpiresAt: resp.ExpiresAt,
		Client:    entity.NormalizeRecord(resp.Client),
	}
	if err := c.saveSession(sess); err != nil {
		return StoredSession{}, err
	}

	user := grantdesk.AuthUser{
		ID:    sess.Client.ID(),
		Email: sess.Client.String("email"),
		Name:  sess.Client.String("name"),
		Role:  grantdesk.Client,
	}
	c.events.Emit(auth.Event{
		Type:    auth.SignedIn,
		User:    user,
		Session: &auth.Session{Token: sess.Token, ExpiresAt: sess.ExpiresAt, User: user},
	})
	return sess, nil
}

// SignInWithOAuth returns the URL a browser must be sent to in order to sign
// in with the named OAuth provider. Once the provider is done, the browser is
// sent to redirectTo with the new session token in the URL fragment; pass that
// token to SetSession.
func (c *Client) SignInWithOAuth(provider, redirectTo string) string {
	uri := c.BaseURL + pathAuth + "/oauth/" + url.PathEscape(provider)
	if redirectTo != "" {
		uri += "?" + url.Values{"redirect_to": {redirectTo}}.Encode()
	}
	return uri
}

// SetSession makes the session with the given token the current one, after
// checking with the server that it is valid.
func (c *Client) SetSession(ctx context.Context, token string) (StoredSession, error) {
	var resp auth.SessionModel
	if err := c.callWithToken(ctx, http.MethodGet, pathAuth+"/session", nil, token, nil, &resp); err != nil {
		return StoredSession{}, err
	}
	return c.useStaffSession(resp)
}

func (c *Client) useStaffSession(resp auth.SessionModel) (StoredSession, error) {
	expires, err := time.Parse(time.RFC3339Nano, resp.ExpiresAt)
	if err != nil {
		return StoredSession{}, fmt.Errorf("session expiry: %w", err)
	}

	user := resp.User
	sess := StoredSession{Token: resp.Token, ExpiresAt: expires, User: &user}
	if err := c.saveSession(sess); err != nil {
		return StoredSession{}, err
	}

	au := authUser(user)
	c.events.Emit(auth.Event{
		Type:    auth.SignedIn,
		User:    au,
		Session: &auth.Session{Token: sess.Token, ExpiresAt: sess.ExpiresAt, User: au},
	})
	return sess, nil
}

func (c *Client) saveSession(sess StoredSession) error {
	if c.Sessions == nil {
		return nil
	}
	if err := c.Sessions.Save(sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// SignOut ends the current session. For staff accounts the server is told to
// revoke it as well; a session the server already considers invalid is not an
// error. The local session is removed in every case.
func (c *Client) SignOut(ctx context.Context) error {
	sess, ok, err := c.GetSession()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	var remoteErr error
	if sess.User != nil {
		path := pathAuth + "/login/" + url.PathEscape(sess.User.ID)
		remoteErr = c.callWithToken(ctx, http.MethodDelete, path, nil, sess.Token, nil, nil)
		if remoteErr != nil && errors.Is(remoteErr, grantdesk.ErrBadCredentials) {
			remoteErr = nil
		}
	}

	if c.Sessions != nil {
		if err := c.Sessions.Clear(); err != nil {
			return errors.Join(remoteErr, fmt.Errorf("clear session: %w", err))
		}
	}

	ev := auth.Event{Type: auth.SignedOut}
	if sess.User != nil {
		ev.User = authUser(*sess.User)
	} else if sess.Client != nil {
		ev.User = grantdesk.AuthUser{ID: sess.Client.ID(), Email: sess.Client.String("email"), Role: grantdesk.Client}
	}
	c.events.Emit(ev)

	return remoteErr
}

// GetSession returns the current session. It reports false if there is none
// or it has expired.
func (c *Client) GetSession() (StoredSession, bool, error) {
	if c.Sessions == nil {
		return StoredSession{}, false, nil
	}
	return c.Sessions.Load()
}

// GetUser asks the server for the staff account of the current session.
func (c *Client) GetUser(ctx context.Context) (auth.UserModel, error) {
	var user auth.UserModel
	if err := c.call(ctx, http.MethodGet, pathAuth+"/user", nil, nil, &user); err != nil {
		return auth.UserModel{}, err
	}
	return user, nil
}

// ResetPasswordForEmail starts a password reset for the account with the
// given email. The server answers the same whether or not the account exists.
func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	body := auth.RecoverRequest{Email: email, RedirectTo: redirectTo}
	if err := c.callWithToken(ctx, http.MethodPost, pathAuth+"/recover", nil, "", body, nil); err != nil {
		return err
	}

	c.events.Emit(auth.Event{Type: auth.PasswordRecovery, User: grantdesk.AuthUser{Email: email}, RedirectTo: redirectTo})
	return nil
}

// UpdatePassword sets a new password using the token from a password reset.
func (c *Client) UpdatePassword(ctx context.Context, resetToken, password string) (auth.UserModel, error) {
	var user auth.UserModel
	body := auth.PasswordRequest{Token: resetToken, Password: password}
	if err := c.callWithToken(ctx, http.MethodPost, pathAuth+"/password", nil, "", body, &user); err != nil {
		return auth.UserModel{}, err
	}

	c.events.Emit(auth.Event{Type: auth.UserUpdated, User: authUser(user)})
	return user, nil
}

// SetUserRole gives the account with the given ID a new role, such as
// "normal" to make a newly signed-up account staff. The current session must
// belong to an admin.
func (c *Client) SetUserRole(ctx context.Context, id, role string) (auth.UserModel, error) {
	var user auth.UserModel
	path := pathAuth + "/users/" + url.PathEscape(id)
	if err := c.call(ctx, http.MethodPatch, path, nil, auth.RoleRequest{Role: role}, &user); err != nil {
		return auth.UserModel{}, err
	}
	return user, nil
}

func authUser(m auth.UserModel) grantdesk.AuthUser {
	role, _ := grantdesk.ParseRole(m.Role)
	return grantdesk.AuthUser{
		ID:       m.ID,
		Email:    m.Email,
		Role:     role,
		Provider: m.Provider,
	}
}
