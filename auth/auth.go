// Package auth provides sign-up, login and session services and their HTTP
// APIs. It supplies two components: "auth", which handles accounts in the
// auth_users table (password and OAuth sign-in, sign-out, session lookup and
// password reset), and "clients", which handles the access-code login that
// clients of the service use.
//
// The auth component provides the "jwt" authenticator. It accepts both user
// session tokens and client access-code session tokens, so other APIs can
// require either kind of caller with a single authenticator name,
// "auth.jwt".
package auth

import (
	"time"

	"github.com/grantdesk/grantdesk"
	"github.com/grantdesk/grantdesk/entity"
)

const (
	Version = "1.0.0"
)

const (
	// UsersEntity is the table auth accounts are kept in.
	UsersEntity = "auth_users"

	// ClientsEntity is the table access-code clients are kept in.
	ClientsEntity = "clients"
)

// Session is a logged-in user's session.
type Session struct {
	Token     string             `json:"token"`
	ExpiresAt time.Time          `json:"expires_at"`
	User      grantdesk.AuthUser `json:"user"`
}

// ClientSession is the session of a client logged in with their access code.
// Client is the client record without its access code.
type ClientSession struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	Client    entity.Record `json:"client"`
}

// Component is the "auth" component. Pass it to Environment.UseComponent to
// enable it; it is configured by an "auth" section in the config.
type Component struct{}

func (Component) Name() string {
	return "auth"
}

func (Component) API() grantdesk.API {
	return &API{}
}

func (Component) Config() grantdesk.APIConfig {
	return &Config{}
}

// ClientsComponent is the "clients" component, serving the access-code login.
type ClientsComponent struct{}

func (ClientsComponent) Name() string {
	return "clients"
}

func (ClientsComponent) API() grantdesk.API {
	return &ClientsAPI{}
}

func (ClientsComponent) Config() grantdesk.APIConfig {
	return &ClientsConfig{}
}

type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AccessCodeLoginRequest struct {
	Email      string `json:"email"`
	AccessCode string `json:"access_code"`
}

type RecoverRequest struct {
	Email      string `json:"email"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

type PasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// RoleRequest is the body of a request that changes the role of an account.
type RoleRequest struct {
	Role string `json:"role"`
}

type UserModel struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Provider  string `json:"provider,omitempty"`
	Created   string `json:"created_date,omitempty"`
	Modified  string `json:"updated_date,omitempty"`
	LastLogin string `json:"last_login,omitempty"`
}

type SessionModel struct {
	Token     string    `json:"token"`
	ExpiresAt string    `json:"expires_at"`
	User      UserModel `json:"user"`
}

type OAuthCallbackModel struct {
	SessionModel
	RedirectTo string `json:"redirect_to,omitempty"`
}

type InfoModel struct {
	Version struct {
		Auth string `json:"auth"`
	} `json:"version"`
	Providers []string `json:"oauth_providers"`
}

func userModel(u grantdesk.AuthUser) UserModel {
	m := UserModel{
		ID:       u.ID,
		Email:    u.Email,
		Role:     u.Role.String(),
		Provider: u.Provider,
	}
	if !u.Created.IsZero() {
		m.Created = entity.Timestamp(u.Created)
	}
	if !u.Modified.IsZero() {
		m.Modified = entity.Timestamp(u.Modified)
	}
	if !u.LastLogin.IsZero() {
		m.LastLogin = entity.Timestamp(u.LastLogin)
	}
	return m
}

func sessionModel(s Session) SessionModel {
	return SessionModel{
		Token:     s.Token,
		ExpiresAt: entity.Timestamp(s.ExpiresAt),
		User:      userModel(s.User),
	}
}
