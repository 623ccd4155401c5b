package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/grantdesk/grantdesk"
	"github.com/grantdesk/grantdesk/entity"
	"github.com/grantdesk/grantdesk/internal/logging"
	"github.com/grantdesk/grantdesk/token"
	"golang.org/x/crypto/bcrypt"
)

const (
	// ResetLifetime is how long a password reset token is valid.
	ResetLifetime = time.Hour

	// StateLifetime is how long a user has to complete an OAuth sign-in.
	StateLifetime = 10 * time.Minute
)

// HashCost is the bcrypt cost passwords are hashed with.
var HashCost = 14

// Service is the login and session backend. It keeps accounts in its Users
// repo and looks up access-code clients in its Clients repo.
//
// A Service must not be copied after first use.
type Service struct {
	Users   entity.Repo
	Clients entity.Repo

	// Secret is the server secret that all tokens are signed with.
	Secret []byte

	// OAuth holds the configured OAuth providers by name.
	OAuth map[string]*OAuthProvider

	Log grantdesk.Logger

	events Hub
}

func (svc *Service) log() grantdesk.Logger {
	if svc.Log == nil {
		return logging.NoOpLogger{}
	}
	return svc.Log
}

// OnAuthStateChange subscribes fn to every auth event the Service emits. Call
// the returned function to unsubscribe.
func (svc *Service) OnAuthStateChange(fn func(Event)) (unsubscribe func()) {
	return svc.events.Subscribe(fn)
}

// SignUp creates a new account with the given email and password.
//
// The returned error, if non-nil, will return true for various calls to
// errors.Is depending on what caused the error. If an account with that email
// already exists, it will match grantdesk.ErrAlreadyExists. If the email or
// password is not valid, it will match grantdesk.ErrBadArgument. If the error
// occured due to an unexpected problem with the DB, it will match
// grantdesk.ErrDB.
func (svc *Service) SignUp(ctx context.Context, email, password string) (grantdesk.AuthUser, error) {
	email = normalizeEmail(email)
	if !strfmt.IsEmail(email) {
		return grantdesk.AuthUser{}, grantdesk.NewError("email is not valid", grantdesk.ErrBadArgument)
	}
	if password == "" {
		return grantdesk.AuthUser{}, grantdesk.NewError("password cannot be blank", grantdesk.ErrBadArgument)
	}

	_, err := svc.userByEmail(ctx, email)
	if err == nil {
		return grantdesk.AuthUser{}, grantdesk.NewError("an account with that email already exists", grantdesk.ErrAlreadyExists)
	} else if !errors.Is(err, grantdesk.ErrNotFound) {
		return grantdesk.AuthUser{}, err
	}

	storedPass, err := hashUserPass(password)
	if err != nil {
		return grantdesk.AuthUser{}, err
	}

	rec, err := svc.Users.Create(ctx, entity.Record{
		"email":    email,
		"password": storedPass,
		"role":     int64(grantdesk.Guest),
		"provider": "password",
	})
	if err != nil {
		if errors.Is(err, grantdesk.ErrAlreadyExists) {
			return grantdesk.AuthUser{}, grantdesk.NewError("an account with that email already exists", grantdesk.ErrAlreadyExists)
		}
		return grantdesk.AuthUser{}, err
	}

	user := userFromRecord(rec)
	svc.events.Emit(Event{Type: SignedUp, User: user})
	return user, nil
}

// SignInWithPassword verifies the email and password of an account and starts
// a session for it.
//
// The returned error, if non-nil, will return true for various calls to
// errors.Is depending on what caused the error. If the credentials do not match
// an account, it will match grantdesk.ErrBadCredentials. If the error occured
// due to an unexpected problem with the DB, it will match grantdesk.ErrDB.
func (svc *Service) SignInWithPassword(ctx context.Context, email, password string) (Session, error) {
	rec, err := svc.userByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, grantdesk.ErrNotFound) {
			return Session{}, grantdesk.ErrBadCredentials
		}
		return Session{}, err
	}
	user := userFromRecord(rec)

	// verify password
	if user.Password == "" {
		// accounts made through OAuth have no password
		return Session{}, grantdesk.ErrBadCredentials
	}
	bcryptHash, err := base64.StdEncoding.DecodeString(user.Password)
	if err != nil {
		return Session{}, grantdesk.NewError("stored password is corrupt", err, grantdesk.ErrDecodingFailure)
	}
	err = bcrypt.CompareHashAndPassword(bcryptHash, []byte(password))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return Session{}, grantdesk.ErrBadCredentials
		}
		return Session{}, grantdesk.NewError("password could not be checked", err)
	}

	return svc.startSession(ctx, user)
}

// startSession marks the user as logged in and issues their session token.
func (svc *Service) startSession(ctx context.Context, user grantdesk.AuthUser) (Session, error) {
	rec, err := svc.Users.Update(ctx, user.ID, entity.Record{"last_login": entity.Timestamp(time.Now())})
	if err != nil {
		return Session{}, grantdesk.NewError("cannot update user login time", err)
	}
	user = userFromRecord(rec)

	tok, exp, err := token.Generate(svc.Secret, token.Grant{Kind: token.User, Subject: user.ID, Key: token.UserKey(user)})
	if err != nil {
		return Session{}, fmt.Errorf("could not generate JWT: %w", err)
	}

	sess := Session{Token: tok, ExpiresAt: exp, User: user}
	svc.events.Emit(Event{Type: SignedIn, User: user, Session: &sess})
	return sess, nil
}

// SignInWithOAuth returns the URL to send the user to in order to sign in with
// the named provider. Once the provider sends the user back, finish with
// ExchangeOAuthCode; the caller is then sent on to redirectTo.
func (svc *Service) SignInWithOAuth(provider, redirectTo string) (string, error) {
	p, ok := svc.OAuth[provider]
	if !ok {
		return "", grantdesk.NewError(fmt.Sprintf("no OAuth provider named %q", provider), grantdesk.ErrNotFound)
	}

	state, _, err := token.Generate(svc.Secret, token.Grant{
		Kind:     token.State,
		Subject:  provider,
		Lifetime: StateLifetime,
		Redirect: redirectTo,
	})
	if err != nil {
		return "", fmt.Errorf("could not generate state token: %w", err)
	}

	return p.Config.AuthCodeURL(state), nil
}

// ExchangeOAuthCode completes an OAuth sign-in. state must be the state the
// provider echoed back. The account with the provider's email for the user is
// signed in, and is created first if it does not exist. Returns the session
// and the redirect given to SignInWithOAuth.
func (svc *Service) ExchangeOAuthCode(ctx context.Context, provider, code, state string) (Session, string, error) {
	p, ok := svc.OAuth[provider]
	if !ok {
		return Session{}, "", grantdesk.NewError(fmt.Sprintf("no OAuth provider named %q", provider), grantdesk.ErrNotFound)
	}

	claims, err := token.Validate(ctx, state, svc.Secret, func(ctx context.Context, kind token.Kind, subject string) ([]byte, error) {
		return nil, nil
	}, token.State)
	if err != nil {
		return Session{}, "", grantdesk.NewError("bad state", err, grantdesk.ErrBadCredentials)
	}
	if claims.Subject != provider {
		return Session{}, "", grantdesk.NewError("state was issued for another provider", grantdesk.ErrBadCredentials)
	}

	email, err := p.email(ctx, code)
	if err != nil {
		return Session{}, "", err
	}

	var user grantdesk.AuthUser
	rec, err := svc.userByEmail(ctx, email)
	if err == nil {
		user = userFromRecord(rec)
	} else if errors.Is(err, grantdesk.ErrNotFound) {
		rec, err = svc.Users.Create(ctx, entity.Record{
			"email":    email,
			"password": "",
			"role":     int64(grantdesk.Guest),
			"provider": provider,
		})
		if err != nil {
			return Session{}, "", err
		}
		user = userFromRecord(rec)
		svc.events.Emit(Event{Type: SignedUp, User: user})
	} else {
		return Session{}, "", err
	}

	sess, err := svc.startSession(ctx, user)
	if err != nil {
		return Session{}, "", err
	}
	return sess, claims.Redirect, nil
}

// SignOut marks the user with the given ID as having logged out, invalidating
// every session token issued to them before now. Returns the user that was
// logged out.
//
// The returned error, if non-nil, will return true for various calls to
// errors.Is depending on what caused the error. If the user doesn't exist, it
// will match grantdesk.ErrNotFound. If the error occured due to an unexpected
// problem with the DB, it will match grantdesk.ErrDB.
func (svc *Service) SignOut(ctx context.Context, userID string) (grantdesk.AuthUser, error) {
	rec, err := svc.Users.Update(ctx, userID, entity.Record{"last_logout": entity.Timestamp(time.Now())})
	if err != nil {
		return grantdesk.AuthUser{}, err
	}

	user := userFromRecord(rec)
	svc.events.Emit(Event{Type: SignedOut, User: user})
	return user, nil
}

// GetSession returns the session that tok belongs to. The returned error
// matches grantdesk.ErrExpired if the session has expired and
// grantdesk.ErrBadCredentials if tok is not a valid user session token.
func (svc *Service) GetSession(ctx context.Context, tok string) (Session, error) {
	user, claims, err := svc.validateUser(ctx, tok)
	if err != nil {
		return Session{}, err
	}

	sess := Session{Token: tok, User: user}
	if claims.ExpiresAt != nil {
		sess.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return sess, nil
}

// GetUser returns the user that the session token tok belongs to.
func (svc *Service) GetUser(ctx context.Context, tok string) (grantdesk.AuthUser, error) {
	user, _, err := svc.validateUser(ctx, tok)
	return user, err
}

// GetUserByID returns the account with the given ID.
func (svc *Service) GetUserByID(ctx context.Context, id string) (grantdesk.AuthUser, error) {
	rec, err := svc.Users.Get(ctx, id)
	if err != nil {
		return grantdesk.AuthUser{}, err
	}
	return userFromRecord(rec), nil
}

func (svc *Service) validateUser(ctx context.Context, tok string) (grantdesk.AuthUser, *token.Claims, error) {
	var user grantdesk.AuthUser

	claims, err := token.Validate(ctx, tok, svc.Secret, func(ctx context.Context, kind token.Kind, subject string) ([]byte, error) {
		rec, err := svc.Users.Get(ctx, subject)
		if err != nil {
			return nil, err
		}
		user = userFromRecord(rec)
		return token.UserKey(user), nil
	}, token.User)
	if err != nil {
		return grantdesk.AuthUser{}, nil, err
	}

	return user, claims, nil
}

// Authenticate validates a user session token or client access-code token and
// returns who it was issued to. Clients are returned with the Client role.
func (svc *Service) Authenticate(ctx context.Context, tok string) (grantdesk.AuthUser, error) {
	var who grantdesk.AuthUser

	_, err := token.Validate(ctx, tok, svc.Secret, func(ctx context.Context, kind token.Kind, subject string) ([]byte, error) {
		if kind == token.Client {
			rec, err := svc.Clients.Get(ctx, subject)
			if err != nil {
				return nil, err
			}
			code := rec.String("access_code")
			if code == "" {
				return nil, fmt.Errorf("client has no access code")
			}
			who = clientUser(rec)
			return token.ClientKey(code), nil
		}

		rec, err := svc.Users.Get(ctx, subject)
		if err != nil {
			return nil, err
		}
		who = userFromRecord(rec)
		return token.UserKey(who), nil
	}, token.User, token.Client)
	if err != nil {
		return grantdesk.AuthUser{}, err
	}

	return who, nil
}

// ResetPasswordForEmail starts a password reset for the account with the given
// email. A reset token valid for ResetLifetime is created and emitted in a
// PasswordRecovery event along with redirectTo; delivering it to the user is
// the job of a listener. An unknown email is not an error, so that callers
// cannot find out which emails have accounts.
func (svc *Service) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	rec, err := svc.userByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, grantdesk.ErrNotFound) {
			svc.log().Debugf("password reset requested for unknown email %q", email)
			return nil
		}
		return err
	}
	user := userFromRecord(rec)

	tok, _, err := token.Generate(svc.Secret, token.Grant{
		Kind:     token.Reset,
		Subject:  user.ID,
		Key:      token.ResetKey(user),
		Lifetime: ResetLifetime,
	})
	if err != nil {
		return fmt.Errorf("could not generate reset token: %w", err)
	}

	svc.events.Emit(Event{Type: PasswordRecovery, User: user, ResetToken: tok, RedirectTo: redirectTo})
	return nil
}

// UpdatePassword sets a new password for the account that resetToken was
// issued to. All of the account's existing sessions are ended, and the reset
// token cannot be used again.
//
// The returned error, if non-nil, will return true for various calls to
// errors.Is depending on what caused the error. If the token is not valid, it
// will match grantdesk.ErrBadCredentials or grantdesk.ErrExpired. If the
// password is not valid, it will match grantdesk.ErrBadArgument.
func (svc *Service) UpdatePassword(ctx context.Context, resetToken, password string) (grantdesk.AuthUser, error) {
	if password == "" {
		return grantdesk.AuthUser{}, grantdesk.NewError("password cannot be blank", grantdesk.ErrBadArgument)
	}

	var user grantdesk.AuthUser
	_, err := token.Validate(ctx, resetToken, svc.Secret, func(ctx context.Context, kind token.Kind, subject string) ([]byte, error) {
		rec, err := svc.Users.Get(ctx, subject)
		if err != nil {
			return nil, err
		}
		user = userFromRecord(rec)
		return token.ResetKey(user), nil
	}, token.Reset)
	if err != nil {
		return grantdesk.AuthUser{}, err
	}

	return svc.setPassword(ctx, user, password)
}

func (svc *Service) setPassword(ctx context.Context, user grantdesk.AuthUser, password string) (grantdesk.AuthUser, error) {
	storedPass, err := hashUserPass(password)
	if err != nil {
		return grantdesk.AuthUser{}, err
	}

	rec, err := svc.Users.Update(ctx, user.ID, entity.Record{
		"password":    storedPass,
		"last_logout": entity.Timestamp(time.Now()),
	})
	if err != nil {
		return grantdesk.AuthUser{}, err
	}

	updated := userFromRecord(rec)
	svc.events.Emit(Event{Type: UserUpdated, User: updated})
	return updated, nil
}

// SetRole changes the role of the account with the given ID. New accounts are
// guests, which cannot reach client data, until an admin gives them a staff
// role with SetRole. The Client role belongs to access-code logins and cannot
// be given to an account.
func (svc *Service) SetRole(ctx context.Context, id string, role grantdesk.Role) (grantdesk.AuthUser, error) {
	if role == grantdesk.Client {
		return grantdesk.AuthUser{}, grantdesk.NewError("role: accounts cannot have the client role", grantdesk.ErrBadArgument)
	}

	rec, err := svc.Users.Update(ctx, id, entity.Record{"role": int64(role)})
	if err != nil {
		return grantdesk.AuthUser{}, err
	}

	user := userFromRecord(rec)
	svc.events.Emit(Event{Type: UserUpdated, User: user})
	return user, nil
}

// EnsureAdmin makes sure an admin account with the given email and password
// exists, creating it or resetting its password and role as needed.
func (svc *Service) EnsureAdmin(ctx context.Context, email, password string) (grantdesk.AuthUser, error) {
	rec, err := svc.userByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, grantdesk.ErrNotFound) {
			return grantdesk.AuthUser{}, fmt.Errorf("retrieve user for admin promotion: %w", err)
		}

		user, err := svc.SignUp(ctx, email, password)
		if err != nil {
			return grantdesk.AuthUser{}, fmt.Errorf("creating admin user: %w", err)
		}
		rec, err = svc.Users.Update(ctx, user.ID, entity.Record{"role": int64(grantdesk.Admin)})
		if err != nil {
			return grantdesk.AuthUser{}, fmt.Errorf("update role to admin: %w", err)
		}
		return userFromRecord(rec), nil
	}

	user, err := svc.setPassword(ctx, userFromRecord(rec), password)
	if err != nil {
		return grantdesk.AuthUser{}, fmt.Errorf("update password for admin: %w", err)
	}
	if user.Role != grantdesk.Admin {
		rec, err = svc.Users.Update(ctx, user.ID, entity.Record{"role": int64(grantdesk.Admin)})
		if err != nil {
			return grantdesk.AuthUser{}, fmt.Errorf("update role to admin: %w", err)
		}
		user = userFromRecord(rec)
	}
	return user, nil
}

// LoginWithAccessCode logs in a client with the email and access code on their
// clients record. The returned session token is accepted by the jwt
// authenticator until it expires or the client's access code is changed.
//
// The returned error, if non-nil, will match grantdesk.ErrBadCredentials if the
// email and code do not match a client, and grantdesk.ErrBadArgument if either
// is not valid.
func (svc *Service) LoginWithAccessCode(ctx context.Context, email, accessCode string) (ClientSession, error) {
	email = normalizeEmail(email)
	if !strfmt.IsEmail(email) {
		return ClientSession{}, grantdesk.NewError("email is not valid", grantdesk.ErrBadArgument)
	}
	if accessCode == "" {
		return ClientSession{}, grantdesk.NewError("access code cannot be blank", grantdesk.ErrBadArgument)
	}

	rec, err := svc.clientByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, grantdesk.ErrNotFound) {
			return ClientSession{}, grantdesk.ErrBadCredentials
		}
		return ClientSession{}, err
	}

	stored := rec.String("access_code")
	if stored == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(accessCode)) != 1 {
		return ClientSession{}, grantdesk.ErrBadCredentials
	}

	rec, err = svc.Clients.Update(ctx, rec.ID(), entity.Record{"last_login": entity.Timestamp(time.Now())})
	if err != nil {
		return ClientSession{}, grantdesk.NewError("cannot update client login time", err)
	}

	tok, exp, err := token.Generate(svc.Secret, token.Grant{Kind: token.Client, Subject: rec.ID(), Key: token.ClientKey(stored)})
	if err != nil {
		return ClientSession{}, fmt.Errorf("could not generate JWT: %w", err)
	}

	svc.events.Emit(Event{Type: SignedIn, User: clientUser(rec)})
	return ClientSession{Token: tok, ExpiresAt: exp, Client: publicClient(rec)}, nil
}

func hashUserPass(password string) (string, error) {
	passHash, err := bcrypt.GenerateFromPassword([]byte(password), HashCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", grantdesk.NewError("password is too long", err, grantdesk.ErrBadArgument)
		}
		return "", grantdesk.NewError("password could not be encrypted", err)
	}

	return base64.StdEncoding.EncodeToString(passHash), nil
}
