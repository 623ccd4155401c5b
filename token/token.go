// Package token provides the JWTs used by grantdesk for user sessions, client
// access-code sessions, password resets and OAuth state.
//
// Every token is signed with HS512 using a key made of the server secret
// followed by key material belonging to the token's subject. Changing that
// material (a user's password hash or logout time, a client's access code)
// therefore invalidates every token issued before the change.
package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/grantdesk/grantdesk"
)

var (
	Issuer = "grantdesk"
)

const (
	// Lifetime is how long a token is valid for when its Grant does not say.
	Lifetime = time.Hour

	// Leeway is the clock skew tolerated when checking expiry.
	Leeway = time.Minute
)

// Kind is what a token may be used for.
type Kind string

const (
	User   Kind = "user"
	Client Kind = "client"
	Reset  Kind = "reset"
	State  Kind = "oauth_state"
)

// Claims are the claims carried by every grantdesk token.
type Claims struct {
	jwt.RegisteredClaims

	Kind Kind `json:"kind"`

	// Redirect is the URL to send the caller to after the flow the token is
	// part of completes. Only set on State tokens.
	Redirect string `json:"redirect,omitempty"`
}

// Grant describes a token to be generated.
type Grant struct {
	Kind    Kind
	Subject string

	// Key is the subject's key material. It is appended to the server secret
	// to make the signing key.
	Key []byte

	// Lifetime defaults to Lifetime if zero.
	Lifetime time.Duration

	Redirect string
}

// KeyFunc returns the key material of the subject of a token being validated.
// It is given the kind and subject claimed by the still-unverified token.
type KeyFunc func(ctx context.Context, kind Kind, subject string) ([]byte, error)

// Generate creates a signed token for the Grant. It returns the token and the
// time it expires.
func Generate(secret []byte, g Grant) (string, time.Time, error) {
	lifetime := g.Lifetime
	if lifetime == 0 {
		lifetime = Lifetime
	}
	now := time.Now()
	expires := now.Add(lifetime)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   g.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Kind:     g.Kind,
		Redirect: g.Redirect,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)

	tokStr, err := tok.SignedString(signingKey(secret, g.Key))
	if err != nil {
		return "", time.Time{}, err
	}
	return tokStr, expires.UTC().Truncate(time.Second), nil
}

// Validate verifies tok and returns its claims. The token must be of one of the
// given kinds. keyFn supplies the subject's key material; any error it returns
// fails validation.
//
// The returned error matches grantdesk.ErrExpired if the token is expired and
// grantdesk.ErrBadCredentials for any other problem with it.
func Validate(ctx context.Context, tok string, secret []byte, keyFn KeyFunc, kinds ...Kind) (*Claims, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (interface{}, error) {
		c, ok := t.Claims.(*Claims)
		if !ok {
			return nil, fmt.Errorf("unexpected claims type")
		}
		if !kindAllowed(c.Kind, kinds) {
			return nil, fmt.Errorf("token of kind %q cannot be used here", c.Kind)
		}

		// who is the subject? we need their key to verify
		subj, err := t.Claims.GetSubject()
		if err != nil {
			return nil, fmt.Errorf("cannot get subject: %w", err)
		}
		if subj == "" {
			return nil, fmt.Errorf("token has no subject")
		}

		key, err := keyFn(ctx, c.Kind, subj)
		if err != nil {
			if errors.Is(err, grantdesk.ErrNotFound) {
				return nil, fmt.Errorf("subject does not exist")
			}
			return nil, fmt.Errorf("subject could not be validated")
		}

		return signingKey(secret, key), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}), jwt.WithIssuer(Issuer), jwt.WithLeeway(Leeway), jwt.WithExpirationRequired())

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, grantdesk.NewError("", err, grantdesk.ErrExpired)
		}
		return nil, grantdesk.NewError("invalid token", err, grantdesk.ErrBadCredentials)
	}

	return claims, nil
}

// UserKey returns the key material for a user's session tokens. It changes
// whenever the user's password does or they log out.
func UserKey(u grantdesk.AuthUser) []byte {
	var key []byte
	key = append(key, []byte(u.Password)...)
	key = append(key, []byte(fmt.Sprintf("%d", u.LastLogout.Unix()))...)
	return key
}

// ResetKey returns the key material for a user's password reset tokens. It
// changes when the password does, so a reset token works at most once.
func ResetKey(u grantdesk.AuthUser) []byte {
	return []byte("reset:" + u.Password)
}

// ClientKey returns the key material for a client's access-code session
// tokens. Rotating the access code revokes every outstanding session.
func ClientKey(accessCode string) []byte {
	return []byte("client:" + accessCode)
}

// Get gets the token from the Authorization header as a bearer token.
func Get(req *http.Request) (string, error) {
	authHeader := strings.TrimSpace(req.Header.Get("Authorization"))

	if authHeader == "" {
		return "", fmt.Errorf("no authorization header present")
	}

	authParts := strings.SplitN(authHeader, " ", 2)
	if len(authParts) != 2 {
		return "", fmt.Errorf("authorization header not in Bearer format")
	}

	scheme := strings.TrimSpace(strings.ToLower(authParts[0]))
	token := strings.TrimSpace(authParts[1])

	if scheme != "bearer" {
		return "", fmt.Errorf("authorization header not in Bearer format")
	}

	return token, nil
}

func signingKey(secret, subjectKey []byte) []byte {
	var signKey []byte
	signKey = append(signKey, secret...)
	signKey = append(signKey, subjectKey...)
	return signKey
}

func kindAllowed(k Kind, kinds []Kind) bool {
	for _, allowed := range kinds {
		if k == allowed {
			return true
		}
	}
	return false
}
