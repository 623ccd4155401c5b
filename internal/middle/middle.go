// Package middle contains the middleware the server hands to APIs: auth
// checks backed by registered authenticators, and panic recovery.
package middle

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/grantdesk/grantdesk"
)

type mwFunc http.HandlerFunc

func (sf mwFunc) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	sf(w, req)
}

type ctxKey int64

const (
	ctxKeyLoggedIn ctxKey = iota
	ctxKeyUser
)

// Provider creates middleware from a set of named authenticators. Its zero
// value is ready to use.
type Provider struct {
	authenticators    map[string]grantdesk.Authenticator
	mainAuthenticator string
}

// GetLoggedInUser returns the user that auth middleware placed in the context
// of req, and whether there was one.
func GetLoggedInUser(req *http.Request) (user grantdesk.AuthUser, loggedIn bool) {
	loggedIn, _ = req.Context().Value(ctxKeyLoggedIn).(bool)
	if loggedIn {
		user, _ = req.Context().Value(ctxKeyUser).(grantdesk.AuthUser)
	}

	return user, loggedIn
}

func (p *Provider) initDefaults() {
	if p.authenticators == nil {
		p.authenticators = map[string]grantdesk.Authenticator{}
		p.mainAuthenticator = ""
	}
}

// SelectAuthenticator retrieves and selects the first authenticator that
// matches one of the names in from. If no names are provided in from, the main
// auth for the project is returned. If from is not empty, at least one name
// listed in it must exist, or this function will panic.
func (p *Provider) SelectAuthenticator(from ...string) grantdesk.Authenticator {
	p.initDefaults()

	if len(from) < 1 {
		return p.getMainAuth()
	}

	for _, authName := range from {
		if authent, ok := p.authenticators[strings.ToLower(authName)]; ok {
			return authent
		}
	}
	panic(fmt.Sprintf("no valid auth provider given in list: %q", from))
}

func (p *Provider) getMainAuth() grantdesk.Authenticator {
	p.initDefaults()

	if p.mainAuthenticator == "" {
		return noopAuthenticator{}
	}
	return p.authenticators[p.mainAuthenticator]
}

// RegisterMainAuthenticator sets the authenticator used when middleware is
// requested without naming one. It must already be registered.
func (p *Provider) RegisterMainAuthenticator(name string) error {
	p.initDefaults()

	normName := strings.ToLower(name)
	if _, ok := p.authenticators[normName]; !ok {
		return fmt.Errorf("no authenticator called %q has been registered; register one before trying to set it as main", normName)
	}

	p.mainAuthenticator = normName
	return nil
}

// RegisterAuthenticator adds an authenticator under the given name, which is
// case-insensitive.
func (p *Provider) RegisterAuthenticator(name string, authen grantdesk.Authenticator) error {
	p.initDefaults()

	normName := strings.ToLower(name)
	if _, ok := p.authenticators[normName]; ok {
		return fmt.Errorf("authenticator called %q already exists", normName)
	}
	if authen == nil {
		return fmt.Errorf("authenticator cannot be nil")
	}

	p.authenticators[normName] = authen
	return nil
}

// noopAuthenticator is used as the active one when no others are specified.
type noopAuthenticator struct{}

func (na noopAuthenticator) Authenticate(req *http.Request) (grantdesk.AuthUser, bool, error) {
	return grantdesk.AuthUser{}, false, fmt.Errorf("no authenticator provider is specified for this project")
}

func (na noopAuthenticator) UnauthDelay() time.Duration {
	return 0
}

// AuthHandler is middleware that will accept a request, extract the token used
// for authentication, and make calls to get the AuthUser that represents the
// logged in user from the token.
//
// The user and whether they are logged in are added to the request context
// before the request is passed to the next step in the chain; retrieve them
// with GetLoggedInUser. For required logins, not being logged in results in an
// HTTP-401 before the request reaches the next handler.
type AuthHandler struct {
	provider grantdesk.Authenticator
	required bool
	next     http.Handler
	resp     grantdesk.ResponseGenerator
}

func (ah *AuthHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	user, loggedIn, err := ah.provider.Authenticate(req)

	if ah.required && (err != nil || !loggedIn) {
		var msg string
		if err != nil {
			msg = err.Error()
		} else {
			msg = "authorization is required"
		}
		r := ah.resp.Unauthorized("", msg)
		time.Sleep(ah.provider.UnauthDelay())
		r.WriteResponse(w)
		ah.resp.LogResponse(req, r)
		return
	}
	if err != nil {
		// optional auth with a bad token proceeds as a guest
		loggedIn = false
		user = grantdesk.AuthUser{}
	}

	ctx := req.Context()
	ctx = context.WithValue(ctx, ctxKeyLoggedIn, loggedIn)
	ctx = context.WithValue(ctx, ctxKeyUser, user)
	req = req.WithContext(ctx)
	ah.next.ServeHTTP(w, req)
}

// RequiredAuth returns middleware that requires that auth be used. The
// authenticators, if provided, must give the names of preferred providers that
// were registered with RegisterAuthenticator, in priority order. If none of
// the given authenticators exist, this function panics. If no authenticator
// is specified, the main one is used.
func (p *Provider) RequiredAuth(resp grantdesk.ResponseGenerator, authenticators ...string) grantdesk.Middleware {
	prov := p.SelectAuthenticator(authenticators...)

	return func(next http.Handler) http.Handler {
		return &AuthHandler{
			provider: prov,
			required: true,
			next:     next,
			resp:     resp,
		}
	}
}

// OptionalAuth returns middleware that retrieves the logged-in user if there is
// one but lets the request through either way. Authenticators are selected as
// in RequiredAuth.
func (p *Provider) OptionalAuth(resp grantdesk.ResponseGenerator, authenticators ...string) grantdesk.Middleware {
	prov := p.SelectAuthenticator(authenticators...)

	return func(next http.Handler) http.Handler {
		return &AuthHandler{
			provider: prov,
			required: false,
			next:     next,
			resp:     resp,
		}
	}
}

// DontPanic returns a Middleware that performs a panic check as it exits. If
// the function is panicking, it will write out an HTTP response with a generic
// message to the client and add it to the log.
func (p *Provider) DontPanic(resp grantdesk.ResponseGenerator) grantdesk.Middleware {
	return func(next http.Handler) http.Handler {
		return mwFunc(func(w http.ResponseWriter, req *http.Request) {
			defer func() {
				if panicErr := recover(); panicErr != nil {
					r := resp.TextErr(
						http.StatusInternalServerError,
						"An internal server error occurred",
						"panic: %v\nSTACK TRACE: %s", panicErr, string(debug.Stack()),
					)
					r.WriteResponse(w)
					resp.LogResponse(req, r)
				}
			}()
			next.ServeHTTP(w, req)
		})
	}
}
