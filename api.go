// Package grantdesk contains the core types of the grantdesk server: the API
// and Component contracts, configuration, errors, logging and endpoint result
// types. Concrete functionality lives in the sub-packages: entity for generic
// record access, auth for sessions and login, analytics for client
// preferences and usage tracking, migrate for schema management and server for
// hosting all of them.
package grantdesk

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// API holds parameters for endpoints needed to run and a service layer that
// will perform most of the actual logic. To use API, create one and add it to
// a RESTServer.
type API interface {

	// Init creates the API initially and does any setup other than routing its
	// endpoints. It takes in a bundle that can be used to access configuration
	// options and any DBs requested in the API's 'uses' config key.
	//
	// The API should not expect that any other API has yet been initialized
	// during a call to Init, and should not attempt to use auth middleware that
	// relies on other APIs. Defer actual usage to Routes.
	Init(cb Bundle) error

	// Authenticators returns any configured authenticators that this API
	// provides. Other APIs will be able to refer to these authenticators by
	// name, prefixed with the API's name and a dot.
	//
	// Init must be called before Authenticators is called.
	Authenticators() map[string]Authenticator

	// Routes returns a router that leads to all accessible routes in the API.
	// Init is guaranteed to have been called for all APIs in the server before
	// Routes is called, and it is safe to refer to middleware services that
	// rely on other APIs within.
	Routes(ServiceProvider) chi.Router

	// Shutdown terminates any pending operations cleanly and releases any held
	// resources. It will be called after the server listener socket is shut
	// down.
	Shutdown(ctx context.Context) error
}

// Component is a pre-rolled API along with its config section. Components are
// enabled with Environment.UseComponent and automatically added to servers
// whose config contains their section.
type Component interface {
	// Name returns the name of the component, which must be unique across all
	// components in use.
	Name() string

	// API returns a new, uninitialized API that the Component uses as its
	// server frontend.
	API() API

	// Config returns a new APIConfig instance that the Component's config
	// section is loaded into.
	Config() APIConfig
}

// RESTServer is an HTTP REST server that provides resources. Create one with
// the server package.
type RESTServer interface {
	Config() Config
	RoutesIndex() string
	Handler() http.Handler
	Add(name string, api API) error
	ServeForever() error
	Shutdown(ctx context.Context) error
}

// Store is a connection to a persistence layer. APIs receive the stores they
// use in Init and type-assert them to the interfaces they need, such as
// entity.Store.
type Store interface {
	// Close performs any clean-up operations required and flushes pending
	// operations.
	Close() error
}

// Middleware is a function that takes a handler and returns a new handler which
// wraps the given one and provides some additional functionality.
type Middleware func(next http.Handler) http.Handler

// EndpointFunc is a function that handles a request and produces a Result.
type EndpointFunc func(req *http.Request) Result

// Override is used to change the behavior of Endpoint for a single endpoint.
type Override struct {
	// Authenticators, if set, gives the names of the authenticators whose
	// UnauthDelay is used, in priority order.
	Authenticators []string
}

// CombineOverrides merges a list of Overrides into one. Later entries take
// priority.
func CombineOverrides(overs []Override) Override {
	var combined Override
	for _, o := range overs {
		if len(o.Authenticators) > 0 {
			combined.Authenticators = o.Authenticators
		}
	}
	return combined
}

// ServiceProvider is handed to each API's Routes method and gives access to
// middleware, response creation and logging.
type ServiceProvider interface {
	ResponseGenerator

	DontPanic() Middleware
	OptionalAuth(authenticators ...string) Middleware
	RequiredAuth(authenticators ...string) Middleware
	SelectAuthenticator(authenticators ...string) Authenticator
	GetLoggedInUser(req *http.Request) (user AuthUser, loggedIn bool)
	Endpoint(ep EndpointFunc, overrides ...Override) http.HandlerFunc
	Logger() Logger
}

// Authenticator extracts the identity of the caller from a request.
type Authenticator interface {
	// Authenticate retrieves the user details from the request using whatever
	// method is correct for the auth handler. Returns the user, whether the
	// user is currently logged in, and any error that occured. If the user is
	// not logged in but no error occurred, the returned error is nil.
	Authenticate(req *http.Request) (AuthUser, bool, error)

	// UnauthDelay is the amount of time that the system should delay
	// responding to unauthenticated requests to endpoints that require auth.
	UnauthDelay() time.Duration
}

// Role is the role of an authenticated caller.
type Role int64

const (
	Guest Role = iota
	Client
	Normal
	Admin Role = 100
)

func (r Role) String() string {
	switch r {
	case Guest:
		return "guest"
	case Client:
		return "client"
	case Normal:
		return "normal"
	case Admin:
		return "admin"
	default:
		return fmt.Sprintf("Role(%d)", int64(r))
	}
}

// IsStaff returns whether r is the role of a staff account, which may manage
// every client. New accounts are guests until an admin gives them a staff
// role.
func (r Role) IsStaff() bool {
	return r >= Normal
}

// ParseRole parses a string created with Role.String into a Role.
func ParseRole(s string) (Role, error) {
	check := strings.ToLower(s)
	switch check {
	case "guest", "":
		return Guest, nil
	case "client":
		return Client, nil
	case "normal":
		return Normal, nil
	case "admin":
		return Admin, nil
	default:
		return Guest, fmt.Errorf("must be one of 'guest', 'client', 'normal', or 'admin'")
	}
}

// AuthUser is the identity of an authenticated caller. It is either an
// account from the auth_users table or, for access-code logins, a client
// record; Role tells which.
type AuthUser struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name,omitempty"`
	Role       Role      `json:"-"`
	Provider   string    `json:"provider,omitempty"`
	Created    time.Time `json:"created_date"`
	Modified   time.Time `json:"updated_date"`
	LastLogin  time.Time `json:"last_login"`
	LastLogout time.Time `json:"-"`

	// Password is the stored password hash. It is never sent to clients.
	Password string `json:"-"`
}
