package grantdesk

import (
	"strings"
	"time"
)

// Bundle contains configuration specific to an API and global server properties
// to make a complete API-specific view of a config. It also carries the
// logger and the connected DBs the API asked for, and makes accessing
// properties a little less cumbersome via its particular GetX functions.
type Bundle struct {
	api APIConfig
	g   Globals
	log Logger
	dbs map[string]Store
}

// NewBundle creates a new Bundle from the given parts. dbs may be nil.
func NewBundle(api APIConfig, g Globals, log Logger, dbs map[string]Store) Bundle {
	return Bundle{api: api, g: g, log: log, dbs: dbs}
}

// WithDBs returns a copy of the Bundle with its DBs replaced by dbs.
func (bnd Bundle) WithDBs(dbs map[string]Store) Bundle {
	return Bundle{api: bnd.api, g: bnd.g, log: bnd.log, dbs: dbs}
}

// Logger returns the logger the API should use.
func (bnd Bundle) Logger() Logger {
	return bnd.log
}

// DB returns the connected store for the n-th DB listed in the API's uses key.
// Returns nil if there is no such DB.
func (bnd Bundle) DB(n int) Store {
	uses := bnd.UsesDBs()
	if n < 0 || n >= len(uses) {
		return nil
	}
	return bnd.dbs[strings.ToLower(uses[n])]
}

// NamedDB returns the connected store with the given name, or nil if the API
// was not given one with that name.
func (bnd Bundle) NamedDB(name string) Store {
	return bnd.dbs[strings.ToLower(name)]
}

// ServerPort returns the port that the server the API is being initialized for
// will listen on.
func (bnd Bundle) ServerPort() int {
	return bnd.g.Port
}

// ServerAddress returns the address that the server the API is being
// initialized for will listen on.
func (bnd Bundle) ServerAddress() string {
	return bnd.g.Address
}

// ServerBase returns the base path that all APIs in the server are mounted at.
// It will perform any needed normalization of the base string to ensure that it
// is non-empty, starts with a slash, and does not end with a slash except if it
// is "/".
func (bnd Bundle) ServerBase() string {
	return normalizeBase(bnd.g.URIBase)
}

// ServerUnauthDelay returns the amount of time that the server is configured to
// wait before serving an error response to unauthenticated requests.
func (bnd Bundle) ServerUnauthDelay() time.Duration {
	return bnd.g.UnauthDelay()
}

// Base returns the complete URIBase path configured for any methods. This takes
// ServerBase() and APIBase() and appends them together, handling
// doubled-slashes.
func (bnd Bundle) Base() string {
	svBase := bnd.ServerBase()
	apiBase := bnd.APIBase()

	var base string
	if svBase != "" && svBase != "/" {
		base = svBase
	}
	if apiBase != "" && apiBase != "/" {
		base += apiBase
	}

	if base == "" {
		base = "/"
	}

	return base
}

// Has returns whether the given key exists in the API config.
func (bnd Bundle) Has(key string) bool {
	return apiHas(bnd.api, key)
}

// Name returns the name of the API as read from the API config.
func (bnd Bundle) Name() string {
	return bnd.Get(ConfigKeyAPIName)
}

// APIBase returns the base path of the API that its routes are all mounted at,
// relative to ServerBase.
func (bnd Bundle) APIBase() string {
	return normalizeBase(bnd.Get(ConfigKeyAPIBase))
}

// UsesDBs returns the list of database names that the API is configured to
// connect to, in the order they were listed in config.
func (bnd Bundle) UsesDBs() []string {
	return bnd.GetSlice(ConfigKeyAPIUsesDBs)
}

// Enabled returns whether the API was set to be enabled.
func (bnd Bundle) Enabled() bool {
	return bnd.GetBool(ConfigKeyAPIEnabled)
}

// Get retrieves the value of a string-typed API configuration key. If it
// doesn't exist in the config, the zero-value is returned.
func (bnd Bundle) Get(key string) string {
	return getOrZero[string](bnd, key)
}

// GetByteSlice retrieves the value of a []byte-typed API configuration key.
func (bnd Bundle) GetByteSlice(key string) []byte {
	return getOrZero[[]byte](bnd, key)
}

// GetSlice retrieves the value of a []string-typed API configuration key.
func (bnd Bundle) GetSlice(key string) []string {
	return getOrZero[[]string](bnd, key)
}

// GetBool retrieves the value of a bool-typed API configuration key.
func (bnd Bundle) GetBool(key string) bool {
	return getOrZero[bool](bnd, key)
}

// GetInt retrieves the value of an int-typed API configuration key.
func (bnd Bundle) GetInt(key string) int {
	return getOrZero[int](bnd, key)
}

// GetMap retrieves the value of a map-typed API configuration key.
func (bnd Bundle) GetMap(key string) map[string]string {
	return getOrZero[map[string]string](bnd, key)
}

func getOrZero[E any](bnd Bundle, key string) E {
	var v E

	if bnd.api == nil || !bnd.Has(key) {
		return v
	}
	if typed, ok := bnd.api.Get(key).(E); ok {
		return typed
	}
	return v
}

func normalizeBase(base string) string {
	for len(base) > 0 && base[len(base)-1] == '/' {
		// do not end with a slash, please
		base = base[:len(base)-1]
	}
	if len(base) == 0 || base[0] != '/' {
		base = "/" + base
	}

	return strings.ToLower(base)
}

// GetValue retrieves the raw value of an API configuration key, for keys whose
// type has no dedicated getter. If it doesn't exist in the config, nil is
// returned.
func (bnd Bundle) GetValue(key string) interface{} {
	if bnd.api == nil || !bnd.Has(key) {
		return nil
	}
	return bnd.api.Get(key)
}
