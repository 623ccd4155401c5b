package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/grantdesk/grantdesk"
	"github.com/grantdesk/grantdesk/internal/logging"
)

// readHeaderTimeout bounds how long a client may take to send request headers.
const readHeaderTimeout = 10 * time.Second

// restServer is an HTTP REST server that provides resources. The zero-value of
// a restServer should not be used directly; call Environment.NewServer to get
// one ready for use.
type restServer struct {
	mtx         *sync.Mutex
	rtr         chi.Router
	closing     bool
	closed      bool
	serving     bool
	http        *http.Server
	apis        map[string]grantdesk.API
	apiBases    map[string]string
	basesToAPIs map[string]string // used for tracking that APIs do not eat each other
	dbs         map[string]grantdesk.Store
	cfg         grantdesk.Config // config that it was started with.

	log grantdesk.Logger // used for logging. if logging disabled, this will be set to a no-op logger

	env *Environment // ptr back to the environment that this server was created in.
}

// NewServer creates a new RESTServer ready to have new APIs added to it. All
// configured DBs are connected to before this function returns, and the config
// is retained for future operations. Any registered auto-APIs are automatically
// added via Add as per the configuration; this includes both built-in and
// user-supplied APIs.
func (env *Environment) NewServer(cfg *grantdesk.Config) (grantdesk.RESTServer, error) {
	env.initDefaults()

	// check config
	if cfg == nil {
		cfg = &grantdesk.Config{}
	} else {
		copy := new(grantdesk.Config)
		*copy = *cfg
		cfg = copy
	}
	*cfg = cfg.FillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var logger grantdesk.Logger = logging.NoOpLogger{}
	// config is loaded, make the first thing we start be our logger
	if cfg.Log.Enabled {
		var err error

		logger, err = logging.New(cfg.Log.Provider, cfg.Log.File)
		if err != nil {
			return nil, fmt.Errorf("create logger: %w", err)
		}
	}

	// connect DBs
	env.connectors.Log = logger
	dbs := map[string]grantdesk.Store{}
	for name, db := range cfg.DBs {
		store, err := env.connectors.Connect(db)
		if err != nil {
			closeStores(dbs, logger)
			return nil, fmt.Errorf("connect DB %q: %w", name, err)
		}
		dbs[strings.ToLower(name)] = store
		logger.Debugf("Connected %s DB %q", db.Type, name)
	}

	rs := &restServer{
		apis:        map[string]grantdesk.API{},
		apiBases:    map[string]string{},
		mtx:         &sync.Mutex{},
		basesToAPIs: map[string]string{},
		dbs:         dbs,
		cfg:         *cfg,
		log:         logger,

		env: env,
	}

	// check on pre-rolled components, they need to be inited first.
	for _, name := range env.componentProvidersOrder {
		prov := env.componentProviders[name]
		if _, ok := cfg.APIs[name]; ok {
			preRolled := prov()
			if err := rs.Add(name, preRolled); err != nil {
				closeStores(dbs, logger)
				return nil, fmt.Errorf("component API %s: create API: %w", name, err)
			}
			logger.Debugf("Added pre-rolled component %q", name)
		}
	}

	// okay, after the pre-rolls are initialized and authenticators added, it
	// should be safe to set the main authenticator
	if cfg.Globals.MainAuthProvider != "" {
		if err := env.SetMainAuthenticator(cfg.Globals.MainAuthProvider); err != nil {
			closeStores(dbs, logger)
			return nil, fmt.Errorf("authenticator: %w", err)
		}
	}

	return rs, nil
}

func closeStores(dbs map[string]grantdesk.Store, log grantdesk.Logger) error {
	var errs []error
	for name, db := range dbs {
		if err := db.Close(); err != nil {
			log.Errorf("close DB %q: %v", name, err)
			errs = append(errs, fmt.Errorf("close DB %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Config returns the configuration that the server used during creation.
// Modifying the returned config will have no effect on the server.
func (rs restServer) Config() grantdesk.Config {
	return rs.cfg.FillDefaults()
}

// RoutesIndex returns a human-readable formatted string that lists all routes
// and methods currently available in the server.
func (rs *restServer) RoutesIndex() string {
	routeMethods := map[string][]string{}

	r := rs.routeAllAPIs()
	chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		meths, ok := routeMethods[route]
		if !ok {
			meths = []string{}
		}

		meths = append(meths, method)
		routeMethods[route] = meths

		return nil
	})

	// alphabetize the routes
	allRoutes := []string{}
	for name := range routeMethods {
		allRoutes = append(allRoutes, name)
	}
	sort.Strings(allRoutes)

	// write the sorted routes
	var sb strings.Builder
	for _, r := range allRoutes {
		sb.WriteString("* ")
		sb.WriteString(r)
		sb.WriteString(" - ")

		meths := routeMethods[r]
		sort.Strings(meths)
		for i, m := range meths {
			sb.WriteString(m)
			if i+1 < len(meths) {
				sb.WriteString(", ")
			}
		}
		sb.WriteRune('\n')
	}

	return grantdesk.UnPathParam(strings.TrimSpace(sb.String()))
}

// routeAllAPIs is called just before serving. it gets all enabled routes and
// mounts them in the base router.
func (rs *restServer) routeAllAPIs() chi.Router {
	rs.mtx.Lock()
	defer rs.mtx.Unlock()

	if rs.rtr != nil {
		return rs.rtr
	}

	env := rs.env
	if env == nil {
		env = &Environment{}
		env.initDefaults()
	}

	sp := services{mid: env.middleProv, log: rs.log}

	// Create root router
	root := chi.NewRouter()
	root.Use(env.middleProv.DontPanic(sp))

	// make server base router
	r := root
	if rs.cfg.Globals.URIBase != "/" {
		r = chi.NewRouter()
		root.Mount(rs.cfg.Globals.URIBase, r)
	}

	for name, api := range rs.apis {
		apiConf := rs.getAPIConfigBundle(name)
		if apiConf.Enabled() {
			base := rs.apiBases[name]
			apiRouter := api.Routes(sp)

			if apiRouter != nil {
				r.Mount(base, apiRouter)
				if base != "/" {

					// check if there are subpaths
					hasSubpaths := false

					chi.Walk(apiRouter, func(_, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
						trimmedRoute := strings.TrimLeft(route, "/")
						if trimmedRoute != "" {
							hasSubpaths = true
						}
						return nil
					})

					if !hasSubpaths {
						r.HandleFunc(base+"/", grantdesk.RedirectNoTrailingSlash(sp))
					}
				}
			}
		}
	}

	rs.rtr = root

	return root
}

// Add adds the given API to the server. If it is enabled in its config, it will
// be initialized with the configuration section that matches its name. The name
// is case-insensitive and will be normalized to lowercase. It is an error to
// use the same normalized name in two calls to Add on the same RESTServer.
//
// Returns an error if there is any issue initializing the API.
func (rs *restServer) Add(name string, api grantdesk.API) error {
	name = strings.ToLower(name)

	if _, ok := rs.apis[name]; ok {
		return fmt.Errorf("API named %q has already been added", name)
	}

	apiConf := rs.getAPIConfigBundle(name)

	rs.mtx.Lock()
	defer rs.mtx.Unlock()
	// the router is rebuilt on next use so it includes the new API
	rs.rtr = nil

	env := rs.env
	if env == nil {
		env = &Environment{}
	}

	rs.apis[name] = api
	if apiConf.Enabled() {
		rs.log.Debugf("Added API %q; initializing...", name)
		base, err := rs.initAPI(name, api)
		if err != nil {
			return err
		}
		rs.apiBases[name] = base

		auths := api.Authenticators()
		for aName, a := range auths {
			fullName := name + "." + aName
			if err := env.RegisterAuthenticator(fullName, a); err != nil {
				return fmt.Errorf("API %q: register authenticator: %w", name, err)
			}
			rs.log.Debugf("Registered authenticator %q", fullName)
		}
	} else {
		rs.log.Debugf("Added API %q; skipping initialization due to enabled=false", name)
	}

	return nil
}

// will return default "common bundle" with only the name set if the named API
// is not in the configured APIs. dbs will not be set.
func (rs *restServer) getAPIConfigBundle(name string) grantdesk.Bundle {
	conf, ok := rs.cfg.APIs[strings.ToLower(name)]
	if !ok {
		return grantdesk.NewBundle((&grantdesk.CommonConfig{Name: name}).FillDefaults(), rs.cfg.Globals, rs.log, nil)
	}
	return grantdesk.NewBundle(conf, rs.cfg.Globals, rs.log, nil)
}

func (rs *restServer) initAPI(name string, api grantdesk.API) (string, error) {
	if _, ok := rs.cfg.APIs[strings.ToLower(name)]; !ok {
		rs.log.Warnf("config section %q is not present", name)
	}
	apiConf := rs.getAPIConfigBundle(name)

	// find the actual dbs it uses
	usedDBs := map[string]grantdesk.Store{}
	usedDBNames := apiConf.UsesDBs()

	for _, dbName := range usedDBNames {
		connectedDB, ok := rs.dbs[strings.ToLower(dbName)]
		if !ok {
			return "", fmt.Errorf("API refers to missing DB %q", strings.ToLower(dbName))
		}
		usedDBs[strings.ToLower(dbName)] = connectedDB
	}

	base := apiConf.APIBase()
	// routing must be unique on case-insensitive basis (unless it's root, in
	// which case we make zero assumptions)
	if base != "/" {
		if curUser, ok := rs.basesToAPIs[base]; ok {
			return "", fmt.Errorf("API %q and %q specify effectively identical API route bases of %q", name, curUser, base)
		}
		rs.basesToAPIs[base] = name
	}

	initBundle := apiConf.WithDBs(usedDBs)

	if err := api.Init(initBundle); err != nil {
		return "", fmt.Errorf("init API %q: Init(): %w", name, err)
	}
	rs.log.Debugf("Successfully initialized API %q", name)

	return base, nil
}

func (rs *restServer) checkCreatedViaNew() {
	if rs.mtx == nil {
		panic("server mutex is in invalid state; was this RESTServer created with NewServer()?")
	}
}

// ServeForever begins listening on the server's configured address and port for
// HTTP REST client requests.
//
// This function will block until the server is stopped. If it returns as a
// result of rs.Close() being called elsewhere, it will return
// http.ErrServerClosed.
func (rs *restServer) ServeForever() (err error) {
	rs.checkCreatedViaNew()
	rs.mtx.Lock()
	if rs.serving {
		rs.mtx.Unlock()
		return fmt.Errorf("server is already running")
	}
	if rs.closed || rs.closing {
		rs.mtx.Unlock()
		return http.ErrServerClosed
	}
	rs.serving = true
	rs.mtx.Unlock()

	addr := fmt.Sprintf("%s:%d", rs.cfg.Globals.Address, rs.cfg.Globals.Port)

	// calling into user code, do a panic check
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic occurred while running server: %v", r)
		}
	}()
	rtr := rs.routeAllAPIs()
	rs.mtx.Lock()
	if rs.closed {
		// shut down while routes were being built
		rs.serving = false
		rs.mtx.Unlock()
		return http.ErrServerClosed
	}
	rs.http = &http.Server{Addr: addr, Handler: rtr, ReadHeaderTimeout: readHeaderTimeout}
	srv := rs.http
	rs.mtx.Unlock()

	rs.log.Infof("Listening on %s", addr)

	defer func() {
		rs.mtx.Lock()
		rs.closing = false
		rs.serving = false
		rs.mtx.Unlock()
	}()

	return srv.ListenAndServe()
}

// Handler returns the router serving every enabled API. It is what
// ServeForever listens with, and can be handed to an httptest.Server or
// mounted in another mux.
func (rs *restServer) Handler() http.Handler {
	rs.checkCreatedViaNew()
	return rs.routeAllAPIs()
}

// Shutdown shuts down the server gracefully, first closing the HTTP server to
// new connections and then shutting down each individual API the server was
// created with, and finally closing every connected DB. This will cause
// ServeForever to return in any Go thread that is blocking on it. If the
// passed-in context is canceled while shutting down, it will halt graceful
// shutdown of the HTTP server and the APIs; DBs are still closed.
//
// A server that was only used through Handler may also be shut down this way.
// Once Shutdown returns, the RESTServer should not be used again.
func (rs *restServer) Shutdown(ctx context.Context) error {
	rs.checkCreatedViaNew()
	rs.mtx.Lock()
	defer rs.mtx.Unlock()
	if rs.closing {
		return fmt.Errorf("close already in-progress in another goroutine")
	}
	if rs.closed {
		return fmt.Errorf("server is already shut down")
	}
	rs.closing = true
	defer func() {
		rs.closing = false
		rs.closed = true
	}()

	var errs []error

	if rs.http != nil {
		err := rs.http.Shutdown(ctx)
		rs.http = nil
		if err != nil {
			errs = append(errs, fmt.Errorf("stop HTTP server: %w", err))
			if err == ctx.Err() {
				// the context expired; do not wait for clean shutdown of the
				// APIs.
				errs = append(errs, closeStores(rs.dbs, rs.log))
				return errors.Join(errs...)
			}
		}
	}

	// call life-cycle shutdown on each API
	for name, api := range rs.apis {
		apiConf := rs.getAPIConfigBundle(name)
		if !apiConf.Enabled() {
			continue
		}

		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := api.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown API %q: %w", name, err))
		}
	}

	errs = append(errs, closeStores(rs.dbs, rs.log))
	rs.log.Debugf("Server shut down")

	return errors.Join(errs...)
}
