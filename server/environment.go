package server

import (
	"fmt"
	"strings"

	"github.com/grantdesk/grantdesk"
	"github.com/grantdesk/grantdesk/internal/config"
	"github.com/grantdesk/grantdesk/internal/middle"
)

// Environment contains all parameters needed to run a server. Creating an
// Environment prior to config loading allows all required external
// functionality to be properly registered.
type Environment struct {
	componentProviders      map[string]func() grantdesk.API
	componentProvidersOrder []string

	confEnv *config.Environment

	middleProv *middle.Provider

	connectors *config.ConnectorRegistry

	// DisableDefaults removes the built-in DB connectors.
	DisableDefaults bool
}

func (env *Environment) initDefaults() {
	if env.componentProviders == nil {
		env.componentProviders = map[string]func() grantdesk.API{}
		env.componentProvidersOrder = []string{}
		env.confEnv = &config.Environment{}
		env.middleProv = &middle.Provider{}
		env.connectors = &config.ConnectorRegistry{DisableDefaults: env.DisableDefaults}
	}
}

// UseComponent enables the given component and its section in config. Required
// to be called at least once for every pre-rolled component in use (such as
// auth.Component) prior to loading config that contains its section. Calling
// UseComponent twice with a component with the same name will cause a panic.
func (env *Environment) UseComponent(c grantdesk.Component) {
	env.initDefaults()

	normName := strings.ToLower(c.Name())
	if _, ok := env.componentProviders[normName]; ok {
		panic(fmt.Sprintf("duplicate component: %q is already in-use", c.Name()))
	}

	if err := env.RegisterConfigSection(normName, c.Config); err != nil {
		panic(fmt.Sprintf("register component config section: %v", err))
	}

	env.componentProviders[normName] = c.API
	env.componentProvidersOrder = append(env.componentProvidersOrder, normName)
}

// Components returns the names of the components in use, in the order they
// were added.
func (env *Environment) Components() []string {
	env.initDefaults()
	return append([]string{}, env.componentProvidersOrder...)
}

// RegisterConfigSection registers a provider function, which creates an
// implementor of grantdesk.APIConfig, to the name of the config section that
// should be loaded into it. You must call this for every custom API config
// section, or they will be given the default common config only at
// initialization.
func (env *Environment) RegisterConfigSection(name string, provider func() grantdesk.APIConfig) error {
	env.initDefaults()
	return env.confEnv.Register(name, provider)
}

// SetMainAuthenticator sets what the main authenticator in the middleware
// provider is. This provider will be used when obtaining middleware that uses
// an authenticator but no specific authenticator is specified. The name given
// must be the name of one previously registered with RegisterAuthenticator.
func (env *Environment) SetMainAuthenticator(name string) error {
	env.initDefaults()
	return env.middleProv.RegisterMainAuthenticator(name)
}

// RegisterConnector allows the specification of database connection methods.
// The registered name can then be specified as the connector field of any DB
// in config whose type is the given engine.
func (env *Environment) RegisterConnector(engine grantdesk.DBType, name string, connector func(grantdesk.DatabaseConfig) (grantdesk.Store, error)) error {
	env.initDefaults()
	return env.connectors.Register(engine, name, connector)
}

// RegisterAuthenticator registers an authenticator for use with other
// components. This is generally not called directly; the authenticators of
// APIs added to a server are registered automatically under
// "API_NAME.AUTHENTICATOR_NAME".
func (env *Environment) RegisterAuthenticator(name string, authen grantdesk.Authenticator) error {
	env.initDefaults()
	return env.middleProv.RegisterAuthenticator(name, authen)
}

// LoadConfig loads a configuration from file and then applies any overrides
// set in the process environment. Ensure that UseComponent is first called on
// every component that will be configured, and ensure RegisterConfigSection is
// called for each custom config section not associated with a component.
func (env *Environment) LoadConfig(file string) (grantdesk.Config, error) {
	env.initDefaults()

	cfg, err := env.confEnv.Load(file)
	if err != nil {
		return cfg, err
	}
	if err := config.ApplyEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("environment: %w", err)
	}
	return cfg, nil
}

// DecodeConfig reads a configuration in the given format from data. Unlike
// LoadConfig, no environment overrides are applied.
func (env *Environment) DecodeConfig(f grantdesk.Format, data []byte) (grantdesk.Config, error) {
	env.initDefaults()
	return env.confEnv.Decode(f, data)
}

// DumpConfig dumps the given config to bytes. If Format is not set on the
// Config, YAML is assumed.
func (env *Environment) DumpConfig(cfg grantdesk.Config) []byte {
	env.initDefaults()
	return config.Dump(cfg)
}
