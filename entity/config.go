package entity

import (
	"fmt"
	"strings"

	"github.com/grantdesk/grantdesk"
)

const (
	// ConfigKeyEntities is the list of entity names the API exposes.
	ConfigKeyEntities = "entities"
)

// DefaultEntities are the entity tables exposed when the entities key is not
// set. auth_users is deliberately absent.
var DefaultEntities = []string{
	"clients",
	"organizations",
	"services",
	"payments",
	"client_preferences",
	"analytics_sessions",
	"page_views",
}

// Config is the configuration section for the entity API.
type Config struct {
	CommonConf grantdesk.CommonConfig

	// Entities lists the names of the entities that can be reached through
	// the API. Requests for any other name get an HTTP-404.
	Entities []string
}

func (cfg *Config) FillDefaults() grantdesk.APIConfig {
	newCFG := new(Config)
	*newCFG = *cfg

	if newCFG.CommonConf.Enabled {
		if newCFG.CommonConf.Base == "" {
			newCFG.Set(grantdesk.ConfigKeyAPIBase, "/api/entities")
		}
		if len(newCFG.CommonConf.UsesDBs) < 1 {
			newCFG.Set(grantdesk.ConfigKeyAPIUsesDBs, []string{"main"})
		}
	}

	newCFG.CommonConf = newCFG.CommonConf.FillDefaults().Common()

	if newCFG.Entities == nil {
		newCFG.Entities = append([]string{}, DefaultEntities...)
	}

	return newCFG
}

func (cfg *Config) Validate() error {
	if err := cfg.CommonConf.Validate(); err != nil {
		return err
	}

	if len(cfg.CommonConf.UsesDBs) < 1 {
		return fmt.Errorf("use of at least one database must be declared")
	}

	for i, name := range cfg.Entities {
		if err := ValidateName(name); err != nil {
			return fmt.Errorf(ConfigKeyEntities+"[%d]: %w", i, err)
		}
	}

	return nil
}

func (cfg *Config) Common() grantdesk.CommonConfig {
	return cfg.CommonConf
}

func (cfg *Config) Keys() []string {
	keys := cfg.CommonConf.Keys()
	keys = append(keys, ConfigKeyEntities)
	return keys
}

func (cfg *Config) Get(key string) interface{} {
	switch strings.ToLower(key) {
	case ConfigKeyEntities:
		return cfg.Entities
	default:
		return cfg.CommonConf.Get(key)
	}
}

func (cfg *Config) Set(key string, value interface{}) error {
	switch strings.ToLower(key) {
	case ConfigKeyEntities:
		names, err := grantdesk.TypedSlice[string](ConfigKeyEntities, value)
		if err != nil {
			return err
		}
		cfg.Entities = names
		return nil
	default:
		return cfg.CommonConf.Set(key, value)
	}
}

func (cfg *Config) SetFromString(key string, value string) error {
	switch strings.ToLower(key) {
	case ConfigKeyEntities:
		if value == "" {
			return cfg.Set(key, []string{})
		}
		return cfg.Set(key, strings.Split(value, ","))
	default:
		return cfg.CommonConf.SetFromString(key, value)
	}
}

// Component exposes the entity API to a server. Its config section is named
// "entities".
type Component struct{}

func (Component) Name() string {
	return "entities"
}

func (Component) API() grantdesk.API {
	return &API{}
}

func (Component) Config() grantdesk.APIConfig {
	return &Config{}
}
