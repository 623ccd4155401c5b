package analytics

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/grantdesk/grantdesk"
)

const (
	ConfigKeyRecordIP = "record_ip"
)

// Config is the config section of the analytics component.
type Config struct {
	CommonConf grantdesk.CommonConfig

	// RecordIP is whether the remote address of a request is stored with
	// the sessions it starts. Off unless set.
	RecordIP bool
}

func (cfg *Config) FillDefaults() grantdesk.APIConfig {
	newCFG := new(Config)
	*newCFG = *cfg

	if newCFG.CommonConf.Enabled {
		if newCFG.CommonConf.Base == "" {
			newCFG.Set(grantdesk.ConfigKeyAPIBase, "/api/analytics")
		}
		if len(newCFG.CommonConf.UsesDBs) < 1 {
			newCFG.Set(grantdesk.ConfigKeyAPIUsesDBs, []string{"main"})
		}
	}

	newCFG.CommonConf = newCFG.CommonConf.FillDefaults().Common()

	return newCFG
}

func (cfg *Config) Validate() error {
	if err := cfg.CommonConf.Validate(); err != nil {
		return err
	}

	if len(cfg.CommonConf.UsesDBs) < 1 {
		return fmt.Errorf("use of at least one database must be declared")
	}

	return nil
}

func (cfg *Config) Common() grantdesk.CommonConfig {
	return cfg.CommonConf
}

func (cfg *Config) Keys() []string {
	keys := cfg.CommonConf.Keys()
	keys = append(keys, ConfigKeyRecordIP)
	return keys
}

func (cfg *Config) Get(key string) interface{} {
	switch strings.ToLower(key) {
	case ConfigKeyRecordIP:
		return cfg.RecordIP
	default:
		return cfg.CommonConf.Get(key)
	}
}

func (cfg *Config) Set(key string, value interface{}) error {
	switch strings.ToLower(key) {
	case ConfigKeyRecordIP:
		if valueBool, ok := value.(bool); ok {
			cfg.RecordIP = valueBool
			return nil
		}
		return fmt.Errorf("key '"+ConfigKeyRecordIP+"' requires a bool but got a %T", value)
	default:
		return cfg.CommonConf.Set(key, value)
	}
}

func (cfg *Config) SetFromString(key string, value string) error {
	switch strings.ToLower(key) {
	case ConfigKeyRecordIP:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("key '"+ConfigKeyRecordIP+"': %w", err)
		}
		return cfg.Set(key, b)
	default:
		return cfg.CommonConf.SetFromString(key, value)
	}
}

// Component exposes client preferences and usage tracking to a server. Its
// config section is named "analytics".
type Component struct{}

func (Component) Name() string {
	return "analytics"
}

func (Component) API() grantdesk.API {
	return &API{}
}

func (Component) Config() grantdesk.APIConfig {
	return &Config{}
}
