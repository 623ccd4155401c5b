package grantdesk

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	ConfigKeyAPIName    = "name"
	ConfigKeyAPIBase    = "base"
	ConfigKeyAPIEnabled = "enabled"
	ConfigKeyAPIUsesDBs = "uses"
)

// APIConfig is a configuration section for a single API. Every component
// provides its own APIConfig type, which must at least expose the keys of
// CommonConfig.
type APIConfig interface {
	// Common returns the parts of the API configuration that all APIs are
	// required to have.
	Common() CommonConfig

	// Keys returns a list of strings, each of which is a valid key that this
	// configuration contains.
	Keys() []string

	// Get gets the current value of a config key. Returns nil if the key is
	// not present.
	Get(key string) interface{}

	// Set sets the current value of a config key directly. The value must be
	// of the correct type.
	Set(key string, value interface{}) error

	// SetFromString sets the current value of a config key by parsing the
	// given string.
	SetFromString(key string, value string) error

	// FillDefaults returns a copy of the APIConfig with any unset values set
	// to default values, if possible.
	FillDefaults() APIConfig

	// Validate returns an error if the APIConfig is invalid.
	Validate() error
}

// CommonConfig holds configuration options common to all APIs.
type CommonConfig struct {
	// Name is the name of the API. Must be unique.
	Name string

	// Enabled is whether the API is to be enabled. By default, this is false in
	// all cases.
	Enabled bool

	// Base is the base URI that all paths will be rooted at, relative to the
	// server base path. This can be "/" (or "", which is equivalent) to
	// indicate that the API is to be based directly at the URIBase of the
	// server config that this API is a part of.
	Base string

	// UsesDBs is a list of names of data stores that the API uses directly.
	// When Init is called, it is passed active connections to each of the
	// DBs. There must be a corresponding entry for each DB name in the root
	// DBs listing in the Config this API is a part of.
	UsesDBs []string
}

// FillDefaults returns a new *CommonConfig identical to cc but with unset
// values set to their defaults and values normalized.
func (cc *CommonConfig) FillDefaults() APIConfig {
	newCC := new(CommonConfig)
	*newCC = *cc

	if newCC.Base == "" {
		newCC.Base = "/"
	}

	return newCC
}

// Validate returns an error if the Config has invalid field values set.
func (cc *CommonConfig) Validate() error {
	if err := validateBaseURI(cc.Base); err != nil {
		return fmt.Errorf(ConfigKeyAPIBase+": %w", err)
	}

	return nil
}

func (cc *CommonConfig) Common() CommonConfig {
	return *cc
}

func (cc *CommonConfig) Keys() []string {
	return []string{ConfigKeyAPIName, ConfigKeyAPIEnabled, ConfigKeyAPIBase, ConfigKeyAPIUsesDBs}
}

func (cc *CommonConfig) Get(key string) interface{} {
	switch strings.ToLower(key) {
	case ConfigKeyAPIName:
		return cc.Name
	case ConfigKeyAPIEnabled:
		return cc.Enabled
	case ConfigKeyAPIBase:
		return cc.Base
	case ConfigKeyAPIUsesDBs:
		return cc.UsesDBs
	default:
		return nil
	}
}

func (cc *CommonConfig) Set(key string, value interface{}) error {
	switch strings.ToLower(key) {
	case ConfigKeyAPIName:
		if valueStr, ok := value.(string); ok {
			cc.Name = valueStr
			return nil
		}
		return fmt.Errorf("key '"+ConfigKeyAPIName+"' requires a string but got a %T", value)
	case ConfigKeyAPIEnabled:
		if valueBool, ok := value.(bool); ok {
			cc.Enabled = valueBool
			return nil
		}
		return fmt.Errorf("key '"+ConfigKeyAPIEnabled+"' requires a bool but got a %T", value)
	case ConfigKeyAPIBase:
		if valueStr, ok := value.(string); ok {
			cc.Base = valueStr
			return nil
		}
		return fmt.Errorf("key '"+ConfigKeyAPIBase+"' requires a string but got a %T", value)
	case ConfigKeyAPIUsesDBs:
		dbs, err := TypedSlice[string](ConfigKeyAPIUsesDBs, value)
		if err != nil {
			return err
		}
		cc.UsesDBs = dbs
		return nil
	default:
		return fmt.Errorf("not a valid key: %q", key)
	}
}

func (cc *CommonConfig) SetFromString(key string, value string) error {
	switch strings.ToLower(key) {
	case ConfigKeyAPIName, ConfigKeyAPIBase:
		return cc.Set(key, value)
	case ConfigKeyAPIEnabled:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		return cc.Set(key, b)
	case ConfigKeyAPIUsesDBs:
		if value == "" {
			return cc.Set(key, []string{})
		}
		return cc.Set(key, strings.Split(value, ","))
	default:
		return fmt.Errorf("not a valid key: %q", key)
	}
}

// Get returns a value from an APIConfig. Panics if the given value is not of
// the given type or if the given key does not exist.
func Get[E any](api APIConfig, key string) E {
	if !apiHas(api, key) {
		panic(fmt.Sprintf("config does not contain key %q", key))
	}
	v := api.Get(key)
	if typed, ok := v.(E); ok {
		return typed
	}

	var check E
	panic(fmt.Sprintf("key %q is not of type %T", key, check))
}

// TypedSlice takes a value that is passed to Set that is expected to be a slice
// of the given type and performs the required conversions. If a non-nil error
// is returned it will contain the key name automatically in its error string.
func TypedSlice[E any](key string, value interface{}) ([]E, error) {
	if value == nil {
		return nil, nil
	}
	if typedValues, ok := value.([]E); ok {
		return typedValues, nil
	}

	valueSlice, ok := value.([]interface{})
	if !ok {
		var typedValues []E
		return nil, fmt.Errorf("key '%s' requires a %T but got a %T", key, typedValues, value)
	}

	typedValues := make([]E, 0, len(valueSlice))
	for i := range valueSlice {
		typed, ok := valueSlice[i].(E)
		if !ok {
			return nil, fmt.Errorf("%s[%d]: %v is not a valid %T", key, i, valueSlice[i], typed)
		}
		typedValues = append(typedValues, typed)
	}
	return typedValues, nil
}

func apiHas(api APIConfig, key string) bool {
	needle := strings.ToLower(key)

	for _, k := range api.Keys() {
		if strings.ToLower(k) == needle {
			return true
		}
	}
	return false
}
