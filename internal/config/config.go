// Package config loads server configuration from YAML or JSON files, overlays
// values from the environment, and connects the DBs the configuration
// describes.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/grantdesk/grantdesk"
	"gopkg.in/yaml.v3"
)

// Environment holds the config section providers registered for APIs. The
// zero value is ready to use. Callers generally go through server.Environment
// instead.
type Environment struct {
	apiConfigProviders map[string]func() grantdesk.APIConfig
}

func (env *Environment) initDefaults() {
	if env.apiConfigProviders == nil {
		env.apiConfigProviders = map[string]func() grantdesk.APIConfig{}
	}
}

type marshaledDatabase struct {
	Type            string `yaml:"type" json:"type"`
	Connector       string `yaml:"connector,omitempty" json:"connector,omitempty"`
	Dir             string `yaml:"dir,omitempty" json:"dir,omitempty"`
	File            string `yaml:"file,omitempty" json:"file,omitempty"`
	Migrate         bool   `yaml:"migrate,omitempty" json:"migrate,omitempty"`
	Region          string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	TablePrefix     string `yaml:"table_prefix,omitempty" json:"table_prefix,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
}

type marshaledAPI struct {
	Base    string   `yaml:"base" json:"base"`
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Uses    []string `yaml:"uses" json:"uses"`

	others map[string]interface{}
}

func (mc marshaledAPI) marshalMap() map[string]interface{} {
	m := map[string]interface{}{}

	for name, other := range mc.others {
		m[name] = other
	}

	m["base"] = mc.Base
	m["enabled"] = mc.Enabled
	m["uses"] = mc.Uses

	return m
}

func (mc marshaledAPI) MarshalYAML() (interface{}, error) {
	return mc.marshalMap(), nil
}

func (mc marshaledAPI) MarshalJSON() ([]byte, error) {
	return json.Marshal(mc.marshalMap())
}

type marshaledConfig struct {
	Listen      string                       `yaml:"listen" json:"listen"`
	Auth        string                       `yaml:"authenticator" json:"authenticator"`
	Base        string                       `yaml:"base" json:"base"`
	UnauthDelay int                          `yaml:"unauth_delay" json:"unauth_delay"`
	DBs         map[string]marshaledDatabase `yaml:"dbs" json:"dbs"`
	APIs        map[string]marshaledAPI      `yaml:"apis" json:"apis"`
	Logging     marshaledLog                 `yaml:"logging" json:"logging"`
}

type marshaledLog struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Provider string `yaml:"provider" json:"provider"`
	File     string `yaml:"file,omitempty" json:"file,omitempty"`
}

func decode(f grantdesk.Format, env *Environment, data []byte) (grantdesk.Config, error) {
	var cfg grantdesk.Config
	var mc marshaledConfig
	var err error

	switch f {
	case grantdesk.JSON:
		err = json.Unmarshal(data, &mc)
	case grantdesk.YAML:
		err = yaml.Unmarshal(data, &mc)
	default:
		return cfg, fmt.Errorf("cannot unmarshal data in format %q", f.String())
	}

	if err != nil {
		return cfg, err
	}

	cfg.Format = f
	err = unmarshalConfig(&cfg, env, mc)
	return cfg, err
}

func encode(f grantdesk.Format, c grantdesk.Config) ([]byte, error) {
	mc := marshalConfig(c)
	var err error
	var data []byte

	switch f {
	case grantdesk.JSON:
		data, err = json.Marshal(mc)
	case grantdesk.YAML:
		data, err = yaml.Marshal(mc)
	default:
		return nil, fmt.Errorf("cannot marshal data in format %q", f.String())
	}

	return data, err
}

// SupportedFormats returns a list of formats that the config module supports
// decoding. Includes all but NoFormat.
func SupportedFormats() []grantdesk.Format {
	return []grantdesk.Format{grantdesk.JSON, grantdesk.YAML}
}

// DetectFormat detects the format of a given configuration file and returns the
// Format that can decode it. Returns NoFormat if the format could not be
// detected.
func DetectFormat(file string) grantdesk.Format {
	ext := strings.ToLower(filepath.Ext(file))
	ext = strings.TrimPrefix(ext, ".")

	for _, f := range SupportedFormats() {
		for _, checkedExt := range f.Extensions() {
			if ext == strings.ToLower(checkedExt) {
				return f
			}
		}
	}

	return grantdesk.NoFormat
}

// Dump dumps the configuration into the bytes in a formatted file. This is the
// complete representation of the current state of the Config, and if parsed by
// Load, would result in an equivalent config.
//
// The config will be dumped in the same format it was loaded with, or will
// default to YAML if the cfg was created without loading from a data stream.
//
// This function will cause a panic if there is a problem marshaling the config
// data in its format.
func Dump(cfg grantdesk.Config) []byte {
	f := cfg.Format
	if f == grantdesk.NoFormat {
		f = grantdesk.YAML
	}
	b, err := encode(f, cfg)
	if err != nil {
		panic(fmt.Sprintf("format encoding failed: %v", err))
	}
	return b
}

// Load loads a configuration from a JSON or YAML file. The format of the file
// is determined by examining its extension; files ending in .json are parsed as
// JSON files, and files ending in .yaml or .yml are parsed as YAML files. Other
// extensions are not supported. The extension is not case-sensitive.
//
// Ensure Register is called with all config sections that will be present in
// the loaded file.
func (env *Environment) Load(file string) (grantdesk.Config, error) {
	env.initDefaults()

	f := DetectFormat(file)
	if f == grantdesk.NoFormat {
		var exts []string
		for _, f := range SupportedFormats() {
			for _, ext := range f.Extensions() {
				exts = append(exts, "."+ext)
			}
		}
		return grantdesk.Config{}, fmt.Errorf("%s: incompatible format; must be a %s file", file, strings.Join(exts, ", "))
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return grantdesk.Config{}, fmt.Errorf("%s: %w", file, err)
	}

	return env.Decode(f, data)
}

// Decode reads a configuration from data in the given format.
func (env *Environment) Decode(f grantdesk.Format, data []byte) (grantdesk.Config, error) {
	env.initDefaults()
	return decode(f, env, data)
}

// Register sets the function that creates the APIConfig the config section
// with the given name is loaded into. Sections without a registered provider
// are loaded into a CommonConfig.
func (env *Environment) Register(name string, provider func() grantdesk.APIConfig) error {
	env.initDefaults()

	normName := strings.ToLower(name)
	if _, ok := env.apiConfigProviders[normName]; ok {
		return fmt.Errorf("duplicate config section name: %q is already registered", name)
	}
	if provider == nil {
		return fmt.Errorf("APIConfig provider function cannot be nil")
	}
	env.apiConfigProviders[normName] = provider
	return nil
}

func marshalAPI(api grantdesk.APIConfig) marshaledAPI {
	common := api.Common()
	ma := marshaledAPI{
		Enabled: common.Enabled,
		Base:    common.Base,
		Uses:    common.UsesDBs,
		others:  map[string]interface{}{},
	}

	commonKeys := map[string]struct{}{}
	for _, ck := range (&grantdesk.CommonConfig{}).Keys() {
		commonKeys[ck] = struct{}{}
	}

	for _, key := range api.Keys() {
		// skip common keys; they are already covered above
		if _, isCommonKey := commonKeys[key]; isCommonKey {
			continue
		}

		value := api.Get(key)

		if slValue, ok := value.([]byte); ok {
			value = string(slValue)
		}
		ma.others[key] = value
	}

	return ma
}

func unmarshalAPI(env *Environment, ma marshaledAPI, name string) (grantdesk.APIConfig, error) {
	env.initDefaults()

	nameNorm := strings.ToLower(name)

	var api grantdesk.APIConfig
	prov, ok := env.apiConfigProviders[nameNorm]
	if ok {
		api = prov()
	} else {
		// fallback - if it fails to provide one, it just gets a common config
		api = &grantdesk.CommonConfig{}
	}

	if err := api.Set(grantdesk.ConfigKeyAPIName, nameNorm); err != nil {
		return nil, fmt.Errorf(grantdesk.ConfigKeyAPIName+": %w", err)
	}
	if err := api.Set(grantdesk.ConfigKeyAPIEnabled, ma.Enabled); err != nil {
		return nil, fmt.Errorf(grantdesk.ConfigKeyAPIEnabled+": %w", err)
	}
	if err := api.Set(grantdesk.ConfigKeyAPIBase, ma.Base); err != nil {
		return nil, fmt.Errorf(grantdesk.ConfigKeyAPIBase+": %w", err)
	}
	if err := api.Set(grantdesk.ConfigKeyAPIUsesDBs, ma.Uses); err != nil {
		return nil, fmt.Errorf(grantdesk.ConfigKeyAPIUsesDBs+": %w", err)
	}

	for k, v := range ma.others {
		kNorm := strings.ToLower(k)
		if err := api.Set(kNorm, v); err != nil {
			return nil, fmt.Errorf("%s: %w", kNorm, err)
		}
	}

	return api, nil
}

// unmarshal completely replaces all attributes.
//
// does no validation except that which is required for parsing.
func unmarshalLog(log *grantdesk.LogConfig, m marshaledLog) error {
	var err error

	log.Enabled = m.Enabled
	log.Provider, err = grantdesk.ParseLogProvider(m.Provider)
	if err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	log.File = m.File

	return nil
}

func marshalLog(log grantdesk.LogConfig) marshaledLog {
	return marshaledLog{
		Enabled:  log.Enabled,
		Provider: log.Provider.String(),
		File:     log.File,
	}
}

// unmarshal completely replaces all attributes.
//
// does no validation except that which is required for parsing.
func unmarshalGlobals(cfg *grantdesk.Globals, m marshaledConfig) error {
	if m.Listen != "" {
		addr, port, err := parseListen(m.Listen)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		cfg.Address = addr
		cfg.Port = port
	}

	cfg.URIBase = m.Base
	cfg.MainAuthProvider = m.Auth
	cfg.UnauthDelayMillis = m.UnauthDelay

	return nil
}

func marshalGlobalsToConfig(cfg grantdesk.Globals, mc *marshaledConfig) {
	mc.Listen = fmt.Sprintf("%s:%d", cfg.Address, cfg.Port)
	mc.Base = cfg.URIBase
	mc.Auth = cfg.MainAuthProvider
	mc.UnauthDelay = cfg.UnauthDelayMillis
}

// unmarshal completely replaces all attributes with the values or missing
// values in the marshaledConfig.
//
// does no validation except that which is required for parsing.
func unmarshalConfig(cfg *grantdesk.Config, env *Environment, m marshaledConfig) error {
	if env == nil {
		env = &Environment{}
	}

	if err := unmarshalGlobals(&cfg.Globals, m); err != nil {
		return err
	}
	cfg.DBs = map[string]grantdesk.DatabaseConfig{}
	for n, marshaledDB := range m.DBs {
		var db grantdesk.DatabaseConfig
		err := unmarshalDatabase(&db, marshaledDB)
		if err != nil {
			return fmt.Errorf("dbs: %s: %w", n, err)
		}
		cfg.DBs[strings.ToLower(n)] = db
	}
	cfg.APIs = map[string]grantdesk.APIConfig{}
	for n, mAPI := range m.APIs {
		api, err := unmarshalAPI(env, mAPI, n)
		if err != nil {
			return fmt.Errorf("%s: %w", n, err)
		}
		cfg.APIs[strings.ToLower(n)] = api
	}
	if err := unmarshalLog(&cfg.Log, m.Logging); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	return nil
}

func marshalConfig(cfg grantdesk.Config) marshaledConfig {
	mc := marshaledConfig{
		DBs:     map[string]marshaledDatabase{},
		APIs:    map[string]marshaledAPI{},
		Logging: marshalLog(cfg.Log),
	}

	marshalGlobalsToConfig(cfg.Globals, &mc)
	for n, db := range cfg.DBs {
		mc.DBs[n] = marshalDatabase(db)
	}
	for n, api := range cfg.APIs {
		mc.APIs[n] = marshalAPI(api)
	}

	return mc
}

// unmarshal completely replaces all attributes with the values or missing
// values in the marshaledDatabase.
//
// does no validation except that which is required for parsing.
func unmarshalDatabase(db *grantdesk.DatabaseConfig, m marshaledDatabase) error {
	var err error

	db.Type, err = grantdesk.ParseDBType(m.Type)
	if err != nil {
		return fmt.Errorf("type: %w", err)
	}

	db.Connector = m.Connector
	db.DataDir = m.Dir
	db.DataFile = m.File
	db.Migrate = m.Migrate
	db.Region = m.Region
	db.Endpoint = m.Endpoint
	db.TablePrefix = m.TablePrefix
	db.AccessKeyID = m.AccessKeyID
	db.SecretAccessKey = m.SecretAccessKey

	return nil
}

func marshalDatabase(db grantdesk.DatabaseConfig) marshaledDatabase {
	return marshaledDatabase{
		Type:            db.Type.String(),
		Connector:       db.Connector,
		Dir:             db.DataDir,
		File:            db.DataFile,
		Migrate:         db.Migrate,
		Region:          db.Region,
		Endpoint:        db.Endpoint,
		TablePrefix:     db.TablePrefix,
		AccessKeyID:     db.AccessKeyID,
		SecretAccessKey: db.SecretAccessKey,
	}
}

func (mc *marshaledConfig) unmarshalMap(m map[string]interface{}, unmarshalFn func([]byte, interface{}) error, marshalFn func(interface{}) ([]byte, error)) error {
	for k, v := range m {
		delete(m, k)
		m[strings.ToLower(k)] = v
	}

	if listen, ok := m["listen"]; ok {
		listenStr, convOk := listen.(string)
		if !convOk {
			return fmt.Errorf("listen: should be a string but was of type %T", listen)
		}
		mc.Listen = listenStr
		delete(m, "listen")
	}
	if base, ok := m["base"]; ok {
		baseStr, convOk := base.(string)
		if !convOk {
			return fmt.Errorf("base: should be a string but was of type %T", base)
		}
		mc.Base = baseStr
		delete(m, "base")
	}
	if delay, ok := m["unauth_delay"]; ok {
		switch typed := delay.(type) {
		case int:
			mc.UnauthDelay = typed
		case float64:
			// JSON numbers
			mc.UnauthDelay = int(typed)
		default:
			return fmt.Errorf("unauth_delay: should be an integer but was of type %T", delay)
		}
		delete(m, "unauth_delay")
	}
	if loggingUntyped, ok := m["logging"]; ok {
		loggingObj, convOk := loggingUntyped.(map[string]interface{})
		if !convOk {
			return fmt.Errorf("logging: should be an object but was of type %T", loggingUntyped)
		}
		encoded, err := marshalFn(loggingObj)
		if err != nil {
			return fmt.Errorf("logging: re-encode: %w", err)
		}
		err = unmarshalFn(encoded, &mc.Logging)
		if err != nil {
			return fmt.Errorf("logging: %w", err)
		}
		delete(m, "logging")
	}
	if authProv, ok := m["authenticator"]; ok {
		authProvStr, convOk := authProv.(string)
		if !convOk {
			return fmt.Errorf("authenticator: should be a string but was of type %T", authProv)
		}
		splitted := strings.Split(authProvStr, ".")
		if authProvStr != "" && len(splitted) != 2 {
			return fmt.Errorf("authenticator: not in COMPONENT.PROVIDER format: %q", authProvStr)
		}
		mc.Auth = authProvStr
		delete(m, "authenticator")
	}

	mc.DBs = map[string]marshaledDatabase{}
	if dbs, ok := m["dbs"]; ok {
		dbsObj, convOk := dbs.(map[string]interface{})
		if !convOk {
			return fmt.Errorf("dbs: should be an object but was of type %T", dbs)
		}
		for name, dbUntyped := range dbsObj {
			encoded, err := marshalFn(dbUntyped)
			if err != nil {
				return fmt.Errorf("dbs: %s: re-encode: %w", name, err)
			}
			var db marshaledDatabase
			err = unmarshalFn(encoded, &db)
			if err != nil {
				return fmt.Errorf("dbs: %s: %w", name, err)
			}
			mc.DBs[name] = db
		}
		delete(m, "dbs")
	}

	// ...then, all the rest are API sections that are their own config
	mc.APIs = map[string]marshaledAPI{}
	for name, apiUntyped := range m {
		apiMap, convOk := apiUntyped.(map[string]interface{})
		if !convOk {
			return fmt.Errorf("%s: should be an object but was of type %T", name, apiUntyped)
		}

		encoded, err := marshalFn(apiMap)
		if err != nil {
			return fmt.Errorf("%s: re-encode: %w", name, err)
		}

		var api marshaledAPI
		err = unmarshalFn(encoded, &api)
		if err != nil {
			// rn we only have error msg lineno correction for yaml
			if typeErr, ok := err.(*yaml.TypeError); ok {
				errStr := ""
				for i := range typeErr.Errors {
					if i != 0 {
						errStr += "\n"
					}
					errStr += "key #" + strings.TrimPrefix(typeErr.Errors[i], "line ")
				}
				err = fmt.Errorf("%s", errStr)
			}
			return fmt.Errorf("API %q: %w", name, err)
		}

		// make everyfin case-insensitive
		for k, v := range apiMap {
			delete(apiMap, k)
			apiMap[strings.ToLower(k)] = v
		}

		// delete the base attributes from the map
		delete(apiMap, "base")
		delete(apiMap, "uses")
		delete(apiMap, "enabled")

		api.others = map[string]interface{}{}
		for k, v := range apiMap {
			api.others[k] = normalizeJSONValue(v)
		}

		mc.APIs[name] = api
	}

	return nil
}

// normalizeJSONValue converts whole float64 numbers, which is how JSON
// decodes every number, to ints so that API configs see the same types
// whether they were loaded from YAML or JSON.
func normalizeJSONValue(v interface{}) interface{} {
	switch typed := v.(type) {
	case float64:
		if typed == float64(int(typed)) {
			return int(typed)
		}
		return typed
	case []interface{}:
		for i := range typed {
			typed[i] = normalizeJSONValue(typed[i])
		}
		return typed
	case map[string]interface{}:
		for k := range typed {
			typed[k] = normalizeJSONValue(typed[k])
		}
		return typed
	default:
		return v
	}
}

func (mc *marshaledConfig) UnmarshalYAML(n *yaml.Node) error {
	var m map[string]interface{}
	if err := n.Decode(&m); err != nil {
		return err
	}

	return mc.unmarshalMap(m, yaml.Unmarshal, yaml.Marshal)
}

func (mc marshaledConfig) marshalMap() interface{} {
	m := map[string]interface{}{}

	for n, api := range mc.APIs {
		m[n] = api
	}

	m["logging"] = mc.Logging
	m["base"] = mc.Base
	m["dbs"] = mc.DBs
	m["listen"] = mc.Listen
	m["authenticator"] = mc.Auth
	m["unauth_delay"] = mc.UnauthDelay

	return m
}

func (mc marshaledConfig) MarshalYAML() (interface{}, error) {
	return mc.marshalMap(), nil
}

func (mc marshaledConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(mc.marshalMap())
}

func (mc *marshaledConfig) UnmarshalJSON(b []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}

	return mc.unmarshalMap(m, json.Unmarshal, json.Marshal)
}
