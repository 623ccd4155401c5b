package auth

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/grantdesk/grantdesk"
	"gopkg.in/yaml.v3"
)

const (
	ConfigKeySecret      = "secret"
	ConfigKeySetAdmin    = "set_admin"
	ConfigKeyUnauthDelay = "unauth_delay"
	ConfigKeyOAuth       = "oauth"
)

// DefaultSecret is the token secret used when none is configured. It is not
// safe for production.
const DefaultSecret = "DEFAULT_NONPROD_TOKEN_SECRET_DO_NOT_USE"

// OAuthConfig configures one OAuth provider. For the providers "google" and
// "github" only the client ID, client secret and redirect URL are needed.
type OAuthConfig struct {
	ClientID     string   `yaml:"client_id" json:"client_id"`
	ClientSecret string   `yaml:"client_secret" json:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url" json:"redirect_url"`
	AuthURL      string   `yaml:"auth_url,omitempty" json:"auth_url,omitempty"`
	TokenURL     string   `yaml:"token_url,omitempty" json:"token_url,omitempty"`
	UserInfoURL  string   `yaml:"userinfo_url,omitempty" json:"userinfo_url,omitempty"`
	Scopes       []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`
}

// Config is the config section of the auth component.
type Config struct {
	CommonConf grantdesk.CommonConfig

	// Secret is the secret used for signing tokens. If not provided, a default
	// key is used. The clients component must be given the same secret.
	Secret []byte

	// SetAdmin sets the initial admin account in the DB. If it doesn't exist,
	// it's created on initialization. Format must be EMAIL:PASSWORD. This will
	// not default; if none is provided, no account is created. If the account
	// already exists, it will have its password set to the given one.
	SetAdmin string

	// UnauthDelayMillis is the amount of additional time to wait
	// (in milliseconds) before sending a response that indicates either that
	// the client was unauthorized or the client was unauthenticated. This is
	// something of an "anti-flood" measure for naive clients attempting
	// non-parallel connections. If not set it will default to 1 second
	// (1000ms). Set this to any negative number to disable the delay.
	UnauthDelayMillis int

	// OAuth is the OAuth providers users can sign in with, by name.
	OAuth map[string]OAuthConfig
}

// FillDefaults returns a new *Config identical to cfg but with unset values set
// to their defaults and values normalized.
func (cfg *Config) FillDefaults() grantdesk.APIConfig {
	newCFG := new(Config)
	*newCFG = *cfg

	// if no other options are specified except for enable, fill with standard
	if newCFG.CommonConf.Enabled {
		if newCFG.CommonConf.Base == "" {
			newCFG.Set(grantdesk.ConfigKeyAPIBase, "/api/auth")
		}
		if len(newCFG.CommonConf.UsesDBs) < 1 {
			newCFG.Set(grantdesk.ConfigKeyAPIUsesDBs, []string{"main"})
		}
	}

	newCFG.CommonConf = newCFG.CommonConf.FillDefaults().Common()

	if newCFG.Secret == nil {
		newCFG.Secret = []byte(DefaultSecret)
	}
	if newCFG.UnauthDelayMillis == 0 {
		newCFG.UnauthDelayMillis = 1000
	}
	if newCFG.OAuth == nil {
		newCFG.OAuth = map[string]OAuthConfig{}
	}

	return newCFG
}

// Validate returns an error if the Config has invalid field values set. Empty
// and unset values are considered invalid; if defaults are intended to be used,
// call Validate on the return value of FillDefaults.
func (cfg *Config) Validate() error {
	if err := cfg.CommonConf.Validate(); err != nil {
		return err
	}

	if len(cfg.CommonConf.UsesDBs) < 1 {
		return fmt.Errorf("use of at least one database must be declared")
	}

	if err := validateSecret(cfg.Secret); err != nil {
		return err
	}

	if cfg.SetAdmin != "" {
		_, _, err := parseSetAdmin(cfg.SetAdmin)
		if err != nil {
			return err
		}
	}

	for _, name := range sortedProviderNames(cfg.OAuth) {
		p := cfg.OAuth[name]
		if p.ClientID == "" {
			return fmt.Errorf(ConfigKeyOAuth+": %s: client_id must not be empty", name)
		}
		if _, err := NewOAuthProvider(name, p); err != nil {
			return fmt.Errorf(ConfigKeyOAuth+": %w", err)
		}
	}

	return nil
}

func validateSecret(secret []byte) error {
	if len(secret) < grantdesk.MinSecretSize {
		return fmt.Errorf(ConfigKeySecret+": must be at least %d bytes, but is %d", grantdesk.MinSecretSize, len(secret))
	}
	if len(secret) > grantdesk.MaxSecretSize {
		return fmt.Errorf(ConfigKeySecret+": must be no more than %d bytes, but is %d", grantdesk.MaxSecretSize, len(secret))
	}
	return nil
}

func parseSetAdmin(s string) (email, pass string, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf(ConfigKeySetAdmin + ": not in EMAIL:PASSWORD format")
	}
	if len(parts[0]) < 1 {
		return "", "", fmt.Errorf(ConfigKeySetAdmin + ": email cannot be blank")
	}
	if len(parts[1]) < 1 {
		return "", "", fmt.Errorf(ConfigKeySetAdmin + ": password cannot be blank")
	}

	return parts[0], parts[1], nil
}

func sortedProviderNames(m map[string]OAuthConfig) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (cfg *Config) Common() grantdesk.CommonConfig {
	return cfg.CommonConf
}

func (cfg *Config) Keys() []string {
	keys := cfg.CommonConf.Keys()
	keys = append(keys, ConfigKeySecret, ConfigKeySetAdmin, ConfigKeyUnauthDelay, ConfigKeyOAuth)
	return keys
}

func (cfg *Config) Get(key string) interface{} {
	switch strings.ToLower(key) {
	case ConfigKeySecret:
		return cfg.Secret
	case ConfigKeySetAdmin:
		return cfg.SetAdmin
	case ConfigKeyUnauthDelay:
		return cfg.UnauthDelayMillis
	case ConfigKeyOAuth:
		return cfg.OAuth
	default:
		return cfg.CommonConf.Get(key)
	}
}

func (cfg *Config) Set(key string, value interface{}) error {
	switch strings.ToLower(key) {
	case ConfigKeyUnauthDelay:
		if valueInt, ok := value.(int); ok {
			cfg.UnauthDelayMillis = valueInt
			return nil
		} else {
			return fmt.Errorf("key '"+ConfigKeyUnauthDelay+"' requires an int but got a %T", value)
		}
	case ConfigKeySetAdmin:
		if valueStr, ok := value.(string); ok {
			cfg.SetAdmin = valueStr
			return nil
		} else {
			return fmt.Errorf("key '"+ConfigKeySetAdmin+"' requires a string but got a %T", value)
		}
	case ConfigKeySecret:
		return setSecret(&cfg.Secret, value)
	case ConfigKeyOAuth:
		providers, err := decodeOAuth(value)
		if err != nil {
			return err
		}
		cfg.OAuth = providers
		return nil
	default:
		return cfg.CommonConf.Set(key, value)
	}
}

func (cfg *Config) SetFromString(key string, value string) error {
	switch strings.ToLower(key) {
	case ConfigKeySecret, ConfigKeySetAdmin:
		return cfg.Set(key, value)
	case ConfigKeyUnauthDelay:
		val, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("key '"+ConfigKeyUnauthDelay+"': %w", err)
		}
		return cfg.Set(key, val)
	case ConfigKeyOAuth:
		var m map[string]interface{}
		if err := yaml.Unmarshal([]byte(value), &m); err != nil {
			return fmt.Errorf("key '"+ConfigKeyOAuth+"': %w", err)
		}
		return cfg.Set(key, m)
	default:
		return cfg.CommonConf.SetFromString(key, value)
	}
}

func setSecret(dest *[]byte, value interface{}) error {
	if valueSlice, ok := value.([]byte); ok {
		*dest = valueSlice
		return nil
	} else if valueStr, ok := value.(string); ok {
		*dest = []byte(valueStr)
		return nil
	} else {
		return fmt.Errorf("key '"+ConfigKeySecret+"' requires a []byte or string but got a %T", value)
	}
}

// decodeOAuth converts a config value into OAuth provider configs. Values read
// from a config file arrive as generic maps and are re-encoded to be decoded
// into OAuthConfig.
func decodeOAuth(value interface{}) (map[string]OAuthConfig, error) {
	switch typed := value.(type) {
	case nil:
		return nil, nil
	case map[string]OAuthConfig:
		return typed, nil
	case map[string]interface{}:
		encoded, err := yaml.Marshal(typed)
		if err != nil {
			return nil, fmt.Errorf("key '"+ConfigKeyOAuth+"': re-encode: %w", err)
		}
		var providers map[string]OAuthConfig
		if err := yaml.Unmarshal(encoded, &providers); err != nil {
			return nil, fmt.Errorf("key '"+ConfigKeyOAuth+"': %w", err)
		}
		return providers, nil
	default:
		return nil, fmt.Errorf("key '"+ConfigKeyOAuth+"' requires a map of provider name to provider config but got a %T", value)
	}
}

// ClientsConfig is the config section of the clients component.
type ClientsConfig struct {
	CommonConf grantdesk.CommonConfig

	// Secret is the secret used for signing client session tokens. It must
	// be the same as the auth component's secret so that the auth.jwt
	// authenticator accepts them.
	Secret []byte

	// UnauthDelayMillis is as for Config.
	UnauthDelayMillis int
}

func (cfg *ClientsConfig) FillDefaults() grantdesk.APIConfig {
	newCFG := new(ClientsConfig)
	*newCFG = *cfg

	if newCFG.CommonConf.Enabled {
		if newCFG.CommonConf.Base == "" {
			newCFG.Set(grantdesk.ConfigKeyAPIBase, "/api/clients")
		}
		if len(newCFG.CommonConf.UsesDBs) < 1 {
			newCFG.Set(grantdesk.ConfigKeyAPIUsesDBs, []string{"main"})
		}
	}

	newCFG.CommonConf = newCFG.CommonConf.FillDefaults().Common()

	if newCFG.Secret == nil {
		newCFG.Secret = []byte(DefaultSecret)
	}
	if newCFG.UnauthDelayMillis == 0 {
		newCFG.UnauthDelayMillis = 1000
	}

	return newCFG
}

func (cfg *ClientsConfig) Validate() error {
	if err := cfg.CommonConf.Validate(); err != nil {
		return err
	}

	if len(cfg.CommonConf.UsesDBs) < 1 {
		return fmt.Errorf("use of at least one database must be declared")
	}

	return validateSecret(cfg.Secret)
}

func (cfg *ClientsConfig) Common() grantdesk.CommonConfig {
	return cfg.CommonConf
}

func (cfg *ClientsConfig) Keys() []string {
	keys := cfg.CommonConf.Keys()
	keys = append(keys, ConfigKeySecret, ConfigKeyUnauthDelay)
	return keys
}

func (cfg *ClientsConfig) Get(key string) interface{} {
	switch strings.ToLower(key) {
	case ConfigKeySecret:
		return cfg.Secret
	case ConfigKeyUnauthDelay:
		return cfg.UnauthDelayMillis
	default:
		return cfg.CommonConf.Get(key)
	}
}

func (cfg *ClientsConfig) Set(key string, value interface{}) error {
	switch strings.ToLower(key) {
	case ConfigKeySecret:
		return setSecret(&cfg.Secret, value)
	case ConfigKeyUnauthDelay:
		if valueInt, ok := value.(int); ok {
			cfg.UnauthDelayMillis = valueInt
			return nil
		}
		return fmt.Errorf("key '"+ConfigKeyUnauthDelay+"' requires an int but got a %T", value)
	default:
		return cfg.CommonConf.Set(key, value)
	}
}

func (cfg *ClientsConfig) SetFromString(key string, value string) error {
	switch strings.ToLower(key) {
	case ConfigKeySecret:
		return cfg.Set(key, value)
	case ConfigKeyUnauthDelay:
		val, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("key '"+ConfigKeyUnauthDelay+"': %w", err)
		}
		return cfg.Set(key, val)
	default:
		return cfg.CommonConf.SetFromString(key, value)
	}
}
