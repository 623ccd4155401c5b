package grantdesk

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// DBType is the type of a Database connection.
type DBType string

func (dbt DBType) String() string {
	return string(dbt)
}

const (
	DatabaseNone     DBType = "none"
	DatabaseSQLite   DBType = "sqlite"
	DatabaseInMemory DBType = "inmem"
	DatabaseDynamoDB DBType = "dynamodb"
)

const (
	MaxSecretSize = 64
	MinSecretSize = 32
)

// ParseDBType parses a string found in a connection string into a DBType.
func ParseDBType(s string) (DBType, error) {
	sLower := strings.ToLower(s)

	switch sLower {
	case DatabaseSQLite.String():
		return DatabaseSQLite, nil
	case DatabaseInMemory.String():
		return DatabaseInMemory, nil
	case DatabaseDynamoDB.String():
		return DatabaseDynamoDB, nil
	default:
		return DatabaseNone, fmt.Errorf("DB type not one of 'sqlite', 'inmem', or 'dynamodb': %q", s)
	}
}

// DatabaseConfig contains configuration settings for connecting to a
// persistence layer.
type DatabaseConfig struct {
	// Type is the type of database the config refers to. It also determines
	// which of its other fields are valid.
	Type DBType

	// Connector is the name of the registered connector function that should
	// be used. If not set, the "*" connector for the type is used.
	Connector string

	// DataDir is the path on disk to a directory to use to store data in. Only
	// applicable for SQLite.
	DataDir string

	// DataFile is the name of the DB file within DataDir. Only applicable for
	// SQLite; defaults to "grantdesk.db".
	DataFile string

	// Migrate is whether schema migrations are applied when the DB is
	// connected to. Only applicable for SQLite.
	Migrate bool

	// Region is the AWS region of the DynamoDB tables.
	Region string

	// Endpoint overrides the DynamoDB endpoint, e.g. for DynamoDB Local.
	Endpoint string

	// TablePrefix is prepended to every entity name to get its DynamoDB
	// table name.
	TablePrefix string

	// AccessKeyID and SecretAccessKey are static AWS credentials. If not set,
	// the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string
}

// FillDefaults returns a new DatabaseConfig identical to db but with unset
// values set to their defaults.
func (db DatabaseConfig) FillDefaults() DatabaseConfig {
	newDB := db

	if newDB.Type == DatabaseNone || newDB.Type == "" {
		newDB = DatabaseConfig{Type: DatabaseInMemory}
	}
	if newDB.Type == DatabaseSQLite && newDB.DataFile == "" {
		newDB.DataFile = "grantdesk.db"
	}
	if newDB.Connector == "" {
		newDB.Connector = "*"
	}

	return newDB
}

// Validate returns an error if the DatabaseConfig does not have the correct
// fields set for its type.
func (db DatabaseConfig) Validate() error {
	switch db.Type {
	case DatabaseInMemory:
		// nothing else to check
		return nil
	case DatabaseSQLite:
		if db.DataDir == "" {
			return fmt.Errorf("DataDir not set to path")
		}
		return nil
	case DatabaseDynamoDB:
		if db.Region == "" {
			return fmt.Errorf("Region not set")
		}
		if (db.AccessKeyID == "") != (db.SecretAccessKey == "") {
			return fmt.Errorf("AccessKeyID and SecretAccessKey must be given together")
		}
		return nil
	case DatabaseNone:
		return fmt.Errorf("'none' DB is not valid")
	default:
		return fmt.Errorf("unknown database type: %q", db.Type.String())
	}
}

// ParseDBConnString parses a database connection string of the form
// "engine:params" (or just "engine" if no other params are required) into a
// valid DatabaseConfig object.
//
// Supported database types and a sample string containing valid configurations
// for each are shown below. Placeholder values are between angle brackets,
// optional parts are between square brackets. Ordering of parameters does not
// matter.
//
//   - In-memory database: "inmem"
//   - SQLite3 DB file: "sqlite:dir=<path/to/db/dir>[,file=<name.db>][,migrate=true]"
//   - DynamoDB: "dynamodb:region=<region>[,endpoint=<url>][,prefix=<table prefix>]"
//
// For SQLite, "sqlite:<path/to/db/dir>" is also accepted.
func ParseDBConnString(s string) (DatabaseConfig, error) {
	var paramStr string
	dbParts := strings.SplitN(s, ":", 2)

	if len(dbParts) == 2 {
		paramStr = strings.TrimSpace(dbParts[1])
	}

	dbEng, err := ParseDBType(strings.TrimSpace(dbParts[0]))
	if err != nil {
		return DatabaseConfig{}, fmt.Errorf("unsupported DB engine: %w", err)
	}

	switch dbEng {
	case DatabaseInMemory:
		// there cannot be any other options
		if paramStr != "" {
			return DatabaseConfig{}, fmt.Errorf("unsupported param(s) for in-memory DB engine: %s", paramStr)
		}

		return DatabaseConfig{Type: DatabaseInMemory}, nil
	case DatabaseSQLite:
		if paramStr == "" {
			return DatabaseConfig{}, fmt.Errorf("sqlite DB engine requires path to data directory after ':'")
		}

		db := DatabaseConfig{Type: DatabaseSQLite}
		if !strings.Contains(paramStr, "=") {
			db.DataDir = filepath.FromSlash(paramStr)
			return db, nil
		}

		params, err := parseParamsMap(paramStr)
		if err != nil {
			return DatabaseConfig{}, err
		}
		val, ok := params["dir"]
		if !ok {
			return DatabaseConfig{}, fmt.Errorf("sqlite DB engine params missing path to data directory in key 'dir'")
		}
		db.DataDir = filepath.FromSlash(val)
		db.DataFile = params["file"]
		db.Migrate = strings.EqualFold(params["migrate"], "true")
		return db, nil
	case DatabaseDynamoDB:
		if paramStr == "" {
			return DatabaseConfig{}, fmt.Errorf("dynamodb DB engine requires at least 'region' param after ':'")
		}
		params, err := parseParamsMap(paramStr)
		if err != nil {
			return DatabaseConfig{}, err
		}
		db := DatabaseConfig{
			Type:        DatabaseDynamoDB,
			Region:      params["region"],
			Endpoint:    params["endpoint"],
			TablePrefix: params["prefix"],
		}
		if db.Region == "" {
			return DatabaseConfig{}, fmt.Errorf("dynamodb DB engine params missing key 'region'")
		}
		return db, nil
	default:
		return DatabaseConfig{}, fmt.Errorf("cannot specify DB engine %q (perhaps you wanted 'inmem'?)", dbEng.String())
	}
}

func parseParamsMap(paramStr string) (map[string]string, error) {
	params := map[string]string{}
	for idx, kv := range strings.Split(paramStr, ",") {
		parsed := strings.SplitN(kv, "=", 2)
		if len(parsed) != 2 || strings.TrimSpace(parsed[0]) == "" {
			return nil, fmt.Errorf("param %d: not a kv-pair: %q", idx, kv)
		}
		params[strings.ToLower(strings.TrimSpace(parsed[0]))] = strings.TrimSpace(parsed[1])
	}

	return params, nil
}

// LogConfig contains logging options. If logging is enabled, the server will
// configure the logger of the chosen provider and use it for messages about the
// server itself as well as handing it to each API.
type LogConfig struct {
	// Enabled is whether to enable built-in logging statements.
	Enabled bool

	// Provider must be the name of one of the logging providers. If set to
	// NoLog or unset, it will default to Jellog.
	Provider LogProvider

	// File to log to. If not set, all logging will be done to stderr and it
	// will display all logging statements. If set, the file will receive all
	// levels of log messages and stderr will show only those of Info level or
	// higher.
	File string
}

func (log LogConfig) FillDefaults() LogConfig {
	newLog := log

	if newLog.Provider == NoLog {
		newLog.Provider = Jellog
	}

	return newLog
}

func (log LogConfig) Validate() error {
	if log.Provider == NoLog {
		return fmt.Errorf("provider: must not be empty")
	}

	return nil
}

// Globals are the values of global configuration values from the top level
// config. These values are shared with every API.
type Globals struct {

	// Port is the port that the server will listen on. It will default to 8080
	// if none is given.
	Port int

	// Address is the internet address that the server will listen on. It will
	// default to "localhost" if none is given.
	Address string

	// URIBase is the base path that all APIs are rooted on. It will default to
	// "/", which is equivalent to being directly on root.
	URIBase string

	// The main auth provider to use for the project. Must be the
	// fully-qualified name of it, e.g. COMPONENT.PROVIDER format.
	MainAuthProvider string

	// UnauthDelayMillis is the amount of additional time to wait
	// (in milliseconds) before sending a response that indicates either that
	// the client was unauthorized or the client was unauthenticated. If not set
	// it will default to 1 second. Set to any negative number to disable the
	// delay.
	UnauthDelayMillis int
}

// UnauthDelay returns the configured UnauthDelayMillis as a time.Duration.
func (g Globals) UnauthDelay() time.Duration {
	if g.UnauthDelayMillis < 1 {
		var dur time.Duration
		return dur
	}
	return time.Millisecond * time.Duration(g.UnauthDelayMillis)
}

func (g Globals) FillDefaults() Globals {
	newG := g

	if newG.Port == 0 {
		newG.Port = 8080
	}
	if newG.Address == "" {
		newG.Address = "localhost"
	}
	if newG.URIBase == "" {
		newG.URIBase = "/"
	}
	if newG.UnauthDelayMillis == 0 {
		newG.UnauthDelayMillis = 1000
	}

	return newG
}

func (g Globals) Validate() error {
	if g.Port < 1 {
		return fmt.Errorf("port: must be greater than 0")
	}
	if g.Address == "" {
		return fmt.Errorf("address: must not be empty")
	}
	if err := validateBaseURI(g.URIBase); err != nil {
		return fmt.Errorf("base: %w", err)
	}

	return nil
}

// Format is the format of a config file.
type Format int

const (
	NoFormat Format = iota
	YAML
	JSON
)

func (f Format) String() string {
	switch f {
	case NoFormat:
		return "NoFormat"
	case YAML:
		return "YAML"
	case JSON:
		return "JSON"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Extensions returns the file extensions that files of the format use.
func (f Format) Extensions() []string {
	switch f {
	case YAML:
		return []string{"yaml", "yml"}
	case JSON:
		return []string{"json"}
	default:
		return nil
	}
}

// Config is a complete configuration for a server. It contains all parameters
// that can be used to configure its operation.
type Config struct {

	// Globals is all variables shared with initialization of all APIs.
	Globals Globals

	// DBs is the configurations to use for connecting to databases and other
	// persistence layers.
	DBs map[string]DatabaseConfig

	// APIs is the configuration for each API that will be included in the
	// server. Each APIConfig must return a CommonConfig whose Name is either
	// set to blank or to the key that maps to it.
	APIs map[string]APIConfig

	// Log is used to configure the built-in logging system.
	Log LogConfig

	// Format is the format the config was loaded from.
	Format Format
}

// FillDefaults returns a new Config identical to cfg but with unset values
// set to their defaults.
func (cfg Config) FillDefaults() Config {
	newCFG := cfg

	dbs := make(map[string]DatabaseConfig, len(cfg.DBs))
	for name, db := range cfg.DBs {
		dbs[name] = db.FillDefaults()
	}
	newCFG.DBs = dbs

	newCFG.Globals = newCFG.Globals.FillDefaults()

	apis := make(map[string]APIConfig, len(cfg.APIs))
	for name, api := range cfg.APIs {
		if Get[string](api, ConfigKeyAPIName) == "" {
			if err := api.Set(ConfigKeyAPIName, name); err != nil {
				panic(fmt.Sprintf("setting a config global failed; should never happen: %v", err))
			}
		}
		apis[name] = api.FillDefaults()
	}
	newCFG.APIs = apis
	newCFG.Log = newCFG.Log.FillDefaults()

	return newCFG
}

// Validate returns an error if the Config has invalid field values set. Empty
// and unset values are considered invalid; if defaults are intended to be used,
// call Validate on the return value of FillDefaults.
func (cfg Config) Validate() error {
	if err := cfg.Globals.Validate(); err != nil {
		return err
	}
	if err := cfg.Log.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	for name, db := range cfg.DBs {
		if err := db.Validate(); err != nil {
			return fmt.Errorf("dbs: %s: %w", name, err)
		}
	}
	for name, api := range cfg.APIs {
		com := api.Common()

		if name != com.Name && com.Name != "" {
			return fmt.Errorf("%s: name mismatch; API.Name is set to %q", name, com.Name)
		}
		if err := api.Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	return nil
}

func validateBaseURI(base string) error {
	if strings.ContainsRune(base, '{') {
		return fmt.Errorf("contains disallowed char \"{\"")
	}
	if strings.ContainsRune(base, '}') {
		return fmt.Errorf("contains disallowed char \"}\"")
	}
	if strings.Contains(base, "//") {
		return fmt.Errorf("contains disallowed double-slash \"//\"")
	}
	return nil
}
