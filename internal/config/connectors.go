package config

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/grantdesk/grantdesk"
	"github.com/grantdesk/grantdesk/entity/dynamo"
	"github.com/grantdesk/grantdesk/entity/inmem"
	"github.com/grantdesk/grantdesk/entity/sqlite"
	"github.com/grantdesk/grantdesk/internal/logging"
	"github.com/grantdesk/grantdesk/migrate"
)

const anyMatchDBName = "*"

// dynamoConnectTimeout bounds loading the AWS configuration for a DynamoDB
// connection.
const dynamoConnectTimeout = 30 * time.Second

// ConnectorFunc opens a Store for a configured DB.
type ConnectorFunc func(db grantdesk.DatabaseConfig) (grantdesk.Store, error)

// ConnectorRegistry holds registered connector functions for opening stores on
// database connections.
//
// The zero value can be immediately used and will have the built-in "*"
// connectors for every DB type available. This can be disabled by setting
// DisableDefaults to true before attempting to use it.
type ConnectorRegistry struct {
	DisableDefaults bool

	// Log receives messages from the built-in connectors, such as the
	// results of migrations. May be nil.
	Log grantdesk.Logger

	reg map[grantdesk.DBType]map[string]ConnectorFunc
}

func (cr *ConnectorRegistry) initDefaults() {
	if cr.reg != nil {
		return
	}

	cr.reg = map[grantdesk.DBType]map[string]ConnectorFunc{
		grantdesk.DatabaseInMemory: {},
		grantdesk.DatabaseSQLite:   {},
		grantdesk.DatabaseDynamoDB: {},
	}

	if cr.DisableDefaults {
		return
	}

	cr.reg[grantdesk.DatabaseInMemory][anyMatchDBName] = func(db grantdesk.DatabaseConfig) (grantdesk.Store, error) {
		return inmem.NewStore(), nil
	}
	cr.reg[grantdesk.DatabaseSQLite][anyMatchDBName] = cr.connectSQLite
	cr.reg[grantdesk.DatabaseDynamoDB][anyMatchDBName] = func(db grantdesk.DatabaseConfig) (grantdesk.Store, error) {
		ctx, cancel := context.WithTimeout(context.Background(), dynamoConnectTimeout)
		defer cancel()

		store, err := dynamo.NewFromConfig(ctx, db)
		if err != nil {
			return nil, fmt.Errorf("initialize dynamodb: %w", err)
		}
		return store, nil
	}
}

func (cr *ConnectorRegistry) log() grantdesk.Logger {
	if cr.Log == nil {
		return logging.NoOpLogger{}
	}
	return cr.Log
}

// connectSQLite opens the SQLite file for db and, if db asks for it, brings its
// schema up to date. Failed migration steps are logged and do not prevent the
// connection.
func (cr *ConnectorRegistry) connectSQLite(db grantdesk.DatabaseConfig) (grantdesk.Store, error) {
	store, err := sqlite.Open(db.DataDir, db.DataFile)
	if err != nil {
		return nil, fmt.Errorf("initialize sqlite: %w", err)
	}

	if db.Migrate {
		report, err := migrate.Run(context.Background(), store.DB(), cr.log())
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		if len(report.Failed) > 0 {
			cr.log().Warnf("sqlite %s: %d migration step(s) failed: %v", db.DataDir, len(report.Failed), report.Err())
		}
	}

	return store, nil
}

// Register adds a connector for the given DB type under name. Configs for that
// type select it with their connector key; the name "*" is used for configs
// that do not give one, and may be replaced.
func (cr *ConnectorRegistry) Register(engine grantdesk.DBType, name string, connector ConnectorFunc) error {
	if connector == nil {
		return fmt.Errorf("connector function cannot be nil")
	}

	cr.initDefaults()

	engConns, ok := cr.reg[engine]
	if !ok {
		return fmt.Errorf("%q is not a supported DB type", engine)
	}

	normName := strings.ToLower(name)
	if _, ok := engConns[normName]; ok && normName != anyMatchDBName {
		return fmt.Errorf("duplicate connector registration; %q/%q already has a registered connector", engine, normName)
	}

	engConns[normName] = connector
	return nil
}

// List returns an alphabetized list of all currently registered connector
// names for an engine.
func (cr *ConnectorRegistry) List(engine grantdesk.DBType) []string {
	cr.initDefaults()

	engConns := cr.reg[engine]

	names := make([]string, 0, len(engConns))
	for k := range engConns {
		names = append(names, k)
	}

	sort.Strings(names)
	return names
}

// Connect opens a connection to the configured database, returning a generic
// grantdesk.Store. APIs type-assert it to the interface they need, usually
// entity.Store, in their Init method.
func (cr *ConnectorRegistry) Connect(db grantdesk.DatabaseConfig) (grantdesk.Store, error) {
	cr.initDefaults()

	engConns := cr.reg[db.Type]

	normName := strings.ToLower(db.Connector)
	connector, ok := engConns[normName]
	if !ok {
		connector, ok = engConns[anyMatchDBName]
		if !ok {
			var additionalInfo = "DB does not specify connector"
			if normName != "" && normName != anyMatchDBName {
				additionalInfo = fmt.Sprintf("%q/%q is not a registered connector", db.Type, normName)
			}
			return nil, fmt.Errorf("%s and %q has no default \"*\" connector registered", additionalInfo, db.Type)
		}
	}

	return connector(db)
}
