// Package sqlite provides an entity.Store backed by a SQLite database, with one
// table per entity.
package sqlite

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/grantdesk/grantdesk"
	"github.com/grantdesk/grantdesk/entity"

	sqlite "modernc.org/sqlite"
)

// containsFunc is the SQL function Search matches with. SQLite's own LIKE and
// lower() only fold ASCII, so this uses the same case folding as the other
// backends.
const containsFunc = "grantdesk_contains"

func init() {
	if err := sqlite.RegisterDeterministicScalarFunction(containsFunc, 2, sqlContains); err != nil {
		panic(fmt.Sprintf("register %s: %v", containsFunc, err))
	}
}

// sqlContains implements containsFunc(value, term). It returns 1 if value
// contains term ignoring case, and 0 otherwise.
func sqlContains(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	term, ok := args[1].(string)
	if !ok {
		if b, isBytes := args[1].([]byte); isBytes {
			term = string(b)
		} else {
			return int64(0), nil
		}
	}
	if entity.Contains(args[0], term) {
		return int64(1), nil
	}
	return int64(0), nil
}

// Store is an entity.Store over a single SQLite database. The zero value is
// not usable; create one with Open or New.
type Store struct {
	db *sql.DB

	mtx    sync.Mutex
	tables map[string]*Table
}

// Open opens (creating if needed) the database file in dir and returns a Store
// for it.
func Open(dir, file string) (*Store, error) {
	if err := os.MkdirAll(dir, 0770); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if file == "" {
		file = "grantdesk.db"
	}

	fileName := filepath.Join(dir, file)
	db, err := sql.Open("sqlite", "file:"+fileName+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, grantdesk.WrapDBError(err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, grantdesk.WrapDBError(err, "connect")
	}

	return New(db), nil
}

// New returns a Store that uses an already-open database.
func New(db *sql.DB) *Store {
	return &Store{db: db, tables: map[string]*Table{}}
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Entity returns the Repo for the table with the given name.
func (s *Store) Entity(name string) entity.Repo {
	if err := entity.ValidateName(name); err != nil {
		return entity.Invalid(name, err)
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if t, ok := s.tables[name]; ok {
		return t
	}
	t := &Table{DB: s.db, Table: name}
	s.tables[name] = t
	return t
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// quote returns name as a quoted SQL identifier. name must already have passed
// entity.ValidateName.
func quote(name string) string {
	return `"` + name + `"`
}

func placeholders(n int) string {
	if n < 1 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
