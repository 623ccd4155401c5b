// Package migrate brings a SQLite database up to the current grantdesk schema.
// Every step is idempotent: tables are created only when missing, and columns
// added by later releases are added with ALTER TABLE only when the table does
// not already have them. Running the migrations any number of times leaves the
// schema identical to running them once.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/grantdesk/grantdesk"
	"github.com/grantdesk/grantdesk/internal/logging"
)

// Kind is the type of change a Step makes.
type Kind int

const (
	CreateTable Kind = iota
	AddColumn
	CreateIndex
)

func (k Kind) String() string {
	switch k {
	case CreateTable:
		return "create table"
	case AddColumn:
		return "add column"
	case CreateIndex:
		return "create index"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Step is a single schema change.
type Step struct {
	Kind Kind

	// Table is the table the step creates or alters.
	Table string

	// Column is the name of the column added. Only used for AddColumn.
	Column string

	// Index is the name of the index created. Only used for CreateIndex.
	Index string

	// Def is the body of the change: the column list for CreateTable, the
	// column definition for AddColumn and the indexed column list for
	// CreateIndex.
	Def string
}

// Name returns a short human-readable identifier for the step.
func (st Step) Name() string {
	switch st.Kind {
	case AddColumn:
		return st.Table + "." + st.Column
	case CreateIndex:
		return st.Index
	default:
		return st.Table
	}
}

// SQL returns the statement that applies the step.
func (st Step) SQL() string {
	switch st.Kind {
	case AddColumn:
		return fmt.Sprintf(`ALTER TABLE "%s" ADD COLUMN "%s" %s`, st.Table, st.Column, st.Def)
	case CreateIndex:
		return fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "%s" ON "%s" (%s)`, st.Index, st.Table, st.Def)
	default:
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%s" (%s)`, st.Table, st.Def)
	}
}

// Failure is a step that could not be applied.
type Failure struct {
	Step string
	Err  error
}

// Report is the outcome of a migration run. Each slice holds step names in the
// order they were attempted.
type Report struct {
	Applied []string
	Skipped []string
	Failed  []Failure
}

// Err returns an error joining every failure in the report, or nil if there
// were none.
func (r Report) Err() error {
	if len(r.Failed) < 1 {
		return nil
	}
	errs := make([]error, len(r.Failed))
	for i := range r.Failed {
		errs[i] = fmt.Errorf("%s: %w", r.Failed[i].Step, r.Failed[i].Err)
	}
	return errors.Join(errs...)
}

// Run applies Steps to db.
func Run(ctx context.Context, db *sql.DB, log grantdesk.Logger) (Report, error) {
	return RunSteps(ctx, db, log, Steps)
}

// RunSteps applies the given steps to db in order. A step whose table, column
// or index is already present is skipped, as is one that the database rejects
// because the thing it adds already exists. Any other failure is logged and
// recorded in the report, and the run continues with the next step.
//
// The returned error is non-nil only if ctx is cancelled before every step was
// attempted; step failures are reported in Report.Failed.
func RunSteps(ctx context.Context, db *sql.DB, log grantdesk.Logger, steps []Step) (Report, error) {
	if log == nil {
		log = logging.NoOpLogger{}
	}

	var rep Report
	log.Debugf("running schema migrations (%d steps)", len(steps))

	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		name := st.Name()

		present, err := st.present(ctx, db)
		if err != nil {
			log.Warnf("migration %s %s: check failed: %v", st.Kind, name, err)
			rep.Failed = append(rep.Failed, Failure{Step: name, Err: grantdesk.WrapDBError(err)})
			continue
		}
		if present {
			log.Tracef("migration %s %s: already present", st.Kind, name)
			rep.Skipped = append(rep.Skipped, name)
			continue
		}

		if _, err := db.ExecContext(ctx, st.SQL()); err != nil {
			if alreadyApplied(err) {
				log.Tracef("migration %s %s: already present", st.Kind, name)
				rep.Skipped = append(rep.Skipped, name)
				continue
			}
			log.Warnf("migration %s %s: %v", st.Kind, name, err)
			rep.Failed = append(rep.Failed, Failure{Step: name, Err: grantdesk.WrapDBError(err)})
			continue
		}

		log.Debugf("migration %s %s: applied", st.Kind, name)
		rep.Applied = append(rep.Applied, name)
	}

	log.Infof("schema migrations complete: applied=%d, skipped=%d, failed=%d", len(rep.Applied), len(rep.Skipped), len(rep.Failed))
	return rep, nil
}

// present reports whether the thing the step creates already exists.
func (st Step) present(ctx context.Context, db *sql.DB) (bool, error) {
	switch st.Kind {
	case AddColumn:
		return columnExists(ctx, db, st.Table, st.Column)
	case CreateIndex:
		return schemaObjectExists(ctx, db, "index", st.Index)
	default:
		return schemaObjectExists(ctx, db, "table", st.Table)
	}
}

func schemaObjectExists(ctx context.Context, db *sql.DB, typ, name string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?`, typ, name).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// columnExists reports whether table has the named column. A missing table has
// no columns.
func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info("%s")`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid, notNull, pk int
		var name, ctype string
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, rows.Err()
}

func alreadyApplied(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}
