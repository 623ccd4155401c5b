package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grantdesk/grantdesk"
	"github.com/grantdesk/grantdesk/entity"
)

// Table is an entity.Repo for a single SQLite table. Each verb is carried out
// with one statement; writes use RETURNING to read back the stored row.
type Table struct {
	DB    *sql.DB
	Table string

	// Columns maps each column of the table to its declared type. If nil, it
	// is read with PRAGMA table_info the first time it is needed. Columns
	// declared as JSON are encoded on write and decoded on read, and BOOLEAN
	// columns are read back as bools.
	Columns map[string]string

	mtx sync.Mutex
}

func (t *Table) Name() string {
	return t.Table
}

func (t *Table) List(ctx context.Context, opts entity.ListOptions) ([]entity.Record, error) {
	return t.Filter(ctx, nil, opts)
}

func (t *Table) Filter(ctx context.Context, crit entity.Criteria, opts entity.ListOptions) ([]entity.Record, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	where, args, err := whereClause(crit)
	if err != nil {
		return nil, err
	}
	cols, err := t.columns(ctx)
	if err != nil {
		return nil, err
	}

	q := "SELECT * FROM " + quote(t.Table) + where + orderClause(opts)
	q, args = pageClause(q, args, opts)

	rows, err := t.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, grantdesk.WrapDBErrorf(err, "%s: filter", t.Table)
	}
	recs, err := scanAll(rows, cols)
	if err != nil {
		return nil, grantdesk.WrapDBErrorf(err, "%s: filter", t.Table)
	}
	return recs, nil
}

func (t *Table) Get(ctx context.Context, id string) (entity.Record, error) {
	cols, err := t.columns(ctx)
	if err != nil {
		return nil, err
	}

	q := "SELECT * FROM " + quote(t.Table) + " WHERE " + quote(entity.FieldID) + " = ?"
	return t.queryOne(ctx, "get", cols, q, id)
}

func (t *Table) Create(ctx context.Context, rec entity.Record) (entity.Record, error) {
	cols, err := t.columns(ctx)
	if err != nil {
		return nil, err
	}

	rec = t.prepareNew(rec, cols, time.Now())
	names, err := sortedKeys(rec)
	if err != nil {
		return nil, err
	}

	args := make([]interface{}, len(names))
	for i := range names {
		args[i] = encodeValue(rec[names[i]])
	}

	q := "INSERT INTO " + quote(t.Table) + " (" + quoteAll(names) + ") VALUES (" + placeholders(len(names)) + ") RETURNING *"
	return t.queryOne(ctx, "create", cols, q, args...)
}

func (t *Table) Update(ctx context.Context, id string, patch entity.Record) (entity.Record, error) {
	cols, err := t.columns(ctx)
	if err != nil {
		return nil, err
	}

	patch = entity.NormalizeRecord(patch)
	if patch == nil {
		patch = entity.Record{}
	}
	delete(patch, entity.FieldID)
	if _, ok := cols[entity.FieldUpdated]; ok && patch[entity.FieldUpdated] == nil {
		patch[entity.FieldUpdated] = entity.Timestamp(time.Now())
	}
	if len(patch) == 0 {
		return t.Get(ctx, id)
	}

	names, err := sortedKeys(patch)
	if err != nil {
		return nil, err
	}

	sets := make([]string, len(names))
	args := make([]interface{}, 0, len(names)+1)
	for i := range names {
		sets[i] = quote(names[i]) + " = ?"
		args = append(args, encodeValue(patch[names[i]]))
	}
	args = append(args, id)

	q := "UPDATE " + quote(t.Table) + " SET " + strings.Join(sets, ", ") + " WHERE " + quote(entity.FieldID) + " = ? RETURNING *"
	return t.queryOne(ctx, "update", cols, q, args...)
}

func (t *Table) Delete(ctx context.Context, id string) (entity.Record, error) {
	cols, err := t.columns(ctx)
	if err != nil {
		return nil, err
	}

	q := "DELETE FROM " + quote(t.Table) + " WHERE " + quote(entity.FieldID) + " = ? RETURNING *"
	return t.queryOne(ctx, "delete", cols, q, id)
}

// CreateMany inserts every record with a single multi-row INSERT. Columns are
// the union of all the records' keys; a record that lacks one of them stores
// NULL there.
func (t *Table) CreateMany(ctx context.Context, recs []entity.Record) ([]entity.Record, error) {
	if len(recs) == 0 {
		return []entity.Record{}, nil
	}

	cols, err := t.columns(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	prepared := make([]entity.Record, len(recs))
	union := entity.Record{}
	for i := range recs {
		prepared[i] = t.prepareNew(recs[i], cols, now)
		for k := range prepared[i] {
			union[k] = true
		}
	}
	names, err := sortedKeys(union)
	if err != nil {
		return nil, err
	}

	rowHolders := "(" + placeholders(len(names)) + ")"
	values := make([]string, len(prepared))
	args := make([]interface{}, 0, len(prepared)*len(names))
	for i, rec := range prepared {
		values[i] = rowHolders
		for _, n := range names {
			args = append(args, encodeValue(rec[n]))
		}
	}

	q := "INSERT INTO " + quote(t.Table) + " (" + quoteAll(names) + ") VALUES " + strings.Join(values, ", ") + " RETURNING *"
	rows, err := t.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, grantdesk.WrapDBErrorf(err, "%s: create many", t.Table)
	}
	created, err := scanAll(rows, cols)
	if err != nil {
		return nil, grantdesk.WrapDBErrorf(err, "%s: create many", t.Table)
	}

	// RETURNING gives no ordering guarantee, so put results back in input
	// order.
	pos := make(map[string]int, len(prepared))
	for i, rec := range prepared {
		pos[rec.ID()] = i
	}
	sort.SliceStable(created, func(i, j int) bool {
		return pos[created[i].ID()] < pos[created[j].ID()]
	})

	return created, nil
}

// Search returns every row whose column contains term, folding case the same
// way as entity.Contains.
func (t *Table) Search(ctx context.Context, column, term string) ([]entity.Record, error) {
	if err := entity.ValidateName(column); err != nil {
		return nil, err
	}
	cols, err := t.columns(ctx)
	if err != nil {
		return nil, err
	}

	q := "SELECT * FROM " + quote(t.Table) + " WHERE " + containsFunc + "(" + quote(column) + ", ?) ORDER BY rowid"
	rows, err := t.DB.QueryContext(ctx, q, term)
	if err != nil {
		return nil, grantdesk.WrapDBErrorf(err, "%s: search", t.Table)
	}
	recs, err := scanAll(rows, cols)
	if err != nil {
		return nil, grantdesk.WrapDBErrorf(err, "%s: search", t.Table)
	}
	return recs, nil
}

func (t *Table) Count(ctx context.Context, crit entity.Criteria) (int, error) {
	where, args, err := whereClause(crit)
	if err != nil {
		return 0, err
	}

	var n int
	q := "SELECT COUNT(*) FROM " + quote(t.Table) + where
	if err := t.DB.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, grantdesk.WrapDBErrorf(err, "%s: count", t.Table)
	}
	return n, nil
}

func (t *Table) queryOne(ctx context.Context, verb string, cols map[string]string, q string, args ...interface{}) (entity.Record, error) {
	rows, err := t.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, grantdesk.WrapDBErrorf(err, "%s: %s", t.Table, verb)
	}
	recs, err := scanAll(rows, cols)
	if err != nil {
		return nil, grantdesk.WrapDBErrorf(err, "%s: %s", t.Table, verb)
	}
	if len(recs) < 1 {
		return nil, grantdesk.WrapDBErrorf(sql.ErrNoRows, "%s: %s", t.Table, verb)
	}
	return recs[0], nil
}

// prepareNew returns a normalized copy of rec with an ID and timestamps
// filled in where the table has room for them.
func (t *Table) prepareNew(rec entity.Record, cols map[string]string, now time.Time) entity.Record {
	rec = entity.NormalizeRecord(rec)
	if rec == nil {
		rec = entity.Record{}
	}

	if idType, ok := cols[entity.FieldID]; !ok || !strings.Contains(idType, "INT") {
		if rec[entity.FieldID] == nil {
			rec[entity.FieldID] = uuid.NewString()
		}
	}

	ts := entity.Timestamp(now)
	if _, ok := cols[entity.FieldCreated]; ok && rec[entity.FieldCreated] == nil {
		rec[entity.FieldCreated] = ts
	}
	if _, ok := cols[entity.FieldUpdated]; ok && rec[entity.FieldUpdated] == nil {
		rec[entity.FieldUpdated] = ts
	}
	return rec
}

// columns returns the declared column types of the table, loading them on
// first call.
func (t *Table) columns(ctx context.Context) (map[string]string, error) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if t.Columns != nil {
		return t.Columns, nil
	}

	rows, err := t.DB.QueryContext(ctx, "PRAGMA table_info("+quote(t.Table)+")")
	if err != nil {
		return nil, grantdesk.WrapDBErrorf(err, "%s: read columns", t.Table)
	}
	defer rows.Close()

	cols := map[string]string{}
	for rows.Next() {
		var (
			cid     int
			name    string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, grantdesk.WrapDBErrorf(err, "%s: read columns", t.Table)
		}
		cols[name] = strings.ToUpper(colType)
	}
	if err := rows.Err(); err != nil {
		return nil, grantdesk.WrapDBErrorf(err, "%s: read columns", t.Table)
	}
	if len(cols) == 0 {
		return nil, grantdesk.NewError(fmt.Sprintf("no such table: %s", t.Table), grantdesk.ErrNotFound)
	}

	t.Columns = cols
	return cols, nil
}

func whereClause(crit entity.Criteria) (string, []interface{}, error) {
	conds, err := crit.Conditions()
	if err != nil {
		return "", nil, err
	}
	if len(conds) == 0 {
		return "", nil, nil
	}

	var args []interface{}
	parts := make([]string, len(conds))
	for i, c := range conds {
		switch c.Op {
		case entity.OpIn:
			if len(c.Values) == 0 {
				parts[i] = "0 = 1"
				continue
			}
			parts[i] = quote(c.Column) + " IN (" + placeholders(len(c.Values)) + ")"
		default:
			parts[i] = quote(c.Column) + " = ?"
		}
		for _, v := range c.Values {
			args = append(args, encodeValue(v))
		}
	}

	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func orderClause(opts entity.ListOptions) string {
	col, desc := opts.SortColumn()
	if col == "" {
		return " ORDER BY rowid"
	}
	if desc {
		return " ORDER BY " + quote(col) + " DESC"
	}
	return " ORDER BY " + quote(col) + " ASC"
}

func pageClause(q string, args []interface{}, opts entity.ListOptions) (string, []interface{}) {
	switch {
	case opts.Limit > 0:
		q += " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, opts.Offset)
	case opts.Offset > 0:
		q += " LIMIT -1 OFFSET ?"
		args = append(args, opts.Offset)
	}
	return q, args
}

func scanAll(rows *sql.Rows, cols map[string]string) ([]entity.Record, error) {
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	recs := []entity.Record{}
	for rows.Next() {
		vals := make([]interface{}, len(names))
		ptrs := make([]interface{}, len(names))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		rec := make(entity.Record, len(names))
		for i, n := range names {
			rec[n] = decodeValue(vals[i], cols[n])
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// encodeValue converts a record value to one the driver can store.
func encodeValue(v interface{}) interface{} {
	switch typed := entity.Normalize(v).(type) {
	case nil, string, int64, float64, bool, []byte:
		return typed
	case time.Time:
		return entity.Timestamp(typed)
	default:
		data, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprintf("%v", typed)
		}
		return string(data)
	}
}

// decodeValue converts a scanned value back to its record form using the
// column's declared type.
func decodeValue(v interface{}, declType string) interface{} {
	if v == nil {
		return nil
	}

	switch {
	case strings.Contains(declType, "JSON"):
		var data []byte
		switch typed := v.(type) {
		case string:
			data = []byte(typed)
		case []byte:
			data = typed
		default:
			return v
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var decoded interface{}
		if err := dec.Decode(&decoded); err != nil {
			return string(data)
		}
		return entity.Normalize(decoded)
	case strings.Contains(declType, "BOOL"):
		if n, ok := v.(int64); ok {
			return n != 0
		}
	}

	if b, ok := v.([]byte); ok && !strings.Contains(declType, "BLOB") {
		return string(b)
	}
	return v
}

func sortedKeys(rec entity.Record) ([]string, error) {
	names := make([]string, 0, len(rec))
	for k := range rec {
		if err := entity.ValidateName(k); err != nil {
			return nil, err
		}
		names = append(names, k)
	}
	sort.Strings(names)
	return names, nil
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i := range names {
		quoted[i] = quote(names[i])
	}
	return strings.Join(quoted, ", ")
}

