package sqlite

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/grantdesk/grantdesk"
	"github.com/grantdesk/grantdesk/entity"
	"github.com/grantdesk/grantdesk/internal/sqlmatch"
	"github.com/stretchr/testify/assert"
)

var clientColumns = map[string]string{
	"id":           "TEXT",
	"name":         "TEXT",
	"status":       "TEXT",
	"active":       "BOOLEAN",
	"tags":         "JSON",
	"created_date": "TEXT",
	"updated_date": "TEXT",
}

func newMockTable(t *testing.T, name string, cols map[string]string) (*Table, sqlmock.Sqlmock) {
	mockDB, dbMock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("create mock: %v", err)
	}

	return &Table{DB: mockDB, Table: name, Columns: cols}, dbMock
}

func Test_Table_Filter(t *testing.T) {
	testCases := []struct {
		name      string
		crit      entity.Criteria
		opts      entity.ListOptions
		expectSQL string
		expectArg []interface{}
	}{
		{
			name:      "nil values place no constraint",
			crit:      entity.Criteria{"name": "Acme", "status": nil},
			expectSQL: `SELECT * FROM "clients" WHERE "name" = ? ORDER BY rowid`,
			expectArg: []interface{}{"Acme"},
		},
		{
			name:      "slice becomes set membership",
			crit:      entity.Criteria{"status": []string{"paid", "due"}},
			expectSQL: `SELECT * FROM "clients" WHERE "status" IN (?, ?) ORDER BY rowid`,
			expectArg: []interface{}{"paid", "due"},
		},
		{
			name:      "empty set matches nothing",
			crit:      entity.Criteria{"status": []string{}},
			expectSQL: `SELECT * FROM "clients" WHERE 0 = 1 ORDER BY rowid`,
		},
		{
			name:      "columns are combined in name order",
			crit:      entity.Criteria{"status": "paid", "name": "Acme"},
			expectSQL: `SELECT * FROM "clients" WHERE "name" = ? AND "status" = ? ORDER BY rowid`,
			expectArg: []interface{}{"Acme", "paid"},
		},
		{
			name:      "descending sort with limit",
			crit:      entity.Criteria{"status": "paid"},
			opts:      entity.ListOptions{Sort: "-name", Limit: 10, Offset: 5},
			expectSQL: `SELECT * FROM "clients" WHERE "status" = ? ORDER BY "name" DESC LIMIT ? OFFSET ?`,
			expectArg: []interface{}{"paid", 10, 5},
		},
		{
			name:      "offset without limit",
			opts:      entity.ListOptions{Sort: "name", Offset: 20},
			expectSQL: `SELECT * FROM "clients" ORDER BY "name" ASC LIMIT -1 OFFSET ?`,
			expectArg: []interface{}{20},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			table, dbMock := newMockTable(t, "clients", clientColumns)

			exp := dbMock.ExpectQuery(tc.expectSQL)
			if len(tc.expectArg) > 0 {
				exp = exp.WithArgs(argsToDriver(tc.expectArg)...)
			}
			exp.WillReturnRows(sqlmock.NewRows([]string{"id", "name", "active"}).
				AddRow("c1", "Acme", int64(1)))

			actual, err := table.Filter(context.Background(), tc.crit, tc.opts)

			if !assert.NoError(err) {
				return
			}
			assert.Equal([]entity.Record{{"id": "c1", "name": "Acme", "active": true}}, actual)
			assert.NoError(dbMock.ExpectationsWereMet())
		})
	}
}

func Test_Table_Filter_badCriteria(t *testing.T) {
	assert := assert.New(t)

	table, dbMock := newMockTable(t, "clients", clientColumns)

	_, err := table.Filter(context.Background(), entity.Criteria{"name": map[string]interface{}{"$ne": 1}}, entity.ListOptions{})

	assert.ErrorIs(err, grantdesk.ErrBadArgument)
	assert.NoError(dbMock.ExpectationsWereMet())
}

func Test_Table_List(t *testing.T) {
	assert := assert.New(t)

	table, dbMock := newMockTable(t, "clients", clientColumns)
	dbMock.ExpectQuery(`SELECT * FROM "clients" ORDER BY rowid`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tags"}).
			AddRow("c1", `["a","b"]`).
			AddRow("c2", nil))

	actual, err := table.List(context.Background(), entity.ListOptions{})

	if !assert.NoError(err) {
		return
	}
	assert.Equal([]entity.Record{
		{"id": "c1", "tags": []interface{}{"a", "b"}},
		{"id": "c2", "tags": nil},
	}, actual)
	assert.NoError(dbMock.ExpectationsWereMet())
}

func Test_Table_Count(t *testing.T) {
	testCases := []struct {
		name      string
		crit      entity.Criteria
		expectSQL string
		expectArg []interface{}
	}{
		{
			name:      "no criteria counts every row",
			expectSQL: `SELECT COUNT(*) FROM "clients"`,
		},
		{
			name:      "only nil criteria counts every row",
			crit:      entity.Criteria{"status": nil},
			expectSQL: `SELECT COUNT(*) FROM "clients"`,
		},
		{
			name:      "criteria constrains count",
			crit:      entity.Criteria{"active": true},
			expectSQL: `SELECT COUNT(*) FROM "clients" WHERE "active" = ?`,
			expectArg: []interface{}{true},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			table, dbMock := newMockTable(t, "clients", nil)

			exp := dbMock.ExpectQuery(tc.expectSQL)
			if len(tc.expectArg) > 0 {
				exp = exp.WithArgs(argsToDriver(tc.expectArg)...)
			}
			exp.WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(int64(7)))

			actual, err := table.Count(context.Background(), tc.crit)

			if !assert.NoError(err) {
				return
			}
			assert.Equal(7, actual)
			assert.NoError(dbMock.ExpectationsWereMet())
		})
	}
}

func Test_Table_Get(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		assert := assert.New(t)

		table, dbMock := newMockTable(t, "clients", clientColumns)
		dbMock.ExpectQuery(`SELECT * FROM "clients" WHERE "id" = ?`).
			WithArgs("c1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "active"}).AddRow("c1", "Acme", int64(0)))

		actual, err := table.Get(context.Background(), "c1")

		if !assert.NoError(err) {
			return
		}
		assert.Equal(entity.Record{"id": "c1", "name": "Acme", "active": false}, actual)
		assert.NoError(dbMock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		assert := assert.New(t)

		table, dbMock := newMockTable(t, "clients", clientColumns)
		dbMock.ExpectQuery(`SELECT * FROM "clients" WHERE "id" = ?`).
			WithArgs("nope").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

		_, err := table.Get(context.Background(), "nope")

		assert.ErrorIs(err, grantdesk.ErrNotFound)
		assert.ErrorIs(err, grantdesk.ErrDB)
		assert.NoError(dbMock.ExpectationsWereMet())
	})

	t.Run("backend error is surfaced", func(t *testing.T) {
		assert := assert.New(t)

		boom := errors.New("disk I/O error")
		table, dbMock := newMockTable(t, "clients", clientColumns)
		dbMock.ExpectQuery(`SELECT * FROM "clients" WHERE "id" = ?`).
			WithArgs("c1").
			WillReturnError(boom)

		_, err := table.Get(context.Background(), "c1")

		assert.ErrorIs(err, boom)
		assert.ErrorIs(err, grantdesk.ErrDB)
		assert.NoError(dbMock.ExpectationsWereMet())
	})
}

func Test_Table_Create(t *testing.T) {
	t.Run("id and timestamps are filled in", func(t *testing.T) {
		assert := assert.New(t)

		table, dbMock := newMockTable(t, "clients", clientColumns)
		dbMock.ExpectQuery(`INSERT INTO "clients" ("active", "created_date", "id", "name", "tags", "updated_date") VALUES (?, ?, ?, ?, ?, ?) RETURNING *`).
			WithArgs(
				true,
				sqlmatch.AnyTime{},
				sqlmatch.AnyUUID{},
				"Acme",
				sqlmatch.JSONOf{Text: `["a","b"]`},
				sqlmatch.AnyTime{},
			).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "active", "tags", "created_date", "updated_date"}).
				AddRow("0e0fd1b5-9a4c-4fb8-8e3c-5ad0a5f2a7b1", "Acme", int64(1), `["a","b"]`, "2024-03-01T12:00:00Z", "2024-03-01T12:00:00Z"))

		actual, err := table.Create(context.Background(), entity.Record{
			"name":   "Acme",
			"active": true,
			"tags":   []interface{}{"a", "b"},
		})

		if !assert.NoError(err) {
			return
		}
		assert.Equal("0e0fd1b5-9a4c-4fb8-8e3c-5ad0a5f2a7b1", actual.ID())
		assert.Equal(true, actual["active"])
		assert.Equal([]interface{}{"a", "b"}, actual["tags"])
		assert.NoError(dbMock.ExpectationsWereMet())
	})

	t.Run("given id is kept", func(t *testing.T) {
		assert := assert.New(t)

		table, dbMock := newMockTable(t, "services", map[string]string{"id": "TEXT", "name": "TEXT"})
		dbMock.ExpectQuery(`INSERT INTO "services" ("id", "name") VALUES (?, ?) RETURNING *`).
			WithArgs("svc-1", "Grant review").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("svc-1", "Grant review"))

		actual, err := table.Create(context.Background(), entity.Record{"id": "svc-1", "name": "Grant review"})

		if !assert.NoError(err) {
			return
		}
		assert.Equal(entity.Record{"id": "svc-1", "name": "Grant review"}, actual)
		assert.NoError(dbMock.ExpectationsWereMet())
	})

	t.Run("unique violation surfaces", func(t *testing.T) {
		assert := assert.New(t)

		boom := errors.New("UNIQUE constraint failed: services.id")
		table, dbMock := newMockTable(t, "services", map[string]string{"id": "TEXT", "name": "TEXT"})
		dbMock.ExpectQuery(`INSERT INTO "services" ("id", "name") VALUES (?, ?) RETURNING *`).
			WithArgs("svc-1", "Grant review").
			WillReturnError(boom)

		_, err := table.Create(context.Background(), entity.Record{"id": "svc-1", "name": "Grant review"})

		assert.ErrorIs(err, boom)
		assert.NoError(dbMock.ExpectationsWereMet())
	})

	t.Run("bad column name is rejected before querying", func(t *testing.T) {
		assert := assert.New(t)

		table, dbMock := newMockTable(t, "services", map[string]string{"id": "TEXT"})

		_, err := table.Create(context.Background(), entity.Record{`name"; DROP TABLE services; --`: 1})

		assert.ErrorIs(err, grantdesk.ErrBadArgument)
		assert.NoError(dbMock.ExpectationsWereMet())
	})
}

func Test_Table_Update(t *testing.T) {
	t.Run("patch sets given columns and touches updated_date", func(t *testing.T) {
		assert := assert.New(t)

		table, dbMock := newMockTable(t, "clients", clientColumns)
		dbMock.ExpectQuery(`UPDATE "clients" SET "name" = ?, "updated_date" = ? WHERE "id" = ? RETURNING *`).
			WithArgs("Acme Foundation", sqlmatch.AnyTime{}, "c1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("c1", "Acme Foundation"))

		actual, err := table.Update(context.Background(), "c1", entity.Record{"name": "Acme Foundation", "id": "ignored"})

		if !assert.NoError(err) {
			return
		}
		assert.Equal(entity.Record{"id": "c1", "name": "Acme Foundation"}, actual)
		assert.NoError(dbMock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		assert := assert.New(t)

		table, dbMock := newMockTable(t, "services", map[string]string{"id": "TEXT", "name": "TEXT"})
		dbMock.ExpectQuery(`UPDATE "services" SET "name" = ? WHERE "id" = ? RETURNING *`).
			WithArgs("x", "missing").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

		_, err := table.Update(context.Background(), "missing", entity.Record{"name": "x"})

		assert.ErrorIs(err, grantdesk.ErrNotFound)
		assert.NoError(dbMock.ExpectationsWereMet())
	})

	t.Run("empty patch reads the record", func(t *testing.T) {
		assert := assert.New(t)

		table, dbMock := newMockTable(t, "services", map[string]string{"id": "TEXT", "name": "TEXT"})
		dbMock.ExpectQuery(`SELECT * FROM "services" WHERE "id" = ?`).
			WithArgs("svc-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("svc-1", "Grant review"))

		actual, err := table.Update(context.Background(), "svc-1", nil)

		if !assert.NoError(err) {
			return
		}
		assert.Equal("Grant review", actual["name"])
		assert.NoError(dbMock.ExpectationsWereMet())
	})
}

func Test_Table_Delete(t *testing.T) {
	assert := assert.New(t)

	table, dbMock := newMockTable(t, "services", map[string]string{"id": "TEXT", "name": "TEXT"})
	dbMock.ExpectQuery(`DELETE FROM "services" WHERE "id" = ? RETURNING *`).
		WithArgs("svc-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("svc-1", "Grant review"))

	actual, err := table.Delete(context.Background(), "svc-1")

	if !assert.NoError(err) {
		return
	}
	assert.Equal(entity.Record{"id": "svc-1", "name": "Grant review"}, actual)
	assert.NoError(dbMock.ExpectationsWereMet())
}

func Test_Table_CreateMany(t *testing.T) {
	t.Run("single insert, results in input order", func(t *testing.T) {
		assert := assert.New(t)

		table, dbMock := newMockTable(t, "services", map[string]string{"id": "TEXT", "name": "TEXT", "price": "INTEGER"})
		dbMock.ExpectQuery(`INSERT INTO "services" ("id", "name", "price") VALUES (?, ?, ?), (?, ?, ?) RETURNING *`).
			WithArgs("s1", "Review", 100, "s2", "Drafting", nil).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price"}).
				AddRow("s2", "Drafting", nil).
				AddRow("s1", "Review", int64(100)))

		actual, err := table.CreateMany(context.Background(), []entity.Record{
			{"id": "s1", "name": "Review", "price": 100},
			{"id": "s2", "name": "Drafting"},
		})

		if !assert.NoError(err) {
			return
		}
		assert.Equal([]entity.Record{
			{"id": "s1", "name": "Review", "price": int64(100)},
			{"id": "s2", "name": "Drafting", "price": nil},
		}, actual)
		assert.NoError(dbMock.ExpectationsWereMet())
	})

	t.Run("empty input issues no query", func(t *testing.T) {
		assert := assert.New(t)

		table, dbMock := newMockTable(t, "services", nil)

		actual, err := table.CreateMany(context.Background(), nil)

		assert.NoError(err)
		assert.Empty(actual)
		assert.NotNil(actual)
		assert.NoError(dbMock.ExpectationsWereMet())
	})
}

func Test_Table_Search(t *testing.T) {
	assert := assert.New(t)

	table, dbMock := newMockTable(t, "clients", clientColumns)
	dbMock.ExpectQuery(`SELECT * FROM "clients" WHERE grantdesk_contains("name", ?) ORDER BY rowid`).
		WithArgs("50%_off").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("c1", "Save 50%_off now"))

	actual, err := table.Search(context.Background(), "name", "50%_off")

	if !assert.NoError(err) {
		return
	}
	assert.Len(actual, 1)
	assert.NoError(dbMock.ExpectationsWereMet())
}

func Test_Table_columnsLoaded(t *testing.T) {
	assert := assert.New(t)

	table, dbMock := newMockTable(t, "client_preferences", nil)
	dbMock.ExpectQuery(`PRAGMA table_info("client_preferences")`).
		WillReturnRows(sqlmock.NewRows([]string{"cid", "name", "type", "notnull", "dflt_value", "pk"}).
			AddRow(0, "id", "TEXT", 0, nil, 1).
			AddRow(1, "dark_mode", "boolean", 1, "0", 0).
			AddRow(2, "extra", "json", 0, nil, 0))
	dbMock.ExpectQuery(`SELECT * FROM "client_preferences" ORDER BY rowid`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "dark_mode", "extra"}).AddRow("p1", int64(1), `{"n":2}`))
	dbMock.ExpectQuery(`SELECT * FROM "client_preferences" ORDER BY rowid`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "dark_mode", "extra"}))

	actual, err := table.List(context.Background(), entity.ListOptions{})
	if !assert.NoError(err) {
		return
	}
	_, err = table.List(context.Background(), entity.ListOptions{})
	if !assert.NoError(err) {
		return
	}

	assert.Equal([]entity.Record{{"id": "p1", "dark_mode": true, "extra": map[string]interface{}{"n": int64(2)}}}, actual)
	assert.Equal("BOOLEAN", table.Columns["dark_mode"])
	assert.NoError(dbMock.ExpectationsWereMet())
}

func argsToDriver(args []interface{}) []driver.Value {
	converted := make([]driver.Value, len(args))
	for i := range args {
		converted[i] = equalArg{args[i]}
	}
	return converted
}

// equalArg matches a driver value equal to the wrapped one as a record value.
type equalArg struct {
	v interface{}
}

func (a equalArg) Match(v driver.Value) bool {
	return entity.Equal(a.v, v)
}
