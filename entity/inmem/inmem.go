// Package inmem provides an entity.Store that keeps every record in memory.
// Tables are created on first use and accept records of any shape.
package inmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grantdesk/grantdesk"
	"github.com/grantdesk/grantdesk/entity"
)

// Store is an in-memory entity.Store. Its zero value should not be used; call
// NewStore to get one ready for use.
type Store struct {
	mtx    sync.Mutex
	tables map[string]*Table
}

func NewStore() *Store {
	return &Store{tables: map[string]*Table{}}
}

func (s *Store) Entity(name string) entity.Repo {
	if err := entity.ValidateName(name); err != nil {
		return entity.Invalid(name, err)
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	t, ok := s.tables[name]
	if !ok {
		t = NewTable(name)
		s.tables[name] = t
	}
	return t
}

func (s *Store) Close() error {
	return nil
}

// Table is an in-memory entity.Repo. Records come back in insertion order
// unless a sort is requested.
type Table struct {
	name string

	mtx     sync.RWMutex
	records map[string]entity.Record
	order   []string

	now func() time.Time
}

func NewTable(name string) *Table {
	return &Table{
		name:    name,
		records: map[string]entity.Record{},
		now:     time.Now,
	}
}

func (t *Table) Name() string {
	return t.name
}

func (t *Table) List(ctx context.Context, opts entity.ListOptions) ([]entity.Record, error) {
	return t.Filter(ctx, nil, opts)
}

func (t *Table) Filter(ctx context.Context, crit entity.Criteria, opts entity.ListOptions) ([]entity.Record, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	conds, err := crit.Conditions()
	if err != nil {
		return nil, err
	}

	t.mtx.RLock()
	defer t.mtx.RUnlock()

	matched := []entity.Record{}
	for _, id := range t.order {
		rec := t.records[id]
		if entity.Matches(rec, conds) {
			matched = append(matched, rec.Clone())
		}
	}

	return entity.SortAndPage(matched, opts), nil
}

func (t *Table) Get(ctx context.Context, id string) (entity.Record, error) {
	t.mtx.RLock()
	defer t.mtx.RUnlock()

	rec, ok := t.records[id]
	if !ok {
		return nil, t.notFound(id)
	}
	return rec.Clone(), nil
}

func (t *Table) Create(ctx context.Context, rec entity.Record) (entity.Record, error) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	prepared, err := t.prepare(rec, t.now())
	if err != nil {
		return nil, err
	}
	if _, exists := t.records[prepared.ID()]; exists {
		return nil, t.exists(prepared.ID())
	}

	t.insert(prepared)
	return prepared.Clone(), nil
}

func (t *Table) Update(ctx context.Context, id string, patch entity.Record) (entity.Record, error) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	rec, ok := t.records[id]
	if !ok {
		return nil, t.notFound(id)
	}

	patch = entity.NormalizeRecord(patch)
	for k := range patch {
		if err := entity.ValidateName(k); err != nil {
			return nil, err
		}
	}
	for k, v := range patch {
		if k != entity.FieldID {
			rec[k] = v
		}
	}
	if _, touched := patch[entity.FieldUpdated]; !touched {
		rec[entity.FieldUpdated] = entity.Timestamp(t.now())
	}

	return rec.Clone(), nil
}

func (t *Table) Delete(ctx context.Context, id string) (entity.Record, error) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	rec, ok := t.records[id]
	if !ok {
		return nil, t.notFound(id)
	}

	delete(t.records, id)
	for i := range t.order {
		if t.order[i] == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}

	return rec, nil
}

// CreateMany inserts all records or, if any of them cannot be inserted, none
// of them.
func (t *Table) CreateMany(ctx context.Context, recs []entity.Record) ([]entity.Record, error) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	now := t.now()
	prepared := make([]entity.Record, len(recs))
	seen := map[string]bool{}
	for i := range recs {
		p, err := t.prepare(recs[i], now)
		if err != nil {
			return nil, err
		}
		if _, exists := t.records[p.ID()]; exists || seen[p.ID()] {
			return nil, t.exists(p.ID())
		}
		seen[p.ID()] = true
		prepared[i] = p
	}

	created := make([]entity.Record, len(prepared))
	for i, p := range prepared {
		t.insert(p)
		created[i] = p.Clone()
	}
	return created, nil
}

func (t *Table) Search(ctx context.Context, column, term string) ([]entity.Record, error) {
	if err := entity.ValidateName(column); err != nil {
		return nil, err
	}

	t.mtx.RLock()
	defer t.mtx.RUnlock()

	found := []entity.Record{}
	for _, id := range t.order {
		rec := t.records[id]
		if entity.Contains(rec[column], term) {
			found = append(found, rec.Clone())
		}
	}
	return found, nil
}

func (t *Table) Count(ctx context.Context, crit entity.Criteria) (int, error) {
	conds, err := crit.Conditions()
	if err != nil {
		return 0, err
	}

	t.mtx.RLock()
	defer t.mtx.RUnlock()

	n := 0
	for _, rec := range t.records {
		if entity.Matches(rec, conds) {
			n++
		}
	}
	return n, nil
}

func (t *Table) prepare(rec entity.Record, now time.Time) (entity.Record, error) {
	prepared := entity.NormalizeRecord(rec)
	if prepared == nil {
		prepared = entity.Record{}
	}
	for k := range prepared {
		if err := entity.ValidateName(k); err != nil {
			return nil, err
		}
	}

	if prepared[entity.FieldID] == nil {
		prepared[entity.FieldID] = uuid.NewString()
	} else {
		prepared[entity.FieldID] = prepared.ID()
	}

	ts := entity.Timestamp(now)
	if prepared[entity.FieldCreated] == nil {
		prepared[entity.FieldCreated] = ts
	}
	if prepared[entity.FieldUpdated] == nil {
		prepared[entity.FieldUpdated] = ts
	}
	return prepared, nil
}

func (t *Table) insert(rec entity.Record) {
	t.records[rec.ID()] = rec
	t.order = append(t.order, rec.ID())
}

func (t *Table) notFound(id string) error {
	return grantdesk.NewError(fmt.Sprintf("%s %q", t.name, id), grantdesk.ErrNotFound)
}

func (t *Table) exists(id string) error {
	return grantdesk.NewError(fmt.Sprintf("%s %q", t.name, id), grantdesk.ErrAlreadyExists, grantdesk.ErrConstraintViolation)
}
