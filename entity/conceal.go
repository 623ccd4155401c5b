package entity

import (
	"context"
	"fmt"

	"github.com/grantdesk/grantdesk"
)

// Conceal returns a Repo over r that never returns the given columns and
// refuses to filter, count, search or sort on them. The columns can still be
// set by Create, CreateMany and Update.
func Conceal(r Repo, columns ...string) Repo {
	hidden := make(map[string]bool, len(columns))
	for _, col := range columns {
		hidden[col] = true
	}
	return concealedRepo{r: r, hidden: hidden}
}

type concealedRepo struct {
	r      Repo
	hidden map[string]bool
}

func (c concealedRepo) check(columns ...string) error {
	for _, col := range columns {
		if c.hidden[col] {
			return grantdesk.NewError(fmt.Sprintf("%s: column %q cannot be queried", c.r.Name(), col), grantdesk.ErrBadArgument)
		}
	}
	return nil
}

func (c concealedRepo) checkQuery(crit Criteria, opts ListOptions) error {
	sortCol, _ := opts.SortColumn()
	if err := c.check(sortCol); err != nil {
		return err
	}
	for col := range crit {
		if err := c.check(col); err != nil {
			return err
		}
	}
	return nil
}

func (c concealedRepo) strip(rec Record) Record {
	if rec == nil {
		return nil
	}
	vis := rec.Clone()
	for col := range c.hidden {
		delete(vis, col)
	}
	return vis
}

func (c concealedRepo) stripAll(recs []Record) []Record {
	if recs == nil {
		return nil
	}
	vis := make([]Record, len(recs))
	for i := range recs {
		vis[i] = c.strip(recs[i])
	}
	return vis
}

func (c concealedRepo) Name() string {
	return c.r.Name()
}

func (c concealedRepo) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	if err := c.checkQuery(nil, opts); err != nil {
		return nil, err
	}
	recs, err := c.r.List(ctx, opts)
	return c.stripAll(recs), err
}

func (c concealedRepo) Filter(ctx context.Context, crit Criteria, opts ListOptions) ([]Record, error) {
	if err := c.checkQuery(crit, opts); err != nil {
		return nil, err
	}
	recs, err := c.r.Filter(ctx, crit, opts)
	return c.stripAll(recs), err
}

func (c concealedRepo) Get(ctx context.Context, id string) (Record, error) {
	rec, err := c.r.Get(ctx, id)
	return c.strip(rec), err
}

func (c concealedRepo) Create(ctx context.Context, rec Record) (Record, error) {
	created, err := c.r.Create(ctx, rec)
	return c.strip(created), err
}

func (c concealedRepo) Update(ctx context.Context, id string, patch Record) (Record, error) {
	updated, err := c.r.Update(ctx, id, patch)
	return c.strip(updated), err
}

func (c concealedRepo) Delete(ctx context.Context, id string) (Record, error) {
	deleted, err := c.r.Delete(ctx, id)
	return c.strip(deleted), err
}

func (c concealedRepo) CreateMany(ctx context.Context, recs []Record) ([]Record, error) {
	created, err := c.r.CreateMany(ctx, recs)
	return c.stripAll(created), err
}

func (c concealedRepo) Search(ctx context.Context, column, term string) ([]Record, error) {
	if err := c.check(column); err != nil {
		return nil, err
	}
	recs, err := c.r.Search(ctx, column, term)
	return c.stripAll(recs), err
}

func (c concealedRepo) Count(ctx context.Context, crit Criteria) (int, error) {
	if err := c.checkQuery(crit, ListOptions{}); err != nil {
		return 0, err
	}
	return c.r.Count(ctx, crit)
}
