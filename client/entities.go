package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/grantdesk/grantdesk"
	"github.com/grantdesk/grantdesk/entity"
)

// Entities returns an entity.Repo that calls the entity API of the server for
// the named entity. Each verb is exactly one request.
func (c *Client) Entities(name string) entity.Repo {
	if err := entity.ValidateName(name); err != nil {
		return entity.Invalid(name, err)
	}
	return &remoteRepo{c: c, name: name}
}

type remoteRepo struct {
	c    *Client
	name string
}

func (r *remoteRepo) Name() string {
	return r.name
}

func (r *remoteRepo) path(suffix string) string {
	return pathEntities + "/" + r.name + suffix
}

// wrapErr makes errors that came from talking to the server match
// grantdesk.ErrDB. Error statuses other than 5xx are returned as-is since
// they describe the request rather than the backend.
func (r *remoteRepo) wrapErr(err error, verb string) error {
	var se *StatusError
	if errors.As(err, &se) && se.Status < 500 {
		return err
	}
	return grantdesk.WrapDBErrorf(err, "%s %s", verb, r.name)
}

func (r *remoteRepo) List(ctx context.Context, opts entity.ListOptions) ([]entity.Record, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	q := url.Values{}
	if opts.Sort != "" {
		q.Set("sort", opts.Sort)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	var recs []entity.Record
	if err := r.c.call(ctx, http.MethodGet, r.path(""), q, nil, &recs); err != nil {
		return nil, r.wrapErr(err, "list")
	}
	return normalizeAll(recs), nil
}

func (r *remoteRepo) Filter(ctx context.Context, crit entity.Criteria, opts entity.ListOptions) ([]entity.Record, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if _, err := crit.Conditions(); err != nil {
		return nil, err
	}

	body := entity.FilterRequest{Criteria: crit, Sort: opts.Sort, Limit: opts.Limit, Offset: opts.Offset}

	var recs []entity.Record
	if err := r.c.call(ctx, http.MethodPost, r.path("/filter"), nil, body, &recs); err != nil {
		return nil, r.wrapErr(err, "filter")
	}
	return normalizeAll(recs), nil
}

func (r *remoteRepo) Get(ctx context.Context, id string) (entity.Record, error) {
	var rec entity.Record
	if err := r.c.call(ctx, http.MethodGet, r.path("/"+url.PathEscape(id)), nil, nil, &rec); err != nil {
		return nil, r.wrapErr(err, "get")
	}
	return entity.NormalizeRecord(rec), nil
}

func (r *remoteRepo) Create(ctx context.Context, rec entity.Record) (entity.Record, error) {
	var created entity.Record
	if err := r.c.call(ctx, http.MethodPost, r.path(""), nil, rec, &created); err != nil {
		return nil, r.wrapErr(err, "create")
	}
	return entity.NormalizeRecord(created), nil
}

func (r *remoteRepo) Update(ctx context.Context, id string, patch entity.Record) (entity.Record, error) {
	var updated entity.Record
	if err := r.c.call(ctx, http.MethodPatch, r.path("/"+url.PathEscape(id)), nil, patch, &updated); err != nil {
		return nil, r.wrapErr(err, "update")
	}
	return entity.NormalizeRecord(updated), nil
}

func (r *remoteRepo) Delete(ctx context.Context, id string) (entity.Record, error) {
	var deleted entity.Record
	if err := r.c.call(ctx, http.MethodDelete, r.path("/"+url.PathEscape(id)), nil, nil, &deleted); err != nil {
		return nil, r.wrapErr(err, "delete")
	}
	return entity.NormalizeRecord(deleted), nil
}

func (r *remoteRepo) CreateMany(ctx context.Context, recs []entity.Record) ([]entity.Record, error) {
	if len(recs) == 0 {
		return []entity.Record{}, nil
	}

	var created []entity.Record
	if err := r.c.call(ctx, http.MethodPost, r.path("/bulk"), nil, recs, &created); err != nil {
		return nil, r.wrapErr(err, "create many")
	}
	return normalizeAll(created), nil
}

func (r *remoteRepo) Search(ctx context.Context, column, term string) ([]entity.Record, error) {
	if err := entity.ValidateName(column); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("column", column)
	q.Set("term", term)

	var recs []entity.Record
	if err := r.c.call(ctx, http.MethodGet, r.path("/search"), q, nil, &recs); err != nil {
		return nil, r.wrapErr(err, "search")
	}
	return normalizeAll(recs), nil
}

func (r *remoteRepo) Count(ctx context.Context, crit entity.Criteria) (int, error) {
	if _, err := crit.Conditions(); err != nil {
		return 0, err
	}

	var resp entity.CountResponse
	if err := r.c.call(ctx, http.MethodPost, r.path("/count"), nil, entity.FilterRequest{Criteria: crit}, &resp); err != nil {
		return 0, r.wrapErr(err, "count")
	}
	return resp.Count, nil
}

func normalizeAll(recs []entity.Record) []entity.Record {
	if recs == nil {
		return []entity.Record{}
	}
	for i := range recs {
		recs[i] = entity.NormalizeRecord(recs[i])
	}
	return recs
}
