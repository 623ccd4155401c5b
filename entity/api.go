package entity

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/grantdesk/grantdesk"
)

// FilterRequest is the body of a filter or count request.
type FilterRequest struct {
	Criteria Criteria `json:"criteria"`
	Sort     string   `json:"sort,omitempty"`
	Limit    int      `json:"limit,omitempty"`
	Offset   int      `json:"offset,omitempty"`
}

// CountResponse is the body of a count response.
type CountResponse struct {
	Count int `json:"count"`
}

// HiddenColumns are the columns that the entity API never returns or queries
// by, keyed by entity name. They can still be written.
var HiddenColumns = map[string][]string{
	"clients": {"access_code"},
}

// API exposes the verbs of every configured entity over HTTP. All of its
// endpoints require a logged-in staff account. Clients logged in with an
// access code and accounts that were never given a staff role are refused.
type API struct {
	// Store is where the entities are kept.
	Store Store

	// Entities is the set of entity names that may be accessed.
	Entities map[string]bool

	// Hidden lists the concealed columns of each entity. Init sets it to
	// HiddenColumns.
	Hidden map[string][]string

	log grantdesk.Logger
}

func (api *API) Init(bnd grantdesk.Bundle) error {
	api.log = bnd.Logger()

	st, ok := bnd.DB(0).(Store)
	if !ok {
		return fmt.Errorf("DB provided under '%s' does not implement entity.Store", strings.Join(bnd.UsesDBs(), ","))
	}
	api.Store = st

	api.Entities = map[string]bool{}
	for _, name := range bnd.GetSlice(ConfigKeyEntities) {
		api.Entities[name] = true
	}
	api.Hidden = HiddenColumns

	return nil
}

func (api *API) Authenticators() map[string]grantdesk.Authenticator {
	return nil
}

func (api *API) Shutdown(ctx context.Context) error {
	return ctx.Err()
}

func (api *API) Routes(sp grantdesk.ServiceProvider) chi.Router {
	r := chi.NewRouter()

	r.Use(sp.RequiredAuth())
	r.Use(staffOnly(sp))

	r.Route("/"+grantdesk.PathParam("entity:ident"), func(r chi.Router) {
		r.Get("/", api.httpList(sp))
		r.Post("/", api.httpCreate(sp))
		r.Post("/filter", api.httpFilter(sp))
		r.Post("/count", api.httpCount(sp))
		r.Post("/bulk", api.httpCreateMany(sp))
		r.Get("/search", api.httpSearch(sp))

		r.Get("/"+grantdesk.PathParam("id:id"), api.httpGet(sp))
		r.Patch("/"+grantdesk.PathParam("id:id"), api.httpUpdate(sp))
		r.Delete("/"+grantdesk.PathParam("id:id"), api.httpDelete(sp))
	})

	return r
}

func staffOnly(sp grantdesk.ServiceProvider) grantdesk.Middleware {
	return func(next http.Handler) http.Handler {
		forbidden := sp.Endpoint(func(req *http.Request) grantdesk.Result {
			user, _ := sp.GetLoggedInUser(req)
			return sp.Forbidden("%s (role %s) accessed entity API: forbidden", user.ID, user.Role)
		})

		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if user, _ := sp.GetLoggedInUser(req); !user.Role.IsStaff() {
				forbidden(w, req)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

// repo returns the Repo named in the request path, or false if that entity is
// not exposed.
func (api *API) repo(req *http.Request) (Repo, bool) {
	name := chi.URLParam(req, "entity")
	if !api.Entities[name] {
		return nil, false
	}
	repo := api.Store.Entity(name)
	if cols := api.Hidden[name]; len(cols) > 0 {
		repo = Conceal(repo, cols...)
	}
	return repo, true
}

func (api *API) httpList(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		repo, ok := api.repo(req)
		if !ok {
			return sp.NotFound("no such entity")
		}

		opts, err := listOptionsFromQuery(req)
		if err != nil {
			return sp.BadRequest(err.Error(), err.Error())
		}

		recs, err := repo.List(req.Context(), opts)
		if err != nil {
			return grantdesk.ErrResult(sp, err, "list "+repo.Name())
		}
		return sp.OK(recs, "listed %d %s", len(recs), repo.Name())
	})
}

func (api *API) httpFilter(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		repo, ok := api.repo(req)
		if !ok {
			return sp.NotFound("no such entity")
		}

		var body FilterRequest
		if err := grantdesk.ParseJSONRequest(req, &body); err != nil {
			return sp.BadRequest(err.Error(), err.Error())
		}
		opts := ListOptions{Sort: body.Sort, Limit: body.Limit, Offset: body.Offset}

		recs, err := repo.Filter(req.Context(), Criteria(NormalizeRecord(Record(body.Criteria))), opts)
		if err != nil {
			return grantdesk.ErrResult(sp, err, "filter "+repo.Name())
		}
		return sp.OK(recs, "filtered %d %s", len(recs), repo.Name())
	})
}

func (api *API) httpCount(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		repo, ok := api.repo(req)
		if !ok {
			return sp.NotFound("no such entity")
		}

		var body FilterRequest
		if req.ContentLength != 0 {
			if err := grantdesk.ParseJSONRequest(req, &body); err != nil {
				return sp.BadRequest(err.Error(), err.Error())
			}
		}

		n, err := repo.Count(req.Context(), Criteria(NormalizeRecord(Record(body.Criteria))))
		if err != nil {
			return grantdesk.ErrResult(sp, err, "count "+repo.Name())
		}
		return sp.OK(CountResponse{Count: n}, "counted %d %s", n, repo.Name())
	})
}

func (api *API) httpGet(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		repo, ok := api.repo(req)
		if !ok {
			return sp.NotFound("no such entity")
		}
		id := chi.URLParam(req, "id")

		rec, err := repo.Get(req.Context(), id)
		if err != nil {
			return grantdesk.ErrResult(sp, err, "get "+repo.Name()+" "+id)
		}
		return sp.OK(rec, "got %s %s", repo.Name(), id)
	})
}

func (api *API) httpCreate(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		repo, ok := api.repo(req)
		if !ok {
			return sp.NotFound("no such entity")
		}

		var body Record
		if err := grantdesk.ParseJSONRequest(req, &body); err != nil {
			return sp.BadRequest(err.Error(), err.Error())
		}

		rec, err := repo.Create(req.Context(), NormalizeRecord(body))
		if err != nil {
			return grantdesk.ErrResult(sp, err, "create "+repo.Name())
		}
		return sp.Created(rec, "created %s %s", repo.Name(), rec.ID())
	})
}

func (api *API) httpCreateMany(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		repo, ok := api.repo(req)
		if !ok {
			return sp.NotFound("no such entity")
		}

		var body []Record
		if err := grantdesk.ParseJSONRequest(req, &body); err != nil {
			return sp.BadRequest(err.Error(), err.Error())
		}
		for i := range body {
			body[i] = NormalizeRecord(body[i])
		}

		recs, err := repo.CreateMany(req.Context(), body)
		if err != nil {
			return grantdesk.ErrResult(sp, err, "create many "+repo.Name())
		}
		return sp.Created(recs, "created %d %s", len(recs), repo.Name())
	})
}

func (api *API) httpUpdate(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		repo, ok := api.repo(req)
		if !ok {
			return sp.NotFound("no such entity")
		}
		id := chi.URLParam(req, "id")

		var patch Record
		if err := grantdesk.ParseJSONRequest(req, &patch); err != nil {
			return sp.BadRequest(err.Error(), err.Error())
		}

		rec, err := repo.Update(req.Context(), id, NormalizeRecord(patch))
		if err != nil {
			return grantdesk.ErrResult(sp, err, "update "+repo.Name()+" "+id)
		}
		return sp.OK(rec, "updated %s %s", repo.Name(), id)
	})
}

func (api *API) httpDelete(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		repo, ok := api.repo(req)
		if !ok {
			return sp.NotFound("no such entity")
		}
		id := chi.URLParam(req, "id")

		rec, err := repo.Delete(req.Context(), id)
		if err != nil {
			return grantdesk.ErrResult(sp, err, "delete "+repo.Name()+" "+id)
		}
		return sp.OK(rec, "deleted %s %s", repo.Name(), id)
	})
}

func (api *API) httpSearch(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		repo, ok := api.repo(req)
		if !ok {
			return sp.NotFound("no such entity")
		}

		column := req.URL.Query().Get("column")
		if column == "" {
			return sp.BadRequest("column: query parameter is empty or missing", "empty search column")
		}
		term := req.URL.Query().Get("term")

		recs, err := repo.Search(req.Context(), column, term)
		if err != nil {
			return grantdesk.ErrResult(sp, err, "search "+repo.Name())
		}
		return sp.OK(recs, "search %s.%s for %q found %d", repo.Name(), column, term, len(recs))
	})
}

func listOptionsFromQuery(req *http.Request) (ListOptions, error) {
	q := req.URL.Query()
	opts := ListOptions{Sort: q.Get("sort")}

	var err error
	if v := q.Get("limit"); v != "" {
		if opts.Limit, err = strconv.Atoi(v); err != nil {
			return opts, grantdesk.NewError("limit: not a number", grantdesk.ErrBadArgument)
		}
	}
	if v := q.Get("offset"); v != "" {
		if opts.Offset, err = strconv.Atoi(v); err != nil {
			return opts, grantdesk.NewError("offset: not a number", grantdesk.ErrBadArgument)
		}
	}
	return opts, nil
}
