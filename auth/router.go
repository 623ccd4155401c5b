package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/grantdesk/grantdesk"
)

func p(s string) (pathParam string) {
	return grantdesk.PathParam(s)
}

func (api *API) Routes(sp grantdesk.ServiceProvider) chi.Router {
	reqAuth := sp.RequiredAuth(api.name + ".jwt")

	r := chi.NewRouter()

	r.Post("/signup", api.httpSignUp(sp))

	r.Route("/login", func(r chi.Router) {
		r.Post("/", api.httpCreateLogin(sp))
		r.With(reqAuth).Delete("/"+p("id:id"), api.httpDeleteLogin(sp))
	})

	r.Get("/session", api.httpGetSession(sp))
	r.Get("/user", api.httpGetCurrentUser(sp))
	r.Post("/recover", api.httpRecover(sp))
	r.Post("/password", api.httpUpdatePassword(sp))

	r.Route("/users", func(r chi.Router) {
		r.Use(reqAuth)
		r.Get("/", api.httpGetAllUsers(sp))
		r.Get("/"+p("id:id"), api.httpGetUser(sp))
		r.Patch("/"+p("id:id"), api.httpUpdateUser(sp))
		r.Delete("/"+p("id:id"), api.httpDeleteUser(sp))
	})

	r.Route("/oauth/"+p("provider:alphanum"), func(r chi.Router) {
		r.Get("/", api.httpStartOAuth(sp))
		r.Get("/callback", api.httpFinishOAuth(sp))
	})

	r.Get("/info", api.httpGetInfo(sp))
	r.HandleFunc("/info/", grantdesk.RedirectNoTrailingSlash(sp))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		res := sp.NotFound()
		res.WriteResponse(w)
		sp.LogResponse(req, res)
	})

	return r
}

func (api *ClientsAPI) Routes(sp grantdesk.ServiceProvider) chi.Router {
	r := chi.NewRouter()

	r.Post("/login", api.httpLogin(sp))

	return r
}
