package analytics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/grantdesk/grantdesk"
	"github.com/grantdesk/grantdesk/entity"
)

// pageViewTimeout bounds each background page view write.
const pageViewTimeout = 10 * time.Second

// API serves preferences and analytics over HTTP. Every endpoint requires a
// logged-in caller; a client may only act on its own client ID.
type API struct {
	Service *Service

	// RecordIP is whether to store the remote address with new sessions.
	RecordIP bool

	log      grantdesk.Logger
	inFlight sync.WaitGroup
}

func (api *API) Init(bnd grantdesk.Bundle) error {
	api.log = bnd.Logger()
	api.RecordIP = bnd.GetBool(ConfigKeyRecordIP)

	store, ok := bnd.DB(0).(entity.Store)
	if !ok {
		return fmt.Errorf("DB provided under '%s' does not implement entity.Store", strings.Join(bnd.UsesDBs(), ","))
	}
	api.Service = NewService(store, api.log)

	return nil
}

func (api *API) Authenticators() map[string]grantdesk.Authenticator {
	return nil
}

// Shutdown waits for page views still being written.
func (api *API) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		api.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (api *API) Routes(sp grantdesk.ServiceProvider) chi.Router {
	r := chi.NewRouter()

	r.Use(sp.RequiredAuth())

	r.Post("/session", api.httpStartSession(sp))
	r.Post("/session/"+grantdesk.PathParam("id:id")+"/end", api.httpEndSession(sp))
	r.Post("/pageview", api.httpRecordPageView(sp))
	r.Post("/onboarding-complete", api.httpCompleteOnboarding(sp))

	r.Route("/preferences/"+grantdesk.PathParam("client:id"), func(r chi.Router) {
		r.Get("/", api.httpGetPreferences(sp))
		r.Put("/", api.httpUpdatePreferences(sp))
		r.Get("/theme.css", api.httpGetTheme(sp))
	})

	return r
}

// canActFor returns whether the logged-in caller may read or write the data of
// the given client. Staff accounts may act for any client and guests for
// none.
func canActFor(user grantdesk.AuthUser, clientID string) bool {
	if user.Role == grantdesk.Client {
		return user.ID == clientID
	}
	return user.Role.IsStaff()
}

func (api *API) httpStartSession(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		user, _ := sp.GetLoggedInUser(req)

		var body SessionStart
		if err := grantdesk.ParseJSONRequest(req, &body); err != nil {
			return sp.BadRequest(err.Error(), err.Error())
		}
		if body.ClientID == "" && user.Role == grantdesk.Client {
			body.ClientID = user.ID
		}
		if !canActFor(user, body.ClientID) {
			return sp.Forbidden("user %s started session for client %s: forbidden", user.ID, body.ClientID)
		}
		if body.UserAgent == "" {
			body.UserAgent = req.UserAgent()
		}
		if body.Referrer == "" {
			body.Referrer = req.Referer()
		}
		body.IPAddress = ""
		if api.RecordIP {
			body.IPAddress = remoteIP(req)
		}

		sess, err := api.Service.StartSession(req.Context(), body)
		if err != nil {
			return grantdesk.ErrResult(sp, err, "start analytics session")
		}
		return sp.Created(sess, "started analytics session %s for client %s", sess.ID(), body.ClientID)
	})
}

func (api *API) httpEndSession(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		user, _ := sp.GetLoggedInUser(req)
		id := chi.URLParam(req, "id")

		sess, err := api.Service.Sessions.Get(req.Context(), id)
		if err != nil {
			return grantdesk.ErrResult(sp, err, "end analytics session "+id)
		}
		if !canActFor(user, sess.String("client_id")) {
			// do not reveal that the session exists
			return sp.NotFound("user %s ended session %s of client %s: forbidden", user.ID, id, sess.String("client_id"))
		}

		sess, err = api.Service.EndSession(req.Context(), id)
		if err != nil {
			return grantdesk.ErrResult(sp, err, "end analytics session "+id)
		}
		return sp.OK(sess, "ended analytics session %s", id)
	})
}

// httpRecordPageView accepts a page view and writes it in the background. The
// caller is answered as soon as the body is understood and the session it
// names is known to belong to a client the caller may act for.
func (api *API) httpRecordPageView(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		user, _ := sp.GetLoggedInUser(req)

		var body PageView
		if err := grantdesk.ParseJSONRequest(req, &body); err != nil {
			return sp.BadRequest(err.Error(), err.Error())
		}
		if body.Path == "" {
			return sp.BadRequest("path: property is empty or missing from request", "empty path")
		}
		if body.SessionID != "" {
			sess, err := api.Service.Sessions.Get(req.Context(), body.SessionID)
			if err != nil {
				return grantdesk.ErrResult(sp, err, "record page view in session "+body.SessionID)
			}
			owner := sess.String("client_id")
			if !canActFor(user, owner) {
				// do not reveal that the session exists
				return sp.NotFound("user %s recorded page view in session %s of client %s: forbidden", user.ID, body.SessionID, owner)
			}
			if body.ClientID == "" {
				body.ClientID = owner
			} else if body.ClientID != owner {
				return sp.BadRequest("client_id: does not match the client of the session", "page view client %q in session of client %q", body.ClientID, owner)
			}
		}
		if body.ClientID == "" && user.Role == grantdesk.Client {
			body.ClientID = user.ID
		}
		if !canActFor(user, body.ClientID) {
			return sp.Forbidden("user %s recorded page view for client %s: forbidden", user.ID, body.ClientID)
		}

		ctx := context.WithoutCancel(req.Context())
		api.inFlight.Add(1)
		go func() {
			defer api.inFlight.Done()
			ctx, cancel := context.WithTimeout(ctx, pageViewTimeout)
			defer cancel()

			if _, err := api.Service.RecordPageView(ctx, body); err != nil {
				api.log.Warnf("page view %s for client %s not recorded: %v", body.Path, body.ClientID, err)
			}
		}()

		return sp.Accepted(map[string]string{"status": "accepted"}, "page view %s queued for client %s", body.Path, body.ClientID)
	})
}

func (api *API) httpCompleteOnboarding(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		user, _ := sp.GetLoggedInUser(req)

		var body OnboardingRequest
		if err := grantdesk.ParseJSONRequest(req, &body); err != nil {
			return sp.BadRequest(err.Error(), err.Error())
		}
		if body.ClientID == "" && user.Role == grantdesk.Client {
			body.ClientID = user.ID
		}
		if body.ClientID == "" {
			return sp.BadRequest("client_id: property is empty or missing from request", "empty client id")
		}
		if !canActFor(user, body.ClientID) {
			return sp.Forbidden("user %s completed onboarding of client %s: forbidden", user.ID, body.ClientID)
		}

		prefs, err := api.Service.CompleteOnboarding(req.Context(), body.ClientID)
		if err != nil {
			return grantdesk.ErrResult(sp, err, "complete onboarding of client "+body.ClientID)
		}
		return sp.OK(prefs, "client %s completed onboarding", body.ClientID)
	})
}

func (api *API) httpGetPreferences(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		user, _ := sp.GetLoggedInUser(req)
		clientID := chi.URLParam(req, "client")
		if !canActFor(user, clientID) {
			return sp.Forbidden("user %s got preferences of client %s: forbidden", user.ID, clientID)
		}

		prefs, err := api.Service.GetPreferences(req.Context(), clientID)
		if err != nil {
			return grantdesk.ErrResult(sp, err, "get preferences of client "+clientID)
		}
		return sp.OK(prefs, "got preferences of client %s", clientID)
	})
}

func (api *API) httpUpdatePreferences(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		user, _ := sp.GetLoggedInUser(req)
		clientID := chi.URLParam(req, "client")
		if !canActFor(user, clientID) {
			return sp.Forbidden("user %s updated preferences of client %s: forbidden", user.ID, clientID)
		}

		// start from what is saved so that a partial body only changes the
		// settings it names
		prefs, err := api.Service.GetPreferences(req.Context(), clientID)
		if err != nil {
			return grantdesk.ErrResult(sp, err, "update preferences of client "+clientID)
		}
		if err := grantdesk.ParseJSONRequest(req, &prefs); err != nil {
			return sp.BadRequest(err.Error(), err.Error())
		}
		if prefs.ClientID != "" && prefs.ClientID != clientID {
			return sp.BadRequest("client_id: does not match the client in the URI", "client_id mismatch: %q vs %q", prefs.ClientID, clientID)
		}
		if prefs.DashboardLayout != nil {
			prefs.DashboardLayout = entity.Normalize(prefs.DashboardLayout).(map[string]interface{})
		}

		prefs, err = api.Service.UpdatePreferences(req.Context(), clientID, prefs)
		if err != nil {
			return grantdesk.ErrResult(sp, err, "update preferences of client "+clientID)
		}
		return sp.OK(prefs, "updated preferences of client %s", clientID)
	})
}

func (api *API) httpGetTheme(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		user, _ := sp.GetLoggedInUser(req)
		clientID := chi.URLParam(req, "client")
		if !canActFor(user, clientID) {
			return sp.Forbidden("user %s got theme of client %s: forbidden", user.ID, clientID)
		}

		prefs, err := api.Service.GetPreferences(req.Context(), clientID)
		if err != nil {
			return grantdesk.ErrResult(sp, err, "get theme of client "+clientID)
		}
		return sp.Text("text/css; charset=utf-8", Theme(prefs), "got theme of client %s", clientID)
	})
}

func remoteIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
