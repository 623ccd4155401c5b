package server

import (
	"net/http"
	"time"

	"github.com/grantdesk/grantdesk"
	"github.com/grantdesk/grantdesk/internal/middle"
)

// services is the grantdesk.ServiceProvider handed to every API's Routes.
type services struct {
	mid *middle.Provider
	log grantdesk.Logger
}

func (svc services) DontPanic() grantdesk.Middleware {
	return svc.mid.DontPanic(svc)
}

func (svc services) OptionalAuth(authenticators ...string) grantdesk.Middleware {
	return svc.mid.OptionalAuth(svc, authenticators...)
}

func (svc services) RequiredAuth(authenticators ...string) grantdesk.Middleware {
	return svc.mid.RequiredAuth(svc, authenticators...)
}

func (svc services) SelectAuthenticator(authenticators ...string) grantdesk.Authenticator {
	return svc.mid.SelectAuthenticator(authenticators...)
}

func (svc services) GetLoggedInUser(req *http.Request) (user grantdesk.AuthUser, loggedIn bool) {
	return middle.GetLoggedInUser(req)
}

func (svc services) Endpoint(ep grantdesk.EndpointFunc, overrides ...grantdesk.Override) http.HandlerFunc {
	overs := grantdesk.CombineOverrides(overrides)

	return func(w http.ResponseWriter, req *http.Request) {
		r := ep(req)

		if r.Status == http.StatusUnauthorized || r.Status == http.StatusForbidden || r.Status == http.StatusInternalServerError {
			// either the caller is improperly logging in or tried to access
			// something they may not, both of which force the wait time before
			// responding.
			auth := svc.mid.SelectAuthenticator(overs.Authenticators...)
			time.Sleep(auth.UnauthDelay())
		}

		r.WriteResponse(w)
		svc.LogResponse(req, r)
	}
}
