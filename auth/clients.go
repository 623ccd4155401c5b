package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/grantdesk/grantdesk"
	"github.com/grantdesk/grantdesk/entity"
)

var useClientsDelay = grantdesk.Override{Authenticators: []string{"clients.code"}}

// ClientsAPI serves the access-code login of clients.
type ClientsAPI struct {
	Service *Service

	UnauthDelay time.Duration

	log grantdesk.Logger
}

func (api *ClientsAPI) Init(bnd grantdesk.Bundle) error {
	api.log = bnd.Logger()
	api.UnauthDelay = unauthDelay(bnd.GetInt(ConfigKeyUnauthDelay))

	store, ok := bnd.DB(0).(entity.Store)
	if !ok {
		return fmt.Errorf("DB provided under '%s' does not implement entity.Store", bnd.UsesDBs())
	}

	api.Service = &Service{
		Users:   store.Entity(UsersEntity),
		Clients: store.Entity(ClientsEntity),
		Secret:  bnd.GetByteSlice(ConfigKeySecret),
		Log:     api.log,
	}

	return nil
}

// Authenticators returns the "code" authenticator. It never authenticates a
// request; it exists so that failed logins are delayed by the clients API's
// own unauth delay.
func (api *ClientsAPI) Authenticators() map[string]grantdesk.Authenticator {
	return map[string]grantdesk.Authenticator{
		"code": delayOnly(api.UnauthDelay),
	}
}

func (api *ClientsAPI) Shutdown(ctx context.Context) error {
	return ctx.Err()
}

// httpLogin returns a HandlerFunc that logs in a client with their email and
// access code.
func (api *ClientsAPI) httpLogin(sp grantdesk.ServiceProvider) http.HandlerFunc {
	return sp.Endpoint(func(req *http.Request) grantdesk.Result {
		var body AccessCodeLoginRequest
		if err := grantdesk.ParseJSONRequest(req, &body); err != nil {
			return sp.BadRequest(err.Error(), err.Error())
		}
		if body.Email == "" {
			return sp.BadRequest("email: property is empty or missing from request", "empty email")
		}
		if body.AccessCode == "" {
			return sp.BadRequest("access_code: property is empty or missing from request", "empty access code")
		}

		sess, err := api.Service.LoginWithAccessCode(req.Context(), body.Email, body.AccessCode)
		if err != nil {
			return grantdesk.ErrResult(sp, err, "client login "+body.Email)
		}

		return sp.OK(sess, "client %s logged in with access code", sess.Client.ID())
	}, useClientsDelay)
}

type delayOnly time.Duration

func (d delayOnly) Authenticate(req *http.Request) (grantdesk.AuthUser, bool, error) {
	return grantdesk.AuthUser{}, false, nil
}

func (d delayOnly) UnauthDelay() time.Duration {
	return time.Duration(d)
}
