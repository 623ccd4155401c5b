package auth

import (
	"net/http"
	"time"

	"github.com/grantdesk/grantdesk"
	"github.com/grantdesk/grantdesk/token"
)

// JWTAuthenticator authenticates requests that carry a user session token or a
// client access-code session token as a bearer token.
type JWTAuthenticator struct {
	svc         *Service
	unauthDelay time.Duration
}

func (ap JWTAuthenticator) Authenticate(req *http.Request) (grantdesk.AuthUser, bool, error) {
	tok, err := token.Get(req)
	if err != nil {
		// might not actually be a problem, let the auth engine decide if so but
		// there is no user to retrieve here
		return grantdesk.AuthUser{}, false, nil
	}

	who, err := ap.svc.Authenticate(req.Context(), tok)
	if err != nil {
		return grantdesk.AuthUser{}, false, err
	}

	return who, true, nil
}

func (ap JWTAuthenticator) UnauthDelay() time.Duration {
	return ap.unauthDelay
}
