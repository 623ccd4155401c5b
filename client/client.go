// Package client calls a grantdesk server over HTTP. It gives Go callers the
// same entity verbs, auth operations and analytics calls that the server
// exposes, with the session kept in a SessionStore between calls.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/grantdesk/grantdesk"
	"github.com/grantdesk/grantdesk/auth"
	"github.com/grantdesk/grantdesk/internal/logging"
)

const (
	// DefaultTimeout is the timeout of the http.Client made by New.
	DefaultTimeout = 30 * time.Second

	pathEntities  = "/api/entities"
	pathAuth      = "/api/auth"
	pathClients   = "/api/clients"
	pathAnalytics = "/api/analytics"
)

// StatusError is returned when the server answers with an error status. It
// matches the grantdesk error that the server maps to the same status, so
// callers can check it with errors.Is just as they would a local error.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned HTTP-%d", e.Status)
	}
	return fmt.Sprintf("server returned HTTP-%d: %s", e.Status, e.Message)
}

// Is returns whether target is the grantdesk error for e's status. Any 5xx
// status matches grantdesk.ErrDB.
func (e *StatusError) Is(target error) bool {
	switch e.Status {
	case http.StatusBadRequest:
		return target == grantdesk.ErrBadArgument
	case http.StatusUnauthorized:
		return target == grantdesk.ErrBadCredentials
	case http.StatusForbidden:
		return target == grantdesk.ErrPermissions
	case http.StatusNotFound:
		return target == grantdesk.ErrNotFound
	case http.StatusConflict:
		return target == grantdesk.ErrAlreadyExists || target == grantdesk.ErrConstraintViolation
	}
	return e.Status >= 500 && target == grantdesk.ErrDB
}

// Client is a connection to a grantdesk server. Create one with New. It is safe
// for concurrent use.
type Client struct {
	// BaseURL is the scheme, host and base path of the server, such as
	// "https://grants.example.com". The API paths are appended to it.
	BaseURL string

	// HTTP sends the requests.
	HTTP *http.Client

	// Sessions holds the session whose token is sent with each request.
	Sessions SessionStore

	// Log receives messages about calls that have no caller to return an
	// error to.
	Log grantdesk.Logger

	events auth.Hub
}

// New creates a Client for the server at baseURL. The session is kept in
// memory; set Sessions to a FileSessionStore to keep it between runs.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		HTTP:     &http.Client{Timeout: DefaultTimeout},
		Sessions: &MemorySessionStore{},
		Log:      logging.NoOpLogger{},
	}
}

func (c *Client) log() grantdesk.Logger {
	if c.Log == nil {
		return logging.NoOpLogger{}
	}
	return c.Log
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}

// token returns the token of the current session, or "" if there is none.
func (c *Client) token() (string, error) {
	if c.Sessions == nil {
		return "", nil
	}
	sess, ok, err := c.Sessions.Load()
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return "", nil
	}
	return sess.Token, nil
}

// call sends a request with the current session token and decodes a JSON
// response into out, which may be nil to discard the body. body, if not nil,
// is sent as JSON.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	tok, err := c.token()
	if err != nil {
		return err
	}
	return c.callWithToken(ctx, method, path, query, tok, body, out)
}

func (c *Client) callWithToken(ctx context.Context, method, path string, query url.Values, tok string, body, out interface{}) error {
	uri := c.BaseURL + path
	if len(query) > 0 {
		uri += "?" + query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, uri, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read response: %w", method, path, err)
	}

	if resp.StatusCode >= 400 {
		return statusError(resp.StatusCode, respData)
	}

	if out == nil || len(bytes.TrimSpace(respData)) == 0 {
		return nil
	}
	if s, ok := out.(*string); ok {
		*s = string(respData)
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(respData))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func statusError(status int, body []byte) error {
	se := &StatusError{Status: status}

	var errResp grantdesk.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		se.Message = errResp.Error
	} else {
		se.Message = strings.TrimSpace(string(body))
	}
	return se
}

// IsStatus returns whether err is a StatusError with the given status.
func IsStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}
