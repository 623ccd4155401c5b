package grantdesk

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"regexp"
	"strings"
)

var (
	paramTypePats = map[string]string{
		"uuid":     `[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`,
		"email":    `\S+@\S+`,
		"num":      `\d+`,
		"alpha":    `[A-Za-z]+`,
		"alphanum": `[A-Za-z0-9]+`,
		"ident":    `[A-Za-z_][A-Za-z0-9_]*`,
		"id":       `[A-Za-z0-9_.:-]+`,
	}

	pathParamRegex = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*):[^/]+\}`)
)

// PathParam translates strings of the form "name:type" to a URI path parameter
// string of the form "{name:regex}" compatible with chi. Only request URIs
// whose path parameters match their respective regexes (if any) will match
// that route.
//
// Currently, PathParam supports the following parameter type names:
//
//   - "uuid" - UUID strings.
//   - "email" - Two strings separated by an @ sign.
//   - "num" - One or more digits 0-9.
//   - "alpha" - One or more Latin letters A-Z or a-z.
//   - "alphanum" - One or more Latin letters A-Z, a-z, or digits 0-9.
//   - "ident" - A SQL-safe identifier.
//   - "id" - A record ID.
//
// If only name is given in the string (with no colon), then the string
// "{" + name + "}" is returned.
func PathParam(nameType string) string {
	var name string
	var pat string

	parts := strings.SplitN(nameType, ":", 2)
	name = parts[0]
	if len(parts) == 2 {
		pat = parts[1]

		if translatedPat, ok := paramTypePats[parts[1]]; ok {
			pat = translatedPat
		}
	}

	if pat == "" {
		return "{" + name + "}"
	}
	return "{" + name + ":" + pat + "}"
}

// UnPathParam replaces every "{name:regex}" in s with "{name}". It is used to
// make route listings readable.
func UnPathParam(s string) string {
	return pathParamRegex.ReplaceAllString(s, "{$1}")
}

// RedirectNoTrailingSlash returns an http.HandlerFunc that redirects to the
// same URL as the request but with no trailing slash.
func RedirectNoTrailingSlash(sp ServiceProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		redirPath := strings.TrimRight(req.URL.Path, "/")
		r := sp.Redirection(redirPath)
		r.WriteResponse(w)
		sp.LogResponse(req, r)
	}
}

// ParseJSONRequest decodes the JSON body of req into v, which must be a
// pointer. The returned error will match ErrBodyUnmarshal if the body could
// not be decoded. The body is restored after reading so it may be read again.
func ParseJSONRequest(req *http.Request, v interface{}) error {
	contentType := req.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)

	if strings.ToLower(mediaType) != "application/json" {
		return NewError("request content-type is not application/json", ErrBodyUnmarshal)
	}

	bodyData, err := io.ReadAll(req.Body)
	if err != nil {
		return fmt.Errorf("could not read request body: %w", err)
	}
	defer func() {
		req.Body.Close()
		req.Body = io.NopCloser(bytes.NewBuffer(bodyData))
	}()

	dec := json.NewDecoder(bytes.NewReader(bodyData))
	dec.UseNumber()
	err = dec.Decode(v)
	if err != nil {
		return NewError("malformed JSON in request", err, ErrBodyUnmarshal)
	}

	return nil
}

// ErrResult maps err onto the Result an endpoint should respond with. Bad
// input gives HTTP-400, missing records HTTP-404, conflicts HTTP-409, bad
// credentials HTTP-401, permission failures HTTP-403 and anything else
// HTTP-500. what describes the attempted operation for the log.
func ErrResult(rg ResponseGenerator, err error, what string) Result {
	switch {
	case errors.Is(err, ErrBadArgument), errors.Is(err, ErrBodyUnmarshal):
		return rg.BadRequest(err.Error(), "%s: %s", what, err.Error())
	case errors.Is(err, ErrNotFound):
		return rg.NotFound("%s: %s", what, err.Error())
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrConstraintViolation):
		return rg.Conflict(err.Error(), "%s: %s", what, err.Error())
	case errors.Is(err, ErrBadCredentials), errors.Is(err, ErrExpired):
		return rg.Unauthorized(err.Error(), "%s: %s", what, err.Error())
	case errors.Is(err, ErrPermissions):
		return rg.Forbidden("%s: %s", what, err.Error())
	default:
		return rg.InternalServerError("%s: %s", what, err.Error())
	}
}
