package server

import (
	"fmt"
	"net/http"

	"github.com/grantdesk/grantdesk"
)

func (svc services) Logger() grantdesk.Logger {
	return svc.log
}

func (svc services) LogResponse(req *http.Request, r grantdesk.Result) {
	svc.log.LogResult(req, r)
}

// splitInternalMsg pulls the format string and its args out of the optional
// internalMsg arguments the ResponseGenerator functions take.
func splitInternalMsg(def string, internalMsg []interface{}) (string, []interface{}) {
	if len(internalMsg) < 1 {
		return def, nil
	}
	return internalMsg[0].(string), internalMsg[1:]
}

// if status is http.StatusNoContent, respObj will not be read and may be nil.
// Otherwise, respObj MUST NOT be nil. If additional values are provided they
// are given to internalMsg as a format string.
func (svc services) Response(status int, respObj interface{}, internalMsg string, v ...interface{}) grantdesk.Result {
	msg := fmt.Sprintf(internalMsg, v...)
	return grantdesk.Result{
		IsJSON:      true,
		IsErr:       false,
		Status:      status,
		InternalMsg: msg,
		Resp:        respObj,
	}
}

// If additional values are provided they are given to internalMsg as a format
// string.
func (svc services) Err(status int, userMsg, internalMsg string, v ...interface{}) grantdesk.Result {
	msg := fmt.Sprintf(internalMsg, v...)
	return grantdesk.Result{
		IsJSON:      true,
		IsErr:       true,
		Status:      status,
		InternalMsg: msg,
		Resp: grantdesk.ErrorResponse{
			Error:  userMsg,
			Status: status,
		},
	}
}

func (svc services) Redirection(uri string) grantdesk.Result {
	return grantdesk.Result{
		Status:      http.StatusPermanentRedirect,
		InternalMsg: fmt.Sprintf("redirect -> %s", uri),
		Redir:       uri,
	}
}

// Found is a temporary redirect. It is used to send browsers on to OAuth
// providers and back to the front end.
func (svc services) Found(uri string) grantdesk.Result {
	return grantdesk.Result{
		Status:      http.StatusFound,
		InternalMsg: fmt.Sprintf("found -> %s", uri),
		Redir:       uri,
	}
}

// TextErr is like Err but it avoids JSON encoding of any kind and writes the
// output as plain text. If additional values are provided they are given to
// internalMsg as a format string.
func (svc services) TextErr(status int, userMsg, internalMsg string, v ...interface{}) grantdesk.Result {
	msg := fmt.Sprintf(internalMsg, v...)
	return grantdesk.Result{
		IsJSON:      false,
		IsErr:       true,
		Status:      status,
		InternalMsg: msg,
		Resp:        userMsg,
	}
}

// Text returns an HTTP-200 whose body is written as-is with the given content
// type.
func (svc services) Text(contentType string, body string, internalMsg ...interface{}) grantdesk.Result {
	internalMsgFmt, msgArgs := splitInternalMsg("OK", internalMsg)

	return grantdesk.Result{
		Status:      http.StatusOK,
		InternalMsg: fmt.Sprintf(internalMsgFmt, msgArgs...),
		Resp:        body,
		ContentType: contentType,
	}
}

// OK returns a Result containing an HTTP-200 along with a more detailed
// message (if desired; if none is provided it defaults to a generic one) that
// is not displayed to the user.
func (svc services) OK(respObj interface{}, internalMsg ...interface{}) grantdesk.Result {
	internalMsgFmt, msgArgs := splitInternalMsg("OK", internalMsg)
	return svc.Response(http.StatusOK, respObj, internalMsgFmt, msgArgs...)
}

// NoContent returns a Result containing an HTTP-204.
func (svc services) NoContent(internalMsg ...interface{}) grantdesk.Result {
	internalMsgFmt, msgArgs := splitInternalMsg("no content", internalMsg)
	return svc.Response(http.StatusNoContent, nil, internalMsgFmt, msgArgs...)
}

// Created returns a Result containing an HTTP-201.
func (svc services) Created(respObj interface{}, internalMsg ...interface{}) grantdesk.Result {
	internalMsgFmt, msgArgs := splitInternalMsg("created", internalMsg)
	return svc.Response(http.StatusCreated, respObj, internalMsgFmt, msgArgs...)
}

// Accepted returns a Result containing an HTTP-202, for work that finishes
// after the response is sent.
func (svc services) Accepted(respObj interface{}, internalMsg ...interface{}) grantdesk.Result {
	internalMsgFmt, msgArgs := splitInternalMsg("accepted", internalMsg)
	return svc.Response(http.StatusAccepted, respObj, internalMsgFmt, msgArgs...)
}

// Conflict returns a Result containing an HTTP-409.
func (svc services) Conflict(userMsg string, internalMsg ...interface{}) grantdesk.Result {
	internalMsgFmt, msgArgs := splitInternalMsg("conflict", internalMsg)
	return svc.Err(http.StatusConflict, userMsg, internalMsgFmt, msgArgs...)
}

// BadRequest returns a Result containing an HTTP-400.
func (svc services) BadRequest(userMsg string, internalMsg ...interface{}) grantdesk.Result {
	internalMsgFmt, msgArgs := splitInternalMsg("bad request", internalMsg)
	return svc.Err(http.StatusBadRequest, userMsg, internalMsgFmt, msgArgs...)
}

// MethodNotAllowed returns a Result containing an HTTP-405.
func (svc services) MethodNotAllowed(req *http.Request, internalMsg ...interface{}) grantdesk.Result {
	internalMsgFmt, msgArgs := splitInternalMsg("method not allowed", internalMsg)
	userMsg := fmt.Sprintf("Method %s is not allowed for %s", req.Method, req.URL.Path)
	return svc.Err(http.StatusMethodNotAllowed, userMsg, internalMsgFmt, msgArgs...)
}

// NotFound returns a Result containing an HTTP-404 response along with a more
// detailed message (if desired; if none is provided it defaults to a generic
// one) that is not displayed to the user.
func (svc services) NotFound(internalMsg ...interface{}) grantdesk.Result {
	internalMsgFmt, msgArgs := splitInternalMsg("not found", internalMsg)
	return svc.Err(http.StatusNotFound, "The requested resource was not found", internalMsgFmt, msgArgs...)
}

// Forbidden returns a Result containing an HTTP-403 response.
func (svc services) Forbidden(internalMsg ...interface{}) grantdesk.Result {
	internalMsgFmt, msgArgs := splitInternalMsg("forbidden", internalMsg)
	return svc.Err(http.StatusForbidden, "You don't have permission to do that", internalMsgFmt, msgArgs...)
}

// Unauthorized returns a Result containing an HTTP-401 response along with the
// proper WWW-Authenticate header.
func (svc services) Unauthorized(userMsg string, internalMsg ...interface{}) grantdesk.Result {
	internalMsgFmt, msgArgs := splitInternalMsg("unauthorized", internalMsg)

	if userMsg == "" {
		userMsg = "You are not authorized to do that"
	}

	return svc.Err(http.StatusUnauthorized, userMsg, internalMsgFmt, msgArgs...).
		WithHeader("WWW-Authenticate", `Bearer realm="grantdesk", charset="utf-8"`)
}

// InternalServerError returns a Result containing an HTTP-500 response along
// with a more detailed message that is not displayed to the user. If
// internalMsg is provided the first argument must be a string that is the
// format string and any subsequent args are passed to Sprintf with the first
// as the format string.
func (svc services) InternalServerError(internalMsg ...interface{}) grantdesk.Result {
	internalMsgFmt, msgArgs := splitInternalMsg("internal server error", internalMsg)
	return svc.Err(http.StatusInternalServerError, "An internal server error occurred", internalMsgFmt, msgArgs...)
}
