package grantdesk

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
)

var (
	ErrBadCredentials      = errors.New("the supplied email/password combination is incorrect")
	ErrPermissions         = errors.New("you don't have permission to do that")
	ErrNotFound            = errors.New("the requested entity could not be found")
	ErrAlreadyExists       = errors.New("resource with same identifying information already exists")
	ErrDB                  = errors.New("an error occured with the DB")
	ErrBadArgument         = errors.New("one or more of the arguments is invalid")
	ErrBodyUnmarshal       = errors.New("malformed data in request")
	ErrConstraintViolation = errors.New("a uniqueness constraint was violated")
	ErrDecodingFailure     = errors.New("field could not be decoded from storage format")
	ErrExpired             = errors.New("the session has expired")
)

// Error is a typed error returned by functions in grantdesk as their error
// value. It contains both a message explaining what happened as well as one or
// more error values it considers to be its causes. Error is compatible with the
// use of errors.Is() - calling errors.Is on some Error value err along with any
// value of error it holds as one of its causes will return true.
//
// If Error has at least one cause defined, the result of calling Error.Error()
// will be its primary message with the result of calling Error() on its first
// cause appended to it.
//
// Error should not be used directly; call NewError to create one.
type Error struct {
	msg   string
	cause []error
}

// Error returns the message defined for the Error, concatenated with the result
// of calling Error() on its first cause if one is defined. If no message was
// defined but there is at least one cause, the result of calling Error() on the
// first cause is returned.
func (e Error) Error() string {
	if e.msg == "" && e.cause != nil {
		return e.cause[0].Error()
	}

	if e.cause != nil {
		return e.msg + ": " + e.cause[0].Error()
	}

	return e.msg
}

// Unwrap returns the causes of Error. The return value will be nil if no causes
// were defined for it.
func (e Error) Unwrap() []error {
	if len(e.cause) > 0 {
		return e.cause
	}
	return nil
}

// Is returns whether target is an Error with the same message and causes as e.
// Matching against causes is left to errors.Is via Unwrap.
func (e Error) Is(target error) bool {
	errTarget, ok := target.(Error)
	if !ok || e.msg != errTarget.msg || len(e.cause) != len(errTarget.cause) {
		return false
	}
	for i := range e.cause {
		if !errors.Is(e.cause[i], errTarget.cause[i]) {
			return false
		}
	}
	return true
}

// NewError creates a new Error with the given message, along with any errors it
// should wrap as its causes. Providing cause errors is not required, but will
// cause it to return true when it is checked against that error via a call to
// errors.Is.
func NewError(msg string, causes ...error) Error {
	err := Error{msg: msg}
	if len(causes) > 0 {
		err.cause = make([]error, len(causes))
		copy(err.cause, causes)
	}
	return err
}

func convertDBError(err error) error {
	sqliteErr := &sqlite.Error{}
	if errors.As(err, &sqliteErr) {
		primaryCode := sqliteErr.Code() & 0xff
		if primaryCode == 19 {
			// unique and primary key violations mean the row is already there
			if strings.Contains(sqliteErr.Error(), "UNIQUE") {
				return NewError(ErrAlreadyExists.Error(), err, ErrAlreadyExists, ErrConstraintViolation)
			}
			return NewError(ErrConstraintViolation.Error(), err, ErrConstraintViolation)
		} else if primaryCode == 1 {
			// 1 is a generic error and thus the string is not descriptive, so
			// do not use the error code string
			return err
		}

		return NewError(sqlite.ErrorCodeString[sqliteErr.Code()], err)
	} else if errors.Is(err, sql.ErrNoRows) {
		return NewError("", err, ErrNotFound)
	}

	return err
}

// WrapDBError creates a new Error that wraps the given error as a cause and
// automatically adds ErrDB as another cause. A user-set message may be provided
// if desired with msg, but it may be left out.
//
// The provided error being wrapped will itself be converted to an Error of the
// approriate grantdesk type if possible; e.g. SQLite errors reporting a
// uniqueness violation are converted to an Error that returns true for
// errors.Is(err, grantdesk.ErrAlreadyExists). The original error is always kept
// as a cause.
func WrapDBError(err error, msg ...any) Error {
	err = convertDBError(err)

	var errMsg string
	if len(msg) > 0 {
		errMsg = fmt.Sprint(msg...)
	}

	return Error{
		msg:   errMsg,
		cause: []error{err, ErrDB},
	}
}

// WrapDBErrorf is WrapDBError with a format string for the message.
func WrapDBErrorf(err error, format string, a ...any) Error {
	err = convertDBError(err)

	return Error{
		msg:   fmt.Sprintf(format, a...),
		cause: []error{err, ErrDB},
	}
}
