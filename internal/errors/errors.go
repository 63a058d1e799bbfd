// Package errors carries errors over HTTP: a status, the message and
// optional per-field details.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/jdholdren/skim/internal/skim"
)

// Error is an error with the HTTP status it should be answered with.
type Error struct {
	Status  int
	Err     error // The error this wraps
	Details []Detail
}

type Detail struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s, details: %v", e.Status, e.Err, e.Details)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type transport struct {
	Message string   `json:"message"`
	Details []Detail `json:"details"`
	Status  int      `json:"status"`
}

func (s *Error) MarshalJSON() ([]byte, error) {
	msg := http.StatusText(s.Status)
	if s.Err != nil {
		msg = s.Err.Error()
	}

	return json.Marshal(transport{
		Message: msg,
		Details: s.Details,
		Status:  s.Status,
	})
}

func (s *Error) UnmarshalJSON(byts []byte) error {
	t := transport{}
	if err := json.Unmarshal(byts, &t); err != nil {
		return err
	}

	s.Err = errors.New(t.Message)
	s.Details = t.Details
	s.Status = t.Status
	return nil
}

// E builds an Error from its arguments: a string or an error becomes the
// message, an int the status, details are appended.
func E(args ...any) *Error {
	ret := &Error{
		Status:  http.StatusInternalServerError,
		Err:     nil,
		Details: nil,
	}

	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			ret.Err = errors.New(arg)
		case error:
			ret.Err = arg
		case int:
			ret.Status = arg
		case Detail:
			ret.Details = append(ret.Details, arg)
		case []Detail:
			ret.Details = append(ret.Details, arg...)
		}
	}

	return ret
}

// From coerces err into an Error. Domain errors keep their message and get
// a matching status; anything else is an opaque internal error.
func From(err error) *Error {
	sErr := &Error{}
	if errors.As(err, &sErr) {
		return sErr
	}

	switch {
	case errors.Is(err, skim.ErrNotFound):
		return E(http.StatusNotFound, err)
	case errors.Is(err, skim.ErrConflict):
		return E(http.StatusConflict, err)
	case errors.Is(err, skim.ErrUnauthorized):
		return E(http.StatusUnauthorized, err)
	case errors.Is(err, skim.ErrClosed):
		return E(http.StatusServiceUnavailable, err)
	}

	return E(http.StatusInternalServerError, "internal server error")
}
