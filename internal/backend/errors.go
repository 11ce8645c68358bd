package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"apicatalog.org/internal/auth"
	"apicatalog.org/internal/requests"
)

var (
	// ErrUnavailable covers network failures, 429 and 5xx responses.
	ErrUnavailable = errors.New("backend: unavailable")
	// ErrNotFound is a 404 on a read.
	ErrNotFound = errors.New("backend: not found")
	// ErrUnexpectedStatus is any other non-2xx status.
	ErrUnexpectedStatus = errors.New("backend: unexpected status")
)

// Error describes a failed call. Status is 0 when no response was received.
type Error struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether repeating the call could succeed.
func (e *Error) Retryable() bool { return errors.Is(e.Err, ErrUnavailable) }

func statusError(op string, status int, body []byte) *Error {
	return &Error{Op: op, Status: status, Message: errorMessage(body), Err: classify(status)}
}

func classify(status int) error {
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return requests.ErrInvalidInput
	case status == http.StatusUnauthorized:
		return auth.ErrUnauthenticated
	case status == http.StatusForbidden:
		return auth.ErrForbidden
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusConflict:
		return requests.ErrConflict
	case status == http.StatusTooManyRequests, status >= 500:
		return ErrUnavailable
	}
	return ErrUnexpectedStatus
}

// errorMessage pulls {"message"} or {"error"} out of an error body, falling
// back to the trimmed text.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return msg
}

// missingAsConflict maps a 404 on a transition target to requests.ErrConflict.
func missingAsConflict(err error) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: request not found, it may have been already processed or deleted: %w", requests.ErrConflict, err)
	}
	return err
}
