package auth

import "errors"

var (
	// ErrInvalidToken indicates the credential could not be decoded or verified.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrTokenExpired indicates the credential decoded fine but is past its exp.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrUnauthenticated is returned when an operation needs a principal and none is present.
	ErrUnauthenticated = errors.New("auth: authentication required")
	// ErrForbidden is returned when the principal lacks the role or ownership required.
	ErrForbidden = errors.New("auth: insufficient rights")
)
