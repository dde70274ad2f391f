package session

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyLoggedIn = errors.New("client is already logged in")
	ErrNoToken         = errors.New("no token is stored, login required")
	ErrTokenExpired    = errors.New("token has expired, login required")
	ErrClosed          = errors.New("session client is closed")
)

// AlreadyLoggedInError names the identity a rejected login would have replaced.
type AlreadyLoggedInError struct {
	Subject string
}

func (e *AlreadyLoggedInError) Error() string {
	return fmt.Sprintf("client is already logged in as user with ID %s", e.Subject)
}

func (e *AlreadyLoggedInError) Unwrap() error {
	return ErrAlreadyLoggedIn
}
