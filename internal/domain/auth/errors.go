package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	platformerrors "socializor-server-go/internal/platform/errors"
)

var (
	// ErrNoHeader is reported when a request carries no Authorization header.
	ErrNoHeader = errors.New("no header exists")

	ErrTokenMalformed        = errors.New("token is malformed")
	ErrTokenInvalidSignature = errors.New("token signature is invalid")
	ErrTokenAlgorithm        = errors.New("token algorithm is not accepted")
	ErrTokenIssuer           = errors.New("token issuer is not accepted")
	ErrTokenExpired          = errors.New("token has expired")
	ErrTokenTooOld           = errors.New("token exceeds the maximum age")
	ErrTokenNotYetValid      = errors.New("token is not valid yet")
	ErrTokenNoSubject        = errors.New("token has no subject")

	ErrInvalidCredential = errors.New("invalid credential")
	ErrNoSigningKey      = errors.New("signing key is not available")
)

// MessageInvalidToken is the only verification detail a remote caller sees.
const MessageInvalidToken = "invalid token"

// authFailure wraps cause as an authentication error. Callers get
// MessageInvalidToken; the cause stays available for logs.
func authFailure(op string, cause error) error {
	return &platformerrors.Error{
		Kind:    platformerrors.KindAuthentication,
		Op:      op,
		Message: MessageInvalidToken,
		Cause:   cause,
	}
}

// IsAuthFailure reports whether err is an authentication failure.
func IsAuthFailure(err error) bool {
	return platformerrors.IsKind(err, platformerrors.KindAuthentication)
}

// mapJWTError translates jwt library errors into the package sentinels.
func mapJWTError(err error, token *jwt.Token) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed), errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		if token != nil && token.Method != nil && token.Method.Alg() != SigningAlgorithm {
			return fmt.Errorf("%w: %w", ErrTokenAlgorithm, err)
		}
		return fmt.Errorf("%w: %w", ErrTokenInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: %w", ErrTokenIssuer, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return fmt.Errorf("%w: %w", ErrTokenNotYetValid, err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %w", ErrTokenInvalidSignature, err)
	default:
		return fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	}
}
