package auth

import (
	"fmt"
	"time"

	platformerrors "socializor-server-go/internal/platform/errors"
)

// DefaultRefreshHorizon is the lead time before expiry at which a credential
// becomes eligible for a conditional refresh.
const DefaultRefreshHorizon = 24 * time.Hour

// Credential is a signed bearer value and the instant it stops being valid.
// The zero value is not a valid credential; use NewCredential.
type Credential struct {
	value          string
	expirationTime int64
}

// NewCredential validates and builds a Credential. expirationTime is in
// milliseconds since the Unix epoch.
func NewCredential(value string, expirationTime int64) (Credential, error) {
	if value == "" {
		return Credential{}, platformerrors.Wrap(platformerrors.KindValidation, "credential.new",
			"token must not be empty", ErrInvalidCredential)
	}
	if expirationTime < 0 {
		return Credential{}, platformerrors.Wrap(platformerrors.KindValidation, "credential.new",
			fmt.Sprintf("expiration %d must not be negative", expirationTime), ErrInvalidCredential)
	}
	return Credential{value: value, expirationTime: expirationTime}, nil
}

// Value returns the opaque signed token.
func (c Credential) Value() string { return c.value }

// ExpirationTime returns the expiry in milliseconds since the Unix epoch.
func (c Credential) ExpirationTime() int64 { return c.expirationTime }

// Expiry returns the expiry as a time.Time.
func (c Credential) Expiry() time.Time { return time.UnixMilli(c.expirationTime) }

// IsZero reports whether c was never constructed.
func (c Credential) IsZero() bool { return c.value == "" }

// WillExpire reports whether the credential is expired at now+within.
// A negative within is treated as zero.
func (c Credential) WillExpire(now time.Time, within time.Duration) bool {
	if within < 0 {
		within = 0
	}
	return c.expirationTime <= now.Add(within).UnixMilli()
}

// HasExpired is WillExpire with no lead time.
func (c Credential) HasExpired(now time.Time) bool {
	return c.WillExpire(now, 0)
}

// Remaining returns how long the credential stays valid after now, never negative.
func (c Credential) Remaining(now time.Time) time.Duration {
	d := time.Duration(c.expirationTime-now.UnixMilli()) * time.Millisecond
	if d < 0 {
		return 0
	}
	return d
}

func (c Credential) String() string {
	return fmt.Sprintf("Credential{expires: %s}", c.Expiry().UTC().Format(time.RFC3339))
}

// TokenResponse is the wire form returned by the token endpoints.
type TokenResponse struct {
	Token      string `json:"token"`
	Expiration int64  `json:"expiration"`
}

// Response converts c to its wire form.
func (c Credential) Response() TokenResponse {
	return TokenResponse{Token: c.value, Expiration: c.expirationTime}
}

// Credential validates a wire response.
func (r TokenResponse) Credential() (Credential, error) {
	return NewCredential(r.Token, r.Expiration)
}
