package user

import (
	"errors"

	"socializor-server-go/internal/domain/auth"
)

// ErrNoCredential is returned when the owning session no longer holds a
// credential.
var ErrNoCredential = errors.New("session holds no credential")

// CredentialSource is the only thing an authenticated identity knows about
// the session that owns it.
type CredentialSource interface {
	CurrentCredential() (auth.Credential, bool)
}

// ClientUser is the identity a session is authenticated as.
type ClientUser struct {
	Profile
	source CredentialSource
}

func NewClientUser(profile Profile, source CredentialSource) *ClientUser {
	return &ClientUser{Profile: profile, source: source}
}

// Credential returns the credential requests on behalf of this user should carry.
func (u *ClientUser) Credential() (auth.Credential, error) {
	if u.source == nil {
		return auth.Credential{}, ErrNoCredential
	}
	cred, ok := u.source.CurrentCredential()
	if !ok {
		return auth.Credential{}, ErrNoCredential
	}
	return cred, nil
}

// AuthorizationHeader renders the bearer header for the current credential.
func (u *ClientUser) AuthorizationHeader() (string, error) {
	cred, err := u.Credential()
	if err != nil {
		return "", err
	}
	return auth.BearerHeader(cred.Value()), nil
}
