// Package user holds the caller identity carried after authentication and
// the lookup contract the token endpoints consume.
package user

import (
	"context"
	"errors"
	"strings"
)

type Gender int

const (
	GenderOther Gender = iota
	GenderMale
	GenderFemale
)

func (g Gender) Valid() bool {
	return g >= GenderOther && g <= GenderFemale
}

func (g Gender) String() string {
	switch g {
	case GenderMale:
		return "male"
	case GenderFemale:
		return "female"
	case GenderOther:
		return "other"
	default:
		return "unknown"
	}
}

// Profile is the public view of a user, as served by users/self.
type Profile struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	DisplayName *string `json:"displayName"`
	Gender      Gender  `json:"gender"`
	Department  string  `json:"department"`
	Email       string  `json:"email,omitempty"`
}

// Username prefers the display name.
func (p Profile) Username() string {
	if p.DisplayName != nil && *p.DisplayName != "" {
		return *p.DisplayName
	}
	return p.Name
}

// Account is a stored user with its login secrets.
type Account struct {
	Profile
	PasswordHash string
	// VerificationCode is set until the e-mail address is confirmed.
	VerificationCode *string
}

// Verified reports whether the account may log in.
func (a *Account) Verified() bool {
	return a.VerificationCode == nil
}

var ErrNotFound = errors.New("user not found")

// Repository looks accounts up for authentication. Missing accounts are
// reported with ErrNotFound.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id string) (*Account, error)
	Create(ctx context.Context, account *Account) error
}

// NormalizeEmail trims surrounding whitespace. Addresses are matched exactly otherwise.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(email)
}
