package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for newly hashed passwords.
const (
	DefaultArgonTime    = 3
	DefaultArgonMemory  = 64 * 1024
	DefaultArgonThreads = 4
	DefaultArgonSaltLen = 16
	DefaultArgonKeyLen  = 32
)

var (
	ErrEmptyPassword      = errors.New("password must not be empty")
	ErrPasswordMismatch   = errors.New("incorrect credentials")
	ErrPasswordHashFormat = errors.New("password hash has an unsupported format")
)

type argonParams struct {
	time    uint32
	memory  uint32
	threads uint8
}

// PasswordOption tunes the Argon2id cost. Tests use it to keep hashing cheap.
type PasswordOption func(*argonParams)

func WithArgonTime(t uint32) PasswordOption {
	return func(p *argonParams) {
		if t > 0 {
			p.time = t
		}
	}
}

func WithArgonMemory(m uint32) PasswordOption {
	return func(p *argonParams) {
		if m > 0 {
			p.memory = m
		}
	}
}

// HashPassword returns an Argon2id hash in PHC string format.
func HashPassword(password string, opts ...PasswordOption) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	params := &argonParams{time: DefaultArgonTime, memory: DefaultArgonMemory, threads: DefaultArgonThreads}
	for _, opt := range opts {
		opt(params)
	}

	salt := make([]byte, DefaultArgonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, params.time, params.memory, params.threads, DefaultArgonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, params.memory, params.time, params.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

// VerifyPassword compares password against a PHC hash in constant time.
func VerifyPassword(password, phcHash string) error {
	parts := strings.Split(phcHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return ErrPasswordHashFormat
	}

	var params argonParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.time, &params.threads); err != nil {
		return fmt.Errorf("%w: %v", ErrPasswordHashFormat, err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("%w: salt: %v", ErrPasswordHashFormat, err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) == 0 {
		return fmt.Errorf("%w: hash", ErrPasswordHashFormat)
	}

	computed := argon2.IDKey([]byte(password), salt, params.time, params.memory, params.threads, uint32(len(expected)))
	if subtle.ConstantTimeCompare(computed, expected) != 1 {
		return ErrPasswordMismatch
	}
	return nil
}
