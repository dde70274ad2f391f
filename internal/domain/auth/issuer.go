package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"socializor-server-go/internal/platform/clock"
	platformerrors "socializor-server-go/internal/platform/errors"
)

const (
	// SigningAlgorithm is the only accepted JWS algorithm.
	SigningAlgorithm = "RS256"
	// DefaultIssuer is the iss claim of every credential.
	DefaultIssuer = "Socializor"
	// DefaultMaxAge bounds the lifetime of a credential.
	DefaultMaxAge = 5 * 24 * time.Hour
)

// IssuerOptions configures an Issuer. Zero fields take the defaults.
type IssuerOptions struct {
	Issuer string
	MaxAge time.Duration
	Clock  clock.Clock
}

// Issuer mints and verifies RS256 credentials bound to a subject. It holds
// no state besides its key source.
type Issuer struct {
	keys   KeySource
	issuer string
	maxAge time.Duration
	clock  clock.Clock
	parser *jwt.Parser
}

// NewIssuer validates the options and builds an Issuer.
func NewIssuer(keys KeySource, opts IssuerOptions) (*Issuer, error) {
	if keys == nil {
		return nil, platformerrors.New(platformerrors.KindConfig, "issuer.new", "key source is required")
	}
	if opts.Issuer == "" {
		opts.Issuer = DefaultIssuer
	}
	if opts.MaxAge == 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.MaxAge < 0 {
		return nil, platformerrors.New(platformerrors.KindConfig, "issuer.new", "max age must be positive")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}

	return &Issuer{
		keys:   keys,
		issuer: opts.Issuer,
		maxAge: opts.MaxAge,
		clock:  opts.Clock,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{SigningAlgorithm}),
			jwt.WithIssuer(opts.Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithTimeFunc(opts.Clock.Now),
		),
	}, nil
}

// MaxAge returns the configured credential lifetime.
func (i *Issuer) MaxAge() time.Duration { return i.maxAge }

// Issue signs a credential for subject. The expiration reported back is the
// exp claim that was signed, converted to milliseconds.
func (i *Issuer) Issue(subject string) (Credential, error) {
	if subject == "" {
		return Credential{}, platformerrors.Wrap(platformerrors.KindValidation, "issuer.issue",
			"subject is required", ErrTokenNoSubject)
	}
	key, err := i.keys.SigningKey()
	if err != nil {
		return Credential{}, platformerrors.Wrap(platformerrors.KindPlatform, "issuer.issue", "load signing key", err)
	}

	now := i.clock.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    i.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.maxAge)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return Credential{}, platformerrors.Wrap(platformerrors.KindPlatform, "issuer.issue", "sign token", err)
	}

	return NewCredential(signed, claims.ExpiresAt.Unix()*1000)
}

// Verify checks signature, algorithm, issuer, expiry and maximum age and
// returns the subject. Every failure is an authentication failure whose
// cause names the specific reason.
func (i *Issuer) Verify(token string) (string, error) {
	const op = "issuer.verify"

	key, err := i.keys.VerificationKey()
	if err != nil {
		return "", platformerrors.Wrap(platformerrors.KindPlatform, op, "load verification key", err)
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := i.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil {
		return "", authFailure(op, mapJWTError(err, parsed))
	}
	if !parsed.Valid {
		return "", authFailure(op, ErrTokenMalformed)
	}
	if claims.IssuedAt == nil {
		return "", authFailure(op, fmt.Errorf("%w: iat claim is required", ErrTokenMalformed))
	}
	if age := i.clock.Now().Sub(claims.IssuedAt.Time); age > i.maxAge {
		return "", authFailure(op, fmt.Errorf("%w: issued %s ago", ErrTokenTooOld, age.Truncate(time.Second)))
	}
	if claims.Subject == "" {
		return "", authFailure(op, ErrTokenNoSubject)
	}
	return claims.Subject, nil
}

// Cause returns the specific verification failure behind err, or err itself.
func Cause(err error) error {
	var typed *platformerrors.Error
	if errors.As(err, &typed) && typed.Cause != nil {
		return typed.Cause
	}
	return err
}
