package auth

import (
	"context"
	"strings"
)

type subjectKey struct{}

// WithSubject returns a copy of ctx carrying the verified subject.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFromContext returns the subject bound by the auth gate.
func SubjectFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(subjectKey{}).(string)
	return subject, ok && subject != ""
}

// ParseBearer extracts the token from an "Authorization: Bearer <token>"
// header value. The scheme is matched case-insensitively.
func ParseBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrNoHeader
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrTokenMalformed
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrTokenMalformed
	}
	return token, nil
}

// BearerHeader formats token for the Authorization header.
func BearerHeader(token string) string {
	return "Bearer " + token
}
