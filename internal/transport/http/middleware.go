package httptransport

import (
	"errors"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	"socializor-server-go/internal/domain/auth"
)

// ContextKeyUserID is the gin key holding the verified subject.
const ContextKeyUserID = "user_id"

var jsonContentType = regexp.MustCompile(`^application/([-A-Za-z0-9!#$&^_]+\+)?json(;.+)?$`)

// IsJSONContentType accepts application/json and application/*+json, with
// optional parameters.
func IsJSONContentType(contentType string) bool {
	return jsonContentType.MatchString(contentType)
}

// ContentTypeGate rejects request bodies that are not JSON with 415.
func ContentTypeGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			if !IsJSONContentType(c.GetHeader("Content-Type")) {
				RespondError(c, http.StatusUnsupportedMediaType, "Content-Type must be application/json", nil)
				return
			}
		}
		c.Next()
	}
}

// Verifier checks a bearer token and returns its subject.
type Verifier interface {
	Verify(token string) (string, error)
}

type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// AuthGate requires a valid bearer credential. A missing header is reported
// as such; every other failure is reported as an invalid token and its cause
// is only logged.
func AuthGate(verifier Verifier, logger Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ParseBearer(c.GetHeader("Authorization"))
		if errors.Is(err, auth.ErrNoHeader) {
			c.Header("WWW-Authenticate", "Bearer")
			RespondError(c, http.StatusUnauthorized, auth.ErrNoHeader.Error(), nil)
			return
		}

		var subject string
		if err == nil {
			subject, err = verifier.Verify(token)
		}
		if err != nil {
			if logger != nil {
				logger.Warn("%s %s rejected: %v", c.Request.Method, c.Request.URL.Path, auth.Cause(err))
			}
			c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
			RespondError(c, http.StatusUnauthorized, auth.MessageInvalidToken, nil)
			return
		}

		c.Set(ContextKeyUserID, subject)
		c.Request = c.Request.WithContext(auth.WithSubject(c.Request.Context(), subject))
		c.Next()
	}
}

// SubjectOf returns the subject bound by AuthGate.
func SubjectOf(c *gin.Context) (string, bool) {
	subject := c.GetString(ContextKeyUserID)
	return subject, subject != ""
}
