package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"socializor-server-go/internal/domain/auth"
	"socializor-server-go/internal/domain/user"
	platformerrors "socializor-server-go/internal/platform/errors"
)

// MessageIncorrectCredentials is returned for a wrong password.
const MessageIncorrectCredentials = "Incorrect credentials"

// CredentialIssuer signs credentials for a subject.
type CredentialIssuer interface {
	Issue(subject string) (auth.Credential, error)
}

// TokenHandler serves credential issuance and the caller's own profile.
type TokenHandler struct {
	issuer CredentialIssuer
	users  user.Repository
	logger Logger
}

func NewTokenHandler(issuer CredentialIssuer, users user.Repository, logger Logger) *TokenHandler {
	return &TokenHandler{issuer: issuer, users: users, logger: logger}
}

// RegisterRoutes mounts the public and the gated endpoints. Secured must be set.
func (h *TokenHandler) RegisterRoutes(router *Router) {
	router.API.POST("/token/new", h.NewToken)
	router.Secured.GET("/token/refresh", h.RefreshToken)
	router.Secured.GET("/users/self", h.Self)
}

// NewTokenRequest uses pointers so a missing field can be told apart from an
// empty one.
type NewTokenRequest struct {
	Email    *string `json:"email"`
	Password *string `json:"password"`
}

// NewToken exchanges e-mail and password for a credential.
func (h *TokenHandler) NewToken(c *gin.Context) {
	var req NewTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == nil || req.Password == nil {
		RespondError(c, http.StatusBadRequest, "email and password must be strings", nil)
		return
	}

	account, err := h.users.FindByEmail(c.Request.Context(), *req.Email)
	if err != nil {
		RespondErr(c, err)
		return
	}
	if !account.Verified() {
		h.logger.Debug("login attempt for unverified user %s", account.ID)
		RespondError(c, http.StatusNotFound, "user not found", nil)
		return
	}

	if err := auth.VerifyPassword(*req.Password, account.PasswordHash); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			RespondError(c, http.StatusForbidden, MessageIncorrectCredentials, nil)
			return
		}
		RespondErr(c, platformerrors.Wrap(platformerrors.KindPlatform, "token.new", "verify password", err))
		return
	}

	h.issue(c, account.ID)
}

// RefreshToken issues a new credential for the subject AuthGate verified.
func (h *TokenHandler) RefreshToken(c *gin.Context) {
	subject, ok := SubjectOf(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, auth.MessageInvalidToken, nil)
		return
	}
	h.issue(c, subject)
}

// Self returns the verified subject's profile. A subject that no longer
// exists is an internal fault.
func (h *TokenHandler) Self(c *gin.Context) {
	subject, ok := SubjectOf(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, auth.MessageInvalidToken, nil)
		return
	}

	account, err := h.users.FindByID(c.Request.Context(), subject)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			h.logger.Warn("verified subject %s has no user record", subject)
			RespondError(c, http.StatusInternalServerError, "", nil)
			return
		}
		RespondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, account.Profile)
}

func (h *TokenHandler) issue(c *gin.Context, subject string) {
	cred, err := h.issuer.Issue(subject)
	if err != nil {
		h.logger.Error("issue credential for %s: %v", subject, err)
		RespondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, cred.Response())
}
