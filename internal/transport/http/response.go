package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"socializor-server-go/internal/platform/errors"
)

// APIResponse is the error envelope. Successful responses carry their
// resource directly.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
	Code    int         `json:"code"`
}

// RespondError aborts with an error body. Statuses outside 400..599 are
// reported as 500.
func RespondError(c *gin.Context, httpStatus int, message string, data interface{}) {
	if httpStatus < http.StatusBadRequest || httpStatus > 599 {
		httpStatus = http.StatusInternalServerError
	}
	if message == "" {
		message = http.StatusText(httpStatus)
	}

	c.AbortWithStatusJSON(httpStatus, APIResponse{
		Success: false,
		Message: message,
		Code:    httpStatus,
		Data:    data,
	})
}

// RespondErr derives status and message from err's kind. Internal faults
// never expose their message.
func RespondErr(c *gin.Context, err error) {
	status := errors.HTTPStatus(err)
	message := errors.PublicMessage(err)
	if status >= http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	_ = c.Error(err)
	RespondError(c, status, message, nil)
}
