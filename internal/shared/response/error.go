package response

import (
	"github.com/gin-gonic/gin"

	hferrors "github.com/kohakuhub/server/internal/shared/errors"
)

// ErrorBody is the HF-compatible error response body.
type ErrorBody struct {
	Error string `json:"error"`
}

// Error writes an HF-compatible error response. The HF error code and message
// travel in the X-Error-Code / X-Error-Message headers; the body carries
// {"error": msg}.
func Error(c *gin.Context, err error) {
	appErr := hferrors.AsAppError(err)
	c.Header("X-Error-Code", string(appErr.Code))
	c.Header("X-Error-Message", appErr.Message)
	c.AbortWithStatusJSON(appErr.StatusCode, ErrorBody{Error: appErr.Message})
}

// OK writes a 200 JSON response.
func OK(c *gin.Context, body any) {
	c.JSON(200, body)
}
