package handler

import (
	"errors"
	"net/http"

	"paygate/internal/domain"

	"github.com/gin-gonic/gin"
)

// respondError renders err as {error, code}. Errors that are not AppErrors are
// reported as internal and attached to the context for the access log.
func respondError(c *gin.Context, err error) {
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPCode, gin.H{"error": appErr.Message, "code": appErr.Code})
		return
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "INTERNAL"})
}
