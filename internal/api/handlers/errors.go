package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"imjang/api/internal/api/middleware"
	"imjang/api/internal/services"
	"imjang/api/internal/utils"
)

// statusFor maps a service error to its HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the error envelope for err. Internal errors are reported with
// fallback instead of the underlying message.
func respondError(c *gin.Context, err error, fallback string) {
	_ = c.Error(err)
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = fallback
	}
	c.JSON(status, gin.H{"error": msg})
}

// respondBindError reports a request body or query that failed binding.
func respondBindError(c *gin.Context, err error) {
	_ = c.Error(err)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field()+" failed '"+fe.Tag()+"'")
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + strings.Join(fields, ", ")})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
}

// callerID reads the authenticated user id set by AuthMiddleware.
func callerID(c *gin.Context) (utils.SixID, bool) {
	id, err := utils.ParseSixID(c.GetString(middleware.ContextKeyUserID))
	if err != nil || id.IsZero() {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return utils.SixID{}, false
	}
	return id, true
}

// pathID parses the :id route parameter.
func pathID(c *gin.Context) (utils.SixID, bool) {
	id, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID format"})
		return utils.SixID{}, false
	}
	return id, true
}
