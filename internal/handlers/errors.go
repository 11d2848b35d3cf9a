package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zentrochat/zentro/internal/auth"
	"github.com/zentrochat/zentro/pkg/apperr"
	"github.com/zentrochat/zentro/pkg/i18n"
)

// tr translates msg into the language the client asked for.
func tr(c *gin.Context, msg string) string {
	return i18n.Translate(i18n.Negotiate(c.GetHeader("Accept-Language")), msg)
}

func currentUser(c *gin.Context) string {
	return c.GetString("user_id")
}

func abortWithError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": tr(c, msg)})
}

func statusFor(err error) int {
	if errors.Is(err, auth.ErrInvalidCredentials) {
		return http.StatusUnauthorized
	}
	switch apperr.Kind(err) {
	case apperr.ErrNotFound:
		return http.StatusNotFound
	case apperr.ErrForbidden:
		return http.StatusForbidden
	case apperr.ErrConflict:
		return http.StatusConflict
	case apperr.ErrValidation:
		return http.StatusBadRequest
	case apperr.ErrUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes err with the status of its kind. Unclassified errors
// are hidden from the client and recorded on the context for the server
// error logger.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := apperr.Message(err)
	switch status {
	case http.StatusInternalServerError:
		c.Error(err)
		msg = "internal server error"
	case http.StatusServiceUnavailable:
		c.Error(err)
		msg = "service temporarily unavailable"
	}
	abortWithError(c, status, msg)
}

// bindJSON decodes the request body into v, answering 400 on failure.
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid request")
		return false
	}
	return true
}
