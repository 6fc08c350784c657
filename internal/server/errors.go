package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	cameradomain "github.com/sentravision/sentra-cloud/internal/camera/domain"
	edgedomain "github.com/sentravision/sentra-cloud/internal/edge/domain"
	eventdomain "github.com/sentravision/sentra-cloud/internal/event/domain"
	licensedomain "github.com/sentravision/sentra-cloud/internal/license/domain"
	orgdomain "github.com/sentravision/sentra-cloud/internal/organization/domain"
	"github.com/sentravision/sentra-cloud/internal/signature"
	"gorm.io/gorm"
)

// authError is a protocol-level rejection carrying the machine-readable
// reason the edge agent switches on.
type authError struct {
	reason  string
	message string
}

func (e *authError) Error() string { return e.reason }

func errAuth(reason, message string) error {
	return &authError{reason: reason, message: message}
}

var (
	ErrUnprocessable = errors.New("unprocessable")
	ErrInternal      = errors.New("internal_error")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, payload)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, gin.H) {
	var aErr *authError
	if errors.As(err, &aErr) {
		return http.StatusUnauthorized, gin.H{
			"ok":      false,
			"message": aErr.message,
			"reason":  aErr.reason,
		}
	}

	switch {
	case errors.Is(err, signature.ErrTimestampInvalid):
		return http.StatusUnauthorized, gin.H{
			"ok":      false,
			"message": "Request timestamp is too old or too far in the future",
			"reason":  "timestamp_invalid",
		}
	case errors.Is(err, signature.ErrSignatureInvalid):
		return http.StatusUnauthorized, gin.H{
			"ok":      false,
			"message": "Invalid signature",
			"reason":  "invalid_signature",
		}
	case errors.Is(err, edgedomain.ErrNonceReused):
		return http.StatusUnauthorized, gin.H{
			"ok":      false,
			"message": "Request nonce already used",
			"reason":  "nonce_reused",
		}
	case errors.Is(err, edgedomain.ErrAlreadyRegistered):
		return http.StatusUnauthorized, gin.H{
			"ok":      false,
			"message": "HMAC required - already registered",
			"reason":  "hmac_required",
		}
	case errors.Is(err, eventdomain.ErrModuleDisabled):
		return http.StatusForbidden, gin.H{
			"ok":      false,
			"message": "Module not enabled",
			"error":   "module_disabled",
		}
	case errors.Is(err, licensedomain.ErrInactive):
		return http.StatusForbidden, gin.H{
			"valid":   false,
			"reason":  "inactive",
			"message": "License is not active",
		}
	case errors.Is(err, licensedomain.ErrExpired):
		return http.StatusForbidden, gin.H{
			"valid":   false,
			"reason":  "expired",
			"message": "License has expired beyond the grace period",
		}
	case errors.Is(err, licensedomain.ErrOrgMismatch):
		return http.StatusForbidden, gin.H{
			"valid":   false,
			"reason":  "organization_mismatch",
			"message": "License belongs to another organization",
		}
	case errors.Is(err, licensedomain.ErrNotFound):
		return http.StatusNotFound, gin.H{
			"valid":   false,
			"reason":  "not_found",
			"message": "License key not found",
		}
	case errors.Is(err, edgedomain.ErrNotFound):
		return http.StatusNotFound, gin.H{
			"ok":      false,
			"message": "Edge node not found",
			"error":   "edge_not_found",
		}
	case errors.Is(err, cameradomain.ErrNotFound):
		return http.StatusNotFound, gin.H{
			"ok":      false,
			"message": "Camera not found",
			"error":   "camera_not_found",
		}
	case errors.Is(err, orgdomain.ErrNotFound):
		return http.StatusNotFound, gin.H{
			"ok":      false,
			"message": "Organization not found",
			"error":   "organization_not_found",
		}
	case errors.Is(err, eventdomain.ErrBatchEmpty),
		errors.Is(err, eventdomain.ErrBatchTooLarge),
		errors.Is(err, ErrUnprocessable):
		return http.StatusUnprocessableEntity, gin.H{
			"ok":      false,
			"message": "Validation failed",
			"error":   err.Error(),
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, gin.H{
			"ok":      false,
			"message": "Not found",
			"error":   "not_found",
		}
	default:
		return http.StatusInternalServerError, gin.H{
			"ok":      false,
			"message": "Internal server error",
			"error":   "internal_error",
		}
	}
}
