package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	billingdomain "github.com/nimbushost/fleet/internal/billing/domain"
	instancedomain "github.com/nimbushost/fleet/internal/instance/domain"
	tenantdomain "github.com/nimbushost/fleet/internal/tenant/domain"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid_request")
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
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, instancedomain.ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}

	// Entitlement denials are client errors: the request was understood
	// but the tenant's plan does not allow it.
	case errors.Is(err, billingdomain.ErrNoActiveSubscription),
		errors.Is(err, billingdomain.ErrInstanceLimitReached):
		return http.StatusBadRequest, errorPayload{
			Type:    "entitlement_denied",
			Message: err.Error(),
		}

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, instancedomain.ErrInvalidRequest),
		errors.Is(err, billingdomain.ErrInvalidRequest),
		errors.Is(err, tenantdomain.ErrInvalidRequest):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_request",
			Message: "invalid request",
		}

	case errors.Is(err, instancedomain.ErrBusy),
		errors.Is(err, instancedomain.ErrInvalidTransition),
		errors.Is(err, instancedomain.ErrAllocationConflict),
		errors.Is(err, billingdomain.ErrSubscriptionExists):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}

	case errors.Is(err, instancedomain.ErrNotFound),
		errors.Is(err, billingdomain.ErrPlanNotFound),
		errors.Is(err, billingdomain.ErrSubscriptionNotFound),
		errors.Is(err, tenantdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}

	case errors.Is(err, instancedomain.ErrCommandFailed):
		return http.StatusBadGateway, errorPayload{
			Type:    "command_failed",
			Message: err.Error(),
		}

	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}
