package server

import (
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	"github.com/nimbushost/fleet/internal/actor"
	tenantdomain "github.com/nimbushost/fleet/internal/tenant/domain"
)

// Identity headers set by the fronting gateway after it has verified
// the caller's session.
const (
	HeaderUserID = "X-User-ID"
	HeaderAdmin  = "X-Admin"
)

// ActorContext resolves the caller's identity headers into an actor
// exactly once per request. A user without a tenant profile stays
// anonymous until signup.
func (s *Server) ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if raw == "" {
			c.Request = c.Request.WithContext(actor.WithActor(c.Request.Context(), actor.Anonymous()))
			c.Next()
			return
		}

		userID, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		if c.GetHeader(HeaderAdmin) == "true" {
			c.Request = c.Request.WithContext(actor.WithActor(c.Request.Context(), actor.Admin(userID)))
			c.Next()
			return
		}

		caller := actor.Anonymous()
		tenant, err := s.tenantSvc.GetByUser(c.Request.Context(), userID)
		switch {
		case err == nil:
			caller = actor.Tenant(userID, tenant.ID)
		case errors.Is(err, tenantdomain.ErrNotFound):
			// Signed in but not yet signed up.
			caller = actor.Actor{Role: actor.RoleAnonymous, UserID: &userID}
		default:
			AbortWithError(c, err)
			return
		}

		c.Request = c.Request.WithContext(actor.WithActor(c.Request.Context(), caller))
		c.Next()
	}
}

// AuthRequired rejects requests whose actor never resolved past
// anonymous.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := actor.FromContext(c.Request.Context())
		if caller.Role == actor.RoleAnonymous {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}
