package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nimbushost/fleet/internal/actor"
	tenantdomain "github.com/nimbushost/fleet/internal/tenant/domain"
)

type signupRequest struct {
	CompanyName string `json:"company_name" binding:"required"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
}

// Signup creates the tenant profile for an authenticated user.
// Idempotent: a repeated signup returns the existing profile.
func (s *Server) Signup(c *gin.Context) {
	caller := actor.FromContext(c.Request.Context())
	if caller.UserID == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	tenant, err := s.tenantSvc.EnsureProfile(c.Request.Context(), tenantdomain.EnsureProfileRequest{
		UserID:      *caller.UserID,
		CompanyName: req.CompanyName,
		Phone:       req.Phone,
		Address:     req.Address,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": tenant})
}
