package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	"github.com/nimbushost/fleet/internal/actor"
	billingdomain "github.com/nimbushost/fleet/internal/billing/domain"
)

func (s *Server) ListPlans(c *gin.Context) {
	plans, err := s.billingSvc.ListPlans(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": plans})
}

func (s *Server) ListSubscriptions(c *gin.Context) {
	caller := actor.FromContext(c.Request.Context())

	tenantID := caller.TenantID
	if caller.IsAdmin() {
		raw := strings.TrimSpace(c.Query("tenant_id"))
		parsed, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		tenantID = parsed
	}

	subscriptions, err := s.billingSvc.ListSubscriptions(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": subscriptions})
}

type subscribeRequest struct {
	PlanID       string `json:"plan_id" binding:"required"`
	BillingCycle string `json:"billing_cycle"`
}

func (s *Server) Subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	planID, err := snowflake.ParseString(strings.TrimSpace(req.PlanID))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	caller := actor.FromContext(c.Request.Context())
	if caller.Role != actor.RoleTenant {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	subscription, err := s.billingSvc.Subscribe(c.Request.Context(), billingdomain.SubscribeRequest{
		TenantID:     caller.TenantID,
		PlanID:       planID,
		BillingCycle: billingdomain.BillingCycle(strings.ToUpper(strings.TrimSpace(req.BillingCycle))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": subscription})
}

type recordPaymentRequest struct {
	SubscriptionID string  `json:"subscription_id" binding:"required"`
	Amount         float64 `json:"amount" binding:"required"`
	Method         string  `json:"method"`
	TransactionID  *string `json:"transaction_id"`
}

func (s *Server) RecordPayment(c *gin.Context) {
	var req recordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	subscriptionID, err := snowflake.ParseString(strings.TrimSpace(req.SubscriptionID))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	// Tenants may only pay against their own subscription.
	caller := actor.FromContext(c.Request.Context())
	if !caller.IsAdmin() {
		subscription, err := s.billingSvc.SubscriptionWithPlan(c.Request.Context(), subscriptionID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if !caller.CanAccessTenant(subscription.TenantID) {
			AbortWithError(c, billingdomain.ErrSubscriptionNotFound)
			return
		}
	}

	payment, err := s.billingSvc.RecordPayment(c.Request.Context(), billingdomain.RecordPaymentRequest{
		SubscriptionID: subscriptionID,
		Amount:         req.Amount,
		Method:         billingdomain.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.Method))),
		TransactionID:  req.TransactionID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": payment})
}
