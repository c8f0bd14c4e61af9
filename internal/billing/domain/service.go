package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrInstanceLimitReached = errors.New("limit reached")
	ErrPlanNotFound         = errors.New("plan not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionExists   = errors.New("subscription already exists")
	ErrInvalidRequest       = errors.New("invalid billing request")
)

// DeployParams are the plan-derived parameters stamped onto a new
// instance.
type DeployParams struct {
	AllowedFeatures []string
	RuntimeVersion  string
}

// Entitlement is the result of a successful authorization.
type Entitlement struct {
	Subscription *Subscription
	Params       DeployParams
}

type SubscribeRequest struct {
	TenantID     snowflake.ID
	PlanID       snowflake.ID
	BillingCycle BillingCycle
}

type RecordPaymentRequest struct {
	SubscriptionID snowflake.ID
	Amount         float64
	Method         PaymentMethod
	TransactionID  *string
}

// Service is the entitlement guard plus the minimal billing flows the
// orchestrator depends on.
//
// Authorize takes the caller's transaction handle: the instance count
// check and the subsequent instance insert must share one transaction
// so two concurrent requests cannot both consume the last plan slot.
type Service interface {
	Authorize(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, currentInstances int64) (*Entitlement, error)
	ActiveSubscription(ctx context.Context, tenantID snowflake.ID) (*Subscription, error)
	SubscriptionWithPlan(ctx context.Context, id snowflake.ID) (*Subscription, error)
	Subscribe(ctx context.Context, req SubscribeRequest) (*Subscription, error)
	RecordPayment(ctx context.Context, req RecordPaymentRequest) (*Payment, error)
	ExpireOverdue(ctx context.Context) (int64, error)
	ListPlans(ctx context.Context) ([]Plan, error)
	ListSubscriptions(ctx context.Context, tenantID snowflake.ID) ([]Subscription, error)
}
