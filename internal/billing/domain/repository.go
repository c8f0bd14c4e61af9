package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertSubscription(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindSubscriptionByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindActiveByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, at time.Time) (*Subscription, error)
	FindByTenantAndStatus(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, status SubscriptionStatus) (*Subscription, error)
	ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status SubscriptionStatus) error
	SuspendOtherActive(ctx context.Context, db *gorm.DB, tenantID, keepID snowflake.ID) error
	ExpireOverdue(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)

	FindPlanByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	ListPlans(ctx context.Context, db *gorm.DB) ([]Plan, error)

	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	SumPaid(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (float64, error)
}
