// Package domain contains persistence models for plans, subscriptions
// and payments.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Plan is a catalog entry capping instance count and specifying the
// allowed feature set and target runtime version.
type Plan struct {
	ID              snowflake.ID                 `gorm:"primaryKey" json:"id"`
	Name            string                       `gorm:"uniqueIndex;not null" json:"name"`
	Price           float64                      `gorm:"not null;default:0" json:"price"`
	MaxUsers        int                          `gorm:"not null;default:1" json:"max_users"`
	StorageLimitGB  int                          `gorm:"not null;default:10" json:"storage_limit_gb"`
	MaxInstances    int                          `gorm:"not null;default:1" json:"max_instances"`
	AllowedFeatures datatypes.JSONSlice[string]  `gorm:"type:jsonb" json:"allowed_features"`
	RuntimeVersion  string                       `gorm:"type:text;not null;default:'18'" json:"runtime_version"`
	IsActive        bool                         `gorm:"not null;default:true" json:"is_active"`
	CreatedAt       time.Time                    `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "PENDING"
	SubscriptionStatusActive    SubscriptionStatus = "ACTIVE"
	SubscriptionStatusSuspended SubscriptionStatus = "SUSPENDED"
	SubscriptionStatusExpired   SubscriptionStatus = "EXPIRED"
)

type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "MONTHLY"
	BillingCycleYearly  BillingCycle = "YEARLY"
)

// Subscription binds a tenant to a plan for a period of time. At most
// one ACTIVE and one PENDING subscription exist per tenant.
type Subscription struct {
	ID            snowflake.ID       `gorm:"primaryKey" json:"id"`
	TenantID      snowflake.ID       `gorm:"not null;index" json:"tenant_id"`
	PlanID        snowflake.ID       `gorm:"not null;index" json:"plan_id"`
	Status        SubscriptionStatus `gorm:"type:text;not null;default:'PENDING'" json:"status"`
	StartAt       time.Time          `gorm:"not null" json:"start_at"`
	EndAt         *time.Time         `gorm:"" json:"end_at,omitempty"`
	AutoRenew     bool               `gorm:"not null;default:true" json:"auto_renew"`
	BillingCycle  BillingCycle       `gorm:"type:text;not null;default:'MONTHLY'" json:"billing_cycle"`
	NextBillingAt *time.Time         `gorm:"" json:"next_billing_at,omitempty"`
	CreatedAt     time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time          `gorm:"not null" json:"updated_at"`

	Plan *Plan `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

type PaymentMethod string

const (
	PaymentMethodManual       PaymentMethod = "MANUAL"
	PaymentMethodCreditCard   PaymentMethod = "CREDIT_CARD"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentMethodPaypal       PaymentMethod = "PAYPAL"
	PaymentMethodStripe       PaymentMethod = "STRIPE"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// Payment records money received against a subscription.
type Payment struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	SubscriptionID snowflake.ID  `gorm:"not null;index" json:"subscription_id"`
	Amount         float64       `gorm:"not null" json:"amount"`
	Method         PaymentMethod `gorm:"type:text;not null;default:'MANUAL'" json:"method"`
	Status         PaymentStatus `gorm:"type:text;not null;default:'PENDING'" json:"status"`
	TransactionID  *string       `gorm:"type:text" json:"transaction_id,omitempty"`
	PaidAt         *time.Time    `gorm:"" json:"paid_at,omitempty"`
	CreatedAt      time.Time     `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }
