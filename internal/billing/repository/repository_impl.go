package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nimbushost/fleet/internal/billing/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertSubscription(ctx context.Context, db *gorm.DB, subscription *domain.Subscription) error {
	return db.WithContext(ctx).Create(subscription).Error
}

func (r *repo) FindSubscriptionByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Subscription, error) {
	var subscription domain.Subscription
	err := db.WithContext(ctx).
		Preload("Plan").
		First(&subscription, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &subscription, nil
}

func (r *repo) FindActiveByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, at time.Time) (*domain.Subscription, error) {
	var subscription domain.Subscription
	err := db.WithContext(ctx).
		Preload("Plan").
		Where("tenant_id = ? AND status = ?", tenantID, domain.SubscriptionStatusActive).
		Where("end_at IS NULL OR end_at > ?", at).
		First(&subscription).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &subscription, nil
}

func (r *repo) FindByTenantAndStatus(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, status domain.SubscriptionStatus) (*domain.Subscription, error) {
	var subscription domain.Subscription
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, status).
		First(&subscription).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &subscription, nil
}

func (r *repo) ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]domain.Subscription, error) {
	var subscriptions []domain.Subscription
	err := db.WithContext(ctx).
		Preload("Plan").
		Where("tenant_id = ?", tenantID).
		Order("created_at desc, id desc").
		Find(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repo) UpdateSubscriptionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.SubscriptionStatus) error {
	return db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()}).Error
}

func (r *repo) SuspendOtherActive(ctx context.Context, db *gorm.DB, tenantID, keepID snowflake.ID) error {
	return db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("tenant_id = ? AND status = ? AND id <> ?", tenantID, domain.SubscriptionStatusActive, keepID).
		Updates(map[string]any{"status": domain.SubscriptionStatusSuspended, "updated_at": time.Now().UTC()}).Error
}

func (r *repo) ExpireOverdue(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("status = ? AND end_at IS NOT NULL AND end_at < ?", domain.SubscriptionStatusActive, now).
		Updates(map[string]any{"status": domain.SubscriptionStatusExpired, "updated_at": now})
	return res.RowsAffected, res.Error
}

func (r *repo) FindPlanByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Plan, error) {
	var plan domain.Plan
	err := db.WithContext(ctx).First(&plan, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *repo) ListPlans(ctx context.Context, db *gorm.DB) ([]domain.Plan, error) {
	var plans []domain.Plan
	err := db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("price asc, id asc").
		Find(&plans).Error
	if err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Create(payment).Error
}

func (r *repo) SumPaid(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (float64, error) {
	var total float64
	err := db.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("subscription_id = ? AND status = ?", subscriptionID, domain.PaymentStatusPaid).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}
