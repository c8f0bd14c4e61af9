package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/nimbushost/fleet/internal/billing/domain"
	"github.com/nimbushost/fleet/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("billing.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Authorize checks the tenant's entitlement to create one more
// instance. It runs against the caller's transaction so the count it
// was given stays consistent with the insert that follows.
func (s *Service) Authorize(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, currentInstances int64) (*domain.Entitlement, error) {
	subscription, err := s.repo.FindActiveByTenant(ctx, tx, tenantID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if subscription == nil || subscription.Plan == nil {
		return nil, domain.ErrNoActiveSubscription
	}

	plan := subscription.Plan
	if currentInstances >= int64(plan.MaxInstances) {
		return nil, fmt.Errorf("%w (%d)", domain.ErrInstanceLimitReached, plan.MaxInstances)
	}

	return &domain.Entitlement{
		Subscription: subscription,
		Params: domain.DeployParams{
			AllowedFeatures: append([]string(nil), plan.AllowedFeatures...),
			RuntimeVersion:  plan.RuntimeVersion,
		},
	}, nil
}

func (s *Service) ActiveSubscription(ctx context.Context, tenantID snowflake.ID) (*domain.Subscription, error) {
	subscription, err := s.repo.FindActiveByTenant(ctx, s.db, tenantID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, domain.ErrNoActiveSubscription
	}
	return subscription, nil
}

func (s *Service) SubscriptionWithPlan(ctx context.Context, id snowflake.ID) (*domain.Subscription, error) {
	subscription, err := s.repo.FindSubscriptionByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	return subscription, nil
}

func (s *Service) Subscribe(ctx context.Context, req domain.SubscribeRequest) (*domain.Subscription, error) {
	if req.TenantID == 0 || req.PlanID == 0 {
		return nil, domain.ErrInvalidRequest
	}
	cycle := req.BillingCycle
	if cycle == "" {
		cycle = domain.BillingCycleMonthly
	}

	var subscription *domain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := s.repo.FindPlanByID(ctx, tx, req.PlanID)
		if err != nil {
			return err
		}
		if plan == nil || !plan.IsActive {
			return domain.ErrPlanNotFound
		}

		// One PENDING subscription per tenant; payment flips it ACTIVE.
		pending, err := s.repo.FindByTenantAndStatus(ctx, tx, req.TenantID, domain.SubscriptionStatusPending)
		if err != nil {
			return err
		}
		if pending != nil {
			return domain.ErrSubscriptionExists
		}

		now := s.clock.Now()
		subscription = &domain.Subscription{
			ID:           s.genID.Generate(),
			TenantID:     req.TenantID,
			PlanID:       plan.ID,
			Status:       domain.SubscriptionStatusPending,
			StartAt:      now,
			AutoRenew:    true,
			BillingCycle: cycle,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return s.repo.InsertSubscription(ctx, tx, subscription)
	})
	if err != nil {
		return nil, err
	}
	return subscription, nil
}

// RecordPayment stores a paid payment and activates the subscription
// once the paid total covers the plan price, suspending any other
// active subscription of the tenant.
func (s *Service) RecordPayment(ctx context.Context, req domain.RecordPaymentRequest) (*domain.Payment, error) {
	if req.SubscriptionID == 0 || req.Amount <= 0 {
		return nil, domain.ErrInvalidRequest
	}
	method := req.Method
	if method == "" {
		method = domain.PaymentMethodManual
	}

	var payment *domain.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindSubscriptionByID(ctx, tx, req.SubscriptionID)
		if err != nil {
			return err
		}
		if subscription == nil || subscription.Plan == nil {
			return domain.ErrSubscriptionNotFound
		}

		now := s.clock.Now()
		payment = &domain.Payment{
			ID:             s.genID.Generate(),
			SubscriptionID: subscription.ID,
			Amount:         req.Amount,
			Method:         method,
			Status:         domain.PaymentStatusPaid,
			TransactionID:  req.TransactionID,
			PaidAt:         &now,
			CreatedAt:      now,
		}
		if err := s.repo.InsertPayment(ctx, tx, payment); err != nil {
			return err
		}

		totalPaid, err := s.repo.SumPaid(ctx, tx, subscription.ID)
		if err != nil {
			return err
		}
		if totalPaid < subscription.Plan.Price {
			// Underpaid: subscription keeps its current status.
			return nil
		}
		if subscription.Status == domain.SubscriptionStatusActive {
			return nil
		}

		if err := s.repo.SuspendOtherActive(ctx, tx, subscription.TenantID, subscription.ID); err != nil {
			return err
		}
		if err := s.repo.UpdateSubscriptionStatus(ctx, tx, subscription.ID, domain.SubscriptionStatusActive); err != nil {
			return err
		}
		s.log.Info("subscription activated",
			zap.Int64("subscription_id", int64(subscription.ID)),
			zap.Int64("tenant_id", int64(subscription.TenantID)),
			zap.Float64("total_paid", totalPaid),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

func (s *Service) ExpireOverdue(ctx context.Context) (int64, error) {
	expired, err := s.repo.ExpireOverdue(ctx, s.db, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		s.log.Info("subscriptions expired", zap.Int64("count", expired))
	}
	return expired, nil
}

func (s *Service) ListPlans(ctx context.Context) ([]domain.Plan, error) {
	return s.repo.ListPlans(ctx, s.db)
}

func (s *Service) ListSubscriptions(ctx context.Context, tenantID snowflake.ID) ([]domain.Subscription, error) {
	return s.repo.ListByTenant(ctx, s.db, tenantID)
}
