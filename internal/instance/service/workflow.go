package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nimbushost/fleet/internal/deployer"
	"github.com/nimbushost/fleet/internal/instance/domain"
	"github.com/nimbushost/fleet/internal/observability/metrics"
)

// persistTimeout bounds the terminal writes of a workflow. They run on
// a background context so a cancelled job still records its outcome.
const persistTimeout = 30 * time.Second

// runProvision executes the deploy script for one instance and closes
// the open audit entry with exactly one terminal write. It runs on the
// worker pool.
func (s *Service) runProvision(ctx context.Context, instanceID, logID snowflake.ID) {
	cfg := s.holder.Get()
	started := s.clock.Now()
	log := s.log.With(zap.Int64("instance_id", int64(instanceID)))

	finish := func(outcome string, status domain.Status, errMsg *string, details map[string]any) {
		duration := int(s.clock.Now().Sub(started) / time.Second)
		persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()

		err := s.db.WithContext(persistCtx).Transaction(func(tx *gorm.DB) error {
			if err := s.repo.CloseLog(persistCtx, tx, logID, logStatusFor(outcome), errMsg, duration, details); err != nil {
				return err
			}
			return s.repo.UpdateStatus(persistCtx, tx, instanceID, status, s.clock.Now())
		})
		if err != nil {
			log.Error("workflow outcome not persisted", zap.String("outcome", outcome), zap.Error(err))
		}

		s.metrics.IncWorkflowFinished(string(domain.ActionCreate), outcome)
		s.metrics.ObserveWorkflowDuration(s.clock.Now().Sub(started))
		log.Info("provisioning finished",
			zap.String("outcome", outcome),
			zap.String("status", string(status)),
			zap.Int("duration_seconds", duration),
		)
	}

	instance, err := s.repo.FindByID(ctx, s.db, instanceID)
	if err != nil || instance == nil {
		msg := "instance no longer exists"
		if err != nil {
			msg = err.Error()
		}
		finish(metrics.OutcomeFailed, domain.StatusError, &msg, nil)
		return
	}

	spec, err := s.deploySpec(ctx, instance, cfg.DefaultFeature)
	if err != nil {
		msg := err.Error()
		finish(metrics.OutcomeFailed, domain.StatusError, &msg, nil)
		return
	}

	if err := s.repo.UpdateStatus(ctx, s.db, instanceID, domain.StatusDeploying, s.clock.Now()); err != nil {
		msg := err.Error()
		finish(metrics.OutcomeFailed, domain.StatusError, &msg, nil)
		return
	}

	deployCtx, cancel := context.WithTimeout(ctx, cfg.DeployTimeout)
	defer cancel()

	result, err := s.runner.Deploy(deployCtx, *spec)

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		msg := fmt.Sprintf("deploy timed out after %s", cfg.DeployTimeout)
		finish(metrics.OutcomeTimeout, domain.StatusError, &msg, nil)
	case err != nil:
		msg := err.Error()
		finish(metrics.OutcomeFailed, domain.StatusError, &msg, nil)
	case result.ExitCode != 0:
		// The script's own stderr is the error message, so operators see
		// exactly what the tooling printed.
		msg := result.Stderr
		if msg == "" {
			msg = fmt.Sprintf("deploy exited %d with no output", result.ExitCode)
		}
		finish(metrics.OutcomeFailed, domain.StatusError, &msg, map[string]any{
			"exit_code": result.ExitCode,
		})
	default:
		finish(metrics.OutcomeSuccess, domain.StatusRunning, nil, map[string]any{
			"exit_code": 0,
			"stdout":    tail(result.Stdout, 2048),
		})
	}
}

// deploySpec resolves the plan-derived deployment parameters at run
// time, so a retried workflow sees the tenant's current plan.
func (s *Service) deploySpec(ctx context.Context, instance *domain.Instance, defaultFeature string) (*deployer.DeploySpec, error) {
	features := []string{defaultFeature}

	subscription, err := s.billing.SubscriptionWithPlan(ctx, instance.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("resolve subscription: %w", err)
	}
	if subscription.Plan != nil && len(subscription.Plan.AllowedFeatures) > 0 {
		features = append([]string(nil), subscription.Plan.AllowedFeatures...)
	}

	return &deployer.DeploySpec{
		Name:          instance.Name,
		Domain:        instance.Domain,
		Port:          instance.Port,
		Version:       instance.RuntimeVersion,
		AdminPassword: instance.AdminPassword,
		Features:      features,
	}, nil
}

func logStatusFor(outcome string) domain.LogStatus {
	if outcome == metrics.OutcomeSuccess {
		return domain.LogStatusSuccess
	}
	return domain.LogStatusFailed
}
