package service

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nimbushost/fleet/internal/instance/domain"
)

// SweepStaleWorkflows closes IN_PROGRESS audit entries older than the
// configured threshold. A crashed process leaves these behind; without
// the sweep their instances would stay DEPLOYING forever. Entries whose
// instance still has a live workflow are left alone.
func (s *Service) SweepStaleWorkflows(ctx context.Context) (int, error) {
	cfg := s.holder.Get()
	cutoff := s.clock.Now().Add(-cfg.SweepThreshold)

	stale, err := s.repo.ListStaleOpenLogs(ctx, s.db, cutoff)
	if err != nil {
		return 0, err
	}

	swept := 0
	for i := range stale {
		entry := &stale[i]
		if s.pool.Inflight().Held(entry.InstanceID) {
			continue
		}

		reason := "workflow abandoned: no terminal write before sweep"
		duration := int(cfg.SweepThreshold.Seconds())
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.repo.CloseLog(ctx, tx, entry.ID, domain.LogStatusFailed, &reason, duration, nil); err != nil {
				return err
			}

			instance, err := s.repo.FindByID(ctx, tx, entry.InstanceID)
			if err != nil || instance == nil {
				return err
			}
			if instance.Status == domain.StatusDeploying || instance.Status == domain.StatusCreated {
				return s.repo.UpdateStatus(ctx, tx, instance.ID, domain.StatusError, s.clock.Now())
			}
			return nil
		})
		if err != nil {
			s.log.Warn("sweep failed for entry",
				zap.Int64("log_id", int64(entry.ID)),
				zap.Error(err),
			)
			continue
		}

		swept++
		s.metrics.IncSweptWorkflow()
		s.log.Info("stale workflow swept",
			zap.Int64("log_id", int64(entry.ID)),
			zap.Int64("instance_id", int64(entry.InstanceID)),
		)
	}
	return swept, nil
}
