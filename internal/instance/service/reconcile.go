package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/nimbushost/fleet/internal/instance/domain"
	"github.com/nimbushost/fleet/internal/observability/metrics"
)

// reconcile corrects instance records that drifted from the container
// runtime, typically after a host reboot. The probe is best effort: a
// failed or slow probe skips the pass rather than guessing, and
// instances with a workflow in flight are left alone.
func (s *Service) reconcile(ctx context.Context) {
	cfg := s.holder.Get()

	probeCtx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
	defer cancel()

	running, err := s.probe.RunningContainers(probeCtx)
	if err != nil {
		s.log.Debug("runtime probe unavailable", zap.Error(err))
		s.metrics.IncReconcileRun(metrics.OutcomeSkipped)
		return
	}

	instances, err := s.repo.ListByStatuses(ctx, s.db, []domain.Status{
		domain.StatusRunning,
		domain.StatusStopped,
		domain.StatusError,
	})
	if err != nil {
		s.log.Warn("reconcile list failed", zap.Error(err))
		s.metrics.IncReconcileRun(metrics.OutcomeFailed)
		return
	}

	drifted := 0
	for i := range instances {
		inst := &instances[i]
		if s.pool.Inflight().Held(inst.ID) {
			continue
		}

		observed := domain.StatusStopped
		if _, up := running[inst.ContainerName]; up {
			observed = domain.StatusRunning
		}
		if observed == inst.Status {
			continue
		}

		if err := s.repo.UpdateStatus(ctx, s.db, inst.ID, observed, s.clock.Now()); err != nil {
			s.log.Warn("reconcile update failed",
				zap.Int64("instance_id", int64(inst.ID)),
				zap.Error(err),
			)
			continue
		}
		drifted++
		s.log.Info("instance status reconciled",
			zap.Int64("instance_id", int64(inst.ID)),
			zap.String("from", string(inst.Status)),
			zap.String("to", string(observed)),
		)
	}

	s.metrics.AddReconcileDrift(drifted)
	s.metrics.IncReconcileRun(metrics.OutcomeSuccess)
}
