// Package scheduler runs the orchestrator's background jobs: sweeping
// abandoned provisioning workflows and expiring overdue subscriptions.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	billingdomain "github.com/nimbushost/fleet/internal/billing/domain"
	"github.com/nimbushost/fleet/internal/clock"
	"github.com/nimbushost/fleet/internal/config"
	instancedomain "github.com/nimbushost/fleet/internal/instance/domain"
	"github.com/nimbushost/fleet/internal/observability/metrics"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

type Params struct {
	fx.In

	Log         *zap.Logger
	Clock       clock.Clock
	Holder      *config.OrchestratorHolder
	InstanceSvc instancedomain.Service
	BillingSvc  billingdomain.Service
	Metrics     *metrics.OrchestratorMetrics `optional:"true"`
	Config      Config                       `optional:"true"`
}

type Scheduler struct {
	log         *zap.Logger
	cfg         Config
	clock       clock.Clock
	holder      *config.OrchestratorHolder
	instanceSvc instancedomain.Service
	billingSvc  billingdomain.Service
	metrics     *metrics.OrchestratorMetrics

	lastExpiry time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.Holder == nil || p.InstanceSvc == nil || p.BillingSvc == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		log:         p.Log.Named("scheduler"),
		cfg:         cfg,
		clock:       p.Clock,
		holder:      p.Holder,
		instanceSvc: p.InstanceSvc,
		billingSvc:  p.BillingSvc,
		metrics:     p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))

	if err == nil {
		s.metrics.IncJobRun(name, metrics.OutcomeSuccess)
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.metrics.IncJobRun(name, metrics.OutcomeTimeout)
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
		)
		return nil
	}

	s.metrics.IncJobRun(name, metrics.OutcomeFailed)
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes one pass of every due job.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	err = errors.Join(err, s.runJob(parent, "sweep_workflows", s.SweepWorkflowsJob))

	// Subscription expiry is cheap but there is no point running it
	// every tick.
	if s.expiryDue() {
		err = errors.Join(err, s.runJob(parent, "expire_subscriptions", s.ExpireSubscriptionsJob))
	}

	return err
}

func (s *Scheduler) SweepWorkflowsJob(ctx context.Context) error {
	swept, err := s.instanceSvc.SweepStaleWorkflows(ctx)
	if err != nil {
		return err
	}
	if swept > 0 {
		s.log.Info("stale workflows swept", zap.Int("count", swept))
	}
	return nil
}

func (s *Scheduler) ExpireSubscriptionsJob(ctx context.Context) error {
	s.lastExpiry = s.clock.Now()
	_, err := s.billingSvc.ExpireOverdue(ctx)
	return err
}

func (s *Scheduler) expiryDue() bool {
	interval := s.holder.Get().ExpiryInterval
	if interval <= 0 {
		interval = s.cfg.ExpiryInterval
	}
	return s.lastExpiry.IsZero() || s.clock.Now().Sub(s.lastExpiry) >= interval
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
