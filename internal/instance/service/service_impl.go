package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nimbushost/fleet/internal/actor"
	billingdomain "github.com/nimbushost/fleet/internal/billing/domain"
	"github.com/nimbushost/fleet/internal/clock"
	"github.com/nimbushost/fleet/internal/config"
	"github.com/nimbushost/fleet/internal/deployer"
	"github.com/nimbushost/fleet/internal/instance/allocator"
	"github.com/nimbushost/fleet/internal/instance/domain"
	"github.com/nimbushost/fleet/internal/locks"
	"github.com/nimbushost/fleet/internal/observability/metrics"
	"github.com/nimbushost/fleet/internal/worker"
	"github.com/nimbushost/fleet/pkg/db"
)

const (
	allocationAttempts = 3

	allocateLockKey = "fleet:allocate"
	allocateLockTTL = 15 * time.Second
)

// Dispatcher hands workflows to the worker pool and answers whether an
// instance already has one in flight.
type Dispatcher interface {
	Submit(instanceID snowflake.ID, run func(ctx context.Context)) error
	Inflight() *worker.Inflight
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Holder  *config.OrchestratorHolder
	Repo    domain.Repository
	Billing billingdomain.Service
	Runner  deployer.Runner
	Probe   deployer.RuntimeProbe
	Pool    Dispatcher
	Locker  *locks.Locker `optional:"true"`
	Metrics *metrics.OrchestratorMetrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	holder  *config.OrchestratorHolder
	repo    domain.Repository
	billing billingdomain.Service
	runner  deployer.Runner
	probe   deployer.RuntimeProbe
	pool    Dispatcher
	locker  *locks.Locker
	metrics *metrics.OrchestratorMetrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("instance.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		holder:  p.Holder,
		repo:    p.Repo,
		billing: p.Billing,
		runner:  p.Runner,
		probe:   p.Probe,
		pool:    p.Pool,
		locker:  p.Locker,
		metrics: p.Metrics,
	}
}

// Create allocates the instance's unique coordinates, checks the
// tenant's entitlement and queues the provisioning workflow. It returns
// once the record and its open audit entry have committed.
func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Instance, error) {
	tenantID, err := s.resolveTenant(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	cfg := s.holder.Get()
	alloc := allocator.New(s.repo, cfg.PortBase, cfg.ContainerPrefix, cfg.DomainSuffix)

	// Cross-replica serialization of port allocation. The database
	// uniqueness constraints remain the backstop, so a missed lock only
	// costs retries.
	if s.locker != nil {
		token, ok, lockErr := s.locker.TryLock(ctx, allocateLockKey, allocateLockTTL)
		if lockErr == nil && ok {
			defer func() {
				if releaseErr := s.locker.Release(context.WithoutCancel(ctx), allocateLockKey, token); releaseErr != nil {
					s.log.Warn("allocate lock release failed", zap.Error(releaseErr))
				}
			}()
		}
	}

	callerID := callerUserID(ctx)

	var (
		instance *domain.Instance
		logID    snowflake.ID
	)
	for attempt := 1; ; attempt++ {
		instance = nil
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			count, err := s.repo.CountByTenant(ctx, tx, tenantID)
			if err != nil {
				return err
			}

			entitlement, err := s.billing.Authorize(ctx, tx, tenantID, count)
			if err != nil {
				return err
			}

			allocation, err := alloc.Allocate(ctx, tx, req.Name, req.Domain, req.ContainerName)
			if err != nil {
				return err
			}

			now := s.clock.Now()
			instance = &domain.Instance{
				ID:             s.genID.Generate(),
				TenantID:       tenantID,
				SubscriptionID: entitlement.Subscription.ID,
				Name:           allocation.Name,
				ContainerName:  allocation.ContainerName,
				DBName:         allocation.DBName,
				DBPassword:     allocation.DBPassword,
				AdminPassword:  allocation.AdminPassword,
				Domain:         allocation.Domain,
				Port:           allocation.Port,
				RuntimeVersion: entitlement.Params.RuntimeVersion,
				Status:         domain.StatusCreated,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := s.repo.Insert(ctx, tx, instance); err != nil {
				return err
			}

			entry := &domain.DeploymentLog{
				ID:         s.genID.Generate(),
				InstanceID: instance.ID,
				UserID:     callerID,
				Action:     domain.ActionCreate,
				Status:     domain.LogStatusInProgress,
				Details: map[string]any{
					"port":      instance.Port,
					"container": instance.ContainerName,
					"domain":    instance.Domain,
				},
				CreatedAt: now,
			}
			if err := s.repo.InsertLog(ctx, tx, entry); err != nil {
				return err
			}
			logID = entry.ID
			return nil
		})
		if err == nil {
			break
		}
		if db.IsDuplicateKeyErr(err) && attempt < allocationAttempts {
			s.metrics.IncAllocationRetry()
			continue
		}
		if db.IsDuplicateKeyErr(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrAllocationConflict, req.Name)
		}
		return nil, err
	}

	if err := s.dispatchProvision(ctx, instance.ID, logID); err != nil {
		return nil, err
	}

	s.log.Info("instance created",
		zap.Int64("instance_id", int64(instance.ID)),
		zap.Int64("tenant_id", int64(tenantID)),
		zap.String("name", instance.Name),
		zap.Int("port", instance.Port),
	)
	return instance, nil
}

// dispatchProvision queues the provisioning workflow. If the pool
// rejects the job the open audit entry is closed FAILED and the
// instance parked in ERROR so retry can pick it up.
func (s *Service) dispatchProvision(ctx context.Context, instanceID, logID snowflake.ID) error {
	err := s.pool.Submit(instanceID, func(jobCtx context.Context) {
		s.runProvision(jobCtx, instanceID, logID)
	})
	if err == nil {
		s.metrics.IncWorkflowStarted(string(domain.ActionCreate))
		return nil
	}

	reason := "workflow not queued: " + err.Error()
	persistCtx := context.WithoutCancel(ctx)
	if closeErr := s.repo.CloseLog(persistCtx, s.db, logID, domain.LogStatusFailed, &reason, 0, nil); closeErr != nil {
		s.log.Error("audit close failed", zap.Int64("log_id", int64(logID)), zap.Error(closeErr))
	}
	if statusErr := s.repo.UpdateStatus(persistCtx, s.db, instanceID, domain.StatusError, s.clock.Now()); statusErr != nil {
		s.log.Error("status update failed", zap.Int64("instance_id", int64(instanceID)), zap.Error(statusErr))
	}

	if errors.Is(err, worker.ErrBusy) {
		return domain.ErrBusy
	}
	return fmt.Errorf("queue provisioning: %w", err)
}

func (s *Service) List(ctx context.Context) ([]domain.Instance, error) {
	caller := actor.FromContext(ctx)

	s.reconcile(ctx)

	switch caller.Role {
	case actor.RoleAdmin:
		return s.repo.ListAll(ctx, s.db)
	case actor.RoleTenant:
		return s.repo.ListByTenant(ctx, s.db, caller.TenantID)
	default:
		return nil, domain.ErrUnauthorized
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Instance, error) {
	s.reconcile(ctx)
	return s.authorizedInstance(ctx, id)
}

// Command applies a lifecycle verb. Retry re-queues the asynchronous
// provisioning workflow; every other verb runs the external tooling
// synchronously and records a closed audit entry either way.
func (s *Service) Command(ctx context.Context, id snowflake.ID, cmd domain.Command) error {
	instance, err := s.authorizedInstance(ctx, id)
	if err != nil {
		return err
	}

	if cmd != domain.CommandRetry && s.pool.Inflight().Held(id) {
		return domain.ErrBusy
	}

	next, err := domain.NextStatus(cmd, instance.Status)
	if err != nil {
		return fmt.Errorf("%w: %s while %s", domain.ErrInvalidTransition, cmd, instance.Status)
	}

	if cmd == domain.CommandRetry {
		return s.retryProvision(ctx, instance)
	}
	return s.runCommand(ctx, instance, cmd, next)
}

func (s *Service) Logs(ctx context.Context, instanceID snowflake.ID) ([]domain.DeploymentLog, error) {
	if _, err := s.authorizedInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	return s.repo.ListLogs(ctx, s.db, instanceID)
}

// retryProvision opens a fresh CREATE audit entry and queues the
// provisioning workflow again for an instance stuck in ERROR.
func (s *Service) retryProvision(ctx context.Context, instance *domain.Instance) error {
	entry := &domain.DeploymentLog{
		ID:         s.genID.Generate(),
		InstanceID: instance.ID,
		UserID:     callerUserID(ctx),
		Action:     domain.ActionCreate,
		Status:     domain.LogStatusInProgress,
		Details:    map[string]any{"retry": true},
		CreatedAt:  s.clock.Now(),
	}
	if err := s.repo.InsertLog(ctx, s.db, entry); err != nil {
		return err
	}
	return s.dispatchProvision(ctx, instance.ID, entry.ID)
}

func (s *Service) runCommand(ctx context.Context, instance *domain.Instance, cmd domain.Command, next domain.Status) error {
	cfg := s.holder.Get()
	started := s.clock.Now()

	cmdCtx, cancel := context.WithTimeout(ctx, cfg.CommandTimeout)
	defer cancel()

	result, err := s.runner.Command(cmdCtx, commandVerb(cmd), instance.Name)
	duration := int(s.clock.Now().Sub(started) / time.Second)

	entry := &domain.DeploymentLog{
		ID:         s.genID.Generate(),
		InstanceID: instance.ID,
		UserID:     callerUserID(ctx),
		Action:     cmd.AuditAction(),
		Details:    map[string]any{"command": string(cmd)},
		CreatedAt:  started,
	}
	entry.DurationSeconds = &duration

	persistCtx := context.WithoutCancel(ctx)

	var (
		cmdErr error
		msg    string
	)
	switch {
	case err != nil:
		cmdErr = fmt.Errorf("%w: %v", domain.ErrCommandFailed, err)
		msg = err.Error()
	case result.ExitCode != 0:
		cmdErr = fmt.Errorf("%w: exit %d: %s", domain.ErrCommandFailed, result.ExitCode, tail(result.Stderr, 512))
		// Audit keeps the script's stderr verbatim.
		msg = result.Stderr
		if msg == "" {
			msg = fmt.Sprintf("exit %d with no output", result.ExitCode)
		}
		entry.Details["exit_code"] = result.ExitCode
	}

	if cmdErr != nil {
		entry.Status = domain.LogStatusFailed
		entry.ErrorMessage = &msg
		if logErr := s.repo.InsertLog(persistCtx, s.db, entry); logErr != nil {
			s.log.Error("audit write failed", zap.Int64("instance_id", int64(instance.ID)), zap.Error(logErr))
		}
		s.metrics.IncCommand(string(cmd), metrics.OutcomeFailed)
		return cmdErr
	}

	entry.Status = domain.LogStatusSuccess
	err = s.db.WithContext(persistCtx).Transaction(func(tx *gorm.DB) error {
		if cmd == domain.CommandRemove {
			// The audit trail is scoped to the instance, so teardown
			// removes the record together with its history.
			return s.repo.Delete(persistCtx, tx, instance.ID)
		}
		if err := s.repo.InsertLog(persistCtx, tx, entry); err != nil {
			return err
		}
		return s.repo.UpdateStatus(persistCtx, tx, instance.ID, next, s.clock.Now())
	})
	if err != nil {
		return err
	}

	s.metrics.IncCommand(string(cmd), metrics.OutcomeSuccess)
	s.log.Info("command applied",
		zap.Int64("instance_id", int64(instance.ID)),
		zap.String("command", string(cmd)),
		zap.String("status", string(next)),
	)
	return nil
}

// authorizedInstance loads the instance and checks the caller may act
// on it. Tenants get not-found rather than a hint that someone else's
// instance exists.
func (s *Service) authorizedInstance(ctx context.Context, id snowflake.ID) (*domain.Instance, error) {
	caller := actor.FromContext(ctx)
	if caller.Role == actor.RoleAnonymous {
		return nil, domain.ErrUnauthorized
	}

	instance, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if instance == nil || !caller.CanAccessTenant(instance.TenantID) {
		return nil, domain.ErrNotFound
	}
	return instance, nil
}

func (s *Service) resolveTenant(ctx context.Context, requested snowflake.ID) (snowflake.ID, error) {
	caller := actor.FromContext(ctx)
	switch caller.Role {
	case actor.RoleTenant:
		return caller.TenantID, nil
	case actor.RoleAdmin:
		if requested == 0 {
			return 0, fmt.Errorf("%w: tenant_id required", domain.ErrInvalidRequest)
		}
		return requested, nil
	default:
		return 0, domain.ErrUnauthorized
	}
}

func callerUserID(ctx context.Context) *snowflake.ID {
	return actor.FromContext(ctx).UserID
}

func commandVerb(cmd domain.Command) deployer.Verb {
	switch cmd {
	case domain.CommandStart:
		return deployer.VerbStart
	case domain.CommandStop:
		return deployer.VerbStop
	case domain.CommandRestart:
		return deployer.VerbRestart
	case domain.CommandRemove:
		return deployer.VerbRemove
	default:
		return deployer.Verb(cmd)
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
