package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/nimbushost/fleet/internal/actor"
	billingdomain "github.com/nimbushost/fleet/internal/billing/domain"
	"github.com/nimbushost/fleet/internal/clock"
	"github.com/nimbushost/fleet/internal/config"
	"github.com/nimbushost/fleet/internal/deployer"
	"github.com/nimbushost/fleet/internal/instance/domain"
	"github.com/nimbushost/fleet/internal/instance/repository"
	"github.com/nimbushost/fleet/internal/worker"
)

// -- Stubs --

type billingStub struct {
	mu           sync.Mutex
	maxInstances int
	active       bool
	subscription *billingdomain.Subscription
	authorized   int
}

func newBillingStub(node *snowflake.Node, maxInstances int) *billingStub {
	plan := &billingdomain.Plan{
		ID:              node.Generate(),
		Name:            "Starter",
		MaxInstances:    maxInstances,
		AllowedFeatures: datatypes.NewJSONSlice([]string{"base", "crm"}),
		RuntimeVersion:  "18",
		IsActive:        true,
	}
	return &billingStub{
		maxInstances: maxInstances,
		active:       true,
		subscription: &billingdomain.Subscription{
			ID:     node.Generate(),
			PlanID: plan.ID,
			Status: billingdomain.SubscriptionStatusActive,
			Plan:   plan,
		},
	}
}

func (b *billingStub) Authorize(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, currentInstances int64) (*billingdomain.Entitlement, error) {
	b.mu.Lock()
	b.authorized++
	b.mu.Unlock()

	if !b.active {
		return nil, billingdomain.ErrNoActiveSubscription
	}
	if currentInstances >= int64(b.maxInstances) {
		return nil, fmt.Errorf("%w (%d)", billingdomain.ErrInstanceLimitReached, b.maxInstances)
	}
	return &billingdomain.Entitlement{
		Subscription: b.subscription,
		Params: billingdomain.DeployParams{
			AllowedFeatures: append([]string(nil), b.subscription.Plan.AllowedFeatures...),
			RuntimeVersion:  b.subscription.Plan.RuntimeVersion,
		},
	}, nil
}

func (b *billingStub) ActiveSubscription(ctx context.Context, tenantID snowflake.ID) (*billingdomain.Subscription, error) {
	if !b.active {
		return nil, billingdomain.ErrNoActiveSubscription
	}
	return b.subscription, nil
}

func (b *billingStub) SubscriptionWithPlan(ctx context.Context, id snowflake.ID) (*billingdomain.Subscription, error) {
	return b.subscription, nil
}

func (b *billingStub) Subscribe(ctx context.Context, req billingdomain.SubscribeRequest) (*billingdomain.Subscription, error) {
	return nil, billingdomain.ErrInvalidRequest
}

func (b *billingStub) RecordPayment(ctx context.Context, req billingdomain.RecordPaymentRequest) (*billingdomain.Payment, error) {
	return nil, billingdomain.ErrInvalidRequest
}

func (b *billingStub) ExpireOverdue(ctx context.Context) (int64, error) { return 0, nil }

func (b *billingStub) ListPlans(ctx context.Context) ([]billingdomain.Plan, error) {
	return []billingdomain.Plan{*b.subscription.Plan}, nil
}

func (b *billingStub) ListSubscriptions(ctx context.Context, tenantID snowflake.ID) ([]billingdomain.Subscription, error) {
	return []billingdomain.Subscription{*b.subscription}, nil
}

type runnerStub struct {
	mu          sync.Mutex
	deployExit  int
	deployErr   error
	commandExit int
	commandErr  error
	onDeploy    func()
	onCommand   func()
	deploys     []deployer.DeploySpec
	commands    []string
}

func (r *runnerStub) Deploy(ctx context.Context, spec deployer.DeploySpec) (*deployer.Result, error) {
	r.mu.Lock()
	r.deploys = append(r.deploys, spec)
	onDeploy := r.onDeploy
	r.mu.Unlock()

	if onDeploy != nil {
		onDeploy()
	}
	if r.deployErr != nil {
		return &deployer.Result{}, r.deployErr
	}
	return &deployer.Result{ExitCode: r.deployExit, Stderr: "deploy stderr"}, nil
}

func (r *runnerStub) Command(ctx context.Context, verb deployer.Verb, name string) (*deployer.Result, error) {
	r.mu.Lock()
	r.commands = append(r.commands, string(verb)+":"+name)
	onCommand := r.onCommand
	r.mu.Unlock()

	if onCommand != nil {
		onCommand()
	}
	if r.commandErr != nil {
		return &deployer.Result{}, r.commandErr
	}
	return &deployer.Result{ExitCode: r.commandExit, Stderr: "command stderr"}, nil
}

func (r *runnerStub) DeployCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deploys)
}

type probeStub struct {
	running map[string]struct{}
	err     error
}

func (p *probeStub) RunningContainers(ctx context.Context) (map[string]struct{}, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.running, nil
}

// syncDispatcher runs workflows inline so tests observe terminal state
// as soon as Create returns.
type syncDispatcher struct {
	inflight *worker.Inflight
	blocked  bool
}

func (d *syncDispatcher) Submit(instanceID snowflake.ID, run func(ctx context.Context)) error {
	if !d.inflight.TryAcquire(instanceID) {
		return worker.ErrBusy
	}
	if d.blocked {
		// Simulate a full queue: slot released, job never runs.
		d.inflight.Release(instanceID)
		return worker.ErrQueueFull
	}
	defer d.inflight.Release(instanceID)
	run(context.Background())
	return nil
}

func (d *syncDispatcher) Inflight() *worker.Inflight { return d.inflight }

// -- Harness --

type harness struct {
	svc     domain.Service
	db      *gorm.DB
	repo    domain.Repository
	node    *snowflake.Node
	clock   *clock.FakeClock
	billing *billingStub
	runner  *runnerStub
	probe   *probeStub
	disp    *syncDispatcher
	holder  *config.OrchestratorHolder
	port    int
}

func setup(t *testing.T) *harness {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	require.NoError(t, db.AutoMigrate(&domain.Instance{}, &domain.DeploymentLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	billing := newBillingStub(node, 2)
	runner := &runnerStub{}
	probe := &probeStub{running: map[string]struct{}{}}
	disp := &syncDispatcher{inflight: worker.NewInflight()}
	holder := config.NewStaticOrchestratorHolder(config.DefaultOrchestratorConfig())
	repo := repository.Provide()

	svc := NewService(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fake,
		Holder:  holder,
		Repo:    repo,
		Billing: billing,
		Runner:  runner,
		Probe:   probe,
		Pool:    disp,
	})

	return &harness{
		svc:     svc,
		db:      db,
		repo:    repo,
		node:    node,
		clock:   fake,
		billing: billing,
		runner:  runner,
		probe:   probe,
		disp:    disp,
		holder:  holder,
		port:    9000,
	}
}

func (h *harness) tenantCtx(t *testing.T) (context.Context, snowflake.ID) {
	t.Helper()
	userID := h.node.Generate()
	tenantID := h.node.Generate()
	return actor.WithActor(context.Background(), actor.Tenant(userID, tenantID)), tenantID
}

func (h *harness) adminCtx() context.Context {
	return actor.WithActor(context.Background(), actor.Admin(h.node.Generate()))
}

func (h *harness) mustGet(t *testing.T, id snowflake.ID) *domain.Instance {
	t.Helper()
	instance, err := h.repo.FindByID(context.Background(), h.db, id)
	require.NoError(t, err)
	require.NotNil(t, instance)
	return instance
}

func (h *harness) logsFor(t *testing.T, id snowflake.ID) []domain.DeploymentLog {
	t.Helper()
	logs, err := h.repo.ListLogs(context.Background(), h.db, id)
	require.NoError(t, err)
	return logs
}
