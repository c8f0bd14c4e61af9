package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nimbushost/fleet/internal/actor"
	billingdomain "github.com/nimbushost/fleet/internal/billing/domain"
	"github.com/nimbushost/fleet/internal/instance/domain"
)

func TestCreateProvisionsInstance(t *testing.T) {
	h := setup(t)
	ctx, tenantID := h.tenantCtx(t)

	created, err := h.svc.Create(ctx, domain.CreateRequest{Name: "Acme Corp"})
	require.NoError(t, err)
	require.Equal(t, tenantID, created.TenantID)
	require.Equal(t, "acme-corp", created.Name)
	require.Equal(t, "app_acme-corp", created.ContainerName)
	require.Equal(t, 8070, created.Port)
	require.Equal(t, "18", created.RuntimeVersion)
	require.Equal(t, h.billing.subscription.ID, created.SubscriptionID)

	// The workflow ran inline, so the record is already terminal.
	stored := h.mustGet(t, created.ID)
	require.Equal(t, domain.StatusRunning, stored.Status)

	logs := h.logsFor(t, created.ID)
	require.Len(t, logs, 1)
	require.Equal(t, domain.ActionCreate, logs[0].Action)
	require.Equal(t, domain.LogStatusSuccess, logs[0].Status)
	require.NotNil(t, logs[0].DurationSeconds)

	require.Equal(t, 1, h.runner.DeployCount())
	spec := h.runner.deploys[0]
	require.Equal(t, "acme-corp", spec.Name)
	require.Equal(t, []string{"base", "crm"}, spec.Features)
	require.Equal(t, created.AdminPassword, spec.AdminPassword)
}

func TestCreateEnforcesPlanLimit(t *testing.T) {
	h := setup(t)
	ctx, _ := h.tenantCtx(t)

	_, err := h.svc.Create(ctx, domain.CreateRequest{Name: "one"})
	require.NoError(t, err)
	_, err = h.svc.Create(ctx, domain.CreateRequest{Name: "two"})
	require.NoError(t, err)

	_, err = h.svc.Create(ctx, domain.CreateRequest{Name: "three"})
	require.ErrorIs(t, err, billingdomain.ErrInstanceLimitReached)
}

func TestCreateRequiresActiveSubscription(t *testing.T) {
	h := setup(t)
	ctx, _ := h.tenantCtx(t)
	h.billing.active = false

	_, err := h.svc.Create(ctx, domain.CreateRequest{Name: "acme"})
	require.ErrorIs(t, err, billingdomain.ErrNoActiveSubscription)
}

func TestCreateRejectsAnonymous(t *testing.T) {
	h := setup(t)

	_, err := h.svc.Create(context.Background(), domain.CreateRequest{Name: "acme"})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestCreateAdminNeedsTenantID(t *testing.T) {
	h := setup(t)
	ctx := h.adminCtx()

	_, err := h.svc.Create(ctx, domain.CreateRequest{Name: "acme"})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	tenantID := h.node.Generate()
	created, err := h.svc.Create(ctx, domain.CreateRequest{Name: "acme", TenantID: tenantID})
	require.NoError(t, err)
	require.Equal(t, tenantID, created.TenantID)
}

func TestCreateAllocationConflict(t *testing.T) {
	h := setup(t)
	ctx, _ := h.tenantCtx(t)

	_, err := h.svc.Create(ctx, domain.CreateRequest{Name: "acme"})
	require.NoError(t, err)

	// Same name normalizes to the same slug; every retry collides.
	_, err = h.svc.Create(ctx, domain.CreateRequest{Name: "ACME"})
	require.ErrorIs(t, err, domain.ErrAllocationConflict)
}

func TestCreateDeployFailureParksInstanceInError(t *testing.T) {
	h := setup(t)
	ctx, _ := h.tenantCtx(t)
	h.runner.deployExit = 7

	created, err := h.svc.Create(ctx, domain.CreateRequest{Name: "acme"})
	require.NoError(t, err)

	stored := h.mustGet(t, created.ID)
	require.Equal(t, domain.StatusError, stored.Status)

	logs := h.logsFor(t, created.ID)
	require.Len(t, logs, 1)
	require.Equal(t, domain.LogStatusFailed, logs[0].Status)
	require.NotNil(t, logs[0].ErrorMessage)
	require.Equal(t, "deploy stderr", *logs[0].ErrorMessage)
	require.Equal(t, json.Number("7"), logs[0].Details["exit_code"])
}

func TestCreateDeployTimeout(t *testing.T) {
	h := setup(t)
	ctx, _ := h.tenantCtx(t)
	h.runner.deployErr = context.DeadlineExceeded

	created, err := h.svc.Create(ctx, domain.CreateRequest{Name: "acme"})
	require.NoError(t, err)

	stored := h.mustGet(t, created.ID)
	require.Equal(t, domain.StatusError, stored.Status)

	logs := h.logsFor(t, created.ID)
	require.Len(t, logs, 1)
	require.Equal(t, domain.LogStatusFailed, logs[0].Status)
	require.Contains(t, *logs[0].ErrorMessage, "deploy timed out after")
}

func TestCreateQueueFullClosesAudit(t *testing.T) {
	h := setup(t)
	ctx, _ := h.tenantCtx(t)
	h.disp.blocked = true

	_, err := h.svc.Create(ctx, domain.CreateRequest{Name: "acme"})
	require.Error(t, err)

	instances, err := h.repo.ListAll(context.Background(), h.db)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	require.Equal(t, domain.StatusError, instances[0].Status)

	logs := h.logsFor(t, instances[0].ID)
	require.Len(t, logs, 1)
	require.Equal(t, domain.LogStatusFailed, logs[0].Status)
	require.Contains(t, *logs[0].ErrorMessage, "workflow not queued")
}

func TestCommandStopAndStart(t *testing.T) {
	h := setup(t)
	ctx, _ := h.tenantCtx(t)

	created, err := h.svc.Create(ctx, domain.CreateRequest{Name: "acme"})
	require.NoError(t, err)

	require.NoError(t, h.svc.Command(ctx, created.ID, domain.CommandStop))
	require.Equal(t, domain.StatusStopped, h.mustGet(t, created.ID).Status)

	require.NoError(t, h.svc.Command(ctx, created.ID, domain.CommandStart))
	require.Equal(t, domain.StatusRunning, h.mustGet(t, created.ID).Status)

	logs := h.logsFor(t, created.ID)
	require.Len(t, logs, 3)
}

func TestCommandInvalidTransition(t *testing.T) {
	h := setup(t)
	ctx, _ := h.tenantCtx(t)

	created, err := h.svc.Create(ctx, domain.CreateRequest{Name: "acme"})
	require.NoError(t, err)

	err = h.svc.Command(ctx, created.ID, domain.CommandStart)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	require.Equal(t, domain.StatusRunning, h.mustGet(t, created.ID).Status)
}

func TestCommandBusyWhileWorkflowInFlight(t *testing.T) {
	h := setup(t)
	ctx, _ := h.tenantCtx(t)

	created, err := h.svc.Create(ctx, domain.CreateRequest{Name: "acme"})
	require.NoError(t, err)

	require.True(t, h.disp.inflight.TryAcquire(created.ID))
	defer h.disp.inflight.Release(created.ID)

	err = h.svc.Command(ctx, created.ID, domain.CommandStop)
	require.ErrorIs(t, err, domain.ErrBusy)
}

func TestCommandFailureKeepsStatus(t *testing.T) {
	h := setup(t)
	ctx, _ := h.tenantCtx(t)

	created, err := h.svc.Create(ctx, domain.CreateRequest{Name: "acme"})
	require.NoError(t, err)

	h.runner.commandExit = 1
	err = h.svc.Command(ctx, created.ID, domain.CommandStop)
	require.ErrorIs(t, err, domain.ErrCommandFailed)
	require.Equal(t, domain.StatusRunning, h.mustGet(t, created.ID).Status)

	// Logs come back newest first.
	logs := h.logsFor(t, created.ID)
	require.Len(t, logs, 2)
	require.Equal(t, domain.LogStatusFailed, logs[0].Status)
	require.NotNil(t, logs[0].ErrorMessage)
	require.Equal(t, "command stderr", *logs[0].ErrorMessage)
	require.Equal(t, domain.LogStatusSuccess, logs[1].Status)
}

func TestCommandOutcomePersistsWhenCallerGivesUp(t *testing.T) {
	h := setup(t)
	tctx, _ := h.tenantCtx(t)

	created, err := h.svc.Create(tctx, domain.CreateRequest{Name: "acme"})
	require.NoError(t, err)

	// The caller disconnects while the script is still running. The
	// outcome must land in the database anyway.
	ctx, cancel := context.WithCancel(tctx)
	defer cancel()
	h.runner.onCommand = cancel

	require.NoError(t, h.svc.Command(ctx, created.ID, domain.CommandStop))

	require.Equal(t, domain.StatusStopped, h.mustGet(t, created.ID).Status)
	logs := h.logsFor(t, created.ID)
	require.Len(t, logs, 2)
	require.Equal(t, domain.ActionStop, logs[0].Action)
	require.Equal(t, domain.LogStatusSuccess, logs[0].Status)
}

func TestCommandStampsUpdatedAtFromClock(t *testing.T) {
	h := setup(t)
	ctx, _ := h.tenantCtx(t)

	created, err := h.svc.Create(ctx, domain.CreateRequest{Name: "acme"})
	require.NoError(t, err)

	h.clock.Advance(45 * time.Minute)
	require.NoError(t, h.svc.Command(ctx, created.ID, domain.CommandStop))

	stored := h.mustGet(t, created.ID)
	require.WithinDuration(t, h.clock.Now(), stored.UpdatedAt, time.Second)
	require.True(t, stored.UpdatedAt.After(created.UpdatedAt))
}

func TestCommandRemoveDeletesRecordAndHistory(t *testing.T) {
	h := setup(t)
	ctx, _ := h.tenantCtx(t)

	created, err := h.svc.Create(ctx, domain.CreateRequest{Name: "acme"})
	require.NoError(t, err)

	require.NoError(t, h.svc.Command(ctx, created.ID, domain.CommandRemove))

	gone, err := h.repo.FindByID(context.Background(), h.db, created.ID)
	require.NoError(t, err)
	require.Nil(t, gone)

	var count int64
	require.NoError(t, h.db.Model(&domain.DeploymentLog{}).
		Where("instance_id = ?", created.ID).Count(&count).Error)
	require.Zero(t, count)
}

func TestCommandRetryReprovisions(t *testing.T) {
	h := setup(t)
	ctx, _ := h.tenantCtx(t)

	h.runner.deployExit = 7
	created, err := h.svc.Create(ctx, domain.CreateRequest{Name: "acme"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusError, h.mustGet(t, created.ID).Status)

	h.runner.deployExit = 0
	require.NoError(t, h.svc.Command(ctx, created.ID, domain.CommandRetry))
	require.Equal(t, domain.StatusRunning, h.mustGet(t, created.ID).Status)

	logs := h.logsFor(t, created.ID)
	require.Len(t, logs, 2)
	for _, entry := range logs {
		require.Equal(t, domain.ActionCreate, entry.Action)
	}
	require.Equal(t, 2, h.runner.DeployCount())
}

func TestConcurrentCreatesGetDistinctCoordinates(t *testing.T) {
	h := setup(t)

	const n = 6
	var wg sync.WaitGroup
	results := make(chan *domain.Instance, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		ctx, _ := h.tenantCtx(t)
		name := fmt.Sprintf("site-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := h.svc.Create(ctx, domain.CreateRequest{Name: name})
			if err != nil {
				errs <- err
				return
			}
			results <- created
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	ports := map[int]bool{}
	names := map[string]bool{}
	domains := map[string]bool{}
	total := 0
	for created := range results {
		require.False(t, ports[created.Port], "port %d handed out twice", created.Port)
		require.False(t, names[created.Name], "name %q handed out twice", created.Name)
		require.False(t, domains[created.Domain], "domain %q handed out twice", created.Domain)
		ports[created.Port] = true
		names[created.Name] = true
		domains[created.Domain] = true
		total++
	}
	require.Equal(t, n, total)
}

func TestTenantCannotTouchOtherTenantInstance(t *testing.T) {
	h := setup(t)
	ownerCtx, _ := h.tenantCtx(t)
	otherCtx, _ := h.tenantCtx(t)

	created, err := h.svc.Create(ownerCtx, domain.CreateRequest{Name: "acme"})
	require.NoError(t, err)

	_, err = h.svc.Get(otherCtx, created.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	err = h.svc.Command(otherCtx, created.ID, domain.CommandStop)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.svc.Logs(otherCtx, created.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListScopedByRole(t *testing.T) {
	h := setup(t)
	firstCtx, _ := h.tenantCtx(t)
	secondCtx, _ := h.tenantCtx(t)

	first, err := h.svc.Create(firstCtx, domain.CreateRequest{Name: "one"})
	require.NoError(t, err)
	_, err = h.svc.Create(secondCtx, domain.CreateRequest{Name: "two"})
	require.NoError(t, err)

	// Keep reconcile from flipping the freshly provisioned records.
	h.probe.running = map[string]struct{}{
		"app_one": {},
		"app_two": {},
	}

	mine, err := h.svc.List(firstCtx)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, first.ID, mine[0].ID)

	all, err := h.svc.List(h.adminCtx())
	require.NoError(t, err)
	require.Len(t, all, 2)

	_, err = h.svc.List(actor.WithActor(context.Background(), actor.Anonymous()))
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}
