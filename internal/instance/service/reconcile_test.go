package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"

	"github.com/nimbushost/fleet/internal/instance/domain"
)

func (h *harness) seedInstance(t *testing.T, name string, status domain.Status) *domain.Instance {
	t.Helper()

	now := h.clock.Now()
	h.port++
	instance := &domain.Instance{
		ID:             h.node.Generate(),
		TenantID:       h.node.Generate(),
		SubscriptionID: h.billing.subscription.ID,
		Name:           name,
		ContainerName:  "app_" + name,
		DBName:         name,
		DBPassword:     "x",
		AdminPassword:  "x",
		Domain:         name + ".nimbushost.app",
		Port:           h.port,
		RuntimeVersion: "18",
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, h.db.Create(instance).Error)
	return instance
}

func TestReconcileCorrectsDrift(t *testing.T) {
	h := setup(t)

	runningButDown := h.seedInstance(t, "down", domain.StatusRunning)
	stoppedButUp := h.seedInstance(t, "up", domain.StatusStopped)
	erroredButUp := h.seedInstance(t, "recovered", domain.StatusError)
	erroredAndDown := h.seedInstance(t, "broken", domain.StatusError)

	h.probe.running = map[string]struct{}{
		stoppedButUp.ContainerName: {},
		erroredButUp.ContainerName: {},
	}

	_, err := h.svc.List(h.adminCtx())
	require.NoError(t, err)

	require.Equal(t, domain.StatusStopped, h.mustGet(t, runningButDown.ID).Status)
	require.Equal(t, domain.StatusRunning, h.mustGet(t, stoppedButUp.ID).Status)
	require.Equal(t, domain.StatusRunning, h.mustGet(t, erroredButUp.ID).Status)
	require.Equal(t, domain.StatusStopped, h.mustGet(t, erroredAndDown.ID).Status)
}

func TestReconcileSkipsInflightInstances(t *testing.T) {
	h := setup(t)

	held := h.seedInstance(t, "held", domain.StatusRunning)
	require.True(t, h.disp.inflight.TryAcquire(held.ID))
	defer h.disp.inflight.Release(held.ID)

	_, err := h.svc.List(h.adminCtx())
	require.NoError(t, err)

	require.Equal(t, domain.StatusRunning, h.mustGet(t, held.ID).Status)
}

func TestReconcileSkipsPassWhenProbeFails(t *testing.T) {
	h := setup(t)

	stale := h.seedInstance(t, "stale", domain.StatusRunning)
	h.probe.err = errors.New("docker daemon unreachable")

	_, err := h.svc.List(h.adminCtx())
	require.NoError(t, err)

	require.Equal(t, domain.StatusRunning, h.mustGet(t, stale.ID).Status)
}

func TestReconcileIsIdempotent(t *testing.T) {
	h := setup(t)

	inst := h.seedInstance(t, "steady", domain.StatusRunning)
	h.probe.running = map[string]struct{}{inst.ContainerName: {}}

	for i := 0; i < 3; i++ {
		_, err := h.svc.List(h.adminCtx())
		require.NoError(t, err)
		require.Equal(t, domain.StatusRunning, h.mustGet(t, inst.ID).Status)
	}
}

func (h *harness) seedOpenLog(t *testing.T, instanceID snowflake.ID, age time.Duration) snowflake.ID {
	t.Helper()

	entry := &domain.DeploymentLog{
		ID:         h.node.Generate(),
		InstanceID: instanceID,
		Action:     domain.ActionCreate,
		Status:     domain.LogStatusInProgress,
		CreatedAt:  h.clock.Now().Add(-age),
	}
	require.NoError(t, h.db.Create(entry).Error)
	return entry.ID
}

func TestSweepClosesAbandonedWorkflows(t *testing.T) {
	h := setup(t)

	stuck := h.seedInstance(t, "stuck", domain.StatusDeploying)
	staleLog := h.seedOpenLog(t, stuck.ID, time.Hour)

	fresh := h.seedInstance(t, "fresh", domain.StatusDeploying)
	freshLog := h.seedOpenLog(t, fresh.ID, time.Minute)

	swept, err := h.svc.SweepStaleWorkflows(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, swept)

	require.Equal(t, domain.StatusError, h.mustGet(t, stuck.ID).Status)
	require.Equal(t, domain.StatusDeploying, h.mustGet(t, fresh.ID).Status)

	var closed domain.DeploymentLog
	require.NoError(t, h.db.First(&closed, "id = ?", staleLog).Error)
	require.Equal(t, domain.LogStatusFailed, closed.Status)
	require.NotNil(t, closed.ErrorMessage)
	require.Contains(t, *closed.ErrorMessage, "workflow abandoned")

	var open domain.DeploymentLog
	require.NoError(t, h.db.First(&open, "id = ?", freshLog).Error)
	require.Equal(t, domain.LogStatusInProgress, open.Status)
}

func TestSweepSkipsInflightInstances(t *testing.T) {
	h := setup(t)

	live := h.seedInstance(t, "live", domain.StatusDeploying)
	logID := h.seedOpenLog(t, live.ID, time.Hour)

	require.True(t, h.disp.inflight.TryAcquire(live.ID))
	defer h.disp.inflight.Release(live.ID)

	swept, err := h.svc.SweepStaleWorkflows(context.Background())
	require.NoError(t, err)
	require.Zero(t, swept)

	var entry domain.DeploymentLog
	require.NoError(t, h.db.First(&entry, "id = ?", logID).Error)
	require.Equal(t, domain.LogStatusInProgress, entry.Status)
	require.Equal(t, domain.StatusDeploying, h.mustGet(t, live.ID).Status)
}

func TestSweepLeavesSettledInstancesAlone(t *testing.T) {
	h := setup(t)

	// A stale entry can survive next to an instance a later retry
	// already recovered; the entry is closed but RUNNING stays.
	recovered := h.seedInstance(t, "recovered", domain.StatusRunning)
	h.seedOpenLog(t, recovered.ID, time.Hour)

	swept, err := h.svc.SweepStaleWorkflows(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, swept)
	require.Equal(t, domain.StatusRunning, h.mustGet(t, recovered.ID).Status)
}
