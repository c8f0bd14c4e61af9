package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrNotFound           = errors.New("instance not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidRequest     = errors.New("invalid instance request")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrAllocationConflict = errors.New("allocation conflict")
	ErrBusy               = errors.New("instance busy")
	ErrCommandFailed      = errors.New("provisioning command failed")
)

// CreateRequest asks for a new instance. TenantID is only honored for
// admin callers; tenant callers always create for themselves.
type CreateRequest struct {
	TenantID      snowflake.ID
	Name          string
	Domain        string
	ContainerName string
}

// Service is the instance lifecycle orchestrator. Create returns as
// soon as allocation and the audit entry have committed; the
// provisioning workflow runs on the worker pool. Commands block until
// the external tooling returns.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Instance, error)
	List(ctx context.Context) ([]Instance, error)
	Get(ctx context.Context, id snowflake.ID) (*Instance, error)
	Command(ctx context.Context, id snowflake.ID, cmd Command) error
	Logs(ctx context.Context, instanceID snowflake.ID) ([]DeploymentLog, error)

	// SweepStaleWorkflows closes IN_PROGRESS audit entries whose
	// workflow died without a terminal write, parking their instances
	// in ERROR. Returns the number of entries closed.
	SweepStaleWorkflows(ctx context.Context) (int, error)
}
