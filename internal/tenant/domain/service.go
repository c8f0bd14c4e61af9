package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrNotFound       = errors.New("tenant not found")
	ErrInvalidRequest = errors.New("invalid tenant request")
)

type EnsureProfileRequest struct {
	UserID      snowflake.ID
	CompanyName string
	Phone       string
	Address     string
}

// Service manages tenant profiles. EnsureProfile replaces the implicit
// create-on-signup hook of earlier iterations with an explicit call.
type Service interface {
	EnsureProfile(ctx context.Context, req EnsureProfileRequest) (*Tenant, error)
	Get(ctx context.Context, id snowflake.ID) (*Tenant, error)
	GetByUser(ctx context.Context, userID snowflake.ID) (*Tenant, error)
}
