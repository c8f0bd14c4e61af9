package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, instance *Instance) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Instance, error)
	ListAll(ctx context.Context, db *gorm.DB) ([]Instance, error)
	ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]Instance, error)
	ListByStatuses(ctx context.Context, db *gorm.DB, statuses []Status) ([]Instance, error)
	CountByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (int64, error)
	MaxPort(ctx context.Context, db *gorm.DB) (int, bool, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, at time.Time) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error

	InsertLog(ctx context.Context, db *gorm.DB, entry *DeploymentLog) error
	FindOpenLog(ctx context.Context, db *gorm.DB, instanceID snowflake.ID, action Action) (*DeploymentLog, error)
	CloseLog(ctx context.Context, db *gorm.DB, logID snowflake.ID, status LogStatus, errMsg *string, durationSeconds int, details map[string]any) error
	ListLogs(ctx context.Context, db *gorm.DB, instanceID snowflake.ID) ([]DeploymentLog, error)
	ListStaleOpenLogs(ctx context.Context, db *gorm.DB, cutoff time.Time) ([]DeploymentLog, error)
}
