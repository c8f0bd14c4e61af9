// Package domain contains the instance fleet model: one record per
// provisioned deployment plus its append-only deployment log.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status represents lifecycle states for an instance.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusDeploying Status = "DEPLOYING"
	StatusRunning   Status = "RUNNING"
	StatusStopped   Status = "STOPPED"
	StatusError     Status = "ERROR"
)

// Instance is one provisioned deployment bound to a tenant and the
// subscription that entitled it. Name, container name, domain and port
// are each unique across the fleet.
type Instance struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID       snowflake.ID `gorm:"not null;index" json:"tenant_id"`
	SubscriptionID snowflake.ID `gorm:"not null;index" json:"subscription_id"`
	Name           string       `gorm:"uniqueIndex;not null" json:"name"`
	ContainerName  string       `gorm:"uniqueIndex;not null" json:"container_name"`
	DBName         string       `gorm:"not null" json:"db_name"`
	DBPassword     string       `gorm:"not null" json:"-"`
	AdminPassword  string       `gorm:"not null" json:"-"`
	Domain         string       `gorm:"uniqueIndex;not null" json:"domain"`
	Port           int          `gorm:"uniqueIndex;not null" json:"port"`
	RuntimeVersion string       `gorm:"type:text;not null" json:"runtime_version"`
	Status         Status       `gorm:"type:text;not null;default:'CREATED'" json:"status"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null" json:"updated_at"`

	Logs []DeploymentLog `gorm:"foreignKey:InstanceID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName sets the database table name.
func (Instance) TableName() string { return "instances" }

// Action is the audit kind of a lifecycle action.
type Action string

const (
	ActionCreate  Action = "CREATE"
	ActionStart   Action = "START"
	ActionStop    Action = "STOP"
	ActionRestart Action = "RESTART"
	ActionRemove  Action = "REMOVE"
	ActionUpdate  Action = "UPDATE"
	ActionBackup  Action = "BACKUP"
	ActionRestore Action = "RESTORE"
)

// LogStatus represents the outcome of a lifecycle action attempt.
type LogStatus string

const (
	LogStatusInProgress LogStatus = "IN_PROGRESS"
	LogStatusSuccess    LogStatus = "SUCCESS"
	LogStatusFailed     LogStatus = "FAILED"
)

// DeploymentLog is one append-only audit record per lifecycle action
// attempt. At most one IN_PROGRESS entry is open per (instance,
// action) for the asynchronous provisioning workflow; it is closed by
// exactly one terminal write.
type DeploymentLog struct {
	ID              snowflake.ID      `gorm:"primaryKey" json:"id"`
	InstanceID      snowflake.ID      `gorm:"not null;index" json:"instance_id"`
	UserID          *snowflake.ID     `gorm:"index" json:"user_id,omitempty"`
	Action          Action            `gorm:"type:text;not null" json:"action"`
	Status          LogStatus         `gorm:"type:text;not null;default:'IN_PROGRESS'" json:"status"`
	Details         datatypes.JSONMap `gorm:"type:jsonb" json:"details"`
	ErrorMessage    *string           `gorm:"type:text" json:"error_message,omitempty"`
	DurationSeconds *int              `gorm:"" json:"duration_seconds,omitempty"`
	CreatedAt       time.Time         `gorm:"not null;index" json:"created_at"`
}

// TableName sets the database table name.
func (DeploymentLog) TableName() string { return "deployment_logs" }
