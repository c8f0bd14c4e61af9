// Package domain contains persistence models for tenants.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Tenant is a paying customer owning zero or more instances. UserID
// references the account in the external identity system.
type Tenant struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID      snowflake.ID `gorm:"uniqueIndex;not null" json:"user_id"`
	CompanyName string       `gorm:"not null" json:"company_name"`
	Phone       string       `gorm:"type:text" json:"phone"`
	Address     string       `gorm:"type:text" json:"address"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Tenant) TableName() string { return "tenants" }
