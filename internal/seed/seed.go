// Package seed bootstraps the default plan catalog so a fresh install
// can sell instances without manual setup.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	billingdomain "github.com/nimbushost/fleet/internal/billing/domain"
)

type planSpec struct {
	Name            string
	Price           float64
	MaxUsers        int
	StorageLimitGB  int
	MaxInstances    int
	AllowedFeatures []string
}

var defaultPlans = []planSpec{
	{
		Name:           "Starter",
		Price:          19.00,
		MaxUsers:       3,
		StorageLimitGB: 10,
		MaxInstances:   1,
		AllowedFeatures: []string{
			"base", "web", "mail", "contacts", "calendar",
			"crm", "sale", "purchase", "stock", "account",
		},
	},
	{
		Name:           "Business",
		Price:          49.00,
		MaxUsers:       15,
		StorageLimitGB: 50,
		MaxInstances:   2,
		AllowedFeatures: []string{
			"base", "web", "mail", "contacts", "calendar",
			"crm", "sale", "purchase", "stock", "account",
			"project", "hr", "helpdesk", "website", "mass_mailing",
		},
	},
	{
		Name:           "Enterprise",
		Price:          99.00,
		MaxUsers:       50,
		StorageLimitGB: 200,
		MaxInstances:   5,
		AllowedFeatures: []string{
			"base", "web", "mail", "contacts", "calendar",
			"crm", "sale", "purchase", "stock", "account",
			"project", "hr", "helpdesk", "website", "mass_mailing",
			"documents", "sign", "voip", "knowledge", "studio",
		},
	},
}

// EnsurePlans seeds the Starter/Business/Enterprise catalog.
// Idempotent: existing plans are updated in place, never duplicated.
func EnsurePlans(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, spec := range defaultPlans {
			if err := ensurePlanTx(ctx, tx, node, spec); err != nil {
				return err
			}
		}
		return nil
	})
}

func ensurePlanTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, spec planSpec) error {
	var plan billingdomain.Plan
	err := tx.WithContext(ctx).Where("name = ?", spec.Name).First(&plan).Error
	if err == nil {
		return tx.WithContext(ctx).Model(&plan).Updates(map[string]any{
			"price":            spec.Price,
			"max_users":        spec.MaxUsers,
			"storage_limit_gb": spec.StorageLimitGB,
			"max_instances":    spec.MaxInstances,
			"allowed_features": datatypes.NewJSONSlice(spec.AllowedFeatures),
			"is_active":        true,
		}).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	plan = billingdomain.Plan{
		ID:              node.Generate(),
		Name:            spec.Name,
		Price:           spec.Price,
		MaxUsers:        spec.MaxUsers,
		StorageLimitGB:  spec.StorageLimitGB,
		MaxInstances:    spec.MaxInstances,
		AllowedFeatures: datatypes.NewJSONSlice(spec.AllowedFeatures),
		RuntimeVersion:  "18",
		IsActive:        true,
		CreatedAt:       time.Now().UTC(),
	}
	return tx.WithContext(ctx).Create(&plan).Error
}
