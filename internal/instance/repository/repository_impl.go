package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nimbushost/fleet/internal/instance/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, instance *domain.Instance) error {
	return db.WithContext(ctx).Create(instance).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Instance, error) {
	var instance domain.Instance
	err := db.WithContext(ctx).First(&instance, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &instance, nil
}

func (r *repo) ListAll(ctx context.Context, db *gorm.DB) ([]domain.Instance, error) {
	var instances []domain.Instance
	err := db.WithContext(ctx).
		Order("created_at desc, id desc").
		Find(&instances).Error
	if err != nil {
		return nil, err
	}
	return instances, nil
}

func (r *repo) ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]domain.Instance, error) {
	var instances []domain.Instance
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at desc, id desc").
		Find(&instances).Error
	if err != nil {
		return nil, err
	}
	return instances, nil
}

func (r *repo) ListByStatuses(ctx context.Context, db *gorm.DB, statuses []domain.Status) ([]domain.Instance, error) {
	var instances []domain.Instance
	err := db.WithContext(ctx).
		Where("status IN ?", statuses).
		Find(&instances).Error
	if err != nil {
		return nil, err
	}
	return instances, nil
}

func (r *repo) CountByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Instance{}).
		Where("tenant_id = ?", tenantID).
		Count(&count).Error
	return count, err
}

func (r *repo) MaxPort(ctx context.Context, db *gorm.DB) (int, bool, error) {
	var result struct {
		MaxPort *int
	}
	err := db.WithContext(ctx).
		Model(&domain.Instance{}).
		Select("MAX(port) AS max_port").
		Scan(&result).Error
	if err != nil {
		return 0, false, err
	}
	if result.MaxPort == nil {
		return 0, false, nil
	}
	return *result.MaxPort, true, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.Status, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Instance{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": at}).Error
}

// Delete removes the instance and its deployment logs. The log delete
// is explicit so dialects without enforced foreign keys behave the
// same as postgres.
func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("instance_id = ?", id).Delete(&domain.DeploymentLog{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&domain.Instance{}).Error
	})
}

func (r *repo) InsertLog(ctx context.Context, db *gorm.DB, entry *domain.DeploymentLog) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) FindOpenLog(ctx context.Context, db *gorm.DB, instanceID snowflake.ID, action domain.Action) (*domain.DeploymentLog, error) {
	var entry domain.DeploymentLog
	err := db.WithContext(ctx).
		Where("instance_id = ? AND action = ? AND status = ?", instanceID, action, domain.LogStatusInProgress).
		Order("created_at desc").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repo) CloseLog(ctx context.Context, db *gorm.DB, logID snowflake.ID, status domain.LogStatus, errMsg *string, durationSeconds int, details map[string]any) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry domain.DeploymentLog
		if err := tx.First(&entry, "id = ?", logID).Error; err != nil {
			return err
		}
		if entry.Status != domain.LogStatusInProgress {
			// Already closed by a concurrent writer; keep the first
			// terminal outcome.
			return nil
		}

		merged := map[string]any(entry.Details)
		if merged == nil {
			merged = map[string]any{}
		}
		for k, v := range details {
			merged[k] = v
		}

		return tx.Model(&domain.DeploymentLog{}).
			Where("id = ? AND status = ?", logID, domain.LogStatusInProgress).
			Updates(map[string]any{
				"status":           status,
				"error_message":    errMsg,
				"duration_seconds": durationSeconds,
				"details":          datatypes.JSONMap(merged),
			}).Error
	})
}

func (r *repo) ListLogs(ctx context.Context, db *gorm.DB, instanceID snowflake.ID) ([]domain.DeploymentLog, error) {
	var entries []domain.DeploymentLog
	err := db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		Order("created_at desc, id desc").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) ListStaleOpenLogs(ctx context.Context, db *gorm.DB, cutoff time.Time) ([]domain.DeploymentLog, error) {
	var entries []domain.DeploymentLog
	err := db.WithContext(ctx).
		Where("status = ? AND created_at < ?", domain.LogStatusInProgress, cutoff).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
