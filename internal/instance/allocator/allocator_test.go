package allocator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nimbushost/fleet/internal/instance/domain"
	"github.com/nimbushost/fleet/internal/instance/repository"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	require.NoError(t, db.AutoMigrate(&domain.Instance{}, &domain.DeploymentLog{}))
	return db
}

func seedInstance(t *testing.T, db *gorm.DB, node *snowflake.Node, name string, port int) {
	t.Helper()

	now := time.Now().UTC()
	err := db.Create(&domain.Instance{
		ID:             node.Generate(),
		TenantID:       node.Generate(),
		SubscriptionID: node.Generate(),
		Name:           name,
		ContainerName:  "app_" + name,
		DBName:         name,
		DBPassword:     "x",
		AdminPassword:  "x",
		Domain:         name + ".nimbushost.app",
		Port:           port,
		RuntimeVersion: "18",
		Status:         domain.StatusRunning,
		CreatedAt:      now,
		UpdatedAt:      now,
	}).Error
	require.NoError(t, err)
}

func TestAllocateFirstPort(t *testing.T) {
	db := setupDB(t)
	alloc := New(repository.Provide(), 8070, "app_", ".nimbushost.app")

	allocation, err := alloc.Allocate(context.Background(), db, "Acme Corp", "", "")
	require.NoError(t, err)

	require.Equal(t, 8070, allocation.Port)
	require.Equal(t, "acme-corp", allocation.Name)
	require.Equal(t, "app_acme-corp", allocation.ContainerName)
	require.Equal(t, "acme_corp", allocation.DBName)
	require.Equal(t, "acme-corp.nimbushost.app", allocation.Domain)
	require.Len(t, allocation.DBPassword, 32)
	require.Len(t, allocation.AdminPassword, 12)
}

func TestAllocateNextPortAboveMax(t *testing.T) {
	db := setupDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	seedInstance(t, db, node, "one", 8070)
	seedInstance(t, db, node, "two", 8075)

	alloc := New(repository.Provide(), 8070, "app_", ".nimbushost.app")
	allocation, err := alloc.Allocate(context.Background(), db, "three", "", "")
	require.NoError(t, err)
	require.Equal(t, 8076, allocation.Port)
}

func TestAllocateKeepsRequestedDomain(t *testing.T) {
	db := setupDB(t)
	alloc := New(repository.Provide(), 8070, "app_", ".nimbushost.app")

	allocation, err := alloc.Allocate(context.Background(), db, "shop", "Shop.Example.COM", "")
	require.NoError(t, err)
	require.Equal(t, "shop.example.com", allocation.Domain)
}

func TestAllocateKeepsRequestedContainerName(t *testing.T) {
	db := setupDB(t)
	alloc := New(repository.Provide(), 8070, "app_", ".nimbushost.app")

	allocation, err := alloc.Allocate(context.Background(), db, "shop", "", "  legacy_shop ")
	require.NoError(t, err)
	require.Equal(t, "legacy_shop", allocation.ContainerName)

	fallback, err := alloc.Allocate(context.Background(), db, "store", "", "")
	require.NoError(t, err)
	require.Equal(t, "app_store", fallback.ContainerName)
}

func TestAllocateRejectsEmptyName(t *testing.T) {
	db := setupDB(t)
	alloc := New(repository.Provide(), 8070, "app_", ".nimbushost.app")

	_, err := alloc.Allocate(context.Background(), db, "   ", "", "")
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestAllocatePasswordsDiffer(t *testing.T) {
	db := setupDB(t)
	alloc := New(repository.Provide(), 8070, "app_", ".nimbushost.app")

	first, err := alloc.Allocate(context.Background(), db, "alpha", "", "")
	require.NoError(t, err)
	second, err := alloc.Allocate(context.Background(), db, "beta", "", "")
	require.NoError(t, err)

	require.NotEqual(t, first.DBPassword, second.DBPassword)
	require.NotEqual(t, first.AdminPassword, second.AdminPassword)
}
