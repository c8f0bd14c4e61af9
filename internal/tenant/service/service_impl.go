package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/nimbushost/fleet/internal/tenant/domain"
	pkgdb "github.com/nimbushost/fleet/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("tenant.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) EnsureProfile(ctx context.Context, req domain.EnsureProfileRequest) (*domain.Tenant, error) {
	if req.UserID == 0 || strings.TrimSpace(req.CompanyName) == "" {
		return nil, domain.ErrInvalidRequest
	}

	existing, err := s.repo.FindByUserID(ctx, s.db, req.UserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	tenant := &domain.Tenant{
		ID:          s.genID.Generate(),
		UserID:      req.UserID,
		CompanyName: strings.TrimSpace(req.CompanyName),
		Phone:       strings.TrimSpace(req.Phone),
		Address:     strings.TrimSpace(req.Address),
	}
	if err := s.repo.Insert(ctx, s.db, tenant); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			// Lost a concurrent signup race, re-read the winner.
			return s.repo.FindByUserID(ctx, s.db, req.UserID)
		}
		return nil, err
	}

	s.log.Info("tenant profile created",
		zap.Int64("tenant_id", int64(tenant.ID)),
		zap.Int64("user_id", int64(req.UserID)),
	)
	return tenant, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Tenant, error) {
	tenant, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, domain.ErrNotFound
	}
	return tenant, nil
}

func (s *Service) GetByUser(ctx context.Context, userID snowflake.ID) (*domain.Tenant, error) {
	tenant, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, domain.ErrNotFound
	}
	return tenant, nil
}
