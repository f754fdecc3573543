package service

import (
	"context"
	"errors"

	"rewardsys/internal/model"
	"rewardsys/internal/repository"

	"gorm.io/gorm"
)

type TenantService struct {
	db         *gorm.DB
	tenantRepo *repository.TenantRepository
	ledgerRepo *repository.LedgerRepository
}

func NewTenantService(db *gorm.DB) *TenantService {
	return &TenantService{
		db:         db,
		tenantRepo: repository.NewTenantRepository(db),
		ledgerRepo: repository.NewLedgerRepository(db),
	}
}

func (s *TenantService) CreateTenant(ctx context.Context, name string) (*model.Tenant, error) {
	if name == "" {
		return nil, errors.New("租户名称不能为空")
	}
	tenant := &model.Tenant{Name: name}
	if err := s.tenantRepo.Create(ctx, tenant); err != nil {
		return nil, err
	}
	return tenant, nil
}

func (s *TenantService) GetTenant(ctx context.Context, tenantID int64) (*model.Tenant, error) {
	return s.tenantRepo.GetByID(ctx, tenantID)
}

// ListMasterLedger 租户主预算流水（审计浏览）
func (s *TenantService) ListMasterLedger(ctx context.Context, tenantID int64, page, pageSize int) ([]*model.MasterBudgetLedger, int64, error) {
	return s.ledgerRepo.ListMasterBudgetLedger(ctx, tenantID, page, pageSize)
}
