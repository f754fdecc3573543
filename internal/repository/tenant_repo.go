package repository

import (
	"context"
	"errors"

	"rewardsys/internal/model"

	"gorm.io/gorm"
)

var (
	ErrTenantNotFound         = errors.New("租户不存在")
	ErrTenantBalanceNotEnough = errors.New("租户可分配余额不足")
	ErrOptimisticLock         = errors.New("乐观锁冲突，请重试")
)

type TenantRepository struct {
	db *gorm.DB
}

func NewTenantRepository(db *gorm.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

func (r *TenantRepository) Create(ctx context.Context, tenant *model.Tenant) error {
	return r.db.WithContext(ctx).Create(tenant).Error
}

func (r *TenantRepository) GetByID(ctx context.Context, tenantID int64) (*model.Tenant, error) {
	var tenant model.Tenant
	err := r.db.WithContext(ctx).Where("id = ?", tenantID).First(&tenant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}
	return &tenant, nil
}

// CreditPools 同步增加租户的三个池字段
// 平台授予、员工积分回收（clawback）时调用
//
// 【重要】三个字段必须在同一条 UPDATE 中变动，不允许分开更新
func (r *TenantRepository) CreditPools(ctx context.Context, tx *gorm.DB, tenantID int64, points int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Tenant{}).
		Where("id = ?", tenantID).
		Updates(map[string]interface{}{
			"master_budget_balance":     gorm.Expr("master_budget_balance + ?", points),
			"budget_allocation_balance": gorm.Expr("budget_allocation_balance + ?", points),
			"allocated_budget":          gorm.Expr("allocated_budget + ?", points),
			"version":                   gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTenantNotFound
	}
	return nil
}

// DebitPools 同步扣减主预算和可分配余额（创建预算信封时调用）
// AllocatedBudget 记录的是平台累计授予，下放时不回退
//
// RowsAffected == 0 时重查区分余额不足和版本冲突
func (r *TenantRepository) DebitPools(ctx context.Context, tx *gorm.DB, tenantID int64, points int64, version int) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Tenant{}).
		Where("id = ? AND budget_allocation_balance >= ? AND master_budget_balance >= ? AND version = ?",
			tenantID, points, points, version).
		Updates(map[string]interface{}{
			"master_budget_balance":     gorm.Expr("master_budget_balance - ?", points),
			"budget_allocation_balance": gorm.Expr("budget_allocation_balance - ?", points),
			"version":                   gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		tenant, err := r.GetByID(ctx, tenantID)
		if err != nil {
			return err
		}
		if tenant.BudgetAllocationBalance < points || tenant.MasterBudgetBalance < points {
			return ErrTenantBalanceNotEnough
		}
		return ErrOptimisticLock
	}

	return nil
}
