package repository

import (
	"context"

	"rewardsys/internal/model"

	"gorm.io/gorm"
)

// LedgerRepository 五张流水表的统一写入/查询入口
// 所有 Create 方法都要求在调用方的事务内执行（tx 为 nil 时直接写库，仅测试用）
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) CreatePlatformBillingLog(ctx context.Context, tx *gorm.DB, entry *model.PlatformBillingLog) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(entry).Error
}

func (r *LedgerRepository) CreateMasterBudgetLedger(ctx context.Context, tx *gorm.DB, entry *model.MasterBudgetLedger) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(entry).Error
}

func (r *LedgerRepository) CreateAllocationLog(ctx context.Context, tx *gorm.DB, entry *model.AllocationLog) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(entry).Error
}

func (r *LedgerRepository) CreateWalletLedger(ctx context.Context, tx *gorm.DB, entry *model.WalletLedger) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(entry).Error
}

func (r *LedgerRepository) CreateRedemptionLedger(ctx context.Context, tx *gorm.DB, entry *model.RedemptionLedger) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(entry).Error
}

// ============================================================
// 审计查询
// ============================================================

func (r *LedgerRepository) ListWalletLedger(ctx context.Context, userID int64, page, pageSize int) ([]*model.WalletLedger, int64, error) {
	var entries []*model.WalletLedger
	var total int64

	query := r.db.WithContext(ctx).Model(&model.WalletLedger{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error

	return entries, total, err
}

func (r *LedgerRepository) ListMasterBudgetLedger(ctx context.Context, tenantID int64, page, pageSize int) ([]*model.MasterBudgetLedger, int64, error) {
	var entries []*model.MasterBudgetLedger
	var total int64

	query := r.db.WithContext(ctx).Model(&model.MasterBudgetLedger{}).Where("tenant_id = ?", tenantID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error

	return entries, total, err
}

func (r *LedgerRepository) ListAllocationLog(ctx context.Context, budgetID int64, page, pageSize int) ([]*model.AllocationLog, int64, error) {
	var entries []*model.AllocationLog
	var total int64

	query := r.db.WithContext(ctx).Model(&model.AllocationLog{}).Where("budget_id = ?", budgetID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error

	return entries, total, err
}

func (r *LedgerRepository) ListRedemptionLedger(ctx context.Context, redemptionNo string) ([]*model.RedemptionLedger, error) {
	var entries []*model.RedemptionLedger
	err := r.db.WithContext(ctx).
		Where("redemption_no = ?", redemptionNo).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}

// GetWalletLedgerByReference 按业务单号查钱包流水（冲正幂等校验用）
func (r *LedgerRepository) GetWalletLedgerByReference(ctx context.Context, userID int64, referenceNo, ledgerType string) (*model.WalletLedger, error) {
	var entry model.WalletLedger
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND reference_no = ? AND type = ?", userID, referenceNo, ledgerType).
		First(&entry).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}
