package repository

import (
	"context"
	"errors"
	"time"

	"rewardsys/internal/model"

	"gorm.io/gorm"
)

var (
	ErrRedemptionNotFound      = errors.New("兑换单不存在")
	ErrRedemptionStatusInvalid = errors.New("兑换单状态不合法")
)

type RedemptionRepository struct {
	db *gorm.DB
}

func NewRedemptionRepository(db *gorm.DB) *RedemptionRepository {
	return &RedemptionRepository{db: db}
}

func (r *RedemptionRepository) Create(ctx context.Context, tx *gorm.DB, redemption *model.Redemption) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(redemption).Error
}

func (r *RedemptionRepository) GetByRedemptionNo(ctx context.Context, redemptionNo string) (*model.Redemption, error) {
	var redemption model.Redemption
	err := r.db.WithContext(ctx).Where("redemption_no = ?", redemptionNo).First(&redemption).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRedemptionNotFound
		}
		return nil, err
	}
	return &redemption, nil
}

func (r *RedemptionRepository) GetByRequestID(ctx context.Context, requestID string) (*model.Redemption, error) {
	var redemption model.Redemption
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&redemption).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &redemption, nil
}

// UpdateStatus 条件更新状态
// WHERE status = fromStatus 保证同一流转只会成功一次，
// 这是"冲正恰好一次"的核心保障
func (r *RedemptionRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, redemptionNo string, fromStatus, toStatus string) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrRedemptionStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Redemption{}).
		Where("redemption_no = ? AND status = ?", redemptionNo, fromStatus).
		Update("status", toStatus)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrRedemptionStatusInvalid
	}

	return nil
}

// MarkCompleted 履约成功：PROCESSING -> COMPLETED，写入兑换码
func (r *RedemptionRepository) MarkCompleted(ctx context.Context, tx *gorm.DB, redemptionNo, voucherCode string) error {
	if tx == nil {
		tx = r.db
	}

	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.Redemption{}).
		Where("redemption_no = ? AND status = ?", redemptionNo, model.RedemptionStatusProcessing).
		Updates(map[string]interface{}{
			"status":       model.RedemptionStatusCompleted,
			"voucher_code": voucherCode,
			"completed_at": &now,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRedemptionStatusInvalid
	}
	return nil
}

// MarkFailed 履约失败：PROCESSING -> FAILED，记录原因并打冲正标记
// refunded = false 的前置条件保证冲正只执行一次
func (r *RedemptionRepository) MarkFailed(ctx context.Context, tx *gorm.DB, redemptionNo, reason string) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Redemption{}).
		Where("redemption_no = ? AND status = ? AND refunded = ?",
			redemptionNo, model.RedemptionStatusProcessing, false).
		Updates(map[string]interface{}{
			"status":        model.RedemptionStatusFailed,
			"failed_reason": reason,
			"refunded":      true,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRedemptionStatusInvalid
	}
	return nil
}

// GetPendingBatch 取一批待履约兑换单
func (r *RedemptionRepository) GetPendingBatch(ctx context.Context, limit int) ([]*model.Redemption, error) {
	var redemptions []*model.Redemption
	err := r.db.WithContext(ctx).
		Where("status = ?", model.RedemptionStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&redemptions).Error
	return redemptions, err
}

// GetStuckProcessing 取长时间停留在 PROCESSING 的卡单
// （履约任务在认领后、调用供应商前崩溃会留下这种单）
func (r *RedemptionRepository) GetStuckProcessing(ctx context.Context, beforeTime time.Time, limit int) ([]*model.Redemption, error) {
	var redemptions []*model.Redemption
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.RedemptionStatusProcessing, beforeTime).
		Limit(limit).
		Find(&redemptions).Error
	return redemptions, err
}

func (r *RedemptionRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Redemption, int64, error) {
	var redemptions []*model.Redemption
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Redemption{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&redemptions).Error

	return redemptions, total, err
}
