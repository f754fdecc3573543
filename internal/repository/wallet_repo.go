package repository

import (
	"context"
	"errors"

	"rewardsys/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrWalletNotFound         = errors.New("钱包不存在")
	ErrWalletBalanceNotEnough = errors.New("积分余额不足")
)

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) GetByUserID(ctx context.Context, userID int64) (*model.Wallet, error) {
	var wallet model.Wallet
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

func (r *WalletRepository) GetOrCreate(ctx context.Context, tenantID, userID int64) (*model.Wallet, error) {
	wallet, err := r.GetByUserID(ctx, userID)
	if err == nil {
		return wallet, nil
	}

	if !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}

	newWallet := &model.Wallet{
		TenantID: tenantID,
		UserID:   userID,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(newWallet).Error

	if err != nil {
		return nil, err
	}

	return r.GetByUserID(ctx, userID)
}

// Credit 奖励入账：余额和累计获得同步增加
func (r *WalletRepository) Credit(ctx context.Context, tx *gorm.DB, userID int64, points int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"balance":         gorm.Expr("balance + ?", points),
			"lifetime_earned": gorm.Expr("lifetime_earned + ?", points),
			"version":         gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// Spend 兑换扣减：余额减少，累计消费增加
// 条件 UPDATE 保证余额不为负；RowsAffected == 0 时重查区分余额不足和版本冲突
func (r *WalletRepository) Spend(ctx context.Context, tx *gorm.DB, userID int64, points int64, version int) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ? AND balance >= ? AND version = ?", userID, points, version).
		Updates(map[string]interface{}{
			"balance":        gorm.Expr("balance - ?", points),
			"lifetime_spent": gorm.Expr("lifetime_spent + ?", points),
			"version":        gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		wallet, err := r.GetByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if wallet.Balance < points {
			return ErrWalletBalanceNotEnough
		}
		return ErrOptimisticLock
	}

	return nil
}

// Refund 兑换失败冲正：余额返还，累计消费回退
// 与 Spend 严格对称，保证冲正后钱包数字与扣减前一致
func (r *WalletRepository) Refund(ctx context.Context, tx *gorm.DB, userID int64, points int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"balance":        gorm.Expr("balance + ?", points),
			"lifetime_spent": gorm.Expr("lifetime_spent - ?", points),
			"version":        gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// Clawback 管理员回收：只扣减可用余额，历史累计获得不回改
func (r *WalletRepository) Clawback(ctx context.Context, tx *gorm.DB, userID int64, points int64, version int) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ? AND balance >= ? AND version = ?", userID, points, version).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance - ?", points),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		wallet, err := r.GetByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if wallet.Balance < points {
			return ErrWalletBalanceNotEnough
		}
		return ErrOptimisticLock
	}

	return nil
}
