package repository

import (
	"context"
	"errors"

	"rewardsys/internal/model"

	"gorm.io/gorm"
)

var ErrRewardNotFound = errors.New("奖品不存在或已下架")

type RewardRepository struct {
	db *gorm.DB
}

func NewRewardRepository(db *gorm.DB) *RewardRepository {
	return &RewardRepository{db: db}
}

func (r *RewardRepository) Create(ctx context.Context, item *model.RewardItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

// GetActiveBySKU 只返回上架中的奖品，下架奖品视同不存在
func (r *RewardRepository) GetActiveBySKU(ctx context.Context, sku string) (*model.RewardItem, error) {
	var item model.RewardItem
	err := r.db.WithContext(ctx).Where("sku = ? AND active = ?", sku, true).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRewardNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (r *RewardRepository) ListActive(ctx context.Context) ([]*model.RewardItem, error) {
	var items []*model.RewardItem
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("point_cost ASC").
		Find(&items).Error
	return items, err
}

func (r *RewardRepository) Deactivate(ctx context.Context, sku string) error {
	result := r.db.WithContext(ctx).
		Model(&model.RewardItem{}).
		Where("sku = ?", sku).
		Update("active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRewardNotFound
	}
	return nil
}
