package service

import (
	"context"
	"errors"

	"rewardsys/internal/model"
	"rewardsys/internal/repository"

	"gorm.io/gorm"
)

type RewardService struct {
	db         *gorm.DB
	rewardRepo *repository.RewardRepository
}

func NewRewardService(db *gorm.DB) *RewardService {
	return &RewardService{
		db:         db,
		rewardRepo: repository.NewRewardRepository(db),
	}
}

type CreateRewardRequest struct {
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	RewardType   string `json:"reward_type"`
	PointCost    int64  `json:"point_cost"`
	ProviderCode string `json:"provider_code"`
}

func (s *RewardService) CreateReward(ctx context.Context, req *CreateRewardRequest) (*model.RewardItem, error) {
	if req.PointCost <= 0 {
		return nil, errors.New("兑换积分必须大于0")
	}
	if req.RewardType != model.RewardTypeGiftCard && req.RewardType != model.RewardTypeMerchandise {
		return nil, errors.New("奖品类型不合法")
	}

	item := &model.RewardItem{
		SKU:          req.SKU,
		Name:         req.Name,
		RewardType:   req.RewardType,
		PointCost:    req.PointCost,
		ProviderCode: req.ProviderCode,
		Active:       true,
	}
	if err := s.rewardRepo.Create(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *RewardService) ListRewards(ctx context.Context) ([]*model.RewardItem, error) {
	return s.rewardRepo.ListActive(ctx)
}

func (s *RewardService) DeactivateReward(ctx context.Context, sku string) error {
	return s.rewardRepo.Deactivate(ctx, sku)
}
