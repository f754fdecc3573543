package repository

import (
	"context"
	"errors"

	"rewardsys/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrLeadAllocationNotFound  = errors.New("负责人额度不存在")
	ErrLeadAllocationNotEnough = errors.New("负责人可用额度不足")
)

type LeadAllocationRepository struct {
	db *gorm.DB
}

func NewLeadAllocationRepository(db *gorm.DB) *LeadAllocationRepository {
	return &LeadAllocationRepository{db: db}
}

func (r *LeadAllocationRepository) GetByBudgetAndLead(ctx context.Context, tx *gorm.DB, budgetID, leadUserID int64) (*model.LeadAllocation, error) {
	if tx == nil {
		tx = r.db
	}
	var lead model.LeadAllocation
	err := tx.WithContext(ctx).
		Where("budget_id = ? AND lead_user_id = ?", budgetID, leadUserID).
		First(&lead).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLeadAllocationNotFound
		}
		return nil, err
	}
	return &lead, nil
}

// GetOrCreate 获取或创建负责人额度行（首次下放时创建）
// 在事务内调用时读写必须走同一个 tx，理由同 DepartmentBudgetRepository.GetOrCreate
func (r *LeadAllocationRepository) GetOrCreate(ctx context.Context, tx *gorm.DB, tenantID, budgetID, departmentID, leadUserID int64) (*model.LeadAllocation, error) {
	if tx == nil {
		tx = r.db
	}

	lead, err := r.GetByBudgetAndLead(ctx, tx, budgetID, leadUserID)
	if err == nil {
		return lead, nil
	}
	if !errors.Is(err, ErrLeadAllocationNotFound) {
		return nil, err
	}

	newLead := &model.LeadAllocation{
		TenantID:     tenantID,
		BudgetID:     budgetID,
		DepartmentID: departmentID,
		LeadUserID:   leadUserID,
	}

	err = tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "budget_id"}, {Name: "lead_user_id"}},
			DoNothing: true,
		}).
		Create(newLead).Error
	if err != nil {
		return nil, err
	}

	return r.GetByBudgetAndLead(ctx, tx, budgetID, leadUserID)
}

// IncreaseAllocated 增加负责人额度（部门 -> 负责人下放）
func (r *LeadAllocationRepository) IncreaseAllocated(ctx context.Context, tx *gorm.DB, id int64, points int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.LeadAllocation{}).
		Where("id = ?", id).
		Update("allocated_points", gorm.Expr("allocated_points + ?", points))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLeadAllocationNotFound
	}
	return nil
}

// IncreaseSpent 消耗负责人额度（奖励下属 / 同事认可）
// 条件 UPDATE 保证 spent + points <= allocated
func (r *LeadAllocationRepository) IncreaseSpent(ctx context.Context, tx *gorm.DB, id int64, points int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.LeadAllocation{}).
		Where("id = ? AND spent_points + ? <= allocated_points", id, points).
		Update("spent_points", gorm.Expr("spent_points + ?", points))

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		var lead model.LeadAllocation
		if err := tx.WithContext(ctx).Where("id = ?", id).First(&lead).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrLeadAllocationNotFound
			}
			return err
		}
		return ErrLeadAllocationNotEnough
	}

	return nil
}

func (r *LeadAllocationRepository) ListByBudget(ctx context.Context, budgetID int64) ([]*model.LeadAllocation, error) {
	var leads []*model.LeadAllocation
	err := r.db.WithContext(ctx).
		Where("budget_id = ?", budgetID).
		Order("lead_user_id ASC").
		Find(&leads).Error
	return leads, err
}
