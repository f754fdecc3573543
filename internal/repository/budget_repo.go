package repository

import (
	"context"
	"errors"

	"rewardsys/internal/model"

	"gorm.io/gorm"
)

var (
	ErrBudgetNotFound = errors.New("预算不存在")
	ErrBudgetExceeded = errors.New("超出预算信封上限")
)

type BudgetRepository struct {
	db *gorm.DB
}

func NewBudgetRepository(db *gorm.DB) *BudgetRepository {
	return &BudgetRepository{db: db}
}

func (r *BudgetRepository) Create(ctx context.Context, tx *gorm.DB, budget *model.Budget) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(budget).Error
}

func (r *BudgetRepository) GetByID(ctx context.Context, budgetID int64) (*model.Budget, error) {
	var budget model.Budget
	err := r.db.WithContext(ctx).Where("id = ?", budgetID).First(&budget).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBudgetNotFound
		}
		return nil, err
	}
	return &budget, nil
}

// IncreaseAllocated 增加信封已分配额度
// 条件 UPDATE 保证 allocated_points + points <= total_points，
// 这是 allocated <= total 不变式的应用层第一道防线（数据库 CHECK 是第二道）
func (r *BudgetRepository) IncreaseAllocated(ctx context.Context, tx *gorm.DB, budgetID int64, points int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Budget{}).
		Where("id = ? AND allocated_points + ? <= total_points", budgetID, points).
		Update("allocated_points", gorm.Expr("allocated_points + ?", points))

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, budgetID); err != nil {
			return err
		}
		return ErrBudgetExceeded
	}

	return nil
}

// SumDepartmentAllocated 汇总某预算下所有部门份额
// 事务内的聚合复核：sum(子份额) <= 信封总额，与条件 UPDATE 形成双重校验
func (r *BudgetRepository) SumDepartmentAllocated(ctx context.Context, tx *gorm.DB, budgetID int64) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	var sum int64
	err := tx.WithContext(ctx).
		Model(&model.DepartmentBudget{}).
		Where("budget_id = ?", budgetID).
		Select("COALESCE(SUM(allocated_points), 0)").
		Scan(&sum).Error
	return sum, err
}

func (r *BudgetRepository) ListByTenant(ctx context.Context, tenantID int64, page, pageSize int) ([]*model.Budget, int64, error) {
	var budgets []*model.Budget
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Budget{}).Where("tenant_id = ?", tenantID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&budgets).Error

	return budgets, total, err
}
