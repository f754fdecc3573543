package repository

import (
	"context"
	"errors"

	"rewardsys/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrDepartmentBudgetNotFound  = errors.New("部门预算不存在")
	ErrDepartmentBudgetNotEnough = errors.New("部门预算可用额度不足")
)

type DepartmentBudgetRepository struct {
	db *gorm.DB
}

func NewDepartmentBudgetRepository(db *gorm.DB) *DepartmentBudgetRepository {
	return &DepartmentBudgetRepository{db: db}
}

func (r *DepartmentBudgetRepository) GetByBudgetAndDepartment(ctx context.Context, tx *gorm.DB, budgetID, departmentID int64) (*model.DepartmentBudget, error) {
	if tx == nil {
		tx = r.db
	}
	var dept model.DepartmentBudget
	err := tx.WithContext(ctx).
		Where("budget_id = ? AND department_id = ?", budgetID, departmentID).
		First(&dept).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDepartmentBudgetNotFound
		}
		return nil, err
	}
	return &dept, nil
}

// GetOrCreate 获取或创建部门份额行（首次向该部门分配时创建）
//
// 【重要】在事务内调用时，读和写必须走同一个 tx：
// 本事务插入的行对其他连接不可见，走 r.db 重查会拿不到刚建的行
func (r *DepartmentBudgetRepository) GetOrCreate(ctx context.Context, tx *gorm.DB, tenantID, budgetID, departmentID int64) (*model.DepartmentBudget, error) {
	if tx == nil {
		tx = r.db
	}

	dept, err := r.GetByBudgetAndDepartment(ctx, tx, budgetID, departmentID)
	if err == nil {
		return dept, nil
	}
	if !errors.Is(err, ErrDepartmentBudgetNotFound) {
		return nil, err
	}

	newDept := &model.DepartmentBudget{
		TenantID:     tenantID,
		BudgetID:     budgetID,
		DepartmentID: departmentID,
	}

	err = tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "budget_id"}, {Name: "department_id"}},
			DoNothing: true,
		}).
		Create(newDept).Error
	if err != nil {
		return nil, err
	}

	return r.GetByBudgetAndDepartment(ctx, tx, budgetID, departmentID)
}

// IncreaseAllocated 增加部门份额（预算 -> 部门下放）
func (r *DepartmentBudgetRepository) IncreaseAllocated(ctx context.Context, tx *gorm.DB, id int64, points int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.DepartmentBudget{}).
		Where("id = ?", id).
		Update("allocated_points", gorm.Expr("allocated_points + ?", points))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDepartmentBudgetNotFound
	}
	return nil
}

// IncreaseSpent 消耗部门份额（部门 -> 负责人下放 / 管理员奖励）
// 条件 UPDATE 保证 spent + points <= allocated
func (r *DepartmentBudgetRepository) IncreaseSpent(ctx context.Context, tx *gorm.DB, id int64, points int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.DepartmentBudget{}).
		Where("id = ? AND spent_points + ? <= allocated_points", id, points).
		Update("spent_points", gorm.Expr("spent_points + ?", points))

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		var dept model.DepartmentBudget
		if err := tx.WithContext(ctx).Where("id = ?", id).First(&dept).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDepartmentBudgetNotFound
			}
			return err
		}
		return ErrDepartmentBudgetNotEnough
	}

	return nil
}

func (r *DepartmentBudgetRepository) ListByBudget(ctx context.Context, budgetID int64) ([]*model.DepartmentBudget, error) {
	var depts []*model.DepartmentBudget
	err := r.db.WithContext(ctx).
		Where("budget_id = ?", budgetID).
		Order("department_id ASC").
		Find(&depts).Error
	return depts, err
}
