package model

import (
	"time"
)

// Budget 预算周期表
// 一个财年/季度的积分信封，从租户可分配余额中划出
//
// 不变式：AllocatedPoints <= TotalPoints
// 该约束在应用层（条件 UPDATE）和数据库层（CHECK）各执行一次
type Budget struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID        int64     `gorm:"index;not null" json:"tenant_id"`
	Name            string    `gorm:"type:varchar(128);not null" json:"name"`
	FiscalYear      int       `gorm:"not null" json:"fiscal_year"`
	FiscalQuarter   int       `gorm:"not null;default:0" json:"fiscal_quarter"` // 0 表示全年预算
	TotalPoints     int64     `gorm:"not null" json:"total_points"`             // 信封总额
	AllocatedPoints int64     `gorm:"not null;default:0;check:allocated_points <= total_points" json:"allocated_points"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Budget) TableName() string {
	return "budget"
}

// RemainingPoints 信封剩余可分配额度
func (b *Budget) RemainingPoints() int64 {
	return b.TotalPoints - b.AllocatedPoints
}

// DepartmentBudget 部门预算表
// 预算信封按部门切分出的份额
//
// 不变式：SpentPoints <= AllocatedPoints
// 且同一预算下所有部门的 AllocatedPoints 之和 <= Budget.TotalPoints
type DepartmentBudget struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID        int64     `gorm:"index;not null" json:"tenant_id"`
	BudgetID        int64     `gorm:"index:idx_budget_dept,unique;not null" json:"budget_id"`
	DepartmentID    int64     `gorm:"index:idx_budget_dept,unique;not null" json:"department_id"`
	AllocatedPoints int64     `gorm:"not null;default:0" json:"allocated_points"`
	SpentPoints     int64     `gorm:"not null;default:0;check:spent_points <= allocated_points" json:"spent_points"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (DepartmentBudget) TableName() string {
	return "department_budget"
}

// LeadAllocation 负责人额度表
// 部门预算再下放给某个 lead 用户的份额，lead 用它做下属奖励和同事认可
//
// 不变式：SpentPoints <= AllocatedPoints
type LeadAllocation struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID        int64     `gorm:"index;not null" json:"tenant_id"`
	BudgetID        int64     `gorm:"index:idx_budget_lead,unique;not null" json:"budget_id"`
	LeadUserID      int64     `gorm:"index:idx_budget_lead,unique;not null" json:"lead_user_id"`
	DepartmentID    int64     `gorm:"index;not null" json:"department_id"`
	AllocatedPoints int64     `gorm:"not null;default:0" json:"allocated_points"`
	SpentPoints     int64     `gorm:"not null;default:0;check:spent_points <= allocated_points" json:"spent_points"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (LeadAllocation) TableName() string {
	return "lead_allocation"
}
