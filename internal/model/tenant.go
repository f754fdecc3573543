package model

import (
	"time"
)

// Tenant 租户表
// 一个租户代表一家使用平台的企业，持有该企业可发放的积分池
//
// 【重要】三个池字段是同一概念的三个视角，历史原因并存：
//   - MasterBudgetBalance: 主预算余额（计费视角）
//   - BudgetAllocationBalance: 可分配余额（分配视角）
//   - AllocatedBudget: 平台已授予总额（审计视角）
//
// 任何涉及租户的转账操作必须在同一条 UPDATE 中同步维护三个字段，
// 禁止单独修改其中之一
type Tenant struct {
	ID                      int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name                    string    `gorm:"type:varchar(128);not null" json:"name"`
	MasterBudgetBalance     int64     `gorm:"not null;default:0" json:"master_budget_balance"`     // 主预算余额
	BudgetAllocationBalance int64     `gorm:"not null;default:0" json:"budget_allocation_balance"` // 可分配余额
	AllocatedBudget         int64     `gorm:"not null;default:0" json:"allocated_budget"`          // 平台累计授予
	Version                 int       `gorm:"not null;default:0" json:"version"`                   // 乐观锁版本号
	CreatedAt               time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Tenant) TableName() string {
	return "tenant"
}
