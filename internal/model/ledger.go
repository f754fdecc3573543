package model

import (
	"time"
)

// ============================================================================
// 流水类型常量
// ============================================================================

const (
	LedgerTypeCredit   = "CREDIT"   // 入账
	LedgerTypeDebit    = "DEBIT"    // 出账
	LedgerTypeReversal = "REVERSAL" // 冲正（兑换失败返还）
)

// ============================================================================
// 流水实体
// ============================================================================
//
// 【重要】流水表设计原则（全部五张流水表共用）：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. 每笔流水必须关联业务单号（分配单号/奖励单号/兑换单号）—— 便于对账
// 3. 记录变动前后余额快照 —— 便于校验余额一致性
// 4. 流水与余额变动在同一个数据库事务内写入，一次变动恰好对应一行流水
// ============================================================================

// PlatformBillingLog 平台计费流水表
// 平台向租户授予积分的计费依据，平台级记录，不带 tenant 之外的层级字段
type PlatformBillingLog struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	LedgerNo     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"ledger_no"`
	TenantID     int64     `gorm:"index;not null" json:"tenant_id"`
	Points       int64     `gorm:"not null" json:"points"` // 正数授予，负数核减
	Type         string    `gorm:"type:varchar(20);not null" json:"type"`
	BalanceAfter int64     `gorm:"not null" json:"balance_after"` // 租户主预算变动后余额
	ReferenceNo  string    `gorm:"type:varchar(64);index;not null" json:"reference_no"`
	Remark       string    `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (PlatformBillingLog) TableName() string {
	return "platform_billing_log"
}

// MasterBudgetLedger 租户主预算流水表
// 租户三个池字段的每一次变动都在这里留痕
type MasterBudgetLedger struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	LedgerNo     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"ledger_no"`
	TenantID     int64     `gorm:"index;not null" json:"tenant_id"`
	Points       int64     `gorm:"not null" json:"points"`
	Type         string    `gorm:"type:varchar(20);not null" json:"type"`
	BalanceAfter int64     `gorm:"not null" json:"balance_after"` // MasterBudgetBalance 变动后余额
	ReferenceNo  string    `gorm:"type:varchar(64);index;not null" json:"reference_no"`
	Remark       string    `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (MasterBudgetLedger) TableName() string {
	return "master_budget_ledger"
}

// AllocationLog 分配流水表
// 预算 -> 部门 -> 负责人 -> 员工 各级下放/奖励的审计记录
type AllocationLog struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	LedgerNo     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"ledger_no"`
	TenantID     int64     `gorm:"index;not null" json:"tenant_id"`
	BudgetID     int64     `gorm:"index;not null" json:"budget_id"`
	SourceLevel  string    `gorm:"type:varchar(20);not null" json:"source_level"` // TENANT/BUDGET/DEPARTMENT/LEAD
	SourceID     int64     `gorm:"not null" json:"source_id"`
	TargetLevel  string    `gorm:"type:varchar(20);not null" json:"target_level"` // BUDGET/DEPARTMENT/LEAD/WALLET
	TargetID     int64     `gorm:"not null" json:"target_id"`
	Points       int64     `gorm:"not null" json:"points"`
	Type         string    `gorm:"type:varchar(20);not null" json:"type"`
	BalanceAfter int64     `gorm:"not null" json:"balance_after"` // 目标池变动后余额
	ReferenceNo  string    `gorm:"type:varchar(64);index;not null" json:"reference_no"`
	Remark       string    `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AllocationLog) TableName() string {
	return "allocation_log"
}

// 分配流水的层级常量
const (
	AllocationLevelTenant     = "TENANT"
	AllocationLevelBudget     = "BUDGET"
	AllocationLevelDepartment = "DEPARTMENT"
	AllocationLevelLead       = "LEAD"
	AllocationLevelWallet     = "WALLET"
)

// WalletLedger 钱包流水表
// 员工钱包的每一笔积分变动，对账的核心依据
type WalletLedger struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	LedgerNo      string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"ledger_no"`
	TenantID      int64     `gorm:"index;not null" json:"tenant_id"`
	UserID        int64     `gorm:"index;not null" json:"user_id"`
	Points        int64     `gorm:"not null" json:"points"` // 正数入账，负数出账
	Type          string    `gorm:"type:varchar(20);not null" json:"type"`
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`
	ReferenceNo   string    `gorm:"type:varchar(64);index;not null" json:"reference_no"`
	Remark        string    `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (WalletLedger) TableName() string {
	return "wallet_ledger"
}

// RedemptionLedger 兑换流水表
// 兑换生命周期中每个影响积分的事件（预扣/冲正）的留痕
// 履约完成不动余额，所以没有对应流水行
type RedemptionLedger struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	LedgerNo     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"ledger_no"`
	TenantID     int64     `gorm:"index;not null" json:"tenant_id"`
	UserID       int64     `gorm:"index;not null" json:"user_id"`
	RedemptionNo string    `gorm:"type:varchar(64);index;not null" json:"redemption_no"`
	Points       int64     `gorm:"not null" json:"points"`
	Type         string    `gorm:"type:varchar(20);not null" json:"type"`
	BalanceAfter int64     `gorm:"not null" json:"balance_after"` // 钱包变动后余额快照
	Remark       string    `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (RedemptionLedger) TableName() string {
	return "redemption_ledger"
}
