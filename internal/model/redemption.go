package model

import (
	"time"
)

const (
	RedemptionStatusPending    = "PENDING"    // 已扣积分，等待履约
	RedemptionStatusProcessing = "PROCESSING" // 已被履约任务认领
	RedemptionStatusCompleted  = "COMPLETED"  // 履约成功，已发放兑换码
	RedemptionStatusFailed     = "FAILED"     // 履约失败，已冲正返还（终态，不自动重试）
)

var ValidRedemptionTransitions = map[string][]string{
	RedemptionStatusPending:    {RedemptionStatusProcessing},
	RedemptionStatusProcessing: {RedemptionStatusCompleted, RedemptionStatusFailed, RedemptionStatusPending},
}

// CanTransitionTo 校验兑换状态流转是否合法
// PROCESSING -> PENDING 仅用于履约任务崩溃后的卡单重置
func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidRedemptionTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// Redemption 兑换单表
// 一次奖品兑换对应一条记录，创建时钱包已同步扣减（预扣模式）
//
// 【关键点】钱包被扣减后，兑换单必须走向两个终态之一：
//   - COMPLETED：拿到供应商兑换码
//   - FAILED：钱包等额冲正返还（恰好一次）
//
// 不允许出现"已扣款且既无兑换码也无冲正流水"的最终状态
type Redemption struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	RedemptionNo string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"redemption_no"`
	RequestID    string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_id"` // 幂等ID，客户端生成
	TenantID     int64      `gorm:"index;not null" json:"tenant_id"`
	UserID       int64      `gorm:"index;not null" json:"user_id"`
	RewardSKU    string     `gorm:"type:varchar(64);not null" json:"reward_sku"`
	RewardName   string     `gorm:"type:varchar(128);not null" json:"reward_name"`
	ProviderCode string     `gorm:"type:varchar(64);not null" json:"provider_code"` // 下单时快照，奖品下架不影响在途履约
	PointCost    int64      `gorm:"not null" json:"point_cost"`
	Status       string     `gorm:"type:varchar(20);index;not null" json:"status"`
	VoucherCode  string     `gorm:"type:varchar(128)" json:"voucher_code"`
	FailedReason string     `gorm:"type:varchar(256)" json:"failed_reason"`
	Refunded     bool       `gorm:"not null;default:false" json:"refunded"` // 冲正标记，防止重复返还
	CompletedAt  *time.Time `json:"completed_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Redemption) TableName() string {
	return "redemption"
}
