package model

import (
	"time"
)

// Wallet 员工积分钱包表
// 每个用户一条，是积分层级的最底层，也是兑换的唯一扣减来源
//
// 不变式：Balance 永远不能为负
type Wallet struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID       int64     `gorm:"index;not null" json:"tenant_id"`
	UserID         int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance        int64     `gorm:"not null;default:0" json:"balance"`         // 可用积分
	LifetimeEarned int64     `gorm:"not null;default:0" json:"lifetime_earned"` // 累计获得
	LifetimeSpent  int64     `gorm:"not null;default:0" json:"lifetime_spent"`  // 累计消费
	Version        int       `gorm:"not null;default:0" json:"version"`         // 乐观锁版本号
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallet"
}
