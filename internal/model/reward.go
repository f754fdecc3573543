package model

import (
	"time"
)

const (
	RewardTypeGiftCard    = "GIFT_CARD"   // 礼品卡
	RewardTypeMerchandise = "MERCHANDISE" // 实物商品
)

// RewardItem 奖品目录表
// 可兑换的礼品卡/商品条目，ProviderCode 对应外部履约供应商的商品编码
type RewardItem struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SKU          string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"sku"`
	Name         string    `gorm:"type:varchar(128);not null" json:"name"`
	RewardType   string    `gorm:"type:varchar(20);not null" json:"reward_type"`
	PointCost    int64     `gorm:"not null" json:"point_cost"`
	ProviderCode string    `gorm:"type:varchar(64);not null" json:"provider_code"` // 供应商侧商品编码
	Active       bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (RewardItem) TableName() string {
	return "reward_item"
}
