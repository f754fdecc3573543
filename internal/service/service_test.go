package service

import (
	"fmt"
	"strings"
	"testing"

	"rewardsys/internal/config"
	"rewardsys/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestEnv 内存库 + 内嵌 redis + 测试配置
func newTestEnv(t *testing.T) (*gorm.DB, *redis.Client, *config.Config) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		t.Fatalf("打开测试库失败: %v", err)
	}

	err = db.AutoMigrate(
		&model.Tenant{},
		&model.Budget{},
		&model.DepartmentBudget{},
		&model.LeadAllocation{},
		&model.Wallet{},
		&model.RewardItem{},
		&model.Redemption{},
		&model.PlatformBillingLog{},
		&model.MasterBudgetLedger{},
		&model.AllocationLog{},
		&model.WalletLedger{},
		&model.RedemptionLedger{},
		&model.OutboxMessage{},
	)
	if err != nil {
		t.Fatalf("迁移表结构失败: %v", err)
	}

	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{
				PointsEvent:      "rewardsys.points.event",
				RedemptionResult: "rewardsys.redemption.result",
			},
		},
		Business: config.BusinessConfig{
			MaxRetryCount:          3,
			FulfillIntervalSeconds: 1,
			FulfillBatchSize:       50,
			StuckProcessingMinutes: 10,
			RecognitionMaxPoints:   500,
		},
	}

	return db, rdb, cfg
}

func countOutbox(t *testing.T, db *gorm.DB, topic string) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&model.OutboxMessage{}).Where("topic = ?", topic).Count(&count).Error; err != nil {
		t.Fatalf("统计发件箱失败: %v", err)
	}
	return count
}
