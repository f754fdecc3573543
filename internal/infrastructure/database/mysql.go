package database

import (
	"fmt"
	"log"
	"time"

	"rewardsys/internal/config"
	"rewardsys/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitMySQL 初始化 MySQL 连接
func InitMySQL(cfg *config.MySQLConfig) *gorm.DB {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("连接 MySQL 失败: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("获取底层 DB 失败: %v", err)
	}

	// 连接池配置
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 自动迁移表结构
	// 注意：allocated <= total、spent <= allocated 的 CHECK 约束
	// 由各表模型的 check 标签生成，是应用层条件 UPDATE 之外的兜底
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
		log.Fatalf("自动迁移表结构失败: %v", err)
	}

	DB = db
	log.Println("MySQL 连接成功")
	return db
}
