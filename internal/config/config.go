package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Provider ProviderConfig `mapstructure:"provider"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	PointsEvent      string `mapstructure:"points_event"`      // 分配/奖励/回收事件
	RedemptionResult string `mapstructure:"redemption_result"` // 兑换结果事件
}

// ProviderConfig 履约供应商配置
// Simulate 为 true 时使用内置模拟供应商（开发/测试环境）
type ProviderConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Simulate       bool   `mapstructure:"simulate"`
}

type BusinessConfig struct {
	MaxRetryCount           int `mapstructure:"max_retry_count"`           // 发件箱最大重试次数
	FulfillIntervalSeconds  int `mapstructure:"fulfill_interval_seconds"`  // 履约任务轮询间隔
	FulfillBatchSize        int `mapstructure:"fulfill_batch_size"`        // 每轮处理兑换单数量
	StuckProcessingMinutes  int `mapstructure:"stuck_processing_minutes"`  // PROCESSING 卡单判定阈值
	RecognitionMaxPoints    int `mapstructure:"recognition_max_points"`    // 单次同事认可积分上限
	RecognitionDailyMax     int `mapstructure:"recognition_daily_max"`     // 每人每日可发起的认可次数
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}
