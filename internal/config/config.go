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
	Business BusinessConfig `mapstructure:"business"`
	Risk     RiskConfig     `mapstructure:"risk"`
	FX       FXConfig       `mapstructure:"fx"`
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
	PaymentResult string `mapstructure:"payment_result"`
	RiskAudit     string `mapstructure:"risk_audit"`
}

type BusinessConfig struct {
	DailyLimit           float64 `mapstructure:"daily_limit"`            // 单用户日累计出账上限
	MonthlyLimit         float64 `mapstructure:"monthly_limit"`          // 单用户月累计出账上限
	MaxRetryCount        int     `mapstructure:"max_retry_count"`        // outbox 消息最大重试次数
	PaymentExpireMinutes int     `mapstructure:"payment_expire_minutes"` // EXECUTING 支付单的对账超时
	LockMode             string  `mapstructure:"lock_mode"`              // redis / local
}

// RiskConfig 风控与合规配置
// 制裁名单、PEP 名单等全部走配置注入，不做进程级单例，测试可替换
type RiskConfig struct {
	SanctionedCountries []string `mapstructure:"sanctioned_countries"` // 受制裁国家/地区代码
	PEPUsers            []int64  `mapstructure:"pep_users"`            // 政治公众人物用户名单
	AMLReviewThreshold  float64  `mapstructure:"aml_review_threshold"` // 大额交易审查阈值（只标记不拦截）
	SingleTxLimit       float64  `mapstructure:"single_tx_limit"`      // 单笔交易硬上限
	VelocityHourlyMax   int      `mapstructure:"velocity_hourly_max"`  // 1小时内操作次数阈值
	VelocityDailyMax    int      `mapstructure:"velocity_daily_max"`   // 24小时内操作次数阈值（欺诈策略用）
}

type FXConfig struct {
	Rates           map[string]float64 `mapstructure:"rates"`             // 币种对 -> 汇率，如 USD_EUR
	CacheTTLSeconds int                `mapstructure:"cache_ttl_seconds"` // redis 缓存时长
	ValiditySeconds int                `mapstructure:"validity_seconds"`  // 报价有效期
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
