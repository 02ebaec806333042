package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/taskfleet/notifier/pkg/messaging/redis"
)

type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	SMTP       SMTPConfig       `mapstructure:"smtp"`
	SMSGateway SMSGatewayConfig `mapstructure:"sms_gateway"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

func (c RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}

type SMTPConfig struct {
	Host     string  `mapstructure:"host"`
	Port     int     `mapstructure:"port"`
	Username string  `mapstructure:"username"`
	Password string  `mapstructure:"password"`
	From     string  `mapstructure:"from"`
	SendRate float64 `mapstructure:"send_rate"`
}

type SMSGatewayConfig struct {
	URL  string `mapstructure:"url"`
	From string `mapstructure:"from"`
}

type DispatcherConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type SchedulerConfig struct {
	OverdueSweepInterval  time.Duration `mapstructure:"overdue_sweep_interval"`
	DailySummaryInterval  time.Duration `mapstructure:"daily_summary_interval"`
	WeeklySummaryInterval time.Duration `mapstructure:"weekly_summary_interval"`
}

type RetentionConfig struct {
	Days     int           `mapstructure:"days"`
	Interval time.Duration `mapstructure:"interval"`
}

type MonitoringConfig struct {
	Addr        string `mapstructure:"addr"`
	MetricsPath string `mapstructure:"metrics_path"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("smtp.send_rate", 10)
	viper.SetDefault("dispatcher.batch_size", 100)
	viper.SetDefault("dispatcher.poll_interval", 5*time.Second)
	viper.SetDefault("scheduler.overdue_sweep_interval", time.Hour)
	viper.SetDefault("scheduler.daily_summary_interval", 24*time.Hour)
	viper.SetDefault("scheduler.weekly_summary_interval", 7*24*time.Hour)
	viper.SetDefault("retention.days", 90)
	viper.SetDefault("retention.interval", 24*time.Hour)
	viper.SetDefault("monitoring.addr", ":8081")
	viper.SetDefault("monitoring.metrics_path", "/metrics")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}
