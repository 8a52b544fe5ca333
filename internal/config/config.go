// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Currency CurrencyConfig `mapstructure:"currency"`
	Bonus    BonusConfig    `mapstructure:"bonus"`
	Wager    WagerConfig    `mapstructure:"wager"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// ServerConfig holds the HTTP listener configuration. The API, health
// and metrics endpoints share one listener.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// CurrencyConfig holds conversion rates. EBT is the internal ledger unit;
// USD enters the system only through deposit approval, converted once at
// that boundary using RateEBTPerUSD.
type CurrencyConfig struct {
	RateEBTPerUSD int64 `mapstructure:"rate_ebt_per_usd"`
}

// BonusConfig holds promo accrual settings.
type BonusConfig struct {
	DepositPercent int64 `mapstructure:"deposit_percent"`
	ReferralAmount int64 `mapstructure:"referral_amount"`
}

// WagerConfig holds challenge and bet limits.
type WagerConfig struct {
	MinBet            int64         `mapstructure:"min_bet"`
	MaxBet            int64         `mapstructure:"max_bet"`
	MaxOdds           int64         `mapstructure:"max_odds"`
	ChallengeExpiry   time.Duration `mapstructure:"challenge_expiry"`
	SettlementTimeout time.Duration `mapstructure:"settlement_timeout"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the given directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase,
	// e.g. DATABASE_HOST, CURRENCY_RATE_EBT_PER_USD.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - env vars can provide all config.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "ledger")
	v.SetDefault("database.name", "ledger")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("server.listen_addr", ":8080")

	// 1 USD = 100 EBT
	v.SetDefault("currency.rate_ebt_per_usd", 100)

	v.SetDefault("bonus.deposit_percent", 10)
	v.SetDefault("bonus.referral_amount", 500)

	v.SetDefault("wager.min_bet", 10)
	v.SetDefault("wager.max_bet", 100000)
	v.SetDefault("wager.max_odds", 100000)
	v.SetDefault("wager.challenge_expiry", "72h")
	v.SetDefault("wager.settlement_timeout", "30s")
}
