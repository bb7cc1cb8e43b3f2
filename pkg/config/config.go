// Package config loads service configuration from the environment and
// the pool settings file.
package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/pooledfi/creditbill/pkg/models"
)

// Config holds application configuration.
type Config struct {
	Port             string
	DBPath           string
	LogLevel         string
	PoolSettingsPath string
	RefreshCron      string
}

// NewConfig loads configuration from environment variables.
func NewConfig() *Config {
	return &Config{
		Port:             getEnv("PORT", "8080"),
		DBPath:           getEnv("DB_PATH", "creditbill.db"),
		LogLevel:         getEnv("LOG_LEVEL", "INFO"),
		PoolSettingsPath: getEnv("POOL_SETTINGS_PATH", "pool.yaml"),
		RefreshCron:      getEnv("REFRESH_CRON", "5 0 * * *"), // daily, shortly after UTC midnight
	}
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

// poolFile is the YAML shape of the pool settings file.
type poolFile struct {
	Settings struct {
		LatePaymentGracePeriodDays int    `yaml:"late_payment_grace_period_days"`
		DefaultGracePeriodMonths   int    `yaml:"default_grace_period_months"`
		MaxCreditLine              string `yaml:"max_credit_line"`
		PeriodDuration             string `yaml:"period_duration"`
	} `yaml:"settings"`
	Fees struct {
		LateFeeFlat         string `yaml:"late_fee_flat"`
		LateFeeBps          int64  `yaml:"late_fee_bps"`
		MembershipFee       string `yaml:"membership_fee"`
		MinPrincipalRateBps int64  `yaml:"min_principal_rate_bps"`
		FrontLoadingFeeFlat string `yaml:"front_loading_fee_flat"`
		FrontLoadingFeeBps  int64  `yaml:"front_loading_fee_bps"`
	} `yaml:"fees"`
}

// LoadPoolSettings reads and parses the pool settings file. Amounts are
// written as decimal strings so token base units survive untouched.
func LoadPoolSettings(path string) (models.PoolSettings, models.FeeStructure, error) {
	var settings models.PoolSettings
	var fees models.FeeStructure

	data, err := os.ReadFile(path)
	if err != nil {
		return settings, fees, fmt.Errorf("reading pool settings %s: %w", path, err)
	}

	var f poolFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return settings, fees, fmt.Errorf("parsing pool settings: %w", err)
	}

	settings.LatePaymentGracePeriodDays = f.Settings.LatePaymentGracePeriodDays
	settings.DefaultGracePeriodMonths = f.Settings.DefaultGracePeriodMonths
	if settings.DefaultGracePeriodMonths == 0 {
		settings.DefaultGracePeriodMonths = 3
	}
	if settings.MaxCreditLine, err = parseAmount(f.Settings.MaxCreditLine); err != nil {
		return settings, fees, fmt.Errorf("max_credit_line: %w", err)
	}
	duration := f.Settings.PeriodDuration
	if duration == "" {
		duration = "monthly"
	}
	parsed, ok := models.ParsePeriodDuration(duration)
	if !ok {
		return settings, fees, fmt.Errorf("unknown period_duration %q", duration)
	}
	settings.PeriodDuration = parsed

	if fees.LateFeeFlat, err = parseAmount(f.Fees.LateFeeFlat); err != nil {
		return settings, fees, fmt.Errorf("late_fee_flat: %w", err)
	}
	if fees.MembershipFee, err = parseAmount(f.Fees.MembershipFee); err != nil {
		return settings, fees, fmt.Errorf("membership_fee: %w", err)
	}
	if fees.FrontLoadingFeeFlat, err = parseAmount(f.Fees.FrontLoadingFeeFlat); err != nil {
		return settings, fees, fmt.Errorf("front_loading_fee_flat: %w", err)
	}
	fees.LateFeeBps = f.Fees.LateFeeBps
	fees.MinPrincipalRateBps = f.Fees.MinPrincipalRateBps
	fees.FrontLoadingFeeBps = f.Fees.FrontLoadingFeeBps

	if fees.LateFeeBps < 0 || fees.MinPrincipalRateBps < 0 || fees.FrontLoadingFeeBps < 0 {
		return settings, fees, fmt.Errorf("fee bps values must not be negative")
	}
	return settings, fees, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
