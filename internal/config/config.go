package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Compliance ComplianceConfig
	Training   TrainingConfig
}

type ServerConfig struct {
	Addr          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	RateBurst     int
	RatePerSecond int
}

type DatabaseConfig struct {
	DSN string
}

// ComplianceConfig carries the acknowledgment policy knobs.
type ComplianceConfig struct {
	MinReadSeconds int
	ReackDays      int
}

// TrainingConfig carries the recertification and lockout policy knobs.
type TrainingConfig struct {
	PassingScore       int
	RecertDays         int
	MaxAttempts        int
	LockoutWindowHours int
}

// ReackWindow returns the re-acknowledgment window as a duration.
func (c ComplianceConfig) ReackWindow() time.Duration {
	return time.Duration(c.ReackDays) * 24 * time.Hour
}

// LockoutWindow returns the lockout window as a duration.
func (c TrainingConfig) LockoutWindow() time.Duration {
	return time.Duration(c.LockoutWindowHours) * time.Hour
}

// Load reads configuration from environment variables and an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	viper.AutomaticEnv()

	viper.SetDefault("SOPLEDGER_ADDR", ":8080")
	viper.SetDefault("SOPLEDGER_RATE_BURST", 20)
	viper.SetDefault("SOPLEDGER_RATE_PER_SECOND", 10)
	viper.SetDefault("SOPLEDGER_MIN_READ_SECONDS", 10)
	viper.SetDefault("SOPLEDGER_REACK_DAYS", 365)
	viper.SetDefault("SOPLEDGER_PASSING_SCORE", 80)
	viper.SetDefault("SOPLEDGER_RECERT_DAYS", 365)
	viper.SetDefault("SOPLEDGER_MAX_ATTEMPTS", 3)
	viper.SetDefault("SOPLEDGER_LOCKOUT_WINDOW_HOURS", 24)

	cfg := &Config{
		Server: ServerConfig{
			Addr:          viper.GetString("SOPLEDGER_ADDR"),
			ReadTimeout:   15 * time.Second,
			WriteTimeout:  15 * time.Second,
			RateBurst:     viper.GetInt("SOPLEDGER_RATE_BURST"),
			RatePerSecond: viper.GetInt("SOPLEDGER_RATE_PER_SECOND"),
		},
		Database: DatabaseConfig{
			DSN: viper.GetString("SOPLEDGER_PG_DSN"),
		},
		Compliance: ComplianceConfig{
			MinReadSeconds: viper.GetInt("SOPLEDGER_MIN_READ_SECONDS"),
			ReackDays:      viper.GetInt("SOPLEDGER_REACK_DAYS"),
		},
		Training: TrainingConfig{
			PassingScore:       viper.GetInt("SOPLEDGER_PASSING_SCORE"),
			RecertDays:         viper.GetInt("SOPLEDGER_RECERT_DAYS"),
			MaxAttempts:        viper.GetInt("SOPLEDGER_MAX_ATTEMPTS"),
			LockoutWindowHours: viper.GetInt("SOPLEDGER_LOCKOUT_WINDOW_HOURS"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Compliance.MinReadSeconds < 0 {
		return fmt.Errorf("config: SOPLEDGER_MIN_READ_SECONDS must be >= 0")
	}
	if c.Compliance.ReackDays <= 0 {
		return fmt.Errorf("config: SOPLEDGER_REACK_DAYS must be > 0")
	}
	if c.Training.PassingScore < 0 || c.Training.PassingScore > 100 {
		return fmt.Errorf("config: SOPLEDGER_PASSING_SCORE must be within 0..100")
	}
	if c.Training.RecertDays <= 0 {
		return fmt.Errorf("config: SOPLEDGER_RECERT_DAYS must be > 0")
	}
	if c.Training.LockoutWindowHours <= 0 {
		return fmt.Errorf("config: SOPLEDGER_LOCKOUT_WINDOW_HOURS must be > 0")
	}
	return nil
}
