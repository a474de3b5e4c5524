package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverMongo  = "mongo"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

type Config struct {
	Debug bool `env:"DEBUG" envDefault:"false"`

	Server struct {
		Port            int           `env:"PORT" envDefault:"8080"`
		Origin          string        `env:"ORIGIN" envDefault:"*"`
		ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}

	Store struct {
		Driver string `env:"STORE_DRIVER" envDefault:"mongo"`
		// Upper bound for a single store round trip; exceeded calls surface as storage unavailable.
		Timeout time.Duration `env:"STORE_TIMEOUT" envDefault:"3s"`
	}

	Mongo struct {
		URI         string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
		Database    string `env:"MONGO_DATABASE" envDefault:"tapgame"`
		MaxPoolSize uint64 `env:"MONGO_MAX_POOL_SIZE" envDefault:"100"`
	}

	Redis struct {
		// Empty host disables Redis unless STORE_DRIVER=redis.
		Host     string `env:"REDIS_HOST" envDefault:""`
		Port     int    `env:"REDIS_PORT" envDefault:"6379"`
		Password string `env:"REDIS_PASSWORD" envDefault:""`
		DB       int    `env:"REDIS_DB" envDefault:"0"`
	}

	Telegram struct {
		BotToken    string        `env:"BOT_TOKEN"`
		InitDataTTL time.Duration `env:"INIT_DATA_TTL" envDefault:"24h"`
		AdminIDs    []int64       `env:"ADMIN_IDS" envSeparator:","`
	}

	Ledger struct {
		StartingEnergy        int64         `env:"STARTING_ENERGY" envDefault:"1000"`
		StartingLevel         int64         `env:"STARTING_LEVEL" envDefault:"1"`
		CheckInCooldown       time.Duration `env:"CHECKIN_COOLDOWN" envDefault:"24h"`
		CheckInRewardBalance  int64         `env:"CHECKIN_REWARD_BALANCE" envDefault:"100000"`
		CheckInRewardSpins    int64         `env:"CHECKIN_REWARD_SPINS" envDefault:"100"`
		ReferralBonusField    string        `env:"REFERRAL_BONUS_FIELD" envDefault:"balance"`
		ReferralBonusAmount   int64         `env:"REFERRAL_BONUS_AMOUNT" envDefault:"5000"`
		ReferralCodeCacheSize int           `env:"REFERRAL_CODE_CACHE_SIZE" envDefault:"10000"`
	}

	Workers struct {
		EnergyResetEnabled  bool          `env:"ENERGY_RESET_ENABLED" envDefault:"true"`
		EnergyResetInterval time.Duration `env:"ENERGY_RESET_INTERVAL" envDefault:"5m"`

		// Copies the Redis transaction stream into Mongo when both are configured.
		TxArchiveEnabled bool `env:"TX_ARCHIVE_ENABLED" envDefault:"false"`
	}
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	// A missing .env is normal in production where variables are injected directly.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMongo, DriverRedis, DriverMemory:
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q", c.Store.Driver)
	}
	if c.Store.Driver == DriverRedis && c.Redis.Host == "" {
		return fmt.Errorf("REDIS_HOST is required when STORE_DRIVER=redis")
	}
	if c.Store.Timeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive")
	}
	if c.Ledger.StartingEnergy < 0 || c.Ledger.StartingLevel < 0 {
		return fmt.Errorf("starting energy and level must be non-negative")
	}
	if c.Ledger.CheckInCooldown < 0 {
		return fmt.Errorf("CHECKIN_COOLDOWN must be non-negative")
	}
	if c.Ledger.CheckInRewardBalance < 0 || c.Ledger.CheckInRewardSpins < 0 {
		return fmt.Errorf("check-in rewards must be non-negative")
	}
	switch c.Ledger.ReferralBonusField {
	case "balance", "spin_count", "perk_count":
	default:
		return fmt.Errorf("invalid REFERRAL_BONUS_FIELD %q", c.Ledger.ReferralBonusField)
	}
	if c.Ledger.ReferralBonusAmount < 0 {
		return fmt.Errorf("REFERRAL_BONUS_AMOUNT must be non-negative")
	}
	if c.Workers.EnergyResetEnabled && c.Workers.EnergyResetInterval <= 0 {
		return fmt.Errorf("ENERGY_RESET_INTERVAL must be positive")
	}
	return nil
}

// RedisEnabled reports whether a Redis endpoint is configured.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
