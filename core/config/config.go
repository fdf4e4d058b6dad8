package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"clinicsync/core/constants"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret          string        `mapstructure:"secret"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// ProviderConfig describes the external calendar provider endpoints.
type ProviderConfig struct {
	Name         string   `mapstructure:"name"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURI  string   `mapstructure:"redirect_uri"`
	AuthURL      string   `mapstructure:"auth_url"`
	TokenURL     string   `mapstructure:"token_url"`
	APIBaseURL   string   `mapstructure:"api_base_url"`
	UserInfoURL  string   `mapstructure:"user_info_url"`
	Scopes       []string `mapstructure:"scopes"`
}

// SyncConfig carries the empirically chosen sync tuning knobs. They are
// configuration with sane defaults, not hard invariants.
type SyncConfig struct {
	PushWorkers   int           `mapstructure:"push_workers"`
	MaxRetries    int           `mapstructure:"max_retries"`
	BatchDelay    time.Duration `mapstructure:"batch_delay"`
	RetryBaseWait time.Duration `mapstructure:"retry_base_wait"`
	MaxEvents     int           `mapstructure:"max_events"`
	PageSize      int           `mapstructure:"page_size"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Provider ProviderConfig `mapstructure:"provider"`
	Sync     SyncConfig     `mapstructure:"sync"`
}

var (
	instance *Config
	mu       sync.RWMutex
)

// Load reads .env (if present) and binds environment variables into the
// typed Config. Environment keys are upper snake case with underscores,
// e.g. PROVIDER_CLIENT_ID, SYNC_PUSH_WORKERS.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var cfg Config
	if err := bind(v, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	mu.Lock()
	instance = &cfg
	mu.Unlock()
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 7070)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "clinicsync")
	v.SetDefault("database.sslmode", constants.DatabaseSSLMode)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.access_token_ttl", 15*time.Minute)
	v.SetDefault("jwt.refresh_token_ttl", 7*24*time.Hour)

	v.SetDefault("provider.name", constants.ProviderGoogle)
	v.SetDefault("provider.auth_url", "https://accounts.google.com/o/oauth2/auth")
	v.SetDefault("provider.token_url", "https://oauth2.googleapis.com/token")
	v.SetDefault("provider.api_base_url", "https://www.googleapis.com/calendar/v3")
	v.SetDefault("provider.user_info_url", "https://www.googleapis.com/oauth2/v2/userinfo")
	v.SetDefault("provider.scopes", []string{
		"https://www.googleapis.com/auth/calendar.events",
		"https://www.googleapis.com/auth/userinfo.email",
	})

	v.SetDefault("sync.push_workers", constants.DefaultPushWorkers)
	v.SetDefault("sync.max_retries", constants.DefaultMaxRetries)
	v.SetDefault("sync.batch_delay", constants.DefaultBatchDelay)
	v.SetDefault("sync.retry_base_wait", constants.DefaultRetryBaseWait)
	v.SetDefault("sync.max_events", constants.DefaultMaxEvents)
	v.SetDefault("sync.page_size", constants.DefaultPageSize)
}

func bind(v *viper.Viper, cfg *Config) error {
	// AutomaticEnv does not populate Unmarshal on its own; bind the keys
	// that have defaults so env overrides are visible.
	for _, key := range v.AllKeys() {
		if err := v.BindEnv(key); err != nil {
			return err
		}
	}
	return v.Unmarshal(cfg)
}

// Get returns the loaded config and panics when called before Load.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if instance == nil {
		panic("config: Get called before Load")
	}
	return instance
}

// GetSafe returns the loaded config without panicking.
func GetSafe() (*Config, bool) {
	mu.RLock()
	defer mu.RUnlock()
	return instance, instance != nil
}

// Set replaces the loaded config. Test helper.
func Set(cfg *Config) {
	mu.Lock()
	instance = cfg
	mu.Unlock()
}
