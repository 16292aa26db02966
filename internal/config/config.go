package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	DefaultPractice string        `mapstructure:"DEFAULT_PRACTICE"`
	MigrationsDir   string        `mapstructure:"MIGRATIONS_DIR"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	AuthIssuer      string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL     string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience    string        `mapstructure:"AUTH_AUDIENCE"`
	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	RedisURL        string        `mapstructure:"REDIS_URL"`

	GeneratorURL     string        `mapstructure:"GENERATOR_URL"`
	GeneratorAPIKey  string        `mapstructure:"GENERATOR_API_KEY"`
	GeneratorModel   string        `mapstructure:"GENERATOR_MODEL"`
	GeneratorTimeout time.Duration `mapstructure:"GENERATOR_TIMEOUT"`
	GeneratorRPS     float64       `mapstructure:"GENERATOR_RPS"`
	AICacheTTL       time.Duration `mapstructure:"AI_CACHE_TTL"`
	ReminderWindow   time.Duration `mapstructure:"REMINDER_WINDOW"`

	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`
	AuditTopic   string   `mapstructure:"AUDIT_TOPIC"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"DEFAULT_PRACTICE", "MIGRATIONS_DIR", "CORS_ORIGINS",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "REDIS_URL",
	"GENERATOR_URL", "GENERATOR_API_KEY", "GENERATOR_MODEL", "GENERATOR_TIMEOUT",
	"GENERATOR_RPS", "AI_CACHE_TTL", "REMINDER_WINDOW",
	"KAFKA_BROKERS", "AUDIT_TOPIC",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_PRACTICE", "default")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "90s")
	v.SetDefault("GENERATOR_MODEL", "clinical-summary-v1")
	v.SetDefault("GENERATOR_TIMEOUT", "60s")
	v.SetDefault("GENERATOR_RPS", 2)
	v.SetDefault("AI_CACHE_TTL", "168h")
	v.SetDefault("REMINDER_WINDOW", "48h")
	v.SetDefault("AUDIT_TOPIC", "ai-generation-audit")

	// Unmarshal only sees keys viper knows about, so bind every env var.
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in DEVELOPMENT mode (ENV=development): all requests get admin access")
		if cfg.GeneratorURL == "" {
			log.Println("WARNING: GENERATOR_URL not set, using the offline content generator")
		}
	}

	return cfg, nil
}

// splitList normalizes comma-separated env values, whether or not viper's
// decode hook already split them.
func splitList(parsed []string, raw string) []string {
	if len(parsed) == 0 && raw != "" {
		parsed = []string{raw}
	}
	var out []string
	for _, item := range parsed {
		for _, s := range strings.Split(item, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// AUTH_ISSUER must be set so bearer tokens are verified, and production needs
// a real content generator endpoint.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" {
		return fmt.Errorf("AUTH_ISSUER must be set when ENV=%q", c.Env)
	}
	if c.IsProduction() && c.GeneratorURL == "" {
		return fmt.Errorf("GENERATOR_URL is required in production")
	}
	if c.AICacheTTL <= 0 {
		return fmt.Errorf("AI_CACHE_TTL must be positive, got %s", c.AICacheTTL)
	}
	if c.GeneratorTimeout <= 0 {
		return fmt.Errorf("GENERATOR_TIMEOUT must be positive, got %s", c.GeneratorTimeout)
	}
	if c.ReminderWindow < 0 {
		return fmt.Errorf("REMINDER_WINDOW must not be negative, got %s", c.ReminderWindow)
	}
	return nil
}
