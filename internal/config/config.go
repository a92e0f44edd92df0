package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variables; "__" separates nested keys,
// e.g. CHECKOUT_VERIFY__ATTEMPTS.
const EnvPrefix = "CHECKOUT_"

// Config holds runtime configuration.
type Config struct {
	HTTP struct {
		Addr            string        `koanf:"addr"`
		ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
		CORSOrigins     []string      `koanf:"cors_origins"`
	} `koanf:"http"`

	DB struct {
		DSN string `koanf:"dsn"`
	} `koanf:"db"`

	Redis struct {
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
	} `koanf:"redis"`

	Inflight struct {
		TTL time.Duration `koanf:"ttl"`
	} `koanf:"inflight"`

	Backend struct {
		BaseURL         string        `koanf:"base_url"`
		Timeout         time.Duration `koanf:"timeout"`
		BreakerFailures uint32        `koanf:"breaker_failures"`
		BreakerCooldown time.Duration `koanf:"breaker_cooldown"`
	} `koanf:"backend"`

	Gateway struct {
		MinorUnitFactor int64 `koanf:"minor_unit_factor"`
	} `koanf:"gateway"`

	Verify struct {
		Timeout  time.Duration `koanf:"timeout"`
		Attempts int           `koanf:"attempts"`
		Backoff  time.Duration `koanf:"backoff"`
	} `koanf:"verify"`

	Pricing struct {
		PromoDiscount    int64 `koanf:"promo_discount"`
		StoreCredit      int64 `koanf:"store_credit"`
		StandardShipping int64 `koanf:"standard_shipping"`
		PickupShipping   int64 `koanf:"pickup_shipping"`
	} `koanf:"pricing"`

	Log struct {
		File  string `koanf:"file"`
		Level string `koanf:"level"`
	} `koanf:"log"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"http.addr":                 ":8080",
		"http.shutdown_timeout":     "10s",
		"http.cors_origins":         []string{},
		"db.dsn":                    "",
		"redis.addr":                "",
		"inflight.ttl":              "30s",
		"backend.base_url":          "http://localhost:8000/api",
		"backend.timeout":           "10s",
		"backend.breaker_failures":  5,
		"backend.breaker_cooldown":  "30s",
		"gateway.minor_unit_factor": 100,
		"verify.timeout":            "5s",
		"verify.attempts":           3,
		"verify.backoff":            "500ms",
		"pricing.promo_discount":    0,
		"pricing.store_credit":      0,
		"pricing.standard_shipping": 0,
		"pricing.pickup_shipping":   0,
		"log.file":                  "",
		"log.level":                 "info",
	}
}

// Load builds Config from defaults, an optional YAML file, then CHECKOUT_* env vars.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	cfg.HTTP.CORSOrigins = splitOrigins(cfg.HTTP.CORSOrigins)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv loads configuration using the file named by CHECKOUT_CONFIG, if any.
func FromEnv() (Config, error) {
	return Load(os.Getenv("CHECKOUT_CONFIG"))
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr required")
	}
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return fmt.Errorf("backend.base_url required")
	}
	if c.Verify.Attempts < 1 {
		return fmt.Errorf("verify.attempts must be at least 1")
	}
	if c.Gateway.MinorUnitFactor < 1 {
		return fmt.Errorf("gateway.minor_unit_factor must be at least 1")
	}
	return nil
}

// env values arrive as one comma separated string.
func splitOrigins(in []string) []string {
	var out []string
	for _, v := range in {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
