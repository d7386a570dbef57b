// README: Config loader with env defaults for HTTP, DB, Redis, maps, pricing and combination settings.
package config

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type PricingConfig struct {
	DemandRadiusKm     float64
	InsuranceSurcharge float64
	// Commission is a flat platform multiplier; 1.0 disables it.
	Commission float64
}

type CombineConfig struct {
	MaxExtraKm float64
	AllOrders  bool
}

type LoadBoardConfig struct {
	TickSeconds int
	RadiusKm    float64
}

type Config struct {
	HTTP struct {
		Addr string
	}
	DB struct {
		DSN string
	}
	Redis struct {
		Addr string
	}
	Maps struct {
		APIKey        string
		Timeout       time.Duration
		RouteCacheTTL time.Duration
	}
	Kafka struct {
		Brokers []string
		Topic   string
	}
	Log struct {
		Level slog.Level
	}
	Pricing           PricingConfig
	Combine           CombineConfig
	LoadBoard         LoadBoardConfig
	ExpireTickSeconds int
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	cfg.HTTP.Addr = envOrDefault("HAUL_HTTP_ADDR", ":8080")
	cfg.DB.DSN = envOrDefault("HAUL_DB_DSN", "")
	cfg.Redis.Addr = envOrDefault("HAUL_REDIS_ADDR", "localhost:6379")
	cfg.Maps.APIKey = envOrDefault("HAUL_MAPS_API_KEY", "")
	cfg.Maps.Timeout = envOrDefaultDuration("HAUL_MAPS_TIMEOUT", 8*time.Second)
	cfg.Maps.RouteCacheTTL = envOrDefaultDuration("HAUL_ROUTE_CACHE_TTL", 15*time.Minute)
	cfg.Kafka.Brokers = envList("HAUL_KAFKA_BROKERS")
	cfg.Kafka.Topic = envOrDefault("HAUL_KAFKA_TOPIC", "shipment.events")
	cfg.Log.Level = envLogLevel("HAUL_LOG_LEVEL", slog.LevelInfo)
	cfg.Pricing = DefaultPricing()
	cfg.Pricing.DemandRadiusKm = envOrDefaultFloat("HAUL_DEMAND_RADIUS_KM", cfg.Pricing.DemandRadiusKm)
	cfg.Pricing.InsuranceSurcharge = envOrDefaultFloat("HAUL_INSURANCE_SURCHARGE", cfg.Pricing.InsuranceSurcharge)
	cfg.Pricing.Commission = envOrDefaultFloat("HAUL_COMMISSION", cfg.Pricing.Commission)
	cfg.Combine = DefaultCombine()
	cfg.Combine.MaxExtraKm = envOrDefaultFloat("HAUL_COMBINE_MAX_EXTRA_KM", cfg.Combine.MaxExtraKm)
	cfg.Combine.AllOrders = envOrDefaultBool("HAUL_COMBINE_ALL_ORDERS", cfg.Combine.AllOrders)
	cfg.LoadBoard.TickSeconds = envOrDefaultInt("HAUL_LOADBOARD_TICK", 30)
	cfg.LoadBoard.RadiusKm = envOrDefaultFloat("HAUL_LOADBOARD_RADIUS_KM", 100)
	cfg.ExpireTickSeconds = envOrDefaultInt("HAUL_EXPIRE_TICK", 60)
	return cfg, cfg.Validate()
}

// DefaultPricing matches the rates the platform launched with.
func DefaultPricing() PricingConfig {
	return PricingConfig{
		DemandRadiusKm:     5,
		InsuranceSurcharge: 500,
		Commission:         1.0,
	}
}

func DefaultCombine() CombineConfig {
	return CombineConfig{MaxExtraKm: 50}
}

func (c Config) Validate() error {
	var errs []error
	if c.Pricing.DemandRadiusKm <= 0 {
		errs = append(errs, errors.New("HAUL_DEMAND_RADIUS_KM must be positive"))
	}
	if c.Pricing.InsuranceSurcharge < 0 {
		errs = append(errs, errors.New("HAUL_INSURANCE_SURCHARGE must not be negative"))
	}
	if c.Pricing.Commission <= 0 {
		errs = append(errs, errors.New("HAUL_COMMISSION must be positive"))
	}
	if c.Combine.MaxExtraKm < 0 {
		errs = append(errs, errors.New("HAUL_COMBINE_MAX_EXTRA_KM must not be negative"))
	}
	if c.LoadBoard.RadiusKm <= 0 {
		errs = append(errs, errors.New("HAUL_LOADBOARD_RADIUS_KM must be positive"))
	}
	return errors.Join(errs...)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "1" || v == "true" || v == "yes"
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envLogLevel(key string, def slog.Level) slog.Level {
	if v := os.Getenv(key); v != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(v)); err == nil {
			return lvl
		}
	}
	return def
}
