// README: Smoke and load runner for a deployed haul-api; executes HTTP/DB/Redis checks and prints results.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

func main() {
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	bench := NewRunner(cfg)
	results := bench.RunAll(ctx)

	fmt.Println("\n== Summary ==")
	pass, fail, skipped := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case statusPass:
			pass++
		case statusFail:
			fail++
		case statusSkip:
			skipped++
		}
	}
	fmt.Printf("PASS=%d FAIL=%d SKIP=%d\n", pass, fail, skipped)

	if fail > 0 {
		os.Exit(1)
	}
}

type Config struct {
	BaseURL       string
	DSN           string
	RedisAddr     string
	MigrationPath string
	Timeout       time.Duration
	Concurrency   int
	Duration      time.Duration
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.BaseURL, "base-url", envOrDefault("HAUL_BENCH_BASE_URL", "http://localhost:8080"), "API base URL")
	flag.StringVar(&cfg.DSN, "dsn", envOrDefault("HAUL_DB_DSN", ""), "Postgres DSN (DB checks are skipped when empty)")
	flag.StringVar(&cfg.RedisAddr, "redis", envOrDefault("HAUL_REDIS_ADDR", "localhost:6379"), "Redis address")
	flag.StringVar(&cfg.MigrationPath, "migration", envOrDefault("HAUL_BENCH_MIGRATION", "migrations/0001_init.up.sql"), "Migration SQL path")
	flag.DurationVar(&cfg.Timeout, "timeout", envOrDefaultDuration("HAUL_BENCH_TIMEOUT", 60*time.Second), "Total timeout")
	flag.IntVar(&cfg.Concurrency, "concurrency", envOrDefaultInt("HAUL_BENCH_CONCURRENCY", 20), "Concurrency for race and perf cases")
	flag.DurationVar(&cfg.Duration, "duration", envOrDefaultDuration("HAUL_BENCH_DURATION", 10*time.Second), "Duration for perf cases")
	flag.Parse()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		_, _ = fmt.Sscanf(v, "%d", &n)
		if n > 0 {
			return n
		}
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
