// README: Bench cases covering API contract, booking invariants under concurrency, storage and throughput.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
}

type Result struct {
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 20 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

type shipmentResp struct {
	ID              string  `json:"id"`
	Price           float64 `json:"price"`
	Status          string  `json:"status"`
	IsCombinedRoute bool    `json:"is_combined_route"`
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{
			Name: "Env: Postgres connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: statusSkip, Note: "no DSN; server may run on the memory store"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				return Result{Status: statusPass}
			},
		},
		{
			Name: "Env: Redis connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: statusFail, Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				return Result{Status: statusPass}
			},
		},
		{
			Name: "Migration: tables exist",
			Run:  tablesExist,
		},
		{
			Name: "API: health",
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				code, err := r.doJSON(ctx, http.MethodGet, "/health", nil, nil)
				return expect(code, err, time.Since(start), http.StatusOK)
			},
		},
		{
			Name: "Shipment: create (valid)",
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				code, err := r.doJSON(ctx, http.MethodPost, "/api/shipments", shipmentBody(benchOrigin()), nil)
				return expect(code, err, time.Since(start), http.StatusCreated)
			},
		},
		{
			Name: "Shipment: create (missing pickup -> 400)",
			Run: func(ctx context.Context, r *Runner) Result {
				body := shipmentBody(benchOrigin())
				delete(body, "pickup")
				code, err := r.doJSON(ctx, http.MethodPost, "/api/shipments", body, nil)
				return expect(code, err, 0, http.StatusBadRequest)
			},
		},
		{
			Name: "Shipment: get unknown (-> 404)",
			Run: func(ctx context.Context, r *Runner) Result {
				code, err := r.doJSON(ctx, http.MethodGet, "/api/shipments/00000000-0000-4000-8000-000000000000", nil, nil)
				return expect(code, err, 0, http.StatusNotFound)
			},
		},
		{
			Name: "Pricing: quote",
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				code, err := r.doJSON(ctx, http.MethodPost, "/api/shipments/quote", shipmentBody(benchOrigin()), nil)
				return expect(code, err, time.Since(start), http.StatusOK)
			},
		},
		{
			Name: "Concurrency: multi assign same shipment",
			Run:  concurrentAssign,
		},
		{
			Name: "Concurrency: bookings reprice a neighbour once each",
			Run:  concurrentBookings,
		},
		{
			Name: "Combine: merge two overlapping shipments",
			Run:  combinePair,
		},
		{
			Name: "Redis: load board populated",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: statusSkip, Note: "redis not configured"}
				}
				n, err := r.redis.ZCard(ctx, "loadboard:pickups").Result()
				if err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				if n == 0 {
					return Result{Status: statusFail, Note: "no pending pickups indexed"}
				}
				return Result{Status: statusPass, Note: fmt.Sprintf("indexed=%d", n)}
			},
		},
		{
			Name: "Perf: quote throughput",
			Run: func(ctx context.Context, r *Runner) Result {
				return perfLoad(ctx, r, "/api/shipments/quote", shipmentBody(benchOrigin()))
			},
		},
	}
}

// benchOrigin spreads runs across distinct 5 km demand areas so earlier runs do not skew prices.
func benchOrigin() [2]float64 {
	n := time.Now().UnixNano() / int64(time.Millisecond) % 500
	return [2]float64{10 + float64(n)*0.1, 100.5}
}

func shipmentBody(origin [2]float64) map[string]any {
	return map[string]any{
		"shipper_id":      "bench",
		"company_name":    "Bench Freight",
		"pickup":          map[string]float64{"lat": origin[0], "lng": origin[1]},
		"dropoff":         map[string]float64{"lat": origin[0] + 0.5, "lng": origin[1] + 0.05},
		"material":        "Steel",
		"quantity_tonnes": 5,
		"vehicle_class":   "medium",
		"expires_at":      time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
	}
}

func (r *Runner) doJSON(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func expect(code int, err error, latency time.Duration, want int) Result {
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if code != want {
		return Result{Status: statusFail, Latency: latency, Note: fmt.Sprintf("status=%d want=%d", code, want)}
	}
	return Result{Status: statusPass, Latency: latency, Note: fmt.Sprintf("status=%d", code)}
}

func (r *Runner) create(ctx context.Context, origin [2]float64) (shipmentResp, error) {
	var sh shipmentResp
	code, err := r.doJSON(ctx, http.MethodPost, "/api/shipments", shipmentBody(origin), &sh)
	if err != nil {
		return sh, err
	}
	if code != http.StatusCreated {
		return sh, fmt.Errorf("create status=%d", code)
	}
	return sh, nil
}

func concurrentAssign(ctx context.Context, r *Runner) Result {
	sh, err := r.create(ctx, benchOrigin())
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succ, conflicts := 0, 0
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code, err := r.doJSON(ctx, http.MethodPost, "/api/shipments/"+sh.ID+"/assign",
				map[string]string{"driver_id": fmt.Sprintf("bench-driver-%d", i)}, nil)
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			switch code {
			case http.StatusOK:
				succ++
			case http.StatusConflict:
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	note := fmt.Sprintf("success=%d conflict=%d", succ, conflicts)
	if succ != 1 {
		return Result{Status: statusFail, Note: note}
	}
	return Result{Status: statusPass, Note: note}
}

// concurrentBookings books n shipments next to a seed at once; the seed must have been
// rescaled exactly n times.
func concurrentBookings(ctx context.Context, r *Runner) Result {
	origin := benchOrigin()
	origin[1] += 1 // keep clear of the other cases
	seed, err := r.create(ctx, origin)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}

	n := r.cfg.Concurrency
	if n > 10 {
		n = 10
	}
	var wg sync.WaitGroup
	errs := make(chan error, n)
	start := time.Now()
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.create(ctx, origin); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	if err := <-errs; err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}

	var got shipmentResp
	if _, err := r.doJSON(ctx, http.MethodGet, "/api/shipments/"+seed.ID, nil, &got); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	want := seed.Price * math.Pow(1.05, float64(n))
	note := fmt.Sprintf("seed=%.2f got=%.2f want=%.2f", seed.Price, got.Price, want)
	if math.Abs(got.Price-want) > 0.05 {
		return Result{Status: statusFail, Latency: time.Since(start), Note: note}
	}
	return Result{Status: statusPass, Latency: time.Since(start), Note: note}
}

func combinePair(ctx context.Context, r *Runner) Result {
	origin := benchOrigin()
	origin[1] += 2
	main, err := r.create(ctx, origin)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	cand, err := r.create(ctx, origin)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}

	var merged shipmentResp
	start := time.Now()
	code, err := r.doJSON(ctx, http.MethodPost, "/api/shipments/"+main.ID+"/combine",
		map[string]string{"candidate_id": cand.ID}, &merged)
	res := expect(code, err, time.Since(start), http.StatusOK)
	if res.Status == statusPass && !merged.IsCombinedRoute {
		return Result{Status: statusFail, Note: "response is not a combined route"}
	}
	return res
}

func tablesExist(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "no DSN"}
	}
	tables, err := extractTables(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	for _, t := range tables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
			t,
		).Scan(&exists)
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		if !exists {
			return Result{Status: statusFail, Note: "missing table: " + t}
		}
	}
	return Result{Status: statusPass}
}

func perfLoad(ctx context.Context, r *Runner, path string, payload any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				code, err := r.doJSON(ctx, http.MethodPost, path, payload, nil)
				mu.Lock()
				if err != nil || code >= 500 {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: statusFail, Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: statusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}
