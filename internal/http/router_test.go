package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"haul/internal/config"
	"haul/internal/modules/booking"
	"haul/internal/modules/combine"
	"haul/internal/modules/demand"
	"haul/internal/modules/loadboard"
	"haul/internal/modules/pricing"
	"haul/internal/modules/shipment"
	"haul/internal/types"
)

// stubRoutes reports km for direct trips and combinedKm, when set, for 4-stop routes.
type stubRoutes struct {
	mu         sync.Mutex
	km         float64
	combinedKm float64
	err        error
}

func (s *stubRoutes) RouteDistanceKm(ctx context.Context, stops []types.Point) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	if len(stops) == 4 && s.combinedKm > 0 {
		return s.combinedKm, nil
	}
	return s.km, nil
}

type stubGeocoder struct {
	addr string
	err  error
}

func (s stubGeocoder) ReverseGeocode(ctx context.Context, p types.Point) (string, error) {
	return s.addr, s.err
}

var (
	clockNow = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	pickup   = types.Point{Lat: 13.7563, Lng: 100.5018}
	dropoff  = types.Point{Lat: 14.3532, Lng: 100.5689}
)

type testAPI struct {
	router *gin.Engine
	routes *stubRoutes
}

func newTestAPI(t *testing.T, geocoder stubGeocoder) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := shipment.NewMemoryStore()
	routes := &stubRoutes{km: 100}
	clock := func() time.Time { return clockNow }

	board := loadboard.NewService(loadboard.NewStore(rdb), repo, config.LoadBoardConfig{TickSeconds: 30, RadiusKm: 100}, logger)
	engine := pricing.NewEngine(routes, config.DefaultPricing(), pricing.WithClock(clock))
	tracker := demand.NewTracker(repo, config.DefaultPricing().InsuranceSurcharge, logger)
	planner := combine.NewPlanner(routes, combine.StrategyNested)
	svc := booking.NewService(repo, routes, engine, tracker, planner, 50, logger,
		booking.WithLoadIndex(board), booking.WithClock(clock))

	r := NewRouter(RouterDeps{Booking: svc, LoadBoard: board, Geocoder: geocoder, Logger: logger})
	return &testAPI{router: r, routes: routes}
}

func (a *testAPI) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func shipmentBody() map[string]any {
	return map[string]any{
		"shipper_id":      "shipper-1",
		"company_name":    "Acme",
		"pickup":          map[string]float64{"lat": pickup.Lat, "lng": pickup.Lng},
		"dropoff":         map[string]float64{"lat": dropoff.Lat, "lng": dropoff.Lng},
		"material":        "Steel",
		"quantity_tonnes": 10,
		"vehicle_class":   "small",
		"expires_at":      clockNow.Add(48 * time.Hour).Format(time.RFC3339),
	}
}

type shipmentJSON struct {
	ID                 string   `json:"id"`
	Price              float64  `json:"price"`
	DistanceKm         float64  `json:"distance_km"`
	Status             string   `json:"status"`
	DriverID           *string  `json:"driver_id"`
	IsCombinedRoute    bool     `json:"is_combined_route"`
	CombinedBookingIDs []string `json:"combined_booking_ids"`
	CombinedPrice      float64  `json:"combined_price"`
	RouteOrder         []struct {
		Order    int    `json:"order"`
		StopType string `json:"stop_type"`
	} `json:"route_order"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func (a *testAPI) mustCreate(t *testing.T) shipmentJSON {
	t.Helper()
	w := a.do(http.MethodPost, "/api/shipments", shipmentBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", w.Code, w.Body.String())
	}
	return decode[shipmentJSON](t, w)
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, stubGeocoder{})
	w := api.do(http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Errorf("health = %d %q", w.Code, w.Body.String())
	}
}

func TestCreateAndGet(t *testing.T) {
	api := newTestAPI(t, stubGeocoder{})
	created := api.mustCreate(t)
	if created.Price != 1500 || created.DistanceKm != 100 || created.Status != "pending" {
		t.Errorf("created = %+v", created)
	}

	w := api.do(http.MethodGet, "/api/shipments/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: status %d", w.Code)
	}
	if got := decode[shipmentJSON](t, w); got.ID != created.ID || got.Price != 1500 {
		t.Errorf("got = %+v", got)
	}
}

func TestCreate_BadRequests(t *testing.T) {
	api := newTestAPI(t, stubGeocoder{})

	noPickup := shipmentBody()
	delete(noPickup, "pickup")
	noShipper := shipmentBody()
	delete(noShipper, "shipper_id")
	badCoord := shipmentBody()
	badCoord["dropoff"] = map[string]float64{"lat": 95, "lng": 0}
	noExpiry := shipmentBody()
	delete(noExpiry, "expires_at")

	tests := []struct {
		name string
		body any
	}{
		{"missing pickup", noPickup},
		{"missing shipper", noShipper},
		{"coordinate out of range", badCoord},
		{"missing expiry", noExpiry},
		{"not an object", "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := api.do(http.MethodPost, "/api/shipments", tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (%s)", w.Code, w.Body.String())
			}
		})
	}
}

func TestCreate_DirectionsDown(t *testing.T) {
	api := newTestAPI(t, stubGeocoder{})
	api.routes.err = fmt.Errorf("%w: directions: timeout", types.ErrExternalService)

	w := api.do(http.MethodPost, "/api/shipments", shipmentBody())
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
}

func TestGet_Errors(t *testing.T) {
	api := newTestAPI(t, stubGeocoder{})
	if w := api.do(http.MethodGet, "/api/shipments/not-a-uuid", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", w.Code)
	}
	if w := api.do(http.MethodGet, "/api/shipments/7d9f1f3e-8c1a-4c39-9d0e-3f2b6a1c5e00", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown id: status = %d, want 404", w.Code)
	}
}

func TestQuote_DoesNotStore(t *testing.T) {
	api := newTestAPI(t, stubGeocoder{})
	body := shipmentBody()
	delete(body, "shipper_id")

	w := api.do(http.MethodPost, "/api/shipments/quote", body)
	if w.Code != http.StatusOK {
		t.Fatalf("quote: status %d body %s", w.Code, w.Body.String())
	}
	q := decode[struct {
		Price   float64         `json:"price"`
		Factors pricing.Factors `json:"factors"`
	}](t, w)
	if q.Price != 1500 || q.Factors.Material != 1.5 {
		t.Errorf("quote = %+v", q)
	}

	// a stored booking would raise the next one's demand factor
	if created := api.mustCreate(t); created.Price != 1500 {
		t.Errorf("price after quote = %v, want 1500", created.Price)
	}
}

func TestAssign_OnlyOnce(t *testing.T) {
	api := newTestAPI(t, stubGeocoder{})
	sh := api.mustCreate(t)

	w := api.do(http.MethodPost, "/api/shipments/"+sh.ID+"/assign", map[string]string{"driver_id": "driver-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("assign: status %d body %s", w.Code, w.Body.String())
	}
	got := decode[shipmentJSON](t, w)
	if got.Status != "assigned" || got.DriverID == nil || *got.DriverID != "driver-1" {
		t.Errorf("assigned = %+v", got)
	}

	w = api.do(http.MethodPost, "/api/shipments/"+sh.ID+"/assign", map[string]string{"driver_id": "driver-2"})
	if w.Code != http.StatusConflict {
		t.Errorf("second assign: status = %d, want 409", w.Code)
	}
	w = api.do(http.MethodPost, "/api/shipments/"+sh.ID+"/assign", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing driver: status = %d, want 400", w.Code)
	}
}

func TestLifecycle(t *testing.T) {
	api := newTestAPI(t, stubGeocoder{})

	cancelled := api.mustCreate(t)
	w := api.do(http.MethodPost, "/api/shipments/"+cancelled.ID+"/cancel", nil)
	if w.Code != http.StatusOK || decode[shipmentJSON](t, w).Status != "cancelled" {
		t.Errorf("cancel: status %d body %s", w.Code, w.Body.String())
	}
	if w := api.do(http.MethodPost, "/api/shipments/"+cancelled.ID+"/complete", nil); w.Code != http.StatusConflict {
		t.Errorf("complete cancelled: status = %d, want 409", w.Code)
	}

	done := api.mustCreate(t)
	api.do(http.MethodPost, "/api/shipments/"+done.ID+"/assign", map[string]string{"driver_id": "driver-1"})
	w = api.do(http.MethodPost, "/api/shipments/"+done.ID+"/complete", nil)
	if w.Code != http.StatusOK || decode[shipmentJSON](t, w).Status != "completed" {
		t.Errorf("complete: status %d body %s", w.Code, w.Body.String())
	}
}

func TestListShipments(t *testing.T) {
	api := newTestAPI(t, stubGeocoder{})
	mine := api.mustCreate(t)
	otherBody := shipmentBody()
	otherBody["shipper_id"] = "shipper-2"
	w := api.do(http.MethodPost, "/api/shipments", otherBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status %d", w.Code)
	}
	other := decode[shipmentJSON](t, w)
	api.do(http.MethodPost, "/api/shipments/"+other.ID+"/assign", map[string]string{"driver_id": "driver-1"})

	type listJSON struct {
		Shipments []shipmentJSON `json:"shipments"`
	}
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "all bookings", query: "", want: []string{mine.ID, other.ID}},
		{name: "shipper bookings", query: "?shipper_id=shipper-1", want: []string{mine.ID}},
		{name: "by status", query: "?status=assigned", want: []string{other.ID}},
		{name: "shipper without bookings", query: "?shipper_id=nobody", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(http.MethodGet, "/api/shipments"+tt.query, nil)
			if w.Code != http.StatusOK {
				t.Fatalf("status %d body %s", w.Code, w.Body.String())
			}
			got := decode[listJSON](t, w).Shipments
			if got == nil {
				t.Fatal("shipments must be a JSON array")
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d shipments, want %d", len(got), len(tt.want))
			}
			seen := map[string]bool{}
			for _, s := range got {
				seen[s.ID] = true
			}
			for _, id := range tt.want {
				if !seen[id] {
					t.Errorf("missing %s in %s", id, w.Body.String())
				}
			}
		})
	}

	if w := api.do(http.MethodGet, "/api/shipments?status=lost", nil); w.Code != http.StatusBadRequest {
		t.Errorf("unknown status: status = %d, want 400", w.Code)
	}
}

func TestTripStats(t *testing.T) {
	api := newTestAPI(t, stubGeocoder{})

	type statsJSON struct {
		TotalTrips         int     `json:"total_trips"`
		AverageTripSeconds float64 `json:"average_trip_seconds"`
		DriverPerformance  []struct {
			DriverID       string  `json:"driver_id"`
			TripsCompleted int     `json:"trips_completed"`
			TotalEarnings  float64 `json:"total_earnings"`
		} `json:"driver_performance"`
	}
	w := api.do(http.MethodGet, "/api/stats/trips", nil)
	if empty := decode[statsJSON](t, w); w.Code != http.StatusOK || empty.TotalTrips != 0 || empty.DriverPerformance == nil {
		t.Fatalf("empty stats: status %d body %s", w.Code, w.Body.String())
	}

	done := api.mustCreate(t)
	api.do(http.MethodPost, "/api/shipments/"+done.ID+"/assign", map[string]string{"driver_id": "driver-1"})
	if w := api.do(http.MethodPost, "/api/shipments/"+done.ID+"/complete", nil); w.Code != http.StatusOK {
		t.Fatalf("complete: status %d", w.Code)
	}

	w = api.do(http.MethodGet, "/api/stats/trips", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats: status %d", w.Code)
	}
	stats := decode[statsJSON](t, w)
	if stats.TotalTrips != 1 || stats.AverageTripSeconds != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if len(stats.DriverPerformance) != 1 || stats.DriverPerformance[0].DriverID != "driver-1" ||
		stats.DriverPerformance[0].TotalEarnings != done.Price {
		t.Errorf("driver performance = %+v, want driver-1 earning %v", stats.DriverPerformance, done.Price)
	}
}

func TestCombine(t *testing.T) {
	api := newTestAPI(t, stubGeocoder{})
	main := api.mustCreate(t)
	cand := api.mustCreate(t)

	w := api.do(http.MethodGet, "/api/shipments/"+main.ID+"/combinations", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("candidates: status %d body %s", w.Code, w.Body.String())
	}
	list := decode[struct {
		Candidates []struct {
			CandidateID string  `json:"candidate_id"`
			Order       string  `json:"order"`
			ExtraKm     float64 `json:"extra_km"`
		} `json:"candidates"`
	}](t, w)
	if len(list.Candidates) != 1 || list.Candidates[0].CandidateID != cand.ID || list.Candidates[0].Order != "nested" {
		t.Fatalf("candidates = %+v", list.Candidates)
	}

	w = api.do(http.MethodPost, "/api/shipments/"+main.ID+"/combine", map[string]string{"candidate_id": cand.ID})
	if w.Code != http.StatusOK {
		t.Fatalf("combine: status %d body %s", w.Code, w.Body.String())
	}
	merged := decode[shipmentJSON](t, w)
	if !merged.IsCombinedRoute || merged.Status != "assigned" || len(merged.RouteOrder) != 4 {
		t.Errorf("merged = %+v", merged)
	}
	if len(merged.CombinedBookingIDs) != 2 || merged.CombinedBookingIDs[0] != main.ID || merged.CombinedBookingIDs[1] != cand.ID {
		t.Errorf("combined ids = %v", merged.CombinedBookingIDs)
	}
	// both were 1575 after the second booking rescaled the first
	if merged.CombinedPrice != 2835 || merged.Price != merged.CombinedPrice {
		t.Errorf("combined price = %v / %v, want 2835", merged.CombinedPrice, merged.Price)
	}

	if w := api.do(http.MethodGet, "/api/shipments/"+cand.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("merged candidate: status = %d, want 404", w.Code)
	}
	w = api.do(http.MethodPost, "/api/shipments/"+main.ID+"/combine", map[string]string{"candidate_id": cand.ID})
	if w.Code != http.StatusNotFound {
		t.Errorf("repeat combine: status = %d, want 404", w.Code)
	}
}

func TestCombine_BadRequests(t *testing.T) {
	api := newTestAPI(t, stubGeocoder{})
	main := api.mustCreate(t)

	if w := api.do(http.MethodPost, "/api/shipments/"+main.ID+"/combine", map[string]string{"candidate_id": "x"}); w.Code != http.StatusBadRequest {
		t.Errorf("bad candidate id: status = %d, want 400", w.Code)
	}
	if w := api.do(http.MethodPost, "/api/shipments/"+main.ID+"/combine", map[string]string{"candidate_id": main.ID}); w.Code != http.StatusBadRequest {
		t.Errorf("self combine: status = %d, want 400", w.Code)
	}
}

func TestCombine_NotFeasible(t *testing.T) {
	api := newTestAPI(t, stubGeocoder{})
	main := api.mustCreate(t)
	cand := api.mustCreate(t)
	api.routes.combinedKm = 151

	w := api.do(http.MethodGet, "/api/shipments/"+main.ID+"/combinations", nil)
	if w.Code != http.StatusOK || bytes.Contains(w.Body.Bytes(), []byte(cand.ID)) {
		t.Errorf("candidates: status %d body %s", w.Code, w.Body.String())
	}
	w = api.do(http.MethodPost, "/api/shipments/"+main.ID+"/combine", map[string]string{"candidate_id": cand.ID})
	if w.Code != http.StatusConflict {
		t.Errorf("combine: status = %d, want 409", w.Code)
	}
	if w := api.do(http.MethodGet, "/api/shipments/"+cand.ID, nil); w.Code != http.StatusOK {
		t.Errorf("candidate must survive a rejected combine: status = %d", w.Code)
	}
}

func TestLoadsNearby(t *testing.T) {
	api := newTestAPI(t, stubGeocoder{})
	sh := api.mustCreate(t)

	w := api.do(http.MethodGet, fmt.Sprintf("/api/loads/nearby?lat=%f&lng=%f&radius_km=10", pickup.Lat+0.01, pickup.Lng), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("nearby: status %d body %s", w.Code, w.Body.String())
	}
	got := decode[struct {
		Loads []struct {
			Shipment   shipmentJSON `json:"shipment"`
			DistanceKm float64      `json:"distance_km"`
		} `json:"loads"`
	}](t, w)
	if len(got.Loads) != 1 || got.Loads[0].Shipment.ID != sh.ID || got.Loads[0].DistanceKm <= 0 {
		t.Errorf("loads = %+v", got.Loads)
	}

	api.do(http.MethodPost, "/api/shipments/"+sh.ID+"/assign", map[string]string{"driver_id": "driver-1"})
	w = api.do(http.MethodGet, fmt.Sprintf("/api/loads/nearby?lat=%f&lng=%f", pickup.Lat, pickup.Lng), nil)
	if got := decode[struct {
		Loads []any `json:"loads"`
	}](t, w); len(got.Loads) != 0 {
		t.Errorf("assigned load still listed: %+v", got.Loads)
	}

	for _, q := range []string{"lng=100", "lat=13&lng=100&radius_km=-1", "lat=abc&lng=1"} {
		if w := api.do(http.MethodGet, "/api/loads/nearby?"+q, nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, w.Code)
		}
	}
}

func TestReverseGeocode(t *testing.T) {
	api := newTestAPI(t, stubGeocoder{addr: "Bangkok, Thailand"})
	w := api.do(http.MethodGet, "/api/geocode/reverse?lat=13.7563&lng=100.5018", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if got := decode[map[string]any](t, w); got["address"] != "Bangkok, Thailand" {
		t.Errorf("body = %v", got)
	}

	down := newTestAPI(t, stubGeocoder{err: fmt.Errorf("%w: geocode", types.ErrExternalService)})
	if w := down.do(http.MethodGet, "/api/geocode/reverse?lat=13.7563&lng=100.5018", nil); w.Code != http.StatusBadGateway {
		t.Errorf("geocoder down: status = %d, want 502", w.Code)
	}
}

func TestRecovery(t *testing.T) {
	api := newTestAPI(t, stubGeocoder{})
	api.router.GET("/boom", func(c *gin.Context) { panic("boom") })
	if w := api.do(http.MethodGet, "/boom", nil); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}
