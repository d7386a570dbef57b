// README: Entry point; loads config, wires services, starts HTTP server and background tickers.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"haul/internal/config"
	"haul/internal/events"
	httptransport "haul/internal/http"
	"haul/internal/infra"
	"haul/internal/maps"
	"haul/internal/modules/booking"
	"haul/internal/modules/combine"
	"haul/internal/modules/demand"
	"haul/internal/modules/loadboard"
	"haul/internal/modules/pricing"
	"haul/internal/modules/shipment"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := infra.NewLogger(os.Stdout, cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("haul-api stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if cfg.Maps.APIKey == "" {
		return errors.New("HAUL_MAPS_API_KEY is required")
	}

	var repo shipment.Repository
	if cfg.DB.DSN == "" {
		logger.Warn("HAUL_DB_DSN not set; shipments are kept in memory")
		repo = shipment.NewMemoryStore()
	} else {
		dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer dbPool.Close()
		repo = shipment.NewStore(dbPool)
	}

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	defer redisClient.Close()

	routeSvc, err := maps.NewRouteService(cfg.Maps.APIKey, cfg.Maps.Timeout)
	if err != nil {
		return err
	}
	routes := maps.NewCachedRoutes(routeSvc, redisClient, cfg.Maps.RouteCacheTTL, logger)
	geocoder, err := maps.NewGeocodeService(cfg.Maps.APIKey, cfg.Maps.Timeout)
	if err != nil {
		return err
	}

	var publisher events.Publisher = events.Noop{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	}
	defer publisher.Close()

	strategy := combine.StrategyNested
	if cfg.Combine.AllOrders {
		strategy = combine.StrategyAll
	}

	board := loadboard.NewService(loadboard.NewStore(redisClient), repo, cfg.LoadBoard, logger)
	engine := pricing.NewEngine(routes, cfg.Pricing)
	tracker := demand.NewTracker(repo, cfg.Pricing.InsuranceSurcharge, logger)
	planner := combine.NewPlanner(routes, strategy)
	bookingSvc := booking.NewService(repo, routes, engine, tracker, planner, cfg.Combine.MaxExtraKm, logger,
		booking.WithLoadIndex(board),
		booking.WithPublisher(publisher),
	)

	if n, err := board.Resync(ctx); err != nil {
		logger.Warn("initial load board resync failed", slog.Any("error", err))
	} else {
		logger.Info("load board ready", slog.Int("pending", n))
	}

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Booking:   bookingSvc,
		LoadBoard: board,
		Geocoder:  geocoder,
		Logger:    logger,
	})
	server := httptransport.NewServer(cfg.HTTP.Addr, router, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error {
		board.RunResyncTicker(ctx)
		return nil
	})
	g.Go(func() error {
		bookingSvc.RunExpiryTicker(ctx, time.Duration(cfg.ExpireTickSeconds)*time.Second)
		return nil
	})
	return g.Wait()
}
