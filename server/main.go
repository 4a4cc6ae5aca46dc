package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/itskum47/shopfloor/server/broadcast"
	"github.com/itskum47/shopfloor/server/detect"
	"github.com/itskum47/shopfloor/server/middleware"
	"github.com/itskum47/shopfloor/server/priority"
	"github.com/itskum47/shopfloor/server/reporting"
	"github.com/itskum47/shopfloor/server/scheduler"
	"github.com/itskum47/shopfloor/server/store"
	"github.com/itskum47/shopfloor/server/telemetry"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := LoadConfig()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store selection: Postgres with migrations, or in-memory for dev.
	var st store.Store
	if cfg.DatabaseURL != "" {
		if err := store.Migrate(ctx, cfg.DatabaseURL); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres connection failed", zap.Error(err))
		}
		st = pg
		logger.Info("using postgres store")
	} else {
		st = store.NewMemoryStore()
		logger.Warn("DATABASE_URL not set, using in-memory store")
	}
	defer st.Close()

	// Live cache: optional. Detectors poll it at 1s instead of the database.
	var cache *store.LiveCache
	if cfg.RedisAddr != "" {
		cache, err = store.NewLiveCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer cache.Close()
		if err := rebuildCache(ctx, st, cache); err != nil {
			logger.Fatal("live cache rebuild failed", zap.Error(err))
		}
		logger.Info("live cache connected", zap.String("addr", cfg.RedisAddr))
	} else {
		logger.Warn("REDIS_ADDR not set, detectors poll the store directly")
	}

	storeSource := telemetry.NewStoreSource(st)
	var telemSource detect.TelemetrySource = storeSource
	var shiftSource detect.ShiftwiseSource = storeSource
	if cache != nil {
		telemSource = cache
		shiftSource = cache
	}

	hub := broadcast.NewHub(logger)
	defer hub.Shutdown()
	wireSnapshots(hub, storeSource, telemSource, shiftSource)

	engine := scheduler.NewEngine(logger)
	controller := NewController(st, engine, cfg.ShiftWindow, cfg.ScheduleBudget, logger)
	priorities := priority.NewEngine(st, logger)
	reporter := reporting.NewReporter(st, cfg.ShiftWindow, logger)
	ingestor := telemetry.NewIngestor(st, cache, logger)
	history := detect.NewHistoryStreamer(st, hub, logger)

	api := NewAPI(st, priorities, controller, reporter, ingestor, hub, history, telemSource, logger)
	api.baseCtx = ctx

	// Detector loops.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return detect.RunLoop(gctx, "machine-status", detect.NewStatusDetector(storeSource, hub, logger), logger)
	})
	g.Go(func() error {
		return detect.RunLoop(gctx, "machine-parameters", detect.NewParamsDetector(telemSource, hub, logger), logger)
	})
	g.Go(func() error {
		return detect.RunLoop(gctx, "shiftwise-energy", detect.NewShiftwiseDetector(shiftSource, hub, logger), logger)
	})
	go api.wsHub.Run(ctx)

	router := buildRouter(api, cache, cfg, logger)
	server := &http.Server{Addr: cfg.ListenAddr, Handler: router}

	g.Go(func() error {
		<-gctx.Done()
		return server.Shutdown(context.Background())
	})

	logger.Info("shopfloor server listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("shift_start", cfg.ShiftWindow.DayStart(controller.now()).Format("15:04")),
		zap.String("shift_end", cfg.ShiftWindow.DayEnd(controller.now()).Format("15:04")))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server failed", zap.Error(err))
	}
	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Warn("shutdown", zap.Error(err))
	}
}

// rebuildCache reloads the live tables into Redis; the database stays
// authoritative across restarts.
func rebuildCache(ctx context.Context, st store.Store, cache *store.LiveCache) error {
	rows, err := st.ListTelemetryLive(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := cache.SetTelemetry(ctx, row); err != nil {
			return err
		}
	}
	energies, err := st.ListShiftwiseLive(ctx)
	if err != nil {
		return err
	}
	for _, e := range energies {
		if err := cache.SetShiftwise(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// wireSnapshots registers the initial-state producers of the global
// stream topics.
func wireSnapshots(hub *broadcast.Hub, statuses detect.StatusSource, telem detect.TelemetrySource, shift detect.ShiftwiseSource) {
	hub.Topic(detect.TopicMachineStatus).SetSnapshot(func(ctx context.Context) ([]byte, error) {
		current, err := statuses.AllStatuses(ctx)
		if err != nil {
			return nil, err
		}
		events := make([]detect.StatusEvent, 0, len(current))
		for id, code := range current {
			events = append(events, detect.StatusEvent{MachineID: id, Status: code})
		}
		sort.Slice(events, func(i, j int) bool { return events[i].MachineID < events[j].MachineID })
		return json.Marshal(events)
	})

	hub.Topic(detect.TopicMachineParams).SetSnapshot(func(ctx context.Context) ([]byte, error) {
		current, err := telem.AllTelemetry(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]*store.TelemetryRow, 0, len(current))
		for _, row := range current {
			rows = append(rows, row)
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].MachineID < rows[j].MachineID })
		return json.Marshal(rows)
	})

	hub.Topic(detect.TopicShiftwise).SetSnapshot(func(ctx context.Context) ([]byte, error) {
		current, err := shift.AllShiftwise(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]*store.ShiftwiseEnergy, 0, len(current))
		for _, e := range current {
			rows = append(rows, e)
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].MachineID < rows[j].MachineID })
		return json.Marshal(rows)
	})
}

// buildRouter mounts the full HTTP surface under /api/v1.
func buildRouter(api *API, cache *store.LiveCache, cfg Config, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.IdempotencyHeader},
		AllowCredentials: false,
	}))
	r.Use(middleware.RequestLogger(logger))

	idem := middleware.Idempotency(cache, logger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/planning", func(r chi.Router) {
			r.Get("/all_orders", api.handleAllOrders)
			r.Get("/search_order", api.handleSearchOrder)
			r.With(idem).Post("/create_order", api.handleCreateOrder)
			r.Put("/update_order/{po}", api.handleUpdateOrder)
			r.Put("/operations/{part}/{op_no}", api.handleUpdateOperation)
			r.Delete("/orders/{id}", api.handleDeleteOrder)
			r.Put("/schedule-status", api.handleSetScheduleStatus)
			r.Put("/raw-materials/{id}", api.handleRawMaterialEvent)
		})

		r.Route("/priority", func(r chi.Router) {
			r.Get("/details", api.handlePriorityDetails)
			r.Get("/details/{part}", api.handlePartPriorityDetails)
			r.Put("/update", api.handleUpdatePriority)
			r.Put("/order/{id}/priority", api.handleUpdateOrderPriority)
		})

		r.Route("/production", func(r chi.Router) {
			r.Post("/logs", api.handleCreateProductionLog)
			r.Get("/{granularity}", api.handleProduction)
		})

		r.Route("/scheduling", func(r chi.Router) {
			r.Post("/reschedule", api.handleTriggerReschedule)
			r.Get("/reschedules", api.handleListReschedules)
			r.Get("/versions/{psi}", api.handleScheduleVersions)
		})

		// Path keeps the historical spelling clients depend on.
		r.Route("/maintainance", func(r chi.Router) {
			r.With(idem).Post("/downtimes/", api.handleCreateDowntime)
			r.Get("/supervisor/downtimes/", api.handleListDowntimes)
			r.Put("/supervisor/downtimes/{id}/acknowledge", api.handleAcknowledgeDowntime)
			r.Put("/supervisor/downtimes/{id}/close", api.handleCloseDowntime)
			r.Get("/metrics/machine-performance", api.handleShopPerformance)
			r.Get("/metrics/machine-performance/{id}", api.handleMachinePerformance)
			r.Get("/metrics/machine-oee/{id}", api.handleMachineOEE)
		})

		r.Route("/energy-monitoring", func(r chi.Router) {
			r.Post("/ingest", api.handleIngest)
			r.Get("/machine-status-stream", api.handleMachineStatusStream)
			r.Get("/machine-parameters-stream", api.handleMachineParamsStream)
			r.Get("/machine/{id}/parameters-stream", api.handleSingleMachineParamsStream)
			r.Get("/machine/{id}/parameter/{name}/history-stream", api.handleParamHistoryStream)
			r.Get("/machine/{id}/parameter/{name}/history", api.handleParamHistory)
			r.Get("/shiftwise-energy-stream", api.handleShiftwiseStream)
		})

		r.Get("/dashboard", api.handleGetDashboard)
		r.Get("/dashboard/stream", api.handleDashboardStream)
	})

	return r
}
