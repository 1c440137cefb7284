package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
	_ "time/tzdata"

	"github.com/md-rashed-zaman/slotkeeper/libs/auth"
	"github.com/md-rashed-zaman/slotkeeper/libs/config"
	"github.com/md-rashed-zaman/slotkeeper/libs/db"
	"github.com/md-rashed-zaman/slotkeeper/libs/grpcx"
	"github.com/md-rashed-zaman/slotkeeper/libs/httpx"
	"github.com/md-rashed-zaman/slotkeeper/libs/kafkax"
	otelx "github.com/md-rashed-zaman/slotkeeper/libs/otel"
	"github.com/md-rashed-zaman/slotkeeper/libs/runtime"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/busy"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/calendars"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/completion"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/hours"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/tools"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/migrations"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext(logger)
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	sealer, err := newSealer(logger)
	if err != nil {
		logger.Error("calendar token key invalid", "err", err)
		panic(err)
	}

	var (
		store  storage.Store
		checks []runtime.ReadyCheck
	)
	brokers := config.String("KAFKA_BROKERS", "")
	if dbURL := config.String("DATABASE_URL", ""); dbURL != "" {
		pool, err := db.Open(ctx, dbURL, db.Options{
			MaxConns: int32(config.Int("DB_MAX_CONNS", 10)),
		})
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()

		if config.Bool("MIGRATE_ON_START", true) {
			if err := migrations.Up(ctx, pool, logger); err != nil {
				logger.Error("migrations failed", "err", err)
				panic(err)
			}
		}
		store = storage.NewPostgres(pool, sealer)
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})

		publisher := outbox.NewPublisher(pool, outbox.NewRepository(), logger, outbox.PublisherConfig{
			Brokers:   brokers,
			PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
			BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
		})
		go publisher.Run(ctx)
		if brokers != "" {
			checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
		}
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory store")
		store = storage.NewMemory()
	}

	rdb := newRedis(logger)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	hub := newCalendarHub(store, logger)
	var external busy.ExternalSource = hub
	var busyCache *calendars.CachedSource
	if rdb != nil {
		busyCache = newBusyCache(hub, rdb, logger)
		external = busyCache
	}

	resolver := hours.NewResolver(store)
	aggregator := busy.NewAggregator(store, external, logger).
		WithExternalTimeout(config.Duration("CALENDAR_BUSY_TIMEOUT", busy.DefaultExternalTimeout))
	engine := availability.NewEngine(store, resolver, aggregator, availability.Config{
		DefaultStep:   config.Duration("SLOT_STEP", 15*time.Minute),
		DefaultBuffer: config.Duration("BUFFER", 0),
		MaxBuffer:     config.Duration("MAX_BUFFER", time.Hour),
		HidePast:      config.Bool("HIDE_PAST_SLOTS", true),
	})
	bookings := booking.NewService(store, resolver, hub, logger, booking.Config{
		DefaultDuration: config.Duration("DEFAULT_APPOINTMENT_DURATION", 30*time.Minute),
		EnforceHours:    config.Bool("ENFORCE_OPENING_HOURS", true),
		CalendarTimeout: config.Duration("CALENDAR_WRITE_TIMEOUT", 10*time.Second),
	})
	defer bookings.Wait()

	worker := completion.NewWorker(bookings, logger, completion.WorkerConfig{
		Interval:  config.Duration("COMPLETION_INTERVAL", time.Minute),
		BatchSize: config.Int("COMPLETION_BATCH_SIZE", 100),
	})
	go worker.Run(ctx)

	var jwks *auth.JWKSClient
	if url := config.String("JWKS_URL", ""); url != "" {
		jwks = auth.NewJWKSClient(url, config.Duration("JWKS_CACHE_TTL", 5*time.Minute))
	}
	jwtSecret := config.String("JWT_SECRET", "dev-secret")
	verifier := auth.NewVerifier(jwtSecret, jwks)
	protect := func(next http.Handler) http.Handler {
		return auth.RequireAuth(auth.RequireRole(next, "owner", "admin"), verifier)
	}

	businessHandler := handlers.NewBusinessHandler(store, handlers.TokenIssuer{
		Secret: jwtSecret,
		TTL:    config.Duration("JWT_TTL", 24*time.Hour),
	}, logger)
	if busyCache != nil {
		businessHandler.WithCalendarCache(busyCache)
	}
	routes := handlers.Routes{
		Business: businessHandler,
		Booking: handlers.NewBookingHandler(engine, bookings, logger),
		Voice:   handlers.NewVoiceHandler(store, tools.NewDispatcher(engine, bookings, store), config.String("VOICE_TOOL_SECRET", ""), logger),
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	routes.Register(mux, protect, newRateLimit(rdb, logger))

	httpHandler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   config.List("CORS_ALLOWED_ORIGINS", ""),
			AllowedMethods:   config.List("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS"),
			AllowedHeaders:   config.List("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id,"+handlers.HeaderIdempotencyKey+","+handlers.HeaderToolSecret),
			AllowCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           config.Duration("CORS_MAX_AGE", 10*time.Minute),
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20))),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 15*time.Second)),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if grpcPort := config.String("GRPC_PORT", ""); grpcPort != "" {
		lis, err := net.Listen("tcp", ":"+grpcPort)
		if err != nil {
			logger.Error("grpc listen failed", "err", err)
			panic(err)
		}
		hs := grpcx.NewHealthServer(logger)
		go func() {
			if err := hs.Serve(ctx, lis); err != nil {
				logger.Error("grpc health server error", "err", err)
			}
		}()
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
