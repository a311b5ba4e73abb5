package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/config"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/connection"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/core"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/database"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/handlers"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/logging"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/mutation"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/services"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/websocket"
)

const fleetName = "default"

func fatal(title string, err error) {
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Printf("❌ FATAL ERROR: %s", title)
	log.Printf("   Error: %v", err)
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Fatal(err)
}

func main() {
	log.Println("═══════════════════════════════════════════════════════════════════")
	log.Println("🚀 FLEET DASHBOARD SERVER STARTING")
	log.Println("═══════════════════════════════════════════════════════════════════")

	log.Println("📂 Loading environment variables...")
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  Warning: .env file not found, using environment variables from system")
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	cfg, err := config.Load()
	if err != nil {
		fatal("Invalid configuration", err)
	}
	logger := logging.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		source  core.Source
		backend mutation.Backend
		users   handlers.UserFinder
		tokens  services.TokenLookup
	)

	if cfg.DatabaseURL != "" {
		log.Println("🔌 Connecting to database...")
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			fatal("Database connection failed", err)
		}
		defer db.Close()
		log.Println("✅ Database connection established")

		log.Println("🔄 Running database migrations...")
		if err := database.Migrate(db); err != nil {
			fatal("Database migrations failed", err)
		}
		log.Println("🌱 Seeding database with initial data...")
		if err := database.SeedFleet(db, time.Now()); err != nil {
			fatal("Fleet seeding failed", err)
		}
		if err := database.SeedUsers(db); err != nil {
			fatal("User seeding failed", err)
		}

		repo := database.NewRepository(db)
		source, users, tokens = repo, repo, repo
		backend = database.NewBackend(db)
	} else {
		log.Println("⚠️  DATABASE_URL not set, serving the demonstration fleet")
		source = core.StaticSource{}
		staff, err := handlers.NewStaticUsers()
		if err != nil {
			fatal("Could not prepare demonstration logins", err)
		}
		users = staff
	}

	if cfg.SimulatedBackend {
		log.Printf("🎲 Simulated backend: delay %v, failure rate %.2f", cfg.SimulatedDelay, cfg.SimulatedFailureRate)
		backend = mutation.NewSimulatedBackend(cfg.SimulatedDelay, cfg.SimulatedFailureRate)
	}

	dash, err := core.New(core.Deps{
		Source:    source,
		Backend:   backend,
		Transport: &connection.WebsocketTransport{},
		Log:       logger,
	}, core.Config{
		FeedURL:       cfg.FeedURL,
		ReconnectBase: cfg.ReconnectBase,
		ReconnectMax:  cfg.ReconnectMax,
		Mutation: mutation.Config{
			Timeout: cfg.MutationTimeout,
			Policy:  cfg.RollbackPolicy,
		},
	})
	if err != nil {
		fatal("Dashboard setup failed", err)
	}

	// Push notifications need both Firebase and the device tokens in the database
	if tokens != nil {
		if fcm := newFCMService(cfg, logger); fcm != nil {
			alerter := services.NewAssignmentAlerter(tokens, fcm, dash.Reader(), logger)
			dash.OnOutcome(alerter.OnOutcome)
		}
	}

	tracker := services.NewLocationTracker(newDriverIndex(ctx, cfg), dash.Reader(), logger)
	dash.Subscribe(tracker.Observe)
	go tracker.Run(ctx)

	wsHub := websocket.NewHub(dash, logger)
	defer wsHub.Close()
	log.Println("✅ WebSocket hub started")

	go func() {
		if err := dash.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("❌ [LOOP] %v", err)
		}
	}()

	log.Println("📦 Loading fleet...")
	if err := dash.Load(ctx); err != nil {
		log.Printf("⚠️  Initial load failed: %v (use POST /api/reload to retry)", err)
	} else {
		log.Printf("✅ Loaded %d drivers and %d deliveries", len(dash.Reader().Drivers()), len(dash.Reader().Deliveries()))
	}

	if cfg.FeedAutoConnect {
		log.Printf("📡 Connecting to live feed %s", cfg.FeedURL)
		if err := dash.Connect(cfg.FeedURL); err != nil {
			log.Printf("⚠️  Feed connect failed: %v", err)
		}
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	handlers.Mount(r, handlers.API{
		Dash:   dash,
		Users:  users,
		Nearby: tracker,
		Stream: websocket.HandleWebSocket(wsHub, cfg.JWTSecret),
		Secret: cfg.JWTSecret,
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}

	log.Println("═══════════════════════════════════════════════════════════════════")
	log.Println("✅ ALL INITIALIZATION COMPLETE")
	log.Printf("🚀 Server starting on http://localhost:%s", cfg.Port)
	log.Println("🔌 Ready to accept requests!")
	log.Println("═══════════════════════════════════════════════════════════════════")

	go func() {
		<-ctx.Done()
		log.Println("🛑 Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal("Server failed to start", err)
	}
}

// newFCMService supports both base64 credentials (cloud deployments) and a file path
func newFCMService(cfg config.Config, logger logging.Logger) *services.FCMService {
	if cfg.FirebaseCredentialsBase64 != "" {
		fcm, err := services.NewFCMServiceFromBase64(cfg.FirebaseCredentialsBase64, logger)
		if err != nil {
			log.Printf("⚠️  Failed to initialize FCM from base64: %v (push notifications disabled)", err)
			return nil
		}
		log.Println("✅ Firebase Cloud Messaging initialized from base64 credentials")
		return fcm
	}

	fcm, err := services.NewFCMService(cfg.FirebaseCredentialsFile, logger)
	if err != nil {
		log.Printf("⚠️  Failed to initialize FCM from file: %v (push notifications disabled)", err)
		return nil
	}
	log.Println("✅ Firebase Cloud Messaging initialized from file")
	return fcm
}

// newDriverIndex prefers Redis and falls back to process memory
func newDriverIndex(ctx context.Context, cfg config.Config) services.DriverIndex {
	if cfg.RedisURL == "" {
		log.Println("📍 Driver locations indexed in memory")
		return services.NewMemoryDriverIndex()
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Printf("⚠️  Invalid REDIS_URL: %v (using in-memory index)", err)
		return services.NewMemoryDriverIndex()
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Printf("⚠️  Redis unreachable: %v (using in-memory index)", err)
		rdb.Close()
		return services.NewMemoryDriverIndex()
	}
	log.Println("✅ Driver locations indexed in Redis")
	return services.NewRedisDriverIndex(rdb, fleetName)
}
