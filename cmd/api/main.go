package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glowpost/backend/internal/captions"
	"github.com/glowpost/backend/internal/config"
	"github.com/glowpost/backend/internal/handlers"
	"github.com/glowpost/backend/internal/middleware"
	"github.com/glowpost/backend/internal/publisher"
	"github.com/glowpost/backend/internal/scheduler"
	"github.com/glowpost/backend/internal/workers"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/cors"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal(err)
	}

	// Root context for background workers and graceful shutdown
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	// Run migrations on startup
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatalf("Failed to init migration driver: %v", err)
	}
	migrator, err := migrate.NewWithDatabaseInstance("file://db/migrations", "postgres", driver)
	if err != nil {
		log.Fatalf("Failed to create migrator: %v", err)
	}
	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		log.Fatalf("Database migration failed: %v", err)
	}
	log.Println("Database is up-to-date")

	captionClient := captions.New(cfg.OllamaURL, cfg.OllamaModel)
	ledger := scheduler.NewLedger(db, cfg.DefaultWeeklyLimit)

	// Initialize handlers
	h := handlers.New(db, captionClient, cfg)

	// Setup router
	r := mux.NewRouter()
	quotaEnforcer := middleware.NewQuotaEnforcer(ledger)
	handlers.RegisterRoutes(h, r, quotaEnforcer.Middleware)

	// CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Handler:      c.Handler(r),
		Addr:         ":" + cfg.Port,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	// Handle graceful shutdown on SIGINT/SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Background: AI daily scheduler (decides and schedules one post per client per day)
	if workerEnabled("AI_SCHEDULER_ENABLED") {
		engine := scheduler.NewEngine(db, ledger, captionClient, cfg.DefaultTimezone)
		go engine.Start(rootCtx, cfg.AISchedulerInterval)
	} else {
		log.Printf("[AIScheduler] disabled via AI_SCHEDULER_ENABLED")
	}

	// Background: next-post scheduler (assigns publish slots to leftover drafts)
	if workerEnabled("NEXT_POST_ENABLED") {
		nps := scheduler.NewNextPostScheduler(db, cfg.DefaultTimezone)
		go nps.Start(rootCtx, cfg.NextPostInterval)
	} else {
		log.Printf("[NextPost] disabled via NEXT_POST_ENABLED")
	}

	// Background: publish sweeper (pushes due scheduled posts to Facebook)
	if workerEnabled("PUBLISH_SWEEP_ENABLED") {
		sweeper := publisher.NewSweeper(db, publisher.NewFacebookPublisher(cfg.FBAPIURL))
		go sweeper.Start(rootCtx, cfg.PublishSweepInterval)
	} else {
		log.Printf("[PublishSweeper] disabled via PUBLISH_SWEEP_ENABLED")
	}

	// Background: prune weekly usage rows older than the retention window
	if workerEnabled("USAGE_RETENTION_ENABLED") {
		retention := &workers.UsageRetentionWorker{DB: db, RetentionWeeks: cfg.UsageRetentionWeeks}
		go retention.Start(rootCtx)
	} else {
		log.Printf("[UsageRetentionWorker] disabled via USAGE_RETENTION_ENABLED")
	}

	go func() {
		<-stop
		log.Println("Shutting down server...")
		cancel()
		ctx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Server starting on port %s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
	log.Println("Server stopped")
}

func workerEnabled(key string) bool {
	v := os.Getenv(key)
	return v == "" || v == "true"
}
