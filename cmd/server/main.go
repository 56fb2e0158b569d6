package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/agora-api/agora/internal/auth"
	"github.com/agora-api/agora/internal/core"
	"github.com/agora-api/agora/internal/db"
	routes "github.com/agora-api/agora/internal/http"
	"github.com/agora-api/agora/internal/limiter"
	"github.com/agora-api/agora/internal/models"
	"github.com/agora-api/agora/internal/store"
	"github.com/agora-api/agora/internal/ws"
)

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		log.Printf("Ignoring invalid %s=%q, using %d", name, v, def)
	}
	return def
}

func main() {
	// Missing .env is fine: production sets env vars directly.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	database, err := db.Init()
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	log.Println("Running database migrations...")
	if err := database.AutoMigrate(&models.Note{}); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	notes, err := store.New(database)
	if err != nil {
		log.Fatalf("Failed to initialize note store: %v", err)
	}

	gate := auth.NewGate(auth.ParseKeys(os.Getenv("API_KEYS")))

	capacity := envInt("RATE_LIMIT", 30)
	window := time.Duration(envInt("RATE_WINDOW_SECONDS", 60)) * time.Second
	limits := limiter.NewWindow(capacity, window)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	limits.StartJanitor(ctx)

	memStats := limiter.NewMemoryStats(limiter.WithTrackKeys(true))
	var stats limiter.StatsStore = memStats
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		rdb := redis.NewClient(opt)
		stats = limiter.MultiStats{memStats, limiter.NewRedisStats(rdb)}
		log.Println("Recording rate-limit stats to Redis")
	}

	coordinator := core.New(notes, limits, gate, core.WithStats(stats))

	hub := ws.NewHub()
	go hub.Run()

	router := gin.Default()
	routes.SetupRoutes(router, &routes.Env{
		Coordinator: coordinator,
		Gate:        gate,
		Stats:       memStats,
		Hub:         hub,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		log.Printf("Server listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
