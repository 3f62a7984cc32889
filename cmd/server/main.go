package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"chronos/internal/config"
	"chronos/internal/database"
	"chronos/internal/handlers"
	"chronos/internal/logging"
	"chronos/internal/middleware"
	"chronos/internal/services"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting Chronos report server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s)", cfg.Port)

	mongodb, err := database.NewMongoDB(cfg.MongoDBURI)
	if err != nil {
		log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
	}
	defer mongodb.Close(context.Background())

	views := services.NewMaterializedViewService(mongodb)
	reports := services.NewReportService(views, cfg.ReportCacheTTL)

	app := fiber.New(fiber.Config{
		AppName:      "Chronos v1.0",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("chronos")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	rateLimitConfig := middleware.LoadRateLimitConfig()
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: Global=%d/min, Reports=%d/min",
		rateLimitConfig.GlobalAPIMax,
		rateLimitConfig.ReportMax,
	)

	app.Get("/health", handlers.NewHealthHandler(map[string]handlers.Pinger{"mongodb": mongodb}).Handle)

	api := app.Group("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))
	handlers.NewReportHandler(reports).Register(api, middleware.ReportRateLimiter(rateLimitConfig))

	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)
	log.Printf("📈 Reports: http://localhost:%s/api/users/:user_id/learning-time/daily", cfg.Port)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("🛑 Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}
