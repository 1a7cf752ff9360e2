package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	_ "time/tzdata"

	"competition-engine/config"
	"competition-engine/handlers"
	"competition-engine/middleware"
	"competition-engine/services"
	"competition-engine/store"
	"competition-engine/utils"
	"competition-engine/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jonboulle/clockwork"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st store.Store
	if cfg.DatabaseURL == "" {
		log.Println("⚠️  DATABASE_URL not set, using in-memory store (data is lost on restart)")
		st = store.NewMemoryStore()
	} else {
		db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{TranslateError: true})
		if err != nil {
			log.Fatal("failed to connect to database:", err)
		}
		if err := db.AutoMigrate(store.Models()...); err != nil {
			log.Fatal("failed to migrate database:", err)
		}
		st = store.NewGormStore(db)
	}

	clock := clockwork.NewRealClock()
	engine := services.NewEngine(st, clock, services.EngineConfig{
		UndoWindow:   cfg.UndoWindow,
		MaxClockSkew: cfg.MaxClockSkew,
		MaxBackdate:  cfg.MaxBackdate,
		AntiCheat:    cfg.AntiCheat,
		TestingOps:   cfg.TestingOps,
	})

	if cfg.R2.Enabled() {
		archiver, err := utils.InitR2(ctx, cfg.R2)
		if err != nil {
			log.Fatal("failed to initialize R2 client:", err)
		}
		engine.SetArchiver(archiver)
	}
	if cfg.NotifyWebhookURL != "" {
		engine.SetNotifier(services.NewWebhookNotifier(cfg.NotifyWebhookURL, cfg.ServiceToken))
	} else {
		engine.SetNotifier(services.LogNotifier{})
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)

	watcher, err := workers.NewAntiCheatWatcher(logger, cfg.AntiCheat, 1024)
	if err != nil {
		log.Fatal("failed to create anti-cheat watcher:", err)
	}
	engine.SetObserver(watcher.Events())
	go watcher.Run(ctx)

	scheduler, err := workers.NewScheduler(logger, engine, clock, workers.SchedulerConfig{
		AntiCheatInterval: cfg.AntiCheatInterval,
		SnapshotInterval:  cfg.SnapshotInterval,
		AuditRetention:    cfg.AuditRetention,
	})
	if err != nil {
		log.Fatal("failed to create scheduler:", err)
	}
	if err := scheduler.Start(ctx); err != nil {
		log.Fatal("failed to start scheduler:", err)
	}

	if cfg.RosterSyncURL != "" {
		roster, err := workers.NewRosterSyncWorker(logger, engine, clock, cfg.RosterSyncURL, cfg.RosterSyncPath, cfg.ServiceToken, cfg.RosterSyncInterval)
		if err != nil {
			log.Fatal("failed to create roster sync worker:", err)
		}
		roster.Start(ctx)
	}

	app := fiber.New()

	// 🔐❗ GLOBAL: Only Gateway requests allowed
	app.Use(middleware.GatewayAuthMiddleware(cfg.ServiceToken))

	allowedOrigins := strings.Join(cfg.AllowedOrigins, ",")
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,OPTIONS,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, Cache-Control, X-Service-Token, Idempotency-Key, X-Idempotency-Key",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	handlers.SetupCompetitionRoutes(app, services.NewCompetitionService(engine), cfg.TestingOps)

	go func() {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%d", cfg.Port)
	log.Printf("✅ CORS configured for origins: %s", allowedOrigins)
	if cfg.TestingOps {
		log.Println("⚠️  Testing-only operations are ENABLED")
	}

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := scheduler.Stop(); err != nil {
		log.Printf("Scheduler shutdown error: %v", err)
	}
	if err := app.Shutdown(); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
