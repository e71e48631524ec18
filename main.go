package main

import (
	"log"
	"runtime"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"discord-antiraid-bot/internal/bot"
	"discord-antiraid-bot/internal/cache"
	"discord-antiraid-bot/internal/config"
	"discord-antiraid-bot/internal/database"
	"discord-antiraid-bot/internal/intel"
	"discord-antiraid-bot/internal/metrics"
	"discord-antiraid-bot/internal/redis"
)

func main() {
	// Runtime tuning for low latency: less frequent GC, bounded heap
	numCPU := runtime.NumCPU()
	runtime.GOMAXPROCS(numCPU)

	gcPercent := 400
	debug.SetGCPercent(gcPercent)

	memoryLimit := int64(3 * 1024 * 1024 * 1024) // leave headroom for the OS
	debug.SetMemoryLimit(memoryLimit)

	log.Println("🚀 Runtime optimized for low latency:")
	log.Printf("   • GOMAXPROCS: %d cores", numCPU)
	log.Printf("   • GC Percent: %d (reduced GC frequency)", gcPercent)
	log.Printf("   • Memory Limit: %d MB", memoryLimit/(1024*1024))

	// Load config (config.yaml preferred, config.json accepted)
	cfgPath, err := config.Locate()
	if err != nil {
		log.Fatalf("Error locating config: %v", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Error loading %s: %v", cfgPath, err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Error initializing logger: %v", err)
	}

	// Initialize Redis
	rdb, err := redis.New(cfg.Redis)
	if err != nil {
		log.Fatalf("Error initializing Redis: %v", err)
	}

	// Initialize Database
	db, err := database.NewDatabase(cfg.Postgres)
	if err != nil {
		log.Fatalf("Error initializing Database: %v", err)
	}

	// Layered per-guild config cache: ristretto over Redis over Postgres
	cc, err := cache.New(rdb, db, cache.Config{})
	if err != nil {
		log.Fatalf("Error initializing config cache: %v", err)
	}

	// =========================================================================
	// THREAT ENGINE INITIALIZATION
	// =========================================================================

	engineCfg := intel.DefaultConfig()
	engineCfg.SnapshotPath = cfg.SnapshotPath

	engine := intel.NewEngine(engineCfg, intel.WithLogger(logger))
	if err := engine.Persister().Load(time.Now()); err != nil {
		log.Fatalf("Error restoring intelligence snapshot: %v", err)
	}

	log.Println("✅ Threat engine initialized")
	log.Printf("   • Snapshot: %s", cfg.SnapshotPath)
	log.Printf("   • Known patterns: %d", engine.PatternCount())

	// =========================================================================

	metrics.Serve(cfg.MetricsAddr, logger)

	// Initialize bot
	b, err := bot.New(cfg.Token, db, rdb, cc, engine, logger)
	if err != nil {
		log.Fatalf("Error initializing bot: %v", err)
	}

	// Alerts flow back out through the bot's log channels
	engine.SetAlertSink(b)

	// Fast path: tracked gateway frames go straight to the detector,
	// classified from the raw dispatch payload
	b.Session.AddHandler(b.HandleRawEvent)

	// Start bot (blocks until SIGINT/SIGTERM)
	if err := b.Start(); err != nil {
		log.Fatalf("Error starting bot: %v", err)
	}
}
