package bot

import (
	"context"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // Register pprof handlers
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"discord-antiraid-bot/internal/cache"
	"discord-antiraid-bot/internal/database"
	"discord-antiraid-bot/internal/intel"
	"discord-antiraid-bot/internal/metrics"
	"discord-antiraid-bot/internal/redis"
)

// guildMeta is the tiny slice of guild state the detector needs. Session
// state tracking is disabled, so we maintain it from gateway events
// ourselves.
type guildMeta struct {
	Name        string
	MemberCount int
}

type Bot struct {
	Session *discordgo.Session
	DB      *database.Database
	Redis   *redis.Client
	Config  *cache.ConfigCache
	Engine  *intel.Engine
	Auditor *Auditor
	Logger  *zap.Logger

	guilds   map[string]*guildMeta
	guildsMu sync.RWMutex

	StartTime   time.Time
	PerfMonitor *PerformanceMonitor

	maintStop chan struct{}
}

func New(token string, db *database.Database, rdb *redis.Client, cc *cache.ConfigCache, engine *intel.Engine, logger *zap.Logger) (*Bot, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("session error: %w", err)
	}

	// Keep-alive pooled transport for the REST API. Audit log lookups sit
	// on the alert path, so connection reuse matters.
	tr := &http.Transport{
		MaxIdleConns:          500,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       120 * time.Second,
		ForceAttemptHTTP2:     true,
		DisableCompression:    true,
		DisableKeepAlives:     false,
		MaxConnsPerHost:       100,
		ResponseHeaderTimeout: 5 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		WriteBufferSize:       32 * 1024,
		ReadBufferSize:        32 * 1024,
	}

	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsDirectMessages | // Captcha verification happens over DM
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildBans | // GUILD_BAN_ADD / moderation events
		discordgo.IntentsGuildWebhooks

	// Low-latency WebSocket configuration
	s.Identify.Compress = false

	perfMonitor := NewPerformanceMonitor()

	s.Client = &http.Client{
		Transport: &PerfTransport{
			Base:    tr,
			Monitor: perfMonitor,
		},
		Timeout: 15 * time.Second,
	}

	// Minimal state tracking: the detector keeps its own windows, and
	// message caching only adds latency
	s.StateEnabled = false

	s.ShouldReconnectOnError = true
	s.ShouldRetryOnRateLimit = true
	s.MaxRestRetries = 3
	s.Compress = false

	b := &Bot{
		Session:     s,
		DB:          db,
		Redis:       rdb,
		Config:      cc,
		Engine:      engine,
		Logger:      logger,
		guilds:      make(map[string]*guildMeta),
		StartTime:   time.Now(),
		PerfMonitor: perfMonitor,
		maintStop:   make(chan struct{}),
	}
	b.Auditor = NewAuditor(s, logger)

	// Typed handlers cover session lifecycle and the DM verification
	// flow; everything the detector watches arrives through the raw
	// fast path registered in main.
	s.AddHandler(b.Ready)
	s.AddHandler(b.GuildCreate)
	s.AddHandler(b.GuildDelete)
	s.AddHandler(b.MessageCreate)

	return b, nil
}

func (b *Bot) Start() error {
	log.Println("⚡ Connecting to Discord Gateway...")
	log.Println("   • Compression: DISABLED (for lower latency)")
	log.Println("   • Message caching: DISABLED (for minimal overhead)")

	err := b.Session.Open()
	if err != nil {
		log.Printf("❌ Failed to connect to Discord Gateway: %v", err)
		return fmt.Errorf("gateway connection failed: %w", err)
	}
	log.Println("✓ Connected to Discord Gateway")

	// State is disabled, so fetch the bot user explicitly
	if b.Session.State.User == nil {
		u, err := b.Session.User("@me")
		if err != nil {
			return fmt.Errorf("failed to get bot user: %w", err)
		}
		b.Session.State.User = u
	}
	log.Printf("✓ Logged in as: %s (ID: %s)",
		b.Session.State.User.Username, b.Session.State.User.ID)

	go b.monitorHeartbeat()
	b.StartMonitoring(60 * time.Second)

	// Background engine upkeep: window sweeps, threshold adjustment,
	// snapshot persistence
	b.Engine.StartMaintenance(time.Minute, b.maintStop)

	go func() {
		log.Println("Starting pprof server on localhost:6060")
		log.Println(http.ListenAndServe("localhost:6060", nil))
	}()

	log.Println("\n🚀 Anti-raid detector is running!")

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	return b.Close()
}

func (b *Bot) Close() error {
	log.Println("Shutting down...")
	close(b.maintStop)

	// Flush learned state before the process exits
	if err := b.Engine.Persister().Save(time.Now()); err != nil {
		b.Logger.Warn("final snapshot failed", zap.Error(err))
	}
	b.Engine.Persister().Wait()

	if b.Logger != nil {
		b.Logger.Sync()
	}
	b.Config.Close()
	b.DB.Close()
	b.Redis.Close()
	return b.Session.Close()
}

// monitorHeartbeat logs WebSocket heartbeat latency every 30 seconds
func (b *Bot) monitorHeartbeat() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		b.Auditor.Sweep(time.Now())
		metrics.KnownPatterns.Set(float64(b.Engine.PatternCount()))

		latency := b.Session.HeartbeatLatency()
		b.PerfMonitor.UpdateWSLatency(latency)

		latencyMs := latency.Milliseconds()
		switch {
		case latencyMs < 30:
			log.Printf("✅ WS Latency: %dms", latencyMs)
		case latencyMs < 100:
			log.Printf("⚠️  WS Latency: %dms", latencyMs)
		default:
			log.Printf("❌ WS Latency: %dms (check gateway region)", latencyMs)
		}

		cm := b.Config.GetMetrics()
		log.Printf("🗄️  Config cache: L1 %.0f%% / L2 %.0f%% hit rate (%d evictions)",
			cm.L1HitRate*100, cm.L2HitRate*100, cm.L1KeysEvicted)
	}
}

// guildInfo returns the cached name and member count for a guild
func (b *Bot) guildInfo(guildID string) (string, int) {
	b.guildsMu.RLock()
	defer b.guildsMu.RUnlock()
	if m, ok := b.guilds[guildID]; ok {
		return m.Name, m.MemberCount
	}
	return "", 0
}

// adjustMemberCount shifts the cached member count by delta
func (b *Bot) adjustMemberCount(guildID string, delta int) {
	b.guildsMu.Lock()
	defer b.guildsMu.Unlock()
	if m, ok := b.guilds[guildID]; ok {
		m.MemberCount += delta
		if m.MemberCount < 0 {
			m.MemberCount = 0
		}
	}
}

// Ready fires once the gateway session is established
func (b *Bot) Ready(s *discordgo.Session, r *discordgo.Ready) {
	log.Printf("✓ Ready: serving %d guilds", len(r.Guilds))

	ids := make([]string, 0, len(r.Guilds))
	for _, g := range r.Guilds {
		ids = append(ids, g.ID)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		b.Config.WarmUp(ctx, ids)
	}()
}

// GuildCreate seeds the guild metadata cache and warms the per-guild
// configuration
func (b *Bot) GuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	b.guildsMu.Lock()
	b.guilds[g.ID] = &guildMeta{Name: g.Name, MemberCount: g.MemberCount}
	b.guildsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := b.Config.GetAntiRaidConfig(ctx, g.ID); err != nil {
		b.Logger.Warn("config warm-up failed",
			zap.String("guild", g.ID), zap.Error(err))
	}
}

// GuildDelete drops the cached metadata when the bot leaves a guild
func (b *Bot) GuildDelete(s *discordgo.Session, g *discordgo.GuildDelete) {
	b.guildsMu.Lock()
	delete(b.guilds, g.ID)
	b.guildsMu.Unlock()
	b.Config.Invalidate(g.ID)
}

// GetSession returns the Discord session for external access
func (b *Bot) GetSession() *discordgo.Session {
	return b.Session
}
