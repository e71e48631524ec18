package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

type Database struct {
	db               *sql.DB
	PreparedPingStmt *sql.Stmt
	PreparedStmts    *PreparedStatements
	// Cache for ping results
	lastPingTime   time.Time
	lastPingError  error
	pingCacheMutex sync.RWMutex
}

type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslmode"`
}

const schema = `
-- AntiRaid per-guild protection toggles
CREATE TABLE IF NOT EXISTS antiraid_config (
    guild_id TEXT PRIMARY KEY,
    channel_manipulation BOOLEAN DEFAULT TRUE,
    guild_member_add BOOLEAN DEFAULT TRUE,
    message_create BOOLEAN DEFAULT TRUE,
    role_delete BOOLEAN DEFAULT TRUE,
    ai_analyzer BOOLEAN DEFAULT TRUE,
    bot_add BOOLEAN DEFAULT TRUE,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);

-- Per-guild alert log routing
CREATE TABLE IF NOT EXISTS log_settings (
    guild_id TEXT PRIMARY KEY,
    enabled BOOLEAN DEFAULT FALSE,
    log_channel_id TEXT DEFAULT '',
    updated_at BIGINT NOT NULL
);

-- Dispatched raid alerts, kept for moderator review and the incident log
CREATE TABLE IF NOT EXISTS raid_incidents (
    id SERIAL PRIMARY KEY,
    guild_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    threat_pct INTEGER NOT NULL,
    confidence_pct INTEGER NOT NULL,
    executor_id TEXT DEFAULT '',
    findings TEXT DEFAULT '',
    event_count INTEGER DEFAULT 0,
    resolved BOOLEAN DEFAULT FALSE,
    false_positive BOOLEAN DEFAULT FALSE,
    created_at BIGINT NOT NULL
);

-- Captcha challenges issued to suspicious joiners
CREATE TABLE IF NOT EXISTS captcha_sessions (
    id SERIAL PRIMARY KEY,
    guild_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    code TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    UNIQUE(guild_id, user_id)
);

-- Create indexes for hot lookups
CREATE INDEX IF NOT EXISTS idx_antiraid_config_guild ON antiraid_config(guild_id);
CREATE INDEX IF NOT EXISTS idx_raid_incidents_guild ON raid_incidents(guild_id);
CREATE INDEX IF NOT EXISTS idx_raid_incidents_guild_time ON raid_incidents(guild_id, created_at);
CREATE INDEX IF NOT EXISTS idx_captcha_sessions_guild_user ON captcha_sessions(guild_id, user_id);
`

func NewDatabase(cfg PostgresConfig) (*Database, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	// Add TCP_NODELAY for ultra-low latency
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s tcp_user_timeout=1000",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	// Configure connection pool for low-latency event-path lookups
	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(50)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(1 * time.Hour)

	// Execute schema
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	// Prepare the ping statement for ultra-low latency
	pingStmt, err := db.Prepare("SELECT 1")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare ping statement: %w", err)
	}

	d := &Database{
		db:               db,
		PreparedPingStmt: pingStmt,
	}

	// Pre-warm connections by executing the prepared statement
	for i := 0; i < 20; i++ {
		var result int
		pingStmt.QueryRow().Scan(&result)
	}

	// Initialize prepared statements for fast queries
	if err := d.InitPreparedStatements(); err != nil {
		return nil, fmt.Errorf("failed to init prepared statements: %w", err)
	}

	// Start automatic re-preparation on DB reconnect
	d.StartPreparedStatementRefresher(context.Background())

	return d, nil
}

func (d *Database) Close() error {
	if d.PreparedPingStmt != nil {
		d.PreparedPingStmt.Close()
	}
	d.ClosePreparedStatements()
	return d.db.Close()
}

func (d *Database) Ping() error {
	// Use prepared statement for fastest possible ping
	var err error
	if d.PreparedPingStmt != nil {
		var result int
		err = d.PreparedPingStmt.QueryRow().Scan(&result)
	} else {
		err = d.db.Ping()
	}
	return err
}

// CachedPing reuses a recent ping result so status commands do not hammer
// the pool.
func (d *Database) CachedPing() error {
	d.pingCacheMutex.RLock()
	if time.Since(d.lastPingTime) < 5*time.Second {
		err := d.lastPingError
		d.pingCacheMutex.RUnlock()
		return err
	}
	d.pingCacheMutex.RUnlock()

	err := d.Ping()

	d.pingCacheMutex.Lock()
	d.lastPingTime = time.Now()
	d.lastPingError = err
	d.pingCacheMutex.Unlock()

	return err
}
