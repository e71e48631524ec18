package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"discord-antiraid-bot/internal/models"
)

// PreparedStatements holds the event-path queries pre-compiled for ultra-low
// latency. Everything here sits on the gateway hot path: a config lookup
// happens on every guarded event.
type PreparedStatements struct {
	mu sync.RWMutex
	db *sql.DB

	getAntiRaidConfig *sql.Stmt
	getLogSettings    *sql.Stmt
	insertIncident    *sql.Stmt
}

// InitPreparedStatements pre-compiles all frequently used SQL statements
func (d *Database) InitPreparedStatements() error {
	d.PreparedStmts = &PreparedStatements{db: d.db}

	var err error

	d.PreparedStmts.getAntiRaidConfig, err = d.db.Prepare(`
		SELECT guild_id, channel_manipulation, guild_member_add, message_create,
			role_delete, ai_analyzer, bot_add
		FROM antiraid_config WHERE guild_id = $1
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare getAntiRaidConfig: %w", err)
	}

	d.PreparedStmts.getLogSettings, err = d.db.Prepare(`
		SELECT enabled, log_channel_id, updated_at
		FROM log_settings WHERE guild_id = $1
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare getLogSettings: %w", err)
	}

	d.PreparedStmts.insertIncident, err = d.db.Prepare(`
		INSERT INTO raid_incidents (
			guild_id, kind, threat_pct, confidence_pct, executor_id,
			findings, event_count, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insertIncident: %w", err)
	}

	return nil
}

// StartPreparedStatementRefresher automatically re-prepares statements on DB reconnect
func (d *Database) StartPreparedStatementRefresher(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := d.db.Ping(); err != nil {
					// DB probably restarted → reprepare
					d.ClosePreparedStatements()
					_ = d.InitPreparedStatements()
				}
			}
		}
	}()
}

// ClosePreparedStatements closes all prepared statements
func (d *Database) ClosePreparedStatements() {
	if d.PreparedStmts == nil {
		return
	}

	d.PreparedStmts.mu.Lock()
	defer d.PreparedStmts.mu.Unlock()

	stmts := []*sql.Stmt{
		d.PreparedStmts.getAntiRaidConfig,
		d.PreparedStmts.getLogSettings,
		d.PreparedStmts.insertIncident,
	}

	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
}

// isBadPreparedStatement checks if error indicates invalid prepared statement
func isBadPreparedStatement(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "cached plan") ||
		strings.Contains(errStr, "closed the connection") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "bad connection")
}

// Fast prepared statement versions of the event-path queries

func (d *Database) GetAntiRaidConfigFast(ctx context.Context, guildID string) (*models.AntiRaidConfig, error) {
	ps := d.PreparedStmts
	if ps == nil {
		return d.GetAntiRaidConfig(guildID)
	}

	ps.mu.RLock()
	stmt := ps.getAntiRaidConfig
	ps.mu.RUnlock()

	if stmt == nil {
		return d.GetAntiRaidConfig(guildID)
	}

	cfg := &models.AntiRaidConfig{}
	err := stmt.QueryRowContext(ctx, guildID).Scan(
		&cfg.GuildID, &cfg.ChannelManipulation, &cfg.GuildMemberAdd,
		&cfg.MessageCreate, &cfg.RoleDelete, &cfg.AIAnalyzer, &cfg.BotAdd,
	)

	if err == sql.ErrNoRows {
		return models.DefaultAntiRaidConfig(guildID), nil
	}

	if isBadPreparedStatement(err) {
		// Auto recover
		_ = d.InitPreparedStatements()
		return d.GetAntiRaidConfigFast(ctx, guildID)
	}

	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (d *Database) GetLogSettingsFast(ctx context.Context, guildID string) (*models.LogSettings, error) {
	ps := d.PreparedStmts
	if ps == nil {
		return d.GetLogSettings(guildID)
	}

	ps.mu.RLock()
	stmt := ps.getLogSettings
	ps.mu.RUnlock()

	if stmt == nil {
		return d.GetLogSettings(guildID)
	}

	ls := &models.LogSettings{GuildID: guildID}
	err := stmt.QueryRowContext(ctx, guildID).Scan(&ls.Enabled, &ls.LogChannelID, &ls.UpdatedAt)

	if err == sql.ErrNoRows {
		return ls, nil
	}

	if isBadPreparedStatement(err) {
		_ = d.InitPreparedStatements()
		return d.GetLogSettingsFast(ctx, guildID)
	}

	if err != nil {
		return nil, err
	}
	return ls, nil
}

func (d *Database) InsertIncidentFast(ctx context.Context, inc *models.RaidIncident) (int64, error) {
	ps := d.PreparedStmts
	if ps == nil {
		return d.InsertIncident(inc)
	}

	ps.mu.RLock()
	stmt := ps.insertIncident
	ps.mu.RUnlock()

	if stmt == nil {
		return d.InsertIncident(inc)
	}

	var id int64
	err := stmt.QueryRowContext(ctx,
		inc.GuildID, inc.Kind, inc.ThreatPct, inc.ConfidencePct,
		inc.ExecutorID, strings.Join(inc.Findings, "\n"), inc.EventCount,
		models.Now(),
	).Scan(&id)

	if isBadPreparedStatement(err) {
		_ = d.InitPreparedStatements()
		return d.InsertIncidentFast(ctx, inc)
	}

	if err != nil {
		return 0, err
	}
	return id, nil
}
