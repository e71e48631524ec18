package database

import (
	"database/sql"
	"errors"
	"strings"

	"discord-antiraid-bot/internal/models"
)

// ErrUnknownToggle is returned for toggle names outside the known set
var ErrUnknownToggle = errors.New("unknown antiraid toggle")

// GetAntiRaidConfig returns the guild's protection toggles. A guild with
// no row gets the defaults (everything enabled).
func (d *Database) GetAntiRaidConfig(guildID string) (*models.AntiRaidConfig, error) {
	query := `
		SELECT guild_id, channel_manipulation, guild_member_add, message_create,
			role_delete, ai_analyzer, bot_add
		FROM antiraid_config WHERE guild_id = $1
	`
	cfg := &models.AntiRaidConfig{}
	err := d.db.QueryRow(query, guildID).Scan(
		&cfg.GuildID, &cfg.ChannelManipulation, &cfg.GuildMemberAdd,
		&cfg.MessageCreate, &cfg.RoleDelete, &cfg.AIAnalyzer, &cfg.BotAdd,
	)
	if err == sql.ErrNoRows {
		return models.DefaultAntiRaidConfig(guildID), nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetAntiRaidConfig upserts the full toggle row
func (d *Database) SetAntiRaidConfig(cfg *models.AntiRaidConfig) error {
	query := `
		INSERT INTO antiraid_config (
			guild_id, channel_manipulation, guild_member_add, message_create,
			role_delete, ai_analyzer, bot_add, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT(guild_id) DO UPDATE SET
			channel_manipulation = EXCLUDED.channel_manipulation,
			guild_member_add = EXCLUDED.guild_member_add,
			message_create = EXCLUDED.message_create,
			role_delete = EXCLUDED.role_delete,
			ai_analyzer = EXCLUDED.ai_analyzer,
			bot_add = EXCLUDED.bot_add,
			updated_at = EXCLUDED.updated_at
	`
	_, err := d.db.Exec(query,
		cfg.GuildID, cfg.ChannelManipulation, cfg.GuildMemberAdd,
		cfg.MessageCreate, cfg.RoleDelete, cfg.AIAnalyzer, cfg.BotAdd,
		models.Now(),
	)
	return err
}

// SetAntiRaidToggle flips a single named toggle. The column name is
// validated against the known set before being interpolated.
func (d *Database) SetAntiRaidToggle(guildID, toggle string, enabled bool) error {
	column, ok := map[string]string{
		"channelManipulation": "channel_manipulation",
		"guildMemberAdd":      "guild_member_add",
		"messageCreate":       "message_create",
		"roleDelete":          "role_delete",
		"aiAnalyzer":          "ai_analyzer",
		"botAdd":              "bot_add",
	}[toggle]
	if !ok {
		return ErrUnknownToggle
	}

	query := strings.Join([]string{
		"INSERT INTO antiraid_config (guild_id, ", column, ", created_at, updated_at)",
		" VALUES ($1, $2, $3, $3)",
		" ON CONFLICT(guild_id) DO UPDATE SET ", column, " = EXCLUDED.", column,
		", updated_at = EXCLUDED.updated_at",
	}, "")
	_, err := d.db.Exec(query, guildID, enabled, models.Now())
	return err
}

// GetLogSettings returns the guild's alert routing, or a disabled default
func (d *Database) GetLogSettings(guildID string) (*models.LogSettings, error) {
	ls := &models.LogSettings{GuildID: guildID}
	err := d.db.QueryRow(
		"SELECT enabled, log_channel_id, updated_at FROM log_settings WHERE guild_id = $1",
		guildID,
	).Scan(&ls.Enabled, &ls.LogChannelID, &ls.UpdatedAt)
	if err == sql.ErrNoRows {
		return ls, nil
	}
	if err != nil {
		return nil, err
	}
	return ls, nil
}

func (d *Database) SetLogSettings(ls *models.LogSettings) error {
	query := `
		INSERT INTO log_settings (guild_id, enabled, log_channel_id, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT(guild_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			log_channel_id = EXCLUDED.log_channel_id,
			updated_at = EXCLUDED.updated_at
	`
	_, err := d.db.Exec(query, ls.GuildID, ls.Enabled, ls.LogChannelID, models.Now())
	return err
}

// InsertIncident records a dispatched alert for the incident log
func (d *Database) InsertIncident(inc *models.RaidIncident) (int64, error) {
	query := `
		INSERT INTO raid_incidents (
			guild_id, kind, threat_pct, confidence_pct, executor_id,
			findings, event_count, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	var id int64
	err := d.db.QueryRow(query,
		inc.GuildID, inc.Kind, inc.ThreatPct, inc.ConfidencePct,
		inc.ExecutorID, strings.Join(inc.Findings, "\n"), inc.EventCount,
		models.Now(),
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// MarkIncidentFalsePositive flags an incident after moderator review
func (d *Database) MarkIncidentFalsePositive(id int64) error {
	_, err := d.db.Exec(
		"UPDATE raid_incidents SET resolved = TRUE, false_positive = TRUE WHERE id = $1", id,
	)
	return err
}

// ResolveIncident marks an incident confirmed and handled
func (d *Database) ResolveIncident(id int64) error {
	_, err := d.db.Exec(
		"UPDATE raid_incidents SET resolved = TRUE WHERE id = $1", id,
	)
	return err
}

// RecentIncidents lists the newest incidents for a guild
func (d *Database) RecentIncidents(guildID string, limit int) ([]*models.RaidIncident, error) {
	query := `
		SELECT id, guild_id, kind, threat_pct, confidence_pct, executor_id,
			findings, event_count, resolved, false_positive, created_at
		FROM raid_incidents
		WHERE guild_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := d.db.Query(query, guildID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var incidents []*models.RaidIncident
	for rows.Next() {
		inc := &models.RaidIncident{}
		var findings string
		if err := rows.Scan(
			&inc.ID, &inc.GuildID, &inc.Kind, &inc.ThreatPct, &inc.ConfidencePct,
			&inc.ExecutorID, &findings, &inc.EventCount, &inc.Resolved,
			&inc.FalsePositive, &inc.CreatedAt,
		); err != nil {
			return nil, err
		}
		if findings != "" {
			inc.Findings = strings.Split(findings, "\n")
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

// Captcha sessions for suspicious-join challenges

func (d *Database) CreateCaptchaSession(guildID, userID, code string) error {
	query := `
		INSERT INTO captcha_sessions (guild_id, user_id, code, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT(guild_id, user_id) DO UPDATE SET
			code = EXCLUDED.code, created_at = EXCLUDED.created_at
	`
	_, err := d.db.Exec(query, guildID, userID, code, models.Now())
	return err
}

func (d *Database) GetCaptchaSession(guildID, userID string) (string, int64, error) {
	var code string
	var createdAt int64
	err := d.db.QueryRow(
		"SELECT code, created_at FROM captcha_sessions WHERE guild_id = $1 AND user_id = $2",
		guildID, userID,
	).Scan(&code, &createdAt)
	if err == sql.ErrNoRows {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, err
	}
	return code, createdAt, nil
}

func (d *Database) DeleteCaptchaSession(guildID, userID string) error {
	_, err := d.db.Exec(
		"DELETE FROM captcha_sessions WHERE guild_id = $1 AND user_id = $2",
		guildID, userID,
	)
	return err
}
