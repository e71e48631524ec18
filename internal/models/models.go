package models

import "time"

// RaidIncident is a dispatched alert persisted for moderator review
type RaidIncident struct {
	ID            int64     `json:"id"`
	GuildID       string    `json:"guild_id"`
	Kind          EventKind `json:"kind"`
	ThreatPct     int       `json:"threat_pct"`
	ConfidencePct int       `json:"confidence_pct"`
	ExecutorID    string    `json:"executor_id"`
	Findings      []string  `json:"findings"`
	EventCount    int       `json:"event_count"`
	Resolved      bool      `json:"resolved"`
	FalsePositive bool      `json:"false_positive"`
	CreatedAt     int64     `json:"created_at"`
}

// CaptchaSession is one pending join-verification challenge
type CaptchaSession struct {
	ID        int64  `json:"id"`
	GuildID   string `json:"guild_id"`
	UserID    string `json:"user_id"`
	Code      string `json:"code"`
	CreatedAt int64  `json:"created_at"`
}

// DefaultAntiRaidConfig returns the toggles for a guild with no stored
// row: every protection enabled.
func DefaultAntiRaidConfig(guildID string) *AntiRaidConfig {
	return &AntiRaidConfig{
		GuildID:             guildID,
		ChannelManipulation: true,
		GuildMemberAdd:      true,
		MessageCreate:       true,
		RoleDelete:          true,
		AIAnalyzer:          true,
		BotAdd:              true,
	}
}

// Helper to get current time in milliseconds
func Now() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}
