package models

import "time"

// EventKind identifies a tracked administrative event category.
type EventKind string

// Tracked event kinds
const (
	KindJoins            EventKind = "joins"
	KindDeletedMessages  EventKind = "deletedMessages"
	KindRoleChanges      EventKind = "roleChanges"
	KindChannelCreations EventKind = "channelCreations"
	KindChannelDeletes   EventKind = "channelDeletes"
	KindRoleDeletes      EventKind = "roleDeletes"
	KindBans             EventKind = "bans"
	KindKicks            EventKind = "kicks"
	KindWebhooks         EventKind = "webhooks"
)

// AllEventKinds returns every tracked event kind
func AllEventKinds() []EventKind {
	return []EventKind{
		KindJoins,
		KindDeletedMessages,
		KindRoleChanges,
		KindChannelCreations,
		KindChannelDeletes,
		KindRoleDeletes,
		KindBans,
		KindKicks,
		KindWebhooks,
	}
}

// GetKindDisplayName returns a human-readable name for an event kind
func GetKindDisplayName(kind EventKind) string {
	switch kind {
	case KindJoins:
		return "Mass Join Wave"
	case KindDeletedMessages:
		return "Mass Message Deletion"
	case KindRoleChanges:
		return "Mass Role Changes"
	case KindChannelCreations:
		return "Mass Channel Creation"
	case KindChannelDeletes:
		return "Mass Channel Deletion"
	case KindRoleDeletes:
		return "Mass Role Deletion"
	case KindBans:
		return "Mass Bans"
	case KindKicks:
		return "Mass Kicks"
	case KindWebhooks:
		return "Webhook Burst"
	default:
		return string(kind)
	}
}

// JoinData carries the join-specific payload recorded into the activity window
type JoinData struct {
	UserID     string
	Timestamp  time.Time
	AccountAge time.Duration
	Suspicious bool
}

// ActorProfile describes the account attributed to an event, when resolvable
type ActorProfile struct {
	ID        string
	Username  string
	Bot       bool
	HasAvatar bool
	CreatedAt time.Time
}

// EventContext is everything the scorer needs to evaluate one event.
// It is assembled by the platform adapter; the engine never touches the
// Discord session directly.
type EventContext struct {
	GuildID     string
	GuildName   string
	MemberCount int
	Kind        EventKind
	Executor    *ActorProfile // nil when the audit log gave no timely answer
	Now         time.Time
}

// ThreatAnalysis is the result of one engine evaluation
type ThreatAnalysis struct {
	ThreatLevel     float64
	Confidence      float64
	Threats         []string
	IsFalsePositive bool
	Reasoning       string
	Profile         GuildProfileSnapshot
}

// GuildProfileSnapshot is a read-only copy of the per-guild learned state
// embedded in each analysis
type GuildProfileSnapshot struct {
	RaidHistory       int
	FalseAlerts       int
	AdaptiveThreshold float64
}

// Alert is the human-readable output handed to the logging collaborator
type Alert struct {
	GuildID       string
	GuildName     string
	Kind          EventKind
	Title         string
	ThreatPct     int
	ConfidencePct int
	Findings      []string
	ExecutorID    string
	Count         int
	IssuedAt      time.Time
}

// AntiRaidConfig mirrors the per-guild detector toggles
type AntiRaidConfig struct {
	GuildID             string
	ChannelManipulation bool
	GuildMemberAdd      bool
	MessageCreate       bool
	RoleDelete          bool
	AIAnalyzer          bool
	BotAdd              bool
	CreatedAt           int64
	UpdatedAt           int64
}

// LogSettings holds the per-guild alert delivery configuration
type LogSettings struct {
	GuildID      string
	Enabled      bool
	LogChannelID string
	UpdatedAt    int64
}
