package intel

import (
	"time"

	"discord-antiraid-bot/internal/models"
)

// ActivityWindow holds the rolling per-guild event counters used by the
// scorer. Counters are windowed lazily: expiry is applied when the window
// is read, not on a timer, so idle guilds cost nothing.
type ActivityWindow struct {
	Joins            int
	DeletedMessages  int
	RoleChanges      int
	ChannelCreations int
	ChannelDeletes   int
	RoleDeletes      int
	Bans             int
	Kicks            int
	Webhooks         int

	JoinTimestamps  []time.Time
	SuspiciousUsers []string
	AccountAges     []time.Duration

	LastReset time.Time
}

func newActivityWindow(now time.Time) *ActivityWindow {
	return &ActivityWindow{LastReset: now}
}

// Count returns the counter for a kind
func (w *ActivityWindow) Count(kind models.EventKind) int {
	switch kind {
	case models.KindJoins:
		return w.Joins
	case models.KindDeletedMessages:
		return w.DeletedMessages
	case models.KindRoleChanges:
		return w.RoleChanges
	case models.KindChannelCreations:
		return w.ChannelCreations
	case models.KindChannelDeletes:
		return w.ChannelDeletes
	case models.KindRoleDeletes:
		return w.RoleDeletes
	case models.KindBans:
		return w.Bans
	case models.KindKicks:
		return w.Kicks
	case models.KindWebhooks:
		return w.Webhooks
	default:
		return 0
	}
}

func (w *ActivityWindow) increment(kind models.EventKind) {
	switch kind {
	case models.KindJoins:
		w.Joins++
	case models.KindDeletedMessages:
		w.DeletedMessages++
	case models.KindRoleChanges:
		w.RoleChanges++
	case models.KindChannelCreations:
		w.ChannelCreations++
	case models.KindChannelDeletes:
		w.ChannelDeletes++
	case models.KindRoleDeletes:
		w.RoleDeletes++
	case models.KindBans:
		w.Bans++
	case models.KindKicks:
		w.Kicks++
	case models.KindWebhooks:
		w.Webhooks++
	}
}

// TotalActions sums destructive and moderation counters (joins excluded)
func (w *ActivityWindow) TotalActions() int {
	return w.DeletedMessages + w.RoleChanges + w.ChannelCreations +
		w.ChannelDeletes + w.RoleDeletes + w.Bans + w.Kicks + w.Webhooks
}

// reset zeroes all counters and filters join timestamps to the window.
// Suspicious users and account ages survive the reset; they are capped
// separately and pruned by the maintenance sweep.
func (w *ActivityWindow) reset(now time.Time, window time.Duration) {
	w.Joins = 0
	w.DeletedMessages = 0
	w.RoleChanges = 0
	w.ChannelCreations = 0
	w.ChannelDeletes = 0
	w.RoleDeletes = 0
	w.Bans = 0
	w.Kicks = 0
	w.Webhooks = 0

	kept := w.JoinTimestamps[:0]
	for _, ts := range w.JoinTimestamps {
		if now.Sub(ts) < window {
			kept = append(kept, ts)
		}
	}
	w.JoinTimestamps = kept
	w.LastReset = now
}

// activityStore owns one ActivityWindow per guild. Callers hold the
// engine mutex; the store itself is not synchronized.
type activityStore struct {
	windows map[string]*ActivityWindow
	cfg     *Config
}

func newActivityStore(cfg *Config) *activityStore {
	return &activityStore{
		windows: make(map[string]*ActivityWindow),
		cfg:     cfg,
	}
}

// record increments the counter for kind and, for joins, appends the
// timestamp and optional suspicion data.
func (s *activityStore) record(guildID string, kind models.EventKind, join *models.JoinData, now time.Time) {
	w, ok := s.windows[guildID]
	if !ok {
		w = newActivityWindow(now)
		s.windows[guildID] = w
	}

	w.increment(kind)

	if kind != models.KindJoins || join == nil {
		return
	}

	w.JoinTimestamps = append(w.JoinTimestamps, join.Timestamp)
	if len(w.JoinTimestamps) > s.cfg.MaxTimestamps {
		w.JoinTimestamps = w.JoinTimestamps[len(w.JoinTimestamps)-s.cfg.MaxTimestamps:]
	}

	if join.AccountAge > 0 {
		w.AccountAges = append(w.AccountAges, join.AccountAge)
		if len(w.AccountAges) > s.cfg.MaxAccountAges {
			w.AccountAges = w.AccountAges[len(w.AccountAges)-s.cfg.MaxAccountAges:]
		}
	}

	if join.Suspicious && join.UserID != "" {
		w.SuspiciousUsers = appendSuspicious(w.SuspiciousUsers, join.UserID, s.cfg.MaxSuspiciousUsers)
	}
}

// appendSuspicious adds an ID with dedupe. When the set overflows it keeps
// the most recent 70% instead of clearing, preserving recency bias.
func appendSuspicious(users []string, id string, max int) []string {
	for _, u := range users {
		if u == id {
			return users
		}
	}
	users = append(users, id)
	if len(users) > max {
		keep := max * 7 / 10
		users = users[len(users)-keep:]
	}
	return users
}

// snapshot returns the guild's window, applying the lazy reset first when
// the window has outlived the analysis period. Returns nil for guilds
// with no recorded activity.
func (s *activityStore) snapshot(guildID string, now time.Time) *ActivityWindow {
	w, ok := s.windows[guildID]
	if !ok {
		return nil
	}
	if now.Sub(w.LastReset) > s.cfg.AnalysisWindow {
		w.reset(now, s.cfg.AnalysisWindow)
	}
	return w
}

// sweep drops windows that are both expired and empty of live content.
// A window untouched for longer than the horizon holds nothing the scorer
// can still use. Only horizon-aged entries go; anything written within the
// horizon survives.
func (s *activityStore) sweep(now time.Time, horizon time.Duration) int {
	removed := 0
	for guildID, w := range s.windows {
		if now.Sub(w.LastReset) > horizon {
			delete(s.windows, guildID)
			removed++
		}
	}
	return removed
}
