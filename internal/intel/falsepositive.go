package intel

import (
	"time"

	"discord-antiraid-bot/internal/models"
)

const (
	// fpMatchSimilarity: a new signature this close to a remembered false
	// positive inherits its verdict
	fpMatchSimilarity = 0.92

	// humanVelocityCeiling is the moderation action rate (actions/second
	// over the analysis window) still plausible for a human operator
	humanVelocityCeiling = 0.15
)

// FalsePositiveRecord remembers the shape of one suppressed alert
type FalsePositiveRecord struct {
	Signature Signature        `json:"signature"`
	Timestamp int64            `json:"timestamp"`
	EventKind models.EventKind `json:"eventKind"`
}

// fpMemory is the per-guild capped list of remembered false positives.
// Callers hold the engine mutex.
type fpMemory struct {
	records map[string][]FalsePositiveRecord // guildID -> records
	maxPer  int
}

func newFPMemory(maxPer int) *fpMemory {
	return &fpMemory{
		records: make(map[string][]FalsePositiveRecord),
		maxPer:  maxPer,
	}
}

func (m *fpMemory) record(guildID string, sig Signature, kind models.EventKind, now time.Time) {
	recs := append(m.records[guildID], FalsePositiveRecord{
		Signature: sig,
		Timestamp: now.UnixMilli(),
		EventKind: kind,
	})
	if len(recs) > m.maxPer {
		recs = recs[len(recs)-m.maxPer:]
	}
	m.records[guildID] = recs
}

// matches reports whether sig resembles a previously suppressed alert for
// this guild
func (m *fpMemory) matches(guildID string, sig Signature) bool {
	for _, rec := range m.records[guildID] {
		if Similarity(sig, rec.Signature) > fpMatchSimilarity {
			return true
		}
	}
	return false
}

// prune drops records older than the horizon (7 days by default)
func (m *fpMemory) prune(now time.Time, horizon time.Duration) int {
	cutoff := now.Add(-horizon).UnixMilli()
	removed := 0
	for guildID, recs := range m.records {
		kept := recs[:0]
		for _, rec := range recs {
			if rec.Timestamp < cutoff {
				removed++
				continue
			}
			kept = append(kept, rec)
		}
		if len(kept) == 0 {
			delete(m.records, guildID)
		} else {
			m.records[guildID] = kept
		}
	}
	return removed
}

// isFalsePositive applies the legitimate-activity heuristics before a
// score is acted on. Any single match is an unconditional override.
func (e *Engine) isFalsePositive(ctx *models.EventContext, w *ActivityWindow, sig Signature) bool {
	// Exactly-at-threshold channel/role cleanup with nothing else going on
	// is ordinary admin work, not a burst.
	if (w.ChannelDeletes == 3 || w.RoleDeletes == 3) &&
		w.Joins == 0 && w.Bans == 0 && w.Kicks == 0 {
		return true
	}

	// Bulk message moderation: 20-60 deletions with no concurrent
	// join/ban/channel/role activity.
	if w.DeletedMessages >= 20 && w.DeletedMessages <= 60 {
		if w.Joins == 0 && w.Bans == 0 && w.ChannelDeletes == 0 && w.RoleDeletes == 0 {
			return true
		}
		// Same range with at most one other category elevated
		if suspiciousCategories(w) <= 1 {
			return true
		}
	}

	// A guild-trusted moderator never trips the detector
	if ctx.Executor != nil && e.trust.isTrusted(ctx.GuildID, ctx.Executor.ID) {
		return true
	}

	// Human-plausible action velocity with no join spike. Velocity runs
	// over the elapsed portion of the window so a short sharp burst is not
	// diluted by the full ten minutes.
	elapsed := ctx.Now.Sub(w.LastReset).Seconds()
	if elapsed < 1 {
		elapsed = 1
	}
	if max := e.cfg.AnalysisWindow.Seconds(); elapsed > max {
		elapsed = max
	}
	velocity := float64(w.DeletedMessages+w.ChannelDeletes+w.RoleDeletes+w.Bans+w.Kicks) / elapsed
	if velocity < humanVelocityCeiling && w.Joins < 5 {
		return true
	}

	// Shape matches something already confirmed harmless for this guild
	if e.fpMemory.matches(ctx.GuildID, sig) {
		return true
	}

	return false
}

// suspiciousCategories counts elevated suspicious-activity categories
// other than message deletions
func suspiciousCategories(w *ActivityWindow) int {
	n := 0
	if w.Joins > 3 {
		n++
	}
	if w.Bans > 2 {
		n++
	}
	if w.Kicks > 2 {
		n++
	}
	if w.ChannelDeletes > 1 {
		n++
	}
	if w.RoleDeletes > 1 {
		n++
	}
	if w.Webhooks > 2 {
		n++
	}
	return n
}
