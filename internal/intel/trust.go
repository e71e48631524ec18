package intel

// Trust thresholds: an actor with a meaningful track record and a low
// false-positive rate stops tripping the detector for that guild.
const (
	trustMinActions = 10
	trustMaxFPRate  = 0.2
)

// ModeratorStat accumulates outcomes per human actor. Stats are global
// across guilds; the derived trusted flag is guild-scoped.
type ModeratorStat struct {
	Actions        int `json:"actions"`
	FalsePositives int `json:"falsePositives"`
}

// FPRate returns the actor's false-positive rate
func (m *ModeratorStat) FPRate() float64 {
	if m.Actions == 0 {
		return 0
	}
	return float64(m.FalsePositives) / float64(m.Actions)
}

// trustTracker converts repeated clean moderator actions into a per-guild
// exemption consulted by the false-positive detector. Trust never expires
// on its own and is session-local: stats are deliberately not part of the
// persisted snapshot. Callers hold the engine mutex.
type trustTracker struct {
	stats   map[string]*ModeratorStat // actorID -> stats (cross-guild)
	trusted map[string]struct{}       // guildID:actorID
}

func newTrustTracker() *trustTracker {
	return &trustTracker{
		stats:   make(map[string]*ModeratorStat),
		trusted: make(map[string]struct{}),
	}
}

// recordAction logs one outcome for the actor and re-derives trust for
// the guild the action happened in.
func (t *trustTracker) recordAction(guildID, actorID string, wasFalsePositive bool) {
	if actorID == "" {
		return
	}
	stat, ok := t.stats[actorID]
	if !ok {
		stat = &ModeratorStat{}
		t.stats[actorID] = stat
	}
	stat.Actions++
	if wasFalsePositive {
		stat.FalsePositives++
	}

	// Trust latches: once granted it never expires on its own, even if
	// later outcomes push the rate back over the threshold
	if stat.Actions >= trustMinActions && stat.FPRate() < trustMaxFPRate {
		t.trusted[guildID+":"+actorID] = struct{}{}
	}
}

// isTrusted reports whether the actor is exempt in this guild
func (t *trustTracker) isTrusted(guildID, actorID string) bool {
	if actorID == "" {
		return false
	}
	_, ok := t.trusted[guildID+":"+actorID]
	return ok
}
