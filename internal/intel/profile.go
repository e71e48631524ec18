package intel

import (
	"time"

	"discord-antiraid-bot/internal/models"
)

// Adaptive threshold bounds
const (
	thresholdFloor   = 0.2
	thresholdCeiling = 0.95
	baseThreshold    = 0.5
	thresholdStep    = 0.05

	// minLearningEvents is the event-count floor before the threshold is
	// allowed to move, preventing premature convergence on sparse data
	minLearningEvents = 10
)

// GuildProfile holds the per-guild learned state
type GuildProfile struct {
	GuildID           string  `json:"guildId"`
	RaidHistory       int     `json:"raidHistory"`
	FalseAlerts       int     `json:"falseAlerts"`
	AdaptiveThreshold float64 `json:"adaptiveThreshold"`
	LastUpdate        int64   `json:"lastUpdate"`
	CreatedAt         int64   `json:"createdAt"`
}

// TotalEvents returns the number of labelled learning outcomes
func (p *GuildProfile) TotalEvents() int {
	return p.RaidHistory + p.FalseAlerts
}

// Accuracy is the fraction of labelled outcomes that were confirmed raids
func (p *GuildProfile) Accuracy() float64 {
	total := p.TotalEvents()
	if total == 0 {
		return 0
	}
	return float64(p.RaidHistory) / float64(total)
}

func (p *GuildProfile) clampThreshold() {
	if p.AdaptiveThreshold < thresholdFloor {
		p.AdaptiveThreshold = thresholdFloor
	}
	if p.AdaptiveThreshold > thresholdCeiling {
		p.AdaptiveThreshold = thresholdCeiling
	}
}

// profileStore owns all guild profiles plus the grace-period map.
// Callers hold the engine mutex.
type profileStore struct {
	profiles map[string]*GuildProfile
	grace    map[string]time.Time // guildID -> expiry
}

func newProfileStore() *profileStore {
	return &profileStore{
		profiles: make(map[string]*GuildProfile),
		grace:    make(map[string]time.Time),
	}
}

// get returns the guild's profile, creating a fresh one on first use
func (s *profileStore) get(guildID string, now time.Time) *GuildProfile {
	p, ok := s.profiles[guildID]
	if !ok {
		p = &GuildProfile{
			GuildID:           guildID,
			AdaptiveThreshold: baseThreshold,
			CreatedAt:         now.UnixMilli(),
			LastUpdate:        now.UnixMilli(),
		}
		s.profiles[guildID] = p
	}
	return p
}

// inGracePeriod reports whether scoring for the guild is suspended
func (s *profileStore) inGracePeriod(guildID string, now time.Time) bool {
	expiry, ok := s.grace[guildID]
	if !ok {
		return false
	}
	if now.After(expiry) {
		delete(s.grace, guildID)
		return false
	}
	return true
}

// openGracePeriod suspends scoring for the guild until now+d
func (s *profileStore) openGracePeriod(guildID string, now time.Time, d time.Duration) {
	s.grace[guildID] = now.Add(d)
}

// sanitize applies the load-time corruption checks to one profile.
// Returns true when the profile was judged corrupted and a grace period
// must be opened.
//
// The corruption test uses the values as loaded: the inflation reset below
// lowers the threshold, so running it first would mask corruption.
func (s *profileStore) sanitize(p *GuildProfile) bool {
	corrupted := false

	total := p.TotalEvents()
	errorRate := 0.0
	if total > 0 {
		errorRate = float64(p.FalseAlerts) / float64(total)
	}

	if errorRate > 0.95 && p.AdaptiveThreshold > 0.80 && p.FalseAlerts > 50 {
		// Runaway profile from a prior bad run: deep reset + grace period
		// so it cannot re-trigger before it re-learns.
		p.FalseAlerts /= 10
		p.AdaptiveThreshold = 0.60
		corrupted = true
	} else if p.AdaptiveThreshold > 0.7 {
		p.AdaptiveThreshold = 0.55
		p.FalseAlerts /= 3
	}

	if p.RaidHistory < 0 {
		p.RaidHistory = 0
	}
	if p.FalseAlerts < 0 {
		p.FalseAlerts = 0
	}
	p.clampThreshold()

	return corrupted
}

// adjustThresholds is the periodic maintenance nudge: once a guild has
// enough labelled outcomes, an over-cautious engine (high accuracy) gets a
// lower bar and a trigger-happy one (low accuracy) a higher bar.
func (s *profileStore) adjustThresholds(now time.Time) {
	for guildID, p := range s.profiles {
		if s.inGracePeriod(guildID, now) {
			continue
		}
		if p.TotalEvents() < minLearningEvents {
			continue
		}

		acc := p.Accuracy()
		switch {
		case acc > 0.9:
			p.AdaptiveThreshold -= thresholdStep
		case acc < 0.5:
			p.AdaptiveThreshold += thresholdStep
		default:
			continue
		}
		p.clampThreshold()
		p.LastUpdate = now.UnixMilli()
	}
}

func (s *profileStore) snapshotOf(p *GuildProfile) models.GuildProfileSnapshot {
	return models.GuildProfileSnapshot{
		RaidHistory:       p.RaidHistory,
		FalseAlerts:       p.FalseAlerts,
		AdaptiveThreshold: p.AdaptiveThreshold,
	}
}
