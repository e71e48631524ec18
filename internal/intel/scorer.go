package intel

import (
	"fmt"
	"regexp"
	"time"

	"discord-antiraid-bot/internal/models"
)

// Rule weights and thresholds. Each block of brackets is ordered highest
// threshold first; only the first matching bracket in a block applies.
const (
	weightAccountVeryNew = 0.4 // < 24h
	weightAccountNew     = 0.2 // < 7d
	weightAccountMedium  = 0.1 // < 30d

	weightJoinMass     = 0.5 // >= 15 joins/window
	weightJoinHigh     = 0.3 // >= 8
	weightJoinModerate = 0.1 // >= 5

	weightCoordPerfect  = 0.4 // variance < 5,000 ms²
	weightCoordHigh     = 0.3 // < 15,000
	weightCoordModerate = 0.2 // < 30,000

	weightNoAvatar           = 0.15
	weightBotActor           = 0.25
	weightSuspiciousUsername = 0.2

	weightMassBan        = 0.6 // bans >= 5
	weightMassKick       = 0.5 // kicks >= 5
	weightMassRoleDel    = 0.5 // role deletes >= 3
	weightMassChannelDel = 0.5 // channel deletes >= 3
	weightMassWebhook    = 0.4 // webhook creates >= 4

	ruleWeight    = 0.6
	patternWeight = 0.4
)

// suspiciousNamePatterns flags throwaway and raid-tool naming shapes
var suspiciousNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^user\d{4,}$`),
	regexp.MustCompile(`(?i)^[a-z]{1,3}\d{4,}$`),
	regexp.MustCompile(`(?i)raid|spam|bot|nuke|destroy`),
	regexp.MustCompile(`^[0-9]{4,}$`),
	regexp.MustCompile(`(?i)^[a-z]{10,}$`),
}

// IsSuspiciousUsername reports whether a username matches the known
// raid-account naming shapes
func IsSuspiciousUsername(username string) bool {
	if username == "" {
		return false
	}
	for _, p := range suspiciousNamePatterns {
		if p.MatchString(username) {
			return true
		}
	}
	return hasRepeatedRun(username, 5)
}

// hasRepeatedRun reports whether the name contains n or more consecutive
// equal runes ("aaaaa", "!!!!!"). RE2 has no backreferences, so this
// shape is checked by hand.
func hasRepeatedRun(s string, n int) bool {
	var prev rune
	run := 0
	for _, r := range s {
		if r == prev {
			run++
			if run >= n {
				return true
			}
		} else {
			prev = r
			run = 1
		}
	}
	return false
}

// scoreResult carries the raw rule evaluation before pattern blending
type scoreResult struct {
	ruleScore float64
	threats   []string
}

// scoreRules is the pure multi-factor rule evaluation. Output is the sum
// of independently capped contributions, clamped to 1.
func scoreRules(ctx *models.EventContext, w *ActivityWindow) scoreResult {
	var r scoreResult

	// Account-age bracket: the attributed actor when known, otherwise the
	// average age of accounts in the current join wave
	if age, ok := actorAccountAge(ctx, w); ok {
		switch {
		case age < 24*time.Hour:
			r.add(weightAccountVeryNew, "Accounts younger than 24 hours")
		case age < 7*24*time.Hour:
			r.add(weightAccountNew, "Accounts younger than 7 days")
		case age < 30*24*time.Hour:
			r.add(weightAccountMedium, "Accounts younger than 30 days")
		}
	}

	// Join velocity
	switch {
	case w.Joins >= 15:
		r.add(weightJoinMass, fmt.Sprintf("Mass join wave (%d joins)", w.Joins))
	case w.Joins >= 8:
		r.add(weightJoinHigh, fmt.Sprintf("High join velocity (%d joins)", w.Joins))
	case w.Joins >= 5:
		r.add(weightJoinModerate, fmt.Sprintf("Elevated join rate (%d joins)", w.Joins))
	}

	// Coordination: low variance of inter-arrival deltas means scripted joins
	if variance, ok := joinIntervalVariance(w.JoinTimestamps); ok {
		switch {
		case variance < 5000:
			r.add(weightCoordPerfect, "Near-perfectly scripted join timing")
		case variance < 15000:
			r.add(weightCoordHigh, "Highly coordinated join timing")
		case variance < 30000:
			r.add(weightCoordModerate, "Coordinated join timing")
		}
	}

	// Behavioral flags, independently additive
	if ctx.Executor != nil {
		if !ctx.Executor.HasAvatar {
			r.add(weightNoAvatar, "Executor has no avatar")
		}
		if ctx.Executor.Bot {
			r.add(weightBotActor, "Executor is a bot account")
		}
		if IsSuspiciousUsername(ctx.Executor.Username) {
			r.add(weightSuspiciousUsername, "Executor username matches raid-account patterns")
		}
	}

	// Mass-action brackets, each independently additive
	if w.Bans >= 5 {
		r.add(weightMassBan, fmt.Sprintf("Mass bans (%d)", w.Bans))
	}
	if w.Kicks >= 5 {
		r.add(weightMassKick, fmt.Sprintf("Mass kicks (%d)", w.Kicks))
	}
	if w.RoleDeletes >= 3 {
		r.add(weightMassRoleDel, fmt.Sprintf("Mass role deletion (%d)", w.RoleDeletes))
	}
	if w.ChannelDeletes >= 3 {
		r.add(weightMassChannelDel, fmt.Sprintf("Mass channel deletion (%d)", w.ChannelDeletes))
	}
	if w.Webhooks >= 4 {
		r.add(weightMassWebhook, fmt.Sprintf("Webhook burst (%d)", w.Webhooks))
	}

	// Simultaneity bonus: several categories elevated at once
	simultaneous := 0
	if w.Joins > 5 {
		simultaneous++
	}
	if w.DeletedMessages > 10 {
		simultaneous++
	}
	if w.RoleChanges > 3 {
		simultaneous++
	}
	if w.ChannelCreations > 2 {
		simultaneous++
	}
	if w.Bans > 3 {
		simultaneous++
	}
	if w.Kicks > 3 {
		simultaneous++
	}
	if w.Webhooks > 2 {
		simultaneous++
	}
	switch {
	case simultaneous >= 4:
		r.add(0.4, fmt.Sprintf("%d attack categories active simultaneously", simultaneous))
	case simultaneous >= 3:
		r.add(0.3, fmt.Sprintf("%d attack categories active simultaneously", simultaneous))
	case simultaneous >= 2:
		r.add(0.15, "Multiple attack categories active")
	}

	r.ruleScore = clamp01(r.ruleScore)
	return r
}

// actorAccountAge picks the age sample for the account-age bracket
func actorAccountAge(ctx *models.EventContext, w *ActivityWindow) (time.Duration, bool) {
	if ctx.Executor != nil && !ctx.Executor.CreatedAt.IsZero() {
		return ctx.Now.Sub(ctx.Executor.CreatedAt), true
	}
	if len(w.AccountAges) == 0 {
		return 0, false
	}
	var total time.Duration
	for _, age := range w.AccountAges {
		total += age
	}
	return total / time.Duration(len(w.AccountAges)), true
}

func (r *scoreResult) add(weight float64, finding string) {
	r.ruleScore += weight
	r.threats = append(r.threats, finding)
}

// joinIntervalVariance computes the variance of consecutive join
// inter-arrival times in ms². Needs at least three joins (two deltas).
func joinIntervalVariance(timestamps []time.Time) (float64, bool) {
	if len(timestamps) < 3 {
		return 0, false
	}

	deltas := make([]float64, 0, len(timestamps)-1)
	for i := 1; i < len(timestamps); i++ {
		deltas = append(deltas, float64(timestamps[i].Sub(timestamps[i-1]).Milliseconds()))
	}

	mean := 0.0
	for _, d := range deltas {
		mean += d
	}
	mean /= float64(len(deltas))

	variance := 0.0
	for _, d := range deltas {
		diff := d - mean
		variance += diff * diff
	}
	variance /= float64(len(deltas))

	return variance, true
}

// adaptiveMultiplier rescales the blended score from the guild's history.
// No adjustment until the guild has at least 15 labelled outcomes; always
// clamped to [0.7, 1.4].
func adaptiveMultiplier(p *GuildProfile, memberCount int) float64 {
	m := 1.0

	if p.TotalEvents() >= 15 {
		if p.RaidHistory > 2*p.FalseAlerts {
			m += 0.15
		} else if p.FalseAlerts > 5*p.RaidHistory {
			m -= 0.10
		}
	}

	if memberCount >= 10000 {
		m -= 0.1 // large guilds generate busier baselines
	} else if memberCount > 0 && memberCount < 100 {
		m += 0.1 // small guilds: any burst is proportionally louder
	}

	if m < 0.7 {
		m = 0.7
	}
	if m > 1.4 {
		m = 1.4
	}
	return m
}

// combineScores blends rule and pattern evidence and applies the guild
// multiplier: (rule×0.6 + pattern×0.4) × multiplier, clamped to [0,1].
func combineScores(ruleScore, patternScore, multiplier float64) float64 {
	return clamp01((ruleScore*ruleWeight + patternScore*patternWeight) * multiplier)
}
