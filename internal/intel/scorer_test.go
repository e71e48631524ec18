package intel

import (
	"math"
	"testing"
	"time"

	"discord-antiraid-bot/internal/models"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func testContext(now time.Time) *models.EventContext {
	return &models.EventContext{
		GuildID:     "guild1",
		GuildName:   "Test Guild",
		MemberCount: 500,
		Kind:        models.KindJoins,
		Now:         now,
	}
}

func TestScoreRules_QuietWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w := newActivityWindow(now)

	r := scoreRules(testContext(now), w)
	if r.ruleScore != 0 {
		t.Errorf("Expected 0 score for quiet window, got %f", r.ruleScore)
	}
	if len(r.threats) != 0 {
		t.Errorf("Expected no findings, got %v", r.threats)
	}
}

func TestScoreRules_MassJoinWave(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w := newActivityWindow(now)

	// 16 joins spaced exactly one second apart, all accounts 12h old
	w.Joins = 16
	for i := 0; i < 16; i++ {
		w.JoinTimestamps = append(w.JoinTimestamps, now.Add(time.Duration(i)*time.Second))
		w.AccountAges = append(w.AccountAges, 12*time.Hour)
	}

	r := scoreRules(testContext(now), w)

	// Very-new accounts (0.4) + mass join (0.5) + perfect timing (0.4)
	// saturates the rule score
	if r.ruleScore != 1.0 {
		t.Errorf("Expected saturated score 1.0, got %f", r.ruleScore)
	}
	if len(r.threats) != 3 {
		t.Errorf("Expected 3 findings, got %d: %v", len(r.threats), r.threats)
	}
}

func TestScoreRules_SingleMassAction(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w := newActivityWindow(now)
	w.Bans = 6

	r := scoreRules(testContext(now), w)
	if !almostEqual(r.ruleScore, weightMassBan) {
		t.Errorf("Expected %f for mass bans alone, got %f", weightMassBan, r.ruleScore)
	}
}

func TestScoreRules_SimultaneityBonus(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w := newActivityWindow(now)
	w.Bans = 6
	w.Kicks = 6
	w.ChannelDeletes = 4
	w.Webhooks = 5

	r := scoreRules(testContext(now), w)
	// Individual brackets already exceed 1; the clamp must hold
	if r.ruleScore != 1.0 {
		t.Errorf("Expected clamped score 1.0, got %f", r.ruleScore)
	}
}

func TestScoreRules_ExecutorFlags(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w := newActivityWindow(now)

	ctx := testContext(now)
	ctx.Executor = &models.ActorProfile{
		ID:        "999",
		Username:  "raidmaster",
		Bot:       true,
		HasAvatar: false,
		CreatedAt: now.Add(-365 * 24 * time.Hour),
	}

	r := scoreRules(ctx, w)
	want := weightNoAvatar + weightBotActor + weightSuspiciousUsername
	if !almostEqual(r.ruleScore, want) {
		t.Errorf("Expected %f from executor flags, got %f", want, r.ruleScore)
	}
}

func TestScoreRules_ExecutorAgeOverridesWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w := newActivityWindow(now)
	w.AccountAges = []time.Duration{100 * 24 * time.Hour}

	ctx := testContext(now)
	ctx.Executor = &models.ActorProfile{
		ID:        "999",
		Username:  "Alice",
		HasAvatar: true,
		CreatedAt: now.Add(-6 * time.Hour),
	}

	r := scoreRules(ctx, w)
	if !almostEqual(r.ruleScore, weightAccountVeryNew) {
		t.Errorf("Expected executor age bracket %f, got %f", weightAccountVeryNew, r.ruleScore)
	}
}

func TestJoinIntervalVariance(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if _, ok := joinIntervalVariance([]time.Time{base, base.Add(time.Second)}); ok {
		t.Error("Two timestamps should not produce a variance")
	}

	uniform := []time.Time{base, base.Add(time.Second), base.Add(2 * time.Second)}
	v, ok := joinIntervalVariance(uniform)
	if !ok || v != 0 {
		t.Errorf("Uniform spacing should give variance 0, got %f (ok=%v)", v, ok)
	}

	// Deltas 1000ms and 2000ms: mean 1500, variance 250000 ms²
	uneven := []time.Time{base, base.Add(time.Second), base.Add(3 * time.Second)}
	v, ok = joinIntervalVariance(uneven)
	if !ok || !almostEqual(v, 250000) {
		t.Errorf("Expected variance 250000, got %f (ok=%v)", v, ok)
	}
}

func TestIsSuspiciousUsername(t *testing.T) {
	suspicious := []string{
		"user12345",
		"xy48213",
		"RaidKing",
		"99999999",
		"aaaaabcd",
		"Mr!!!!!",
	}
	for _, name := range suspicious {
		if !IsSuspiciousUsername(name) {
			t.Errorf("Expected %q to be flagged", name)
		}
	}

	legitimate := []string{
		"Alice",
		"Dev_Mark",
		"Sam99",
		"aaaab",
		"",
	}
	for _, name := range legitimate {
		if IsSuspiciousUsername(name) {
			t.Errorf("Expected %q to pass", name)
		}
	}
}

func TestAdaptiveMultiplier(t *testing.T) {
	fresh := &GuildProfile{AdaptiveThreshold: baseThreshold}

	if m := adaptiveMultiplier(fresh, 500); m != 1.0 {
		t.Errorf("Fresh profile mid-size guild should give 1.0, got %f", m)
	}
	if m := adaptiveMultiplier(fresh, 50); !almostEqual(m, 1.1) {
		t.Errorf("Small guild should give 1.1, got %f", m)
	}
	if m := adaptiveMultiplier(fresh, 20000); !almostEqual(m, 0.9) {
		t.Errorf("Large guild should give 0.9, got %f", m)
	}

	raidHeavy := &GuildProfile{RaidHistory: 12, FalseAlerts: 3}
	if m := adaptiveMultiplier(raidHeavy, 500); !almostEqual(m, 1.15) {
		t.Errorf("Raid-heavy history should give 1.15, got %f", m)
	}

	fpHeavy := &GuildProfile{RaidHistory: 2, FalseAlerts: 30}
	if m := adaptiveMultiplier(fpHeavy, 500); !almostEqual(m, 0.9) {
		t.Errorf("FP-heavy history should give 0.9, got %f", m)
	}

	// Bounds hold even when adjustments stack
	for _, mc := range []int{0, 50, 500, 20000} {
		for _, p := range []*GuildProfile{fresh, raidHeavy, fpHeavy} {
			m := adaptiveMultiplier(p, mc)
			if m < 0.7 || m > 1.4 {
				t.Errorf("Multiplier %f outside [0.7, 1.4]", m)
			}
		}
	}
}

func TestCombineScores(t *testing.T) {
	if s := combineScores(1, 1, 1.4); s != 1.0 {
		t.Errorf("Expected clamp to 1.0, got %f", s)
	}
	if s := combineScores(0.5, 0, 1.0); !almostEqual(s, 0.3) {
		t.Errorf("Expected 0.3, got %f", s)
	}
	if s := combineScores(0.5, 0.5, 1.0); !almostEqual(s, 0.5) {
		t.Errorf("Expected 0.5, got %f", s)
	}
	if s := combineScores(0, 0, 0.7); s != 0 {
		t.Errorf("Expected 0, got %f", s)
	}
}

func BenchmarkScoreRules(b *testing.B) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w := newActivityWindow(now)
	w.Joins = 16
	w.Bans = 6
	for i := 0; i < 16; i++ {
		w.JoinTimestamps = append(w.JoinTimestamps, now.Add(time.Duration(i)*time.Second))
		w.AccountAges = append(w.AccountAges, 12*time.Hour)
	}
	ctx := testContext(now)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = scoreRules(ctx, w)
	}
}
