package intel

import (
	"path/filepath"
	"testing"
	"time"

	"discord-antiraid-bot/internal/models"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SnapshotPath = filepath.Join(t.TempDir(), "intelligence.json")
	e := NewEngine(cfg)
	t.Cleanup(e.persister.Wait)
	return e
}

func TestFalsePositive_ChannelCleanup(t *testing.T) {
	e := testEngine(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := testContext(now)

	// Exactly three channel deletes with no joins, bans or kicks is
	// ordinary admin cleanup
	w := newActivityWindow(now.Add(-time.Minute))
	w.ChannelDeletes = 3
	if !e.isFalsePositive(ctx, w, ExtractSignature(ctx, w)) {
		t.Error("Three isolated channel deletes should be suppressed")
	}

	// A fourth delete breaks the exact-threshold shape
	w.ChannelDeletes = 4
	w.DeletedMessages = 80 // keep the velocity check from absorbing it
	if e.isFalsePositive(ctx, w, ExtractSignature(ctx, w)) {
		t.Error("Four channel deletes should not match the cleanup shape")
	}

	// Concurrent bans disqualify the shape
	w.ChannelDeletes = 3
	w.Bans = 2
	if e.isFalsePositive(ctx, w, ExtractSignature(ctx, w)) {
		t.Error("Channel deletes alongside bans should not be suppressed")
	}
}

func TestFalsePositive_BulkMessageModeration(t *testing.T) {
	e := testEngine(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := testContext(now)

	w := newActivityWindow(now.Add(-time.Minute))
	w.DeletedMessages = 40
	if !e.isFalsePositive(ctx, w, ExtractSignature(ctx, w)) {
		t.Error("Isolated bulk message deletion should be suppressed")
	}

	// Same range with several other categories elevated is an attack
	w.Joins = 10
	w.Bans = 4
	w.Webhooks = 3
	if e.isFalsePositive(ctx, w, ExtractSignature(ctx, w)) {
		t.Error("Bulk deletion with concurrent attack categories should score")
	}
}

func TestFalsePositive_TrustedModerator(t *testing.T) {
	e := testEngine(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 11; i++ {
		e.RecordModeratorAction("guild1", "mod1", false)
	}
	e.RecordModeratorAction("guild1", "mod1", true)

	ctx := testContext(now)
	ctx.Executor = &models.ActorProfile{ID: "mod1", Username: "Alice", HasAvatar: true}

	w := newActivityWindow(now.Add(-10 * time.Second))
	w.Bans = 6
	if !e.isFalsePositive(ctx, w, ExtractSignature(ctx, w)) {
		t.Error("A trusted moderator's mass action should be suppressed")
	}

	// The same action from an unknown actor is not
	ctx.Executor = &models.ActorProfile{ID: "stranger", Username: "Alice", HasAvatar: true}
	if e.isFalsePositive(ctx, w, ExtractSignature(ctx, w)) {
		t.Error("An unknown actor's mass bans should score")
	}
}

func TestFalsePositive_HumanVelocity(t *testing.T) {
	e := testEngine(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := testContext(now)

	// 10 deletions spread over 8 minutes is human-paced
	w := newActivityWindow(now.Add(-8 * time.Minute))
	w.DeletedMessages = 10
	w.RoleDeletes = 2 // below the cleanup shape, above nothing
	if !e.isFalsePositive(ctx, w, ExtractSignature(ctx, w)) {
		t.Error("Slow scattered moderation should be suppressed")
	}

	// The same totals compressed into 10 seconds are not
	w = newActivityWindow(now.Add(-10 * time.Second))
	w.ChannelDeletes = 10
	if e.isFalsePositive(ctx, w, ExtractSignature(ctx, w)) {
		t.Error("A 10-second channel purge should score")
	}

	// A join spike disables the velocity exemption entirely
	w = newActivityWindow(now.Add(-8 * time.Minute))
	w.Joins = 16
	if e.isFalsePositive(ctx, w, ExtractSignature(ctx, w)) {
		t.Error("A join wave should never be excused by low action velocity")
	}
}

func TestFalsePositive_RemembersSuppressedShapes(t *testing.T) {
	e := testEngine(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := testContext(now)

	for i := 0; i < 6; i++ {
		e.RecordActivity(ctx.GuildID, models.KindBans, nil, now.Add(-10*time.Second))
	}
	w := e.activity.snapshot(ctx.GuildID, now)
	sig := ExtractSignature(ctx, w)

	// Fast mass bans from an unknown actor: scores before learning
	if e.isFalsePositive(ctx, w, sig) {
		t.Fatal("Unlearned shape should score")
	}

	e.Learn(ctx, &models.ThreatAnalysis{}, false)

	if !e.isFalsePositive(ctx, w, sig) {
		t.Error("A shape confirmed harmless should be suppressed on repeat")
	}
}
