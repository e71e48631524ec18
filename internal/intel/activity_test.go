package intel

import (
	"testing"
	"time"

	"discord-antiraid-bot/internal/models"
)

func testActivityConfig() *Config {
	cfg := DefaultConfig()
	cfg.MaxTimestamps = 10
	cfg.MaxSuspiciousUsers = 10
	cfg.MaxAccountAges = 10
	return &cfg
}

func TestActivityStore_RecordAndCount(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newActivityStore(testActivityConfig())

	for i := 0; i < 4; i++ {
		s.record("guild1", models.KindBans, nil, now)
	}
	w := s.snapshot("guild1", now)
	if w == nil {
		t.Fatal("Expected a window after recording")
	}
	if w.Bans != 4 {
		t.Errorf("Expected 4 bans, got %d", w.Bans)
	}
	if w.Count(models.KindBans) != 4 {
		t.Errorf("Count mismatch: got %d", w.Count(models.KindBans))
	}

	if s.snapshot("other", now) != nil {
		t.Error("Unknown guild should have no window")
	}
}

func TestActivityStore_LazyReset(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := testActivityConfig()
	s := newActivityStore(cfg)

	s.record("guild1", models.KindJoins, &models.JoinData{
		UserID:    "u1",
		Timestamp: now,
	}, now)
	s.record("guild1", models.KindDeletedMessages, nil, now)

	// Within the window nothing resets
	w := s.snapshot("guild1", now.Add(5*time.Minute))
	if w.Joins != 1 || w.DeletedMessages != 1 {
		t.Errorf("Counters reset too early: joins=%d deleted=%d", w.Joins, w.DeletedMessages)
	}

	// Past the window the read applies the reset
	later := now.Add(cfg.AnalysisWindow + time.Minute)
	w = s.snapshot("guild1", later)
	if w.Joins != 0 || w.DeletedMessages != 0 {
		t.Errorf("Expected zeroed counters after window, got joins=%d deleted=%d", w.Joins, w.DeletedMessages)
	}
	if !w.LastReset.Equal(later) {
		t.Errorf("LastReset not advanced: %v", w.LastReset)
	}
	if len(w.JoinTimestamps) != 0 {
		t.Errorf("Expired join timestamps survived the reset: %d", len(w.JoinTimestamps))
	}
}

func TestActivityStore_TimestampCap(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newActivityStore(testActivityConfig())

	for i := 0; i < 15; i++ {
		ts := now.Add(time.Duration(i) * time.Second)
		s.record("guild1", models.KindJoins, &models.JoinData{
			UserID:     "u",
			Timestamp:  ts,
			AccountAge: time.Hour,
		}, ts)
	}

	w := s.windows["guild1"]
	if len(w.JoinTimestamps) != 10 {
		t.Errorf("Expected timestamp cap of 10, got %d", len(w.JoinTimestamps))
	}
	// Most recent entries survive
	if !w.JoinTimestamps[9].Equal(now.Add(14 * time.Second)) {
		t.Errorf("Newest timestamp dropped: last is %v", w.JoinTimestamps[9])
	}
	if len(w.AccountAges) != 10 {
		t.Errorf("Expected account-age cap of 10, got %d", len(w.AccountAges))
	}
}

func TestAppendSuspicious(t *testing.T) {
	var users []string

	// Dedupe
	users = appendSuspicious(users, "a", 10)
	users = appendSuspicious(users, "a", 10)
	if len(users) != 1 {
		t.Errorf("Expected dedupe, got %v", users)
	}

	// Overflow keeps the most recent 70%
	users = nil
	for i := 0; i < 11; i++ {
		users = appendSuspicious(users, string(rune('a'+i)), 10)
	}
	if len(users) != 7 {
		t.Errorf("Expected 7 retained after overflow, got %d", len(users))
	}
	if users[0] != "e" || users[6] != "k" {
		t.Errorf("Wrong retention slice: %v", users)
	}
}

func TestActivityStore_Sweep(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newActivityStore(testActivityConfig())

	s.record("old", models.KindBans, nil, now)
	s.record("fresh", models.KindBans, nil, now.Add(23*time.Hour))

	removed := s.sweep(now.Add(25*time.Hour), 24*time.Hour)
	if removed != 1 {
		t.Errorf("Expected 1 window swept, got %d", removed)
	}
	if _, ok := s.windows["old"]; ok {
		t.Error("Stale window survived the sweep")
	}
	if _, ok := s.windows["fresh"]; !ok {
		t.Error("Live window was swept")
	}
}

func BenchmarkActivityStore_Record(b *testing.B) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := DefaultConfig()
	s := newActivityStore(&cfg)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		s.record("guild1", models.KindDeletedMessages, nil, now)
	}
}
