package intel

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"discord-antiraid-bot/internal/models"
)

func snapshotEngine(t *testing.T, path string) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SnapshotPath = path
	e := NewEngine(cfg)
	t.Cleanup(e.persister.Wait)
	return e
}

func TestPersister_MissingFileIsCleanStart(t *testing.T) {
	e := snapshotEngine(t, filepath.Join(t.TempDir(), "intelligence.json"))
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := e.persister.Load(now); err != nil {
		t.Fatalf("Missing snapshot should not error: %v", err)
	}
	if len(e.profiles.profiles) != 0 || e.patterns.Len() != 0 {
		t.Error("Clean start should have no state")
	}
}

func TestPersister_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intelligence.json")
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	a := snapshotEngine(t, path)
	p := a.profiles.get("guild1", now)
	p.RaidHistory = 4
	p.FalseAlerts = 2
	p.AdaptiveThreshold = 0.45
	a.patterns.Record(Signature{JoinRate: 1, Intensity: 0.8}, true, now)
	a.patterns.Record(Signature{MassAction: 0.9}, false, now)
	a.fpMemory.record("guild1", Signature{TimeOfDay: 0.5}, models.KindDeletedMessages, now)
	a.metrics = Metrics{TotalAnalyses: 10, TotalAlerts: 3, FalsePositives: 2, ConfirmedThreats: 1}

	if err := a.persister.Save(now); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	b := snapshotEngine(t, path)
	if err := b.persister.Load(now.Add(time.Minute)); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !reflect.DeepEqual(a.profiles.profiles, b.profiles.profiles) {
		t.Errorf("Profiles did not round-trip:\n%+v\nvs\n%+v", a.profiles.profiles["guild1"], b.profiles.profiles["guild1"])
	}
	if !reflect.DeepEqual(a.patterns.patterns, b.patterns.patterns) {
		t.Error("Patterns did not round-trip")
	}
	if !reflect.DeepEqual(a.fpMemory.records, b.fpMemory.records) {
		t.Error("False-positive memory did not round-trip")
	}
	if a.metrics != b.metrics {
		t.Errorf("Metrics did not round-trip: %+v vs %+v", a.metrics, b.metrics)
	}

	// A save/load cycle with no intervening writes must reproduce the
	// same document apart from the save timestamp
	if err := b.persister.Save(now.Add(time.Hour)); err != nil {
		t.Fatalf("Re-save failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Read snapshot: %v", err)
	}
	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Snapshot not valid JSON: %v", err)
	}
	if doc.Version != snapshotVersion {
		t.Errorf("Version mismatch: %q", doc.Version)
	}
	if doc.LastSave != now.Add(time.Hour).UnixMilli() {
		t.Errorf("LastSave not updated: %d", doc.LastSave)
	}
	if !reflect.DeepEqual(doc.System.GuildProfiles, a.profiles.profiles) {
		t.Error("Persisted profiles drifted across cycles")
	}
}

func TestPersister_CorruptedFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intelligence.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := snapshotEngine(t, path)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := e.persister.Load(now); err != nil {
		t.Fatalf("Corrupted snapshot should not propagate an error: %v", err)
	}
	if len(e.profiles.profiles) != 0 || e.patterns.Len() != 0 {
		t.Error("Corrupted snapshot should leave the engine empty")
	}

	// The broken file is replaced with a valid empty snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Errorf("Replacement snapshot not valid JSON: %v", err)
	}
}

func TestPersister_CorruptedProfileGetsGracePeriod(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intelligence.json")
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	doc := snapshotDoc{
		Version:  snapshotVersion,
		LastSave: now.UnixMilli(),
		System: snapshotState{
			GuildProfiles: map[string]*GuildProfile{
				"runaway": {
					RaidHistory:       1,
					FalseAlerts:       120,
					AdaptiveThreshold: 0.93,
				},
				"healthy": {
					RaidHistory:       5,
					FalseAlerts:       1,
					AdaptiveThreshold: 0.45,
				},
			},
		},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	e := snapshotEngine(t, path)
	if err := e.persister.Load(now); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	runaway := e.profiles.profiles["runaway"]
	if runaway.FalseAlerts != 12 {
		t.Errorf("Runaway false alerts not repaired: %d", runaway.FalseAlerts)
	}
	if !almostEqual(runaway.AdaptiveThreshold, 0.60) {
		t.Errorf("Runaway threshold not reset: %f", runaway.AdaptiveThreshold)
	}
	if !e.profiles.inGracePeriod("runaway", now.Add(30*time.Minute)) {
		t.Error("Repaired guild should be under a grace period")
	}
	if e.profiles.inGracePeriod("healthy", now) {
		t.Error("Healthy guild should not be graced")
	}

	// The graced guild scores zero no matter the activity
	for i := 0; i < 10; i++ {
		e.RecordActivity("runaway", models.KindBans, nil, now)
	}
	analysis := e.Evaluate(&models.EventContext{
		GuildID: "runaway", Kind: models.KindBans, MemberCount: 500, Now: now,
	})
	if analysis.ThreatLevel != 0 || !analysis.IsFalsePositive {
		t.Errorf("Graced guild scored: %+v", analysis)
	}
}

func TestPersister_ConcurrentSaveIsDropped(t *testing.T) {
	e := snapshotEngine(t, filepath.Join(t.TempDir(), "intelligence.json"))
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	e.persister.saving.Store(true)
	if err := e.persister.Save(now); err != nil {
		t.Errorf("Dropped save should return nil, got %v", err)
	}
	if _, err := os.Stat(e.persister.path); !os.IsNotExist(err) {
		t.Error("Dropped save must not write the file")
	}
	e.persister.saving.Store(false)
}
