package intel

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

const snapshotVersion = "2.4"

// snapshotDoc is the on-disk layout. The shape is kept stable so older
// snapshots restore cleanly across upgrades.
type snapshotDoc struct {
	Version  string        `json:"version"`
	LastSave int64         `json:"lastSave"`
	System   snapshotState `json:"intelligentSystem"`
	Metrics  Metrics       `json:"metrics"`
}

type snapshotState struct {
	GuildProfiles       map[string]*GuildProfile         `json:"guildProfiles"`
	KnownPatterns       []*Pattern                       `json:"knownPatterns"`
	FalsePositiveMemory map[string][]FalsePositiveRecord `json:"falsePositiveMemory"`
}

// Persister writes engine state to disk atomically and restores it on
// startup. Saves are serialized by a lock bit: a save requested while
// another is writing is dropped, not queued, since the next learning
// event or maintenance tick will save again anyway.
type Persister struct {
	engine *Engine
	path   string
	saving atomic.Bool
	wg     sync.WaitGroup
}

// NewPersister binds a persister to the engine and snapshot path
func NewPersister(e *Engine, path string) *Persister {
	return &Persister{engine: e, path: path}
}

// Save captures the engine state and writes it with a temp-file + fsync +
// rename sequence so a crash mid-write never corrupts the live snapshot.
func (p *Persister) Save(now time.Time) error {
	if !p.saving.CompareAndSwap(false, true) {
		return nil
	}
	defer p.saving.Store(false)

	doc := p.capture(now)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".intelligence-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// SaveAsync fires a save in the background; failures are logged, not
// returned, since callers are on the event hot path.
func (p *Persister) SaveAsync(now time.Time) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.Save(now); err != nil {
			p.engine.logger.Error("snapshot save failed", zap.Error(err))
		}
	}()
}

// Wait blocks until all in-flight async saves have finished. Used by the
// shutdown path so the final snapshot lands before exit.
func (p *Persister) Wait() {
	p.wg.Wait()
}

func (p *Persister) capture(now time.Time) *snapshotDoc {
	e := p.engine
	e.mu.Lock()
	defer e.mu.Unlock()

	profiles := make(map[string]*GuildProfile, len(e.profiles.profiles))
	for id, prof := range e.profiles.profiles {
		cp := *prof
		profiles[id] = &cp
	}

	fps := make(map[string][]FalsePositiveRecord, len(e.fpMemory.records))
	for id, recs := range e.fpMemory.records {
		fps[id] = append([]FalsePositiveRecord(nil), recs...)
	}

	return &snapshotDoc{
		Version:  snapshotVersion,
		LastSave: now.UnixMilli(),
		System: snapshotState{
			GuildProfiles:       profiles,
			KnownPatterns:       e.patterns.export(),
			FalsePositiveMemory: fps,
		},
		Metrics: e.metrics,
	}
}

// Load restores engine state from disk. A missing file is a clean first
// run. An unparseable file means the state is gone: the engine starts
// empty and a fresh snapshot replaces the broken one so the next run
// does not hit the same error. Profiles that fail sanity checks are
// repaired and their guilds put under a scoring grace period.
func (p *Persister) Load(now time.Time) error {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		p.engine.logger.Warn("snapshot unreadable, starting with empty state",
			zap.String("path", p.path), zap.Error(err))
		return p.Save(now)
	}

	e := p.engine
	e.mu.Lock()

	corrupted := 0
	for id, prof := range doc.System.GuildProfiles {
		if prof == nil {
			continue
		}
		prof.GuildID = id
		if e.profiles.sanitize(prof) {
			e.profiles.openGracePeriod(id, now, e.cfg.GracePeriod)
			corrupted++
		}
		e.profiles.profiles[id] = prof
	}

	e.patterns.restore(doc.System.KnownPatterns)

	for id, recs := range doc.System.FalsePositiveMemory {
		if len(recs) > e.cfg.MaxFPRecords {
			recs = recs[len(recs)-e.cfg.MaxFPRecords:]
		}
		e.fpMemory.records[id] = recs
	}

	e.metrics = doc.Metrics
	patternCount := e.patterns.Len()

	e.mu.Unlock()

	e.logger.Info("intelligence snapshot restored",
		zap.Int("profiles", len(doc.System.GuildProfiles)),
		zap.Int("patterns", patternCount),
		zap.Int("corrupted_profiles", corrupted),
	)
	return nil
}
