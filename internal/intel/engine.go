package intel

import (
	"fmt"
	"sync"
	"time"

	"discord-antiraid-bot/internal/models"

	"go.uber.org/zap"
)

// Config holds the engine's tunables. Defaults mirror the values the
// detector has been run with in production.
type Config struct {
	AnalysisWindow     time.Duration // rolling window scored per guild
	CooldownPeriod     time.Duration // per (guild, kind) alert cooldown
	ThrottleInterval   time.Duration // per-guild re-analysis floor
	GracePeriod        time.Duration // scoring suspension after profile corruption
	MemoryHorizon      time.Duration // stale window / throttle entry eviction
	FPRecordHorizon    time.Duration // false-positive memory retention
	MaxPatterns        int
	MaxTimestamps      int
	MaxSuspiciousUsers int
	MaxAccountAges     int
	MaxFPRecords       int
	SnapshotPath       string
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		AnalysisWindow:     10 * time.Minute,
		CooldownPeriod:     30 * time.Second,
		ThrottleInterval:   100 * time.Millisecond,
		GracePeriod:        60 * time.Minute,
		MemoryHorizon:      24 * time.Hour,
		FPRecordHorizon:    7 * 24 * time.Hour,
		MaxPatterns:        5000,
		MaxTimestamps:      1000,
		MaxSuspiciousUsers: 500,
		MaxAccountAges:     500,
		MaxFPRecords:       200,
		SnapshotPath:       "data/intelligence.json",
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.AnalysisWindow <= 0 {
		c.AnalysisWindow = d.AnalysisWindow
	}
	if c.CooldownPeriod <= 0 {
		c.CooldownPeriod = d.CooldownPeriod
	}
	if c.ThrottleInterval <= 0 {
		c.ThrottleInterval = d.ThrottleInterval
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = d.GracePeriod
	}
	if c.MemoryHorizon <= 0 {
		c.MemoryHorizon = d.MemoryHorizon
	}
	if c.FPRecordHorizon <= 0 {
		c.FPRecordHorizon = d.FPRecordHorizon
	}
	if c.MaxPatterns <= 0 {
		c.MaxPatterns = d.MaxPatterns
	}
	if c.MaxTimestamps <= 0 {
		c.MaxTimestamps = d.MaxTimestamps
	}
	if c.MaxSuspiciousUsers <= 0 {
		c.MaxSuspiciousUsers = d.MaxSuspiciousUsers
	}
	if c.MaxAccountAges <= 0 {
		c.MaxAccountAges = d.MaxAccountAges
	}
	if c.MaxFPRecords <= 0 {
		c.MaxFPRecords = d.MaxFPRecords
	}
	if c.SnapshotPath == "" {
		c.SnapshotPath = d.SnapshotPath
	}
}

// TriggerThreshold returns the static per-kind count that must be reached
// before an evaluation is even attempted
func TriggerThreshold(kind models.EventKind) int {
	switch kind {
	case models.KindJoins:
		return 5
	case models.KindDeletedMessages:
		return 35
	case models.KindRoleChanges:
		return 15
	case models.KindChannelCreations:
		return 3
	case models.KindChannelDeletes:
		return 3
	case models.KindRoleDeletes:
		return 3
	case models.KindBans:
		return 5
	case models.KindKicks:
		return 5
	case models.KindWebhooks:
		return 4
	default:
		return 0
	}
}

// ActionThreshold returns the per-kind score an analysis must clear
// before an alert is considered. The guild's adaptive threshold applies
// on top of this floor.
func ActionThreshold(kind models.EventKind) float64 {
	switch kind {
	case models.KindBans, models.KindKicks, models.KindChannelDeletes, models.KindRoleDeletes:
		return 0.5
	case models.KindJoins, models.KindWebhooks:
		return 0.55
	default:
		return 0.6
	}
}

// learnThreatFloor: dispatched analyses at or above this level are fed
// back as confirmed threats; lower non-FP scores stay unlabeled.
const learnThreatFloor = 0.8

// Metrics are the cumulative engine-wide counters carried in the snapshot
type Metrics struct {
	TotalAnalyses    int64 `json:"totalAnalyses"`
	TotalAlerts      int64 `json:"totalAlerts"`
	FalsePositives   int64 `json:"falsePositives"`
	ConfirmedThreats int64 `json:"confirmedThreats"`
}

// AlertSink receives alerts for delivery; the engine never talks to the
// platform itself.
type AlertSink interface {
	Deliver(alert *models.Alert)
}

// Engine is the adaptive threat-scoring service. One instance owns all
// per-guild state; external collaborators only feed events and read
// analyses. A single mutex guards the maps: discordgo dispatches handlers
// concurrently, and evaluation itself is cheap compared to the I/O around
// it.
type Engine struct {
	mu sync.Mutex

	cfg      Config
	clock    Clock
	logger   *zap.Logger
	activity *activityStore
	patterns *PatternStore
	profiles *profileStore
	trust    *trustTracker
	fpMemory *fpMemory

	alertCooldowns map[string]time.Time // guildID:kind -> last alert
	throttle       map[string]time.Time // guildID -> last analysis

	metrics Metrics

	sink      AlertSink
	persister *Persister
}

// Option configures an Engine
type Option func(*Engine)

// WithClock injects a clock (tests use a fake)
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithAlertSink sets the alert delivery collaborator
func WithAlertSink(s AlertSink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithLogger sets the engine logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates the engine. Persisted state is not loaded here; call
// Restore (or Persister.Load) during startup wiring.
func NewEngine(cfg Config, opts ...Option) *Engine {
	cfg.applyDefaults()

	e := &Engine{
		cfg:            cfg,
		clock:          SystemClock(),
		logger:         zap.NewNop(),
		patterns:       NewPatternStore(cfg.MaxPatterns),
		profiles:       newProfileStore(),
		trust:          newTrustTracker(),
		fpMemory:       newFPMemory(cfg.MaxFPRecords),
		alertCooldowns: make(map[string]time.Time),
		throttle:       make(map[string]time.Time),
	}
	e.activity = newActivityStore(&e.cfg)
	e.persister = NewPersister(e, cfg.SnapshotPath)

	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RecordActivity feeds one platform event into the guild's rolling window
// and returns the current count for that kind after the lazy window reset.
func (e *Engine) RecordActivity(guildID string, kind models.EventKind, join *models.JoinData, now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.activity.record(guildID, kind, join, now)
	w := e.activity.snapshot(guildID, now)
	if w == nil {
		return 0
	}
	return w.Count(kind)
}

// Throttled reports whether the guild was analyzed too recently to be
// worth re-evaluating, and marks the analysis slot when it was not. This
// is independent of the alert cooldown.
func (e *Engine) Throttled(guildID string, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if last, ok := e.throttle[guildID]; ok && now.Sub(last) < e.cfg.ThrottleInterval {
		return true
	}
	e.throttle[guildID] = now
	return false
}

// Evaluate scores the guild's current window for the event in ctx.
// Deterministic: identical context and persisted state produce identical
// analyses.
func (e *Engine) Evaluate(ctx *models.EventContext) *models.ThreatAnalysis {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evaluateLocked(ctx)
}

func (e *Engine) evaluateLocked(ctx *models.EventContext) *models.ThreatAnalysis {
	now := ctx.Now
	e.metrics.TotalAnalyses++

	profile := e.profiles.get(ctx.GuildID, now)

	// A guild in a grace period is scored zero unconditionally; a profile
	// judged corrupted must not re-trigger before it re-learns.
	if e.profiles.inGracePeriod(ctx.GuildID, now) {
		return &models.ThreatAnalysis{
			ThreatLevel:     0,
			Confidence:      0,
			IsFalsePositive: true,
			Reasoning:       "Grace period active: scoring suspended for this guild",
			Profile:         e.profiles.snapshotOf(profile),
		}
	}

	w := e.activity.snapshot(ctx.GuildID, now)
	if w == nil {
		w = newActivityWindow(now)
	}

	sig := ExtractSignature(ctx, w)
	rules := scoreRules(ctx, w)
	patternScore := e.patterns.Query(sig)
	multiplier := adaptiveMultiplier(profile, ctx.MemberCount)

	score := combineScores(rules.ruleScore, patternScore, multiplier)
	confidence := scoreConfidence(len(rules.threats), patternScore)

	analysis := &models.ThreatAnalysis{
		ThreatLevel: score,
		Confidence:  confidence,
		Threats:     rules.threats,
		Profile:     e.profiles.snapshotOf(profile),
	}

	if e.isFalsePositive(ctx, w, sig) {
		// Halve instead of zeroing: the faint signal still feeds pattern
		// learning while the alert itself is suppressed.
		analysis.ThreatLevel = score / 2
		analysis.IsFalsePositive = true
		analysis.Reasoning = "Recognized legitimate-activity shape; alert suppressed"
		return analysis
	}

	if score >= ActionThreshold(ctx.Kind) {
		analysis.Reasoning = fmt.Sprintf("Suspicious activity detected: %s", models.GetKindDisplayName(ctx.Kind))
	} else {
		analysis.Reasoning = "Activity within normal bounds"
	}
	return analysis
}

// scoreConfidence derives the confidence from how much independent
// evidence contributed. Historical pattern corroboration weighs heaviest.
func scoreConfidence(findings int, patternScore float64) float64 {
	c := 0.4 + 0.1*float64(findings) + 0.25*patternScore
	return clamp01(c)
}

// ShouldAlert applies the per-kind action threshold, the guild's adaptive
// threshold, and the alert cooldown. When all pass, the cooldown slot is
// claimed.
func (e *Engine) ShouldAlert(ctx *models.EventContext, analysis *models.ThreatAnalysis) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if analysis.IsFalsePositive {
		return false
	}
	if analysis.ThreatLevel < ActionThreshold(ctx.Kind) {
		return false
	}
	profile := e.profiles.get(ctx.GuildID, ctx.Now)
	if analysis.ThreatLevel < profile.AdaptiveThreshold {
		return false
	}

	key := ctx.GuildID + ":" + string(ctx.Kind)
	if last, ok := e.alertCooldowns[key]; ok && ctx.Now.Sub(last) < e.cfg.CooldownPeriod {
		return false
	}
	e.alertCooldowns[key] = ctx.Now
	return true
}

// Learn closes the feedback loop for one evaluated event. Confirmed
// threats harden the profile and pattern memory; false alerts feed the
// suppression machinery and the acting moderator's trust record.
func (e *Engine) Learn(ctx *models.EventContext, analysis *models.ThreatAnalysis, wasThreat bool) {
	e.mu.Lock()

	now := ctx.Now
	profile := e.profiles.get(ctx.GuildID, now)
	w := e.activity.snapshot(ctx.GuildID, now)
	if w == nil {
		w = newActivityWindow(now)
	}
	sig := ExtractSignature(ctx, w)

	if wasThreat {
		profile.RaidHistory++
		e.metrics.ConfirmedThreats++
	} else {
		profile.FalseAlerts++
		e.metrics.FalsePositives++
		e.fpMemory.record(ctx.GuildID, sig, ctx.Kind, now)
		if ctx.Executor != nil {
			e.trust.recordAction(ctx.GuildID, ctx.Executor.ID, true)
		}
	}
	profile.LastUpdate = now.UnixMilli()
	e.patterns.Record(sig, wasThreat, now)

	e.mu.Unlock()

	// Opportunistic save after a learning event; the save-lock drops the
	// request if a write is already in flight.
	e.persister.SaveAsync(now)
}

// RecordModeratorAction feeds a non-alert moderation outcome into the
// trust tracker (the moderation collaborator calls this when it confirms
// or denies a flagged actor).
func (e *Engine) RecordModeratorAction(guildID, actorID string, wasFalsePositive bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trust.recordAction(guildID, actorID, wasFalsePositive)
}

// IsTrustedModerator reports whether the actor is trust-exempt in the guild
func (e *Engine) IsTrustedModerator(guildID, actorID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.trust.isTrusted(guildID, actorID)
}

// OpenGracePeriod manually suspends scoring for a guild (also used by the
// snapshot loader when it detects a corrupted profile)
func (e *Engine) OpenGracePeriod(guildID string, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profiles.openGracePeriod(guildID, now, e.cfg.GracePeriod)
}

// ProcessEvent drives the full pipeline for one delivered platform event:
// record, trigger check, throttle, evaluate, alert gating, delivery, and
// the learning callback. Returns the analysis when one was produced.
func (e *Engine) ProcessEvent(ctx *models.EventContext, join *models.JoinData) *models.ThreatAnalysis {
	count := e.RecordActivity(ctx.GuildID, ctx.Kind, join, ctx.Now)
	if count < TriggerThreshold(ctx.Kind) {
		return nil
	}
	if e.Throttled(ctx.GuildID, ctx.Now) {
		return nil
	}

	analysis := e.Evaluate(ctx)

	if e.ShouldAlert(ctx, analysis) {
		e.dispatchAlert(ctx, analysis, count)
	}

	// Feedback: suppressions teach the false-positive machinery, strong
	// scores count as confirmed threats, ambiguous ones stay unlabeled.
	if analysis.IsFalsePositive {
		e.Learn(ctx, analysis, false)
	} else if analysis.ThreatLevel >= learnThreatFloor {
		e.Learn(ctx, analysis, true)
	}

	return analysis
}

func (e *Engine) dispatchAlert(ctx *models.EventContext, analysis *models.ThreatAnalysis, count int) {
	e.mu.Lock()
	e.metrics.TotalAlerts++
	sink := e.sink
	e.mu.Unlock()

	alert := &models.Alert{
		GuildID:       ctx.GuildID,
		GuildName:     ctx.GuildName,
		Kind:          ctx.Kind,
		Title:         "Raid Alert: " + models.GetKindDisplayName(ctx.Kind),
		ThreatPct:     int(analysis.ThreatLevel*100 + 0.5),
		ConfidencePct: int(analysis.Confidence*100 + 0.5),
		Findings:      analysis.Threats,
		Count:         count,
		IssuedAt:      ctx.Now,
	}
	if ctx.Executor != nil {
		alert.ExecutorID = ctx.Executor.ID
	}

	e.logger.Warn("raid alert dispatched",
		zap.String("guild", ctx.GuildID),
		zap.String("kind", string(ctx.Kind)),
		zap.Int("threat_pct", alert.ThreatPct),
		zap.Int("confidence_pct", alert.ConfidencePct),
	)

	if sink != nil {
		sink.Deliver(alert)
	}
}

// Maintain runs one background maintenance pass: cooldown and throttle
// GC, stale-window eviction, pattern and false-positive pruning, and the
// adaptive threshold nudges. Only horizon-aged entries are removed.
func (e *Engine) Maintain(now time.Time) {
	e.mu.Lock()

	for key, ts := range e.alertCooldowns {
		if now.Sub(ts) > e.cfg.CooldownPeriod {
			delete(e.alertCooldowns, key)
		}
	}
	for guildID, ts := range e.throttle {
		if now.Sub(ts) > 5*time.Minute {
			delete(e.throttle, guildID)
		}
	}

	staleWindows := e.activity.sweep(now, e.cfg.MemoryHorizon)
	prunedFP := e.fpMemory.prune(now, e.cfg.FPRecordHorizon)
	prunedPatterns := e.patterns.Prune(now, e.cfg.MemoryHorizon*30, 3)
	e.profiles.adjustThresholds(now)

	e.mu.Unlock()

	if staleWindows > 0 || prunedFP > 0 || prunedPatterns > 0 {
		e.logger.Info("maintenance sweep",
			zap.Int("stale_windows", staleWindows),
			zap.Int("pruned_fp_records", prunedFP),
			zap.Int("pruned_patterns", prunedPatterns),
		)
	}

	e.persister.SaveAsync(now)
}

// StartMaintenance runs Maintain on a fixed interval until stop is closed
func (e *Engine) StartMaintenance(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.Maintain(e.clock.Now())
			case <-stop:
				return
			}
		}
	}()
}

// SetAlertSink attaches the delivery collaborator after construction.
// Startup wiring builds the engine before the platform adapter exists.
func (e *Engine) SetAlertSink(s AlertSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = s
}

// PatternCount reports how many behavioral signatures are held in memory
func (e *Engine) PatternCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.patterns.Len()
}

// MetricsSnapshot returns a copy of the cumulative counters
func (e *Engine) MetricsSnapshot() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics
}

// Persister exposes the persistence layer for startup wiring
func (e *Engine) Persister() *Persister {
	return e.persister
}
