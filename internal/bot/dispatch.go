package bot

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"discord-antiraid-bot/internal/ingest"
	"discord-antiraid-bot/internal/intel"
	"discord-antiraid-bot/internal/metrics"
	"discord-antiraid-bot/internal/models"
)

// HandleRawEvent is the detection fast path. It is registered against the
// raw gateway dispatch stream so tracked events reach the detector without
// discordgo's full unmarshal; frames the detector does not watch are
// dropped after two gjson field reads.
func (b *Bot) HandleRawEvent(s *discordgo.Session, e *discordgo.Event) {
	start := time.Now()
	if len(e.RawData) == 0 {
		return
	}

	frame := ingest.ClassifyFrame(e.RawData)
	if frame == nil {
		metrics.FramesDropped.Inc()
		return
	}

	// Handlers run on the gateway read loop; audit log resolution and DB
	// writes must not stall it
	go b.processFrame(frame)

	b.PerfMonitor.TrackEvent(time.Since(start))
}

// kindEnabled maps an event kind onto its per-guild detector toggle
func kindEnabled(cfg *models.AntiRaidConfig, kind models.EventKind) bool {
	switch kind {
	case models.KindJoins:
		return cfg.GuildMemberAdd
	case models.KindDeletedMessages:
		return cfg.MessageCreate
	case models.KindRoleDeletes, models.KindRoleChanges:
		return cfg.RoleDelete
	case models.KindChannelCreations, models.KindChannelDeletes, models.KindWebhooks:
		return cfg.ChannelManipulation
	default:
		return true // bans and kicks are always watched
	}
}

func (b *Bot) processFrame(f *ingest.Frame) {
	start := time.Now()
	now := start

	// Keep the cached member count in step with churn
	switch f.Kind {
	case models.KindJoins:
		b.adjustMemberCount(f.GuildID, 1)
	case models.KindKicks:
		b.adjustMemberCount(f.GuildID, -1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	cfg, err := b.Config.GetAntiRaidConfig(ctx, f.GuildID)
	cancel()
	if err != nil {
		// Fail open: a config outage must not blind the detector
		b.Logger.Warn("config lookup failed, using defaults",
			zap.String("guild", f.GuildID), zap.Error(err))
		cfg = models.DefaultAntiRaidConfig(f.GuildID)
	}

	if !cfg.AIAnalyzer || !kindEnabled(cfg, f.Kind) {
		return
	}

	var join *models.JoinData
	if f.Kind == models.KindJoins {
		join = b.buildJoinData(f, cfg, now)
	}

	// Bulk deletions arrive as one frame; the window counts each message
	for i := 1; i < f.Count; i++ {
		b.Engine.RecordActivity(f.GuildID, f.Kind, nil, now)
	}

	evtCtx := b.buildEventContext(f, now)
	analysis := b.Engine.ProcessEvent(evtCtx, join)

	metrics.EventsIngested.WithLabelValues(string(f.Kind)).Inc()
	if analysis != nil {
		elapsed := time.Since(start)
		metrics.ObserveEvaluation(elapsed)
		b.PerfMonitor.TrackDetection(elapsed)
		if analysis.IsFalsePositive {
			metrics.FalsePositives.Inc()
		}
	}
}

// buildEventContext assembles the scoring context, resolving the executor
// through the audit log for kinds that have one
func (b *Bot) buildEventContext(f *ingest.Frame, now time.Time) *models.EventContext {
	guildName, memberCount := b.guildInfo(f.GuildID)

	evtCtx := &models.EventContext{
		GuildID:     f.GuildID,
		GuildName:   guildName,
		MemberCount: memberCount,
		Kind:        f.Kind,
		Now:         now,
	}

	if f.Kind == models.KindJoins {
		// Joins are self-attributed
		evtCtx.Executor = &models.ActorProfile{
			ID:        f.UserID,
			Username:  f.Username,
			Bot:       f.Bot,
			HasAvatar: f.Avatar,
		}
		if created, ok := ingest.AccountCreated(f.UserID); ok {
			evtCtx.Executor.CreatedAt = created
		}
		return evtCtx
	}

	// Message-delete and webhook audit entries target users and channels
	// we don't carry; match those on recency alone
	targetID := ""
	switch f.Kind {
	case models.KindBans, models.KindKicks:
		targetID = f.UserID
	case models.KindChannelCreations, models.KindChannelDeletes, models.KindRoleDeletes, models.KindRoleChanges:
		targetID = f.EntityID
	}
	evtCtx.Executor = b.Auditor.ResolveExecutor(f.GuildID, targetID, f.Kind, now)
	return evtCtx
}

// buildJoinData derives the join payload recorded into the activity
// window and kicks off a verification challenge for suspicious joiners
func (b *Bot) buildJoinData(f *ingest.Frame, cfg *models.AntiRaidConfig, now time.Time) *models.JoinData {
	age, ageKnown := ingest.AccountAge(f.UserID, now)
	suspicious := joinSuspicious(f, cfg, age, ageKnown)

	if suspicious && !f.Bot {
		guildName, _ := b.guildInfo(f.GuildID)
		go b.challengeJoin(f.GuildID, guildName, f.UserID)
	}

	return &models.JoinData{
		UserID:     f.UserID,
		Timestamp:  now,
		AccountAge: age,
		Suspicious: suspicious,
	}
}

// youngAccountAge marks joiners below this account age as suspicious
// regardless of username shape
const youngAccountAge = 7 * 24 * time.Hour

// joinSuspicious decides whether a joiner deserves a verification
// challenge: throwaway username shape, an account younger than a week,
// or a bot added while bot additions are unapproved
func joinSuspicious(f *ingest.Frame, cfg *models.AntiRaidConfig, age time.Duration, ageKnown bool) bool {
	if intel.IsSuspiciousUsername(f.Username) {
		return true
	}
	if ageKnown && age < youngAccountAge {
		return true
	}
	return f.Bot && !cfg.BotAdd
}
