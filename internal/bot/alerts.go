package bot

import (
	"context"
	"time"

	"go.uber.org/zap"

	"discord-antiraid-bot/internal/metrics"
	"discord-antiraid-bot/internal/models"
	"discord-antiraid-bot/internal/utils"
)

// Deliver implements intel.AlertSink. It persists the incident, then
// posts the alert embed to the guild's configured log channel. Redis
// arbitrates the cooldown across processes so a restarted or duplicated
// instance cannot double-post.
func (b *Bot) Deliver(alert *models.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	claimed, err := b.Redis.ClaimAlertCooldown(alert.GuildID, string(alert.Kind), 30*time.Second)
	if err != nil {
		b.Logger.Warn("cooldown claim failed, delivering anyway",
			zap.String("guild", alert.GuildID), zap.Error(err))
	} else if !claimed {
		return
	}

	metrics.AlertsDispatched.WithLabelValues(string(alert.Kind)).Inc()
	metrics.KnownPatterns.Set(float64(b.Engine.PatternCount()))

	inc := &models.RaidIncident{
		GuildID:       alert.GuildID,
		Kind:          alert.Kind,
		ThreatPct:     alert.ThreatPct,
		ConfidencePct: alert.ConfidencePct,
		ExecutorID:    alert.ExecutorID,
		Findings:      alert.Findings,
		EventCount:    alert.Count,
		CreatedAt:     models.Now(),
	}
	if id, err := b.DB.InsertIncidentFast(ctx, inc); err != nil {
		b.Logger.Error("incident insert failed",
			zap.String("guild", alert.GuildID), zap.Error(err))
	} else {
		inc.ID = id
	}

	ls, err := b.DB.GetLogSettingsFast(ctx, alert.GuildID)
	if err != nil {
		b.Logger.Warn("log settings lookup failed",
			zap.String("guild", alert.GuildID), zap.Error(err))
		return
	}
	if ls == nil || !ls.Enabled || ls.LogChannelID == "" {
		return
	}

	embed := utils.RaidAlertEmbed(alert)
	if _, err := b.Session.ChannelMessageSendEmbed(ls.LogChannelID, embed); err != nil {
		b.Logger.Error("alert delivery failed",
			zap.String("guild", alert.GuildID),
			zap.String("channel", ls.LogChannelID),
			zap.Error(err))
	}
}
