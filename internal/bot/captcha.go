package bot

import (
	"bytes"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"discord-antiraid-bot/internal/metrics"
	"discord-antiraid-bot/internal/utils"
)

// captchaValidity matches the Redis key TTL so the durable fallback and
// the cache expire a challenge at the same moment
const captchaValidity = 10 * time.Minute

// captchaExpired reports whether a session created at the given
// millisecond timestamp has outlived its validity window
func captchaExpired(createdAt int64, now time.Time) bool {
	return now.UnixMilli()-createdAt > captchaValidity.Milliseconds()
}

// challengeJoin DMs a verification challenge to a suspicious joiner.
// Failures are logged and swallowed: a closed DM must not block the join.
func (b *Bot) challengeJoin(guildID, guildName, userID string) {
	captcha, err := utils.GenerateCaptcha()
	if err != nil {
		b.Logger.Error("captcha generation failed", zap.Error(err))
		return
	}

	ch, err := b.Session.UserChannelCreate(userID)
	if err != nil {
		b.Logger.Warn("captcha DM channel failed",
			zap.String("user", userID), zap.Error(err))
		return
	}

	_, err = b.Session.ChannelMessageSendComplex(ch.ID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{utils.CaptchaChallengeEmbed(guildName)},
		Files: []*discordgo.File{{
			Name:        "captcha.png",
			ContentType: "image/png",
			Reader:      bytes.NewReader(captcha.Image),
		}},
	})
	if err != nil {
		b.Logger.Warn("captcha DM send failed",
			zap.String("user", userID), zap.Error(err))
		return
	}

	if err := b.DB.CreateCaptchaSession(guildID, userID, captcha.Code); err != nil {
		b.Logger.Error("captcha session insert failed",
			zap.String("user", userID), zap.Error(err))
	}
	// Replies arrive over DM without a guild, so the pending key remembers
	// which guild the challenge belongs to
	if err := b.Redis.RegisterCaptcha(guildID, userID, captcha.Code); err != nil {
		b.Logger.Warn("captcha code cache failed",
			zap.String("user", userID), zap.Error(err))
	}

	metrics.CaptchasIssued.Inc()
	b.Logger.Info("captcha challenge issued",
		zap.String("guild", guildID), zap.String("user", userID))
}

// MessageCreate handles DM replies carrying captcha answers. Guild
// messages flow through the raw fast path instead and are ignored here.
func (b *Bot) MessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.GuildID != "" || m.Author == nil || m.Author.Bot {
		return
	}

	guildID, ok := b.Redis.PendingCaptchaGuild(m.Author.ID)
	if !ok {
		return
	}

	code, ok := b.Redis.GetCaptchaCode(guildID, m.Author.ID)
	if !ok {
		// Redis restarted mid-challenge; fall back to the durable copy
		var createdAt int64
		var err error
		code, createdAt, err = b.DB.GetCaptchaSession(guildID, m.Author.ID)
		if err != nil || code == "" || captchaExpired(createdAt, time.Now()) {
			return
		}
	}

	answer := strings.ToUpper(strings.TrimSpace(m.Content))
	if answer != code {
		s.ChannelMessageSend(m.ChannelID, "That code doesn't match. Try again.")
		return
	}

	b.Redis.ClearCaptcha(guildID, m.Author.ID)
	if err := b.DB.DeleteCaptchaSession(guildID, m.Author.ID); err != nil {
		b.Logger.Warn("captcha session delete failed",
			zap.String("user", m.Author.ID), zap.Error(err))
	}

	// A solved challenge is human evidence; feed it back so the window
	// stops treating this joiner as suspicious
	b.Engine.RecordModeratorAction(guildID, m.Author.ID, false)

	guildName, _ := b.guildInfo(guildID)
	s.ChannelMessageSendEmbed(m.ChannelID, utils.CaptchaSolvedEmbed(guildName))

	metrics.CaptchasSolved.Inc()
	b.Logger.Info("captcha solved",
		zap.String("guild", guildID), zap.String("user", m.Author.ID))
}
