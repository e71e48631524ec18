package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"discord-antiraid-bot/internal/models"
)

const (
	colorCritical = 0xE74C3C
	colorWarning  = 0xE67E22
	colorInfo     = 0x2F3136
	colorSuccess  = 0x2ECC71
)

// RaidAlertEmbed renders a dispatched alert for the guild's log channel
func RaidAlertEmbed(a *models.Alert) *discordgo.MessageEmbed {
	color := colorWarning
	if a.ThreatPct >= 75 {
		color = colorCritical
	}

	findings := "No individual findings recorded"
	if len(a.Findings) > 0 {
		findings = "• " + strings.Join(a.Findings, "\n• ")
	}

	executor := "Unknown (audit log gave no timely answer)"
	if a.ExecutorID != "" {
		executor = fmt.Sprintf("<@%s> (`%s`)", a.ExecutorID, a.ExecutorID)
	}

	return &discordgo.MessageEmbed{
		Title: "🚨 " + a.Title,
		Description: fmt.Sprintf(
			"**Threat:** %d%%\n**Confidence:** %d%%\n**Events in window:** %d",
			a.ThreatPct, a.ConfidencePct, a.Count),
		Color: color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Findings", Value: findings},
			{Name: "Suspected Executor", Value: executor},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("%s • %s", a.GuildName, models.GetKindDisplayName(a.Kind)),
		},
		Timestamp: a.IssuedAt.Format(time.RFC3339),
	}
}

// CaptchaChallengeEmbed accompanies the verification image sent to a
// suspicious joiner
func CaptchaChallengeEmbed(guildName string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "Verification Required",
		Description: fmt.Sprintf(
			"Your account tripped the join filters for **%s**.\n"+
				"Reply with the code shown in the image within 10 minutes to verify.",
			guildName),
		Color: colorInfo,
		Image: &discordgo.MessageEmbedImage{URL: "attachment://captcha.png"},
	}
}

// CaptchaSolvedEmbed confirms a successful verification
func CaptchaSolvedEmbed(guildName string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "✅ Verified",
		Description: fmt.Sprintf("You're verified for **%s**. Welcome!", guildName),
		Color:       colorSuccess,
	}
}

