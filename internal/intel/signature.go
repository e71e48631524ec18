package intel

import (
	"time"

	"discord-antiraid-bot/internal/models"
)

// signatureFeatures is the fixed dimensionality of an event signature
const signatureFeatures = 6

// Signature is a normalized feature vector describing the shape of an
// event burst. Each component is clamped to [0,1]. Immutable once built.
type Signature struct {
	JoinRate        float64 `json:"joinRate"`
	AccountAgeRatio float64 `json:"accountAgeRatio"`
	TimeOfDay       float64 `json:"timeOfDay"`
	GuildSize       float64 `json:"guildSize"`
	Intensity       float64 `json:"intensity"`
	MassAction      float64 `json:"massAction"`
}

func (s Signature) features() [signatureFeatures]float64 {
	return [signatureFeatures]float64{
		s.JoinRate, s.AccountAgeRatio, s.TimeOfDay, s.GuildSize, s.Intensity, s.MassAction,
	}
}

// ExtractSignature builds the signature for the current window state.
// Normalization ceilings match the scorer's top brackets so a saturated
// feature corresponds to a maxed-out score contribution.
func ExtractSignature(ctx *models.EventContext, w *ActivityWindow) Signature {
	sig := Signature{
		JoinRate:   clamp01(float64(w.Joins) / 15.0),
		TimeOfDay:  float64(ctx.Now.UTC().Hour()) / 24.0,
		GuildSize:  clamp01(float64(ctx.MemberCount) / 10000.0),
		Intensity:  clamp01(float64(w.Joins+w.TotalActions()) / 50.0),
		MassAction: clamp01(float64(w.Bans+w.Kicks+w.RoleDeletes+w.ChannelDeletes+w.Webhooks) / 20.0),
	}

	if len(w.AccountAges) > 0 {
		young := 0
		for _, age := range w.AccountAges {
			if age < 7*24*time.Hour {
				young++
			}
		}
		sig.AccountAgeRatio = float64(young) / float64(len(w.AccountAges))
	}

	return sig
}

// Similarity computes 1 − mean absolute per-feature distance, in [0,1].
func Similarity(a, b Signature) float64 {
	fa, fb := a.features(), b.features()
	total := 0.0
	for i := 0; i < signatureFeatures; i++ {
		d := fa[i] - fb[i]
		if d < 0 {
			d = -d
		}
		total += d
	}
	return 1.0 - total/signatureFeatures
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
