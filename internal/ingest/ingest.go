package ingest

import (
	"time"

	"github.com/tidwall/gjson"

	"discord-antiraid-bot/internal/models"
)

// Frame is the normalized view of one raw gateway dispatch, carrying just
// what the detector needs. Classification peeks at the raw JSON with
// gjson instead of unmarshalling the whole payload; most frames are
// discarded after reading two fields.
type Frame struct {
	Kind     models.EventKind
	GuildID  string
	UserID   string
	Username string
	Bot      bool
	Avatar   bool
	EntityID string
	Count    int // >1 only for bulk deletions
}

// discordEpoch is the Discord snowflake epoch in unix milliseconds
const discordEpoch = 1420070400000

// ClassifyFrame maps a raw gateway frame onto a tracked event kind.
// Returns nil for non-dispatch frames and event types the detector does
// not watch.
func ClassifyFrame(data []byte) *Frame {
	if len(data) == 0 {
		return nil
	}

	// Dispatch frames only (op 0)
	if gjson.GetBytes(data, "op").Int() != 0 {
		return nil
	}

	kind, ok := mapEventKind(gjson.GetBytes(data, "t").Str)
	if !ok {
		return nil
	}

	f := &Frame{
		Kind:    kind,
		GuildID: gjson.GetBytes(data, "d.guild_id").Str,
		Count:   1,
	}
	if f.GuildID == "" {
		return nil // DM traffic and partial frames carry no guild
	}

	switch kind {
	case models.KindJoins:
		user := gjson.GetBytes(data, "d.user")
		f.UserID = user.Get("id").Str
		f.Username = user.Get("username").Str
		f.Bot = user.Get("bot").Bool()
		f.Avatar = user.Get("avatar").Str != ""
	case models.KindDeletedMessages:
		if ids := gjson.GetBytes(data, "d.ids"); ids.IsArray() {
			if n := len(ids.Array()); n > 0 {
				f.Count = n
			}
		}
		f.EntityID = gjson.GetBytes(data, "d.channel_id").Str
	case models.KindBans, models.KindKicks:
		f.UserID = gjson.GetBytes(data, "d.user.id").Str
	default:
		f.EntityID = gjson.GetBytes(data, "d.id").Str
	}

	return f
}

func mapEventKind(t string) (models.EventKind, bool) {
	// Most frequent events first
	switch t {
	case "MESSAGE_DELETE":
		return models.KindDeletedMessages, true
	case "MESSAGE_DELETE_BULK":
		return models.KindDeletedMessages, true
	case "GUILD_MEMBER_ADD":
		return models.KindJoins, true
	case "GUILD_BAN_ADD":
		return models.KindBans, true
	case "GUILD_MEMBER_REMOVE":
		return models.KindKicks, true
	case "CHANNEL_CREATE":
		return models.KindChannelCreations, true
	case "CHANNEL_DELETE":
		return models.KindChannelDeletes, true
	case "GUILD_ROLE_DELETE":
		return models.KindRoleDeletes, true
	case "GUILD_ROLE_UPDATE":
		return models.KindRoleChanges, true
	case "WEBHOOKS_UPDATE":
		return models.KindWebhooks, true
	default:
		return "", false
	}
}

// AccountCreated derives an account's creation time from its snowflake ID
func AccountCreated(id string) (time.Time, bool) {
	sf := parseSnowflake(id)
	if sf == 0 {
		return time.Time{}, false
	}
	ms := int64(sf>>22) + discordEpoch
	return time.UnixMilli(ms), true
}

// AccountAge returns how old the account behind id was at the given time
func AccountAge(id string, now time.Time) (time.Duration, bool) {
	created, ok := AccountCreated(id)
	if !ok {
		return 0, false
	}
	age := now.Sub(created)
	if age < 0 {
		return 0, false
	}
	return age, true
}

// parseSnowflake converts a snowflake string to uint64; any non-digit
// makes the whole ID malformed and degrades it to 0
func parseSnowflake(s string) uint64 {
	if s == "" {
		return 0
	}
	var n uint64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + uint64(c-'0')
	}
	return n
}
