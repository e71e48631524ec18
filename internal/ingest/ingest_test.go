package ingest

import (
	"strconv"
	"testing"
	"time"

	"discord-antiraid-bot/internal/models"
)

// snowflakeAt builds a snowflake whose timestamp field encodes ts
func snowflakeAt(ts time.Time) string {
	ms := uint64(ts.UnixMilli() - discordEpoch)
	return strconv.FormatUint(ms<<22, 10)
}

func TestClassifyFrame_IgnoresNonDispatch(t *testing.T) {
	frames := [][]byte{
		nil,
		[]byte(`{"op":11}`),
		[]byte(`{"op":10,"d":{"heartbeat_interval":41250}}`),
		[]byte(`{"op":0,"t":"PRESENCE_UPDATE","d":{"guild_id":"1"}}`),
		[]byte(`{"op":0,"t":"MESSAGE_DELETE","d":{"id":"5","channel_id":"9"}}`), // no guild
	}
	for _, raw := range frames {
		if f := ClassifyFrame(raw); f != nil {
			t.Errorf("expected nil frame for %s, got %+v", raw, f)
		}
	}
}

func TestClassifyFrame_MemberAdd(t *testing.T) {
	raw := []byte(`{"op":0,"t":"GUILD_MEMBER_ADD","d":{"guild_id":"100","user":{"id":"42","username":"raider9931","bot":true,"avatar":""}}}`)
	f := ClassifyFrame(raw)
	if f == nil {
		t.Fatal("expected a frame")
	}
	if f.Kind != models.KindJoins {
		t.Errorf("kind = %q, want joins", f.Kind)
	}
	if f.GuildID != "100" || f.UserID != "42" || f.Username != "raider9931" {
		t.Errorf("unexpected identity fields: %+v", f)
	}
	if !f.Bot {
		t.Error("bot flag not carried through")
	}
	if f.Avatar {
		t.Error("empty avatar hash should read as no avatar")
	}
	if f.Count != 1 {
		t.Errorf("count = %d, want 1", f.Count)
	}
}

func TestClassifyFrame_BulkDelete(t *testing.T) {
	raw := []byte(`{"op":0,"t":"MESSAGE_DELETE_BULK","d":{"guild_id":"100","channel_id":"7","ids":["1","2","3","4"]}}`)
	f := ClassifyFrame(raw)
	if f == nil {
		t.Fatal("expected a frame")
	}
	if f.Kind != models.KindDeletedMessages {
		t.Errorf("kind = %q, want deletedMessages", f.Kind)
	}
	if f.Count != 4 {
		t.Errorf("count = %d, want 4", f.Count)
	}
	if f.EntityID != "7" {
		t.Errorf("entity = %q, want channel id", f.EntityID)
	}
}

func TestClassifyFrame_KindTable(t *testing.T) {
	cases := []struct {
		event string
		kind  models.EventKind
	}{
		{"MESSAGE_DELETE", models.KindDeletedMessages},
		{"GUILD_BAN_ADD", models.KindBans},
		{"GUILD_MEMBER_REMOVE", models.KindKicks},
		{"CHANNEL_CREATE", models.KindChannelCreations},
		{"CHANNEL_DELETE", models.KindChannelDeletes},
		{"GUILD_ROLE_DELETE", models.KindRoleDeletes},
		{"GUILD_ROLE_UPDATE", models.KindRoleChanges},
		{"WEBHOOKS_UPDATE", models.KindWebhooks},
	}
	for _, c := range cases {
		raw := []byte(`{"op":0,"t":"` + c.event + `","d":{"guild_id":"100","id":"55","user":{"id":"9"}}}`)
		f := ClassifyFrame(raw)
		if f == nil {
			t.Errorf("%s: expected a frame", c.event)
			continue
		}
		if f.Kind != c.kind {
			t.Errorf("%s: kind = %q, want %q", c.event, f.Kind, c.kind)
		}
	}
}

func TestAccountAge(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	created := now.Add(-48 * time.Hour)

	age, ok := AccountAge(snowflakeAt(created), now)
	if !ok {
		t.Fatal("expected a valid age")
	}
	if age != 48*time.Hour {
		t.Errorf("age = %v, want 48h", age)
	}

	if _, ok := AccountAge("", now); ok {
		t.Error("empty id should not produce an age")
	}
	if _, ok := AccountAge("12x4", now); ok {
		t.Error("malformed id should not produce an age")
	}
	if _, ok := AccountAge(snowflakeAt(now.Add(time.Hour)), now); ok {
		t.Error("future snowflake should not produce an age")
	}
}

func BenchmarkClassifyFrame(b *testing.B) {
	raw := []byte(`{"op":0,"t":"GUILD_MEMBER_ADD","d":{"guild_id":"100","user":{"id":"42","username":"newcomer","bot":false,"avatar":"a1b2"}}}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if f := ClassifyFrame(raw); f == nil {
			b.Fatal("frame dropped")
		}
	}
}
