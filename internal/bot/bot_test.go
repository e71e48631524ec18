package bot

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"discord-antiraid-bot/internal/ingest"
	"discord-antiraid-bot/internal/models"
)

func TestKindEnabled(t *testing.T) {
	cfg := models.DefaultAntiRaidConfig("g1")
	for _, kind := range models.AllEventKinds() {
		if !kindEnabled(cfg, kind) {
			t.Errorf("%s: default config should watch every kind", kind)
		}
	}

	cfg.GuildMemberAdd = false
	if kindEnabled(cfg, models.KindJoins) {
		t.Error("joins should follow the guildMemberAdd toggle")
	}

	cfg.ChannelManipulation = false
	for _, kind := range []models.EventKind{models.KindChannelCreations, models.KindChannelDeletes, models.KindWebhooks} {
		if kindEnabled(cfg, kind) {
			t.Errorf("%s should follow the channelManipulation toggle", kind)
		}
	}

	cfg.RoleDelete = false
	if kindEnabled(cfg, models.KindRoleDeletes) || kindEnabled(cfg, models.KindRoleChanges) {
		t.Error("role kinds should follow the roleDelete toggle")
	}

	// Bans and kicks have no opt-out
	if !kindEnabled(cfg, models.KindBans) || !kindEnabled(cfg, models.KindKicks) {
		t.Error("bans and kicks must always be watched")
	}
}

func TestGuildMetaCache(t *testing.T) {
	b := &Bot{guilds: make(map[string]*guildMeta)}

	if name, count := b.guildInfo("g1"); name != "" || count != 0 {
		t.Errorf("unknown guild should report zero meta, got %q/%d", name, count)
	}

	b.guilds["g1"] = &guildMeta{Name: "Test", MemberCount: 100}
	b.adjustMemberCount("g1", 1)
	b.adjustMemberCount("g1", -3)
	if _, count := b.guildInfo("g1"); count != 98 {
		t.Errorf("member count = %d, want 98", count)
	}

	b.guilds["g1"].MemberCount = 1
	b.adjustMemberCount("g1", -5)
	if _, count := b.guildInfo("g1"); count != 0 {
		t.Errorf("member count should floor at zero, got %d", count)
	}
}

func TestJoinSuspicious(t *testing.T) {
	cfg := models.DefaultAntiRaidConfig("g1")
	week := 7 * 24 * time.Hour

	cases := []struct {
		name     string
		frame    ingest.Frame
		age      time.Duration
		ageKnown bool
		botAdd   bool
		want     bool
	}{
		{"veteran with a normal name", ingest.Frame{Username: "Dev_Mark"}, 90 * 24 * time.Hour, true, true, false},
		{"throwaway username shape", ingest.Frame{Username: "user12345"}, 90 * 24 * time.Hour, true, true, true},
		{"account younger than a week", ingest.Frame{Username: "Dev_Mark"}, 2 * 24 * time.Hour, true, true, true},
		{"exactly a week old", ingest.Frame{Username: "Dev_Mark"}, week, true, true, false},
		{"young but age unknown", ingest.Frame{Username: "Dev_Mark"}, 0, false, true, false},
		{"bot while additions unapproved", ingest.Frame{Username: "HelperBot", Bot: true}, 90 * 24 * time.Hour, true, false, true},
		{"bot while additions approved", ingest.Frame{Username: "HelperBot", Bot: true}, 90 * 24 * time.Hour, true, true, false},
	}
	for _, c := range cases {
		cfg.BotAdd = c.botAdd
		if got := joinSuspicious(&c.frame, cfg, c.age, c.ageKnown); got != c.want {
			t.Errorf("%s: suspicious = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestCaptchaExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if captchaExpired(now.Add(-5*time.Minute).UnixMilli(), now) {
		t.Error("A five-minute-old session must still be valid")
	}
	if captchaExpired(now.Add(-captchaValidity).UnixMilli(), now) {
		t.Error("A session at exactly the validity bound must still pass")
	}
	if !captchaExpired(now.Add(-11*time.Minute).UnixMilli(), now) {
		t.Error("An eleven-minute-old session must be rejected")
	}
}

func TestAuditAction(t *testing.T) {
	cases := []struct {
		kind   models.EventKind
		action discordgo.AuditLogAction
	}{
		{models.KindBans, discordgo.AuditLogActionMemberBanAdd},
		{models.KindKicks, discordgo.AuditLogActionMemberKick},
		{models.KindChannelDeletes, discordgo.AuditLogActionChannelDelete},
		{models.KindRoleDeletes, discordgo.AuditLogActionRoleDelete},
		{models.KindWebhooks, discordgo.AuditLogActionWebhookCreate},
	}
	for _, c := range cases {
		action, ok := auditAction(c.kind)
		if !ok || action != c.action {
			t.Errorf("%s: action = %d/%v, want %d", c.kind, action, ok, c.action)
		}
	}

	if _, ok := auditAction(models.KindJoins); ok {
		t.Error("joins are self-attributed and must not hit the audit log")
	}
}

func TestAuditorEntryRecency(t *testing.T) {
	a := NewAuditor(nil, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	freshID := snowflakeFor(now.Add(-2 * time.Second))
	staleID := snowflakeFor(now.Add(-30 * time.Second))
	action := discordgo.AuditLogActionMemberBanAdd

	c := a.guildCache("g1")
	c.entries = []*discordgo.AuditLogEntry{
		{ID: staleID, UserID: "oldActor", TargetID: "t1", ActionType: &action},
		{ID: freshID, UserID: "newActor", TargetID: "t1", ActionType: &action},
	}

	userID, found := a.lookupUserID("g1", "t1", action, now)
	if !found || userID != "newActor" {
		t.Errorf("lookup = %q/%v, want the fresh entry's actor", userID, found)
	}

	// Target mismatch filters the entry out
	if _, found := a.lookupUserID("g1", "other", action, now); found {
		t.Error("mismatched target should not attribute")
	}

	// A different action type never matches
	other := discordgo.AuditLogActionChannelDelete
	if _, found := a.lookupUserID("g1", "t1", other, now); found {
		t.Error("wrong action type should not attribute")
	}
}

// snowflakeFor builds a snowflake encoding ts, mirroring Discord's epoch
func snowflakeFor(ts time.Time) string {
	const discordEpoch = 1420070400000
	ms := uint64(ts.UnixMilli() - discordEpoch)
	return formatUint(ms << 22)
}

func formatUint(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
