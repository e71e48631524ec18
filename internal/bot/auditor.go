package bot

import (
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"discord-antiraid-bot/internal/ingest"
	"discord-antiraid-bot/internal/metrics"
	"discord-antiraid-bot/internal/models"
)

const (
	// minFetchInterval keeps audit log fetches under the rate limit:
	// at most one fetch per guild per 200ms
	minFetchInterval = 200 * time.Millisecond

	// maxEntryAge: audit entries older than this cannot belong to the
	// event being attributed
	maxEntryAge = 5 * time.Second

	// userCacheTTL bounds how long a resolved actor profile is reused
	userCacheTTL = 10 * time.Minute
)

// auditCache holds the most recent audit log page for one guild
type auditCache struct {
	entries   []*discordgo.AuditLogEntry
	lastFetch time.Time
	mu        sync.Mutex
}

type cachedActor struct {
	profile   *models.ActorProfile
	fetchedAt time.Time
}

// Auditor resolves which account performed a destructive action by
// consulting the guild audit log. Lookups are cached per guild and rate
// limited; when the audit log gives no timely answer the executor stays
// nil and scoring proceeds without actor features.
type Auditor struct {
	session *discordgo.Session
	logger  *zap.Logger

	caches   map[string]*auditCache
	cachesMu sync.Mutex

	actors   map[string]cachedActor
	actorsMu sync.Mutex
}

func NewAuditor(session *discordgo.Session, logger *zap.Logger) *Auditor {
	return &Auditor{
		session: session,
		logger:  logger,
		caches:  make(map[string]*auditCache),
		actors:  make(map[string]cachedActor),
	}
}

// auditAction maps a tracked event kind onto the audit log action that
// records it. Joins are self-attributed and return false.
func auditAction(kind models.EventKind) (discordgo.AuditLogAction, bool) {
	switch kind {
	case models.KindBans:
		return discordgo.AuditLogActionMemberBanAdd, true
	case models.KindKicks:
		return discordgo.AuditLogActionMemberKick, true
	case models.KindChannelCreations:
		return discordgo.AuditLogActionChannelCreate, true
	case models.KindChannelDeletes:
		return discordgo.AuditLogActionChannelDelete, true
	case models.KindRoleChanges:
		return discordgo.AuditLogActionRoleUpdate, true
	case models.KindRoleDeletes:
		return discordgo.AuditLogActionRoleDelete, true
	case models.KindDeletedMessages:
		return discordgo.AuditLogActionMessageDelete, true
	case models.KindWebhooks:
		return discordgo.AuditLogActionWebhookCreate, true
	default:
		return 0, false
	}
}

// ResolveExecutor attributes one event to an actor. targetID may be
// empty for events whose audit entries carry no stable target.
func (a *Auditor) ResolveExecutor(guildID, targetID string, kind models.EventKind, now time.Time) *models.ActorProfile {
	action, ok := auditAction(kind)
	if !ok {
		return nil
	}

	userID, found := a.lookupUserID(guildID, targetID, action, now)
	if !found {
		// One fresh fetch, then give up
		a.fetchAuditLogs(guildID, action, now)
		userID, found = a.lookupUserID(guildID, targetID, action, now)
	}
	if !found || userID == "" {
		metrics.AuditLookups.WithLabelValues("miss").Inc()
		return nil
	}

	// The bot's own cleanup actions never count as an executor
	if me := a.session.State.User; me != nil && me.ID == userID {
		metrics.AuditLookups.WithLabelValues("self").Inc()
		return nil
	}

	metrics.AuditLookups.WithLabelValues("hit").Inc()
	return a.actorProfile(userID, now)
}

func (a *Auditor) guildCache(guildID string) *auditCache {
	a.cachesMu.Lock()
	defer a.cachesMu.Unlock()
	c, ok := a.caches[guildID]
	if !ok {
		c = &auditCache{}
		a.caches[guildID] = c
	}
	return c
}

// lookupUserID scans the cached audit page for a fresh matching entry
func (a *Auditor) lookupUserID(guildID, targetID string, action discordgo.AuditLogAction, now time.Time) (string, bool) {
	c := a.guildCache(guildID)
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range c.entries {
		if entry.ActionType == nil || *entry.ActionType != action {
			continue
		}
		// The entry ID is a snowflake; its timestamp dates the action
		created, ok := ingest.AccountCreated(entry.ID)
		if !ok || now.Sub(created) > maxEntryAge {
			continue
		}
		if targetID != "" && entry.TargetID != "" && entry.TargetID != targetID {
			continue
		}
		return entry.UserID, true
	}
	return "", false
}

// fetchAuditLogs refreshes the cached audit page, respecting the
// per-guild fetch interval
func (a *Auditor) fetchAuditLogs(guildID string, action discordgo.AuditLogAction, now time.Time) {
	c := a.guildCache(guildID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.lastFetch) < minFetchInterval {
		return
	}

	page, err := a.session.GuildAuditLog(guildID, "", "", int(action), 50)
	if err != nil {
		a.logger.Warn("audit log fetch failed",
			zap.String("guild", guildID),
			zap.Int("action", int(action)),
			zap.Error(err))
		c.lastFetch = now // failed fetches count against the interval too
		return
	}

	c.entries = page.AuditLogEntries
	c.lastFetch = now
}

// actorProfile builds an ActorProfile for a user ID, using cached REST
// lookups for the username and bot flag. Account age always comes from
// the snowflake so a failed user fetch still yields a usable profile.
func (a *Auditor) actorProfile(userID string, now time.Time) *models.ActorProfile {
	a.actorsMu.Lock()
	if cached, ok := a.actors[userID]; ok && now.Sub(cached.fetchedAt) < userCacheTTL {
		a.actorsMu.Unlock()
		return cached.profile
	}
	a.actorsMu.Unlock()

	p := &models.ActorProfile{ID: userID}
	if created, ok := ingest.AccountCreated(userID); ok {
		p.CreatedAt = created
	}

	if u, err := a.session.User(userID); err == nil {
		p.Username = u.Username
		p.Bot = u.Bot
		p.HasAvatar = u.Avatar != ""
	}

	a.actorsMu.Lock()
	a.actors[userID] = cachedActor{profile: p, fetchedAt: now}
	a.actorsMu.Unlock()
	return p
}

// Sweep drops stale audit pages and expired actor profiles
func (a *Auditor) Sweep(now time.Time) {
	a.cachesMu.Lock()
	for _, c := range a.caches {
		c.mu.Lock()
		if now.Sub(c.lastFetch) > maxEntryAge {
			c.entries = c.entries[:0]
		}
		c.mu.Unlock()
	}
	a.cachesMu.Unlock()

	a.actorsMu.Lock()
	for id, cached := range a.actors {
		if now.Sub(cached.fetchedAt) > userCacheTTL {
			delete(a.actors, id)
		}
	}
	a.actorsMu.Unlock()
}
