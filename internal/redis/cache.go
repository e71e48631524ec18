package redis

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"discord-antiraid-bot/internal/models"
)

// AntiRaid config caching. The write-through pattern keeps Redis ahead of
// Postgres so event-path lookups almost never touch the pool.

func configKey(guildID string) string {
	return fmt.Sprintf("antiraid:config:%s", guildID)
}

func (c *Client) GetAntiRaidConfig(guildID string) (*models.AntiRaidConfig, bool) {
	val, err := c.Get(configKey(guildID))
	if err != nil {
		return nil, false
	}
	cfg := &models.AntiRaidConfig{}
	if err := json.Unmarshal([]byte(val), cfg); err != nil {
		return nil, false
	}
	return cfg, true
}

// GetAntiRaidConfigs batch-fetches configs for many guilds in one
// round-trip. Absent or unparsable entries are simply missing from the
// result; callers fall back to the database for those.
func (c *Client) GetAntiRaidConfigs(guildIDs []string) map[string]*models.AntiRaidConfig {
	if len(guildIDs) == 0 {
		return nil
	}
	keys := make([]string, len(guildIDs))
	for i, id := range guildIDs {
		keys[i] = configKey(id)
	}
	vals, err := c.MGet(keys...)
	if err != nil {
		return nil
	}
	out := make(map[string]*models.AntiRaidConfig, len(guildIDs))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		cfg := &models.AntiRaidConfig{}
		if err := json.Unmarshal([]byte(s), cfg); err != nil {
			continue
		}
		out[guildIDs[i]] = cfg
	}
	return out
}

func (c *Client) SetAntiRaidConfig(cfg *models.AntiRaidConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return c.Set(configKey(cfg.GuildID), data, time.Hour)
}

func (c *Client) InvalidateAntiRaidConfig(guildID string) error {
	return c.Del(configKey(guildID))
}

// Alert cooldowns shared across bot instances

func (c *Client) ClaimAlertCooldown(guildID, kind string, period time.Duration) (bool, error) {
	key := fmt.Sprintf("antiraid:cooldown:%s:%s", guildID, kind)
	return c.SetNX(key, 1, period)
}

// Captcha codes for join challenges; short TTL so abandoned challenges
// expire on their own. The pending key routes DM replies (which carry no
// guild ID) back to the guild that issued the challenge.

const captchaTTL = 10 * time.Minute

func captchaCodeKey(guildID, userID string) string {
	return fmt.Sprintf("antiraid:captcha:%s:%s", guildID, userID)
}

func captchaPendingKey(userID string) string {
	return "antiraid:captcha:pending:" + userID
}

// RegisterCaptcha stores the challenge code and the DM routing key in a
// single round-trip
func (c *Client) RegisterCaptcha(guildID, userID, code string) error {
	return c.ExecutePipeline(func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, captchaCodeKey(guildID, userID), code, captchaTTL)
		pipe.Set(ctx, captchaPendingKey(userID), guildID, captchaTTL)
		return nil
	})
}

func (c *Client) GetCaptchaCode(guildID, userID string) (string, bool) {
	val, err := c.Get(captchaCodeKey(guildID, userID))
	if err != nil || val == "" {
		return "", false
	}
	return val, true
}

// PendingCaptchaGuild resolves a DM author to the guild whose challenge
// they are answering
func (c *Client) PendingCaptchaGuild(userID string) (string, bool) {
	val, err := c.Get(captchaPendingKey(userID))
	if err != nil || val == "" {
		return "", false
	}
	return val, true
}

// ClearCaptcha removes both challenge keys after a solve or expiry
func (c *Client) ClearCaptcha(guildID, userID string) error {
	return c.ExecutePipeline(func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, captchaCodeKey(guildID, userID))
		pipe.Del(ctx, captchaPendingKey(userID))
		return nil
	})
}
