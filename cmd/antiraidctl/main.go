// Command antiraidctl administers per-guild detection settings directly
// against the backing stores. It covers what the bot deliberately has no
// chat surface for: flipping detection toggles, routing alerts, and
// reviewing or closing incidents.
//
//	antiraidctl -guild <id> toggle <system> <on|off>
//	antiraidctl -guild <id> logs <channel-id>
//	antiraidctl -guild <id> logs-off
//	antiraidctl -guild <id> incidents [limit]
//	antiraidctl [-false-positive] resolve <incident-id>
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"discord-antiraid-bot/internal/config"
	"discord-antiraid-bot/internal/database"
	"discord-antiraid-bot/internal/models"
	"discord-antiraid-bot/internal/redis"
)

func main() {
	cfgPath := flag.String("config", "", "config file (default: config.yaml/config.json)")
	guildID := flag.String("guild", "", "guild ID to operate on")
	falsePositive := flag.Bool("false-positive", false, "with resolve: mark the incident as a false alarm")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	path := *cfgPath
	if path == "" {
		var err error
		if path, err = config.Locate(); err != nil {
			log.Fatalf("locating config: %v", err)
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("loading %s: %v", path, err)
	}

	db, err := database.NewDatabase(cfg.Postgres)
	if err != nil {
		log.Fatalf("connecting to Postgres: %v", err)
	}
	defer db.Close()

	// Redis is only needed to invalidate cached config rows; a missing
	// Redis should not block incident review
	rdb, rerr := redis.New(cfg.Redis)
	if rerr == nil {
		defer rdb.Close()
	}

	invalidate := func(guild string) {
		if rerr != nil {
			log.Printf("⚠️  Redis unavailable, cached config for %s stays stale up to its TTL", guild)
			return
		}
		if err := rdb.InvalidateAntiRaidConfig(guild); err != nil {
			log.Printf("⚠️  cache invalidation failed: %v", err)
		}
	}

	switch args[0] {
	case "toggle":
		if len(args) != 3 || *guildID == "" {
			usage()
		}
		enabled, err := parseOnOff(args[2])
		if err != nil {
			log.Fatal(err)
		}
		if err := db.SetAntiRaidToggle(*guildID, args[1], enabled); err != nil {
			if errors.Is(err, database.ErrUnknownToggle) {
				log.Fatalf("unknown system %q (want channelManipulation, guildMemberAdd, messageCreate, roleDelete, aiAnalyzer, or botAdd)", args[1])
			}
			log.Fatalf("updating toggle: %v", err)
		}
		invalidate(*guildID)
		fmt.Printf("✓ %s.%s = %v\n", *guildID, args[1], enabled)

	case "logs":
		if len(args) != 2 || *guildID == "" {
			usage()
		}
		err := db.SetLogSettings(&models.LogSettings{
			GuildID:      *guildID,
			Enabled:      true,
			LogChannelID: args[1],
		})
		if err != nil {
			log.Fatalf("updating log settings: %v", err)
		}
		fmt.Printf("✓ alerts for %s route to channel %s\n", *guildID, args[1])

	case "logs-off":
		if *guildID == "" {
			usage()
		}
		if err := db.SetLogSettings(&models.LogSettings{GuildID: *guildID}); err != nil {
			log.Fatalf("updating log settings: %v", err)
		}
		fmt.Printf("✓ alert delivery disabled for %s\n", *guildID)

	case "incidents":
		if *guildID == "" {
			usage()
		}
		limit := 10
		if len(args) > 1 {
			if n, err := strconv.Atoi(args[1]); err == nil && n > 0 {
				limit = n
			}
		}
		incidents, err := db.RecentIncidents(*guildID, limit)
		if err != nil {
			log.Fatalf("loading incidents: %v", err)
		}
		if len(incidents) == 0 {
			fmt.Println("no incidents recorded")
			return
		}
		for _, inc := range incidents {
			status := "open"
			if inc.FalsePositive {
				status = "false-positive"
			} else if inc.Resolved {
				status = "resolved"
			}
			ts := time.Unix(0, inc.CreatedAt*int64(time.Millisecond))
			fmt.Printf("#%-5d %-22s threat=%3d%% conf=%3d%% events=%-4d %-14s %s\n",
				inc.ID, models.GetKindDisplayName(inc.Kind), inc.ThreatPct,
				inc.ConfidencePct, inc.EventCount, status, ts.Format(time.RFC3339))
		}

	case "resolve":
		if len(args) != 2 {
			usage()
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			log.Fatalf("invalid incident id %q", args[1])
		}
		if *falsePositive {
			err = db.MarkIncidentFalsePositive(id)
		} else {
			err = db.ResolveIncident(id)
		}
		if err != nil {
			log.Fatalf("updating incident: %v", err)
		}
		fmt.Printf("✓ incident #%d closed (false-positive=%v)\n", id, *falsePositive)

	default:
		usage()
	}
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on", "true", "1", "enable", "enabled":
		return true, nil
	case "off", "false", "0", "disable", "disabled":
		return false, nil
	}
	return false, fmt.Errorf("want on or off, got %q", s)
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  antiraidctl -guild <id> toggle <system> <on|off>
  antiraidctl -guild <id> logs <channel-id>
  antiraidctl -guild <id> logs-off
  antiraidctl -guild <id> incidents [limit]
  antiraidctl [-false-positive] resolve <incident-id>`)
	os.Exit(2)
}
