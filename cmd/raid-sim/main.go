// Command raid-sim drives the threat engine with synthetic event streams.
// It runs fully offline: no gateway, no database, just the scoring and
// learning pipeline against scripted raid and moderation scenarios.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"discord-antiraid-bot/internal/intel"
	"discord-antiraid-bot/internal/models"
)

type consoleSink struct{}

func (consoleSink) Deliver(a *models.Alert) {
	fmt.Printf("\n🚨 ALERT: %s\n", a.Title)
	fmt.Printf("   Threat: %d%%  Confidence: %d%%  Events: %d\n", a.ThreatPct, a.ConfidencePct, a.Count)
	for _, f := range a.Findings {
		fmt.Printf("   • %s\n", f)
	}
	if a.ExecutorID != "" {
		fmt.Printf("   Executor: %s\n", a.ExecutorID)
	}
}

type simulator struct {
	engine *intel.Engine
	now    time.Time
	guild  string
}

func (s *simulator) context(kind models.EventKind, executor *models.ActorProfile) *models.EventContext {
	return &models.EventContext{
		GuildID:     s.guild,
		GuildName:   "Simulation Guild",
		MemberCount: 500,
		Kind:        kind,
		Executor:    executor,
		Now:         s.now,
	}
}

// feed pushes count events of one kind through the full pipeline, spaced
// by interval, and reports any analyses produced
func (s *simulator) feed(kind models.EventKind, count int, interval time.Duration, executor *models.ActorProfile, join func(i int) *models.JoinData) {
	for i := 0; i < count; i++ {
		s.now = s.now.Add(interval)
		var jd *models.JoinData
		if join != nil {
			jd = join(i)
		}
		analysis := s.engine.ProcessEvent(s.context(kind, executor), jd)
		if analysis != nil {
			fmt.Printf("   [%d/%d] threat=%.2f confidence=%.2f fp=%v\n",
				i+1, count, analysis.ThreatLevel, analysis.Confidence, analysis.IsFalsePositive)
		}
	}
}

func (s *simulator) massJoinWave(size int) {
	fmt.Printf("\n▶ Mass join wave: %d day-old accounts, 1s apart\n", size)
	s.feed(models.KindJoins, size, time.Second, nil, func(i int) *models.JoinData {
		return &models.JoinData{
			UserID:     fmt.Sprintf("90000000000000%04d", i),
			Timestamp:  s.now,
			AccountAge: 12 * time.Hour,
			Suspicious: i%2 == 0,
		}
	})
}

func (s *simulator) massBanRaid(size int) {
	fmt.Printf("\n▶ Mass ban raid: %d bans in quick succession\n", size)
	executor := &models.ActorProfile{
		ID:        "666000000000000001",
		Username:  "nuker777",
		HasAvatar: false,
		CreatedAt: s.now.Add(-6 * time.Hour),
	}
	s.feed(models.KindBans, size, 500*time.Millisecond, executor, nil)
}

func (s *simulator) channelCleanup() {
	fmt.Println("\n▶ Moderator cleanup: 3 channel deletions, no other activity")
	executor := &models.ActorProfile{
		ID:        "100000000000000001",
		Username:  "Moderator",
		HasAvatar: true,
		CreatedAt: s.now.Add(-3 * 365 * 24 * time.Hour),
	}
	s.feed(models.KindChannelDeletes, 3, 20*time.Second, executor, nil)
}

func (s *simulator) webhookBurst(size int) {
	fmt.Printf("\n▶ Webhook burst: %d webhook events\n", size)
	s.feed(models.KindWebhooks, size, 2*time.Second, nil, nil)
}

func (s *simulator) printState() {
	m := s.engine.MetricsSnapshot()
	fmt.Println("\n📊 Engine state:")
	fmt.Printf("   Analyses: %d   Alerts: %d\n", m.TotalAnalyses, m.TotalAlerts)
	fmt.Printf("   Confirmed threats: %d   False positives: %d\n", m.ConfirmedThreats, m.FalsePositives)
	fmt.Printf("   Known patterns: %d\n", s.engine.PatternCount())
}

func main() {
	reader := bufio.NewReader(os.Stdin)

	cfg := intel.DefaultConfig()
	cfg.SnapshotPath = filepath.Join(os.TempDir(), "raid-sim-intelligence.json")

	engine := intel.NewEngine(cfg, intel.WithAlertSink(consoleSink{}))
	defer engine.Persister().Wait()

	sim := &simulator{
		engine: engine,
		now:    time.Now(),
		guild:  "424242424242424242",
	}

	fmt.Println("🧪 Raid simulator (offline)")
	fmt.Printf("   Snapshot: %s\n", cfg.SnapshotPath)

	for {
		fmt.Println("\n=== Raid Simulator Menu ===")
		fmt.Println("1. Mass join wave")
		fmt.Println("2. Mass ban raid")
		fmt.Println("3. Moderator channel cleanup (expected suppression)")
		fmt.Println("4. Webhook burst")
		fmt.Println("5. Advance clock 15 minutes (fresh window)")
		fmt.Println("6. Show engine state")
		fmt.Println("0. Exit")
		fmt.Print("Choice: ")

		line, _ := reader.ReadString('\n')
		choice, _ := strconv.Atoi(strings.TrimSpace(line))

		switch choice {
		case 1:
			sim.massJoinWave(readCount(reader, 16))
		case 2:
			sim.massBanRaid(readCount(reader, 6))
		case 3:
			sim.channelCleanup()
		case 4:
			sim.webhookBurst(readCount(reader, 5))
		case 5:
			sim.now = sim.now.Add(15 * time.Minute)
			fmt.Println("⏩ Clock advanced; activity window will reset lazily")
		case 6:
			sim.printState()
		case 0:
			fmt.Println("Bye.")
			return
		default:
			fmt.Println("Unknown choice")
		}
	}
}

func readCount(reader *bufio.Reader, def int) int {
	fmt.Printf("How many events? [%d] ", def)
	line, _ := reader.ReadString('\n')
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
