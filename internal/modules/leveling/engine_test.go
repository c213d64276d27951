package leveling

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"sentinel-policy/internal/config"
	"sentinel-policy/internal/cooldown"
	"sentinel-policy/internal/guildcfg"
	"sentinel-policy/internal/platform"
	"sentinel-policy/internal/platform/platformtest"
	"sentinel-policy/internal/storage"

	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type stubConfigs struct {
	configs map[string]guildcfg.Leveling
}

func (s stubConfigs) Leveling(ctx context.Context, guildID string) (guildcfg.Leveling, bool) {
	cfg, ok := s.configs[guildID]
	if !ok || !cfg.Enabled {
		return guildcfg.Leveling{}, false
	}
	return cfg, true
}

func enabledConfig() guildcfg.Leveling {
	return guildcfg.Leveling{
		Base:               guildcfg.Base{Enabled: true},
		XPPerMessage:       15,
		CooldownSeconds:    60,
		XPPerMinuteInVoice: 10,
		LevelUpMessage:     "{user} reached level {level}!",
	}
}

func newTestEngine(t *testing.T, configs map[string]guildcfg.Leveling) (*Engine, *storage.Store, *platformtest.Fake, *fakeClock) {
	t.Helper()
	store, err := storage.New(storage.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	fake := platformtest.New()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	engine := New(config.LevelingConfig{VoiceIntervalSeconds: 60, SweepParallelism: 2}, stubConfigs{configs: configs}, store, fake, cooldown.NewMemTable(100), zap.NewNop(), config.EmbedColors{})
	engine.WithClock(clock)
	return engine, store, fake, clock
}

func TestMessageCooldown(t *testing.T) {
	engine, _, _, clock := newTestEngine(t, map[string]guildcfg.Leveling{"g1": enabledConfig()})
	ctx := context.Background()
	msg := Message{GuildID: "g1", ChannelID: "c1", AuthorID: "u1"}

	first, err := engine.OnMessage(ctx, msg)
	if err != nil || first.XP != 15 {
		t.Fatalf("first message: %+v err=%v", first, err)
	}
	clock.Advance(10 * time.Second)
	second, err := engine.OnMessage(ctx, msg)
	if err != nil || second.Granted() {
		t.Fatalf("second message within cooldown should not grant: %+v err=%v", second, err)
	}
	clock.Advance(50 * time.Second)
	third, err := engine.OnMessage(ctx, msg)
	if err != nil || third.XP != 15 || third.Total != 30 {
		t.Fatalf("message after cooldown: %+v err=%v", third, err)
	}
}

func TestMultiplierComposition(t *testing.T) {
	cfg := enabledConfig()
	cfg.XPBoostChannels = []guildcfg.ChannelBoost{{ChannelID: "c1", Multiplier: 2}}
	cfg.XPBoostRoles = []guildcfg.RoleBoost{{RoleID: "r1", Multiplier: 1.5}, {RoleID: "r2", Multiplier: 3}}
	engine, _, _, _ := newTestEngine(t, map[string]guildcfg.Leveling{"g1": cfg})

	grant, err := engine.OnMessage(context.Background(), Message{GuildID: "g1", ChannelID: "c1", AuthorID: "u1", AuthorRoleIDs: []string{"r1", "r2"}})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if grant.XP != 15*2*3 {
		t.Fatalf("expected %d, got %d", 15*2*3, grant.XP)
	}
}

func TestIgnoredMessages(t *testing.T) {
	cfg := enabledConfig()
	cfg.IgnoredChannels = []string{"bots"}
	engine, _, _, _ := newTestEngine(t, map[string]guildcfg.Leveling{"g1": cfg})
	ctx := context.Background()

	cases := []Message{
		{GuildID: "g1", ChannelID: "c1", AuthorID: "bot", Bot: true},
		{GuildID: "g1", ChannelID: "bots", AuthorID: "u1"},
		{GuildID: "g2", ChannelID: "c1", AuthorID: "u1"},
	}
	for _, msg := range cases {
		grant, err := engine.OnMessage(ctx, msg)
		if err != nil || grant.Granted() {
			t.Fatalf("expected no grant for %+v, got %+v err=%v", msg, grant, err)
		}
	}
}

func TestMultiLevelGrantFiresEachLevel(t *testing.T) {
	cfg := enabledConfig()
	cfg.XPPerMessage = 400
	cfg.LevelUpChannelID = "levels"
	cfg.RoleRewards = []guildcfg.RoleReward{{Level: 1, RoleID: "bronze"}, {Level: 2, RoleID: "silver"}, {Level: 3, RoleID: "gold"}}
	engine, _, fake, _ := newTestEngine(t, map[string]guildcfg.Leveling{"g1": cfg})

	grant, err := engine.OnMessage(context.Background(), Message{GuildID: "g1", ChannelID: "c1", AuthorID: "u1"})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if grant.OldLevel != 0 || grant.NewLevel != 2 {
		t.Fatalf("unexpected levels %+v", grant)
	}
	sent := fake.Messages()
	if len(sent) != 2 {
		t.Fatalf("expected 2 announcements, got %d", len(sent))
	}
	if sent[0].ChannelID != "levels" || sent[0].Message.Content != "<@u1> reached level 1!" || sent[1].Message.Content != "<@u1> reached level 2!" {
		t.Fatalf("unexpected announcements %+v %+v", sent[0].Message, sent[1].Message)
	}
	roles := fake.RoleList()
	if len(roles) != 2 || roles[0].RoleID != "bronze" || roles[1].RoleID != "silver" {
		t.Fatalf("unexpected role rewards %+v", roles)
	}
}

func TestAnnouncementFallsBackToMessageChannel(t *testing.T) {
	cfg := enabledConfig()
	cfg.XPPerMessage = 100
	engine, _, fake, _ := newTestEngine(t, map[string]guildcfg.Leveling{"g1": cfg})

	engine.OnMessage(context.Background(), Message{GuildID: "g1", ChannelID: "c1", AuthorID: "u1"})
	sent := fake.Messages()
	if len(sent) != 1 || sent[0].ChannelID != "c1" {
		t.Fatalf("expected announcement in message channel, got %+v", sent)
	}
}

func TestRewardFailureDoesNotFailGrant(t *testing.T) {
	cfg := enabledConfig()
	cfg.XPPerMessage = 100
	cfg.RoleRewards = []guildcfg.RoleReward{{Level: 1, RoleID: "bronze"}}
	engine, _, fake, _ := newTestEngine(t, map[string]guildcfg.Leveling{"g1": cfg})
	fake.AssignErr = platformtest.ErrForbidden
	fake.SendErr = platformtest.ErrForbidden

	grant, err := engine.OnMessage(context.Background(), Message{GuildID: "g1", ChannelID: "c1", AuthorID: "u1"})
	if err != nil || grant.NewLevel != 1 {
		t.Fatalf("grant should succeed: %+v err=%v", grant, err)
	}
}

func TestConcurrentGrantsCoverDisjointLevels(t *testing.T) {
	cfg := enabledConfig()
	cfg.XPPerMessage = 50
	cfg.CooldownSeconds = 0
	engine, _, fake, _ := newTestEngine(t, map[string]guildcfg.Leveling{"g1": cfg})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.OnMessage(ctx, Message{GuildID: "g1", ChannelID: "c1", AuthorID: "u1"}); err != nil {
				t.Errorf("grant: %v", err)
			}
		}()
	}
	wg.Wait()

	seen := map[string]int{}
	for _, sent := range fake.Messages() {
		seen[sent.Message.Content]++
	}
	for _, level := range []string{"1", "2", "3"} {
		if seen["<@u1> reached level "+level+"!"] != 1 {
			t.Fatalf("level %s announced %d times", level, seen["<@u1> reached level "+level+"!"])
		}
	}
	if len(seen) != 3 {
		t.Fatalf("unexpected announcements %v", seen)
	}
}

func TestVoiceSweep(t *testing.T) {
	cfg := enabledConfig()
	cfg.IgnoredChannels = []string{"afk"}
	cfg.XPBoostRoles = []guildcfg.RoleBoost{{RoleID: "booster", Multiplier: 2}}
	engine, store, fake, _ := newTestEngine(t, map[string]guildcfg.Leveling{"g1": cfg})
	fake.Voice["g1"] = []platform.VoiceMember{
		{GuildID: "g1", UserID: "talker", ChannelID: "v1"},
		{GuildID: "g1", UserID: "booster", ChannelID: "v1", RoleIDs: []string{"booster"}},
		{GuildID: "g1", UserID: "bot", ChannelID: "v1", Bot: true},
		{GuildID: "g1", UserID: "deaf", ChannelID: "v1", Deafened: true},
		{GuildID: "g1", UserID: "afk", ChannelID: "afk"},
	}

	engine.Sweep(context.Background())

	ctx := context.Background()
	expected := map[string]int64{"talker": 10, "booster": 20, "bot": 0, "deaf": 0, "afk": 0}
	for userID, want := range expected {
		standing, err := store.GetXPAndRank(ctx, "g1", userID)
		if err != nil {
			t.Fatalf("rank %s: %v", userID, err)
		}
		if standing.XP != want {
			t.Fatalf("%s: expected %d xp, got %d", userID, want, standing.XP)
		}
	}
}

func TestVoiceSweepIsolatesGuilds(t *testing.T) {
	engine, store, fake, _ := newTestEngine(t, map[string]guildcfg.Leveling{"g1": enabledConfig(), "g2": enabledConfig()})
	fake.Voice["g1"] = []platform.VoiceMember{{GuildID: "g1", UserID: "u1", ChannelID: "v1"}}
	fake.Voice["g2"] = []platform.VoiceMember{{GuildID: "g2", UserID: "u2", ChannelID: "v1"}}
	fake.Voice["g3"] = []platform.VoiceMember{{GuildID: "g3", UserID: "u3", ChannelID: "v1"}}
	fake.VoiceErr["g2"] = errors.New("guild unavailable")

	engine.Sweep(context.Background())

	ctx := context.Background()
	if standing, _ := store.GetXPAndRank(ctx, "g1", "u1"); standing.XP != 10 {
		t.Fatalf("g1 should be granted despite g2 failure, got %d", standing.XP)
	}
	if standing, _ := store.GetXPAndRank(ctx, "g3", "u3"); standing.XP != 0 {
		t.Fatalf("g3 has no leveling config, got %d", standing.XP)
	}
}

// stallingStore holds AddXP for one guild until the caller gives up.
type stallingStore struct {
	*storage.Store
	stalled string
	granted chan string
}

func (s *stallingStore) AddXP(ctx context.Context, guildID, userID string, delta int64) (int64, error) {
	if guildID == s.stalled {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	total, err := s.Store.AddXP(ctx, guildID, userID, delta)
	if err == nil {
		s.granted <- guildID
	}
	return total, err
}

func newStallingEngine(t *testing.T) (*Engine, *stallingStore) {
	t.Helper()
	store, err := storage.New(storage.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := enabledConfig()
	cfg.XPPerMinuteInVoice = 600
	fake := platformtest.New()
	fake.Voice["g1"] = []platform.VoiceMember{{GuildID: "g1", UserID: "u1", ChannelID: "v1"}}
	fake.Voice["g2"] = []platform.VoiceMember{{GuildID: "g2", UserID: "u2", ChannelID: "v1"}}
	stalling := &stallingStore{Store: store, stalled: "g2", granted: make(chan string, 16)}
	configs := stubConfigs{configs: map[string]guildcfg.Leveling{"g1": cfg, "g2": cfg}}
	engine := New(config.LevelingConfig{VoiceIntervalSeconds: 1, SweepParallelism: 2}, configs, stalling, fake, cooldown.NewMemTable(100), zap.NewNop(), config.EmbedColors{})
	return engine, stalling
}

func TestVoiceSweepSlowGuildDoesNotDelayOthers(t *testing.T) {
	engine, stalling := newStallingEngine(t)

	start := time.Now()
	done := make(chan struct{})
	go func() {
		engine.Sweep(context.Background())
		close(done)
	}()

	select {
	case guildID := <-stalling.granted:
		if guildID != "g1" {
			t.Fatalf("unexpected grant for %s", guildID)
		}
		if elapsed := time.Since(start); elapsed >= engine.interval {
			t.Fatalf("g1 granted only after %v, slow guild held it up", elapsed)
		}
	case <-time.After(900 * time.Millisecond):
		t.Fatalf("g1 not granted before the slow guild timed out")
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("sweep did not finish after the slow guild timed out")
	}
	standing, err := stalling.GetXPAndRank(context.Background(), "g1", "u1")
	if err != nil || standing.XP != 10 {
		t.Fatalf("expected 10 xp for g1, got %d err=%v", standing.XP, err)
	}
}

func TestVoiceTickSkipsWhileSweepRuns(t *testing.T) {
	engine, stalling := newStallingEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !engine.tick(ctx) {
		t.Fatalf("first tick should start a sweep")
	}
	select {
	case <-stalling.granted:
	case <-time.After(900 * time.Millisecond):
		t.Fatalf("first sweep never granted g1")
	}
	if engine.tick(ctx) {
		t.Fatalf("tick started a sweep while one was running")
	}

	cancel()
	deadline := time.Now().Add(5 * time.Second)
	for engine.sweeping.Load() {
		if time.Now().After(deadline) {
			t.Fatalf("sweep still running after cancel")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A canceled context stops the sweep before it visits any guild.
	if !engine.tick(ctx) {
		t.Fatalf("tick should start a new sweep once the previous one finished")
	}
	deadline = time.Now().Add(5 * time.Second)
	for engine.sweeping.Load() {
		if time.Now().After(deadline) {
			t.Fatalf("canceled sweep did not return")
		}
		time.Sleep(10 * time.Millisecond)
	}
	select {
	case guildID := <-stalling.granted:
		t.Fatalf("canceled sweep granted %s", guildID)
	default:
	}
}

func TestRank(t *testing.T) {
	cfg := enabledConfig()
	cfg.CooldownSeconds = 0
	engine, _, _, _ := newTestEngine(t, map[string]guildcfg.Leveling{"g1": cfg})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		engine.OnMessage(ctx, Message{GuildID: "g1", ChannelID: "c1", AuthorID: "u1"})
	}
	engine.OnMessage(ctx, Message{GuildID: "g1", ChannelID: "c1", AuthorID: "u2"})

	standing, err := engine.Rank(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if standing.Rank != 1 || standing.XP != 150 || standing.Level != 1 || standing.LevelXP != 50 || standing.RequiredXP != 155 {
		t.Fatalf("unexpected standing %+v", standing)
	}
	if standing, _ := engine.Rank(ctx, "g1", "u2"); standing.Rank != 2 {
		t.Fatalf("expected u2 second, got %d", standing.Rank)
	}

	board, err := engine.Leaderboard(ctx, "g1", 10)
	if err != nil || len(board) != 2 || board[0].UserID != "u1" {
		t.Fatalf("unexpected leaderboard %+v err=%v", board, err)
	}
	embed := engine.RankEmbed(standing)
	if !strings.Contains(embed.Fields[2].Value, "50 / 155") {
		t.Fatalf("unexpected rank embed %+v", embed.Fields[2])
	}
}
