package guildcfg

import (
	"context"
	"errors"
	"testing"

	"sentinel-policy/internal/storage"

	"go.uber.org/zap"
)

func newTestResolver(t *testing.T) (*Resolver, *storage.Store) {
	t.Helper()
	store, err := storage.New(storage.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewResolver(store, zap.NewNop()), store
}

type failingStore struct{}

func (failingStore) GetModuleConfig(ctx context.Context, guildID, module string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (failingStore) SetModuleConfig(ctx context.Context, guildID, module string, config []byte) error {
	return errors.New("connection refused")
}

func (failingStore) IsPremium(ctx context.Context, guildID string) (bool, error) {
	return false, errors.New("connection refused")
}

func TestAbsentConfigIsDisabled(t *testing.T) {
	resolver, _ := newTestResolver(t)
	if _, ok := resolver.AntiRaid(context.Background(), "g1"); ok {
		t.Fatalf("expected absent config to be disabled")
	}
}

func TestDisabledFlag(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()
	if err := store.SetModuleConfig(ctx, "g1", ModuleLock, []byte(`{"enabled":false,"exempt_roles":["r1"]}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok := resolver.Lock(ctx, "g1"); ok {
		t.Fatalf("expected disabled module")
	}
}

func TestLookupFailureFailsSafe(t *testing.T) {
	resolver := NewResolver(failingStore{}, zap.NewNop())
	ctx := context.Background()
	if _, ok := resolver.AntiBot(ctx, "g1"); ok {
		t.Fatalf("expected lookup failure to resolve disabled")
	}
	if _, ok := resolver.Leveling(ctx, "g1"); ok {
		t.Fatalf("expected lookup failure to resolve disabled")
	}
}

func TestMalformedConfigFailsSafe(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()
	_ = store.SetModuleConfig(ctx, "g1", ModuleAutoMod, []byte(`{"enabled":true,"rules":"nope"}`))
	if _, ok := resolver.AutoMod(ctx, "g1"); ok {
		t.Fatalf("expected malformed config to resolve disabled")
	}
}

func TestPremiumRequired(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()
	_ = store.SetModuleConfig(ctx, "g1", ModuleLeveling, []byte(`{"enabled":true,"premium_required":true}`))

	if _, ok := resolver.Leveling(ctx, "g1"); ok {
		t.Fatalf("expected non premium guild to be disabled")
	}
	_ = store.SetPremium(ctx, "g1", true)
	if _, ok := resolver.Leveling(ctx, "g1"); !ok {
		t.Fatalf("expected premium guild to be enabled")
	}
}

func TestLevelingDefaults(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()
	_ = store.SetModuleConfig(ctx, "g1", ModuleLeveling, []byte(`{"enabled":true,"cooldown_seconds":30}`))

	cfg, ok := resolver.Leveling(ctx, "g1")
	if !ok {
		t.Fatalf("expected enabled")
	}
	if cfg.XPPerMessage != 15 || cfg.XPPerMinuteInVoice != 10 || cfg.CooldownSeconds != 30 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.LevelUpMessage == "" {
		t.Fatalf("expected default level up message")
	}
}

func TestAntiRaidNormalization(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()
	_ = store.SetModuleConfig(ctx, "g1", ModuleAntiRaid, []byte(`{"enabled":true,"raid_sensitivity":"HIGH","raid_action":"explode"}`))

	cfg, ok := resolver.AntiRaid(ctx, "g1")
	if !ok {
		t.Fatalf("expected enabled")
	}
	if cfg.Sensitivity != SensitivityHigh || cfg.Action != RaidActionLockdown {
		t.Fatalf("unexpected normalization %+v", cfg)
	}
	if !cfg.DetectionEnabled() {
		t.Fatalf("expected detection on by default")
	}
}

func TestAntiBotModeNormalization(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()
	_ = store.SetModuleConfig(ctx, "g1", ModuleAntiBot, []byte(`{"enabled":true,"mode":"approval_required","whitelisted_bots":["b1"]}`))

	cfg, ok := resolver.AntiBot(ctx, "g1")
	if !ok {
		t.Fatalf("expected enabled")
	}
	if cfg.Mode != AntiBotApprovalRequired {
		t.Fatalf("unexpected mode %s", cfg.Mode)
	}
	if !cfg.Whitelisted("b1") || cfg.Whitelisted("b2") {
		t.Fatalf("unexpected whitelist result")
	}
}

func TestSetRoundTripsThroughResolver(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx := context.Background()
	cfg := AutoMod{Base: Base{Enabled: true}, Rules: []AutoModRule{{Name: "spam", Keywords: []string{"free nitro"}, Action: "DELETE"}, {Name: "odd", Action: "shout"}}}
	if err := resolver.Set(ctx, "g1", ModuleAutoMod, cfg); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok := resolver.AutoMod(ctx, "g1")
	if !ok || len(got.Rules) != 2 {
		t.Fatalf("unexpected automod config %+v", got)
	}
	if got.Rules[0].Action != AutoModDelete || got.Rules[1].Action != AutoModLog {
		t.Fatalf("unexpected actions %+v", got.Rules)
	}
}

func TestSetJSONKeepsPremiumGate(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	if err := resolver.SetPremiumRequired(ctx, "g1", ModuleLeveling, true); err != nil {
		t.Fatalf("require premium: %v", err)
	}
	if err := resolver.SetJSON(ctx, "g1", ModuleLeveling, []byte(`{"enabled":true,"premium_required":false}`)); err != nil {
		t.Fatalf("set json: %v", err)
	}
	if _, ok := resolver.Leveling(ctx, "g1"); ok {
		t.Fatalf("non premium guild must not enable a premium module")
	}

	if err := store.SetPremium(ctx, "g1", true); err != nil {
		t.Fatalf("set premium: %v", err)
	}
	if _, ok := resolver.Leveling(ctx, "g1"); !ok {
		t.Fatalf("expected premium guild to resolve enabled")
	}

	if err := resolver.SetPremiumRequired(ctx, "g2", ModuleAutoMod, false); err != nil {
		t.Fatalf("clear premium: %v", err)
	}
	if err := resolver.SetJSON(ctx, "g2", ModuleAutoMod, []byte(`{"enabled":true,"premium_required":true}`)); err != nil {
		t.Fatalf("set json g2: %v", err)
	}
	if _, ok := resolver.AutoMod(ctx, "g2"); !ok {
		t.Fatalf("guild must not be able to set the premium gate either way")
	}
}

func TestSetPremiumRequiredKeepsConfig(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx := context.Background()

	if err := resolver.SetJSON(ctx, "g1", ModuleLeveling, []byte(`{"enabled":true,"xp_per_message":7}`)); err != nil {
		t.Fatalf("set json: %v", err)
	}
	if err := resolver.SetPremiumRequired(ctx, "g1", ModuleLeveling, true); err != nil {
		t.Fatalf("require premium: %v", err)
	}
	if err := resolver.SetPremiumRequired(ctx, "g1", ModuleLeveling, false); err != nil {
		t.Fatalf("clear premium: %v", err)
	}
	got, ok := resolver.Leveling(ctx, "g1")
	if !ok || got.XPPerMessage != 7 {
		t.Fatalf("expected config kept, got ok=%v %+v", ok, got)
	}
	if err := resolver.SetPremiumRequired(ctx, "g1", "nuke", true); !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("expected ErrUnknownModule, got %v", err)
	}
}

func TestSetJSONValidates(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx := context.Background()

	if err := resolver.SetJSON(ctx, "g1", "nuke", []byte(`{"enabled":true}`)); !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("expected ErrUnknownModule, got %v", err)
	}
	if err := resolver.SetJSON(ctx, "g1", ModuleLeveling, []byte(`{"enabled":true,"xp_per_mesage":5}`)); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
	if _, ok, _ := resolver.Raw(ctx, "g1", ModuleLeveling); ok {
		t.Fatalf("rejected config must not be stored")
	}

	if err := resolver.SetJSON(ctx, "g1", ModuleLeveling, []byte(`{"enabled":true,"xp_per_message":5}`)); err != nil {
		t.Fatalf("set json: %v", err)
	}
	got, ok := resolver.Leveling(ctx, "g1")
	if !ok || got.XPPerMessage != 5 || got.CooldownSeconds != 60 {
		t.Fatalf("unexpected leveling config %+v", got)
	}
}

func TestMultipliers(t *testing.T) {
	cfg := Leveling{
		XPBoostChannels: []ChannelBoost{{ChannelID: "c1", Multiplier: 2}},
		XPBoostRoles:    []RoleBoost{{RoleID: "r1", Multiplier: 1.5}, {RoleID: "r2", Multiplier: 3}, {RoleID: "r3", Multiplier: 0.5}},
	}
	if got := cfg.ChannelMultiplier("c1"); got != 2 {
		t.Fatalf("channel multiplier %v", got)
	}
	if got := cfg.ChannelMultiplier("c2"); got != 1 {
		t.Fatalf("default channel multiplier %v", got)
	}
	if got := cfg.RoleMultiplier([]string{"r1", "r2"}); got != 3 {
		t.Fatalf("role multiplier %v", got)
	}
	if got := cfg.RoleMultiplier(nil); got != 1 {
		t.Fatalf("default role multiplier %v", got)
	}
	if got := cfg.RoleMultiplier([]string{"r3"}); got != 0.5 {
		t.Fatalf("single sub-unit role multiplier %v", got)
	}
}
