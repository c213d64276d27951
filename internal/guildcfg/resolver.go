package guildcfg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"sentinel-policy/internal/metrics"

	"go.uber.org/zap"
)

var (
	ErrUnavailable   = errors.New("guild config unavailable")
	ErrUnknownModule = errors.New("unknown module")
)

type Store interface {
	GetModuleConfig(ctx context.Context, guildID, module string) ([]byte, bool, error)
	SetModuleConfig(ctx context.Context, guildID, module string, config []byte) error
	IsPremium(ctx context.Context, guildID string) (bool, error)
}

// Resolver reads module configs from the store on every call. Any failure
// resolves to a disabled module.
type Resolver struct {
	store  Store
	logger *zap.Logger
}

func NewResolver(store Store, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, logger: logger}
}

func (r *Resolver) AntiRaid(ctx context.Context, guildID string) (AntiRaid, bool) {
	cfg := defaultAntiRaid()
	if !r.resolve(ctx, guildID, ModuleAntiRaid, &cfg, &cfg.Base) {
		return cfg, false
	}
	cfg.normalize()
	return cfg, true
}

func (r *Resolver) AntiBot(ctx context.Context, guildID string) (AntiBot, bool) {
	cfg := defaultAntiBot()
	if !r.resolve(ctx, guildID, ModuleAntiBot, &cfg, &cfg.Base) {
		return cfg, false
	}
	cfg.normalize()
	return cfg, true
}

func (r *Resolver) Lock(ctx context.Context, guildID string) (Lock, bool) {
	var cfg Lock
	if !r.resolve(ctx, guildID, ModuleLock, &cfg, &cfg.Base) {
		return cfg, false
	}
	return cfg, true
}

func (r *Resolver) Leveling(ctx context.Context, guildID string) (Leveling, bool) {
	cfg := defaultLeveling()
	if !r.resolve(ctx, guildID, ModuleLeveling, &cfg, &cfg.Base) {
		return cfg, false
	}
	cfg.normalize()
	return cfg, true
}

func (r *Resolver) AutoMod(ctx context.Context, guildID string) (AutoMod, bool) {
	var cfg AutoMod
	if !r.resolve(ctx, guildID, ModuleAutoMod, &cfg, &cfg.Base) {
		return cfg, false
	}
	cfg.normalize()
	return cfg, true
}

func (r *Resolver) Set(ctx context.Context, guildID, module string, cfg any) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode %s config: %w", module, err)
	}
	return r.store.SetModuleConfig(ctx, guildID, module, raw)
}

// SetJSON validates raw against the module's config shape before storing it.
// Omitted fields take their defaults. premium_required is operator-owned: the
// stored value is kept and whatever raw carries is ignored.
func (r *Resolver) SetJSON(ctx context.Context, guildID, module string, raw []byte) error {
	cfg, err := Decode(module, raw)
	if err != nil {
		return err
	}
	required, err := r.storedPremiumRequired(ctx, guildID, module)
	if err != nil {
		return err
	}
	cfg.(baseHolder).base().PremiumRequired = required
	return r.Set(ctx, guildID, module, cfg)
}

// SetPremiumRequired flips the premium gate of a module, keeping the rest of
// its stored config. A module without a stored config gets a disabled one.
func (r *Resolver) SetPremiumRequired(ctx context.Context, guildID, module string, required bool) error {
	cfg, err := newConfig(module)
	if err != nil {
		return err
	}
	raw, ok, err := r.store.GetModuleConfig(ctx, guildID, module)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ok {
		if err := json.Unmarshal(raw, cfg); err != nil {
			return fmt.Errorf("decode %s config: %w", module, err)
		}
	}
	cfg.(baseHolder).base().PremiumRequired = required
	return r.Set(ctx, guildID, module, cfg)
}

func (r *Resolver) storedPremiumRequired(ctx context.Context, guildID, module string) (bool, error) {
	raw, ok, err := r.store.GetModuleConfig(ctx, guildID, module)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		return false, nil
	}
	var stored Base
	if err := json.Unmarshal(raw, &stored); err != nil {
		return false, fmt.Errorf("decode stored %s config: %w", module, err)
	}
	return stored.PremiumRequired, nil
}

// Raw returns the stored document for a module, if any.
func (r *Resolver) Raw(ctx context.Context, guildID, module string) ([]byte, bool, error) {
	if _, err := newConfig(module); err != nil {
		return nil, false, err
	}
	return r.store.GetModuleConfig(ctx, guildID, module)
}

func Decode(module string, raw []byte) (any, error) {
	dst, err := newConfig(module)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return nil, fmt.Errorf("decode %s config: %w", module, err)
	}
	return dst, nil
}

func newConfig(module string) (any, error) {
	switch module {
	case ModuleAntiRaid:
		cfg := defaultAntiRaid()
		return &cfg, nil
	case ModuleAntiBot:
		cfg := defaultAntiBot()
		return &cfg, nil
	case ModuleLock:
		return &Lock{}, nil
	case ModuleLeveling:
		cfg := defaultLeveling()
		return &cfg, nil
	case ModuleAutoMod:
		return &AutoMod{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModule, module)
	}
}

func (r *Resolver) resolve(ctx context.Context, guildID, module string, dst any, base *Base) bool {
	if r == nil || r.store == nil || guildID == "" {
		return false
	}
	found, err := r.load(ctx, guildID, module, dst)
	if err != nil {
		metrics.ConfigUnavailable.WithLabelValues(module).Inc()
		r.logger.Warn("guild config unavailable",
			zap.String("guild_id", guildID),
			zap.String("module", module),
			zap.Error(err),
		)
		return false
	}
	if !found || !base.Enabled {
		return false
	}
	if !base.PremiumRequired {
		return true
	}

	premium, err := r.store.IsPremium(ctx, guildID)
	if err != nil {
		metrics.ConfigUnavailable.WithLabelValues(module).Inc()
		r.logger.Warn("premium lookup failed",
			zap.String("guild_id", guildID),
			zap.String("module", module),
			zap.Error(err),
		)
		return false
	}
	return premium
}

func (r *Resolver) load(ctx context.Context, guildID, module string, dst any) (bool, error) {
	raw, ok, err := r.store.GetModuleConfig(ctx, guildID, module)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("%w: decode %s: %v", ErrUnavailable, module, err)
	}
	return true, nil
}
