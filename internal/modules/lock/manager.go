package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sentinel-policy/internal/config"
	"sentinel-policy/internal/guildcfg"
	"sentinel-policy/internal/metrics"
	"sentinel-policy/internal/modules/audit"
	"sentinel-policy/internal/platform"
	"sentinel-policy/internal/storage"
	"sentinel-policy/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

var (
	ErrAlreadyLocked = errors.New("channel is already locked")
	ErrNotLocked     = errors.New("channel is not locked")
	ErrDisabled      = errors.New("lock module is disabled")
)

const DeniedMask = discordgo.PermissionSendMessages |
	discordgo.PermissionSendMessagesInThreads |
	discordgo.PermissionCreatePublicThreads |
	discordgo.PermissionCreatePrivateThreads

type Store interface {
	GetLockRecord(ctx context.Context, channelID string) (storage.LockRecord, bool, error)
	PutLockRecord(ctx context.Context, rec storage.LockRecord) error
	DeleteLockRecord(ctx context.Context, channelID string) (storage.LockRecord, bool, error)
	ListLockRecords(ctx context.Context, guildID string) ([]storage.LockRecord, error)
}

type ConfigSource interface {
	Lock(ctx context.Context, guildID string) (guildcfg.Lock, bool)
}

type Platform interface {
	platform.Channels
	platform.Messages
}

// Manager locks and unlocks channels. A channel is locked exactly when a lock
// record exists for it.
type Manager struct {
	configs  ConfigSource
	store    Store
	platform Platform
	audit    *audit.Logger
	logger   *zap.Logger
	colors   config.EmbedColors
	locks    *utils.KeyedMutex
}

func New(configs ConfigSource, store Store, p Platform, auditLogger *audit.Logger, logger *zap.Logger, colors config.EmbedColors) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		configs:  configs,
		store:    store,
		platform: p,
		audit:    auditLogger,
		logger:   logger,
		colors:   colors,
		locks:    utils.NewKeyedMutex(),
	}
}

func (m *Manager) Lock(ctx context.Context, guildID, channelID string, exemptRoleIDs []string, actorID, reason string) error {
	err := m.lock(ctx, guildID, channelID, exemptRoleIDs, actorID, reason)
	metrics.ChannelLocks.WithLabelValues("lock", result(err)).Inc()
	return err
}

func (m *Manager) lock(ctx context.Context, guildID, channelID string, exemptRoleIDs []string, actorID, reason string) error {
	cfg, ok := m.configs.Lock(ctx, guildID)
	if !ok {
		return ErrDisabled
	}

	unlock := m.locks.Lock(channelID)
	defer unlock()

	if _, exists, err := m.store.GetLockRecord(ctx, channelID); err != nil {
		return fmt.Errorf("read lock record: %w", err)
	} else if exists {
		return ErrAlreadyLocked
	}

	current, err := m.platform.ChannelOverwrites(ctx, channelID)
	if err != nil {
		return fmt.Errorf("read channel overwrites: %w", err)
	}
	data, err := encodeSnapshot(current)
	if err != nil {
		return err
	}
	err = m.store.PutLockRecord(ctx, storage.LockRecord{
		ChannelID: channelID,
		GuildID:   guildID,
		Snapshot:  data,
		LockedBy:  actorID,
		Reason:    reason,
	})
	if errors.Is(err, storage.ErrLockExists) {
		return ErrAlreadyLocked
	}
	if err != nil {
		return fmt.Errorf("persist lock record: %w", err)
	}

	exempt := append(append([]string(nil), exemptRoleIDs...), cfg.ExemptRoles...)
	locked := LockedOverwrites(guildID, current, exempt)
	if err := m.platform.SetChannelOverwrites(ctx, channelID, locked, auditReason("lock", actorID, reason)); err != nil {
		if _, _, delErr := m.store.DeleteLockRecord(ctx, channelID); delErr != nil {
			m.logger.Error("lock rollback failed",
				zap.String("guild_id", guildID),
				zap.String("channel_id", channelID),
				zap.Error(delErr),
			)
		}
		return fmt.Errorf("apply lock: %w", err)
	}

	m.audit.Log(ctx, audit.LevelWarn, guildID, actorID, "channel_lock", fmt.Sprintf("channel=%s reason=%s", channelID, reason))
	m.notify(ctx, guildID, channelID, "Channel locked", reason, m.colors.Warning)
	return nil
}

// Unlock restores the snapshot taken at lock time, discarding any overwrite
// changes made while the channel was locked. It is allowed even when the
// module has since been disabled.
func (m *Manager) Unlock(ctx context.Context, guildID, channelID, actorID string) error {
	err := m.unlock(ctx, guildID, channelID, actorID)
	metrics.ChannelLocks.WithLabelValues("unlock", result(err)).Inc()
	return err
}

func (m *Manager) unlock(ctx context.Context, guildID, channelID, actorID string) error {
	unlock := m.locks.Lock(channelID)
	defer unlock()

	rec, exists, err := m.store.GetLockRecord(ctx, channelID)
	if err != nil {
		return fmt.Errorf("read lock record: %w", err)
	}
	if !exists || rec.GuildID != guildID {
		return ErrNotLocked
	}

	original, err := decodeSnapshot(rec.Snapshot)
	if err != nil {
		return err
	}
	if err := m.platform.SetChannelOverwrites(ctx, channelID, original, auditReason("unlock", actorID, "")); err != nil {
		return fmt.Errorf("restore channel overwrites: %w", err)
	}
	if _, _, err := m.store.DeleteLockRecord(ctx, channelID); err != nil {
		return fmt.Errorf("clear lock record: %w", err)
	}

	m.audit.Log(ctx, audit.LevelInfo, guildID, actorID, "channel_unlock", fmt.Sprintf("channel=%s", channelID))
	m.notify(ctx, guildID, channelID, "Channel unlocked", "", m.colors.Action)
	return nil
}

func (m *Manager) IsLocked(ctx context.Context, channelID string) (bool, error) {
	_, exists, err := m.store.GetLockRecord(ctx, channelID)
	return exists, err
}

func (m *Manager) Locked(ctx context.Context, guildID string) ([]storage.LockRecord, error) {
	return m.store.ListLockRecords(ctx, guildID)
}

// LockedOverwrites denies the send and thread capabilities for @everyone and
// every role overwrite not listed in exemptRoleIDs. Exempt roles get an
// explicit allow. Member overwrites are kept as they are.
func LockedOverwrites(guildID string, current []platform.Overwrite, exemptRoleIDs []string) []platform.Overwrite {
	exempt := make(map[string]struct{}, len(exemptRoleIDs))
	for _, id := range exemptRoleIDs {
		if id != "" && id != guildID {
			exempt[id] = struct{}{}
		}
	}

	out := make([]platform.Overwrite, 0, len(current)+len(exempt)+1)
	seen := make(map[string]struct{}, len(current))
	for _, ow := range current {
		if ow.Kind != platform.OverwriteRole {
			out = append(out, ow)
			continue
		}
		seen[ow.ID] = struct{}{}
		if _, ok := exempt[ow.ID]; ok {
			ow.Allow |= DeniedMask
			ow.Deny &^= DeniedMask
		} else {
			ow.Deny |= DeniedMask
			ow.Allow &^= DeniedMask
		}
		out = append(out, ow)
	}

	if _, ok := seen[guildID]; !ok {
		out = append(out, platform.Overwrite{ID: guildID, Kind: platform.OverwriteRole, Deny: DeniedMask})
	}
	for _, id := range exemptRoleIDs {
		if _, ok := exempt[id]; !ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, platform.Overwrite{ID: id, Kind: platform.OverwriteRole, Allow: DeniedMask})
	}
	return out
}

func (m *Manager) notify(ctx context.Context, guildID, channelID, title, reason string, color int) {
	embed := &discordgo.MessageEmbed{
		Title:     title,
		Color:     color,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if reason != "" {
		embed.Description = reason
	}
	if err := m.platform.SendMessage(ctx, channelID, &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}}); err != nil {
		m.logger.Warn("lock notice failed",
			zap.String("guild_id", guildID),
			zap.String("channel_id", channelID),
			zap.Error(err),
		)
	}
}

func auditReason(op, actorID, reason string) string {
	if reason == "" {
		return fmt.Sprintf("%s by %s", op, actorID)
	}
	return fmt.Sprintf("%s by %s: %s", op, actorID, reason)
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAlreadyLocked), errors.Is(err, ErrNotLocked), errors.Is(err, ErrDisabled):
		return "rejected"
	default:
		return "error"
	}
}
