package leveling

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"sentinel-policy/internal/config"
	"sentinel-policy/internal/cooldown"
	"sentinel-policy/internal/guildcfg"
	"sentinel-policy/internal/metrics"
	"sentinel-policy/internal/platform"
	"sentinel-policy/internal/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/remeh/sizedwaitgroup"
	"go.uber.org/zap"
)

const messageRule = "message-xp"

type Store interface {
	AddXP(ctx context.Context, guildID, userID string, delta int64) (int64, error)
	GetXPAndRank(ctx context.Context, guildID, userID string) (storage.XPStanding, error)
	TopXP(ctx context.Context, guildID string, limit int) ([]storage.XPStanding, error)
}

type ConfigSource interface {
	Leveling(ctx context.Context, guildID string) (guildcfg.Leveling, bool)
}

type Platform interface {
	platform.Messages
	platform.Members
	platform.Voice
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Message struct {
	GuildID       string
	ChannelID     string
	AuthorID      string
	AuthorRoleIDs []string
	Bot           bool
}

type Grant struct {
	GuildID  string
	UserID   string
	XP       int64
	Total    int64
	OldLevel int
	NewLevel int
}

func (g Grant) Granted() bool {
	return g.XP > 0
}

type Standing struct {
	GuildID    string
	UserID     string
	XP         int64
	Level      int
	LevelXP    int64
	RequiredXP int64
	Rank       int
}

type Engine struct {
	configs     ConfigSource
	store       Store
	platform    Platform
	cooldowns   cooldown.Table
	logger      *zap.Logger
	colors      config.EmbedColors
	clock       Clock
	interval    time.Duration
	parallelism int

	sweeping atomic.Bool
}

func New(cfg config.LevelingConfig, configs ConfigSource, store Store, p Platform, cooldowns cooldown.Table, logger *zap.Logger, colors config.EmbedColors) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := time.Duration(cfg.VoiceIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	parallelism := cfg.SweepParallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Engine{
		configs:     configs,
		store:       store,
		platform:    p,
		cooldowns:   cooldowns,
		logger:      logger,
		colors:      colors,
		clock:       realClock{},
		interval:    interval,
		parallelism: parallelism,
	}
}

func (e *Engine) WithClock(clock Clock) {
	e.clock = clock
}

// OnMessage grants message XP unless the author is on cooldown. Concurrent
// messages from one user may rarely both pass the cooldown check.
func (e *Engine) OnMessage(ctx context.Context, msg Message) (Grant, error) {
	if msg.Bot || msg.GuildID == "" || msg.AuthorID == "" {
		return Grant{}, nil
	}
	cfg, ok := e.configs.Leveling(ctx, msg.GuildID)
	if !ok || cfg.XPPerMessage <= 0 || cfg.Ignored(msg.ChannelID) {
		return Grant{}, nil
	}

	ttl := time.Duration(cfg.CooldownSeconds) * time.Second
	acquired, err := e.cooldowns.Acquire(ctx, cooldown.Key(msg.GuildID, msg.AuthorID, messageRule), ttl, e.clock.Now())
	if err != nil {
		return Grant{}, fmt.Errorf("cooldown: %w", err)
	}
	if !acquired {
		return Grant{}, nil
	}

	amount := Compose(float64(cfg.XPPerMessage), cfg.ChannelMultiplier(msg.ChannelID), cfg.RoleMultiplier(msg.AuthorRoleIDs))
	return e.grant(ctx, cfg, msg.GuildID, msg.AuthorID, amount, msg.ChannelID, "message")
}

// Run sweeps voice channels on every tick until ctx is done. Ticks that land
// while a sweep is still running are skipped.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick starts a background sweep and reports whether it did.
func (e *Engine) tick(ctx context.Context) bool {
	if !e.sweeping.CompareAndSwap(false, true) {
		metrics.VoiceSweepsSkipped.Inc()
		e.logger.Debug("voice sweep still running, skipping tick")
		return false
	}
	go func() {
		defer e.sweeping.Store(false)
		e.Sweep(ctx)
	}()
	return true
}

// Sweep grants voice XP in every guild with a voice session. Guilds are
// processed independently and each is bounded by the tick interval.
func (e *Engine) Sweep(ctx context.Context) {
	start := time.Now()
	swg := sizedwaitgroup.New(e.parallelism)
	for _, guildID := range e.platform.VoiceGuilds() {
		if ctx.Err() != nil {
			break
		}
		swg.Add()
		go func(guildID string) {
			defer swg.Done()
			defer func() {
				if r := recover(); r != nil {
					metrics.HandlerPanics.WithLabelValues("voice_sweep").Inc()
					e.logger.Error("voice sweep panic", zap.String("guild_id", guildID), zap.Any("panic", r))
				}
			}()
			guildCtx, cancel := context.WithTimeout(ctx, e.interval)
			defer cancel()
			e.sweepGuild(guildCtx, guildID)
		}(guildID)
	}
	swg.Wait()
	metrics.VoiceSweepDuration.Observe(time.Since(start).Seconds())
}

func (e *Engine) sweepGuild(ctx context.Context, guildID string) {
	cfg, ok := e.configs.Leveling(ctx, guildID)
	if !ok || cfg.XPPerMinuteInVoice <= 0 {
		return
	}
	members, err := e.platform.VoiceMembers(ctx, guildID)
	if err != nil {
		e.logger.Warn("voice members lookup failed", zap.String("guild_id", guildID), zap.Error(err))
		return
	}

	base := float64(cfg.XPPerMinuteInVoice) * e.interval.Minutes()
	for _, member := range members {
		if member.Bot || member.Deafened || cfg.Ignored(member.ChannelID) {
			continue
		}
		amount := Compose(base, cfg.ChannelMultiplier(member.ChannelID), cfg.RoleMultiplier(member.RoleIDs))
		if _, err := e.grant(ctx, cfg, guildID, member.UserID, amount, "", "voice"); err != nil {
			e.logger.Warn("voice xp grant failed",
				zap.String("guild_id", guildID),
				zap.String("user_id", member.UserID),
				zap.Error(err),
			)
		}
	}
}

// grant adds amount and fires the level-up rewards once for every level
// between the totals before and after the add.
func (e *Engine) grant(ctx context.Context, cfg guildcfg.Leveling, guildID, userID string, amount int64, channelID, source string) (Grant, error) {
	if amount <= 0 {
		return Grant{}, nil
	}
	total, err := e.store.AddXP(ctx, guildID, userID, amount)
	if err != nil {
		return Grant{}, fmt.Errorf("add xp: %w", err)
	}
	metrics.XPGranted.WithLabelValues(source).Add(float64(amount))

	g := Grant{
		GuildID:  guildID,
		UserID:   userID,
		XP:       amount,
		Total:    total,
		OldLevel: LevelForXP(total - amount),
		NewLevel: LevelForXP(total),
	}
	for level := g.OldLevel + 1; level <= g.NewLevel; level++ {
		e.levelUp(ctx, cfg, guildID, userID, channelID, level)
	}
	return g, nil
}

func (e *Engine) levelUp(ctx context.Context, cfg guildcfg.Leveling, guildID, userID, channelID string, level int) {
	metrics.LevelUps.Inc()

	target := cfg.LevelUpChannelID
	if target == "" {
		target = channelID
	}
	if target != "" {
		content := strings.NewReplacer("{user}", "<@"+userID+">", "{level}", strconv.Itoa(level)).Replace(cfg.LevelUpMessage)
		msg := &discordgo.MessageSend{
			Content:         content,
			AllowedMentions: &discordgo.MessageAllowedMentions{Users: []string{userID}},
		}
		if err := e.platform.SendMessage(ctx, target, msg); err != nil {
			e.logger.Warn("level up announcement failed",
				zap.String("guild_id", guildID),
				zap.String("channel_id", target),
				zap.Error(err),
			)
		}
	}

	for _, reward := range cfg.RoleRewards {
		if reward.Level != level || reward.RoleID == "" {
			continue
		}
		if err := e.platform.AssignRole(ctx, guildID, userID, reward.RoleID); err != nil {
			e.logger.Warn("role reward failed",
				zap.String("guild_id", guildID),
				zap.String("user_id", userID),
				zap.String("role_id", reward.RoleID),
				zap.Error(err),
			)
		}
	}
}

func (e *Engine) Rank(ctx context.Context, guildID, userID string) (Standing, error) {
	standing, err := e.store.GetXPAndRank(ctx, guildID, userID)
	if err != nil {
		return Standing{}, err
	}
	return toStanding(standing), nil
}

func (e *Engine) Leaderboard(ctx context.Context, guildID string, limit int) ([]Standing, error) {
	top, err := e.store.TopXP(ctx, guildID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Standing, 0, len(top))
	for _, entry := range top {
		out = append(out, toStanding(entry))
	}
	return out, nil
}

func (e *Engine) RankEmbed(standing Standing) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Rank",
		Description: "<@" + standing.UserID + ">",
		Color:       e.colors.Action,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Rank", Value: "#" + strconv.Itoa(standing.Rank), Inline: true},
			{Name: "Level", Value: strconv.Itoa(standing.Level), Inline: true},
			{Name: "XP", Value: fmt.Sprintf("%d / %d", standing.LevelXP, standing.RequiredXP), Inline: true},
			{Name: "Total XP", Value: strconv.FormatInt(standing.XP, 10), Inline: true},
		},
	}
}

func toStanding(entry storage.XPStanding) Standing {
	level, into, needed := Progress(entry.XP)
	return Standing{
		GuildID:    entry.GuildID,
		UserID:     entry.UserID,
		XP:         entry.XP,
		Level:      level,
		LevelXP:    into,
		RequiredXP: needed,
		Rank:       entry.Rank,
	}
}
