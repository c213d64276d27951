package antiraid

import (
	"context"
	"fmt"
	"time"

	"sentinel-policy/internal/config"
	"sentinel-policy/internal/guildcfg"
	"sentinel-policy/internal/metrics"
	"sentinel-policy/internal/modules/audit"
	"sentinel-policy/internal/platform"
	"sentinel-policy/internal/utils"

	"github.com/bwmarrin/discordgo"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

type Threshold struct {
	Joins  int
	Window time.Duration
}

var sensitivities = map[guildcfg.Sensitivity]Threshold{
	guildcfg.SensitivityLow:    {Joins: 15, Window: 10 * time.Second},
	guildcfg.SensitivityMedium: {Joins: 10, Window: 10 * time.Second},
	guildcfg.SensitivityHigh:   {Joins: 5, Window: 10 * time.Second},
}

func ThresholdFor(sensitivity guildcfg.Sensitivity) Threshold {
	if threshold, ok := sensitivities[sensitivity]; ok {
		return threshold
	}
	return sensitivities[guildcfg.SensitivityMedium]
}

type Decision struct {
	Declared bool
	Count    int
	Action   guildcfg.RaidAction
}

type ConfigSource interface {
	AntiRaid(ctx context.Context, guildID string) (guildcfg.AntiRaid, bool)
}

// Responder carries out the configured response once a raid is declared.
type Responder interface {
	Respond(ctx context.Context, guildID string, action guildcfg.RaidAction, triggeringUserID string)
}

type logResponder struct {
	logger *zap.Logger
}

func (r logResponder) Respond(ctx context.Context, guildID string, action guildcfg.RaidAction, triggeringUserID string) {
	r.logger.Info("raid response requested",
		zap.String("guild_id", guildID),
		zap.String("action", string(action)),
		zap.String("user_id", triggeringUserID),
	)
}

type Module struct {
	configs   ConfigSource
	messages  platform.Messages
	responder Responder
	audit     *audit.Logger
	logger    *zap.Logger
	colors    config.EmbedColors
	windows   *xsync.MapOf[string, *utils.JoinWindow]
}

func New(configs ConfigSource, messages platform.Messages, auditLogger *audit.Logger, logger *zap.Logger, colors config.EmbedColors) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Module{
		configs:   configs,
		messages:  messages,
		responder: logResponder{logger: logger},
		audit:     auditLogger,
		logger:    logger,
		colors:    colors,
		windows:   xsync.NewMapOf[string, *utils.JoinWindow](),
	}
}

func (m *Module) SetResponder(responder Responder) {
	if responder != nil {
		m.responder = responder
	}
}

func (m *Module) OnJoin(ctx context.Context, guildID, userID string, now time.Time) Decision {
	if guildID == "" {
		return Decision{}
	}
	cfg, ok := m.configs.AntiRaid(ctx, guildID)
	if !ok || !cfg.DetectionEnabled() {
		return Decision{}
	}

	threshold := ThresholdFor(cfg.Sensitivity)
	count, declared := m.window(guildID).Record(now, threshold.Window, threshold.Joins)
	if !declared {
		return Decision{Count: count}
	}

	metrics.RaidsDeclared.WithLabelValues(string(cfg.Action)).Inc()
	detail := fmt.Sprintf("type=RAID sensitivity=%s rule=%djoins/%ds value=%djoins action=%s",
		cfg.Sensitivity, threshold.Joins, int(threshold.Window.Seconds()), count, cfg.Action)
	m.audit.Log(ctx, audit.LevelCrit, guildID, userID, "anti_raid", detail)

	m.sendAlert(ctx, guildID, cfg, threshold, count)
	m.responder.Respond(ctx, guildID, cfg.Action, userID)

	return Decision{Declared: true, Count: count, Action: cfg.Action}
}

func (m *Module) window(guildID string) *utils.JoinWindow {
	window, _ := m.windows.LoadOrCompute(guildID, utils.NewJoinWindow)
	return window
}

func (m *Module) sendAlert(ctx context.Context, guildID string, cfg guildcfg.AntiRaid, threshold Threshold, count int) {
	if cfg.AlertChannelID == "" {
		return
	}
	embed := &discordgo.MessageEmbed{
		Title:       "Raid detected",
		Description: fmt.Sprintf("%d members joined within %d seconds.", count, int(threshold.Window.Seconds())),
		Color:       m.colors.Warning,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Sensitivity", Value: string(cfg.Sensitivity), Inline: true},
			{Name: "Response", Value: string(cfg.Action), Inline: true},
		},
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if err := m.messages.SendMessage(ctx, cfg.AlertChannelID, &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}}); err != nil {
		m.logger.Warn("raid alert failed",
			zap.String("guild_id", guildID),
			zap.String("channel_id", cfg.AlertChannelID),
			zap.Error(err),
		)
	}
}
