package automod

import (
	"context"
	"fmt"
	"time"

	"sentinel-policy/internal/config"
	"sentinel-policy/internal/guildcfg"
	"sentinel-policy/internal/metrics"
	"sentinel-policy/internal/modules/audit"
	"sentinel-policy/internal/platform"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type ConfigSource interface {
	AutoMod(ctx context.Context, guildID string) (guildcfg.AutoMod, bool)
}

type Module struct {
	configs  ConfigSource
	messages platform.Messages
	audit    *audit.Logger
	logger   *zap.Logger
	colors   config.EmbedColors
}

func New(configs ConfigSource, messages platform.Messages, auditLogger *audit.Logger, logger *zap.Logger, colors config.EmbedColors) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Module{configs: configs, messages: messages, audit: auditLogger, logger: logger, colors: colors}
}

// HandleMessage runs the guild's rules against msg and executes the action of
// the first match only.
func (m *Module) HandleMessage(ctx context.Context, msg Message) (Match, bool) {
	cfg, ok := m.configs.AutoMod(ctx, msg.GuildID)
	if !ok {
		return Match{}, false
	}
	match, ok := Evaluate(cfg.Rules, msg)
	if !ok {
		return Match{}, false
	}

	metrics.AutoModMatches.WithLabelValues(string(match.Rule.Action)).Inc()
	m.execute(ctx, msg, match)
	m.audit.Log(ctx, audit.LevelWarn, msg.GuildID, msg.AuthorID, "automod",
		fmt.Sprintf("rule=%s action=%s channel=%s", match.Rule.Name, match.Rule.Action, msg.ChannelID))
	m.sendLog(ctx, cfg, msg, match)
	return match, true
}

func (m *Module) execute(ctx context.Context, msg Message, match Match) {
	switch match.Rule.Action {
	case guildcfg.AutoModDelete:
		if err := m.messages.DeleteMessage(ctx, msg.ChannelID, msg.MessageID); err != nil {
			m.logger.Warn("automod delete failed",
				zap.String("guild_id", msg.GuildID),
				zap.String("channel_id", msg.ChannelID),
				zap.String("message_id", msg.MessageID),
				zap.Error(err),
			)
		}
	case guildcfg.AutoModWarn:
		warning := &discordgo.MessageSend{
			Content: fmt.Sprintf("<@%s>, your message broke the rule **%s**.", msg.AuthorID, ruleName(match.Rule)),
			AllowedMentions: &discordgo.MessageAllowedMentions{
				Users: []string{msg.AuthorID},
			},
		}
		if msg.MessageID != "" {
			warning.Reference = &discordgo.MessageReference{MessageID: msg.MessageID, ChannelID: msg.ChannelID, GuildID: msg.GuildID}
		}
		if err := m.messages.SendMessage(ctx, msg.ChannelID, warning); err != nil {
			m.logger.Warn("automod warning failed",
				zap.String("guild_id", msg.GuildID),
				zap.String("channel_id", msg.ChannelID),
				zap.Error(err),
			)
		}
	}
}

func (m *Module) sendLog(ctx context.Context, cfg guildcfg.AutoMod, msg Message, match Match) {
	channelID := cfg.LogChannelID
	if channelID == "" {
		channelID = msg.ChannelID
	}
	embed := &discordgo.MessageEmbed{
		Title: "AutoMod rule triggered",
		Color: m.colors.Action,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Rule", Value: ruleName(match.Rule), Inline: true},
			{Name: "Action", Value: string(match.Rule.Action), Inline: true},
			{Name: "User", Value: "<@" + msg.AuthorID + ">", Inline: true},
			{Name: "Channel", Value: "<#" + msg.ChannelID + ">", Inline: true},
			{Name: "Keyword", Value: match.Keyword, Inline: true},
		},
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if err := m.messages.SendMessage(ctx, channelID, &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}}); err != nil {
		m.logger.Warn("automod log failed",
			zap.String("guild_id", msg.GuildID),
			zap.String("channel_id", channelID),
			zap.Error(err),
		)
	}
}

func ruleName(rule guildcfg.AutoModRule) string {
	if rule.Name == "" {
		return "unnamed"
	}
	return rule.Name
}
