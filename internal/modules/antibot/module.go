package antibot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sentinel-policy/internal/config"
	"sentinel-policy/internal/guildcfg"
	"sentinel-policy/internal/metrics"
	"sentinel-policy/internal/modules/audit"
	"sentinel-policy/internal/platform"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Outcome string

const (
	OutcomeIgnored           Outcome = "ignored"
	OutcomeExempt            Outcome = "exempt"
	OutcomeKicked            Outcome = "kicked"
	OutcomeKickFailed        Outcome = "kick_failed"
	OutcomeApprovalRequested Outcome = "approval_requested"
	OutcomeApprovalFailed    Outcome = "approval_failed"
	OutcomeMisconfigured     Outcome = "misconfigured"
)

const (
	approvePrefix  = "antibot:approve:"
	denyPrefix     = "antibot:deny:"
	unknownInviter = "unknown"
)

type ConfigSource interface {
	AntiBot(ctx context.Context, guildID string) (guildcfg.AntiBot, bool)
}

type Platform interface {
	platform.Members
	platform.Messages
	platform.AuditLog
}

// ApprovalHandler resolves a moderator's answer to an approval request.
type ApprovalHandler interface {
	Resolve(ctx context.Context, guildID, botID, moderatorID string, approved bool) error
}

type Module struct {
	configs  ConfigSource
	platform Platform
	audit    *audit.Logger
	logger   *zap.Logger
	colors   config.EmbedColors
}

func New(configs ConfigSource, p Platform, auditLogger *audit.Logger, logger *zap.Logger, colors config.EmbedColors) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Module{configs: configs, platform: p, audit: auditLogger, logger: logger, colors: colors}
}

// OnBotJoin applies the guild's bot policy to a bot account that just joined.
// Whitelisted bots are exempt in every mode.
func (m *Module) OnBotJoin(ctx context.Context, guildID, botID string) Outcome {
	outcome := m.evaluate(ctx, guildID, botID)
	metrics.BotGateDecisions.WithLabelValues(string(outcome)).Inc()
	return outcome
}

func (m *Module) evaluate(ctx context.Context, guildID, botID string) Outcome {
	cfg, ok := m.configs.AntiBot(ctx, guildID)
	if !ok {
		return OutcomeIgnored
	}
	if cfg.Whitelisted(botID) {
		return OutcomeExempt
	}

	switch cfg.Mode {
	case guildcfg.AntiBotAutoBlock, guildcfg.AntiBotWhitelistOnly:
		return m.kick(ctx, guildID, botID, cfg.Mode)
	case guildcfg.AntiBotApprovalRequired:
		return m.requestApproval(ctx, guildID, botID, cfg)
	default:
		return OutcomeIgnored
	}
}

func (m *Module) kick(ctx context.Context, guildID, botID string, mode guildcfg.AntiBotMode) Outcome {
	reason := fmt.Sprintf("anti-bot: %s", mode)
	if err := m.platform.KickMember(ctx, guildID, botID, reason); err != nil {
		m.logger.Warn("bot kick failed",
			zap.String("guild_id", guildID),
			zap.String("bot_id", botID),
			zap.Error(err),
		)
		m.audit.Log(ctx, audit.LevelWarn, guildID, botID, "action_failed", fmt.Sprintf("type=BOT_KICK mode=%s", mode))
		return OutcomeKickFailed
	}
	m.audit.Log(ctx, audit.LevelWarn, guildID, botID, "anti_bot_kick", fmt.Sprintf("mode=%s", mode))
	return OutcomeKicked
}

func (m *Module) requestApproval(ctx context.Context, guildID, botID string, cfg guildcfg.AntiBot) Outcome {
	if cfg.ApprovalChannelID == "" {
		m.logger.Warn("approval channel not configured",
			zap.String("guild_id", guildID),
			zap.String("bot_id", botID),
		)
		return OutcomeMisconfigured
	}

	inviter := m.inviter(ctx, guildID, botID)
	inviterLabel := inviter
	if inviter != unknownInviter {
		inviterLabel = "<@" + inviter + ">"
	}

	msg := &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       "Bot approval required",
			Description: fmt.Sprintf("<@%s> joined the server and is waiting for approval.", botID),
			Color:       m.colors.Action,
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Bot", Value: botID, Inline: true},
				{Name: "Invited by", Value: inviterLabel, Inline: true},
			},
			Timestamp: time.Now().Format(time.RFC3339),
		}},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "Approve", Style: discordgo.SuccessButton, CustomID: approvePrefix + botID},
				discordgo.Button{Label: "Deny & kick", Style: discordgo.DangerButton, CustomID: denyPrefix + botID},
			}},
		},
	}
	if err := m.platform.SendMessage(ctx, cfg.ApprovalChannelID, msg); err != nil {
		m.logger.Warn("approval request failed",
			zap.String("guild_id", guildID),
			zap.String("bot_id", botID),
			zap.Error(err),
		)
		return OutcomeApprovalFailed
	}
	m.audit.Log(ctx, audit.LevelInfo, guildID, botID, "anti_bot_approval", fmt.Sprintf("inviter=%s", inviter))
	return OutcomeApprovalRequested
}

func (m *Module) inviter(ctx context.Context, guildID, botID string) string {
	executor, ok, err := m.platform.AuditLogExecutor(ctx, guildID, discordgo.AuditLogActionBotAdd, botID)
	if err != nil {
		m.logger.Warn("inviter lookup failed",
			zap.String("guild_id", guildID),
			zap.String("bot_id", botID),
			zap.Error(err),
		)
		return unknownInviter
	}
	if !ok || executor == "" {
		return unknownInviter
	}
	return executor
}

// ParseApprovalID decodes the custom ID of an approval button.
func ParseApprovalID(customID string) (botID string, approved bool, ok bool) {
	switch {
	case strings.HasPrefix(customID, approvePrefix):
		botID = strings.TrimPrefix(customID, approvePrefix)
		approved = true
	case strings.HasPrefix(customID, denyPrefix):
		botID = strings.TrimPrefix(customID, denyPrefix)
	default:
		return "", false, false
	}
	return botID, approved, botID != ""
}
