package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sentinel-policy/internal/guildcfg"
	"sentinel-policy/internal/modules/antibot"
	"sentinel-policy/internal/modules/audit"
	"sentinel-policy/internal/modules/lock"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const leaderboardSize = 10

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.GuildID == "" || interaction.Member == nil || interaction.Member.User == nil {
		return
	}

	ctx := context.Background()
	switch interaction.Type {
	case discordgo.InteractionApplicationCommand:
		data := interaction.ApplicationCommandData()
		options := optionMap(data.Options)
		switch data.Name {
		case "lock":
			b.handleLockCommand(ctx, session, interaction, options)
		case "unlock":
			b.handleUnlockCommand(ctx, session, interaction)
		case "locks":
			b.handleLocksCommand(ctx, session, interaction)
		case "rank":
			b.handleRankCommand(ctx, session, interaction, options)
		case "leaderboard":
			b.handleLeaderboardCommand(ctx, session, interaction)
		case "modstats":
			b.handleModStatsCommand(ctx, session, interaction)
		case "module":
			b.handleModuleCommand(ctx, session, interaction, data.Options)
		}
	case discordgo.InteractionMessageComponent:
		b.handleComponent(ctx, session, interaction)
	}
}

func (b *Bot) handleLockCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	reason := "manual lock"
	if opt, ok := options["reason"]; ok {
		if value := strings.TrimSpace(opt.StringValue()); value != "" {
			reason = value
		}
	}
	var exempt []string
	if opt, ok := options["exempt_role"]; ok {
		exempt = append(exempt, opt.RoleValue(nil, interaction.GuildID).ID)
	}

	if err := b.deferResponse(session, interaction, true); err != nil {
		b.logger.Warn("defer lock response failed", zap.Error(err))
		return
	}
	err := b.locks.Lock(ctx, interaction.GuildID, interaction.ChannelID, exempt, interaction.Member.User.ID, reason)
	b.followUp(session, interaction, b.lockResult(interaction, "Channel locked.", err))
}

func (b *Bot) handleUnlockCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if err := b.deferResponse(session, interaction, true); err != nil {
		b.logger.Warn("defer unlock response failed", zap.Error(err))
		return
	}
	err := b.locks.Unlock(ctx, interaction.GuildID, interaction.ChannelID, interaction.Member.User.ID)
	b.followUp(session, interaction, b.lockResult(interaction, "Channel unlocked.", err))
}

func (b *Bot) lockResult(interaction *discordgo.InteractionCreate, success string, err error) string {
	switch {
	case err == nil:
		return success
	case errors.Is(err, lock.ErrAlreadyLocked):
		return "This channel is already locked."
	case errors.Is(err, lock.ErrNotLocked):
		return "This channel is not locked."
	case errors.Is(err, lock.ErrDisabled):
		return "The lock module is disabled for this server."
	default:
		b.logger.Warn("channel permission update failed",
			zap.String("guild_id", interaction.GuildID),
			zap.String("channel_id", interaction.ChannelID),
			zap.Error(err),
		)
		return "Could not update channel permissions. Check that the bot can manage this channel."
	}
}

func (b *Bot) handleLocksCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	records, err := b.locks.Locked(ctx, interaction.GuildID)
	if err != nil {
		b.logger.Warn("list locks failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.respond(session, interaction, "Could not load locked channels.", true)
		return
	}
	if len(records) == 0 {
		b.respond(session, interaction, "No channels are locked.", true)
		return
	}
	lines := make([]string, 0, len(records))
	for _, rec := range records {
		line := fmt.Sprintf("<#%s> by <@%s> <t:%d:R>", rec.ChannelID, rec.LockedBy, rec.CreatedAt.Unix())
		if rec.Reason != "" {
			line += " - " + rec.Reason
		}
		lines = append(lines, line)
	}
	b.respondEmbed(session, interaction, &discordgo.MessageEmbed{
		Title:       "Locked channels",
		Description: strings.Join(lines, "\n"),
		Color:       b.cfg.Notifications.EmbedColors.Warning,
	}, true)
}

func (b *Bot) handleRankCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	userID := interaction.Member.User.ID
	if opt, ok := options["user"]; ok {
		userID = opt.UserValue(nil).ID
	}
	standing, err := b.leveling.Rank(ctx, interaction.GuildID, userID)
	if err != nil {
		b.logger.Warn("rank lookup failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.respond(session, interaction, "Could not load rank.", true)
		return
	}
	b.respondEmbed(session, interaction, b.leveling.RankEmbed(standing), false)
}

func (b *Bot) handleLeaderboardCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	top, err := b.leveling.Leaderboard(ctx, interaction.GuildID, leaderboardSize)
	if err != nil {
		b.logger.Warn("leaderboard failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.respond(session, interaction, "Could not load leaderboard.", true)
		return
	}
	if len(top) == 0 {
		b.respond(session, interaction, "Nobody has earned XP yet.", true)
		return
	}
	lines := make([]string, 0, len(top))
	for _, standing := range top {
		lines = append(lines, fmt.Sprintf("**#%d** <@%s> level %d (%d XP)", standing.Rank, standing.UserID, standing.Level, standing.XP))
	}
	b.respondEmbed(session, interaction, &discordgo.MessageEmbed{
		Title:       "Leaderboard",
		Description: strings.Join(lines, "\n"),
		Color:       b.cfg.Notifications.EmbedColors.Action,
	}, false)
}

func (b *Bot) handleModStatsCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	report, err := b.analytics.Report(ctx, interaction.GuildID, time.Now().Add(-24*time.Hour))
	if err != nil {
		b.logger.Warn("moderation report failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.respond(session, interaction, "Could not build the report.", true)
		return
	}
	embed := report.Embed(b.cfg.Notifications.EmbedColors.Action)
	if b.playbook != nil {
		if state := b.playbook.State(interaction.GuildID); state.Active {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
				Name:  "Raid response",
				Value: fmt.Sprintf("%s since <t:%d:R>, %d repeat alerts suppressed", state.Action, state.Since.Unix(), state.Suppressed),
			})
		}
	}
	b.respondEmbed(session, interaction, embed, true)
}

func (b *Bot) handleModuleCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 {
		return
	}
	sub := options[0]
	args := optionMap(sub.Options)
	name := ""
	if opt, ok := args["name"]; ok {
		name = opt.StringValue()
	}

	switch sub.Name {
	case "show":
		raw, ok, err := b.configs.Raw(ctx, interaction.GuildID, name)
		if err != nil {
			b.respond(session, interaction, "Could not load config: "+err.Error(), true)
			return
		}
		if !ok {
			b.respond(session, interaction, fmt.Sprintf("`%s` is not configured and is disabled.", name), true)
			return
		}
		b.respond(session, interaction, fmt.Sprintf("`%s`\n```json\n%s\n```", name, raw), true)
	case "set":
		raw := ""
		if opt, ok := args["config"]; ok {
			raw = opt.StringValue()
		}
		if err := b.configs.SetJSON(ctx, interaction.GuildID, name, []byte(raw)); err != nil {
			if !errors.Is(err, guildcfg.ErrUnknownModule) {
				b.logger.Info("module config rejected", zap.String("guild_id", interaction.GuildID), zap.String("module", name), zap.Error(err))
			}
			b.respond(session, interaction, "Config rejected: "+err.Error(), true)
			return
		}
		b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, interaction.Member.User.ID, "module_config", "module="+name)
		b.respond(session, interaction, fmt.Sprintf("`%s` config saved.", name), true)
	}
}

func (b *Bot) handleComponent(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	data := interaction.MessageComponentData()
	botID, approved, ok := antibot.ParseApprovalID(data.CustomID)
	if !ok {
		return
	}
	perms := interaction.Member.Permissions
	if perms&(discordgo.PermissionManageServer|discordgo.PermissionAdministrator) == 0 {
		b.respond(session, interaction, "You need the Manage Server permission to answer bot approvals.", true)
		return
	}

	handler := b.approvalHandler()
	if handler == nil {
		b.respond(session, interaction, "Bot approvals are handled outside this bot.", true)
		return
	}
	moderatorID := interaction.Member.User.ID
	if err := handler.Resolve(ctx, interaction.GuildID, botID, moderatorID, approved); err != nil {
		b.logger.Warn("bot approval failed",
			zap.String("guild_id", interaction.GuildID),
			zap.String("bot_id", botID),
			zap.Error(err),
		)
		b.respond(session, interaction, "Could not apply the decision.", true)
		return
	}

	verdict := "denied"
	if approved {
		verdict = "approved"
	}
	b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, moderatorID, "antibot_approval", fmt.Sprintf("bot=%s verdict=%s", botID, verdict))
	b.respond(session, interaction, fmt.Sprintf("<@%s> %s.", botID, verdict), false)
}

func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	out := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(options))
	for _, opt := range options {
		out[opt.Name] = opt
	}
	return out
}
