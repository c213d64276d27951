package bot

import (
	"sentinel-policy/internal/guildcfg"

	"github.com/bwmarrin/discordgo"
)

func commandDefinitions() []*discordgo.ApplicationCommand {
	manageChannels := int64(discordgo.PermissionManageChannels)
	manageGuild := int64(discordgo.PermissionManageServer)
	dmPermission := false

	moduleChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(guildcfg.Modules))
	for _, name := range guildcfg.Modules {
		moduleChoices = append(moduleChoices, &discordgo.ApplicationCommandOptionChoice{Name: name, Value: name})
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:                     "lock",
			Description:              "Stop members from posting in this channel",
			DefaultMemberPermissions: &manageChannels,
			DMPermission:             &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "reason",
					Description: "Why the channel is being locked",
				},
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "exempt_role",
					Description: "Role that may keep posting",
				},
			},
		},
		{
			Name:                     "unlock",
			Description:              "Restore this channel's permissions from before the lock",
			DefaultMemberPermissions: &manageChannels,
			DMPermission:             &dmPermission,
		},
		{
			Name:                     "locks",
			Description:              "List locked channels",
			DefaultMemberPermissions: &manageChannels,
			DMPermission:             &dmPermission,
		},
		{
			Name:         "rank",
			Description:  "Show level and XP",
			DMPermission: &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "Member to look up",
				},
			},
		},
		{
			Name:         "leaderboard",
			Description:  "Show the top members by XP",
			DMPermission: &dmPermission,
		},
		{
			Name:                     "modstats",
			Description:              "Moderation activity over the last 24 hours",
			DefaultMemberPermissions: &manageGuild,
			DMPermission:             &dmPermission,
		},
		{
			Name:                     "module",
			Description:              "Show or change module configuration",
			DefaultMemberPermissions: &manageGuild,
			DMPermission:             &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "show",
					Description: "Show a module's stored config",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "name",
							Description: "Module",
							Required:    true,
							Choices:     moduleChoices,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "set",
					Description: "Replace a module's config with a JSON document",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "name",
							Description: "Module",
							Required:    true,
							Choices:     moduleChoices,
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "config",
							Description: "JSON config, e.g. {\"enabled\":true}",
							Required:    true,
						},
					},
				},
			},
		},
	}
}

func (b *Bot) registerCommands() error {
	commands := commandDefinitions()

	appID := b.session.State.User.ID
	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		for _, cmd := range commands {
			if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
				return err
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand)
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{})
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		_ = b.session.ApplicationCommandDelete(appID, "", cmd.ID)
	}
	return nil
}
