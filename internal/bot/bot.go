package bot

import (
	"context"
	"sync"
	"time"

	"sentinel-policy/internal/analytics"
	"sentinel-policy/internal/config"
	"sentinel-policy/internal/cooldown"
	"sentinel-policy/internal/guildcfg"
	"sentinel-policy/internal/modules/antibot"
	"sentinel-policy/internal/modules/antiraid"
	"sentinel-policy/internal/modules/audit"
	"sentinel-policy/internal/modules/automod"
	"sentinel-policy/internal/modules/leveling"
	"sentinel-policy/internal/modules/lock"
	"sentinel-policy/internal/platform"
	"sentinel-policy/internal/playbook"
	"sentinel-policy/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Bot struct {
	cfg       config.Config
	logger    *zap.Logger
	store     *storage.Store
	session   *discordgo.Session
	platform  *platform.Discord
	audit     *audit.Logger
	configs   *guildcfg.Resolver
	playbook  *playbook.Engine
	analytics *analytics.Service
	antiraid  *antiraid.Module
	antibot   *antibot.Module
	locks     *lock.Manager
	automod   *automod.Module
	leveling  *leveling.Engine
	dispatch  *Dispatcher

	approvalsMu sync.RWMutex
	approvals   antibot.ApprovalHandler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, cooldowns cooldown.Table, auditLogger *audit.Logger, playbookEngine *playbook.Engine, analyticsEngine *analytics.Service) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildVoiceStates

	colors := cfg.Notifications.EmbedColors
	adapter := platform.NewDiscord(session, cfg.Platform.RequestsPerSecond, cfg.Platform.Burst, logger)
	resolver := guildcfg.NewResolver(store, logger)

	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		session:   session,
		platform:  adapter,
		audit:     auditLogger,
		configs:   resolver,
		playbook:  playbookEngine,
		analytics: analyticsEngine,
	}

	b.antiraid = antiraid.New(resolver, adapter, auditLogger, logger, colors)
	if playbookEngine != nil {
		b.antiraid.SetResponder(playbookEngine)
	}
	b.antibot = antibot.New(resolver, adapter, auditLogger, logger, colors)
	b.locks = lock.New(resolver, store, adapter, auditLogger, logger, colors)
	b.automod = automod.New(resolver, adapter, auditLogger, logger, colors)
	b.leveling = leveling.New(cfg.Leveling, resolver, store, adapter, cooldowns, logger, colors)
	b.dispatch = NewDispatcher(b.antiraid, b.antibot, b.automod, b.leveling, logger)

	return b, nil
}

// SetApprovalHandler installs the component that acts on moderator answers to
// bot approval requests. Without one, approval buttons only acknowledge.
func (b *Bot) SetApprovalHandler(handler antibot.ApprovalHandler) {
	b.approvalsMu.Lock()
	defer b.approvalsMu.Unlock()
	b.approvals = handler
}

func (b *Bot) approvalHandler() antibot.ApprovalHandler {
	b.approvalsMu.RLock()
	defer b.approvalsMu.RUnlock()
	return b.approvals
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	if err := b.registerCommands(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.leveling.Run(ctx)
	}()
	b.startAuditRetention(ctx)

	return nil
}

func (b *Bot) Close(ctx context.Context) {
	if b.cancel != nil {
		b.cancel()
	}
	if b.session != nil {
		_ = b.session.Close()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		b.dispatch.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("shutdown timed out waiting for handlers")
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready",
		zap.String("user", session.State.User.Username),
		zap.Int("guilds", len(event.Guilds)),
	)
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.Member == nil {
		return
	}
	b.dispatch.MemberJoined(context.Background(), event.GuildID, event.User)
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Message == nil {
		return
	}
	b.dispatch.MessageCreated(context.Background(), msg.Message)
}

func (b *Bot) startAuditRetention(ctx context.Context) {
	if b.cfg.AuditRetentionDays <= 0 {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			if err := b.store.CleanupAuditLogs(ctx, b.cfg.AuditRetentionDays); err != nil && ctx.Err() == nil {
				b.logger.Warn("audit retention cleanup failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	if embed == nil {
		b.respond(session, interaction, "No response available.", ephemeral)
		return
	}
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
}

// deferResponse acknowledges an interaction whose work may outlive the
// three-second response deadline; followUp fills in the answer later.
func (b *Bot) deferResponse(session *discordgo.Session, interaction *discordgo.InteractionCreate, ephemeral bool) error {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	return session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: flags},
	})
}

func (b *Bot) followUp(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string) {
	if _, err := session.InteractionResponseEdit(interaction.Interaction, &discordgo.WebhookEdit{Content: &content}); err != nil {
		b.logger.Warn("interaction follow-up failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
	}
}
