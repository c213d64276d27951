package platform

import (
	"context"
	"errors"

	"sentinel-policy/internal/metrics"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Discord adapts a gateway session to the platform interfaces. Every REST
// call waits on a shared limiter first.
type Discord struct {
	session *discordgo.Session
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewDiscord(session *discordgo.Session, requestsPerSecond float64, burst int, logger *zap.Logger) *Discord {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Discord{
		session: session,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

func (d *Discord) KickMember(ctx context.Context, guildID, userID, reason string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	err := d.session.GuildMemberDeleteWithReason(guildID, userID, reason, discordgo.WithContext(ctx))
	return observe("kick_member", err)
}

func (d *Discord) AssignRole(ctx context.Context, guildID, userID, roleID string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	err := d.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx))
	return observe("assign_role", err)
}

func (d *Discord) SendMessage(ctx context.Context, channelID string, msg *discordgo.MessageSend) error {
	if channelID == "" {
		return errors.New("no channel")
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := d.session.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx))
	return observe("send_message", err)
}

func (d *Discord) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	err := d.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
	return observe("delete_message", err)
}

func (d *Discord) ChannelOverwrites(ctx context.Context, channelID string) ([]Overwrite, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	channel, err := d.session.Channel(channelID, discordgo.WithContext(ctx))
	if err := observe("get_channel", err); err != nil {
		return nil, err
	}
	overwrites := make([]Overwrite, 0, len(channel.PermissionOverwrites))
	for _, ow := range channel.PermissionOverwrites {
		if ow == nil {
			continue
		}
		overwrites = append(overwrites, Overwrite{
			ID:    ow.ID,
			Kind:  OverwriteKind(ow.Type),
			Allow: ow.Allow,
			Deny:  ow.Deny,
		})
	}
	return overwrites, nil
}

// SetChannelOverwrites replaces the channel's whole overwrite set in one PATCH.
func (d *Discord) SetChannelOverwrites(ctx context.Context, channelID string, overwrites []Overwrite, reason string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	payload := make([]*discordgo.PermissionOverwrite, 0, len(overwrites))
	for _, ow := range overwrites {
		payload = append(payload, &discordgo.PermissionOverwrite{
			ID:    ow.ID,
			Type:  discordgo.PermissionOverwriteType(ow.Kind),
			Allow: ow.Allow,
			Deny:  ow.Deny,
		})
	}
	options := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if reason != "" {
		options = append(options, discordgo.WithAuditLogReason(reason))
	}
	endpoint := discordgo.EndpointChannel(channelID)
	_, err := d.session.RequestWithBucketID("PATCH", endpoint, overwritesEdit{PermissionOverwrites: payload}, endpoint, options...)
	return observe("set_overwrites", err)
}

// discordgo.ChannelEdit drops an empty overwrite list (omitempty), which would
// make restoring a channel that had no overwrites a no-op.
type overwritesEdit struct {
	PermissionOverwrites []*discordgo.PermissionOverwrite `json:"permission_overwrites"`
}

func (d *Discord) AuditLogExecutor(ctx context.Context, guildID string, action discordgo.AuditLogAction, targetID string) (string, bool, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return "", false, err
	}
	logs, err := d.session.GuildAuditLog(guildID, "", "", int(action), 5, discordgo.WithContext(ctx))
	if err := observe("audit_log", err); err != nil {
		return "", false, err
	}
	if logs == nil {
		return "", false, nil
	}
	for _, entry := range logs.AuditLogEntries {
		if entry == nil {
			continue
		}
		if targetID != "" && entry.TargetID != targetID {
			continue
		}
		return entry.UserID, entry.UserID != "", nil
	}
	return "", false, nil
}

func (d *Discord) VoiceGuilds() []string {
	d.session.State.RLock()
	defer d.session.State.RUnlock()
	ids := make([]string, 0, len(d.session.State.Guilds))
	for _, guild := range d.session.State.Guilds {
		if guild != nil && len(guild.VoiceStates) > 0 {
			ids = append(ids, guild.ID)
		}
	}
	return ids
}

// VoiceMembers reads connected members from the gateway state cache. Members
// missing from the cache are fetched over REST; failures skip that member.
func (d *Discord) VoiceMembers(ctx context.Context, guildID string) ([]VoiceMember, error) {
	guild, err := d.session.State.Guild(guildID)
	if err != nil {
		return nil, err
	}

	d.session.State.RLock()
	states := make([]discordgo.VoiceState, 0, len(guild.VoiceStates))
	for _, vs := range guild.VoiceStates {
		if vs != nil && vs.ChannelID != "" {
			states = append(states, *vs)
		}
	}
	d.session.State.RUnlock()

	members := make([]VoiceMember, 0, len(states))
	for _, vs := range states {
		member := vs.Member
		if member == nil {
			member = d.member(ctx, guildID, vs.UserID)
		}
		if member == nil || member.User == nil {
			continue
		}
		members = append(members, VoiceMember{
			GuildID:   guildID,
			UserID:    vs.UserID,
			ChannelID: vs.ChannelID,
			RoleIDs:   append([]string(nil), member.Roles...),
			Bot:       member.User.Bot,
			Deafened:  vs.Deaf || vs.SelfDeaf,
		})
	}
	return members, nil
}

func (d *Discord) member(ctx context.Context, guildID, userID string) *discordgo.Member {
	if member, err := d.session.State.Member(guildID, userID); err == nil {
		return member
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return nil
	}
	member, err := d.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err := observe("get_member", err); err != nil {
		d.logger.Debug("voice member lookup failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	return member
}

func observe(method string, err error) error {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.PlatformCalls.WithLabelValues(method, result).Inc()
	return err
}
