package platform

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

type OverwriteKind int

const (
	OverwriteRole   OverwriteKind = 0
	OverwriteMember OverwriteKind = 1
)

// Overwrite is one per-principal allow/deny pair on a channel.
type Overwrite struct {
	ID    string
	Kind  OverwriteKind
	Allow int64
	Deny  int64
}

type VoiceMember struct {
	GuildID   string
	UserID    string
	ChannelID string
	RoleIDs   []string
	Bot       bool
	Deafened  bool
}

type Members interface {
	KickMember(ctx context.Context, guildID, userID, reason string) error
	AssignRole(ctx context.Context, guildID, userID, roleID string) error
}

type Messages interface {
	SendMessage(ctx context.Context, channelID string, msg *discordgo.MessageSend) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

type Channels interface {
	ChannelOverwrites(ctx context.Context, channelID string) ([]Overwrite, error)
	SetChannelOverwrites(ctx context.Context, channelID string, overwrites []Overwrite, reason string) error
}

type AuditLog interface {
	// AuditLogExecutor returns who performed the most recent action of the
	// given type against targetID. ok is false when no entry matched.
	AuditLogExecutor(ctx context.Context, guildID string, action discordgo.AuditLogAction, targetID string) (executorID string, ok bool, err error)
}

type Voice interface {
	VoiceGuilds() []string
	VoiceMembers(ctx context.Context, guildID string) ([]VoiceMember, error)
}
