package platformtest

import (
	"context"
	"errors"
	"sync"

	"sentinel-policy/internal/platform"

	"github.com/bwmarrin/discordgo"
)

var ErrForbidden = errors.New("403 Forbidden: Missing Permissions")

type Sent struct {
	ChannelID string
	Message   *discordgo.MessageSend
}

type Kick struct {
	GuildID string
	UserID  string
	Reason  string
}

type RoleGrant struct {
	GuildID string
	UserID  string
	RoleID  string
}

// Fake is an in-memory platform that records every outbound call.
type Fake struct {
	mu sync.Mutex

	Overwrites map[string][]platform.Overwrite
	Voice      map[string][]platform.VoiceMember
	Executors  map[string]string

	SentMessages []Sent
	Kicks        []Kick
	Roles        []RoleGrant
	Deleted      []string
	SetCalls     int

	KickErr   error
	SendErr   error
	DeleteErr error
	SetErr    error
	GetErr    error
	AuditErr  error
	AssignErr error
	VoiceErr  map[string]error
}

func New() *Fake {
	return &Fake{
		Overwrites: make(map[string][]platform.Overwrite),
		Voice:      make(map[string][]platform.VoiceMember),
		Executors:  make(map[string]string),
		VoiceErr:   make(map[string]error),
	}
}

func (f *Fake) KickMember(ctx context.Context, guildID, userID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.KickErr != nil {
		return f.KickErr
	}
	f.Kicks = append(f.Kicks, Kick{GuildID: guildID, UserID: userID, Reason: reason})
	return nil
}

func (f *Fake) AssignRole(ctx context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AssignErr != nil {
		return f.AssignErr
	}
	f.Roles = append(f.Roles, RoleGrant{GuildID: guildID, UserID: userID, RoleID: roleID})
	return nil
}

func (f *Fake) SendMessage(ctx context.Context, channelID string, msg *discordgo.MessageSend) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	f.SentMessages = append(f.SentMessages, Sent{ChannelID: channelID, Message: msg})
	return nil
}

func (f *Fake) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	f.Deleted = append(f.Deleted, messageID)
	return nil
}

func (f *Fake) ChannelOverwrites(ctx context.Context, channelID string) ([]platform.Overwrite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	return append([]platform.Overwrite(nil), f.Overwrites[channelID]...), nil
}

func (f *Fake) SetChannelOverwrites(ctx context.Context, channelID string, overwrites []platform.Overwrite, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetErr != nil {
		return f.SetErr
	}
	f.SetCalls++
	f.Overwrites[channelID] = append([]platform.Overwrite(nil), overwrites...)
	return nil
}

func (f *Fake) AuditLogExecutor(ctx context.Context, guildID string, action discordgo.AuditLogAction, targetID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AuditErr != nil {
		return "", false, f.AuditErr
	}
	executor, ok := f.Executors[targetID]
	return executor, ok, nil
}

func (f *Fake) VoiceGuilds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.Voice))
	for id := range f.Voice {
		ids = append(ids, id)
	}
	return ids
}

func (f *Fake) VoiceMembers(ctx context.Context, guildID string) ([]platform.VoiceMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.VoiceErr[guildID]; err != nil {
		return nil, err
	}
	return append([]platform.VoiceMember(nil), f.Voice[guildID]...), nil
}

func (f *Fake) Messages() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.SentMessages...)
}

func (f *Fake) ChannelState(channelID string) []platform.Overwrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.Overwrite(nil), f.Overwrites[channelID]...)
}

func (f *Fake) SetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.SetCalls
}

func (f *Fake) KickList() []Kick {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Kick(nil), f.Kicks...)
}

func (f *Fake) RoleList() []RoleGrant {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RoleGrant(nil), f.Roles...)
}

var (
	_ platform.Members  = (*Fake)(nil)
	_ platform.Messages = (*Fake)(nil)
	_ platform.Channels = (*Fake)(nil)
	_ platform.AuditLog = (*Fake)(nil)
	_ platform.Voice    = (*Fake)(nil)
)
