package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sentinel-policy/internal/metrics"
	"sentinel-policy/internal/modules/antibot"
	"sentinel-policy/internal/modules/antiraid"
	"sentinel-policy/internal/modules/automod"
	"sentinel-policy/internal/modules/leveling"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type RaidDetector interface {
	OnJoin(ctx context.Context, guildID, userID string, now time.Time) antiraid.Decision
}

type BotGate interface {
	OnBotJoin(ctx context.Context, guildID, botID string) antibot.Outcome
}

type MessageModerator interface {
	HandleMessage(ctx context.Context, msg automod.Message) (automod.Match, bool)
}

type XPEngine interface {
	OnMessage(ctx context.Context, msg leveling.Message) (leveling.Grant, error)
}

// Dispatcher routes gateway events to the policy modules. A failure or panic
// in one module never prevents the others from seeing the same event.
type Dispatcher struct {
	raids    RaidDetector
	bots     BotGate
	automod  MessageModerator
	leveling XPEngine
	logger   *zap.Logger
	now      func() time.Time
	wg       sync.WaitGroup
}

func NewDispatcher(raids RaidDetector, bots BotGate, moderator MessageModerator, xp XPEngine, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		raids:    raids,
		bots:     bots,
		automod:  moderator,
		leveling: xp,
		logger:   logger,
		now:      time.Now,
	}
}

// MemberJoined feeds every join to the raid detector and bot joins to the bot
// gate. Bots count toward raid detection like any other member.
func (d *Dispatcher) MemberJoined(ctx context.Context, guildID string, user *discordgo.User) {
	if guildID == "" || user == nil {
		return
	}
	now := d.now()
	d.safely("antiraid", func() {
		if d.raids != nil {
			d.raids.OnJoin(ctx, guildID, user.ID, now)
		}
	})
	if !user.Bot {
		return
	}
	d.safely("antibot", func() {
		if d.bots != nil {
			d.bots.OnBotJoin(ctx, guildID, user.ID)
		}
	})
}

// MessageCreated runs rule evaluation and XP accounting concurrently for a
// guild message. Direct messages and bot authors are ignored.
func (d *Dispatcher) MessageCreated(ctx context.Context, msg *discordgo.Message) {
	if msg == nil || msg.GuildID == "" || msg.Author == nil || msg.Author.Bot {
		return
	}
	var roles []string
	if msg.Member != nil {
		roles = msg.Member.Roles
	}

	if d.automod != nil {
		d.goSafely("automod", func() {
			d.automod.HandleMessage(ctx, automod.Message{
				GuildID:       msg.GuildID,
				ChannelID:     msg.ChannelID,
				MessageID:     msg.ID,
				AuthorID:      msg.Author.ID,
				AuthorRoleIDs: roles,
				Content:       msg.Content,
			})
		})
	}
	if d.leveling != nil {
		d.goSafely("leveling", func() {
			if _, err := d.leveling.OnMessage(ctx, leveling.Message{
				GuildID:       msg.GuildID,
				ChannelID:     msg.ChannelID,
				AuthorID:      msg.Author.ID,
				AuthorRoleIDs: roles,
			}); err != nil {
				d.logger.Warn("message xp failed",
					zap.String("guild_id", msg.GuildID),
					zap.String("user_id", msg.Author.ID),
					zap.Error(err),
				)
			}
		})
	}
}

// Wait blocks until every handler started by MessageCreated has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) goSafely(name string, fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.safely(name, fn)
	}()
}

func (d *Dispatcher) safely(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerPanics.WithLabelValues(name).Inc()
			d.logger.Error("handler panic",
				zap.String("handler", name),
				zap.String("panic", fmt.Sprint(r)),
				zap.Stack("stack"),
			)
		}
	}()
	fn()
}
