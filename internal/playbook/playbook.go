package playbook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sentinel-policy/internal/guildcfg"
	"sentinel-policy/internal/modules/audit"

	"go.uber.org/zap"
)

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

type realTimer struct{ t *time.Timer }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

func (t realTimer) Stop() bool { return t.t.Stop() }

type Config struct {
	ResponseMinutes int
}

// State is the raid response currently active for a guild.
type State struct {
	Active     bool
	Action     guildcfg.RaidAction
	Since      time.Time
	Suppressed int
}

// Engine records raid responses per guild. While a response is active,
// further raid declarations for that guild are logged and suppressed. It
// does not change anything on the platform itself.
type Engine struct {
	mu     sync.RWMutex
	cfg    Config
	clock  Clock
	audit  *audit.Logger
	logger *zap.Logger
	states map[string]*guildState
}

type guildState struct {
	State
	generation int
}

func New(cfg Config, auditLogger *audit.Logger, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:    cfg,
		clock:  realClock{},
		audit:  auditLogger,
		logger: logger,
		states: make(map[string]*guildState),
	}
}

func (e *Engine) WithClock(clock Clock) {
	e.clock = clock
}

func (e *Engine) Respond(ctx context.Context, guildID string, action guildcfg.RaidAction, triggeringUserID string) {
	e.mu.Lock()
	state := e.stateLocked(guildID)
	if state.Active {
		state.Suppressed++
		e.mu.Unlock()
		e.audit.Log(ctx, audit.LevelInfo, guildID, triggeringUserID, "raid_response", fmt.Sprintf("action=%s suppressed=true", action))
		return
	}

	state.Active = true
	state.Action = action
	state.Since = e.clock.Now()
	state.Suppressed = 0
	state.generation++
	generation := state.generation
	e.mu.Unlock()

	e.logger.Info("raid response requested",
		zap.String("guild_id", guildID),
		zap.String("action", string(action)),
		zap.String("user_id", triggeringUserID),
	)
	e.audit.Log(ctx, audit.LevelWarn, guildID, triggeringUserID, "raid_response", fmt.Sprintf("action=%s", action))
	e.scheduleExit(ctx, guildID, generation)
}

func (e *Engine) State(guildID string) State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	state := e.states[guildID]
	if state == nil {
		return State{}
	}
	return state.State
}

func (e *Engine) scheduleExit(ctx context.Context, guildID string, generation int) {
	duration := time.Duration(e.cfg.ResponseMinutes) * time.Minute
	if duration <= 0 {
		duration = 10 * time.Minute
	}

	e.clock.AfterFunc(duration, func() {
		e.mu.Lock()
		state := e.stateLocked(guildID)
		if state.generation != generation || !state.Active {
			e.mu.Unlock()
			return
		}
		suppressed := state.Suppressed
		state.State = State{}
		e.mu.Unlock()
		e.audit.Log(ctx, audit.LevelInfo, guildID, "", "raid_response", fmt.Sprintf("ended suppressed=%d", suppressed))
	})
}

func (e *Engine) stateLocked(guildID string) *guildState {
	state := e.states[guildID]
	if state == nil {
		state = &guildState{}
		e.states[guildID] = state
	}
	return state
}
