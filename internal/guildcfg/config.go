package guildcfg

import "strings"

const (
	ModuleAntiRaid = "antiraid"
	ModuleAntiBot  = "antibot"
	ModuleLock     = "lock"
	ModuleLeveling = "leveling"
	ModuleAutoMod  = "automod"
)

var Modules = []string{ModuleAntiRaid, ModuleAntiBot, ModuleLock, ModuleLeveling, ModuleAutoMod}

type Base struct {
	Enabled         bool `json:"enabled"`
	PremiumRequired bool `json:"premium_required"`
}

type baseHolder interface {
	base() *Base
}

func (b *Base) base() *Base { return b }

type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
)

type RaidAction string

const (
	RaidActionLockdown RaidAction = "lockdown"
	RaidActionKick     RaidAction = "kick"
	RaidActionBan      RaidAction = "ban"
)

type AntiRaid struct {
	Base
	RaidDetectionEnabled *bool       `json:"raid_detection_enabled,omitempty"`
	Sensitivity          Sensitivity `json:"raid_sensitivity"`
	Action               RaidAction  `json:"raid_action"`
	AlertChannelID       string      `json:"alert_channel_id"`
}

// DetectionEnabled treats a missing raid_detection_enabled as on.
func (c AntiRaid) DetectionEnabled() bool {
	return c.RaidDetectionEnabled == nil || *c.RaidDetectionEnabled
}

type AntiBotMode string

const (
	AntiBotOff              AntiBotMode = "off"
	AntiBotAutoBlock        AntiBotMode = "auto-block"
	AntiBotApprovalRequired AntiBotMode = "approval-required"
	AntiBotWhitelistOnly    AntiBotMode = "whitelist-only"
)

type AntiBot struct {
	Base
	Mode              AntiBotMode `json:"mode"`
	WhitelistedBots   []string    `json:"whitelisted_bots"`
	ApprovalChannelID string      `json:"approval_channel_id"`
}

func (c AntiBot) Whitelisted(botID string) bool {
	for _, id := range c.WhitelistedBots {
		if id == botID {
			return true
		}
	}
	return false
}

type Lock struct {
	Base
	ExemptRoles []string `json:"exempt_roles"`
}

type ChannelBoost struct {
	ChannelID  string  `json:"channel_id"`
	Multiplier float64 `json:"multiplier"`
}

type RoleBoost struct {
	RoleID     string  `json:"role_id"`
	Multiplier float64 `json:"multiplier"`
}

type RoleReward struct {
	Level  int    `json:"level"`
	RoleID string `json:"role_id"`
}

type Leveling struct {
	Base
	XPPerMessage       int64          `json:"xp_per_message"`
	CooldownSeconds    int            `json:"cooldown_seconds"`
	XPPerMinuteInVoice int64          `json:"xp_per_minute_in_voice"`
	IgnoredChannels    []string       `json:"ignored_channels"`
	XPBoostChannels    []ChannelBoost `json:"xp_boost_channels"`
	XPBoostRoles       []RoleBoost    `json:"xp_boost_roles"`
	LevelUpChannelID   string         `json:"level_up_channel_id"`
	LevelUpMessage     string         `json:"level_up_message"`
	RoleRewards        []RoleReward   `json:"role_rewards"`
}

func (c Leveling) Ignored(channelID string) bool {
	for _, id := range c.IgnoredChannels {
		if id == channelID {
			return true
		}
	}
	return false
}

// ChannelMultiplier returns the factor of the first boost entry for the
// channel, or 1.
func (c Leveling) ChannelMultiplier(channelID string) float64 {
	for _, boost := range c.XPBoostChannels {
		if boost.ChannelID == channelID && boost.Multiplier > 0 {
			return boost.Multiplier
		}
	}
	return 1
}

// RoleMultiplier returns the largest boost among the member's roles, or 1.
func (c Leveling) RoleMultiplier(roleIDs []string) float64 {
	best := 1.0
	found := false
	for _, boost := range c.XPBoostRoles {
		if boost.Multiplier <= 0 {
			continue
		}
		for _, roleID := range roleIDs {
			if roleID != boost.RoleID {
				continue
			}
			if !found || boost.Multiplier > best {
				best = boost.Multiplier
				found = true
			}
		}
	}
	return best
}

type AutoModAction string

const (
	AutoModDelete AutoModAction = "delete"
	AutoModWarn   AutoModAction = "warn"
	AutoModLog    AutoModAction = "log"
)

type AutoModRule struct {
	Name           string        `json:"name"`
	Keywords       []string      `json:"keywords"`
	ExemptRoles    []string      `json:"exempt_roles"`
	ExemptChannels []string      `json:"exempt_channels"`
	Action         AutoModAction `json:"action"`
}

type AutoMod struct {
	Base
	LogChannelID string        `json:"log_channel_id"`
	Rules        []AutoModRule `json:"rules"`
}

func defaultAntiRaid() AntiRaid {
	return AntiRaid{Sensitivity: SensitivityMedium, Action: RaidActionLockdown}
}

func defaultAntiBot() AntiBot {
	return AntiBot{Mode: AntiBotOff}
}

func defaultLeveling() Leveling {
	return Leveling{
		XPPerMessage:       15,
		CooldownSeconds:    60,
		XPPerMinuteInVoice: 10,
		LevelUpMessage:     "{user} reached level {level}!",
	}
}

func (c *AntiRaid) normalize() {
	switch Sensitivity(strings.ToLower(string(c.Sensitivity))) {
	case SensitivityLow, SensitivityMedium, SensitivityHigh:
		c.Sensitivity = Sensitivity(strings.ToLower(string(c.Sensitivity)))
	default:
		c.Sensitivity = SensitivityMedium
	}
	switch RaidAction(strings.ToLower(string(c.Action))) {
	case RaidActionLockdown, RaidActionKick, RaidActionBan:
		c.Action = RaidAction(strings.ToLower(string(c.Action)))
	default:
		c.Action = RaidActionLockdown
	}
}

func (c *AntiBot) normalize() {
	mode := AntiBotMode(strings.ToLower(strings.ReplaceAll(string(c.Mode), "_", "-")))
	switch mode {
	case AntiBotOff, AntiBotAutoBlock, AntiBotApprovalRequired, AntiBotWhitelistOnly:
		c.Mode = mode
	default:
		c.Mode = AntiBotOff
	}
}

func (c *Leveling) normalize() {
	defaults := defaultLeveling()
	if c.XPPerMessage < 0 {
		c.XPPerMessage = 0
	}
	if c.XPPerMinuteInVoice < 0 {
		c.XPPerMinuteInVoice = 0
	}
	if c.CooldownSeconds < 0 {
		c.CooldownSeconds = defaults.CooldownSeconds
	}
	if strings.TrimSpace(c.LevelUpMessage) == "" {
		c.LevelUpMessage = defaults.LevelUpMessage
	}
}

func (c *AutoMod) normalize() {
	for i := range c.Rules {
		rule := &c.Rules[i]
		switch AutoModAction(strings.ToLower(string(rule.Action))) {
		case AutoModDelete, AutoModWarn, AutoModLog:
			rule.Action = AutoModAction(strings.ToLower(string(rule.Action)))
		default:
			rule.Action = AutoModLog
		}
	}
}
