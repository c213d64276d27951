package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ConfigUnavailable = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_guild_config_unavailable_total",
	Help: "Guild module config lookups that failed and resolved to disabled, by module",
}, []string{"module"})

var RaidsDeclared = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_raids_declared_total",
	Help: "Raid declarations, by configured response action",
}, []string{"action"})

var BotGateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_antibot_decisions_total",
	Help: "Bot join decisions, by outcome",
}, []string{"outcome"})

var ChannelLocks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_channel_lock_ops_total",
	Help: "Channel lock and unlock operations, by operation and result",
}, []string{"op", "result"})

var AutoModMatches = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_automod_matches_total",
	Help: "Automod rule matches, by action",
}, []string{"action"})

var XPGranted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_xp_granted_total",
	Help: "Experience points granted, by source",
}, []string{"source"})

var LevelUps = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sentinel_level_ups_total",
	Help: "Level transitions dispatched",
})

var VoiceSweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "sentinel_voice_sweep_duration_sec",
	Help: "Duration of a full voice XP sweep",
})

var VoiceSweepsSkipped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sentinel_voice_sweeps_skipped_total",
	Help: "Voice sweep ticks skipped because the previous sweep was still running",
})

var HandlerPanics = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_handler_panics_total",
	Help: "Recovered panics in event handlers, by handler",
}, []string{"handler"})

var PlatformCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_platform_calls_total",
	Help: "Outbound platform calls, by method and result",
}, []string{"method", "result"})
