package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"sentinel-policy/internal/storage"

	"github.com/bwmarrin/discordgo"
)

type Store interface {
	ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]storage.AuditLog, error)
}

type Service struct {
	store Store
}

func New(store Store) *Service {
	return &Service{store: store}
}

type Report struct {
	Since   time.Time
	Total   int
	ByLevel map[string]int
	ByEvent map[string]int
}

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	logs, err := s.store.ListAuditLogs(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}

	report := Report{Since: since, ByLevel: make(map[string]int), ByEvent: make(map[string]int)}
	for _, log := range logs {
		report.Total++
		report.ByLevel[log.Level]++
		report.ByEvent[log.Event]++
	}
	return report, nil
}

func (r Report) Embed(color int) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       "Moderation activity",
		Description: fmt.Sprintf("%d events since <t:%d:R>", r.Total, r.Since.Unix()),
		Color:       color,
	}
	if r.Total == 0 {
		return embed
	}

	events := make([]string, 0, len(r.ByEvent))
	for event := range r.ByEvent {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool {
		if r.ByEvent[events[i]] != r.ByEvent[events[j]] {
			return r.ByEvent[events[i]] > r.ByEvent[events[j]]
		}
		return events[i] < events[j]
	})
	lines := make([]string, 0, len(events))
	for _, event := range events {
		lines = append(lines, fmt.Sprintf("`%s` %d", event, r.ByEvent[event]))
	}

	levels := make([]string, 0, len(r.ByLevel))
	for _, level := range []string{"CRIT", "WARN", "INFO"} {
		if count := r.ByLevel[level]; count > 0 {
			levels = append(levels, fmt.Sprintf("%s %d", level, count))
		}
	}

	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: "Events", Value: strings.Join(lines, "\n")},
		{Name: "Severity", Value: strings.Join(levels, " · ")},
	}
	return embed
}
