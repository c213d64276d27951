package automod

import (
	"strings"

	"sentinel-policy/internal/guildcfg"
	"sentinel-policy/internal/utils"
)

type Message struct {
	GuildID       string
	ChannelID     string
	MessageID     string
	AuthorID      string
	AuthorRoleIDs []string
	Content       string
}

type Match struct {
	Index   int
	Rule    guildcfg.AutoModRule
	Keyword string
}

// Evaluate returns the first rule, in configured order, that is not exempt for
// the message and has a keyword contained in its text. Matching ignores case.
// Keywords that name a host also match links to that host in punycode form.
func Evaluate(rules []guildcfg.AutoModRule, msg Message) (Match, bool) {
	if strings.TrimSpace(msg.Content) == "" {
		return Match{}, false
	}
	text := haystack(msg.Content)

	for i, rule := range rules {
		if exempt(rule, msg) {
			continue
		}
		for _, keyword := range rule.Keywords {
			if matches(text, keyword) {
				return Match{Index: i, Rule: rule, Keyword: keyword}, true
			}
		}
	}
	return Match{}, false
}

func haystack(content string) string {
	text := strings.ToLower(content)
	if hosts := utils.LinkHosts(content); len(hosts) > 0 {
		text += "\n" + strings.Join(hosts, "\n")
	}
	return text
}

func matches(text, keyword string) bool {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return false
	}
	if strings.Contains(text, keyword) {
		return true
	}
	if ascii := utils.ASCIIHost(keyword); ascii != keyword {
		return strings.Contains(text, ascii)
	}
	return false
}

func exempt(rule guildcfg.AutoModRule, msg Message) bool {
	for _, channelID := range rule.ExemptChannels {
		if channelID == msg.ChannelID {
			return true
		}
	}
	for _, exemptRole := range rule.ExemptRoles {
		for _, roleID := range msg.AuthorRoleIDs {
			if roleID == exemptRole {
				return true
			}
		}
	}
	return false
}
