package utils

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

var urlRegex = regexp.MustCompile(`https?://[^\s]+`)

var trackingParams = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "fbclid", "gclid"}

func ExtractURLs(content string) []string {
	return urlRegex.FindAllString(content, -1)
}

func NormalizeURL(raw string) (string, string, error) {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}

	host := strings.ToLower(parsed.Hostname())
	asciiHost, err := idna.ToASCII(host)
	if err == nil {
		host = asciiHost
	}

	parsed.Host = host
	parsed.Fragment = ""
	parsed.User = nil

	query := parsed.Query()
	for _, key := range trackingParams {
		query.Del(key)
	}
	parsed.RawQuery = normalizeQuery(query)

	return parsed.String(), host, nil
}

func normalizeQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	clean := url.Values{}
	for _, key := range keys {
		clean[key] = values[key]
	}
	return clean.Encode()
}

// LinkHosts returns the lowercased ASCII host of every link in content, in
// order of appearance, without duplicates.
func LinkHosts(content string) []string {
	var hosts []string
	seen := make(map[string]struct{})
	for _, raw := range ExtractURLs(content) {
		_, host, err := NormalizeURL(raw)
		if err != nil || host == "" {
			continue
		}
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}
		hosts = append(hosts, host)
	}
	return hosts
}

// ASCIIHost converts an internationalized host name to its punycode form.
// Values that are not valid host names are returned lowercased and unchanged.
func ASCIIHost(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" || strings.ContainsAny(value, " /\t") {
		return value
	}
	ascii, err := idna.Lookup.ToASCII(value)
	if err != nil {
		return value
	}
	return ascii
}
