// Package keys builds the cache keys for upstream GetFeatureInfo bodies.
package keys

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const featureInfoNS = "fi"

// LayerPrefix is the prefix every key of layer shares.
func LayerPrefix(layer string) string {
	return featureInfoNS + ":" + sanitizeLayer(strings.TrimSpace(layer)) + ":"
}

// FeatureInfoKey derives a key from the request URL. Parameter order and
// parameter name case do not change the key, since WMS treats names case
// insensitively.
func FeatureInfoKey(layer, rawURL string) string {
	canon := canonicalURL(rawURL)
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = sanitizeForKey(strings.ToLower(u.Hostname()))
	}
	const maxHostLen = 64
	if len(host) > maxHostLen {
		host = host[:maxHostLen]
	}
	return fmt.Sprintf("%s%s:u=%016x", LayerPrefix(layer), host, xxhash.Sum64String(canon))
}

func canonicalURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return strings.TrimSpace(rawURL)
	}
	q := u.Query()
	names := make([]string, 0, len(q))
	upper := make(map[string][]string, len(q))
	for k, vs := range q {
		uk := strings.ToUpper(k)
		if _, seen := upper[uk]; !seen {
			names = append(names, uk)
		}
		upper[uk] = append(upper[uk], vs...)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(strings.ToLower(u.Scheme))
	b.WriteString("://")
	b.WriteString(strings.ToLower(u.Host))
	b.WriteString(u.EscapedPath())
	for i, k := range names {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		vs := upper[k]
		sort.Strings(vs)
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(strings.Join(vs, ",")))
	}
	return b.String()
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '.' || r == '_' || r == '-':
			out = r
		default:
			// Any other rune (including non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func sanitizeLayer(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-':
			out = r
		default:
			// ':' would break the prefix match, so namespaces become '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
