package featureinfo

import (
	"sort"
	"strings"
)

// Rule forces a content type for layers whose name starts with LayerPrefix.
// Some servers label GML as text/html or JSON as text/plain.
type Rule struct {
	LayerPrefix string `yaml:"layer_prefix"`
	ContentType string `yaml:"content_type"`
}

// Rules is an immutable rule set, longest prefix first. Build it once with
// NewRules and share it freely.
type Rules struct {
	rules []Rule
}

func NewRules(rs ...Rule) Rules {
	out := make([]Rule, 0, len(rs))
	for _, r := range rs {
		if r.ContentType == "" {
			continue
		}
		out = append(out, Rule{LayerPrefix: r.LayerPrefix, ContentType: NormalizeContentType(r.ContentType)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i].LayerPrefix) > len(out[j].LayerPrefix)
	})
	return Rules{rules: out}
}

// ContentType returns the forced content type for layer, or declared when
// no rule matches.
func (r Rules) ContentType(layer, declared string) string {
	for _, rule := range r.rules {
		if strings.HasPrefix(layer, rule.LayerPrefix) {
			return rule.ContentType
		}
	}
	return declared
}

func (r Rules) Len() int { return len(r.rules) }
