package utils

import (
	"slices"
	"strconv"
	"strings"
)

// DetermineLocale picks the message locale: an explicit lang query value
// first, then the best-weighted Accept-Language entry, then def. Region
// subtags fall back to their base language (de-AT -> de).
func DetermineLocale(queryLang, acceptLang string, supported []string, def string) string {
	match := func(tag string) string {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			return ""
		}
		if slices.Contains(supported, tag) {
			return tag
		}
		if base, _, ok := strings.Cut(tag, "-"); ok && slices.Contains(supported, base) {
			return base
		}
		return ""
	}

	if l := match(queryLang); l != "" {
		return l
	}

	best, bestQ := "", 0.0
	for _, part := range strings.Split(acceptLang, ",") {
		tag, params, _ := strings.Cut(part, ";")
		q := 1.0
		if name, val, ok := strings.Cut(strings.TrimSpace(params), "="); ok && strings.TrimSpace(name) == "q" {
			parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				continue
			}
			q = parsed
		}
		if l := match(tag); l != "" && q > bestQ {
			best, bestQ = l, q
		}
	}
	if best != "" {
		return best
	}
	if l := match(def); l != "" {
		return l
	}
	if len(supported) > 0 {
		return supported[0]
	}
	return "en"
}
