package config

import (
	"strings"

	"github.com/cricline/cricsync/types"
)

// ResolveCacheRule picks the freshness policy for a key. An explicit
// override always wins; otherwise exact match, then prefix patterns in
// declaration order, then suffix patterns, then the default.
func ResolveCacheRule(cfg *types.CacheConfig, key string, override *types.CacheRule) types.CacheRule {
	if override != nil {
		return *override
	}

	if cfg == nil {
		return types.CacheRule{}
	}

	if rule, ok := cfg.ExactRules[key]; ok {
		return rule
	}

	for _, pr := range cfg.PrefixRules {
		if strings.HasPrefix(key, pr.Pattern) {
			return pr.Rule
		}
	}

	for _, sr := range cfg.SuffixRules {
		if strings.HasSuffix(key, sr.Pattern) {
			return sr.Rule
		}
	}

	return cfg.DefaultRule
}

// ResolveRequestRule picks the dispatch policy for a key by substring match
// over the known resource families.
func ResolveRequestRule(cfg *types.CoordinatorConfig, key string, override *types.RequestRule) types.RequestRule {
	if override != nil {
		return *override
	}

	if cfg == nil {
		return types.RequestRule{}
	}

	// Longest matching family wins so "match:live:1:commentary" resolves to
	// the commentary rule only when that pattern is the more specific one.
	var best string
	for family := range cfg.Rules {
		if strings.Contains(key, family) && len(family) > len(best) {
			best = family
		}
	}
	if best != "" {
		return cfg.Rules[best]
	}

	return cfg.DefaultRule
}
