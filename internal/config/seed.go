package config

import (
	"github.com/BurntSushi/toml"
)

// SeedRule is one filter rule listed in the seed file.
type SeedRule struct {
	Name      string `toml:"name"`
	Query     string `toml:"query"`
	Enabled   bool   `toml:"enabled"`
	RuleOrder int    `toml:"order"`
}

type SeedSafelistEntry struct {
	Npub         string `toml:"npub"`
	PostAllowed  bool   `toml:"post_allowed"`
	FilterBypass bool   `toml:"filter_bypass"`
}

type SeedKindBlacklistEntry struct {
	Kind      *int64 `toml:"kind"`
	RangeFrom *int64 `toml:"range_from"`
	RangeTo   *int64 `toml:"range_to"`
	AppliesTo string `toml:"applies_to"`
}

// Seed is the optional bootstrap file: a TOML document listing rows for
// the rule/ban/safelist repository. cmd/nostrguard upserts these rows on
// every startup and every seed-file change, overwriting existing rows with
// the same key; only the upstream URL is written solely when none is set.
type Seed struct {
	UpstreamURL   string                   `toml:"upstream_url"`
	Rules         []SeedRule               `toml:"rules"`
	Safelist      []SeedSafelistEntry      `toml:"safelist"`
	IPBans        []string                 `toml:"ip_bans"`
	IPWhitelist   []string                 `toml:"ip_whitelist"`
	NpubBans      []string                 `toml:"npub_bans"`
	KindBlacklist []SeedKindBlacklistEntry `toml:"kind_blacklist"`
}

// LoadSeed decodes path as a TOML seed file. A missing file is returned as
// an error like any other read failure; callers that treat the seed file
// as optional check for it before calling.
func LoadSeed(path string) (*Seed, error) {
	var seed Seed
	if _, err := toml.DecodeFile(path, &seed); err != nil {
		return nil, err
	}
	return &seed, nil
}
