// Package config loads the TOML profile(s) a CLI or long-running client
// process uses to dial and authenticate against an IMAP server, grounded
// on the teacher's validate-after-decode pattern with BurntSushi/toml.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level TOML document: zero or more named connection
// profiles, since a CLI invocation or long-running process may need to
// juggle more than one account (§6).
type Config struct {
	Profiles []ProfileConfig `toml:"profile"`
}

// ProfileConfig is one connection's settings: where to dial, how to
// secure the transport, how to authenticate, and the client-side folder
// visibility/read-only guard options layered on top of the wire protocol
// (§6, SUPPLEMENTED FEATURES).
type ProfileConfig struct {
	Name string `toml:"name"`

	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	TLS      bool   `toml:"tls"`
	StartTLS bool   `toml:"starttls"`

	User     string `toml:"user"`
	Password string `toml:"password"`

	ReadOnly bool `toml:"read_only"`

	AllowedFolders  []string `toml:"allowed_folders"`
	BlockedFolders  []string `toml:"blocked_folders"`
	WritableFolders []string `toml:"writable_folders"`

	ConnectTimeoutMS  int `toml:"connect_timeout_ms"`
	GreetingTimeoutMS int `toml:"greeting_timeout_ms"`
	UpgradeTimeoutMS  int `toml:"upgrade_timeout_ms"`

	IdleRefreshMinutes int `toml:"idle_refresh_minutes"`
}

// Load reads a TOML config file from path, validates it, and returns the
// Config.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	seen := make(map[string]bool, len(cfg.Profiles))
	for i, p := range cfg.Profiles {
		if p.Name == "" {
			return nil, fmt.Errorf("config: profile %d: name is required", i)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("config: duplicate profile name %q", p.Name)
		}
		seen[p.Name] = true

		if p.Host == "" {
			return nil, fmt.Errorf("config: profile %q: host is required", p.Name)
		}
		if p.Port == 0 {
			return nil, fmt.Errorf("config: profile %q: port is required", p.Name)
		}
		if p.TLS && p.StartTLS {
			return nil, fmt.Errorf("config: profile %q: tls and starttls cannot both be true", p.Name)
		}
		if len(p.AllowedFolders) > 0 && len(p.BlockedFolders) > 0 {
			return nil, fmt.Errorf("config: profile %q: allowed_folders and blocked_folders cannot both be set", p.Name)
		}
		for _, wf := range p.WritableFolders {
			if !cfg.Profiles[i].FolderAllowed(wf) {
				return nil, fmt.Errorf("config: profile %q: writable folder %q is not allowed by folder filter", p.Name, wf)
			}
		}
	}

	return &cfg, nil
}

// Lookup returns the named profile, or nil if none matches.
func (c *Config) Lookup(name string) *ProfileConfig {
	for i := range c.Profiles {
		if c.Profiles[i].Name == name {
			return &c.Profiles[i]
		}
	}
	return nil
}

// ConnectTimeout returns the configured connect timeout, defaulting to
// 30s when unset.
func (p *ProfileConfig) ConnectTimeout() time.Duration {
	return durationOrDefault(p.ConnectTimeoutMS, 30*time.Second)
}

// GreetingTimeout returns the configured greeting timeout, defaulting to
// 30s when unset.
func (p *ProfileConfig) GreetingTimeout() time.Duration {
	return durationOrDefault(p.GreetingTimeoutMS, 30*time.Second)
}

// UpgradeTimeout returns the configured STARTTLS upgrade timeout,
// defaulting to 10s when unset.
func (p *ProfileConfig) UpgradeTimeout() time.Duration {
	return durationOrDefault(p.UpgradeTimeoutMS, 10*time.Second)
}

// IdleRefresh returns the configured IDLE re-issue interval, defaulting
// to 20 minutes when unset.
func (p *ProfileConfig) IdleRefresh() time.Duration {
	if p.IdleRefreshMinutes == 0 {
		return 20 * time.Minute
	}
	return time.Duration(p.IdleRefreshMinutes) * time.Minute
}

func durationOrDefault(ms int, def time.Duration) time.Duration {
	if ms == 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// HasFolderFilter reports whether the profile has a folder allow or
// block list.
func (p *ProfileConfig) HasFolderFilter() bool {
	return len(p.AllowedFolders) > 0 || len(p.BlockedFolders) > 0
}

// FolderAllowed reports whether the named folder is visible under this
// profile's filter.
func (p *ProfileConfig) FolderAllowed(name string) bool {
	if len(p.AllowedFolders) > 0 {
		return matchesAny(name, p.AllowedFolders)
	}
	if len(p.BlockedFolders) > 0 {
		return !matchesAny(name, p.BlockedFolders)
	}
	return true
}

// FolderWritable reports whether the named folder is writable under this
// profile's read-only guard.
func (p *ProfileConfig) FolderWritable(name string) bool {
	return matchesAny(name, p.WritableFolders)
}

func matchesAny(name string, entries []string) bool {
	for _, entry := range entries {
		if folderMatch(name, entry) {
			return true
		}
	}
	return false
}

func folderMatch(name, pattern string) bool {
	n := normalizeINBOX(name)
	p := normalizeINBOX(pattern)
	if n == p {
		return true
	}
	return strings.HasPrefix(n, p+"/") || strings.HasPrefix(n, p+".")
}

// normalizeINBOX uppercases the INBOX prefix, since INBOX is
// case-insensitive in IMAP.
func normalizeINBOX(s string) string {
	if len(s) >= 5 && strings.EqualFold(s[:5], "INBOX") {
		if len(s) == 5 || s[5] == '/' || s[5] == '.' {
			return "INBOX" + s[5:]
		}
	}
	return s
}
