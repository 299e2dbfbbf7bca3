package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.toml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	return f.Name()
}

func TestLoad(t *testing.T) {
	validTOML := `
[[profile]]
name = "work"
host = "mail.example.com"
port = 993
tls = true
user = "user1@example.com"
password = "pass1"

[[profile]]
name = "home"
host = "mail.example.com"
port = 143
starttls = true
user = "user2@example.com"
password = "pass2"
`

	tests := []struct {
		name    string
		content string
		path    string
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name:    "valid config",
			content: validTOML,
			check: func(t *testing.T, cfg *Config) {
				if len(cfg.Profiles) != 2 {
					t.Fatalf("len(profiles) = %d, want 2", len(cfg.Profiles))
				}
				p := cfg.Profiles[0]
				if p.Name != "work" {
					t.Errorf("profiles[0].name = %q, want %q", p.Name, "work")
				}
				if !p.TLS {
					t.Error("profiles[0].tls should be true")
				}
				if p.StartTLS {
					t.Error("profiles[0].starttls should be false")
				}
			},
		},
		{
			name:    "file not found",
			path:    filepath.Join(t.TempDir(), "nonexistent.toml"),
			wantErr: true,
		},
		{
			name:    "invalid TOML syntax",
			content: `[profile\nhost = this is not valid toml!!!`,
			wantErr: true,
		},
		{
			name: "missing name",
			content: `
[[profile]]
host = "h"
port = 993
user = "u"
password = "p"
`,
			wantErr: true,
		},
		{
			name: "missing host",
			content: `
[[profile]]
name = "x"
port = 993
user = "u"
password = "p"
`,
			wantErr: true,
		},
		{
			name: "missing port",
			content: `
[[profile]]
name = "x"
host = "h"
user = "u"
password = "p"
`,
			wantErr: true,
		},
		{
			name: "duplicate name",
			content: `
[[profile]]
name = "dup"
host = "h"
port = 993
tls = true

[[profile]]
name = "dup"
host = "h"
port = 993
tls = true
`,
			wantErr: true,
		},
		{
			name: "conflicting TLS flags",
			content: `
[[profile]]
name = "x"
host = "h"
port = 143
tls = true
starttls = true
`,
			wantErr: true,
		},
		{
			name: "conflicting folder lists",
			content: `
[[profile]]
name = "x"
host = "h"
port = 143
allowed_folders = ["INBOX"]
blocked_folders = ["Trash"]
`,
			wantErr: true,
		},
		{
			name: "writable folder in block list",
			content: `
[[profile]]
name = "x"
host = "h"
port = 143
blocked_folders = ["Drafts"]
writable_folders = ["Drafts"]
`,
			wantErr: true,
		},
		{
			name: "writable folder not in allow list",
			content: `
[[profile]]
name = "x"
host = "h"
port = 143
allowed_folders = ["INBOX", "Sent"]
writable_folders = ["Drafts"]
`,
			wantErr: true,
		},
		{
			name: "writable folder in allow list",
			content: `
[[profile]]
name = "x"
host = "h"
port = 143
allowed_folders = ["INBOX", "Sent", "Drafts"]
writable_folders = ["Drafts"]
`,
			check: func(t *testing.T, cfg *Config) {
				if !cfg.Profiles[0].FolderWritable("Drafts") {
					t.Error("expected Drafts to be writable")
				}
			},
		},
		{
			name: "no TLS flags both false is valid",
			content: `
[[profile]]
name = "x"
host = "h"
port = 143
`,
			check: func(t *testing.T, cfg *Config) {
				if cfg.Profiles[0].TLS || cfg.Profiles[0].StartTLS {
					t.Error("expected both TLS flags false")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.path
			if path == "" {
				path = writeTemp(t, tt.content)
			}

			cfg, err := Load(path)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	cfg := &Config{
		Profiles: []ProfileConfig{
			{Name: "alice", Host: "h1", Port: 993, TLS: true},
			{Name: "bob", Host: "h2", Port: 143, StartTLS: true},
		},
	}

	tests := []struct {
		name     string
		wantNil  bool
		wantName string
	}{
		{"alice", false, "alice"},
		{"bob", false, "bob"},
		{"charlie", true, ""},
		{"", true, ""},
		{"Alice", true, ""}, // case-sensitive
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cfg.Lookup(tt.name)
			if tt.wantNil {
				if got != nil {
					t.Errorf("Lookup(%q) = %v, want nil", tt.name, got)
				}
				return
			}
			if got == nil {
				t.Fatalf("Lookup(%q) = nil, want non-nil", tt.name)
			}
			if got.Name != tt.wantName {
				t.Errorf("Lookup(%q).Name = %q, want %q", tt.name, got.Name, tt.wantName)
			}
		})
	}
}

func TestHasFolderFilter(t *testing.T) {
	tests := []struct {
		name string
		p    ProfileConfig
		want bool
	}{
		{"no filter", ProfileConfig{}, false},
		{"allow list", ProfileConfig{AllowedFolders: []string{"INBOX"}}, true},
		{"block list", ProfileConfig{BlockedFolders: []string{"Trash"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.HasFolderFilter(); got != tt.want {
				t.Errorf("HasFolderFilter() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFolderAllowed(t *testing.T) {
	tests := []struct {
		name   string
		p      ProfileConfig
		folder string
		want   bool
	}{
		{"allow exact match", ProfileConfig{AllowedFolders: []string{"INBOX", "Sent"}}, "INBOX", true},
		{"allow no match", ProfileConfig{AllowedFolders: []string{"INBOX", "Sent"}}, "Trash", false},
		{"allow child match slash", ProfileConfig{AllowedFolders: []string{"Archive"}}, "Archive/2024", true},
		{"allow child match dot", ProfileConfig{AllowedFolders: []string{"Archive"}}, "Archive.2024", true},
		{"allow parent not matched by child entry", ProfileConfig{AllowedFolders: []string{"Archive/2024"}}, "Archive", false},

		{"block exact match", ProfileConfig{BlockedFolders: []string{"Spam", "Trash"}}, "Spam", false},
		{"block no match allowed", ProfileConfig{BlockedFolders: []string{"Spam", "Trash"}}, "INBOX", true},
		{"block child match", ProfileConfig{BlockedFolders: []string{"Trash"}}, "Trash/Subfolder", false},

		{"inbox case insensitive allow", ProfileConfig{AllowedFolders: []string{"inbox"}}, "INBOX", true},
		{"inbox case insensitive block", ProfileConfig{BlockedFolders: []string{"inbox"}}, "INBOX", false},
		{"inbox case insensitive name", ProfileConfig{AllowedFolders: []string{"INBOX"}}, "inbox", true},

		{"no filter", ProfileConfig{}, "Anything", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.p.FolderAllowed(tt.folder)
			if got != tt.want {
				t.Errorf("FolderAllowed(%q) = %v, want %v", tt.folder, got, tt.want)
			}
		})
	}
}

func TestFolderWritable(t *testing.T) {
	tests := []struct {
		name   string
		p      ProfileConfig
		folder string
		want   bool
	}{
		{"no writable folders", ProfileConfig{}, "INBOX", false},
		{"exact match", ProfileConfig{WritableFolders: []string{"Drafts"}}, "Drafts", true},
		{"no match", ProfileConfig{WritableFolders: []string{"Drafts"}}, "INBOX", false},
		{"child match", ProfileConfig{WritableFolders: []string{"Drafts"}}, "Drafts/Sub", true},
		{"INBOX normalization", ProfileConfig{WritableFolders: []string{"inbox"}}, "INBOX", true},
		{"empty string", ProfileConfig{WritableFolders: []string{"Drafts"}}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.p.FolderWritable(tt.folder)
			if got != tt.want {
				t.Errorf("FolderWritable(%q) = %v, want %v", tt.folder, got, tt.want)
			}
		})
	}
}

func TestLookupReturnsPointer(t *testing.T) {
	cfg := &Config{
		Profiles: []ProfileConfig{
			{Name: "alice", Password: "secret"},
		},
	}
	got := cfg.Lookup("alice")
	if got == nil {
		t.Fatal("Lookup returned nil")
	}
	got.Password = "changed"
	if cfg.Profiles[0].Password != "changed" {
		t.Error("Lookup did not return pointer to slice element")
	}
}

func TestTimeoutDefaults(t *testing.T) {
	p := ProfileConfig{}
	if p.ConnectTimeout().Seconds() != 30 {
		t.Errorf("ConnectTimeout() = %v, want 30s", p.ConnectTimeout())
	}
	if p.GreetingTimeout().Seconds() != 30 {
		t.Errorf("GreetingTimeout() = %v, want 30s", p.GreetingTimeout())
	}
	if p.UpgradeTimeout().Seconds() != 10 {
		t.Errorf("UpgradeTimeout() = %v, want 10s", p.UpgradeTimeout())
	}
	if p.IdleRefresh().Minutes() != 20 {
		t.Errorf("IdleRefresh() = %v, want 20m", p.IdleRefresh())
	}
}
