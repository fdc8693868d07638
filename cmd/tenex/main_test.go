package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"serve", "status", "agents", "config", "version"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Run("explicit flag wins", func(t *testing.T) {
		t.Setenv("TENEX_CONFIG", "/env/tenex.yaml")
		if got := resolveConfigPath("custom.yaml"); got != "custom.yaml" {
			t.Fatalf("resolveConfigPath = %q, want custom.yaml", got)
		}
	})

	t.Run("environment fallback", func(t *testing.T) {
		t.Setenv("TENEX_CONFIG", "/env/tenex.yaml")
		if got := resolveConfigPath(defaultConfigFile); got != "/env/tenex.yaml" {
			t.Fatalf("resolveConfigPath = %q, want /env/tenex.yaml", got)
		}
	})

	t.Run("default", func(t *testing.T) {
		t.Setenv("TENEX_CONFIG", "")
		if got := resolveConfigPath(defaultConfigFile); got != defaultConfigFile {
			t.Fatalf("resolveConfigPath = %q, want %q", got, defaultConfigFile)
		}
	})
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 13, "short"},
		{"a-rather-long-agent-name", 13, "a-rather-l..."},
		{"abc", 2, "ab"},
	}
	for _, tc := range cases {
		if got := truncate(tc.in, tc.max); got != tc.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
	if got := truncate("a-rather-long-agent-name", 13); len(got) != 13 {
		t.Fatalf("truncated length = %d, want 13", len(got))
	}
}
