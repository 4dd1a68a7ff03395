package main

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
)

func TestAnalyzeUndecoded(t *testing.T) {
	t.Parallel()

	undecoded := []toml.Key{
		{"mirrors", "repo"},
		{"mirrors", "token_env"},
		{"Source", "repo"},
		{"mirror", "token"},
		{"storage"},
	}
	suggestions, unknown := analyzeUndecoded(undecoded)

	wantSuggestions := []string{
		"Section 'Source' should be 'source'",
		"Section 'mirrors' should be 'mirror' (affects 2 keys)",
	}
	if !reflect.DeepEqual(suggestions, wantSuggestions) {
		t.Errorf("suggestions = %v, want %v", suggestions, wantSuggestions)
	}
	wantUnknown := []string{"mirror.token", "storage"}
	if !reflect.DeepEqual(unknown, wantUnknown) {
		t.Errorf("unknown = %v, want %v", unknown, wantUnknown)
	}
}

func TestFormatUndecodedError(t *testing.T) {
	t.Parallel()

	msg := formatUndecodedError([]toml.Key{{"sources", "repo"}, {"lockfile"}})
	for _, want := range []string{"'sources' should be 'source'", "unknown keys: [lockfile]"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q does not contain %q", msg, want)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.toml")

	config, err := loadConfig(missing, false)
	if err != nil {
		t.Fatalf("default path missing: %v", err)
	}
	if config.Mirror.Repo != "certimate-go/certimate" {
		t.Errorf("config.Mirror.Repo = %q", config.Mirror.Repo)
	}

	if _, err := loadConfig(missing, true); err == nil {
		t.Error("explicit missing config should fail")
	}

	typo := filepath.Join(dir, "typo.toml")
	if err := os.WriteFile(typo, []byte("[mirrors]\nrepo = \"a/b\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(typo, true); err == nil || !strings.Contains(err.Error(), "should be 'mirror'") {
		t.Errorf("err = %v, want section suggestion", err)
	}

	example := filepath.Join("..", "..", "examples", "relmirror.toml")
	config, err = loadConfig(example, true)
	if err != nil {
		t.Fatal(err)
	}
	if config.Transfer.ProgressInterval.String() != "10s" {
		t.Errorf("progress_interval = %v, want 10s", config.Transfer.ProgressInterval)
	}
}
