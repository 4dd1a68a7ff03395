package mirror

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
)

func TestConfig(t *testing.T) {
	t.Parallel()

	c := NewConfig()
	configPath := filepath.Join("..", "..", "examples", "relmirror.toml")
	md, err := toml.DecodeFile(configPath, c)
	if err != nil {
		t.Fatal(err)
	}

	if len(md.Undecoded()) > 0 {
		t.Errorf("undecoded keys: %#v", md.Undecoded())
	}

	if c.LockFile != "/var/run/relmirror.lock" {
		t.Errorf(`c.LockFile = %q, want "/var/run/relmirror.lock"`, c.LockFile)
	}
	if c.Log.Level != "info" {
		t.Errorf(`c.Log.Level = %q, want "info"`, c.Log.Level)
	}
	if c.Source.APIURL.String() != "https://api.github.com" {
		t.Errorf(`c.Source.APIURL = %q`, c.Source.APIURL.String())
	}
	if c.Mirror.APIURL.String() != "https://gitee.com/api/v5" {
		t.Errorf(`c.Mirror.APIURL = %q`, c.Mirror.APIURL.String())
	}
	if c.Mirror.Repo != "certimate-go/certimate" {
		t.Errorf(`c.Mirror.Repo = %q`, c.Mirror.Repo)
	}
	if c.Source.Order != "api" {
		t.Errorf(`c.Source.Order = %q, want "api"`, c.Source.Order)
	}
	wantExclude := []string{"alpha", "beta", "rc", "preview", "test", "unstable"}
	if !reflect.DeepEqual(c.Stable.Exclude, wantExclude) {
		t.Errorf(`c.Stable.Exclude = %v, want %v`, c.Stable.Exclude, wantExclude)
	}
	if c.Transfer.ProgressInterval.Duration != 10*time.Second {
		t.Errorf(`c.Transfer.ProgressInterval = %v, want 10s`, c.Transfer.ProgressInterval.Duration)
	}

	if err := c.Check(); err != nil {
		t.Error(err)
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	c := NewConfig()
	if err := c.Check(); err != nil {
		t.Fatal(err)
	}
	if c.Mirror.TokenEnv != "GITEE_TOKEN" {
		t.Errorf(`c.Mirror.TokenEnv = %q, want "GITEE_TOKEN"`, c.Mirror.TokenEnv)
	}
	if c.Transfer.ProgressInterval.Duration != 5*time.Second {
		t.Errorf(`c.Transfer.ProgressInterval = %v, want 5s`, c.Transfer.ProgressInterval.Duration)
	}

	policy, err := c.Stable.Policy()
	if err != nil {
		t.Fatal(err)
	}
	if policy.TagPattern.String() != "^v[0-9]" {
		t.Errorf("policy.TagPattern = %q", policy.TagPattern.String())
	}
}

func TestPartialConfigKeepsDefaults(t *testing.T) {
	t.Parallel()

	c := NewConfig()
	_, err := toml.Decode(`
[mirror]
repo = "someone/fork"
`, c)
	if err != nil {
		t.Fatal(err)
	}
	if c.Mirror.Repo != "someone/fork" {
		t.Errorf(`c.Mirror.Repo = %q`, c.Mirror.Repo)
	}
	if c.Mirror.APIURL.String() != "https://gitee.com/api/v5" {
		t.Errorf(`c.Mirror.APIURL = %q`, c.Mirror.APIURL.String())
	}
	if c.Source.Repo != "certimate-go/certimate" {
		t.Errorf(`c.Source.Repo = %q`, c.Source.Repo)
	}
}

func TestConfigDecodeErrors(t *testing.T) {
	t.Parallel()

	testCases := map[string]string{
		"scheme":   "[source]\napi_url = \"ftp://example.com\"\n",
		"interval": "[transfer]\nprogress_interval = \"soon\"\n",
	}
	for name, doc := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := toml.Decode(doc, NewConfig()); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}

func TestConfigCheck(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		modify func(c *Config)
		want   string
	}{
		{"relative lock file", func(c *Config) { c.LockFile = "relmirror.lock" }, "lock_file"},
		{"bad source repo", func(c *Config) { c.Source.Repo = "certimate" }, "owner/name"},
		{"bad mirror repo", func(c *Config) { c.Mirror.Repo = "a/b/c" }, "owner/name"},
		{"zero page size", func(c *Config) { c.Mirror.PageSize = 0 }, "page_size"},
		{"unknown order", func(c *Config) { c.Source.Order = "newest" }, "unknown order"},
		{"no mirror token env", func(c *Config) { c.Mirror.TokenEnv = "" }, "token_env"},
		{"bad tag pattern", func(c *Config) { c.Stable.TagPattern = "^v[" }, "tag_pattern"},
		{"zero interval", func(c *Config) { c.Transfer.ProgressInterval.Duration = 0 }, "progress_interval"},
		{"missing scratch dir", func(c *Config) { c.Transfer.ScratchDir = "/nonexistent/relmirror" }, "scratch_dir"},
		{"relative key path", func(c *Config) { c.Transfer.PGPKeyPath = "key.asc" }, "absolute"},
		{"missing key", func(c *Config) { c.Transfer.PGPKeyPath = "/nonexistent/key.asc" }, "does not exist"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := NewConfig()
			tc.modify(c)
			err := c.Check()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %q, want it to contain %q", err.Error(), tc.want)
			}
		})
	}
}

func TestLogConfigApply(t *testing.T) {
	t.Parallel()

	for _, lc := range []LogConfig{
		{Level: "debug", Format: "json"},
		{Level: "", Format: ""},
		{Level: "WARNING", Format: "text"},
	} {
		if err := lc.Apply(); err != nil {
			t.Errorf("%+v: %v", lc, err)
		}
	}
	for _, lc := range []LogConfig{
		{Level: "verbose"},
		{Format: "xml"},
	} {
		if err := lc.Apply(); err == nil {
			t.Errorf("%+v: expected error", lc)
		}
	}
}
