package mirror

import (
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/mirrorctl/relmirror/internal/forge"
	"github.com/mirrorctl/relmirror/internal/gitee"
	"github.com/mirrorctl/relmirror/internal/github"
	"github.com/mirrorctl/relmirror/internal/transfer"
)

const (
	defaultRepo      = "certimate-go/certimate"
	defaultPageSize  = 100
	defaultSourceEnv = "GITHUB_TOKEN"
	defaultMirrorEnv = "GITEE_TOKEN"
)

var validRepo = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

type tomlURL struct {
	*url.URL
}

func mustURL(s string) tomlURL {
	u, err := url.Parse(s)
	if err != nil {
		panic(err)
	}
	return tomlURL{u}
}

func (u *tomlURL) UnmarshalText(text []byte) error {
	parsedURL, err := url.Parse(string(text))
	if err != nil {
		return err
	}
	switch parsedURL.Scheme {
	case "http":
	case "https":
	default:
		return errors.New("unsupported scheme: " + parsedURL.Scheme)
	}
	u.URL = parsedURL
	return nil
}

func (u tomlURL) String() string {
	if u.URL == nil {
		return ""
	}
	return u.URL.String()
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// SourceConfig describes the GitHub repository releases are read from.
type SourceConfig struct {
	APIURL   tomlURL `toml:"api_url"`
	Repo     string  `toml:"repo"`
	PageSize int     `toml:"page_size"`
	TokenEnv string  `toml:"token_env"`
	Order    string  `toml:"order"`
}

// Token returns the optional GitHub token from the environment.
func (sc *SourceConfig) Token() string {
	if sc.TokenEnv == "" {
		return ""
	}
	return os.Getenv(sc.TokenEnv)
}

// Check validates the configuration.
func (sc *SourceConfig) Check() error {
	if sc.APIURL.URL == nil {
		return errors.New("api_url is not set")
	}
	if !validRepo.MatchString(sc.Repo) {
		return errors.New("repo must be owner/name: " + sc.Repo)
	}
	if sc.PageSize <= 0 {
		return errors.New("page_size must be positive")
	}
	switch github.Order(sc.Order) {
	case github.OrderAPI, github.OrderSemver:
	default:
		return errors.New("unknown order: " + sc.Order)
	}
	return nil
}

// MirrorConfig describes the Gitee repository releases are mirrored to.
type MirrorConfig struct {
	APIURL   tomlURL `toml:"api_url"`
	Repo     string  `toml:"repo"`
	PageSize int     `toml:"page_size"`
	TokenEnv string  `toml:"token_env"`
}

// Token returns the Gitee access token from the environment.
func (mc *MirrorConfig) Token() string {
	return os.Getenv(mc.TokenEnv)
}

// Check validates the configuration.
func (mc *MirrorConfig) Check() error {
	if mc.APIURL.URL == nil {
		return errors.New("api_url is not set")
	}
	if !validRepo.MatchString(mc.Repo) {
		return errors.New("repo must be owner/name: " + mc.Repo)
	}
	if mc.PageSize <= 0 {
		return errors.New("page_size must be positive")
	}
	if mc.TokenEnv == "" {
		return errors.New("token_env is not set")
	}
	return nil
}

// StableConfig selects which source releases are stable.
type StableConfig struct {
	TagPattern string   `toml:"tag_pattern"`
	Exclude    []string `toml:"exclude"`
}

// Policy compiles the configuration.
func (sc *StableConfig) Policy() (*forge.StablePolicy, error) {
	p, err := forge.NewStablePolicy(sc.TagPattern, sc.Exclude)
	if err != nil {
		return nil, errors.Wrap(err, "tag_pattern")
	}
	return p, nil
}

// TransferConfig configures asset downloads.
type TransferConfig struct {
	ScratchDir       string   `toml:"scratch_dir"`
	ProgressInterval duration `toml:"progress_interval"`
	PGPKeyPath       string   `toml:"pgp_key_path,omitempty"`
}

// Check validates the configuration.
func (tc *TransferConfig) Check() error {
	if tc.ProgressInterval.Duration <= 0 {
		return errors.New("progress_interval must be positive")
	}
	if tc.ScratchDir != "" {
		st, err := os.Stat(tc.ScratchDir)
		if err != nil {
			return errors.Wrap(err, "scratch_dir")
		}
		if !st.IsDir() {
			return errors.New("scratch_dir is not a directory: " + tc.ScratchDir)
		}
	}
	if tc.PGPKeyPath != "" {
		if !filepath.IsAbs(tc.PGPKeyPath) {
			return errors.New("pgp_key_path must be an absolute path")
		}
		if _, err := os.Stat(tc.PGPKeyPath); os.IsNotExist(err) {
			return errors.New("pgp_key_path does not exist: " + tc.PGPKeyPath)
		} else if err != nil {
			return errors.New("cannot access pgp_key_path: " + err.Error())
		}
	}
	return nil
}

// LogConfig represents slog configuration options
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Apply configures the global slog logger based on the configuration
func (logConfig *LogConfig) Apply() error {
	var level slog.Level
	switch strings.ToLower(logConfig.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return errors.New("invalid log level: " + logConfig.Level)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(logConfig.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "plain", "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return errors.New("invalid log format: " + logConfig.Format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// Config is a struct to read TOML configurations.
//
// Use https://github.com/BurntSushi/toml as follows:
//
//	config := mirror.NewConfig()
//	md, err := toml.DecodeFile("/path/to/relmirror.toml", config)
//	if err != nil {
//	    ...
//	}
//
// Every field has a default, so a missing file leaves a usable Config.
type Config struct {
	LockFile string         `toml:"lock_file"`
	Log      LogConfig      `toml:"log"`
	Source   SourceConfig   `toml:"source"`
	Mirror   MirrorConfig   `toml:"mirror"`
	Stable   StableConfig   `toml:"stable"`
	Transfer TransferConfig `toml:"transfer"`
}

// Check validates the configuration.
func (c *Config) Check() error {
	if c.LockFile != "" && !filepath.IsAbs(c.LockFile) {
		return errors.New("lock_file must be an absolute path")
	}
	if err := c.Source.Check(); err != nil {
		return errors.Wrap(err, "source")
	}
	if err := c.Mirror.Check(); err != nil {
		return errors.Wrap(err, "mirror")
	}
	if _, err := c.Stable.Policy(); err != nil {
		return errors.Wrap(err, "stable")
	}
	if err := c.Transfer.Check(); err != nil {
		return errors.Wrap(err, "transfer")
	}
	return nil
}

// NewConfig creates Config with default values.
func NewConfig() *Config {
	return &Config{
		LockFile: filepath.Join(os.TempDir(), "relmirror.lock"),
		Source: SourceConfig{
			APIURL:   mustURL(github.DefaultAPIURL),
			Repo:     defaultRepo,
			PageSize: defaultPageSize,
			TokenEnv: defaultSourceEnv,
			Order:    string(github.OrderAPI),
		},
		Mirror: MirrorConfig{
			APIURL:   mustURL(gitee.DefaultAPIURL),
			Repo:     defaultRepo,
			PageSize: defaultPageSize,
			TokenEnv: defaultMirrorEnv,
		},
		Stable: StableConfig{
			TagPattern: forge.DefaultTagPattern,
			Exclude:    append([]string(nil), forge.DefaultExcludeKeywords...),
		},
		Transfer: TransferConfig{
			ProgressInterval: duration{transfer.DefaultProgressInterval},
		},
	}
}
