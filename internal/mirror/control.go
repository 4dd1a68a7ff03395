package mirror

import (
	"context"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/mirrorctl/relmirror/internal/forge"
	"github.com/mirrorctl/relmirror/internal/gitee"
	"github.com/mirrorctl/relmirror/internal/github"
	"github.com/mirrorctl/relmirror/internal/transfer"
)

// RunOptions tunes a single Run.
type RunOptions struct {
	// DryRun performs every lookup but only logs mirror changes.
	DryRun bool
	// ShowProgress renders terminal progress bars for downloads.
	ShowProgress bool
}

// lockFile locks path, creating it when needed, and returns the function
// that releases the lock. The file is left in place: unlinking it would let
// an instance holding the old inode and one creating a new file run at the
// same time.
func lockFile(path string) (func(), error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644) // #nosec G302,G304 - path comes from validated config
	if err != nil {
		return nil, errors.Wrap(err, "open lock file")
	}
	fl := Flock{file}
	if err := fl.Lock(); err != nil {
		if cerr := file.Close(); cerr != nil {
			slog.Warn("failed to close lock file", "error", cerr)
		}
		return nil, err
	}
	release := func() {
		if err := fl.Unlock(); err != nil {
			slog.Warn("failed to unlock file", "error", err)
		}
		if err := file.Close(); err != nil {
			slog.Warn("failed to close lock file", "error", err)
		}
	}
	return release, nil
}

func newSource(config *Config) (*github.Client, error) {
	policy, err := config.Stable.Policy()
	if err != nil {
		return nil, err
	}
	return github.NewClient(github.Options{
		BaseURL:  config.Source.APIURL.String(),
		Repo:     config.Source.Repo,
		Token:    config.Source.Token(),
		PageSize: config.Source.PageSize,
		Policy:   policy,
		Order:    github.Order(config.Source.Order),
	}), nil
}

func newMirror(config *Config) *gitee.Client {
	return gitee.NewClient(gitee.Options{
		BaseURL:  config.Mirror.APIURL.String(),
		Repo:     config.Mirror.Repo,
		Token:    config.Mirror.Token(),
		PageSize: config.Mirror.PageSize,
	})
}

// Run mirrors the newest stable source release once.
//
// The lock file is held for the whole run and the scratch workspace is
// removed before Run returns, whatever the outcome.
func Run(ctx context.Context, config *Config, opts RunOptions) (*Result, error) {
	if err := config.Check(); err != nil {
		return nil, err
	}
	if !opts.DryRun && config.Mirror.Token() == "" {
		return nil, errors.Newf("mirror token is empty: set %s", config.Mirror.TokenEnv)
	}

	if config.LockFile != "" {
		unlock, err := lockFile(config.LockFile)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	source, err := newSource(config)
	if err != nil {
		return nil, err
	}
	mirror := newMirror(config)

	var verifier *transfer.Verifier
	if config.Transfer.PGPKeyPath != "" {
		verifier, err = transfer.NewVerifier(config.Transfer.PGPKeyPath)
		if err != nil {
			return nil, err
		}
	}

	ws, err := transfer.NewWorkspace(config.Transfer.ScratchDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := ws.Close(); err != nil {
			slog.Warn("failed to remove scratch directory", "error", err, "path", ws.Dir())
		}
	}()

	tr := transfer.New(source, mirror, ws, transfer.Options{
		ProgressInterval: config.Transfer.ProgressInterval.Duration,
		ShowBar:          opts.ShowProgress,
		Verifier:         verifier,
	})
	reconciler := NewReconciler(source, mirror, tr, opts.DryRun)

	if opts.DryRun {
		slog.Info("dry-run mode: mirror will not be modified")
	}
	slog.Info("sync starts", "source", source.Repo(), "mirror", mirror.Repo())

	result, err := reconciler.Reconcile(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("sync ends", "outcome", result.Outcome.String())
	return result, nil
}

// MirrorState describes one release on the mirror.
type MirrorState struct {
	Tag     string
	Name    string
	Syncing bool
}

// StatusReport compares the source and the mirror without changing either.
type StatusReport struct {
	// Latest is the newest stable source release, nil when there is none.
	Latest *forge.Release
	Mirror []MirrorState
}

// InSync reports whether the mirror holds exactly the latest stable
// release, fully synced.
func (s *StatusReport) InSync() bool {
	if s.Latest == nil || len(s.Mirror) != 1 {
		return false
	}
	return s.Mirror[0].Tag == s.Latest.TagName && !s.Mirror[0].Syncing
}

// Status reads both forges and reports their state.
func Status(ctx context.Context, config *Config) (*StatusReport, error) {
	if err := config.Check(); err != nil {
		return nil, err
	}
	source, err := newSource(config)
	if err != nil {
		return nil, err
	}
	mirror := newMirror(config)

	// The two lookups are independent reads.
	var (
		latest   *forge.Release
		releases []forge.Release
	)
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		latest, err = source.FindLatestStable(ctx)
		return errors.Wrap(err, "find latest stable release")
	})
	group.Go(func() error {
		var err error
		releases, err = mirror.ListAll(ctx)
		return errors.Wrap(err, "list mirror releases")
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	report := &StatusReport{Latest: latest}
	for i := range releases {
		report.Mirror = append(report.Mirror, MirrorState{
			Tag:     releases[i].TagName,
			Name:    releases[i].Name,
			Syncing: releases[i].Syncing(),
		})
	}
	return report, nil
}
