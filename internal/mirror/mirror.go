package mirror

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/mirrorctl/relmirror/internal/forge"
)

// SourceLocator finds the release to mirror.
type SourceLocator interface {
	FindLatestStable(ctx context.Context) (*forge.Release, error)
	ReleaseURL(r *forge.Release) string
}

// MirrorRepository manages the releases of the mirror repository.
type MirrorRepository interface {
	ListAll(ctx context.Context) ([]forge.Release, error)
	FindByTag(ctx context.Context, tag string) (*forge.Release, error)
	Create(ctx context.Context, name, tag string, prerelease bool) (*forge.Release, error)
	Update(ctx context.Context, id int64, name, tag, body string, prerelease bool) (*forge.Release, error)
	Delete(ctx context.Context, r *forge.Release) error
}

// AssetTransfer copies release assets to a mirror release.
type AssetTransfer interface {
	Run(ctx context.Context, releaseID int64, assets []forge.Asset) error
}

// Outcome is how a reconciliation ended.
type Outcome int

const (
	// OutcomeNotFound means the source has no stable release.
	OutcomeNotFound Outcome = iota
	// OutcomeAlreadySynced means the mirror already holds the release.
	OutcomeAlreadySynced
	// OutcomeCreateFailed means the mirror did not return the new release.
	OutcomeCreateFailed
	// OutcomeCreated means the release was mirrored.
	OutcomeCreated
	// OutcomeReplaced means an incomplete mirror release was discarded and
	// the release mirrored again.
	OutcomeReplaced
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotFound:
		return "not-found"
	case OutcomeAlreadySynced:
		return "already-synced"
	case OutcomeCreateFailed:
		return "create-failed"
	case OutcomeCreated:
		return "created"
	case OutcomeReplaced:
		return "replaced"
	default:
		return "unknown"
	}
}

// Result summarizes a reconciliation.
type Result struct {
	Outcome Outcome
	Tag     string
	// Pruned lists the tags of mirror releases removed by retention.
	Pruned []string
}

// Reconciler brings the mirror in line with the newest stable source
// release and keeps only that release on the mirror.
type Reconciler struct {
	source   SourceLocator
	mirror   MirrorRepository
	transfer AssetTransfer
	dryRun   bool
}

// NewReconciler creates a Reconciler. With dryRun, mirror changes are
// logged instead of performed.
func NewReconciler(source SourceLocator, mirror MirrorRepository, transfer AssetTransfer, dryRun bool) *Reconciler {
	return &Reconciler{
		source:   source,
		mirror:   mirror,
		transfer: transfer,
		dryRun:   dryRun,
	}
}

// Reconcile runs one pass.
//
// A mirror release for the source tag that still carries forge.SyncMarker
// was left behind by an interrupted run; it is deleted and synced again
// from scratch. Other mirror releases are deleted only after the new
// release is complete.
func (r *Reconciler) Reconcile(ctx context.Context) (*Result, error) {
	located, err := r.source.FindLatestStable(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "find latest stable release")
	}
	if located == nil {
		slog.Warn("GitHub stable release not found")
		return &Result{Outcome: OutcomeNotFound}, nil
	}
	slog.Info("GitHub stable release found", "name", located.Name, "tag", located.TagName)

	result := &Result{Outcome: OutcomeCreated, Tag: located.TagName}

	existing, err := r.mirror.FindByTag(ctx, located.TagName)
	if err != nil {
		return nil, errors.Wrap(err, "find mirror release")
	}
	switch {
	case existing != nil && existing.Syncing():
		slog.Warn("Gitee syncing release found, cleaning up", "tag", existing.TagName)
		if err := r.delete(ctx, existing); err != nil {
			return nil, err
		}
		result.Outcome = OutcomeReplaced
	case existing != nil:
		slog.Info("Gitee release already exists", "tag", existing.TagName)
		result.Outcome = OutcomeAlreadySynced
		return result, nil
	}

	if err := r.create(ctx, located, result); err != nil {
		return nil, err
	}
	if result.Outcome == OutcomeCreateFailed {
		return result, nil
	}

	if err := r.prune(ctx, located.TagName, result); err != nil {
		return nil, err
	}

	slog.Info("sync release completed", "tag", located.TagName, "outcome", result.Outcome.String(), "pruned", len(result.Pruned))
	return result, nil
}

// create mirrors located: the release is created with the sync marker as
// body, assets are transferred and the real body is written last.
func (r *Reconciler) create(ctx context.Context, located *forge.Release, result *Result) error {
	body := forge.ProvenanceBody(r.source.ReleaseURL(located), located.Body)

	if r.dryRun {
		slog.Info("dry-run: would create Gitee release", "tag", located.TagName, "assets", len(located.Assets))
		return nil
	}

	created, err := r.mirror.Create(ctx, located.Name, located.TagName, located.Prerelease)
	if err != nil {
		return errors.Wrap(err, "create mirror release")
	}
	if created == nil {
		slog.Warn("failed to create Gitee release", "tag", located.TagName)
		result.Outcome = OutcomeCreateFailed
		return nil
	}

	if err := r.transfer.Run(ctx, created.ID, located.Assets); err != nil {
		return errors.Wrapf(err, "transfer assets of %s", located.TagName)
	}

	if _, err := r.mirror.Update(ctx, created.ID, located.Name, located.TagName, body, located.Prerelease); err != nil {
		return errors.Wrap(err, "finalize mirror release")
	}
	return nil
}

// prune deletes every mirror release not tagged keep.
func (r *Reconciler) prune(ctx context.Context, keep string, result *Result) error {
	releases, err := r.mirror.ListAll(ctx)
	if err != nil {
		return errors.Wrap(err, "list mirror releases")
	}
	for i := range releases {
		if releases[i].TagName == keep {
			continue
		}
		if err := r.delete(ctx, &releases[i]); err != nil {
			return err
		}
		result.Pruned = append(result.Pruned, releases[i].TagName)
	}
	return nil
}

func (r *Reconciler) delete(ctx context.Context, rel *forge.Release) error {
	if r.dryRun {
		slog.Info("dry-run: would delete Gitee release", "tag", rel.TagName)
		return nil
	}
	if err := r.mirror.Delete(ctx, rel); err != nil {
		return errors.Wrapf(err, "delete mirror release %s", rel.TagName)
	}
	return nil
}
