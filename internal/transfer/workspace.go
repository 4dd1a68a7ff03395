package transfer

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

const assetsDirName = "assets"

// Workspace is the scratch directory of one run.
type Workspace struct {
	dir string
}

// NewWorkspace creates a fresh scratch directory under parent, or under
// the OS temporary directory when parent is empty.
func NewWorkspace(parent string) (*Workspace, error) {
	dir, err := os.MkdirTemp(parent, "relmirror-")
	if err != nil {
		return nil, errors.Wrap(err, "NewWorkspace")
	}
	if err := os.Mkdir(filepath.Join(dir, assetsDirName), 0o750); err != nil {
		_ = os.RemoveAll(dir)
		return nil, errors.Wrap(err, "NewWorkspace")
	}
	slog.Debug("scratch directory created", "dir", dir)
	return &Workspace{dir: dir}, nil
}

// Dir returns the scratch directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// AssetPath returns where the asset called name is stored.
func (w *Workspace) AssetPath(name string) (string, error) {
	if err := validateAssetName(name); err != nil {
		return "", err
	}
	return filepath.Join(w.dir, assetsDirName, name), nil
}

// Close removes the scratch directory and everything in it.
func (w *Workspace) Close() error {
	if w.dir == "" {
		return nil
	}
	err := os.RemoveAll(w.dir)
	if err == nil {
		slog.Debug("scratch directory removed", "dir", w.dir)
	}
	return err
}

// validateAssetName rejects names that would escape the assets directory.
func validateAssetName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return errors.Newf("invalid asset name %q", name)
	case strings.ContainsAny(name, `/\`):
		return errors.Newf("unsafe asset name (contains path separator): %q", name)
	}
	return nil
}
