/*
Package relmirror is a tool for mirroring the latest stable GitHub release
of a repository to Gitee.

relmirror keeps a single release on the Gitee side, with features including:
  - Stable release selection by tag pattern and name keywords
  - Resumable syncs marked by a placeholder release body
  - Asset transfer through a scratch directory with progress logging
  - Optional PGP verification of signed assets
  - File locking against concurrent runs

The main packages are:

	github.com/mirrorctl/relmirror/internal/forge     - Release data model and stable selection
	github.com/mirrorctl/relmirror/internal/github    - GitHub release lookup
	github.com/mirrorctl/relmirror/internal/gitee     - Gitee release management
	github.com/mirrorctl/relmirror/internal/transfer  - Asset download and upload
	github.com/mirrorctl/relmirror/internal/mirror    - Configuration and sync logic
	github.com/mirrorctl/relmirror/cmd/relmirror      - Command-line interface
*/
package relmirror
