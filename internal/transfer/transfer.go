// Package transfer moves release assets from the source forge to the
// mirror: every asset is downloaded into a scratch workspace first, then
// uploaded one at a time.
package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/cockroachdb/errors"

	"github.com/mirrorctl/relmirror/internal/forge"
)

// DefaultProgressInterval is the minimum time between two progress logs
// of the same download.
const DefaultProgressInterval = 5 * time.Second

// Source opens asset downloads on the source forge.
type Source interface {
	OpenAsset(ctx context.Context, asset forge.Asset) (io.ReadCloser, int64, error)
}

// Uploader attaches local files to a mirror release.
type Uploader interface {
	UploadAsset(ctx context.Context, releaseID int64, path string) error
}

// File is an asset downloaded into the workspace.
type File struct {
	Asset  forge.Asset
	Path   string
	Size   int64
	SHA256 string
}

// Options configures a Transfer.
type Options struct {
	ProgressInterval time.Duration
	// ShowBar renders a terminal progress bar on stderr for each download.
	ShowBar bool
	// Verifier, when set, checks assets that ship a detached signature.
	Verifier *Verifier
}

// Transfer downloads assets from a Source and uploads them with an
// Uploader.
type Transfer struct {
	source   Source
	uploader Uploader
	ws       *Workspace
	interval time.Duration
	showBar  bool
	verifier *Verifier
	now      func() time.Time
}

// New creates a Transfer storing downloads in ws.
func New(source Source, uploader Uploader, ws *Workspace, opts Options) *Transfer {
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	return &Transfer{
		source:   source,
		uploader: uploader,
		ws:       ws,
		interval: opts.ProgressInterval,
		showBar:  opts.ShowBar,
		verifier: opts.Verifier,
		now:      time.Now,
	}
}

// Run downloads every asset, verifies signatures when configured and then
// uploads the files to release releaseID in the order of assets.
func (t *Transfer) Run(ctx context.Context, releaseID int64, assets []forge.Asset) error {
	files, err := t.Download(ctx, assets)
	if err != nil {
		return err
	}
	if t.verifier != nil {
		if err := t.verifier.verifyFiles(files); err != nil {
			return err
		}
	}
	return t.Upload(ctx, releaseID, files)
}

// Download fetches assets in order into the workspace.
func (t *Transfer) Download(ctx context.Context, assets []forge.Asset) ([]*File, error) {
	files := make([]*File, 0, len(assets))
	for _, asset := range assets {
		f, err := t.download(ctx, asset)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// Upload attaches files to release releaseID one at a time.
func (t *Transfer) Upload(ctx context.Context, releaseID int64, files []*File) error {
	for _, f := range files {
		if err := t.uploader.UploadAsset(ctx, releaseID, f.Path); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transfer) download(ctx context.Context, asset forge.Asset) (*File, error) {
	dest, err := t.ws.AssetPath(asset.Name)
	if err != nil {
		return nil, err
	}

	slog.Info("downloading asset from GitHub", "asset", asset.Name, "url", asset.BrowserDownloadURL)
	body, size, err := t.source.OpenAsset(ctx, asset)
	if err != nil {
		return nil, err
	}
	defer closeBody(body)
	if size < 0 {
		size = asset.Size
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "download")
	}
	defer closeFile(out)

	bar := pb.New64(size).Set(pb.Bytes, true)
	if t.showBar {
		bar.SetWriter(os.Stderr).Start()
		defer bar.Finish()
	}

	progress := &progressLogger{
		name:     asset.Name,
		bar:      bar,
		interval: t.interval,
		now:      t.now,
		last:     t.now(),
	}
	reader := &observedReader{r: bar.NewProxyReader(body), observe: progress.observe}

	hash := sha256.New()
	n, err := io.Copy(io.MultiWriter(hash, out), reader)
	if err != nil {
		return nil, errors.Wrapf(err, "download asset %q", asset.Name)
	}
	if err := out.Sync(); err != nil {
		return nil, errors.Wrap(err, "download")
	}
	progress.done()

	if asset.Size > 0 && n != asset.Size {
		return nil, errors.Newf("asset %q: downloaded %d bytes, expected %d", asset.Name, n, asset.Size)
	}

	f := &File{
		Asset:  asset,
		Path:   dest,
		Size:   n,
		SHA256: hex.EncodeToString(hash.Sum(nil)),
	}
	slog.Info("asset downloaded", "asset", asset.Name, "size", f.Size, "sha256", f.SHA256)
	return f, nil
}

// progressLogger logs the progress of one download at most once per
// interval.
type progressLogger struct {
	name     string
	bar      *pb.ProgressBar
	interval time.Duration
	now      func() time.Time
	last     time.Time
	logged   int
}

func (p *progressLogger) observe() {
	ts := p.now()
	if ts.Sub(p.last) < p.interval {
		return
	}
	p.last = ts
	p.log()
}

// done logs the final state unconditionally.
func (p *progressLogger) done() {
	p.last = p.now()
	p.log()
}

func (p *progressLogger) log() {
	p.logged++
	current, total := p.bar.Current(), p.bar.Total()
	if total <= 0 {
		slog.Info("download progress", "asset", p.name, "bytes", current)
		return
	}
	pct := math.Min(math.Round(10000*float64(current)/float64(total))/100, 100)
	slog.Info("download progress", "asset", p.name, "bytes", current, "total", total, "percent", pct)
}

type observedReader struct {
	r       io.Reader
	observe func()
}

func (o *observedReader) Read(p []byte) (int, error) {
	n, err := o.r.Read(p)
	o.observe()
	return n, err
}

func closeBody(body io.Closer) {
	if err := body.Close(); err != nil {
		slog.Warn("failed to close response body", "error", err)
	}
}

func closeFile(f *os.File) {
	if err := f.Close(); err != nil {
		slog.Warn("failed to close file", "file", f.Name(), "error", err)
	}
}
