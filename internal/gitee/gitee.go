// Package gitee manages the releases of one Gitee repository through the
// Gitee v5 REST API.
package gitee

import (
	"context"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-resty/resty/v2"

	"github.com/mirrorctl/relmirror/internal/forge"
)

// DefaultAPIURL is the public Gitee v5 REST endpoint.
const DefaultAPIURL = "https://gitee.com/api/v5"

const defaultContentType = "application/octet-stream"

// Options configures a Client.
type Options struct {
	BaseURL  string
	Repo     string // owner/name
	Token    string
	PageSize int
}

// Client reads and writes the releases of one Gitee repository.
// The access token is sent as the access_token query parameter.
type Client struct {
	client   *resty.Client
	repo     string
	pageSize int
}

type releaseRequest struct {
	TagName         string  `json:"tag_name"`
	Name            string  `json:"name"`
	Body            string  `json:"body"`
	Prerelease      bool    `json:"prerelease"`
	TargetCommitish *string `json:"target_commitish,omitempty"`
}

// NewClient creates a Client from opts.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultAPIURL
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}

	client := forge.NewRESTClient(strings.TrimRight(opts.BaseURL, "/"))
	if opts.Token != "" {
		client.SetQueryParam("access_token", opts.Token)
	}

	return &Client{
		client:   client,
		repo:     opts.Repo,
		pageSize: opts.PageSize,
	}
}

// Repo returns the owner/name of the mirror repository.
func (c *Client) Repo() string {
	return c.repo
}

func (c *Client) releasesPath() string {
	return "/repos/" + c.repo + "/releases"
}

func (c *Client) releasePath(id int64) string {
	return c.releasesPath() + "/" + strconv.FormatInt(id, 10)
}

func (c *Client) pageParams(page int) map[string]string {
	return map[string]string{
		"page":     strconv.Itoa(page),
		"per_page": strconv.Itoa(c.pageSize),
	}
}

// paginate calls fetch with page numbers starting at 1 until it returns
// an empty page.
func paginate[T any](fetch func(page int) ([]T, error)) ([]T, error) {
	var all []T
	for page := 1; ; page++ {
		items, err := fetch(page)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return all, nil
		}
		all = append(all, items...)
	}
}

// ListAll returns every release of the repository in server order.
func (c *Client) ListAll(ctx context.Context) ([]forge.Release, error) {
	return paginate(func(page int) ([]forge.Release, error) {
		var releases []forge.Release
		resp, err := c.client.R().
			SetContext(ctx).
			SetQueryParams(c.pageParams(page)).
			SetResult(&releases).
			Get(c.releasesPath())
		if err != nil {
			return nil, errors.Wrapf(err, "list Gitee releases of %s (page %d)", c.repo, page)
		}
		if err := forge.CheckResponse(resp); err != nil {
			return nil, err
		}
		return releases, nil
	})
}

// FindByTag returns the release tagged tag, or nil when there is none.
func (c *Client) FindByTag(ctx context.Context, tag string) (*forge.Release, error) {
	releases, err := c.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range releases {
		if releases[i].TagName == tag {
			return &releases[i], nil
		}
	}
	return nil, nil
}

// Create creates a release whose body is forge.SyncMarker. The real body
// is set with Update once every asset has been uploaded. A nil release is
// returned when the API answers without an identifier.
func (c *Client) Create(ctx context.Context, name, tag string, prerelease bool) (*forge.Release, error) {
	target := ""
	var created forge.Release
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(&releaseRequest{
			TagName:         tag,
			Name:            name,
			Body:            forge.SyncMarker,
			Prerelease:      prerelease,
			TargetCommitish: &target,
		}).
		SetResult(&created).
		Post(c.releasesPath())
	if err != nil {
		return nil, errors.Wrapf(err, "create Gitee release %s", tag)
	}
	if err := forge.CheckResponse(resp); err != nil {
		return nil, err
	}
	if created.ID == 0 {
		return nil, nil
	}
	slog.Info("Gitee release created", "repo", c.repo, "tag", tag, "id", created.ID)
	return &created, nil
}

// Update replaces the name, tag, body and prerelease flag of release id.
func (c *Client) Update(ctx context.Context, id int64, name, tag, body string, prerelease bool) (*forge.Release, error) {
	var updated forge.Release
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(&releaseRequest{
			TagName:    tag,
			Name:       name,
			Body:       body,
			Prerelease: prerelease,
		}).
		SetResult(&updated).
		Patch(c.releasePath(id))
	if err != nil {
		return nil, errors.Wrapf(err, "update Gitee release %s", tag)
	}
	if err := forge.CheckResponse(resp); err != nil {
		return nil, err
	}
	slog.Info("Gitee release updated", "repo", c.repo, "tag", tag, "id", id)
	return &updated, nil
}

// ListAttachFiles returns every file attached to release id.
func (c *Client) ListAttachFiles(ctx context.Context, id int64) ([]forge.AttachFile, error) {
	return paginate(func(page int) ([]forge.AttachFile, error) {
		var files []forge.AttachFile
		resp, err := c.client.R().
			SetContext(ctx).
			SetQueryParams(c.pageParams(page)).
			SetResult(&files).
			Get(c.releasePath(id) + "/attach_files")
		if err != nil {
			return nil, errors.Wrapf(err, "list attach files of release %d (page %d)", id, page)
		}
		if err := forge.CheckResponse(resp); err != nil {
			return nil, err
		}
		return files, nil
	})
}

// Delete removes every file attached to r and then r itself.
func (c *Client) Delete(ctx context.Context, r *forge.Release) error {
	if r == nil || r.ID == 0 {
		return forge.ErrInvalidRelease
	}

	files, err := c.ListAttachFiles(ctx, r.ID)
	if err != nil {
		return err
	}

	for _, f := range files {
		slog.Info("deleting Gitee attach file", "repo", c.repo, "tag", r.TagName, "file", f.Name)
		resp, err := c.client.R().
			SetContext(ctx).
			Delete(c.releasePath(r.ID) + "/attach_files/" + strconv.FormatInt(f.ID, 10))
		if err != nil {
			return errors.Wrapf(err, "delete attach file %s of release %s", f.Name, r.TagName)
		}
		if err := forge.CheckResponse(resp); err != nil {
			return err
		}
	}

	slog.Info("deleting Gitee release", "repo", c.repo, "tag", r.TagName)
	resp, err := c.client.R().
		SetContext(ctx).
		Delete(c.releasePath(r.ID))
	if err != nil {
		return errors.Wrapf(err, "delete release %s", r.TagName)
	}
	return forge.CheckResponse(resp)
}

// UploadAsset attaches the file at path to release id. The file is sent
// as the single part of a multipart/form-data body.
func (c *Client) UploadAsset(ctx context.Context, id int64, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "UploadAsset")
	}
	defer f.Close()

	name := filepath.Base(path)
	slog.Info("uploading asset to Gitee", "repo", c.repo, "release", id, "file", name)
	resp, err := c.client.R().
		SetContext(ctx).
		SetMultipartField("file", name, ContentType(name), f).
		Post(c.releasePath(id) + "/attach_files")
	if err != nil {
		return errors.Wrapf(err, "upload asset %s", name)
	}
	if err := forge.CheckResponse(resp); err != nil {
		return err
	}
	slog.Info("asset uploaded", "repo", c.repo, "release", id, "file", name)
	return nil
}

// ContentType guesses the MIME type of a file from its name.
func ContentType(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return defaultContentType
}
