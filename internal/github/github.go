// Package github locates the newest stable release of a repository through
// the GitHub REST API and streams its assets.
package github

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-resty/resty/v2"

	"github.com/mirrorctl/relmirror/internal/forge"
)

// DefaultAPIURL is the public GitHub REST endpoint.
const DefaultAPIURL = "https://api.github.com"

// Order selects how the newest stable release is chosen.
type Order string

const (
	// OrderAPI trusts the API to list releases newest first and returns the
	// first stable release found.
	OrderAPI Order = "api"
	// OrderSemver reads every page and picks the stable release with the
	// highest tag version.
	OrderSemver Order = "semver"
)

// Options configures a Client.
type Options struct {
	BaseURL  string
	Repo     string // owner/name
	Token    string // optional
	PageSize int
	Policy   *forge.StablePolicy
	Order    Order
}

// Client reads releases of one GitHub repository.
type Client struct {
	client   *resty.Client
	repo     string
	pageSize int
	policy   *forge.StablePolicy
	order    Order
}

// NewClient creates a Client from opts. Missing options take defaults.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultAPIURL
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.Policy == nil {
		opts.Policy = forge.DefaultStablePolicy()
	}
	if opts.Order == "" {
		opts.Order = OrderAPI
	}

	client := forge.NewRESTClient(strings.TrimRight(opts.BaseURL, "/")).
		SetHeader("Accept", "application/vnd.github+json")
	if opts.Token != "" {
		client.SetAuthToken(opts.Token)
	}

	return &Client{
		client:   client,
		repo:     opts.Repo,
		pageSize: opts.PageSize,
		policy:   opts.Policy,
		order:    opts.Order,
	}
}

// Repo returns the owner/name of the source repository.
func (c *Client) Repo() string {
	return c.repo
}

func (c *Client) listPage(ctx context.Context, page int) ([]forge.Release, error) {
	var releases []forge.Release
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"page":     strconv.Itoa(page),
			"per_page": strconv.Itoa(c.pageSize),
		}).
		SetResult(&releases).
		Get("/repos/" + c.repo + "/releases")
	if err != nil {
		return nil, errors.Wrapf(err, "list GitHub releases of %s (page %d)", c.repo, page)
	}
	if err := forge.CheckResponse(resp); err != nil {
		return nil, err
	}
	return releases, nil
}

// FindLatestStable returns the newest stable release, or nil when the
// repository has none.
func (c *Client) FindLatestStable(ctx context.Context) (*forge.Release, error) {
	if c.order == OrderSemver {
		return c.findHighestStable(ctx)
	}

	for page := 1; ; page++ {
		releases, err := c.listPage(ctx, page)
		if err != nil {
			return nil, err
		}
		if len(releases) == 0 {
			return nil, nil
		}

		for i := range releases {
			if c.policy.IsStable(&releases[i]) {
				return &releases[i], nil
			}
			slog.Debug("skipping release", "repo", c.repo, "name", releases[i].Name, "tag", releases[i].TagName)
		}
	}
}

func (c *Client) findHighestStable(ctx context.Context) (*forge.Release, error) {
	var candidates []forge.Release
	for page := 1; ; page++ {
		releases, err := c.listPage(ctx, page)
		if err != nil {
			return nil, err
		}
		if len(releases) == 0 {
			break
		}
		for i := range releases {
			if c.policy.IsStable(&releases[i]) {
				candidates = append(candidates, releases[i])
			}
		}
	}

	if len(candidates) == 0 {
		return nil, nil
	}
	forge.SortNewestFirst(candidates)
	return &candidates[0], nil
}

// ReleaseURL returns the web page of r on GitHub.
func (c *Client) ReleaseURL(r *forge.Release) string {
	if r.HTMLURL != "" {
		return r.HTMLURL
	}
	return fmt.Sprintf("https://github.com/%s/releases/tag/%s", c.repo, r.TagName)
}

// OpenAsset starts downloading a release asset. The caller must close the
// returned body. size is -1 when the server does not announce it.
func (c *Client) OpenAsset(ctx context.Context, asset forge.Asset) (body io.ReadCloser, size int64, err error) {
	if asset.BrowserDownloadURL == "" {
		return nil, 0, errors.Newf("asset %q has no download URL", asset.Name)
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/octet-stream").
		SetDoNotParseResponse(true).
		Get(asset.BrowserDownloadURL)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "download asset %q", asset.Name)
	}

	raw := resp.RawBody()
	if !resp.IsSuccess() {
		b, _ := io.ReadAll(io.LimitReader(raw, 64<<10))
		_ = raw.Close()
		apiErr := forge.NewAPIError(resp.Request.Method, asset.BrowserDownloadURL, resp.StatusCode(), b)
		slog.Error("error occurred when downloading asset", "asset", asset.Name,
			"status", apiErr.StatusCode, "response", apiErr.Body)
		return nil, 0, apiErr
	}

	return raw, resp.RawResponse.ContentLength, nil
}
