package github

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/mirrorctl/relmirror/internal/forge"
)

// releaseServer serves pages of releases for "owner/repo".
type releaseServer struct {
	server   *httptest.Server
	pages    [][]forge.Release
	requests int64
	lastAuth atomic.Value
}

func newReleaseServer(t *testing.T, pages ...[]forge.Release) *releaseServer {
	t.Helper()
	rs := &releaseServer{pages: pages}
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/owner/repo/releases", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&rs.requests, 1)
		rs.lastAuth.Store(r.Header.Get("Authorization"))
		page, err := strconv.Atoi(r.URL.Query().Get("page"))
		if err != nil || page < 1 {
			http.Error(w, "bad page", http.StatusBadRequest)
			return
		}
		items := []forge.Release{}
		if page <= len(rs.pages) {
			items = rs.pages[page-1]
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(items)
	})
	mux.HandleFunc("/download/app.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = io.WriteString(w, "payload")
	})
	rs.server = httptest.NewServer(mux)
	t.Cleanup(rs.server.Close)
	return rs
}

func (rs *releaseServer) client(order Order) *Client {
	return NewClient(Options{
		BaseURL:  rs.server.URL,
		Repo:     "owner/repo",
		PageSize: 2,
		Order:    order,
	})
}

func TestFindLatestStableFirstMatch(t *testing.T) {
	t.Parallel()

	rs := newReleaseServer(t,
		[]forge.Release{
			{Name: "v2.1.0-beta", TagName: "v2.1.0-beta"},
			{Name: "v2.0.0", TagName: "v2.0.0"},
		},
		[]forge.Release{
			{Name: "v3.0.0", TagName: "v3.0.0"},
		},
	)

	r, err := rs.client(OrderAPI).FindLatestStable(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if r == nil || r.TagName != "v2.0.0" {
		t.Fatalf("FindLatestStable() = %+v, want v2.0.0", r)
	}
	if n := atomic.LoadInt64(&rs.requests); n != 1 {
		t.Errorf("requests = %d, want 1 (stop at the first match)", n)
	}
}

func TestFindLatestStableLaterPage(t *testing.T) {
	t.Parallel()

	rs := newReleaseServer(t,
		[]forge.Release{
			{Name: "v2.0.0-rc1", TagName: "v2.0.0-rc1"},
			{Name: "nightly", TagName: "nightly"},
		},
		[]forge.Release{
			{Name: "v1.9.0", TagName: "v1.9.0"},
		},
	)

	r, err := rs.client(OrderAPI).FindLatestStable(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if r == nil || r.TagName != "v1.9.0" {
		t.Fatalf("FindLatestStable() = %+v, want v1.9.0", r)
	}
}

func TestFindLatestStableNotFound(t *testing.T) {
	t.Parallel()

	rs := newReleaseServer(t,
		[]forge.Release{
			{Name: "v1.0.0-alpha", TagName: "v1.0.0-alpha"},
			{Name: "test build", TagName: "build-1"},
		},
	)

	r, err := rs.client(OrderAPI).FindLatestStable(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if r != nil {
		t.Fatalf("FindLatestStable() = %+v, want nil", r)
	}
	if n := atomic.LoadInt64(&rs.requests); n != 2 {
		t.Errorf("requests = %d, want 2 (one page plus the empty page)", n)
	}
}

func TestFindLatestStableSemverOrder(t *testing.T) {
	t.Parallel()

	rs := newReleaseServer(t,
		[]forge.Release{
			{Name: "v1.9.0", TagName: "v1.9.0"},
			{Name: "v2.1.0-beta", TagName: "v2.1.0-beta"},
		},
		[]forge.Release{
			{Name: "v2.0.0", TagName: "v2.0.0"},
		},
	)

	r, err := rs.client(OrderSemver).FindLatestStable(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if r == nil || r.TagName != "v2.0.0" {
		t.Fatalf("FindLatestStable() = %+v, want v2.0.0", r)
	}
	if n := atomic.LoadInt64(&rs.requests); n != 3 {
		t.Errorf("requests = %d, want 3 (all pages plus the empty page)", n)
	}
}

func TestFindLatestStableAPIError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"rate limited"}`, http.StatusForbidden)
	}))
	defer server.Close()

	c := NewClient(Options{BaseURL: server.URL, Repo: "owner/repo"})
	_, err := c.FindLatestStable(context.Background())
	var apiErr *forge.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *forge.APIError", err)
	}
	if apiErr.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", apiErr.StatusCode)
	}
}

func TestTokenIsSent(t *testing.T) {
	t.Parallel()

	rs := newReleaseServer(t)
	c := NewClient(Options{BaseURL: rs.server.URL, Repo: "owner/repo", Token: "ghp_x"})
	if _, err := c.FindLatestStable(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := rs.lastAuth.Load(); got != "Bearer ghp_x" {
		t.Errorf("Authorization = %v, want Bearer ghp_x", got)
	}
}

func TestOpenAsset(t *testing.T) {
	t.Parallel()

	rs := newReleaseServer(t)
	c := rs.client(OrderAPI)

	body, size, err := c.OpenAsset(context.Background(), forge.Asset{
		Name:               "app.tar.gz",
		BrowserDownloadURL: rs.server.URL + "/download/app.tar.gz",
	})
	if err != nil {
		t.Fatal(err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "payload" {
		t.Errorf("body = %q, want payload", data)
	}
	if size != int64(len("payload")) {
		t.Errorf("size = %d, want %d", size, len("payload"))
	}

	_, _, err = c.OpenAsset(context.Background(), forge.Asset{
		Name:               "missing.zip",
		BrowserDownloadURL: rs.server.URL + "/download/missing.zip",
	})
	var apiErr *forge.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("OpenAsset(missing) err = %v, want 404 APIError", err)
	}

	if _, _, err := c.OpenAsset(context.Background(), forge.Asset{Name: "nourl"}); err == nil {
		t.Error("OpenAsset without URL should fail")
	}
}

func TestReleaseURL(t *testing.T) {
	t.Parallel()

	c := NewClient(Options{Repo: "certimate-go/certimate"})
	r := &forge.Release{TagName: "v2.0.0"}
	if got, want := c.ReleaseURL(r), "https://github.com/certimate-go/certimate/releases/tag/v2.0.0"; got != want {
		t.Errorf("ReleaseURL() = %q, want %q", got, want)
	}
	r.HTMLURL = "https://example.com/r"
	if got := c.ReleaseURL(r); got != r.HTMLURL {
		t.Errorf("ReleaseURL() = %q, want html_url", got)
	}
}
