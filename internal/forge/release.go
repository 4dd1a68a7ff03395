// Package forge holds the release model shared by the source and mirror
// forge clients, together with the policies applied to it.
package forge

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// SyncMarker is the body of a mirror release whose assets are still being
// transferred. A mirror release that still carries it after a run is
// incomplete and must be discarded before the tag is synced again.
const SyncMarker = "SYNCING FROM GITHUB, PLEASE WAIT ..."

// ErrInvalidRelease is returned when an operation needs a release
// identifier and none is present.
var ErrInvalidRelease = errors.New("invalid release: missing identifier")

// Asset is a binary file attached to a source release.
type Asset struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	ContentType        string `json:"content_type"`
	Size               int64  `json:"size"`
}

// AttachFile is a file attached to a mirror release.
type AttachFile struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	Size               int64  `json:"size"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Release is a release on either forge. The tag identifies it within a
// repository.
type Release struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	TagName    string    `json:"tag_name"`
	Body       string    `json:"body"`
	Prerelease bool      `json:"prerelease"`
	Draft      bool      `json:"draft"`
	HTMLURL    string    `json:"html_url"`
	CreatedAt  time.Time `json:"created_at"`
	Assets     []Asset   `json:"assets"`
}

// Syncing reports whether r is a mirror release left in progress.
func (r *Release) Syncing() bool {
	return r.Body == SyncMarker
}

// APIError is a non-2xx response from a forge API.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status=%d, response=%s", e.Method, e.URL, e.StatusCode, e.Body)
}

// NewAPIError builds an APIError. CR and LF in body are escaped so the
// response stays on a single log line.
func NewAPIError(method, url string, status int, body []byte) *APIError {
	b := strings.NewReplacer("\r", `\r`, "\n", `\n`).Replace(string(body))
	return &APIError{
		Method:     method,
		URL:        url,
		StatusCode: status,
		Body:       b,
	}
}
