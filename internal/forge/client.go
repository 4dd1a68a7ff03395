package forge

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
)

// UserAgent is sent with every forge API request.
const UserAgent = "relmirror"

// tokenParams are stripped from URLs before they are logged or returned in
// errors.
var tokenParams = []string{"access_token"}

// NewRESTClient returns a resty client for a forge API rooted at baseURL.
//
// No request timeout is set; calls are bounded by their context.
func NewRESTClient(baseURL string) *resty.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConns = 10
	tr.MaxIdleConnsPerHost = 2
	tr.IdleConnTimeout = 90 * time.Second

	return resty.New().
		SetTransport(tr).
		SetBaseURL(baseURL).
		SetHeader("User-Agent", UserAgent)
}

// CheckResponse turns a non-2xx response into an *APIError and logs it.
func CheckResponse(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}

	method, target := "", ""
	if raw := resp.RawResponse; raw != nil && raw.Request != nil {
		method = raw.Request.Method
		target = RedactURL(raw.Request.URL)
	} else if resp.Request != nil {
		method = resp.Request.Method
	}

	apiErr := NewAPIError(method, target, resp.StatusCode(), resp.Body())
	slog.Error("error occurred when sending request", "method", apiErr.Method, "url", apiErr.URL,
		"status", apiErr.StatusCode, "response", apiErr.Body)
	return apiErr
}

// RedactURL returns u as a string with credential query parameters removed.
func RedactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	q := c.Query()
	for _, p := range tokenParams {
		if q.Has(p) {
			q.Set(p, "REDACTED")
		}
	}
	c.RawQuery = q.Encode()
	return c.String()
}
