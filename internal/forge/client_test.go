package forge

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
)

func TestRedactURL(t *testing.T) {
	t.Parallel()

	u, err := url.Parse("https://gitee.com/api/v5/repos/o/r/releases?access_token=secret&page=1")
	if err != nil {
		t.Fatal(err)
	}
	got := RedactURL(u)
	if strings.Contains(got, "secret") {
		t.Errorf("token leaked: %s", got)
	}
	if !strings.Contains(got, "page=1") {
		t.Errorf("other parameters lost: %s", got)
	}
	if RedactURL(nil) != "" {
		t.Error("RedactURL(nil) should be empty")
	}
}

func TestCheckResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewRESTClient(server.URL)

	resp, err := client.R().Get("/ok")
	if err != nil {
		t.Fatal(err)
	}
	if err := CheckResponse(resp); err != nil {
		t.Errorf("CheckResponse(204) = %v, want nil", err)
	}

	resp, err = client.R().SetQueryParam("access_token", "secret").Get("/fail")
	if err != nil {
		t.Fatal(err)
	}
	err = CheckResponse(resp)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("CheckResponse(401) = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", apiErr.StatusCode)
	}
	if apiErr.Method != http.MethodGet {
		t.Errorf("Method = %q, want GET", apiErr.Method)
	}
	if strings.Contains(apiErr.Error(), "secret") {
		t.Errorf("token leaked in error: %s", apiErr.Error())
	}
	if !strings.Contains(apiErr.Body, "bad token") {
		t.Errorf("Body = %q, want response text", apiErr.Body)
	}
}
