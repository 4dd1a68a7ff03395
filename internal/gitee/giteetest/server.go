// Package giteetest provides an in-memory Gitee release API for tests.
package giteetest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/mirrorctl/relmirror/internal/forge"
)

// Upload records one multipart upload received by the server.
type Upload struct {
	ReleaseID   int64
	FileName    string
	ContentType string
	Content     []byte
}

// Server is a fake Gitee API serving the releases of Repo.
type Server struct {
	Repo  string
	Token string

	// CreateWithoutID makes release creation answer without an identifier.
	CreateWithoutID bool
	// Fail, when set, is consulted for every request; a non-zero status
	// makes the server answer with it.
	Fail func(r *http.Request) int

	server *httptest.Server

	mu       sync.Mutex
	nextID   int64
	releases []*forge.Release
	files    map[int64][]forge.AttachFile
	uploads  []Upload
	requests []string
}

// NewServer starts a fake serving repo and requiring token.
func NewServer(repo, token string) *Server {
	s := &Server{
		Repo:   repo,
		Token:  token,
		nextID: 1,
		files:  make(map[int64][]forge.AttachFile),
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the API base URL.
func (s *Server) URL() string {
	return s.server.URL
}

// Close shuts the server down.
func (s *Server) Close() {
	s.server.Close()
}

// Seed adds a release with the given attach file names and returns its ID.
func (s *Server) Seed(r forge.Release, files ...string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.ID = s.nextID
	s.nextID++
	for _, name := range files {
		s.files[r.ID] = append(s.files[r.ID], forge.AttachFile{ID: s.nextID, Name: name})
		s.nextID++
	}
	s.releases = append(s.releases, &r)
	return r.ID
}

// Releases returns a snapshot of the stored releases.
func (s *Server) Releases() []forge.Release {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]forge.Release, 0, len(s.releases))
	for _, r := range s.releases {
		out = append(out, *r)
	}
	return out
}

// AttachFiles returns the files attached to release id.
func (s *Server) AttachFiles(id int64) []forge.AttachFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]forge.AttachFile(nil), s.files[id]...)
}

// Uploads returns every upload received so far.
func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Upload(nil), s.uploads...)
}

// Requests returns "METHOD /path" for every request received so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// MutatingRequests counts the requests other than GET.
func (s *Server) MutatingRequests() int {
	n := 0
	for _, r := range s.Requests() {
		if !strings.HasPrefix(r, http.MethodGet+" ") {
			n++
		}
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func page[T any](r *http.Request, items []T) []T {
	p, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if p < 1 {
		p = 1
	}
	if size < 1 {
		size = 20
	}
	start := (p - 1) * size
	if start >= len(items) {
		return []T{}
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.Method+" "+r.URL.Path)
	s.mu.Unlock()

	if s.Fail != nil {
		if status := s.Fail(r); status != 0 {
			writeJSON(w, status, map[string]string{"message": "injected failure"})
			return
		}
	}
	if s.Token != "" && r.URL.Query().Get("access_token") != s.Token {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "401 Unauthorized: Access token does not exist"})
		return
	}

	prefix := "/repos/" + s.Repo + "/releases"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	parts := []string{}
	if rest != "" {
		parts = strings.Split(rest, "/")
	}

	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		s.listReleases(w, r)
	case len(parts) == 0 && r.Method == http.MethodPost:
		s.createRelease(w, r)
	case len(parts) == 1:
		id, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		s.handleRelease(w, r, id)
	case len(parts) >= 2 && parts[1] == "attach_files":
		id, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		s.handleAttachFiles(w, r, id, parts[2:])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) listReleases(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	all := make([]forge.Release, 0, len(s.releases))
	for _, rel := range s.releases {
		all = append(all, *rel)
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, page(r, all))
}

func (s *Server) decodeRelease(r *http.Request) (forge.Release, error) {
	var body struct {
		TagName    string `json:"tag_name"`
		Name       string `json:"name"`
		Body       string `json:"body"`
		Prerelease bool   `json:"prerelease"`
	}
	err := json.NewDecoder(r.Body).Decode(&body)
	return forge.Release{
		TagName:    body.TagName,
		Name:       body.Name,
		Body:       body.Body,
		Prerelease: body.Prerelease,
	}, err
}

func (s *Server) createRelease(w http.ResponseWriter, r *http.Request) {
	rel, err := s.decodeRelease(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	if s.CreateWithoutID {
		writeJSON(w, http.StatusCreated, map[string]string{})
		return
	}

	s.mu.Lock()
	for _, existing := range s.releases {
		if existing.TagName == rel.TagName {
			s.mu.Unlock()
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "tag already has a release"})
			return
		}
	}
	rel.ID = s.nextID
	s.nextID++
	stored := rel
	s.releases = append(s.releases, &stored)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, rel)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request, id int64) {
	s.mu.Lock()
	idx := -1
	for i, rel := range s.releases {
		if rel.ID == id {
			idx = i
			break
		}
	}
	s.mu.Unlock()
	if idx < 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "release not found"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.mu.Lock()
		rel := *s.releases[idx]
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, rel)
	case http.MethodPatch:
		patch, err := s.decodeRelease(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}
		s.mu.Lock()
		rel := s.releases[idx]
		rel.TagName, rel.Name, rel.Body, rel.Prerelease = patch.TagName, patch.Name, patch.Body, patch.Prerelease
		out := *rel
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, out)
	case http.MethodDelete:
		s.mu.Lock()
		defer s.mu.Unlock()
		if len(s.files[id]) > 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "release still has attach files"})
			return
		}
		s.releases = append(s.releases[:idx], s.releases[idx+1:]...)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAttachFiles(w http.ResponseWriter, r *http.Request, id int64, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		s.mu.Lock()
		files := append([]forge.AttachFile{}, s.files[id]...)
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, page(r, files))
	case len(rest) == 0 && r.Method == http.MethodPost:
		file, header, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}
		defer file.Close()
		content, err := io.ReadAll(file)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}

		s.mu.Lock()
		af := forge.AttachFile{ID: s.nextID, Name: header.Filename, Size: int64(len(content))}
		s.nextID++
		s.files[id] = append(s.files[id], af)
		s.uploads = append(s.uploads, Upload{
			ReleaseID:   id,
			FileName:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Content:     content,
		})
		s.mu.Unlock()
		writeJSON(w, http.StatusCreated, af)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		fid, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		files := s.files[id]
		for i, f := range files {
			if f.ID == fid {
				s.files[id] = append(files[:i], files[i+1:]...)
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "attach file not found"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
