// Package serve implements the HTTP backend of the recipe editor: listing,
// reading and saving recipe documents under a directory, and previewing
// their steps.
package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ormasoftchile/recipe/pkg/document"
	"github.com/ormasoftchile/recipe/pkg/recipe"
)

// RecipePattern matches recipe documents below the recipes directory.
const RecipePattern = "**/*.{md,mdx}"

const shutdownTimeout = 5 * time.Second

// ErrInvalidPath is returned for recipe paths that are absolute or leave
// the recipes directory.
var ErrInvalidPath = errors.New("invalid recipe path")

// Server serves the recipes below one directory.
type Server struct {
	dir    string
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a server for dir, creating the directory when missing.
func New(dir string, opts ...Option) (*Server, error) {
	s := &Server{dir: dir, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recipes dir: %w", err)
	}
	return s, nil
}

// SaveRequest is the body of POST /recipes.
type SaveRequest struct {
	Code   string `json:"code"`
	Recipe string `json:"recipe"`
}

// SourceRequest is the body of POST /recipes/src.
type SourceRequest struct {
	Recipe string `json:"recipe"`
}

// StepInfo describes one step of a recipe.
type StepInfo struct {
	Index    int                 `json:"index"`
	Text     string              `json:"text"`
	Commands recipe.CommandGroup `json:"commands"`
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/recipes", s.list)
	r.Post("/recipes", s.save)
	r.Post("/recipes/src", s.source)
	r.Get("/recipes/steps", s.steps)
	r.Handle("/metrics", promhttp.Handler())
	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("serving recipes", "dir", s.dir, "addr", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// List returns the recipe paths relative to the recipes directory, sorted.
func (s *Server) List() ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(s.dir), RecipePattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("list recipes: %w", err)
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, filepath.FromSlash(m))
	}
	sort.Strings(out)
	return out, nil
}

// Read returns the source of a recipe.
func (s *Server) Read(name string) (string, error) {
	path, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read recipe %s: %w", name, err)
	}
	return string(data), nil
}

// Save writes code to a recipe when it differs from the current source.
// It reports whether the file changed.
func (s *Server) Save(name, code string) (bool, error) {
	path, err := s.resolve(name)
	if err != nil {
		return false, err
	}
	current, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("read recipe %s: %w", name, err)
	}
	if err == nil && string(current) == code {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create recipe dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return false, fmt.Errorf("write recipe %s: %w", name, err)
	}
	return true, nil
}

// Steps parses a recipe into its steps and their commands.
func (s *Server) Steps(name string) ([]StepInfo, error) {
	src, err := s.Read(name)
	if err != nil {
		return nil, err
	}
	doc, err := document.Parse([]byte(src))
	if err != nil {
		return nil, err
	}
	steps := recipe.Segment(doc)
	out := make([]StepInfo, 0, len(steps))
	for _, st := range steps {
		out = append(out, StepInfo{Index: st.Index, Text: st.Markdown(), Commands: recipe.Extract(st)})
	}
	return out, nil
}

func (s *Server) resolve(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	clean := filepath.Clean(filepath.FromSlash(name))
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, name)
	}
	return filepath.Join(s.dir, clean), nil
}

// --- handlers ---

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	names, err := s.List()
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, names)
}

func (s *Server) source(w http.ResponseWriter, r *http.Request) {
	var body SourceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if body.Recipe == "" {
		s.fail(w, http.StatusBadRequest, errors.New("did not receive recipe"))
		return
	}
	code, err := s.Read(body.Recipe)
	if err != nil {
		s.fail(w, statusOf(err), err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, _ = w.Write([]byte(code))
}

func (s *Server) save(w http.ResponseWriter, r *http.Request) {
	var body SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if body.Code == "" || body.Recipe == "" {
		s.fail(w, http.StatusBadRequest, errors.New("did not receive code"))
		return
	}
	changed, err := s.Save(body.Recipe, body.Code)
	if err != nil {
		s.fail(w, statusOf(err), err)
		return
	}
	if changed {
		s.logger.Info("updated recipe", "recipe", body.Recipe)
	}
	s.writeJSON(w, map[string]any{"status": "success", "changed": changed})
}

func (s *Server) steps(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("recipe")
	steps, err := s.Steps(name)
	if err != nil {
		s.fail(w, statusOf(err), err)
		return
	}
	s.writeJSON(w, steps)
}

func statusOf(err error) int {
	var perr *document.ParseError
	switch {
	case errors.Is(err, ErrInvalidPath), errors.As(err, &perr):
		return http.StatusBadRequest
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	} else {
		s.logger.Warn("request rejected", "status", status, "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}
