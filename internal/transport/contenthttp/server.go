// Package contenthttp serves package content bytes over HTTP, content
// addressed by digest, using the on-disk layout the sync engine's content
// fetcher writes to (spec §6): digests of length 20 are SHA-1, length 32
// are SHA-256, and a ".done" sibling marker proves a download completed
// verification. This package only serves; writing content is the content
// downloader's concern (out of scope per spec.md's Non-goals).
package contenthttp

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/mscatalog/catalogrelay/pkg/metrics"
)

// Server serves GET/HEAD /microsoftupdate/content/{hex-digest}.
type Server struct {
	baseDir string
	limiter *rate.Limiter
	metrics *metrics.HTTPMetrics
	logger  *slog.Logger
}

// New builds a Server rooted at baseDir. maxRPS <= 0 disables rate limiting.
func New(baseDir string, maxRPS float64, m *metrics.HTTPMetrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if maxRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(maxRPS), int(maxRPS)+1)
	}
	return &Server{
		baseDir: baseDir,
		limiter: limiter,
		metrics: m,
		logger:  logger.With("component", "contenthttp"),
	}
}

// Routes mounts the content surface on a fresh subrouter.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	handler := http.HandlerFunc(s.handleContent)
	wrapped := http.Handler(handler)
	if s.metrics != nil {
		wrapped = s.metrics.Middleware(wrapped)
	}
	r.Handle("/microsoftupdate/content/{digest}", s.rateLimited(wrapped)).Methods(http.MethodGet, http.MethodHead)
	return r
}

func (s *Server) rateLimited(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	digestHex := mux.Vars(r)["digest"]
	raw, err := hex.DecodeString(digestHex)
	if err != nil || (len(raw) != 20 && len(raw) != 32) {
		http.Error(w, "malformed digest", http.StatusBadRequest)
		return
	}

	dir := s.digestDir(raw)
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) == 0 {
		http.NotFound(w, r)
		return
	}

	var filePath string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".done") {
			continue
		}
		filePath = filepath.Join(dir, e.Name())
		break
	}
	if filePath == "" {
		http.NotFound(w, r)
		return
	}
	if _, err := os.Stat(filePath + ".done"); err != nil {
		s.logger.Debug("content requested before completion marker written", "digest", digestHex)
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(filePath)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		http.Error(w, "stat failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, r, filepath.Base(filePath), fi.ModTime(), f)
}

// digestDir returns the content-addressed directory for digest, per spec
// §6: "<root>/content/<last-byte-of-digest:hex>/<base64-digest with
// '/'->'_'>".
func (s *Server) digestDir(digest []byte) string {
	lastByte := fmt.Sprintf("%02x", digest[len(digest)-1])
	b64 := strings.ReplaceAll(base64.StdEncoding.EncodeToString(digest), "/", "_")
	return filepath.Join(s.baseDir, "content", lastByte, b64)
}
