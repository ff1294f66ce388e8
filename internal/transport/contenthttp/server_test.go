package contenthttp

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeContent(t *testing.T, baseDir string, data []byte) string {
	t.Helper()
	sum := sha256.Sum256(data)
	digest := sum[:]
	lastByte := fmt.Sprintf("%02x", digest[len(digest)-1])
	b64 := strings.ReplaceAll(base64.StdEncoding.EncodeToString(digest), "/", "_")
	dir := filepath.Join(baseDir, "content", lastByte, b64)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	filePath := filepath.Join(dir, "payload.cab")
	require.NoError(t, os.WriteFile(filePath, data, 0o644))
	require.NoError(t, os.WriteFile(filePath+".done", nil, 0o644))
	return hex.EncodeToString(digest)
}

func TestHandleContent_RangeRequest(t *testing.T) {
	baseDir := t.TempDir()
	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i)
	}
	digest := writeContent(t, baseDir, data)

	srv := New(baseDir, 0, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/microsoftupdate/content/"+digest, nil)
	req.Header.Set("Range", "bytes=100-199")
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusPartialContent, rec.Code)
	require.Equal(t, 100, rec.Body.Len())
	require.Equal(t, data[100:200], rec.Body.Bytes())
}

func TestHandleContent_UnknownDigestIs404(t *testing.T) {
	baseDir := t.TempDir()
	srv := New(baseDir, 0, nil, nil)

	unknown := strings.Repeat("ab", 32)
	req := httptest.NewRequest(http.MethodGet, "/microsoftupdate/content/"+unknown, nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleContent_MalformedDigestIs400(t *testing.T) {
	baseDir := t.TempDir()
	srv := New(baseDir, 0, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/microsoftupdate/content/not-hex", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleContent_HeadReturnsSizeOnly(t *testing.T) {
	baseDir := t.TempDir()
	data := []byte("hello world content bytes")
	digest := writeContent(t, baseDir, data)

	srv := New(baseDir, 0, nil, nil)
	req := httptest.NewRequest(http.MethodHead, "/microsoftupdate/content/"+digest, nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, fmt.Sprintf("%d", len(data)), rec.Header().Get("Content-Length"))
	require.Equal(t, 0, rec.Body.Len())
}
