package server

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_HealthHandler(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{"GET request success", http.MethodGet, http.StatusOK},
		{"POST request not allowed", http.MethodPost, http.StatusMethodNotAllowed},
		{"PUT request not allowed", http.MethodPut, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(httptest.NewRequest(tt.method, "/health", nil))
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus != http.StatusOK {
				return
			}
			resp := decodeBody[HealthResponse](t, w)
			assert.Equal(t, "healthy", resp.Status)
			assert.Equal(t, "test", resp.Version)
			assert.NotEmpty(t, resp.Time)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}

func TestServer_ModelsHandler(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/models", nil))
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeBody[ModelsResponse](t, w)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "YOLOv11", resp.Default)
	require.Len(t, resp.Models, 2)

	v8, v11 := resp.Models[0], resp.Models[1]
	assert.Equal(t, "YOLOv8", v8.Version)
	assert.False(t, v8.Default)
	assert.Equal(t, "adaptive", v8.TilePolicy)
	assert.InDelta(t, 0.1, v8.Overlap, 1e-9)
	assert.InDelta(t, 0.2, v8.MergeIoU, 1e-9)

	assert.Equal(t, "YOLOv11", v11.Version)
	assert.True(t, v11.Default)
	assert.Equal(t, "fixed", v11.TilePolicy)
	assert.Equal(t, 640, v11.TileSize)
	assert.InDelta(t, 0.3, v11.Overlap, 1e-9)
	assert.InDelta(t, 0.4, v11.MergeIoU, 1e-9)
	assert.InDelta(t, 0.3, v11.MergeConfidence, 1e-9)
	assert.Equal(t, []string{"scratches"}, v11.Classes)

	w = env.do(httptest.NewRequest(http.MethodPost, "/models", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_TmpFileHandler(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.root, "tmp", "draw", "plate.png"), []byte("png-bytes"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(env.root, "tmp", "ct", "plate.JPG"), []byte("jpg-bytes"), 0o600))

	t.Run("serves png", func(t *testing.T) {
		w := env.do(httptest.NewRequest(http.MethodGet, "/tmp/draw/plate.png?t=123", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
		assert.Equal(t, "png-bytes", w.Body.String())
	})

	t.Run("content type by extension", func(t *testing.T) {
		w := env.do(httptest.NewRequest(http.MethodGet, "/tmp/ct/plate.JPG", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	})

	for _, path := range []string{"/tmp/draw/missing.png", "/tmp/ct", "/tmp/ct/"} {
		t.Run("not found "+path, func(t *testing.T) {
			w := env.do(httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusNotFound, w.Code)
			assert.JSONEq(t, `{"error":"File not found"}`, w.Body.String())
		})
	}
}

func TestServer_DownloadHandler(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/download", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token := env.login(t, "dora")
	w = env.doJSON(t, http.MethodGet, "/download", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="testfile.zip"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "PK-archive", w.Body.String())

	env.srv.downloadFile = filepath.Join(env.root, "nope.zip")
	w = env.doJSON(t, http.MethodGet, "/download", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_RootRedirect(t *testing.T) {
	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<html>ok</html>"), 0o600))
	env := newTestEnv(t, func(c *Config) { c.StaticDir = static })

	w := env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/static/index.html", w.Header().Get("Location"))

	w = env.do(httptest.NewRequest(http.MethodGet, "/static/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestServer_NoStaticDir(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	w := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "defectscan_http_requests_total")
}

func TestNewServer_RequiresDeps(t *testing.T) {
	_, err := NewServer(Config{}, Deps{})
	require.Error(t, err)
}
