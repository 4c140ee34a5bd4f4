package server

import (
	"bytes"
	"encoding/json"
	"image"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MeKo-Tech/defectscan/internal/auth"
	"github.com/MeKo-Tech/defectscan/internal/detector"
	"github.com/MeKo-Tech/defectscan/internal/storage"
	"github.com/MeKo-Tech/defectscan/internal/store"
	"github.com/MeKo-Tech/defectscan/internal/testutil"
	"github.com/MeKo-Tech/defectscan/internal/tiling"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testPublicURL = "http://127.0.0.1:5003"

// testEnv is a server wired to blob models, a temp database and temp storage.
type testEnv struct {
	srv     *Server
	handler http.Handler
	root    string
	v8      *testutil.BlobModel
	v11     *testutil.BlobModel
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	root := t.TempDir()

	v8, v11 := testutil.NewBlobModel(), testutil.NewBlobModel()
	v8Params := tiling.DefaultParams()
	v8Params.Policy = tiling.PolicyAdaptive
	v8Params.Overlap = 0.1
	v8Params.MergeIoU = 0.2
	v8Params.MergeConfidence = 0.2

	reg := detector.NewRegistry(detector.VersionYOLOv11)
	d8, err := detector.New(detector.VersionYOLOv8, v8, v8Params)
	require.NoError(t, err)
	require.NoError(t, reg.Register(d8))
	d11, err := detector.New(detector.VersionYOLOv11, v11, tiling.DefaultParams())
	require.NoError(t, err)
	require.NoError(t, reg.Register(d11))

	db, err := store.Open(filepath.Join(root, "data", "test.db"), 1000)
	require.NoError(t, err)
	issuer, err := auth.NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	files, err := storage.New(filepath.Join(root, "uploads"), filepath.Join(root, "tmp"))
	require.NoError(t, err)

	download := filepath.Join(root, "data", "testfile.zip")
	require.NoError(t, os.WriteFile(download, []byte("PK-archive"), 0o600))

	cfg := Config{
		CORSOrigin:   "*",
		MaxUploadMB:  5,
		TimeoutSec:   30,
		PublicURL:    testPublicURL,
		DownloadFile: download,
		BcryptCost:   bcrypt.MinCost,
		Version:      "test",
	}
	for _, m := range mutate {
		m(&cfg)
	}

	srv, err := NewServer(cfg, Deps{Registry: reg, DB: db, Issuer: issuer, Files: files})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	return &testEnv{srv: srv, handler: srv.Handler(), root: root, v8: v8, v11: v11}
}

// do sends req through the full route table.
func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

// doJSON sends body as JSON with an optional bearer token.
func (e *testEnv) doJSON(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return e.do(req)
}

// login registers username and returns a token for it.
func (e *testEnv) login(t *testing.T, username string) string {
	t.Helper()
	w := e.doJSON(t, http.MethodPost, "/api/register", "", map[string]string{
		"username": username, "password": "pw-" + username, "email": username + "@example.com",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.doJSON(t, http.MethodPost, "/api/login", "", map[string]string{
		"username": username, "password": "pw-" + username,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

// uploadRequest builds a multipart /upload request.
func uploadRequest(t *testing.T, token, filename string, data []byte, version string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	if version != "" {
		require.NoError(t, mw.WriteField("version", version))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

// defectPNG is a 640x480 surface with one defect at (100,100)-(160,140).
func defectPNG(t *testing.T) []byte {
	t.Helper()
	return testutil.EncodePNG(t, testutil.CreateDefectImage(640, 480, image.Rect(100, 100, 160, 140)))
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}
