package support

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	"github.com/MeKo-Tech/defectscan/internal/auth"
	"github.com/MeKo-Tech/defectscan/internal/detector"
	"github.com/MeKo-Tech/defectscan/internal/server"
	"github.com/MeKo-Tech/defectscan/internal/storage"
	"github.com/MeKo-Tech/defectscan/internal/store"
	"github.com/MeKo-Tech/defectscan/internal/testutil"
	"golang.org/x/crypto/bcrypt"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	TempDir string

	// Server under test
	HTTPServer *httptest.Server
	Server     *server.Server
	Models     map[string]*testutil.BlobModel
	Config     server.Config

	// Authentication state
	Token string

	// HTTP response state
	LastHTTPStatusCode int
	LastHTTPResponse   []byte
	LastHTTPHeaders    http.Header

	// Last successful upload
	LastUpload *server.UploadResponse

	// WebSocket messages received in the last exchange
	WSMessages []server.WebSocketDetectResponse
}

// NewTestContext creates a scenario context with its own temp directory.
func NewTestContext() (*TestContext, error) {
	dir, err := os.MkdirTemp("", "defectscan-bdd-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	return &TestContext{
		TempDir: dir,
		Models:  make(map[string]*testutil.BlobModel),
		Config: server.Config{
			MaxUploadMB: 5,
			TimeoutSec:  30,
			PublicURL:   "http://127.0.0.1:5003",
			BcryptCost:  bcrypt.MinCost,
			Version:     "bdd",
		},
	}, nil
}

// StartServer wires a server with blob models for YOLOv8 and YOLOv11.
func (testCtx *TestContext) StartServer() error {
	if testCtx.HTTPServer != nil {
		return nil
	}

	reg := detector.NewRegistry(detector.VersionYOLOv11)
	for _, mc := range detector.DefaultModelConfigs("") {
		m := testutil.NewBlobModel()
		d, err := detector.New(mc.Version, m, mc.Params)
		if err != nil {
			return err
		}
		if err := reg.Register(d); err != nil {
			return err
		}
		testCtx.Models[mc.Version] = m
	}

	db, err := store.Open(filepath.Join(testCtx.TempDir, "data", "bdd.db"), 1000)
	if err != nil {
		return err
	}
	issuer, err := auth.NewIssuer("bdd-secret", time.Hour)
	if err != nil {
		return err
	}
	files, err := storage.New(filepath.Join(testCtx.TempDir, "uploads"), filepath.Join(testCtx.TempDir, "tmp"))
	if err != nil {
		return err
	}

	srv, err := server.NewServer(testCtx.Config, server.Deps{Registry: reg, DB: db, Issuer: issuer, Files: files})
	if err != nil {
		return err
	}
	testCtx.Server = srv
	testCtx.HTTPServer = httptest.NewServer(srv.Handler())
	return nil
}

// ServerURL returns the base URL of the running server.
func (testCtx *TestContext) ServerURL() string {
	return testCtx.HTTPServer.URL
}

// Cleanup stops the server and removes scenario files.
func (testCtx *TestContext) Cleanup() error {
	if testCtx.HTTPServer != nil {
		testCtx.HTTPServer.Close()
		testCtx.HTTPServer = nil
	}
	if testCtx.Server != nil {
		_ = testCtx.Server.Close()
		testCtx.Server = nil
	}
	return os.RemoveAll(testCtx.TempDir)
}
