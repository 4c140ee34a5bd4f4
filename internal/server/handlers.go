package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MeKo-Tech/defectscan/internal/storage"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: s.version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// modelsHandler lists the loaded model versions with their parameters.
func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	versions := s.registry.Versions()
	list := make([]ModelInfo, 0, len(versions))
	for _, v := range versions {
		d, ok := s.registry.Get(v)
		if !ok {
			continue
		}
		p := d.Params()
		list = append(list, ModelInfo{
			Version:         d.Version(),
			Default:         strings.EqualFold(d.Version(), s.registry.Default()),
			TilePolicy:      string(p.Policy),
			TileSize:        p.TileSize,
			Overlap:         p.Overlap,
			Confidence:      p.Confidence,
			MergeIoU:        p.MergeIoU,
			MergeConfidence: p.MergeConfidence,
			ClassAware:      p.ClassAware,
			Classes:         d.Model().ClassNames().Sorted(),
		})
	}

	writeJSON(w, http.StatusOK, ModelsResponse{
		Models:  list,
		Count:   len(list),
		Default: s.registry.Default(),
	})
}

// tmpFileHandler serves working and annotated images below /tmp/.
func (s *Server) tmpFileHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rel := strings.TrimPrefix(r.URL.Path, "/tmp/")
	f, st, err := s.files.Open(rel)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, storage.ErrOutsideRoot) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "File not found"})
			return
		}
		slog.Error("Failed to open stored file", "path", rel, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to read file"})
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", storage.ContentType(rel))
	w.Header().Set("Cache-Control", "max-age=1")
	http.ServeContent(w, r, st.Name(), st.ModTime(), f)
}

// downloadHandler sends the configured download file as an attachment.
func (s *Server) downloadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.downloadFile == "" {
		writeStatus(w, http.StatusNotFound, "File not found")
		return
	}

	f, err := os.Open(s.downloadFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeStatus(w, http.StatusNotFound, "File not found")
			return
		}
		slog.Error("Failed to open download file", "path", s.downloadFile, "error", err)
		writeStatus(w, http.StatusInternalServerError, "Failed to read file")
		return
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil || st.IsDir() {
		writeStatus(w, http.StatusNotFound, "File not found")
		return
	}

	name := filepath.Base(s.downloadFile)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, st.ModTime(), f)
}

// rootHandler redirects to the bundled front end.
func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/static/index.html", http.StatusFound)
}
