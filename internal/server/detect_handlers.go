package server

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MeKo-Tech/defectscan/internal/detector"
	"github.com/MeKo-Tech/defectscan/internal/storage"
	"github.com/MeKo-Tech/defectscan/internal/store"
	"github.com/MeKo-Tech/defectscan/internal/utils"
)

const (
	sourceUpload    = "upload"
	sourceWebSocket = "websocket"

	multipartMemory = 32 << 20
)

// uploadHandler stores an uploaded image, runs the selected detector,
// saves the annotated copy and records the result for the user.
func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.maxUploadMB > 0 {
		limit := s.maxUploadMB << 20
		if r.ContentLength > limit {
			writeStatus(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("File too large (limit %d MB)", s.maxUploadMB))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeStatus(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("File too large (limit %d MB)", s.maxUploadMB))
			return
		}
		writeStatus(w, http.StatusBadRequest, "Invalid file")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeStatus(w, http.StatusBadRequest, "Invalid file")
		return
	}
	defer func() { _ = file.Close() }()
	uploadSizeBytes.Observe(float64(header.Size))

	if !storage.AllowedUpload(header.Filename) {
		writeStatus(w, http.StatusBadRequest, "Invalid file")
		return
	}

	det, err := s.registry.Resolve(r.FormValue("version"))
	if err != nil {
		slog.Error("No detector available", "error", err)
		writeStatus(w, http.StatusInternalServerError, "Defect detection failed")
		return
	}

	name, working, err := s.files.SaveUpload(header.Filename, file)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidName) {
			writeStatus(w, http.StatusBadRequest, "Invalid file")
			return
		}
		slog.Error("Failed to store upload", "filename", header.Filename, "error", err)
		writeStatus(w, http.StatusInternalServerError, "Failed to save file")
		return
	}

	userID, _ := userIDFrom(r.Context())
	slog.Info("Image uploaded", "user_id", userID, "filename", name, "size", header.Size, "version", det.Version())

	res, err := s.detectFile(r.Context(), det, working, s.files.AnnotatedPath(name))
	if err != nil {
		slog.Error("Defect detection error", "filename", name, "version", det.Version(), "error", err)
		writeStatus(w, http.StatusInternalServerError, "Defect detection failed")
		return
	}

	now := s.now()
	rec := &store.Record{
		UserID:           userID,
		OriginalImageURL: s.fileURL(storage.WorkingDir, name),
		DetectedImageURL: fmt.Sprintf("%s?t=%d", s.fileURL(storage.AnnotatedDir, name), now.Unix()),
		Detections:       res.Detections,
		TotalDefects:     res.TotalDefects,
		DefectTypes:      res.DefectTypes,
		ModelVersion:     det.Version(),
		CreatedAt:        now,
	}
	if err := s.records.Insert(r.Context(), rec); err != nil {
		slog.Error("Failed to save detection record", "filename", name, "error", err)
		writeStatus(w, http.StatusInternalServerError, "Failed to save detection record")
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{
		Status:   1,
		ImageURL: rec.OriginalImageURL,
		DrawURL:  rec.DetectedImageURL,
		DefectDetection: DefectDetection{
			Detections:   res.Detections,
			TotalDefects: res.TotalDefects,
			DefectTypes:  res.DefectTypes,
		},
		RecordID:         rec.ID,
		ModelVersion:     det.Version(),
		ProcessingTimeMs: res.ProcessingTimeMs,
	})
}

// detectFile decodes src, runs det on it and writes the annotated image to dst
// in the format of its extension.
func (s *Server) detectFile(ctx context.Context, det *detector.Detector, src, dst string) (*detector.Result, error) {
	img, _, err := utils.LoadImage(src)
	if err != nil {
		return nil, err
	}
	res, err := s.detect(ctx, det, img, sourceUpload, nil)
	if err != nil {
		return nil, err
	}
	if err := utils.SaveImage(detector.Annotate(img, res.Detections, s.style), dst); err != nil {
		return nil, err
	}
	return res, nil
}

// detect runs det under the request timeout and records metrics.
func (s *Server) detect(ctx context.Context, det *detector.Detector, img image.Image, source string,
	progress detector.ProgressFunc,
) (*detector.Result, error) {
	if s.timeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.timeoutSec)*time.Second)
		defer cancel()
	}

	start := time.Now()
	res, err := det.DetectWithProgress(ctx, img, progress)
	if err != nil {
		observeDetection(source, det.Version(), 0, 0, 0, err)
		return nil, err
	}
	observeDetection(source, det.Version(), time.Since(start).Seconds(), res.TileCount, res.TotalDefects, nil)
	return res, nil
}

// fileURL builds the public URL of a stored file.
func (s *Server) fileURL(dir, name string) string {
	return fmt.Sprintf("%s/tmp/%s/%s", strings.TrimRight(s.publicURL, "/"), dir, name)
}
