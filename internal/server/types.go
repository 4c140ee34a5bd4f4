package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/MeKo-Tech/defectscan/internal/auth"
	"github.com/MeKo-Tech/defectscan/internal/detector"
	"github.com/MeKo-Tech/defectscan/internal/storage"
	"github.com/MeKo-Tech/defectscan/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	registry    *detector.Registry
	db          *store.DB
	users       *store.UserRepository
	records     *store.RecordRepository
	issuer      *auth.Issuer
	files       *storage.Store
	rateLimiter *RateLimiter

	style        detector.AnnotateStyle
	corsOrigin   string
	maxUploadMB  int64
	timeoutSec   int
	publicURL    string
	staticDir    string
	downloadFile string
	bcryptCost   int
	version      string
	now          func() time.Time

	wsReadTimeout time.Duration
	wsReadLimit   int64
}

// Config holds server configuration.
type Config struct {
	CORSOrigin   string
	MaxUploadMB  int64
	TimeoutSec   int
	PublicURL    string
	StaticDir    string
	DownloadFile string
	BcryptCost   int
	Version      string
	Annotate     detector.AnnotateStyle
	RateLimit    RateLimitConfig
}

// Deps are the components the server is built on. The server owns them
// after NewServer succeeds and releases the registry and database on Close.
type Deps struct {
	Registry *detector.Registry
	DB       *store.DB
	Issuer   *auth.Issuer
	Files    *storage.Store
}

// Response types for API endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

type ModelInfo struct {
	Version         string   `json:"version"`
	Default         bool     `json:"default"`
	TilePolicy      string   `json:"tile_policy"`
	TileSize        int      `json:"tile_size"`
	Overlap         float64  `json:"overlap"`
	Confidence      float64  `json:"confidence"`
	MergeIoU        float64  `json:"merge_iou"`
	MergeConfidence float64  `json:"merge_confidence"`
	ClassAware      bool     `json:"class_aware"`
	Classes         []string `json:"classes"`
}

type ModelsResponse struct {
	Models  []ModelInfo `json:"models"`
	Count   int         `json:"count"`
	Default string      `json:"default"`
}

// StatusResponse is the generic {status, message} body.
type StatusResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
}

type UserInfo struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at,omitempty"`
}

type LoginResponse struct {
	Status  int      `json:"status"`
	Message string   `json:"message"`
	Token   string   `json:"token"`
	User    UserInfo `json:"user"`
}

type UserInfoResponse struct {
	Status int      `json:"status"`
	User   UserInfo `json:"user"`
}

type DefectDetection struct {
	Detections   []detector.Detection `json:"detections"`
	TotalDefects int                  `json:"total_defects"`
	DefectTypes  []string             `json:"defect_types"`
}

type UploadResponse struct {
	Status           int             `json:"status"`
	ImageURL         string          `json:"image_url"`
	DrawURL          string          `json:"draw_url"`
	DefectDetection  DefectDetection `json:"defect_detection"`
	RecordID         int64           `json:"record_id"`
	ModelVersion     string          `json:"model_version"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
}

type HistoryResponse struct {
	Status     int              `json:"status"`
	Records    []store.Record   `json:"records"`
	Pagination store.Pagination `json:"pagination"`
}

// NewServer creates a new detection server instance.
func NewServer(config Config, deps Deps) (*Server, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("detector registry is required")
	case deps.DB == nil:
		return nil, errors.New("database is required")
	case deps.Issuer == nil:
		return nil, errors.New("token issuer is required")
	case deps.Files == nil:
		return nil, errors.New("file store is required")
	}

	style := config.Annotate
	if style.Thickness == 0 && style.Color.A == 0 {
		style = detector.DefaultAnnotateStyle()
	}
	corsOrigin := config.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}

	s := &Server{
		registry:     deps.Registry,
		db:           deps.DB,
		users:        store.NewUserRepository(deps.DB),
		records:      store.NewRecordRepository(deps.DB),
		issuer:       deps.Issuer,
		files:        deps.Files,
		style:        style,
		corsOrigin:   corsOrigin,
		maxUploadMB:  config.MaxUploadMB,
		timeoutSec:   config.TimeoutSec,
		publicURL:    config.PublicURL,
		staticDir:    config.StaticDir,
		downloadFile: config.DownloadFile,
		bcryptCost:   config.BcryptCost,
		version:      config.Version,
		now:          time.Now,

		wsReadTimeout: wsReadTimeout,
		wsReadLimit:   wsReadLimit(config.MaxUploadMB),
	}
	if config.RateLimit.Enabled {
		s.rateLimiter = NewRateLimiter(config.RateLimit)
	}
	return s, nil
}

// Close releases server resources.
func (s *Server) Close() error {
	var errs []error
	if s.registry != nil {
		errs = append(errs, s.registry.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/models", s.corsMiddleware(s.modelsHandler))
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/api/register", s.corsMiddleware(s.registerHandler))
	mux.HandleFunc("/api/login", s.corsMiddleware(s.loginHandler))
	mux.HandleFunc("/api/user/info", s.corsMiddleware(s.authMiddleware(s.userInfoHandler)))
	mux.HandleFunc("/api/history", s.corsMiddleware(s.authMiddleware(s.historyHandler)))
	mux.HandleFunc("/api/history/delete", s.corsMiddleware(s.authMiddleware(s.historyDeleteHandler)))

	mux.HandleFunc("/upload", s.corsMiddleware(s.authMiddleware(s.rateLimitMiddleware(s.uploadHandler))))
	mux.HandleFunc("/tmp/", s.corsMiddleware(s.tmpFileHandler))
	mux.HandleFunc("/download", s.corsMiddleware(s.authMiddleware(s.downloadHandler)))

	// The upgrade needs the raw ResponseWriter, so no CORS wrapper here.
	mux.HandleFunc("/ws/detect", s.authMiddleware(s.rateLimitMiddleware(s.detectWebSocketHandler)))

	if s.staticDir != "" {
		mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(s.staticDir))))
		mux.HandleFunc("/{$}", s.rootHandler)
	}
}

// Handler returns a ServeMux with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}
