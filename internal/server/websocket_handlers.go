package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MeKo-Tech/defectscan/internal/detector"
	"github.com/MeKo-Tech/defectscan/internal/utils"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsPingInterval = 30 * time.Second
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second

	// wsFrameSlack covers the JSON envelope around the base64 image.
	wsFrameSlack = 64 << 10

	wsResponseType = "detect_response"
	wsErrorType    = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketDetectRequest is a detection request sent by the client.
// Image holds base64 image bytes, optionally as a data URL.
type WebSocketDetectRequest struct {
	Type     string `json:"type"`
	Image    string `json:"image"`
	Filename string `json:"filename,omitempty"`
	Version  string `json:"version,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// WebSocketDetectResponse is a progress, result or error message.
type WebSocketDetectResponse struct {
	Type       string           `json:"type"`
	Status     string           `json:"status"` // "processing", "completed", "error"
	Progress   float64          `json:"progress"`
	TilesDone  int              `json:"tiles_done,omitempty"`
	TilesTotal int              `json:"tiles_total,omitempty"`
	Filename   string           `json:"filename,omitempty"`
	Result     *detector.Result `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
	ErrorType  string           `json:"error_type,omitempty"`
	RequestID  string           `json:"request_id,omitempty"`
}

// wsReadLimit is the largest request frame accepted for an upload limit of
// maxUploadMB: the base64 expansion of the limit plus the envelope.
// Zero means unlimited.
func wsReadLimit(maxUploadMB int64) int64 {
	if maxUploadMB <= 0 {
		return 0
	}
	return (maxUploadMB<<20)*4/3 + wsFrameSlack
}

// detectWebSocketHandler upgrades the connection for streaming detection.
func (s *Server) detectWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()
	if s.wsReadLimit > 0 {
		conn.SetReadLimit(s.wsReadLimit)
	}

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	userID, _ := userIDFrom(r.Context())
	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr, "user_id", userID)

	s.handleWebSocketConnection(r.Context(), conn)
}

// handleWebSocketConnection reads requests until the client goes away.
func (s *Server) handleWebSocketConnection(ctx context.Context, conn *websocket.Conn) {
	extendDeadline := func() {
		_ = conn.SetReadDeadline(time.Now().Add(s.wsReadTimeout))
	}
	extendDeadline()
	conn.SetPongHandler(func(string) error {
		extendDeadline()
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("WebSocket error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()

		if messageType == websocket.TextMessage {
			s.handleWebSocketMessage(ctx, conn, data)
		}
		// Detection may outlast the read timeout.
		extendDeadline()
	}
}

// handleWebSocketMessage runs one detection request and streams per-tile
// progress followed by the result. Nothing is persisted.
func (s *Server) handleWebSocketMessage(ctx context.Context, conn WebSocketConnWriter, data []byte) {
	var req WebSocketDetectRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWebSocketError(conn, "", "invalid_request", fmt.Sprintf("Failed to parse request: %v", err))
		return
	}
	if req.Type != "detect" {
		s.sendWebSocketError(conn, "", "invalid_request", "Unsupported request type: "+req.Type)
		return
	}

	requestID := uuid.NewString()

	raw, err := decodeImagePayload(req.Image)
	if err != nil {
		s.sendWebSocketError(conn, requestID, "invalid_request", err.Error())
		return
	}
	img, _, err := utils.DecodeImageBytes(raw)
	if err != nil {
		s.sendWebSocketError(conn, requestID, "invalid_request", fmt.Sprintf("Failed to decode image: %v", err))
		return
	}

	det, err := s.registry.Resolve(req.Version)
	if err != nil {
		s.sendWebSocketError(conn, requestID, "processing_error", err.Error())
		return
	}

	s.sendWebSocketResponse(conn, WebSocketDetectResponse{
		Type:      wsResponseType,
		Status:    "processing",
		Filename:  req.Filename,
		RequestID: requestID,
	})

	progress := func(done, total int) {
		s.sendWebSocketResponse(conn, WebSocketDetectResponse{
			Type:       wsResponseType,
			Status:     "processing",
			Progress:   float64(done) / float64(total),
			TilesDone:  done,
			TilesTotal: total,
			Filename:   req.Filename,
			RequestID:  requestID,
		})
	}

	res, err := s.detect(ctx, det, img, sourceWebSocket, progress)
	if err != nil {
		s.sendWebSocketError(conn, requestID, "processing_error", fmt.Sprintf("Defect detection failed: %v", err))
		return
	}

	s.sendWebSocketResponse(conn, WebSocketDetectResponse{
		Type:       wsResponseType,
		Status:     "completed",
		Progress:   1.0,
		TilesDone:  res.TileCount,
		TilesTotal: res.TileCount,
		Filename:   req.Filename,
		Result:     res,
		RequestID:  requestID,
	})
}

// decodeImagePayload accepts raw base64 or a data URL.
func decodeImagePayload(payload string) ([]byte, error) {
	if payload == "" {
		return nil, fmt.Errorf("no image data provided")
	}
	if strings.HasPrefix(payload, "data:") {
		if _, b64, ok := strings.Cut(payload, ","); ok {
			payload = b64
		}
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image data: %w", err)
	}
	return raw, nil
}

// sendWebSocketResponse sends a response message over WebSocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketDetectResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Failed to marshal WebSocket response", "error", err)
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("Failed to send WebSocket message", "error", err)
		return
	}

	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, requestID, errorType, message string) {
	s.sendWebSocketResponse(conn, WebSocketDetectResponse{
		Type:      wsErrorType,
		Status:    "error",
		Error:     message,
		ErrorType: errorType,
		RequestID: requestID,
	})
}
