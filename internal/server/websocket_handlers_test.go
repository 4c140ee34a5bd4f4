package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/defectscan/internal/testutil"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockWebSocketConn records messages written by the handler.
type mockWebSocketConn struct {
	sentMessages [][]byte
}

func (m *mockWebSocketConn) WriteMessage(messageType int, data []byte) error {
	m.sentMessages = append(m.sentMessages, data)
	return nil
}

func (m *mockWebSocketConn) responses(t *testing.T) []WebSocketDetectResponse {
	t.Helper()
	out := make([]WebSocketDetectResponse, len(m.sentMessages))
	for i, data := range m.sentMessages {
		require.NoError(t, json.Unmarshal(data, &out[i]))
	}
	return out
}

func detectRequest(t *testing.T, data []byte, version string) []byte {
	t.Helper()
	msg, err := json.Marshal(WebSocketDetectRequest{
		Type:     "detect",
		Image:    base64.StdEncoding.EncodeToString(data),
		Filename: "frame.png",
		Version:  version,
	})
	require.NoError(t, err)
	return msg
}

func TestServer_HandleWebSocketMessage_Progress(t *testing.T) {
	env := newTestEnv(t)
	// 1000x640 splits into two 640 tiles.
	img := testutil.CreateDefectImage(1000, 640, image.Rect(800, 300, 850, 340))
	conn := &mockWebSocketConn{}

	env.srv.handleWebSocketMessage(context.Background(), conn, detectRequest(t, testutil.EncodePNG(t, img), ""))

	msgs := conn.responses(t)
	require.Len(t, msgs, 4)

	requestID := msgs[0].RequestID
	_, err := uuid.Parse(requestID)
	require.NoError(t, err)

	assert.Equal(t, "processing", msgs[0].Status)
	assert.InDelta(t, 0, msgs[0].Progress, 1e-9)
	assert.Equal(t, "processing", msgs[1].Status)
	assert.InDelta(t, 0.5, msgs[1].Progress, 1e-9)
	assert.Equal(t, 1, msgs[1].TilesDone)
	assert.Equal(t, 2, msgs[1].TilesTotal)
	assert.InDelta(t, 1.0, msgs[2].Progress, 1e-9)

	final := msgs[3]
	assert.Equal(t, "completed", final.Status)
	assert.Equal(t, "frame.png", final.Filename)
	require.NotNil(t, final.Result)
	assert.Equal(t, 1, final.Result.TotalDefects)
	assert.Equal(t, [4]int{800, 300, 850, 340}, final.Result.Detections[0].BBox)
	assert.Equal(t, "YOLOv11", final.Result.Version)

	for _, m := range msgs {
		assert.Equal(t, "detect_response", m.Type)
		assert.Equal(t, requestID, m.RequestID)
	}
}

func TestServer_HandleWebSocketMessage_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name      string
		msg       string
		errorType string
		contains  string
	}{
		{"malformed json", "{", "invalid_request", "Failed to parse request"},
		{"wrong type", `{"type":"classify"}`, "invalid_request", "Unsupported request type: classify"},
		{"no image", `{"type":"detect"}`, "invalid_request", "no image data provided"},
		{"bad base64", `{"type":"detect","image":"***"}`, "invalid_request", "invalid base64"},
		{"not an image", `{"type":"detect","image":"aGVsbG8="}`, "invalid_request", "Failed to decode image"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &mockWebSocketConn{}
			env.srv.handleWebSocketMessage(context.Background(), conn, []byte(tt.msg))

			msgs := conn.responses(t)
			require.Len(t, msgs, 1)
			assert.Equal(t, "error", msgs[0].Type)
			assert.Equal(t, "error", msgs[0].Status)
			assert.Equal(t, tt.errorType, msgs[0].ErrorType)
			assert.Contains(t, msgs[0].Error, tt.contains)
		})
	}

	t.Run("model failure", func(t *testing.T) {
		env.v8.FailOnCall = env.v8.Calls() + 1
		conn := &mockWebSocketConn{}
		img := testutil.CreateDefectImage(320, 320)
		env.srv.handleWebSocketMessage(context.Background(), conn, detectRequest(t, testutil.EncodePNG(t, img), "yolov8"))

		msgs := conn.responses(t)
		require.Len(t, msgs, 2)
		assert.Equal(t, "processing", msgs[0].Status)
		assert.Equal(t, "processing_error", msgs[1].ErrorType)
		assert.Contains(t, msgs[1].Error, "Defect detection failed")
		assert.Equal(t, msgs[0].RequestID, msgs[1].RequestID)
	})
}

func TestDecodeImagePayload(t *testing.T) {
	raw, err := decodeImagePayload("data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("abc")))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(raw))

	raw, err = decodeImagePayload(" " + base64.StdEncoding.EncodeToString([]byte("xyz")) + "\n")
	require.NoError(t, err)
	assert.Equal(t, "xyz", string(raw))

	_, err = decodeImagePayload("")
	require.Error(t, err)
}

func TestServer_WebSocketEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "wendy")

	ts := httptest.NewServer(env.handler)
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/detect"

	t.Run("rejects missing token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		_ = resp.Body.Close()
	})

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer func() { _ = conn.Close() }()

	img := testutil.CreateDefectImage(640, 640, image.Rect(10, 10, 30, 30))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, detectRequest(t, testutil.EncodePNG(t, img), "")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	var final WebSocketDetectResponse
	for final.Status != "completed" && final.Status != "error" {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &final))
	}
	require.Equal(t, "completed", final.Status, final.Error)
	assert.Equal(t, 1, final.Result.TotalDefects)
}

// dialDetect opens an authenticated detection socket on a fresh test server.
func dialDetect(t *testing.T, env *testEnv, user string) *websocket.Conn {
	t.Helper()
	token := env.login(t, user)
	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/detect?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readFinal reads until a completed or error message arrives.
func readFinal(t *testing.T, conn *websocket.Conn) WebSocketDetectResponse {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	var msg WebSocketDetectResponse
	for msg.Status != "completed" && msg.Status != "error" {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		msg = WebSocketDetectResponse{}
		require.NoError(t, json.Unmarshal(data, &msg))
	}
	return msg
}

func TestServer_WebSocketSlowDetectionKeepsConnection(t *testing.T) {
	env := newTestEnv(t)
	env.srv.wsReadTimeout = 300 * time.Millisecond
	env.v11.Delay = 250 * time.Millisecond
	conn := dialDetect(t, env, "slow")

	// Two tiles take longer than the read timeout.
	img := testutil.CreateDefectImage(1000, 640, image.Rect(800, 300, 850, 340))
	req := detectRequest(t, testutil.EncodePNG(t, img), "")

	for i := range 2 {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, req))
		final := readFinal(t, conn)
		require.Equal(t, "completed", final.Status, "request %d: %s", i, final.Error)
		assert.Equal(t, 1, final.Result.TotalDefects)
	}
	assert.Equal(t, int64(4), env.v11.Calls())
}

func TestWSReadLimit(t *testing.T) {
	assert.Zero(t, wsReadLimit(0))
	assert.Equal(t, int64((1<<20)*4/3+wsFrameSlack), wsReadLimit(1))

	// A full-size upload, base64 encoded in a request, fits.
	msg, err := json.Marshal(WebSocketDetectRequest{
		Type:     "detect",
		Image:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(make([]byte, 5<<20)),
		Filename: strings.Repeat("f", 255),
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, int64(len(msg)), wsReadLimit(5))
}

func TestServer_WebSocketRejectsOversizeFrame(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxUploadMB = 1 })
	assert.Equal(t, wsReadLimit(1), env.srv.wsReadLimit)
	conn := dialDetect(t, env, "big")

	payload := `{"type":"detect","image":"` + strings.Repeat("A", 2<<20) + `"}`
	_ = conn.WriteMessage(websocket.TextMessage, []byte(payload))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		assert.Equal(t, websocket.CloseMessageTooBig, closeErr.Code)
	}
	assert.Zero(t, env.v11.Calls())
}
