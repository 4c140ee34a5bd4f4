package support

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MeKo-Tech/defectscan/internal/server"
	"github.com/cucumber/godog"
	"github.com/gorilla/websocket"
)

const wsTimeout = 30 * time.Second

// wsURL converts the server URL to the detection socket URL.
func (testCtx *TestContext) wsURL(withToken bool) string {
	u := "ws" + strings.TrimPrefix(testCtx.ServerURL(), "http") + "/ws/detect"
	if withToken && testCtx.Token != "" {
		u += "?token=" + url.QueryEscape(testCtx.Token)
	}
	return u
}

// exchange sends one request and collects messages until a final one arrives.
func (testCtx *TestContext) exchange(req server.WebSocketDetectRequest) error {
	conn, resp, err := websocket.DefaultDialer.Dial(testCtx.wsURL(true), nil)
	if err != nil {
		if resp != nil {
			testCtx.LastHTTPStatusCode = resp.StatusCode
			_ = resp.Body.Close()
		}
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.WriteJSON(req); err != nil {
		return err
	}

	testCtx.WSMessages = nil
	_ = conn.SetReadDeadline(time.Now().Add(wsTimeout))
	for {
		var msg server.WebSocketDetectResponse
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("failed to read message: %w", err)
		}
		testCtx.WSMessages = append(testCtx.WSMessages, msg)
		if msg.Status == "completed" || msg.Status == "error" {
			return nil
		}
	}
}

func (testCtx *TestContext) iSendImageOverWebSocket(width, height int, name, rect string) error {
	r, err := parseRect(rect)
	if err != nil {
		return err
	}
	data := defectImage(width, height, name, r)
	return testCtx.exchange(server.WebSocketDetectRequest{
		Type:     "detect",
		Image:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(data),
		Filename: name,
	})
}

func (testCtx *TestContext) iSendRawMessageOverWebSocket(payload string) error {
	var req server.WebSocketDetectRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return err
	}
	return testCtx.exchange(req)
}

func (testCtx *TestContext) iConnectWithoutToken() error {
	conn, resp, err := websocket.DefaultDialer.Dial(testCtx.wsURL(false), nil)
	if err == nil {
		_ = conn.Close()
		return fmt.Errorf("expected the upgrade to be rejected")
	}
	if resp == nil {
		return fmt.Errorf("no handshake response: %w", err)
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	_ = resp.Body.Close()
	return nil
}

func (testCtx *TestContext) lastMessage() (server.WebSocketDetectResponse, error) {
	if len(testCtx.WSMessages) == 0 {
		return server.WebSocketDetectResponse{}, fmt.Errorf("no WebSocket messages received")
	}
	return testCtx.WSMessages[len(testCtx.WSMessages)-1], nil
}

func (testCtx *TestContext) iShouldReceiveProgressForTiles(tiles int) error {
	seen := 0
	for _, msg := range testCtx.WSMessages {
		if msg.Status != "processing" || msg.TilesTotal == 0 {
			continue
		}
		if msg.TilesTotal != tiles {
			return fmt.Errorf("expected %d tiles total, got %d", tiles, msg.TilesTotal)
		}
		seen++
		if msg.TilesDone != seen {
			return fmt.Errorf("progress out of order: message %d reports %d tiles done", seen, msg.TilesDone)
		}
	}
	if seen != tiles {
		return fmt.Errorf("expected %d progress messages, got %d", tiles, seen)
	}
	return nil
}

func (testCtx *TestContext) theStreamShouldCompleteWithDefects(n int) error {
	msg, err := testCtx.lastMessage()
	if err != nil {
		return err
	}
	if msg.Status != "completed" || msg.Result == nil {
		return fmt.Errorf("expected completed result, got status %q: %s", msg.Status, msg.Error)
	}
	if msg.Result.TotalDefects != n {
		return fmt.Errorf("expected %d defects, got %d", n, msg.Result.TotalDefects)
	}
	if msg.Progress != 1.0 {
		return fmt.Errorf("expected final progress 1.0, got %v", msg.Progress)
	}
	return nil
}

func (testCtx *TestContext) theStreamShouldFailWith(errorType string) error {
	msg, err := testCtx.lastMessage()
	if err != nil {
		return err
	}
	if msg.Type != "error" || msg.Status != "error" {
		return fmt.Errorf("expected error message, got type %q status %q", msg.Type, msg.Status)
	}
	if msg.ErrorType != errorType {
		return fmt.Errorf("expected error type %q, got %q (%s)", errorType, msg.ErrorType, msg.Error)
	}
	return nil
}

func (testCtx *TestContext) theHandshakeShouldBeRejected() error {
	if testCtx.LastHTTPStatusCode != http.StatusUnauthorized {
		return fmt.Errorf("expected status 401, got %d", testCtx.LastHTTPStatusCode)
	}
	return nil
}

// RegisterWebSocketSteps registers streaming detection step definitions.
func (testCtx *TestContext) RegisterWebSocketSteps(sc *godog.ScenarioContext) {
	sc.Step(`^I send a (\d+)x(\d+) image "([^"]*)" with a defect at "([^"]*)" over the WebSocket$`,
		testCtx.iSendImageOverWebSocket)
	sc.Step(`^I send the WebSocket message '([^']*)'$`, testCtx.iSendRawMessageOverWebSocket)
	sc.Step(`^I connect to the WebSocket without a token$`, testCtx.iConnectWithoutToken)
	sc.Step(`^I should receive progress for (\d+) tiles?$`, testCtx.iShouldReceiveProgressForTiles)
	sc.Step(`^the stream should complete with (\d+) defects?$`, testCtx.theStreamShouldCompleteWithDefects)
	sc.Step(`^the stream should fail with "([^"]*)"$`, testCtx.theStreamShouldFailWith)
	sc.Step(`^the handshake should be rejected$`, testCtx.theHandshakeShouldBeRejected)
}

// RegisterSteps registers every step definition of the suite.
func (testCtx *TestContext) RegisterSteps(sc *godog.ScenarioContext) {
	testCtx.RegisterHTTPSteps(sc)
	testCtx.RegisterWebSocketSteps(sc)
}
