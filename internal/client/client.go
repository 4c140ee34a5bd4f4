// Package client talks to a running defectscan server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/defectscan/internal/server"
	"github.com/MeKo-Tech/defectscan/internal/storage"
)

// ErrNotLoggedIn is returned by calls that need a token before Login ran.
var ErrNotLoggedIn = errors.New("not logged in")

// APIError is a non-success reply from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// Client is an API client. It keeps the token from the last Login.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// New creates a client for baseURL.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", baseURL)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Token returns the current token.
func (c *Client) Token() string { return c.token }

// SetToken sets the token used for authenticated calls.
func (c *Client) SetToken(token string) { c.token = token }

// Health checks server liveness.
func (c *Client) Health(ctx context.Context) (*server.HealthResponse, error) {
	var out server.HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Models lists the server's model versions.
func (c *Client) Models(ctx context.Context) (*server.ModelsResponse, error) {
	var out server.ModelsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/models", nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, username, password, email string) error {
	body := map[string]string{"username": username, "password": password, "email": email}
	var out server.StatusResponse
	return c.doJSON(ctx, http.MethodPost, "/api/register", body, false, &out)
}

// Login authenticates and stores the returned token.
func (c *Client) Login(ctx context.Context, username, password string) (*server.LoginResponse, error) {
	body := map[string]string{"username": username, "password": password}
	var out server.LoginResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/login", body, false, &out); err != nil {
		return nil, err
	}
	if out.Status != 1 || out.Token == "" {
		return nil, fmt.Errorf("login failed: %s", out.Message)
	}
	c.token = out.Token
	return &out, nil
}

// UserInfo returns the logged-in user's profile.
func (c *Client) UserInfo(ctx context.Context) (*server.UserInfo, error) {
	var out server.UserInfoResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/user/info", nil, true, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// Upload sends the image at path for detection. An empty version uses the
// server default.
func (c *Client) Upload(ctx context.Context, path, version string) (*server.UploadResponse, error) {
	if !storage.AllowedUpload(path) {
		return nil, fmt.Errorf("invalid file extension for %s (allowed: png, jpg, jpeg)", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer func() { _ = f.Close() }()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("failed to copy image data: %w", err)
	}
	if version != "" {
		if err := writer.WriteField("version", version); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/upload", &body, true)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var out server.UploadResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History returns one page of the user's detection records.
func (c *Client) History(ctx context.Context, page, perPage int) (*server.HistoryResponse, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if perPage > 0 {
		q.Set("per_page", strconv.Itoa(perPage))
	}
	path := "/api/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out server.HistoryResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteRecord removes one of the user's records.
func (c *Client) DeleteRecord(ctx context.Context, recordID int64) error {
	var out server.StatusResponse
	return c.doJSON(ctx, http.MethodPost, "/api/history/delete", map[string]int64{"record_id": recordID}, true, &out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, authed bool, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body, authed)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, authed bool) (*http.Request, error) {
	if authed && c.token == "" {
		return nil, ErrNotLoggedIn
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do sends req and decodes a 2xx body into out. Other replies become an
// *APIError carrying the server message.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(data))
}
