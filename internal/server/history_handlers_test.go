package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/MeKo-Tech/defectscan/internal/detector"
	"github.com/MeKo-Tech/defectscan/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRecords(t *testing.T, env *testEnv, userID int64, n int) {
	t.Helper()
	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	for i := range n {
		require.NoError(t, env.srv.records.Insert(context.Background(), &store.Record{
			UserID:           userID,
			OriginalImageURL: testPublicURL + "/tmp/ct/x.png",
			DetectedImageURL: testPublicURL + "/tmp/draw/x.png?t=1",
			Detections:       []detector.Detection{},
			ModelVersion:     detector.VersionYOLOv11,
			CreatedAt:        base.Add(time.Duration(i) * time.Minute),
		}))
	}
}

func userID(t *testing.T, env *testEnv, token string) int64 {
	t.Helper()
	id, err := env.srv.issuer.Parse(token)
	require.NoError(t, err)
	return id
}

func TestServer_HistoryHandler(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "alice")
	seedRecords(t, env, userID(t, env, token), 23)

	tests := []struct {
		name        string
		query       string
		expectedLen int
		expected    store.Pagination
	}{
		{"defaults", "", 10, store.Pagination{Total: 23, Page: 1, PerPage: 10, TotalPages: 3}},
		{"last page", "?page=3&per_page=10", 3, store.Pagination{Total: 23, Page: 3, PerPage: 10, TotalPages: 3}},
		{"custom size", "?page=2&per_page=5", 5, store.Pagination{Total: 23, Page: 2, PerPage: 5, TotalPages: 5}},
		{"past the end", "?page=9", 0, store.Pagination{Total: 23, Page: 9, PerPage: 10, TotalPages: 3}},
		{"clamped", "?page=0&per_page=1000", 23, store.Pagination{Total: 23, Page: 1, PerPage: 100, TotalPages: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.doJSON(t, http.MethodGet, "/api/history"+tt.query, token, nil)
			require.Equal(t, http.StatusOK, w.Code)
			resp := decodeBody[HistoryResponse](t, w)
			assert.Equal(t, 1, resp.Status)
			assert.Len(t, resp.Records, tt.expectedLen)
			assert.Equal(t, tt.expected, resp.Pagination)
		})
	}

	t.Run("newest first", func(t *testing.T) {
		resp := decodeBody[HistoryResponse](t, env.doJSON(t, http.MethodGet, "/api/history?per_page=2", token, nil))
		require.Len(t, resp.Records, 2)
		assert.True(t, resp.Records[0].CreatedAt.After(resp.Records[1].CreatedAt))
	})

	t.Run("invalid page", func(t *testing.T) {
		w := env.doJSON(t, http.MethodGet, "/api/history?page=abc", token, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("records are per user", func(t *testing.T) {
		other := env.login(t, "bob")
		resp := decodeBody[HistoryResponse](t, env.doJSON(t, http.MethodGet, "/api/history", other, nil))
		assert.Empty(t, resp.Records)
		assert.NotNil(t, resp.Records)
	})
}

func TestServer_HistoryDeleteHandler(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")
	seedRecords(t, env, userID(t, env, alice), 1)

	list := decodeBody[HistoryResponse](t, env.doJSON(t, http.MethodGet, "/api/history", alice, nil))
	require.Len(t, list.Records, 1)
	id := list.Records[0].ID

	w := env.doJSON(t, http.MethodPost, "/api/history/delete", bob, map[string]int64{"record_id": id})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Record not found or not authorized", decodeBody[StatusResponse](t, w).Message)

	w = env.doJSON(t, http.MethodPost, "/api/history/delete", alice, map[string]int64{"record_id": id})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[StatusResponse](t, w)
	assert.Equal(t, 1, resp.Status)
	assert.Equal(t, "Record deleted", resp.Message)

	w = env.doJSON(t, http.MethodPost, "/api/history/delete", alice, map[string]int64{"record_id": id})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.doJSON(t, http.MethodPost, "/api/history/delete", alice, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.doJSON(t, http.MethodGet, "/api/history/delete", alice, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
