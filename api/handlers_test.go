package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"impostor-draw-server/config"
	"impostor-draw-server/game"
	"impostor-draw-server/roomsync"
	"impostor-draw-server/storage"
)

func newTestServer(t *testing.T) (*gin.Engine, *roomsync.Syncer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := storage.NewMemoryStore()
	t.Cleanup(store.Close)
	cfg := config.Defaults()
	syncer := roomsync.NewSyncer(store, game.NewEngine(cfg.Rules(), nil))
	return CreateServer(NewHandler(cfg, syncer), nil), syncer
}

func get(t *testing.T, r http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r, _ := newTestServer(t)
	w := get(t, r, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", w.Body.String())
}

func TestCategories(t *testing.T) {
	r, _ := newTestServer(t)
	w := get(t, r, "/api/categories")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Categories []CategoryResponse `json:"categories"`
		Default    string             `json:"default"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "comida", body.Default)
	require.NotEmpty(t, body.Categories)
	for _, c := range body.Categories {
		assert.NotEmpty(t, c.Key)
		assert.Positive(t, c.Count)
	}
	assert.NotContains(t, w.Body.String(), "pizza", "words must not leak")
}

func TestRoomByCode(t *testing.T) {
	r, syncer := newTestServer(t)
	room, host, err := syncer.CreateRoom(context.Background(), "ABC123", "animales", game.NewPlayer("Ana", game.Avatars[0]))
	require.NoError(t, err)

	testCases := []struct {
		name         string
		path         string
		expectedCode int
	}{
		{name: "exact code", path: "/api/rooms/ABC123", expectedCode: http.StatusOK},
		{name: "lowercase code", path: "/api/rooms/abc123", expectedCode: http.StatusOK},
		{name: "unknown code", path: "/api/rooms/ZZZ999", expectedCode: http.StatusNotFound},
		{name: "malformed code", path: "/api/rooms/nope", expectedCode: http.StatusNotFound},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := get(t, r, tc.path)
			require.Equal(t, tc.expectedCode, w.Code)
			if tc.expectedCode != http.StatusOK {
				assert.Contains(t, w.Body.String(), "room-not-found")
				return
			}
			var got RoomSummary
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			assert.Equal(t, room.ID, got.ID)
			assert.Equal(t, game.PhaseWaiting, got.Phase)
			assert.Equal(t, "animales", got.Category)
			assert.True(t, got.Joinable)
			assert.Equal(t, []PlayerSummary{{ID: host.ID, Name: "Ana", Avatar: game.Avatars[0]}}, got.Players)
		})
	}
}

func TestDrawingsByCode(t *testing.T) {
	r, syncer := newTestServer(t)
	ctx := context.Background()
	room, host, err := syncer.CreateRoom(ctx, "DRAW42", "comida", game.NewPlayer("Ana", game.Avatars[0]))
	require.NoError(t, err)

	for _, attempt := range []int{2, 1} {
		_, err := syncer.SaveDrawing(ctx, roomsync.Drawing{
			RoomID: room.ID, PlayerID: host.ID, Round: 1, Attempt: attempt, Data: "data:image/png;base64,AAAA",
		})
		require.NoError(t, err)
	}

	w := get(t, r, "/api/rooms/DRAW42/drawings")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		RoomID   string             `json:"roomId"`
		Drawings []roomsync.Drawing `json:"drawings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, room.ID, body.RoomID)
	require.Len(t, body.Drawings, 2)
	assert.Equal(t, 1, body.Drawings[0].Attempt)
	assert.Equal(t, 2, body.Drawings[1].Attempt)

	w = get(t, r, "/api/rooms/NOPE00/drawings")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORSRestrictsOrigins(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := storage.NewMemoryStore()
	t.Cleanup(store.Close)
	cfg := config.Defaults()
	cfg.AllowedOrigins = []string{"https://draw.example"}
	r := CreateServer(NewHandler(cfg, roomsync.NewSyncer(store, game.NewEngine(cfg.Rules(), nil))), nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://draw.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://draw.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
