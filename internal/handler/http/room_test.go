package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"multiplayer-life/internal/domain"
	redisstate "multiplayer-life/internal/infra/state/redis"
	"multiplayer-life/internal/repository"
	"multiplayer-life/internal/repository/mocks"
	"multiplayer-life/internal/service"
)

type roomFixture struct {
	router   *gin.Engine
	presence *service.PresenceService
	tokens   *service.TokenService
}

func newRoomFixture(t *testing.T, secret string, snapshots *service.SnapshotService) *roomFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	roomRepo := redisstate.NewRedisRoomRepository(client, "t:", time.Hour)
	stateRepo := redisstate.NewRedisStateRepository(client, "t:", time.Hour)
	merger := service.NewMergeService(stateRepo, service.RetryPolicy{Attempts: 2}, 4, 4)
	grace := service.NewLocalGraceScheduler(nil)
	t.Cleanup(grace.Stop)
	presence := service.NewPresenceService(roomRepo, merger, grace, service.PresenceConfig{Capacity: 2, GracePeriod: time.Minute})
	tokens := service.NewTokenService(secret, time.Hour)

	h := NewRoomHandler(service.NewRoomService(roomRepo), presence, tokens, snapshots)
	router := gin.New()
	router.POST("/api/rooms", h.CreateRoom)
	router.GET("/api/rooms/:roomId", h.GetRoom)
	router.POST("/api/rooms/:roomId/join", h.JoinRoom)
	router.GET("/api/rooms/:roomId/snapshot", h.GetLatestSnapshot)
	return &roomFixture{router: router, presence: presence, tokens: tokens}
}

func (f *roomFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *roomFixture) createRoom(t *testing.T) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/rooms", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp CreateRoomResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.RoomID)
	return resp.RoomID
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"]
}

func TestRoomHandler_CreateAndGet(t *testing.T) {
	f := newRoomFixture(t, "", nil)
	roomID := f.createRoom(t)

	w := f.do(t, http.MethodGet, "/api/rooms/"+roomID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var room domain.Room
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &room))
	assert.Equal(t, roomID, room.ID)
	assert.Equal(t, domain.GameStatusStopped, room.Status)
	assert.False(t, room.HasStarted)
	assert.Empty(t, room.Players)
}

func TestRoomHandler_GetErrors(t *testing.T) {
	f := newRoomFixture(t, "", nil)

	w := f.do(t, http.MethodGet, "/api/rooms/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/rooms/6f1c2d3e-4b5a-4c6d-8e7f-0123456789ab", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, service.ErrRoomNotFound.Error(), errorOf(t, w))
}

func TestRoomHandler_JoinIssuesTokenWithoutMutating(t *testing.T) {
	f := newRoomFixture(t, "secret", nil)
	roomID := f.createRoom(t)

	w := f.do(t, http.MethodPost, "/api/rooms/"+roomID+"/join", JoinRoomRequest{PlayerID: "alice", Name: "Alice"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp JoinRoomResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.PlayerToken)

	claims, err := f.tokens.Verify(resp.PlayerToken)
	require.NoError(t, err)
	assert.Equal(t, roomID, claims.RoomID)
	assert.Equal(t, "alice", claims.PlayerID)

	room, err := f.presence.Room(context.Background(), roomID)
	require.NoError(t, err)
	assert.Empty(t, room.Players, "pre-join must not add the player")
}

func TestRoomHandler_JoinWithoutTokens(t *testing.T) {
	f := newRoomFixture(t, "", nil)
	roomID := f.createRoom(t)

	w := f.do(t, http.MethodPost, "/api/rooms/"+roomID+"/join", JoinRoomRequest{PlayerID: "alice", Name: "Alice"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "player_token")
}

func TestRoomHandler_JoinRejections(t *testing.T) {
	f := newRoomFixture(t, "", nil)
	roomID := f.createRoom(t)
	ctx := context.Background()
	_, err := f.presence.Join(ctx, roomID, "alice", "Alice")
	require.NoError(t, err)
	_, err = f.presence.Join(ctx, roomID, "bob", "Bob")
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/api/rooms/"+roomID+"/join", JoinRoomRequest{PlayerID: "carol", Name: "Carol"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, service.ErrRoomFull.Error(), errorOf(t, w))

	w = f.do(t, http.MethodPost, "/api/rooms/"+roomID+"/join", JoinRoomRequest{PlayerID: "alice", Name: "Alice"})
	assert.Equal(t, http.StatusOK, w.Code, "members can always come back")

	w = f.do(t, http.MethodPost, "/api/rooms/"+roomID+"/join", JoinRoomRequest{PlayerID: "bad id!", Name: "X"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/rooms/"+roomID+"/join", map[string]string{"name": "NoID"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoomHandler_SnapshotDisabled(t *testing.T) {
	f := newRoomFixture(t, "", nil)
	roomID := f.createRoom(t)
	w := f.do(t, http.MethodGet, "/api/rooms/"+roomID+"/snapshot", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoomHandler_LatestSnapshot(t *testing.T) {
	const roomID = "6f1c2d3e-4b5a-4c6d-8e7f-0123456789ab"
	grid := domain.NewGrid(2, 2)
	grid.Set(1, 1, domain.CellState{IsAlive: true, OwnerID: "alice", Color: "#FF0000"})
	snap := &domain.Snapshot{RoomID: roomID, Generation: 12, CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
	require.NoError(t, snap.SetGrid(grid))

	snapshotRepo := new(mocks.SnapshotRepository)
	snapshotRepo.On("GetLatestSnapshot", mock.Anything, roomID).Return(snap, nil)
	snapshotRepo.On("GetLatestSnapshot", mock.Anything, mock.Anything).Return(nil, repository.ErrSnapshotNotFound)
	snapshots := service.NewSnapshotService(snapshotRepo, new(mocks.StateRepository))
	f := newRoomFixture(t, "", snapshots)

	w := f.do(t, http.MethodGet, "/api/rooms/"+roomID+"/snapshot", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp SnapshotResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, uint64(12), resp.Generation)
	assert.Equal(t, "2024-01-02T03:04:05Z", resp.CreatedAt)
	assert.True(t, resp.Grid.At(1, 1).IsAlive)

	w = f.do(t, http.MethodGet, "/api/rooms/0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d/snapshot", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
