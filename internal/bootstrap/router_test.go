package bootstrap

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multiplayer-life/internal/config"
	httpHandler "multiplayer-life/internal/handler/http"
	wsHandler "multiplayer-life/internal/handler/websocket"
	"multiplayer-life/internal/hub"
	redisstate "multiplayer-life/internal/infra/state/redis"
	"multiplayer-life/internal/service"
)

func newTestRouter(t *testing.T, tokenSecret string, rateMax int) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg, err := config.Load(config.NewViper())
	require.NoError(t, err)
	cfg.RateLimit.Max = rateMax
	cfg.RateLimit.Window = time.Minute

	roomRepo := redisstate.NewRedisRoomRepository(client, "t:", time.Hour)
	stateRepo := redisstate.NewRedisStateRepository(client, "t:", time.Hour)
	merger := service.NewMergeService(stateRepo, service.RetryPolicy{Attempts: 2}, 4, 4)
	grace := service.NewLocalGraceScheduler(nil)
	t.Cleanup(grace.Stop)
	presence := service.NewPresenceService(roomRepo, merger, grace, service.PresenceConfig{Capacity: 4, GracePeriod: time.Minute})
	batcher := service.NewBatcher(merger, service.BatcherConfig{Debounce: time.Millisecond}, nil, nil)
	t.Cleanup(batcher.Close)
	tokens := service.NewTokenService(tokenSecret, time.Hour)
	h := hub.NewHub(presence, merger, batcher, hub.Config{Rows: 4, Cols: 4})

	return NewRouter(RouterDeps{
		Config:      cfg,
		Log:         logrus.StandardLogger(),
		RedisClient: client,
		Tokens:      tokens,
		Rooms:       httpHandler.NewRoomHandler(service.NewRoomService(roomRepo), presence, tokens, nil),
		WebSocket:   wsHandler.NewWebSocketHandler(h, tokens, cfg.CORS.AllowedOrigin),
	})
}

func TestRouter_Ping(t *testing.T) {
	router := newTestRouter(t, "", 10)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"pong"}`, w.Body.String())
}

func TestRouter_CORSPreflight(t *testing.T) {
	router := newTestRouter(t, "", 10)
	req := httptest.NewRequest(http.MethodOptions, "/api/rooms", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_RateLimit(t *testing.T) {
	router := newTestRouter(t, "", 2)
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/rooms", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusCreated, http.StatusCreated, http.StatusTooManyRequests}, codes)
}

func TestRouter_WebSocketRequiresTokenWhenEnabled(t *testing.T) {
	router := newTestRouter(t, "secret", 10)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws?token=forged", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_WebSocketWithoutUpgradeHeaders(t *testing.T) {
	router := newTestRouter(t, "", 10)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code, "plain GET is not a websocket handshake")
}
