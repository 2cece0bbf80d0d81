package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multiplayer-life/internal/domain"
	"multiplayer-life/internal/dto"
	redisstate "multiplayer-life/internal/infra/state/redis"
	"multiplayer-life/internal/service"
)

type hubFixture struct {
	hub      *Hub
	presence *service.PresenceService
	roomID   string
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	return newHubFixtureWithDebounce(t, 5*time.Millisecond)
}

func newHubFixtureWithDebounce(t *testing.T, debounce time.Duration) *hubFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	roomRepo := redisstate.NewRedisRoomRepository(client, "t:", time.Hour)
	stateRepo := redisstate.NewRedisStateRepository(client, "t:", time.Hour)
	merger := service.NewMergeService(stateRepo, service.RetryPolicy{Attempts: 3}, 4, 4)
	grace := service.NewLocalGraceScheduler(nil)
	t.Cleanup(grace.Stop)
	presence := service.NewPresenceService(roomRepo, merger, grace, service.PresenceConfig{Capacity: 4, GracePeriod: time.Hour})
	grace.Bind(presence.HandleGraceExpiry)
	batcher := service.NewBatcher(merger, service.BatcherConfig{Debounce: debounce}, nil, nil)
	t.Cleanup(batcher.Close)

	room, err := service.NewRoomService(roomRepo).CreateRoom(context.Background())
	require.NoError(t, err)

	return &hubFixture{
		hub:      NewHub(presence, merger, batcher, Config{Rows: 4, Cols: 4}),
		presence: presence,
		roomID:   room.ID,
	}
}

func (f *hubFixture) connect(claims *service.PlayerClaims) *Client {
	c := &Client{hub: f.hub, id: "test", send: make(chan []byte, 64), claims: claims}
	f.hub.registerClient(c)
	return c
}

func (f *hubFixture) send(c *Client, msg dto.ClientMessage) {
	raw, _ := json.Marshal(msg)
	f.hub.Dispatch(c, raw)
}

func (f *hubFixture) join(t *testing.T, c *Client, playerID string) map[string]interface{} {
	t.Helper()
	f.send(c, dto.ClientMessage{Type: dto.TypeJoin, RoomID: f.roomID, PlayerID: playerID, Name: playerID})
	ev := next(t, c)
	require.Equal(t, dto.TypeRoomState, ev["type"], "join reply: %v", ev)
	return ev
}

func next(t *testing.T, c *Client) map[string]interface{} {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var ev map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &ev))
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
		return nil
	}
}

// nextOf skips events until one of the given type arrives.
func nextOf(t *testing.T, c *Client, typ string) map[string]interface{} {
	t.Helper()
	for {
		if ev := next(t, c); ev["type"] == typ {
			return ev
		}
	}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw := <-c.send:
		t.Fatalf("unexpected event: %s", raw)
	case <-time.After(30 * time.Millisecond):
	}
}

func gameState(t *testing.T, ev map[string]interface{}) domain.GameState {
	t.Helper()
	raw, err := json.Marshal(ev["gameState"])
	require.NoError(t, err)
	var state domain.GameState
	require.NoError(t, json.Unmarshal(raw, &state))
	return state
}

func TestHub_JoinNotifiesOthers(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(nil)
	bob := f.connect(nil)

	ev := f.join(t, alice, "alice")
	assert.Equal(t, "alice", ev["playerId"])
	assert.Nil(t, ev["gameState"], "no state before the game starts")

	f.join(t, bob, "bob")
	joined := next(t, alice)
	assert.Equal(t, dto.TypePlayerJoined, joined["type"])
	assert.Equal(t, false, joined["isReconnected"])
	assertSilent(t, bob)
	assert.Equal(t, []string{f.roomID}, f.hub.ActiveRooms())
	assert.Equal(t, 2, f.hub.ConnectionCount(f.roomID))
}

func TestHub_UpdateBeforeStartIsRejected(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(nil)
	f.join(t, alice, "alice")

	f.send(alice, dto.ClientMessage{Type: dto.TypeUpdate, Updates: []domain.CellUpdate{{Row: 0, Col: 0, Cell: domain.CellState{IsAlive: true}}}})

	ev := next(t, alice)
	assert.Equal(t, dto.TypeError, ev["type"])
	assert.Equal(t, service.ErrGameNotStarted.Error(), ev["message"])
}

func TestHub_StartUpdateAndBroadcast(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(nil)
	bob := f.connect(nil)
	f.join(t, alice, "alice")
	f.join(t, bob, "bob")
	next(t, alice) // player_joined

	f.send(alice, dto.ClientMessage{Type: dto.TypeStart})
	for _, c := range []*Client{alice, bob} {
		ev := next(t, c)
		require.Equal(t, dto.TypeGameStarted, ev["type"])
		assert.Equal(t, uint64(0), gameState(t, ev).Generation)
	}

	f.send(bob, dto.ClientMessage{Type: dto.TypeUpdate, Updates: []domain.CellUpdate{
		{Row: 1, Col: 2, Cell: domain.CellState{IsAlive: true}},
	}})
	for _, c := range []*Client{alice, bob} {
		state := gameState(t, nextOf(t, c, dto.TypeGameState))
		cell := state.Grid.At(1, 2)
		assert.True(t, cell.IsAlive)
		assert.Equal(t, "bob", cell.OwnerID)
		assert.Equal(t, "#00FF00", cell.Color, "defaults to the player's color")
	}
}

func TestHub_OnlyHostAdvancesGeneration(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(nil)
	bob := f.connect(nil)
	f.join(t, alice, "alice")
	f.join(t, bob, "bob")
	f.send(alice, dto.ClientMessage{Type: dto.TypeStart})
	nextOf(t, bob, dto.TypeGameStarted)

	gen := uint64(50)
	f.send(bob, dto.ClientMessage{Type: dto.TypeUpdate, Generation: &gen, Updates: []domain.CellUpdate{
		{Row: 0, Col: 0, Cell: domain.CellState{IsAlive: true}},
	}})
	assert.Equal(t, uint64(0), gameState(t, nextOf(t, bob, dto.TypeGameState)).Generation)

	gen = 3
	f.send(alice, dto.ClientMessage{Type: dto.TypeUpdate, Generation: &gen, Updates: []domain.CellUpdate{{Heartbeat: true}}})
	state := gameState(t, nextOf(t, bob, dto.TypeGameState))
	assert.Equal(t, uint64(3), state.Generation)
	assert.True(t, state.Grid.At(0, 0).IsAlive, "heartbeat leaves cells alone")
}

func TestHub_PlayersCannotPlaceCellsForOthers(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(nil)
	bob := f.connect(nil)
	f.join(t, alice, "alice")
	f.join(t, bob, "bob")
	f.send(alice, dto.ClientMessage{Type: dto.TypeStart})
	nextOf(t, bob, dto.TypeGameStarted)

	f.send(bob, dto.ClientMessage{Type: dto.TypeUpdate, Updates: []domain.CellUpdate{
		{Row: 0, Col: 0, Cell: domain.CellState{IsAlive: true, OwnerID: "alice"}},
	}})
	assert.Equal(t, "bob", gameState(t, nextOf(t, bob, dto.TypeGameState)).Grid.At(0, 0).OwnerID)

	f.send(alice, dto.ClientMessage{Type: dto.TypeUpdate, Updates: []domain.CellUpdate{
		{Row: 3, Col: 3, Cell: domain.CellState{IsAlive: true, OwnerID: "bob"}},
	}})
	assert.Equal(t, "bob", gameState(t, nextOf(t, bob, dto.TypeGameState)).Grid.At(3, 3).OwnerID, "host births keep their owner")
}

func TestHub_ResetDropsQueuedUpdates(t *testing.T) {
	f := newHubFixtureWithDebounce(t, 200*time.Millisecond)
	alice := f.connect(nil)
	bob := f.connect(nil)
	f.join(t, alice, "alice")
	f.join(t, bob, "bob")
	f.send(alice, dto.ClientMessage{Type: dto.TypeStart})
	nextOf(t, bob, dto.TypeGameStarted)
	nextOf(t, alice, dto.TypeGameStarted)

	f.send(bob, dto.ClientMessage{Type: dto.TypeUpdate, Updates: []domain.CellUpdate{
		{Row: 2, Col: 2, Cell: domain.CellState{IsAlive: true}},
	}})
	f.send(alice, dto.ClientMessage{Type: dto.TypeUpdate, Reset: true})

	state := gameState(t, nextOf(t, bob, dto.TypeGameState))
	assert.False(t, state.Grid.At(2, 2).IsAlive)
	time.Sleep(250 * time.Millisecond)
	assertSilent(t, bob)
}

func TestHub_ResetIsHostOnly(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(nil)
	bob := f.connect(nil)
	f.join(t, alice, "alice")
	f.join(t, bob, "bob")
	f.send(alice, dto.ClientMessage{Type: dto.TypeStart})
	nextOf(t, bob, dto.TypeGameStarted)
	nextOf(t, alice, dto.TypeGameStarted)

	f.send(bob, dto.ClientMessage{Type: dto.TypeUpdate, Reset: true})
	ev := next(t, bob)
	assert.Equal(t, service.ErrNotHost.Error(), ev["message"])
	assertSilent(t, alice)

	f.send(alice, dto.ClientMessage{Type: dto.TypeUpdate, Reset: true})
	assert.Equal(t, uint64(0), gameState(t, nextOf(t, bob, dto.TypeGameState)).Generation)
}

func TestHub_StatusRejectionGoesToCallerOnly(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(nil)
	bob := f.connect(nil)
	f.join(t, alice, "alice")
	f.join(t, bob, "bob")
	next(t, alice)
	f.send(alice, dto.ClientMessage{Type: dto.TypeStart})
	next(t, alice)
	next(t, bob)

	f.send(bob, dto.ClientMessage{Type: dto.TypeStatusUpdate, Status: domain.GameStatusPaused})
	assert.Equal(t, dto.TypeError, next(t, bob)["type"])
	assertSilent(t, alice)

	f.send(alice, dto.ClientMessage{Type: dto.TypeStatusUpdate, Status: domain.GameStatusPaused})
	for _, c := range []*Client{alice, bob} {
		ev := next(t, c)
		assert.Equal(t, dto.TypeStatusChanged, ev["type"])
		assert.Equal(t, "paused", ev["status"])
	}
}

func TestHub_DisconnectAndReconnect(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(nil)
	bob := f.connect(nil)
	f.join(t, alice, "alice")
	f.join(t, bob, "bob")
	next(t, alice)

	f.hub.unregisterClient(bob)
	ev := next(t, alice)
	assert.Equal(t, dto.TypePlayerDisconnected, ev["type"])
	assert.Equal(t, "bob", ev["playerId"])

	bobAgain := f.connect(nil)
	f.join(t, bobAgain, "bob")
	ev = next(t, alice)
	assert.Equal(t, dto.TypePlayerJoined, ev["type"])
	assert.Equal(t, true, ev["isReconnected"])

	room, err := f.presence.Room(context.Background(), f.roomID)
	require.NoError(t, err)
	assert.Len(t, room.Players, 2)
}

func TestHub_SecondTabKeepsPlayerActive(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(nil)
	tab1 := f.connect(nil)
	tab2 := f.connect(nil)
	f.join(t, alice, "alice")
	f.join(t, tab1, "bob")
	f.join(t, tab2, "bob")

	f.hub.unregisterClient(tab1)
	f.hub.wg.Wait()

	room, err := f.presence.Room(context.Background(), f.roomID)
	require.NoError(t, err)
	bob, ok := room.Player("bob")
	require.True(t, ok)
	assert.True(t, bob.Active())
}

func TestHub_LeaveRemovesAndTransfersHost(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(nil)
	bob := f.connect(nil)
	f.join(t, alice, "alice")
	f.join(t, bob, "bob")
	next(t, alice)

	f.send(alice, dto.ClientMessage{Type: dto.TypeLeave})
	assert.Equal(t, dto.TypePlayerLeft, next(t, alice)["type"])
	ev := next(t, bob)
	assert.Equal(t, dto.TypePlayerLeft, ev["type"])
	assert.Equal(t, "bob", ev["newHostId"])

	f.send(alice, dto.ClientMessage{Type: dto.TypeStart})
	assert.Equal(t, service.ErrNotJoined.Error(), next(t, alice)["message"])
}

func TestHub_RejectsMalformedAndForeignMessages(t *testing.T) {
	f := newHubFixture(t)
	c := f.connect(&service.PlayerClaims{RoomID: f.roomID, PlayerID: "alice"})

	f.hub.Dispatch(c, []byte("{not json"))
	assert.Equal(t, service.ErrInvalidMessage.Error(), next(t, c)["message"])

	f.send(c, dto.ClientMessage{Type: "teleport"})
	assert.Equal(t, service.ErrInvalidMessage.Error(), next(t, c)["message"])

	f.send(c, dto.ClientMessage{Type: dto.TypeJoin, RoomID: f.roomID, PlayerID: "mallory", Name: "M"})
	assert.Equal(t, service.ErrTokenMismatch.Error(), next(t, c)["message"])

	f.join(t, c, "alice")
}
