package hub

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"multiplayer-life/internal/domain"
	"multiplayer-life/internal/dto"
	"multiplayer-life/internal/service"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. A full tick diff of a large grid fits.
	maxMessageSize = 512 * 1024

	// Store deadline for one dispatched message.
	dispatchTimeout = 5 * time.Second
)

// Hub message types.
const (
	MessageRegister   = "register"
	MessageUnregister = "unregister"
)

// HubMessage is a connection lifecycle event handled by Run.
type HubMessage struct {
	Type   string
	Client *Client
}

// Config sizes the grid the hub validates updates against.
type Config struct {
	Rows             int
	Cols             int
	MaxUpdatesPerMsg int // 0 means rows*cols+1
}

// Hub routes realtime messages between clients and the sync engine and fans out
// results to every connection joined to a room.
type Hub struct {
	messageChan chan HubMessage

	clients   map[*Client]bool
	clientsMu sync.Mutex

	// map[roomID]map[*Client]bool
	rooms   map[string]map[*Client]bool
	roomsMu sync.RWMutex

	presence *service.PresenceService
	merger   *service.MergeService
	batcher  *service.Batcher
	cfg      Config

	handlers map[string]handlerFunc
	logger   *logrus.Entry
	wg       sync.WaitGroup
}

// NewHub creates a Hub and hooks it to batcher flushes and presence removals.
func NewHub(presence *service.PresenceService, merger *service.MergeService, batcher *service.Batcher, cfg Config) *Hub {
	if presence == nil {
		panic("PresenceService cannot be nil for Hub")
	}
	if merger == nil {
		panic("MergeService cannot be nil for Hub")
	}
	if batcher == nil {
		panic("Batcher cannot be nil for Hub")
	}
	if cfg.MaxUpdatesPerMsg <= 0 {
		cfg.MaxUpdatesPerMsg = cfg.Rows*cfg.Cols + 1
	}
	h := &Hub{
		messageChan: make(chan HubMessage, 512),
		clients:     make(map[*Client]bool),
		rooms:       make(map[string]map[*Client]bool),
		presence:    presence,
		merger:      merger,
		batcher:     batcher,
		cfg:         cfg,
		logger:      logrus.WithField("component", "hub"),
	}
	h.handlers = map[string]handlerFunc{
		dto.TypeJoin:         h.handleJoin,
		dto.TypeLeave:        h.handleLeave,
		dto.TypeUpdate:       h.handleUpdate,
		dto.TypeStatusUpdate: h.handleStatusUpdate,
		dto.TypeStart:        h.handleStart,
	}
	batcher.SetFlushHandler(h.broadcastState)
	presence.OnRemoved(h.onPlayerRemoved)
	return h
}

// Run processes register and unregister events until ctx is done. It should run
// in its own goroutine.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Hub is running...")
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Hub is shutting down...")
			h.closeAll()
			h.wg.Wait()
			return
		case msg := <-h.messageChan:
			switch msg.Type {
			case MessageRegister:
				h.registerClient(msg.Client)
			case MessageUnregister:
				h.unregisterClient(msg.Client)
			default:
				h.logger.Warnf("Hub: received unknown message type: %s", msg.Type)
			}
		}
	}
}

// QueueMessage hands a lifecycle event to Run without blocking. It returns false
// when the queue is full.
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case h.messageChan <- msg:
		return true
	default:
		h.logger.WithField("message_type", msg.Type).Warn("Hub message channel full, dropping message")
		return false
	}
}

// ActiveRooms lists rooms with at least one joined connection.
func (h *Hub) ActiveRooms() []string {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ConnectionCount returns how many connections are joined to a room.
func (h *Hub) ConnectionCount(roomID string) int {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	return len(h.rooms[roomID])
}

func (h *Hub) registerClient(client *Client) {
	if client == nil {
		h.logger.Error("Hub: attempted to register a nil client")
		return
	}
	h.clientsMu.Lock()
	h.clients[client] = true
	h.clientsMu.Unlock()
	client.logger().Info("Client registered to Hub")
}

func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		h.logger.Error("Hub: attempted to unregister a nil client")
		return
	}
	// 1. Forget the connection; a second unregister is a no-op.
	h.clientsMu.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	h.clientsMu.Unlock()
	if !ok {
		return
	}

	// 2. Leave the room index and stop the write pump.
	roomID, playerID := h.detach(client)
	client.closeSend()
	client.logger().Info("Client unregistered from Hub")
	if roomID == "" {
		return
	}
	// 3. Presence goes through Redis, so it runs off the Run loop.
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.disconnectPlayer(roomID, playerID)
	}()
}

// disconnectPlayer marks the player inactive unless another of its connections is
// still joined to the room.
func (h *Hub) disconnectPlayer(roomID, playerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	// Checked under the room lock so a tab joining meanwhile keeps the player active.
	room, changed, err := h.presence.DisconnectUnless(ctx, roomID, playerID, func() bool {
		return h.playerConnected(roomID, playerID)
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{"room_id": roomID, "player_id": playerID}).WithError(err).Warn("Failed to mark player inactive")
		return
	}
	if !changed {
		return // unknown player or already inactive
	}
	h.broadcast(roomID, dto.PlayerDisconnectedEvent{
		Type:     dto.TypePlayerDisconnected,
		PlayerID: playerID,
		Room:     room,
	}, nil)
}

func (h *Hub) onPlayerRemoved(roomID string, result *service.RemovalResult) {
	h.broadcast(roomID, dto.PlayerLeftEvent{
		Type:     dto.TypePlayerLeft,
		PlayerID: result.Player.ID,
		Room:     result.Room,
		NewHost:  result.NewHost,
	}, nil)
}

func (h *Hub) broadcastState(roomID string, state *domain.GameState) {
	h.broadcast(roomID, dto.GameStateEvent{Type: dto.TypeGameState, GameState: state}, nil)
}

// attach joins a connection to a room, leaving any room it was in before.
func (h *Hub) attach(client *Client, roomID, playerID string) (prevRoom, prevPlayer string) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	prevRoom, prevPlayer = client.Session()
	// A connection is in at most one room.
	if prevRoom != "" {
		h.removeLocked(client, prevRoom)
	}
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][client] = true
	client.bind(roomID, playerID)
	return prevRoom, prevPlayer
}

// detach removes a connection from its room and returns what it was bound to.
func (h *Hub) detach(client *Client) (roomID, playerID string) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	roomID, playerID = client.Session()
	if roomID != "" {
		h.removeLocked(client, roomID)
		client.bind("", "")
	}
	return roomID, playerID
}

func (h *Hub) removeLocked(client *Client, roomID string) {
	if roomClients, ok := h.rooms[roomID]; ok {
		delete(roomClients, client)
		if len(roomClients) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

func (h *Hub) playerConnected(roomID, playerID string) bool {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	for c := range h.rooms[roomID] {
		if _, pid := c.Session(); pid == playerID {
			return true
		}
	}
	return false
}

// broadcast sends payload to every connection in the room except sender.
func (h *Hub) broadcast(roomID string, payload interface{}, sender *Client) {
	message, err := json.Marshal(payload)
	if err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to marshal broadcast payload")
		return
	}

	h.roomsMu.RLock()
	recipients := make([]*Client, 0, len(h.rooms[roomID]))
	for client := range h.rooms[roomID] {
		if client != sender {
			recipients = append(recipients, client)
		}
	}
	h.roomsMu.RUnlock()
	if len(recipients) == 0 {
		return
	}

	logCtx := logrus.WithFields(logrus.Fields{
		"room_id":         roomID,
		"message_size":    len(message),
		"recipient_count": len(recipients),
	})
	logCtx.Debug("Broadcasting message to clients")
	for _, client := range recipients {
		if !client.enqueue(message) {
			logCtx.WithField("client_id", client.id).Warn("Client send channel full during broadcast, skipping this client")
		}
	}
}

func (h *Hub) sendTo(client *Client, payload interface{}) {
	message, err := json.Marshal(payload)
	if err != nil {
		client.logger().WithError(err).Error("Failed to marshal message")
		return
	}
	if !client.enqueue(message) {
		client.logger().Warn("Client send channel full, message dropped")
	}
}

func (h *Hub) sendError(client *Client, err error) {
	h.sendTo(client, dto.ErrorDTO{Type: dto.TypeError, Message: service.PublicMessage(err)})
}

func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMu.Unlock()
	for _, c := range clients {
		c.closeSend()
	}
}
