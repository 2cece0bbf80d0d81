package dto

import "multiplayer-life/internal/domain"

// Client message types.
const (
	TypeJoin         = "join"
	TypeLeave        = "leave"
	TypeUpdate       = "update"
	TypeStatusUpdate = "status_update"
	TypeStart        = "start"
)

// Server event types.
const (
	TypeRoomState          = "room_state"
	TypePlayerJoined       = "player_joined"
	TypePlayerLeft         = "player_left"
	TypePlayerDisconnected = "player_disconnected"
	TypeGameState          = "game_state"
	TypeStatusChanged      = "status_changed"
	TypeGameStarted        = "game_started"
	TypeError              = "error"
)

// ClientMessage is the envelope of every message a client sends. Which fields are
// used depends on Type.
type ClientMessage struct {
	Type       string              `json:"type"`
	RoomID     string              `json:"roomId,omitempty"`
	PlayerID   string              `json:"playerId,omitempty"`
	Name       string              `json:"name,omitempty"`
	Updates    []domain.CellUpdate `json:"updates,omitempty"`
	Reset      bool                `json:"reset,omitempty"`
	Generation *uint64             `json:"generation,omitempty"`
	Status     domain.GameStatus   `json:"status,omitempty"`
}

// RoomStateEvent is sent to a joining client only.
type RoomStateEvent struct {
	Type      string            `json:"type"`
	PlayerID  string            `json:"playerId"`
	Room      *domain.Room      `json:"room"`
	GameState *domain.GameState `json:"gameState,omitempty"`
}

// PlayerJoinedEvent tells the other members about a join or a resume.
type PlayerJoinedEvent struct {
	Type          string        `json:"type"`
	Player        domain.Player `json:"player"`
	Room          *domain.Room  `json:"room"`
	IsReconnected bool          `json:"isReconnected"`
}

// PlayerLeftEvent announces a removal by leave or grace expiry.
type PlayerLeftEvent struct {
	Type     string       `json:"type"`
	PlayerID string       `json:"playerId"`
	Room     *domain.Room `json:"room"`
	NewHost  string       `json:"newHostId,omitempty"`
}

// PlayerDisconnectedEvent announces a player going inactive.
type PlayerDisconnectedEvent struct {
	Type     string       `json:"type"`
	PlayerID string       `json:"playerId"`
	Room     *domain.Room `json:"room"`
}

// GameStateEvent carries a full snapshot after a merge or reset.
type GameStateEvent struct {
	Type      string            `json:"type"`
	GameState *domain.GameState `json:"gameState"`
}

// StatusChangedEvent announces a game status transition.
type StatusChangedEvent struct {
	Type   string            `json:"type"`
	Status domain.GameStatus `json:"status"`
	Room   *domain.Room      `json:"room"`
}

// GameStartedEvent carries the fresh state of a game started for the first time.
type GameStartedEvent struct {
	Type      string            `json:"type"`
	Room      *domain.Room      `json:"room"`
	GameState *domain.GameState `json:"gameState"`
}

// ErrorDTO is the only error shape sent over the realtime channel.
type ErrorDTO struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
