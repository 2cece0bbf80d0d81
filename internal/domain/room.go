package domain

import "time"

// GameStatus is the state of a room's generation loop.
type GameStatus string

const (
	GameStatusStopped GameStatus = "stopped"
	GameStatusRunning GameStatus = "running"
	GameStatusPaused  GameStatus = "paused"
)

// Valid reports whether s is one of the known statuses.
func (s GameStatus) Valid() bool {
	switch s {
	case GameStatusStopped, GameStatusRunning, GameStatusPaused:
		return true
	}
	return false
}

// PlayerStatus is the presence status of a player.
type PlayerStatus string

const (
	PlayerActive   PlayerStatus = "active"
	PlayerInactive PlayerStatus = "inactive"
)

// Player is a member of a room. The ID is supplied by the client and survives reconnects.
type Player struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Color            string       `json:"color"`            // #RRGGBB, unique among active members when assigned
	IsHost           bool         `json:"isHost"`
	Status           PlayerStatus `json:"status"`
	LastStatusChange time.Time    `json:"lastStatusChange"` // grace timers compare against this
}

// Active reports whether the player is currently connected.
func (p Player) Active() bool { return p.Status == PlayerActive }

// Room is the metadata record of a multiplayer session.
type Room struct {
	ID              string     `json:"id"`
	CreatedAt       time.Time  `json:"createdAt"`
	LastActivity    time.Time  `json:"lastActivity"`
	Players         []Player   `json:"players"`
	HasStarted      bool       `json:"hasStarted"`
	Status          GameStatus `json:"gameStatus"`
	FormerPlayerIDs []string   `json:"formerPlayerIds,omitempty"` // removed after grace expiry or leave
}

// FindPlayer returns the index of the player with the given id, or -1.
func (r *Room) FindPlayer(playerID string) int {
	for i := range r.Players {
		if r.Players[i].ID == playerID {
			return i
		}
	}
	return -1
}

// Player returns a copy of the member with the given id.
func (r *Room) Player(playerID string) (Player, bool) {
	if i := r.FindPlayer(playerID); i >= 0 {
		return r.Players[i], true
	}
	return Player{}, false
}

// Host returns the current host, if any.
func (r *Room) Host() (Player, bool) {
	for _, p := range r.Players {
		if p.IsHost {
			return p, true
		}
	}
	return Player{}, false
}

// WasMember reports whether playerID is, or has ever been, a member of the room.
func (r *Room) WasMember(playerID string) bool {
	if r.FindPlayer(playerID) >= 0 {
		return true
	}
	for _, id := range r.FormerPlayerIDs {
		if id == playerID {
			return true
		}
	}
	return false
}

// AnyInactive reports whether at least one member is disconnected.
func (r *Room) AnyInactive() bool {
	for _, p := range r.Players {
		if !p.Active() {
			return true
		}
	}
	return false
}

// RemovePlayer deletes the member and hands the host role to the first remaining
// player when the removed member was host. It returns the removed player.
func (r *Room) RemovePlayer(playerID string) (Player, bool) {
	i := r.FindPlayer(playerID)
	if i < 0 {
		return Player{}, false
	}
	removed := r.Players[i]
	r.Players = append(r.Players[:i:i], r.Players[i+1:]...)
	r.rememberFormer(playerID)
	r.EnsureHost()
	return removed, true
}

// EnsureHost restores the single-host invariant: the first flagged host keeps the
// role, any other flag is cleared, and with no host the first player is promoted.
func (r *Room) EnsureHost() {
	found := false
	for i := range r.Players {
		if r.Players[i].IsHost {
			if found {
				r.Players[i].IsHost = false
			}
			found = true
		}
	}
	if !found && len(r.Players) > 0 {
		r.Players[0].IsHost = true
	}
}

func (r *Room) rememberFormer(playerID string) {
	for _, id := range r.FormerPlayerIDs {
		if id == playerID {
			return
		}
	}
	r.FormerPlayerIDs = append(r.FormerPlayerIDs, playerID)
}

// UsedColors returns the colors held by active members, excluding one player id.
func (r *Room) UsedColors(except string) map[string]bool {
	used := make(map[string]bool, len(r.Players))
	for _, p := range r.Players {
		if p.ID != except && p.Active() && p.Color != "" {
			used[p.Color] = true
		}
	}
	return used
}

// Clone returns a deep copy so callers can mutate without aliasing stored slices.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.Players = append([]Player(nil), r.Players...)
	c.FormerPlayerIDs = append([]string(nil), r.FormerPlayerIDs...)
	return &c
}
