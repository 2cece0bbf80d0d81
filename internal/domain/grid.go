package domain

import "time"

// CellState is the content of one grid cell. OwnerID and Color are only meaningful
// while the cell is alive.
type CellState struct {
	IsAlive bool   `json:"isAlive"`
	OwnerID string `json:"ownerId,omitempty"`
	Color   string `json:"color,omitempty"`
}

// Normalized clears owner and color on dead cells.
func (c CellState) Normalized() CellState {
	if !c.IsAlive {
		return CellState{}
	}
	return c
}

// Grid is a fixed-size rows x cols array of cells.
type Grid [][]CellState

// NewGrid returns an all-dead grid.
func NewGrid(rows, cols int) Grid {
	g := make(Grid, rows)
	for r := range g {
		g[r] = make([]CellState, cols)
	}
	return g
}

// Rows returns the number of rows.
func (g Grid) Rows() int { return len(g) }

// Cols returns the number of columns.
func (g Grid) Cols() int {
	if len(g) == 0 {
		return 0
	}
	return len(g[0])
}

// InBounds reports whether (row, col) addresses a cell of the grid.
func (g Grid) InBounds(row, col int) bool {
	return row >= 0 && row < g.Rows() && col >= 0 && col < g.Cols()
}

// At returns the cell at (row, col); out of range cells read as dead.
func (g Grid) At(row, col int) CellState {
	if !g.InBounds(row, col) {
		return CellState{}
	}
	return g[row][col]
}

// Set overwrites a cell. It returns false when the position is out of range.
func (g Grid) Set(row, col int, cell CellState) bool {
	if !g.InBounds(row, col) {
		return false
	}
	g[row][col] = cell.Normalized()
	return true
}

// Clone returns a deep copy of the grid.
func (g Grid) Clone() Grid {
	c := make(Grid, len(g))
	for r := range g {
		c[r] = append([]CellState(nil), g[r]...)
	}
	return c
}

// GameState is the persisted and broadcast unit: the grid plus its generation.
type GameState struct {
	Grid        Grid      `json:"grid"`
	Generation  uint64    `json:"generation"`
	LastUpdated time.Time `json:"lastUpdated"`
	// Version is the store's compare-and-swap marker, bumped on every write.
	Version uint64 `json:"version"`
}

// NewGameState returns a fresh all-dead state at generation 0.
func NewGameState(rows, cols int, now time.Time) GameState {
	return GameState{
		Grid:        NewGrid(rows, cols),
		Generation:  0,
		LastUpdated: now,
	}
}

// CellUpdate is a single mutation intent submitted by a client.
type CellUpdate struct {
	Row        int       `json:"row"`
	Col        int       `json:"col"`
	Cell       CellState `json:"cell"`
	Timestamp  int64     `json:"timestamp"` // sender clock, unix milliseconds
	PlayerID   string    `json:"playerId"`
	RoomID     string    `json:"roomId"`
	Generation uint64    `json:"generation"`
	Heartbeat  bool      `json:"heartbeat,omitempty"`
}

// Clone returns a copy with its own grid.
func (s GameState) Clone() GameState {
	c := s
	c.Grid = s.Grid.Clone()
	return c
}
