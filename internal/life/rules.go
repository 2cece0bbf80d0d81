// Package life implements the generation-advance rules the host runs locally:
// standard Game of Life survival/birth plus owner and color inheritance.
package life

import (
	"time"

	"multiplayer-life/internal/domain"
)

// Step computes the next generation of g. Cells beyond the edges count as dead.
// playerColors maps an exact uppercase #RRGGBB color to the player holding it; a
// newborn cell whose blended color matches an entry becomes owned by that player.
func Step(g domain.Grid, playerColors map[string]string) domain.Grid {
	next := domain.NewGrid(g.Rows(), g.Cols())
	neighbors := make([]string, 0, 8)
	for r := 0; r < g.Rows(); r++ {
		for c := 0; c < g.Cols(); c++ {
			neighbors = neighbors[:0]
			count := 0
			for dr := -1; dr <= 1; dr++ {
				for dc := -1; dc <= 1; dc++ {
					if dr == 0 && dc == 0 {
						continue
					}
					n := g.At(r+dr, c+dc)
					if n.IsAlive {
						count++
						neighbors = append(neighbors, n.Color)
					}
				}
			}

			cell := g.At(r, c)
			switch {
			case cell.IsAlive && (count == 2 || count == 3):
				next[r][c] = cell
			case !cell.IsAlive && count == 3:
				next[r][c] = born(neighbors, playerColors)
			}
		}
	}
	return next
}

func born(neighborColors []string, playerColors map[string]string) domain.CellState {
	cell := domain.CellState{IsAlive: true}
	color, ok := domain.BlendColors(neighborColors)
	if !ok {
		return cell
	}
	cell.Color = color
	if owner, found := playerColors[color]; found {
		cell.OwnerID = owner
	}
	return cell
}

// PlayerColors builds the color lookup used by Step from a room's members.
func PlayerColors(players []domain.Player) map[string]string {
	m := make(map[string]string, len(players))
	for _, p := range players {
		if p.Color != "" {
			m[domain.NormalizeHexColor(p.Color)] = p.ID
		}
	}
	return m
}

// Diff returns the updates turning prev into next at the given generation. When no
// cell changed a single heartbeat update is returned so the generation still moves.
func Diff(prev, next domain.Grid, generation uint64, playerID, roomID string, now time.Time) []domain.CellUpdate {
	ts := now.UnixMilli()
	var updates []domain.CellUpdate
	for r := 0; r < next.Rows(); r++ {
		for c := 0; c < next.Cols(); c++ {
			if prev.At(r, c) == next.At(r, c) {
				continue
			}
			updates = append(updates, domain.CellUpdate{
				Row:        r,
				Col:        c,
				Cell:       next.At(r, c),
				Timestamp:  ts,
				PlayerID:   playerID,
				RoomID:     roomID,
				Generation: generation,
			})
		}
	}
	if len(updates) == 0 {
		updates = append(updates, domain.CellUpdate{
			Timestamp:  ts,
			PlayerID:   playerID,
			RoomID:     roomID,
			Generation: generation,
			Heartbeat:  true,
		})
	}
	return updates
}

// Tick runs Step on the state's grid and returns the diff at generation+1.
func Tick(state domain.GameState, players []domain.Player, hostID, roomID string, now time.Time) (domain.Grid, []domain.CellUpdate) {
	next := Step(state.Grid, PlayerColors(players))
	return next, Diff(state.Grid, next, state.Generation+1, hostID, roomID, now)
}
