package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Snapshot is an archived copy of a room's game state.
type Snapshot struct {
	ID         uint   `gorm:"primaryKey"`
	RoomID     string `gorm:"size:64;index;not null"`
	Generation uint64 `gorm:"index;not null"`
	// StateVersion is the live state's Version when the row was taken.
	StateVersion uint64    `gorm:"not null;default:0"`
	Data         string    `gorm:"type:longtext;not null"` // grid as JSON
	CreatedAt    time.Time `gorm:"index;not null"`
}

// ParseGrid decodes the archived grid.
func (s *Snapshot) ParseGrid() (Grid, error) {
	if s.Data == "" {
		return Grid{}, nil
	}
	var g Grid
	if err := json.Unmarshal([]byte(s.Data), &g); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot grid: %w", err)
	}
	return g, nil
}

// SetGrid encodes g into Data.
func (s *Snapshot) SetGrid(g Grid) error {
	bytes, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot grid: %w", err)
	}
	s.Data = string(bytes)
	return nil
}
