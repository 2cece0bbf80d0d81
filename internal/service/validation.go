package service

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"multiplayer-life/internal/domain"
)

const (
	maxPlayerIDLength = 64
	maxNameLength     = 32
)

var playerIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateRoomID checks that id is a canonical uuid string.
func ValidateRoomID(id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil || parsed.String() != strings.ToLower(id) {
		return ErrInvalidRoomID
	}
	return nil
}

// ValidatePlayerID checks the client-supplied player identifier.
func ValidatePlayerID(id string) error {
	if id == "" || len(id) > maxPlayerIDLength || !playerIDPattern.MatchString(id) {
		return ErrInvalidPlayerID
	}
	return nil
}

// NormalizeName trims a display name and checks its length.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return "", ErrInvalidName
	}
	return name, nil
}

// NormalizeUpdates checks positions and colors of client updates against a
// rows x cols grid. Live cells without a color get defaultColor; colors are
// upper-cased and dead cells lose owner and color.
func NormalizeUpdates(updates []domain.CellUpdate, rows, cols, limit int, defaultColor string) ([]domain.CellUpdate, error) {
	if limit > 0 && len(updates) > limit {
		return nil, ErrTooManyUpdates
	}
	out := make([]domain.CellUpdate, 0, len(updates))
	for _, u := range updates {
		if !u.Heartbeat {
			if u.Row < 0 || u.Row >= rows || u.Col < 0 || u.Col >= cols {
				return nil, ErrInvalidCell
			}
			if u.Cell.IsAlive {
				if u.Cell.Color == "" {
					u.Cell.Color = defaultColor
				}
				if !domain.IsHexColor(u.Cell.Color) {
					return nil, ErrInvalidColor
				}
				u.Cell.Color = domain.NormalizeHexColor(u.Cell.Color)
			}
		}
		u.Cell = u.Cell.Normalized()
		out = append(out, u)
	}
	return out, nil
}
