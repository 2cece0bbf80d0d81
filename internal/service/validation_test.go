package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multiplayer-life/internal/domain"
	"multiplayer-life/internal/service"
)

func TestValidateRoomID(t *testing.T) {
	assert.NoError(t, service.ValidateRoomID("6f1c0c1e-8d4b-4a53-9d1e-7d5bb1f0a0aa"))
	assert.ErrorIs(t, service.ValidateRoomID(""), service.ErrInvalidRoomID)
	assert.ErrorIs(t, service.ValidateRoomID("../etc/passwd"), service.ErrInvalidRoomID)
	assert.ErrorIs(t, service.ValidateRoomID("{6f1c0c1e-8d4b-4a53-9d1e-7d5bb1f0a0aa}"), service.ErrInvalidRoomID)
}

func TestNormalizeUpdates(t *testing.T) {
	updates := []domain.CellUpdate{
		{Row: 0, Col: 1, Cell: domain.CellState{IsAlive: true, Color: "#ff00aa"}},
		{Row: 1, Col: 1, Cell: domain.CellState{IsAlive: true}},
		{Row: 1, Col: 0, Cell: domain.CellState{IsAlive: false, OwnerID: "x", Color: "#FF0000"}},
		{Row: 99, Col: 99, Heartbeat: true},
	}

	out, err := service.NormalizeUpdates(updates, 2, 2, 10, "#00FF00")
	require.NoError(t, err)
	assert.Equal(t, "#FF00AA", out[0].Cell.Color)
	assert.Equal(t, "#00FF00", out[1].Cell.Color)
	assert.Equal(t, domain.CellState{}, out[2].Cell)
	assert.True(t, out[3].Heartbeat)

	_, err = service.NormalizeUpdates([]domain.CellUpdate{{Row: 2, Col: 0}}, 2, 2, 10, "")
	assert.ErrorIs(t, err, service.ErrInvalidCell)

	_, err = service.NormalizeUpdates([]domain.CellUpdate{{Row: 0, Col: 0, Cell: domain.CellState{IsAlive: true, Color: "red"}}}, 2, 2, 10, "")
	assert.ErrorIs(t, err, service.ErrInvalidColor)

	_, err = service.NormalizeUpdates(make([]domain.CellUpdate, 3), 2, 2, 2, "")
	assert.ErrorIs(t, err, service.ErrTooManyUpdates)
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, service.ErrRoomFull.Error(), service.PublicMessage(service.ErrRoomFull))
	assert.Equal(t, service.ErrInternalServer.Error(), service.PublicMessage(assert.AnError))
}
