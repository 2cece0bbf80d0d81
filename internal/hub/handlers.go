package hub

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"multiplayer-life/internal/dto"
	"multiplayer-life/internal/service"
)

type audience int

const (
	toCaller audience = iota
	toRoom
	toOthers
)

// outbound is one message produced by a handler.
type outbound struct {
	to      audience
	roomID  string
	payload interface{}
}

// handlerFunc handles one client message type. It reports failures as errors for
// the caller only and returns the messages to deliver on success.
type handlerFunc func(ctx context.Context, c *Client, msg *dto.ClientMessage) ([]outbound, error)

// Dispatch decodes one raw client message, runs its handler and delivers the result.
func (h *Hub) Dispatch(c *Client, raw []byte) {
	var msg dto.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger().WithError(err).Debug("Malformed client message")
		h.sendError(c, service.ErrInvalidMessage)
		return
	}
	handler, ok := h.handlers[msg.Type]
	if !ok {
		c.logger().WithField("type", msg.Type).Debug("Unknown client message type")
		h.sendError(c, service.ErrInvalidMessage)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	out, err := handler(ctx, c, &msg)
	if err != nil {
		c.logger().WithField("type", msg.Type).WithError(err).Info("Client message rejected")
		h.sendError(c, err)
		return
	}
	h.deliver(c, out)
}

func (h *Hub) deliver(c *Client, out []outbound) {
	for _, o := range out {
		switch o.to {
		case toCaller:
			h.sendTo(c, o.payload)
		case toRoom:
			h.broadcast(o.roomID, o.payload, nil)
		case toOthers:
			h.broadcast(o.roomID, o.payload, c)
		}
	}
}

func (h *Hub) handleJoin(ctx context.Context, c *Client, msg *dto.ClientMessage) ([]outbound, error) {
	if c.claims != nil && (c.claims.RoomID != msg.RoomID || c.claims.PlayerID != msg.PlayerID) {
		return nil, service.ErrTokenMismatch
	}
	if err := service.ValidateRoomID(msg.RoomID); err != nil {
		return nil, err
	}
	if err := service.ValidatePlayerID(msg.PlayerID); err != nil {
		return nil, err
	}

	// Attach before presence marks the player active, so a concurrent disconnect of
	// an older connection sees this one.
	prevRoom, prevPlayer := h.attach(c, msg.RoomID, msg.PlayerID)
	if prevRoom != "" && (prevRoom != msg.RoomID || prevPlayer != msg.PlayerID) {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.disconnectPlayer(prevRoom, prevPlayer)
		}()
	}

	res, err := h.presence.Join(ctx, msg.RoomID, msg.PlayerID, msg.Name)
	if err != nil {
		h.detach(c)
		return nil, err
	}

	state, err := h.merger.Current(ctx, msg.RoomID)
	if err != nil {
		if !errors.Is(err, service.ErrGameNotStarted) {
			c.logger().WithError(err).Warn("Failed to load game state for joining client")
		}
		state = nil
	}

	return []outbound{
		{to: toCaller, payload: dto.RoomStateEvent{
			Type:      dto.TypeRoomState,
			PlayerID:  res.Player.ID,
			Room:      res.Room,
			GameState: state,
		}},
		{to: toOthers, roomID: msg.RoomID, payload: dto.PlayerJoinedEvent{
			Type:          dto.TypePlayerJoined,
			Player:        res.Player,
			Room:          res.Room,
			IsReconnected: res.Reconnected,
		}},
	}, nil
}

func (h *Hub) handleLeave(ctx context.Context, c *Client, msg *dto.ClientMessage) ([]outbound, error) {
	roomID, playerID, err := h.session(c, msg)
	if err != nil {
		return nil, err
	}
	res, err := h.presence.Leave(ctx, roomID, playerID)
	if err != nil {
		return nil, err
	}
	h.detach(c)
	event := dto.PlayerLeftEvent{
		Type:     dto.TypePlayerLeft,
		PlayerID: playerID,
		Room:     res.Room,
		NewHost:  res.NewHost,
	}
	return []outbound{
		{to: toCaller, payload: event},
		{to: toRoom, roomID: roomID, payload: event},
	}, nil
}

func (h *Hub) handleUpdate(ctx context.Context, c *Client, msg *dto.ClientMessage) ([]outbound, error) {
	roomID, playerID, err := h.session(c, msg)
	if err != nil {
		return nil, err
	}
	_, player, err := h.presence.Authorize(ctx, roomID, playerID)
	if err != nil {
		return nil, err
	}

	if msg.Reset {
		if !player.IsHost {
			return nil, service.ErrNotHost
		}
		// Queued intents are dropped and any running flush finishes first, so
		// nothing from before the reset lands on the empty grid.
		state, err := h.batcher.Reset(ctx, roomID, h.merger.Reset)
		if err != nil {
			return nil, err
		}
		return []outbound{{to: toRoom, roomID: roomID, payload: dto.GameStateEvent{Type: dto.TypeGameState, GameState: state}}}, nil
	}

	updates, err := service.NormalizeUpdates(msg.Updates, h.cfg.Rows, h.cfg.Cols, h.cfg.MaxUpdatesPerMsg, player.Color)
	if err != nil {
		return nil, err
	}
	nowMs := time.Now().UnixMilli()
	accepted := updates[:0]
	for _, u := range updates {
		u.PlayerID = playerID
		u.RoomID = roomID
		if u.Timestamp <= 0 {
			u.Timestamp = nowMs
		}
		if msg.Generation != nil && u.Generation == 0 {
			u.Generation = *msg.Generation
		}
		if !player.IsHost {
			// Only the host advances generations.
			if u.Heartbeat {
				continue
			}
			u.Generation = 0
			// Players only place cells of their own.
			if u.Cell.IsAlive {
				u.Cell.OwnerID = playerID
			}
		} else if u.Cell.IsAlive && u.Cell.OwnerID == "" {
			// The host's stepped births keep the owners it computed.
			u.Cell.OwnerID = playerID
		}
		accepted = append(accepted, u)
	}
	if len(accepted) == 0 {
		return nil, nil
	}
	if err := h.batcher.Enqueue(roomID, accepted); err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to enqueue updates")
		return nil, service.ErrInternalServer
	}
	return nil, nil
}

func (h *Hub) handleStatusUpdate(ctx context.Context, c *Client, msg *dto.ClientMessage) ([]outbound, error) {
	roomID, playerID, err := h.session(c, msg)
	if err != nil {
		return nil, err
	}
	room, err := h.presence.UpdateStatus(ctx, roomID, playerID, msg.Status)
	if err != nil {
		return nil, err
	}
	return []outbound{{to: toRoom, roomID: roomID, payload: dto.StatusChangedEvent{
		Type:   dto.TypeStatusChanged,
		Status: room.Status,
		Room:   room,
	}}}, nil
}

func (h *Hub) handleStart(ctx context.Context, c *Client, msg *dto.ClientMessage) ([]outbound, error) {
	roomID, playerID, err := h.session(c, msg)
	if err != nil {
		return nil, err
	}
	room, state, err := h.presence.Start(ctx, roomID, playerID)
	if err != nil {
		return nil, err
	}
	return []outbound{{to: toRoom, roomID: roomID, payload: dto.GameStartedEvent{
		Type:      dto.TypeGameStarted,
		Room:      room,
		GameState: state,
	}}}, nil
}

// session returns the joined room and player, checking any room id the message names.
func (h *Hub) session(c *Client, msg *dto.ClientMessage) (string, string, error) {
	roomID, playerID := c.Session()
	if roomID == "" {
		return "", "", service.ErrNotJoined
	}
	if msg.RoomID != "" && msg.RoomID != roomID {
		return "", "", service.ErrNotMember
	}
	return roomID, playerID, nil
}
