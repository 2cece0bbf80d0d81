package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"multiplayer-life/internal/domain"
	"multiplayer-life/internal/repository"
)

// RoomService handles room metadata for the HTTP layer.
type RoomService struct {
	roomRepo repository.RoomRepository
	now      func() time.Time
	newID    func() string
}

// NewRoomService creates a RoomService.
func NewRoomService(roomRepo repository.RoomRepository) *RoomService {
	if roomRepo == nil {
		panic("RoomRepository cannot be nil for RoomService")
	}
	return &RoomService{
		roomRepo: roomRepo,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
}

// CreateRoom stores an empty, stopped room under a fresh random id.
func (s *RoomService) CreateRoom(ctx context.Context) (*domain.Room, error) {
	now := s.now().UTC()
	room := &domain.Room{
		ID:           s.newID(),
		CreatedAt:    now,
		LastActivity: now,
		Players:      []domain.Player{},
		Status:       domain.GameStatusStopped,
	}
	logCtx := logrus.WithField("room_id", room.ID)

	if err := s.roomRepo.Save(ctx, room); err != nil {
		logCtx.WithError(err).Error("Failed to save new room")
		return nil, ErrInternalServer
	}
	logCtx.Info("Room created successfully")
	return room, nil
}

// FindRoomByID returns the room or ErrRoomNotFound once it has expired.
func (s *RoomService) FindRoomByID(ctx context.Context, roomID string) (*domain.Room, error) {
	if err := ValidateRoomID(roomID); err != nil {
		return nil, err
	}
	room, err := s.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		mapped := mapRepoError(err)
		if mapped == ErrInternalServer {
			logrus.WithField("room_id", roomID).WithError(err).Error("FindRoomByID: repository error")
		}
		return nil, mapped
	}
	return room, nil
}
