package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"multiplayer-life/internal/domain"
	"multiplayer-life/internal/repository"
)

// StateInitializer creates the first game state of a room.
type StateInitializer interface {
	Initialize(ctx context.Context, roomID string) (*domain.GameState, error)
}

// PresenceConfig holds room limits and the reconnection window.
type PresenceConfig struct {
	Capacity    int
	GracePeriod time.Duration
}

// JoinResult describes a successful join.
type JoinResult struct {
	Room        *domain.Room
	Player      domain.Player
	Reconnected bool
}

// RemovalResult describes a player leaving the room for good.
type RemovalResult struct {
	Room    *domain.Room
	Player  domain.Player
	NewHost string // set when the host role moved
}

// RemovalListener is told about players removed by grace expiry.
type RemovalListener func(roomID string, result *RemovalResult)

// PresenceService tracks who is in a room, who is host and where the game loop is.
// Mutations of one room are serialized in process; the room record itself is
// written last-writer-wins.
type PresenceService struct {
	roomRepo repository.RoomRepository
	states   StateInitializer
	grace    GraceScheduler
	cfg      PresenceConfig
	locks    *keyedMutex
	now      func() time.Time

	onRemoved RemovalListener
}

// NewPresenceService creates a PresenceService.
func NewPresenceService(
	roomRepo repository.RoomRepository,
	states StateInitializer,
	grace GraceScheduler,
	cfg PresenceConfig,
) *PresenceService {
	if roomRepo == nil || states == nil || grace == nil {
		panic("RoomRepository, StateInitializer and GraceScheduler must be non-nil for PresenceService")
	}
	return &PresenceService{
		roomRepo: roomRepo,
		states:   states,
		grace:    grace,
		cfg:      cfg,
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
}

// OnRemoved installs the listener for grace-expiry removals.
func (s *PresenceService) OnRemoved(fn RemovalListener) {
	s.onRemoved = fn
}

// CheckJoin runs the join authorization rules without changing anything.
func (s *PresenceService) CheckJoin(ctx context.Context, roomID, playerID string) (*domain.Room, error) {
	if err := ValidateRoomID(roomID); err != nil {
		return nil, err
	}
	if err := ValidatePlayerID(playerID); err != nil {
		return nil, err
	}
	room, err := s.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeJoin(room, playerID); err != nil {
		return nil, err
	}
	return room, nil
}

// Join adds the player or, for an existing member, marks it active again.
func (s *PresenceService) Join(ctx context.Context, roomID, playerID, name string) (*JoinResult, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "player_id": playerID, "operation": "join"})
	if err := ValidateRoomID(roomID); err != nil {
		return nil, err
	}
	if err := ValidatePlayerID(playerID); err != nil {
		return nil, err
	}
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}

	// 1. Load under the room lock and check capacity and game-in-progress rules.
	unlock := s.locks.Lock(roomID)
	defer unlock()

	room, err := s.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeJoin(room, playerID); err != nil {
		logCtx.WithError(err).Info("Join rejected")
		return nil, err
	}

	// 2. Add or reactivate the player.
	now := s.now()
	result := &JoinResult{Room: room}
	if i := room.FindPlayer(playerID); i >= 0 {
		// Reconnection path.
		p := &room.Players[i]
		p.Name = name
		p.Status = domain.PlayerActive
		p.LastStatusChange = now
		// Someone else took the color while this player was away.
		if used := room.UsedColors(playerID); used[p.Color] {
			p.Color = domain.NextFreeColor(used)
		}
		result.Reconnected = true
	} else {
		room.Players = append(room.Players, domain.Player{
			ID:               playerID,
			Name:             name,
			Color:            domain.NextFreeColor(room.UsedColors("")),
			IsHost:           len(room.Players) == 0,
			Status:           domain.PlayerActive,
			LastStatusChange: now,
		})
	}
	room.EnsureHost()
	room.LastActivity = now

	// 3. Persist, then drop the pending grace timer of a returning player.
	if err := s.save(ctx, room, logCtx); err != nil {
		return nil, err
	}
	if result.Reconnected {
		if err := s.grace.Cancel(ctx, roomID, playerID); err != nil {
			// The expiry check will find the player active and do nothing.
			logCtx.WithError(err).Warn("Failed to cancel grace timer")
		}
	}
	result.Player, _ = room.Player(playerID)
	logCtx.WithField("reconnected", result.Reconnected).Info("Player joined room")
	return result, nil
}

// Disconnect marks the player inactive and arms its grace timer.
func (s *PresenceService) Disconnect(ctx context.Context, roomID, playerID string) (*domain.Room, error) {
	room, _, err := s.DisconnectUnless(ctx, roomID, playerID, nil)
	return room, err
}

// DisconnectUnless is Disconnect guarded by connected, which is evaluated under the
// room lock; when it reports true the player is left alone. changed is false when
// nothing was written.
func (s *PresenceService) DisconnectUnless(ctx context.Context, roomID, playerID string, connected func() bool) (room *domain.Room, changed bool, err error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "player_id": playerID, "operation": "disconnect"})
	unlock := s.locks.Lock(roomID)
	defer unlock()

	room, err = s.load(ctx, roomID)
	if err != nil {
		return nil, false, err
	}
	i := room.FindPlayer(playerID)
	if i < 0 {
		return nil, false, ErrNotMember
	}
	p := &room.Players[i]
	if !p.Active() || (connected != nil && connected()) {
		return room, false, nil
	}
	// Mark inactive and arm the grace timer keyed on the change time.
	// Round(0) drops the monotonic reading so the stored and scheduled times compare equal.
	now := s.now().Round(0)
	p.Status = domain.PlayerInactive
	p.LastStatusChange = now
	room.LastActivity = now
	if err := s.save(ctx, room, logCtx); err != nil {
		return nil, false, err
	}
	if err := s.grace.Schedule(ctx, roomID, playerID, now, s.cfg.GracePeriod); err != nil {
		logCtx.WithError(err).Error("Failed to schedule grace timer")
	}
	logCtx.WithField("grace", s.cfg.GracePeriod).Info("Player disconnected")
	return room, true, nil
}

// ExpireGrace removes the player if it is still inactive since the given time.
// Stale or repeated expiries are no-ops and return a nil result.
func (s *PresenceService) ExpireGrace(ctx context.Context, roomID, playerID string, since time.Time) (*RemovalResult, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "player_id": playerID, "operation": "grace_expire"})
	unlock := s.locks.Lock(roomID)
	room, err := s.load(ctx, roomID)
	if err != nil {
		unlock()
		if errors.Is(err, ErrRoomNotFound) {
			return nil, nil
		}
		return nil, err
	}
	// A rejoin or a newer disconnect moved LastStatusChange past this timer.
	p, ok := room.Player(playerID)
	if !ok || p.Active() || !p.LastStatusChange.Equal(since) {
		unlock()
		logCtx.Debug("Grace expiry is stale, ignoring")
		return nil, nil
	}
	result, err := s.remove(ctx, room, playerID, logCtx)
	unlock()
	if err != nil {
		return nil, err
	}
	// Broadcast outside the lock.
	logCtx.WithField("new_host", result.NewHost).Info("Grace period elapsed, player removed")
	if s.onRemoved != nil {
		s.onRemoved(roomID, result)
	}
	return result, nil
}

// HandleGraceExpiry adapts ExpireGrace to GraceExpiryFunc.
func (s *PresenceService) HandleGraceExpiry(ctx context.Context, roomID, playerID string, since time.Time) {
	if _, err := s.ExpireGrace(ctx, roomID, playerID, since); err != nil {
		logrus.WithFields(logrus.Fields{"room_id": roomID, "player_id": playerID}).WithError(err).Error("Grace expiry failed")
	}
}

// Leave removes the player immediately.
func (s *PresenceService) Leave(ctx context.Context, roomID, playerID string) (*RemovalResult, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "player_id": playerID, "operation": "leave"})
	unlock := s.locks.Lock(roomID)
	defer unlock()

	room, err := s.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.FindPlayer(playerID) < 0 {
		return nil, ErrNotMember
	}
	result, err := s.remove(ctx, room, playerID, logCtx)
	if err != nil {
		return nil, err
	}
	if err := s.grace.Cancel(ctx, roomID, playerID); err != nil {
		logCtx.WithError(err).Warn("Failed to cancel grace timer")
	}
	logCtx.WithField("new_host", result.NewHost).Info("Player left room")
	return result, nil
}

// UpdateStatus moves the game loop through stopped/running/paused on behalf of the host.
func (s *PresenceService) UpdateStatus(ctx context.Context, roomID, playerID string, status domain.GameStatus) (*domain.Room, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "player_id": playerID, "operation": "status_update", "status": status})
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	unlock := s.locks.Lock(roomID)
	defer unlock()

	room, err := s.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := requireActiveHost(room, playerID); err != nil {
		return nil, err
	}
	if err := checkTransition(room, status); err != nil {
		logCtx.WithField("from", room.Status).WithError(err).Info("Status change rejected")
		return nil, err
	}
	room.Status = status
	room.LastActivity = s.now()
	if err := s.save(ctx, room, logCtx); err != nil {
		return nil, err
	}
	logCtx.Info("Game status changed")
	return room, nil
}

// Start begins the game for the first time and creates its generation-0 state.
func (s *PresenceService) Start(ctx context.Context, roomID, playerID string) (*domain.Room, *domain.GameState, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "player_id": playerID, "operation": "start"})
	unlock := s.locks.Lock(roomID)
	defer unlock()

	room, err := s.load(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	if err := requireActiveHost(room, playerID); err != nil {
		return nil, nil, err
	}
	if room.HasStarted {
		return nil, nil, ErrGameAlreadyStarted
	}
	if room.AnyInactive() {
		return nil, nil, ErrPlayersInactive
	}

	// The state is written first; a failed room save leaves a harmless empty grid.
	state, err := s.states.Initialize(ctx, roomID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to initialize game state")
		return nil, nil, err
	}
	room.HasStarted = true
	room.Status = domain.GameStatusRunning
	room.LastActivity = s.now()
	if err := s.save(ctx, room, logCtx); err != nil {
		return nil, nil, err
	}
	logCtx.Info("Game started")
	return room, state, nil
}

// Authorize returns the room and player for an active member of a started game.
func (s *PresenceService) Authorize(ctx context.Context, roomID, playerID string) (*domain.Room, domain.Player, error) {
	room, err := s.load(ctx, roomID)
	if err != nil {
		return nil, domain.Player{}, err
	}
	p, ok := room.Player(playerID)
	if !ok {
		return nil, domain.Player{}, ErrNotMember
	}
	if !p.Active() {
		return nil, domain.Player{}, ErrPlayerInactive
	}
	if !room.HasStarted {
		return nil, domain.Player{}, ErrGameNotStarted
	}
	return room, p, nil
}

// Room loads the room record.
func (s *PresenceService) Room(ctx context.Context, roomID string) (*domain.Room, error) {
	return s.load(ctx, roomID)
}

func (s *PresenceService) authorizeJoin(room *domain.Room, playerID string) error {
	if room.FindPlayer(playerID) >= 0 {
		return nil
	}
	if s.cfg.Capacity > 0 && len(room.Players) >= s.cfg.Capacity {
		return ErrRoomFull
	}
	if room.HasStarted && !room.WasMember(playerID) {
		return ErrGameInProgress
	}
	return nil
}

func (s *PresenceService) remove(ctx context.Context, room *domain.Room, playerID string, logCtx *logrus.Entry) (*RemovalResult, error) {
	oldHost, _ := room.Host()
	removed, _ := room.RemovePlayer(playerID)
	room.LastActivity = s.now()
	if err := s.save(ctx, room, logCtx); err != nil {
		return nil, err
	}
	result := &RemovalResult{Room: room, Player: removed}
	if newHost, ok := room.Host(); ok && newHost.ID != oldHost.ID {
		result.NewHost = newHost.ID
	}
	return result, nil
}

func (s *PresenceService) load(ctx context.Context, roomID string) (*domain.Room, error) {
	room, err := s.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logrus.WithField("room_id", roomID).WithError(err).Error("Failed to load room")
		}
		return nil, mapRepoError(err)
	}
	return room, nil
}

func (s *PresenceService) save(ctx context.Context, room *domain.Room, logCtx *logrus.Entry) error {
	if err := s.roomRepo.Save(ctx, room); err != nil {
		logCtx.WithError(err).Error("Failed to save room")
		return ErrInternalServer
	}
	return nil
}

func requireActiveHost(room *domain.Room, playerID string) error {
	p, ok := room.Player(playerID)
	if !ok {
		return ErrNotMember
	}
	if !p.IsHost {
		return ErrNotHost
	}
	if !p.Active() {
		return ErrPlayerInactive
	}
	return nil
}

// checkTransition enforces stopped -> running -> paused -> running -> stopped.
func checkTransition(room *domain.Room, to domain.GameStatus) error {
	from := room.Status
	if from == "" {
		from = domain.GameStatusStopped
	}
	switch {
	case from == domain.GameStatusStopped && to == domain.GameStatusRunning:
		if !room.HasStarted {
			return ErrGameNotStarted
		}
		if room.AnyInactive() {
			return ErrPlayersInactive
		}
		return nil
	case from == domain.GameStatusRunning && (to == domain.GameStatusPaused || to == domain.GameStatusStopped):
		return nil
	case from == domain.GameStatusPaused && (to == domain.GameStatusRunning || to == domain.GameStatusStopped):
		return nil
	}
	return ErrInvalidTransition
}
