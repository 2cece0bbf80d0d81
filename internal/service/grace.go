package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// GraceExpiryFunc is invoked when a disconnected player's grace period elapses.
// since is the LastStatusChange the timer was scheduled for.
type GraceExpiryFunc func(ctx context.Context, roomID, playerID string, since time.Time)

// GraceScheduler arms and disarms reconnection grace timers.
type GraceScheduler interface {
	Schedule(ctx context.Context, roomID, playerID string, since time.Time, after time.Duration) error
	Cancel(ctx context.Context, roomID, playerID string) error
}

// LocalGraceScheduler keeps grace timers in process memory.
type LocalGraceScheduler struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	handler GraceExpiryFunc
	logger  *logrus.Entry
}

// NewLocalGraceScheduler creates a scheduler; the expiry handler is bound later
// with Bind because the presence service depends on the scheduler.
func NewLocalGraceScheduler(logger *logrus.Entry) *LocalGraceScheduler {
	if logger == nil {
		logger = logrus.WithField("component", "grace")
	}
	return &LocalGraceScheduler{
		timers: make(map[string]*time.Timer),
		logger: logger,
	}
}

// Bind sets the function called on expiry.
func (s *LocalGraceScheduler) Bind(handler GraceExpiryFunc) {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
}

// Schedule replaces any timer already armed for the player.
func (s *LocalGraceScheduler) Schedule(_ context.Context, roomID, playerID string, since time.Time, after time.Duration) error {
	key := graceKey(roomID, playerID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(after, func() {
		s.mu.Lock()
		if s.timers[key] == timer {
			delete(s.timers, key)
		}
		handler := s.handler
		s.mu.Unlock()
		if handler == nil {
			s.logger.WithFields(logrus.Fields{"room_id": roomID, "player_id": playerID}).Warn("Grace timer fired with no handler bound")
			return
		}
		handler(context.Background(), roomID, playerID, since)
	})
	s.timers[key] = timer
	return nil
}

// Cancel stops the player's timer if one is armed.
func (s *LocalGraceScheduler) Cancel(_ context.Context, roomID, playerID string) error {
	key := graceKey(roomID, playerID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
	return nil
}

// Armed reports whether a timer is pending for the player.
func (s *LocalGraceScheduler) Armed(roomID, playerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[graceKey(roomID, playerID)]
	return ok
}

// Stop disarms every timer.
func (s *LocalGraceScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}

func graceKey(roomID, playerID string) string {
	return roomID + "/" + playerID
}
