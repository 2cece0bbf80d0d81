package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"multiplayer-life/internal/domain"
)

// FailurePolicy decides what happens to a flush cycle's updates when the merge fails.
type FailurePolicy string

const (
	// FailureDrop discards the cycle's updates.
	FailureDrop FailurePolicy = "drop"
	// FailureRequeueOnce puts the cycle's updates back at the head of the queue once.
	FailureRequeueOnce FailurePolicy = "requeue_once"
)

// ParseFailurePolicy validates a configured policy name.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(s); p {
	case FailureDrop, FailureRequeueOnce:
		return p, nil
	}
	return "", fmt.Errorf("unknown sync failure policy %q", s)
}

// BatcherConfig holds the debounce timings.
type BatcherConfig struct {
	Debounce      time.Duration // quiet period before a flush
	MaxWait       time.Duration // ceiling from the first enqueue of a cycle; 0 disables
	FailurePolicy FailurePolicy
	FlushTimeout  time.Duration // per-flush store deadline; 0 means 5s
}

// FlushFunc receives every successfully merged state.
type FlushFunc func(roomID string, state *domain.GameState)

type pendingBatch struct {
	updates  []domain.CellUpdate
	attempts int
}

type roomQueue struct {
	mu            sync.Mutex
	pending       []pendingBatch
	timer         *time.Timer
	timerSeq      uint64 // identifies the armed timer; bumped on every rearm or stop
	firstEnqueued time.Time

	// flushMu serializes flushes and resets of this room.
	flushMu sync.Mutex
	// refs counts callers using the queue outside b.mu. Guarded by b.mu.
	refs int
}

// Batcher is the per-room debounce queue in front of the merge engine.
type Batcher struct {
	merger    Merger
	cfg       BatcherConfig
	onFlushed FlushFunc
	logger    *logrus.Entry

	mu     sync.Mutex
	rooms  map[string]*roomQueue
	closed bool

	now func() time.Time
}

// NewBatcher creates a Batcher. onFlushed may be nil.
func NewBatcher(merger Merger, cfg BatcherConfig, onFlushed FlushFunc, logger *logrus.Entry) *Batcher {
	if merger == nil {
		panic("Merger cannot be nil for Batcher")
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = FailureRequeueOnce
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = logrus.WithField("component", "batcher")
	}
	return &Batcher{
		merger:    merger,
		cfg:       cfg,
		onFlushed: onFlushed,
		logger:    logger,
		rooms:     make(map[string]*roomQueue),
		now:       time.Now,
	}
}

// SetFlushHandler installs the callback fired after each successful merge.
func (b *Batcher) SetFlushHandler(fn FlushFunc) {
	b.mu.Lock()
	b.onFlushed = fn
	b.mu.Unlock()
}

// Enqueue appends a batch to the room's queue and pushes the flush timer out by the
// debounce delay, bounded by the max-wait ceiling.
func (b *Batcher) Enqueue(roomID string, updates []domain.CellUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	q, err := b.acquire(roomID, true)
	if err != nil {
		return err
	}
	defer b.release(roomID, q)

	q.mu.Lock()
	defer q.mu.Unlock()
	now := b.now()
	if len(q.pending) == 0 {
		q.firstEnqueued = now
	}
	q.pending = append(q.pending, pendingBatch{updates: append([]domain.CellUpdate(nil), updates...)})
	b.scheduleLocked(roomID, q, now)
	return nil
}

// Pending returns how many updates are queued for a room.
func (b *Batcher) Pending(roomID string) int {
	q, _ := b.acquire(roomID, false)
	if q == nil {
		return 0
	}
	defer b.release(roomID, q)

	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, p := range q.pending {
		n += len(p.updates)
	}
	return n
}

// ActiveQueues reports how many rooms currently hold a queue.
func (b *Batcher) ActiveQueues() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms)
}

// Flush merges whatever is queued for the room right now.
func (b *Batcher) Flush(roomID string) {
	q, _ := b.acquire(roomID, false)
	if q == nil {
		return
	}
	defer b.release(roomID, q)

	q.mu.Lock()
	stopTimerLocked(q)
	q.mu.Unlock()
	b.flush(roomID, q)
}

// Close stops accepting updates and flushes every queue. Each room's flush waits
// for one already in flight.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	ids := make([]string, 0, len(b.rooms))
	for id := range b.rooms {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.Flush(id)
	}
}

// ResetFunc replaces a room's game state.
type ResetFunc func(ctx context.Context, roomID string) (*domain.GameState, error)

// Reset drops the room's queued updates and runs reset once any in-flight flush
// has finished. No flush of the room starts until reset returns.
func (b *Batcher) Reset(ctx context.Context, roomID string, reset ResetFunc) (*domain.GameState, error) {
	q, err := b.acquire(roomID, true)
	if err != nil {
		return nil, err
	}
	defer b.release(roomID, q)

	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	q.mu.Lock()
	stopTimerLocked(q)
	dropped := len(q.pending)
	q.pending = nil
	q.mu.Unlock()
	if dropped > 0 {
		b.logger.WithFields(logrus.Fields{"room_id": roomID, "batches": dropped}).Debug("Discarded queued updates before reset")
	}
	return reset(ctx, roomID)
}

var errBatcherClosed = errors.New("batcher is closed")

// acquire pins the room's queue so it is not pruned until release. With create
// unset a missing queue yields nil.
func (b *Batcher) acquire(roomID string, create bool) (*roomQueue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.rooms[roomID]
	if !ok {
		if !create {
			return nil, nil
		}
		if b.closed {
			return nil, errBatcherClosed
		}
		q = &roomQueue{}
		b.rooms[roomID] = q
	} else if create && b.closed {
		return nil, errBatcherClosed
	}
	q.refs++
	return q, nil
}

// release unpins q and drops it from the map once nobody holds it, nothing is
// queued and no timer is armed. Must not be called with q.mu held.
func (b *Batcher) release(roomID string, q *roomQueue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q.refs--
	if q.refs > 0 || b.rooms[roomID] != q {
		return
	}
	q.mu.Lock()
	idle := len(q.pending) == 0 && q.timer == nil
	q.mu.Unlock()
	if idle {
		delete(b.rooms, roomID)
	}
}

// stopTimerLocked must be called with q.mu held.
func stopTimerLocked(q *roomQueue) {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.timerSeq++
}

// scheduleLocked must be called with q.mu held.
func (b *Batcher) scheduleLocked(roomID string, q *roomQueue, now time.Time) {
	delay := b.cfg.Debounce
	if b.cfg.MaxWait > 0 {
		deadline := q.firstEnqueued.Add(b.cfg.MaxWait)
		if remaining := deadline.Sub(now); remaining < delay {
			delay = remaining
		}
	}
	if delay < 0 {
		delay = 0
	}
	stopTimerLocked(q)
	seq := q.timerSeq
	q.timer = time.AfterFunc(delay, func() { b.fire(roomID, q, seq) })
}

// fire runs a flush for the timer armed as seq. A timer that was rearmed or
// stopped after it fired does nothing; whoever replaced it owns the queue.
func (b *Batcher) fire(roomID string, q *roomQueue, seq uint64) {
	b.mu.Lock()
	if b.rooms[roomID] != q {
		b.mu.Unlock()
		return
	}
	q.refs++
	b.mu.Unlock()
	defer b.release(roomID, q)

	q.mu.Lock()
	current := q.timerSeq == seq
	if current {
		q.timer = nil
	}
	q.mu.Unlock()
	if current {
		b.flush(roomID, q)
	}
}

// flush must be called with a reference on q.
func (b *Batcher) flush(roomID string, q *roomQueue) {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	// 1. Take everything queued so far; later enqueues start a new cycle.
	q.mu.Lock()
	taken := q.pending
	q.pending = nil
	q.mu.Unlock()
	if len(taken) == 0 {
		return
	}

	batches := make([][]domain.CellUpdate, len(taken))
	count := 0
	for i, p := range taken {
		batches[i] = p.updates
		count += len(p.updates)
	}
	logCtx := b.logger.WithFields(logrus.Fields{"room_id": roomID, "batches": len(batches), "updates": count})

	// 2. Merge.
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.FlushTimeout)
	state, err := b.merger.Merge(ctx, roomID, batches)
	cancel()
	if err == nil {
		logCtx.WithField("generation", state.Generation).Debug("Flushed update batch")
		b.mu.Lock()
		fn := b.onFlushed
		b.mu.Unlock()
		if fn != nil {
			fn(roomID, state)
		}
		return
	}

	// 3. Failure policy.
	if errors.Is(err, ErrGameNotStarted) {
		logCtx.WithError(err).Warn("Dropping updates for room without game state")
		return
	}
	if b.cfg.FailurePolicy != FailureRequeueOnce {
		logCtx.WithError(err).Error("Merge failed, dropping flush cycle")
		return
	}
	var retry []pendingBatch
	dropped := 0
	for _, p := range taken {
		if p.attempts >= 1 {
			dropped += len(p.updates)
			continue
		}
		p.attempts++
		retry = append(retry, p)
	}
	if dropped > 0 {
		logCtx.WithError(err).WithField("dropped", dropped).Error("Merge failed twice, dropping updates")
	}
	if len(retry) == 0 {
		return
	}

	// 4. Requeue ahead of anything that arrived meanwhile.
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		logCtx.WithError(err).Error("Merge failed during shutdown, dropping flush cycle")
		return
	}
	logCtx.WithError(err).Warn("Merge failed, requeueing flush cycle once")

	q.mu.Lock()
	defer q.mu.Unlock()
	now := b.now()
	if len(q.pending) == 0 {
		q.firstEnqueued = now
	}
	q.pending = append(retry, q.pending...)
	b.scheduleLocked(roomID, q, now)
}
