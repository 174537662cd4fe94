package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/ataka/medley/internal/domain/track"
)

// Errors
var (
	ErrOutOfRange    = errors.New("queue position out of range")
	ErrNothingToSkip = errors.New("nothing to skip")
	ErrNotPlaying    = errors.New("not playing")
	ErrNotPaused     = errors.New("not paused")
	ErrNotConnected  = errors.New("not connected to a voice channel")
	ErrTransportLost = errors.New("voice transport lost")
)

// Resolver materializes a playable source for a track immediately before
// playback. Stream URLs expire, so materialization never happens at enqueue
// time.
type Resolver interface {
	Materialize(ctx context.Context, t track.Track) (*track.Source, error)
}

// Result reports how a playback attempt ended. The engine delivers it
// exactly once per successfully started item.
type Result struct {
	Err         error
	Interrupted bool // Stopped via Stop rather than reaching the end of the stream
}

// Engine plays at most one materialized source at a time.
//
// Play returns once streaming has started (or failed to start); after a nil
// return the engine must invoke done exactly once, from its own goroutine,
// when playback ends for any reason. done only hands the result over and
// must never block.
type Engine interface {
	Play(src *track.Source, done func(Result)) error
	Stop()
	Pause() error
	Resume() error
	Connected() bool
}

// Notifier delivers best-effort status messages to the session's text
// channel. Implementations must not block the caller; delivery failures are
// theirs to log and swallow.
type Notifier interface {
	NowPlaying(np NowPlaying)
	Announce(text string)
}

// NowPlaying describes the item currently held by the driving loop.
type NowPlaying struct {
	Item      track.QueuedTrack
	Source    *track.Source
	StartedAt time.Time
}

// Elapsed returns the wall-clock time since playback started.
func (np NowPlaying) Elapsed() time.Duration {
	return time.Since(np.StartedAt)
}

// Config holds scheduler configuration.
type Config struct {
	ResolveTimeout time.Duration // Upper bound for a single materialization
	FailureBackoff time.Duration // Pause after a recovered cycle panic

	// OnTransportLost is called (on its own goroutine) when the voice
	// transport is confirmed gone outside of an explicit stop or leave.
	// The callback is expected to tear the session down.
	OnTransportLost func()
}

// Scheduler owns one session's queue and the single goroutine that drains
// it. All mutation of the queue and the current-item slot happens under mu;
// the critical section is never held across materialization, playback or
// channel waits.
type Scheduler struct {
	guildID  string
	resolver Resolver
	engine   Engine
	notifier Notifier
	config   Config

	mu      sync.RWMutex
	queue   []track.QueuedTrack
	current *NowPlaying
	state   State

	// wake is a single-slot level-triggered signal: raising it when it is
	// already raised is a no-op, and the parked loop consumes it on receipt.
	wake chan struct{}

	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	shutdownOnce sync.Once
}

// New creates a scheduler and starts its driving loop.
func New(guildID string, resolver Resolver, engine Engine, notifier Notifier, config Config) *Scheduler {
	if config.ResolveTimeout <= 0 {
		config.ResolveTimeout = 20 * time.Second
	}
	if config.FailureBackoff <= 0 {
		config.FailureBackoff = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		guildID:  guildID,
		resolver: resolver,
		engine:   engine,
		notifier: notifier,
		config:   config,
		queue:    make([]track.QueuedTrack, 0),
		state:    StateEmpty,
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

// Enqueue appends items in order and wakes the loop if it is parked.
// Returns the number of items accepted.
func (s *Scheduler) Enqueue(items []track.QueuedTrack) int {
	if len(items) == 0 {
		return 0
	}

	s.mu.Lock()
	if s.state == StateTerminating {
		s.mu.Unlock()
		return 0
	}
	s.queue = append(s.queue, items...)
	idle := s.state == StateEmpty
	s.mu.Unlock()

	if idle {
		s.raiseWake()
	}

	zlog.Debug().Msgf("scheduler: enqueued %d item(s): guild=%s", len(items), s.guildID)
	return len(items)
}

// SkipCurrent skips the active item, or wakes an idle loop that has pending
// items. Returns ErrNothingToSkip when there is nothing to act on.
func (s *Scheduler) SkipCurrent() error {
	s.mu.Lock()
	active := s.current != nil && (s.state == StatePlaying || s.state == StateAwaitingCompletion)
	pending := len(s.queue) > 0
	s.mu.Unlock()

	switch {
	case active:
		// The engine reports the interruption through the completion
		// callback; the loop advances from there.
		s.engine.Stop()
		return nil
	case pending:
		// Idle loop with a stuck queue: raise the wake signal directly.
		s.raiseWake()
		return nil
	default:
		return ErrNothingToSkip
	}
}

// RemoveAt removes the pending item at the given 1-based position.
// Position 1 is the next item to play, never the active one.
func (s *Scheduler) RemoveAt(pos int) (track.QueuedTrack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pos < 1 || pos > len(s.queue) {
		return track.QueuedTrack{}, errors.Wrapf(ErrOutOfRange, "position %d (queue length %d)", pos, len(s.queue))
	}
	qt := s.queue[pos-1]
	s.queue = append(s.queue[:pos-1], s.queue[pos:]...)
	return qt, nil
}

// ClearPending drops all pending items without touching the active one.
// Returns the number of items removed.
func (s *Scheduler) ClearPending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.queue)
	s.queue = make([]track.QueuedTrack, 0)
	return n
}

// Snapshot returns the current item (nil when idle) and a copy of the
// pending queue, taken atomically.
func (s *Scheduler) Snapshot() (*NowPlaying, []track.QueuedTrack) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var np *NowPlaying
	if s.current != nil {
		c := *s.current
		np = &c
	}
	pending := make([]track.QueuedTrack, len(s.queue))
	copy(pending, s.queue)
	return np, pending
}

// Pause pauses the active item.
func (s *Scheduler) Pause() error {
	s.mu.RLock()
	active := s.current != nil
	s.mu.RUnlock()

	if !active {
		return ErrNotPlaying
	}
	return s.engine.Pause()
}

// Resume resumes a paused item.
func (s *Scheduler) Resume() error {
	s.mu.RLock()
	active := s.current != nil
	s.mu.RUnlock()

	if !active {
		return ErrNotPaused
	}
	return s.engine.Resume()
}

// State returns the current scheduler state.
func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Shutdown stops the driving loop, interrupts the active item and discards
// the queue. Safe to call multiple times and from any goroutine.
func (s *Scheduler) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.state = StateTerminating
		s.mu.Unlock()
		s.cancel()
		zlog.Debug().Msgf("scheduler: shutdown requested: guild=%s", s.guildID)
	})
}

// Done is closed when the driving loop has exited and cleanup is complete.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// raiseWake raises the wake signal without blocking. A raise while the
// signal is already up coalesces into one.
func (s *Scheduler) raiseWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run is the driving loop. It is the only goroutine that pops the queue or
// writes the current-item slot while the scheduler is alive.
func (s *Scheduler) run() {
	defer close(s.done)
	defer s.teardown()

	for {
		if s.ctx.Err() != nil {
			return
		}
		if !s.cycle() {
			return
		}
	}
}

// cycle performs one pop, materialize, play, wait pass. It returns false
// when the loop must exit (shutdown or transport loss). Panics from
// collaborators are confined to the cycle.
func (s *Scheduler) cycle() (alive bool) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("scheduler: recovered from cycle panic: guild=%s panic=%v", s.guildID, r)
			s.notifier.Announce("⚠️ An internal player error occurred. Continuing with the next track.")
			s.clearCurrent()
			select {
			case <-time.After(s.config.FailureBackoff):
				alive = true
			case <-s.ctx.Done():
				alive = false
			}
		}
	}()

	// Clear a stale wake left over from signals raised while busy.
	select {
	case <-s.wake:
	default:
	}

	s.mu.Lock()
	if len(s.queue) == 0 || !s.engine.Connected() {
		// Nothing to do (or deliberately disconnected): park until woken.
		// Being parked with a non-empty queue is the post-leave condition;
		// the reconnect path raises the wake signal.
		s.current = nil
		s.state = StateEmpty
		s.mu.Unlock()
		select {
		case <-s.wake:
			return true
		case <-s.ctx.Done():
			return false
		}
	}
	item := s.queue[0]
	s.queue = s.queue[1:]
	s.current = nil
	s.state = StatePreparing
	s.mu.Unlock()

	rctx, rcancel := context.WithTimeout(s.ctx, s.config.ResolveTimeout)
	src, err := s.resolver.Materialize(rctx, item.Track)
	rcancel()
	if err != nil {
		if s.ctx.Err() != nil {
			return false
		}
		// Resolution failure drops this item only; the loop moves on.
		zlog.Warn().Msgf("scheduler: materialization failed, skipping: guild=%s track=%s err=%v",
			s.guildID, item.Track.Title, err)
		s.notifier.Announce(fmt.Sprintf("❌ Could not load **%s**, skipping. (%v)", item.Track.Title, errors.Cause(err)))
		return true
	}

	// The outcome travels as a value on a fresh single-slot channel; the
	// engine callback performs only a non-blocking send.
	outcome := make(chan Result, 1)
	np := NowPlaying{Item: item, Source: src, StartedAt: time.Now()}

	s.mu.Lock()
	s.current = &np
	s.state = StatePlaying
	s.mu.Unlock()

	if err := s.engine.Play(src, func(res Result) {
		select {
		case outcome <- res:
		default:
		}
	}); err != nil {
		s.clearCurrent()
		switch {
		case errors.Is(err, ErrTransportLost):
			s.transportLost()
			return false
		case errors.Is(err, ErrNotConnected):
			// Disconnected between the connectivity check and Play. Put the
			// item back and park; nothing was consumed.
			s.mu.Lock()
			s.queue = append([]track.QueuedTrack{item}, s.queue...)
			s.state = StateEmpty
			s.mu.Unlock()
			select {
			case <-s.wake:
				return true
			case <-s.ctx.Done():
				return false
			}
		default:
			zlog.Error().Msgf("scheduler: engine rejected track, skipping: guild=%s track=%s err=%v",
				s.guildID, item.Track.Title, err)
			s.notifier.Announce(fmt.Sprintf("⚠️ Playback failed for **%s**, skipping. (%v)", item.Track.Title, errors.Cause(err)))
			return true
		}
	}

	s.notifier.NowPlaying(np)
	zlog.Info().Msgf("scheduler: playing: guild=%s track=%s duration=%v",
		s.guildID, item.Track.Title, item.Track.Duration)

	s.mu.Lock()
	s.state = StateAwaitingCompletion
	s.mu.Unlock()

	var res Result
	select {
	case res = <-outcome:
	case <-s.ctx.Done():
		s.engine.Stop()
		s.clearCurrent()
		return false
	}
	s.clearCurrent()

	switch {
	case res.Err == nil && !res.Interrupted:
		zlog.Debug().Msgf("scheduler: track finished: guild=%s track=%s", s.guildID, item.Track.Title)
	case res.Err == nil:
		zlog.Debug().Msgf("scheduler: track interrupted: guild=%s track=%s", s.guildID, item.Track.Title)
	case errors.Is(res.Err, ErrTransportLost):
		zlog.Warn().Msgf("scheduler: transport lost mid-track: guild=%s track=%s", s.guildID, item.Track.Title)
		s.transportLost()
		return false
	default:
		zlog.Error().Msgf("scheduler: playback error: guild=%s track=%s err=%v",
			s.guildID, item.Track.Title, res.Err)
		s.notifier.Announce(fmt.Sprintf("⚠️ Playback of **%s** ended with an error. (%v)", item.Track.Title, errors.Cause(res.Err)))
	}
	return true
}

// clearCurrent empties the current-item slot after a cycle ends.
func (s *Scheduler) clearCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateTerminating {
		s.state = StateEmpty
	}
	s.current = nil
}

// transportLost hands teardown to the registry. The callback runs on its
// own goroutine because it ends up calling back into Shutdown.
func (s *Scheduler) transportLost() {
	zlog.Warn().Msgf("scheduler: voice transport lost: guild=%s", s.guildID)
	if s.config.OnTransportLost != nil {
		go s.config.OnTransportLost()
	}
	s.Shutdown()
}

// teardown runs once when the loop exits: the queue is discarded and the
// engine silenced so no completion callback outlives the scheduler.
func (s *Scheduler) teardown() {
	s.engine.Stop()
	s.mu.Lock()
	s.state = StateTerminating
	s.current = nil
	s.queue = nil
	s.mu.Unlock()
	zlog.Debug().Msgf("scheduler: loop exited: guild=%s", s.guildID)
}
