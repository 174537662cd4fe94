package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ataka/medley/internal/domain/track"
)

const (
	waitTimeout = 3 * time.Second
	waitTick    = 5 * time.Millisecond
)

type stubResolver struct {
	mu    sync.Mutex
	fails map[string]error // title -> error
	calls int
}

func (r *stubResolver) Materialize(_ context.Context, t track.Track) (*track.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if err, ok := r.fails[t.Title]; ok {
		return nil, err
	}
	return &track.Source{Track: t, StreamURL: "https://stream.test/" + t.Title}, nil
}

// stubEngine records started tracks; tests drive completion through finish
// unless autoDone is set.
type stubEngine struct {
	mu        sync.Mutex
	connected bool
	autoDone  bool
	playErr   error
	done      func(Result)
	started   []string
	active    int
	maxActive int
	paused    bool
}

func newStubEngine() *stubEngine {
	return &stubEngine{connected: true}
}

func (e *stubEngine) Play(src *track.Source, done func(Result)) error {
	e.mu.Lock()
	if e.playErr != nil {
		err := e.playErr
		e.mu.Unlock()
		return err
	}
	if !e.connected {
		e.mu.Unlock()
		return ErrNotConnected
	}
	e.started = append(e.started, src.Track.Title)
	e.active++
	if e.active > e.maxActive {
		e.maxActive = e.active
	}
	e.done = done
	auto := e.autoDone
	e.mu.Unlock()

	if auto {
		go e.finish(Result{})
	}
	return nil
}

func (e *stubEngine) finish(res Result) {
	e.mu.Lock()
	done := e.done
	e.done = nil
	if done != nil {
		e.active--
	}
	e.mu.Unlock()
	if done != nil {
		done(res)
	}
}

func (e *stubEngine) Stop() {
	e.finish(Result{Interrupted: true})
}

func (e *stubEngine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done == nil || e.paused {
		return ErrNotPlaying
	}
	e.paused = true
	return nil
}

func (e *stubEngine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.paused {
		return ErrNotPaused
	}
	e.paused = false
	return nil
}

func (e *stubEngine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

func (e *stubEngine) setConnected(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = v
}

func (e *stubEngine) startedTitles() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.started))
	copy(out, e.started)
	return out
}

func (e *stubEngine) activeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

type stubNotifier struct {
	mu        sync.Mutex
	announced []string
	playing   []string
}

func (n *stubNotifier) NowPlaying(np NowPlaying) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.playing = append(n.playing, np.Item.Track.Title)
}

func (n *stubNotifier) Announce(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.announced = append(n.announced, text)
}

func (n *stubNotifier) announcedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.announced)
}

func (n *stubNotifier) playingTitles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.playing))
	copy(out, n.playing)
	return out
}

func qt(title string) track.QueuedTrack {
	return track.QueuedTrack{
		ID:        uuid.NewString(),
		Track:     track.Track{Title: title, WebpageURL: "https://watch.test/" + title, Duration: 3 * time.Minute},
		Requester: track.KnownRequester("u1", "alice"),
		AddedAt:   time.Now(),
	}
}

func newTestScheduler(resolver *stubResolver, engine *stubEngine, notifier *stubNotifier, config Config) *Scheduler {
	if resolver == nil {
		resolver = &stubResolver{}
	}
	if engine == nil {
		engine = newStubEngine()
	}
	if notifier == nil {
		notifier = &stubNotifier{}
	}
	return New("guild-1", resolver, engine, notifier, config)
}

func TestScheduler_PlaysInEnqueueOrder(t *testing.T) {
	engine := newStubEngine()
	engine.autoDone = true
	s := newTestScheduler(nil, engine, nil, Config{})
	defer s.Shutdown()

	s.Enqueue([]track.QueuedTrack{qt("a"), qt("b"), qt("c")})

	require.Eventually(t, func() bool {
		return len(engine.startedTitles()) == 3 && s.State() == StateEmpty
	}, waitTimeout, waitTick)
	assert.Equal(t, []string{"a", "b", "c"}, engine.startedTitles())
}

func TestScheduler_AtMostOneActiveItem(t *testing.T) {
	engine := newStubEngine()
	s := newTestScheduler(nil, engine, nil, Config{})
	defer s.Shutdown()

	s.Enqueue([]track.QueuedTrack{qt("a"), qt("b"), qt("c")})

	for i := 0; i < 3; i++ {
		require.Eventually(t, func() bool {
			return engine.activeCount() == 1
		}, waitTimeout, waitTick)
		engine.finish(Result{})
	}

	require.Eventually(t, func() bool {
		return s.State() == StateEmpty
	}, waitTimeout, waitTick)
	assert.Equal(t, 1, engine.maxActive)
	assert.Equal(t, []string{"a", "b", "c"}, engine.startedTitles())
}

func TestScheduler_EnqueueWakesIdleLoop(t *testing.T) {
	engine := newStubEngine()
	engine.autoDone = true
	s := newTestScheduler(nil, engine, nil, Config{})
	defer s.Shutdown()

	s.Enqueue([]track.QueuedTrack{qt("a")})
	require.Eventually(t, func() bool {
		return len(engine.startedTitles()) == 1 && s.State() == StateEmpty
	}, waitTimeout, waitTick)

	// The loop has drained and parked; a new item must wake it.
	s.Enqueue([]track.QueuedTrack{qt("b")})
	require.Eventually(t, func() bool {
		return len(engine.startedTitles()) == 2
	}, waitTimeout, waitTick)
	assert.Equal(t, []string{"a", "b"}, engine.startedTitles())
}

func TestScheduler_SkipAdvancesToNextItem(t *testing.T) {
	engine := newStubEngine()
	s := newTestScheduler(nil, engine, nil, Config{})
	defer s.Shutdown()

	s.Enqueue([]track.QueuedTrack{qt("a"), qt("b")})
	require.Eventually(t, func() bool {
		return engine.activeCount() == 1
	}, waitTimeout, waitTick)

	require.NoError(t, s.SkipCurrent())
	require.Eventually(t, func() bool {
		return len(engine.startedTitles()) == 2
	}, waitTimeout, waitTick)
	assert.Equal(t, []string{"a", "b"}, engine.startedTitles())
	engine.finish(Result{})
}

func TestScheduler_SkipWithNothingActive(t *testing.T) {
	s := newTestScheduler(nil, nil, nil, Config{})
	defer s.Shutdown()

	err := s.SkipCurrent()
	assert.ErrorIs(t, err, ErrNothingToSkip)
}

func TestScheduler_SkipWakesParkedLoopWithPendingItems(t *testing.T) {
	engine := newStubEngine()
	engine.setConnected(false)
	engine.autoDone = true
	s := newTestScheduler(nil, engine, nil, Config{})
	defer s.Shutdown()

	// Disconnected: the loop parks without consuming the queue.
	s.Enqueue([]track.QueuedTrack{qt("a")})
	require.Eventually(t, func() bool {
		_, pending := s.Snapshot()
		return s.State() == StateEmpty && len(pending) == 1
	}, waitTimeout, waitTick)
	assert.Empty(t, engine.startedTitles())

	engine.setConnected(true)
	require.NoError(t, s.SkipCurrent())
	require.Eventually(t, func() bool {
		return len(engine.startedTitles()) == 1
	}, waitTimeout, waitTick)
}

func TestScheduler_RemoveAt(t *testing.T) {
	tests := []struct {
		name      string
		pos       int
		wantTitle string
		wantErr   bool
	}{
		{name: "below range", pos: 0, wantErr: true},
		{name: "above range", pos: 4, wantErr: true},
		{name: "negative", pos: -1, wantErr: true},
		{name: "first pending", pos: 1, wantTitle: "a"},
		{name: "middle pending", pos: 2, wantTitle: "b"},
		{name: "last pending", pos: 3, wantTitle: "c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newStubEngine()
			engine.setConnected(false) // park the loop so the queue stays put
			s := newTestScheduler(nil, engine, nil, Config{})
			defer s.Shutdown()

			s.Enqueue([]track.QueuedTrack{qt("a"), qt("b"), qt("c")})

			got, err := s.RemoveAt(tt.pos)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrOutOfRange)
				_, pending := s.Snapshot()
				assert.Len(t, pending, 3)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTitle, got.Track.Title)
			_, pending := s.Snapshot()
			assert.Len(t, pending, 2)
			for _, p := range pending {
				assert.NotEqual(t, tt.wantTitle, p.Track.Title)
			}
		})
	}
}

func TestScheduler_ClearPending(t *testing.T) {
	engine := newStubEngine()
	engine.setConnected(false)
	s := newTestScheduler(nil, engine, nil, Config{})
	defer s.Shutdown()

	s.Enqueue([]track.QueuedTrack{qt("a"), qt("b"), qt("c")})
	assert.Equal(t, 3, s.ClearPending())
	assert.Equal(t, 0, s.ClearPending())

	_, pending := s.Snapshot()
	assert.Empty(t, pending)
}

func TestScheduler_SnapshotIsConsistentCopy(t *testing.T) {
	engine := newStubEngine()
	s := newTestScheduler(nil, engine, nil, Config{})
	defer s.Shutdown()

	s.Enqueue([]track.QueuedTrack{qt("a"), qt("b")})
	require.Eventually(t, func() bool {
		return engine.activeCount() == 1
	}, waitTimeout, waitTick)

	np, pending := s.Snapshot()
	require.NotNil(t, np)
	assert.Equal(t, "a", np.Item.Track.Title)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].Track.Title)

	// Mutating the returned copy must not leak into the scheduler.
	pending[0].Track.Title = "mutated"
	_, again := s.Snapshot()
	require.Len(t, again, 1)
	assert.Equal(t, "b", again[0].Track.Title)

	engine.finish(Result{})
}

func TestScheduler_ResolutionFailureSkipsItemOnly(t *testing.T) {
	resolver := &stubResolver{fails: map[string]error{"b": errors.New("video unavailable")}}
	engine := newStubEngine()
	engine.autoDone = true
	notifier := &stubNotifier{}
	s := newTestScheduler(resolver, engine, notifier, Config{})
	defer s.Shutdown()

	s.Enqueue([]track.QueuedTrack{qt("a"), qt("b"), qt("c")})

	require.Eventually(t, func() bool {
		return len(engine.startedTitles()) == 2 && s.State() == StateEmpty
	}, waitTimeout, waitTick)
	assert.Equal(t, []string{"a", "c"}, engine.startedTitles())
	assert.GreaterOrEqual(t, notifier.announcedCount(), 1)
}

func TestScheduler_PlaybackErrorContinuesWithNextItem(t *testing.T) {
	engine := newStubEngine()
	notifier := &stubNotifier{}
	s := newTestScheduler(nil, engine, notifier, Config{})
	defer s.Shutdown()

	s.Enqueue([]track.QueuedTrack{qt("a"), qt("b")})
	require.Eventually(t, func() bool {
		return engine.activeCount() == 1
	}, waitTimeout, waitTick)

	engine.finish(Result{Err: errors.New("stream stalled")})
	require.Eventually(t, func() bool {
		return len(engine.startedTitles()) == 2
	}, waitTimeout, waitTick)
	assert.Equal(t, []string{"a", "b"}, engine.startedTitles())
	engine.finish(Result{})
}

func TestScheduler_ShutdownIsIdempotent(t *testing.T) {
	engine := newStubEngine()
	s := newTestScheduler(nil, engine, nil, Config{})

	s.Enqueue([]track.QueuedTrack{qt("a"), qt("b")})
	require.Eventually(t, func() bool {
		return engine.activeCount() == 1
	}, waitTimeout, waitTick)

	s.Shutdown()
	s.Shutdown()

	select {
	case <-s.Done():
	case <-time.After(waitTimeout):
		t.Fatal("driving loop did not exit")
	}

	assert.Equal(t, StateTerminating, s.State())
	assert.Equal(t, 0, s.Enqueue([]track.QueuedTrack{qt("c")}))
	np, pending := s.Snapshot()
	assert.Nil(t, np)
	assert.Empty(t, pending)
}

func TestScheduler_TransportLossTearsDown(t *testing.T) {
	engine := newStubEngine()
	var torn sync.WaitGroup
	torn.Add(1)
	s := newTestScheduler(nil, engine, nil, Config{
		OnTransportLost: func() { torn.Done() },
	})

	s.Enqueue([]track.QueuedTrack{qt("a"), qt("b")})
	require.Eventually(t, func() bool {
		return engine.activeCount() == 1
	}, waitTimeout, waitTick)

	engine.finish(Result{Err: ErrTransportLost})

	waitDone := make(chan struct{})
	go func() {
		torn.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(waitTimeout):
		t.Fatal("transport loss callback not invoked")
	}

	select {
	case <-s.Done():
	case <-time.After(waitTimeout):
		t.Fatal("driving loop did not exit")
	}
	assert.Equal(t, []string{"a"}, engine.startedTitles())
}

func TestScheduler_PauseResume(t *testing.T) {
	engine := newStubEngine()
	s := newTestScheduler(nil, engine, nil, Config{})
	defer s.Shutdown()

	assert.ErrorIs(t, s.Pause(), ErrNotPlaying)
	assert.ErrorIs(t, s.Resume(), ErrNotPaused)

	s.Enqueue([]track.QueuedTrack{qt("a")})
	require.Eventually(t, func() bool {
		return engine.activeCount() == 1
	}, waitTimeout, waitTick)

	assert.NoError(t, s.Pause())
	assert.ErrorIs(t, s.Pause(), ErrNotPlaying)
	assert.NoError(t, s.Resume())
	assert.ErrorIs(t, s.Resume(), ErrNotPaused)
	engine.finish(Result{})
}

func TestScheduler_SequentialSessionScenario(t *testing.T) {
	// Enqueue A on an idle session, then B while A plays: A must finish
	// before B starts, and the session ends parked and empty.
	engine := newStubEngine()
	notifier := &stubNotifier{}
	s := newTestScheduler(nil, engine, notifier, Config{})
	defer s.Shutdown()

	s.Enqueue([]track.QueuedTrack{qt("a")})
	require.Eventually(t, func() bool {
		return engine.activeCount() == 1
	}, waitTimeout, waitTick)

	s.Enqueue([]track.QueuedTrack{qt("b")})
	assert.Equal(t, []string{"a"}, engine.startedTitles())

	engine.finish(Result{})
	require.Eventually(t, func() bool {
		return len(engine.startedTitles()) == 2 && engine.activeCount() == 1
	}, waitTimeout, waitTick)
	assert.Equal(t, []string{"a", "b"}, engine.startedTitles())

	engine.finish(Result{})
	require.Eventually(t, func() bool {
		return s.State() == StateEmpty
	}, waitTimeout, waitTick)

	np, pending := s.Snapshot()
	assert.Nil(t, np)
	assert.Empty(t, pending)
	assert.Equal(t, []string{"a", "b"}, notifier.playingTitles())
}
