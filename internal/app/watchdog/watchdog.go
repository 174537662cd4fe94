// Package watchdog disconnects sessions whose voice channel has gone
// quiet. A periodic sweep checks every live session's listener count and
// tears down the ones nobody is listening to.
package watchdog

import (
	"context"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/ataka/medley/internal/app/registry"
)

// Sessions is the registry surface the watchdog needs.
type Sessions interface {
	Sessions() []*registry.Session
	Remove(guildID string)
}

// Watchdog sweeps sessions at a fixed interval.
type Watchdog struct {
	sessions Sessions
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a watchdog. Start must be called to begin sweeping.
func New(sessions Sessions, interval time.Duration) *Watchdog {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Watchdog{
		sessions: sessions,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (w *Watchdog) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.run(ctx)
}

// Stop halts the sweep loop and waits for it to exit.
func (w *Watchdog) Stop() {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
}

func (w *Watchdog) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Sweep checks every session once. A failure while checking one session is
// logged and never blocks the rest of the sweep.
func (w *Watchdog) Sweep() {
	for _, sess := range w.sessions.Sessions() {
		w.check(sess)
	}
}

func (w *Watchdog) check(sess *registry.Session) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("watchdog: session check panicked: guild=%s panic=%v", sess.GuildID, r)
		}
	}()

	if !sess.Transport.Connected() {
		return
	}
	if sess.Transport.ListenerCount() > 0 {
		return
	}

	zlog.Info().Msgf("watchdog: no listeners left, leaving: guild=%s channel=%s",
		sess.GuildID, sess.Transport.ChannelID())
	sess.Notifier.Announce("👋 Everyone left the voice channel, so I'm heading out.")
	w.sessions.Remove(sess.GuildID)
}
