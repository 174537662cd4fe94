// Package registry maps guild ids to live playback sessions.
package registry

import (
	"context"
	"sync"

	zlog "github.com/rs/zerolog/log"

	"github.com/ataka/medley/internal/app/scheduler"
)

// Transport is a guild's voice connection handle.
type Transport interface {
	// Connect joins the given voice channel, moving if already connected
	// elsewhere in the guild.
	Connect(ctx context.Context, channelID string) error
	Disconnect() error
	Connected() bool
	ChannelID() string
	// ListenerCount reports non-bot members in the connected channel.
	// Zero when disconnected.
	ListenerCount() int
}

// Binder supplies the per-guild collaborators when a session is created.
// The production binder builds them over Discord; tests substitute stubs.
type Binder interface {
	Bind(sess *Session) (Transport, scheduler.Engine, scheduler.Notifier, error)
}

// Session is one guild's playback context: the scheduler, the voice
// transport and the text channel commands last arrived on.
type Session struct {
	GuildID   string
	Scheduler *scheduler.Scheduler
	Transport Transport
	Notifier  scheduler.Notifier

	mu            sync.RWMutex
	textChannelID string
}

// SetTextChannelID records the channel notifications should go to.
// Updated on every command so replies follow the conversation.
func (s *Session) SetTextChannelID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.textChannelID = id
}

// TextChannelID returns the last-known text channel id.
func (s *Session) TextChannelID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.textChannelID
}

// Connect joins (or moves to) the voice channel.
func (s *Session) Connect(ctx context.Context, voiceChannelID string) error {
	return s.Transport.Connect(ctx, voiceChannelID)
}

// Leave interrupts the active item and disconnects the transport. Pending
// items stay queued; the scheduler parks until the next connect.
func (s *Session) Leave() error {
	if !s.Transport.Connected() {
		return scheduler.ErrNotConnected
	}
	// Ignore the skip outcome: an idle scheduler has nothing to interrupt.
	_ = s.Scheduler.SkipCurrent()
	return s.Transport.Disconnect()
}

// PendingCount returns the number of queued items.
func (s *Session) PendingCount() int {
	_, pending := s.Scheduler.Snapshot()
	return len(pending)
}

// Registry owns all live sessions for the process.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	binder   Binder
	resolver scheduler.Resolver
	config   scheduler.Config
}

// New creates an empty registry.
func New(binder Binder, resolver scheduler.Resolver, config scheduler.Config) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		binder:   binder,
		resolver: resolver,
		config:   config,
	}
}

// GetOrCreate returns the guild's session, creating and binding one when
// absent. The second return reports whether a session was created.
func (r *Registry) GetOrCreate(guildID string) (*Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[guildID]; ok {
		return sess, false, nil
	}

	sess := &Session{GuildID: guildID}
	transport, engine, notifier, err := r.binder.Bind(sess)
	if err != nil {
		return nil, false, err
	}

	cfg := r.config
	cfg.OnTransportLost = func() { r.Remove(guildID) }
	sess.Transport = transport
	sess.Notifier = notifier
	sess.Scheduler = scheduler.New(guildID, r.resolver, engine, notifier, cfg)
	r.sessions[guildID] = sess

	zlog.Info().Msgf("registry: session created: guild=%s", guildID)
	return sess, true, nil
}

// Get returns the guild's session if one exists.
func (r *Registry) Get(guildID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[guildID]
	return sess, ok
}

// Sessions returns a snapshot of all live sessions.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	return out
}

// Remove tears the guild's session down: the scheduler is shut down, the
// transport disconnected and the entry dropped. A later GetOrCreate yields
// a fresh session. No-op for unknown guilds, safe to call concurrently.
func (r *Registry) Remove(guildID string) {
	r.mu.Lock()
	sess, ok := r.sessions[guildID]
	if ok {
		delete(r.sessions, guildID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	sess.Scheduler.Shutdown()
	if err := sess.Transport.Disconnect(); err != nil {
		zlog.Warn().Msgf("registry: disconnect failed during teardown: guild=%s err=%v", guildID, err)
	}
	zlog.Info().Msgf("registry: session removed: guild=%s", guildID)
}

// Shutdown removes every session and waits for their loops to exit. Used
// on process exit.
func (r *Registry) Shutdown() {
	for _, sess := range r.Sessions() {
		r.Remove(sess.GuildID)
		<-sess.Scheduler.Done()
	}
}
