package voice

import (
	"github.com/bwmarrin/discordgo"

	"github.com/ataka/medley/internal/app/registry"
	"github.com/ataka/medley/internal/app/scheduler"
)

// Binder builds the Discord-backed collaborators for new sessions.
type Binder struct {
	session    *discordgo.Session
	ffmpegPath string
}

// NewBinder creates a binder over an open gateway session.
func NewBinder(session *discordgo.Session, ffmpegPath string) *Binder {
	return &Binder{session: session, ffmpegPath: ffmpegPath}
}

// Bind wires a transport, engine and notifier to the guild session.
func (b *Binder) Bind(sess *registry.Session) (registry.Transport, scheduler.Engine, scheduler.Notifier, error) {
	transport := NewTransport(b.session, sess.GuildID)
	engine := NewEngine(transport, b.ffmpegPath)
	notifier := NewNotifier(b.session, sess.TextChannelID)
	return transport, engine, notifier, nil
}
