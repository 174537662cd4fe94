// Package voice implements the Discord voice transport, the ffmpeg/opus
// playback engine and the text-channel notifier.
package voice

import (
	"context"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// Transport is one guild's voice connection.
type Transport struct {
	session *discordgo.Session
	guildID string

	mu sync.Mutex
	vc *discordgo.VoiceConnection
}

// NewTransport creates an unconnected transport for the guild.
func NewTransport(session *discordgo.Session, guildID string) *Transport {
	return &Transport{session: session, guildID: guildID}
}

// Connect joins the voice channel. Joining while connected to another
// channel in the same guild moves the connection.
func (t *Transport) Connect(ctx context.Context, channelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.vc != nil && t.vc.ChannelID == channelID {
		return nil
	}

	vc, err := t.session.ChannelVoiceJoin(t.guildID, channelID, false, true)
	if err != nil {
		return errors.Wrapf(err, "failed to join voice channel %s", channelID)
	}
	t.vc = vc
	zlog.Info().Msgf("voice: connected: guild=%s channel=%s", t.guildID, channelID)
	return nil
}

// Disconnect leaves the voice channel. No-op when not connected.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.vc == nil {
		return nil
	}
	_ = t.vc.Speaking(false)
	err := t.vc.Disconnect()
	t.vc = nil
	if err != nil {
		return errors.Wrap(err, "voice disconnect failed")
	}
	zlog.Info().Msgf("voice: disconnected: guild=%s", t.guildID)
	return nil
}

// Connected reports whether a voice connection is held.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.vc != nil
}

// ChannelID returns the connected channel id, empty when disconnected.
func (t *Transport) ChannelID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.vc == nil {
		return ""
	}
	return t.vc.ChannelID
}

// ListenerCount counts non-bot members in the connected voice channel.
// Counting relies on the gateway's voice state cache, so GuildVoiceStates
// intents must be enabled.
func (t *Transport) ListenerCount() int {
	channelID := t.ChannelID()
	if channelID == "" {
		return 0
	}

	guild, err := t.session.State.Guild(t.guildID)
	if err != nil {
		zlog.Warn().Msgf("voice: guild state unavailable: guild=%s err=%v", t.guildID, err)
		return 0
	}

	count := 0
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != channelID {
			continue
		}
		if vs.UserID == t.session.State.User.ID {
			continue
		}
		if member, err := t.session.State.Member(t.guildID, vs.UserID); err == nil && member.User != nil && member.User.Bot {
			continue
		}
		count++
	}
	return count
}

// conn returns the live voice connection, nil when disconnected.
func (t *Transport) conn() *discordgo.VoiceConnection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.vc
}
