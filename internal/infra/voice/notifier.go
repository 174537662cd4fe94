package voice

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	zlog "github.com/rs/zerolog/log"

	"github.com/ataka/medley/internal/app/scheduler"
	"github.com/ataka/medley/internal/domain/track"
)

const embedColor = 0x5865F2

// Notifier posts playback status to the session's text channel. Delivery is
// best effort: failures are logged and never reach the scheduler.
type Notifier struct {
	session   *discordgo.Session
	channelID func() string // late-bound: commands move the target channel
}

// NewNotifier creates a notifier. channelID is consulted per message.
func NewNotifier(session *discordgo.Session, channelID func() string) *Notifier {
	return &Notifier{session: session, channelID: channelID}
}

// NowPlaying announces a track start with an embed.
func (n *Notifier) NowPlaying(np scheduler.NowPlaying) {
	item := np.Item
	embed := &discordgo.MessageEmbed{
		Title:       "🎵 Now playing",
		Description: fmt.Sprintf("[%s](%s)", item.Track.Title, item.Track.WebpageURL),
		Color:       embedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Duration", Value: track.FormatDuration(item.Track.Duration), Inline: true},
			{Name: "Requested by", Value: item.Requester.Mention(), Inline: true},
		},
	}
	go n.send(&discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}})
}

// Announce posts a plain status line.
func (n *Notifier) Announce(text string) {
	go n.send(&discordgo.MessageSend{Content: text})
}

func (n *Notifier) send(msg *discordgo.MessageSend) {
	channelID := n.channelID()
	if channelID == "" {
		zlog.Debug().Msg("notifier: no text channel recorded, dropping message")
		return
	}
	if _, err := n.session.ChannelMessageSendComplex(channelID, msg); err != nil {
		zlog.Warn().Msgf("notifier: send failed: channel=%s err=%v", channelID, err)
	}
}
