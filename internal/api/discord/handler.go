package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/ataka/medley/internal/app/registry"
	"github.com/ataka/medley/internal/app/scheduler"
	"github.com/ataka/medley/internal/domain/track"
)

// Resolver is the query expansion surface the commands need.
type Resolver interface {
	Resolve(ctx context.Context, query string) ([]track.Track, error)
}

// Handler routes slash-command interactions to the session registry.
type Handler struct {
	session        *discordgo.Session
	registry       *registry.Registry
	resolver       Resolver
	resolveTimeout time.Duration
}

// NewHandler creates a command handler and attaches it to the session.
func NewHandler(session *discordgo.Session, reg *registry.Registry, resolver Resolver, resolveTimeout time.Duration) *Handler {
	h := &Handler{
		session:        session,
		registry:       reg,
		resolver:       resolver,
		resolveTimeout: resolveTimeout,
	}
	session.AddHandler(h.onInteraction)
	return h
}

func (h *Handler) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if i.GuildID == "" {
		h.respond(i, "Commands only work in a server.", true)
		return
	}

	name := i.ApplicationCommandData().Name
	zlog.Debug().Msgf("command: %s: guild=%s user=%s", name, i.GuildID, commandUserID(i))

	switch name {
	case "play":
		h.handlePlay(i)
	case "skip":
		h.handleSkip(i)
	case "stop":
		h.handleStop(i)
	case "pause":
		h.handlePause(i)
	case "resume":
		h.handleResume(i)
	case "queue":
		h.handleQueue(i)
	case "nowplaying", "np":
		h.handleNowPlaying(i)
	case "remove":
		h.handleRemove(i)
	case "clearqueue":
		h.handleClearQueue(i)
	case "leave":
		h.handleLeave(i)
	case "help":
		h.handleHelp(i)
	default:
		h.respond(i, "Unknown command.", true)
	}
}

func (h *Handler) handlePlay(i *discordgo.InteractionCreate) {
	query := i.ApplicationCommandData().Options[0].StringValue()

	voiceChannelID := h.requesterVoiceChannel(i)
	if voiceChannelID == "" {
		h.respond(i, "Join a voice channel first.", true)
		return
	}

	// Resolution can take seconds, so acknowledge now and edit later.
	if err := h.acknowledge(i); err != nil {
		zlog.Warn().Msgf("command: defer failed: err=%v", err)
		return
	}

	sess, _, err := h.registry.GetOrCreate(i.GuildID)
	if err != nil {
		h.followup(i, "⚠️ Could not set up a player for this server.")
		return
	}
	sess.SetTextChannelID(i.ChannelID)

	ctx, cancel := context.WithTimeout(context.Background(), h.resolveTimeout)
	defer cancel()

	if err := sess.Connect(ctx, voiceChannelID); err != nil {
		zlog.Warn().Msgf("command: voice join failed: guild=%s err=%v", i.GuildID, err)
		h.followup(i, "⚠️ Could not join your voice channel.")
		return
	}

	tracks, err := h.resolver.Resolve(ctx, query)
	if err != nil {
		zlog.Warn().Msgf("command: resolve failed: query=%q err=%v", query, err)
		h.followup(i, fmt.Sprintf("❌ Nothing found for `%s`.", query))
		return
	}

	requester := h.requesterOf(i)
	items := make([]track.QueuedTrack, 0, len(tracks))
	now := time.Now()
	for _, t := range tracks {
		items = append(items, track.QueuedTrack{
			ID:        uuid.NewString(),
			Track:     t,
			Requester: requester,
			AddedAt:   now,
		})
	}

	n := sess.Scheduler.Enqueue(items)
	switch {
	case n == 0:
		h.followup(i, "⚠️ The player is shutting down, try again.")
	case n == 1:
		h.followup(i, fmt.Sprintf("➕ Queued **%s** (%s)", items[0].Track.Title, track.FormatDuration(items[0].Track.Duration)))
	default:
		h.followup(i, fmt.Sprintf("➕ Queued **%d** tracks", n))
	}
}

func (h *Handler) handleSkip(i *discordgo.InteractionCreate) {
	sess, ok := h.registry.Get(i.GuildID)
	if !ok {
		h.respond(i, "Nothing is playing.", true)
		return
	}
	sess.SetTextChannelID(i.ChannelID)

	if err := sess.Scheduler.SkipCurrent(); err != nil {
		if errors.Is(err, scheduler.ErrNothingToSkip) {
			h.respond(i, "Nothing to skip.", true)
			return
		}
		h.respond(i, "⚠️ Skip failed.", true)
		return
	}
	h.respond(i, "⏭️ Skipped.", false)
}

func (h *Handler) handleStop(i *discordgo.InteractionCreate) {
	if _, ok := h.registry.Get(i.GuildID); !ok {
		h.respond(i, "Nothing is playing.", true)
		return
	}
	h.registry.Remove(i.GuildID)
	h.respond(i, "⏹️ Stopped playback and cleared the queue.", false)
}

func (h *Handler) handlePause(i *discordgo.InteractionCreate) {
	sess, ok := h.registry.Get(i.GuildID)
	if !ok {
		h.respond(i, "Nothing is playing.", true)
		return
	}
	if err := sess.Scheduler.Pause(); err != nil {
		h.respond(i, "Nothing is playing, or it is already paused.", true)
		return
	}
	h.respond(i, "⏸️ Paused.", false)
}

func (h *Handler) handleResume(i *discordgo.InteractionCreate) {
	sess, ok := h.registry.Get(i.GuildID)
	if !ok {
		h.respond(i, "Nothing is playing.", true)
		return
	}
	if err := sess.Scheduler.Resume(); err != nil {
		h.respond(i, "Nothing is paused.", true)
		return
	}
	h.respond(i, "▶️ Resumed.", false)
}

func (h *Handler) handleQueue(i *discordgo.InteractionCreate) {
	sess, ok := h.registry.Get(i.GuildID)
	if !ok {
		h.respond(i, "The queue is empty.", true)
		return
	}
	np, pending := sess.Scheduler.Snapshot()
	if np == nil && len(pending) == 0 {
		h.respond(i, "The queue is empty.", true)
		return
	}
	h.respondEmbed(i, queueEmbed(np, pending))
}

func (h *Handler) handleNowPlaying(i *discordgo.InteractionCreate) {
	sess, ok := h.registry.Get(i.GuildID)
	if !ok {
		h.respond(i, "Nothing is playing.", true)
		return
	}
	np, _ := sess.Scheduler.Snapshot()
	if np == nil {
		h.respond(i, "Nothing is playing.", true)
		return
	}
	h.respondEmbed(i, nowPlayingEmbed(np))
}

func (h *Handler) handleRemove(i *discordgo.InteractionCreate) {
	pos := int(i.ApplicationCommandData().Options[0].IntValue())

	sess, ok := h.registry.Get(i.GuildID)
	if !ok {
		h.respond(i, "The queue is empty.", true)
		return
	}
	removed, err := sess.Scheduler.RemoveAt(pos)
	if err != nil {
		if errors.Is(err, scheduler.ErrOutOfRange) {
			h.respond(i, fmt.Sprintf("No track at position %d.", pos), true)
			return
		}
		h.respond(i, "⚠️ Remove failed.", true)
		return
	}
	h.respond(i, fmt.Sprintf("🗑️ Removed **%s** from the queue.", removed.Track.Title), false)
}

func (h *Handler) handleClearQueue(i *discordgo.InteractionCreate) {
	sess, ok := h.registry.Get(i.GuildID)
	if !ok {
		h.respond(i, "The queue is already empty.", true)
		return
	}
	n := sess.Scheduler.ClearPending()
	if n == 0 {
		h.respond(i, "The queue is already empty.", true)
		return
	}
	h.respond(i, fmt.Sprintf("🧹 Cleared %d track(s) from the queue.", n), false)
}

func (h *Handler) handleLeave(i *discordgo.InteractionCreate) {
	sess, ok := h.registry.Get(i.GuildID)
	if !ok {
		h.respond(i, "I'm not in a voice channel.", true)
		return
	}
	if err := sess.Leave(); err != nil {
		h.respond(i, "I'm not in a voice channel.", true)
		return
	}
	h.respond(i, "👋 Left the voice channel. The queue is still here when you need it.", false)
}

func (h *Handler) handleHelp(i *discordgo.InteractionCreate) {
	h.respondEmbed(i, helpEmbed())
}

// requesterVoiceChannel finds the voice channel the command issuer is in,
// empty when they are not in one.
func (h *Handler) requesterVoiceChannel(i *discordgo.InteractionCreate) string {
	userID := commandUserID(i)
	if userID == "" {
		return ""
	}
	guild, err := h.session.State.Guild(i.GuildID)
	if err != nil {
		return ""
	}
	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID {
			return vs.ChannelID
		}
	}
	return ""
}

// requesterOf builds the requester identity. Member data on the
// interaction gives a resolved profile; without it only the id is kept and
// display falls back to a raw mention.
func (h *Handler) requesterOf(i *discordgo.InteractionCreate) track.Requester {
	if i.Member != nil && i.Member.User != nil {
		name := i.Member.Nick
		if name == "" {
			name = i.Member.User.Username
		}
		return track.KnownRequester(i.Member.User.ID, name)
	}
	if i.User != nil {
		return track.KnownRequester(i.User.ID, i.User.Username)
	}
	return track.UnresolvedRequester(commandUserID(i))
}

func commandUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func (h *Handler) respond(i *discordgo.InteractionCreate, content string, ephemeral bool) {
	data := &discordgo.InteractionResponseData{Content: content}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := h.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		zlog.Warn().Msgf("command: respond failed: err=%v", err)
	}
}

func (h *Handler) respondEmbed(i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	err := h.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}},
	})
	if err != nil {
		zlog.Warn().Msgf("command: respond failed: err=%v", err)
	}
}

// acknowledge defers the interaction so slow work can edit the response
// later.
func (h *Handler) acknowledge(i *discordgo.InteractionCreate) error {
	return h.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
}

func (h *Handler) followup(i *discordgo.InteractionCreate, content string) {
	_, err := h.session.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	})
	if err != nil {
		zlog.Warn().Msgf("command: followup failed: err=%v", err)
	}
}
