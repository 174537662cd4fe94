package discord

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/ataka/medley/internal/app/scheduler"
	"github.com/ataka/medley/internal/domain/track"
)

const (
	embedColor       = 0x5865F2
	queueDisplayMax  = 10
	progressBarCells = 20
)

// progressBar renders elapsed/total as a fixed-width text bar. Unknown
// totals (live streams) render empty.
func progressBar(elapsed, total time.Duration) string {
	if total <= 0 {
		return ""
	}
	ratio := float64(elapsed) / float64(total)
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	filled := int(ratio * progressBarCells)
	return strings.Repeat("▬", filled) + strings.Repeat("―", progressBarCells-filled)
}

func nowPlayingEmbed(np *scheduler.NowPlaying) *discordgo.MessageEmbed {
	item := np.Item
	total := item.Track.Duration
	elapsed := np.Elapsed()
	if total > 0 && elapsed > total {
		elapsed = total
	}

	var description string
	if bar := progressBar(elapsed, total); bar != "" {
		description = fmt.Sprintf("[%s](%s)\n`%s`\n`%s / %s`",
			item.Track.Title, item.Track.WebpageURL,
			bar,
			track.FormatDuration(elapsed), track.FormatDuration(total))
	} else {
		description = fmt.Sprintf("[%s](%s)\n`%s elapsed`",
			item.Track.Title, item.Track.WebpageURL, track.FormatDuration(elapsed))
	}

	return &discordgo.MessageEmbed{
		Title:       "🎵 Now playing",
		Description: description,
		Color:       embedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Requested by", Value: item.Requester.Mention(), Inline: true},
		},
	}
}

func queueEmbed(np *scheduler.NowPlaying, pending []track.QueuedTrack) *discordgo.MessageEmbed {
	var sb strings.Builder

	if np != nil {
		fmt.Fprintf(&sb, "**Now playing:** [%s](%s) (%s)\n\n",
			np.Item.Track.Title, np.Item.Track.WebpageURL, track.FormatDuration(np.Item.Track.Duration))
	}

	shown := pending
	if len(shown) > queueDisplayMax {
		shown = shown[:queueDisplayMax]
	}
	for idx, item := range shown {
		fmt.Fprintf(&sb, "`%2d.` [%s](%s) (%s) • %s\n",
			idx+1, item.Track.Title, item.Track.WebpageURL,
			track.FormatDuration(item.Track.Duration), item.Requester.Mention())
	}
	if rest := len(pending) - len(shown); rest > 0 {
		fmt.Fprintf(&sb, "…and %d more\n", rest)
	}
	if len(pending) == 0 {
		sb.WriteString("The queue is empty.\n")
	}

	var total time.Duration
	for _, item := range pending {
		total += item.Track.Duration
	}

	return &discordgo.MessageEmbed{
		Title:       "📃 Queue",
		Description: sb.String(),
		Color:       embedColor,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("%d track(s) queued • total %s", len(pending), track.FormatDuration(total)),
		},
	}
}

func helpEmbed() *discordgo.MessageEmbed {
	rows := []struct{ name, desc string }{
		{"/play <query>", "Play a URL, playlist or search keywords; queues when busy"},
		{"/skip", "Skip the current track"},
		{"/pause", "Pause the current track"},
		{"/resume", "Resume a paused track"},
		{"/queue", "Show the queue"},
		{"/nowplaying, /np", "Show the current track and its progress"},
		{"/remove <position>", "Remove a queued track"},
		{"/clearqueue", "Clear the queue, keep playing"},
		{"/leave", "Leave the voice channel, keep the queue"},
		{"/stop", "Stop everything and leave"},
	}

	var sb strings.Builder
	for _, row := range rows {
		fmt.Fprintf(&sb, "`%s` · %s\n", row.name, row.desc)
	}
	return &discordgo.MessageEmbed{
		Title:       "Commands",
		Description: sb.String(),
		Color:       embedColor,
	}
}
