// Package discord exposes the bot's slash-command surface.
package discord

import (
	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
)

// commandDefinitions is the full slash-command table, registered with a
// bulk overwrite on startup.
var commandDefinitions = []*discordgo.ApplicationCommand{
	{
		Name:        "play",
		Description: "Play a song or playlist, or queue it if something is already playing",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "query",
				Description: "URL or search keywords",
				Required:    true,
			},
		},
	},
	{
		Name:        "skip",
		Description: "Skip the current track",
	},
	{
		Name:        "stop",
		Description: "Stop playback, clear the queue and leave the voice channel",
	},
	{
		Name:        "pause",
		Description: "Pause the current track",
	},
	{
		Name:        "resume",
		Description: "Resume a paused track",
	},
	{
		Name:        "queue",
		Description: "Show the queue",
	},
	{
		Name:        "nowplaying",
		Description: "Show the current track and its progress",
	},
	{
		Name:        "np",
		Description: "Show the current track and its progress",
	},
	{
		Name:        "remove",
		Description: "Remove a queued track by its position",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "position",
				Description: "Queue position (1 is next up)",
				Required:    true,
			},
		},
	},
	{
		Name:        "clearqueue",
		Description: "Remove every queued track without stopping the current one",
	},
	{
		Name:        "leave",
		Description: "Leave the voice channel but keep the queue",
	},
	{
		Name:        "help",
		Description: "Show all commands",
	},
}

// RegisterCommands overwrites the application's command set. With a guild
// id the commands register guild-scoped, which propagates instantly and
// suits development; empty means global.
func (h *Handler) RegisterCommands(guildID string) error {
	appID := h.session.State.User.ID
	if _, err := h.session.ApplicationCommandBulkOverwrite(appID, guildID, commandDefinitions); err != nil {
		return errors.Wrap(err, "slash command registration failed")
	}
	return nil
}
