// Package music implements the /music slash command: the user-facing surface
// of the per-guild playback engine.
package music

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/Aufinal/WoolooBot/internal/bot"
	"github.com/Aufinal/WoolooBot/internal/command"
	"github.com/Aufinal/WoolooBot/internal/music/player"
	"github.com/Aufinal/WoolooBot/internal/music/queue"
	"github.com/Aufinal/WoolooBot/internal/music/track"
)

const queueDisplayLimit = 15

// VoiceHost is what the command needs from the bot: per-guild controllers and
// voice-state lookup.
type VoiceHost interface {
	Controller(guildID string) *player.Controller
	FindUserVoiceState(guildID, userID string) (*bot.VoiceState, error)
}

// MusicCommand is the /music command with its subcommands.
type MusicCommand struct {
	Bot VoiceHost
}

func (c *MusicCommand) Name() string        { return "music" }
func (c *MusicCommand) Description() string { return "Play music in your voice channel" }
func (c *MusicCommand) Category() string    { return "🎵 Music" }

func (c *MusicCommand) SlashDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        c.Name(),
		Description: c.Description(),
		Type:        discordgo.ChatApplicationCommand,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "play",
				Description: "Queue a track or playlist by name or link",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "query",
						Description: "Song name or YouTube link",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "skip",
				Description: "Skip to the next track, or to a queue position",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "to",
						Description: "Queue position to jump to",
						Required:    false,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "pause",
				Description: "Pause playback",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "resume",
				Description: "Resume paused playback",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "queue",
				Description: "Show the current queue",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "remove",
				Description: "Remove tracks by queue position",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "positions",
						Description: "Space-separated positions, e.g. 2 4 5",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "shuffle",
				Description: "Shuffle the queue",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "clear",
				Description: "Clear the queue, keeping the current track",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "disconnect",
				Description: "Stop playback and leave the voice channel",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "history",
				Description: "Show recently played tracks",
			},
		},
	}
}

func (c *MusicCommand) Run(ctx *command.Context) error {
	data := ctx.Event.ApplicationCommandData()
	if len(data.Options) == 0 {
		return nil
	}
	sub := data.Options[0]

	ctrl := c.Bot.Controller(ctx.Event.GuildID)

	// A session answers to the text channel it was started from.
	if bound := ctrl.BoundChannelID(); bound != "" && bound != ctx.Event.ChannelID {
		return bot.RespondEphemeral(ctx.Session, ctx.Event,
			fmt.Sprintf("This session lives in <#%s>, use it there.", bound))
	}

	switch sub.Name {
	case "play":
		return c.runPlay(ctx, ctrl, sub)
	case "skip":
		return c.runSkip(ctx, ctrl, sub)
	case "pause":
		return respondOutcome(ctx, ctrl.Pause(), "⏸️ Paused.")
	case "resume":
		return respondOutcome(ctx, ctrl.Resume(), "▶️ Resumed.")
	case "queue":
		return c.runQueue(ctx, ctrl)
	case "remove":
		return c.runRemove(ctx, ctrl, sub)
	case "shuffle":
		n, err := ctrl.ShuffleQueue()
		return respondOutcome(ctx, err, fmt.Sprintf("🔀 Shuffled %d track(s).", n))
	case "clear":
		n, err := ctrl.ClearQueue()
		return respondOutcome(ctx, err, fmt.Sprintf("🗑️ Cleared %d track(s).", n))
	case "disconnect":
		ctrl.Disconnect()
		return bot.Respond(ctx.Session, ctx.Event, "👋 Disconnected.")
	case "history":
		return c.runHistory(ctx)
	default:
		return nil
	}
}

func (c *MusicCommand) runPlay(ctx *command.Context, ctrl *player.Controller, sub *discordgo.ApplicationCommandInteractionDataOption) error {
	var query string
	for _, opt := range sub.Options {
		if opt.Name == "query" {
			query = opt.StringValue()
		}
	}
	if strings.TrimSpace(query) == "" {
		return bot.RespondEphemeral(ctx.Session, ctx.Event, "Tell me what to play.")
	}

	member := ctx.Event.Member
	vs, err := c.Bot.FindUserVoiceState(ctx.Event.GuildID, member.User.ID)
	if err != nil {
		return bot.RespondEphemeral(ctx.Session, ctx.Event, "Join a voice channel first.")
	}

	if err := bot.RespondEmbed(ctx.Session, ctx.Event, &discordgo.MessageEmbed{
		Description: fmt.Sprintf("🔍 Looking for `%s`…", query),
	}); err != nil {
		return err
	}

	name := member.User.Username
	if member.Nick != "" {
		name = member.Nick
	}
	if err := ctrl.Play(context.Background(), query, member.User.ID, name, vs.ChannelID, ctx.Event.ChannelID); err != nil {
		return bot.FollowupEmbed(ctx.Session, ctx.Event, &discordgo.MessageEmbed{
			Description: fmt.Sprintf("⚠️ %v", err),
		})
	}
	return nil
}

func (c *MusicCommand) runSkip(ctx *command.Context, ctrl *player.Controller, sub *discordgo.ApplicationCommandInteractionDataOption) error {
	toIndex := 1
	for _, opt := range sub.Options {
		if opt.Name == "to" {
			toIndex = int(opt.IntValue())
		}
	}
	if err := ctrl.Skip(toIndex); err != nil {
		return bot.RespondEphemeral(ctx.Session, ctx.Event, userError(err))
	}
	return bot.Respond(ctx.Session, ctx.Event, "⏭️ Skipped.")
}

func (c *MusicCommand) runQueue(ctx *command.Context, ctrl *player.Controller) error {
	snap := ctrl.Snapshot()
	if snap.Playing == nil && len(snap.Pending) == 0 {
		return bot.RespondEphemeral(ctx.Session, ctx.Event, "The queue is empty.")
	}

	var sb strings.Builder
	if snap.Playing != nil {
		state := "▶️"
		if snap.State == player.StatePaused {
			state = "⏸️"
		}
		fmt.Fprintf(&sb, "%s %s `%s / %s`\n\n", state, snap.Playing.MarkdownLink(),
			track.FormatDuration(snap.Elapsed), snap.Playing.PrettyDuration())
	}
	for i, t := range snap.Pending {
		if i == queueDisplayLimit {
			fmt.Fprintf(&sb, "…and %d more\n", len(snap.Pending)-queueDisplayLimit)
			break
		}
		fmt.Fprintf(&sb, "`%d.` %s `%s` • %s\n", i+1, t.MarkdownLink(), t.PrettyDuration(), t.RequesterName)
	}

	return bot.RespondEmbed(ctx.Session, ctx.Event, &discordgo.MessageEmbed{
		Title:       "🎶 Queue",
		Description: sb.String(),
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("%d track(s) • %s total", len(snap.Pending), track.FormatDuration(snap.QueueTime)),
		},
	})
}

func (c *MusicCommand) runRemove(ctx *command.Context, ctrl *player.Controller, sub *discordgo.ApplicationCommandInteractionDataOption) error {
	var raw string
	for _, opt := range sub.Options {
		if opt.Name == "positions" {
			raw = opt.StringValue()
		}
	}

	var positions []int
	for _, field := range strings.Fields(raw) {
		n, err := strconv.Atoi(field)
		if err != nil {
			return bot.RespondEphemeral(ctx.Session, ctx.Event,
				fmt.Sprintf("`%s` is not a queue position.", field))
		}
		positions = append(positions, n)
	}
	if len(positions) == 0 {
		return bot.RespondEphemeral(ctx.Session, ctx.Event, "Give me at least one position.")
	}

	removed, err := ctrl.RemoveTracks(positions)
	if err != nil {
		return bot.RespondEphemeral(ctx.Session, ctx.Event, userError(err))
	}

	titles := make([]string, len(removed))
	for i, t := range removed {
		titles[i] = fmt.Sprintf("**%s**", t.Title)
	}
	return bot.Respond(ctx.Session, ctx.Event,
		fmt.Sprintf("🗑️ Removed %s.", strings.Join(titles, ", ")))
}

func (c *MusicCommand) runHistory(ctx *command.Context) error {
	if ctx.Storage == nil {
		return bot.RespondEphemeral(ctx.Session, ctx.Event, "History is not available.")
	}
	records, err := ctx.Storage.FetchTrackHistory(ctx.Event.GuildID)
	if err != nil {
		return bot.RespondEphemeral(ctx.Session, ctx.Event, "Could not load history.")
	}
	if len(records) == 0 {
		return bot.RespondEphemeral(ctx.Session, ctx.Event, "Nothing has been played yet.")
	}

	var sb strings.Builder
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		fmt.Fprintf(&sb, "[%s](%s) • %s\n", r.Title, r.URL, r.RequesterName)
	}
	return bot.RespondEmbed(ctx.Session, ctx.Event, &discordgo.MessageEmbed{
		Title:       "📜 Recently Played",
		Description: sb.String(),
	})
}

// respondOutcome reports success publicly and failures ephemerally.
func respondOutcome(ctx *command.Context, err error, success string) error {
	if err != nil {
		return bot.RespondEphemeral(ctx.Session, ctx.Event, userError(err))
	}
	return bot.Respond(ctx.Session, ctx.Event, success)
}

// userError turns engine errors into something worth showing a user.
func userError(err error) string {
	var idx *queue.InvalidIndexError
	switch {
	case errors.As(err, &idx):
		return idx.Error()
	case errors.Is(err, player.ErrNotConnected):
		return "I'm not in a voice channel."
	case errors.Is(err, player.ErrNotPlaying):
		return "Nothing is playing."
	case errors.Is(err, player.ErrNotPaused):
		return "Playback isn't paused."
	case errors.Is(err, player.ErrBusy):
		return "Already switching tracks, try again in a moment."
	default:
		return fmt.Sprintf("Something went wrong: %v", err)
	}
}
