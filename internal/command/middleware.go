package command

import (
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Aufinal/WoolooBot/internal/bot"
	"github.com/Aufinal/WoolooBot/internal/storage"
)

// WithGuildOnly drops invocations coming from outside a guild (DMs).
func WithGuildOnly() Middleware {
	return func(cmd Command) Command {
		return &wrappedCommand{
			Command: cmd,
			wrap: func(ctx *Context) error {
				if ctx.Event.GuildID == "" {
					return bot.RespondEphemeral(ctx.Session, ctx.Event, "This command only works in a server.")
				}
				return cmd.Run(ctx)
			},
		}
	}
}

// WithCommandLogger logs each execution and appends it to the guild's command
// history.
func WithCommandLogger() Middleware {
	return func(cmd Command) Command {
		return &wrappedCommand{
			Command: cmd,
			wrap: func(ctx *Context) error {
				err := cmd.Run(ctx)

				member := ctx.Event.Member
				if member == nil || member.User == nil {
					return err
				}
				ctx.Log.Info().
					Str("command", cmd.Name()).
					Str("guild", ctx.Event.GuildID).
					Str("user", member.User.Username).
					Msg("command executed")

				if ctx.Storage != nil {
					record := storage.CommandRecord{
						ChannelID: ctx.Event.ChannelID,
						UserID:    member.User.ID,
						Username:  member.User.Username,
						Command:   cmd.Name(),
						Param:     subcommandName(ctx.Event),
						Datetime:  time.Now(),
					}
					if e := ctx.Storage.AppendCommandToHistory(ctx.Event.GuildID, record); e != nil {
						ctx.Log.Warn().Err(e).Str("command", cmd.Name()).Msg("failed to log command")
					}
				}
				return err
			},
		}
	}
}

// subcommandName pulls the invoked subcommand out of an interaction, or ""
// when the command has none.
func subcommandName(i *discordgo.InteractionCreate) string {
	if i.Type != discordgo.InteractionApplicationCommand {
		return ""
	}
	opts := i.ApplicationCommandData().Options
	if len(opts) == 0 {
		return ""
	}
	if opts[0].Type != discordgo.ApplicationCommandOptionSubCommand {
		return ""
	}
	return opts[0].Name
}
