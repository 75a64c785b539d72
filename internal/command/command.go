// Package command is the slash-command framework: the Command interface, the
// process-wide registry, and the middleware chain commands are registered
// through.
package command

import (
	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/Aufinal/WoolooBot/internal/storage"
)

// Command is one registered bot command.
type Command interface {
	Name() string
	Description() string
	Category() string
	Run(ctx *Context) error
}

// SlashProvider is implemented by commands that register a slash definition
// with Discord.
type SlashProvider interface {
	SlashDefinition() *discordgo.ApplicationCommand
}

// Context is what the runtime hands a command when executing it.
type Context struct {
	Session *discordgo.Session
	Event   *discordgo.InteractionCreate
	Storage *storage.Storage
	Log     zerolog.Logger
}

// Middleware wraps a command with cross-cutting behavior.
type Middleware func(Command) Command

type wrappedCommand struct {
	Command
	wrap func(ctx *Context) error
}

func (w *wrappedCommand) Run(ctx *Context) error {
	return w.wrap(ctx)
}

// SlashDefinition unwraps to the inner command's definition, so middleware
// wrapping never hides a command from registration.
func (w *wrappedCommand) SlashDefinition() *discordgo.ApplicationCommand {
	if p, ok := w.Command.(SlashProvider); ok {
		return p.SlashDefinition()
	}
	return nil
}
