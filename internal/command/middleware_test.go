package command_test

import (
	"path/filepath"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aufinal/WoolooBot/internal/command"
	"github.com/Aufinal/WoolooBot/internal/storage"
)

type stubCommand struct {
	name string
	runs int
}

func (c *stubCommand) Name() string        { return c.name }
func (c *stubCommand) Description() string { return "stub" }
func (c *stubCommand) Category() string    { return "test" }

func (c *stubCommand) Run(ctx *command.Context) error {
	c.runs++
	return nil
}

func subcommandEvent(sub string) *discordgo.InteractionCreate {
	data := discordgo.ApplicationCommandInteractionData{Name: "music"}
	if sub != "" {
		data.Options = []*discordgo.ApplicationCommandInteractionDataOption{
			{Name: sub, Type: discordgo.ApplicationCommandOptionSubCommand},
		}
	}
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   "guild-1",
			ChannelID: "chan-1",
			Member: &discordgo.Member{
				User: &discordgo.User{ID: "42", Username: "alice"},
			},
			Data: data,
		},
	}
}

func TestCommandLoggerRecordsSubcommand(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	defer store.Close()

	cmd := &stubCommand{name: "music"}
	wrapped := command.WithCommandLogger()(cmd)

	err = wrapped.Run(&command.Context{
		Event:   subcommandEvent("play"),
		Storage: store,
		Log:     zerolog.Nop(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, cmd.runs)

	history, err := store.FetchCommandHistory("guild-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "music", history[0].Command)
	assert.Equal(t, "play", history[0].Param)
	assert.Equal(t, "alice", history[0].Username)
	assert.Equal(t, "42", history[0].UserID)
	assert.Equal(t, "chan-1", history[0].ChannelID)
}

func TestCommandLoggerWithoutSubcommand(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	defer store.Close()

	cmd := &stubCommand{name: "ping"}
	wrapped := command.WithCommandLogger()(cmd)

	require.NoError(t, wrapped.Run(&command.Context{
		Event:   subcommandEvent(""),
		Storage: store,
		Log:     zerolog.Nop(),
	}))

	history, err := store.FetchCommandHistory("guild-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Empty(t, history[0].Param)
}
