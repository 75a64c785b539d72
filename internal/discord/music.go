package discord

import (
	"fmt"

	"github.com/Aufinal/WoolooBot/internal/bot"
	"github.com/Aufinal/WoolooBot/internal/music/player"
	"github.com/Aufinal/WoolooBot/internal/music/stream"
)

// Controller returns the guild's playback controller, creating it on first
// use. Controllers live for the process lifetime, like their sessions.
func (b *Bot) Controller(guildID string) *player.Controller {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.controllers[guildID]; ok {
		return c
	}

	sink := stream.NewVoiceSink(b.log)
	c := player.New(player.Deps{
		GuildID:       guildID,
		Session:       b.sessions.Get(guildID),
		Sink:          sink,
		Voice:         &guildVoice{dg: b.dg, guildID: guildID, sink: sink},
		Members:       &guildMembers{dg: b.dg, guildID: guildID},
		Resolver:      b.resolver,
		Pool:          b.pool,
		Messenger:     &channelMessenger{dg: b.dg, log: b.log},
		History:       b.store,
		StreamTimeout: b.cfg.StreamTimeout,
		Log:           b.log,
	})
	b.controllers[guildID] = c
	return c
}

// FindUserVoiceState locates the voice channel a user currently sits in.
func (b *Bot) FindUserVoiceState(guildID, userID string) (*bot.VoiceState, error) {
	guild, err := b.dg.State.Guild(guildID)
	if err != nil {
		return nil, fmt.Errorf("error retrieving guild: %w", err)
	}
	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID {
			return &bot.VoiceState{
				ChannelID: vs.ChannelID,
				UserID:    vs.UserID,
			}, nil
		}
	}
	return nil, fmt.Errorf("user not in any voice channel")
}
