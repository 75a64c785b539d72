package discord

import (
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/Aufinal/WoolooBot/internal/music/stream"
)

// guildVoice is the per-guild voice transport: it joins the channel and hands
// the live connection to the sink. Join is idempotent for the channel the
// session is already in.
type guildVoice struct {
	dg      *discordgo.Session
	guildID string
	sink    *stream.VoiceSink

	mu sync.Mutex
	vc *discordgo.VoiceConnection
}

func (v *guildVoice) Join(channelID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.vc != nil && v.vc.ChannelID == channelID {
		return nil
	}
	vc, err := v.dg.ChannelVoiceJoin(v.guildID, channelID, false, true)
	if err != nil {
		return err
	}
	v.vc = vc
	v.sink.SetConnection(vc)
	return nil
}

func (v *guildVoice) Leave() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.vc == nil {
		return nil
	}
	err := v.vc.Disconnect()
	v.vc = nil
	v.sink.SetConnection(nil)
	return err
}

func (v *guildVoice) ChannelID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.vc == nil {
		return ""
	}
	return v.vc.ChannelID
}

// guildMembers counts non-bot users in a voice channel off the state cache.
type guildMembers struct {
	dg      *discordgo.Session
	guildID string
}

func (m *guildMembers) NonBotMembers(channelID string) int {
	guild, err := m.dg.State.Guild(m.guildID)
	if err != nil {
		// Assume someone is present rather than disconnect on a cache miss.
		return 1
	}
	count := 0
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != channelID {
			continue
		}
		member, err := m.dg.State.Member(m.guildID, vs.UserID)
		if err != nil || member.User == nil || member.User.Bot {
			continue
		}
		count++
	}
	return count
}
