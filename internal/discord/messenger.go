package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/Aufinal/WoolooBot/internal/bot"
	"github.com/Aufinal/WoolooBot/internal/music/queue"
	"github.com/Aufinal/WoolooBot/internal/music/track"
)

// channelMessenger posts the player's reports to the session's bound text
// channel.
type channelMessenger struct {
	dg  *discordgo.Session
	log zerolog.Logger
}

func (m *channelMessenger) NowPlaying(channelID string, t *track.Track, nextTitle string) {
	if channelID == "" {
		return
	}
	embed := &discordgo.MessageEmbed{
		Title:       "▶️ Now Playing",
		Description: "🎶 " + t.MarkdownLink(),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Channel", Value: orDash(t.ChannelName), Inline: true},
			{Name: "Duration", Value: t.PrettyDuration(), Inline: true},
			{Name: "Up next", Value: nextTitle, Inline: true},
		},
	}
	if t.Thumbnail != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: t.Thumbnail}
	}
	if t.RequesterName != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: "Requested by " + t.RequesterName}
	}
	m.send(channelID, embed)
}

func (m *channelMessenger) Added(channelID string, t *track.Track, info queue.PositionInfo) {
	if channelID == "" {
		return
	}
	embed := &discordgo.MessageEmbed{
		Title:       "🎵 Track Added",
		Description: t.MarkdownLink(),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Channel", Value: orDash(t.ChannelName), Inline: true},
			{Name: "Duration", Value: t.PrettyDuration(), Inline: true},
			{Name: "Time until playing", Value: track.FormatDuration(info.TimeUntil), Inline: true},
			{Name: "Position in queue", Value: fmt.Sprintf("%d", info.Position), Inline: true},
		},
	}
	if t.Thumbnail != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: t.Thumbnail}
	}
	m.send(channelID, embed)
}

func (m *channelMessenger) AddedPlaylist(channelID, title string, info queue.PositionInfo) {
	if channelID == "" {
		return
	}
	m.send(channelID, &discordgo.MessageEmbed{
		Title:       "🎵 Playlist Added",
		Description: fmt.Sprintf("**%s**", title),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Tracks", Value: fmt.Sprintf("%d", info.Added), Inline: true},
			{Name: "Time until playing", Value: track.FormatDuration(info.TimeUntil), Inline: true},
			{Name: "Position in queue", Value: fmt.Sprintf("%d", info.Position), Inline: true},
		},
	})
}

func (m *channelMessenger) Notify(channelID, message string) {
	if channelID == "" {
		return
	}
	m.send(channelID, &discordgo.MessageEmbed{Description: message})
}

func (m *channelMessenger) send(channelID string, embed *discordgo.MessageEmbed) {
	if err := bot.MessageEmbed(m.dg, channelID, embed); err != nil {
		m.log.Warn().Err(err).Str("channel", channelID).Msg("failed to post message")
	}
}

func orDash(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
