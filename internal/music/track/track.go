package track

import (
	"fmt"
	"time"
)

// Track is a single playable item. A track coming out of a playlist listing
// carries only coarse metadata (Resolved == false) until a metadata refresh
// fills in the rest; after that it is treated as immutable except through
// another refresh.
type Track struct {
	Title       string
	URL         string
	VideoID     string
	StreamURL   string
	Duration    time.Duration
	Thumbnail   string
	ChannelName string
	Codec       string

	RequesterID   string
	RequesterName string

	Resolved bool
}

// Playlist is a requested batch of tracks sharing a requester. It is consumed
// by the queue on enqueue and not retained.
type Playlist struct {
	Title         string
	Entries       []*Track
	RequesterID   string
	RequesterName string
}

// SetRequester tags the track with the user that asked for it.
func (t *Track) SetRequester(id, name string) {
	t.RequesterID = id
	t.RequesterName = name
}

// ApplyMetadata replaces all metadata fields at once, preserving the
// requester, and marks the track resolved.
func (t *Track) ApplyMetadata(m Metadata) {
	t.Title = m.Title
	t.URL = m.URL
	t.VideoID = m.VideoID
	t.StreamURL = m.StreamURL
	t.Duration = m.Duration
	t.Thumbnail = m.Thumbnail
	t.ChannelName = m.ChannelName
	t.Codec = m.Codec
	t.Resolved = true
}

// Metadata is the full set of fields a refresh produces.
type Metadata struct {
	Title       string
	URL         string
	VideoID     string
	StreamURL   string
	Duration    time.Duration
	Thumbnail   string
	ChannelName string
	Codec       string
}

// PrettyDuration formats the duration as mm:ss, or hh:mm:ss for tracks over
// an hour.
func (t *Track) PrettyDuration() string {
	return FormatDuration(t.Duration)
}

// MarkdownLink renders the track title as a Discord markdown link.
func (t *Track) MarkdownLink() string {
	url := t.URL
	if url == "" && t.VideoID != "" {
		url = "https://www.youtube.com/watch?v=" + t.VideoID
	}
	if url == "" {
		return t.Title
	}
	return fmt.Sprintf("[%s](%s)", t.Title, url)
}

// FormatDuration renders d as mm:ss, switching to hh:mm:ss above an hour.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Round(time.Second).Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
