package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/kkdai/youtube/v2"
	"github.com/rs/zerolog"

	"github.com/Aufinal/WoolooBot/internal/music/track"
	"github.com/Aufinal/WoolooBot/pkg/retrylimit"
)

const (
	metadataCacheSize = 256
	metadataCacheTTL  = 30 * time.Minute
	extractAttempts   = 3
)

// YouTube resolves queries and links through the YouTube innertube API, with
// a plain HTML scrape for text search. Video metadata is cached briefly;
// stream URLs are deciphered fresh on every resolution because they expire.
type YouTube struct {
	client  *youtube.Client
	search  *searchClient
	cache   *expirable.LRU[string, *youtube.Video]
	limiter *retrylimit.AdaptiveLimiter
	log     zerolog.Logger
}

// NewYouTube creates a resolver with its own HTTP clients and cache.
func NewYouTube(log zerolog.Logger) *YouTube {
	return &YouTube{
		client:  &youtube.Client{},
		search:  newSearchClient(),
		cache:   expirable.NewLRU[string, *youtube.Video](metadataCacheSize, nil, metadataCacheTTL),
		limiter: retrylimit.NewAdaptiveLimiter(2, 1, 10, 1, 0.5),
		log:     log.With().Str("component", "resolver").Logger(),
	}
}

// Resolve maps a raw user query to a track or playlist. Plain text is
// searched; video and playlist links are fetched directly. A query that
// matches nothing yields (nil, nil).
func (r *YouTube) Resolve(ctx context.Context, query, requesterID, requesterName string) (*Result, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}

	switch {
	case isYouTubePlaylistURL(q):
		pl, err := r.resolvePlaylist(ctx, q, requesterID, requesterName)
		if err != nil {
			return nil, err
		}
		if pl == nil {
			return nil, nil
		}
		return &Result{Playlist: pl}, nil

	case isYouTubeVideoURL(q):
		id, err := extractVideoID(q)
		if err != nil {
			return nil, &ResolutionError{Input: q, Err: err}
		}
		t, err := r.resolveVideo(ctx, id, requesterID, requesterName)
		if err != nil {
			return nil, err
		}
		return &Result{Track: t}, nil

	case isURL(q):
		return nil, &ResolutionError{Input: q, Err: errors.New("unsupported link")}

	default:
		id, err := r.search.FirstVideoID(ctx, q)
		if errors.Is(err, ErrNoVideoMatch) {
			return nil, nil
		}
		if err != nil {
			return nil, &ResolutionError{Input: q, Err: err}
		}
		t, err := r.resolveVideo(ctx, id, requesterID, requesterName)
		if err != nil {
			return nil, err
		}
		return &Result{Track: t}, nil
	}
}

// Refresh re-fetches full metadata for a track that only carries a playlist
// listing. The requester tag survives the refresh.
func (r *YouTube) Refresh(ctx context.Context, t *track.Track) error {
	id := t.VideoID
	if id == "" {
		var err error
		id, err = extractVideoID(t.URL)
		if err != nil {
			return &ResolutionError{Input: t.URL, Err: err}
		}
	}

	meta, err := r.fetchMetadata(ctx, id)
	if err != nil {
		return err
	}
	t.ApplyMetadata(meta)
	return nil
}

func (r *YouTube) resolveVideo(ctx context.Context, videoID, requesterID, requesterName string) (*track.Track, error) {
	meta, err := r.fetchMetadata(ctx, videoID)
	if err != nil {
		return nil, err
	}

	t := &track.Track{}
	t.ApplyMetadata(meta)
	t.SetRequester(requesterID, requesterName)
	return t, nil
}

func (r *YouTube) resolvePlaylist(ctx context.Context, playlistURL, requesterID, requesterName string) (*track.Playlist, error) {
	var pl *youtube.Playlist
	err := retrylimit.WithRetryMax(ctx, func() error {
		var err error
		pl, err = r.client.GetPlaylistContext(ctx, playlistURL)
		return err
	}, r.limiter, extractAttempts)
	if err != nil {
		return nil, &ResolutionError{Input: playlistURL, Err: err}
	}
	if len(pl.Videos) == 0 {
		return nil, nil
	}

	entries := make([]*track.Track, 0, len(pl.Videos))
	for _, e := range pl.Videos {
		entries = append(entries, &track.Track{
			Title:       e.Title,
			URL:         watchURL(e.ID),
			VideoID:     e.ID,
			Duration:    e.Duration,
			ChannelName: e.Author,
		})
	}

	r.log.Debug().Str("playlist", pl.Title).Int("tracks", len(entries)).Msg("resolved playlist")

	return &track.Playlist{
		Title:         pl.Title,
		Entries:       entries,
		RequesterID:   requesterID,
		RequesterName: requesterName,
	}, nil
}

// fetchMetadata pulls the video description and deciphers a stream URL. The
// video object is cached; the stream URL never is.
func (r *YouTube) fetchMetadata(ctx context.Context, videoID string) (track.Metadata, error) {
	video, ok := r.cache.Get(videoID)
	if !ok {
		err := retrylimit.WithRetryMax(ctx, func() error {
			var err error
			video, err = r.client.GetVideoContext(ctx, videoID)
			return err
		}, r.limiter, extractAttempts)
		if err != nil {
			return track.Metadata{}, &ResolutionError{Input: videoID, Err: err}
		}
		r.cache.Add(videoID, video)
	}

	formats := video.Formats.WithAudioChannels()
	if len(formats) == 0 {
		return track.Metadata{}, &ResolutionError{Input: videoID, Err: errors.New("no audio formats found")}
	}
	format := &formats[0]

	var streamURL string
	err := retrylimit.WithRetryMax(ctx, func() error {
		var err error
		streamURL, err = r.client.GetStreamURLContext(ctx, video, format)
		return err
	}, r.limiter, extractAttempts)
	if err != nil {
		return track.Metadata{}, &ResolutionError{Input: videoID, Err: fmt.Errorf("get stream url: %w", err)}
	}

	meta := track.Metadata{
		Title:       video.Title,
		URL:         watchURL(video.ID),
		VideoID:     video.ID,
		StreamURL:   streamURL,
		Duration:    video.Duration,
		ChannelName: video.Author,
		Codec:       codecFromMimeType(format.MimeType),
	}
	if len(video.Thumbnails) > 0 {
		meta.Thumbnail = video.Thumbnails[len(video.Thumbnails)-1].URL
	}
	return meta, nil
}

// codecFromMimeType pulls the codec name out of a format mime type such as
// `audio/webm; codecs="opus"`.
func codecFromMimeType(mime string) string {
	const marker = `codecs="`
	i := strings.Index(mime, marker)
	if i < 0 {
		return ""
	}
	rest := mime[i+len(marker):]
	j := strings.Index(rest, `"`)
	if j < 0 {
		return rest
	}
	return rest[:j]
}
