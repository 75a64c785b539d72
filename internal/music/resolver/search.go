package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var (
	searchResultPattern = regexp.MustCompile(`"url":"/watch\?v=([a-zA-Z0-9_-]{11})`)

	// ErrNoVideoMatch means the search results page contained no watchable
	// video.
	ErrNoVideoMatch = errors.New("no video found for the given query")
)

// searchClient scrapes the first video ID off the YouTube results page. The
// results page embeds its data as JSON inside the HTML, so a plain GET plus a
// regex is enough for "first hit" semantics.
type searchClient struct {
	baseURL string
	http    *http.Client
}

func newSearchClient() *searchClient {
	return &searchClient{
		baseURL: "https://www.youtube.com",
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// FirstVideoID returns the video ID of the top search result for query, or
// ErrNoVideoMatch when the page lists nothing watchable.
func (c *searchClient) FirstVideoID(ctx context.Context, query string) (string, error) {
	searchURL := fmt.Sprintf("%s/results?search_query=%s", c.baseURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("youtube search failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	m := searchResultPattern.FindSubmatch(body)
	if len(m) < 2 {
		return "", ErrNoVideoMatch
	}
	return string(m[1]), nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func isYouTubeVideoURL(s string) bool {
	return strings.Contains(s, "youtube.com/watch?v=") ||
		strings.Contains(s, "music.youtube.com/watch?v=") ||
		strings.Contains(s, "youtu.be/")
}

func isYouTubePlaylistURL(s string) bool {
	if !strings.Contains(s, "youtube.com/") {
		return false
	}
	return strings.Contains(s, "playlist?list=") ||
		(strings.Contains(s, "list=") && !strings.Contains(s, "watch?v="))
}

func extractVideoID(rawURL string) (string, error) {
	switch {
	case strings.Contains(rawURL, "youtu.be/"):
		parts := strings.Split(rawURL, "youtu.be/")
		if len(parts) != 2 {
			return "", errors.New("invalid youtube url format")
		}
		return strings.Split(parts[1], "?")[0], nil

	case strings.Contains(rawURL, "watch?v="):
		parts := strings.Split(rawURL, "v=")
		if len(parts) != 2 {
			return "", errors.New("invalid youtube url format")
		}
		return strings.Split(parts[1], "&")[0], nil

	default:
		return "", errors.New("unsupported url format")
	}
}

func watchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}
