// Package resolver turns user queries and links into playable tracks.
package resolver

import (
	"context"
	"fmt"

	"github.com/Aufinal/WoolooBot/internal/music/track"
)

// Result holds the outcome of a successful resolution: exactly one of Track
// or Playlist is set. A nil Result with a nil error means nothing was found.
type Result struct {
	Track    *track.Track
	Playlist *track.Playlist
}

// Resolver resolves search queries and links into tracks, and refreshes the
// metadata of tracks that only carry a coarse playlist listing. Safe to call
// from worker goroutines; implementations must not touch shared session
// state.
type Resolver interface {
	Resolve(ctx context.Context, query, requesterID, requesterName string) (*Result, error)
	Refresh(ctx context.Context, t *track.Track) error
}

// ResolutionError wraps an extraction failure for a given input.
type ResolutionError struct {
	Input string
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("could not resolve %q: %v", e.Input, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }
