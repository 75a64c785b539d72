// Package queue implements the per-guild track queue: pending entries in FIFO
// order plus the now-playing bookkeeping used for queue-time estimates.
//
// A TrackQueue is not safe for concurrent use on its own; the playback
// controller serializes all access behind its per-guild mutex.
package queue

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/Aufinal/WoolooBot/internal/music/track"
)

// NothingNext is the title reported for the queue head when the queue is
// empty after a pop.
const NothingNext = "Nothing"

// InvalidIndexError reports user-supplied queue positions that are out of
// range. Positions are 1-based and never count the currently playing track.
type InvalidIndexError struct {
	Positions []int
	Length    int
}

func (e *InvalidIndexError) Error() string {
	ps := make([]string, len(e.Positions))
	for i, p := range e.Positions {
		ps[i] = fmt.Sprintf("%d", p)
	}
	return fmt.Sprintf("invalid queue position(s) %s: queue has %d track(s)",
		strings.Join(ps, ", "), e.Length)
}

// PositionInfo describes where an enqueued item landed, captured before the
// insertion. Position 0 means the item will play immediately.
type PositionInfo struct {
	Position  int
	TimeUntil time.Duration
	Added     int
}

// TrackQueue holds the pending tracks for one guild.
type TrackQueue struct {
	entries      []*track.Track
	playing      *track.Track
	playingSince time.Time
	pausedAt     time.Time

	now func() time.Time
}

// New creates an empty queue using the wall clock.
func New() *TrackQueue {
	return NewWithClock(time.Now)
}

// NewWithClock creates an empty queue with an injectable clock.
func NewWithClock(now func() time.Time) *TrackQueue {
	return &TrackQueue{now: now}
}

// EnqueueTrack appends a single track and returns its pre-insertion position
// and time-until estimate.
func (q *TrackQueue) EnqueueTrack(t *track.Track) PositionInfo {
	info := PositionInfo{
		Position:  q.position(),
		TimeUntil: q.QueueTime(),
		Added:     1,
	}
	q.entries = append(q.entries, t)
	return info
}

// EnqueuePlaylist appends every playlist entry, tagging each with the
// playlist's requester.
func (q *TrackQueue) EnqueuePlaylist(p *track.Playlist) PositionInfo {
	info := PositionInfo{
		Position:  q.position(),
		TimeUntil: q.QueueTime(),
		Added:     len(p.Entries),
	}
	for _, entry := range p.Entries {
		entry.SetRequester(p.RequesterID, p.RequesterName)
	}
	q.entries = append(q.entries, p.Entries...)
	return info
}

// position is the 1-based slot the next enqueued track would occupy, or 0
// when it would play immediately.
func (q *TrackQueue) position() int {
	if len(q.entries) == 0 && q.playing == nil {
		return 0
	}
	return len(q.entries) + 1
}

// NextSong pops the queue head and returns it together with the title of the
// new head (NothingNext when the queue ran dry). Returns (nil, "") when there
// was nothing to pop; playing state is left untouched in that case.
func (q *TrackQueue) NextSong() (*track.Track, string) {
	if len(q.entries) == 0 {
		return nil, ""
	}
	t := q.entries[0]
	q.entries = q.entries[1:]
	next := NothingNext
	if len(q.entries) > 0 {
		next = q.entries[0].Title
	}
	return t, next
}

// Remove deletes the entries at the given 1-based positions and returns them
// in their original order. Any out-of-range position aborts the whole call
// with an InvalidIndexError listing every offender; the queue is unchanged on
// failure.
func (q *TrackQueue) Remove(positions []int) ([]*track.Track, error) {
	var bad []int
	seen := make(map[int]struct{}, len(positions))
	for _, p := range positions {
		if p <= 0 || p > len(q.entries) {
			bad = append(bad, p)
			continue
		}
		seen[p] = struct{}{}
	}
	if len(bad) > 0 {
		sort.Ints(bad)
		return nil, &InvalidIndexError{Positions: bad, Length: len(q.entries)}
	}

	removed := make([]*track.Track, 0, len(seen))
	kept := q.entries[:0:0]
	for i, t := range q.entries {
		if _, ok := seen[i+1]; ok {
			removed = append(removed, t)
		} else {
			kept = append(kept, t)
		}
	}
	q.entries = kept
	return removed, nil
}

// Clear drops all pending entries. The playing track is unaffected.
func (q *TrackQueue) Clear() {
	q.entries = nil
}

// Shuffle randomly permutes the pending entries in place.
func (q *TrackQueue) Shuffle() {
	rand.Shuffle(len(q.entries), func(i, j int) {
		q.entries[i], q.entries[j] = q.entries[j], q.entries[i]
	})
}

// Len returns the number of pending entries, not counting the playing track.
func (q *TrackQueue) Len() int {
	return len(q.entries)
}

// Entries returns a copy of the pending entries in play order.
func (q *TrackQueue) Entries() []*track.Track {
	out := make([]*track.Track, len(q.entries))
	copy(out, q.entries)
	return out
}

// Playing returns the currently playing track, or nil.
func (q *TrackQueue) Playing() *track.Track {
	return q.playing
}

// IsPaused reports whether playback time accounting is currently paused.
func (q *TrackQueue) IsPaused() bool {
	return !q.pausedAt.IsZero()
}

// MarkPlaying records t as the active track starting now.
func (q *TrackQueue) MarkPlaying(t *track.Track) {
	q.playing = t
	q.playingSince = q.now()
	q.pausedAt = time.Time{}
}

// MarkStopped clears the active track and all timing state.
func (q *TrackQueue) MarkStopped() {
	q.playing = nil
	q.playingSince = time.Time{}
	q.pausedAt = time.Time{}
}

// MarkPaused records the pause timestamp. No-op when nothing is playing or
// already paused.
func (q *TrackQueue) MarkPaused() {
	if q.playing == nil || !q.pausedAt.IsZero() {
		return
	}
	q.pausedAt = q.now()
}

// MarkResumed shifts the playback start forward by the pause duration so
// elapsed-time accounting excludes the time spent paused.
func (q *TrackQueue) MarkResumed() {
	if q.pausedAt.IsZero() {
		return
	}
	q.playingSince = q.playingSince.Add(q.now().Sub(q.pausedAt))
	q.pausedAt = time.Time{}
}

// Elapsed returns how much of the playing track has actually played,
// excluding paused time. Zero when nothing is playing.
func (q *TrackQueue) Elapsed() time.Duration {
	if q.playing == nil || q.playingSince.IsZero() {
		return 0
	}
	ref := q.now()
	if !q.pausedAt.IsZero() {
		ref = q.pausedAt
	}
	return ref.Sub(q.playingSince)
}

// QueueTime estimates the total wait: the remaining seconds of the playing
// track (floored at zero) plus the durations of all pending entries. Display
// only, never used for scheduling.
func (q *TrackQueue) QueueTime() time.Duration {
	var total time.Duration
	if q.playing != nil && !q.playingSince.IsZero() {
		remaining := q.playing.Duration - q.Elapsed()
		if remaining > 0 {
			total += remaining
		}
	}
	for _, t := range q.entries {
		total += t.Duration
	}
	return total
}
