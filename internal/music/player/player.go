// Package player implements the per-guild playback state machine: it bridges
// the track queue to the audio sink, sequences track transitions against the
// completion callback, and keeps concurrent commands for one guild
// consistent.
package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Aufinal/WoolooBot/internal/music/queue"
	"github.com/Aufinal/WoolooBot/internal/music/resolver"
	"github.com/Aufinal/WoolooBot/internal/music/session"
	"github.com/Aufinal/WoolooBot/internal/music/stream"
	"github.com/Aufinal/WoolooBot/internal/music/track"
	"github.com/Aufinal/WoolooBot/pkg/workpool"
)

// State is the controller's playback state.
type State int

const (
	StateDisconnected State = iota
	StateIdle
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

var (
	// ErrNotConnected is returned for commands that require an active voice
	// session.
	ErrNotConnected = errors.New("not connected to a voice channel")
	// ErrNotPlaying is returned for commands that require an active track.
	ErrNotPlaying = errors.New("nothing is playing")
	// ErrNotPaused is returned by Resume when playback is not paused.
	ErrNotPaused = errors.New("playback is not paused")
	// ErrBusy is returned when a track change is already in flight.
	ErrBusy = errors.New("a track change is already in progress")
)

// Voice is the guild's voice transport. Join must be idempotent: joining the
// channel the session is already in is a no-op.
type Voice interface {
	Join(channelID string) error
	Leave() error
	ChannelID() string
}

// MemberCounter reports how many non-bot users sit in a voice channel.
type MemberCounter interface {
	NonBotMembers(channelID string) int
}

// Messenger delivers user-facing reports to the bound text channel.
type Messenger interface {
	NowPlaying(channelID string, t *track.Track, nextTitle string)
	Added(channelID string, t *track.Track, info queue.PositionInfo)
	AddedPlaylist(channelID, title string, info queue.PositionInfo)
	Notify(channelID, message string)
}

// History records tracks that actually started playing.
type History interface {
	Record(guildID string, t *track.Track)
}

// SourceFactory builds a decoded audio source for a stream URL, waiting up to
// timeout for the stream to produce data.
type SourceFactory func(streamURL string, timeout time.Duration) (stream.Source, error)

// NewFFmpegSource is the production SourceFactory.
func NewFFmpegSource(streamURL string, timeout time.Duration) (stream.Source, error) {
	return stream.NewFFmpegSource(streamURL, timeout)
}

// Deps carries the collaborators a controller needs.
type Deps struct {
	GuildID       string
	Session       *session.GuildSession
	Sink          stream.Sink
	Voice         Voice
	Members       MemberCounter
	Resolver      resolver.Resolver
	Pool          *workpool.Pool
	Messenger     Messenger
	History       History
	NewSource     SourceFactory
	StreamTimeout time.Duration
	Log           zerolog.Logger
}

type completion struct {
	err error
}

// Controller runs the play/advance/skip/pause/resume/disconnect state machine
// for one guild. All session and queue mutation happens under mu; the mutex
// is released across blocking external calls (resolution, refresh, source
// spawn, voice join) so other commands can interleave there.
type Controller struct {
	guildID       string
	session       *session.GuildSession
	sink          stream.Sink
	voice         Voice
	members       MemberCounter
	resolver      resolver.Resolver
	pool          *workpool.Pool
	msg           Messenger
	history       History
	newSource     SourceFactory
	streamTimeout time.Duration
	log           zerolog.Logger

	mu        sync.Mutex
	state     State
	advancing bool

	events   chan completion
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a controller and starts its event loop. Callers must Close it
// when the guild session is torn down for good.
func New(d Deps) *Controller {
	if d.NewSource == nil {
		d.NewSource = NewFFmpegSource
	}
	if d.StreamTimeout <= 0 {
		d.StreamTimeout = 5 * time.Second
	}
	c := &Controller{
		guildID:       d.GuildID,
		session:       d.Session,
		sink:          d.Sink,
		voice:         d.Voice,
		members:       d.Members,
		resolver:      d.Resolver,
		pool:          d.Pool,
		msg:           d.Messenger,
		history:       d.History,
		newSource:     d.NewSource,
		streamTimeout: d.StreamTimeout,
		log:           d.Log.With().Str("component", "player").Str("guild", d.GuildID).Logger(),
		state:         StateDisconnected,
		events:        make(chan completion, 1),
		done:          make(chan struct{}),
	}
	go c.loop()
	return c
}

// Close stops the event loop. It does not disconnect; call Disconnect first.
func (c *Controller) Close() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
}

// loop consumes completion events from the audio goroutine. This is the
// cross-thread handoff: the sink callback never touches queue state directly,
// it only posts here.
func (c *Controller) loop() {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.events:
			if ev.err != nil {
				// Playback errors are swallowed without advancing; the idle
				// reaper eventually reclaims a session stuck this way.
				c.log.Error().Err(ev.err).Msg("playback ended with error")
				continue
			}
			c.maybeAdvance()
		}
	}
}

// onComplete runs on the audio goroutine when a source drains or fails.
func (c *Controller) onComplete(err error) {
	select {
	case c.events <- completion{err: err}:
	case <-c.done:
	}
}

// Play resolves query, enqueues the result, and starts playback when the
// session was idle. Connects to voiceChannelID first if the session is
// disconnected, binding the session to textChannelID on first use.
// Resolution failures are reported to the bound channel, not returned.
func (c *Controller) Play(ctx context.Context, query, requesterID, requesterName, voiceChannelID, textChannelID string) error {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		if err := c.voice.Join(voiceChannelID); err != nil {
			return fmt.Errorf("could not join voice channel: %w", err)
		}
		c.mu.Lock()
		if c.state == StateDisconnected {
			c.state = StateIdle
		}
	}
	if c.session.BoundChannelID == "" {
		c.session.BoundChannelID = textChannelID
	}
	bound := c.session.BoundChannelID
	c.mu.Unlock()

	var res *resolver.Result
	err := c.pool.Do(ctx, func() error {
		var rerr error
		res, rerr = c.resolver.Resolve(ctx, query, requesterID, requesterName)
		return rerr
	})
	if err != nil {
		var rerr *resolver.ResolutionError
		if errors.As(err, &rerr) {
			c.log.Warn().Err(err).Str("query", query).Msg("resolution failed")
			c.msg.Notify(bound, fmt.Sprintf("Could not resolve `%s`.", query))
			return nil
		}
		return err
	}
	if res == nil {
		c.msg.Notify(bound, fmt.Sprintf("Nothing found for `%s`.", query))
		return nil
	}

	c.mu.Lock()
	if c.state == StateDisconnected {
		// Disconnected while resolving (reaper or an explicit disconnect);
		// drop the result rather than resurrect the session.
		c.mu.Unlock()
		return nil
	}
	var info queue.PositionInfo
	switch {
	case res.Playlist != nil:
		info = c.session.Queue.EnqueuePlaylist(res.Playlist)
	case res.Track != nil:
		res.Track.SetRequester(requesterID, requesterName)
		info = c.session.Queue.EnqueueTrack(res.Track)
	default:
		c.mu.Unlock()
		return nil
	}
	startNow := c.state == StateIdle && !c.advancing
	if startNow {
		c.advancing = true
	}
	c.mu.Unlock()

	if info.Position > 0 {
		if res.Playlist != nil {
			c.msg.AddedPlaylist(bound, res.Playlist.Title, info)
		} else {
			c.msg.Added(bound, res.Track, info)
		}
	}

	if startNow {
		c.advance()
	}
	return nil
}

// maybeAdvance runs advance unless one is already in flight.
func (c *Controller) maybeAdvance() {
	c.mu.Lock()
	if c.advancing {
		c.mu.Unlock()
		return
	}
	c.advancing = true
	c.mu.Unlock()
	c.advance()
}

// advance runs transition passes until the session settles. A Play can land
// while a pass is going idle (the advancing guard makes it enqueue without
// starting anything), so the queue is re-checked before the guard clears.
// Callers must have set c.advancing under the lock; advance clears it.
func (c *Controller) advance() {
	for {
		c.advanceOnce()
		c.mu.Lock()
		if c.state == StateIdle && c.session.Queue.Len() > 0 {
			c.mu.Unlock()
			continue
		}
		c.advancing = false
		c.mu.Unlock()
		return
	}
}

// advanceOnce pops the next track and streams it, looping over tracks whose
// refresh or source spawn fails.
func (c *Controller) advanceOnce() {
	ctx := context.Background()

	for {
		c.mu.Lock()
		if c.state == StateDisconnected {
			c.mu.Unlock()
			return
		}
		bound := c.session.BoundChannelID
		if ch := c.voice.ChannelID(); ch != "" && c.members.NonBotMembers(ch) == 0 {
			c.mu.Unlock()
			c.log.Info().Msg("voice channel is empty, disconnecting")
			c.Disconnect()
			return
		}

		next, nextTitle := c.session.Queue.NextSong()
		if next == nil {
			c.session.Queue.MarkStopped()
			c.state = StateIdle
			c.mu.Unlock()
			c.sink.Stop()
			return
		}
		c.mu.Unlock()

		if !next.Resolved {
			err := c.pool.Do(ctx, func() error {
				return c.resolver.Refresh(ctx, next)
			})
			if err != nil {
				c.log.Warn().Err(err).Str("title", next.Title).Msg("metadata refresh failed, skipping track")
				c.msg.Notify(bound, fmt.Sprintf("Skipping **%s**: could not fetch it.", next.Title))
				continue
			}
		}

		src, err := c.newSource(next.StreamURL, c.streamTimeout)
		if err != nil {
			if errors.Is(err, stream.ErrStreamTimeout) {
				c.log.Warn().Str("title", next.Title).Msg("stream produced no data, skipping track")
				c.msg.Notify(bound, fmt.Sprintf("Timed out waiting for **%s**, skipping.", next.Title))
			} else {
				c.log.Error().Err(err).Str("title", next.Title).Msg("source spawn failed, skipping track")
				c.msg.Notify(bound, fmt.Sprintf("Could not play **%s**, skipping.", next.Title))
			}
			continue
		}

		c.mu.Lock()
		if c.state == StateDisconnected {
			c.mu.Unlock()
			src.Cleanup()
			return
		}
		if c.sink.IsPaused() {
			// Skipping out of a pause lands on a new track; it plays.
			c.sink.Replace(src)
			c.sink.Resume()
		} else if c.sink.IsPlaying() {
			c.sink.Replace(src)
		} else if err := c.sink.Start(src, c.onComplete); err != nil {
			c.mu.Unlock()
			src.Cleanup()
			c.log.Error().Err(err).Msg("sink start failed")
			return
		}
		c.session.Queue.MarkPlaying(next)
		c.state = StatePlaying
		c.mu.Unlock()

		if c.history != nil {
			c.history.Record(c.guildID, next)
		}
		c.msg.NowPlaying(bound, next, nextTitle)
		return
	}
}

// Skip drops queue positions 1..toIndex-1 so position toIndex becomes the new
// head, then advances. toIndex below one skips just the playing track. A
// toIndex beyond the queue length fails with queue.InvalidIndexError and
// changes nothing; ErrBusy is returned when a track change is already in
// flight.
func (c *Controller) Skip(toIndex int) error {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.state != StatePlaying && c.state != StatePaused {
		c.mu.Unlock()
		return ErrNotPlaying
	}
	if c.advancing {
		c.mu.Unlock()
		return ErrBusy
	}
	if toIndex > 1 {
		if n := c.session.Queue.Len(); toIndex > n {
			c.mu.Unlock()
			return &queue.InvalidIndexError{Positions: []int{toIndex}, Length: n}
		}
		positions := make([]int, 0, toIndex-1)
		for i := 1; i < toIndex; i++ {
			positions = append(positions, i)
		}
		if _, err := c.session.Queue.Remove(positions); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	c.advancing = true
	c.mu.Unlock()

	c.advance()
	return nil
}

// Pause holds playback. Requires StatePlaying.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return ErrNotConnected
	}
	if c.state != StatePlaying {
		return ErrNotPlaying
	}
	c.sink.Pause()
	c.session.Queue.MarkPaused()
	c.state = StatePaused
	return nil
}

// Resume releases a pause, shifting elapsed-time accounting past the gap.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return ErrNotConnected
	}
	if c.state != StatePaused {
		return ErrNotPaused
	}
	c.sink.Resume()
	c.session.Queue.MarkResumed()
	c.state = StatePlaying
	return nil
}

// Disconnect tears the session down: sink stopped, queue and binding reset,
// voice left. Idempotent.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	already := c.state == StateDisconnected
	c.state = StateDisconnected
	c.session.Reset()
	c.mu.Unlock()

	c.sink.Stop()
	if !already {
		if err := c.voice.Leave(); err != nil {
			c.log.Warn().Err(err).Msg("voice leave failed")
		}
	}
}

// RemoveTracks deletes the given 1-based queue positions.
func (c *Controller) RemoveTracks(positions []int) ([]*track.Track, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return nil, ErrNotConnected
	}
	return c.session.Queue.Remove(positions)
}

// ShuffleQueue permutes the pending entries and returns how many there are.
func (c *Controller) ShuffleQueue() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return 0, ErrNotConnected
	}
	c.session.Queue.Shuffle()
	return c.session.Queue.Len(), nil
}

// ClearQueue drops all pending entries, leaving the playing track alone.
func (c *Controller) ClearQueue() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return 0, ErrNotConnected
	}
	n := c.session.Queue.Len()
	c.session.Queue.Clear()
	return n, nil
}

// Snapshot is a point-in-time view of the session for display.
type Snapshot struct {
	State     State
	Playing   *track.Track
	Elapsed   time.Duration
	Pending   []*track.Track
	QueueTime time.Duration
}

// Snapshot captures the current playback view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:     c.state,
		Playing:   c.session.Queue.Playing(),
		Elapsed:   c.session.Queue.Elapsed(),
		Pending:   c.session.Queue.Entries(),
		QueueTime: c.session.Queue.QueueTime(),
	}
}

// State returns the current playback state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// BoundChannelID returns the text channel this session reports to.
func (c *Controller) BoundChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.BoundChannelID
}

// GuildID returns the guild this controller belongs to.
func (c *Controller) GuildID() string {
	return c.guildID
}

// Connected reports whether a voice session is active.
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != StateDisconnected
}

// Idle reports whether the session qualifies for reaping: alone in its voice
// channel, or connected but not actively playing.
func (c *Controller) Idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return false
	}
	if c.state != StatePlaying {
		return true
	}
	ch := c.voice.ChannelID()
	return ch != "" && c.members.NonBotMembers(ch) == 0
}

// IdleSince returns when the session was first seen idle, or the zero time.
func (c *Controller) IdleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.IdleSince
}

// MarkIdle records the first moment the session was seen idle.
func (c *Controller) MarkIdle(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.IdleSince = now
}

// ClearIdle resets the idle timestamp.
func (c *Controller) ClearIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.IdleSince = time.Time{}
}
