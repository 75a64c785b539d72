package player_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aufinal/WoolooBot/internal/music/player"
	"github.com/Aufinal/WoolooBot/internal/music/queue"
	"github.com/Aufinal/WoolooBot/internal/music/resolver"
	"github.com/Aufinal/WoolooBot/internal/music/session"
	"github.com/Aufinal/WoolooBot/internal/music/stream"
	"github.com/Aufinal/WoolooBot/internal/music/track"
	"github.com/Aufinal/WoolooBot/pkg/workpool"
)

type fakeSource struct {
	mu       sync.Mutex
	cleanups int
}

func (s *fakeSource) Read(p []byte) (int, error) { return 0, nil }

func (s *fakeSource) Cleanup() {
	s.mu.Lock()
	s.cleanups++
	s.mu.Unlock()
}

type fakeFactory struct {
	mu    sync.Mutex
	fails map[string]error
	made  int
	hook  func(streamURL string)
}

func (f *fakeFactory) new(streamURL string, timeout time.Duration) (stream.Source, error) {
	f.mu.Lock()
	if err, ok := f.fails[streamURL]; ok {
		delete(f.fails, streamURL)
		f.mu.Unlock()
		return nil, err
	}
	f.made++
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook(streamURL)
	}
	return &fakeSource{}, nil
}

type fakeSink struct {
	mu         sync.Mutex
	playing    bool
	paused     bool
	onComplete func(error)
	starts     int
	replaces   int
	stops      int
	pauses     int
	resumes    int
	stopHook   func()
}

func (s *fakeSink) Start(src stream.Source, onComplete func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		return errors.New("sink already started")
	}
	s.playing = true
	s.paused = false
	s.onComplete = onComplete
	s.starts++
	return nil
}

func (s *fakeSink) Replace(src stream.Source) {
	s.mu.Lock()
	s.replaces++
	s.mu.Unlock()
}

func (s *fakeSink) Pause() {
	s.mu.Lock()
	s.paused = true
	s.pauses++
	s.mu.Unlock()
}

func (s *fakeSink) Resume() {
	s.mu.Lock()
	s.paused = false
	s.resumes++
	s.mu.Unlock()
}

func (s *fakeSink) Stop() {
	s.mu.Lock()
	s.playing = false
	s.paused = false
	s.onComplete = nil
	s.stops++
	hook := s.stopHook
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (s *fakeSink) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing && !s.paused
}

func (s *fakeSink) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing && s.paused
}

// complete simulates the audio goroutine finishing the active source.
func (s *fakeSink) complete(err error) {
	s.mu.Lock()
	cb := s.onComplete
	s.playing = false
	s.paused = false
	s.onComplete = nil
	s.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (s *fakeSink) startCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

type fakeResolver struct {
	mu        sync.Mutex
	results   map[string]*resolver.Result
	delay     time.Duration
	refreshed []string
}

func (r *fakeResolver) Resolve(ctx context.Context, query, requesterID, requesterName string) (*resolver.Result, error) {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[query]
	if !ok {
		return nil, nil
	}
	return res, nil
}

func (r *fakeResolver) Refresh(ctx context.Context, t *track.Track) error {
	r.mu.Lock()
	r.refreshed = append(r.refreshed, t.Title)
	r.mu.Unlock()
	t.Resolved = true
	t.StreamURL = "stream://" + t.Title
	return nil
}

type fakeVoice struct {
	mu      sync.Mutex
	channel string
	joins   int
	leaves  int
}

func (v *fakeVoice) Join(channelID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.channel = channelID
	v.joins++
	return nil
}

func (v *fakeVoice) Leave() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.channel = ""
	v.leaves++
	return nil
}

func (v *fakeVoice) ChannelID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.channel
}

func (v *fakeVoice) leaveCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.leaves
}

type fakeMembers struct {
	mu    sync.Mutex
	count int
}

func (m *fakeMembers) NonBotMembers(channelID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

func (m *fakeMembers) set(n int) {
	m.mu.Lock()
	m.count = n
	m.mu.Unlock()
}

type fakeMessenger struct {
	mu         sync.Mutex
	nowPlaying []string
	added      []string
	playlists  []string
	notes      []string
}

func (m *fakeMessenger) NowPlaying(channelID string, t *track.Track, nextTitle string) {
	m.mu.Lock()
	m.nowPlaying = append(m.nowPlaying, t.Title)
	m.mu.Unlock()
}

func (m *fakeMessenger) Added(channelID string, t *track.Track, info queue.PositionInfo) {
	m.mu.Lock()
	m.added = append(m.added, t.Title)
	m.mu.Unlock()
}

func (m *fakeMessenger) AddedPlaylist(channelID, title string, info queue.PositionInfo) {
	m.mu.Lock()
	m.playlists = append(m.playlists, title)
	m.mu.Unlock()
}

func (m *fakeMessenger) Notify(channelID, message string) {
	m.mu.Lock()
	m.notes = append(m.notes, message)
	m.mu.Unlock()
}

func (m *fakeMessenger) nowPlayingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nowPlaying)
}

func (m *fakeMessenger) lastNote() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.notes) == 0 {
		return ""
	}
	return m.notes[len(m.notes)-1]
}

type fixture struct {
	ctrl    *player.Controller
	sink    *fakeSink
	res     *fakeResolver
	voice   *fakeVoice
	members *fakeMembers
	msg     *fakeMessenger
	factory *fakeFactory
	sess    *session.GuildSession
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		sink:    &fakeSink{},
		res:     &fakeResolver{results: map[string]*resolver.Result{}},
		voice:   &fakeVoice{},
		members: &fakeMembers{count: 1},
		msg:     &fakeMessenger{},
		factory: &fakeFactory{fails: map[string]error{}},
		sess:    session.NewRegistry().Get("guild-1"),
	}

	pool := workpool.New(2)
	t.Cleanup(pool.Close)

	f.ctrl = player.New(player.Deps{
		GuildID:       "guild-1",
		Session:       f.sess,
		Sink:          f.sink,
		Voice:         f.voice,
		Members:       f.members,
		Resolver:      f.res,
		Pool:          pool,
		Messenger:     f.msg,
		NewSource:     f.factory.new,
		StreamTimeout: 100 * time.Millisecond,
		Log:           zerolog.Nop(),
	})
	t.Cleanup(f.ctrl.Close)

	return f
}

func (f *fixture) addResult(query, title string, seconds int) *track.Track {
	tr := &track.Track{
		Title:     title,
		URL:       "https://www.youtube.com/watch?v=" + title,
		StreamURL: "stream://" + title,
		Duration:  time.Duration(seconds) * time.Second,
		Resolved:  true,
	}
	f.res.mu.Lock()
	f.res.results[query] = &resolver.Result{Track: tr}
	f.res.mu.Unlock()
	return tr
}

func (f *fixture) play(t *testing.T, query string) {
	t.Helper()
	require.NoError(t, f.ctrl.Play(context.Background(), query, "u1", "alice", "vc-1", "tc-1"))
}

func TestPlayStartsPlayback(t *testing.T) {
	f := newFixture(t)
	tr := f.addResult("song one", "one", 180)

	f.play(t, "song one")

	assert.Equal(t, player.StatePlaying, f.ctrl.State())
	assert.Equal(t, "tc-1", f.ctrl.BoundChannelID())
	assert.Equal(t, 1, f.sink.startCount())

	snap := f.ctrl.Snapshot()
	require.NotNil(t, snap.Playing)
	assert.Equal(t, tr.Title, snap.Playing.Title)
	assert.Empty(t, snap.Pending)
	assert.Equal(t, 1, f.msg.nowPlayingCount())
	assert.Equal(t, "alice", snap.Playing.RequesterName)
}

func TestPlayWhilePlayingEnqueues(t *testing.T) {
	f := newFixture(t)
	f.addResult("first", "one", 60)
	f.addResult("second", "two", 60)

	f.play(t, "first")
	f.play(t, "second")

	snap := f.ctrl.Snapshot()
	require.NotNil(t, snap.Playing)
	assert.Equal(t, "one", snap.Playing.Title)
	require.Len(t, snap.Pending, 1)
	assert.Equal(t, "two", snap.Pending[0].Title)

	assert.Equal(t, 1, f.sink.startCount(), "second play must not restart the sink")
	f.msg.mu.Lock()
	defer f.msg.mu.Unlock()
	assert.Equal(t, []string{"two"}, f.msg.added)
}

func TestPlayNothingFound(t *testing.T) {
	f := newFixture(t)

	f.play(t, "does not exist")

	assert.Equal(t, player.StateIdle, f.ctrl.State())
	assert.Equal(t, 0, f.sink.startCount())
	assert.Contains(t, f.msg.lastNote(), "Nothing found")
}

func TestCompletionAdvances(t *testing.T) {
	f := newFixture(t)
	f.addResult("first", "one", 60)
	f.addResult("second", "two", 60)

	f.play(t, "first")
	f.play(t, "second")

	f.sink.complete(nil)

	require.Eventually(t, func() bool {
		snap := f.ctrl.Snapshot()
		return snap.Playing != nil && snap.Playing.Title == "two"
	}, time.Second, 10*time.Millisecond)

	snap := f.ctrl.Snapshot()
	assert.Empty(t, snap.Pending)
	assert.Equal(t, player.StatePlaying, f.ctrl.State())
}

func TestCompletionOnEmptyQueueGoesIdle(t *testing.T) {
	f := newFixture(t)
	f.addResult("only", "one", 60)

	f.play(t, "only")
	f.sink.complete(nil)

	require.Eventually(t, func() bool {
		return f.ctrl.State() == player.StateIdle
	}, time.Second, 10*time.Millisecond)

	assert.Nil(t, f.ctrl.Snapshot().Playing)
}

func TestCompletionErrorDoesNotAdvance(t *testing.T) {
	f := newFixture(t)
	f.addResult("first", "one", 60)
	f.addResult("second", "two", 60)

	f.play(t, "first")
	f.play(t, "second")

	f.sink.complete(errors.New("opus send failed"))

	// Give the event loop a chance to do the wrong thing.
	time.Sleep(50 * time.Millisecond)

	snap := f.ctrl.Snapshot()
	require.NotNil(t, snap.Playing)
	assert.Equal(t, "one", snap.Playing.Title, "an errored track must not auto-advance")
	assert.Len(t, snap.Pending, 1)
}

func TestSimultaneousPlays(t *testing.T) {
	f := newFixture(t)
	f.res.delay = 20 * time.Millisecond
	f.addResult("first", "one", 60)
	f.addResult("second", "two", 60)

	var wg sync.WaitGroup
	for _, q := range []string{"first", "second"} {
		wg.Add(1)
		go func(query string) {
			defer wg.Done()
			if err := f.ctrl.Play(context.Background(), query, "u1", "alice", "vc-1", "tc-1"); err != nil {
				t.Error(err)
			}
		}(q)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return f.ctrl.State() == player.StatePlaying
	}, time.Second, 10*time.Millisecond)

	snap := f.ctrl.Snapshot()
	require.NotNil(t, snap.Playing, "exactly one track must be playing")
	assert.Len(t, snap.Pending, 1, "the other track must stay queued")
	assert.Equal(t, 1, f.sink.startCount(), "the sink must be started exactly once")
}

func TestSkip(t *testing.T) {
	setup := func(t *testing.T) *fixture {
		f := newFixture(t)
		f.addResult("q0", "playing", 60)
		f.play(t, "q0")
		for _, title := range []string{"p1", "p2", "p3", "p4", "p5"} {
			f.addResult("q-"+title, title, 60)
			f.play(t, "q-"+title)
		}
		return f
	}

	t.Run("skip to position makes it the new head", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.ctrl.Skip(3))

		snap := f.ctrl.Snapshot()
		require.NotNil(t, snap.Playing)
		assert.Equal(t, "p3", snap.Playing.Title)
		require.Len(t, snap.Pending, 2)
		assert.Equal(t, "p4", snap.Pending[0].Title)
	})

	t.Run("out of range skip changes nothing", func(t *testing.T) {
		f := setup(t)
		err := f.ctrl.Skip(10)

		var idxErr *queue.InvalidIndexError
		require.ErrorAs(t, err, &idxErr)

		snap := f.ctrl.Snapshot()
		assert.Equal(t, "playing", snap.Playing.Title)
		assert.Len(t, snap.Pending, 5)
	})

	t.Run("skip just past the end is rejected", func(t *testing.T) {
		f := setup(t)
		err := f.ctrl.Skip(6)

		var idxErr *queue.InvalidIndexError
		require.ErrorAs(t, err, &idxErr)
		assert.Equal(t, []int{6}, idxErr.Positions)
		assert.Equal(t, 5, idxErr.Length)
		assert.Len(t, f.ctrl.Snapshot().Pending, 5)
	})

	t.Run("skip to the last entry plays it", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.ctrl.Skip(5))

		snap := f.ctrl.Snapshot()
		require.NotNil(t, snap.Playing)
		assert.Equal(t, "p5", snap.Playing.Title)
		assert.Empty(t, snap.Pending)
	})

	t.Run("plain skip moves to the next track", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.ctrl.Skip(1))

		snap := f.ctrl.Snapshot()
		require.NotNil(t, snap.Playing)
		assert.Equal(t, "p1", snap.Playing.Title)
		assert.Len(t, snap.Pending, 4)
	})

	t.Run("skip with empty queue stops playback", func(t *testing.T) {
		f := newFixture(t)
		f.addResult("only", "one", 60)
		f.play(t, "only")

		require.NoError(t, f.ctrl.Skip(1))
		assert.Equal(t, player.StateIdle, f.ctrl.State())
		assert.Nil(t, f.ctrl.Snapshot().Playing)
	})

	t.Run("skip while nothing plays is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.play(t, "nothing matches this")
		assert.ErrorIs(t, f.ctrl.Skip(1), player.ErrNotPlaying)
	})

	t.Run("skip while disconnected is rejected", func(t *testing.T) {
		f := newFixture(t)
		assert.ErrorIs(t, f.ctrl.Skip(1), player.ErrNotConnected)
	})
}

func TestPlayDuringIdleTransitionStartsQueuedTrack(t *testing.T) {
	f := newFixture(t)
	f.addResult("first", "one", 60)
	f.addResult("second", "two", 60)

	entered := make(chan struct{})
	gate := make(chan struct{})
	var once sync.Once
	f.sink.mu.Lock()
	f.sink.stopHook = func() {
		once.Do(func() {
			close(entered)
			<-gate
		})
	}
	f.sink.mu.Unlock()

	f.play(t, "first")
	f.sink.complete(nil)

	// The empty-queue transition is now parked inside the sink stop.
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("the sink stop was never reached")
	}

	f.play(t, "second")
	close(gate)

	require.Eventually(t, func() bool {
		snap := f.ctrl.Snapshot()
		return snap.Playing != nil && snap.Playing.Title == "two"
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, player.StatePlaying, f.ctrl.State())
}

func TestSkipWhilePausedPlaysNextTrack(t *testing.T) {
	f := newFixture(t)
	f.addResult("first", "one", 60)
	f.addResult("second", "two", 60)

	f.play(t, "first")
	f.play(t, "second")

	require.NoError(t, f.ctrl.Pause())
	require.NoError(t, f.ctrl.Skip(1))

	assert.Equal(t, player.StatePlaying, f.ctrl.State())
	snap := f.ctrl.Snapshot()
	require.NotNil(t, snap.Playing)
	assert.Equal(t, "two", snap.Playing.Title)
	assert.False(t, f.sink.IsPaused())

	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	assert.Equal(t, 1, f.sink.resumes)
	assert.Equal(t, 1, f.sink.replaces)
}

func TestSkipDuringTrackChangeIsRejected(t *testing.T) {
	f := newFixture(t)
	f.addResult("first", "one", 60)
	f.addResult("second", "two", 60)

	entered := make(chan struct{})
	gate := make(chan struct{})
	f.factory.mu.Lock()
	f.factory.hook = func(streamURL string) {
		if streamURL == "stream://two" {
			close(entered)
			<-gate
		}
	}
	f.factory.mu.Unlock()

	f.play(t, "first")
	f.play(t, "second")
	f.sink.complete(nil)

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("the advance never reached the source factory")
	}

	assert.ErrorIs(t, f.ctrl.Skip(1), player.ErrBusy)
	close(gate)

	require.Eventually(t, func() bool {
		snap := f.ctrl.Snapshot()
		return snap.Playing != nil && snap.Playing.Title == "two"
	}, time.Second, 10*time.Millisecond)
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t)
	f.addResult("song", "one", 60)
	f.play(t, "song")

	require.NoError(t, f.ctrl.Pause())
	assert.Equal(t, player.StatePaused, f.ctrl.State())
	assert.ErrorIs(t, f.ctrl.Pause(), player.ErrNotPlaying)

	require.NoError(t, f.ctrl.Resume())
	assert.Equal(t, player.StatePlaying, f.ctrl.State())
	assert.ErrorIs(t, f.ctrl.Resume(), player.ErrNotPaused)

	assert.Equal(t, 1, f.sink.pauses)
	assert.Equal(t, 1, f.sink.resumes)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.addResult("song", "one", 60)
	f.play(t, "song")

	f.ctrl.Disconnect()
	f.ctrl.Disconnect()

	assert.Equal(t, player.StateDisconnected, f.ctrl.State())
	assert.Equal(t, 1, f.voice.leaveCount())
	assert.Empty(t, f.ctrl.BoundChannelID())
	assert.Nil(t, f.ctrl.Snapshot().Playing)
	assert.Empty(t, f.ctrl.Snapshot().Pending)
}

func TestEmptyChannelDisconnects(t *testing.T) {
	f := newFixture(t)
	f.members.set(0)
	f.addResult("song", "one", 60)

	f.play(t, "song")

	require.Eventually(t, func() bool {
		return f.ctrl.State() == player.StateDisconnected
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, f.sink.startCount())
	assert.Equal(t, 1, f.voice.leaveCount())
}

func TestStreamTimeoutSkipsTrack(t *testing.T) {
	f := newFixture(t)
	f.addResult("bad", "broken", 60)
	f.addResult("good", "fine", 60)
	f.factory.fails["stream://broken"] = stream.ErrStreamTimeout

	f.play(t, "bad")
	f.play(t, "good")

	require.Eventually(t, func() bool {
		snap := f.ctrl.Snapshot()
		return snap.Playing != nil && snap.Playing.Title == "fine"
	}, time.Second, 10*time.Millisecond)

	f.msg.mu.Lock()
	notes := append([]string(nil), f.msg.notes...)
	f.msg.mu.Unlock()
	require.NotEmpty(t, notes)
	assert.Contains(t, notes[len(notes)-1], "Timed out")
}

func TestUnresolvedTrackIsRefreshed(t *testing.T) {
	f := newFixture(t)
	coarse := &track.Track{Title: "coarse", Duration: time.Minute}
	f.res.mu.Lock()
	f.res.results["playlist entry"] = &resolver.Result{Track: coarse}
	f.res.mu.Unlock()

	f.play(t, "playlist entry")

	require.Eventually(t, func() bool {
		snap := f.ctrl.Snapshot()
		return snap.Playing != nil && snap.Playing.Resolved
	}, time.Second, 10*time.Millisecond)

	f.res.mu.Lock()
	defer f.res.mu.Unlock()
	assert.Equal(t, []string{"coarse"}, f.res.refreshed)
}

func TestPlaylistEnqueue(t *testing.T) {
	f := newFixture(t)
	pl := &track.Playlist{
		Title: "road trip",
		Entries: []*track.Track{
			{Title: "a", StreamURL: "stream://a", Resolved: true, Duration: time.Minute},
			{Title: "b", StreamURL: "stream://b", Resolved: true, Duration: time.Minute},
			{Title: "c", StreamURL: "stream://c", Resolved: true, Duration: time.Minute},
		},
	}
	f.res.mu.Lock()
	f.res.results["the playlist"] = &resolver.Result{Playlist: pl}
	f.res.mu.Unlock()

	f.play(t, "the playlist")

	snap := f.ctrl.Snapshot()
	require.NotNil(t, snap.Playing)
	assert.Equal(t, "a", snap.Playing.Title)
	assert.Len(t, snap.Pending, 2)

	f.msg.mu.Lock()
	defer f.msg.mu.Unlock()
	assert.Empty(t, f.msg.playlists, "a playlist starting immediately is announced as now playing only")
}
