package player

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Target is one reapable session, as the reaper sees it. *Controller
// satisfies it.
type Target interface {
	GuildID() string
	Connected() bool
	Idle() bool
	IdleSince() time.Time
	MarkIdle(now time.Time)
	ClearIdle()
	Disconnect()
}

// Reaper periodically sweeps all guild sessions and disconnects the ones that
// sat idle (alone in their channel, or silent) past the configured ceiling.
// Best effort: a panic in one guild's check never aborts the sweep for the
// others.
type Reaper struct {
	interval time.Duration
	maxIdle  time.Duration
	targets  func() []Target
	now      func() time.Time
	log      zerolog.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// NewReaper creates a reaper over the sessions returned by targets.
func NewReaper(interval, maxIdle time.Duration, targets func() []Target, log zerolog.Logger) *Reaper {
	return &Reaper{
		interval: interval,
		maxIdle:  maxIdle,
		targets:  targets,
		now:      time.Now,
		log:      log.With().Str("component", "reaper").Logger(),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop in its own goroutine.
func (r *Reaper) Start() {
	go r.run()
}

// Stop halts the sweep loop.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
}

func (r *Reaper) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep runs one pass over every session.
func (r *Reaper) Sweep() {
	for _, t := range r.targets() {
		r.check(t)
	}
}

func (r *Reaper) check(t Target) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Str("guild", t.GuildID()).Interface("panic", rec).Msg("idle check panicked")
		}
	}()

	if !t.Connected() || !t.Idle() {
		t.ClearIdle()
		return
	}

	now := r.now()
	since := t.IdleSince()
	if since.IsZero() {
		t.MarkIdle(now)
		return
	}
	if now.Sub(since) > r.maxIdle {
		r.log.Info().Str("guild", t.GuildID()).Dur("idle", now.Sub(since)).Msg("reaping idle session")
		t.Disconnect()
		t.ClearIdle()
	}
}
