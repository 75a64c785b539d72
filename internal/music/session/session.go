// Package session holds per-guild mutable playback state and the
// process-wide registry that maps guild ids to it.
package session

import (
	"sync"
	"time"

	"github.com/Aufinal/WoolooBot/internal/music/queue"
)

// GuildSession is the per-guild state bundle: the track queue, the text
// channel the session is bound to, and the idle timestamp the reaper uses.
// All field access is serialized by the owning controller's mutex; the
// registry only hands out pointers.
type GuildSession struct {
	Queue          *queue.TrackQueue
	BoundChannelID string
	IdleSince      time.Time
}

// Reset restores the session to its defaults: binding cleared, queue emptied
// (pending entries and playing track both), idle timestamp unset.
func (s *GuildSession) Reset() {
	s.BoundChannelID = ""
	s.IdleSince = time.Time{}
	s.Queue.Clear()
	s.Queue.MarkStopped()
}

// Registry is the process-wide keyed store of guild sessions. Entries are
// created lazily on first lookup and persist for the process lifetime; guild
// count is small and bounded by platform membership.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*GuildSession
	newQueue func() *queue.TrackQueue
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*GuildSession),
		newQueue: queue.New,
	}
}

// NewRegistryWithQueue creates a registry whose sessions use queues from the
// given constructor. Used by tests to inject a fake clock.
func NewRegistryWithQueue(newQueue func() *queue.TrackQueue) *Registry {
	return &Registry{
		sessions: make(map[string]*GuildSession),
		newQueue: newQueue,
	}
}

// Get returns the session for guildID, creating it on first access.
func (r *Registry) Get(guildID string) *GuildSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[guildID]
	if !ok {
		s = &GuildSession{Queue: r.newQueue()}
		r.sessions[guildID] = s
	}
	return s
}

// Len returns the number of sessions ever created.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
