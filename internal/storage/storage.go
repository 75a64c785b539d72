// Package storage persists per-guild bot state: the played-track history and
// the command log. Queue contents are deliberately not persisted; a restart
// starts every guild from a clean slate.
package storage

import (
	"fmt"
	"time"

	"github.com/Aufinal/WoolooBot/datastore"
	"github.com/Aufinal/WoolooBot/internal/music/track"
)

const (
	commandHistoryLimit = 20
	tracksHistoryLimit  = 12
)

// Storage wraps the datastore with guild-keyed records.
type Storage struct {
	ds *datastore.DataStore
}

// TrackRecord is one played-track history entry.
type TrackRecord struct {
	Title         string    `json:"title"`
	URL           string    `json:"url"`
	DurationSec   int       `json:"duration_sec"`
	RequesterID   string    `json:"requester_id"`
	RequesterName string    `json:"requester_name"`
	PlayedAt      time.Time `json:"played_at"`
}

// CommandRecord is one command log entry.
type CommandRecord struct {
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Command   string    `json:"command"`
	Param     string    `json:"param"`
	Datetime  time.Time `json:"datetime"`
}

// Record is everything stored for one guild.
type Record struct {
	TrackHistory   []TrackRecord   `json:"track_history"`
	CommandHistory []CommandRecord `json:"cmd_history"`
}

// New opens the store at filePath.
func New(filePath string) (*Storage, error) {
	ds, err := datastore.New(filePath)
	if err != nil {
		return nil, err
	}
	return &Storage{ds: ds}, nil
}

// NewWithDataStore wraps an already-open datastore.
func NewWithDataStore(ds *datastore.DataStore) *Storage {
	return &Storage{ds: ds}
}

// Close flushes and closes the underlying store.
func (s *Storage) Close() error {
	return s.ds.Close()
}

func (s *Storage) guildRecord(guildID string) (*Record, error) {
	var record Record
	found, err := s.ds.Get(guildID, &record)
	if err != nil {
		return nil, fmt.Errorf("load guild record: %w", err)
	}
	if !found {
		return &Record{}, nil
	}
	return &record, nil
}

// AppendTrackToHistory records a track that started playing, keeping only the
// most recent entries.
func (s *Storage) AppendTrackToHistory(guildID string, t *track.Track) error {
	record, err := s.guildRecord(guildID)
	if err != nil {
		return err
	}
	record.TrackHistory = append(record.TrackHistory, TrackRecord{
		Title:         t.Title,
		URL:           t.URL,
		DurationSec:   int(t.Duration.Seconds()),
		RequesterID:   t.RequesterID,
		RequesterName: t.RequesterName,
		PlayedAt:      time.Now(),
	})
	if n := len(record.TrackHistory); n > tracksHistoryLimit {
		record.TrackHistory = record.TrackHistory[n-tracksHistoryLimit:]
	}
	return s.ds.Set(guildID, record)
}

// FetchTrackHistory returns the guild's recent tracks, oldest first.
func (s *Storage) FetchTrackHistory(guildID string) ([]TrackRecord, error) {
	record, err := s.guildRecord(guildID)
	if err != nil {
		return nil, err
	}
	return record.TrackHistory, nil
}

// AppendCommandToHistory records one executed command, keeping only the most
// recent entries.
func (s *Storage) AppendCommandToHistory(guildID string, cmd CommandRecord) error {
	record, err := s.guildRecord(guildID)
	if err != nil {
		return err
	}
	record.CommandHistory = append(record.CommandHistory, cmd)
	if n := len(record.CommandHistory); n > commandHistoryLimit {
		record.CommandHistory = record.CommandHistory[n-commandHistoryLimit:]
	}
	return s.ds.Set(guildID, record)
}

// FetchCommandHistory returns the guild's recent commands, oldest first.
func (s *Storage) FetchCommandHistory(guildID string) ([]CommandRecord, error) {
	record, err := s.guildRecord(guildID)
	if err != nil {
		return nil, err
	}
	return record.CommandHistory, nil
}

// Record implements the player history hook.
func (s *Storage) Record(guildID string, t *track.Track) {
	_ = s.AppendTrackToHistory(guildID, t)
}
