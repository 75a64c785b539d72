package stream

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"layeh.com/gopus"
)

// Sink is the bridge between a Source and the live voice transport. A source
// can be replaced in place without a stop/start gap; the completion callback
// fires exactly once per started source, from the audio goroutine, when the
// source drains (nil) or fails (the read error).
type Sink interface {
	Start(src Source, onComplete func(error)) error
	Replace(src Source)
	Pause()
	Resume()
	Stop()
	IsPlaying() bool
	IsPaused() bool
}

// VoiceSink encodes PCM frames to opus and feeds them to a discordgo voice
// connection.
type VoiceSink struct {
	mu   sync.Mutex
	cond *sync.Cond

	vc         *discordgo.VoiceConnection
	src        Source
	onComplete func(error)
	playing    bool
	paused     bool
	gen        int
	stop       chan struct{}

	log zerolog.Logger
}

// NewVoiceSink creates a sink with no connection bound yet.
func NewVoiceSink(log zerolog.Logger) *VoiceSink {
	s := &VoiceSink{log: log}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// SetConnection binds the live voice connection the send loop writes to.
func (s *VoiceSink) SetConnection(vc *discordgo.VoiceConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vc = vc
}

// Start begins streaming src. onComplete is invoked from the audio goroutine
// when the source ends; callers must hop back onto their own scheduler before
// touching shared state.
func (s *VoiceSink) Start(src Source, onComplete func(error)) error {
	s.mu.Lock()
	if s.vc == nil {
		s.mu.Unlock()
		return errors.New("no voice connection bound")
	}
	if s.playing {
		s.mu.Unlock()
		return errors.New("sink already started")
	}
	s.src = src
	s.onComplete = onComplete
	s.playing = true
	s.paused = false
	s.gen++
	s.stop = make(chan struct{})
	gen := s.gen
	vc := s.vc
	stop := s.stop
	s.mu.Unlock()

	if err := vc.Speaking(true); err != nil {
		s.log.Warn().Err(err).Msg("failed to set speaking state")
	}

	go s.run(gen, vc, stop)
	return nil
}

// Replace swaps the active source without interrupting the send loop. The
// previous source is cleaned up. Pause state is preserved.
func (s *VoiceSink) Replace(src Source) {
	s.mu.Lock()
	old := s.src
	s.src = src
	s.mu.Unlock()

	if old != nil && old != src {
		old.Cleanup()
	}
}

// Pause holds the send loop. The source stays open.
func (s *VoiceSink) Pause() {
	s.mu.Lock()
	s.paused = true
	vc := s.vc
	s.mu.Unlock()
	if vc != nil {
		_ = vc.Speaking(false)
	}
}

// Resume releases a paused send loop.
func (s *VoiceSink) Resume() {
	s.mu.Lock()
	s.paused = false
	vc := s.vc
	s.mu.Unlock()
	s.cond.Broadcast()
	if vc != nil {
		_ = vc.Speaking(true)
	}
}

// Stop ends playback without firing the completion callback.
func (s *VoiceSink) Stop() {
	s.mu.Lock()
	src := s.src
	s.src = nil
	s.onComplete = nil
	s.playing = false
	s.paused = false
	s.gen++
	vc := s.vc
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()
	s.cond.Broadcast()
	if stop != nil {
		close(stop)
	}

	if src != nil {
		src.Cleanup()
	}
	if vc != nil {
		_ = vc.Speaking(false)
	}
}

// IsPlaying reports whether a source is being streamed and not paused.
func (s *VoiceSink) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing && !s.paused
}

// IsPaused reports whether a source is active but held.
func (s *VoiceSink) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing && s.paused
}

// run is the send loop: read a 20ms PCM frame, opus-encode it, push it to the
// voice connection. It exits when the generation token changes (Stop or a new
// Start) or when the active source ends. The stop channel unblocks a send in
// flight on a connection nobody drains anymore.
func (s *VoiceSink) run(gen int, vc *discordgo.VoiceConnection, stop <-chan struct{}) {
	encoder, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		s.finish(gen, err)
		return
	}

	pcmBuf := make([]byte, frameSize*channels*2)
	intBuf := make([]int16, frameSize*channels)

	for {
		s.mu.Lock()
		for s.paused && s.playing && s.gen == gen {
			s.cond.Wait()
		}
		if !s.playing || s.gen != gen {
			s.mu.Unlock()
			return
		}
		src := s.src
		s.mu.Unlock()

		_, err := io.ReadFull(src, pcmBuf)
		if err != nil {
			s.mu.Lock()
			replaced := s.src != src
			stopped := !s.playing || s.gen != gen
			s.mu.Unlock()
			if stopped {
				return
			}
			if replaced {
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				s.finish(gen, nil)
			} else {
				s.finish(gen, err)
			}
			return
		}

		for i := range intBuf {
			intBuf[i] = int16(binary.LittleEndian.Uint16(pcmBuf[i*2 : i*2+2]))
		}

		opus, err := encoder.Encode(intBuf, frameSize, len(pcmBuf))
		if err != nil {
			s.finish(gen, err)
			return
		}

		select {
		case vc.OpusSend <- opus:
		case <-stop:
			return
		}
	}
}

// finish tears down the active source and fires the completion callback once.
func (s *VoiceSink) finish(gen int, err error) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	src := s.src
	cb := s.onComplete
	s.src = nil
	s.onComplete = nil
	s.playing = false
	s.paused = false
	s.mu.Unlock()

	if src != nil {
		src.Cleanup()
	}
	if cb != nil {
		cb(err)
	}
}
