// Package stream owns the audio path: building decoded PCM sources from a
// track's stream URL and pushing them into a live voice connection.
package stream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

const (
	channels   = 2
	sampleRate = 48000
	frameSize  = 960 // 20ms at 48kHz
)

// ErrStreamTimeout is returned when the decoder produced no data within the
// configured ceiling.
var ErrStreamTimeout = errors.New("stream produced no data before timeout")

// Source is a decoded PCM audio stream. Read yields s16le 48kHz stereo
// samples; Cleanup releases the underlying process or handle and is safe to
// call more than once.
type Source interface {
	Read(p []byte) (int, error)
	Cleanup()
}

// FFmpegSource decodes a remote audio URL through an ffmpeg subprocess.
type FFmpegSource struct {
	cmd *exec.Cmd
	out io.ReadCloser
	br  *bufio.Reader

	cleanupOnce sync.Once
}

// NewFFmpegSource spawns ffmpeg against streamURL and waits until it has
// produced its first bytes, up to timeout. On timeout the subprocess is
// killed and ErrStreamTimeout returned.
func NewFFmpegSource(streamURL string, timeout time.Duration) (*FFmpegSource, error) {
	cmd := exec.Command("ffmpeg",
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		"-fflags", "+discardcorrupt",
		"-i", streamURL,
		"-vn",
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-ac", fmt.Sprintf("%d", channels),
		"-loglevel", "warning",
		"pipe:1",
	)

	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe error: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start error: %w", err)
	}

	s := &FFmpegSource{
		cmd: cmd,
		out: out,
		br:  bufio.NewReaderSize(out, frameSize*channels*2*4),
	}

	if err := s.waitReady(timeout); err != nil {
		s.Cleanup()
		return nil, err
	}
	return s, nil
}

// waitReady blocks until the decoder has buffered at least one byte, so
// playback never starts against an empty stream.
func (s *FFmpegSource) waitReady(timeout time.Duration) error {
	ready := make(chan error, 1)
	go func() {
		_, err := s.br.Peek(1)
		ready <- err
	}()

	select {
	case err := <-ready:
		if err != nil {
			return fmt.Errorf("ffmpeg produced no data: %w", err)
		}
		return nil
	case <-time.After(timeout):
		return ErrStreamTimeout
	}
}

func (s *FFmpegSource) Read(p []byte) (int, error) {
	return s.br.Read(p)
}

// Cleanup kills the ffmpeg subprocess and reaps it.
func (s *FFmpegSource) Cleanup() {
	s.cleanupOnce.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.out.Close()
		go func() { _ = s.cmd.Wait() }()
	})
}
