package voice

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"layeh.com/gopus"

	"github.com/ataka/medley/internal/app/scheduler"
	"github.com/ataka/medley/internal/domain/track"
)

// Discord voice expects 48 kHz stereo opus in 20 ms frames.
const (
	sampleRate   = 48000
	channelCount = 2
	frameSamples = 960
	maxOpusBytes = frameSamples * channelCount * 2
	sendTimeout  = 5 * time.Second
)

// Engine streams one source at a time: ffmpeg decodes to raw PCM on a pipe,
// gopus encodes frame by frame, and the frames go out over the voice
// connection's opus channel.
type Engine struct {
	transport  *Transport
	ffmpegPath string

	mu     sync.Mutex
	cancel context.CancelFunc // non-nil while a stream is active
	paused bool
}

// NewEngine creates an engine bound to the guild's transport.
func NewEngine(transport *Transport, ffmpegPath string) *Engine {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Engine{transport: transport, ffmpegPath: ffmpegPath}
}

// Connected reports whether the underlying transport is connected.
func (e *Engine) Connected() bool {
	return e.transport.Connected()
}

// Play starts streaming the source. After a nil return the engine invokes
// done exactly once, from the streaming goroutine, when playback ends.
func (e *Engine) Play(src *track.Source, done func(scheduler.Result)) error {
	vc := e.transport.conn()
	if vc == nil {
		return scheduler.ErrNotConnected
	}

	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		return errors.New("engine already streaming")
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.paused = false
	e.mu.Unlock()

	cmd := exec.CommandContext(ctx, e.ffmpegPath, ffmpegArgs(src.StreamURL)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		e.reset()
		return errors.Wrap(err, "ffmpeg stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		e.reset()
		return errors.Wrapf(err, "failed to start %s", e.ffmpegPath)
	}

	var once sync.Once
	finish := func(res scheduler.Result) {
		once.Do(func() {
			cancel()
			_ = cmd.Wait()
			e.reset()
			done(res)
		})
	}

	go e.stream(ctx, vc, stdout, src.Track, finish)
	return nil
}

// Stop interrupts the active stream. The interruption surfaces through the
// completion callback of the running Play. No-op when idle.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Pause suspends frame delivery without touching the ffmpeg process.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel == nil || e.paused {
		return scheduler.ErrNotPlaying
	}
	e.paused = true
	return nil
}

// Resume restarts frame delivery.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.paused {
		return scheduler.ErrNotPaused
	}
	e.paused = false
	return nil
}

func (e *Engine) reset() {
	e.mu.Lock()
	e.cancel = nil
	e.paused = false
	e.mu.Unlock()
}

func (e *Engine) isPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// stream pumps PCM frames from ffmpeg into the voice connection until the
// input ends, the context is cancelled or the transport stops accepting.
func (e *Engine) stream(ctx context.Context, vc *discordgo.VoiceConnection, pcm io.Reader, t track.Track, finish func(scheduler.Result)) {
	encoder, err := gopus.NewEncoder(sampleRate, channelCount, gopus.Audio)
	if err != nil {
		finish(scheduler.Result{Err: errors.Wrap(err, "opus encoder")})
		return
	}

	if err := vc.Speaking(true); err != nil {
		// The speaking toggle only fails when the websocket is gone.
		zlog.Warn().Msgf("voice: speaking toggle failed: track=%s err=%v", t.Title, err)
		finish(scheduler.Result{Err: scheduler.ErrTransportLost})
		return
	}
	defer func() { _ = vc.Speaking(false) }()

	reader := bufio.NewReaderSize(pcm, maxOpusBytes*4)
	frame := make([]int16, frameSamples*channelCount)

	for {
		if ctx.Err() != nil {
			finish(scheduler.Result{Interrupted: true})
			return
		}
		if e.isPaused() {
			select {
			case <-ctx.Done():
				finish(scheduler.Result{Interrupted: true})
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		err := binary.Read(reader, binary.LittleEndian, &frame)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			finish(scheduler.Result{})
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				finish(scheduler.Result{Interrupted: true})
				return
			}
			finish(scheduler.Result{Err: errors.Wrapf(err, "pcm read for %q", t.Title)})
			return
		}

		opus, err := encoder.Encode(frame, frameSamples, maxOpusBytes)
		if err != nil {
			finish(scheduler.Result{Err: errors.Wrapf(err, "opus encode for %q", t.Title)})
			return
		}

		select {
		case vc.OpusSend <- opus:
		case <-ctx.Done():
			finish(scheduler.Result{Interrupted: true})
			return
		case <-time.After(sendTimeout):
			// The voice connection stopped draining frames; treat it as gone.
			zlog.Warn().Msgf("voice: opus send stalled, assuming transport lost: track=%s", t.Title)
			finish(scheduler.Result{Err: scheduler.ErrTransportLost})
			return
		}
	}
}

// ffmpegArgs builds the decode pipeline arguments. The reconnect flags keep
// long tracks alive across transient CDN drops.
func ffmpegArgs(inputURL string) []string {
	return []string{
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		"-i", inputURL,
		"-vn",
		"-f", "s16le",
		"-ar", "48000",
		"-ac", "2",
		"-loglevel", "warning",
		"pipe:1",
	}
}
