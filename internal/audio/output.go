package audio

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/hajimehoshi/oto/v2"
)

const (
	DefaultSampleRate = 44100
	DefaultBufferMs   = 100

	defaultChannels = 2
	bytesPerSample  = 2 // s16le
)

// OtoOutput plays PCM written by the decoder through an oto player.
// Writes block once bufferMs of audio is queued so decoding runs at
// playback speed and seeks take effect quickly.
type OtoOutput struct {
	context    *oto.Context
	player     oto.Player
	sampleRate int
	channels   int
	maxBuffer  int

	mu     sync.Mutex
	cond   *sync.Cond
	buffer *bytes.Buffer
	volume float64
	paused bool
	closed bool

	// epoch changes on Stop so writers blocked on a full buffer drop
	// audio from the previous stream.
	epoch uint64
}

// NewOtoOutput creates an output with the default rate and buffer.
func NewOtoOutput() (*OtoOutput, error) {
	return NewOtoOutputWithConfig(DefaultSampleRate, DefaultBufferMs)
}

// NewOtoOutputWithConfig creates a stereo output at sampleRate holding at
// most bufferMs of queued audio.
func NewOtoOutputWithConfig(sampleRate, bufferMs int) (*OtoOutput, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if bufferMs <= 0 {
		bufferMs = DefaultBufferMs
	}

	ctx, ready, err := oto.NewContext(sampleRate, defaultChannels, bytesPerSample)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	o := newOutput(sampleRate, defaultChannels, bufferMs)
	o.context = ctx
	o.player = ctx.NewPlayer(o)
	return o, nil
}

func newOutput(sampleRate, channels, bufferMs int) *OtoOutput {
	o := &OtoOutput{
		sampleRate: sampleRate,
		channels:   channels,
		maxBuffer:  bufferBytes(sampleRate, channels, bufferMs),
		buffer:     &bytes.Buffer{},
		volume:     1.0,
	}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// bufferBytes is the size of bufferMs of PCM, rounded down to whole frames.
func bufferBytes(sampleRate, channels, bufferMs int) int {
	frame := channels * bytesPerSample
	frames := sampleRate * bufferMs / 1000
	if frames < 1 {
		frames = 1
	}
	return frames * frame
}

// Read feeds the oto player. It blocks while paused and returns silence
// when the decoder has fallen behind.
func (o *OtoOutput) Read(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for o.paused && !o.closed {
		o.cond.Wait()
	}
	if o.closed {
		return 0, io.EOF
	}

	if o.buffer.Len() == 0 {
		clear(p)
		return len(p), nil
	}

	n, err := o.buffer.Read(p)
	if n > 0 {
		o.applyVolume(p[:n])
		o.cond.Broadcast()
	}
	return n, err
}

// applyVolume scales little-endian 16-bit samples in place.
func (o *OtoOutput) applyVolume(data []byte) {
	vol := o.volume
	if vol >= 1.0 {
		return
	}
	for i := 0; i+1 < len(data); i += 2 {
		sample := int16(data[i]) | int16(data[i+1])<<8
		scaled := int16(float64(sample) * vol)
		data[i] = byte(scaled)
		data[i+1] = byte(scaled >> 8)
	}
}

// SetVolume sets the playback volume, clamped to [0, 1].
func (o *OtoOutput) SetVolume(v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.volume = max(0, min(1, v))
}

func (o *OtoOutput) GetVolume() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.volume
}

// Write queues PCM, waiting while the buffer is full. Data written across
// a Stop is discarded. The oto player pulls through Read on Play, so it is
// started after the lock is released.
func (o *OtoOutput) Write(data []byte) (int, error) {
	o.mu.Lock()
	epoch := o.epoch
	for o.buffer.Len() >= o.maxBuffer && !o.closed && o.epoch == epoch {
		o.cond.Wait()
	}
	if o.closed {
		o.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if o.epoch != epoch {
		o.mu.Unlock()
		return len(data), nil
	}

	n, err := o.buffer.Write(data)
	start := err == nil && !o.paused
	o.mu.Unlock()

	if start {
		o.play()
	}
	return n, err
}

func (o *OtoOutput) play() {
	if o.player != nil && !o.player.IsPlaying() {
		o.player.Play()
	}
}

// Buffered returns the number of queued bytes.
func (o *OtoOutput) Buffered() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buffer.Len()
}

func (o *OtoOutput) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.paused = true
	if o.player != nil && o.player.IsPlaying() {
		o.player.Pause()
	}
}

func (o *OtoOutput) Resume() {
	o.mu.Lock()
	o.paused = false
	o.cond.Broadcast()
	o.mu.Unlock()

	o.play()
}

// Stop drops queued audio and releases blocked writers.
func (o *OtoOutput) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.paused = false
	o.epoch++
	if o.player != nil {
		o.player.Pause()
	}
	o.buffer.Reset()
	o.cond.Broadcast()
}

func (o *OtoOutput) IsPlaying() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.player != nil && o.player.IsPlaying()
}

func (o *OtoOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closed = true
	o.cond.Broadcast()
	if o.player != nil {
		return o.player.Close()
	}
	return nil
}

func (o *OtoOutput) SampleRate() int { return o.sampleRate }

func (o *OtoOutput) Channels() int { return o.channels }

var (
	_ io.Reader = (*OtoOutput)(nil)
	_ Output    = (*OtoOutput)(nil)
)
