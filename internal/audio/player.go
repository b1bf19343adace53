// Package audio handles audio decoding and playback using FFmpeg and Oto.
// The Player doubles as the jukebox host: it reports its position on a
// ticker and restarts the decoder at a new offset on Seek.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/austinkregel/local-media/jukeboxd/internal/jukebox"
	"github.com/austinkregel/local-media/jukeboxd/internal/media"
)

// ErrNotPlaying is returned by Seek when nothing is loaded.
var ErrNotPlaying = errors.New("not playing")

const (
	// DefaultTickInterval is how often the position is sampled and
	// reported to subscribers.
	DefaultTickInterval = 50 * time.Millisecond

	// mediaUpdateInterval throttles position pushes to the OS media
	// session; clients extrapolate between them.
	mediaUpdateInterval = 5 * time.Second

	// drainSlack lets the output buffer empty after the clock reaches the
	// end of the track.
	drainSlack = 250 * time.Millisecond
)

var (
	artNames       = []string{"folder", "cover", "album", "front", "Folder", "Cover"}
	artParentNames = []string{"folder", "Folder"}
	artExts        = []string{".jpg", ".png"}
)

// FindAlbumArt looks for cover art next to the track, then for folder art
// in the parent (artist) directory.
func FindAlbumArt(trackPath string) string {
	if trackPath == "" {
		return ""
	}
	dir := filepath.Dir(trackPath)
	if art := findArt(dir, artNames); art != "" {
		return art
	}
	return findArt(filepath.Dir(dir), artParentNames)
}

func findArt(dir string, names []string) string {
	for _, name := range names {
		for _, ext := range artExts {
			p := filepath.Join(dir, name+ext)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return ""
}

// PlaybackState represents the current state of the player
type PlaybackState string

const (
	StateStopped PlaybackState = "stopped"
	StatePlaying PlaybackState = "playing"
	StatePaused  PlaybackState = "paused"
)

// TrackMetadata describes the loaded track. TrackID and Kind identify it to
// the jukebox; the rest is for display.
type TrackMetadata struct {
	TrackID  string `json:"trackId,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Title    string `json:"title,omitempty"`
	Artist   string `json:"artist,omitempty"`
	Album    string `json:"album,omitempty"`
	Duration int64  `json:"duration,omitempty"` // milliseconds
	ArtPath  string `json:"artPath,omitempty"`
}

// Status represents the current playback status
type Status struct {
	State    PlaybackState  `json:"state"`
	Path     string         `json:"path,omitempty"`
	Position int64          `json:"position"` // milliseconds
	Duration int64          `json:"duration"` // milliseconds
	Volume   float64        `json:"volume"`
	Metadata *TrackMetadata `json:"metadata,omitempty"`
}

// TrackEndCallback is called when a track finishes playing naturally
type TrackEndCallback func(path string)

// QueueCallback is called for next/previous requests from OS media controls
type QueueCallback func()

// LoopCallback is called when the loop mode changes from OS media controls
type LoopCallback func(status media.LoopStatus)

// ShuffleCallback is called when shuffle is toggled from OS media controls
type ShuffleCallback func(enabled bool)

// Output is the interface for audio output backends
type Output interface {
	io.WriteCloser
	SampleRate() int
	Channels() int
	Pause()
	Resume()
	Stop()
	SetVolume(v float64)
}

// Decoder is the interface for audio decoders
type Decoder interface {
	Decode(ctx context.Context, path string, output Output, startMs int64) error
	Duration(path string) (time.Duration, error)
	Metadata(path string) (*FileMetadata, error)
	Close() error
}

// Options configures the audio backend.
type Options struct {
	SampleRate   int
	BufferMs     int
	TickInterval time.Duration
}

// Player handles audio playback
type Player struct {
	mu sync.RWMutex
	// playbackMu serializes anything that starts or restarts a stream.
	playbackMu sync.Mutex

	state        PlaybackState
	currentPath  string
	position     int64
	duration     int64
	volume       float64
	metadata     *TrackMetadata
	mediaSession media.Session

	sessionID     uint64
	sessionDone   chan struct{}
	cancelFunc    context.CancelFunc
	wasManualStop bool

	onTrackEnd TrackEndCallback
	onNext     QueueCallback
	onPrevious QueueCallback
	onLoop     LoopCallback
	onShuffle  ShuffleCallback

	subMu        sync.Mutex
	nextSub      int
	progressSubs map[int]func(int64)
	trackSubs    map[int]func(jukebox.Track)

	tick    time.Duration
	output  Output
	decoder Decoder
	log     zerolog.Logger
}

var _ jukebox.Host = (*Player)(nil)

// NewPlayer opens the audio device and locates ffmpeg.
func NewPlayer(mediaSession media.Session, opts Options) (*Player, error) {
	output, err := NewOtoOutputWithConfig(opts.SampleRate, opts.BufferMs)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio output: %w", err)
	}

	decoder, err := NewFFmpegDecoder()
	if err != nil {
		output.Close()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	return newPlayer(mediaSession, output, decoder, opts.TickInterval), nil
}

func newPlayer(mediaSession media.Session, output Output, decoder Decoder, tick time.Duration) *Player {
	if mediaSession == nil {
		mediaSession = media.NewNoOpSession()
	}
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	return &Player{
		state:        StateStopped,
		volume:       1.0,
		mediaSession: mediaSession,
		progressSubs: make(map[int]func(int64)),
		trackSubs:    make(map[int]func(jukebox.Track)),
		tick:         tick,
		output:       output,
		decoder:      decoder,
		log:          log.With().Str("component", "player").Logger(),
	}
}

// SetOnTrackEnd sets a callback to be called when a track finishes playing naturally
func (p *Player) SetOnTrackEnd(callback TrackEndCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrackEnd = callback
}

func (p *Player) SetOnNext(callback QueueCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onNext = callback
}

func (p *Player) SetOnPrevious(callback QueueCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onPrevious = callback
}

func (p *Player) SetOnLoop(callback LoopCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onLoop = callback
}

// SetOnShuffle sets the callback for shuffle changes from OS media controls
func (p *Player) SetOnShuffle(callback ShuffleCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onShuffle = callback
}

// Play starts playback of path from the beginning and announces the new
// track to track-change subscribers.
func (p *Player) Play(ctx context.Context, path string, metadata *TrackMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.playbackMu.Lock()
	var duration time.Duration
	if metadata != nil && metadata.Duration > 0 {
		duration = time.Duration(metadata.Duration) * time.Millisecond
	} else {
		d, err := p.decoder.Duration(path)
		if err != nil {
			p.playbackMu.Unlock()
			return fmt.Errorf("failed to get duration: %w", err)
		}
		duration = d
	}
	sessionID := p.startLocked(path, metadata, duration, 0, false)
	p.playbackMu.Unlock()

	p.publishMetadata(path, metadata, duration)
	if metadata == nil || (metadata.Title == "" && metadata.Artist == "") {
		go p.extractMetadata(path, metadata, sessionID)
	}

	p.notifyTrackChange(trackFor(path, metadata))
	return nil
}

// Seek restarts the stream at positionMs, keeping the paused state. It does
// not count as a track change.
func (p *Player) Seek(positionMs int64) error {
	p.playbackMu.Lock()

	p.mu.Lock()
	if p.state == StateStopped {
		p.mu.Unlock()
		p.playbackMu.Unlock()
		return ErrNotPlaying
	}
	positionMs = max(0, min(positionMs, p.duration))
	path := p.currentPath
	metadata := p.metadata
	duration := time.Duration(p.duration) * time.Millisecond
	paused := p.state == StatePaused
	p.mu.Unlock()

	p.log.Debug().Int64("position", positionMs).Str("path", path).Msg("seeking")
	p.startLocked(path, metadata, duration, positionMs, paused)
	p.playbackMu.Unlock()

	pos := time.Duration(positionMs) * time.Millisecond
	if err := p.mediaSession.NotifySeeked(pos); err != nil {
		p.log.Debug().Err(err).Msg("media session seek notification failed")
	}
	p.emitProgress(positionMs)
	return nil
}

// startLocked replaces whatever is playing with a new stream. The caller
// holds playbackMu.
func (p *Player) startLocked(path string, metadata *TrackMetadata, duration time.Duration, startMs int64, paused bool) uint64 {
	p.mu.Lock()
	if p.state != StateStopped {
		p.stopPlaybackLocked()
	}
	if oldDone := p.sessionDone; oldDone != nil {
		p.mu.Unlock()
		<-oldDone
		// Drop anything the old decoder wrote while shutting down.
		p.output.Stop()
		p.mu.Lock()
	}

	p.sessionID++
	sessionID := p.sessionID
	done := make(chan struct{})
	p.sessionDone = done

	p.currentPath = path
	p.metadata = metadata
	p.position = startMs
	p.duration = duration.Milliseconds()
	p.wasManualStop = false
	p.state = StatePlaying
	if paused {
		p.state = StatePaused
		p.output.Pause()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancelFunc = cancel

	mediaState := media.StatePlaying
	if paused {
		mediaState = media.StatePaused
	}
	p.mediaSession.UpdatePlaybackState(mediaState, time.Duration(startMs)*time.Millisecond)
	p.mu.Unlock()

	go func() {
		defer close(done)
		p.playbackLoop(ctx, path, startMs, sessionID)
	}()
	return sessionID
}

func (p *Player) playbackLoop(ctx context.Context, path string, startMs int64, sessionID uint64) {
	logger := p.log.With().Uint64("session", sessionID).Str("path", path).Logger()
	logger.Debug().Int64("startMs", startMs).Msg("playback started")

	ended := make(chan struct{})
	clockDone := make(chan struct{})
	clockExited := make(chan struct{})
	go func() {
		defer close(clockExited)
		p.trackPosition(ctx, sessionID, startMs, ended, clockDone)
	}()

	err := p.decoder.Decode(ctx, path, p.output, startMs)
	switch {
	case errors.Is(err, context.Canceled):
		logger.Debug().Msg("playback cancelled")
	case err != nil:
		logger.Error().Err(err).Msg("decode failed")
	default:
		// Decoding runs ahead of the speaker by the output buffer; wait for
		// the clock to catch up.
		select {
		case <-ctx.Done():
		case <-ended:
			select {
			case <-ctx.Done():
			case <-time.After(drainSlack):
			}
		}
	}

	close(clockDone)
	<-clockExited

	p.mu.Lock()
	if p.sessionID != sessionID || p.state == StateStopped {
		p.mu.Unlock()
		return
	}
	wasManual := p.wasManualStop
	callback := p.onTrackEnd

	p.state = StateStopped
	p.currentPath = ""
	p.position = 0
	p.mediaSession.UpdatePlaybackState(media.StateStopped, 0)
	p.mu.Unlock()

	logger.Info().Msg("track finished")
	if !wasManual && callback != nil {
		// The callback usually starts the next track, which waits for this
		// loop to exit.
		go callback(path)
	}
}

// trackPosition advances the position from the wall clock while playing,
// closes ended once it reaches the duration and reports every sample to
// progress subscribers.
func (p *Player) trackPosition(ctx context.Context, sessionID uint64, startMs int64, ended, done chan struct{}) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	elapsed := time.Duration(startMs) * time.Millisecond
	runStart := time.Now()
	lastMediaUpdate := time.Now()

	p.mu.RLock()
	running := p.state == StatePlaying
	p.mu.RUnlock()
	endedClosed := false

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		p.mu.Lock()
		if p.sessionID != sessionID {
			p.mu.Unlock()
			return
		}
		playing := p.state == StatePlaying
		switch {
		case playing && !running:
			runStart = time.Now()
			running = true
		case !playing && running:
			elapsed += time.Since(runStart)
			running = false
		}
		if !running {
			p.mu.Unlock()
			continue
		}

		pos := (elapsed + time.Since(runStart)).Milliseconds()
		if pos >= p.duration {
			pos = p.duration
			if !endedClosed {
				close(ended)
				endedClosed = true
			}
		}
		p.position = pos
		if time.Since(lastMediaUpdate) >= mediaUpdateInterval {
			p.mediaSession.UpdatePlaybackState(media.StatePlaying, time.Duration(pos)*time.Millisecond)
			lastMediaUpdate = time.Now()
		}
		p.mu.Unlock()

		p.emitProgress(pos)
	}
}

func (p *Player) publishMetadata(path string, metadata *TrackMetadata, duration time.Duration) {
	m := media.Metadata{Duration: duration}
	if metadata != nil {
		m.TrackID = metadata.TrackID
		m.Title = metadata.Title
		m.Artist = metadata.Artist
		m.Album = metadata.Album
		m.ArtPath = metadata.ArtPath
	}
	if m.ArtPath == "" {
		m.ArtPath = FindAlbumArt(path)
	}
	if err := p.mediaSession.UpdateMetadata(m); err != nil {
		p.log.Debug().Err(err).Msg("media session metadata update failed")
	}
}

// extractMetadata fills in display tags with ffprobe, keeping the caller's
// track identity.
func (p *Player) extractMetadata(path string, given *TrackMetadata, sessionID uint64) {
	fileMeta, err := p.decoder.Metadata(path)
	if err != nil {
		p.log.Warn().Err(err).Str("path", path).Msg("failed to extract metadata")
		return
	}

	md := &TrackMetadata{
		Title:    fileMeta.Title,
		Artist:   fileMeta.Artist,
		Album:    fileMeta.Album,
		Duration: fileMeta.Duration.Milliseconds(),
		ArtPath:  FindAlbumArt(path),
	}
	if given != nil {
		md.TrackID = given.TrackID
		md.Kind = given.Kind
	}

	p.mu.Lock()
	if p.sessionID != sessionID || p.currentPath != path {
		p.mu.Unlock()
		return
	}
	p.metadata = md
	duration := time.Duration(p.duration) * time.Millisecond
	p.mu.Unlock()

	p.log.Debug().Str("title", md.Title).Str("artist", md.Artist).Msg("extracted metadata")
	p.publishMetadata(path, md, duration)
}

// Pause pauses playback. Pausing when not playing is a no-op.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StatePlaying {
		return nil
	}
	p.state = StatePaused
	p.output.Pause()
	p.mediaSession.UpdatePlaybackState(media.StatePaused, time.Duration(p.position)*time.Millisecond)
	p.log.Debug().Int64("position", p.position).Msg("paused")
	return nil
}

// Resume resumes paused playback. Anything else is a no-op.
func (p *Player) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StatePaused {
		return nil
	}
	p.state = StatePlaying
	p.output.Resume()
	p.mediaSession.UpdatePlaybackState(media.StatePlaying, time.Duration(p.position)*time.Millisecond)
	p.log.Debug().Int64("position", p.position).Msg("resumed")
	return nil
}

// Stop stops playback
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateStopped {
		return nil
	}
	p.stopPlaybackLocked()
	return nil
}

func (p *Player) stopPlaybackLocked() {
	p.state = StateStopped
	p.wasManualStop = true

	if p.cancelFunc != nil {
		p.cancelFunc()
		p.cancelFunc = nil
	}
	p.output.Stop()
	p.mediaSession.UpdatePlaybackState(media.StateStopped, 0)

	p.currentPath = ""
	p.position = 0
	p.metadata = nil
}

// SetVolume sets the playback volume (0.0 - 1.0)
func (p *Player) SetVolume(volume float64) error {
	if volume < 0 || volume > 1 {
		return errors.New("volume must be between 0.0 and 1.0")
	}

	p.mu.Lock()
	p.volume = volume
	p.output.SetVolume(volume)
	p.mu.Unlock()
	return nil
}

// Status returns the current playback status
func (p *Player) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return Status{
		State:    p.state,
		Path:     p.currentPath,
		Position: p.position,
		Duration: p.duration,
		Volume:   p.volume,
		Metadata: p.metadata,
	}
}

// Position returns the last sampled position in milliseconds.
func (p *Player) Position() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.position
}

// CurrentTrack returns the loaded track; ok is false when stopped.
func (p *Player) CurrentTrack() (jukebox.Track, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.state == StateStopped {
		return jukebox.Track{}, false
	}
	return trackFor(p.currentPath, p.metadata), true
}

func trackFor(path string, metadata *TrackMetadata) jukebox.Track {
	t := jukebox.Track{Path: path, Kind: jukebox.KindMusic}
	if metadata != nil {
		t.ID = metadata.TrackID
		t.Title = metadata.Title
		if metadata.Kind != "" {
			t.Kind = jukebox.Kind(metadata.Kind)
		}
	}
	if t.Title == "" {
		base := filepath.Base(path)
		t.Title = base[:len(base)-len(filepath.Ext(base))]
	}
	return t
}

// SubscribeProgress registers fn for position samples. fn runs on the
// player's clock goroutine and must not block.
func (p *Player) SubscribeProgress(fn func(positionMs int64)) func() {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	id := p.nextSub
	p.nextSub++
	p.progressSubs[id] = fn
	return func() {
		p.subMu.Lock()
		delete(p.progressSubs, id)
		p.subMu.Unlock()
	}
}

// SubscribeTrackChange registers fn for every Play.
func (p *Player) SubscribeTrackChange(fn func(jukebox.Track)) func() {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	id := p.nextSub
	p.nextSub++
	p.trackSubs[id] = fn
	return func() {
		p.subMu.Lock()
		delete(p.trackSubs, id)
		p.subMu.Unlock()
	}
}

func (p *Player) emitProgress(pos int64) {
	p.subMu.Lock()
	subs := make([]func(int64), 0, len(p.progressSubs))
	for _, fn := range p.progressSubs {
		subs = append(subs, fn)
	}
	p.subMu.Unlock()

	for _, fn := range subs {
		fn(pos)
	}
}

func (p *Player) notifyTrackChange(t jukebox.Track) {
	p.subMu.Lock()
	subs := make([]func(jukebox.Track), 0, len(p.trackSubs))
	for _, fn := range p.trackSubs {
		subs = append(subs, fn)
	}
	p.subMu.Unlock()

	for _, fn := range subs {
		fn(t)
	}
}

// Close releases all resources
func (p *Player) Close() error {
	p.mu.Lock()
	if p.state != StateStopped {
		p.stopPlaybackLocked()
	}
	p.mu.Unlock()

	var errs []error
	if err := p.decoder.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := p.output.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// UpdateLoopStatus updates the loop/repeat mode in the OS media session
func (p *Player) UpdateLoopStatus(status media.LoopStatus) error {
	return p.mediaSession.UpdateLoopStatus(status)
}

// UpdateShuffle updates the shuffle state in the OS media session
func (p *Player) UpdateShuffle(enabled bool) error {
	return p.mediaSession.UpdateShuffle(enabled)
}

// OnCommand implements media.CommandHandler for OS media controls.
func (p *Player) OnCommand(cmd media.Command, data interface{}) error {
	if cmd != media.CmdSeek {
		p.log.Debug().Str("command", cmd.String()).Msg("media command")
	}

	switch cmd {
	case media.CmdPlay:
		return p.Resume()

	case media.CmdPause:
		return p.Pause()

	case media.CmdPlayPause:
		p.mu.RLock()
		state := p.state
		p.mu.RUnlock()
		if state == StatePlaying {
			return p.Pause()
		}
		return p.Resume()

	case media.CmdStop:
		return p.Stop()

	case media.CmdNext, media.CmdPrevious:
		p.mu.RLock()
		callback := p.onNext
		if cmd == media.CmdPrevious {
			callback = p.onPrevious
		}
		p.mu.RUnlock()
		if callback != nil {
			callback()
		}
		return nil

	case media.CmdSeek:
		if pos, ok := data.(time.Duration); ok {
			return p.Seek(pos.Milliseconds())
		}
		return nil

	case media.CmdSetLoopStatus:
		if status, ok := data.(media.LoopStatus); ok {
			p.mu.RLock()
			callback := p.onLoop
			p.mu.RUnlock()
			if callback != nil {
				callback(status)
			}
		}
		return nil

	case media.CmdSetShuffle:
		if enabled, ok := data.(bool); ok {
			p.mu.RLock()
			callback := p.onShuffle
			p.mu.RUnlock()
			if callback != nil {
				callback(enabled)
			}
		}
		return nil
	}
	return nil
}
