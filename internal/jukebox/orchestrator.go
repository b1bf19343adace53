package jukebox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/austinkregel/local-media/jukeboxd/internal/graph"
)

// ErrClosed is returned when the orchestrator loop is no longer running.
var ErrClosed = errors.New("jukebox orchestrator closed")

const eventBuffer = 64

// Config wires an Orchestrator to its host.
type Config struct {
	Host     Host
	Provider AnalysisProvider
	Settings SettingsStore
	Notifier Notifier

	// Enabled starts the jukebox as soon as Run is called.
	Enabled bool

	DriverOptions []DriverOption
}

// Status is a point-in-time view of the jukebox for observers.
type Status struct {
	Enabled         bool        `json:"enabled"`
	Loading         bool        `json:"loading"`
	SessionID       string      `json:"sessionId,omitempty"`
	Track           *Track      `json:"track,omitempty"`
	State           string      `json:"state"`
	Beat            int         `json:"beat"`
	Beats           int         `json:"beats"`
	Branches        int         `json:"branches"`
	BeatsPlayed     int         `json:"beatsPlayed"`
	BranchChance    float64     `json:"branchChance"`
	LastBranchPoint int         `json:"lastBranchPoint"`
	LongestReach    float64     `json:"longestReach"`
	Threshold       float64     `json:"threshold"`
	Position        int64       `json:"position"`
	Branch          *graph.Edge `json:"branch,omitempty"`
	Error           string      `json:"error,omitempty"`
}

// Observer receives status updates. It is called from the orchestrator
// loop and must not block.
type Observer func(Status)

// GraphSnapshot is a copy of the current session's graph.
type GraphSnapshot struct {
	SessionID       string       `json:"sessionId"`
	Beats           []graph.Beat `json:"beats"`
	Branches        []graph.Edge `json:"branches"`
	LastBranchPoint int          `json:"lastBranchPoint"`
	LongestReach    float64      `json:"longestReach"`
	Threshold       float64      `json:"threshold"`
}

type eventKind int

const (
	evProgress eventKind = iota
	evTrackChange
	evEnable
	evDisable
	evSettings
	evBounce
	evSessionReady
	evGraph
)

type event struct {
	kind     eventKind
	position int64
	track    Track
	settings Settings
	on       bool

	gen  uint64
	song *SongState
	err  error

	reply      chan error
	graphReply chan *GraphSnapshot
}

// Orchestrator owns the jukebox session lifecycle. All session state lives
// on the goroutine running Run; other methods post events to it.
type Orchestrator struct {
	cfg    Config
	events chan event
	done   chan struct{}
	log    zerolog.Logger

	// Loop-owned.
	ctx           context.Context
	enabled       bool
	gen           uint64
	track         *Track
	song          *SongState
	driver        *Driver
	cancelFetch   context.CancelFunc
	unsubProgress func()
	unsubTrack    func()

	mu        sync.RWMutex
	status    Status
	observers map[int]Observer
	nextObs   int
}

// New creates an orchestrator. Call Run to start it.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		events:    make(chan event, eventBuffer),
		done:      make(chan struct{}),
		log:       log.With().Str("component", "jukebox").Logger(),
		status:    Status{State: StateIdle.String(), Beat: -1},
		observers: make(map[int]Observer),
	}
}

// Run processes events until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer close(o.done)
	o.ctx = ctx

	if o.cfg.Enabled {
		o.enable()
	}

	for {
		select {
		case <-ctx.Done():
			o.disable()
			return ctx.Err()
		case ev := <-o.events:
			o.handle(ev)
		}
	}
}

// Enable starts following the host player.
func (o *Orchestrator) Enable() error {
	return o.send(event{kind: evEnable})
}

// Disable stops the current session and unsubscribes from the host.
func (o *Orchestrator) Disable() error {
	return o.send(event{kind: evDisable})
}

// SetEnabled enables or disables the jukebox.
func (o *Orchestrator) SetEnabled(on bool) error {
	if on {
		return o.Enable()
	}
	return o.Disable()
}

// SetBouncing toggles bouncing on the current session.
func (o *Orchestrator) SetBouncing(on bool) error {
	return o.send(event{kind: evBounce, on: on})
}

// ApplySettings persists s and rebuilds the current session with it.
func (o *Orchestrator) ApplySettings(s Settings) error {
	reply := make(chan error, 1)
	if err := o.send(event{kind: evSettings, settings: s.Normalize(), reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-o.done:
		return ErrClosed
	}
}

// Graph returns a copy of the current session's graph, or nil when no
// session is active.
func (o *Orchestrator) Graph(ctx context.Context) (*GraphSnapshot, error) {
	reply := make(chan *GraphSnapshot, 1)
	if err := o.send(event{kind: evGraph, graphReply: reply}); err != nil {
		return nil, err
	}
	select {
	case g := <-reply:
		return g, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-o.done:
		return nil, ErrClosed
	}
}

// Status returns the latest status.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

// Subscribe registers an observer and returns a function that removes it.
func (o *Orchestrator) Subscribe(fn Observer) func() {
	o.mu.Lock()
	id := o.nextObs
	o.nextObs++
	o.observers[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.observers, id)
		o.mu.Unlock()
	}
}

func (o *Orchestrator) send(ev event) error {
	select {
	case o.events <- ev:
		return nil
	case <-o.done:
		return ErrClosed
	}
}

// sendProgress drops the report when the loop is behind; the next tick
// supersedes it.
func (o *Orchestrator) sendProgress(position int64) {
	select {
	case o.events <- event{kind: evProgress, position: position}:
	default:
	}
}

func (o *Orchestrator) handle(ev event) {
	switch ev.kind {
	case evProgress:
		if o.driver != nil {
			o.driver.Update(ev.position)
		}
	case evTrackChange:
		if o.enabled {
			o.startSession(ev.track)
		}
	case evEnable:
		o.enable()
	case evDisable:
		o.disable()
	case evBounce:
		if o.driver != nil {
			o.driver.SetBouncing(ev.on)
		}
	case evSettings:
		ev.reply <- o.applySettings(ev.settings)
	case evSessionReady:
		o.sessionReady(ev)
	case evGraph:
		ev.graphReply <- o.snapshotGraph()
	}
}

func (o *Orchestrator) enable() {
	if o.enabled {
		return
	}
	o.enabled = true
	o.unsubTrack = o.cfg.Host.SubscribeTrackChange(func(t Track) {
		_ = o.send(event{kind: evTrackChange, track: t})
	})
	o.log.Info().Msg("jukebox enabled")

	if t, ok := o.cfg.Host.CurrentTrack(); ok {
		o.startSession(t)
		return
	}
	o.publish(func(s *Status) { *s = Status{Enabled: true, State: StateIdle.String(), Beat: -1} })
}

func (o *Orchestrator) disable() {
	if !o.enabled {
		return
	}
	o.teardown()
	if o.unsubTrack != nil {
		o.unsubTrack()
		o.unsubTrack = nil
	}
	o.enabled = false
	o.track = nil
	o.log.Info().Msg("jukebox disabled")
	o.publish(func(s *Status) { *s = Status{State: StateIdle.String(), Beat: -1} })
}

func (o *Orchestrator) applySettings(s Settings) error {
	if o.cfg.Settings != nil {
		if err := o.cfg.Settings.SaveJukeboxSettings(s); err != nil {
			return fmt.Errorf("failed to save jukebox settings: %w", err)
		}
	}
	if o.enabled && o.track != nil {
		o.log.Info().Msg("settings changed, rebuilding session")
		o.startSession(*o.track)
	}
	return nil
}

func (o *Orchestrator) loadSettings() Settings {
	if o.cfg.Settings == nil {
		return DefaultSettings()
	}
	s, ok, err := o.cfg.Settings.LoadJukeboxSettings()
	if err != nil {
		o.log.Warn().Err(err).Msg("failed to load settings, using defaults")
		return DefaultSettings()
	}
	if !ok {
		return DefaultSettings()
	}
	return s.Normalize()
}

// admit rejects tracks the jukebox cannot work with.
func (o *Orchestrator) admit(t Track) error {
	if t.Kind != "" && t.Kind != KindMusic {
		return fmt.Errorf("%s: %w", t.Kind, ErrUnsupportedTrack)
	}
	if t.IsLocal() {
		checker, ok := o.cfg.Provider.(LocalAnalysisChecker)
		if !ok || !checker.HasLocalAnalysis(t) {
			return ErrLocalTrack
		}
	}
	return nil
}

func (o *Orchestrator) startSession(t Track) {
	o.teardown()
	o.gen++
	o.track = &t

	if err := o.admit(t); err != nil {
		o.reject(t, err)
		return
	}

	settings := o.loadSettings()
	ctx, cancel := context.WithCancel(o.ctx)
	o.cancelFetch = cancel
	gen := o.gen

	o.publish(func(s *Status) {
		*s = Status{Enabled: true, Loading: true, Track: &t, State: StateIdle.String(), Beat: -1}
	})
	o.log.Debug().Str("track", t.Path).Str("id", t.ID).Msg("loading analysis")

	go func() {
		song, err := o.build(ctx, t, settings)
		_ = o.send(event{kind: evSessionReady, gen: gen, song: song, err: err, track: t})
	}()
}

func (o *Orchestrator) build(ctx context.Context, t Track, s Settings) (*SongState, error) {
	a, err := o.cfg.Provider.Fetch(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch analysis: %w", err)
	}
	if a == nil {
		return nil, ErrNoAnalysis
	}
	song, err := BuildSong(t, a, s)
	if err != nil {
		return nil, fmt.Errorf("failed to build graph: %w", err)
	}
	return song, nil
}

func (o *Orchestrator) sessionReady(ev event) {
	if ev.gen != o.gen || !o.enabled {
		return
	}
	o.cancelFetch = nil
	if ev.err != nil {
		if errors.Is(ev.err, context.Canceled) {
			return
		}
		o.reject(ev.track, ev.err)
		return
	}

	song := ev.song
	opts := append([]DriverOption{}, o.cfg.DriverOptions...)
	opts = append(opts, WithProgress(o.driverProgress))

	o.song = song
	o.driver = NewDriver(song, o.seek, opts...)
	o.driver.Start()
	o.unsubProgress = o.cfg.Host.SubscribeProgress(o.sendProgress)

	g := song.Graph
	o.log.Info().
		Str("session", song.ID).
		Str("track", ev.track.Path).
		Int("beats", g.Len()).
		Int("branches", len(g.Branches())).
		Int("lastBranchPoint", g.LastBranchPoint).
		Float64("longestReach", g.LongestReach).
		Msg("jukebox session started")

	o.publish(func(s *Status) {
		t := ev.track
		*s = Status{
			Enabled:         true,
			SessionID:       song.ID,
			Track:           &t,
			State:           o.driver.State().String(),
			Beat:            -1,
			Beats:           g.Len(),
			Branches:        len(g.Branches()),
			BranchChance:    song.BranchChance,
			LastBranchPoint: g.LastBranchPoint,
			LongestReach:    g.LongestReach,
			Threshold:       g.ComputedMaxBranchDistance,
		}
	})

	o.driver.Update(o.cfg.Host.Position())
}

func (o *Orchestrator) reject(t Track, err error) {
	var msg string
	switch {
	case errors.Is(err, ErrUnsupportedTrack):
		msg = "Jukebox only works with music tracks"
	case errors.Is(err, ErrLocalTrack):
		msg = "Jukebox can't play local files without an analysis"
	default:
		msg = "Jukebox couldn't load an analysis for this track"
	}

	o.log.Warn().Err(err).Str("track", t.Path).Msg("jukebox unavailable for track")
	if o.cfg.Notifier != nil {
		o.cfg.Notifier.Show(msg)
	}
	o.publish(func(s *Status) {
		*s = Status{Enabled: true, Track: &t, State: StateIdle.String(), Beat: -1, Error: err.Error()}
	})
}

func (o *Orchestrator) teardown() {
	if o.cancelFetch != nil {
		o.cancelFetch()
		o.cancelFetch = nil
	}
	if o.unsubProgress != nil {
		o.unsubProgress()
		o.unsubProgress = nil
	}
	if o.driver != nil {
		o.driver.Stop()
		o.log.Debug().Str("session", o.song.ID).Int("beatsPlayed", o.song.BeatsPlayed).Msg("session ended")
	}
	o.driver = nil
	o.song = nil
}

// seek is handed to the Driver; the host seek runs off the loop.
func (o *Orchestrator) seek(target int64) {
	go func() {
		if err := o.cfg.Host.Seek(target); err != nil {
			o.log.Error().Err(err).Int64("target", target).Msg("seek failed")
		}
	}()
}

func (o *Orchestrator) driverProgress(p Progress) {
	o.publish(func(s *Status) {
		s.State = p.State
		s.Position = p.Position
		s.Beat = p.Beat
		s.Branch = p.Branch
		s.BeatsPlayed = p.BeatsPlayed
		s.BranchChance = p.BranchChance
	})
}

func (o *Orchestrator) publish(update func(*Status)) {
	o.mu.Lock()
	update(&o.status)
	status := o.status
	observers := make([]Observer, 0, len(o.observers))
	for _, fn := range o.observers {
		observers = append(observers, fn)
	}
	o.mu.Unlock()

	for _, fn := range observers {
		fn(status)
	}
}

func (o *Orchestrator) snapshotGraph() *GraphSnapshot {
	if o.song == nil {
		return nil
	}
	g := o.song.Graph
	snap := &GraphSnapshot{
		SessionID:       o.song.ID,
		Beats:           make([]graph.Beat, 0, g.Len()),
		LastBranchPoint: g.LastBranchPoint,
		LongestReach:    g.LongestReach,
		Threshold:       g.ComputedMaxBranchDistance,
	}
	for _, b := range g.Beats {
		snap.Beats = append(snap.Beats, graph.Beat{
			Index:     b.Index,
			Start:     b.Start,
			Duration:  b.Duration,
			IsPlaying: b.IsPlaying,
			PlayCount: b.PlayCount,
			Reach:     b.Reach,
		})
	}
	for _, e := range g.Branches() {
		snap.Branches = append(snap.Branches, *e)
	}
	return snap
}
