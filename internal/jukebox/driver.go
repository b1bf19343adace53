package jukebox

import (
	"math/rand/v2"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/austinkregel/local-media/jukeboxd/internal/graph"
)

// State is the Driver's playback state.
type State int

const (
	StateIdle State = iota
	StateTracking
	StateSeeking
	StateBouncing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTracking:
		return "tracking"
	case StateSeeking:
		return "seeking"
	case StateBouncing:
		return "bouncing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	// DefaultMinBeatsBeforeBranching is the number of linear beats played
	// after a branch before another random branch is allowed.
	DefaultMinBeatsBeforeBranching = 5

	// backwardSeekSlackMs is how far past a backward seek target a
	// position may be and still count as the seek having landed.
	backwardSeekSlackMs = 1000
)

// Progress is emitted after every accepted beat transition and state change.
type Progress struct {
	SessionID    string      `json:"sessionId"`
	State        string      `json:"state"`
	Position     int64       `json:"position"`
	Beat         int         `json:"beat"`
	Branch       *graph.Edge `json:"branch,omitempty"`
	BeatsPlayed  int         `json:"beatsPlayed"`
	BranchChance float64     `json:"branchChance"`
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithRandom replaces the random source used for branch decisions.
func WithRandom(fn func() float64) DriverOption {
	return func(d *Driver) {
		d.random = fn
	}
}

// WithMinBeatsBeforeBranching sets the linear run enforced after a branch.
func WithMinBeatsBeforeBranching(n int) DriverOption {
	return func(d *Driver) {
		if n >= 0 {
			d.minBeatsBeforeBranching = n
		}
	}
}

// WithProgress registers the transition callback.
func WithProgress(fn func(Progress)) DriverOption {
	return func(d *Driver) {
		d.onProgress = fn
	}
}

// Driver follows the host's playback position across a song's beats and
// decides, beat by beat, whether to keep playing linearly or jump along a
// branch. It is not safe for concurrent use; the orchestrator loop owns it.
type Driver struct {
	song  *SongState
	graph *graph.SongGraph
	seek  func(positionMs int64)

	random                  func() float64
	minBeatsBeforeBranching int
	onProgress              func(Progress)
	log                     zerolog.Logger

	state   State
	current *graph.Beat
	edge    *graph.Edge

	lastPosition int64
	hasPosition  bool

	// seekLanded is non-nil while a seek is in flight.
	seekLanded func(position int64) bool

	beatsSinceBranch int

	bouncing   bool
	bounceSeed *graph.Beat
	resumeSeed bool
}

// NewDriver creates an idle driver for song. seek must not block; it is
// called from the orchestrator loop.
func NewDriver(song *SongState, seek func(positionMs int64), opts ...DriverOption) *Driver {
	d := &Driver{
		song:                    song,
		graph:                   song.Graph,
		seek:                    seek,
		random:                  rand.Float64,
		minBeatsBeforeBranching: DefaultMinBeatsBeforeBranching,
		log: log.With().
			Str("component", "jukebox").
			Str("session", song.ID).
			Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the current state.
func (d *Driver) State() State {
	return d.state
}

// CurrentBeat returns the beat being played, or nil before the first report.
func (d *Driver) CurrentBeat() *graph.Beat {
	return d.current
}

// Start moves an idle driver to tracking.
func (d *Driver) Start() {
	if d.state != StateIdle {
		return
	}
	d.state = StateTracking
	d.log.Debug().
		Int("beats", d.graph.Len()).
		Int("lastBranchPoint", d.graph.LastBranchPoint).
		Msg("driver started")
}

// Stop clears transient state and parks the driver. The graph's play
// flags and counts are left as they are.
func (d *Driver) Stop() {
	d.state = StateStopped
	d.seekLanded = nil
	d.bouncing = false
	d.bounceSeed = nil
	d.resumeSeed = false
	d.hasPosition = false
}

// SetBouncing turns bouncing on or off. Bouncing oscillates between the
// beat current when it started and that beat's branches.
func (d *Driver) SetBouncing(on bool) {
	if d.state == StateIdle || d.state == StateStopped {
		return
	}
	if on == d.bouncing {
		return
	}
	if on {
		if d.current == nil {
			return
		}
		d.bouncing = true
		d.bounceSeed = d.current
		d.resumeSeed = false
		if d.state == StateTracking {
			d.state = StateBouncing
		}
		d.log.Debug().Int("seed", d.bounceSeed.Index).Msg("bouncing started")
		return
	}

	d.bouncing = false
	d.resumeSeed = d.bounceSeed != nil
	if d.state == StateBouncing {
		d.state = StateTracking
	}
	d.log.Debug().Msg("bouncing stopped")
}

// Update feeds a host position report in milliseconds.
func (d *Driver) Update(position int64) {
	if d.state == StateIdle || d.state == StateStopped {
		return
	}
	if d.hasPosition && position == d.lastPosition {
		return
	}
	d.lastPosition = position
	d.hasPosition = true

	if d.state == StateSeeking {
		if !d.seekLanded(position) {
			return
		}
		d.seekLanded = nil
		d.state = d.followState()
	}

	pos := float64(position)
	cur := d.current
	if cur != nil && cur.Contains(pos) {
		return
	}

	if cur == nil || d.outOfSync(cur, pos) {
		if cur != nil {
			d.log.Error().
				Int64("position", position).
				Int("beat", cur.Index).
				Float64("beatStart", cur.Start).
				Float64("beatEnd", cur.End()).
				Msg("playback out of sync, relocating")
		}
		d.transition(d.graph.FindBeat(pos), nil, position)
		return
	}

	next, edge, jump := d.nextBeat(cur)
	if next == nil {
		d.state = StateStopped
		d.log.Info().Int("beatsPlayed", d.song.BeatsPlayed).Msg("reached end of track")
		d.emit(position)
		return
	}

	if jump {
		target := int64(next.Start + (pos - cur.End()))
		if next.Index > cur.Index {
			d.seekLanded = func(p int64) bool { return p >= target }
		} else {
			d.seekLanded = func(p int64) bool { return p <= target+backwardSeekSlackMs }
		}
		d.state = StateSeeking
		d.log.Debug().
			Int("from", cur.Index).
			Int("to", next.Index).
			Int64("target", target).
			Msg("branching")
		d.seek(target)
	}

	d.transition(next, edge, position)
}

// outOfSync reports whether position is past the following beat or before
// the preceding one.
func (d *Driver) outOfSync(cur *graph.Beat, pos float64) bool {
	if next := d.graph.Next(cur); next != nil && pos > next.End() {
		return true
	}
	prev := d.graph.Prev(cur)
	if prev == nil {
		prev = cur
	}
	return pos < prev.Start
}

// nextBeat picks the beat after cur. jump is true when playback has to
// seek to reach it.
func (d *Driver) nextBeat(cur *graph.Beat) (next *graph.Beat, edge *graph.Edge, jump bool) {
	if d.bouncing {
		seed := d.bounceSeed
		if cur != seed {
			return seed, nil, seed.Index != cur.Index+1
		}
		if e := seed.NextNeighbour(); e != nil {
			return d.graph.Beat(e.Destination), e, true
		}
		return seed, nil, true
	}

	if d.resumeSeed {
		d.resumeSeed = false
		seed := d.bounceSeed
		d.bounceSeed = nil
		if seed != nil && seed != cur {
			return seed, nil, seed.Index != cur.Index+1
		}
	}

	candidate := d.graph.Next(cur)
	if candidate == nil {
		return nil, nil, false
	}
	if e := d.selectBranch(candidate); e != nil {
		return d.graph.Beat(e.Destination), e, true
	}
	d.beatsSinceBranch++
	return candidate, nil, false
}

// selectBranch decides whether to replace candidate with one of its
// branches and, if so, consumes that branch.
func (d *Driver) selectBranch(candidate *graph.Beat) *graph.Edge {
	if len(candidate.Neighbours) == 0 {
		return nil
	}

	if candidate.Index != d.graph.LastBranchPoint {
		if d.beatsSinceBranch < d.minBeatsBeforeBranching {
			return nil
		}
		s := d.song.Settings
		d.song.BranchChance += s.RandomBranchChanceDelta
		if d.song.BranchChance > s.MaxRandomBranchChance {
			d.song.BranchChance = s.MaxRandomBranchChance
		}
		if d.random() >= d.song.BranchChance {
			return nil
		}
	}

	d.song.BranchChance = d.song.Settings.MinRandomBranchChance
	d.beatsSinceBranch = 0
	return candidate.NextNeighbour()
}

func (d *Driver) transition(next *graph.Beat, edge *graph.Edge, position int64) {
	if d.current != nil {
		d.current.IsPlaying = false
	}
	if d.edge != nil {
		d.edge.IsPlaying = false
	}

	next.IsPlaying = true
	next.PlayCount++
	if edge != nil {
		edge.IsPlaying = true
	}
	d.current = next
	d.edge = edge
	d.song.BeatsPlayed++

	d.emit(position)
}

func (d *Driver) followState() State {
	if d.bouncing {
		return StateBouncing
	}
	return StateTracking
}

func (d *Driver) emit(position int64) {
	if d.onProgress == nil {
		return
	}
	p := Progress{
		SessionID:    d.song.ID,
		State:        d.state.String(),
		Position:     position,
		Beat:         -1,
		BeatsPlayed:  d.song.BeatsPlayed,
		BranchChance: d.song.BranchChance,
	}
	if d.current != nil {
		p.Beat = d.current.Index
	}
	if d.edge != nil {
		e := *d.edge
		p.Branch = &e
	}
	d.onProgress(p)
}
