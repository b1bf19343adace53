// Package graph builds and holds the beat similarity graph that the jukebox
// driver walks. Beats are nodes, edges are candidate jumps between beats
// that sound alike.
package graph

// Edge is a directed candidate jump from Source to Destination.
type Edge struct {
	ID          int     `json:"id"`
	Source      int     `json:"source"`
	Destination int     `json:"destination"`
	Distance    float64 `json:"distance"`
	IsPlaying   bool    `json:"isPlaying"`
	Deleted     bool    `json:"deleted"`
}

// Beat is one node of the graph. Start and Duration are in milliseconds.
type Beat struct {
	Index     int     `json:"index"`
	Start     float64 `json:"start"`
	Duration  float64 `json:"duration"`
	IsPlaying bool    `json:"isPlaying"`
	PlayCount int     `json:"playCount"`

	// Neighbours are the live branches out of this beat, rotated as they
	// are used. Candidates is the cached, distance-ordered raw list the
	// live branches are filtered from.
	Neighbours []*Edge `json:"-"`
	Candidates []*Edge `json:"-"`

	// Reach is the furthest beat count reachable from here, counting
	// linear play and branches.
	Reach int `json:"reach"`
}

// End returns start + duration in milliseconds.
func (b *Beat) End() float64 {
	return b.Start + b.Duration
}

// Contains reports whether position (ms) lies within [start, end].
func (b *Beat) Contains(position float64) bool {
	return position >= b.Start && position <= b.End()
}

// NextNeighbour returns the front neighbour and moves it to the back, so
// repeated calls cycle through all branches.
func (b *Beat) NextNeighbour() *Edge {
	if len(b.Neighbours) == 0 {
		return nil
	}
	e := b.Neighbours[0]
	copy(b.Neighbours, b.Neighbours[1:])
	b.Neighbours[len(b.Neighbours)-1] = e
	return e
}

// SongGraph is the pruned beat graph of one track.
type SongGraph struct {
	Beats []*Beat

	// LastBranchPoint is the beat at which the driver always branches,
	// chosen so playback can loop back without reaching the end.
	LastBranchPoint int

	// LongestReach is the reach, in percent of the track, gained by
	// branching at LastBranchPoint.
	LongestReach float64

	// ComputedMaxBranchDistance is the threshold the live branches were
	// filtered with.
	ComputedMaxBranchDistance float64

	// Converged is false when reachability hit its iteration cap.
	Converged bool

	edges []*Edge
}

// New returns a graph over beats with no edges. Beats are re-indexed in order.
func New(beats []*Beat) *SongGraph {
	for i, b := range beats {
		b.Index = i
	}
	return &SongGraph{Beats: beats, Converged: true}
}

// AddBranch adds a candidate edge and makes it live on its source beat.
func (g *SongGraph) AddBranch(source, destination int, distance float64) *Edge {
	e := &Edge{
		ID:          len(g.edges),
		Source:      source,
		Destination: destination,
		Distance:    distance,
	}
	g.edges = append(g.edges, e)
	b := g.Beats[source]
	b.Candidates = append(b.Candidates, e)
	b.Neighbours = append(b.Neighbours, e)
	return e
}

// Len returns the number of beats.
func (g *SongGraph) Len() int {
	return len(g.Beats)
}

// Beat returns beat i, or nil when i is out of range.
func (g *SongGraph) Beat(i int) *Beat {
	if i < 0 || i >= len(g.Beats) {
		return nil
	}
	return g.Beats[i]
}

// Prev returns the beat before b, or nil.
func (g *SongGraph) Prev(b *Beat) *Beat {
	return g.Beat(b.Index - 1)
}

// Next returns the beat after b, or nil.
func (g *SongGraph) Next(b *Beat) *Beat {
	return g.Beat(b.Index + 1)
}

// FindBeat returns the first beat containing position (ms). It falls back
// to beat 0 when no beat contains it.
func (g *SongGraph) FindBeat(position float64) *Beat {
	for _, b := range g.Beats {
		if b.Contains(position) {
			return b
		}
	}
	if len(g.Beats) == 0 {
		return nil
	}
	return g.Beats[0]
}

// Edges returns every candidate edge, deleted ones included.
func (g *SongGraph) Edges() []*Edge {
	return g.edges
}

// Branches returns the live branches across all beats.
func (g *SongGraph) Branches() []*Edge {
	var out []*Edge
	for _, b := range g.Beats {
		out = append(out, b.Neighbours...)
	}
	return out
}

// BranchingBeats counts beats with at least one live branch.
func (g *SongGraph) BranchingBeats() int {
	count := 0
	for _, b := range g.Beats {
		if len(b.Neighbours) > 0 {
			count++
		}
	}
	return count
}

// DeleteEdge marks an edge deleted. The live branches only change on the
// next Refilter.
func (g *SongGraph) DeleteEdge(id int) bool {
	if id < 0 || id >= len(g.edges) {
		return false
	}
	g.edges[id].Deleted = true
	return true
}
