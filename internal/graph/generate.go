package graph

import (
	"errors"
	"math"
	"sort"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"

	"github.com/austinkregel/local-media/jukeboxd/internal/remix"
)

const (
	// MaxBranches is the fan-out kept per beat.
	MaxBranches = 4

	// DefaultMaxBranchDistance is used when Options leaves the distance unset.
	DefaultMaxBranchDistance = 80

	// penalty is charged for a missing or identical segment, and for beats
	// at different positions within their bar.
	penalty = 100.0

	timbreWeight        = 1.0
	pitchWeight         = 10.0
	loudnessStartWeight = 1.0
	loudnessMaxWeight   = 1.0
	durationWeight      = 100.0
	confidenceWeight    = 1.0
)

var (
	// ErrNotRemixed is returned when the analysis has not been through remix.Remix.
	ErrNotRemixed = errors.New("analysis is not remixed")

	// ErrNoBeats is returned for an analysis without beats.
	ErrNoBeats = errors.New("analysis has no beats")
)

// Options control how candidate edges are pruned into live branches.
type Options struct {
	MaxBranchDistance        float64
	UseDynamicBranchDistance bool
	AddLastEdge              bool
	JustBackwards            bool
	JustLongBranches         bool
	RemoveSequentialBranches bool
}

// DefaultOptions returns the stock pruning options.
func DefaultOptions() Options {
	return Options{
		MaxBranchDistance:        DefaultMaxBranchDistance,
		UseDynamicBranchDistance: true,
		AddLastEdge:              true,
	}
}

// Generate builds the beat graph for a remixed analysis: candidate
// collection, then pruning with opts.
func Generate(a *remix.Analysis, opts Options) (*SongGraph, error) {
	if !a.Remixed() {
		return nil, ErrNotRemixed
	}
	if len(a.Beats) == 0 {
		return nil, ErrNoBeats
	}

	g := &SongGraph{Beats: make([]*Beat, len(a.Beats))}
	for i, q := range a.Beats {
		g.Beats[i] = &Beat{
			Index:    i,
			Start:    q.Start * 1000,
			Duration: q.Duration * 1000,
		}
	}

	g.collectCandidates(a.Beats, a.Segments)
	g.Refilter(opts)

	log.Debug().
		Str("component", "graph").
		Int("beats", g.Len()).
		Int("candidates", len(g.edges)).
		Int("branches", len(g.Branches())).
		Int("lastBranchPoint", g.LastBranchPoint).
		Float64("longestReach", g.LongestReach).
		Float64("threshold", g.ComputedMaxBranchDistance).
		Msg("graph generated")

	return g, nil
}

// collectCandidates compares every beat with every other beat and keeps the
// MaxBranches closest as that beat's candidates. It runs once per graph.
func (g *SongGraph) collectCandidates(beats []remix.Quantum, segments []remix.Segment) {
	g.edges = nil
	for i := range beats {
		type candidate struct {
			dest     int
			distance float64
		}
		cands := make([]candidate, 0, len(beats)-1)
		for j := range beats {
			if i == j {
				continue
			}
			cands = append(cands, candidate{dest: j, distance: beatDistance(&beats[i], &beats[j], segments)})
		}
		sort.SliceStable(cands, func(x, y int) bool {
			return cands[x].distance < cands[y].distance
		})
		if len(cands) > MaxBranches {
			cands = cands[:MaxBranches]
		}

		beat := g.Beats[i]
		beat.Candidates = make([]*Edge, 0, len(cands))
		for _, c := range cands {
			e := &Edge{
				ID:          len(g.edges),
				Source:      i,
				Destination: c.dest,
				Distance:    c.distance,
			}
			g.edges = append(g.edges, e)
			beat.Candidates = append(beat.Candidates, e)
		}
	}
}

// beatDistance averages the distance between segments at the same ordinal
// position in both beats, then penalises beats at different positions in
// their bar.
func beatDistance(a, b *remix.Quantum, segments []remix.Segment) float64 {
	if len(a.OverlappingSegments) == 0 {
		return penalty + parentPenalty(a, b)
	}

	sum := 0.0
	for k, si := range a.OverlappingSegments {
		if k >= len(b.OverlappingSegments) {
			sum += penalty
			continue
		}
		sj := b.OverlappingSegments[k]
		if si == sj {
			sum += penalty
			continue
		}
		sum += SegmentDistance(&segments[si], &segments[sj])
	}
	return sum/float64(len(a.OverlappingSegments)) + parentPenalty(a, b)
}

func parentPenalty(a, b *remix.Quantum) float64 {
	if a.IndexInParent == b.IndexInParent {
		return 0
	}
	return penalty
}

// SegmentDistance is the weighted distance between two segments' features.
func SegmentDistance(a, b *remix.Segment) float64 {
	d := timbreWeight * euclidean(a.Timbre, b.Timbre)
	d += pitchWeight * euclidean(a.Pitches, b.Pitches)
	d += loudnessStartWeight * math.Abs(a.LoudnessStart-b.LoudnessStart)
	d += loudnessMaxWeight * math.Abs(a.LoudnessMax-b.LoudnessMax)
	d += durationWeight * math.Abs(a.Duration-b.Duration)
	d += confidenceWeight * math.Abs(a.Confidence-b.Confidence)
	return d
}

// euclidean tolerates vectors of different length by treating the missing
// tail as zeros.
func euclidean(a, b []float64) float64 {
	if len(a) == len(b) {
		if len(a) == 0 {
			return 0
		}
		return floats.Distance(a, b, 2)
	}
	n := max(len(a), len(b))
	pa := make([]float64, n)
	pb := make([]float64, n)
	copy(pa, a)
	copy(pb, b)
	return floats.Distance(pa, pb, 2)
}
