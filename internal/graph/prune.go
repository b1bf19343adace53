package graph

import (
	"github.com/rs/zerolog/log"
)

const (
	// maxReachIterations caps the reachability fixed point.
	maxReachIterations = 1000

	// reachTarget stops the last-branch-point scan once a beat gains this
	// much reach, in percent of the track.
	reachTarget = 50.0

	dynamicThresholdStart = 10.0
	dynamicThresholdStep  = 5.0
)

// Refilter rebuilds the live branches from the cached candidates with opts.
// Candidate distances are never recomputed.
func (g *SongGraph) Refilter(opts Options) {
	if opts.MaxBranchDistance <= 0 {
		opts.MaxBranchDistance = DefaultMaxBranchDistance
	}

	threshold := opts.MaxBranchDistance
	if opts.UseDynamicBranchDistance {
		threshold = g.dynamicThreshold(opts)
	}
	g.ComputedMaxBranchDistance = threshold
	g.collectBranches(threshold, opts)

	if opts.AddLastEdge {
		if g.longestBackwardBranch() < 50 {
			g.insertBestBackwardBranch(threshold, 65)
		} else {
			g.insertBestBackwardBranch(threshold, 55)
		}
	}

	g.Converged = g.calculateReachability()
	if !g.Converged {
		log.Warn().
			Str("component", "graph").
			Int("beats", g.Len()).
			Msg("reachability did not converge")
	}

	g.LastBranchPoint, g.LongestReach = g.findBestLastBeat()
	g.filterOutBadBranches(g.LastBranchPoint)
	if opts.RemoveSequentialBranches {
		g.filterOutSequentialBranches()
	}
}

// dynamicThreshold tries thresholds from 10 upwards in steps of 5 and
// stops at the first that gives at least a sixth of the beats a branch.
func (g *SongGraph) dynamicThreshold(opts Options) float64 {
	target := float64(g.Len()) / 6
	threshold := dynamicThresholdStart
	for ; threshold < opts.MaxBranchDistance; threshold += dynamicThresholdStep {
		if float64(g.collectBranches(threshold, opts)) >= target {
			break
		}
	}
	return threshold
}

// collectBranches filters every beat's candidates into live branches and
// returns the number of beats that have at least one.
func (g *SongGraph) collectBranches(threshold float64, opts Options) int {
	n := g.Len()
	minLong := float64(n) / 5
	count := 0
	for _, b := range g.Beats {
		b.Neighbours = b.Neighbours[:0]
		for _, e := range b.Candidates {
			if e.Deleted {
				continue
			}
			if opts.JustBackwards && e.Destination > b.Index {
				continue
			}
			if opts.JustLongBranches && float64(abs(e.Destination-b.Index)) < minLong {
				continue
			}
			if e.Distance <= threshold {
				b.Neighbours = append(b.Neighbours, e)
			}
		}
		if len(b.Neighbours) > 0 {
			count++
		}
	}
	return count
}

// longestBackwardBranch returns the longest live backward jump in percent
// of the track.
func (g *SongGraph) longestBackwardBranch() float64 {
	longest := 0
	for _, b := range g.Beats {
		for _, e := range b.Neighbours {
			if delta := b.Index - e.Destination; delta > longest {
				longest = delta
			}
		}
	}
	return float64(longest) * 100 / float64(g.Len())
}

// insertBestBackwardBranch finds the candidate with the longest backward
// jump under ceiling and adds it as a live branch when the threshold
// filtered it out.
func (g *SongGraph) insertBestBackwardBranch(threshold, ceiling float64) {
	var best *Edge
	bestPercent := -1.0
	for _, b := range g.Beats {
		for _, e := range b.Candidates {
			if e.Deleted {
				continue
			}
			delta := b.Index - e.Destination
			if delta <= 0 || e.Distance >= ceiling {
				continue
			}
			percent := float64(delta) * 100 / float64(g.Len())
			if percent >= bestPercent {
				bestPercent = percent
				best = e
			}
		}
	}
	if best == nil || best.Distance <= threshold {
		return
	}
	src := g.Beats[best.Source]
	src.Neighbours = append(src.Neighbours, best)
}

// calculateReachability iterates reach to a fixed point: a beat reaches as
// far as its next beat or any branch destination, and everything before a
// beat reaches at least as far as it does. Reports whether it converged
// within the iteration cap.
func (g *SongGraph) calculateReachability() bool {
	n := g.Len()
	for _, b := range g.Beats {
		b.Reach = n - b.Index
	}

	for iter := 0; iter < maxReachIterations; iter++ {
		changes := 0
		for i, b := range g.Beats {
			changed := false
			for _, e := range b.Neighbours {
				if r := g.Beats[e.Destination].Reach; r > b.Reach {
					b.Reach = r
					changed = true
				}
			}
			if i+1 < n {
				if r := g.Beats[i+1].Reach; r > b.Reach {
					b.Reach = r
					changed = true
				}
			}
			if changed {
				changes++
				for j := 0; j < i; j++ {
					if g.Beats[j].Reach < b.Reach {
						g.Beats[j].Reach = b.Reach
					}
				}
			}
		}
		if changes == 0 {
			return true
		}
	}
	return false
}

// findBestLastBeat scans from the end for the branching beat whose reach
// past its own linear remainder is largest, stopping early once it covers
// half the track.
func (g *SongGraph) findBestLastBeat() (int, float64) {
	n := g.Len()
	longest := 0
	longestReach := 0.0
	for i := n - 1; i >= 0; i-- {
		b := g.Beats[i]
		reach := float64(b.Reach-(n-i)) * 100 / float64(n)
		if reach > longestReach && len(b.Neighbours) > 0 {
			longestReach = reach
			longest = i
			if reach >= reachTarget {
				break
			}
		}
	}
	return longest, longestReach
}

// filterOutBadBranches keeps beats before the last branch point from
// jumping to or past it.
func (g *SongGraph) filterOutBadBranches(lastIndex int) {
	for _, b := range g.Beats[:lastIndex] {
		kept := b.Neighbours[:0]
		for _, e := range b.Neighbours {
			if e.Destination < lastIndex {
				kept = append(kept, e)
			}
		}
		b.Neighbours = kept
	}
}

// filterOutSequentialBranches drops a branch when the previous beat already
// has a branch with the same jump length.
func (g *SongGraph) filterOutSequentialBranches() {
	for i := g.Len() - 1; i >= 1; i-- {
		b := g.Beats[i]
		if i == g.LastBranchPoint {
			continue
		}
		prev := g.Beats[i-1]
		kept := b.Neighbours[:0]
		for _, e := range b.Neighbours {
			if !hasSequentialBranch(b, prev, e) {
				kept = append(kept, e)
			}
		}
		b.Neighbours = kept
	}
}

func hasSequentialBranch(b, prev *Beat, e *Edge) bool {
	distance := b.Index - e.Destination
	for _, pe := range prev.Neighbours {
		if prev.Index-pe.Destination == distance {
			return true
		}
	}
	return false
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
