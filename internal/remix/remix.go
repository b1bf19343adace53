package remix

import (
	"github.com/rs/zerolog/log"
)

// Remix links the analysis in place and returns it. Every quantum gets its
// index and sibling links, each adjacent pair of resolutions gets
// parent/child links, and every non-segment quantum gets its overlapping
// segments. Calling Remix on an already linked analysis is a no-op.
func Remix(a *Analysis) (*Analysis, error) {
	if a.remixed {
		return a, nil
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}

	sections := pointers(a.Sections)
	bars := pointers(a.Bars)
	beats := pointers(a.Beats)
	tatums := pointers(a.Tatums)
	segments := segmentPointers(a.Segments)

	levels := [][]*Quantum{sections, bars, beats, tatums, segments}
	for _, level := range levels {
		link(level)
	}
	for i := 0; i+1 < len(levels); i++ {
		connect(levels[i], levels[i+1])
	}
	for _, level := range levels[:len(levels)-1] {
		overlap(level, segments)
	}

	a.remixed = true

	log.Debug().
		Str("component", "remix").
		Int("sections", len(sections)).
		Int("bars", len(bars)).
		Int("beats", len(beats)).
		Int("tatums", len(tatums)).
		Int("segments", len(segments)).
		Msg("analysis linked")

	return a, nil
}

func link(qs []*Quantum) {
	for i, q := range qs {
		q.Index = i
		q.Prev = i - 1
		q.Next = i + 1
		if q.Next >= len(qs) {
			q.Next = -1
		}
		q.Parent = -1
		q.IndexInParent = -1
		q.Children = nil
		q.FirstOverlappingSegment = -1
		q.OverlappingSegments = nil
	}
}

// connect assigns each child to the parent whose [start, end) contains the
// child's start. Both slices are sorted, so a single cursor walks the
// children once.
func connect(parents, children []*Quantum) {
	cursor := 0
	for _, parent := range parents {
		for cursor < len(children) && children[cursor].Start < parent.Start {
			cursor++
		}
		for cursor < len(children) && children[cursor].Start < parent.End() {
			child := children[cursor]
			child.Parent = parent.Index
			child.IndexInParent = len(parent.Children)
			parent.Children = append(parent.Children, child.Index)
			cursor++
		}
	}
}

// overlap records, for every quantum, the first segment starting at or
// after it and every segment whose interval intersects [start, end).
func overlap(qs []*Quantum, segments []*Quantum) {
	first := 0
	last := 0
	for _, q := range qs {
		for first < len(segments) && segments[first].Start < q.Start {
			first++
		}
		if first < len(segments) {
			q.FirstOverlappingSegment = first
		}

		for last < len(segments) && segments[last].End() <= q.Start {
			last++
		}
		for j := last; j < len(segments); j++ {
			seg := segments[j]
			if seg.Start >= q.End() {
				break
			}
			if seg.End() <= q.Start {
				continue
			}
			q.OverlappingSegments = append(q.OverlappingSegments, j)
		}
	}
}
