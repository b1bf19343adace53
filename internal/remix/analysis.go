// Package remix turns a flat, multi-resolution audio analysis into a linked
// interval hierarchy (sections, bars, beats, tatums, segments).
package remix

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrEmptyAnalysis is returned when one of the five resolutions has no quanta.
	ErrEmptyAnalysis = errors.New("analysis has an empty resolution")

	// ErrUnsorted is returned when a resolution is not ordered by start time.
	ErrUnsorted = errors.New("analysis resolution is not sorted by start")
)

// Quantum is a time interval at one resolution of the analysis.
// Times are in seconds. Cross references are indices into the owning
// Analysis arrays; -1 means "none".
type Quantum struct {
	Start      float64 `json:"start"`
	Duration   float64 `json:"duration"`
	Confidence float64 `json:"confidence"`

	Index         int   `json:"-"`
	Prev          int   `json:"-"`
	Next          int   `json:"-"`
	Parent        int   `json:"-"`
	IndexInParent int   `json:"-"`
	Children      []int `json:"-"`

	// Only populated for non-segment quanta.
	FirstOverlappingSegment int   `json:"-"`
	OverlappingSegments     []int `json:"-"`
}

// End returns start + duration.
func (q *Quantum) End() float64 {
	return q.Start + q.Duration
}

// Segment is the finest resolution and carries the timbre/pitch features
// used to compare beats.
type Segment struct {
	Quantum
	LoudnessStart   float64   `json:"loudness_start"`
	LoudnessMax     float64   `json:"loudness_max"`
	LoudnessMaxTime float64   `json:"loudness_max_time"`
	Pitches         []float64 `json:"pitches"`
	Timbre          []float64 `json:"timbre"`
}

// TrackInfo is the optional track summary block of an analysis document.
type TrackInfo struct {
	Duration float64 `json:"duration"`
	Tempo    float64 `json:"tempo"`
	Key      int     `json:"key"`
	Mode     int     `json:"mode"`
}

// Analysis is a complete audio analysis for one track.
type Analysis struct {
	Track    *TrackInfo `json:"track,omitempty"`
	Sections []Quantum  `json:"sections"`
	Bars     []Quantum  `json:"bars"`
	Beats    []Quantum  `json:"beats"`
	Tatums   []Quantum  `json:"tatums"`
	Segments []Segment  `json:"segments"`

	remixed bool
}

// Parse decodes an analysis document.
func Parse(r io.Reader) (*Analysis, error) {
	var a Analysis
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("failed to decode analysis: %w", err)
	}
	return &a, nil
}

// Remixed reports whether Remix has already linked this analysis.
func (a *Analysis) Remixed() bool {
	return a.remixed
}

// Validate checks that every resolution is non-empty and sorted by start.
func (a *Analysis) Validate() error {
	levels := []struct {
		name   string
		quanta []*Quantum
	}{
		{"sections", pointers(a.Sections)},
		{"bars", pointers(a.Bars)},
		{"beats", pointers(a.Beats)},
		{"tatums", pointers(a.Tatums)},
		{"segments", segmentPointers(a.Segments)},
	}

	for _, level := range levels {
		if len(level.quanta) == 0 {
			return fmt.Errorf("%s: %w", level.name, ErrEmptyAnalysis)
		}
		for i := 1; i < len(level.quanta); i++ {
			if level.quanta[i].Start < level.quanta[i-1].Start {
				return fmt.Errorf("%s[%d] starts at %.3f before %.3f: %w",
					level.name, i, level.quanta[i].Start, level.quanta[i-1].Start, ErrUnsorted)
			}
		}
	}
	return nil
}

func pointers(qs []Quantum) []*Quantum {
	out := make([]*Quantum, len(qs))
	for i := range qs {
		out[i] = &qs[i]
	}
	return out
}

func segmentPointers(segs []Segment) []*Quantum {
	out := make([]*Quantum, len(segs))
	for i := range segs {
		out[i] = &segs[i].Quantum
	}
	return out
}
