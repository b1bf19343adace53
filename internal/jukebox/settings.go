package jukebox

import (
	"github.com/austinkregel/local-media/jukeboxd/internal/graph"
)

// Settings tune graph pruning and random branching. A session reads them
// once at start; changing them rebuilds the session.
type Settings struct {
	MaxBranchDistance        float64 `json:"maxBranchDistance"`
	UseDynamicBranchDistance bool    `json:"useDynamicBranchDistance"`
	MinRandomBranchChance    float64 `json:"minRandomBranchChance"`
	MaxRandomBranchChance    float64 `json:"maxRandomBranchChance"`
	RandomBranchChanceDelta  float64 `json:"randomBranchChanceDelta"`
	AddLastEdge              bool    `json:"addLastEdge"`
	JustBackwards            bool    `json:"justBackwards"`
	JustLongBranches         bool    `json:"justLongBranches"`
	RemoveSequentialBranches bool    `json:"removeSequentialBranches"`
}

// DefaultSettings returns the stock settings.
func DefaultSettings() Settings {
	return Settings{
		MaxBranchDistance:        graph.DefaultMaxBranchDistance,
		UseDynamicBranchDistance: true,
		MinRandomBranchChance:    0.18,
		MaxRandomBranchChance:    0.5,
		RandomBranchChanceDelta:  0.018,
		AddLastEdge:              true,
	}
}

// Normalize clamps out-of-range values: chances into [0, 1] with
// min <= max, a non-negative delta and a positive branch distance.
func (s Settings) Normalize() Settings {
	if s.MaxBranchDistance <= 0 {
		s.MaxBranchDistance = graph.DefaultMaxBranchDistance
	}
	s.MinRandomBranchChance = clamp01(s.MinRandomBranchChance)
	s.MaxRandomBranchChance = clamp01(s.MaxRandomBranchChance)
	if s.MinRandomBranchChance > s.MaxRandomBranchChance {
		s.MinRandomBranchChance, s.MaxRandomBranchChance = s.MaxRandomBranchChance, s.MinRandomBranchChance
	}
	if s.RandomBranchChanceDelta < 0 {
		s.RandomBranchChanceDelta = 0
	}
	return s
}

// GraphOptions returns the pruning subset of the settings.
func (s Settings) GraphOptions() graph.Options {
	return graph.Options{
		MaxBranchDistance:        s.MaxBranchDistance,
		UseDynamicBranchDistance: s.UseDynamicBranchDistance,
		AddLastEdge:              s.AddLastEdge,
		JustBackwards:            s.JustBackwards,
		JustLongBranches:         s.JustLongBranches,
		RemoveSequentialBranches: s.RemoveSequentialBranches,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
