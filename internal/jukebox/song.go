package jukebox

import (
	"time"

	"github.com/google/uuid"

	"github.com/austinkregel/local-media/jukeboxd/internal/graph"
	"github.com/austinkregel/local-media/jukeboxd/internal/remix"
)

// SongState is everything one jukebox session knows about its track.
// It is owned by the orchestrator loop and mutated only by the Driver.
type SongState struct {
	ID        string
	Track     Track
	Analysis  *remix.Analysis
	Graph     *graph.SongGraph
	Settings  Settings
	StartTime time.Time

	BeatsPlayed  int
	BranchChance float64
}

// NewSongState starts a session for track over an already built graph.
func NewSongState(track Track, a *remix.Analysis, g *graph.SongGraph, s Settings) *SongState {
	return &SongState{
		ID:           uuid.NewString(),
		Track:        track,
		Analysis:     a,
		Graph:        g,
		Settings:     s,
		StartTime:    time.Now(),
		BranchChance: s.MinRandomBranchChance,
	}
}

// BuildSong remixes the analysis, generates its graph and wraps both in a
// new SongState.
func BuildSong(track Track, a *remix.Analysis, s Settings) (*SongState, error) {
	a, err := remix.Remix(a)
	if err != nil {
		return nil, err
	}
	g, err := graph.Generate(a, s.GraphOptions())
	if err != nil {
		return nil, err
	}
	return NewSongState(track, a, g, s), nil
}
