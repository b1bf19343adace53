// Package jukebox drives endless, beat-matched playback of a single track.
// An Orchestrator builds a beat graph for the current track and a Driver
// follows the host player's position, seeking across similar-sounding
// beats so the track never ends.
package jukebox

import (
	"context"
	"errors"

	"github.com/austinkregel/local-media/jukeboxd/internal/remix"
)

var (
	// ErrUnsupportedTrack is returned for tracks that are not music.
	ErrUnsupportedTrack = errors.New("track kind is not supported")

	// ErrLocalTrack is returned for local files with no catalog id and no
	// local analysis.
	ErrLocalTrack = errors.New("local track has no analysis")

	// ErrNoAnalysis is returned when the provider yields nothing.
	ErrNoAnalysis = errors.New("no analysis available")
)

// Kind classifies what a track is.
type Kind string

const (
	KindMusic   Kind = "music"
	KindEpisode Kind = "episode"
	KindAd      Kind = "ad"
)

// Track identifies the item the host is playing.
type Track struct {
	// ID is the catalog id used to fetch an analysis. Empty for local files.
	ID    string `json:"id,omitempty"`
	Path  string `json:"path"`
	Kind  Kind   `json:"kind"`
	Title string `json:"title,omitempty"`
}

// IsLocal reports whether the track has no catalog identity.
func (t Track) IsLocal() bool {
	return t.ID == ""
}

// Host is the media player the jukebox controls. Seek is issued without
// waiting for it to take effect; the Driver confirms it from later
// progress reports.
type Host interface {
	Seek(positionMs int64) error
	Position() int64
	CurrentTrack() (Track, bool)

	// SubscribeProgress registers fn for periodic position reports in
	// milliseconds and returns a function that removes it.
	SubscribeProgress(fn func(positionMs int64)) func()

	// SubscribeTrackChange registers fn for track changes and returns a
	// function that removes it.
	SubscribeTrackChange(fn func(Track)) func()
}

// AnalysisProvider fetches the audio analysis for a track.
type AnalysisProvider interface {
	Fetch(ctx context.Context, track Track) (*remix.Analysis, error)
}

// LocalAnalysisChecker is implemented by providers that can analyse a
// local track without a catalog id.
type LocalAnalysisChecker interface {
	HasLocalAnalysis(track Track) bool
}

// SettingsStore persists Settings. ok is false when nothing was stored.
type SettingsStore interface {
	LoadJukeboxSettings() (s Settings, ok bool, err error)
	SaveJukeboxSettings(s Settings) error
}

// Notifier shows a message to the user. It must not block.
type Notifier interface {
	Show(message string)
}
