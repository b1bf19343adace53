// Package media integrates the player with the OS media session so desktop
// widgets and hardware keys can see and control playback.
package media

import (
	"errors"
	"time"
)

// ErrUnsupported is returned by NewSession on platforms without a media session.
var ErrUnsupported = errors.New("media session not supported on this platform")

// PlaybackState represents the playback state for media sessions
type PlaybackState int

const (
	StateStopped PlaybackState = iota
	StatePlaying
	StatePaused
)

// Metadata contains track metadata for media session display
type Metadata struct {
	TrackID  string
	Title    string
	Artist   string
	Album    string
	Duration time.Duration
	ArtPath  string
}

// LoopStatus represents the loop/repeat mode
type LoopStatus string

const (
	LoopNone     LoopStatus = "None"
	LoopTrack    LoopStatus = "Track"
	LoopPlaylist LoopStatus = "Playlist"
)

// Session is the interface for OS media session integration
type Session interface {
	UpdateMetadata(metadata Metadata) error
	UpdatePlaybackState(state PlaybackState, position time.Duration) error

	// NotifySeeked tells clients the position jumped, so they stop
	// extrapolating from the old one.
	NotifySeeked(position time.Duration) error

	UpdateLoopStatus(status LoopStatus) error
	UpdateShuffle(enabled bool) error
	SetCommandHandler(handler CommandHandler)
	Close() error
}

// Command represents a media command from the OS
type Command int

const (
	CmdPlay Command = iota
	CmdPause
	CmdPlayPause
	CmdStop
	CmdNext
	CmdPrevious
	CmdSeek
	CmdSetLoopStatus
	CmdSetShuffle
)

func (c Command) String() string {
	switch c {
	case CmdPlay:
		return "Play"
	case CmdPause:
		return "Pause"
	case CmdPlayPause:
		return "PlayPause"
	case CmdStop:
		return "Stop"
	case CmdNext:
		return "Next"
	case CmdPrevious:
		return "Previous"
	case CmdSeek:
		return "Seek"
	case CmdSetLoopStatus:
		return "SetLoopStatus"
	case CmdSetShuffle:
		return "SetShuffle"
	default:
		return "Unknown"
	}
}

// CommandHandler handles media commands from the OS
type CommandHandler interface {
	OnCommand(cmd Command, data interface{}) error
}

// CommandHandlerFunc is a function adapter for CommandHandler
type CommandHandlerFunc func(cmd Command, data interface{}) error

func (f CommandHandlerFunc) OnCommand(cmd Command, data interface{}) error {
	return f(cmd, data)
}

// NoOpSession is used when no media session is available.
type NoOpSession struct{}

func NewNoOpSession() *NoOpSession {
	return &NoOpSession{}
}

func (s *NoOpSession) UpdateMetadata(Metadata) error                          { return nil }
func (s *NoOpSession) UpdatePlaybackState(PlaybackState, time.Duration) error { return nil }
func (s *NoOpSession) NotifySeeked(time.Duration) error                       { return nil }
func (s *NoOpSession) UpdateLoopStatus(LoopStatus) error                      { return nil }
func (s *NoOpSession) UpdateShuffle(bool) error                               { return nil }
func (s *NoOpSession) SetCommandHandler(CommandHandler)                       {}
func (s *NoOpSession) Close() error                                           { return nil }
