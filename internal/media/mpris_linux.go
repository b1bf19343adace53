//go:build linux

package media

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	mprisInterface       = "org.mpris.MediaPlayer2"
	mprisPlayerInterface = "org.mpris.MediaPlayer2.Player"
	mprisBusName         = "org.mpris.MediaPlayer2.jukeboxd"
	mprisObjectPath      = "/org/mpris/MediaPlayer2"
	propertiesInterface  = "org.freedesktop.DBus.Properties"

	identity      = "jukeboxd"
	trackPathBase = "/org/jukeboxd/track/"
	noTrackPath   = "/org/mpris/MediaPlayer2/TrackList/NoTrack"
)

// MPRISSession exposes the player on the session bus.
type MPRISSession struct {
	conn *dbus.Conn
	log  zerolog.Logger

	mu         sync.Mutex
	handler    CommandHandler
	metadata   Metadata
	state      PlaybackState
	position   time.Duration
	loopStatus LoopStatus
	shuffle    bool
}

// NewSession connects to the session bus and claims the jukeboxd MPRIS name.
func NewSession() (Session, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	reply, err := conn.RequestName(mprisBusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("bus name %s already taken", mprisBusName)
	}

	s := &MPRISSession{
		conn:       conn,
		log:        log.With().Str("component", "mpris").Logger(),
		state:      StateStopped,
		loopStatus: LoopNone,
	}

	path := dbus.ObjectPath(mprisObjectPath)
	for _, iface := range []string{mprisInterface, mprisPlayerInterface, propertiesInterface} {
		if err := conn.Export(s, path, iface); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to export %s: %w", iface, err)
		}
	}

	s.log.Info().Str("bus", mprisBusName).Msg("MPRIS session registered")
	return s, nil
}

func (s *MPRISSession) UpdateMetadata(metadata Metadata) error {
	s.mu.Lock()
	s.metadata = metadata
	m := s.metadataMap()
	s.mu.Unlock()

	return s.emitPropertiesChanged(map[string]dbus.Variant{
		"Metadata": dbus.MakeVariant(m),
	})
}

// UpdatePlaybackState records state and position. Clients extrapolate the
// position from Rate, so only a transition into Playing announces it.
func (s *MPRISSession) UpdatePlaybackState(state PlaybackState, position time.Duration) error {
	s.mu.Lock()
	started := s.state != state && state == StatePlaying
	s.state = state
	s.position = position
	status := s.playbackStatus()
	s.mu.Unlock()

	if started {
		if err := s.emitSeeked(position); err != nil {
			return err
		}
	}
	return s.emitPropertiesChanged(map[string]dbus.Variant{
		"PlaybackStatus": dbus.MakeVariant(status),
	})
}

func (s *MPRISSession) NotifySeeked(position time.Duration) error {
	s.mu.Lock()
	s.position = position
	s.mu.Unlock()
	return s.emitSeeked(position)
}

func (s *MPRISSession) UpdateLoopStatus(status LoopStatus) error {
	s.mu.Lock()
	s.loopStatus = status
	s.mu.Unlock()

	return s.emitPropertiesChanged(map[string]dbus.Variant{
		"LoopStatus": dbus.MakeVariant(string(status)),
	})
}

func (s *MPRISSession) UpdateShuffle(enabled bool) error {
	s.mu.Lock()
	s.shuffle = enabled
	s.mu.Unlock()

	return s.emitPropertiesChanged(map[string]dbus.Variant{
		"Shuffle": dbus.MakeVariant(enabled),
	})
}

func (s *MPRISSession) SetCommandHandler(handler CommandHandler) {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
}

func (s *MPRISSession) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// dispatch forwards a bus call to the command handler outside the lock.
func (s *MPRISSession) dispatch(cmd Command, data interface{}) *dbus.Error {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return nil
	}
	if err := h.OnCommand(cmd, data); err != nil {
		s.log.Warn().Err(err).Str("command", cmd.String()).Msg("media command failed")
		return dbus.MakeFailedError(err)
	}
	return nil
}

// org.mpris.MediaPlayer2

func (s *MPRISSession) Raise() *dbus.Error { return nil }
func (s *MPRISSession) Quit() *dbus.Error  { return nil }

// org.mpris.MediaPlayer2.Player

func (s *MPRISSession) Play() *dbus.Error     { return s.dispatch(CmdPlay, nil) }
func (s *MPRISSession) Pause() *dbus.Error    { return s.dispatch(CmdPause, nil) }
func (s *MPRISSession) Stop() *dbus.Error     { return s.dispatch(CmdStop, nil) }
func (s *MPRISSession) Next() *dbus.Error     { return s.dispatch(CmdNext, nil) }
func (s *MPRISSession) Previous() *dbus.Error { return s.dispatch(CmdPrevious, nil) }

func (s *MPRISSession) PlayPause() *dbus.Error {
	return s.dispatch(CmdPlayPause, nil)
}

// Seek moves relative to the last known position; offset is in microseconds.
func (s *MPRISSession) Seek(offset int64) *dbus.Error {
	s.mu.Lock()
	pos := s.position + time.Duration(offset)*time.Microsecond
	s.mu.Unlock()
	if pos < 0 {
		pos = 0
	}
	return s.dispatch(CmdSeek, pos)
}

// SetPosition is ignored unless trackID names the current track.
func (s *MPRISSession) SetPosition(trackID dbus.ObjectPath, position int64) *dbus.Error {
	s.mu.Lock()
	current := s.trackPath()
	s.mu.Unlock()
	if trackID != current || position < 0 {
		return nil
	}
	return s.dispatch(CmdSeek, time.Duration(position)*time.Microsecond)
}

// org.freedesktop.DBus.Properties

func (s *MPRISSession) Get(iface, prop string) (dbus.Variant, *dbus.Error) {
	props, derr := s.GetAll(iface)
	if derr != nil {
		return dbus.Variant{}, derr
	}
	v, ok := props[prop]
	if !ok {
		return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("unknown property: %s", prop))
	}
	return v, nil
}

func (s *MPRISSession) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	switch iface {
	case mprisInterface:
		return map[string]dbus.Variant{
			"CanQuit":             dbus.MakeVariant(false),
			"CanRaise":            dbus.MakeVariant(false),
			"HasTrackList":        dbus.MakeVariant(false),
			"Identity":            dbus.MakeVariant(identity),
			"DesktopEntry":        dbus.MakeVariant(identity),
			"SupportedUriSchemes": dbus.MakeVariant([]string{"file"}),
			"SupportedMimeTypes":  dbus.MakeVariant([]string{"audio/mpeg", "audio/flac", "audio/ogg", "audio/x-m4a"}),
		}, nil
	case mprisPlayerInterface:
		s.mu.Lock()
		defer s.mu.Unlock()
		return map[string]dbus.Variant{
			"PlaybackStatus": dbus.MakeVariant(s.playbackStatus()),
			"LoopStatus":     dbus.MakeVariant(string(s.loopStatus)),
			"Shuffle":        dbus.MakeVariant(s.shuffle),
			"Metadata":       dbus.MakeVariant(s.metadataMap()),
			"Position":       dbus.MakeVariant(s.position.Microseconds()),
			"Rate":           dbus.MakeVariant(1.0),
			"MinimumRate":    dbus.MakeVariant(1.0),
			"MaximumRate":    dbus.MakeVariant(1.0),
			"Volume":         dbus.MakeVariant(1.0),
			"CanGoNext":      dbus.MakeVariant(true),
			"CanGoPrevious":  dbus.MakeVariant(true),
			"CanPlay":        dbus.MakeVariant(true),
			"CanPause":       dbus.MakeVariant(true),
			"CanSeek":        dbus.MakeVariant(s.metadata.Duration > 0),
			"CanControl":     dbus.MakeVariant(true),
		}, nil
	}
	return nil, dbus.MakeFailedError(fmt.Errorf("unknown interface: %s", iface))
}

func (s *MPRISSession) Set(iface, prop string, value dbus.Variant) *dbus.Error {
	if iface != mprisPlayerInterface {
		return nil
	}
	switch prop {
	case "LoopStatus":
		status, ok := value.Value().(string)
		if !ok {
			return dbus.MakeFailedError(fmt.Errorf("invalid type for LoopStatus"))
		}
		s.mu.Lock()
		s.loopStatus = LoopStatus(status)
		s.mu.Unlock()
		return s.dispatch(CmdSetLoopStatus, LoopStatus(status))

	case "Shuffle":
		enabled, ok := value.Value().(bool)
		if !ok {
			return dbus.MakeFailedError(fmt.Errorf("invalid type for Shuffle"))
		}
		s.mu.Lock()
		s.shuffle = enabled
		s.mu.Unlock()
		return s.dispatch(CmdSetShuffle, enabled)
	}
	return nil
}

func (s *MPRISSession) playbackStatus() string {
	switch s.state {
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	default:
		return "Stopped"
	}
}

// trackPath derives a valid object path from the track ID. Object path
// elements only allow [A-Za-z0-9_].
func (s *MPRISSession) trackPath() dbus.ObjectPath {
	if s.metadata.TrackID == "" {
		return noTrackPath
	}
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, s.metadata.TrackID)
	return dbus.ObjectPath(trackPathBase + clean)
}

func (s *MPRISSession) metadataMap() map[string]dbus.Variant {
	m := map[string]dbus.Variant{
		"mpris:trackid": dbus.MakeVariant(s.trackPath()),
	}
	if s.metadata.Title != "" {
		m["xesam:title"] = dbus.MakeVariant(s.metadata.Title)
	}
	if s.metadata.Artist != "" {
		m["xesam:artist"] = dbus.MakeVariant([]string{s.metadata.Artist})
	}
	if s.metadata.Album != "" {
		m["xesam:album"] = dbus.MakeVariant(s.metadata.Album)
	}
	if s.metadata.Duration > 0 {
		m["mpris:length"] = dbus.MakeVariant(s.metadata.Duration.Microseconds())
	}
	if s.metadata.ArtPath != "" {
		m["mpris:artUrl"] = dbus.MakeVariant("file://" + s.metadata.ArtPath)
	}
	return m
}

func (s *MPRISSession) emitSeeked(position time.Duration) error {
	return s.conn.Emit(dbus.ObjectPath(mprisObjectPath), mprisPlayerInterface+".Seeked", position.Microseconds())
}

func (s *MPRISSession) emitPropertiesChanged(props map[string]dbus.Variant) error {
	return s.conn.Emit(
		dbus.ObjectPath(mprisObjectPath),
		propertiesInterface+".PropertiesChanged",
		mprisPlayerInterface,
		props,
		[]string{},
	)
}
