package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/austinkregel/local-media/jukeboxd/internal/audio"
	"github.com/austinkregel/local-media/jukeboxd/internal/config"
	"github.com/austinkregel/local-media/jukeboxd/internal/jukebox"
	"github.com/austinkregel/local-media/jukeboxd/internal/media"
	"github.com/austinkregel/local-media/jukeboxd/internal/queue"
)

const (
	// writeTimeout bounds a single write to a client so one stuck reader
	// cannot stall pushes to the others.
	writeTimeout = 5 * time.Second

	graphTimeout = 5 * time.Second
)

// Player is the playback surface the server drives.
type Player interface {
	Play(ctx context.Context, path string, metadata *audio.TrackMetadata) error
	Pause() error
	Resume() error
	Stop() error
	Seek(positionMs int64) error
	SetVolume(volume float64) error
	Status() audio.Status
	UpdateLoopStatus(status media.LoopStatus) error
	UpdateShuffle(enabled bool) error

	SetOnTrackEnd(callback audio.TrackEndCallback)
	SetOnNext(callback audio.QueueCallback)
	SetOnPrevious(callback audio.QueueCallback)
	SetOnLoop(callback audio.LoopCallback)
	SetOnShuffle(callback audio.ShuffleCallback)
}

// Jukebox is the orchestrator surface exposed to clients.
type Jukebox interface {
	SetEnabled(on bool) error
	SetBouncing(on bool) error
	ApplySettings(s jukebox.Settings) error
	Graph(ctx context.Context) (*jukebox.GraphSnapshot, error)
	Status() jukebox.Status
	Subscribe(fn jukebox.Observer) func()
}

// client is one connected peer, over the Unix socket or a WebSocket.
type client struct {
	name       string
	mu         sync.Mutex
	write      func(msg []byte) error
	subscribed atomic.Bool
}

func (c *client) send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(msg)
}

// Server handles IPC communication with clients
type Server struct {
	socketPath string
	configMgr  *config.Manager
	player     Player
	queueMgr   *queue.Manager
	jukebox    Jukebox
	log        zerolog.Logger

	listener       net.Listener
	mu             sync.Mutex
	clients        map[*client]struct{}
	advancingTrack sync.Mutex // Prevents concurrent next/prev track calls

	pushes       chan jukebox.Status
	unsubJukebox func()
}

// NewServer creates a new IPC server and hooks it into the player's queue
// callbacks and the jukebox's status stream.
func NewServer(
	socketPath string,
	configMgr *config.Manager,
	player Player,
	queueMgr *queue.Manager,
	jb Jukebox,
) *Server {
	s := &Server{
		socketPath: socketPath,
		configMgr:  configMgr,
		player:     player,
		queueMgr:   queueMgr,
		jukebox:    jb,
		log:        log.With().Str("component", "ipc").Logger(),
		clients:    make(map[*client]struct{}),
		pushes:     make(chan jukebox.Status, 1),
	}

	player.SetOnTrackEnd(func(finishedPath string) {
		s.log.Debug().Str("path", finishedPath).Msg("track ended, advancing queue")
		s.playNextTrack(context.Background())
	})

	player.SetOnNext(func() {
		s.log.Debug().Msg("next track requested via OS media controls")
		s.playNextTrack(context.Background())
	})

	player.SetOnPrevious(func() {
		s.log.Debug().Msg("previous track requested via OS media controls")
		s.playPrevTrack(context.Background())
	})

	player.SetOnLoop(func(status media.LoopStatus) {
		s.log.Debug().Str("loop", string(status)).Msg("loop status changed via OS media controls")
		s.queueMgr.SetRepeat(repeatForLoop(status))
	})

	player.SetOnShuffle(func(enabled bool) {
		s.log.Debug().Bool("shuffle", enabled).Msg("shuffle toggled via OS media controls")
		s.queueMgr.SetShuffle(enabled)
	})

	s.unsubJukebox = jb.Subscribe(s.queuePush)
	return s
}

func repeatForLoop(status media.LoopStatus) queue.RepeatMode {
	switch status {
	case media.LoopTrack:
		return queue.RepeatOne
	case media.LoopPlaylist:
		return queue.RepeatAll
	default:
		return queue.RepeatOff
	}
}

func loopForRepeat(mode queue.RepeatMode) media.LoopStatus {
	switch mode {
	case queue.RepeatOne:
		return media.LoopTrack
	case queue.RepeatAll:
		return media.LoopPlaylist
	default:
		return media.LoopNone
	}
}

// playNextTrack advances to the next track in the queue and starts playing
func (s *Server) playNextTrack(ctx context.Context) bool {
	s.advancingTrack.Lock()
	defer s.advancingTrack.Unlock()

	item, ok := s.queueMgr.Next()
	if !ok {
		s.log.Info().Msg("no more tracks in queue")
		return false
	}
	return s.playItem(ctx, item) == nil
}

// playPrevTrack goes to the previous track in the queue and starts playing
func (s *Server) playPrevTrack(ctx context.Context) bool {
	s.advancingTrack.Lock()
	defer s.advancingTrack.Unlock()

	item, ok := s.queueMgr.Prev()
	if !ok {
		s.log.Info().Msg("no previous track in queue")
		return false
	}
	return s.playItem(ctx, item) == nil
}

// ResumeQueue plays the queue's current item, if there is one.
func (s *Server) ResumeQueue(ctx context.Context) bool {
	s.advancingTrack.Lock()
	defer s.advancingTrack.Unlock()

	item, ok := s.queueMgr.Current()
	if !ok {
		return false
	}
	return s.playItem(ctx, item) == nil
}

func (s *Server) playItem(ctx context.Context, item queue.QueueItem) error {
	s.log.Info().Str("path", item.Path).Str("trackId", item.TrackID).Msg("playing")
	if err := s.player.Play(ctx, item.Path, audioMetadata(item)); err != nil {
		s.log.Error().Err(err).Str("path", item.Path).Msg("failed to play track")
		return err
	}
	return nil
}

// audioMetadata carries the queue item's identity and display tags to the
// player. It returns nil when there is nothing to carry so the player probes
// the file.
func audioMetadata(item queue.QueueItem) *audio.TrackMetadata {
	if item.Metadata == nil && item.TrackID == "" && item.Kind == "" {
		return nil
	}
	md := &audio.TrackMetadata{TrackID: item.TrackID, Kind: string(item.Kind)}
	if m := item.Metadata; m != nil {
		md.Title = m.Title
		md.Artist = m.Artist
		md.Album = m.Album
		md.Duration = m.Duration
		md.ArtPath = m.ArtPath
	}
	return md
}

func toQueueItem(item QueueItem) queue.QueueItem {
	qi := queue.QueueItem{
		Path:    item.Path,
		TrackID: item.TrackID,
		Kind:    jukebox.Kind(item.Kind),
	}
	if m := item.Metadata; m != nil {
		qi.Metadata = &queue.TrackMetadata{
			Title:    m.Title,
			Artist:   m.Artist,
			Album:    m.Album,
			Duration: m.Duration,
			ArtPath:  m.ArtPath,
		}
	}
	return qi
}

func fromQueueItem(qi queue.QueueItem) QueueItem {
	item := QueueItem{Path: qi.Path, TrackID: qi.TrackID, Kind: string(qi.Kind)}
	if m := qi.Metadata; m != nil {
		item.Metadata = &TrackMetadata{
			Title:    m.Title,
			Artist:   m.Artist,
			Album:    m.Album,
			Duration: m.Duration,
			ArtPath:  m.ArtPath,
		}
	}
	return item
}

// Start listens on the Unix socket and serves clients until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	s.listener = listener

	// Set socket permissions (user-only)
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.log.Info().Str("socket", s.socketPath).Msg("listening")

	go s.acceptLoop(ctx)
	go s.pushLoop(ctx)

	<-ctx.Done()

	s.unsubJukebox()

	s.mu.Lock()
	clientCount := len(s.clients)
	s.mu.Unlock()

	listener.Close()
	os.RemoveAll(s.socketPath)

	s.log.Info().Int("clients", clientCount).Msg("server stopped")
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Error().Err(err).Msg("accept error")
			continue
		}
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	s.log.Debug().Str("client", c.name).Int("clients", n).Msg("client connected")
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	n := len(s.clients)
	s.mu.Unlock()
	s.log.Debug().Str("client", c.name).Int("clients", n).Msg("client disconnected")
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	c := &client{
		name: conn.RemoteAddr().String(),
		write: func(msg []byte) error {
			line := make([]byte, 0, len(msg)+1)
			line = append(append(line, msg...), '\n')
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_, err := conn.Write(line)
			return err
		},
	}
	s.addClient(c)

	// Unblock the read below on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		stop()
		conn.Close()
		s.removeClient(c)
	}()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				s.log.Debug().Err(err).Str("client", c.name).Msg("read error")
			}
			return
		}

		if err := s.serveMessage(ctx, c, line); err != nil {
			s.log.Debug().Err(err).Str("client", c.name).Msg("send error")
			return
		}
	}
}

// serveMessage decodes one request, handles it and writes the response.
func (s *Server) serveMessage(ctx context.Context, c *client, msg []byte) error {
	req, err := DecodeRequest(msg)
	if err != nil {
		s.log.Debug().Err(err).Str("client", c.name).Msg("invalid request format")
		return s.sendResponse(c, NewErrorResponse("invalid request format"))
	}

	start := time.Now()
	resp := s.handleRequest(ctx, c, req)
	logRequest(s.log, c.name, req, resp, time.Since(start))

	return s.sendResponse(c, resp)
}

func (s *Server) sendResponse(c *client, resp *Response) error {
	data, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	return c.send(data)
}

func (s *Server) handleRequest(ctx context.Context, c *client, req *Request) *Response {
	switch req.Cmd {
	case CmdPlay:
		return s.handlePlay(ctx, req)
	case CmdPause:
		return s.handlePause()
	case CmdResume:
		return s.handleResume()
	case CmdStop:
		return s.handleStop()
	case CmdNext:
		return s.handleNext(ctx)
	case CmdPrev:
		return s.handlePrev(ctx)
	case CmdQueue:
		return s.handleQueue(req)
	case CmdSeek:
		return s.handleSeek(req)
	case CmdVolume:
		return s.handleVolume(req)
	case CmdStatus:
		return s.handleStatus()
	case CmdGetConfig:
		return s.handleGetConfig()
	case CmdSetConfig:
		return s.handleSetConfig(req)
	case CmdGetQueue:
		return s.handleGetQueue()
	case CmdSetRepeat:
		return s.handleSetRepeat(req)
	case CmdSetShuffle:
		return s.handleSetShuffle(req)
	case CmdQueueJump:
		return s.handleQueueJump(ctx, req)
	case CmdQueueRemove:
		return s.handleQueueRemove(req)
	case CmdQueueMove:
		return s.handleQueueMove(req)
	case CmdJukeboxEnable:
		return s.handleJukeboxEnabled(true)
	case CmdJukeboxDisable:
		return s.handleJukeboxEnabled(false)
	case CmdJukeboxStatus:
		return success(s.jukebox.Status())
	case CmdJukeboxGetSettings:
		return s.handleJukeboxGetSettings()
	case CmdJukeboxSetSettings:
		return s.handleJukeboxSetSettings(req)
	case CmdJukeboxBounce:
		return s.handleJukeboxBounce(req)
	case CmdJukeboxGraph:
		return s.handleJukeboxGraph(ctx)
	case CmdSubscribeJukebox:
		c.subscribed.Store(true)
		return success(map[string]bool{"subscribed": true})
	case CmdUnsubscribeJukebox:
		c.subscribed.Store(false)
		return success(map[string]bool{"subscribed": false})
	default:
		return NewErrorResponse("unknown command")
	}
}

func success(data interface{}) *Response {
	resp, err := NewSuccessResponse(data)
	if err != nil {
		return NewErrorResponse("internal error")
	}
	return resp
}

func (s *Server) handlePlay(ctx context.Context, req *Request) *Response {
	var playReq PlayRequest
	if err := json.Unmarshal(req.Data, &playReq); err != nil {
		return NewErrorResponse("invalid play request")
	}
	if playReq.Path == "" {
		return NewErrorResponse("path is required")
	}

	item := toQueueItem(QueueItem{
		Path:     playReq.Path,
		TrackID:  playReq.TrackID,
		Kind:     playReq.Kind,
		Metadata: playReq.Metadata,
	})

	// Play from the queue when the track is already in it, otherwise
	// replace the queue with this single track.
	found := false
	for i, qi := range s.queueMgr.GetItems() {
		if qi.Path == playReq.Path {
			s.queueMgr.Jump(i)
			found = true
			break
		}
	}
	if !found {
		s.queueMgr.Set([]queue.QueueItem{item})
		s.queueMgr.Jump(0)
	}

	if err := s.playItem(ctx, item); err != nil {
		return NewErrorResponse(err.Error())
	}
	return s.handleStatus()
}

func (s *Server) handlePause() *Response {
	if err := s.player.Pause(); err != nil {
		return NewErrorResponse(err.Error())
	}
	return s.handleStatus()
}

func (s *Server) handleResume() *Response {
	if err := s.player.Resume(); err != nil {
		return NewErrorResponse(err.Error())
	}
	return s.handleStatus()
}

func (s *Server) handleStop() *Response {
	if err := s.player.Stop(); err != nil {
		return NewErrorResponse(err.Error())
	}
	return s.handleStatus()
}

func (s *Server) handleNext(ctx context.Context) *Response {
	if !s.playNextTrack(ctx) {
		return NewErrorResponse("no next track")
	}
	return s.handleStatus()
}

func (s *Server) handlePrev(ctx context.Context) *Response {
	if !s.playPrevTrack(ctx) {
		return NewErrorResponse("no previous track")
	}
	return s.handleStatus()
}

func (s *Server) handleQueue(req *Request) *Response {
	var queueReq QueueRequest
	if err := json.Unmarshal(req.Data, &queueReq); err != nil {
		return NewErrorResponse("invalid queue request")
	}

	items := make([]queue.QueueItem, 0, len(queueReq.Items))
	for _, item := range queueReq.Items {
		if item.Path == "" {
			return NewErrorResponse("path is required")
		}
		items = append(items, toQueueItem(item))
	}

	if queueReq.Append {
		s.queueMgr.Append(items)
	} else {
		s.queueMgr.Set(items)
	}
	s.log.Info().Int("items", len(items)).Bool("append", queueReq.Append).Msg("queue updated")

	return s.handleStatus()
}

func (s *Server) handleSeek(req *Request) *Response {
	var seekReq SeekRequest
	if err := json.Unmarshal(req.Data, &seekReq); err != nil {
		return NewErrorResponse("invalid seek request")
	}
	if err := s.player.Seek(seekReq.Position); err != nil {
		return NewErrorResponse(err.Error())
	}
	return s.handleStatus()
}

func (s *Server) handleVolume(req *Request) *Response {
	var volReq VolumeRequest
	if err := json.Unmarshal(req.Data, &volReq); err != nil {
		return NewErrorResponse("invalid volume request")
	}
	if volReq.Level < 0 || volReq.Level > 1 {
		return NewErrorResponse("volume must be between 0 and 1")
	}
	if err := s.player.SetVolume(volReq.Level); err != nil {
		return NewErrorResponse(err.Error())
	}
	return s.handleStatus()
}

func (s *Server) handleStatus() *Response {
	status := s.player.Status()
	index, size := s.queueMgr.Position()

	resp := StatusResponse{
		State:      string(status.State),
		Path:       status.Path,
		Position:   status.Position,
		Duration:   status.Duration,
		Volume:     status.Volume,
		QueueIndex: index,
		QueueSize:  size,
		RepeatMode: s.queueMgr.GetRepeat().String(),
		Shuffle:    s.queueMgr.GetShuffle(),
		Jukebox:    s.jukebox.Status().Enabled,
	}
	if m := status.Metadata; m != nil {
		resp.TrackID = m.TrackID
		resp.Metadata = &TrackMetadata{
			Title:    m.Title,
			Artist:   m.Artist,
			Album:    m.Album,
			Duration: m.Duration,
			ArtPath:  m.ArtPath,
		}
	}
	return success(resp)
}

func (s *Server) handleGetConfig() *Response {
	cfg := s.configMgr.Get()
	return success(ConfigResponse{
		ConfigPath:         s.configMgr.GetPath(),
		SampleRate:         cfg.Audio.SampleRate,
		BufferSizeMs:       cfg.Audio.BufferSizeMs,
		DefaultVolume:      cfg.Audio.DefaultVolume,
		TickMs:             cfg.Audio.TickMs,
		ResumeOnStart:      cfg.Behavior.ResumeOnStart,
		RememberQueue:      cfg.Behavior.RememberQueue,
		JukeboxOnStart:     cfg.Behavior.JukeboxOnStart,
		AnalysisServiceURL: cfg.Analysis.ServiceURL,
		HasAnalysisToken:   cfg.Analysis.Token != "",
		SidecarSuffix:      cfg.Analysis.SidecarSuffix,
		WebListenAddr:      cfg.Web.ListenAddr,
	})
}

func (s *Server) handleSetConfig(req *Request) *Response {
	var configReq ConfigRequest
	if err := json.Unmarshal(req.Data, &configReq); err != nil {
		return NewErrorResponse("invalid config request")
	}

	cfg := s.configMgr.Get()
	if configReq.SampleRate != nil {
		cfg.Audio.SampleRate = *configReq.SampleRate
	}
	if configReq.BufferSizeMs != nil {
		cfg.Audio.BufferSizeMs = *configReq.BufferSizeMs
	}
	if configReq.DefaultVolume != nil {
		cfg.Audio.DefaultVolume = *configReq.DefaultVolume
	}
	if configReq.TickMs != nil {
		cfg.Audio.TickMs = *configReq.TickMs
	}
	if configReq.ResumeOnStart != nil {
		cfg.Behavior.ResumeOnStart = *configReq.ResumeOnStart
	}
	if configReq.RememberQueue != nil {
		cfg.Behavior.RememberQueue = *configReq.RememberQueue
	}
	if configReq.JukeboxOnStart != nil {
		cfg.Behavior.JukeboxOnStart = *configReq.JukeboxOnStart
	}
	if configReq.AnalysisServiceURL != nil {
		cfg.Analysis.ServiceURL = *configReq.AnalysisServiceURL
	}
	if configReq.AnalysisToken != nil {
		cfg.Analysis.Token = *configReq.AnalysisToken
	}
	if configReq.SidecarSuffix != nil {
		cfg.Analysis.SidecarSuffix = *configReq.SidecarSuffix
	}
	if configReq.WebListenAddr != nil {
		cfg.Web.ListenAddr = *configReq.WebListenAddr
	}

	if err := s.configMgr.Update(cfg); err != nil {
		return NewErrorResponse(err.Error())
	}
	return s.handleGetConfig()
}

func (s *Server) handleGetQueue() *Response {
	items := s.queueMgr.GetItems()
	index, _ := s.queueMgr.Position()

	resp := GetQueueResponse{
		Items:      make([]QueueItem, len(items)),
		Index:      index,
		RepeatMode: s.queueMgr.GetRepeat().String(),
		Shuffle:    s.queueMgr.GetShuffle(),
	}
	for i, qi := range items {
		resp.Items[i] = fromQueueItem(qi)
	}
	return success(resp)
}

func (s *Server) handleSetRepeat(req *Request) *Response {
	var repeatReq SetRepeatRequest
	if err := json.Unmarshal(req.Data, &repeatReq); err != nil {
		return NewErrorResponse("invalid setRepeat request")
	}
	mode, err := queue.ParseRepeatMode(repeatReq.Mode)
	if err != nil {
		return NewErrorResponse(err.Error())
	}

	s.queueMgr.SetRepeat(mode)
	if err := s.player.UpdateLoopStatus(loopForRepeat(mode)); err != nil {
		s.log.Debug().Err(err).Msg("failed to update media session loop status")
	}
	return s.handleStatus()
}

func (s *Server) handleSetShuffle(req *Request) *Response {
	var shuffleReq SetShuffleRequest
	if err := json.Unmarshal(req.Data, &shuffleReq); err != nil {
		return NewErrorResponse("invalid setShuffle request")
	}

	s.queueMgr.SetShuffle(shuffleReq.Enabled)
	if err := s.player.UpdateShuffle(shuffleReq.Enabled); err != nil {
		s.log.Debug().Err(err).Msg("failed to update media session shuffle")
	}
	return s.handleStatus()
}

func (s *Server) handleQueueJump(ctx context.Context, req *Request) *Response {
	var jumpReq QueueJumpRequest
	if err := json.Unmarshal(req.Data, &jumpReq); err != nil {
		return NewErrorResponse("invalid queueJump request")
	}

	s.advancingTrack.Lock()
	defer s.advancingTrack.Unlock()

	item, ok := s.queueMgr.Jump(jumpReq.Index)
	if !ok {
		return NewErrorResponse("invalid queue index")
	}
	if err := s.playItem(ctx, item); err != nil {
		return NewErrorResponse(err.Error())
	}
	return s.handleStatus()
}

func (s *Server) handleQueueRemove(req *Request) *Response {
	var removeReq QueueRemoveRequest
	if err := json.Unmarshal(req.Data, &removeReq); err != nil {
		return NewErrorResponse("invalid queueRemove request")
	}
	if !s.queueMgr.Remove(removeReq.Index) {
		return NewErrorResponse("invalid queue index")
	}
	return s.handleStatus()
}

func (s *Server) handleQueueMove(req *Request) *Response {
	var moveReq QueueMoveRequest
	if err := json.Unmarshal(req.Data, &moveReq); err != nil {
		return NewErrorResponse("invalid queueMove request")
	}
	if !s.queueMgr.Move(moveReq.FromIndex, moveReq.ToIndex) {
		return NewErrorResponse("invalid queue index")
	}
	return s.handleGetQueue()
}

func (s *Server) handleJukeboxEnabled(on bool) *Response {
	if err := s.jukebox.SetEnabled(on); err != nil {
		return NewErrorResponse(err.Error())
	}
	return success(s.jukebox.Status())
}

func (s *Server) handleJukeboxGetSettings() *Response {
	settings, _, err := s.configMgr.LoadJukeboxSettings()
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	return success(settings)
}

func (s *Server) handleJukeboxSetSettings(req *Request) *Response {
	var settingsReq JukeboxSettingsRequest
	if err := json.Unmarshal(req.Data, &settingsReq); err != nil {
		return NewErrorResponse("invalid jukeboxSetSettings request")
	}

	current, _, err := s.configMgr.LoadJukeboxSettings()
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	settings := settingsReq.Apply(current).Normalize()
	if err := s.jukebox.ApplySettings(settings); err != nil {
		return NewErrorResponse(err.Error())
	}
	return success(settings)
}

func (s *Server) handleJukeboxBounce(req *Request) *Response {
	var bounceReq JukeboxBounceRequest
	if err := json.Unmarshal(req.Data, &bounceReq); err != nil {
		return NewErrorResponse("invalid jukeboxBounce request")
	}
	if err := s.jukebox.SetBouncing(bounceReq.Enabled); err != nil {
		return NewErrorResponse(err.Error())
	}
	return success(s.jukebox.Status())
}

func (s *Server) handleJukeboxGraph(ctx context.Context) *Response {
	ctx, cancel := context.WithTimeout(ctx, graphTimeout)
	defer cancel()

	g, err := s.jukebox.Graph(ctx)
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	if g == nil {
		return NewErrorResponse("no active jukebox session")
	}
	return success(g)
}

// queuePush hands a status to pushLoop, replacing one that has not been
// sent yet. It runs on the jukebox loop and never blocks.
func (s *Server) queuePush(status jukebox.Status) {
	for {
		select {
		case s.pushes <- status:
			return
		default:
		}
		select {
		case <-s.pushes:
		default:
		}
	}
}

// pushLoop sends jukebox status to subscribed clients.
func (s *Server) pushLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case status := <-s.pushes:
			s.broadcast(status)
		}
	}
}

func (s *Server) broadcast(status jukebox.Status) {
	msg, err := NewPushMessage(PushJukebox, status)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode jukebox push")
		return
	}

	s.mu.Lock()
	subs := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		if c.subscribed.Load() {
			subs = append(subs, c)
		}
	}
	s.mu.Unlock()

	for _, c := range subs {
		if err := c.send(msg); err != nil {
			c.subscribed.Store(false)
			s.log.Debug().Err(err).Str("client", c.name).Msg("dropping jukebox subscriber")
		}
	}
}
