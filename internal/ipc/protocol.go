// Package ipc handles inter-process communication between the daemon and clients.
package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/austinkregel/local-media/jukeboxd/internal/jukebox"
)

// CommandType represents the type of command
type CommandType string

const (
	CmdPlay      CommandType = "play"
	CmdPause     CommandType = "pause"
	CmdResume    CommandType = "resume"
	CmdStop      CommandType = "stop"
	CmdNext      CommandType = "next"
	CmdPrev      CommandType = "prev"
	CmdQueue     CommandType = "queue"
	CmdSeek      CommandType = "seek"
	CmdVolume    CommandType = "volume"
	CmdStatus    CommandType = "status"
	CmdGetConfig CommandType = "getConfig"
	CmdSetConfig CommandType = "setConfig"

	// Queue management commands
	CmdGetQueue    CommandType = "getQueue"
	CmdSetRepeat   CommandType = "setRepeat"
	CmdSetShuffle  CommandType = "setShuffle"
	CmdQueueJump   CommandType = "queueJump"
	CmdQueueRemove CommandType = "queueRemove"
	CmdQueueMove   CommandType = "queueMove"

	// Jukebox commands
	CmdJukeboxEnable      CommandType = "jukeboxEnable"
	CmdJukeboxDisable     CommandType = "jukeboxDisable"
	CmdJukeboxStatus      CommandType = "jukeboxStatus"
	CmdJukeboxGetSettings CommandType = "jukeboxGetSettings"
	CmdJukeboxSetSettings CommandType = "jukeboxSetSettings"
	CmdJukeboxBounce      CommandType = "jukeboxBounce"
	CmdJukeboxGraph       CommandType = "jukeboxGraph"
	CmdSubscribeJukebox   CommandType = "subscribeJukebox"
	CmdUnsubscribeJukebox CommandType = "unsubscribeJukebox"
)

// PushJukebox is the push message type carrying jukebox.Status.
const PushJukebox = "jukebox"

// PushMessage represents a server-initiated message (no request needed)
type PushMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Request represents a client request
type Request struct {
	Cmd  CommandType     `json:"cmd"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response represents a server response
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// TrackMetadata contains track metadata for display
type TrackMetadata struct {
	Title    string `json:"title,omitempty"`
	Artist   string `json:"artist,omitempty"`
	Album    string `json:"album,omitempty"`
	Duration int64  `json:"duration,omitempty"` // milliseconds
	ArtPath  string `json:"artPath,omitempty"`
}

// PlayRequest is the data for a play command
type PlayRequest struct {
	Path     string         `json:"path"`
	TrackID  string         `json:"trackId,omitempty"`
	Kind     string         `json:"kind,omitempty"`
	Metadata *TrackMetadata `json:"metadata,omitempty"`
}

// QueueItem represents an item in a queue request
type QueueItem struct {
	Path     string         `json:"path"`
	TrackID  string         `json:"trackId,omitempty"`
	Kind     string         `json:"kind,omitempty"`
	Metadata *TrackMetadata `json:"metadata,omitempty"`
}

// QueueRequest is the data for a queue command
type QueueRequest struct {
	Items  []QueueItem `json:"items"`
	Append bool        `json:"append"`
}

// SeekRequest is the data for a seek command
type SeekRequest struct {
	Position int64 `json:"position"` // milliseconds
}

// VolumeRequest is the data for a volume command
type VolumeRequest struct {
	Level float64 `json:"level"` // 0.0 - 1.0
}

// ConfigRequest is the data for a setConfig command. Nil fields are left
// unchanged.
type ConfigRequest struct {
	SampleRate         *int     `json:"sampleRate,omitempty"`
	BufferSizeMs       *int     `json:"bufferSizeMs,omitempty"`
	DefaultVolume      *float64 `json:"defaultVolume,omitempty"`
	TickMs             *int     `json:"tickMs,omitempty"`
	ResumeOnStart      *bool    `json:"resumeOnStart,omitempty"`
	RememberQueue      *bool    `json:"rememberQueue,omitempty"`
	JukeboxOnStart     *bool    `json:"jukeboxOnStart,omitempty"`
	AnalysisServiceURL *string  `json:"analysisServiceUrl,omitempty"`
	AnalysisToken      *string  `json:"analysisToken,omitempty"`
	SidecarSuffix      *string  `json:"sidecarSuffix,omitempty"`
	WebListenAddr      *string  `json:"webListenAddr,omitempty"`
}

// ConfigResponse is the response to a getConfig command
type ConfigResponse struct {
	ConfigPath         string  `json:"configPath"`
	SampleRate         int     `json:"sampleRate"`
	BufferSizeMs       int     `json:"bufferSizeMs"`
	DefaultVolume      float64 `json:"defaultVolume"`
	TickMs             int     `json:"tickMs"`
	ResumeOnStart      bool    `json:"resumeOnStart"`
	RememberQueue      bool    `json:"rememberQueue"`
	JukeboxOnStart     bool    `json:"jukeboxOnStart"`
	AnalysisServiceURL string  `json:"analysisServiceUrl,omitempty"`
	HasAnalysisToken   bool    `json:"hasAnalysisToken"`
	SidecarSuffix      string  `json:"sidecarSuffix"`
	WebListenAddr      string  `json:"webListenAddr,omitempty"`
}

// StatusResponse is the response to a status command
type StatusResponse struct {
	State      string         `json:"state"`
	Path       string         `json:"path,omitempty"`
	TrackID    string         `json:"trackId,omitempty"`
	Position   int64          `json:"position"`
	Duration   int64          `json:"duration"`
	Volume     float64        `json:"volume"`
	Metadata   *TrackMetadata `json:"metadata,omitempty"`
	QueueIndex int            `json:"queueIndex"`
	QueueSize  int            `json:"queueSize"`
	RepeatMode string         `json:"repeatMode"` // "off", "one", "all"
	Shuffle    bool           `json:"shuffle"`
	Jukebox    bool           `json:"jukebox"`
}

// GetQueueResponse is the response to a getQueue command
type GetQueueResponse struct {
	Items      []QueueItem `json:"items"`
	Index      int         `json:"index"`
	RepeatMode string      `json:"repeatMode"`
	Shuffle    bool        `json:"shuffle"`
}

// SetRepeatRequest is the data for a setRepeat command
type SetRepeatRequest struct {
	Mode string `json:"mode"` // "off", "one", "all"
}

// SetShuffleRequest is the data for a setShuffle command
type SetShuffleRequest struct {
	Enabled bool `json:"enabled"`
}

// QueueJumpRequest is the data for a queueJump command
type QueueJumpRequest struct {
	Index int `json:"index"`
}

// QueueRemoveRequest is the data for a queueRemove command
type QueueRemoveRequest struct {
	Index int `json:"index"`
}

// QueueMoveRequest is the data for a queueMove command
type QueueMoveRequest struct {
	FromIndex int `json:"fromIndex"`
	ToIndex   int `json:"toIndex"`
}

// JukeboxSettingsRequest is the data for a jukeboxSetSettings command.
// Nil fields keep their current value.
type JukeboxSettingsRequest struct {
	MaxBranchDistance        *float64 `json:"maxBranchDistance,omitempty"`
	UseDynamicBranchDistance *bool    `json:"useDynamicBranchDistance,omitempty"`
	MinRandomBranchChance    *float64 `json:"minRandomBranchChance,omitempty"`
	MaxRandomBranchChance    *float64 `json:"maxRandomBranchChance,omitempty"`
	RandomBranchChanceDelta  *float64 `json:"randomBranchChanceDelta,omitempty"`
	AddLastEdge              *bool    `json:"addLastEdge,omitempty"`
	JustBackwards            *bool    `json:"justBackwards,omitempty"`
	JustLongBranches         *bool    `json:"justLongBranches,omitempty"`
	RemoveSequentialBranches *bool    `json:"removeSequentialBranches,omitempty"`
}

// Apply returns s with the request's fields overlaid.
func (r JukeboxSettingsRequest) Apply(s jukebox.Settings) jukebox.Settings {
	setFloat := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	setBool := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	setFloat(&s.MaxBranchDistance, r.MaxBranchDistance)
	setBool(&s.UseDynamicBranchDistance, r.UseDynamicBranchDistance)
	setFloat(&s.MinRandomBranchChance, r.MinRandomBranchChance)
	setFloat(&s.MaxRandomBranchChance, r.MaxRandomBranchChance)
	setFloat(&s.RandomBranchChanceDelta, r.RandomBranchChanceDelta)
	setBool(&s.AddLastEdge, r.AddLastEdge)
	setBool(&s.JustBackwards, r.JustBackwards)
	setBool(&s.JustLongBranches, r.JustLongBranches)
	setBool(&s.RemoveSequentialBranches, r.RemoveSequentialBranches)
	return s
}

// JukeboxBounceRequest is the data for a jukeboxBounce command
type JukeboxBounceRequest struct {
	Enabled bool `json:"enabled"`
}

// EncodeRequest encodes a request to JSON
func EncodeRequest(req *Request) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeRequest decodes a request from JSON
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	return &req, nil
}

// EncodeResponse encodes a response to JSON
func EncodeResponse(resp *Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeResponse decodes a response from JSON
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data interface{}) (*Response, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	return &Response{
		Success: true,
		Data:    rawData,
	}, nil
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
	}
}

// NewPushMessage creates a push message for streaming data
func NewPushMessage(msgType string, data interface{}) ([]byte, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	msg := PushMessage{
		Type: msgType,
		Data: rawData,
	}
	return json.Marshal(msg)
}
