package ipc

import (
	"time"

	"github.com/rs/zerolog"
)

// isPollingCmd reports commands clients issue on a timer; they are logged
// at trace level only.
func isPollingCmd(cmd CommandType) bool {
	return cmd == CmdStatus || cmd == CmdJukeboxStatus || cmd == CmdGetQueue
}

// logRequest records a handled request and its outcome.
func logRequest(logger zerolog.Logger, client string, req *Request, resp *Response, duration time.Duration) {
	level := zerolog.DebugLevel
	switch {
	case !resp.Success:
		level = zerolog.WarnLevel
	case isPollingCmd(req.Cmd):
		level = zerolog.TraceLevel
	}

	ev := logger.WithLevel(level).
		Str("client", client).
		Str("cmd", string(req.Cmd)).
		Dur("duration", duration)
	if !resp.Success {
		ev = ev.Str("error", resp.Error)
	}
	ev.Msg("request")
}
