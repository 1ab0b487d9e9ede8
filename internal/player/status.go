package player

import (
	"fmt"
)

// Status request bits. The acknowledgement for a pausable stage is the
// request bit shifted left by ackShift.
const (
	statusAudioPause uint32 = 1 << iota
	statusVideoPause
	statusRenderPause
	statusFullSeek
	statusAudioSeek
	statusVideoSeek
	statusReconnect
	statusClose
)

const ackShift = 16

func ack(req uint32) uint32 { return req << ackShift }

// Msg is a notification code. Values are four-character codes so hosts
// can log them readably.
type Msg uint32

func fourcc(s string) Msg {
	return Msg(uint32(s[0])<<24 | uint32(s[1])<<16 | uint32(s[2])<<8 | uint32(s[3]))
}

var (
	MsgOpenDone         = fourcc("OPEN")
	MsgOpenFailed       = fourcc("FAIL")
	MsgPlayCompleted    = fourcc("END ")
	MsgSnapshotTaken    = fourcc("SNAP")
	MsgStreamConnected  = fourcc("CNCT")
	MsgStreamDisconnect = fourcc("DISC")
	MsgVideoResized     = fourcc("SIZE")
)

func (m Msg) String() string {
	switch m {
	case MsgOpenDone:
		return "open_done"
	case MsgOpenFailed:
		return "open_failed"
	case MsgPlayCompleted:
		return "play_completed"
	case MsgSnapshotTaken:
		return "snapshot_taken"
	case MsgStreamConnected:
		return "stream_connected"
	case MsgStreamDisconnect:
		return "stream_disconnect"
	case MsgVideoResized:
		return "video_resized"
	}
	return fmt.Sprintf("msg_%08x", uint32(m))
}

// Notifier receives asynchronous player events. It is called from player
// goroutines and must not block or call back into Close.
type Notifier func(msg Msg, payload any)

// Notification is one event delivered through NotifyChan.
type Notification struct {
	Msg     Msg
	Payload any
}

// NotifyChan returns a Notifier that forwards events to ch, dropping them
// when ch is full.
func NotifyChan(ch chan<- Notification) Notifier {
	return func(msg Msg, payload any) {
		select {
		case ch <- Notification{Msg: msg, Payload: payload}:
		default:
		}
	}
}

// VideoSize is the payload of MsgVideoResized.
type VideoSize struct {
	Width  int
	Height int
}

// SnapshotResult is the payload of MsgSnapshotTaken.
type SnapshotResult struct {
	Path string
	Err  error
}

// SeekMode selects how Seek interprets its target.
type SeekMode int

const (
	SeekAbsolute SeekMode = iota
	SeekStepForward
	SeekStepBackward
)

func (m SeekMode) String() string {
	switch m {
	case SeekAbsolute:
		return "absolute"
	case SeekStepForward:
		return "step_forward"
	case SeekStepBackward:
		return "step_backward"
	}
	return fmt.Sprintf("seek_mode_%d", int(m))
}

// State is a point-in-time view of the session for hosts and health checks.
type State struct {
	SessionID    string `json:"session_id"`
	URL          string `json:"url"`
	Opened       bool   `json:"opened"`
	Playing      bool   `json:"playing"`
	Paused       bool   `json:"paused"`
	Seeking      bool   `json:"seeking"`
	Reconnecting bool   `json:"reconnecting"`
	Completed    bool   `json:"completed"`
	Closed       bool   `json:"closed"`
	Live         bool   `json:"live"`
	Position     int64  `json:"position_ms"`
	Duration     int64  `json:"duration_ms"`
	HasAudio     bool   `json:"has_audio"`
	HasVideo     bool   `json:"has_video"`
	Datarate     int    `json:"datarate"`
}
