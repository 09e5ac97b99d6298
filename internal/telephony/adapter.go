package telephony

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/relayhelp/voice-bridge-service/pkg/logger"
	"go.uber.org/zap"
)

// Events is the sink for normalized inbound stream events. Implementations
// must not block for long; the adapter's read loop calls them inline.
type Events interface {
	// OnStreamStart fires once, when the start frame arrives.
	OnStreamStart(streamSid, callSid string)
	// OnMediaFrame carries one chunk of caller audio (base64 µ-law) with the
	// stream-relative timestamp in milliseconds.
	OnMediaFrame(timestampMs int64, payload string)
	// OnMarkConsumed reports that Twilio finished playing audio up to the
	// named mark.
	OnMarkConsumed(name string)
	// OnStreamStop fires exactly once, on a stop frame or when the socket
	// dies. It is the adapter's terminal event.
	OnStreamStop()
}

// Conn is the subset of *websocket.Conn the adapter needs. Tests substitute
// an in-memory implementation.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Adapter owns one Twilio Media Streams websocket. Reads are normalized into
// Events callbacks; SendAudio/SendMark/SendClear write outbound frames keyed
// by the streamSid learned from the start frame.
type Adapter struct {
	conn   Conn
	events Events

	writeMu   sync.Mutex
	streamSid atomic.Value // string
	closed    atomic.Bool
	stopOnce  sync.Once
}

// NewAdapter wraps an upgraded websocket connection.
func NewAdapter(conn Conn, events Events) *Adapter {
	return &Adapter{conn: conn, events: events}
}

// ReadLoop pumps inbound frames until the stream stops or the socket errors.
// Malformed frames are logged and skipped; they never terminate the stream.
// The terminal OnStreamStop is delivered exactly once, then ReadLoop returns.
func (a *Adapter) ReadLoop() {
	defer a.fireStop()

	for {
		_, data, err := a.conn.ReadMessage()
		if err != nil {
			if !a.closed.Load() {
				logger.Base().Info("telephony socket closed", zap.Error(err))
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Base().Warn("skipping malformed telephony frame", zap.Error(err))
			continue
		}

		switch frame.Event {
		case "connected":
			// Protocol preamble, nothing to do.
		case "start":
			if frame.Start == nil {
				logger.Base().Warn("start frame missing payload")
				continue
			}
			a.streamSid.Store(frame.Start.StreamSid)
			a.events.OnStreamStart(frame.Start.StreamSid, frame.Start.CallSid)
		case "media":
			if frame.Media == nil || frame.Media.Payload == "" {
				continue
			}
			ts, err := frame.Media.Timestamp.Int64()
			if err != nil {
				logger.Base().Warn("skipping media frame with bad timestamp",
					zap.String("timestamp", frame.Media.Timestamp.String()))
				continue
			}
			a.events.OnMediaFrame(ts, frame.Media.Payload)
		case "mark":
			if frame.Mark == nil {
				continue
			}
			a.events.OnMarkConsumed(frame.Mark.Name)
		case "stop":
			return
		default:
			logger.Base().Debug("ignoring telephony event", zap.String("event", frame.Event))
		}
	}
}

// SendAudio writes one media frame of base64 µ-law audio to the caller.
func (a *Adapter) SendAudio(payload string) error {
	sid, err := a.requireStream()
	if err != nil {
		return err
	}
	return a.writeJSON(outboundMedia{
		Event:     "media",
		StreamSid: sid,
		Media:     mediaPayload{Payload: payload},
	})
}

// SendMark asks Twilio to echo the named mark back once playback reaches it.
func (a *Adapter) SendMark(name string) error {
	sid, err := a.requireStream()
	if err != nil {
		return err
	}
	return a.writeJSON(outboundMark{
		Event:     "mark",
		StreamSid: sid,
		Mark:      markPayload{Name: name},
	})
}

// SendClear flushes Twilio's buffered outbound audio. Used on barge-in.
func (a *Adapter) SendClear() error {
	sid, err := a.requireStream()
	if err != nil {
		return err
	}
	return a.writeJSON(outboundClear{Event: "clear", StreamSid: sid})
}

// Close tears down the socket. Safe to call more than once; the read loop
// treats the resulting read error as a normal stop.
func (a *Adapter) Close() error {
	a.closed.Store(true)
	return a.conn.Close()
}

func (a *Adapter) requireStream() (string, error) {
	if a.closed.Load() {
		return "", fmt.Errorf("telephony connection closed")
	}
	sid, _ := a.streamSid.Load().(string)
	if sid == "" {
		return "", fmt.Errorf("stream not started")
	}
	return sid, nil
}

func (a *Adapter) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal outbound frame: %w", err)
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if err := a.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write outbound frame: %w", err)
	}
	return nil
}

func (a *Adapter) fireStop() {
	a.stopOnce.Do(a.events.OnStreamStop)
}
