package aisession

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/relayhelp/voice-bridge-service/internal/config"
	"github.com/relayhelp/voice-bridge-service/internal/prompts"
	"github.com/relayhelp/voice-bridge-service/pkg/logger"
	"go.uber.org/zap"
)

// Events is the sink for provider events. Implementations must not block for
// long; the client's read loop calls them inline.
type Events interface {
	// OnSessionReady fires once the socket is open and the session has been
	// configured. Commands issued earlier have been flushed in order.
	OnSessionReady()
	OnResponseCreated()
	// OnAudioDelta carries one chunk of assistant audio (base64 µ-law) and
	// the conversation item it belongs to.
	OnAudioDelta(itemID, delta string)
	// OnUserTranscript delivers the completed transcription of a caller turn.
	OnUserTranscript(text string)
	// OnAssistantTranscriptDelta streams partial assistant text.
	OnAssistantTranscriptDelta(text string)
	OnSpeechStarted()
	OnSpeechStopped()
	// OnResponseDone delivers the final assistant text of the turn (empty if
	// the provider sent none).
	OnResponseDone(finalText string)
	OnSessionError(code, message string)
	// OnSessionClosed fires exactly once when the session ends, whether by
	// Close, dial failure, or a dead socket.
	OnSessionClosed(err error)
}

// Config carries per-call session parameters.
type Config struct {
	URL          string
	APIKey       string
	Model        string
	Voice        string
	Instructions string
}

type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client drives one realtime session. Commands issued before the socket is
// ready are buffered and flushed in order once the handshake completes, so
// callers never poll for readiness.
type Client struct {
	cfg    Config
	events Events
	connID string

	mu      sync.Mutex
	conn    wsConn
	ready   bool
	pending [][]byte

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewClient builds a client for one call. Run must be started for anything
// to happen.
func NewClient(cfg Config, events Events) *Client {
	return &Client{cfg: cfg, events: events, connID: uuid.New().String()}
}

// Run dials the realtime endpoint, configures the session, flushes any
// buffered commands, and pumps provider events until the session ends. It
// blocks; start it on its own goroutine. OnSessionClosed is always delivered
// exactly once before Run returns.
func (c *Client) Run() {
	dialer := websocket.Dialer{HandshakeTimeout: config.ReadyTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	url := fmt.Sprintf("%s?model=%s", c.cfg.URL, c.cfg.Model)
	conn, resp, err := dialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.fireClosed(fmt.Errorf("dial realtime session: %w", err))
		return
	}

	if err := c.start(conn); err != nil {
		conn.Close()
		if errors.Is(err, errSessionClosed) {
			// Close raced the dial; the session ended cleanly before it began.
			c.fireClosed(nil)
		} else {
			c.fireClosed(err)
		}
		return
	}

	c.events.OnSessionReady()
	c.readLoop(conn)
}

// errSessionClosed signals that Close won the race against the dial, so the
// freshly opened connection must be discarded instead of installed.
var errSessionClosed = errors.New("session closed during handshake")

// start installs the connection, sends session.update, and flushes commands
// buffered during the handshake in their original order. It refuses the
// connection when Close already ran, so a late dial never leaves a socket
// pumping events at a finished call.
func (c *Client) start(conn wsConn) error {
	update := sessionUpdate{
		Type: "session.update",
		Session: sessionConfig{
			TurnDetection: &turnDetection{
				Type:              "server_vad",
				Threshold:         config.VADThreshold,
				PrefixPaddingMs:   config.VADPrefixPaddingMs,
				SilenceDurationMs: config.VADSilenceDurationMs,
			},
			InputAudioFormat:        config.AudioFormat,
			OutputAudioFormat:       config.AudioFormat,
			Voice:                   c.cfg.Voice,
			Instructions:            c.instructions(),
			Modalities:              []string{"text", "audio"},
			InputAudioTranscription: &transcriptionConfig{Model: config.TranscriptionModel},
		},
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return errSessionClosed
	}

	c.conn = conn
	if err := conn.WriteMessage(websocket.TextMessage, mustMarshal(update)); err != nil {
		return fmt.Errorf("send session.update: %w", err)
	}

	for _, cmd := range c.pending {
		if err := conn.WriteMessage(websocket.TextMessage, cmd); err != nil {
			return fmt.Errorf("flush buffered command: %w", err)
		}
	}
	c.pending = nil
	c.ready = true
	return nil
}

func (c *Client) instructions() string {
	if c.cfg.Instructions != "" {
		return c.cfg.Instructions
	}
	return prompts.AgentInstructions
}

func (c *Client) readLoop(conn wsConn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				c.fireClosed(nil)
			} else {
				c.fireClosed(fmt.Errorf("realtime socket closed: %w", err))
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	ev, err := parseServerEvent(data)
	if err != nil {
		logger.Base().Warn("skipping malformed realtime event",
			zap.String("connection_id", c.connID), zap.Error(err))
		return
	}

	switch ev.Type {
	case "session.created", "session.updated":
		logger.Base().Debug("realtime session configured",
			zap.String("connection_id", c.connID), zap.String("event", ev.Type))
	case "response.created":
		c.events.OnResponseCreated()
	case "response.audio.delta", "response.output_audio.delta":
		c.events.OnAudioDelta(ev.ItemID, ev.Delta)
	case "conversation.item.input_audio_transcription.completed":
		c.events.OnUserTranscript(ev.Transcript)
	case "response.audio_transcript.delta", "response.output_text.delta":
		c.events.OnAssistantTranscriptDelta(ev.Delta)
	case "input_audio_buffer.speech_started":
		c.events.OnSpeechStarted()
	case "input_audio_buffer.speech_stopped":
		c.events.OnSpeechStopped()
	case "response.done":
		c.events.OnResponseDone(finalAssistantText(ev.Response))
	case "error":
		code, msg := "", ""
		if ev.Error != nil {
			code, msg = ev.Error.Code, ev.Error.Message
		}
		c.events.OnSessionError(code, msg)
	default:
		// The provider emits many bookkeeping events the bridge has no use
		// for (rate limits, item lifecycle, buffer acks).
	}
}

// AppendAudio forwards one chunk of caller audio (base64 µ-law).
func (c *Client) AppendAudio(chunk string) error {
	return c.send(mustMarshal(audioAppend{Type: "input_audio_buffer.append", Audio: chunk}))
}

// CommitAudio closes out the input buffer, usually right before teardown.
func (c *Client) CommitAudio() error {
	return c.send(mustMarshal(audioCommit{Type: "input_audio_buffer.commit"}))
}

// CreateResponse asks the model to generate the next assistant turn.
func (c *Client) CreateResponse() error {
	return c.send(mustMarshal(responseCreate{Type: "response.create"}))
}

// CreateResponseWithInstructions generates a turn with one-off instructions,
// used for the opening greeting.
func (c *Client) CreateResponseWithInstructions(instructions string) error {
	return c.send(mustMarshal(responseCreate{
		Type:     "response.create",
		Response: &responseParams{Instructions: instructions},
	}))
}

// CancelResponse aborts the in-flight response. Harmless when none is active.
func (c *Client) CancelResponse() error {
	return c.send(mustMarshal(responseCancel{Type: "response.cancel"}))
}

// TruncateItem cuts the assistant's last conversation item down to the audio
// actually heard by the caller, so the model's context matches reality after
// a barge-in.
func (c *Client) TruncateItem(itemID string, audioEndMs int64) error {
	if audioEndMs < 0 {
		audioEndMs = 0
	}
	return c.send(mustMarshal(itemTruncate{
		Type:       "conversation.item.truncate",
		ItemID:     itemID,
		AudioEndMs: audioEndMs,
	}))
}

// send writes the command if the session is ready, otherwise buffers it for
// the flush in start.
func (c *Client) send(cmd []byte) error {
	if c.closed.Load() {
		return fmt.Errorf("realtime session closed")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready {
		c.pending = append(c.pending, cmd)
		return nil
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, cmd); err != nil {
		return fmt.Errorf("write realtime command: %w", err)
	}
	return nil
}

// Close tears the session down. Safe to call more than once.
func (c *Client) Close() error {
	c.closed.Store(true)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	// Dial never completed; make sure the terminal event still fires.
	c.fireClosed(nil)
	return nil
}

func (c *Client) fireClosed(err error) {
	c.closeOnce.Do(func() {
		c.events.OnSessionClosed(err)
	})
}
