package bridge

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/relayhelp/voice-bridge-service/internal/domain"
	"github.com/relayhelp/voice-bridge-service/internal/prompts"
	"github.com/relayhelp/voice-bridge-service/pkg/logger"
	"go.uber.org/zap"
)

const eventQueueSize = 256

// Options configures a Controller.
type Options struct {
	Telephony  TelephonyPort
	AI         AIPort
	Registry   *Registry
	Summarizer Summarizer
	// Monitor is optional cross-instance bookkeeping.
	Monitor Monitor
	// Greeting overrides the default opening instructions when non-empty.
	Greeting string
}

// Controller runs the state machine for one call. All event handlers are
// serialized through a single queue goroutine, so no per-field locking is
// needed inside them; the mutex exists only so Snapshot can observe a
// consistent view from other goroutines.
//
// The Controller is the Events sink for both the telephony adapter and the
// AI session client: each callback enqueues a closure and returns.
type Controller struct {
	opts Options

	events chan func()
	done   chan struct{}

	mu sync.RWMutex

	state State
	turn  TurnState

	callSid   string
	streamSid string
	startedAt time.Time
	endedAt   time.Time

	latestMediaTimestamp   int64
	responseStartTimestamp int64 // -1 when no assistant audio in flight
	lastAssistantItemID    string
	markQueue              []string
	responseActive         bool

	pendingUserUtterance *string
	assistantText        strings.Builder
	qaLog                domain.QALog

	registered bool
	monitored  bool
	finalized  bool
}

// NewController builds a controller in the Connecting state. Call Start to
// begin processing events.
func NewController(opts Options) *Controller {
	return &Controller{
		opts:                   opts,
		events:                 make(chan func(), eventQueueSize),
		done:                   make(chan struct{}),
		state:                  StateConnecting,
		turn:                   TurnIdle,
		responseStartTimestamp: -1,
	}
}

// Bind attaches the two legs. The adapters need the controller as their
// events sink, so ports are attached after construction and before Start.
func (c *Controller) Bind(telephony TelephonyPort, ai AIPort) {
	c.opts.Telephony = telephony
	c.opts.AI = ai
}

// Start launches the event loop goroutine.
func (c *Controller) Start() {
	go c.loop()
}

func (c *Controller) loop() {
	for {
		select {
		case fn := <-c.events:
			c.mu.Lock()
			fn()
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}

// post enqueues an event handler. Events arriving after finalize are dropped.
func (c *Controller) post(fn func()) {
	select {
	case c.events <- fn:
	case <-c.done:
	}
}

// Telephony events.

// OnStreamStart implements telephony.Events.
func (c *Controller) OnStreamStart(streamSid, callSid string) {
	c.post(func() { c.handleStreamStart(streamSid, callSid) })
}

// OnMediaFrame implements telephony.Events.
func (c *Controller) OnMediaFrame(timestampMs int64, payload string) {
	c.post(func() { c.handleMediaFrame(timestampMs, payload) })
}

// OnMarkConsumed implements telephony.Events.
func (c *Controller) OnMarkConsumed(name string) {
	c.post(func() { c.handleMarkConsumed(name) })
}

// OnStreamStop implements telephony.Events.
func (c *Controller) OnStreamStop() {
	c.post(c.finalize)
}

// AI session events.

// OnSessionReady implements aisession.Events.
func (c *Controller) OnSessionReady() {
	c.post(func() {
		logger.Base().Debug("realtime session ready", zap.String("call_sid", c.callSid))
	})
}

// OnResponseCreated implements aisession.Events.
func (c *Controller) OnResponseCreated() {
	c.post(func() { c.responseActive = true })
}

// OnAudioDelta implements aisession.Events.
func (c *Controller) OnAudioDelta(itemID, delta string) {
	c.post(func() { c.handleAudioDelta(itemID, delta) })
}

// OnUserTranscript implements aisession.Events.
func (c *Controller) OnUserTranscript(text string) {
	c.post(func() { c.handleUserTranscript(text) })
}

// OnAssistantTranscriptDelta implements aisession.Events.
func (c *Controller) OnAssistantTranscriptDelta(text string) {
	c.post(func() { c.assistantText.WriteString(text) })
}

// OnSpeechStarted implements aisession.Events.
func (c *Controller) OnSpeechStarted() {
	c.post(c.handleSpeechStarted)
}

// OnSpeechStopped implements aisession.Events.
func (c *Controller) OnSpeechStopped() {
	c.post(c.handleSpeechStopped)
}

// OnResponseDone implements aisession.Events.
func (c *Controller) OnResponseDone(finalText string) {
	c.post(func() { c.handleResponseDone(finalText) })
}

// OnSessionError implements aisession.Events.
func (c *Controller) OnSessionError(code, message string) {
	c.post(func() {
		logger.Base().Error("realtime session error",
			zap.String("call_sid", c.callSid),
			zap.String("code", code),
			zap.String("message", message))
	})
}

// OnSessionClosed implements aisession.Events. The call cannot continue
// without its AI leg, so this finalizes.
func (c *Controller) OnSessionClosed(err error) {
	c.post(func() {
		if err != nil && !c.finalized {
			logger.Base().Warn("realtime session ended",
				zap.String("call_sid", c.callSid), zap.Error(err))
		}
		c.finalize()
	})
}

// Handlers below run on the event loop goroutine.

func (c *Controller) handleStreamStart(streamSid, callSid string) {
	if c.state != StateConnecting {
		return
	}

	c.streamSid = streamSid
	c.callSid = callSid
	c.startedAt = time.Now()
	c.state = StateActive

	if c.opts.Registry != nil {
		if err := c.opts.Registry.Add(callSid, c); err != nil {
			logger.Base().Error("rejecting duplicate call",
				zap.String("call_sid", callSid), zap.Error(err))
			c.finalize()
			return
		}
		c.registered = true
	}
	if c.opts.Monitor != nil {
		// Off the event loop; monitor bookkeeping must not stall the relay.
		go c.opts.Monitor.CallStarted(callSid)
		c.monitored = true
	}

	logger.Base().Info("call bridged",
		zap.String("call_sid", callSid), zap.String("stream_sid", streamSid))

	greeting := c.opts.Greeting
	if greeting == "" {
		greeting = prompts.GreetingInstructions
	}
	if err := c.opts.AI.CreateResponseWithInstructions(greeting); err != nil {
		logger.Base().Warn("greeting request failed",
			zap.String("call_sid", callSid), zap.Error(err))
		return
	}
	c.responseActive = true
}

func (c *Controller) handleMediaFrame(timestampMs int64, payload string) {
	if c.state != StateActive {
		return
	}
	c.latestMediaTimestamp = timestampMs
	if err := c.opts.AI.AppendAudio(payload); err != nil {
		logger.Base().Warn("dropping caller audio chunk",
			zap.String("call_sid", c.callSid), zap.Error(err))
	}
}

func (c *Controller) handleAudioDelta(itemID, delta string) {
	if c.state != StateActive {
		return
	}

	if err := c.opts.Telephony.SendAudio(delta); err != nil {
		logger.Base().Warn("dropping assistant audio chunk",
			zap.String("call_sid", c.callSid), zap.Error(err))
		return
	}

	if c.responseStartTimestamp < 0 {
		c.responseStartTimestamp = c.latestMediaTimestamp
	}
	if itemID != "" {
		c.lastAssistantItemID = itemID
	}
	c.responseActive = true
	c.turn = TurnAssistantSpeaking

	mark := uuid.New().String()
	if err := c.opts.Telephony.SendMark(mark); err != nil {
		logger.Base().Warn("mark send failed",
			zap.String("call_sid", c.callSid), zap.Error(err))
		return
	}
	c.markQueue = append(c.markQueue, mark)
}

func (c *Controller) handleMarkConsumed(name string) {
	if len(c.markQueue) == 0 {
		return
	}
	// Marks come back in the order they were sent; pop the oldest.
	c.markQueue = c.markQueue[1:]
	if len(c.markQueue) == 0 && !c.responseActive {
		c.turn = TurnIdle
	}
}

// handleSpeechStarted is the barge-in path: the caller started talking while
// assistant audio was still queued on the telephony side. Truncate the
// assistant's item to what was actually heard, flush the telephony buffer,
// and abort the in-flight response.
func (c *Controller) handleSpeechStarted() {
	if c.state != StateActive {
		return
	}
	if len(c.markQueue) == 0 || c.responseStartTimestamp < 0 {
		return
	}

	elapsed := c.latestMediaTimestamp - c.responseStartTimestamp
	if elapsed < 0 {
		elapsed = 0
	}

	if c.lastAssistantItemID != "" {
		if err := c.opts.AI.TruncateItem(c.lastAssistantItemID, elapsed); err != nil {
			logger.Base().Warn("truncate failed",
				zap.String("call_sid", c.callSid), zap.Error(err))
		}
	}
	if err := c.opts.Telephony.SendClear(); err != nil {
		logger.Base().Warn("clear failed",
			zap.String("call_sid", c.callSid), zap.Error(err))
	}
	if c.responseActive {
		if err := c.opts.AI.CancelResponse(); err != nil {
			logger.Base().Warn("cancel failed",
				zap.String("call_sid", c.callSid), zap.Error(err))
		}
	}

	logger.Base().Debug("barge-in",
		zap.String("call_sid", c.callSid),
		zap.Int64("elapsed_ms", elapsed),
		zap.String("item_id", c.lastAssistantItemID))

	c.markQueue = nil
	c.lastAssistantItemID = ""
	c.responseStartTimestamp = -1
	c.turn = TurnBargeIn
}

// handleSpeechStopped triggers the next assistant turn. This is the single
// generation trigger: nothing else calls CreateResponse mid-call.
func (c *Controller) handleSpeechStopped() {
	if c.state != StateActive || c.responseActive {
		return
	}
	if err := c.opts.AI.CreateResponse(); err != nil {
		logger.Base().Warn("response request failed",
			zap.String("call_sid", c.callSid), zap.Error(err))
		return
	}
	c.responseActive = true
}

func (c *Controller) handleUserTranscript(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	// Last transcription before the answer wins.
	c.pendingUserUtterance = &text
}

func (c *Controller) handleResponseDone(finalText string) {
	c.responseActive = false
	c.responseStartTimestamp = -1
	c.turn = TurnIdle

	answer := finalText
	if answer == "" {
		answer = c.assistantText.String()
	}
	c.assistantText.Reset()

	if strings.TrimSpace(answer) == "" && c.pendingUserUtterance == nil {
		// Cancelled before any content; nothing worth logging as a turn.
		return
	}

	c.qaLog = append(c.qaLog, domain.QAPair{
		Question: c.pendingUserUtterance,
		Answer:   answer,
	})
	c.pendingUserUtterance = nil
}

// finalize tears the call down exactly once: commit trailing audio, close
// both legs, drop the registry entry, and hand the transcript to the
// summarizer without waiting on it.
func (c *Controller) finalize() {
	if c.finalized {
		return
	}
	c.finalized = true
	c.state = StateFinalizing
	c.endedAt = time.Now()

	if err := c.opts.AI.CommitAudio(); err != nil {
		logger.Base().Debug("final audio commit failed",
			zap.String("call_sid", c.callSid), zap.Error(err))
	}
	if err := c.opts.AI.Close(); err != nil {
		logger.Base().Debug("ai session close",
			zap.String("call_sid", c.callSid), zap.Error(err))
	}
	if err := c.opts.Telephony.Close(); err != nil {
		logger.Base().Debug("telephony close",
			zap.String("call_sid", c.callSid), zap.Error(err))
	}

	if c.registered {
		c.opts.Registry.Remove(c.callSid)
		c.registered = false
	}
	if c.monitored {
		// A rejected duplicate never announced itself, so it must not tear
		// down the surviving call's monitoring record.
		go c.opts.Monitor.CallEnded(c.callSid)
		c.monitored = false
	}

	logger.Base().Info("call finalized",
		zap.String("call_sid", c.callSid),
		zap.Int("turns", len(c.qaLog)),
		zap.Duration("duration", c.endedAt.Sub(c.startedAt)))

	if c.opts.Summarizer != nil && c.callSid != "" {
		result := CallResult{
			CallSid:    c.callSid,
			StreamSid:  c.streamSid,
			StartedAt:  c.startedAt,
			EndedAt:    c.endedAt,
			Transcript: append(domain.QALog(nil), c.qaLog...),
		}
		go c.opts.Summarizer.Summarize(context.Background(), result)
	}

	c.state = StateClosed
	close(c.done)
}

// Snapshot is a point-in-time view of controller state for observability and
// tests.
type Snapshot struct {
	State                  State
	Turn                   TurnState
	CallSid                string
	StreamSid              string
	LatestMediaTimestamp   int64
	ResponseStartTimestamp int64
	MarkQueueLen           int
	ResponseActive         bool
	Transcript             domain.QALog
}

// Snapshot returns a consistent copy of the controller's state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		State:                  c.state,
		Turn:                   c.turn,
		CallSid:                c.callSid,
		StreamSid:              c.streamSid,
		LatestMediaTimestamp:   c.latestMediaTimestamp,
		ResponseStartTimestamp: c.responseStartTimestamp,
		MarkQueueLen:           len(c.markQueue),
		ResponseActive:         c.responseActive,
		Transcript:             append(domain.QALog(nil), c.qaLog...),
	}
}

// Done is closed when the controller has fully finalized.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}
