// Package bridge implements the per-call state machine that relays audio and
// turn-taking events between a telephony media stream and a realtime AI
// session.
package bridge

import (
	"context"
	"time"

	"github.com/relayhelp/voice-bridge-service/internal/domain"
)

// State is the lifecycle of one bridged call.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateFinalizing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// TurnState tracks who currently holds the conversational floor.
type TurnState int32

const (
	TurnIdle TurnState = iota
	TurnAssistantSpeaking
	TurnBargeIn
)

func (t TurnState) String() string {
	switch t {
	case TurnIdle:
		return "idle"
	case TurnAssistantSpeaking:
		return "assistant_speaking"
	case TurnBargeIn:
		return "barge_in"
	}
	return "unknown"
}

// TelephonyPort is the outbound surface of the telephony leg.
type TelephonyPort interface {
	SendAudio(payload string) error
	SendMark(name string) error
	SendClear() error
	Close() error
}

// AIPort is the command surface of the realtime AI leg.
type AIPort interface {
	AppendAudio(chunk string) error
	CommitAudio() error
	CreateResponse() error
	CreateResponseWithInstructions(instructions string) error
	CancelResponse() error
	TruncateItem(itemID string, audioEndMs int64) error
	Close() error
}

// Summarizer receives the finished call exactly once. Implementations run
// their own persistence; the bridge does not wait on them.
type Summarizer interface {
	Summarize(ctx context.Context, result CallResult)
}

// Monitor observes call lifecycle for cross-instance bookkeeping. Optional.
type Monitor interface {
	CallStarted(callSid string)
	CallEnded(callSid string)
}

// CallResult is the immutable outcome handed to the Summarizer.
type CallResult struct {
	CallSid    string
	StreamSid  string
	StartedAt  time.Time
	EndedAt    time.Time
	Transcript domain.QALog
}
