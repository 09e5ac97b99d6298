// Package telephony normalizes the Twilio Media Streams websocket protocol
// into plain events and send operations, so the rest of the service never
// touches the wire format.
package telephony

import "encoding/json"

// Inbound frame envelope. Twilio tags every message with an "event" field and
// nests the payload under a matching key.
type inboundFrame struct {
	Event     string      `json:"event"`
	StreamSid string      `json:"streamSid,omitempty"`
	Start     *startFrame `json:"start,omitempty"`
	Media     *mediaFrame `json:"media,omitempty"`
	Mark      *markFrame  `json:"mark,omitempty"`
}

type startFrame struct {
	StreamSid  string `json:"streamSid"`
	CallSid    string `json:"callSid"`
	AccountSid string `json:"accountSid"`
}

type mediaFrame struct {
	Track string `json:"track"`
	Chunk string `json:"chunk"`
	// Timestamp is milliseconds since stream start. Twilio encodes it as a
	// string; json.Number also tolerates a bare number.
	Timestamp json.Number `json:"timestamp"`
	// Payload is base64-encoded G.711 µ-law audio.
	Payload string `json:"payload"`
}

type markFrame struct {
	Name string `json:"name"`
}

// Outbound frames, keyed by streamSid.

type outboundMedia struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid"`
	Media     mediaPayload `json:"media"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

type outboundMark struct {
	Event     string      `json:"event"`
	StreamSid string      `json:"streamSid"`
	Mark      markPayload `json:"mark"`
}

type markPayload struct {
	Name string `json:"name"`
}

type outboundClear struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}
