// Package aisession manages the outbound websocket to the OpenAI Realtime
// API: session configuration, the command surface the bridge drives, and the
// provider events it listens to.
package aisession

import "encoding/json"

// Client-to-server commands.

type sessionUpdate struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	TurnDetection           *turnDetection       `json:"turn_detection"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	Voice                   string               `json:"voice"`
	Instructions            string               `json:"instructions"`
	Modalities              []string             `json:"modalities"`
	InputAudioTranscription *transcriptionConfig `json:"input_audio_transcription"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type transcriptionConfig struct {
	Model string `json:"model"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type audioCommit struct {
	Type string `json:"type"`
}

type responseCreate struct {
	Type     string          `json:"type"`
	Response *responseParams `json:"response,omitempty"`
}

type responseParams struct {
	Instructions string   `json:"instructions,omitempty"`
	Modalities   []string `json:"modalities,omitempty"`
}

type responseCancel struct {
	Type string `json:"type"`
}

type itemTruncate struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMs   int64  `json:"audio_end_ms"`
}

// Server-to-client events. One envelope covers every type the bridge cares
// about; unknown fields are simply absent.

type serverEvent struct {
	Type       string          `json:"type"`
	ItemID     string          `json:"item_id"`
	Delta      string          `json:"delta"`
	Transcript string          `json:"transcript"`
	Error      *serverError    `json:"error"`
	Response   *serverResponse `json:"response"`
}

type serverError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type serverResponse struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Output []outputItem `json:"output"`
}

type outputItem struct {
	ID      string        `json:"id"`
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	Transcript string `json:"transcript"`
}

func parseServerEvent(data []byte) (*serverEvent, error) {
	var ev serverEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// finalAssistantText extracts the spoken assistant text from a completed
// response: audio parts carry a transcript, text parts carry text.
func finalAssistantText(resp *serverResponse) string {
	if resp == nil {
		return ""
	}
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			switch part.Type {
			case "audio", "output_audio":
				if part.Transcript != "" {
					return part.Transcript
				}
			case "text", "output_text":
				if part.Text != "" {
					return part.Text
				}
			}
		}
	}
	return ""
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// All command types marshal by construction.
		panic(err)
	}
	return data
}
