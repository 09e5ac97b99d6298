package aisession

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWsConn struct {
	mu      sync.Mutex
	written [][]byte
	failAll bool
}

func (f *fakeWsConn) ReadMessage() (int, []byte, error) {
	return 0, nil, errors.New("not used")
}

func (f *fakeWsConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errors.New("write failed")
	}
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeWsConn) Close() error { return nil }

func (f *fakeWsConn) types(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var types []string
	for _, data := range f.written {
		var env struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(data, &env))
		types = append(types, env.Type)
	}
	return types
}

type recordedAIEvents struct {
	mu          sync.Mutex
	ready       int
	created     int
	audio       []string
	userText    []string
	deltas      []string
	speechOn    int
	speechOff   int
	done        []string
	errors      []string
	closed      int
	closeErrors []error
}

func (r *recordedAIEvents) OnSessionReady() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready++
}

func (r *recordedAIEvents) OnResponseCreated() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created++
}

func (r *recordedAIEvents) OnAudioDelta(itemID, delta string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio = append(r.audio, itemID+":"+delta)
}

func (r *recordedAIEvents) OnUserTranscript(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userText = append(r.userText, text)
}

func (r *recordedAIEvents) OnAssistantTranscriptDelta(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deltas = append(r.deltas, text)
}

func (r *recordedAIEvents) OnSpeechStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speechOn++
}

func (r *recordedAIEvents) OnSpeechStopped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speechOff++
}

func (r *recordedAIEvents) OnResponseDone(finalText string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = append(r.done, finalText)
}

func (r *recordedAIEvents) OnSessionError(code, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, code+":"+message)
}

func (r *recordedAIEvents) OnSessionClosed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	r.closeErrors = append(r.closeErrors, err)
}

func newTestClient() (*Client, *recordedAIEvents) {
	events := &recordedAIEvents{}
	client := NewClient(Config{
		URL:    "wss://example.invalid/v1/realtime",
		APIKey: "sk-test",
		Model:  "test-model",
		Voice:  "alloy",
	}, events)
	return client, events
}

func TestCommandsBufferedUntilReady(t *testing.T) {
	client, _ := newTestClient()

	require.NoError(t, client.AppendAudio("chunk-1"))
	require.NoError(t, client.AppendAudio("chunk-2"))
	require.NoError(t, client.CreateResponseWithInstructions("greet"))

	conn := &fakeWsConn{}
	require.NoError(t, client.start(conn))

	types := conn.types(t)
	require.Len(t, types, 4, "session.update plus three buffered commands")
	assert.Equal(t, "session.update", types[0], "session.update always goes first")
	assert.Equal(t, []string{
		"input_audio_buffer.append",
		"input_audio_buffer.append",
		"response.create",
	}, types[1:], "buffered commands flush in original order")
}

func TestCommandsWriteDirectlyWhenReady(t *testing.T) {
	client, _ := newTestClient()
	conn := &fakeWsConn{}
	require.NoError(t, client.start(conn))

	require.NoError(t, client.AppendAudio("chunk"))
	require.NoError(t, client.CommitAudio())
	require.NoError(t, client.CreateResponse())
	require.NoError(t, client.CancelResponse())
	require.NoError(t, client.TruncateItem("item-1", 640))

	types := conn.types(t)
	assert.Equal(t, []string{
		"session.update",
		"input_audio_buffer.append",
		"input_audio_buffer.commit",
		"response.create",
		"response.cancel",
		"conversation.item.truncate",
	}, types)
}

func TestSessionUpdatePayload(t *testing.T) {
	client, _ := newTestClient()
	conn := &fakeWsConn{}
	require.NoError(t, client.start(conn))

	var update struct {
		Type    string `json:"type"`
		Session struct {
			TurnDetection struct {
				Type              string  `json:"type"`
				Threshold         float64 `json:"threshold"`
				PrefixPaddingMs   int     `json:"prefix_padding_ms"`
				SilenceDurationMs int     `json:"silence_duration_ms"`
			} `json:"turn_detection"`
			InputAudioFormat  string   `json:"input_audio_format"`
			OutputAudioFormat string   `json:"output_audio_format"`
			Voice             string   `json:"voice"`
			Modalities        []string `json:"modalities"`
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(conn.written[0], &update))

	assert.Equal(t, "session.update", update.Type)
	assert.Equal(t, "server_vad", update.Session.TurnDetection.Type)
	assert.Equal(t, 0.6, update.Session.TurnDetection.Threshold)
	assert.Equal(t, 200, update.Session.TurnDetection.PrefixPaddingMs)
	assert.Equal(t, 300, update.Session.TurnDetection.SilenceDurationMs)
	assert.Equal(t, "g711_ulaw", update.Session.InputAudioFormat)
	assert.Equal(t, "g711_ulaw", update.Session.OutputAudioFormat)
	assert.Equal(t, "alloy", update.Session.Voice)
	assert.Equal(t, []string{"text", "audio"}, update.Session.Modalities)
}

func TestTruncateClampsNegativeOffsets(t *testing.T) {
	client, _ := newTestClient()
	conn := &fakeWsConn{}
	require.NoError(t, client.start(conn))

	require.NoError(t, client.TruncateItem("item-1", -50))

	var truncate struct {
		Type       string `json:"type"`
		ItemID     string `json:"item_id"`
		AudioEndMs int64  `json:"audio_end_ms"`
	}
	require.NoError(t, json.Unmarshal(conn.written[1], &truncate))
	assert.Equal(t, "conversation.item.truncate", truncate.Type)
	assert.Equal(t, "item-1", truncate.ItemID)
	assert.Equal(t, int64(0), truncate.AudioEndMs)
}

func TestDispatchRoutesProviderEvents(t *testing.T) {
	client, events := newTestClient()

	client.dispatch([]byte(`{"type":"response.created"}`))
	client.dispatch([]byte(`{"type":"response.audio.delta","item_id":"item-1","delta":"QUJD"}`))
	client.dispatch([]byte(`{"type":"response.output_audio.delta","item_id":"item-1","delta":"REVG"}`))
	client.dispatch([]byte(`{"type":"conversation.item.input_audio_transcription.completed","transcript":"hello there"}`))
	client.dispatch([]byte(`{"type":"response.audio_transcript.delta","delta":"Hi!"}`))
	client.dispatch([]byte(`{"type":"input_audio_buffer.speech_started"}`))
	client.dispatch([]byte(`{"type":"input_audio_buffer.speech_stopped"}`))
	client.dispatch([]byte(`{"type":"error","error":{"code":"rate_limit","message":"slow down"}}`))
	client.dispatch([]byte(`{"type":"some.future.event"}`))
	client.dispatch([]byte(`not json at all`))

	events.mu.Lock()
	defer events.mu.Unlock()
	assert.Equal(t, 1, events.created)
	assert.Equal(t, []string{"item-1:QUJD", "item-1:REVG"}, events.audio,
		"both audio delta event names are accepted")
	assert.Equal(t, []string{"hello there"}, events.userText)
	assert.Equal(t, []string{"Hi!"}, events.deltas)
	assert.Equal(t, 1, events.speechOn)
	assert.Equal(t, 1, events.speechOff)
	assert.Equal(t, []string{"rate_limit:slow down"}, events.errors)
	assert.Zero(t, events.closed, "provider errors do not close the session")
}

func TestResponseDoneExtractsFinalText(t *testing.T) {
	client, events := newTestClient()

	client.dispatch([]byte(`{
		"type": "response.done",
		"response": {
			"status": "completed",
			"output": [
				{"type": "function_call", "content": []},
				{"type": "message", "role": "assistant", "content": [
					{"type": "audio", "transcript": "We close at five."}
				]}
			]
		}
	}`))
	client.dispatch([]byte(`{"type":"response.done","response":{"status":"cancelled","output":[]}}`))

	events.mu.Lock()
	defer events.mu.Unlock()
	assert.Equal(t, []string{"We close at five.", ""}, events.done)
}

func TestCloseBeforeDialFiresClosedOnce(t *testing.T) {
	client, events := newTestClient()

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	events.mu.Lock()
	defer events.mu.Unlock()
	assert.Equal(t, 1, events.closed)
	assert.Error(t, client.AppendAudio("chunk"), "commands rejected after close")
}

func TestStartAfterCloseRefusesConnection(t *testing.T) {
	client, events := newTestClient()

	// Close lands while the dial is still in flight.
	require.NoError(t, client.Close())

	conn := &fakeWsConn{}
	err := client.start(conn)
	require.ErrorIs(t, err, errSessionClosed,
		"a late dial must not install a connection on a finished call")
	assert.Empty(t, conn.written, "no session.update goes out on a dead call")

	events.mu.Lock()
	defer events.mu.Unlock()
	assert.Equal(t, 1, events.closed)
}

func TestFinalAssistantTextPrefersTranscript(t *testing.T) {
	resp := &serverResponse{
		Output: []outputItem{
			{Type: "message", Content: []contentPart{
				{Type: "output_audio", Transcript: "spoken words"},
				{Type: "text", Text: "typed words"},
			}},
		},
	}
	assert.Equal(t, "spoken words", finalAssistantText(resp))
	assert.Equal(t, "", finalAssistantText(nil))
}
