package summary

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relayhelp/voice-bridge-service/internal/bridge"
	"github.com/relayhelp/voice-bridge-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestParseOutcome(t *testing.T) {
	outcome, err := ParseOutcome(`{"category":"issue","contact_name":"Ada","contact_number":"+15550100","contact_email":"","satisfied":false,"summary":"Billing dispute, needs callback."}`)
	require.NoError(t, err)
	assert.Equal(t, "issue", outcome.Category)
	assert.Equal(t, "Ada", outcome.ContactName)
	assert.False(t, outcome.Satisfied)
}

func TestParseOutcomeToleratesMarkdownFences(t *testing.T) {
	outcome, err := ParseOutcome("```json\n{\"category\":\"general\",\"satisfied\":true,\"summary\":\"All good.\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "All good.", outcome.Summary)
	assert.True(t, outcome.Satisfied)
}

func TestParseOutcomeRejectsGarbage(t *testing.T) {
	_, err := ParseOutcome("I could not produce JSON, sorry")
	assert.Error(t, err)

	_, err = ParseOutcome(`{"category":"general"}`)
	assert.Error(t, err, "an outcome without a summary is useless")
}

func TestExtractCallsCompletionAPI(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"category\":\"question\",\"contact_name\":\"Bob\",\"contact_number\":\"\",\"contact_email\":\"bob@example.com\",\"satisfied\":true,\"summary\":\"Asked about opening hours.\"}"}}]}`))
	}))
	defer server.Close()

	svc := NewService("sk-test", "gpt-4o-mini", server.URL, nil)
	transcript := domain.QALog{
		{Question: strPtr("what are your hours"), Answer: "We open at nine."},
	}

	outcome, err := svc.extract(context.Background(), transcript)
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Contains(t, string(gotBody), "what are your hours",
		"transcript must reach the model")

	var req struct {
		Model string `json:"model"`
	}
	require.NoError(t, json.Unmarshal(gotBody, &req))
	assert.Equal(t, "gpt-4o-mini", req.Model)

	assert.Equal(t, "question", outcome.Category)
	assert.Equal(t, "bob@example.com", outcome.ContactEmail)
	assert.True(t, outcome.Satisfied)
}

func TestExtractSurfacesAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	svc := NewService("sk-test", "gpt-4o-mini", server.URL, nil)
	_, err := svc.extract(context.Background(), domain.QALog{{Answer: "hi"}})
	assert.Error(t, err)
}

func TestSummarizeNeverPanicsWithoutRepos(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"category\":\"general\",\"satisfied\":true,\"summary\":\"ok\"}"}}]}`))
	}))
	defer server.Close()

	svc := NewService("sk-test", "gpt-4o-mini", server.URL, nil)
	svc.Summarize(context.Background(), bridge.CallResult{
		CallSid:   "CA1",
		StartedAt: time.Now().Add(-time.Minute),
		EndedAt:   time.Now(),
		Transcript: domain.QALog{
			{Answer: "hello"},
		},
	})

	// Empty transcripts take the skip path.
	svc.Summarize(context.Background(), bridge.CallResult{CallSid: "CA2"})
}

func TestNormalizeCategory(t *testing.T) {
	assert.Equal(t, domain.TicketCategoryIssue, normalizeCategory("Issue"))
	assert.Equal(t, domain.TicketCategoryFollowUp, normalizeCategory(" follow_up "))
	assert.Equal(t, domain.TicketCategoryGeneral, normalizeCategory("nonsense"))
	assert.Equal(t, domain.TicketCategoryGeneral, normalizeCategory(""))
}
