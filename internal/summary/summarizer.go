// Package summary turns a finished call transcript into a structured ticket
// via a chat completion, and persists both the call record and the ticket.
package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/relayhelp/voice-bridge-service/internal/bridge"
	"github.com/relayhelp/voice-bridge-service/internal/domain"
	"github.com/relayhelp/voice-bridge-service/internal/prompts"
	"github.com/relayhelp/voice-bridge-service/internal/repository"
	"github.com/relayhelp/voice-bridge-service/pkg/logger"
	"go.uber.org/zap"
)

const requestTimeout = 30 * time.Second

// Outcome is the structured extraction returned by the model.
type Outcome struct {
	Category      string `json:"category"`
	ContactName   string `json:"contact_name"`
	ContactNumber string `json:"contact_number"`
	ContactEmail  string `json:"contact_email"`
	Satisfied     bool   `json:"satisfied"`
	Summary       string `json:"summary"`
}

// Service implements bridge.Summarizer against the OpenAI chat completions
// API. Repos may be nil, in which case results are only logged.
type Service struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	repos      repository.RepositoryManager
}

// NewService builds a summarizer.
func NewService(apiKey, model, baseURL string, repos repository.RepositoryManager) *Service {
	return &Service{
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
		repos:      repos,
	}
}

// Summarize processes one finished call. It is called on its own goroutine
// by the bridge and must never panic; every failure path just logs.
func (s *Service) Summarize(ctx context.Context, result bridge.CallResult) {
	log := logger.Base().With(zap.String("call_sid", result.CallSid))

	if len(result.Transcript) == 0 {
		log.Info("skipping summary for empty call")
		s.persist(ctx, result, nil, log)
		return
	}

	outcome, err := s.extract(ctx, result.Transcript)
	if err != nil {
		log.Error("call summary extraction failed", zap.Error(err))
		s.persist(ctx, result, nil, log)
		return
	}

	log.Info("call summarized",
		zap.String("category", outcome.Category),
		zap.Bool("satisfied", outcome.Satisfied),
		zap.String("summary", outcome.Summary))

	s.persist(ctx, result, outcome, log)
}

// extract runs the chat completion and parses the strict-JSON reply.
func (s *Service) extract(ctx context.Context, transcript domain.QALog) (*Outcome, error) {
	transcriptJSON, err := json.Marshal(transcript)
	if err != nil {
		return nil, fmt.Errorf("marshal transcript: %w", err)
	}

	reqBody := chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "user", Content: prompts.SummaryPrompt + string(transcriptJSON)},
		},
		Temperature:    0,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call completion API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("completion API status %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("completion returned no choices")
	}

	return ParseOutcome(parsed.Choices[0].Message.Content)
}

// ParseOutcome decodes the model's JSON reply, tolerating markdown fences.
func ParseOutcome(content string) (*Outcome, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var outcome Outcome
	if err := json.Unmarshal([]byte(content), &outcome); err != nil {
		return nil, fmt.Errorf("decode outcome: %w", err)
	}
	if outcome.Summary == "" {
		return nil, fmt.Errorf("outcome missing summary")
	}
	return &outcome, nil
}

// persist writes the call record and, when extraction succeeded, the ticket.
func (s *Service) persist(ctx context.Context, result bridge.CallResult, outcome *Outcome, log *zap.Logger) {
	if s.repos == nil {
		return
	}

	record := &domain.CallRecord{
		CallSid:    result.CallSid,
		StreamSid:  result.StreamSid,
		Status:     domain.CallStatusEnded,
		Transcript: result.Transcript,
		StartedAt:  result.StartedAt,
		EndedAt:    result.EndedAt,
	}

	err := s.repos.WithTx(ctx, func(ctx context.Context, repos repository.RepositoryManager) error {
		if err := repos.CallRecord().Create(ctx, record); err != nil {
			return err
		}
		if outcome == nil {
			return nil
		}
		ticket := &domain.Ticket{
			CallRecordID:  record.ID,
			Category:      normalizeCategory(outcome.Category),
			ContactName:   outcome.ContactName,
			ContactNumber: outcome.ContactNumber,
			ContactEmail:  outcome.ContactEmail,
			Satisfied:     outcome.Satisfied,
			Summary:       outcome.Summary,
		}
		return repos.Ticket().Create(ctx, ticket)
	})
	if err != nil {
		log.Error("failed to persist call outcome", zap.Error(err))
	}
}

func normalizeCategory(category string) domain.TicketCategory {
	switch domain.TicketCategory(strings.ToLower(strings.TrimSpace(category))) {
	case domain.TicketCategoryQuestion:
		return domain.TicketCategoryQuestion
	case domain.TicketCategoryIssue:
		return domain.TicketCategoryIssue
	case domain.TicketCategoryFollowUp:
		return domain.TicketCategoryFollowUp
	default:
		return domain.TicketCategoryGeneral
	}
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}
