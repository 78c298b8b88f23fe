package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/marcus/daybreak/internal/config"
	"github.com/marcus/daybreak/internal/integrations"
)

// LLM extracts candidates through an Ollama-compatible /api/chat endpoint,
// asking the model for strict JSON output.
type LLM struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewLLM creates an extractor from extractor configuration.
func NewLLM(cfg config.Extractor) *LLM {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LLM{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		model:    cfg.Model,
		client:   &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Message         chatMessage `json:"message"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

// candidatePayload is the JSON shape the model is asked to produce.
type candidatePayload struct {
	Candidates []struct {
		Title         string   `json:"title"`
		Description   string   `json:"description"`
		Priority      string   `json:"priority"`
		DueDate       string   `json:"due_date"`
		Tags          []string `json:"tags"`
		DocumentLinks []string `json:"document_links"`
		InitiativeID  string   `json:"initiative_id"`
		Confidence    float64  `json:"confidence"`
	} `json:"candidates"`
}

// Extract asks the model for task candidates in the item's text.
func (l *LLM) Extract(ctx context.Context, item integrations.NormalizedItem) ([]Candidate, Usage, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model:    l.model,
		Messages: []chatMessage{{Role: "user", Content: buildPrompt(item)}},
		Stream:   false,
		Format:   "json",
	})
	if err != nil {
		return nil, Usage{}, &ExtractionError{Op: "encode", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint+"/api/chat", bytes.NewReader(reqBody))
	if err != nil {
		return nil, Usage{}, &ExtractionError{Op: "request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, Usage{}, &ExtractionError{Op: "call", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, Usage{}, &ExtractionError{Op: "call", Err: fmt.Errorf("status %d: %s", resp.StatusCode, body)}
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, Usage{}, &ExtractionError{Op: "decode", Err: err}
	}

	usage := Usage{
		PromptTokens:     chat.PromptEvalCount,
		CompletionTokens: chat.EvalCount,
	}

	var payload candidatePayload
	if err := json.Unmarshal([]byte(chat.Message.Content), &payload); err != nil {
		return nil, usage, &ExtractionError{Op: "parse", Err: fmt.Errorf("model output is not valid JSON: %w", err)}
	}

	candidates := make([]Candidate, 0, len(payload.Candidates))
	for _, c := range payload.Candidates {
		if strings.TrimSpace(c.Title) == "" {
			continue
		}
		candidates = append(candidates, Candidate{
			Title:         strings.TrimSpace(c.Title),
			Description:   strings.TrimSpace(c.Description),
			Priority:      strings.ToLower(strings.TrimSpace(c.Priority)),
			DueDate:       parseDueDate(c.DueDate),
			Tags:          c.Tags,
			DocumentLinks: c.DocumentLinks,
			InitiativeID:  c.InitiativeID,
			Confidence:    clamp01(c.Confidence),
		})
	}

	return candidates, usage, nil
}

func buildPrompt(item integrations.NormalizedItem) string {
	var hints strings.Builder
	if item.HintPriority != "" {
		fmt.Fprintf(&hints, "Source priority hint: %s\n", item.HintPriority)
	}
	if len(item.HintTags) > 0 {
		fmt.Fprintf(&hints, "Source tags: %s\n", strings.Join(item.HintTags, ", "))
	}

	return fmt.Sprintf(`You extract actionable tasks from a person's communications.

## Item
Source: %s
Title: %s
Received: %s
%s
## Content
%s

## Instructions
1. Identify concrete, actionable tasks for the recipient. FYI-only content yields no tasks.
2. For each task, estimate how confident you are that it is a real task for the recipient (0.0-1.0).
3. Use due dates only when the content states or strongly implies one (RFC3339 or YYYY-MM-DD).
4. Output only valid JSON (no markdown, no extra text). The output is read by a machine. Use this schema:

{
  "candidates": [
    {
      "title": "short imperative title",
      "description": "what needs to happen and why",
      "priority": "critical|high|medium|low",
      "due_date": "",
      "tags": [],
      "document_links": [],
      "initiative_id": "",
      "confidence": 0.0
    }
  ]
}

Return {"candidates": []} when there is nothing actionable.
`, item.Source, item.Title, item.OccurredAt.Format(time.RFC3339), hints.String(), item.Body)
}

func parseDueDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
