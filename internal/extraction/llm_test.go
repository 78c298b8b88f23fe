package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marcus/daybreak/internal/config"
	"github.com/marcus/daybreak/internal/integrations"
)

func testItem() integrations.NormalizedItem {
	return integrations.NormalizedItem{
		ItemID:     "msg-42",
		AccountID:  "work",
		Source:     integrations.SourceMail,
		Title:      "Q3 budget review",
		Body:       "Can you send the revised numbers by Thursday?",
		OccurredAt: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
	}
}

func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req["stream"] != false {
			t.Error("expected stream=false")
		}
		fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"prompt_eval_count":120,"eval_count":45}`, content)
	}))
}

func TestExtractParsesCandidates(t *testing.T) {
	srv := chatServer(t, `{"candidates":[
		{"title":"Send revised Q3 numbers","description":"Finance asked for updates","priority":"HIGH","due_date":"2025-06-05","tags":["finance"],"confidence":0.85},
		{"title":"","description":"empty titles are dropped","confidence":0.9},
		{"title":"Check in with Sam","priority":"low","confidence":1.7}
	]}`)
	defer srv.Close()

	llm := NewLLM(config.Extractor{Endpoint: srv.URL, Model: "llama3.1", Timeout: 5 * time.Second})

	candidates, usage, err := llm.Extract(context.Background(), testItem())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if len(candidates) != 2 {
		t.Fatalf("candidates = %d, want 2", len(candidates))
	}
	if candidates[0].Title != "Send revised Q3 numbers" {
		t.Errorf("title = %q", candidates[0].Title)
	}
	if candidates[0].Priority != "high" {
		t.Errorf("priority = %q, want normalized high", candidates[0].Priority)
	}
	if candidates[0].DueDate == nil || candidates[0].DueDate.Format("2006-01-02") != "2025-06-05" {
		t.Errorf("due date = %v", candidates[0].DueDate)
	}
	if candidates[1].Confidence != 1.0 {
		t.Errorf("confidence = %v, want clamped to 1.0", candidates[1].Confidence)
	}

	if usage.PromptTokens != 120 || usage.CompletionTokens != 45 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestExtractNoTasksIsNotAnError(t *testing.T) {
	srv := chatServer(t, `{"candidates":[]}`)
	defer srv.Close()

	llm := NewLLM(config.Extractor{Endpoint: srv.URL, Model: "llama3.1"})

	candidates, _, err := llm.Extract(context.Background(), testItem())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("candidates = %d, want 0", len(candidates))
	}
}

func TestExtractErrorsAreTyped(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"http error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
		{"non-json model output", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"message":{"role":"assistant","content":"Sure! Here are the tasks..."}}`)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			llm := NewLLM(config.Extractor{Endpoint: srv.URL, Model: "llama3.1"})

			_, _, err := llm.Extract(context.Background(), testItem())
			var extErr *ExtractionError
			if !errors.As(err, &extErr) {
				t.Errorf("Extract error = %v, want *ExtractionError", err)
			}
		})
	}
}

func TestExtractTransportFailure(t *testing.T) {
	llm := NewLLM(config.Extractor{Endpoint: "http://127.0.0.1:1", Model: "llama3.1", Timeout: time.Second})

	_, _, err := llm.Extract(context.Background(), testItem())
	var extErr *ExtractionError
	if !errors.As(err, &extErr) {
		t.Errorf("Extract error = %v, want *ExtractionError", err)
	}
}
