package integrations

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/marcus/daybreak/internal/config"
)

// ChatAdapter polls a Slack-compatible workspace channel over its HTTP API.
// The checkpoint cursor is the newest message timestamp seen.
type ChatAdapter struct {
	key     Key
	baseURL string
	token   string
	channel string
	client  *http.Client
	cps     Checkpoints

	mu         sync.Mutex
	nextCursor string
}

// NewChat constructs a chat adapter from account configuration.
func NewChat(acct config.Account, cps Checkpoints) (*ChatAdapter, error) {
	key := Key{Source: SourceChat, AccountID: acct.ID}

	if acct.Token == "" {
		return nil, &ConfigError{Key: key, Reason: "token is required"}
	}
	if acct.Channel == "" {
		return nil, &ConfigError{Key: key, Reason: "channel is required"}
	}

	baseURL := acct.BaseURL
	if baseURL == "" {
		baseURL = "https://slack.com"
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, &ConfigError{Key: key, Reason: fmt.Sprintf("invalid base_url: %v", err)}
	}

	return &ChatAdapter{
		key:     key,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   acct.Token,
		channel: acct.Channel,
		client:  &http.Client{Timeout: 30 * time.Second},
		cps:     cps,
	}, nil
}

func (c *ChatAdapter) Key() Key { return c.key }

type chatAuthResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	User  string `json:"user"`
}

// Authenticate verifies the token against the auth endpoint.
func (c *ChatAdapter) Authenticate(ctx context.Context) error {
	var resp chatAuthResponse
	if err := c.get(ctx, "/api/auth.test", nil, &resp); err != nil {
		return &AuthError{Key: c.key, Err: err}
	}
	if !resp.OK {
		return &AuthError{Key: c.key, Err: fmt.Errorf("auth.test: %s", resp.Error)}
	}
	return nil
}

type chatMessage struct {
	Type string `json:"type"`
	TS   string `json:"ts"`
	User string `json:"user"`
	Text string `json:"text"`
}

type chatHistoryResponse struct {
	OK       bool          `json:"ok"`
	Error    string        `json:"error"`
	Messages []chatMessage `json:"messages"`
}

// Poll fetches channel history newer than the checkpoint.
func (c *ChatAdapter) Poll(ctx context.Context) ([]NormalizedItem, error) {
	cursor, err := c.cps.Cursor(ctx, c.key)
	if err != nil {
		return nil, &PollError{Key: c.key, Err: fmt.Errorf("loading checkpoint: %w", err)}
	}

	params := url.Values{
		"channel": {c.channel},
		"limit":   {"200"},
	}
	if cursor != "" {
		params.Set("oldest", cursor)
	}

	var resp chatHistoryResponse
	if err := c.get(ctx, "/api/conversations.history", params, &resp); err != nil {
		return nil, &PollError{Key: c.key, Err: err}
	}
	if !resp.OK {
		return nil, &PollError{Key: c.key, Err: fmt.Errorf("conversations.history: %s", resp.Error)}
	}

	var items []NormalizedItem
	var latest string

	// History returns newest first; process oldest first.
	for i := len(resp.Messages) - 1; i >= 0; i-- {
		msg := resp.Messages[i]
		if msg.Type != "message" || msg.TS == cursor || strings.TrimSpace(msg.Text) == "" {
			continue
		}

		items = append(items, NormalizedItem{
			ItemID:     msg.TS,
			AccountID:  c.key.AccountID,
			Source:     SourceChat,
			Title:      firstLine(msg.Text, 80),
			Body:       msg.Text,
			OccurredAt: tsToTime(msg.TS),
			Metadata: map[string]string{
				"channel": c.channel,
				"user":    msg.User,
			},
		})
		if msg.TS > latest {
			latest = msg.TS
		}
	}

	c.mu.Lock()
	c.nextCursor = latest
	c.mu.Unlock()

	return items, nil
}

// Advance persists the checkpoint computed by the last Poll. Until then the
// same messages are returned again on every poll.
func (c *ChatAdapter) Advance(ctx context.Context) error {
	c.mu.Lock()
	cursor := c.nextCursor
	c.nextCursor = ""
	c.mu.Unlock()

	if cursor == "" {
		return nil
	}
	if err := c.cps.SetCursor(ctx, c.key, cursor); err != nil {
		return &PollError{Key: c.key, Err: fmt.Errorf("saving checkpoint: %w", err)}
	}
	return nil
}

func (c *ChatAdapter) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// firstLine returns the first line of text truncated to max runes.
func firstLine(text string, max int) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	runes := []rune(text)
	if len(runes) > max {
		return string(runes[:max-1]) + "…"
	}
	return text
}

// tsToTime converts a Slack-style "seconds.micros" timestamp.
func tsToTime(ts string) time.Time {
	parts := strings.SplitN(ts, ".", 2)
	var sec, micro int64
	_, _ = fmt.Sscanf(parts[0], "%d", &sec)
	if len(parts) == 2 {
		_, _ = fmt.Sscanf(parts[1], "%d", &micro)
	}
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, micro*1000).UTC()
}
