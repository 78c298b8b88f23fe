package integrations

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/marcus/daybreak/internal/config"
)

// MailAdapter polls a Gmail account for new messages. The OAuth client is
// built from already-provisioned credentials and token files; token
// acquisition itself happens outside the agent.
type MailAdapter struct {
	key     Key
	svc     *gmail.Service
	query   string
	cps     Checkpoints
	maxList int64

	mu         sync.Mutex
	nextCursor string
}

// NewMail constructs a mail adapter from account configuration.
func NewMail(ctx context.Context, acct config.Account, cps Checkpoints) (*MailAdapter, error) {
	key := Key{Source: SourceMail, AccountID: acct.ID}

	if acct.CredentialsFile == "" || acct.TokenFile == "" {
		return nil, &ConfigError{Key: key, Reason: "credentials_file and token_file are required"}
	}

	creds, err := os.ReadFile(acct.CredentialsFile)
	if err != nil {
		return nil, &ConfigError{Key: key, Reason: fmt.Sprintf("reading credentials: %v", err)}
	}

	oauthCfg, err := google.ConfigFromJSON(creds, gmail.GmailReadonlyScope)
	if err != nil {
		return nil, &ConfigError{Key: key, Reason: fmt.Sprintf("parsing credentials: %v", err)}
	}

	tok, err := readToken(acct.TokenFile)
	if err != nil {
		return nil, &ConfigError{Key: key, Reason: fmt.Sprintf("reading token: %v", err)}
	}

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(oauthCfg.Client(ctx, tok)))
	if err != nil {
		return nil, &ConfigError{Key: key, Reason: fmt.Sprintf("creating gmail service: %v", err)}
	}

	query := acct.Query
	if query == "" {
		query = "is:unread"
	}

	return &MailAdapter{
		key:     key,
		svc:     svc,
		query:   query,
		cps:     cps,
		maxList: 50,
	}, nil
}

func (m *MailAdapter) Key() Key { return m.key }

// Authenticate probes the account with a profile fetch.
func (m *MailAdapter) Authenticate(ctx context.Context) error {
	if _, err := m.svc.Users.GetProfile("me").Context(ctx).Do(); err != nil {
		return &AuthError{Key: m.key, Err: err}
	}
	return nil
}

// Poll lists messages newer than the checkpoint and normalizes them. The
// checkpoint cursor is the highest internal date seen, in epoch seconds.
func (m *MailAdapter) Poll(ctx context.Context) ([]NormalizedItem, error) {
	cursor, err := m.cps.Cursor(ctx, m.key)
	if err != nil {
		return nil, &PollError{Key: m.key, Err: fmt.Errorf("loading checkpoint: %w", err)}
	}

	query := m.query
	if cursor != "" {
		query = fmt.Sprintf("%s after:%s", m.query, cursor)
	}

	listed, err := m.svc.Users.Messages.List("me").
		Q(query).
		MaxResults(m.maxList).
		Context(ctx).Do()
	if err != nil {
		return nil, &PollError{Key: m.key, Err: err}
	}

	var items []NormalizedItem
	var latest int64

	// List returns newest first; process oldest first.
	for i := len(listed.Messages) - 1; i >= 0; i-- {
		ref := listed.Messages[i]
		msg, err := m.svc.Users.Messages.Get("me", ref.Id).
			Format("metadata").
			MetadataHeaders("Subject", "From").
			Context(ctx).Do()
		if err != nil {
			return nil, &PollError{Key: m.key, Err: fmt.Errorf("fetching message %s: %w", ref.Id, err)}
		}

		item := m.normalize(msg)
		items = append(items, item)
		if msg.InternalDate/1000 > latest {
			latest = msg.InternalDate / 1000
		}
	}

	m.mu.Lock()
	if latest > 0 {
		m.nextCursor = strconv.FormatInt(latest, 10)
	} else {
		m.nextCursor = ""
	}
	m.mu.Unlock()

	return items, nil
}

// Advance persists the checkpoint computed by the last Poll. Until then the
// same messages are listed again on every poll.
func (m *MailAdapter) Advance(ctx context.Context) error {
	m.mu.Lock()
	cursor := m.nextCursor
	m.nextCursor = ""
	m.mu.Unlock()

	if cursor == "" {
		return nil
	}
	if err := m.cps.SetCursor(ctx, m.key, cursor); err != nil {
		return &PollError{Key: m.key, Err: fmt.Errorf("saving checkpoint: %w", err)}
	}
	return nil
}

func (m *MailAdapter) normalize(msg *gmail.Message) NormalizedItem {
	var subject, from string
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "Subject":
				subject = h.Value
			case "From":
				from = h.Value
			}
		}
	}
	if subject == "" {
		subject = "(no subject)"
	}

	item := NormalizedItem{
		ItemID:     msg.Id,
		AccountID:  m.key.AccountID,
		Source:     SourceMail,
		Title:      subject,
		Body:       msg.Snippet,
		OccurredAt: millisToTime(msg.InternalDate),
		Metadata: map[string]string{
			"from":      from,
			"thread_id": msg.ThreadId,
		},
	}

	for _, label := range msg.LabelIds {
		if label == "IMPORTANT" {
			item.HintPriority = "high"
		}
		if strings.HasPrefix(label, "Label_") {
			item.HintTags = append(item.HintTags, label)
		}
	}

	return item
}

func millisToTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func readToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("parsing token file: %w", err)
	}
	return tok, nil
}
