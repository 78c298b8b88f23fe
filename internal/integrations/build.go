package integrations

import (
	"context"

	"github.com/marcus/daybreak/internal/config"
)

// New constructs the adapter for one configured account.
func New(ctx context.Context, acct config.Account, cps Checkpoints) (Adapter, error) {
	source, err := ParseSource(acct.Source)
	if err != nil {
		return nil, &ConfigError{
			Key:    Key{Source: Source(acct.Source), AccountID: acct.ID},
			Reason: err.Error(),
		}
	}

	switch source {
	case SourceMail:
		return NewMail(ctx, acct, cps)
	case SourceChat:
		return NewChat(acct, cps)
	case SourceNotes:
		return NewNotes(acct, cps)
	}
	return nil, &ConfigError{Key: Key{Source: source, AccountID: acct.ID}, Reason: "no adapter for source"}
}
