// Package store implements sqlite persistence for tasks, pending
// suggestions, the processed-item ledger, audit entries, and poll
// checkpoints. Multi-value fields (tags, document links) are JSON-encoded
// here; the domain layer sees native string slices.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sqlite "modernc.org/sqlite"
)

// SQLite extended result codes for uniqueness violations.
const (
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

// isUniqueViolation reports whether err is a uniqueness-constraint failure.
// This is the expected outcome of losing the mark-processed race. Other
// constraint failures (NOT NULL, CHECK) must not match; they propagate.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqliteConstraintPrimaryKey, sqliteConstraintUnique:
			return true
		}
		return false
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func encodeStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encoding string list: %w", err)
	}
	return string(data), nil
}

func decodeStrings(data string) ([]string, error) {
	if data == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil, fmt.Errorf("decoding string list: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	return values, nil
}
