// Package autonomy decides what the agent does with an extracted candidate.
// The decision function is pure and total over (level, confidence).
package autonomy

import (
	"fmt"
	"strings"
)

// Level is the configured aggressiveness for converting candidates into
// tasks without human confirmation.
type Level string

const (
	// LevelSuggest never auto-creates; everything becomes a suggestion.
	LevelSuggest Level = "suggest"
	// LevelAutoLow auto-creates only high-confidence candidates.
	LevelAutoLow Level = "auto_low"
	// LevelAuto always auto-creates, ignoring confidence.
	LevelAuto Level = "auto"
	// LevelFull auto-creates and applies the candidate's suggested
	// priority and initiative overrides.
	LevelFull Level = "full"
)

// ParseLevel validates a level string. Empty input maps to suggest.
func ParseLevel(s string) (Level, error) {
	if s == "" {
		return LevelSuggest, nil
	}
	switch Level(strings.ToLower(s)) {
	case LevelSuggest, LevelAutoLow, LevelAuto, LevelFull:
		return Level(strings.ToLower(s)), nil
	}
	return "", fmt.Errorf("invalid autonomy level: %q", s)
}

// Decision is the closed set of pipeline actions for one candidate.
type Decision int

const (
	Discard Decision = iota
	Suggest
	AutoCreate
	AutoCreateWithOverrides
)

func (d Decision) String() string {
	switch d {
	case Discard:
		return "discard"
	case Suggest:
		return "suggest"
	case AutoCreate:
		return "auto_create"
	case AutoCreateWithOverrides:
		return "auto_create_with_overrides"
	default:
		return "unknown"
	}
}

// MinConfidence is the noise floor shared by all levels: candidates below it
// are always discarded.
const MinConfidence = 0.1

// autoLowThreshold is the confidence required for AUTO_LOW to auto-create.
const autoLowThreshold = 0.8

// Decide maps an autonomy level and a candidate confidence to an action.
// Unknown levels fall back to suggest-only behavior.
func Decide(level Level, confidence float64) Decision {
	if confidence < MinConfidence {
		return Discard
	}

	switch level {
	case LevelAuto:
		return AutoCreate
	case LevelFull:
		return AutoCreateWithOverrides
	case LevelAutoLow:
		if confidence >= autoLowThreshold {
			return AutoCreate
		}
		return Suggest
	default:
		return Suggest
	}
}
