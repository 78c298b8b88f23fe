package task

import (
	"strings"
	"time"
)

// Score component caps. The total is the sum of five independently capped
// components and always lands in [0, 100].
const (
	maxDueScore    = 25.0
	maxAgeScore    = 15.0
	maxSourceScore = 10.0
	maxTagScore    = 10.0
)

var priorityBase = map[Priority]float64{
	PriorityCritical: 40,
	PriorityHigh:     30,
	PriorityMedium:   20,
	PriorityLow:      10,
}

var sourceWeight = map[Source]float64{
	SourceMeetingNotes: 9,
	SourceEmail:        8,
	SourceChat:         7,
	SourceVoice:        6,
	SourceManual:       5,
	SourceAgent:        4,
}

// Score computes the priority score of a task at the given reference time.
// It is pure: identical inputs and the same now always yield the same score,
// so bulk recomputation is idempotent.
func Score(t *Task, now time.Time) float64 {
	score := priorityBase[t.Priority]
	score += dueScore(t.DueDate, now)
	score += ageScore(t, now)
	score += sourceScore(t.Source)
	score += tagScore(t.Tags)

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

func dueScore(due *time.Time, now time.Time) float64 {
	if due == nil {
		return 0
	}

	until := due.Sub(now)
	switch {
	case until < 0:
		return maxDueScore // overdue
	case until <= 4*time.Hour:
		return 23
	case sameDay(*due, now):
		return 20
	case until <= 48*time.Hour:
		return 15
	case until <= 7*24*time.Hour:
		return 10
	}
	return 0
}

// ageScore rewards tasks that have been sitting open. Linear ramp from
// creation, saturating at 14 days.
func ageScore(t *Task, now time.Time) float64 {
	if !t.Open() || t.CreatedAt.IsZero() {
		return 0
	}

	age := now.Sub(t.CreatedAt)
	if age <= 0 {
		return 0
	}

	days := age.Hours() / 24
	if days >= 14 {
		return maxAgeScore
	}
	return days / 14 * maxAgeScore
}

func sourceScore(s Source) float64 {
	if w, ok := sourceWeight[s]; ok {
		return w
	}
	return sourceWeight[SourceManual]
}

var urgentTags = map[string]bool{
	"urgent":  true,
	"blocker": true,
	"asap":    true,
}

func tagScore(tags []string) float64 {
	var score float64
	for _, tag := range tags {
		switch tag = strings.ToLower(tag); {
		case urgentTags[tag]:
			score += 10
		case tag == "important":
			score += 5
		}
		if score >= maxTagScore {
			return maxTagScore
		}
	}
	return score
}

func sameDay(a, b time.Time) bool {
	ya, ma, da := a.Date()
	yb, mb, db := b.Date()
	return ya == yb && ma == mb && da == db
}
