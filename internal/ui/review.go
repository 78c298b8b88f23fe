// Package ui provides the interactive suggestion review screen.
// Uses Bubbletea for navigation and Lipgloss for rendering.
package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/daybreak/internal/store"
)

// Verdict is the reviewer's call on one suggestion.
type Verdict int

const (
	VerdictUndecided Verdict = iota
	VerdictApprove
	VerdictReject
)

func (v Verdict) String() string {
	switch v {
	case VerdictApprove:
		return "approve"
	case VerdictReject:
		return "reject"
	default:
		return "-"
	}
}

// Styles holds lipgloss styles for the review screen.
type Styles struct {
	Title    lipgloss.Style
	Selected lipgloss.Style
	Normal   lipgloss.Style
	Muted    lipgloss.Style
	Approve  lipgloss.Style
	Reject   lipgloss.Style
	Detail   lipgloss.Style
	HelpKey  lipgloss.Style
	HelpText lipgloss.Style
}

func newStyles() *Styles {
	subtle := lipgloss.AdaptiveColor{Light: "#666", Dark: "#888"}
	highlight := lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	green := lipgloss.AdaptiveColor{Light: "#22863a", Dark: "#3fb950"}
	red := lipgloss.AdaptiveColor{Light: "#cb2431", Dark: "#f85149"}

	return &Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(highlight).
			MarginBottom(1),

		Selected: lipgloss.NewStyle().
			Background(highlight).
			Foreground(lipgloss.Color("#fff")).
			Bold(true),

		Normal: lipgloss.NewStyle(),

		Muted: lipgloss.NewStyle().
			Foreground(subtle),

		Approve: lipgloss.NewStyle().
			Foreground(green).
			Bold(true),

		Reject: lipgloss.NewStyle().
			Foreground(red).
			Bold(true),

		Detail: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(subtle).
			Padding(0, 1),

		HelpKey: lipgloss.NewStyle().
			Foreground(highlight).
			Bold(true),

		HelpText: lipgloss.NewStyle().
			Foreground(subtle),
	}
}

// Model is the review screen state. Verdicts are collected in memory and
// applied by the caller after the program exits.
type Model struct {
	suggestions []*store.Suggestion
	verdicts    []Verdict
	selected    int
	width       int
	height      int
	quitting    bool
	aborted     bool
	styles      *Styles
}

// NewReview creates a review model over pending suggestions.
func NewReview(suggestions []*store.Suggestion) *Model {
	return &Model{
		suggestions: suggestions,
		verdicts:    make([]Verdict, len(suggestions)),
		width:       80,
		height:      24,
		styles:      newStyles(),
	}
}

// Verdicts returns the reviewer's calls, index-aligned with the input.
// Nil when the review was aborted.
func (m *Model) Verdicts() []Verdict {
	if m.aborted {
		return nil
	}
	return m.verdicts
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.EnterAltScreen
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	}

	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.aborted = true
		m.quitting = true
		return m, tea.Quit

	case "q", "enter":
		m.quitting = true
		return m, tea.Quit

	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}

	case "down", "j":
		if m.selected < len(m.suggestions)-1 {
			m.selected++
		}

	case "a":
		m.setVerdict(VerdictApprove)

	case "r":
		m.setVerdict(VerdictReject)

	case "u":
		m.setVerdict(VerdictUndecided)
	}

	return m, nil
}

// setVerdict records the call and advances to the next undecided row.
func (m *Model) setVerdict(v Verdict) {
	if len(m.suggestions) == 0 {
		return
	}
	m.verdicts[m.selected] = v
	if v != VerdictUndecided && m.selected < len(m.suggestions)-1 {
		m.selected++
	}
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.styles.Title.Render("Review suggestions"))
	b.WriteString("\n\n")

	if len(m.suggestions) == 0 {
		b.WriteString(m.styles.Muted.Render("Nothing pending."))
		b.WriteString("\n")
		return b.String()
	}

	for i, sg := range m.suggestions {
		marker := m.styles.Muted.Render("[ ]")
		switch m.verdicts[i] {
		case VerdictApprove:
			marker = m.styles.Approve.Render("[a]")
		case VerdictReject:
			marker = m.styles.Reject.Render("[r]")
		}

		line := fmt.Sprintf(" %s %-10s %.2f  %s", marker, sg.Source, sg.Confidence, sg.Title)
		if i == m.selected {
			line = m.styles.Selected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.renderDetail())
	b.WriteString("\n")
	b.WriteString(m.renderHelpBar())
	return b.String()
}

func (m *Model) renderDetail() string {
	sg := m.suggestions[m.selected]

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s  (%s/%s, confidence %.2f)\n",
		sg.Title, sg.Source, sg.AccountID, sg.Confidence))
	if sg.Description != "" {
		b.WriteString(sg.Description)
		b.WriteString("\n")
	}
	meta := []string{"priority " + string(sg.Priority)}
	if sg.DueDate != nil {
		meta = append(meta, "due "+sg.DueDate.Format("2006-01-02"))
	}
	if len(sg.Tags) > 0 {
		meta = append(meta, "tags "+strings.Join(sg.Tags, ","))
	}
	b.WriteString(m.styles.Muted.Render(strings.Join(meta, "  ")))

	width := m.width - 4
	if width < 20 {
		width = 20
	}
	return m.styles.Detail.Width(width).Render(b.String())
}

func (m *Model) renderHelpBar() string {
	helpItems := []struct {
		key  string
		desc string
	}{
		{"a", "approve"},
		{"r", "reject"},
		{"u", "undo"},
		{"j/k", "move"},
		{"enter", "apply"},
		{"esc", "abort"},
	}

	var parts []string
	for _, item := range helpItems {
		parts = append(parts, fmt.Sprintf("%s %s",
			m.styles.HelpKey.Render(item.key),
			m.styles.HelpText.Render(item.desc),
		))
	}
	return "  " + strings.Join(parts, "  |  ")
}

// Run starts the review screen and blocks until the reviewer is done.
func (m *Model) Run() error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
