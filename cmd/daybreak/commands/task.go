package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/marcus/daybreak/internal/store"
	"github.com/marcus/daybreak/internal/task"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
	Long:  `Add, list, and update tasks.`,
}

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a task manually",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks by priority",
	Long: `List open tasks ordered by priority score.

Use --all to include completed and cancelled tasks, --source and
--account to filter, --json for scripting.`,
	RunE: runTaskList,
}

var taskDoneCmd = &cobra.Command{
	Use:   "done <task-id>",
	Short: "Mark a task completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTaskStatus(args[0], task.StatusCompleted)
	},
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTaskStatus(args[0], task.StatusCancelled)
	},
}

func init() {
	taskAddCmd.Flags().String("description", "", "Task description")
	taskAddCmd.Flags().String("priority", "medium", "Priority (critical, high, medium, low)")
	taskAddCmd.Flags().String("due", "", "Due date (YYYY-MM-DD)")
	taskAddCmd.Flags().StringSlice("tag", nil, "Tag (repeatable)")

	taskListCmd.Flags().Bool("all", false, "Include completed and cancelled tasks")
	taskListCmd.Flags().String("source", "", "Filter by source (manual, email, chat, meeting_notes)")
	taskListCmd.Flags().String("account", "", "Filter by account id")
	taskListCmd.Flags().Bool("json", false, "Output as JSON")

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskDoneCmd)
	taskCmd.AddCommand(taskCancelCmd)
	rootCmd.AddCommand(taskCmd)
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	description, _ := cmd.Flags().GetString("description")
	priorityFlag, _ := cmd.Flags().GetString("priority")
	dueFlag, _ := cmd.Flags().GetString("due")
	tags, _ := cmd.Flags().GetStringSlice("tag")

	priority, err := task.ParsePriority(priorityFlag)
	if err != nil {
		return err
	}

	t := task.New(args[0], description)
	t.Priority = priority
	t.Tags = tags
	if dueFlag != "" {
		due, err := time.Parse("2006-01-02", dueFlag)
		if err != nil {
			return fmt.Errorf("invalid due date %q (want YYYY-MM-DD)", dueFlag)
		}
		t.DueDate = &due
	}
	t.PriorityScore = task.Score(t, time.Now())

	e, err := openEnv(context.Background())
	if err != nil {
		return err
	}
	defer e.close()

	if err := e.tasks.Create(context.Background(), t); err != nil {
		return err
	}
	fmt.Printf("created %s (score %.1f)\n", t.ID, t.PriorityScore)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	sourceFlag, _ := cmd.Flags().GetString("source")
	accountFlag, _ := cmd.Flags().GetString("account")
	asJSON, _ := cmd.Flags().GetBool("json")

	e, err := openEnv(context.Background())
	if err != nil {
		return err
	}
	defer e.close()

	filter := store.TaskFilter{All: all, AccountID: accountFlag}
	if sourceFlag != "" {
		filter.Source = task.Source(sourceFlag)
	}

	tasks, err := e.tasks.List(context.Background(), filter)
	if err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks.")
		return nil
	}

	if asJSON {
		return printTaskListJSON(tasks)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSCORE\tPRI\tSTATUS\tDUE\tSOURCE\tTITLE")
	for _, t := range tasks {
		due := "-"
		if t.DueDate != nil {
			due = t.DueDate.Format("2006-01-02")
		}
		_, _ = fmt.Fprintf(w, "%s\t%.1f\t%s\t%s\t%s\t%s\t%s\n",
			shortID(t.ID),
			t.PriorityScore,
			priorityStyle(t.Priority).Render(string(t.Priority)),
			string(t.Status),
			due,
			string(t.Source),
			t.Title,
		)
	}
	_ = w.Flush()
	fmt.Printf("\n%d task(s)\n", len(tasks))
	return nil
}

func setTaskStatus(id string, status task.Status) error {
	e, err := openEnv(context.Background())
	if err != nil {
		return err
	}
	defer e.close()

	full, err := resolveTaskID(e, id)
	if err != nil {
		return err
	}
	if err := e.tasks.UpdateStatus(context.Background(), full, status); err != nil {
		return err
	}
	fmt.Printf("%s %s\n", shortID(full), status)
	return nil
}

// resolveTaskID accepts a full UUID or an unambiguous prefix.
func resolveTaskID(e *env, id string) (string, error) {
	if len(id) >= 36 {
		return id, nil
	}
	tasks, err := e.tasks.List(context.Background(), store.TaskFilter{All: true})
	if err != nil {
		return "", err
	}
	var match string
	for _, t := range tasks {
		if len(t.ID) >= len(id) && t.ID[:len(id)] == id {
			if match != "" {
				return "", fmt.Errorf("task id %q is ambiguous", id)
			}
			match = t.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no task matches %q", id)
	}
	return match, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var (
	criticalStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#cb2431", Dark: "#f85149"}).Bold(true)
	highStyle     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#b08800", Dark: "#d29922"})
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#666", Dark: "#888"})
)

func priorityStyle(p task.Priority) lipgloss.Style {
	switch p {
	case task.PriorityCritical:
		return criticalStyle
	case task.PriorityHigh:
		return highStyle
	case task.PriorityLow:
		return mutedStyle
	default:
		return lipgloss.NewStyle()
	}
}

type taskListEntry struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Status    string   `json:"status"`
	Priority  string   `json:"priority"`
	Score     float64  `json:"score"`
	DueDate   string   `json:"due_date,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Source    string   `json:"source"`
	AccountID string   `json:"account_id,omitempty"`
}

func printTaskListJSON(tasks []*task.Task) error {
	entries := make([]taskListEntry, len(tasks))
	for i, t := range tasks {
		entries[i] = taskListEntry{
			ID:        t.ID,
			Title:     t.Title,
			Status:    string(t.Status),
			Priority:  string(t.Priority),
			Score:     t.PriorityScore,
			Tags:      t.Tags,
			Source:    string(t.Source),
			AccountID: t.AccountID,
		}
		if t.DueDate != nil {
			entries[i].DueDate = t.DueDate.Format("2006-01-02")
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}
