package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/marcus/daybreak/internal/store"
	"github.com/marcus/daybreak/internal/ui"
)

var suggestionsCmd = &cobra.Command{
	Use:     "suggestions",
	Aliases: []string{"sug"},
	Short:   "Review extracted task suggestions",
	Long: `List and act on suggestions the agent queued for your review.

'daybreak suggestions review' opens an interactive screen; approve and
reject also work non-interactively by suggestion id.`,
}

var suggestionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending suggestions",
	RunE:  runSuggestionsList,
}

var suggestionsApproveCmd = &cobra.Command{
	Use:   "approve <suggestion-id>",
	Short: "Approve a suggestion, creating a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runSuggestionsApprove,
}

var suggestionsRejectCmd = &cobra.Command{
	Use:   "reject <suggestion-id>",
	Short: "Reject a suggestion",
	Args:  cobra.ExactArgs(1),
	RunE:  runSuggestionsReject,
}

var suggestionsReviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review suggestions interactively",
	RunE:  runSuggestionsReview,
}

func init() {
	suggestionsCmd.AddCommand(suggestionsListCmd)
	suggestionsCmd.AddCommand(suggestionsApproveCmd)
	suggestionsCmd.AddCommand(suggestionsRejectCmd)
	suggestionsCmd.AddCommand(suggestionsReviewCmd)
	rootCmd.AddCommand(suggestionsCmd)
}

func runSuggestionsList(cmd *cobra.Command, args []string) error {
	e, err := openEnv(context.Background())
	if err != nil {
		return err
	}
	defer e.close()

	pending, err := e.suggestions.List(context.Background(), store.SuggestionPending)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("No pending suggestions.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCONF\tSOURCE\tACCOUNT\tAGE\tTITLE")
	for _, sg := range pending {
		_, _ = fmt.Fprintf(w, "%s\t%.2f\t%s\t%s\t%s\t%s\n",
			shortID(sg.ID), sg.Confidence, sg.Source, sg.AccountID, formatAge(sg.CreatedAt), sg.Title)
	}
	_ = w.Flush()
	fmt.Printf("\n%d suggestion(s)\n", len(pending))
	return nil
}

func runSuggestionsApprove(cmd *cobra.Command, args []string) error {
	e, err := openEnv(context.Background())
	if err != nil {
		return err
	}
	defer e.close()

	id, err := resolveSuggestionID(e, args[0])
	if err != nil {
		return err
	}
	t, err := e.orch.Approve(context.Background(), id)
	if err != nil {
		return err
	}
	fmt.Printf("approved: task %s (score %.1f)\n", shortID(t.ID), t.PriorityScore)
	return nil
}

func runSuggestionsReject(cmd *cobra.Command, args []string) error {
	e, err := openEnv(context.Background())
	if err != nil {
		return err
	}
	defer e.close()

	id, err := resolveSuggestionID(e, args[0])
	if err != nil {
		return err
	}
	if err := e.suggestions.UpdateStatus(context.Background(), id, store.SuggestionRejected); err != nil {
		return err
	}
	fmt.Println("rejected")
	return nil
}

func runSuggestionsReview(cmd *cobra.Command, args []string) error {
	e, err := openEnv(context.Background())
	if err != nil {
		return err
	}
	defer e.close()

	pending, err := e.suggestions.List(context.Background(), store.SuggestionPending)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("No pending suggestions.")
		return nil
	}

	model := ui.NewReview(pending)
	if err := model.Run(); err != nil {
		return fmt.Errorf("review screen: %w", err)
	}

	verdicts := model.Verdicts()
	if verdicts == nil {
		fmt.Println("aborted, nothing changed")
		return nil
	}

	approved, rejected := 0, 0
	for i, v := range verdicts {
		switch v {
		case ui.VerdictApprove:
			if _, err := e.orch.Approve(context.Background(), pending[i].ID); err != nil {
				return err
			}
			approved++
		case ui.VerdictReject:
			if err := e.suggestions.UpdateStatus(context.Background(), pending[i].ID, store.SuggestionRejected); err != nil {
				return err
			}
			rejected++
		}
	}
	fmt.Printf("%d approved, %d rejected, %d left pending\n", approved, rejected, len(pending)-approved-rejected)
	return nil
}

// resolveSuggestionID accepts a full UUID or an unambiguous prefix.
func resolveSuggestionID(e *env, id string) (string, error) {
	if len(id) >= 36 {
		return id, nil
	}
	pending, err := e.suggestions.List(context.Background(), "")
	if err != nil {
		return "", err
	}
	var match string
	for _, sg := range pending {
		if len(sg.ID) >= len(id) && sg.ID[:len(id)] == id {
			if match != "" {
				return "", fmt.Errorf("suggestion id %q is ambiguous", id)
			}
			match = sg.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no suggestion matches %q", id)
	}
	return match, nil
}
