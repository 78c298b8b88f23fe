package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show what the agent has been doing",
	Long: `Show recent agent actions: polls, extractions, decisions, created
tasks, and errors, plus LLM token usage for the last day.`,
	RunE: runAudit,
}

func init() {
	auditCmd.Flags().Int("limit", 30, "Number of entries to show")
	auditCmd.Flags().Bool("errors", false, "Show only errors")
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	onlyErrors, _ := cmd.Flags().GetBool("errors")

	e, err := openEnv(context.Background())
	if err != nil {
		return err
	}
	defer e.close()

	entries, err := e.audit.Recent(context.Background(), limit, onlyErrors)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No audit entries.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tKIND\tACCOUNT\tDETAIL")
	for _, entry := range entries {
		account := "-"
		if entry.AccountID != "" {
			account = fmt.Sprintf("%s/%s", entry.Source, entry.AccountID)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			entry.CreatedAt.Local().Format("01-02 15:04"),
			entry.Kind,
			account,
			compactDetail(entry.Detail),
		)
	}
	_ = w.Flush()

	prompt, completion, err := e.audit.TokenTotals(context.Background(), time.Now().Add(-24*time.Hour))
	if err == nil && prompt+completion > 0 {
		fmt.Printf("\ntokens last 24h: %d prompt, %d completion\n", prompt, completion)
	}
	return nil
}

func compactDetail(detail map[string]any) string {
	if len(detail) == 0 {
		return "-"
	}
	data, err := json.Marshal(detail)
	if err != nil {
		return "-"
	}
	s := string(data)
	if len(s) > 80 {
		s = s[:77] + "..."
	}
	return s
}
