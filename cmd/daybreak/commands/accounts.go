package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/marcus/daybreak/internal/integrations"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Inspect configured accounts",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured accounts and their state",
	RunE:  runAccountsList,
}

var accountsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify credentials for every account",
	Long:  `Authenticate against each configured account and report failures.`,
	RunE:  runAccountsCheck,
}

func init() {
	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsCheckCmd)
	rootCmd.AddCommand(accountsCmd)
}

func runAccountsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tACCOUNT\tINTERVAL\tAUTONOMY\tPROCESSED\tCURSOR")
	for _, acct := range e.cfg.Accounts {
		key := integrations.Key{Source: integrations.Source(acct.Source), AccountID: acct.ID}

		processed := "-"
		if n, err := e.ledger.Count(ctx, key); err == nil {
			processed = fmt.Sprintf("%d", n)
		}
		cursor := "-"
		if c, err := e.checkpoints.Cursor(ctx, key); err == nil && c != "" {
			cursor = c
		}

		registered := ""
		if _, ok := e.registry.Get(key); !ok {
			registered = " (unavailable)"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s%s\t%s\t%s\t%s\t%s\n",
			acct.Source, acct.ID, registered, acct.Interval, e.cfg.Level(acct), processed, cursor)
	}
	_ = w.Flush()
	return nil
}

func runAccountsCheck(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	keys := e.registry.Keys()
	if len(keys) == 0 {
		return fmt.Errorf("no accounts available (check credentials and config)")
	}

	failures := 0
	for _, key := range keys {
		adapter, _ := e.registry.Get(key)
		if err := adapter.Authenticate(ctx); err != nil {
			failures++
			fmt.Printf("%-30s FAILED: %v\n", key, err)
			continue
		}
		fmt.Printf("%-30s ok\n", key)
	}

	if failures > 0 {
		return fmt.Errorf("%d account(s) failed authentication", failures)
	}
	return nil
}
