package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marcus/daybreak/internal/integrations"
)

var pollCmd = &cobra.Command{
	Use:   "poll [source]",
	Short: "Poll accounts now",
	Long: `Run one poll cycle immediately instead of waiting for the schedule.

Without arguments all accounts are polled. Give a source (email, chat,
meeting_notes) to poll its accounts, and --account to poll just one.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPoll,
}

func init() {
	pollCmd.Flags().String("account", "", "Poll only this account id")
	rootCmd.AddCommand(pollCmd)
}

func runPoll(cmd *cobra.Command, args []string) error {
	accountFlag, _ := cmd.Flags().GetString("account")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\ninterrupt received, stopping...")
		cancel()
	}()

	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	keys, err := selectKeys(e, args, accountFlag)
	if err != nil {
		return err
	}

	failures := 0
	for _, key := range keys {
		res, err := e.orch.TriggerNow(ctx, key)
		if err != nil {
			failures++
			fmt.Printf("%-30s FAILED: %v\n", key, err)
			continue
		}
		fmt.Printf("%-30s %d new, %d skipped, %d created, %d suggested\n",
			key, res.Polled-res.Skipped, res.Skipped, res.Created, res.Suggested)
	}

	if failures == len(keys) {
		return fmt.Errorf("all %d account(s) failed", failures)
	}
	return nil
}

func selectKeys(e *env, args []string, account string) ([]integrations.Key, error) {
	keys := e.registry.Keys()
	if len(keys) == 0 {
		return nil, fmt.Errorf("no accounts available (check credentials and config)")
	}
	if len(args) == 0 && account == "" {
		return keys, nil
	}

	var source integrations.Source
	if len(args) > 0 {
		var err error
		source, err = integrations.ParseSource(args[0])
		if err != nil {
			return nil, err
		}
	}

	var selected []integrations.Key
	for _, key := range keys {
		if source != "" && key.Source != source {
			continue
		}
		if account != "" && key.AccountID != account {
			continue
		}
		selected = append(selected, key)
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("no account matches source=%q account=%q", source, account)
	}
	return selected, nil
}
