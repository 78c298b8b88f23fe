package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var rescoreCmd = &cobra.Command{
	Use:   "rescore",
	Short: "Recompute priority scores for open tasks",
	Long: `Recompute the priority score of every open task.

Scores shift as due dates approach and tasks age, so run this (or let
the agent do it) to keep the list ordering honest.`,
	RunE: runRescore,
}

func init() {
	rootCmd.AddCommand(rescoreCmd)
}

func runRescore(cmd *cobra.Command, args []string) error {
	e, err := openEnv(context.Background())
	if err != nil {
		return err
	}
	defer e.close()

	updated, err := e.tasks.RescoreAll(context.Background(), time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("rescored %d task(s)\n", updated)
	return nil
}
