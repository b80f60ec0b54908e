package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"factaudit/internal/ledger"
	"factaudit/internal/report"
)

var runsLimit int

// runsCmd lists recorded runs
var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List recorded runs, or show one run",
	Args:  cobra.MaximumNArgs(1),
	RunE:  listRuns,
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Number of runs to list (0 for all)")
}

func listRuns(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Ledger.Enabled {
		fmt.Println("The run ledger is disabled (ledger.enabled: false).")
		return nil
	}
	led, err := ledger.Open(ctx, cfg.LedgerPath())
	if err != nil {
		return err
	}
	defer led.Close()

	if len(args) == 1 {
		return showRun(ctx, led, args[0])
	}

	runs, err := led.Runs(ctx, runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}
	st := styles()
	t := report.NewTable("Runs", "ID", "Command", "Status", "Items", "Batches", "Started")
	for _, r := range runs {
		t.AddRow(r.ID, r.Command, runStatus(st, r.Status),
			report.Count(r.Items), report.Count(r.Batches), report.Ago(r.StartedAt))
	}
	fmt.Print(t.View(st))
	return nil
}

func runStatus(st report.Styles, status string) string {
	switch status {
	case ledger.StatusCompleted:
		return st.Success.Render(status)
	case ledger.StatusFailed:
		return st.Error.Render(status)
	default:
		return st.Warning.Render(status)
	}
}

func showRun(ctx context.Context, led *ledger.Ledger, id string) error {
	r, err := led.GetRun(ctx, id)
	if errors.Is(err, ledger.ErrRunNotFound) {
		return fmt.Errorf("no run with id %s", id)
	}
	if err != nil {
		return err
	}
	counts, err := led.ActionCounts(ctx, id)
	if err != nil {
		return err
	}
	applies, err := led.Applies(ctx, id)
	if err != nil {
		return err
	}

	st := styles()
	fmt.Println(st.Title.Render("Run " + r.ID))
	fmt.Printf("  command:  %s\n", r.Command)
	fmt.Printf("  status:   %s\n", runStatus(st, r.Status))
	fmt.Printf("  database: %s\n", r.DBPath)
	fmt.Printf("  workdir:  %s\n", r.Workdir)
	fmt.Printf("  seed:     %d\n", r.Seed)
	fmt.Printf("  items:    %d in %d batches\n", r.Items, r.Batches)
	fmt.Printf("  started:  %s (%s)\n", r.StartedAt.Format(time.RFC3339), report.Ago(r.StartedAt))
	if r.FinishedAt != nil {
		fmt.Printf("  duration: %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	if r.Error != "" {
		fmt.Println(st.Error.Render("  error:    " + r.Error))
	}

	actions := make([]string, 0, len(counts))
	for a := range counts {
		actions = append(actions, a)
	}
	sort.Strings(actions)
	t := report.NewTable("Decisions", "Action", "Count")
	for _, a := range actions {
		t.AddRow(a, report.Count(counts[a]))
	}
	fmt.Print(t.View(st))
	fmt.Printf("  committed applies: %d\n", applies)
	return nil
}
