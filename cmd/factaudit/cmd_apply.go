package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"factaudit/internal/cleanup"
	"factaudit/internal/consensus"
	"factaudit/internal/metrics"
	"factaudit/internal/pipeline"
	"factaudit/internal/report"
)

var (
	applyChanges bool
	applyRunID   string
)

// applyCmd runs a cleanup script
var applyCmd = &cobra.Command{
	Use:   "apply [script]",
	Short: "Dry-run or apply a cleanup script",
	Long: `Runs a cleanup script (default <workdir>/consensus/cleanup.sql) against the knowledge base.

Without --apply every statement runs inside a transaction that is rolled back, and the
rows each statement would change are reported. With --apply the database is first
backed up with VACUUM INTO, then the script runs in one transaction and is committed.
A failure rolls back and the backup is kept.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyChanges, "apply", false, "Commit the changes (default is a dry run)")
	applyCmd.Flags().StringVar(&applyRunID, "run", "", "Run id to record the apply under (default from consensus.json)")
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	paths := pipeline.NewPaths(cfg.Workdir)
	script := consensusFile(paths, consensus.SQLFile)
	if len(args) == 1 {
		script = args[0]
	}

	kb, err := openStore(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer kb.Close()

	mode := cleanup.ModeDryRun
	if applyChanges {
		mode = cleanup.ModeApply
	}
	a := &cleanup.Applier{Store: kb, BackupDir: cfg.BackupDir()}
	rep, runErr := a.RunFile(ctx, script, mode)
	if rep == nil {
		return runErr
	}

	runID := applyRunID
	if runID == "" {
		if res, err := consensus.LoadResult(consensusFile(paths, consensus.JSONFile)); err == nil {
			runID = res.RunID
		}
	}
	led, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	if led != nil {
		defer led.Close()
		if err := led.RecordApply(ctx, runID, script, rep); err != nil {
			return err
		}
	}

	m := metrics.New()
	m.ObserveApply(rep)
	if err := writeMetrics(cfg, m); err != nil {
		return err
	}

	printApplyReport(rep)
	if runErr != nil {
		logger.Error("Cleanup failed", zap.String("mode", rep.Mode), zap.Error(runErr))
		return runErr
	}
	logger.Info("Cleanup finished", zap.String("mode", rep.Mode), zap.Int64("rows", rep.RowsAffected))
	return nil
}

func printApplyReport(rep *cleanup.Report) {
	st := styles()
	t := report.NewTable("Statements", "#", "Rows", "SQL")
	for i, r := range rep.Results {
		sql := r.SQL
		if len(sql) > 90 {
			sql = sql[:87] + "..."
		}
		t.AddRow(fmt.Sprint(i+1), report.Count(r.RowsAffected), sql)
	}
	fmt.Print(t.View(st))

	fmt.Printf("%s: %d statements, %s rows affected in %s\n",
		rep.Mode, rep.Statements, report.Count(rep.RowsAffected), rep.Elapsed.Round(time.Millisecond))
	if rep.BackupPath != "" {
		fmt.Printf("backup: %s\n", rep.BackupPath)
	}
	if rep.Committed {
		fmt.Println(st.Success.Render("changes committed"))
	} else {
		fmt.Println(st.Warning.Render("no changes committed"))
	}
}
