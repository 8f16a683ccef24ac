package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/thetolkienblack/home-lab-automation/internal/app/migrate"
	"github.com/thetolkienblack/home-lab-automation/internal/cli/ui"
	"github.com/thetolkienblack/home-lab-automation/internal/domain/migration"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show previous migration runs",
	Long: `Status lists the runs recorded in the dump directory. With a run ID (or
an unambiguous prefix of one) it prints the per-service outcome of that run;
"latest" selects the most recent run.`,
	Args: cobra.MaximumNArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return viper.BindPFlags(cmd.Flags())
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		dumpDir := viper.GetString("dump-dir")
		if dumpDir == "" {
			dumpDir = defaultDumpDir()
		}
		store, err := migrate.NewStateStore(migrate.HistoryPath(dumpDir))
		if err != nil {
			return err
		}

		if keep := viper.GetInt("prune"); keep > 0 {
			removed, err := store.Prune(keep)
			if err != nil {
				return err
			}
			ui.Info(fmt.Sprintf("Removed %d old runs", removed))
		}

		if len(args) == 0 {
			runs := store.List()
			if len(runs) == 0 {
				ui.Info(fmt.Sprintf("No runs recorded in %s", store.FilePath()))
				return nil
			}
			runsTable(runs).Print(ui.IsTerminal())
			return nil
		}

		var run *migrate.RunState
		if args[0] == "latest" {
			run, err = store.Latest()
		} else {
			run, err = store.Get(args[0])
		}
		if err != nil {
			return err
		}

		report := run.Report()
		ui.Header(fmt.Sprintf("Run %s", run.ID))
		ui.Info(fmt.Sprintf("Started: %s (%s)", run.StartedAt.Format(time.RFC3339), report.Duration().Round(time.Second)))
		ui.Info(fmt.Sprintf("Target: %s (%s)", run.Target, run.Engine))
		if run.Aborted {
			ui.Error("Run was aborted: target unreachable")
		}
		reportTable(report).Print(ui.IsTerminal())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().String("dump-dir", defaultDumpDir(), "dump directory holding the run history")
	statusCmd.Flags().Int("prune", 0, "keep only the newest N runs")
}

func runsTable(runs []*migrate.RunState) *ui.Table {
	t := ui.NewTable("RUN", "STARTED", "ENGINE", "TARGET", "VERIFIED", "SKIPPED", "FAILED", "EXIT")
	for _, r := range runs {
		t.AddRow(
			shortID(r.ID),
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.Engine.String(),
			r.Target,
			strconv.Itoa(r.Counts[migration.StateVerified]),
			strconv.Itoa(r.Counts[migration.StateSkipped]),
			strconv.Itoa(r.Counts[migration.StateFailed]),
			strconv.Itoa(r.ExitCode),
		)
	}
	return t
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
