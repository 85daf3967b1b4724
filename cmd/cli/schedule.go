package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/scanconsole/internal/scan"
	"github.com/anstrom/scanconsole/internal/scheduler"
)

var (
	scheduleCron      string
	scheduleName      string
	scheduleTarget    string
	schedulePorts     string
	scheduleZombie    string
	scheduleResolve   bool
	scheduleExport    []string
	scheduleOutputDir string
	scheduleRunNow    bool
)

// scheduleCmd represents the schedule command.
var scheduleCmd = &cobra.Command{
	Use:   "schedule <type>",
	Short: "Run a scan on a cron schedule",
	Long: `Run the same scan repeatedly on a cron schedule until interrupted.
Each run is an ordinary submission: a run that would overlap the previous
one for the same target is skipped. Port results are exported after every
run.

The cron expression follows standard cron format (minute hour day month weekday)
and also accepts descriptors such as @hourly or @every 30m.`,
	Example: `  scanconsole schedule tcp-syn --cron "0 2 * * *" --target 10.0.0.5 --ports 1-1024
  scanconsole schedule udp --cron "@every 6h" --target 10.0.0.5 --ports 53,123 --export csv
  scanconsole schedule os-detection --cron "@hourly" --target 10.0.0.5 --run-now`,
	Args: cobra.ExactArgs(1),
	RunE: runSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)

	scheduleCmd.Flags().StringVar(&scheduleCron, "cron", "", "cron expression")
	scheduleCmd.Flags().StringVar(&scheduleName, "name", "", "job name (default '<type> <target>')")
	scheduleCmd.Flags().StringVar(&scheduleTarget, "target", "", "target IP address or hostname")
	scheduleCmd.Flags().StringVar(&schedulePorts, "ports", scan.DefaultPorts, "ports to scan")
	scheduleCmd.Flags().StringVar(&scheduleZombie, "zombie", "", "zombie host IP for idle scans")
	scheduleCmd.Flags().BoolVar(&scheduleResolve, "resolve", false, "resolve a hostname target before every run")
	scheduleCmd.Flags().StringSliceVar(&scheduleExport, "export", []string{"csv", "json"}, "export formats for port results")
	scheduleCmd.Flags().StringVar(&scheduleOutputDir, "output-dir", "", "directory for exported files (default from config)")
	scheduleCmd.Flags().BoolVar(&scheduleRunNow, "run-now", false, "run once immediately before waiting for the schedule")

	_ = scheduleCmd.MarkFlagRequired("cron")
	_ = scheduleCmd.MarkFlagRequired("target")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	scanType, err := scan.ParseType(args[0])
	if err != nil {
		return err
	}
	formats, err := parseFormats(scheduleExport)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	return withApp(ctx, appOptions{resolve: scheduleResolve}, func(a *app) error {
		if err := a.guard.Require("/scan/" + scanType.Slug()); err != nil {
			return err
		}

		dir := scheduleOutputDir
		if dir == "" {
			dir = a.cfg.Export.Dir
		}

		out := cmd.OutOrStdout()
		sched := scheduler.NewScheduler(a.dispatcher, a.exporter,
			scheduler.WithLogger(a.logger),
			scheduler.WithRunHook(func(_ uuid.UUID, summary scheduler.RunSummary) {
				printRunSummary(out, summary)
			}))

		id, err := sched.AddJob(scheduler.JobConfig{
			Name: scheduleName,
			Cron: scheduleCron,
			Form: scan.Form{
				Target:   scheduleTarget,
				Type:     scanType,
				Ports:    schedulePorts,
				ZombieIP: scheduleZombie,
			},
			ExportDir: dir,
			Formats:   formats,
		})
		if err != nil {
			return err
		}

		return runScheduler(ctx, out, sched, id, scheduleRunNow)
	})
}

// runScheduler starts sched and blocks until ctx is done.
func runScheduler(ctx context.Context, out io.Writer, sched *scheduler.Scheduler, id uuid.UUID, runNow bool) error {
	printJobs(out, sched.GetJobs())

	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	if runNow {
		if _, err := sched.RunNow(id); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "Waiting for the schedule, press Ctrl+C to stop.")
	<-ctx.Done()
	return nil
}

func printJobs(out io.Writer, jobs []scheduler.ScheduledJob) {
	table := tablewriter.NewWriter(out)
	table.Header("Name", "Cron", "Target", "Type", "Next Run")
	for _, job := range jobs {
		_ = table.Append([]string{
			job.Config.Name,
			job.Config.Cron,
			job.Config.Form.Target,
			job.Config.Form.Type.String(),
			job.NextRun.Format(time.RFC3339),
		})
	}
	_ = table.Render()
}

func printRunSummary(out io.Writer, summary scheduler.RunSummary) {
	took := summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond)
	if summary.Error != "" {
		fmt.Fprintf(out, "[%s] run failed after %s: %s\n",
			summary.StartedAt.Format(time.RFC3339), took, summary.Error)
		return
	}
	fmt.Fprintf(out, "[%s] run completed in %s: %s result\n",
		summary.StartedAt.Format(time.RFC3339), took, summary.Kind)
	for _, artifact := range summary.Artifacts {
		fmt.Fprintf(out, "  exported %s\n", artifact.Path)
	}
}
