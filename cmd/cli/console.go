package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/scanconsole/internal/console"
)

const systemMetricsInterval = 15 * time.Second

var (
	consoleHost string
	consolePort int
)

// consoleCmd represents the console command.
var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Serve the local HTTP console",
	Long: `Serve the console on a local address. It offers the session operations,
guarded scan submission, the current results and exports as JSON, a
WebSocket feed of session changes at /ws/session and Prometheus metrics at
/metrics.`,
	Example: `  scanconsole console
  scanconsole console --host 0.0.0.0 --port 9000`,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)

	consoleCmd.Flags().StringVar(&consoleHost, "host", "", "listen address (default from config)")
	consoleCmd.Flags().IntVar(&consolePort, "port", 0, "listen port (default from config)")
}

func runConsole(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	return withApp(ctx, appOptions{}, func(a *app) error {
		cfg := a.cfg.Console
		if consoleHost != "" {
			cfg.ListenAddr = consoleHost
		}
		if consolePort != 0 {
			cfg.Port = consolePort
		}

		srv := console.New(cfg, a.session, a.dispatcher,
			console.WithLogger(a.logger),
			console.WithRecorder(a.metrics),
			console.WithMetricsHandler(a.metrics.Handler()))

		go a.metrics.StartPeriodicUpdates(ctx, systemMetricsInterval)

		fmt.Fprintf(cmd.OutOrStdout(), "Console listening on http://%s\n", srv.Address())
		return srv.Start(ctx)
	})
}
