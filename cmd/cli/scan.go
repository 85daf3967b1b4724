package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/scanconsole/internal/errors"
	"github.com/anstrom/scanconsole/internal/export"
	"github.com/anstrom/scanconsole/internal/scan"
)

var (
	scanTarget    string
	scanPorts     string
	scanZombie    string
	scanResolve   bool
	scanExport    []string
	scanOutputDir string
	scanJSON      bool
)

// typesCmd represents the types command.
var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the available scan types",
	RunE: func(cmd *cobra.Command, _ []string) error {
		printCatalog(cmd.OutOrStdout())
		return nil
	},
}

// scanCmd represents the scan command.
var scanCmd = &cobra.Command{
	Use:   "scan <type>",
	Short: "Submit a scan to the backend",
	Long: `Submit one scan of the given type and print the result. Port scans
can be exported as CSV and JSON in the same run.

Types are given by slug (tcp-syn) or by name ("TCP SYN"); run
'scanconsole types' for the list. Idle scans need --zombie; IP protocol
and OS detection scans take no ports.`,
	Example: `  scanconsole scan tcp-connect --target 192.168.1.10
  scanconsole scan tcp-syn --target 192.168.1.10 --ports 22,80,443 --export csv,json
  scanconsole scan idle --target 192.168.1.10 --zombie 192.168.1.5 --ports 1-1024
  scanconsole scan os-detection --target fileserver.lan --resolve`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(typesCmd, scanCmd)

	scanCmd.Flags().StringVar(&scanTarget, "target", "", "target IP address or hostname")
	scanCmd.Flags().StringVar(&scanPorts, "ports", scan.DefaultPorts, "ports to scan: '80', '22,80,443' or '1-1024'")
	scanCmd.Flags().StringVar(&scanZombie, "zombie", "", "zombie host IP for idle scans")
	scanCmd.Flags().BoolVar(&scanResolve, "resolve", false, "resolve a hostname target to an IP before submitting")
	scanCmd.Flags().StringSliceVar(&scanExport, "export", nil, "export port results: csv, json or csv,json")
	scanCmd.Flags().StringVar(&scanOutputDir, "output-dir", "", "directory for exported files (default from config)")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "print the result as JSON")

	_ = scanCmd.MarkFlagRequired("target")
}

func runScan(cmd *cobra.Command, args []string) error {
	scanType, err := scan.ParseType(args[0])
	if err != nil {
		return err
	}
	formats, err := parseFormats(scanExport)
	if err != nil {
		return err
	}

	return withApp(cmd.Context(), appOptions{resolve: scanResolve}, func(a *app) error {
		if err := a.guard.Require("/scan/" + scanType.Slug()); err != nil {
			return err
		}

		ports := scanPorts
		if !cmd.Flags().Changed("ports") && a.cfg.Scan.DefaultPorts != "" {
			ports = a.cfg.Scan.DefaultPorts
		}
		form := scan.Form{Target: scanTarget, Type: scanType, Ports: ports, ZombieIP: scanZombie}

		out := cmd.OutOrStdout()
		if !scanJSON {
			fmt.Fprintf(out, "Running %s against %s...\n", scanType.Title(), strings.TrimSpace(scanTarget))
		}

		result, err := a.dispatcher.SubmitForm(cmd.Context(), form)
		if err != nil {
			return scanFailure(err)
		}

		if scanJSON {
			if err := printJSON(out, result); err != nil {
				return err
			}
		} else {
			printResult(out, result)
		}

		if len(formats) == 0 {
			return nil
		}
		dir := scanOutputDir
		if dir == "" {
			dir = a.cfg.Export.Dir
		}
		artifacts, err := a.exporter.Write(dir, result.Target, result.Ports, formats...)
		if err != nil {
			return err
		}
		for _, artifact := range artifacts {
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %s (%d bytes)\n", artifact.Path, artifact.Size)
		}
		return nil
	})
}

// scanFailure adds the login hint to session problems.
func scanFailure(err error) error {
	if errors.IsAuthProblem(err) {
		return fmt.Errorf("%w\nRun 'scanconsole login' and try again", err)
	}
	return err
}

func parseFormats(values []string) ([]export.Format, error) {
	formats := make([]export.Format, 0, len(values))
	for _, v := range values {
		f, err := export.ParseFormat(v)
		if err != nil {
			return nil, err
		}
		formats = append(formats, f)
	}
	return formats, nil
}

func printCatalog(out io.Writer) {
	table := tablewriter.NewWriter(out)
	table.Header("Category", "Type", "Slug", "Description")
	for _, c := range scan.Catalog() {
		for _, t := range c.Types {
			_ = table.Append([]string{c.Title, t.String(), t.Slug(), t.Description()})
		}
	}
	_ = table.Render()
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResult(out io.Writer, result scan.Result) {
	switch result.Kind {
	case scan.KindPorts:
		printPorts(out, result.Ports)
	case scan.KindProtocols:
		printProtocols(out, result.Protocols)
	case scan.KindOS:
		printOS(out, result.OS)
	}
}

func printPorts(out io.Writer, ports []scan.PortResult) {
	bundle, err := export.NewBundle("", ports, time.Now())
	if err != nil {
		fmt.Fprintln(out, "No ports reported.")
		return
	}

	table := tablewriter.NewWriter(out)
	table.Header("Port", "Status", "Latency (ms)")
	for _, p := range ports {
		latency := "N/A"
		if p.LatencyMs != nil {
			latency = strconv.FormatFloat(*p.LatencyMs, 'f', -1, 64)
		}
		_ = table.Append([]string{strconv.Itoa(p.Port), string(p.Status), latency})
	}
	_ = table.Render()

	md := bundle.Metadata
	fmt.Fprintf(out, "%d ports: %d open, %d closed, %d filtered\n",
		md.TotalPortsScanned, md.OpenPorts, md.ClosedPorts, md.FilteredPorts)
}

func printProtocols(out io.Writer, protocols *scan.ProtocolScan) {
	if protocols == nil || len(protocols.Protocols) == 0 {
		fmt.Fprintln(out, "No protocols reported.")
		return
	}

	table := tablewriter.NewWriter(out)
	table.Header("Protocol", "Name", "Status", "Latency (ms)")
	for _, p := range protocols.Protocols {
		latency := string(p.LatencyMs)
		if latency == "" {
			latency = "N/A"
		}
		_ = table.Append([]string{strconv.Itoa(p.Number), p.Name, p.Status, latency})
	}
	_ = table.Render()
}

func printOS(out io.Writer, guess *scan.OSResult) {
	if guess == nil {
		return
	}
	fmt.Fprintf(out, "OS guess: %s\n", guess.Guess)
	if guess.Detail != "" {
		fmt.Fprintf(out, "Detail:   %s\n", guess.Detail)
	}
}
