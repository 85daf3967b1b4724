// Package export turns port scan results into CSV and JSON artifacts.
package export

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/anstrom/scanconsole/internal/errors"
	"github.com/anstrom/scanconsole/internal/logging"
	"github.com/anstrom/scanconsole/internal/metrics"
	"github.com/anstrom/scanconsole/internal/scan"
	"github.com/anstrom/scanconsole/internal/storage"
)

// Format is an artifact format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

const (
	csvHeader    = "Port,Status,Latency (ms)"
	missingValue = "N/A"
	artifactPerm = 0o644
)

// ParseFormat accepts "csv" or "json", ignoring case.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want csv or json)", s)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatJSON {
		return "application/json; charset=utf-8"
	}
	return "text/csv; charset=utf-8"
}

// Metadata summarises an exported result list.
type Metadata struct {
	TargetIP          string `json:"target_ip"`
	ScanDate          string `json:"scan_date"`
	TotalPortsScanned int    `json:"total_ports_scanned"`
	OpenPorts         int    `json:"open_ports"`
	ClosedPorts       int    `json:"closed_ports"`
	FilteredPorts     int    `json:"filtered_ports"`
}

// Bundle is the JSON export document.
type Bundle struct {
	Metadata Metadata          `json:"metadata"`
	Results  []scan.PortResult `json:"results"`
}

// CSV renders the header and one row per result in order. Latency is N/A when
// absent. Values are written as received, without quoting.
func CSV(results []scan.PortResult) ([]byte, error) {
	if len(results) == 0 {
		return nil, errors.ErrNothingToExport
	}

	var b strings.Builder
	b.WriteString(csvHeader)
	for _, r := range results {
		latency := missingValue
		if r.LatencyMs != nil {
			latency = strconv.FormatFloat(*r.LatencyMs, 'f', -1, 64)
		}
		b.WriteString("\n")
		b.WriteString(strings.Join([]string{strconv.Itoa(r.Port), string(r.Status), latency}, ","))
	}
	return []byte(b.String()), nil
}

// NewBundle computes the metadata for results exported at now.
func NewBundle(target string, results []scan.PortResult, now time.Time) (*Bundle, error) {
	if len(results) == 0 {
		return nil, errors.ErrNothingToExport
	}

	md := Metadata{
		TargetIP:          target,
		ScanDate:          now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		TotalPortsScanned: len(results),
	}
	for _, r := range results {
		switch {
		case r.Status == scan.StatusOpen:
			md.OpenPorts++
		case r.Status == scan.StatusClosed:
			md.ClosedPorts++
		}
		if r.Status.IsFiltered() {
			md.FilteredPorts++
		}
	}

	return &Bundle{Metadata: md, Results: append([]scan.PortResult(nil), results...)}, nil
}

// JSON renders the bundle with two-space indentation.
func JSON(bundle *Bundle) ([]byte, error) {
	return json.MarshalIndent(bundle, "", "  ")
}

// Render produces the artifact body for one format.
func Render(format Format, target string, results []scan.PortResult, now time.Time) ([]byte, error) {
	switch format {
	case FormatCSV:
		return CSV(results)
	case FormatJSON:
		bundle, err := NewBundle(target, results, now)
		if err != nil {
			return nil, err
		}
		return JSON(bundle)
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

// Filename returns scan_results_<target>_<epoch ms>.<ext>.
func Filename(target string, format Format, now time.Time) string {
	safe := strings.NewReplacer("/", "_", `\`, "_").Replace(target)
	return fmt.Sprintf("scan_results_%s_%d.%s", safe, now.UnixMilli(), format)
}

// Artifact describes one written file.
type Artifact struct {
	Format Format `json:"format"`
	Path   string `json:"path"`
	Size   int    `json:"size"`
}

// Exporter writes artifacts to disk.
type Exporter struct {
	now      func() time.Time
	recorder metrics.Recorder
	logger   *logging.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithClock overrides the export time source.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) { e.now = now }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(e *Exporter) { e.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Exporter) { e.logger = l }
}

// New creates an exporter.
func New(opts ...Option) *Exporter {
	e := &Exporter{
		now:      time.Now,
		recorder: metrics.Noop{},
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Write renders results in each format and writes the files to dir. An empty
// result list fails with ErrNothingToExport before anything is created.
func (e *Exporter) Write(dir, target string, results []scan.PortResult, formats ...Format) ([]Artifact, error) {
	if len(results) == 0 {
		return nil, errors.ErrNothingToExport
	}
	if len(formats) == 0 {
		formats = []Format{FormatCSV, FormatJSON}
	}

	now := e.now()
	artifacts := make([]Artifact, 0, len(formats))
	for _, format := range formats {
		data, err := Render(format, target, results, now)
		if err != nil {
			return artifacts, err
		}

		path := filepath.Join(dir, Filename(target, format, now))
		if err := storage.WriteAtomic(path, data, artifactPerm); err != nil {
			return artifacts, fmt.Errorf("failed to write %s export: %w", format, err)
		}

		e.recorder.ExportWritten(string(format))
		e.logger.Info("export written", "target", target, "format", format, "path", path)
		artifacts = append(artifacts, Artifact{Format: format, Path: path, Size: len(data)})
	}
	return artifacts, nil
}
