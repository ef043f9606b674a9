package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// Format selects how a report is rendered.
type Format string

const (
	FormatTable      Format = "table"
	FormatJSON       Format = "json"
	FormatJSONPretty Format = "json-pretty"
)

// Formatter renders a report to a writer.
type Formatter interface {
	Format(r *Report, w io.Writer) error
}

// NewFormatter creates a Formatter for the given format.
func NewFormatter(format Format) (Formatter, error) {
	switch format {
	case FormatTable:
		return &TableFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{}, nil
	case FormatJSONPretty:
		return &JSONFormatter{Pretty: true}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// JSONFormatter writes the report's canonical JSON encoding.
type JSONFormatter struct {
	Pretty bool
}

func (f *JSONFormatter) Format(r *Report, w io.Writer) error {
	enc := json.NewEncoder(w)
	if f.Pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(r)
}

// TableFormatter renders the report as an aligned text table, one row
// per function, highest share of total first.
type TableFormatter struct{}

func (f *TableFormatter) Format(r *Report, w io.Writer) error {
	if len(r.Functions) == 0 {
		return writeNoMeasurements(r, w)
	}

	elapsed := time.Duration(r.TotalElapsedNs)
	if r.TotalRecorded > len(r.Functions) {
		fmt.Fprintf(w, "[hotpath] %s - %s: %s (%d/%d)\n",
			r.Mode, r.CallerName, elapsed, len(r.Functions), r.TotalRecorded)
	} else {
		fmt.Fprintf(w, "[hotpath] %s - %s: %s\n", r.Mode, r.CallerName, elapsed)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)

	headers := []string{"FUNCTION", "CALLS", "AVG"}
	for _, p := range r.Percentiles {
		headers = append(headers, fmt.Sprintf("P%d", p))
	}
	headers = append(headers, "TOTAL", "% TOTAL")
	if _, err := fmt.Fprintln(tw, strings.Join(headers, "\t")); err != nil {
		return err
	}

	for _, name := range r.SortedNames() {
		row := r.Functions[name]
		cols := []string{
			name,
			fmt.Sprintf("%d", row.Calls),
			formatCell(row.Avg, r.Mode),
		}
		for _, c := range row.PercentileValues {
			cols = append(cols, formatCell(c, r.Mode))
		}
		cols = append(cols,
			formatCell(row.Total, r.Mode),
			fmt.Sprintf("%.2f%%", float64(row.PercentTotal)/100),
		)
		if _, err := fmt.Fprintln(tw, strings.Join(cols, "\t")); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if r.HasUnsupported {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "* N/A: allocation accounting requires the guard to start and end on one goroutine.")
	}
	return nil
}

func writeNoMeasurements(r *Report, w io.Writer) error {
	elapsed := time.Duration(r.TotalElapsedNs)
	fmt.Fprintf(w, "[hotpath] No measurements recorded from %s (total time: %s)\n\n", r.CallerName, elapsed)
	fmt.Fprintln(w, "To start measuring, wrap code with a guard:")
	fmt.Fprintln(w)
	fmt.Fprintln(w, `    g := hotpath.Start("my_function")`)
	fmt.Fprintln(w, "    defer g.End()")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "or measure a block in place:")
	fmt.Fprintln(w)
	fmt.Fprintln(w, `    hotpath.Measure("my_block", func() {`)
	fmt.Fprintln(w, "        // code under measurement")
	fmt.Fprintln(w, "    })")
	return nil
}

func formatCell(c Cell, mode Mode) string {
	if c.Unsupported {
		return "N/A*"
	}
	switch mode {
	case ModeTiming:
		return formatDuration(time.Duration(c.Value))
	case ModeAllocBytesTotal, ModeAllocBytesMax:
		return formatBytes(c.Value)
	default:
		return fmt.Sprintf("%d", c.Value)
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	case d < time.Millisecond:
		return fmt.Sprintf("%.2fµs", float64(d.Nanoseconds())/1e3)
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(d.Nanoseconds())/1e6)
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	units := []string{"KB", "MB", "GB", "TB"}
	v := float64(b)
	i := -1
	for v >= unit && i < len(units)-1 {
		v /= unit
		i++
	}
	return fmt.Sprintf("%.1f %s", v, units[i])
}
