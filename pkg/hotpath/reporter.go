package hotpath

import (
	"io"

	"github.com/coral-mesh/hotpath/pkg/hotpath/report"
)

// Reporter consumes the final (or snapshotted) aggregate of a
// session. Implementations only format and deliver; the aggregation
// logic never depends on which one is active. A failing Reporter is
// logged and never interrupts session teardown.
type Reporter interface {
	Report(r *report.Report) error
}

// NewReporter builds a Reporter that renders the given format to w.
func NewReporter(format report.Format, w io.Writer) (Reporter, error) {
	f, err := report.NewFormatter(format)
	if err != nil {
		return nil, err
	}
	return &writerReporter{formatter: f, w: w}, nil
}

type writerReporter struct {
	formatter report.Formatter
	w         io.Writer
}

func (r *writerReporter) Report(rep *report.Report) error {
	return r.formatter.Format(rep, r.w)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(r *report.Report) error

func (f ReporterFunc) Report(r *report.Report) error { return f(r) }
