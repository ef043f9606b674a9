// Package report defines the exported profiling report: a stable,
// round-trippable document built from aggregated function stats, plus
// the formatters that render it.
package report

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/coral-mesh/hotpath/internal/stats"
)

// Mode identifies which metric a session collected.
type Mode string

const (
	ModeTiming          Mode = "timing"
	ModeAllocBytesTotal Mode = "alloc-bytes-total"
	ModeAllocBytesMax   Mode = "alloc-bytes-max"
	ModeAllocCountTotal Mode = "alloc-count-total"
	ModeAllocCountMax   Mode = "alloc-count-max"
)

// Valid reports whether m names a known profiling mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeTiming, ModeAllocBytesTotal, ModeAllocBytesMax,
		ModeAllocCountTotal, ModeAllocCountMax:
		return true
	}
	return false
}

// Cell is one metric value. Unsupported cells render as "N/A" and
// serialize as JSON null: the value exists but could not be
// attributed (for example an allocation guard that crossed
// goroutines).
type Cell struct {
	Value       uint64
	Unsupported bool
}

// Row holds the rendered metrics for one function.
type Row struct {
	Calls uint64
	Avg   Cell
	// PercentileValues is parallel to Report.Percentiles.
	PercentileValues []Cell
	Total            Cell
	// PercentTotal is expressed in basis points (1% = 100) so the
	// serialized form stays integral and diff-stable.
	PercentTotal uint64
}

// Report is the exported form of one profiling session. The JSON
// encoding is stable and round-trippable: external tooling diffs two
// serialized reports, so field names and value representations must
// not change shape between versions.
type Report struct {
	Mode           Mode
	TotalElapsedNs uint64
	CallerName     string
	Percentiles    []int
	HasUnsupported bool
	// Functions maps function name to its metric row. Only displayed
	// rows are exported; the wrapper measurement is folded into
	// percent-of-total and never listed.
	Functions map[string]Row

	// TotalRecorded counts aggregated functions before the display
	// limit was applied. Not serialized.
	TotalRecorded int
}

type reportJSON struct {
	Mode           Mode                          `json:"hotpath_profiling_mode"`
	TotalElapsedNs uint64                        `json:"total_elapsed"`
	CallerName     string                        `json:"caller_name"`
	Percentiles    []int                         `json:"percentiles"`
	HasUnsupported bool                          `json:"has_unsupported"`
	Functions      map[string]map[string]*uint64 `json:"functions"`
}

func cellValue(c Cell) *uint64 {
	if c.Unsupported {
		return nil
	}
	v := c.Value
	return &v
}

// MarshalJSON implements json.Marshaler.
func (r *Report) MarshalJSON() ([]byte, error) {
	out := reportJSON{
		Mode:           r.Mode,
		TotalElapsedNs: r.TotalElapsedNs,
		CallerName:     r.CallerName,
		Percentiles:    r.Percentiles,
		HasUnsupported: r.HasUnsupported,
		Functions:      make(map[string]map[string]*uint64, len(r.Functions)),
	}
	for name, row := range r.Functions {
		m := make(map[string]*uint64, len(r.Percentiles)+4)
		calls := row.Calls
		m["calls"] = &calls
		m["avg"] = cellValue(row.Avg)
		for i, p := range r.Percentiles {
			var c Cell
			if i < len(row.PercentileValues) {
				c = row.PercentileValues[i]
			}
			m[fmt.Sprintf("p%d", p)] = cellValue(c)
		}
		m["total"] = cellValue(row.Total)
		pct := row.PercentTotal
		m["percent_total"] = &pct
		out.Functions[name] = m
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Report) UnmarshalJSON(data []byte) error {
	var in reportJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if !in.Mode.Valid() {
		return fmt.Errorf("unknown profiling mode %q", in.Mode)
	}
	r.Mode = in.Mode
	r.TotalElapsedNs = in.TotalElapsedNs
	r.CallerName = in.CallerName
	r.Percentiles = in.Percentiles
	r.HasUnsupported = in.HasUnsupported
	r.Functions = make(map[string]Row, len(in.Functions))
	for name, m := range in.Functions {
		var row Row
		if v := m["calls"]; v != nil {
			row.Calls = *v
		}
		row.Avg = toCell(m["avg"])
		row.PercentileValues = make([]Cell, len(in.Percentiles))
		for i, p := range in.Percentiles {
			row.PercentileValues[i] = toCell(m[fmt.Sprintf("p%d", p)])
		}
		row.Total = toCell(m["total"])
		if v := m["percent_total"]; v != nil {
			row.PercentTotal = *v
		}
		r.Functions[name] = row
	}
	r.TotalRecorded = len(r.Functions)
	return nil
}

func toCell(v *uint64) Cell {
	if v == nil {
		return Cell{Unsupported: true}
	}
	return Cell{Value: *v}
}

// Build turns the worker's aggregate map into an exportable report.
//
// Percent-of-total is computed against the wrapper measurement's
// total when one exists and its data is attributable; otherwise
// against the sum of the displayed functions' totals. limit bounds
// the number of exported rows (0 = unlimited), highest share first.
func Build(mode Mode, elapsedNs uint64, caller string, percentiles []int, limit int, agg map[string]*stats.FunctionStats) *Report {
	r := &Report{
		Mode:           mode,
		TotalElapsedNs: elapsedNs,
		CallerName:     caller,
		Percentiles:    append([]int(nil), percentiles...),
		Functions:      make(map[string]Row),
	}

	var wrapperTotal uint64
	haveWrapper := false

	type entry struct {
		name  string
		st    *stats.FunctionStats
		total uint64
	}
	entries := make([]entry, 0, len(agg))
	for name, st := range agg {
		if st.IsWrapper {
			if st.HasData && !st.HasUnsupported {
				wrapperTotal = st.Total()
				haveWrapper = wrapperTotal > 0
			}
			continue
		}
		if st.HasUnsupported {
			r.HasUnsupported = true
		}
		entries = append(entries, entry{name: name, st: st, total: st.Total()})
	}
	r.TotalRecorded = len(entries)

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].total != entries[j].total {
			return entries[i].total > entries[j].total
		}
		return entries[i].name < entries[j].name
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	reference := wrapperTotal
	if !haveWrapper {
		reference = 0
		for _, e := range entries {
			reference += e.total
		}
	}

	for _, e := range entries {
		row := Row{Calls: e.st.Count}
		if !e.st.HasData {
			// Every sample for this function was unsupported.
			row.Avg = Cell{Unsupported: true}
			row.Total = Cell{Unsupported: true}
			row.PercentileValues = make([]Cell, len(percentiles))
			for i := range row.PercentileValues {
				row.PercentileValues[i] = Cell{Unsupported: true}
			}
			r.Functions[e.name] = row
			continue
		}
		row.Avg = Cell{Value: e.st.Mean()}
		row.PercentileValues = make([]Cell, len(percentiles))
		for i, p := range percentiles {
			row.PercentileValues[i] = Cell{Value: e.st.Percentile(float64(p))}
		}
		row.Total = Cell{Value: e.total}
		if reference > 0 {
			row.PercentTotal = uint64(float64(e.total) / float64(reference) * 10000)
		}
		r.Functions[e.name] = row
	}

	return r
}

// SortedNames returns the report's function names ordered by share of
// total, highest first, name as tiebreaker.
func (r *Report) SortedNames() []string {
	names := make([]string, 0, len(r.Functions))
	for name := range r.Functions {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := r.Functions[names[i]], r.Functions[names[j]]
		if a.PercentTotal != b.PercentTotal {
			return a.PercentTotal > b.PercentTotal
		}
		return names[i] < names[j]
	})
	return names
}
