// Package output renders load test progress and results to the terminal.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/wesleyorama2/dbpulse/internal/loadtest"
	"github.com/wesleyorama2/dbpulse/internal/loadtest/metrics"
	"github.com/wesleyorama2/dbpulse/internal/loadtest/pool"
)

// Reporter prints the run header, periodic progress lines, and the final
// summary. Progress lines are appended, not redrawn, so the output reads
// as a log in both terminals and files.
type Reporter struct {
	mu      sync.Mutex
	w       io.Writer
	scheme  *ColorScheme
	noColor bool
	quiet   bool
}

// NewReporter writes to w, defaulting to stdout. Colors are used when w
// is a terminal and NO_COLOR is unset; noColor forces them off.
func NewReporter(w io.Writer, quiet, noColor bool) *Reporter {
	if w == nil {
		w = os.Stdout
	}
	if !noColor {
		noColor = !writerIsTerminal(w) || os.Getenv("NO_COLOR") != ""
	}
	scheme := DefaultColorScheme()
	if noColor {
		scheme = NoColorScheme()
	}
	return &Reporter{w: w, scheme: scheme, noColor: noColor, quiet: quiet}
}

func writerIsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Header describes the run about to start.
type Header struct {
	Database  string
	Mode      loadtest.Mode
	Workers   int
	PoolSize  int
	Duration  time.Duration
	WarmUp    time.Duration
	RampUp    time.Duration
	TargetTPS int
}

// PrintHeader announces the run parameters.
func (r *Reporter) PrintHeader(h Header) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.scheme.Title.Fprintln(r.w, "dbpulse load test")
	fmt.Fprintf(r.w, "  %s %s\n", r.scheme.Label.Sprint("database:"), h.Database)
	fmt.Fprintf(r.w, "  %s %s\n", r.scheme.Label.Sprint("mode:    "), h.Mode)
	fmt.Fprintf(r.w, "  %s %d workers, pool %d\n", r.scheme.Label.Sprint("load:    "), h.Workers, h.PoolSize)
	fmt.Fprintf(r.w, "  %s %s run, %s warm-up, %s ramp-up\n",
		r.scheme.Label.Sprint("timing:  "),
		h.Duration, h.WarmUp, h.RampUp)
	if h.TargetTPS > 0 {
		fmt.Fprintf(r.w, "  %s %d tps\n", r.scheme.Label.Sprint("cap:     "), h.TargetTPS)
	}
	fmt.Fprintln(r.w)
}

// PrintProgress emits one progress line. Suppressed in quiet mode.
func (r *Reporter) PrintProgress(elapsed time.Duration, s metrics.Snapshot, p pool.Stats, states map[loadtest.WorkerState]int) {
	if r.quiet {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	tps := fmt.Sprintf("%.1f", s.WindowTPS)
	errPart := r.scheme.Dim.Sprintf("err %d", s.Errors)
	if s.Errors > 0 {
		errPart = r.scheme.Bad.Sprintf("err %d", s.Errors)
	}
	fmt.Fprintf(r.w, "[%8s] txn %-8d tps %-7s p95 %-9s %s  pool %d/%d idle %d  workers %d\n",
		elapsed.Truncate(time.Second),
		s.Transactions,
		tps,
		formatLatency(s.LatencyP95),
		errPart,
		p.Active, p.Capacity, p.Idle,
		states[loadtest.StateRunning])
}

// PrintSummary renders the final result table.
func (r *Reporter) PrintSummary(res *loadtest.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := res.Stats
	fmt.Fprintln(r.w)
	r.scheme.Title.Fprintln(r.w, "results")
	fmt.Fprintf(r.w, "  %s\n", r.scheme.Dim.Sprintf("run %s, %s wall time", res.RunID, res.Finished.Sub(res.Started).Truncate(time.Millisecond)))

	type summaryRow struct {
		label string
		value string
	}
	rows := []summaryRow{
		{"transactions", fmt.Sprintf("%d", s.Transactions)},
		{"throughput", fmt.Sprintf("%.1f tps (last window %.1f)", s.AvgTPS, s.WindowTPS)},
		{"operations", fmt.Sprintf("%d ins / %d sel / %d upd / %d del", s.Inserts, s.Selects, s.Updates, s.Deletes)},
		{"latency", fmt.Sprintf("p50 %s  p95 %s  p99 %s  max %s",
			formatLatency(s.LatencyP50), formatLatency(s.LatencyP95),
			formatLatency(s.LatencyP99), formatLatency(s.LatencyMax))},
		{"pool", fmt.Sprintf("%d created, %d recycled, %d destroyed", res.Pool.Created, res.Pool.Recycled, res.Pool.Destroyed)},
	}
	if res.Pool.LeakWarnings > 0 {
		rows = append(rows, summaryRow{"leaks", fmt.Sprintf("%d leak warnings", res.Pool.LeakWarnings)})
	}
	for _, row := range rows {
		fmt.Fprintf(r.w, "  %s %s\n", r.scheme.Label.Sprintf("%-14s", row.label), row.value)
	}

	icon := SuccessIcon(r.noColor)
	verdict := "no errors"
	switch {
	case s.VerifyFails > 0:
		icon = ErrorIcon(r.noColor)
		verdict = fmt.Sprintf("%d errors, %d verification failures", s.Errors, s.VerifyFails)
	case s.Errors > 0:
		icon = WarningIcon(r.noColor)
		verdict = fmt.Sprintf("%d errors (%.2f%%), %d connections replaced", s.Errors, s.ErrorRate()*100, s.ConnRecreate)
	}
	fmt.Fprintf(r.w, "  %s %s\n", icon, verdict)
}

// formatLatency prints sub-millisecond values in microseconds and
// everything else in milliseconds.
func formatLatency(d time.Duration) string {
	switch {
	case d == 0:
		return "-"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000)
	default:
		return strings.TrimSuffix(fmt.Sprintf("%.2fs", d.Seconds()), "0")
	}
}
