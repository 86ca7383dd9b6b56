// Package export writes load test results to CSV and JSON files for
// offline analysis.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/wesleyorama2/dbpulse/internal/loadtest"
)

// Sample is one point of the progress time series, captured at the
// reporting interval during the run.
type Sample struct {
	Elapsed      time.Duration `json:"elapsed"`
	Transactions int64         `json:"transactions"`
	TPS          float64       `json:"tps"`
	LatencyP95   time.Duration `json:"latencyP95"`
	Errors       int64         `json:"errors"`
	PoolActive   int           `json:"poolActive"`
	PoolIdle     int           `json:"poolIdle"`
}

// Document is the JSON export layout.
type Document struct {
	RunID    string    `json:"runId"`
	Database string    `json:"database"`
	Mode     string    `json:"mode"`
	Workers  int       `json:"workers"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	Statistics statistics `json:"statistics"`
	Latency    latency    `json:"latency"`
	Pool       poolTotals `json:"pool"`
	TimeSeries []Sample   `json:"timeSeries,omitempty"`
}

type statistics struct {
	Transactions int64   `json:"transactions"`
	Inserts      int64   `json:"inserts"`
	Selects      int64   `json:"selects"`
	Updates      int64   `json:"updates"`
	Deletes      int64   `json:"deletes"`
	Errors       int64   `json:"errors"`
	VerifyFails  int64   `json:"verificationFailures"`
	AvgTPS       float64 `json:"avgTps"`
}

type latency struct {
	P50  string `json:"p50"`
	P95  string `json:"p95"`
	P99  string `json:"p99"`
	Max  string `json:"max"`
	Mean string `json:"mean"`
}

type poolTotals struct {
	Created      int64 `json:"created"`
	Recycled     int64 `json:"recycled"`
	Destroyed    int64 `json:"destroyed"`
	Recreated    int64 `json:"recreatedByWorkers"`
	LeakWarnings int64 `json:"leakWarnings"`
}

// NewDocument assembles the export layout from a finished run.
func NewDocument(database string, res *loadtest.Result, series []Sample) *Document {
	s := res.Stats
	return &Document{
		RunID:    res.RunID,
		Database: database,
		Mode:     string(res.Mode),
		Workers:  res.Workers,
		Started:  res.Started,
		Finished: res.Finished,
		Statistics: statistics{
			Transactions: s.Transactions,
			Inserts:      s.Inserts,
			Selects:      s.Selects,
			Updates:      s.Updates,
			Deletes:      s.Deletes,
			Errors:       s.Errors,
			VerifyFails:  s.VerifyFails,
			AvgTPS:       s.AvgTPS,
		},
		Latency: latency{
			P50:  s.LatencyP50.String(),
			P95:  s.LatencyP95.String(),
			P99:  s.LatencyP99.String(),
			Max:  s.LatencyMax.String(),
			Mean: s.LatencyMean.String(),
		},
		Pool: poolTotals{
			Created:      res.Pool.Created,
			Recycled:     res.Pool.Recycled,
			Destroyed:    res.Pool.Destroyed,
			Recreated:    s.ConnRecreate,
			LeakWarnings: res.Pool.LeakWarnings,
		},
		TimeSeries: series,
	}
}

// WriteJSON writes the document to path, indented.
func (d *Document) WriteJSON(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		f.Close()
		return fmt.Errorf("export: %w", err)
	}
	return f.Close()
}

// WriteCSV writes the document to path: commented summary rows followed
// by the time series table.
func (d *Document) WriteCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	w := csv.NewWriter(f)

	summary := [][]string{
		{"# run", d.RunID},
		{"# database", d.Database},
		{"# mode", d.Mode},
		{"# workers", fmt.Sprintf("%d", d.Workers)},
		{"# started", d.Started.Format(time.RFC3339)},
		{"# finished", d.Finished.Format(time.RFC3339)},
		{"# transactions", fmt.Sprintf("%d", d.Statistics.Transactions)},
		{"# avg_tps", fmt.Sprintf("%.2f", d.Statistics.AvgTPS)},
		{"# errors", fmt.Sprintf("%d", d.Statistics.Errors)},
		{"# verification_failures", fmt.Sprintf("%d", d.Statistics.VerifyFails)},
		{"# leak_warnings", fmt.Sprintf("%d", d.Pool.LeakWarnings)},
		{"# latency_p50", d.Latency.P50},
		{"# latency_p95", d.Latency.P95},
		{"# latency_p99", d.Latency.P99},
	}
	for _, row := range summary {
		if err := w.Write(row); err != nil {
			f.Close()
			return fmt.Errorf("export: %w", err)
		}
	}

	if len(d.TimeSeries) > 0 {
		_ = w.Write([]string{"elapsed_seconds", "transactions", "tps", "latency_p95_ms", "errors", "pool_active", "pool_idle"})
		for _, s := range d.TimeSeries {
			_ = w.Write([]string{
				fmt.Sprintf("%.0f", s.Elapsed.Seconds()),
				fmt.Sprintf("%d", s.Transactions),
				fmt.Sprintf("%.2f", s.TPS),
				fmt.Sprintf("%.2f", float64(s.LatencyP95.Microseconds())/1000),
				fmt.Sprintf("%d", s.Errors),
				fmt.Sprintf("%d", s.PoolActive),
				fmt.Sprintf("%d", s.PoolIdle),
			})
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("export: %w", err)
	}
	return f.Close()
}
