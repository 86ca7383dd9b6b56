package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/dbpulse/internal/adapter"
	"github.com/wesleyorama2/dbpulse/internal/adapter/postgres"
	"github.com/wesleyorama2/dbpulse/internal/config"
	"github.com/wesleyorama2/dbpulse/internal/export"
	"github.com/wesleyorama2/dbpulse/internal/loadtest"
	"github.com/wesleyorama2/dbpulse/internal/loadtest/pool"
	"github.com/wesleyorama2/dbpulse/internal/logging"
	"github.com/wesleyorama2/dbpulse/internal/output"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a load test against a database",
	Long: `Run executes a timed load test: warm the connection pool, ramp workers
up, drive the configured operation mode, and report throughput and
latency. SIGINT or SIGTERM stops the run gracefully and still prints
the summary for the portion that completed.`,
	RunE: runLoadTest,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file without running",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		if path == "" {
			return fmt.Errorf("--config is required")
		}
		cfg, err := config.LoadConfig(path)
		if err != nil {
			return err
		}
		if errs := config.ValidateConfig(cfg); len(errs) > 0 {
			for _, e := range errs {
				fmt.Fprintf(os.Stderr, "  %s\n", e)
			}
			return fmt.Errorf("%d validation errors", len(errs))
		}
		fmt.Println("configuration is valid")
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{runCmd, validateCmd} {
		cmd.Flags().StringP("config", "c", "", "Configuration file (YAML)")
	}

	runCmd.Flags().String("driver", "", "Database driver (postgres)")
	runCmd.Flags().String("host", "", "Database host")
	runCmd.Flags().Int("port", 0, "Database port")
	runCmd.Flags().String("db", "", "Database name")
	runCmd.Flags().String("user", "", "Database user")
	runCmd.Flags().String("password", "", "Database password (or DBPULSE_PASSWORD)")
	runCmd.Flags().Bool("setup", false, "Create the test table before running")

	runCmd.Flags().IntP("workers", "w", 0, "Number of concurrent workers")
	runCmd.Flags().DurationP("duration", "d", 0, "Measured test duration")
	runCmd.Flags().Duration("warmup", 0, "Warm-up before measurement starts")
	runCmd.Flags().Duration("rampup", 0, "Spread worker starts across this duration")
	runCmd.Flags().StringP("mode", "m", "", "Operation mode: full, insert, select, update, delete, mixed")
	runCmd.Flags().Int("rate", 0, "Target transactions per second, 0 for unlimited")
	runCmd.Flags().Int("pool-min-size", 0, "Connections opened during warm-up")
	runCmd.Flags().Int("pool-max-size", 0, "Maximum connection pool size")
	runCmd.Flags().Int("payload-size", 0, "Payload column width in bytes")
	runCmd.Flags().Int64("seed", 0, "Random seed for reproducible payloads")

	runCmd.Flags().Duration("interval", 0, "Progress reporting interval")
	runCmd.Flags().String("csv", "", "Export results to a CSV file")
	runCmd.Flags().String("json", "", "Export results to a JSON file")
	runCmd.Flags().BoolP("quiet", "q", false, "Suppress progress lines")
	runCmd.Flags().Bool("no-color", false, "Disable colored output")
	runCmd.Flags().BoolP("verbose", "v", false, "Enable debug logging")
}

func runLoadTest(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "  %s\n", e)
		}
		return fmt.Errorf("%d validation errors", len(errs))
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	quiet, _ := cmd.Flags().GetBool("quiet")
	noColor, _ := cmd.Flags().GetBool("no-color")

	log, err := logging.New(verbose)
	if err != nil {
		return err
	}
	defer log.Sync()

	db, err := newAdapter(cfg)
	if err != nil {
		return err
	}

	mode, err := loadtest.ParseMode(cfg.Load.Mode)
	if err != nil {
		return err
	}

	ctrl := loadtest.NewController(db, loadtest.Options{
		Workers:     cfg.Load.Workers,
		Duration:    cfg.Load.Duration,
		WarmUp:      cfg.Load.WarmUp,
		RampUp:      cfg.Load.RampUp,
		Mode:        mode,
		TargetTPS:   cfg.Load.TargetTPS,
		PayloadSize: cfg.Load.PayloadSize,
		IDCacheSize: cfg.Load.IDCacheSize,
		Seed:        cfg.Load.Seed,
		Setup:       cfg.Database.Setup,
		Pool: pool.Options{
			MinSize:        cfg.Pool.MinSize,
			MaxSize:        cfg.Pool.MaxSize,
			MaxLifetime:    cfg.Pool.MaxLifetime,
			LeakThreshold:  cfg.Pool.LeakThreshold,
			HealthInterval: cfg.Pool.HealthInterval,
		},
	}, log)

	reporter := output.NewReporter(os.Stdout, quiet, noColor)
	reporter.PrintHeader(output.Header{
		Database:  db.Name(),
		Mode:      mode,
		Workers:   cfg.Load.Workers,
		PoolSize:  cfg.Pool.MaxSize,
		Duration:  cfg.Load.Duration,
		WarmUp:    cfg.Load.WarmUp,
		RampUp:    cfg.Load.RampUp,
		TargetTPS: cfg.Load.TargetTPS,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interval := cfg.Report.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	progressCtx, stopProgress := context.WithCancel(context.Background())
	var (
		samplesMu sync.Mutex
		samples   []export.Sample
	)
	go func() {
		start := time.Now()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-progressCtx.Done():
				return
			case <-ticker.C:
				elapsed := time.Since(start)
				snap := ctrl.Snapshot()
				ps := ctrl.PoolStats()
				reporter.PrintProgress(elapsed, snap, ps, ctrl.WorkerStates())
				samplesMu.Lock()
				samples = append(samples, export.Sample{
					Elapsed:      elapsed,
					Transactions: snap.Transactions,
					TPS:          snap.WindowTPS,
					LatencyP95:   snap.LatencyP95,
					Errors:       snap.Errors,
					PoolActive:   ps.Active,
					PoolIdle:     ps.Idle,
				})
				samplesMu.Unlock()
			}
		}
	}()

	res, err := ctrl.Run(ctx)
	stopProgress()
	if err != nil {
		return err
	}

	reporter.PrintSummary(res)

	samplesMu.Lock()
	series := samples
	samplesMu.Unlock()
	doc := export.NewDocument(db.Name(), res, series)
	if path := cfg.Report.CSV; path != "" {
		if err := doc.WriteCSV(path); err != nil {
			return err
		}
		log.Info("results exported", zap.String("csv", path))
	}
	if path := cfg.Report.JSON; path != "" {
		if err := doc.WriteJSON(path); err != nil {
			return err
		}
		log.Info("results exported", zap.String("json", path))
	}
	return nil
}

// buildConfig layers flag overrides on top of the config file, or the
// defaults when no file is given.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		c, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = c
	} else {
		cfg = config.Default()
	}

	flags := cmd.Flags()
	if flags.Changed("driver") {
		cfg.Database.Driver, _ = flags.GetString("driver")
	}
	if flags.Changed("host") {
		cfg.Database.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Database.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("db") {
		cfg.Database.Name, _ = flags.GetString("db")
	}
	if flags.Changed("user") {
		cfg.Database.User, _ = flags.GetString("user")
	}
	if flags.Changed("password") {
		cfg.Database.Password, _ = flags.GetString("password")
	}
	if flags.Changed("setup") {
		cfg.Database.Setup, _ = flags.GetBool("setup")
	}
	if flags.Changed("workers") {
		cfg.Load.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("duration") {
		cfg.Load.Duration, _ = flags.GetDuration("duration")
	}
	if flags.Changed("warmup") {
		cfg.Load.WarmUp, _ = flags.GetDuration("warmup")
	}
	if flags.Changed("rampup") {
		cfg.Load.RampUp, _ = flags.GetDuration("rampup")
	}
	if flags.Changed("mode") {
		cfg.Load.Mode, _ = flags.GetString("mode")
	}
	if flags.Changed("rate") {
		cfg.Load.TargetTPS, _ = flags.GetInt("rate")
	}
	if flags.Changed("pool-min-size") {
		cfg.Pool.MinSize, _ = flags.GetInt("pool-min-size")
	}
	if flags.Changed("pool-max-size") {
		cfg.Pool.MaxSize, _ = flags.GetInt("pool-max-size")
	}
	if flags.Changed("payload-size") {
		cfg.Load.PayloadSize, _ = flags.GetInt("payload-size")
	}
	if flags.Changed("seed") {
		cfg.Load.Seed, _ = flags.GetInt64("seed")
	}
	if flags.Changed("interval") {
		cfg.Report.Interval, _ = flags.GetDuration("interval")
	}
	if flags.Changed("csv") {
		cfg.Report.CSV, _ = flags.GetString("csv")
	}
	if flags.Changed("json") {
		cfg.Report.JSON, _ = flags.GetString("json")
	}
	return cfg, nil
}

// newAdapter builds the adapter named by the config.
func newAdapter(cfg *config.Config) (adapter.Adapter, error) {
	switch cfg.Database.Driver {
	case "postgres":
		return postgres.New(postgres.Config{
			Host:           cfg.Database.Host,
			Port:           cfg.Database.Port,
			Database:       cfg.Database.Name,
			User:           cfg.Database.User,
			Password:       cfg.Database.Password,
			SSLMode:        cfg.Database.SSLMode,
			ConnectTimeout: cfg.Database.ConnectTimeout,
			QueryTimeout:   cfg.Database.QueryTimeout,
			Params:         cfg.Database.Params,
		}), nil
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Database.Driver)
	}
}
