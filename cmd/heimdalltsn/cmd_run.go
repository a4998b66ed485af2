/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/heimdall_tsn/internal/config"
	"github.com/friendsincode/heimdall_tsn/internal/db"
	"github.com/friendsincode/heimdall_tsn/internal/events"
	"github.com/friendsincode/heimdall_tsn/internal/gcl"
	"github.com/friendsincode/heimdall_tsn/internal/models"
	"github.com/friendsincode/heimdall_tsn/internal/run"
	"github.com/friendsincode/heimdall_tsn/internal/scheduler"
	"github.com/friendsincode/heimdall_tsn/internal/storage"
)

// Run flags
var (
	runCycles       int
	runSeed         int64
	runEventsPer    int
	runJitterStdDev time.Duration
	runMisfireProb  float64
	runProbeSigma   time.Duration
	runGuardBands   []time.Duration
	runRecordValid  bool
	runJSONOutput   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a one-shot validation campaign",
	Long: `Runs a synthetic traffic campaign against the configured gate control list,
validates every transmission, measures boundary switching latency, and
writes a report to the report directory.

The schedule comes from HEIMDALL_SCHEDULE_FILE; pass workload parameters
as flags to override the configured defaults.

Examples:
  heimdalltsn run --cycles 100 --seed 42
  heimdalltsn run --misfire-prob 0.05 --guard-band 0 --guard-band 1ms
  heimdalltsn run --jitter-stddev 300us --json`,
	RunE: runCampaign,
}

func init() {
	runCmd.Flags().IntVar(&runCycles, "cycles", 0, "Number of schedule cycles to synthesize (default: configured)")
	runCmd.Flags().Int64Var(&runSeed, "seed", 0, "Random seed (0 = time-derived)")
	runCmd.Flags().IntVar(&runEventsPer, "events-per-window", 1, "Transmissions per gate window per cycle")
	runCmd.Flags().DurationVar(&runJitterStdDev, "jitter-stddev", 0, "Gaussian jitter applied to event timestamps")
	runCmd.Flags().Float64Var(&runMisfireProb, "misfire-prob", 0, "Probability of a misfired transmission per event")
	runCmd.Flags().DurationVar(&runProbeSigma, "probe-sigma", 0, "Boundary probe noise standard deviation")
	runCmd.Flags().DurationSliceVar(&runGuardBands, "guard-band", nil, "Guard band to sweep (repeatable)")
	runCmd.Flags().BoolVar(&runRecordValid, "record-valid", false, "Keep valid transmissions in the violation log")
	runCmd.Flags().BoolVar(&runJSONOutput, "json", false, "Print the run record as JSON")
}

func runCampaign(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close(database)
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	g, err := loadCampaignSchedule(cfg)
	if err != nil {
		return err
	}
	sched := scheduler.New(g)

	store, err := storage.NewFilesystemStore(cfg.ReportDir)
	if err != nil {
		return fmt.Errorf("init report directory: %w", err)
	}

	bus := events.NewBus()
	runner := run.NewRunner(sched, database, store, bus, logger)

	params := run.Params{
		Cycles:          runCycles,
		Seed:            runSeed,
		EventsPerWindow: runEventsPer,
		JitterStdDev:    runJitterStdDev,
		MisfireProb:     runMisfireProb,
		ProbeSigma:      runProbeSigma,
		LatencyBound:    cfg.LatencyBound,
		GuardBands:      runGuardBands,
		RecordValid:     runRecordValid,
	}
	if params.Cycles <= 0 {
		params.Cycles = cfg.RunCycles
	}
	if params.JitterStdDev <= 0 {
		params.JitterStdDev = cfg.RunJitterStdDev
	}
	if params.MisfireProb <= 0 {
		params.MisfireProb = cfg.RunMisfireProb
	}
	if params.ProbeSigma <= 0 {
		params.ProbeSigma = cfg.ProbeSigma
	}

	runID, err := runner.Start(context.Background(), "", params)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	runner.Wait()

	var rec models.Run
	if err := database.First(&rec, "id = ?", runID).Error; err != nil {
		return fmt.Errorf("load run record: %w", err)
	}

	if rec.Status == models.RunFailed {
		return fmt.Errorf("run failed: %s", rec.Error)
	}

	if runJSONOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	fmt.Printf("run %s: %s\n", rec.ID, rec.Status)
	fmt.Printf("  events:      %d\n", rec.Events)
	fmt.Printf("  violations:  %d\n", rec.Violations)
	fmt.Printf("  meets bound: %v\n", rec.MeetsBound)
	if rec.ReportKey != "" {
		fmt.Printf("  report:      %s\n", store.URL(rec.ReportKey))
	}
	return nil
}

func loadCampaignSchedule(cfg *config.Config) (*gcl.GateControlList, error) {
	var opts []gcl.Option
	if cfg.StrictSchedules {
		opts = append(opts, gcl.Strict())
	}
	if cfg.RequireTiling {
		opts = append(opts, gcl.RequireTiling())
	}

	if cfg.ScheduleFile == "" {
		return nil, fmt.Errorf("HEIMDALL_SCHEDULE_FILE must point at a gate control list")
	}
	g, _, err := config.LoadSchedule(cfg.ScheduleFile, opts...)
	if err != nil {
		return nil, fmt.Errorf("load schedule %s: %w", cfg.ScheduleFile, err)
	}
	return g, nil
}
