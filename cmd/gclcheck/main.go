/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/heimdall_tsn/internal/cbs"
	"github.com/friendsincode/heimdall_tsn/internal/config"
	"github.com/friendsincode/heimdall_tsn/internal/gcl"
	"github.com/friendsincode/heimdall_tsn/internal/guardband"
)

var (
	checkStrict        bool
	checkRequireTiling bool
	checkGuard         time.Duration
	checkJSONOutput    bool
)

var rootCmd = &cobra.Command{
	Use:   "gclcheck <schedule.yaml> [...]",
	Short: "Lint gate control list documents",
	Long: `gclcheck compiles YAML gate control list documents, reporting window
layout, cycle coverage, and guard band headroom without touching a
database or server.

Examples:
  gclcheck schedule.yaml
  gclcheck --strict --require-tiling profiles/*.yaml
  gclcheck --guard 1ms schedule.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.Flags().BoolVar(&checkStrict, "strict", false, "Reject schedules that give a class more than one window")
	rootCmd.Flags().BoolVar(&checkRequireTiling, "require-tiling", false, "Reject schedules that leave gaps in the cycle")
	rootCmd.Flags().DurationVar(&checkGuard, "guard", 0, "Check that this guard band fits every window")
	rootCmd.Flags().BoolVar(&checkJSONOutput, "json", false, "Emit results as JSON")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type checkResult struct {
	File         string        `json:"file"`
	OK           bool          `json:"ok"`
	Error        string        `json:"error,omitempty"`
	Windows      int           `json:"windows,omitempty"`
	CycleTime    time.Duration `json:"cycle_time,omitempty"`
	Tiles        bool          `json:"tiles,omitempty"`
	MinWindow    time.Duration `json:"min_window,omitempty"`
	GuardOK      bool          `json:"guard_ok,omitempty"`
	CapacityLoss float64       `json:"capacity_loss,omitempty"`
	Shapers      int           `json:"shapers,omitempty"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	var opts []gcl.Option
	if checkStrict {
		opts = append(opts, gcl.Strict())
	}
	if checkRequireTiling {
		opts = append(opts, gcl.RequireTiling())
	}

	results := make([]checkResult, 0, len(args))
	failed := false
	for _, path := range args {
		res := checkFile(path, opts)
		if !res.OK {
			failed = true
		}
		results = append(results, res)
	}

	if checkJSONOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		for _, res := range results {
			printResult(res)
		}
	}

	if failed {
		return fmt.Errorf("%d of %d schedules failed checks", countFailed(results), len(results))
	}
	return nil
}

func checkFile(path string, opts []gcl.Option) checkResult {
	res := checkResult{File: path}

	g, spec, err := config.LoadSchedule(path, opts...)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	res.Windows = g.Len()
	res.CycleTime = g.CycleTime()
	res.Tiles = g.Tiles()
	res.MinWindow = g.MinWindowDuration()
	res.Shapers = len(spec.Shapers)

	for _, shaperCfg := range spec.Shapers {
		if _, err := cbs.NewShaper(shaperCfg); err != nil {
			res.Error = fmt.Sprintf("shaper for class %d: %v", shaperCfg.TrafficClass, err)
			return res
		}
	}

	res.GuardOK = true
	if checkGuard > 0 {
		analysis, err := guardband.Analyze(g, checkGuard, nil)
		if err != nil {
			res.GuardOK = false
			res.Error = err.Error()
			return res
		}
		res.CapacityLoss = analysis.CapacityLoss
	}

	res.OK = true
	return res
}

func printResult(res checkResult) {
	if !res.OK {
		fmt.Printf("%s: FAIL: %s\n", res.File, res.Error)
		return
	}
	fmt.Printf("%s: ok\n", res.File)
	fmt.Printf("  windows:    %d\n", res.Windows)
	fmt.Printf("  cycle time: %s\n", res.CycleTime)
	fmt.Printf("  tiles:      %v\n", res.Tiles)
	fmt.Printf("  min window: %s\n", res.MinWindow)
	if res.Shapers > 0 {
		fmt.Printf("  shapers:    %d\n", res.Shapers)
	}
	if checkGuard > 0 {
		fmt.Printf("  guard %s capacity loss: %.2f%%\n", checkGuard, res.CapacityLoss*100)
	}
}

func countFailed(results []checkResult) int {
	n := 0
	for _, res := range results {
		if !res.OK {
			n++
		}
	}
	return n
}
