// Command benchmark drives common/benchmark's workload harness against
// the LSM and B-Tree engines, individually or side by side.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/arkatz-dev/dualkv/btree"
	"github.com/arkatz-dev/dualkv/common"
	"github.com/arkatz-dev/dualkv/common/benchmark"
	"github.com/arkatz-dev/dualkv/config"
	"github.com/arkatz-dev/dualkv/lsm"
	"github.com/arkatz-dev/dualkv/metrics"
	"github.com/spf13/cobra"
)

func main() {
	var (
		quick       bool
		workload    string
		duration    time.Duration
		concurrency int
		engine      string
		configPath  string
	)

	root := &cobra.Command{
		Use:   "benchmark",
		Short: "Run put/get workloads against the LSM and B-Tree engines",
		RunE: func(cmd *cobra.Command, args []string) error {
			var configs []benchmark.Config
			if quick {
				configs = benchmark.QuickWorkloads()
			} else {
				configs = benchmark.StandardWorkloads()
			}

			if cmd.Flags().Changed("duration") {
				for i := range configs {
					configs[i].Duration = duration
				}
			}
			if cmd.Flags().Changed("concurrency") {
				for i := range configs {
					configs[i].Concurrency = concurrency
				}
			}
			if workload != "all" {
				filtered := configs[:0]
				for _, c := range configs {
					if c.Name == workload {
						filtered = append(filtered, c)
					}
				}
				if len(filtered) == 0 {
					return fmt.Errorf("unknown workload %q", workload)
				}
				configs = filtered
			}

			switch engine {
			case "lsm":
				return runLSM(configs, configPath)
			case "btree":
				return runBTree(configs, configPath)
			case "compare":
				return runComparison(configs, configPath)
			default:
				return fmt.Errorf("unknown engine %q (must be lsm, btree, or compare)", engine)
			}
		},
	}

	root.Flags().BoolVar(&quick, "quick", false, "run quick benchmarks (shorter duration)")
	root.Flags().StringVar(&workload, "workload", "all", "workload to run (all, or a specific workload name)")
	root.Flags().DurationVar(&duration, "duration", 60*time.Second, "duration for each benchmark")
	root.Flags().IntVar(&concurrency, "concurrency", 8, "number of concurrent workers")
	root.Flags().StringVar(&engine, "engine", "compare", "engine to benchmark: lsm, btree, or compare")
	root.Flags().StringVar(&configPath, "config", "", "optional YAML file overriding the engine's default config")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runLSM(configs []benchmark.Config, configPath string) error {
	fmt.Println("=== LSM-Tree Benchmark ===")

	dir, err := os.MkdirTemp("", "dualkv-bench-lsm-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	cfg, err := loadLSMConfig(configPath, dir)
	if err != nil {
		return err
	}

	db, err := lsm.Open(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := metrics.NewRegistry()
	results := runBenchmarks(db, configs, "lsm", reg)
	printSummaryTable(results)
	printMetricsSummary(reg)
	return nil
}

func runBTree(configs []benchmark.Config, configPath string) error {
	fmt.Println("=== B-Tree Benchmark ===")

	dir, err := os.MkdirTemp("", "dualkv-bench-btree-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	cfg, err := loadBTreeConfig(configPath, dir)
	if err != nil {
		return err
	}

	bt, err := btree.Open(cfg)
	if err != nil {
		return err
	}
	defer bt.Close()

	// Only read-only and write-only workloads run against the B-Tree; if
	// none of the selected workloads is of those types, all of them run.
	filtered := make([]benchmark.Config, 0, len(configs))
	for _, c := range configs {
		if c.WorkloadType == benchmark.WorkloadReadOnly || c.WorkloadType == benchmark.WorkloadWriteOnly {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		filtered = configs
	}

	reg := metrics.NewRegistry()
	results := runBenchmarks(bt, filtered, "btree", reg)
	printSummaryTable(results)
	printMetricsSummary(reg)
	return nil
}

func runComparison(configs []benchmark.Config, configPath string) error {
	fmt.Println("=== Comparing LSM-Tree vs. B-Tree ===")

	lsmDir, err := os.MkdirTemp("", "dualkv-bench-lsm-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(lsmDir)

	btreeDir, err := os.MkdirTemp("", "dualkv-bench-btree-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(btreeDir)

	lsmCfg, err := loadLSMConfig(configPath, lsmDir)
	if err != nil {
		return err
	}
	btreeCfg, err := loadBTreeConfig(configPath, btreeDir)
	if err != nil {
		return err
	}

	db, err := lsm.Open(lsmCfg)
	if err != nil {
		return err
	}
	defer db.Close()

	bt, err := btree.Open(btreeCfg)
	if err != nil {
		return err
	}
	defer bt.Close()

	engines := map[string]common.StorageEngine{
		"lsm":   db,
		"btree": bt,
	}

	reg := metrics.NewRegistry()
	suite := benchmark.NewComparisonSuite()
	suite.SetWorkloads(configs)
	suite.SetMetrics(reg)
	results := suite.RunComparison(engines)

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("COMPARISON RESULTS")
	fmt.Println(strings.Repeat("=", 80))
	suite.PrintComparisonTable(results)
	printMetricsSummary(reg)
	return nil
}

func loadLSMConfig(configPath, dataDir string) (lsm.Config, error) {
	if configPath == "" {
		return lsm.DefaultConfig(dataDir), nil
	}
	return config.LoadLSMConfig(configPath, dataDir)
}

func loadBTreeConfig(configPath, dataDir string) (btree.Config, error) {
	if configPath == "" {
		return btree.DefaultConfig(dataDir), nil
	}
	return config.LoadBTreeConfig(configPath, dataDir)
}

func runBenchmarks(engine common.StorageEngine, configs []benchmark.Config, engineLabel string, reg *metrics.Registry) []*benchmark.Result {
	results := make([]*benchmark.Result, 0, len(configs))

	for _, cfg := range configs {
		fmt.Printf("\n=== Running: %s ===\n", cfg.Name)
		cfg.EngineLabel = engineLabel

		bench := benchmark.NewBenchmark(engine, cfg)
		bench.SetMetrics(reg)
		result, err := bench.Run()
		if err != nil {
			fmt.Printf("benchmark failed: %v\n", err)
			continue
		}

		results = append(results, result)
		printResult(result)
	}

	return results
}

func printMetricsSummary(reg *metrics.Registry) {
	families, err := reg.Gather()
	if err != nil {
		fmt.Printf("\nmetrics: gather failed: %v\n", err)
		return
	}
	fmt.Printf("\nmetrics: %d families exported\n", len(families))
}

func printResult(r *benchmark.Result) {
	fmt.Printf("\n--- results ---\n")
	fmt.Printf("throughput: %.0f ops/sec\n", r.OpsPerSec)
	fmt.Printf("total ops: %d (writes: %d, reads: %d)\n", r.TotalOps, r.WriteOps, r.ReadOps)

	if r.WriteOps > 0 {
		fmt.Printf("\nwrite latency:\n")
		fmt.Printf("  p50: %8s  p99: %8s  max: %8s\n", r.WriteLatency.P50, r.WriteLatency.P99, r.WriteLatency.Max)
	}
	if r.ReadOps > 0 {
		fmt.Printf("\nread latency:\n")
		fmt.Printf("  p50: %8s  p99: %8s  max: %8s\n", r.ReadLatency.P50, r.ReadLatency.P99, r.ReadLatency.Max)
	}

	fmt.Printf("\namplification: write %.2fx, space %.2fx\n", r.WriteAmplification, r.SpaceAmplification)
	fmt.Printf("disk usage: %.1f MB\n", r.TotalDiskMB)
}

func printSummaryTable(results []*benchmark.Result) {
	if len(results) == 0 {
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("BENCHMARK SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("\n%-25s %12s %12s %12s %12s\n", "workload", "throughput", "write p99", "read p99", "write amp")
	fmt.Println(strings.Repeat("-", 80))

	for _, r := range results {
		writeP99, readP99 := "N/A", "N/A"
		if r.WriteOps > 0 {
			writeP99 = r.WriteLatency.P99.String()
		}
		if r.ReadOps > 0 {
			readP99 = r.ReadLatency.P99.String()
		}
		fmt.Printf("%-25s %10.0f/s %12s %12s %11.2fx\n", r.Config.Name, r.OpsPerSec, writeP99, readP99, r.WriteAmplification)
	}
}
