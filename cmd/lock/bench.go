package lock

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/dLock/cmd/util"
	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/lease"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	benchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "Load test a lock manager shard",
		Long:    "Runs the scenarios uncontended, contended and check against a lock manager shard and prints latency percentiles and throughput per operation.",
		PreRunE: processBenchConfig,
		RunE:    runBench,
	}

	benchResourceType = db.ResourceType("Bench")
	benchOwners       = 10
	benchKeys         = 100
	benchOps          = 1000
	benchSkip         []string
)

var benchPercentiles = []float64{0.5, 0.9, 0.99}

func init() {
	key := "owners"
	benchCmd.Flags().Int(key, 10, util.WrapString("Number of concurrent clients, each with its own owner id"))
	key = "keys"
	benchCmd.Flags().Int(key, 100, util.WrapString("How many different resources the contended scenario competes for"))
	key = "ops"
	benchCmd.Flags().Int(key, 1000, util.WrapString("Operations per owner and scenario"))
	key = "skip"
	benchCmd.Flags().String(key, "", util.WrapString("Scenarios to skip (comma separated - e.g. contended,check)"))
	key = "resource-type"
	benchCmd.Flags().String(key, "Bench", util.WrapString("Resource type of the keys used by the benchmark (must be allowed by the server)"))
	key = "csv"
	benchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	benchOwners = max(1, viper.GetInt("owners"))
	benchKeys = max(1, viper.GetInt("keys"))
	benchOps = max(1, viper.GetInt("ops"))
	benchSkip = strings.Split(viper.GetString("skip"), ",")
	benchResourceType = db.ResourceType(viper.GetString("resource-type"))
	if !db.NewKey(benchResourceType, "x").Valid() {
		return fmt.Errorf("invalid resource type %q", benchResourceType)
	}
	return nil
}

// benchScenario runs one operation of a scenario for client i and iteration n
type benchScenario struct {
	name string
	run  func(ctx context.Context, r gometrics.Registry, owner string, i, n int) error
}

func runBench(_ *cobra.Command, _ []string) error {
	fmt.Println("Load testing tool for dLock servers")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Owners: %d, Ops per owner: %d, Keys: %d\n\n", benchOwners, benchOps, benchKeys)

	scenarios := []benchScenario{
		{name: "uncontended", run: uncontended},
		{name: "contended", run: contended},
		{name: "check", run: check},
	}

	registry := gometrics.NewRegistry()
	for _, sc := range scenarios {
		if slices.Contains(benchSkip, sc.name) {
			fmt.Printf("%-24sskipped\n", sc.name)
			continue
		}
		elapsed, errs := runScenario(sc, registry)
		fmt.Printf("%-24s%s (%d errors)\n", sc.name, elapsed.Round(time.Millisecond), errs)
	}

	fmt.Println()
	printResults(registry)

	if path := viper.GetString("csv"); path != "" {
		if err := writeResultsToCSV(path, registry); err != nil {
			return err
		}
		fmt.Printf("\nresults written to %s\n", path)
	}
	return nil
}

// runScenario starts benchOwners clients, each with its own owner id, and
// releases everything they hold afterwards
func runScenario(sc benchScenario, registry gometrics.Registry) (time.Duration, int64) {
	errors := gometrics.GetOrRegisterCounter(sc.name+".errors", registry)
	owners := make([]string, benchOwners)
	for i := range owners {
		owners[i] = lease.NewOwnerID()
	}

	start := time.Now()
	var wg sync.WaitGroup
	for i, owner := range owners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < benchOps; n++ {
				ctx, cancel := commandContext()
				if err := sc.run(ctx, registry, owner, i, n); err != nil {
					errors.Inc(1)
				}
				cancel()
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	ctx, cancel := commandContext()
	defer cancel()
	for _, owner := range owners {
		if _, err := rpcLockMgr.ReleaseAllForOwner(ctx, owner); err != nil {
			fmt.Printf("(%s) - error releasing leases of %s: %v\n", sc.name, owner, err)
		}
	}
	return elapsed, errors.Count()
}

// uncontended acquires and releases a key no other client uses
func uncontended(ctx context.Context, r gometrics.Registry, owner string, i, _ int) error {
	key := db.NewKey(benchResourceType, fmt.Sprintf("uncontended-%d", i))

	start := time.Now()
	if _, err := rpcLockMgr.AcquireLock(ctx, lease.AcquireRequest{Key: key, OwnerID: owner, Duration: time.Minute}); err != nil {
		return err
	}
	gometrics.GetOrRegisterTimer("uncontended.acquire", r).UpdateSince(start)

	start = time.Now()
	if _, err := rpcLockMgr.ReleaseLock(ctx, key, owner); err != nil {
		return err
	}
	gometrics.GetOrRegisterTimer("uncontended.release", r).UpdateSince(start)
	return nil
}

// contended lets all clients compete for benchKeys keys and counts the outcomes
func contended(ctx context.Context, r gometrics.Registry, owner string, i, n int) error {
	key := db.NewKey(benchResourceType, fmt.Sprintf("contended-%d", (i+n)%benchKeys))

	start := time.Now()
	res, err := rpcLockMgr.AcquireLock(ctx, lease.AcquireRequest{Key: key, OwnerID: owner, Duration: time.Minute})
	if err != nil {
		return err
	}
	gometrics.GetOrRegisterTimer("contended.acquire", r).UpdateSince(start)
	gometrics.GetOrRegisterCounter("contended."+res.Code.String(), r).Inc(1)

	if res.Ok() {
		if _, err := rpcLockMgr.ReleaseLock(ctx, key, owner); err != nil {
			return err
		}
	}
	return nil
}

// check reads keys that are mostly free
func check(ctx context.Context, r gometrics.Registry, _ string, i, n int) error {
	key := db.NewKey(benchResourceType, fmt.Sprintf("contended-%d", (i+n)%benchKeys))

	start := time.Now()
	if _, err := rpcLockMgr.CheckLock(ctx, key); err != nil {
		return err
	}
	gometrics.GetOrRegisterTimer("check", r).UpdateSince(start)
	return nil
}

// --------------------------------------------------------------------------
// Output
// --------------------------------------------------------------------------

type benchResult struct {
	name  string
	count int64
	mean  time.Duration
	p     []time.Duration
	max   time.Duration
	rate  float64
}

// collectResults returns the timers of the registry sorted by name
func collectResults(registry gometrics.Registry) ([]benchResult, map[string]int64) {
	var results []benchResult
	counters := make(map[string]int64)

	registry.Each(func(name string, m interface{}) {
		switch m := m.(type) {
		case gometrics.Timer:
			s := m.Snapshot()
			res := benchResult{
				name:  name,
				count: s.Count(),
				mean:  time.Duration(s.Mean()),
				max:   time.Duration(s.Max()),
				rate:  s.RateMean(),
			}
			for _, p := range s.Percentiles(benchPercentiles) {
				res.p = append(res.p, time.Duration(p))
			}
			results = append(results, res)
		case gometrics.Counter:
			counters[name] = m.Count()
		}
	})

	slices.SortFunc(results, func(a, b benchResult) int { return strings.Compare(a.name, b.name) })
	return results, counters
}

func printResults(registry gometrics.Registry) {
	results, counters := collectResults(registry)

	fmt.Printf("%-24s%10s%12s%12s%12s%12s%12s%14s\n", "operation", "count", "mean", "p50", "p90", "p99", "max", "ops/sec")
	for _, r := range results {
		fmt.Printf("%-24s%10d%12s%12s%12s%12s%12s%14.0f\n", r.name, r.count,
			r.mean.Round(time.Microsecond), r.p[0].Round(time.Microsecond), r.p[1].Round(time.Microsecond),
			r.p[2].Round(time.Microsecond), r.max.Round(time.Microsecond), r.rate)
	}

	if len(counters) > 0 {
		fmt.Println()
		names := make([]string, 0, len(counters))
		for name := range counters {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			fmt.Printf("%-24s%10d\n", name, counters[name])
		}
	}
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, registry gometrics.Registry) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Operation", "Count", "MeanNs", "P50Ns", "P90Ns", "P99Ns", "MaxNs", "OpsPerSec",
		"Endpoints", "ShardID", "Serializer", "Transport", "Owners", "Keys",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	config := util.GetClientConfig()
	results, _ := collectResults(registry)
	for _, r := range results {
		row := []string{
			r.name,
			strconv.FormatInt(r.count, 10),
			strconv.FormatInt(int64(r.mean), 10),
			strconv.FormatInt(int64(r.p[0]), 10),
			strconv.FormatInt(int64(r.p[1]), 10),
			strconv.FormatInt(int64(r.p[2]), 10),
			strconv.FormatInt(int64(r.max), 10),
			fmt.Sprintf("%.0f", r.rate),
			strings.Join(config.Transport.Endpoints, ";"),
			strconv.FormatUint(util.GetShardID(), 10),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(benchOwners),
			strconv.Itoa(benchKeys),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for %s: %v", r.name, err)
		}
	}
	return nil
}
