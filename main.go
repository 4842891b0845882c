package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"rpb/benchmark"
	"rpb/operations"
	"rpb/store"
)

const (
	ALL_SCENARIOS = "all"
)

type Options struct {
	RunConfig      *operations.RunConfig
	Endpoint       store.EndpointConfig
	Trials         int
	Cooldown       time.Duration
	RawPercentiles bool
}

func main() {
	testOpDistribution, options, err := processOptions(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, testOpDistribution, options, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func processOptions(args []string) (map[string]int, *Options, error) {
	var hostsPorts string
	var iterations int
	var clientCount int
	var duration time.Duration
	var deadline time.Duration
	var valueSize int
	var keyPrefix string
	var testNames string
	var profileName string
	var profilesFile string
	var client string
	var topology string
	var transactional bool
	var poolMax int
	var poolMinIdle int
	var poolMaxIdle int
	var warmupPings int
	var warmupPause time.Duration
	var trials int
	var cooldown time.Duration
	var flush bool
	var resolve bool
	var help bool
	var ignoreErrors bool
	var rawPercentiles bool

	flags := flag.NewFlagSet("rpb", flag.ContinueOnError)

	flags.StringVar(&hostsPorts, "h", "", "comma-separated host:port list, overrides the profile's addresses")
	flags.IntVar(&iterations, "i", benchmark.ITERATIONS, "total set/delete pairs to run - divided among clients")
	flags.IntVar(&clientCount, "c", benchmark.CLIENT_COUNT, "number of concurrent workers")
	flags.DurationVar(&duration, "d", 0, "run for this long instead of a fixed count (used when -i is 0)")
	flags.DurationVar(&deadline, "deadline", benchmark.DEADLINE, "collection deadline, results after it are dropped (0 waits forever)")
	flags.IntVar(&valueSize, "value-size", operations.DefaultValueSize, "length of the random value written per key")
	flags.StringVar(&keyPrefix, "prefix", "", "prefix for generated keys")
	flags.StringVar(&testNames, "t", operations.DISCRETE, `comma-separated scenarios with optional weights, e.g. discrete:1,pipelined:3
  discrete (normal): SET then DEL, two round trips
  pipelined (pipeline): SET and DEL in one batch
  ping: PING only
  all: discrete and pipelined`)
	flags.StringVar(&profileName, "profile", store.ProfileDirect, "endpoint profile: direct, cluster, redigo, or one from -profiles")
	flags.StringVar(&profilesFile, "profiles", "", "YAML or JSON file of extra profiles")
	flags.StringVar(&client, "client", "", "override the profile's client: go-redis or redigo")
	flags.StringVar(&topology, "topology", "", "override the profile's topology: single or cluster")
	flags.BoolVar(&transactional, "tx", false, "wrap pipelined batches in MULTI/EXEC")
	flags.IntVar(&poolMax, "pool-max", 0, "override the pool's maximum connections")
	flags.IntVar(&poolMinIdle, "pool-min-idle", 0, "override the pool's minimum idle connections")
	flags.IntVar(&poolMaxIdle, "pool-max-idle", 0, "override the pool's maximum idle connections")
	flags.IntVar(&warmupPings, "warmup", benchmark.WARMUP_PINGS, "pings sent before the timed run")
	flags.DurationVar(&warmupPause, "warmup-pause", benchmark.WARMUP_PAUSE, "pause between warmup pings")
	flags.IntVar(&trials, "trials", 1, "number of independent trials; more than one prints mean ± stddev")
	flags.DurationVar(&cooldown, "cooldown", 1*time.Second, "pause between trials")
	flags.BoolVar(&flush, "flush", false, "flush all keys before the run")
	flags.BoolVar(&resolve, "resolve", false, "resolve host names to ipv4 addresses before connecting")
	flags.BoolVar(&help, "help", false, "help")
	flags.BoolVar(&ignoreErrors, "ignore-errors", false, "do not log failed operations (they are still counted)")
	flags.BoolVar(&rawPercentiles, "raw", false, "print raw cumulative latency buckets instead of fixed percentiles")

	if err := flags.Parse(args); err != nil {
		return nil, nil, err
	}

	if help {
		flags.Usage()
		return nil, nil, flag.ErrHelp
	}

	testOpDistribution, err := parseDistribution(testNames)
	if err != nil {
		return nil, nil, err
	}

	profiles := store.DefaultProfiles()
	if profilesFile != "" {
		loaded, err := store.LoadProfiles(profilesFile)
		if err != nil {
			return nil, nil, err
		}
		profiles = profiles.Merge(loaded)
	}

	endpoint, err := profiles.Get(profileName)
	if err != nil {
		return nil, nil, err
	}

	set := make(map[string]bool)
	flags.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	if set["h"] {
		endpoint.Addrs = strings.Split(hostsPorts, ",")
	}
	if set["client"] {
		endpoint.Client = store.Client(client)
	}
	if set["topology"] {
		endpoint.Topology = store.Topology(topology)
	}
	if set["tx"] {
		endpoint.Transactional = transactional
	}
	if set["pool-max"] {
		endpoint.Pool.MaxTotal = poolMax
	}
	if set["pool-min-idle"] {
		endpoint.Pool.MinIdle = poolMinIdle
	}
	if set["pool-max-idle"] {
		endpoint.Pool.MaxIdle = poolMaxIdle
	}
	if set["resolve"] {
		endpoint.Resolve = resolve
	}

	if iterations <= 0 && duration <= 0 {
		return nil, nil, errors.New("either -i or -d must be positive")
	}
	if clientCount <= 0 {
		return nil, nil, fmt.Errorf("-c must be positive, got %d", clientCount)
	}
	if trials <= 0 {
		return nil, nil, fmt.Errorf("-trials must be positive, got %d", trials)
	}

	return testOpDistribution, &Options{
		RunConfig: &operations.RunConfig{
			ClientCount:  clientCount,
			Iterations:   iterations,
			Duration:     duration,
			Deadline:     deadline,
			ValueSize:    valueSize,
			KeyPrefix:    keyPrefix,
			WarmupPings:  warmupPings,
			WarmupPause:  warmupPause,
			Flush:        flush,
			IgnoreErrors: ignoreErrors,
		},
		Endpoint:       endpoint,
		Trials:         trials,
		Cooldown:       cooldown,
		RawPercentiles: rawPercentiles,
	}, nil
}

// parseDistribution turns "discrete:1,pipelined:3" into scenario weights.
// A missing weight means 1.
func parseDistribution(testNames string) (map[string]int, error) {
	testOpDistribution := make(map[string]int)

	for _, entry := range strings.Split(testNames, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		name := entry
		weight := 1
		if idx := strings.LastIndex(entry, ":"); idx >= 0 {
			name = entry[:idx]
			w, err := strconv.Atoi(entry[idx+1:])
			if err != nil || w <= 0 {
				return nil, fmt.Errorf("bad weight in %q", entry)
			}
			weight = w
		}

		if name == ALL_SCENARIOS {
			testOpDistribution[operations.DISCRETE] += weight
			testOpDistribution[operations.PIPELINED] += weight
			continue
		}

		testOpDistribution[benchmark.CanonicalName(name)] += weight
	}

	if len(testOpDistribution) == 0 {
		return nil, errors.New("no scenarios given with -t")
	}

	return testOpDistribution, nil
}

func newRunConfig(template *operations.RunConfig) *operations.RunConfig {
	config := *template
	config.RunID = uuid.NewString()
	return &config
}

func scenarioLabel(testOpDistribution map[string]int) string {
	names := make([]string, 0, len(testOpDistribution))
	for name, weight := range testOpDistribution {
		names = append(names, fmt.Sprintf("%s:%d", name, weight))
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func run(ctx context.Context, testOpDistribution map[string]int, options *Options, w io.Writer) error {
	fmt.Fprintf(w, "Profile: %s\n", options.Endpoint)

	newBench := func() (*benchmark.Benchmark, error) {
		bm, err := benchmark.NewBenchmark(testOpDistribution, newRunConfig(options.RunConfig), options.Endpoint)
		if err != nil {
			return nil, err
		}
		bm.SetWriter(w)
		bm.RawPercentiles = options.RawPercentiles
		return bm, nil
	}

	if options.Trials == 1 {
		bm, err := newBench()
		if err != nil {
			return err
		}

		if _, err := bm.Launch(ctx); err != nil {
			return err
		}
		bm.PrintSummary()
		return nil
	}

	summary, err := benchmark.RunTrials(ctx, scenarioLabel(testOpDistribution), options.Trials, options.Cooldown, func(trial int) (*benchmark.Benchmark, error) {
		return newBench()
	})
	if err != nil {
		return err
	}

	benchmark.PrintTrials(w, summary)
	return nil
}
