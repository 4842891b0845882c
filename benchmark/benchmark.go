package benchmark

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"rpb/operations"
	"rpb/store"
)

const (
	ITERATIONS    = 1000
	CLIENT_COUNT  = 200
	DEADLINE      = 20 * time.Second
	WARMUP_PINGS  = 5
	WARMUP_PAUSE  = 100 * time.Millisecond
	TICK_INTERVAL = 1 * time.Second
)

// ErrDeadlineExceeded is recorded on a Report whose collection phase ran out
// of time. Launch still returns the partial report with a nil error.
var ErrDeadlineExceeded = errors.New("collection deadline exceeded")

var ErrAlreadyLaunched = errors.New("benchmark already launched")

type Phase int32

const (
	PhaseInit Phase = iota
	PhaseWarmup
	PhaseRunning
	PhaseCollecting
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "INIT"
	case PhaseWarmup:
		return "WARMUP"
	case PhaseRunning:
		return "RUNNING"
	case PhaseCollecting:
		return "COLLECTING"
	case PhaseDone:
		return "DONE"
	default:
		return fmt.Sprintf("PHASE(%d)", int32(p))
	}
}

type Benchmark struct {
	TestNames          []string
	TestDistribution   []string
	RunConfig          *operations.RunConfig
	Endpoint           store.EndpointConfig
	Opener             store.Opener
	Handle             store.Handle
	Runners            map[string]operations.Runner
	Keys               *operations.KeyGenerator
	WorkChannel        chan *WorkUnit
	Results            chan *operations.OperationResult
	OperationLatencies map[string]map[int]int
	ThroughputResults  map[string]*operations.ThroughputResult
	FirstErrors        map[string]error
	ResultCount        *atomic.Int64
	DispatchedCount    *atomic.Int64
	Logger             *log.Logger
	Writer             io.Writer
	RawPercentiles     bool

	phase     atomic.Int32
	running   atomic.Bool
	launched  atomic.Bool
	startTime time.Time
	endTime   time.Time
	timedOut  bool
}

type WorkUnit struct {
	Id        int
	Operation string
}

// NewBenchmark builds a one-shot run. testOpDistribution maps scenario
// names to their relative weight in the generated work.
func NewBenchmark(testOpDistribution map[string]int, runConfig *operations.RunConfig, endpoint store.EndpointConfig) (*Benchmark, error) {
	if len(testOpDistribution) == 0 {
		return nil, errors.New("no scenarios given")
	}
	if runConfig.ClientCount <= 0 {
		return nil, fmt.Errorf("client count must be positive, got %d", runConfig.ClientCount)
	}
	if runConfig.Iterations <= 0 && runConfig.Duration <= 0 {
		return nil, errors.New("either iterations or a duration is required")
	}

	latencies := make(map[string]map[int]int)
	throughput := make(map[string]*operations.ThroughputResult)
	runners := make(map[string]operations.Runner)
	distribution := make(map[string]int, len(testOpDistribution))

	for testName, weight := range testOpDistribution {
		if weight <= 0 {
			return nil, fmt.Errorf("scenario %s: weight must be positive, got %d", testName, weight)
		}

		canonical := CanonicalName(testName)
		var runner operations.Runner

		switch canonical {
		case operations.DISCRETE:
			runner = operations.NewDiscreteBenchmark(runConfig)
		case operations.PIPELINED:
			runner = operations.NewPipelinedBenchmark(runConfig)
		case operations.PING:
			runner = operations.NewPingBenchmark(runConfig)
		default:
			if strings.HasPrefix(canonical, "fakeTest") {
				runner = operations.NewFakeBenchmark(runConfig, canonical)
			} else {
				return nil, fmt.Errorf("unknown test: %s", testName)
			}
		}

		runners[canonical] = runner
		latencies[canonical] = make(map[int]int)
		throughput[canonical] = new(operations.ThroughputResult)
		distribution[canonical] += weight
	}

	testNames, testDistribution := makeTestOpDistributions(distribution)

	bench := &Benchmark{
		TestNames:          testNames,
		TestDistribution:   testDistribution,
		RunConfig:          runConfig,
		Endpoint:           endpoint,
		Opener:             store.Open,
		Runners:            runners,
		Keys:               operations.NewKeyGenerator(runConfig.KeyPrefix, 1),
		WorkChannel:        make(chan *WorkUnit, runConfig.ClientCount),
		Results:            make(chan *operations.OperationResult),
		OperationLatencies: latencies,
		ThroughputResults:  throughput,
		FirstErrors:        make(map[string]error),
		ResultCount:        new(atomic.Int64),
		DispatchedCount:    new(atomic.Int64),
		Logger:             log.New(os.Stdout, "", log.LstdFlags),
		Writer:             os.Stdout,
	}
	bench.running.Store(true)

	return bench, nil
}

// CanonicalName maps the scenario aliases "normal" and "pipeline" onto
// their canonical names.
func CanonicalName(testName string) string {
	switch testName {
	case "normal":
		return operations.DISCRETE
	case "pipeline":
		return operations.PIPELINED
	default:
		return testName
	}
}

func makeTestOpDistributions(testOpDistribution map[string]int) ([]string, []string) {
	testNames := make([]string, 0, len(testOpDistribution))
	distribution := make([]string, 0)

	for name, count := range testOpDistribution {
		testNames = append(testNames, name)

		for i := 0; i < count; i++ {
			distribution = append(distribution, name)
		}
	}

	return testNames, distribution
}

func (bm *Benchmark) SetWriter(writer io.Writer) {
	bm.Writer = writer
	bm.Logger.SetOutput(writer)
}

func (bm *Benchmark) Phase() Phase {
	return Phase(bm.phase.Load())
}

func (bm *Benchmark) setPhase(p Phase) {
	bm.phase.Store(int32(p))
	bm.Logger.Printf("[%s] phase %s", bm.RunConfig.RunID, p)
}

// Stop ends work production. Work already dispatched still completes.
func (bm *Benchmark) Stop() {
	bm.running.Store(false)
}

// Launch runs INIT through DONE. Setup failures are returned as errors; a
// collection timeout is not, it is recorded on the returned Report.
func (bm *Benchmark) Launch(ctx context.Context) (*Report, error) {
	if bm.launched.Swap(true) {
		return nil, ErrAlreadyLaunched
	}

	bm.setPhase(PhaseInit)

	handle, err := bm.Opener(ctx, bm.Endpoint)
	if err != nil {
		bm.setPhase(PhaseDone)
		return nil, err
	}
	bm.Handle = handle
	defer bm.closeHandle()

	if err := bm.setupRunners(ctx); err != nil {
		bm.setPhase(PhaseDone)
		return nil, err
	}

	if err := bm.flushAll(ctx); err != nil {
		bm.setPhase(PhaseDone)
		return nil, err
	}

	bm.setPhase(PhaseWarmup)
	bm.warmup(ctx)

	bm.run(ctx)

	for _, testName := range bm.TestNames {
		bm.Runners[testName].Cleanup()
	}

	bm.setPhase(PhaseDone)

	return bm.Report(), nil
}

func (bm *Benchmark) closeHandle() {
	if err := bm.Handle.Close(); err != nil {
		bm.Logger.Printf("[%s] closing handle: %v", bm.RunConfig.RunID, err)
	}
}

func (bm *Benchmark) setupRunners(ctx context.Context) error {
	fmt.Fprint(bm.Writer, "Setup... ")
	var err error
	setup := func() {
		for _, name := range bm.TestNames {
			if err = bm.Runners[name].Setup(ctx, bm.Handle); err != nil {
				err = fmt.Errorf("setup %s: %w", name, err)
				return
			}
		}
	}

	latency := bm.timedFunction(setup)
	if err != nil {
		fmt.Fprintln(bm.Writer, "Failed!")
		return err
	}

	fmt.Fprintf(bm.Writer, "Done! (%0.3fs)\n", latency.Seconds())
	return nil
}

func (bm *Benchmark) flushAll(ctx context.Context) error {
	if !bm.RunConfig.Flush {
		return nil
	}

	fmt.Fprint(bm.Writer, "Flushing all... ")
	var err error
	latency := bm.timedFunction(func() {
		err = bm.Handle.FlushAll(ctx)
	})
	if err != nil {
		fmt.Fprintln(bm.Writer, "Failed!")
		return fmt.Errorf("error calling FLUSHALL: %w", err)
	}

	fmt.Fprintf(bm.Writer, "Done! (%0.3fs)\n", latency.Seconds())
	return nil
}

// warmup pings the store a few times to settle the pool. Failures are
// logged and otherwise ignored.
func (bm *Benchmark) warmup(ctx context.Context) {
	for i := 0; i < bm.RunConfig.WarmupPings; i++ {
		if err := bm.Handle.Ping(ctx); err != nil {
			bm.Logger.Printf("[%s] warmup ping %d failed: %v", bm.RunConfig.RunID, i+1, err)
		}

		if i < bm.RunConfig.WarmupPings-1 && bm.RunConfig.WarmupPause > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(bm.RunConfig.WarmupPause):
			}
		}
	}
}

func (bm *Benchmark) timedFunction(f func()) time.Duration {
	executionStartTime := time.Now()
	f()

	return time.Since(executionStartTime)
}

// run covers RUNNING and COLLECTING. Cancelling ctx only stops production;
// the deadline is what abandons in-flight work.
func (bm *Benchmark) run(ctx context.Context) {
	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRun()

	stopOnCancel := context.AfterFunc(ctx, bm.Stop)
	defer stopOnCancel()

	collected := make(chan struct{})
	go bm.processResults(runCtx, collected)

	bm.setPhase(PhaseRunning)
	bm.startTime = time.Now()

	group := &errgroup.Group{}
	// consumers plus the producer
	group.SetLimit(bm.RunConfig.ClientCount + 1)
	for i := 0; i < bm.RunConfig.ClientCount; i++ {
		group.Go(func() error {
			bm.consumeWork(runCtx)
			return nil
		})
	}

	produced := make(chan struct{})
	group.Go(func() error {
		defer close(produced)
		bm.ProduceWork(runCtx)
		return nil
	})

	finished := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(finished)
	}()

	var deadline <-chan time.Time
	if bm.RunConfig.Deadline > 0 {
		timer := time.NewTimer(bm.RunConfig.Deadline)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-produced:
		bm.setPhase(PhaseCollecting)
		select {
		case <-finished:
		case <-deadline:
			bm.expire()
		}
	case <-deadline:
		bm.setPhase(PhaseCollecting)
		bm.expire()
	}

	bm.endTime = time.Now()

	cancelRun()
	<-collected
}

func (bm *Benchmark) expire() {
	bm.timedOut = true
	bm.Stop()
	bm.Logger.Printf("[%s] deadline of %s exceeded, reporting partial results", bm.RunConfig.RunID, bm.RunConfig.Deadline)
}

func (bm *Benchmark) processResults(ctx context.Context, collected chan struct{}) {
	var lastCount int64
	ticker := time.NewTicker(TICK_INTERVAL)

	defer close(collected)
	defer ticker.Stop()

	for {
		select {
		case r := <-bm.Results:
			bm.record(r)
		case <-ticker.C:
			count := bm.ResultCount.Load()
			queueEmptyMessage := ""
			if len(bm.WorkChannel) == 0 {
				queueEmptyMessage = "(queue == 0 !)"
			}
			bm.Logger.Printf("-> %d ops/sec (in flight: %d) %s", count-lastCount, bm.DispatchedCount.Load()-count, queueEmptyMessage)
			lastCount = count
		case <-ctx.Done():
			return
		}
	}
}

func (bm *Benchmark) record(r *operations.OperationResult) {
	throughputResult := bm.ThroughputResults[r.Operation]
	if throughputResult == nil {
		throughputResult = new(operations.ThroughputResult)
		bm.ThroughputResults[r.Operation] = throughputResult
		bm.OperationLatencies[r.Operation] = make(map[int]int)
	}

	if r.Err != nil {
		throughputResult.Failures++
		if _, seen := bm.FirstErrors[r.Operation]; !seen {
			bm.FirstErrors[r.Operation] = r.Err
			if !bm.RunConfig.IgnoreErrors {
				bm.Logger.Printf("[%s] %s failed: %v", bm.RunConfig.RunID, r.Operation, r.Err)
			}
		}
	} else {
		bm.OperationLatencies[r.Operation][int(r.Latency.Milliseconds())+1]++
		throughputResult.OperationCount++
		throughputResult.AccumulatedTime += uint64(r.Latency.Nanoseconds())
	}

	bm.ResultCount.Add(1)
}

func (bm *Benchmark) consumeWork(ctx context.Context) {
	values := operations.NewValueGenerator(bm.RunConfig.ValueSize)

	for work := range bm.WorkChannel {
		if ctx.Err() != nil {
			continue
		}
		bm.Runners[work.Operation].DoOneOperation(ctx, bm.Handle, bm.Results, bm.Keys.Next(), values.Next())
	}
}

// ProduceWork feeds WorkChannel until Iterations units are out, Duration
// has elapsed, Stop is called or ctx is done. It closes WorkChannel.
func (bm *Benchmark) ProduceWork(ctx context.Context) {
	var randInt = newRand()
	limit := bm.RunConfig.Iterations

	var until time.Time
	if bm.RunConfig.Duration > 0 {
		until = time.Now().Add(bm.RunConfig.Duration)
	}

	defer close(bm.WorkChannel)

	for i := 0; (limit <= 0 || i < limit) && bm.running.Load(); i++ {
		if !until.IsZero() && time.Now().After(until) {
			return
		}

		unit := &WorkUnit{
			Id:        i,
			Operation: bm.TestDistribution[randInt.Intn(len(bm.TestDistribution))],
		}

		bm.DispatchedCount.Add(1)
		select {
		case bm.WorkChannel <- unit:
		case <-ctx.Done():
			bm.DispatchedCount.Add(-1)
			return
		}
	}
}

func newRand() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
