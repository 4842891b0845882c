package benchmark

import (
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"rpb/operations"
)

// Report is the outcome of one run. Completed and Failed only count
// results received before the collection deadline; everything else that was
// dispatched is Abandoned. Configured is the requested total, or the
// dispatched count for a run bounded by duration.
type Report struct {
	RunID      string
	Profile    string
	Scenarios  []string
	Clients    int
	Configured int
	Dispatched int
	Completed  int
	Failed     int
	Abandoned  int
	KeysIssued int64
	Elapsed    time.Duration
	TimedOut   bool
	Err        error
	Operations map[string]operations.ThroughputResult
}

func (bm *Benchmark) Report() *Report {
	report := &Report{
		RunID:      bm.RunConfig.RunID,
		Profile:    bm.Endpoint.Name,
		Scenarios:  append([]string(nil), bm.TestNames...),
		Clients:    bm.RunConfig.ClientCount,
		Configured: bm.RunConfig.Iterations,
		Dispatched: int(bm.DispatchedCount.Load()),
		KeysIssued: bm.Keys.Issued(),
		Elapsed:    bm.endTime.Sub(bm.startTime),
		TimedOut:   bm.timedOut,
		Operations: make(map[string]operations.ThroughputResult, len(bm.ThroughputResults)),
	}
	sort.Strings(report.Scenarios)

	// a timed run has no fixed total, so the total is what was handed out
	if report.Configured <= 0 {
		report.Configured = report.Dispatched
	}

	for name, tr := range bm.ThroughputResults {
		report.Operations[name] = *tr
		report.Completed += tr.OperationCount
		report.Failed += tr.Failures
	}
	report.Abandoned = report.Dispatched - report.Completed - report.Failed

	if bm.timedOut {
		report.Err = ErrDeadlineExceeded
	}

	return report
}

// OpsPerSecond is successful operations over wall clock time.
func (r *Report) OpsPerSecond() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Completed) / r.Elapsed.Seconds()
}

// AvgLatency is the mean latency of successful operations.
func (r *Report) AvgLatency() time.Duration {
	if r.Completed == 0 {
		return 0
	}
	var accumulated uint64
	for _, tr := range r.Operations {
		accumulated += tr.AccumulatedTime
	}
	return time.Duration(accumulated / uint64(r.Completed))
}

func (bm *Benchmark) PrintSummary() {
	report := bm.Report()
	operationNames := make([]string, 0, len(bm.OperationLatencies))
	for operation := range bm.OperationLatencies {
		operationNames = append(operationNames, operation)
	}
	sort.Strings(operationNames)

	for _, operation := range operationNames {
		lateMap := bm.OperationLatencies[operation]
		fmt.Fprintln(bm.Writer)
		fmt.Fprintf(bm.Writer, "Latencies for: %s\n", operation)
		fmt.Fprintln(bm.Writer, "============================")
		var keys []int
		summedValues := 0
		for k, v := range lateMap {
			keys = append(keys, k)
			summedValues += v
		}

		if summedValues == 0 {
			fmt.Fprintln(bm.Writer, "no successful operations")
			continue
		}

		sort.Sort(sort.IntSlice(keys))
		ascendingValues := make([]int, summedValues)
		idx := 0
		for _, k := range keys {
			for i := 0; i < lateMap[k]; i++ {
				ascendingValues[idx] = k
				idx++
			}
		}

		if bm.RawPercentiles {
			sort.Sort(sort.Reverse(sort.IntSlice(keys)))

			remainingSummed := summedValues
			for _, k := range keys {
				percent := (float64(remainingSummed) / float64(summedValues)) * 100
				fmt.Fprintf(bm.Writer, "%8.3f%% <= %4d ms  (%d/%d)\n", percent, k, remainingSummed, summedValues)
				remainingSummed -= lateMap[k]
			}
		} else {
			percentiles := []int{100, 99, 98, 97, 96, 95, 94, 93, 92, 91, 90, 85, 80}
			for _, p := range percentiles {
				value, position := bm.PercentileValue(p, ascendingValues)
				fmt.Fprintf(bm.Writer, "% 4d%% <= %5.1f ms  (%d/%d)\n", p, value, position, summedValues)
			}
		}
	}

	for _, operation := range operationNames {
		throughputResult := report.Operations[operation]
		accumulatedTimeSeconds := float64(throughputResult.AccumulatedTime) / 1e9 / float64(bm.RunConfig.ClientCount)
		throughputSec := 0.0
		if accumulatedTimeSeconds > 0 {
			throughputSec = float64(throughputResult.OperationCount) / accumulatedTimeSeconds
		}

		fmt.Fprintln(bm.Writer)
		fmt.Fprintf(bm.Writer, "Summary for: %s\n", operation)
		fmt.Fprintln(bm.Writer, "============================")
		fmt.Fprintf(bm.Writer, "Throughput: %0.2f ops/sec\n", throughputSec)
		fmt.Fprintf(bm.Writer, "Operations: %d\n", throughputResult.OperationCount)
		fmt.Fprintf(bm.Writer, "Failures:   %d\n", throughputResult.Failures)
		fmt.Fprintf(bm.Writer, "Average accumulated time/client: %0.3f seconds\n", accumulatedTimeSeconds)
		if err, ok := bm.FirstErrors[operation]; ok {
			fmt.Fprintf(bm.Writer, "First error: %v\n", err)
		}
	}

	PrintReport(bm.Writer, report)
}

// PrintReport writes the run-level totals and the elapsed wall clock time.
func PrintReport(w io.Writer, r *Report) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Run:        %s\n", r.RunID)
	fmt.Fprintf(w, "Profile:    %s\n", r.Profile)
	fmt.Fprintf(w, "Clients:    %d\n", r.Clients)
	fmt.Fprintf(w, "Dispatched: %d\n", r.Dispatched)
	fmt.Fprintf(w, "Completed:  %d\n", r.Completed)
	fmt.Fprintf(w, "Failed:     %d\n", r.Failed)
	fmt.Fprintf(w, "Abandoned:  %d\n", r.Abandoned)
	fmt.Fprintf(w, "Throughput: %0.2f ops/sec\n", r.OpsPerSecond())
	fmt.Fprintf(w, "Avg latency: %0.3f ms\n", float64(r.AvgLatency().Nanoseconds())/1e6)
	for _, scenario := range r.Scenarios {
		fmt.Fprintf(w, "StopWatch '%s': running time (millis) = %d\n", scenario, r.Elapsed.Milliseconds())
	}
	if r.TimedOut {
		fmt.Fprintf(w, "WARNING: %v, results are partial\n", r.Err)
	}
	fmt.Fprintln(w)
}

//Return the value of the given percentile and the position in the list of results
//at which it occurs.
func (bm *Benchmark) PercentileValue(percentile int, sortedData []int) (float64, int) {
	if len(sortedData) == 0 {
		return 0, 0
	}

	if percentile == 100 {
		return float64(sortedData[len(sortedData)-1]), len(sortedData)
	}

	position := float64(len(sortedData)) * (float64(percentile) / 100)
	intPosition := int(math.Min(math.Ceil(position), float64(len(sortedData)-1)))

	if intPosition == int(position) || intPosition == 0 {
		return float64(sortedData[intPosition]), intPosition
	} else {
		return float64(sortedData[intPosition]+sortedData[intPosition-1]) / 2, intPosition
	}
}
