package benchmark

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"
)

const (
	ModeThroughput  = "thrpt"
	ModeAverageTime = "avgt"
)

// Stat summarises one mode across trials. Error is the sample standard
// deviation of the per-trial scores.
type Stat struct {
	Mode  string
	Cnt   int
	Score float64
	Error float64
	Units string
}

type TrialSummary struct {
	Label   string
	Reports []*Report
	Stats   []Stat
}

// MeanStdDev returns the sample mean and the sample standard deviation.
func MeanStdDev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	if len(values) < 2 {
		return mean, 0
	}

	var squares float64
	for _, v := range values {
		squares += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(squares / float64(len(values)-1))
}

// Summarize computes the thrpt and avgt rows over reports.
func Summarize(label string, reports []*Report) *TrialSummary {
	throughputs := make([]float64, 0, len(reports))
	latencies := make([]float64, 0, len(reports))

	for _, r := range reports {
		throughputs = append(throughputs, r.OpsPerSecond())
		latencies = append(latencies, float64(r.AvgLatency().Nanoseconds()))
	}

	thrptMean, thrptErr := MeanStdDev(throughputs)
	avgtMean, avgtErr := MeanStdDev(latencies)

	return &TrialSummary{
		Label:   label,
		Reports: reports,
		Stats: []Stat{
			{Mode: ModeThroughput, Cnt: len(reports), Score: thrptMean, Error: thrptErr, Units: "ops/s"},
			{Mode: ModeAverageTime, Cnt: len(reports), Score: avgtMean, Error: avgtErr, Units: "ns/op"},
		},
	}
}

// RunTrials launches build(i) for i in [0, n), each a fresh Benchmark with
// its own handle and key counter, and pauses cooldown between trials. A
// setup failure in any trial aborts the series.
func RunTrials(ctx context.Context, label string, n int, cooldown time.Duration, build func(trial int) (*Benchmark, error)) (*TrialSummary, error) {
	if n <= 0 {
		return nil, fmt.Errorf("trial count must be positive, got %d", n)
	}

	reports := make([]*Report, 0, n)
	for i := 0; i < n; i++ {
		bm, err := build(i)
		if err != nil {
			return nil, fmt.Errorf("trial %d: %w", i+1, err)
		}

		bm.Logger.Printf("── Trial %d/%d ──", i+1, n)
		report, err := bm.Launch(ctx)
		if err != nil {
			return nil, fmt.Errorf("trial %d: %w", i+1, err)
		}
		reports = append(reports, report)

		bm.Logger.Printf("Trial %d: %0.1f ops/s  avg=%s  completed=%d failed=%d abandoned=%d",
			i+1, report.OpsPerSecond(), report.AvgLatency(), report.Completed, report.Failed, report.Abandoned)

		if ctx.Err() != nil {
			break
		}

		if i < n-1 && cooldown > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(cooldown):
			}
		}
	}

	return Summarize(label, reports), nil
}

func PrintTrials(w io.Writer, s *TrialSummary) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-30s %6s %4s %18s %18s %6s\n", "Benchmark", "Mode", "Cnt", "Score", "Error", "Units")
	for _, st := range s.Stats {
		fmt.Fprintf(w, "%-30s %6s %4d %18.3f ± %16.3f %6s\n", s.Label, st.Mode, st.Cnt, st.Score, st.Error, st.Units)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%5s %12s %14s %9s %7s %9s\n", "Trial", "ops/s", "avg", "completed", "failed", "abandoned")
	for i, r := range s.Reports {
		fmt.Fprintf(w, "%5d %12.1f %14s %9d %7d %9d\n", i+1, r.OpsPerSecond(), r.AvgLatency(), r.Completed, r.Failed, r.Abandoned)
	}
	fmt.Fprintln(w)
}
