package tuning

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

// sample is one (workload, elapsed-seconds) measurement of a variant.
type sample struct {
	workload float64
	elapsed  float64
}

// Aggregator accumulates measurements of a single configuration until
// enough evidence has been collected to produce a scalar performance
// figure, discarding the slowest outlier samples first.
type Aggregator struct {
	minEvals    int
	maxEvals    int
	maxSeconds  float64
	numOutliers int

	samples      []sample
	totalElapsed float64
}

// NewAggregator builds an Aggregator per the tuning session's collection
// policy.
func NewAggregator(minEvals, maxEvals int, maxSeconds float64, numOutliers int) *Aggregator {
	return &Aggregator{minEvals: minEvals, maxEvals: maxEvals, maxSeconds: maxSeconds, numOutliers: numOutliers}
}

// Add records one measurement.
func (a *Aggregator) Add(workload, elapsed float64) {
	a.samples = append(a.samples, sample{workload: workload, elapsed: elapsed})
	a.totalElapsed += elapsed
}

// Ready reports whether enough samples have accumulated to compute a
// performance figure: at least min_evals+num_outliers samples, and
// either total elapsed time has reached max_seconds or the sample count
// has reached max_evals.
func (a *Aggregator) Ready() bool {
	if len(a.samples) < a.minEvals+a.numOutliers {
		return false
	}
	return a.totalElapsed >= a.maxSeconds || len(a.samples) >= a.maxEvals
}

// Performance discards the num_outliers slowest samples and returns
// Σworkload / Σelapsed over what remains. Higher is better.
func (a *Aggregator) Performance() float64 {
	kept := append([]sample(nil), a.samples...)
	sort.Slice(kept, func(i, j int) bool { return kept[i].elapsed < kept[j].elapsed })
	if a.numOutliers > 0 {
		if a.numOutliers >= len(kept) {
			kept = nil
		} else {
			kept = kept[:len(kept)-a.numOutliers]
		}
	}
	if len(kept) == 0 {
		return 0
	}
	workloads := make([]float64, len(kept))
	times := make([]float64, len(kept))
	for i, s := range kept {
		workloads[i] = s.workload
		times[i] = s.elapsed
	}
	totalTime := floats.Sum(times)
	if totalTime == 0 {
		return 0
	}
	return floats.Sum(workloads) / totalTime
}

// Reset clears accumulated samples so the next variant starts fresh.
func (a *Aggregator) Reset() {
	a.samples = a.samples[:0]
	a.totalElapsed = 0
}
