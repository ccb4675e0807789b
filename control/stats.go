package control

import (
	"sync"
	"time"

	"github.com/montanaflynn/stats"
)

const maxSolveSamples = 1000

// SolveSummary describes the distribution of recent solve times.
type SolveSummary struct {
	Count  int
	Mean   time.Duration
	Median time.Duration
	P95    time.Duration
	Max    time.Duration
}

// solveStats keeps a window of recent solve times.
type solveStats struct {
	mu      sync.Mutex
	samples stats.Float64Data
	next    int
}

func (s *solveStats) add(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := float64(d)
	if len(s.samples) < maxSolveSamples {
		s.samples = append(s.samples, v)
		return
	}
	s.samples[s.next] = v
	s.next = (s.next + 1) % maxSolveSamples
}

func (s *solveStats) summary() SolveSummary {
	s.mu.Lock()
	data := append(stats.Float64Data(nil), s.samples...)
	s.mu.Unlock()

	if len(data) == 0 {
		return SolveSummary{}
	}
	// errors are only returned for empty input.
	mean, _ := stats.Mean(data)
	median, _ := stats.Median(data)
	maxV, _ := stats.Max(data)
	p95, err := stats.Percentile(data, 95)
	if err != nil {
		// too few samples to interpolate
		p95 = maxV
	}
	return SolveSummary{
		Count:  len(data),
		Mean:   time.Duration(mean),
		Median: time.Duration(median),
		P95:    time.Duration(p95),
		Max:    time.Duration(maxV),
	}
}
