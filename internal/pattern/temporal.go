package pattern

import (
	"math"
	"sort"
	"time"

	"github.com/wesheets/promethios-sub018/internal/memory"
)

// flatSlopeEpsilon below which a fitted trend counts as flat.
const flatSlopeEpsilon = 0.01

// analyzeTemporal buckets feedback into discrete time windows, computes
// the success rate per window, and fits a trend direction from the sign
// of a simple linear slope. Fewer than 3 populated windows yields nothing.
func (r *Recognizer) analyzeTemporal(items []*memory.FeedbackRecord, opts Options) []*memory.Pattern {
	if len(items) == 0 {
		return nil
	}

	sorted := make([]*memory.FeedbackRecord, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	start := sorted[0].Timestamp
	span := sorted[len(sorted)-1].Timestamp.Sub(start)
	if span <= 0 {
		return nil
	}
	bucketWidth := span / time.Duration(r.cfg.TemporalBuckets)
	if bucketWidth <= 0 {
		return nil
	}

	type bucket struct {
		success int
		total   int
	}
	buckets := make(map[int]*bucket)
	for _, rec := range sorted {
		idx := int(rec.Timestamp.Sub(start) / bucketWidth)
		if idx >= r.cfg.TemporalBuckets {
			idx = r.cfg.TemporalBuckets - 1
		}
		b, ok := buckets[idx]
		if !ok {
			b = &bucket{}
			buckets[idx] = b
		}
		if outcomeOf(rec) == outcomeSuccess {
			b.success++
		}
		b.total++
	}
	if len(buckets) < 3 {
		return nil
	}

	indices := make([]int, 0, len(buckets))
	for idx := range buckets {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	rates := make([]float64, 0, len(indices))
	for _, idx := range indices {
		b := buckets[idx]
		rates = append(rates, float64(b.success)/float64(b.total))
	}

	slope := linearSlope(rates)

	var outcome memory.PatternOutcome
	switch {
	case slope > flatSlopeEpsilon:
		outcome = memory.PatternOutcome{Factor: "success_rate", Value: "increasing"}
	case slope < -flatSlopeEpsilon:
		outcome = memory.PatternOutcome{Factor: "failure_rate", Value: "increasing"}
	default:
		outcome = memory.PatternOutcome{Factor: "success_rate", Value: "flat"}
	}

	confidence := math.Min(1, 0.5+math.Abs(slope)*float64(len(rates)))
	return []*memory.Pattern{r.newPattern(
		memory.PatternTemporal,
		[]memory.PatternElement{{Factor: "time_trend", Value: outcome.Factor}},
		outcome,
		confidence,
		len(items),
		opts.Domain,
	)}
}

// linearSlope fits y = a + b*x over equally spaced points and returns b.
func linearSlope(ys []float64) float64 {
	n := float64(len(ys))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}
