package analysis

import (
	"time"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/event"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/event/detection"
)

// maxBuckets bounds zero-filling: a year of hourly buckets
const maxBuckets = 24 * 366

// Bucket counts the events of one hour or day
type Bucket struct {
	Start    time.Time `json:"start"`
	Total    int       `json:"total"`
	Critical int       `json:"critical"`
	High     int       `json:"high"`
	Medium   int       `json:"medium"`
	Low      int       `json:"low"`
	// Baseline is the trailing mean the bucket was compared against
	Baseline float64 `json:"baseline"`
	Anomaly  bool    `json:"anomaly"`
}

type Timeline struct {
	Granularity Granularity `json:"granularity"`
	Buckets     []Bucket    `json:"buckets"`
	Anomalies   []Bucket    `json:"anomalies"`
}

// truncate aligns t to the start of its UTC hour or day
func truncate(t time.Time, g Granularity) time.Time {
	t = t.UTC()
	if g == GranularityDay {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return t.Truncate(time.Hour)
}

func buildTimeline(events []event.TrackingEvent, opts Options) Timeline {
	tl := Timeline{
		Granularity: opts.Granularity,
		Buckets:     make([]Bucket, 0),
		Anomalies:   make([]Bucket, 0),
	}
	if len(events) == 0 {
		return tl
	}

	step := opts.Granularity.Duration()
	first := truncate(events[0].Timestamp, opts.Granularity)
	last := truncate(events[len(events)-1].Timestamp, opts.Granularity)
	n := int(last.Sub(first)/step) + 1

	if n <= maxBuckets {
		tl.Buckets = make([]Bucket, n)
		for i := range tl.Buckets {
			tl.Buckets[i].Start = first.Add(time.Duration(i) * step)
		}
		for _, e := range events {
			i := int(truncate(e.Timestamp, opts.Granularity).Sub(first) / step)
			countRisk(&tl.Buckets[i], e.Risk)
		}
	} else {
		// only occupied buckets; gaps are implied
		for _, e := range events {
			start := truncate(e.Timestamp, opts.Granularity)
			if len(tl.Buckets) == 0 || !tl.Buckets[len(tl.Buckets)-1].Start.Equal(start) {
				tl.Buckets = append(tl.Buckets, Bucket{Start: start})
			}
			countRisk(&tl.Buckets[len(tl.Buckets)-1], e.Risk)
		}
	}

	markAnomalies(tl.Buckets, opts.SpikeFactor, opts.TrailingBuckets)
	for _, b := range tl.Buckets {
		if b.Anomaly {
			tl.Anomalies = append(tl.Anomalies, b)
		}
	}
	return tl
}

func countRisk(b *Bucket, r detection.RiskLevel) {
	b.Total++
	switch detection.ParseRiskLevel(string(r)) {
	case detection.RiskCritical:
		b.Critical++
	case detection.RiskHigh:
		b.High++
	case detection.RiskMedium:
		b.Medium++
	default:
		b.Low++
	}
}

// markAnomalies flags buckets whose total exceeds factor times the mean of
// up to trailing preceding buckets. The first bucket has no baseline and a
// zero baseline never flags.
func markAnomalies(buckets []Bucket, factor float64, trailing int) {
	for i := range buckets {
		from := i - trailing
		if from < 0 {
			from = 0
		}
		if i == from {
			continue
		}
		sum := 0
		for _, b := range buckets[from:i] {
			sum += b.Total
		}
		mean := float64(sum) / float64(i-from)
		buckets[i].Baseline = mean
		if mean > 0 && float64(buckets[i].Total) > factor*mean {
			buckets[i].Anomaly = true
		}
	}
}
