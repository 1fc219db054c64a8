package ui

import (
	"sync"
	"time"
)

const (
	// rateInterval is the minimum spacing of throughput samples.
	rateInterval = 500 * time.Millisecond
	// Exponential smoothing weights for new samples.
	rateSmoothing = 0.2
	etaSmoothing  = 0.3
)

// Throughput is files per second.
type Throughput struct {
	Current float64
	Avg     float64
	Peak    float64
}

// ProgressStats is a snapshot of a tracker.
type ProgressStats struct {
	Stage       Stage
	Current     int
	Total       int
	Failed      int
	Fraction    float64 // 0..1
	ETA         time.Duration
	CurrentFile string
	Errors      int
	Warnings    int
	Rate        Throughput
}

// ProgressTracker accumulates progress events into counts, throughput and
// a smoothed ETA. It is safe for concurrent use.
type ProgressTracker struct {
	mu  sync.Mutex
	now func() time.Time

	stage       Stage
	current     int
	total       int
	failed      int
	currentFile string
	started     time.Time
	stageStart  time.Time
	errors      []ErrorEvent
	warnings    int

	lastETA    time.Duration
	sampleAt   time.Time
	sampleDone int
	rate       Throughput
	samples    int
	spark      *Sparkline
}

func NewProgressTracker() *ProgressTracker {
	return newProgressTracker(time.Now)
}

func newProgressTracker(now func() time.Time) *ProgressTracker {
	t := now()
	return &ProgressTracker{
		now:        now,
		stage:      StageDiscovering,
		started:    t,
		stageStart: t,
		sampleAt:   t,
		spark:      NewSparkline(60),
	}
}

// Apply records an event. A stage change resets the per-stage counters.
func (p *ProgressTracker) Apply(ev ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if ev.Stage != p.stage {
		p.stage = ev.Stage
		p.stageStart = now
		p.sampleAt = now
		p.sampleDone = 0
		p.lastETA = 0
		p.rate = Throughput{}
		p.samples = 0
		p.spark.Clear()
	}
	p.current, p.total, p.failed = ev.Current, ev.Total, ev.Failed
	if ev.CurrentFile != "" {
		p.currentFile = ev.CurrentFile
	}

	elapsed := now.Sub(p.sampleAt)
	if elapsed < rateInterval {
		return
	}
	if delta := p.current - p.sampleDone; delta > 0 {
		r := float64(delta) / elapsed.Seconds()
		p.rate.Current = r
		p.samples++
		if p.samples == 1 {
			p.rate.Avg = r
		} else {
			p.rate.Avg = rateSmoothing*r + (1-rateSmoothing)*p.rate.Avg
		}
		p.rate.Peak = max(p.rate.Peak, r)
		p.spark.Add(r)
	}
	p.sampleAt = now
	p.sampleDone = p.current
}

func (p *ProgressTracker) AddError(ev ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev.IsWarn {
		p.warnings++
		return
	}
	p.errors = append(p.errors, ev)
}

// Errors returns a copy of the recorded errors.
func (p *ProgressTracker) Errors() []ErrorEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ErrorEvent(nil), p.errors...)
}

func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now().Sub(p.started)
}

// Stats returns a snapshot. It advances the ETA smoothing.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return ProgressStats{
		Stage:       p.stage,
		Current:     p.current,
		Total:       p.total,
		Failed:      p.failed,
		Fraction:    p.fraction(),
		ETA:         p.eta(),
		CurrentFile: p.currentFile,
		Errors:      len(p.errors),
		Warnings:    p.warnings,
		Rate:        p.rate,
	}
}

// Sparkline renders recent throughput.
func (p *ProgressTracker) Sparkline(width int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spark.Render(width)
}

func (p *ProgressTracker) fraction() float64 {
	if p.total <= 0 {
		return 0
	}
	return min(float64(p.current)/float64(p.total), 1)
}

// eta extrapolates the stage's elapsed time; lock held.
func (p *ProgressTracker) eta() time.Duration {
	f := p.fraction()
	if f <= 0 || f >= 1 {
		return 0
	}
	elapsed := p.now().Sub(p.stageStart)
	remaining := time.Duration(float64(elapsed)/f) - elapsed
	if remaining <= 0 {
		return 0
	}
	if p.lastETA > 0 {
		remaining = time.Duration(etaSmoothing*float64(remaining) + (1-etaSmoothing)*float64(p.lastETA))
	}
	p.lastETA = remaining
	return remaining
}
