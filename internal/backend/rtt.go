package backend

import (
	"sync"
	"time"
)

// ExponentialSmoothing is the scalar smoothing state ported directly
// from ExponentialSmoothData in the original source:
// the first sample sets the value exactly, every later sample is
// blended in by the smoothing factor.
type ExponentialSmoothing struct {
	mu          sync.Mutex
	alpha       float64
	current     float64
	hasFirst    bool
}

// NewExponentialSmoothing builds a smoother with smoothing factor
// alpha in [0,1].
func NewExponentialSmoothing(alpha float64) *ExponentialSmoothing {
	return &ExponentialSmoothing{alpha: alpha}
}

// Insert feeds a new sample: current = x on the first sample,
// otherwise current = alpha*x + (1-alpha)*current.
func (e *ExponentialSmoothing) Insert(x float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasFirst {
		e.current = x
		e.hasFirst = true
		return
	}
	e.current = e.alpha*x + (1-e.alpha)*e.current
}

// Value returns the current smoothed value.
func (e *ExponentialSmoothing) Value() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// HasSample reports whether Insert has been called at least once.
func (e *ExponentialSmoothing) HasSample() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasFirst
}

// kExponentialFactor mirrors the default smoothing factor
// proxy_t::durationUs uses in the original source for its RTT timer.
const kExponentialFactor = 0.1

// RTTWindow tracks min/avg/peak round-trip time using three
// independent ExponentialSmoothing instances. "Peak" is smoothed
// rather than a hard running max: a sample above the current peak
// pulls it up by the smoothing factor, while a sample at or below it
// leaves it unchanged, so the peak never decays. Min works the same
// way in the other direction.
type RTTWindow struct {
	avg  ExponentialSmoothing
	min  ExponentialSmoothing
	peak ExponentialSmoothing
}

// NewRTTWindow builds an RTTWindow with the default smoothing factor.
func NewRTTWindow() *RTTWindow {
	return &RTTWindow{
		avg:  ExponentialSmoothing{alpha: kExponentialFactor},
		min:  ExponentialSmoothing{alpha: kExponentialFactor},
		peak: ExponentialSmoothing{alpha: kExponentialFactor},
	}
}

// Insert feeds one RTT sample into all three smoothers.
func (w *RTTWindow) Insert(d time.Duration) {
	us := float64(d.Microseconds())
	w.avg.Insert(us)

	// min/peak are driven by comparing the new sample against the
	// smoother's own current value before inserting, so a single
	// sample still moves the gauge in the right direction without
	// needing separate running-min/max bookkeeping.
	if cur := w.min.Value(); !w.min.HasSample() || us < cur {
		w.min.Insert(us)
	} else {
		w.min.Insert(cur)
	}
	if cur := w.peak.Value(); !w.peak.HasSample() || us > cur {
		w.peak.Insert(us)
	} else {
		w.peak.Insert(cur)
	}
}

// Flush returns the current (min, avg, peak) microsecond values.
func (w *RTTWindow) Flush() (min, avg, peak int64) {
	return int64(w.min.Value()), int64(w.avg.Value()), int64(w.peak.Value())
}
