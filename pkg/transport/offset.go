package transport

import "sync"

// offsetWindow is the number of recent samples an estimator keeps.
const offsetWindow = 32

// OffsetEstimator derives a clock correction from one-way timestamp
// samples. Each sample localRecv - remoteSent equals the true offset plus
// the network latency of that message; taking the minimum over a sliding
// window keeps the sample with the least latency inflation. Backends feed
// it from frame headers and expose it through Inlet.TimeCorrection.
type OffsetEstimator struct {
	mu      sync.Mutex
	samples []float64
	next    int
	filled  bool
}

// NewOffsetEstimator creates an empty estimator.
func NewOffsetEstimator() *OffsetEstimator {
	return &OffsetEstimator{samples: make([]float64, offsetWindow)}
}

// AddSample records one observation of localRecv - remoteSent.
func (e *OffsetEstimator) AddSample(remoteSent, localRecv float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.samples[e.next] = localRecv - remoteSent
	e.next++
	if e.next == len(e.samples) {
		e.next = 0
		e.filled = true
	}
}

// Correction returns the current offset estimate in seconds. The estimate
// maps the remote sender's clock onto the local clock: remote + correction
// approximates local at send time.
func (e *OffsetEstimator) Correction() (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.next
	if e.filled {
		n = len(e.samples)
	}
	if n == 0 {
		return 0, ErrNoCorrection
	}

	min := e.samples[0]
	for i := 1; i < n; i++ {
		if e.samples[i] < min {
			min = e.samples[i]
		}
	}
	return min, nil
}
