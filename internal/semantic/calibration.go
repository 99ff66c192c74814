package semantic

import (
	"sync"

	"maestro/internal/types"
)

// Calibration tracks how often the analyzer's predicted intent matched the
// objective type observed in the recorded pattern. The feedback loop calls
// Record after every execution; the analyze tool surfaces Accuracy.
type Calibration struct {
	mu       sync.Mutex
	total    int
	correct  int
	byIntent map[types.Intent]*intentCounter
}

type intentCounter struct {
	Predicted int
	Matched   int
}

// NewCalibration returns empty calibration counters.
func NewCalibration() *Calibration {
	return &Calibration{byIntent: make(map[types.Intent]*intentCounter)}
}

// Record registers one (predicted, observed) intent pair.
func (c *Calibration) Record(predicted, observed types.Intent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	ctr := c.byIntent[predicted]
	if ctr == nil {
		ctr = &intentCounter{}
		c.byIntent[predicted] = ctr
	}
	ctr.Predicted++
	if predicted == observed {
		c.correct++
		ctr.Matched++
	}
}

// Accuracy returns the overall match rate, or 1.0 when nothing has been
// observed yet (no evidence of miscalibration).
func (c *Calibration) Accuracy() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.total == 0 {
		return 1.0
	}
	return float64(c.correct) / float64(c.total)
}

// IntentAccuracy returns the match rate for a single predicted intent.
func (c *Calibration) IntentAccuracy(intent types.Intent) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctr := c.byIntent[intent]
	if ctr == nil || ctr.Predicted == 0 {
		return 1.0
	}
	return float64(ctr.Matched) / float64(ctr.Predicted)
}

// Observations returns the total recorded pairs.
func (c *Calibration) Observations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}
