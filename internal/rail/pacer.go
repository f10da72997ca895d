package rail

import (
	"sync"
	"time"
)

// Pacer enforces a minimum gap between calls to the rail API, which rate
// limits aggressively. Each client owns its own Pacer; there is no process
// wide state.
type Pacer struct {
	mu    sync.Mutex
	min   time.Duration
	last  time.Time
	now   func() time.Time
	sleep func(time.Duration)
}

func NewPacer(min time.Duration) *Pacer {
	return NewPacerWithClock(min, time.Now, time.Sleep)
}

func NewPacerWithClock(min time.Duration, now func() time.Time, sleep func(time.Duration)) *Pacer {
	return &Pacer{min: min, now: now, sleep: sleep}
}

// Wait blocks until the minimum gap since the previous call has passed, then
// claims the current slot.
func (p *Pacer) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.min > 0 && !p.last.IsZero() {
		if elapsed := p.now().Sub(p.last); elapsed < p.min {
			p.sleep(p.min - elapsed)
		}
	}

	p.last = p.now()
}
