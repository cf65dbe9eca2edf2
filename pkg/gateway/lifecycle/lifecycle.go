package lifecycle

import "sync/atomic"

// Lifecycle holds process-wide serving state shared by the live handler and
// the readiness probe. Once draining, /readyz fails and /v1/live refuses new
// sessions while open ones finish their current turn.
type Lifecycle struct {
	draining atomic.Bool
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
