// Package ratelimit admits live sessions per client principal.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Denial reasons.
const (
	ReasonRateLimited     = "rate_limited"
	ReasonTooManySessions = "too_many_sessions"
	ReasonServerBusy      = "server_busy"
)

type Config struct {
	// SessionRate is new sessions per second per principal; 0 disables.
	SessionRate  float64
	SessionBurst int

	// MaxSessionsPerPrincipal caps concurrent sessions per principal; 0 disables.
	MaxSessionsPerPrincipal int
	// MaxSessions caps concurrent sessions process-wide; 0 disables.
	MaxSessions int

	// Operational bounds for the in-memory map (single-process only).
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	global chan struct{}

	mu sync.Mutex
	m  map[string]*principalLimiter
}

type principalLimiter struct {
	rate     *rate.Limiter
	sessions int
	lastSeen time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	l := &Limiter{
		cfg: cfg,
		m:   make(map[string]*principalLimiter),
	}
	if cfg.MaxSessions > 0 {
		l.global = make(chan struct{}, cfg.MaxSessions)
	}
	return l
}

func PrincipalKeyFromIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	// 16 bytes => 32 hex chars; enough to avoid collisions in practice.
	return "ip_" + hex.EncodeToString(sum[:16])
}

type Permit struct {
	once    sync.Once
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.once.Do(p.release)
}

type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter int
	Permit     *Permit
}

// AcquireSession admits one new live session for principal. An allowed
// decision carries a Permit that must be released when the session ends.
func (l *Limiter) AcquireSession(principal string, now time.Time) Decision {
	if l == nil {
		return Decision{Allowed: true, Permit: &Permit{}}
	}
	if principal == "" {
		principal = "anonymous"
	}

	l.mu.Lock()
	pl := l.getOrCreateLocked(principal, now)
	pl.lastSeen = now

	if l.cfg.MaxSessionsPerPrincipal > 0 && pl.sessions >= l.cfg.MaxSessionsPerPrincipal {
		l.mu.Unlock()
		return Decision{Allowed: false, Reason: ReasonTooManySessions, RetryAfter: 1}
	}

	if pl.rate != nil {
		r := pl.rate.ReserveN(now, 1)
		if !r.OK() {
			l.mu.Unlock()
			return Decision{Allowed: false, Reason: ReasonRateLimited, RetryAfter: 1}
		}
		if delay := r.DelayFrom(now); delay > 0 {
			r.CancelAt(now)
			l.mu.Unlock()
			return Decision{Allowed: false, Reason: ReasonRateLimited, RetryAfter: retryAfterSeconds(delay)}
		}
	}

	if l.global != nil {
		select {
		case l.global <- struct{}{}:
		default:
			l.mu.Unlock()
			return Decision{Allowed: false, Reason: ReasonServerBusy, RetryAfter: 1}
		}
	}

	pl.sessions++
	l.mu.Unlock()

	return Decision{
		Allowed: true,
		Permit: &Permit{release: func() {
			l.mu.Lock()
			pl.sessions--
			l.mu.Unlock()
			if l.global != nil {
				<-l.global
			}
		}},
	}
}

// Active returns the number of admitted sessions for principal.
func (l *Limiter) Active(principal string) int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if pl, ok := l.m[principal]; ok {
		return pl.sessions
	}
	return 0
}

func (l *Limiter) getOrCreateLocked(principal string, now time.Time) *principalLimiter {
	if pl, ok := l.m[principal]; ok {
		return pl
	}

	if len(l.m) >= l.cfg.MaxEntries {
		l.gcLocked(now)
	}

	pl := &principalLimiter{lastSeen: now}
	if l.cfg.SessionRate > 0 && l.cfg.SessionBurst > 0 {
		pl.rate = rate.NewLimiter(rate.Limit(l.cfg.SessionRate), l.cfg.SessionBurst)
	}
	l.m[principal] = pl
	return pl
}

// gcLocked drops idle principals. Entries with live sessions are kept so
// their permits stay balanced.
func (l *Limiter) gcLocked(now time.Time) {
	ttl := l.cfg.EntryTTL
	for k, v := range l.m {
		if v.sessions == 0 && now.Sub(v.lastSeen) > ttl {
			delete(l.m, k)
		}
	}
	if len(l.m) < l.cfg.MaxEntries {
		return
	}
	// Still too big: drop one idle entry (bounded memory > perfect fairness).
	for k, v := range l.m {
		if v.sessions == 0 {
			delete(l.m, k)
			return
		}
	}
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
