package liveserver

import (
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rejection reasons, also used as metric labels
const (
	reasonMissingOrigin = "missing_origin"
	reasonInvalidOrigin = "invalid_origin"
	reasonWildcard      = "wildcard_in_production"
	reasonRateLimit     = "rate_limit"
	reasonConnLimit     = "connection_limit"
)

const (
	defaultMaxConnections = 1000
	defaultRatePerSecond  = 10
	defaultRateBurst      = 20

	// Buckets idle this long are full again and can be dropped
	limiterIdleTTL = 3 * time.Minute
	pruneInterval  = time.Minute
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// admission decides which requests and websocket upgrades get served.
// It owns the origin allowlist, per-IP token buckets and connection slots.
type admission struct {
	mu         sync.Mutex
	origins    []string
	production bool

	perSecond rate.Limit // zero disables limiting
	burst     int
	limiters  map[string]*ipLimiter

	slots chan struct{}
}

func newAdmission(origins []string) *admission {
	return &admission{
		origins:   origins,
		perSecond: defaultRatePerSecond,
		burst:     defaultRateBurst,
		limiters:  make(map[string]*ipLimiter),
		slots:     make(chan struct{}, defaultMaxConnections),
	}
}

// originReason returns "" when origin may open a websocket
func (a *admission) originReason(origin string) string {
	if origin == "" {
		return reasonMissingOrigin
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return reasonInvalidOrigin
	}
	site := u.Scheme + "://" + u.Host

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, allowed := range a.origins {
		switch allowed {
		case "*":
			if a.production {
				return reasonWildcard
			}
			return ""
		case site:
			return ""
		}
	}
	return reasonInvalidOrigin
}

// allowIP takes one token from ip's bucket
func (a *admission) allowIP(ip string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.perSecond <= 0 {
		return true
	}
	entry, ok := a.limiters[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(a.perSecond, a.burst)}
		a.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

// prune drops buckets not used since cutoff and returns how many went
func (a *admission) prune(cutoff time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for ip, entry := range a.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(a.limiters, ip)
			removed++
		}
	}
	return removed
}

func (a *admission) trackedIPs() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.limiters)
}

// acquire reserves a websocket slot; release must be called once
func (a *admission) acquire() (release func(), ok bool) {
	a.mu.Lock()
	slots := a.slots
	a.mu.Unlock()

	select {
	case slots <- struct{}{}:
		return func() { <-slots }, true
	default:
		return nil, false
	}
}

func (a *admission) setProduction(prod bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.production = prod
}

// setRate replaces every bucket; a zero limit disables limiting
func (a *admission) setRate(perSecond float64, burst int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.perSecond = rate.Limit(perSecond)
	a.burst = burst
	a.limiters = make(map[string]*ipLimiter)
}

// setMaxConnections resizes the slot pool. Connections holding a slot of the
// old pool release into it.
func (a *admission) setMaxConnections(max int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.slots = make(chan struct{}, max)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
