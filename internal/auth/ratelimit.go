package auth

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	loginWindow  = 5 * time.Minute
	loginMaxFail = 10

	// loginPruneThreshold is the number of tracked IPs above which stale
	// entries are pruned.
	loginPruneThreshold = 1000

	registrationWindow = time.Minute
	registrationMax    = 10
)

// remoteIP extracts the IP address from r.RemoteAddr, stripping the
// port. Falls back to the raw value if parsing fails.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// loginLimiter tracks failed logins per IP over a sliding window. After
// loginMaxFail failures further attempts are refused until the oldest
// failure ages out.
type loginLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	now      func() time.Time
}

func newLoginLimiter() *loginLimiter {
	return &loginLimiter{
		failures: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// limited reports whether ip is currently locked out.
func (l *loginLimiter) limited(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-loginWindow)

	if len(l.failures) > loginPruneThreshold {
		for k, times := range l.failures {
			if len(times) == 0 || times[len(times)-1].Before(cutoff) {
				delete(l.failures, k)
			}
		}
	}

	recent := l.failures[ip][:0]

	for _, t := range l.failures[ip] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) == 0 {
		delete(l.failures, ip)
	} else {
		l.failures[ip] = recent
	}

	return len(recent) >= loginMaxFail
}

func (l *loginLimiter) record(ip string) {
	l.mu.Lock()
	l.failures[ip] = append(l.failures[ip], l.now())
	l.mu.Unlock()
}

// newRegistrationLimiter admits registrationMax registrations in a burst,
// refilling one slot every registrationWindow/registrationMax.
func newRegistrationLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(registrationWindow/registrationMax), registrationMax)
}
