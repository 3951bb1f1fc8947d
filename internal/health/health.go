// Package health serves the liveness and readiness probes.
package health

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// Healthz returns 200 "ok\n" unconditionally.
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// Check reports whether one dependency is ready. nil means ready.
type Check func() error

// Checker aggregates named readiness checks.
type Checker struct {
	mu     sync.RWMutex
	names  []string
	checks map[string]Check
}

// NewChecker returns a checker with no checks; it reports ready.
func NewChecker() *Checker {
	return &Checker{checks: make(map[string]Check)}
}

// Add registers a check. A second check with the same name replaces the first.
func (c *Checker) Add(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.checks[name]; !ok {
		c.names = append(c.names, name)
	}
	c.checks[name] = check
}

// Failures runs every check in registration order and returns one
// "name: error" line per failing check.
func (c *Checker) Failures() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var failed []string
	for _, name := range c.names {
		if err := c.checks[name](); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", name, err))
		}
	}
	return failed
}

// Readyz returns 200 "ready\n" when every check passes and 503 listing the
// failures otherwise.
func (c *Checker) Readyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if failed := c.Failures(); len(failed) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready\n" + strings.Join(failed, "\n") + "\n"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready\n"))
}
