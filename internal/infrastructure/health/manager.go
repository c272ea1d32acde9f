package health

import (
	"sort"
	"sync"

	"liqrisk/internal/core"
)

// Status strings reported per component
const (
	StatusHealthy   = "Healthy"
	StatusUnhealthy = "Unhealthy"
)

// HealthManager aggregates health status from different components
type HealthManager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]func() error
	last   map[string]bool
}

var _ core.IHealthMonitor = (*HealthManager)(nil)

// NewHealthManager creates a new health manager
func NewHealthManager(logger core.ILogger) *HealthManager {
	hm := &HealthManager{
		checks: make(map[string]func() error),
		last:   make(map[string]bool),
	}
	if logger != nil {
		hm.logger = logger.WithField("component", "health_manager")
	}
	return hm
}

// Register adds a new health check for a component
func (hm *HealthManager) Register(component string, check func() error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[component] = check
}

// Components returns the registered component names in sorted order
func (hm *HealthManager) Components() []string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	names := make([]string, 0, len(hm.checks))
	for name := range hm.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every check once and returns the error per component.
// Transitions between healthy and unhealthy are logged.
func (hm *HealthManager) Check() map[string]error {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	results := make(map[string]error, len(hm.checks))
	for component, check := range hm.checks {
		err := check()
		results[component] = err

		healthy := err == nil
		if prev, seen := hm.last[component]; (!seen || prev != healthy) && hm.logger != nil {
			if healthy {
				hm.logger.Info("Component healthy", "health_component", component)
			} else {
				hm.logger.Warn("Component unhealthy", "health_component", component, "error", err)
			}
		}
		hm.last[component] = healthy
	}
	return results
}

// GetStatus returns the current status of all registered components
func (hm *HealthManager) GetStatus() map[string]string {
	status := make(map[string]string)
	for component, err := range hm.Check() {
		if err != nil {
			status[component] = StatusUnhealthy + ": " + err.Error()
		} else {
			status[component] = StatusHealthy
		}
	}
	return status
}

// IsHealthy returns true if all registered components are healthy
func (hm *HealthManager) IsHealthy() bool {
	for _, err := range hm.Check() {
		if err != nil {
			return false
		}
	}
	return true
}
