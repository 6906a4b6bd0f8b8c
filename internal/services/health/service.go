package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

const defaultCheckTimeout = 2 * time.Second

// Status values reported by Check.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// Report is the /healthz payload.
type Report struct {
	Status     string          `json:"status"`
	Components map[string]bool `json:"components"`
}

// Service runs the registered dependency checks.
type Service struct {
	mu      sync.RWMutex
	checks  map[string]Check
	Timeout time.Duration
}

// NewService constructs a new health service.
func NewService() *Service {
	return &Service{checks: make(map[string]Check)}
}

// Register adds or replaces the check for a component.
func (s *Service) Register(name string, check Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// Components lists registered component names in order.
func (s *Service) Components() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every check concurrently, each bounded by Timeout.
func (s *Service) Check(ctx context.Context) Report {
	s.mu.RLock()
	checks := make(map[string]Check, len(s.checks))
	for k, v := range s.checks {
		checks[k] = v
	}
	s.mu.RUnlock()

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}

	report := Report{Status: StatusOK, Components: make(map[string]bool, len(checks))}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			ok := check != nil && check(cctx) == nil
			mu.Lock()
			report.Components[name] = ok
			if !ok {
				report.Status = StatusDegraded
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return report
}
