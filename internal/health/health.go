// Package health aggregates dependency probes into one report. Required
// dependencies failing degrade the service status to error; optional
// ones only to degraded.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chessmate-labs/chessmate/internal/sanitize"
)

// Dependency statuses.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// Overall service statuses.
const (
	ServiceOK       = "ok"
	ServiceDegraded = "degraded"
	ServiceError    = "error"
)

// Checker probes one dependency.
type Checker interface {
	Name() string
	Required() bool
	Check(ctx context.Context) error
}

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Name      string  `json:"name"`
	Status    string  `json:"status"`
	Required  bool    `json:"required"`
	LatencyMS float64 `json:"latency_ms"`
	Detail    string  `json:"detail,omitempty"`
}

// Report is the aggregated health of the service.
type Report struct {
	Status string        `json:"status"`
	Checks []CheckResult `json:"checks"`
}

// Manager runs registered checkers with a bounded per-probe timeout.
type Manager struct {
	checkers []Checker
	timeout  time.Duration
	log      *zap.Logger
}

// NewManager builds a manager.
func NewManager(timeout time.Duration, logger *zap.Logger, checkers ...Checker) *Manager {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Manager{checkers: checkers, timeout: timeout, log: logger}
}

// Run probes every dependency concurrently and aggregates the results.
func (m *Manager) Run(ctx context.Context) Report {
	results := make([]CheckResult, len(m.checkers))
	var wg sync.WaitGroup
	for i, c := range m.checkers {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			results[i] = m.probe(ctx, c)
		}(i, c)
	}
	wg.Wait()

	status := ServiceOK
	for _, r := range results {
		if r.Status != StatusError {
			continue
		}
		if r.Required {
			status = ServiceError
			break
		}
		status = ServiceDegraded
	}
	return Report{Status: status, Checks: results}
}

func (m *Manager) probe(ctx context.Context, c Checker) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	err := c.Check(ctx)
	latency := float64(time.Since(start).Microseconds()) / 1000

	result := CheckResult{
		Name:      c.Name(),
		Status:    StatusOK,
		Required:  c.Required(),
		LatencyMS: latency,
	}
	if err == errSkipped {
		result.Status = StatusSkipped
		result.LatencyMS = 0
		return result
	}
	if err != nil {
		result.Status = StatusError
		result.Detail = sanitize.Error(err)
		m.log.Warn("Health check failed",
			zap.String("check", c.Name()),
			zap.String("error", result.Detail))
	}
	return result
}
