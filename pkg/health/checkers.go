package health

import (
	"context"
	"errors"
	"time"

	"github.com/nimburion/rpcserver/pkg/pipeline"
)

// Readier is anything exposing the pipeline readiness contract.
type Readier interface {
	Ready(ctx context.Context) error
}

// ReadinessChecker reports whether a service would accept a request now.
// A service refusing with pipeline.ErrNotReady is degraded, any other error
// is unhealthy.
type ReadinessChecker struct {
	name    string
	service Readier
	timeout time.Duration
}

// NewReadinessChecker creates a ReadinessChecker. Timeout defaults to 2s.
func NewReadinessChecker(name string, service Readier, timeout time.Duration) *ReadinessChecker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ReadinessChecker{name: name, service: service, timeout: timeout}
}

// Check implements Checker.
func (c *ReadinessChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result := CheckResult{Name: c.name, Status: StatusHealthy, Timestamp: start}
	err := c.service.Ready(ctx)
	result.Duration = time.Since(start)

	switch {
	case err == nil:
		result.Message = "accepting requests"
	case errors.Is(err, pipeline.ErrNotReady):
		result.Status = StatusDegraded
		result.Message = "shedding load"
		result.Error = err.Error()
	default:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	}
	return result
}

// Name implements Checker.
func (c *ReadinessChecker) Name() string {
	return c.name
}
