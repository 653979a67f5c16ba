package health

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/romanesko/http-mqtt-bridge/internal/reliability"
)

// ConnectionProbe is the part of a transport the TransportChecker looks at
type ConnectionProbe interface {
	Name() string
	IsConnected() bool
}

// TransportChecker reports whether the broker connection is up
type TransportChecker struct {
	transport ConnectionProbe
}

// NewTransportChecker creates a transport checker
func NewTransportChecker(transport ConnectionProbe) *TransportChecker {
	return &TransportChecker{transport: transport}
}

func (c *TransportChecker) Name() string {
	return "transport"
}

func (c *TransportChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   map[string]interface{}{"transport": c.transport.Name()},
	}

	if c.transport.IsConnected() {
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("connected to %s", c.transport.Name())
	} else {
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("not connected to %s", c.transport.Name())
	}

	result.Duration = time.Since(start)
	return result
}

// PendingCounter reports how many senders are waiting for a reply
type PendingCounter interface {
	Pending() int
}

// PendingChecker turns degraded when too many senders wait at once, which
// usually means replies stopped arriving
type PendingChecker struct {
	counter   PendingCounter
	threshold int
}

// NewPendingChecker creates a pending checker; threshold <= 0 disables the limit
func NewPendingChecker(counter PendingCounter, threshold int) *PendingChecker {
	return &PendingChecker{counter: counter, threshold: threshold}
}

func (c *PendingChecker) Name() string {
	return "pending_replies"
}

func (c *PendingChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	pending := c.counter.Pending()

	result := CheckResult{
		Name:      c.Name(),
		Status:    StatusHealthy,
		Message:   fmt.Sprintf("%d senders waiting", pending),
		Timestamp: start,
		Details: map[string]interface{}{
			"pending":   pending,
			"threshold": c.threshold,
		},
	}

	if c.threshold > 0 && pending > c.threshold {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("high number of waiting senders: %d", pending)
	}

	result.Duration = time.Since(start)
	return result
}

// BreakerChecker reports the publish circuit breaker. An open breaker means
// publishes currently fail fast.
type BreakerChecker struct {
	breaker *reliability.CircuitBreaker
}

// NewBreakerChecker creates a breaker checker
func NewBreakerChecker(breaker *reliability.CircuitBreaker) *BreakerChecker {
	return &BreakerChecker{breaker: breaker}
}

func (c *BreakerChecker) Name() string {
	return "circuit_breaker"
}

func (c *BreakerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	metrics := c.breaker.Metrics()

	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details: map[string]interface{}{
			"breaker":          metrics.Name,
			"state":            metrics.State.String(),
			"current_failures": metrics.CurrentFailures,
			"total_rejected":   metrics.TotalRejected,
		},
	}

	switch metrics.State {
	case reliability.StateOpen:
		result.Status = StatusUnhealthy
		result.Message = "publishes are failing fast"
	case reliability.StateHalfOpen:
		result.Status = StatusDegraded
		result.Message = "probing the broker after failures"
	default:
		result.Status = StatusHealthy
		result.Message = "closed"
	}

	result.Duration = time.Since(start)
	return result
}

// MemoryChecker watches the goroutine count; every waiting sender holds one
type MemoryChecker struct {
	warnGoroutines     int
	criticalGoroutines int
}

// NewMemoryChecker creates a new memory checker
func NewMemoryChecker(warnGoroutines, criticalGoroutines int) *MemoryChecker {
	return &MemoryChecker{
		warnGoroutines:     warnGoroutines,
		criticalGoroutines: criticalGoroutines,
	}
}

func (c *MemoryChecker) Name() string {
	return "memory"
}

func (c *MemoryChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	goroutines := runtime.NumGoroutine()

	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details: map[string]interface{}{
			"heap_alloc_mb": float64(m.HeapAlloc) / 1024 / 1024,
			"gc_runs":       m.NumGC,
			"goroutines":    goroutines,
		},
	}

	switch {
	case c.criticalGoroutines > 0 && goroutines > c.criticalGoroutines:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("too many goroutines: %d", goroutines)
	case c.warnGoroutines > 0 && goroutines > c.warnGoroutines:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("high goroutine count: %d", goroutines)
	default:
		result.Status = StatusHealthy
		result.Message = "memory usage is normal"
	}

	result.Duration = time.Since(start)
	return result
}
