package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romanesko/http-mqtt-bridge/internal/reliability"
)

func staticChecker(name string, status Status) Checker {
	return NewCheckerFunc(name, func(ctx context.Context) CheckResult {
		return CheckResult{Name: name, Status: status}
	})
}

func TestRegistry(t *testing.T) {
	t.Run("empty registry is healthy", func(t *testing.T) {
		report := NewRegistry().Check(context.Background())
		assert.Equal(t, StatusHealthy, report.Status)
		assert.Empty(t, report.Checks)
	})

	t.Run("worst status wins", func(t *testing.T) {
		tests := []struct {
			name     string
			statuses []Status
			want     Status
		}{
			{"all healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy},
			{"one degraded", []Status{StatusHealthy, StatusDegraded}, StatusDegraded},
			{"degraded and unhealthy", []Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, StatusUnhealthy},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				r := NewRegistry()
				for i, s := range tt.statuses {
					r.Register(staticChecker(string(rune('a'+i)), s))
				}

				report := r.Check(context.Background())
				assert.Equal(t, tt.want, report.Status)
				assert.Len(t, report.Checks, len(tt.statuses))
			})
		}
	})

	t.Run("unregister and metadata", func(t *testing.T) {
		r := NewRegistry()
		r.Register(staticChecker("a", StatusUnhealthy))
		r.Unregister("a")
		r.SetMetadata("version", "1.2.3")

		report := r.Check(context.Background())
		assert.Equal(t, StatusHealthy, report.Status)
		assert.Equal(t, "1.2.3", report.Metadata["version"])
	})

	t.Run("slow check is reported when the context ends", func(t *testing.T) {
		r := NewRegistry()
		release := make(chan struct{})
		defer close(release)
		r.Register(NewCheckerFunc("slow", func(ctx context.Context) CheckResult {
			<-release
			return CheckResult{Status: StatusHealthy}
		}))
		r.Register(staticChecker("fast", StatusHealthy))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		report := r.Check(ctx)
		assert.Equal(t, StatusUnhealthy, report.Status)
		assert.Equal(t, StatusUnhealthy, report.Checks["slow"].Status)
		assert.Equal(t, "check timed out", report.Checks["slow"].Message)
	})
}

func TestHandler(t *testing.T) {
	t.Run("degraded answers 200", func(t *testing.T) {
		r := NewRegistry()
		r.Register(staticChecker("pending_replies", StatusDegraded))

		rec := httptest.NewRecorder()
		NewHandler(r, time.Second).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var report Report
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.Equal(t, StatusDegraded, report.Status)
	})

	t.Run("unhealthy answers 503", func(t *testing.T) {
		r := NewRegistry()
		r.Register(staticChecker("transport", StatusUnhealthy))

		rec := httptest.NewRecorder()
		NewHandler(r, time.Second).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("liveness", func(t *testing.T) {
		rec := httptest.NewRecorder()
		LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "alive", rec.Body.String())
	})
}

type fakeProbe struct {
	connected bool
}

func (p fakeProbe) Name() string      { return "mqtt" }
func (p fakeProbe) IsConnected() bool { return p.connected }

type fakeCounter int

func (c fakeCounter) Pending() int { return int(c) }

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	t.Run("transport", func(t *testing.T) {
		up := NewTransportChecker(fakeProbe{connected: true}).Check(ctx)
		assert.Equal(t, StatusHealthy, up.Status)
		assert.Equal(t, "mqtt", up.Details["transport"])

		down := NewTransportChecker(fakeProbe{}).Check(ctx)
		assert.Equal(t, StatusUnhealthy, down.Status)
	})

	t.Run("pending", func(t *testing.T) {
		assert.Equal(t, StatusHealthy, NewPendingChecker(fakeCounter(3), 10).Check(ctx).Status)
		assert.Equal(t, StatusDegraded, NewPendingChecker(fakeCounter(11), 10).Check(ctx).Status)
		assert.Equal(t, StatusHealthy, NewPendingChecker(fakeCounter(1_000_000), 0).Check(ctx).Status)
	})

	t.Run("breaker", func(t *testing.T) {
		breaker := reliability.NewCircuitBreaker(reliability.WithFailureThreshold(1), reliability.WithTimeout(time.Hour))
		checker := NewBreakerChecker(breaker)
		assert.Equal(t, StatusHealthy, checker.Check(ctx).Status)

		_ = breaker.Execute(ctx, func() error { return errors.New("broker down") })

		result := checker.Check(ctx)
		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Equal(t, "open", result.Details["state"])
	})

	t.Run("memory", func(t *testing.T) {
		assert.Equal(t, StatusHealthy, NewMemoryChecker(0, 0).Check(ctx).Status)
		assert.Equal(t, StatusUnhealthy, NewMemoryChecker(0, 1).Check(ctx).Status)
		assert.Equal(t, StatusDegraded, NewMemoryChecker(1, 0).Check(ctx).Status)
	})
}
