package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const defaultTimeout = 5 * time.Second

type Checker interface {
	Check(ctx context.Context) error
	Name() string
}

type Report struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]Result `json:"checks"`
}

type Result struct {
	Status    Status `json:"status"`
	Message   string `json:"message,omitempty"`
	Optional  bool   `json:"optional,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// DegradedError marks a check that failed without taking the service down.
type DegradedError struct {
	Reason string
}

func (e *DegradedError) Error() string {
	return e.Reason
}

func Degraded(format string, args ...interface{}) error {
	return &DegradedError{Reason: fmt.Sprintf(format, args...)}
}

type entry struct {
	checker  Checker
	optional bool
}

// Registry runs its checks concurrently, each bounded by the registry
// timeout. A failing optional check degrades the report instead of failing it.
type Registry struct {
	timeout time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	entries []entry
}

func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Registry{timeout: timeout, now: time.Now}
}

func (r *Registry) Register(c Checker) {
	r.add(entry{checker: c})
}

// RegisterOptional adds a check for a dependency ingestion can run without.
func (r *Registry) RegisterOptional(c Checker) {
	r.add(entry{checker: c, optional: true})
}

func (r *Registry) add(e entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *Registry) Check(ctx context.Context) Report {
	r.mu.RLock()
	entries := append([]entry(nil), r.entries...)
	r.mu.RUnlock()

	results := make([]Result, len(entries))
	g, gCtx := errgroup.WithContext(ctx)
	for i, e := range entries {
		g.Go(func() error {
			results[i] = r.run(gCtx, e)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{
		Status:    StatusHealthy,
		Timestamp: r.now().UTC(),
		Checks:    make(map[string]Result, len(entries)),
	}
	for i, e := range entries {
		res := results[i]
		report.Checks[e.checker.Name()] = res
		switch {
		case res.Status == StatusUnhealthy:
			report.Status = StatusUnhealthy
		case res.Status == StatusDegraded && report.Status == StatusHealthy:
			report.Status = StatusDegraded
		}
	}
	return report
}

func (r *Registry) run(ctx context.Context, e entry) Result {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := r.now()
	err := e.checker.Check(ctx)
	res := Result{Optional: e.optional, LatencyMS: r.now().Sub(start).Milliseconds()}

	var degraded *DegradedError
	switch {
	case err == nil:
		res.Status = StatusHealthy
	case errors.As(err, &degraded):
		res.Status = StatusDegraded
		res.Message = degraded.Reason
	case e.optional:
		res.Status = StatusDegraded
		res.Message = err.Error()
	default:
		res.Status = StatusUnhealthy
		res.Message = err.Error()
	}
	return res
}

// Handler serves the report, answering 503 only when it is unhealthy.
func Handler(r *Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := r.Check(c.Request.Context())
		status := http.StatusOK
		if report.Status == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, report)
	}
}
