package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/chih3b/SanteConnect/internal/domain"
	"github.com/chih3b/SanteConnect/internal/infra/tracer"
)

// Middleware decorates a tool's Invoke. Name, description and parameters
// pass through unchanged.
type Middleware func(domain.Tool) domain.Tool

type invokeFunc func(ctx context.Context, args domain.Args) (any, error)

type decorated struct {
	domain.Tool
	invoke invokeFunc
}

func (d *decorated) Invoke(ctx context.Context, args domain.Args) (any, error) {
	return d.invoke(ctx, args)
}

func decorate(t domain.Tool, fn invokeFunc) domain.Tool {
	return &decorated{Tool: t, invoke: fn}
}

// Wrap applies mws to t. The first middleware is the outermost.
func Wrap(t domain.Tool, mws ...Middleware) domain.Tool {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			t = mws[i](t)
		}
	}
	return t
}

// WithTimeout bounds each invocation. A call that runs past d fails with
// domain.ErrTimeout.
func WithTimeout(d time.Duration) Middleware {
	return func(next domain.Tool) domain.Tool {
		if d <= 0 {
			return next
		}
		return decorate(next, func(ctx context.Context, args domain.Args) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			res, err := next.Invoke(ctx, args)
			if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s after %s: %w", domain.ErrTimeout, next.Name(), d, err)
			}
			return res, err
		})
	}
}

// WithRateLimit makes each invocation wait for a token from l. Share one
// limiter between tools that hit the same backend.
func WithRateLimit(l *rate.Limiter) Middleware {
	return func(next domain.Tool) domain.Tool {
		if l == nil {
			return next
		}
		return decorate(next, func(ctx context.Context, args domain.Args) (any, error) {
			if err := l.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", domain.ErrRateLimit, next.Name(), err)
			}
			return next.Invoke(ctx, args)
		})
	}
}

// BreakerConfig configures WithBreaker.
type BreakerConfig struct {
	MaxFailures uint32
	Timeout     time.Duration
	Interval    time.Duration
}

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// WithBreaker guards the tool with a circuit breaker. After MaxFailures
// consecutive transient failures the circuit opens and calls fail fast with
// domain.ErrCircuitOpen until the timeout elapses.
func WithBreaker(cfg BreakerConfig, logger *slog.Logger) Middleware {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	return func(next domain.Tool) domain.Tool {
		cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        "tool:" + next.Name(),
			MaxRequests: 1, // allow 1 probe in half-open state
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				if logger != nil {
					logger.Warn("circuit breaker state change",
						"breaker", name,
						"from", from.String(),
						"to", to.String(),
					)
				}
			},
			IsSuccessful: func(err error) bool {
				return !isTransient(err)
			},
		})

		return decorate(next, func(ctx context.Context, args domain.Args) (any, error) {
			res, err := cb.Execute(func() (any, error) {
				return next.Invoke(ctx, args)
			})
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, fmt.Errorf("%w: %s: %v", domain.ErrCircuitOpen, next.Name(), err)
			}
			return res, err
		})
	}
}

// Traced records each invocation as a "tool.execute" span.
func Traced() Middleware {
	return func(next domain.Tool) domain.Tool {
		return decorate(next, func(ctx context.Context, args domain.Args) (any, error) {
			ctx, span := tracer.StartSpan(ctx, "tool.execute",
				trace.WithAttributes(tracer.StringAttr("tool.name", next.Name())),
			)
			defer span.End()

			res, err := next.Invoke(ctx, args)
			if err != nil {
				tracer.RecordError(span, err)
				return nil, err
			}
			tracer.SetOK(span)
			return res, nil
		})
	}
}

// Standard returns the middleware stack applied to tools that call external
// collaborators: tracing, then circuit breaker, then rate limit, then timeout.
func Standard(timeout time.Duration, limiter *rate.Limiter, breaker *BreakerConfig, logger *slog.Logger) []Middleware {
	mws := []Middleware{Traced()}
	if breaker != nil {
		mws = append(mws, WithBreaker(*breaker, logger))
	}
	return append(mws, WithRateLimit(limiter), WithTimeout(timeout))
}
