package drugdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/chih3b/SanteConnect/internal/domain"
	"github.com/chih3b/SanteConnect/internal/infra/config"
	"github.com/chih3b/SanteConnect/internal/infra/tracer"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// GuardedSource wraps a DrugSource with tracing and, optionally, a circuit
// breaker. When a registry fails repeatedly the circuit opens and lookups
// fail fast instead of holding up every prescription.
type GuardedSource struct {
	inner   domain.DrugSource
	breaker *gobreaker.CircuitBreaker[*domain.SourceResult]
}

// Guard wraps inner. A disabled breaker config only adds tracing.
func Guard(inner domain.DrugSource, cfg config.CircuitBreakerConfig, logger *slog.Logger) *GuardedSource {
	g := &GuardedSource{inner: inner}
	if !cfg.Enabled {
		return g
	}

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

	g.breaker = gobreaker.NewCircuitBreaker[*domain.SourceResult](gobreaker.Settings{
		Name:        "drugdb:" + inner.Label(),
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
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return g
}

func (g *GuardedSource) Label() string { return g.inner.Label() }
func (g *GuardedSource) Priority() int { return g.inner.Priority() }

func (g *GuardedSource) Lookup(ctx context.Context, name string) (*domain.SourceResult, error) {
	ctx, span := tracer.StartSpan(ctx, "drug.lookup",
		trace.WithAttributes(tracer.StringAttr("drug.source", g.inner.Label())),
	)
	defer span.End()

	var (
		res *domain.SourceResult
		err error
	)
	if g.breaker == nil {
		res, err = g.inner.Lookup(ctx, name)
	} else {
		res, err = g.breaker.Execute(func() (*domain.SourceResult, error) {
			return g.inner.Lookup(ctx, name)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %s: %v", domain.ErrCircuitOpen, g.inner.Label(), err)
		}
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = domain.NewSubSystemError("drugdb", "Source.Lookup", domain.ErrTimeout, g.inner.Label()+": "+err.Error())
		}
		tracer.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(tracer.BoolAttr("drug.found", res.Found))
	tracer.SetOK(span)
	return res, nil
}

// State returns the current circuit breaker state for monitoring.
func (g *GuardedSource) State() gobreaker.State {
	if g.breaker == nil {
		return gobreaker.StateClosed
	}
	return g.breaker.State()
}

var _ domain.DrugSource = (*GuardedSource)(nil)
