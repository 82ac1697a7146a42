// Package interpret turns a free-text health message into a single
// Reading. The deterministic pattern matcher always runs first; the
// generative interpreter is consulted only when the pattern result falls
// below the confidence threshold.
package interpret

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tjfontaine/carelog/internal/domain"
	"github.com/tjfontaine/carelog/internal/interpret/pattern"
	"github.com/tjfontaine/carelog/internal/telemetry"
)

// DefaultThreshold is the pattern confidence at or above which the
// generative interpreter is not consulted.
const DefaultThreshold = 0.85

// Generative is the fallback interpreter. It must never fail; faults are
// reported as unrecognized readings.
type Generative interface {
	Available() bool
	Interpret(ctx context.Context, text string) domain.Reading
}

// Option configures an Arbiter.
type Option func(*Arbiter)

// WithGenerative sets the fallback interpreter.
func WithGenerative(g Generative) Option {
	return func(a *Arbiter) {
		a.generative = g
	}
}

// WithMatcher replaces the default pattern rule set.
func WithMatcher(m *pattern.Matcher) Option {
	return func(a *Arbiter) {
		a.matcher = m
	}
}

// WithThreshold sets the initial confidence threshold.
func WithThreshold(t float64) Option {
	return func(a *Arbiter) {
		a.SetThreshold(t)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Arbiter) {
		a.logger = logger
	}
}

// Arbiter picks between the pattern and generative interpretations.
type Arbiter struct {
	matcher    *pattern.Matcher
	generative Generative
	threshold  atomic.Uint64 // float64 bits
	logger     *slog.Logger
}

// New creates an Arbiter using the default pattern rules.
func New(opts ...Option) *Arbiter {
	a := &Arbiter{
		matcher: pattern.Default(),
		logger:  slog.Default(),
	}
	a.threshold.Store(math.Float64bits(DefaultThreshold))
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Threshold returns the current confidence threshold.
func (a *Arbiter) Threshold() float64 {
	return math.Float64frombits(a.threshold.Load())
}

// SetThreshold replaces the threshold. Values outside (0,1] are ignored.
// It is safe to call while messages are being interpreted.
func (a *Arbiter) SetThreshold(t float64) {
	if t <= 0 || t > 1 || math.IsNaN(t) {
		a.logger.Warn("ignoring invalid interpret threshold", slog.Float64("threshold", t))
		return
	}
	a.threshold.Store(math.Float64bits(t))
}

// InterpretMessage returns the best Reading for text. It never fails.
func (a *Arbiter) InterpretMessage(ctx context.Context, text string) domain.Reading {
	ctx, span := telemetry.StartSpan(ctx, "interpret.message")
	defer span.End()

	fromPattern := a.matcher.Match(text)
	threshold := a.Threshold()

	if fromPattern.Confidence >= threshold {
		span.SetAttributes(
			attribute.String("interpret.source", string(domain.InterpreterPattern)),
			attribute.String("interpret.kind", string(fromPattern.Kind)),
		)
		return fromPattern
	}

	if a.generative == nil || !a.generative.Available() {
		span.SetAttributes(attribute.Bool("interpret.generative_available", false))
		return fromPattern
	}

	fromModel := a.generative.Interpret(ctx, text)

	chosen := fromPattern
	if fromModel.Confidence > fromPattern.Confidence {
		chosen = fromModel
	}

	a.logger.Debug("interpretation arbitrated",
		slog.String("pattern_kind", string(fromPattern.Kind)),
		slog.Float64("pattern_confidence", fromPattern.Confidence),
		slog.String("generative_kind", string(fromModel.Kind)),
		slog.Float64("generative_confidence", fromModel.Confidence),
		slog.String("chosen", string(chosen.Interpreter)),
	)
	span.SetAttributes(
		attribute.String("interpret.source", string(chosen.Interpreter)),
		attribute.String("interpret.kind", string(chosen.Kind)),
	)
	return chosen
}
