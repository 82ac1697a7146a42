// Package generative interprets health messages with a language model. It
// is the fallback for text the pattern matcher cannot classify with
// confidence, and it never fails: every fault becomes an unrecognized
// reading with a note naming the fault.
package generative

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tjfontaine/carelog/internal/domain"
	"github.com/tjfontaine/carelog/internal/telemetry"
	"github.com/tjfontaine/carelog/internal/tokens"
)

const (
	DefaultTimeout         = 8 * time.Second
	DefaultMaxInputTokens  = 512
	DefaultMaxOutputTokens = 300
)

// Fault notes attached to unrecognized readings.
const (
	NoteUnavailable = "generative interpreter not configured"
	NoteTooLong     = "message exceeds input token budget"
	NoteTimeout     = "generative call timed out"
	NoteCancelled   = "generative call cancelled"
	NoteUpstream    = "generative backend unavailable"
	NoteMalformed   = "generative reply malformed"
	NoteOutOfRange  = "generative reply out of range"
)

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithTimeout bounds each call. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(i *Interpreter) {
		if d > 0 {
			i.timeout = d
		}
	}
}

// WithMaxInputTokens caps the size of messages sent to the backend.
// Zero disables the cap.
func WithMaxInputTokens(n int) Option {
	return func(i *Interpreter) {
		i.maxInputTokens = n
	}
}

// WithTokenCounter sets the counter used for the input budget.
func WithTokenCounter(c tokens.Counter) Option {
	return func(i *Interpreter) {
		i.counter = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Interpreter) {
		i.logger = logger
	}
}

// Interpreter turns free text into a Reading through a Backend.
type Interpreter struct {
	backend        Backend
	timeout        time.Duration
	maxInputTokens int
	counter        tokens.Counter
	logger         *slog.Logger
}

// New creates an Interpreter. A nil backend yields an interpreter that
// reports itself unavailable.
func New(backend Backend, opts ...Option) *Interpreter {
	i := &Interpreter{
		backend:        backend,
		timeout:        DefaultTimeout,
		maxInputTokens: DefaultMaxInputTokens,
		counter:        tokens.NewEstimator(),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Available reports whether a backend is configured.
func (i *Interpreter) Available() bool {
	return i != nil && i.backend != nil
}

// Interpret classifies text. The result always carries the original text
// and InterpreterGenerative.
func (i *Interpreter) Interpret(ctx context.Context, text string) domain.Reading {
	if !i.Available() {
		return domain.Unrecognized(text, domain.InterpreterGenerative, NoteUnavailable)
	}

	ctx, span := telemetry.StartSpan(ctx, "generative.interpret",
		attribute.String("generative.backend", i.backend.Name()))

	reading, err := i.interpret(ctx, text)
	telemetry.EndSpan(span, err)
	if err != nil {
		note := faultNote(err)
		i.logger.Warn("generative interpretation failed",
			slog.String("backend", i.backend.Name()),
			slog.String("fault", note),
			slog.String("error", err.Error()),
		)
		return domain.Unrecognized(text, domain.InterpreterGenerative, note)
	}

	reading.SourceText = text
	reading.Interpreter = domain.InterpreterGenerative
	i.logger.Debug("generative interpretation",
		slog.String("backend", i.backend.Name()),
		slog.String("kind", string(reading.Kind)),
		slog.Float64("confidence", reading.Confidence),
	)
	return reading
}

func (i *Interpreter) interpret(ctx context.Context, text string) (domain.Reading, error) {
	if i.maxInputTokens > 0 && i.counter != nil {
		n, err := i.counter.Count(text)
		if err == nil && n > i.maxInputTokens {
			return domain.Reading{}, &budgetError{tokens: n, limit: i.maxInputTokens}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	raw, err := i.backend.Complete(ctx, systemPrompt, text)
	if err != nil {
		// The client may wrap the context error in its own type.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Reading{}, ctxErr
		}
		return domain.Reading{}, err
	}
	return parseReply(raw)
}

type budgetError struct {
	tokens, limit int
}

func (e *budgetError) Error() string {
	return fmt.Sprintf("input of %d tokens exceeds budget of %d", e.tokens, e.limit)
}

func faultNote(err error) string {
	var be *budgetError
	switch {
	case errors.As(err, &be):
		return NoteTooLong
	case errors.Is(err, context.DeadlineExceeded):
		return NoteTimeout
	case errors.Is(err, context.Canceled):
		return NoteCancelled
	case errors.Is(err, errMalformed), errors.Is(err, errEmptyReply):
		return NoteMalformed
	case errors.Is(err, errOutOfRange):
		return NoteOutOfRange
	default:
		return NoteUpstream
	}
}
