// Package service implements onboarding, evidence capture and case linking on
// top of repository interfaces it defines itself.
package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zainulabideen041/storink/internal/metrics"
)

const tracerName = "github.com/zainulabideen041/storink/internal/service"

// DefaultCodeTTL is how long a one-time code stays valid.
const DefaultCodeTTL = 10 * time.Minute

// common holds the collaborators every service shares.
type common struct {
	log     *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
	newCode func() (string, error)
	codeTTL time.Duration
}

// Option configures a service.
type Option func(*common)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(c *common) { c.log = log }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *common) { c.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *common) { c.now = now }
}

// WithCodeGenerator overrides the one-time code source.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(c *common) { c.newCode = gen }
}

// WithCodeTTL overrides DefaultCodeTTL.
func WithCodeTTL(ttl time.Duration) Option {
	return func(c *common) { c.codeTTL = ttl }
}

func newCommon(name string, opts []Option) common {
	c := common{
		log:     zap.NewNop(),
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
		newCode: GenerateCode,
		codeTTL: DefaultCodeTTL,
	}
	for _, opt := range opts {
		opt(&c)
	}
	c.log = c.log.Named(name)
	return c
}

func (c *common) start(ctx context.Context, name string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name)
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

var codeSpace = big.NewInt(1_000_000)

// GenerateCode returns a uniformly random 6-digit code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
