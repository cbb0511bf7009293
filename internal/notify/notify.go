// Package notify delivers one-time codes to users.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Purpose says what a one-time code is for.
type Purpose string

const (
	// PurposeVerify carries the registration email-verification code.
	PurposeVerify Purpose = "verify"
	// PurposeReset carries a password-reset code.
	PurposeReset Purpose = "reset"
)

// Message is one outbound notification.
type Message struct {
	Recipient string  `json:"recipient"`
	Purpose   Purpose `json:"purpose"`
	Code      string  `json:"code"`
}

// Notifier sends a message synchronously.
type Notifier interface {
	Send(ctx context.Context, m Message) error
}

// LogNotifier writes messages to the log instead of delivering them.
// It is meant for development setups without a mail pipeline.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Send logs m at info level.
func (n *LogNotifier) Send(_ context.Context, m Message) error {
	n.log.Info("notification",
		zap.String("recipient", m.Recipient),
		zap.String("purpose", string(m.Purpose)),
		zap.String("code", m.Code),
	)
	return nil
}

// maxInFlight bounds concurrent sends of one Dispatcher.
const maxInFlight = 32

// Dispatcher sends messages in the background. Failures are logged and
// reported to the failure hook, never returned to the caller.
type Dispatcher struct {
	notifier  Notifier
	log       *zap.Logger
	timeout   time.Duration
	base      context.Context
	onFailure func(Message, error)
	group     errgroup.Group
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithFailureHook registers fn to be called after every failed send.
func WithFailureHook(fn func(Message, error)) DispatcherOption {
	return func(d *Dispatcher) { d.onFailure = fn }
}

// NewDispatcher creates a Dispatcher. Sends run under base, each bounded by timeout.
func NewDispatcher(base context.Context, n Notifier, log *zap.Logger, timeout time.Duration, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		notifier:  n,
		log:       log,
		timeout:   timeout,
		base:      base,
		onFailure: func(Message, error) {},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.group.SetLimit(maxInFlight)
	return d
}

// Dispatch queues m for delivery and returns immediately unless maxInFlight
// sends are already running.
func (d *Dispatcher) Dispatch(m Message) {
	d.group.Go(func() error {
		ctx, cancel := context.WithTimeout(d.base, d.timeout)
		defer cancel()

		if err := d.notifier.Send(ctx, m); err != nil {
			d.log.Warn("notification dispatch failed",
				zap.String("recipient", m.Recipient),
				zap.String("purpose", string(m.Purpose)),
				zap.Error(err),
			)
			d.onFailure(m, err)
		}
		return nil
	})
}

// Wait blocks until every queued message has been attempted.
func (d *Dispatcher) Wait() {
	_ = d.group.Wait()
}
