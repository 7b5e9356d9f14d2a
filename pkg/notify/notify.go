// Package notify sends best-effort email notifications. Callers hand
// messages to a Dispatcher, which delivers them on detached goroutines;
// delivery failures are logged and never reach the caller.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"idsimplify/pkg/metrics"
)

// ErrNotConfigured is returned by a notifier missing required settings.
var ErrNotConfigured = errors.New("notifier: not configured")

// Message is one email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Content string `json:"content"`
}

// Notifier delivers a message.
type Notifier interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Log writes messages to the logger instead of sending them.
type Log struct {
	log *zap.SugaredLogger
}

func NewLog(log *zap.SugaredLogger) *Log { return &Log{log: log} }

func (l *Log) Name() string { return "log" }

func (l *Log) Send(_ context.Context, msg Message) error {
	l.log.Infow("notification", "to", msg.To, "subject", msg.Subject)
	return nil
}

// Dispatcher runs each delivery on its own goroutine with a fresh context,
// so a delivery outlives the request that triggered it.
type Dispatcher struct {
	n       Notifier
	timeout time.Duration
	log     *zap.SugaredLogger
	wg      sync.WaitGroup
}

func NewDispatcher(n Notifier, timeout time.Duration, log *zap.SugaredLogger) *Dispatcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Dispatcher{n: n, timeout: timeout, log: log}
}

// DispatchFunc runs build and delivers its message on a detached goroutine.
// build shares the delivery timeout, so it may do lookups of its own. A
// message without a recipient is dropped.
func (d *Dispatcher) DispatchFunc(build func(ctx context.Context) (Message, error)) {
	if d == nil || d.n == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.log.Errorw("notifier panic", "notifier", d.n.Name(), "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		msg, err := build(ctx)
		if err != nil {
			metrics.Notifications.WithLabelValues(d.n.Name(), metrics.OutcomeError).Inc()
			d.log.Warnw("notification not built", "notifier", d.n.Name(), "err", err)
			return
		}
		if msg.To == "" {
			return
		}
		if err := d.n.Send(ctx, msg); err != nil {
			metrics.Notifications.WithLabelValues(d.n.Name(), metrics.OutcomeError).Inc()
			d.log.Warnw("notification send failed", "notifier", d.n.Name(), "subject", msg.Subject, "err", err)
			return
		}
		metrics.Notifications.WithLabelValues(d.n.Name(), metrics.OutcomeOK).Inc()
		d.log.Debugw("notification sent", "notifier", d.n.Name(), "subject", msg.Subject)
	}()
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
