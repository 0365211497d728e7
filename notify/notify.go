// Package notify is the notification fan-out boundary. The core only emits attack and opportunity
// records through a Dispatcher; whether a Notifier delivers, retries or drops is its own business.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/metachris/mevguard/common"
	"github.com/metachris/mevguard/metrics"
	"github.com/pkg/errors"
)

// DefaultTimeout bounds a single notifier call started by the Dispatcher
const DefaultTimeout = 10 * time.Second

type Notifier interface {
	NotifyAttack(ctx context.Context, record *common.AttackRecord) error
	NotifyOpportunity(ctx context.Context, record *common.OpportunityRecord) error
}

// Multi fans out to every notifier and returns the first error after trying all of them
type Multi []Notifier

func (m Multi) NotifyAttack(ctx context.Context, record *common.AttackRecord) error {
	var firstErr error
	for _, n := range m {
		if err := n.NotifyAttack(ctx, record); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m Multi) NotifyOpportunity(ctx context.Context, record *common.OpportunityRecord) error {
	var firstErr error
	for _, n := range m {
		if err := n.NotifyOpportunity(ctx, record); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Dispatcher calls a Notifier fire-and-forget: every call runs in its own goroutine with a timeout,
// panics are recovered, and failures are only logged and counted.
type Dispatcher struct {
	notifier Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	timeout  time.Duration
}

// NewDispatcher returns a dispatcher for n. A nil notifier makes every call a no-op.
func NewDispatcher(n Notifier, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{notifier: n, logger: logger, metrics: m, timeout: DefaultTimeout}
}

func (d *Dispatcher) Attack(record *common.AttackRecord) {
	if d == nil || d.notifier == nil || record == nil {
		return
	}
	d.dispatch("attack", func(ctx context.Context) error {
		return d.notifier.NotifyAttack(ctx, record)
	})
}

func (d *Dispatcher) Opportunity(record *common.OpportunityRecord) {
	if d == nil || d.notifier == nil || record == nil {
		return
	}
	d.dispatch("opportunity", func(ctx context.Context) error {
		return d.notifier.NotifyOpportunity(ctx, record)
	})
}

func (d *Dispatcher) dispatch(kind string, fn func(ctx context.Context) error) {
	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = errors.New(fmt.Sprint("notifier panic: ", r))
			}
			d.metrics.RecordNotification(kind, err)
			if err != nil && d.logger != nil {
				d.logger.Warn("notification failed", "kind", kind, "error", err)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		err = fn(ctx)
	}()
}
