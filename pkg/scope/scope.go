// Package scope provides a cooperative timeout primitive that bounds an
// arbitrary async region: it cooperates with external cancellation and
// preserves the inner code's own exception semantics, converting only its
// own timer firing into a *Timeout failure.
//
// This is deliberately not how the HTTP phase timeouts in pkg/pool and
// pkg/protocol are implemented; those surface as *Connection*/*Data* kinds
// (see pkg/errors) rather than *Timeout*. Run is the standalone, exported
// primitive for bounding arbitrary caller code, packaged as a reusable
// scoped construct with the kind-rewriting rules spelled out once.
package scope

import (
	"context"
	"time"

	"github.com/flowtap/rawhttp/pkg/errors"
)

// Run executes fn in a goroutine bounded by duration d, racing a one-shot
// timer against fn's completion and ctx's own cancellation.
//
//   - If fn returns before the timer fires, its error (if any) is re-raised
//     unchanged.
//   - If the timer fires first, the region is cancelled (via a context
//     derived from ctx); once fn observes that cancellation and returns,
//     the result is rewritten to a *Timeout error. If fn instead swallows
//     the cancellation and returns nil, Run returns nil.
//   - If ctx is cancelled externally before the timer fires, the region is
//     cancelled the same way but the result is rewritten to *Cancelled,
//     never *Timeout.
//
// Run is reentrant and composable: nested calls each own their own timer
// and carry no state beyond it.
func Run(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	inner, cancel := context.WithCancel(ctx)
	defer cancel()

	timer := time.NewTimer(d)
	defer timer.Stop()

	done := make(chan error, 1)
	go func() {
		done <- fn(inner)
	}()

	select {
	case err := <-done:
		return err

	case <-timer.C:
		cancel()
		err := <-done
		if err == nil {
			return nil
		}
		// Inner code may report the cancellation as Cancelled directly, or
		// as a timed-out I/O error if the cancel unblocked a read or write
		// by pulling its deadline. Both are this scope's own doing.
		if errors.IsCancelled(err) || errors.IsTimeoutError(err) {
			return errors.NewTimeoutError("scope", d)
		}
		return err

	case <-ctx.Done():
		cancel()
		<-done
		return errors.NewCancelledError("scope", ctx.Err())
	}
}
