// Package notify delivers rendered alerts to outbound channels.
package notify

import (
	"context"

	"go.uber.org/multierr"
)

type Notifier interface {
	Send(ctx context.Context, title, text string) error
}

// Multi fans a message out to every sink. Nil entries are skipped and every
// sink is attempted even when an earlier one fails.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, title, text string) error {
	var errs error
	for _, n := range m {
		if n == nil {
			continue
		}
		errs = multierr.Append(errs, n.Send(ctx, title, text))
	}
	return errs
}

// Compact drops nil sinks and returns nil when none remain, so callers can
// test "is anything configured" with a nil check.
func Compact(ns ...Notifier) Notifier {
	var out Multi
	for _, n := range ns {
		if n == nil {
			continue
		}
		if w, ok := n.(*Webhook); ok && w == nil {
			continue
		}
		out = append(out, n)
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}
