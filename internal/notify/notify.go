// Package notify delivers operator alerts.
package notify

import "context"

// Notifier sends a plain text alert. Implementations must not block the
// caller on network I/O for longer than ctx allows.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Nop drops every alert.
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }

// Func adapts a function to Notifier.
type Func func(ctx context.Context, text string) error

func (f Func) Notify(ctx context.Context, text string) error { return f(ctx, text) }
