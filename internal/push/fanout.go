package push

import (
	"context"
	"errors"
)

// Dispatcher delivers and withdraws call notifications.
type Dispatcher interface {
	Notify(ctx context.Context, n Notification) error
	Cancel(ctx context.Context, n Notification) error
}

// Fanout hands every notification to all of its dispatchers. One failing
// dispatcher does not stop the others.
type Fanout []Dispatcher

// Notify calls Notify on every dispatcher and joins their errors.
func (f Fanout) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, d := range f {
		if err := d.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Cancel calls Cancel on every dispatcher and joins their errors.
func (f Fanout) Cancel(ctx context.Context, n Notification) error {
	var errs []error
	for _, d := range f {
		if err := d.Cancel(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
