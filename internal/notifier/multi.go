package notifier

import (
	"context"
	"errors"
)

// Multi fans a notification out to every notifier. All of them are tried
// even when one fails.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, content string) error {
	var errs []error

	for _, n := range m {
		if err := n.Notify(ctx, content); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
