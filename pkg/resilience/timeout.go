// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"time"

	"helmsman/pkg/errors"
)

// WithTimeout executes fn with a timeout boundary. Returns
// errors.CodeTimeout if the deadline is exceeded. A zero duration means no
// bound. This is what limits a single hung call; the session budget check
// is cooperative and cannot interrupt one.
func WithTimeout(ctx context.Context, d time.Duration, fn func() error) error {
	if d == 0 {
		return fn()
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case <-ctx.Done():
		return errors.New(errors.CodeTimeout, "operation exceeded timeout", ctx.Err()).
			WithContext("timeout", d.String())
	case err := <-done:
		return err
	}
}
