// SPDX-License-Identifier: MIT
/*
Package session models the host's permission to use the microphone.

The engine asks an Authorizer before it configures or opens a device. The
answer is a plain yes/no; negotiating the permission itself belongs to the
host application.
*/
package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotAuthorized is returned when capture permission is refused or the
// authorizer did not answer in time.
var ErrNotAuthorized = errors.New("capture not authorized")

// Authorizer reports whether audio capture is permitted.
type Authorizer interface {
	Authorize(ctx context.Context) (bool, error)
}

// AuthorizerFunc adapts a function to an Authorizer.
type AuthorizerFunc func(ctx context.Context) (bool, error)

func (f AuthorizerFunc) Authorize(ctx context.Context) (bool, error) {
	return f(ctx)
}

var (
	// Granted always permits capture.
	Granted Authorizer = AuthorizerFunc(func(context.Context) (bool, error) { return true, nil })
	// Denied always refuses capture.
	Denied Authorizer = AuthorizerFunc(func(context.Context) (bool, error) { return false, nil })
)

// Static returns Granted or Denied.
func Static(authorized bool) Authorizer {
	if authorized {
		return Granted
	}
	return Denied
}

// Check asks a for permission, giving up after timeout. A nil authorizer
// grants. Every refusal, error or timeout is reported as ErrNotAuthorized.
func Check(ctx context.Context, a Authorizer, timeout time.Duration) error {
	if a == nil {
		return nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type answer struct {
		ok  bool
		err error
	}
	// Buffered so an authorizer that ignores ctx cannot leak the goroutine
	// past its own return.
	done := make(chan answer, 1)
	go func() {
		ok, err := a.Authorize(ctx)
		done <- answer{ok, err}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: no answer: %w", ErrNotAuthorized, ctx.Err())
	case ans := <-done:
		switch {
		case ans.err != nil:
			return fmt.Errorf("%w: %w", ErrNotAuthorized, ans.err)
		case !ans.ok:
			return fmt.Errorf("%w: permission denied", ErrNotAuthorized)
		default:
			return nil
		}
	}
}
