// SPDX-License-Identifier: MIT
package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCheck(t *testing.T) {
	boom := errors.New("prompt crashed")
	tests := []struct {
		name string
		auth Authorizer
		ok   bool
	}{
		{"nil grants", nil, true},
		{"granted", Granted, true},
		{"denied", Denied, false},
		{"static true", Static(true), true},
		{"static false", Static(false), false},
		{"error", AuthorizerFunc(func(context.Context) (bool, error) { return true, boom }), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(context.Background(), tt.auth, time.Second)
			if tt.ok && err != nil {
				t.Errorf("Check() = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, ErrNotAuthorized) {
				t.Errorf("Check() = %v, want ErrNotAuthorized", err)
			}
		})
	}
}

func TestCheckWrapsCause(t *testing.T) {
	boom := errors.New("prompt crashed")
	err := Check(context.Background(), AuthorizerFunc(func(context.Context) (bool, error) { return false, boom }), 0)
	if !errors.Is(err, boom) {
		t.Errorf("Check() = %v, want the authorizer's error wrapped", err)
	}
}

func TestCheckTimeout(t *testing.T) {
	// Never answers and ignores its context.
	block := make(chan struct{})
	defer close(block)
	hang := AuthorizerFunc(func(context.Context) (bool, error) {
		<-block
		return true, nil
	})

	start := time.Now()
	err := Check(context.Background(), hang, 20*time.Millisecond)
	if !errors.Is(err, ErrNotAuthorized) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Check() = %v, want ErrNotAuthorized after the deadline", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Check() took %s, should fail fast", elapsed)
	}
}

func TestCheckCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	wait := AuthorizerFunc(func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	})
	if err := Check(ctx, wait, time.Second); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("Check() = %v, want ErrNotAuthorized", err)
	}
}
