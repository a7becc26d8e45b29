// Package probe answers readiness questions about the remote mirror and the
// local store: is the remote account usable, does the remote hold data, has
// any data surfaced locally yet.
//
// Every probe is bounded by a context or timeout and answers false when it
// cannot decide in time. Callers treat false as "stay local".
package probe

import (
	"context"
	"time"
)

// RemoteAvailability reports whether the remote account can be used.
type RemoteAvailability interface {
	// Resolve returns the availability, re-querying the remote when
	// forceRefresh is set instead of using a cached answer.
	Resolve(ctx context.Context, forceRefresh bool) bool
}

// RemoteDataProbe reports whether the remote mirror already holds records.
type RemoteDataProbe interface {
	HasAnyRemoteData(ctx context.Context, timeout time.Duration) bool
}

// LocalDataProbe reports whether records have appeared in the local store,
// polling until timeout.
type LocalDataProbe interface {
	ScanForExistingData(ctx context.Context, timeout, pollInterval time.Duration) bool
}

// AvailabilityFunc adapts a function to RemoteAvailability.
type AvailabilityFunc func(ctx context.Context, forceRefresh bool) bool

func (f AvailabilityFunc) Resolve(ctx context.Context, forceRefresh bool) bool {
	return f(ctx, forceRefresh)
}

// Static answers every question with fixed values. Useful offline and in
// tests.
type Static struct {
	Available bool
	HasData   bool
}

func (s Static) Resolve(context.Context, bool) bool { return s.Available }

func (s Static) HasAnyRemoteData(context.Context, time.Duration) bool { return s.HasData }

func (s Static) ScanForExistingData(context.Context, time.Duration, time.Duration) bool {
	return s.HasData
}

// bounded runs fn on its own goroutine and returns its answer, or false when
// ctx ends first. fn must not block forever; its result is discarded late.
func bounded(ctx context.Context, timeout time.Duration, fn func() bool) bool {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan bool, 1)
	go func() { done <- fn() }()

	select {
	case ok := <-done:
		return ok
	case <-ctx.Done():
		return false
	}
}
