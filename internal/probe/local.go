package probe

import (
	"context"
	"log/slog"
	"time"
)

// RecordCounter counts records in the currently attached store.
type RecordCounter interface {
	CountRecords(ctx context.Context) (int, error)
}

// Local polls a RecordCounter for any data, e.g. after enabling mirroring
// while the first remote import is still running.
type Local struct {
	Counter RecordCounter
	Logger  *slog.Logger
}

// HasAnyData checks once.
func (l Local) HasAnyData(ctx context.Context) bool {
	n, err := l.Counter.CountRecords(ctx)
	if err != nil {
		l.logger().Debug("local data probe failed", "error", err)
		return false
	}
	return n > 0
}

// ScanForExistingData implements LocalDataProbe: it checks immediately, then
// every pollInterval until data appears or timeout elapses.
func (l Local) ScanForExistingData(ctx context.Context, timeout, pollInterval time.Duration) bool {
	if pollInterval <= 0 {
		pollInterval = 300 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if l.HasAnyData(ctx) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (l Local) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}
