package probe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/supabase-community/supabase-go"
)

// DefaultProbeTable is the remote table inspected by the Supabase probes.
const DefaultProbeTable = "planned_expenses"

// Supabase probes a Supabase project acting as the remote mirror.
//
// Availability means a minimal authenticated select succeeds. Remote data
// means that select reports at least one row.
type Supabase struct {
	client  *supabase.Client
	table   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewSupabase connects a probe to the project at url with the given key.
// table defaults to DefaultProbeTable.
func NewSupabase(url, key, table string, timeout time.Duration, logger *slog.Logger) (*Supabase, error) {
	client, err := supabase.NewClient(url, key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	if table == "" {
		table = DefaultProbeTable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supabase{client: client, table: table, timeout: timeout, logger: logger}, nil
}

// Resolve implements RemoteAvailability. The client keeps no cache, so
// forceRefresh has no extra effect; wrap in Cached to memoize.
func (s *Supabase) Resolve(ctx context.Context, forceRefresh bool) bool {
	return bounded(ctx, s.timeout, func() bool {
		_, err := s.countRows()
		if err != nil {
			s.logger.Info("remote unavailable", "table", s.table, "error", err)
			return false
		}
		return true
	})
}

// HasAnyRemoteData implements RemoteDataProbe.
func (s *Supabase) HasAnyRemoteData(ctx context.Context, timeout time.Duration) bool {
	return bounded(ctx, timeout, func() bool {
		n, err := s.countRows()
		if err != nil {
			s.logger.Info("remote data probe failed", "table", s.table, "error", err)
			return false
		}
		return n > 0
	})
}

func (s *Supabase) countRows() (int64, error) {
	_, count, err := s.client.From(s.table).
		Select("id", "exact", false).
		Limit(1, "").
		Execute()
	if err != nil {
		return 0, err
	}
	return count, nil
}
