package store

import (
	"context"
	"fmt"
)

// RemoteChanges delivers change sets imported from the remote mirror.
// Returns nil when remote change notifications are disabled. The channel
// is closed when the store is closed.
func (s *Store) RemoteChanges() <-chan ChangeSet {
	return s.remote
}

// ImportRemote applies a remotely originated batch of changes through a
// fresh background session and, when notifications are enabled, announces
// the saved change set on RemoteChanges.
func (s *Store) ImportRemote(ctx context.Context, apply func(ctx context.Context, sess *Session) error) (ChangeSet, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ChangeSet{}, ErrClosed
	}

	sess := s.NewSession(StoreTrump)
	if err := apply(ctx, sess); err != nil {
		return ChangeSet{}, fmt.Errorf("import remote: %w", err)
	}
	cs, err := sess.Save(ctx)
	if err != nil {
		return ChangeSet{}, fmt.Errorf("import remote: %w", err)
	}
	if cs.Empty() {
		return cs, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remote == nil || s.closed {
		return cs, nil
	}
	select {
	case s.remote <- cs:
	default:
		s.logger.Warn("remote change notification dropped", "rows", cs.Len())
	}
	return cs, nil
}
