package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/offshore-budgeting/syncore/internal/model"
	"github.com/offshore-budgeting/syncore/internal/query"
)

// Fetch returns typed records matching p.
//
//	budgets, err := store.Fetch[*model.Budget](ctx, sess, pred)
func Fetch[T model.Record](ctx context.Context, s *Session, p query.Predicate) ([]T, error) {
	var zero T
	recs, err := s.Fetch(ctx, zero.Kind(), p)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(recs))
	for _, r := range recs {
		t, ok := r.(T)
		if !ok {
			return nil, fmt.Errorf("fetch: %T is not %T", r, zero)
		}
		out = append(out, t)
	}
	return out, nil
}

// First returns the first record matching p in pk order.
func First[T model.Record](ctx context.Context, s *Session, p query.Predicate) (T, bool, error) {
	var zero T
	all, err := Fetch[T](ctx, s, p)
	if err != nil || len(all) == 0 {
		return zero, false, err
	}
	return all[0], true, nil
}

// ByID returns the first record with the given logical id, further
// restricted by scope (which may be nil).
func ByID[T model.Record](ctx context.Context, s *Session, id uuid.UUID, scope query.Predicate) (T, bool, error) {
	var zero T
	if id == uuid.Nil {
		return zero, false, nil
	}
	return First[T](ctx, s, query.All(query.Equals{Field: model.ColID, Value: id}, scope))
}

type sessionKey struct{}

// WithSession returns a context carrying s. Code running inside a session's
// execution context uses it to avoid re-entering the context.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session carried by ctx, if any.
func SessionFrom(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok && s != nil
}
