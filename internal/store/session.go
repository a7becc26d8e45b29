package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/offshore-budgeting/syncore/internal/model"
	"github.com/offshore-budgeting/syncore/internal/query"
)

// MergePolicy decides who wins when MergeChanges meets a modified property.
type MergePolicy int

const (
	// StoreTrump overwrites every property with the stored value.
	StoreTrump MergePolicy = iota
	// InMemoryTrump keeps modified properties and refreshes the rest.
	InMemoryTrump
)

func (p MergePolicy) String() string {
	if p == InMemoryTrump {
		return "in-memory-trump"
	}
	return "store-trump"
}

// Ref identifies a stored row.
type Ref struct {
	Kind model.Kind
	PK   int64
}

// ChangeSet lists the rows a save touched.
type ChangeSet struct {
	Inserted []Ref
	Updated  []Ref
	Deleted  []Ref
}

// Empty reports whether nothing changed.
func (c ChangeSet) Empty() bool {
	return len(c.Inserted) == 0 && len(c.Updated) == 0 && len(c.Deleted) == 0
}

// Len returns the number of touched rows.
func (c ChangeSet) Len() int {
	return len(c.Inserted) + len(c.Updated) + len(c.Deleted)
}

type entryState int

const (
	stateClean entryState = iota
	stateInserted
	stateDeleted
)

type entry struct {
	rec      model.Record
	snapshot []any // field values as last read or saved; nil for inserts
	state    entryState
	order    int64
}

// Session is a unit of work over a Store.
//
// A session is not safe for concurrent use. Objects returned by Fetch are
// owned by the session: mutate them in place and call Save.
type Session struct {
	store   *Store
	policy  MergePolicy
	objects map[Ref]*entry
	temp    int64
	seq     int64
}

func newSession(s *Store, policy MergePolicy) *Session {
	return &Session{
		store:   s,
		policy:  policy,
		objects: make(map[Ref]*entry),
	}
}

// Policy returns the session's merge policy.
func (s *Session) Policy() MergePolicy { return s.policy }

// SetPolicy changes the merge policy for subsequent merges.
func (s *Session) SetPolicy(p MergePolicy) { s.policy = p }

// Fetch returns the records of kind matching p, including unsaved inserts
// and honouring unsaved modifications and deletions.
func (s *Session) Fetch(ctx context.Context, kind model.Kind, p query.Predicate) ([]model.Record, error) {
	proto, err := model.New(kind)
	if err != nil {
		return nil, err
	}
	cols := model.Columns(proto)

	sqlText, params, err := query.Select(kind.Table(), cols, p)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", kind, err)
	}

	rows, err := s.store.db.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", kind, err)
	}
	defer rows.Close()

	for rows.Next() {
		pk, raw, err := scanRaw(rows, len(cols))
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", kind, err)
		}
		ref := Ref{Kind: kind, PK: pk}
		if _, ok := s.objects[ref]; ok {
			continue
		}
		rec, _ := model.New(kind)
		if err := decodeInto(rec, raw); err != nil {
			return nil, fmt.Errorf("fetch %s pk=%d: %w", kind, pk, err)
		}
		rec.Key().PK = pk
		s.objects[ref] = &entry{rec: rec, snapshot: values(rec), order: pk}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", kind, err)
	}

	// Every live object of this kind is a candidate; the in-memory state
	// decides membership so unsaved edits are respected.
	var matched []*entry
	for ref, e := range s.objects {
		if ref.Kind != kind || e.state == stateDeleted {
			continue
		}
		ok, err := query.Match(p, lookup(e.rec))
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", kind, err)
		}
		if ok {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].order < matched[j].order })

	out := make([]model.Record, len(matched))
	for i, e := range matched {
		out[i] = e.rec
	}
	return out, nil
}

// Insert registers a new record. Its PK is set to a temporary negative key
// until Save assigns the stored one.
func (s *Session) Insert(rec model.Record) error {
	if rec.Key().PK != 0 {
		return fmt.Errorf("insert %s: record already has pk %d", rec.Kind(), rec.Key().PK)
	}
	s.temp--
	s.seq++
	rec.Key().PK = s.temp
	s.objects[Ref{Kind: rec.Kind(), PK: s.temp}] = &entry{
		rec:   rec,
		state: stateInserted,
		order: math.MaxInt64/2 + s.seq,
	}
	return nil
}

// Delete marks a record for deletion. Deleting an unsaved insert discards it.
func (s *Session) Delete(rec model.Record) error {
	ref := Ref{Kind: rec.Kind(), PK: rec.Key().PK}
	e, ok := s.objects[ref]
	if !ok || e.rec != rec {
		return fmt.Errorf("delete %s pk=%d: record not registered in this session", rec.Kind(), ref.PK)
	}
	if e.state == stateInserted {
		delete(s.objects, ref)
		rec.Key().PK = 0
		return nil
	}
	e.state = stateDeleted
	return nil
}

// IsDeleted reports whether rec is pending deletion.
func (s *Session) IsDeleted(rec model.Record) bool {
	e, ok := s.objects[Ref{Kind: rec.Kind(), PK: rec.Key().PK}]
	return ok && e.state == stateDeleted
}

// HasChanges reports whether Save would write anything.
func (s *Session) HasChanges() bool {
	for _, e := range s.objects {
		if e.state != stateClean || len(changedColumns(e)) > 0 {
			return true
		}
	}
	return false
}

// Save writes every pending insert, update and delete in one transaction.
// On failure nothing is committed and the session keeps its pending state.
func (s *Session) Save(ctx context.Context) (ChangeSet, error) {
	type pendingInsert struct {
		e  *entry
		pk int64
	}

	var (
		cs       ChangeSet
		inserts  []pendingInsert
		updated  []*entry
		deleted  []*entry
		ordered  = s.ordered()
		anything bool
	)
	for _, e := range ordered {
		if e.state != stateClean || len(changedColumns(e)) > 0 {
			anything = true
			break
		}
	}
	if !anything {
		return cs, nil
	}

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return cs, fmt.Errorf("save: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, e := range ordered {
		kind := e.rec.Kind()
		switch e.state {
		case stateDeleted:
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+kind.Table()+" WHERE pk = ?", e.rec.Key().PK); err != nil {
				return ChangeSet{}, fmt.Errorf("save: delete %s: %w", kind, err)
			}
			deleted = append(deleted, e)

		case stateInserted:
			pk, err := insertRow(ctx, tx, e.rec)
			if err != nil {
				return ChangeSet{}, fmt.Errorf("save: insert %s: %w", kind, err)
			}
			inserts = append(inserts, pendingInsert{e: e, pk: pk})

		default:
			changed := changedColumns(e)
			if len(changed) == 0 {
				continue
			}
			if err := updateRow(ctx, tx, e.rec, changed); err != nil {
				return ChangeSet{}, fmt.Errorf("save: update %s: %w", kind, err)
			}
			updated = append(updated, e)
		}
	}

	if err := tx.Commit(); err != nil {
		return ChangeSet{}, fmt.Errorf("save: commit: %w", err)
	}

	// Committed: only now does the in-memory state move forward.
	for _, e := range deleted {
		ref := Ref{Kind: e.rec.Kind(), PK: e.rec.Key().PK}
		delete(s.objects, ref)
		cs.Deleted = append(cs.Deleted, ref)
	}
	for _, ins := range inserts {
		delete(s.objects, Ref{Kind: ins.e.rec.Kind(), PK: ins.e.rec.Key().PK})
		ins.e.rec.Key().PK = ins.pk
		ins.e.state = stateClean
		ins.e.order = ins.pk
		ins.e.snapshot = values(ins.e.rec)
		ref := Ref{Kind: ins.e.rec.Kind(), PK: ins.pk}
		s.objects[ref] = ins.e
		cs.Inserted = append(cs.Inserted, ref)
	}
	for _, e := range updated {
		e.snapshot = values(e.rec)
		cs.Updated = append(cs.Updated, Ref{Kind: e.rec.Kind(), PK: e.rec.Key().PK})
	}

	return cs, nil
}

// Rollback discards every pending change: inserts are dropped, deletions are
// cancelled and modified properties are restored from their snapshot.
func (s *Session) Rollback() {
	for ref, e := range s.objects {
		switch e.state {
		case stateInserted:
			delete(s.objects, ref)
			e.rec.Key().PK = 0
		case stateDeleted:
			e.state = stateClean
			restore(e.rec, e.snapshot)
		default:
			restore(e.rec, e.snapshot)
		}
	}
}

// Reset forgets every registered object. Objects already handed out become
// detached and must not be saved through this session again.
func (s *Session) Reset() {
	s.objects = make(map[Ref]*entry)
}

// MergeChanges folds rows changed by another session into this one
// according to the session's merge policy.
func (s *Session) MergeChanges(ctx context.Context, cs ChangeSet) error {
	for _, ref := range cs.Deleted {
		if e, ok := s.objects[ref]; ok && e.state != stateInserted {
			delete(s.objects, ref)
		}
	}

	refresh := append(append([]Ref(nil), cs.Updated...), cs.Inserted...)
	for _, ref := range refresh {
		e, ok := s.objects[ref]
		if !ok || e.state == stateInserted {
			continue
		}
		raw, err := s.readRow(ctx, ref)
		if errors.Is(err, sql.ErrNoRows) {
			delete(s.objects, ref)
			continue
		}
		if err != nil {
			return fmt.Errorf("merge %s pk=%d: %w", ref.Kind, ref.PK, err)
		}
		if err := s.mergeEntry(e, raw); err != nil {
			return fmt.Errorf("merge %s pk=%d: %w", ref.Kind, ref.PK, err)
		}
	}
	return nil
}

// mergeEntry applies stored values property by property.
func (s *Session) mergeEntry(e *entry, raw []any) error {
	stored, _ := model.New(e.rec.Kind())
	if err := decodeInto(stored, raw); err != nil {
		return err
	}
	storedVals := values(stored)

	fields := e.rec.Fields()
	for i, f := range fields {
		dirty := !query.Equal(reflect.ValueOf(f.Ptr).Elem().Interface(), e.snapshot[i])
		if !dirty || s.policy == StoreTrump {
			reflect.ValueOf(f.Ptr).Elem().Set(reflect.ValueOf(storedVals[i]))
		}
		e.snapshot[i] = storedVals[i]
	}
	return nil
}

func (s *Session) readRow(ctx context.Context, ref Ref) ([]any, error) {
	proto, err := model.New(ref.Kind)
	if err != nil {
		return nil, err
	}
	cols := model.Columns(proto)
	q := fmt.Sprintf("SELECT pk, %s FROM %s WHERE pk = ?", strings.Join(cols, ", "), ref.Kind.Table())
	row := s.store.db.QueryRowContext(ctx, q, ref.PK)

	dest := make([]any, len(cols)+1)
	raw := make([]any, len(cols)+1)
	for i := range dest {
		dest[i] = &raw[i]
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return raw[1:], nil
}

// ordered returns live entries in deterministic order.
func (s *Session) ordered() []*entry {
	out := make([]*entry, 0, len(s.objects))
	for _, e := range s.objects {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].order != out[j].order {
			return out[i].order < out[j].order
		}
		return out[i].rec.Kind() < out[j].rec.Kind()
	})
	return out
}

func scanRaw(rows *sql.Rows, n int) (int64, []any, error) {
	raw := make([]any, n+1)
	dest := make([]any, n+1)
	for i := range dest {
		dest[i] = &raw[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return 0, nil, err
	}
	pk, ok := raw[0].(int64)
	if !ok {
		return 0, nil, fmt.Errorf("unexpected pk type %T", raw[0])
	}
	return pk, raw[1:], nil
}

func decodeInto(rec model.Record, raw []any) error {
	fields := rec.Fields()
	if len(fields) != len(raw) {
		return fmt.Errorf("column count mismatch: %d fields, %d values", len(fields), len(raw))
	}
	for i, f := range fields {
		if err := query.Decode(f.Ptr, raw[i]); err != nil {
			return fmt.Errorf("column %s: %w", f.Column, err)
		}
	}
	return nil
}

// values copies the current field values of rec.
func values(rec model.Record) []any {
	fields := rec.Fields()
	out := make([]any, len(fields))
	for i, f := range fields {
		out[i] = reflect.ValueOf(f.Ptr).Elem().Interface()
	}
	return out
}

func restore(rec model.Record, snapshot []any) {
	if snapshot == nil {
		return
	}
	for i, f := range rec.Fields() {
		reflect.ValueOf(f.Ptr).Elem().Set(reflect.ValueOf(snapshot[i]))
	}
}

func lookup(rec model.Record) query.Lookup {
	return func(column string) (any, bool) {
		p := model.FieldPtr(rec, column)
		if p == nil {
			return nil, false
		}
		return reflect.ValueOf(p).Elem().Interface(), true
	}
}

func changedColumns(e *entry) []int {
	if e.state != stateClean || e.snapshot == nil {
		return nil
	}
	var changed []int
	for i, f := range e.rec.Fields() {
		if !query.Equal(reflect.ValueOf(f.Ptr).Elem().Interface(), e.snapshot[i]) {
			changed = append(changed, i)
		}
	}
	return changed
}

func insertRow(ctx context.Context, tx *sql.Tx, rec model.Record) (int64, error) {
	fields := rec.Fields()
	cols := make([]string, len(fields))
	marks := make([]string, len(fields))
	args := make([]any, len(fields))
	for i, f := range fields {
		v, err := query.Encode(reflect.ValueOf(f.Ptr).Elem().Interface())
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", f.Column, err)
		}
		cols[i], marks[i], args[i] = f.Column, "?", v
	}

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		rec.Kind().Table(), strings.Join(cols, ", "), strings.Join(marks, ", "))
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func updateRow(ctx context.Context, tx *sql.Tx, rec model.Record, changed []int) error {
	fields := rec.Fields()
	sets := make([]string, 0, len(changed))
	args := make([]any, 0, len(changed)+1)
	for _, i := range changed {
		v, err := query.Encode(reflect.ValueOf(fields[i].Ptr).Elem().Interface())
		if err != nil {
			return fmt.Errorf("column %s: %w", fields[i].Column, err)
		}
		sets = append(sets, fields[i].Column+" = ?")
		args = append(args, v)
	}
	args = append(args, rec.Key().PK)

	q := fmt.Sprintf("UPDATE %s SET %s WHERE pk = ?", rec.Kind().Table(), strings.Join(sets, ", "))
	_, err := tx.ExecContext(ctx, q, args...)
	return err
}
