package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. It backs tests and single-node
// development; every client sharing the process shares its tables.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string][]Record
	fan    *fanout
	closed bool
	now    func() time.Time
}

// NewMemoryStore returns an empty store with the four game tables.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: map[string][]Record{
			TableRooms:    {},
			TablePlayers:  {},
			TableVotes:    {},
			TableDrawings: {},
		},
		fan: newFanout(),
		now: time.Now,
	}
}

func (s *MemoryStore) table(name string) ([]Record, error) {
	if s.closed {
		return nil, ErrClosed
	}
	rows, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	return rows, nil
}

// Insert implements Store.
func (s *MemoryStore) Insert(ctx context.Context, table string, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	rows, err := s.table(table)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	row := rec.Clone()
	if row == nil {
		row = Record{}
	}
	if id, _ := row["id"].(string); id == "" {
		row["id"] = uuid.NewString()
	}
	if _, ok := row["created_at"]; !ok {
		row["created_at"] = s.now()
	}
	for _, existing := range rows {
		if existing["id"] == row["id"] {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: %s.id %v", ErrConflict, table, row["id"])
		}
		if table == TableVotes && existing["room_id"] == row["room_id"] && existing["voter_id"] == row["voter_id"] {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: votes(room_id, voter_id)", ErrConflict)
		}
	}
	s.tables[table] = append(rows, row)
	out := row.Clone()
	s.mu.Unlock()

	s.fan.dispatch(Event{Table: table, Op: OpInsert, Record: withoutBlobs(out)})
	return out, nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, table, id string, partial Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	rows, err := s.table(table)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	i := slices.IndexFunc(rows, func(r Record) bool { return r["id"] == id })
	if i < 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
	}
	row := rows[i].Clone()
	for k, v := range partial {
		if k == "id" {
			continue
		}
		row[k] = v
	}
	if table == TableRooms {
		row["updated_at"] = s.now()
	}
	rows[i] = row
	out := row.Clone()
	s.mu.Unlock()

	s.fan.dispatch(Event{Table: table, Op: OpUpdate, Record: withoutBlobs(out)})
	return out, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, table string, f Filter) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	rows, err := s.table(table)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	var removed []Record
	kept := rows[:0:0]
	for _, r := range rows {
		if f.Matches(r) {
			removed = append(removed, r.Clone())
			continue
		}
		kept = append(kept, r)
	}
	s.tables[table] = kept
	s.mu.Unlock()

	for _, r := range removed {
		s.fan.dispatch(Event{Table: table, Op: OpDelete, Record: withoutBlobs(r)})
	}
	return removed, nil
}

// Query implements Store.
func (s *MemoryStore) Query(ctx context.Context, table string, f Filter) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.table(table)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		if f.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

// Subscribe implements Store.
func (s *MemoryStore) Subscribe(ctx context.Context, table string, f Filter, fn func(Event)) (Subscription, error) {
	s.mu.RLock()
	_, err := s.table(table)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	sub := s.fan.add(table, f.clone(), fn)
	context.AfterFunc(ctx, sub.Close)
	return sub, nil
}

// Close implements Store. Further calls fail with ErrClosed.
func (s *MemoryStore) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.fan.closeAll()
}

func (f Filter) clone() Filter {
	out := make(Filter, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
