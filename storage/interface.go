package storage

import (
	"context"
	"errors"
	"fmt"
	"maps"
)

// Table names.
const (
	TableRooms    = "game_rooms"
	TablePlayers  = "players"
	TableVotes    = "votes"
	TableDrawings = "drawings"
)

// Store errors. Backends translate their own failures into these where one
// applies and return everything else wrapped.
var (
	ErrNotFound     = errors.New("record not found")
	ErrConflict     = errors.New("unique constraint violated")
	ErrUnknownTable = errors.New("unknown table")
	ErrUnknownField = errors.New("unknown field")
	ErrClosed       = errors.New("store closed")
)

// Record is a schema-less row: column name -> value. Callers must not assume
// concrete numeric types; depending on the backend and the notification path
// an integer column can come back as int, int32, int64 or float64.
type Record map[string]any

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	return maps.Clone(r)
}

// Filter selects records whose columns equal every given value.
type Filter map[string]any

// Matches reports whether rec satisfies f.
func (f Filter) Matches(rec Record) bool {
	for k, want := range f {
		got, ok := rec[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// Op is the kind of change carried by an Event.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Event is a change notification. Record holds the row after the change
// (before it, for deletes), minus blob columns.
type Event struct {
	Table  string `json:"table"`
	Op     Op     `json:"op"`
	Record Record `json:"record"`
}

// Subscription is a standing change subscription.
type Subscription interface {
	// Close stops delivery. It is safe to call more than once.
	Close()
}

// Store is the shared persistence and change-notification substrate every
// client of a room reads from and writes to.
type Store interface {
	// Insert stores rec and returns it as persisted; an "id" is generated
	// when rec has none.
	Insert(ctx context.Context, table string, rec Record) (Record, error)
	// Update merges partial into the record with the given id.
	Update(ctx context.Context, table, id string, partial Record) (Record, error)
	// Delete removes every record matching f and returns what was removed.
	Delete(ctx context.Context, table string, f Filter) ([]Record, error)
	// Query returns the records matching f in insertion order.
	Query(ctx context.Context, table string, f Filter) ([]Record, error)
	// Subscribe calls fn for every insert, update or delete on table whose
	// record matches f. fn runs on a goroutine owned by the subscription.
	Subscribe(ctx context.Context, table string, f Filter, fn func(Event)) (Subscription, error)
	// Close releases the store's resources.
	Close()
}

// blobColumns are left out of change notifications to keep payloads small.
var blobColumns = map[string]bool{"drawing_data": true}

func withoutBlobs(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		if !blobColumns[k] {
			out[k] = v
		}
	}
	return out
}

// Ensure both backends implement Store at compile time.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
