package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"impostor-draw-server/storage"
)

func waitEvent(t *testing.T, ch <-chan storage.Event) storage.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return storage.Event{}
	}
}

func TestMemoryStore_InsertQueryUpdate(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	defer s.Close()

	room, err := s.Insert(ctx, storage.TableRooms, storage.Record{"code": "ABC123", "phase": "waiting"})
	require.NoError(t, err)
	id, _ := room["id"].(string)
	assert.NotEmpty(t, id)
	assert.Contains(t, room, "created_at")

	got, err := s.Query(ctx, storage.TableRooms, storage.Filter{"code": "ABC123"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0]["id"])

	updated, err := s.Update(ctx, storage.TableRooms, id, storage.Record{"phase": "cardReveal", "id": "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "cardReveal", updated["phase"])
	assert.Equal(t, id, updated["id"])
	assert.Contains(t, updated, "updated_at")

	_, err = s.Update(ctx, storage.TableRooms, "missing", storage.Record{"phase": "x"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemoryStore_QueryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	defer s.Close()

	_, err := s.Insert(ctx, storage.TablePlayers, storage.Record{"id": "p1", "room_id": "r1", "name": "Ana"})
	require.NoError(t, err)
	got, err := s.Query(ctx, storage.TablePlayers, storage.Filter{"room_id": "r1"})
	require.NoError(t, err)
	got[0]["name"] = "changed"

	again, err := s.Query(ctx, storage.TablePlayers, storage.Filter{"id": "p1"})
	require.NoError(t, err)
	assert.Equal(t, "Ana", again[0]["name"])
}

func TestMemoryStore_InsertOrderPreserved(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	defer s.Close()

	for _, name := range []string{"A", "B", "C"} {
		_, err := s.Insert(ctx, storage.TablePlayers, storage.Record{"room_id": "r1", "name": name})
		require.NoError(t, err)
	}
	_, err := s.Insert(ctx, storage.TablePlayers, storage.Record{"room_id": "r2", "name": "Z"})
	require.NoError(t, err)

	got, err := s.Query(ctx, storage.TablePlayers, storage.Filter{"room_id": "r1"})
	require.NoError(t, err)
	var names []string
	for _, r := range got {
		names = append(names, r["name"].(string))
	}
	assert.Equal(t, []string{"A", "B", "C"}, names)
}

func TestMemoryStore_Conflicts(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	defer s.Close()

	_, err := s.Insert(ctx, storage.TablePlayers, storage.Record{"id": "p1"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, storage.TablePlayers, storage.Record{"id": "p1"})
	assert.ErrorIs(t, err, storage.ErrConflict)

	_, err = s.Insert(ctx, storage.TableVotes, storage.Record{"room_id": "r1", "voter_id": "p1", "voted_player_id": "p2"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, storage.TableVotes, storage.Record{"room_id": "r1", "voter_id": "p1", "voted_player_id": "p3"})
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	defer s.Close()

	for _, voter := range []string{"p1", "p2"} {
		_, err := s.Insert(ctx, storage.TableVotes, storage.Record{"room_id": "r1", "voter_id": voter})
		require.NoError(t, err)
	}
	removed, err := s.Delete(ctx, storage.TableVotes, storage.Filter{"room_id": "r1", "voter_id": "p1"})
	require.NoError(t, err)
	assert.Len(t, removed, 1)

	left, err := s.Query(ctx, storage.TableVotes, storage.Filter{"room_id": "r1"})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "p2", left[0]["voter_id"])
}

func TestMemoryStore_UnknownTable(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	defer s.Close()

	_, err := s.Insert(ctx, "nope", storage.Record{})
	assert.ErrorIs(t, err, storage.ErrUnknownTable)
	_, err = s.Subscribe(ctx, "nope", nil, func(storage.Event) {})
	assert.ErrorIs(t, err, storage.ErrUnknownTable)
}

func TestMemoryStore_SubscribeFiltersAndStripsBlobs(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	defer s.Close()

	events := make(chan storage.Event, 8)
	sub, err := s.Subscribe(ctx, storage.TableDrawings, storage.Filter{"room_id": "r1"}, func(ev storage.Event) {
		events <- ev
	})
	require.NoError(t, err)
	defer sub.Close()

	_, err = s.Insert(ctx, storage.TableDrawings, storage.Record{"room_id": "r2", "drawing_data": "data:other"})
	require.NoError(t, err)
	stored, err := s.Insert(ctx, storage.TableDrawings, storage.Record{"room_id": "r1", "drawing_data": "data:image/png;base64,AAAA"})
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,AAAA", stored["drawing_data"])

	ev := waitEvent(t, events)
	assert.Equal(t, storage.OpInsert, ev.Op)
	assert.Equal(t, "r1", ev.Record["room_id"])
	assert.NotContains(t, ev.Record, "drawing_data")

	select {
	case extra := <-events:
		t.Fatalf("unexpected event for room %v", extra.Record["room_id"])
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryStore_SubscriptionClose(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	defer s.Close()

	events := make(chan storage.Event, 8)
	sub, err := s.Subscribe(ctx, storage.TableRooms, nil, func(ev storage.Event) { events <- ev })
	require.NoError(t, err)

	sub.Close()
	sub.Close()

	_, err = s.Insert(ctx, storage.TableRooms, storage.Record{"code": "X"})
	require.NoError(t, err)
	select {
	case <-events:
		t.Fatal("event delivered after Close")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryStore_SubscriptionEndsWithContext(t *testing.T) {
	s := storage.NewMemoryStore()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan storage.Event, 8)
	_, err := s.Subscribe(ctx, storage.TableRooms, nil, func(ev storage.Event) { events <- ev })
	require.NoError(t, err)
	cancel()

	assert.Eventually(t, func() bool {
		_, err := s.Insert(context.Background(), storage.TableRooms, storage.Record{})
		require.NoError(t, err)
		select {
		case <-events:
			return false
		case <-time.After(20 * time.Millisecond):
			return true
		}
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryStore_Closed(t *testing.T) {
	s := storage.NewMemoryStore()
	s.Close()
	_, err := s.Query(context.Background(), storage.TableRooms, nil)
	assert.ErrorIs(t, err, storage.ErrClosed)
}

func TestLocalNotifier(t *testing.T) {
	n := storage.NewLocalNotifier()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan storage.Event, 1)
	done := make(chan error, 1)
	go func() { done <- n.Listen(ctx, func(ev storage.Event) { events <- ev }) }()

	assert.Eventually(t, func() bool {
		require.NoError(t, n.Publish(ctx, storage.Event{
			Table:  storage.TableDrawings,
			Op:     storage.OpInsert,
			Record: storage.Record{"id": "d1", "drawing_data": "blob"},
		}))
		select {
		case ev := <-events:
			assert.NotContains(t, ev.Record, "drawing_data")
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestFilterMatches(t *testing.T) {
	rec := storage.Record{"round": int64(2), "room_id": "r1"}
	assert.True(t, storage.Filter{"round": 2}.Matches(rec))
	assert.True(t, storage.Filter{}.Matches(rec))
	assert.False(t, storage.Filter{"room_id": "r2"}.Matches(rec))
	assert.False(t, storage.Filter{"missing": "x"}.Matches(rec))
}
