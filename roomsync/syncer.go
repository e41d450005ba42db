// Package roomsync moves room state between the Phase Engine and the Store.
// Outbound, a transition's result is diffed against the previous state and
// written as independent record updates. Inbound, any change notification for
// a room triggers a reload of the whole composite room, which replaces the
// subscriber's local copy.
package roomsync

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"impostor-draw-server/game"
	"impostor-draw-server/roomerrors"
	"impostor-draw-server/storage"
	"impostor-draw-server/words"
)

// Syncer is the synchronization layer for every room in one Store.
type Syncer struct {
	store  storage.Store
	engine *game.Engine
}

// NewSyncer returns a Syncer writing to store. engine validates joins and
// supplies the rules for new rooms.
func NewSyncer(store storage.Store, engine *game.Engine) *Syncer {
	return &Syncer{store: store, engine: engine}
}

// Engine returns the engine the syncer validates with.
func (s *Syncer) Engine() *game.Engine { return s.engine }

// LoadRoom reads the composite state of one room.
func (s *Syncer) LoadRoom(ctx context.Context, roomID string) (*game.Room, error) {
	const op = "loadRoom"
	rooms, err := s.store.Query(ctx, storage.TableRooms, storage.Filter{"id": roomID})
	if err != nil {
		return nil, roomerrors.Store(op, err)
	}
	if len(rooms) == 0 {
		return nil, fmt.Errorf("room %s: %w", roomID, roomerrors.ErrRoomNotFound)
	}
	return s.loadComposite(ctx, op, rooms[0])
}

func (s *Syncer) loadComposite(ctx context.Context, op string, roomRec storage.Record) (*game.Room, error) {
	roomID, _ := roomRec["id"].(string)
	players, err := s.store.Query(ctx, storage.TablePlayers, storage.Filter{"room_id": roomID})
	if err != nil {
		return nil, roomerrors.Store(op, err)
	}
	votes, err := s.store.Query(ctx, storage.TableVotes, storage.Filter{"room_id": roomID})
	if err != nil {
		return nil, roomerrors.Store(op, err)
	}
	room, err := compose(roomRec, players, votes)
	if err != nil {
		return nil, roomerrors.Store(op, err)
	}
	return room, nil
}

// FindRoomByCode resolves a join code. Codes are not unique; when several
// rooms share one the most recently created wins.
func (s *Syncer) FindRoomByCode(ctx context.Context, code string) (*game.Room, error) {
	const op = "findRoom"
	code = strings.ToUpper(strings.TrimSpace(code))
	if !game.ValidRoomCode(code) {
		return nil, &roomerrors.NotFoundError{Code: code}
	}
	rooms, err := s.store.Query(ctx, storage.TableRooms, storage.Filter{"code": code})
	if err != nil {
		return nil, roomerrors.Store(op, err)
	}
	if len(rooms) == 0 {
		return nil, &roomerrors.NotFoundError{Code: code}
	}
	return s.loadComposite(ctx, op, rooms[len(rooms)-1])
}

// CreateRoom opens a new waiting room with host as its first player. It
// returns the composite room and the host as stored.
func (s *Syncer) CreateRoom(ctx context.Context, code, category string, host game.Player) (*game.Room, game.Player, error) {
	const op = "createRoom"
	if !game.ValidRoomCode(code) {
		return nil, game.Player{}, roomerrors.Invalid(op, "bad room code %q", code)
	}
	if !words.Has(category) {
		return nil, game.Player{}, roomerrors.Invalid(op, "unknown category %q", category)
	}
	draft := game.NewRoom("", code, category, s.engine.Rules)
	if _, err := s.engine.AddPlayer(draft, host); err != nil {
		return nil, game.Player{}, err
	}

	roomRec, err := s.store.Insert(ctx, storage.TableRooms, roomFields(draft))
	if err != nil {
		return nil, game.Player{}, roomerrors.Store(op, err)
	}
	roomID, _ := roomRec["id"].(string)

	stored, err := s.insertPlayer(ctx, roomID, host)
	if err != nil {
		if _, derr := s.store.Delete(ctx, storage.TableRooms, storage.Filter{"id": roomID}); derr != nil {
			slog.Warn("failed to remove room after host insert failed", "tag", "roomsync", "roomID", roomID, "err", derr)
		}
		return nil, game.Player{}, roomerrors.Store(op, err)
	}

	room, err := s.loadComposite(ctx, op, roomRec)
	if err != nil {
		return nil, game.Player{}, err
	}
	slog.Info("room created", "tag", "roomsync", "roomID", roomID, "code", code, "category", category)
	return room, stored, nil
}

// JoinRoom seats p in the waiting room with the given code.
func (s *Syncer) JoinRoom(ctx context.Context, code string, p game.Player) (*game.Room, game.Player, error) {
	const op = "joinRoom"
	room, err := s.FindRoomByCode(ctx, code)
	if err != nil {
		return nil, game.Player{}, err
	}
	if _, err := s.engine.AddPlayer(room, p); err != nil {
		return nil, game.Player{}, err
	}
	stored, err := s.insertPlayer(ctx, room.ID, p)
	if err != nil {
		return nil, game.Player{}, roomerrors.Store(op, err)
	}
	room, err = s.LoadRoom(ctx, room.ID)
	if err != nil {
		return nil, game.Player{}, err
	}
	slog.Info("player joined", "tag", "roomsync", "roomID", room.ID, "playerID", stored.ID, "players", len(room.Players))
	return room, stored, nil
}

func (s *Syncer) insertPlayer(ctx context.Context, roomID string, p game.Player) (game.Player, error) {
	rec := playerFields(p)
	rec["room_id"] = roomID
	rec["is_impostor"] = false
	rec["has_seen_card"] = false
	rec["attempts"] = 0
	rec["is_active"] = true
	if p.ID != "" {
		rec["id"] = p.ID
	}
	out, err := s.store.Insert(ctx, storage.TablePlayers, rec)
	if err != nil {
		return game.Player{}, err
	}
	return decodePlayer(out)
}

// Publish writes the difference between prev and next. Players and votes go
// first and the room record last, so peers reloading on the room update see
// the rest already in place. Every write is attempted; failures come back
// joined in one StoreError and nothing is rolled back.
func (s *Syncer) Publish(ctx context.Context, prev, next *game.Room) error {
	if next == nil {
		return nil
	}
	if prev == nil {
		prev = &game.Room{ID: next.ID}
	}
	var errs []error

	for _, p := range next.Players {
		var before storage.Record
		if old, ok := prev.Player(p.ID); ok {
			before = playerFields(old)
		}
		diff := changed(before, playerFields(p))
		if len(diff) == 0 {
			continue
		}
		if _, err := s.store.Update(ctx, storage.TablePlayers, p.ID, diff); err != nil {
			errs = append(errs, fmt.Errorf("player %s: %w", p.ID, err))
		}
	}

	if len(next.Votes) == 0 && len(prev.Votes) > 0 {
		if _, err := s.store.Delete(ctx, storage.TableVotes, storage.Filter{"room_id": next.ID}); err != nil {
			errs = append(errs, fmt.Errorf("clearing votes: %w", err))
		}
	} else {
		for _, voter := range sortedKeys(next.Votes) {
			if prev.Votes[voter] == next.Votes[voter] {
				continue
			}
			if err := s.replaceVote(ctx, next.ID, voter, next.Votes[voter]); err != nil {
				errs = append(errs, fmt.Errorf("vote by %s: %w", voter, err))
			}
		}
		for _, voter := range sortedKeys(prev.Votes) {
			if _, ok := next.Votes[voter]; ok {
				continue
			}
			if _, err := s.store.Delete(ctx, storage.TableVotes, storage.Filter{"room_id": next.ID, "voter_id": voter}); err != nil {
				errs = append(errs, fmt.Errorf("vote by %s: %w", voter, err))
			}
		}
	}

	var before storage.Record
	if prev.Code != "" {
		before = roomFields(prev)
	}
	if diff := changed(before, roomFields(next)); len(diff) > 0 {
		if _, err := s.store.Update(ctx, storage.TableRooms, next.ID, diff); err != nil {
			errs = append(errs, fmt.Errorf("room %s: %w", next.ID, err))
		}
	}

	if len(errs) > 0 {
		return &roomerrors.StoreError{Op: "publish", Err: errors.Join(errs...)}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// replaceVote deletes the voter's previous vote, if any, then inserts the new
// one.
func (s *Syncer) replaceVote(ctx context.Context, roomID, voterID, votedID string) error {
	if _, err := s.store.Delete(ctx, storage.TableVotes, storage.Filter{"room_id": roomID, "voter_id": voterID}); err != nil {
		return err
	}
	_, err := s.store.Insert(ctx, storage.TableVotes, storage.Record{
		"room_id":         roomID,
		"voter_id":        voterID,
		"voted_player_id": votedID,
	})
	return err
}

// SubmitVote records voterID's vote directly, outside of a Publish.
func (s *Syncer) SubmitVote(ctx context.Context, roomID, voterID, votedID string) error {
	return roomerrors.Store("submitVote", s.replaceVote(ctx, roomID, voterID, votedID))
}

// SaveDrawing appends d to the room's drawing log.
func (s *Syncer) SaveDrawing(ctx context.Context, d Drawing) (Drawing, error) {
	const op = "saveDrawing"
	if d.RoomID == "" || d.PlayerID == "" {
		return Drawing{}, roomerrors.Invalid(op, "drawing needs a room and a player")
	}
	if !strings.HasPrefix(d.Data, "data:image/") {
		return Drawing{}, roomerrors.Invalid(op, "drawing is not an image data URL")
	}
	rec, err := s.store.Insert(ctx, storage.TableDrawings, storage.Record{
		"room_id":      d.RoomID,
		"player_id":    d.PlayerID,
		"round":        d.Round,
		"attempt":      d.Attempt,
		"drawing_data": d.Data,
	})
	if err != nil {
		return Drawing{}, roomerrors.Store(op, err)
	}
	out, err := decodeDrawing(rec)
	if err != nil {
		return Drawing{}, roomerrors.Store(op, err)
	}
	return out, nil
}

// ListDrawings returns a room's drawings ordered by round, then attempt, then
// submission.
func (s *Syncer) ListDrawings(ctx context.Context, roomID string) ([]Drawing, error) {
	const op = "listDrawings"
	recs, err := s.store.Query(ctx, storage.TableDrawings, storage.Filter{"room_id": roomID})
	if err != nil {
		return nil, roomerrors.Store(op, err)
	}
	out := make([]Drawing, 0, len(recs))
	for _, rec := range recs {
		d, err := decodeDrawing(rec)
		if err != nil {
			return nil, roomerrors.Store(op, err)
		}
		out = append(out, d)
	}
	slices.SortStableFunc(out, func(a, b Drawing) int {
		return cmp.Or(cmp.Compare(a.Round, b.Round), cmp.Compare(a.Attempt, b.Attempt))
	})
	return out, nil
}

// Subscription is a standing room subscription returned by Subscribe.
type Subscription struct {
	mu     sync.Mutex
	closed bool
	once   sync.Once
	cancel context.CancelFunc
	subs   []storage.Subscription
	kick   chan struct{}
}

// Subscribe watches the room's record and its player and vote records. After
// an initial load, and again after every notification, it reloads the
// composite room and calls onChange with it, or with the load error. A
// vanished room is reported as an error matching roomerrors.ErrRoomNotFound.
//
// Calls to onChange are serialized. Notifications that arrive while a reload
// is pending collapse into it. onChange must not call Close.
func (s *Syncer) Subscribe(ctx context.Context, roomID string, onChange func(*game.Room, error)) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, kick: make(chan struct{}, 1)}

	watches := []struct {
		table  string
		filter storage.Filter
	}{
		{storage.TableRooms, storage.Filter{"id": roomID}},
		{storage.TablePlayers, storage.Filter{"room_id": roomID}},
		{storage.TableVotes, storage.Filter{"room_id": roomID}},
	}
	for _, w := range watches {
		h, err := s.store.Subscribe(ctx, w.table, w.filter, func(storage.Event) { sub.notify() })
		if err != nil {
			sub.Close()
			return nil, roomerrors.Store("subscribe", err)
		}
		sub.subs = append(sub.subs, h)
	}

	sub.notify()
	go sub.run(ctx, func(ctx context.Context) (*game.Room, error) { return s.LoadRoom(ctx, roomID) }, onChange)
	return sub, nil
}

func (sub *Subscription) notify() {
	select {
	case sub.kick <- struct{}{}:
	default:
	}
}

func (sub *Subscription) run(ctx context.Context, load func(context.Context) (*game.Room, error), onChange func(*game.Room, error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.kick:
		}
		room, err := load(ctx)
		if ctx.Err() != nil {
			return
		}
		sub.mu.Lock()
		if !sub.closed {
			onChange(room, err)
		}
		sub.mu.Unlock()
	}
}

// Close stops the subscription. Once it returns onChange will not be called
// again; a reload racing with Close is dropped. Close is idempotent.
func (sub *Subscription) Close() {
	sub.once.Do(func() {
		sub.mu.Lock()
		sub.closed = true
		sub.mu.Unlock()
		sub.cancel()
		for _, h := range sub.subs {
			h.Close()
		}
	})
}
