package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// columns lists the writable and returned columns of every table. Queries are
// built only from these names.
var columns = map[string][]string{
	TableRooms: {
		"id", "code", "phase", "round", "current_player_index", "selected_category",
		"impostor_word", "normal_word", "time_left", "max_attempts", "is_game_started",
		"is_voting_phase", "voting_time_left", "created_at", "updated_at",
	},
	TablePlayers: {
		"id", "room_id", "name", "avatar", "is_impostor", "has_seen_card",
		"attempts", "is_active", "created_at",
	},
	TableVotes: {
		"id", "room_id", "voter_id", "voted_player_id", "created_at",
	},
	TableDrawings: {
		"id", "room_id", "player_id", "round", "attempt", "drawing_data", "created_at",
	},
}

const listenRetryDelay = 2 * time.Second

// PostgresStore is a Store on a Postgres database. Change events travel
// through a Notifier so that subscribers in every process sharing the
// database see each other's writes.
type PostgresStore struct {
	pool     *pgxpool.Pool
	notifier Notifier
	fan      *fanout

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPostgresStore connects to databaseURL, applies migrations and starts
// listening for changes. A nil notifier means Postgres LISTEN/NOTIFY on the
// same database.
func NewPostgresStore(ctx context.Context, databaseURL string, notifier Notifier) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, errors.New("database url is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	if notifier == nil {
		notifier = NewPGNotifier(pool, "")
	}
	listenCtx, cancel := context.WithCancel(context.Background())
	s := &PostgresStore{
		pool:     pool,
		notifier: notifier,
		fan:      newFanout(),
		cancel:   cancel,
	}
	s.wg.Add(1)
	go s.listen(listenCtx)
	slog.Info("connected to Postgres", "tag", "storage")
	return s, nil
}

// listen feeds notifier events into local subscribers, reconnecting after
// failures until ctx is cancelled.
func (s *PostgresStore) listen(ctx context.Context) {
	defer s.wg.Done()
	for {
		err := s.notifier.Listen(ctx, s.fan.dispatch)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("change listener stopped, retrying", "tag", "storage", "err", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(listenRetryDelay):
		}
	}
}

func tableColumns(table string) ([]string, error) {
	cols, ok := columns[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return cols, nil
}

func checkFields(table string, cols []string, rec map[string]any) error {
	for k := range rec {
		if !slices.Contains(cols, k) {
			return fmt.Errorf("%w: %s.%s", ErrUnknownField, table, k)
		}
	}
	return nil
}

// where renders f as a WHERE clause with placeholders starting at $start.
func where(f Filter, start int) (string, []any) {
	if len(f) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	conds := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		conds[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{k}.Sanitize(), start+i)
		args[i] = f[k]
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func returning(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

func collect(rows pgx.Rows) ([]Record, error) {
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}
	out := make([]Record, len(maps))
	for i, m := range maps {
		out[i] = Record(m)
	}
	return out, nil
}

// translate maps driver errors onto the store's sentinels.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func (s *PostgresStore) announce(ctx context.Context, ev Event) {
	if err := s.notifier.Publish(ctx, ev); err != nil {
		slog.Warn("failed to publish change", "tag", "storage", "table", ev.Table, "op", ev.Op, "err", err)
	}
}

// Insert implements Store.
func (s *PostgresStore) Insert(ctx context.Context, table string, rec Record) (Record, error) {
	cols, err := tableColumns(table)
	if err != nil {
		return nil, err
	}
	if err := checkFields(table, cols, rec); err != nil {
		return nil, err
	}
	row := rec.Clone()
	if row == nil {
		row = Record{}
	}
	if id, _ := row["id"].(string); id == "" {
		row["id"] = uuid.NewString()
	}
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	names := make([]string, len(keys))
	holders := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		names[i] = pgx.Identifier{k}.Sanitize()
		holders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[k]
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		pgx.Identifier{table}.Sanitize(), strings.Join(names, ", "), strings.Join(holders, ", "), returning(cols))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, translate(err)
	}
	out, err := collect(rows)
	if err != nil {
		return nil, translate(err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("insert into %s returned %d rows", table, len(out))
	}
	s.announce(ctx, Event{Table: table, Op: OpInsert, Record: out[0]})
	return out[0], nil
}

// Update implements Store.
func (s *PostgresStore) Update(ctx context.Context, table, id string, partial Record) (Record, error) {
	cols, err := tableColumns(table)
	if err != nil {
		return nil, err
	}
	if err := checkFields(table, cols, partial); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(partial))
	for k := range partial {
		if k != "id" && k != "updated_at" {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	sets := make([]string, 0, len(keys)+1)
	args := make([]any, 0, len(keys)+1)
	for _, k := range keys {
		args = append(args, partial[k])
		sets = append(sets, fmt.Sprintf("%s = $%d", pgx.Identifier{k}.Sanitize(), len(args)))
	}
	if table == TableRooms {
		sets = append(sets, "updated_at = now()")
	}
	if len(sets) == 0 {
		found, err := s.Query(ctx, table, Filter{"id": id})
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
		}
		return found[0], nil
	}
	args = append(args, id)
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d RETURNING %s",
		pgx.Identifier{table}.Sanitize(), strings.Join(sets, ", "), len(args), returning(cols))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, translate(err)
	}
	out, err := collect(rows)
	if err != nil {
		return nil, translate(err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
	}
	s.announce(ctx, Event{Table: table, Op: OpUpdate, Record: out[0]})
	return out[0], nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, table string, f Filter) ([]Record, error) {
	cols, err := tableColumns(table)
	if err != nil {
		return nil, err
	}
	if err := checkFields(table, cols, f); err != nil {
		return nil, err
	}
	clause, args := where(f, 1)
	sql := fmt.Sprintf("DELETE FROM %s%s RETURNING %s", pgx.Identifier{table}.Sanitize(), clause, returning(cols))
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, translate(err)
	}
	out, err := collect(rows)
	if err != nil {
		return nil, translate(err)
	}
	for _, r := range out {
		s.announce(ctx, Event{Table: table, Op: OpDelete, Record: r})
	}
	return out, nil
}

// Query implements Store.
func (s *PostgresStore) Query(ctx context.Context, table string, f Filter) ([]Record, error) {
	cols, err := tableColumns(table)
	if err != nil {
		return nil, err
	}
	if err := checkFields(table, cols, f); err != nil {
		return nil, err
	}
	clause, args := where(f, 1)
	sql := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY seq", returning(cols), pgx.Identifier{table}.Sanitize(), clause)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, translate(err)
	}
	return collect(rows)
}

// Subscribe implements Store.
func (s *PostgresStore) Subscribe(ctx context.Context, table string, f Filter, fn func(Event)) (Subscription, error) {
	if _, err := tableColumns(table); err != nil {
		return nil, err
	}
	sub := s.fan.add(table, f.clone(), fn)
	context.AfterFunc(ctx, sub.Close)
	return sub, nil
}

// Close implements Store.
func (s *PostgresStore) Close() {
	if s == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	if err := s.notifier.Close(); err != nil {
		slog.Warn("closing notifier", "tag", "storage", "err", err)
	}
	s.fan.closeAll()
	s.pool.Close()
}
