// Package session drives one client's view of one room. A Controller owns a
// single event loop: user actions, countdown ticks, Store snapshots and the
// results of its own writes are handled strictly one at a time, and Store
// I/O never runs on the loop itself.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"impostor-draw-server/game"
	"impostor-draw-server/roomerrors"
	"impostor-draw-server/roomsync"
)

// State is the client-local lifecycle of a controller. It is never shared.
type State int

const (
	StateConnecting State = iota
	StateActive
	StateDisconnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ActionType identifies a user action.
type ActionType int

const (
	ActionStartGame ActionType = iota
	ActionRevealCard
	ActionStartDrawing
	ActionFinishTurn
	ActionCastVote
	ActionEndVoting
	ActionNewGame
	ActionLeave
)

func (a ActionType) String() string {
	switch a {
	case ActionStartGame:
		return "startGame"
	case ActionRevealCard:
		return "revealCard"
	case ActionStartDrawing:
		return "startDrawing"
	case ActionFinishTurn:
		return "finishTurn"
	case ActionCastVote:
		return "castVote"
	case ActionEndVoting:
		return "endVoting"
	case ActionNewGame:
		return "newGame"
	case ActionLeave:
		return "leave"
	default:
		return "unknown"
	}
}

// Action is a user action submitted to the loop.
type Action struct {
	Type    ActionType
	Target  string // voted player id, for ActionCastVote
	Drawing string // image data URL, for ActionFinishTurn
}

// Syncer is the part of the synchronization layer a controller needs.
// *roomsync.Syncer implements it.
type Syncer interface {
	Publish(ctx context.Context, prev, next *game.Room) error
	Subscribe(ctx context.Context, roomID string, onChange func(*game.Room, error)) (*roomsync.Subscription, error)
	SaveDrawing(ctx context.Context, d roomsync.Drawing) (roomsync.Drawing, error)
}

// Renderer receives a fresh View whenever what the player sees changes.
// Render is called on the controller's loop and must not block.
type Renderer interface {
	Render(View)
}

// RenderFunc adapts a function to Renderer.
type RenderFunc func(View)

func (f RenderFunc) Render(v View) { f(v) }

// Options tunes a controller. Zero values take the defaults.
type Options struct {
	// Tick is the countdown resolution. Default 1s.
	Tick time.Duration
	// DisconnectGrace is how long a controller waits in Disconnected before
	// evicting the player. Default 2s.
	DisconnectGrace time.Duration
	// VoteSettle is the delay between full vote coverage and ending the vote.
	// Default 1s.
	VoteSettle time.Duration
	// FlushTimeout bounds how long Close waits for queued writes. Default 5s.
	FlushTimeout time.Duration
	// OnEvict runs once, after the loop has stopped, when the grace period
	// expires. It may call Close.
	OnEvict func()
}

func (o Options) withDefaults() Options {
	if o.Tick <= 0 {
		o.Tick = time.Second
	}
	if o.DisconnectGrace <= 0 {
		o.DisconnectGrace = 2 * time.Second
	}
	if o.VoteSettle <= 0 {
		o.VoteSettle = time.Second
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = 5 * time.Second
	}
	return o
}

type eventKind int

const (
	evAction eventKind = iota
	evMount
	evDetach
	evSnapshot
	evPublished
	evSettle
	evGrace
)

type event struct {
	kind   eventKind
	action Action
	roomID string
	room   *game.Room
	err    error
	gen    int
	reply  chan error
}

// turnKey identifies one drawing turn.
type turnKey struct {
	round, index int
}

// Controller is one client's session in one room.
type Controller struct {
	syncer   Syncer
	engine   *game.Engine
	playerID string
	renderer Renderer
	opts     Options
	log      *slog.Logger

	events   chan event
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	pub      *publisher

	// Everything below is owned by the loop goroutine.
	state   State
	room    *game.Room
	roomID  string
	sub     *roomsync.Subscription
	subQuit chan struct{}
	subGen  int

	pending int        // own writes not yet acknowledged
	stashed *game.Room // latest snapshot held back while pending > 0

	firedTurn    turnKey
	hasFiredTurn bool
	votingEnded  bool

	settle    *time.Timer
	settleGen int
	grace     *time.Timer
	graceGen  int

	failure *Failure
	evicted bool
}

// New starts a controller for playerID. It stays in Connecting until Mount.
func New(syncer Syncer, engine *game.Engine, playerID string, renderer Renderer, opts Options) *Controller {
	c := &Controller{
		syncer:   syncer,
		engine:   engine,
		playerID: playerID,
		renderer: renderer,
		opts:     opts.withDefaults(),
		log:      slog.With("tag", "session", "playerID", playerID),
		events:   make(chan event, 16),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		pub:      newPublisher(),
		state:    StateConnecting,
	}
	go c.run()
	return c
}

// PlayerID returns the player this controller acts for.
func (c *Controller) PlayerID() string { return c.playerID }

// Done is closed once the controller has stopped.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Mount points the controller at roomID. initial, when non-nil, is used as
// the first state; otherwise the controller stays in Connecting until the
// first snapshot. Mounting the room already mounted only replaces the state;
// a different room swaps the subscription.
func (c *Controller) Mount(roomID string, initial *game.Room) error {
	return c.call(event{kind: evMount, roomID: roomID, room: initial})
}

// Detach clears the room reference. Unless a snapshot arrives to restore it
// within the grace period, the player is evicted.
func (c *Controller) Detach() {
	c.post(event{kind: evDetach})
}

// Submit runs a user action on the loop. It returns engine ValidationErrors
// and session errors synchronously. Store failures are reported through the
// next View since writes complete later.
func (c *Controller) Submit(a Action) error {
	return c.call(event{kind: evAction, action: a})
}

// Close stops the controller: timers, subscription and loop. Writes already
// queued are flushed for up to FlushTimeout. Nothing is rendered after Close
// returns. Close is idempotent.
func (c *Controller) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

func (c *Controller) post(ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.stop:
		return false
	}
}

func (c *Controller) call(ev event) error {
	reply := make(chan error, 1)
	ev.reply = reply
	if !c.post(ev) {
		return roomerrors.ErrSessionClosed
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		select {
		case err := <-reply:
			return err
		default:
			return roomerrors.ErrSessionClosed
		}
	}
}

func (c *Controller) run() {
	defer func() {
		close(c.done)
		if c.evicted && c.opts.OnEvict != nil {
			c.opts.OnEvict()
		}
	}()

	pubCtx, pubCancel := context.WithCancel(context.Background())
	defer pubCancel()
	go c.pub.run(pubCtx, func(err error) {
		c.post(event{kind: evPublished, err: err})
	})

	ticker := time.NewTicker(c.opts.Tick)
	defer ticker.Stop()
	defer c.teardown(pubCancel)

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.tick()
		case ev := <-c.events:
			c.handle(ev)
		}
		if c.state == StateClosed {
			return
		}
	}
}

func (c *Controller) teardown(pubCancel context.CancelFunc) {
	c.state = StateClosed
	c.stopOnce.Do(func() { close(c.stop) })
	c.cancelSettle()
	c.cancelGrace()
	c.closeSub()

	c.pub.close()
	select {
	case <-c.pub.done:
	case <-time.After(c.opts.FlushTimeout):
		c.log.Warn("abandoning queued writes", "roomID", c.roomID, "pending", c.pending)
		pubCancel()
		<-c.pub.done
	}
	c.log.Debug("session closed", "roomID", c.roomID)
}

func (c *Controller) handle(ev event) {
	switch ev.kind {
	case evAction:
		err := c.act(ev.action)
		if err == nil && c.state != StateClosed {
			c.render()
		}
		ev.reply <- err
	case evMount:
		ev.reply <- c.mount(ev.roomID, ev.room)
	case evDetach:
		c.disconnect("room reference cleared")
	case evSnapshot:
		if ev.gen == c.subGen {
			c.onSnapshot(ev.room, ev.err)
		}
	case evPublished:
		c.onPublished(ev.err)
	case evSettle:
		if ev.gen == c.settleGen && c.settle != nil {
			c.settle = nil
			if c.state == StateActive && c.room != nil && c.room.Phase == game.PhaseVoting {
				c.endVoting()
				c.render()
			}
		}
	case evGrace:
		if ev.gen == c.graceGen && c.grace != nil && c.state == StateDisconnected {
			c.grace = nil
			c.log.Info("evicting player from room", "roomID", c.roomID)
			c.evicted = true
			c.state = StateClosed
		}
	}
}

func (c *Controller) mount(roomID string, initial *game.Room) error {
	if roomID == "" && initial != nil {
		roomID = initial.ID
	}
	if roomID == "" {
		return roomerrors.ErrNotInRoom
	}
	if roomID != c.roomID {
		c.closeSub()
		c.cancelSettle()
		c.roomID = roomID
		c.room = nil
		c.stashed = nil
		c.hasFiredTurn = false
		c.votingEnded = false
		if err := c.subscribe(); err != nil {
			c.log.Warn("subscribe failed", "roomID", roomID, "err", err)
			return err
		}
	}
	if initial != nil {
		c.apply(initial.Clone())
		return nil
	}
	if c.room == nil {
		c.state = StateConnecting
	}
	c.render()
	return nil
}

func (c *Controller) subscribe() error {
	c.subGen++
	gen := c.subGen
	quit := make(chan struct{})
	sub, err := c.syncer.Subscribe(context.Background(), c.roomID, func(room *game.Room, err error) {
		select {
		case c.events <- event{kind: evSnapshot, room: room, err: err, gen: gen}:
		case <-quit:
		case <-c.stop:
		}
	})
	if err != nil {
		return err
	}
	c.sub = sub
	c.subQuit = quit
	return nil
}

// closeSub closes the current subscription. quit is closed first so a
// delivery blocked on the event channel gives up and Close can return.
func (c *Controller) closeSub() {
	if c.sub == nil {
		return
	}
	close(c.subQuit)
	c.sub.Close()
	c.sub = nil
	c.subQuit = nil
}

func (c *Controller) onSnapshot(room *game.Room, err error) {
	if err != nil {
		if errors.Is(err, roomerrors.ErrRoomNotFound) {
			c.disconnect("room no longer exists")
			return
		}
		c.log.Warn("room reload failed", "roomID", c.roomID, "err", err)
		c.fail(err)
		c.render()
		return
	}
	if c.pending > 0 {
		c.stashed = room
		return
	}
	c.apply(room)
}

func (c *Controller) onPublished(err error) {
	c.pending--
	if err != nil {
		c.log.Warn("publish failed", "roomID", c.roomID, "err", err)
		// The transition never reached the Store, so it may be fired again.
		c.hasFiredTurn = false
		c.votingEnded = false
		c.fail(err)
		c.render()
	}
	if c.pending == 0 && c.stashed != nil {
		room := c.stashed
		c.stashed = nil
		c.apply(room)
	}
}

// apply replaces local state wholesale with room. The running countdown
// survives when the snapshot is still on the same turn or the same vote.
func (c *Controller) apply(room *game.Room) {
	prev := c.room
	if prev != nil {
		if room.Phase == game.PhaseDrawing && prev.Phase == game.PhaseDrawing &&
			prev.Round == room.Round && prev.CurrentPlayerIndex == room.CurrentPlayerIndex {
			room.TimeLeft = prev.TimeLeft
		}
		if room.Phase == game.PhaseVoting && prev.Phase == game.PhaseVoting {
			room.VotingTimeLeft = prev.VotingTimeLeft
		}
	}
	if err := room.Validate(); err != nil {
		c.log.Debug("snapshot not yet consistent", "roomID", room.ID, "err", err)
	}
	c.room = room
	c.pruneGuards()
	if c.state != StateActive {
		c.cancelGrace()
		c.state = StateActive
	}
	c.afterChange()
	c.render()
}

// afterChange arms or cancels the vote settle timer.
func (c *Controller) afterChange() {
	if c.room.Phase == game.PhaseVoting && c.room.AllVoted() {
		if c.settle == nil {
			c.settleGen++
			gen := c.settleGen
			c.settle = time.AfterFunc(c.opts.VoteSettle, func() {
				c.post(event{kind: evSettle, gen: gen})
			})
		}
	} else {
		c.cancelSettle()
	}
}

// pruneGuards drops the once-per-turn and once-per-vote guards as soon as a
// Store snapshot is past the turn or vote they protect. A snapshot still on
// that turn or vote may be stale and keeps them.
func (c *Controller) pruneGuards() {
	r := c.room
	if c.hasFiredTurn && (r.Phase != game.PhaseDrawing || c.firedTurn != (turnKey{r.Round, r.CurrentPlayerIndex})) {
		c.hasFiredTurn = false
	}
	if c.votingEnded && r.Phase != game.PhaseVoting {
		c.votingEnded = false
	}
}

func (c *Controller) cancelSettle() {
	if c.settle != nil {
		c.settle.Stop()
		c.settle = nil
	}
	c.settleGen++
}

func (c *Controller) cancelGrace() {
	if c.grace != nil {
		c.grace.Stop()
		c.grace = nil
	}
	c.graceGen++
}

func (c *Controller) disconnect(reason string) {
	if c.state == StateDisconnected || c.state == StateClosed {
		return
	}
	c.log.Info("room unavailable", "roomID", c.roomID, "reason", reason)
	c.state = StateDisconnected
	c.cancelSettle()
	c.graceGen++
	gen := c.graceGen
	c.grace = time.AfterFunc(c.opts.DisconnectGrace, func() {
		c.post(event{kind: evGrace, gen: gen})
	})
	c.render()
}

func (c *Controller) tick() {
	if c.state != StateActive || c.room == nil {
		return
	}
	switch c.room.Phase {
	case game.PhaseDrawing:
		r := c.room.Clone()
		if r.TimeLeft > 0 {
			r.TimeLeft--
		}
		c.room = r
		if r.TimeLeft == 0 {
			c.advance("")
		}
		c.render()
	case game.PhaseVoting:
		r := c.room.Clone()
		if r.VotingTimeLeft > 0 {
			r.VotingTimeLeft--
		}
		c.room = r
		if r.VotingTimeLeft == 0 {
			c.endVoting()
		}
		c.render()
	}
}

func (c *Controller) act(a Action) error {
	if a.Type == ActionLeave {
		c.log.Info("player left room", "roomID", c.roomID)
		c.state = StateClosed
		return nil
	}
	if c.state != StateActive || c.room == nil {
		return roomerrors.ErrNotInRoom
	}

	switch a.Type {
	case ActionStartGame:
		return c.transition(a.Type, c.engine.StartGame)
	case ActionRevealCard:
		return c.transition(a.Type, func(r *game.Room) (*game.Room, error) {
			return c.engine.RevealCard(r, c.playerID)
		})
	case ActionStartDrawing:
		return c.transition(a.Type, c.engine.StartDrawing)
	case ActionFinishTurn:
		if c.room.Phase != game.PhaseDrawing {
			return roomerrors.Invalid(a.Type.String(), "requires phase %s, room is in %s", game.PhaseDrawing, c.room.Phase)
		}
		if drawer, ok := c.room.CurrentPlayer(); !ok || drawer.ID != c.playerID {
			return roomerrors.ErrNotYourTurn
		}
		if a.Drawing != "" && !strings.HasPrefix(a.Drawing, "data:image/") {
			return roomerrors.Invalid(a.Type.String(), "drawing is not an image data URL")
		}
		return c.advance(a.Drawing)
	case ActionCastVote:
		return c.transition(a.Type, func(r *game.Room) (*game.Room, error) {
			return c.engine.CastVote(r, c.playerID, a.Target)
		})
	case ActionEndVoting:
		return c.endVoting()
	case ActionNewGame:
		return c.transition(a.Type, c.engine.ResetForNewGame)
	}
	return roomerrors.Invalid(a.Type.String(), "unsupported action")
}

func (c *Controller) transition(op ActionType, fn func(*game.Room) (*game.Room, error)) error {
	next, err := fn(c.room)
	if err != nil {
		c.log.Error("engine rejected transition", "roomID", c.roomID, "op", op.String(), "err", err)
		return err
	}
	c.commit(next, nil)
	return nil
}

// advance ends the current turn, once per turn. Countdown expiry and
// FinishTurn both come through here; drawing is saved first when given.
func (c *Controller) advance(drawing string) error {
	key := turnKey{c.room.Round, c.room.CurrentPlayerIndex}
	if c.hasFiredTurn && c.firedTurn == key {
		return nil
	}
	drawer, _ := c.room.CurrentPlayer()
	next, err := c.engine.AdvanceTurn(c.room)
	if err != nil {
		c.log.Error("engine rejected transition", "roomID", c.roomID, "op", "advanceTurn", "err", err)
		return err
	}
	c.firedTurn = key
	c.hasFiredTurn = true

	var save job
	if drawing != "" {
		d := roomsync.Drawing{
			RoomID:   c.room.ID,
			PlayerID: drawer.ID,
			Round:    c.room.Round,
			Attempt:  drawer.Attempts + 1,
			Data:     drawing,
		}
		save = func(ctx context.Context) error {
			_, err := c.syncer.SaveDrawing(ctx, d)
			return err
		}
	}
	c.commit(next, save)
	return nil
}

func (c *Controller) endVoting() error {
	if c.votingEnded && c.room.Phase == game.PhaseVoting {
		return nil
	}
	next, err := c.engine.EndVoting(c.room)
	if err != nil {
		c.log.Error("engine rejected transition", "roomID", c.roomID, "op", "endVoting", "err", err)
		return err
	}
	if c.room.Phase == game.PhaseVoting {
		c.votingEnded = true
	}
	c.commit(next, nil)
	return nil
}

// commit applies next locally and queues its publish. The write is queued
// before the loop takes another event, so this client's writes reach the
// Store in the order it made them.
func (c *Controller) commit(next *game.Room, before job) {
	prev := c.room
	c.room = next
	c.stashed = nil
	c.pending++
	c.pub.push(func(ctx context.Context) error {
		var errs []error
		if before != nil {
			errs = append(errs, before(ctx))
		}
		errs = append(errs, c.syncer.Publish(ctx, prev, next))
		return errors.Join(errs...)
	})
	c.afterChange()
}

func (c *Controller) fail(err error) {
	c.failure = &Failure{Message: err.Error(), Retryable: roomerrors.IsRetryable(err)}
}

func (c *Controller) render() {
	v := BuildView(c.room, c.playerID, c.engine.Rules, c.state)
	if c.failure != nil {
		v.Error = c.failure
		c.failure = nil
	}
	c.renderer.Render(v)
}
