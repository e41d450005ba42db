package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"impostor-draw-server/game"
	"impostor-draw-server/roomerrors"
	"impostor-draw-server/session"
	"impostor-draw-server/words"
	"impostor-draw-server/wsutil"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Drawings arrive as data URLs.
	maxMessageSize = 1 << 20

	// Time allowed for a create, join or resume round trip to the Store.
	requestTimeout = 5 * time.Second
)

// Client is a middleman between the websocket connection and its session.
// A connection holds at most one seat at a time.
type Client struct {
	Hub     *Hub
	Conn    *websocket.Conn
	Send    chan []byte
	limiter *rate.Limiter

	mu       sync.Mutex
	ctrl     *session.Controller
	roomID   string
	playerID string
	gen      int
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		Hub:     h,
		Conn:    conn,
		Send:    make(chan []byte, 256),
		limiter: rate.NewLimiter(rate.Limit(h.Config.MessagesPerSecond), h.Config.MessageBurst),
	}
}

// ReadPump pumps messages from the websocket connection to the session.
// It runs in its own goroutine per connection.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read error", "tag", "ws", "err", err)
			}
			break
		}
		if !c.limiter.Allow() {
			c.sendError("Too many messages, slow down.", true)
			continue
		}
		c.handleMessage(message)
	}
}

// WritePump pumps messages from the send channel to the websocket connection.
// It runs in its own goroutine per connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	var envelope InboundEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.sendError("Invalid message format.", false)
		return
	}

	switch envelope.Type {
	case TypeCreateRoom:
		c.handleCreateRoom(envelope.Raw)
	case TypeJoinRoom:
		c.handleJoinRoom(envelope.Raw)
	case TypeResume:
		c.handleResume(envelope.Raw)
	case TypeStartGame:
		c.submit(session.Action{Type: session.ActionStartGame})
	case TypeRevealCard:
		c.submit(session.Action{Type: session.ActionRevealCard})
	case TypeStartDrawing:
		c.submit(session.Action{Type: session.ActionStartDrawing})
	case TypeFinishTurn:
		var msg FinishTurnMsg
		if err := json.Unmarshal(envelope.Raw, &msg); err != nil {
			c.sendError("Invalid finish_turn message.", false)
			return
		}
		c.submit(session.Action{Type: session.ActionFinishTurn, Drawing: msg.Drawing})
	case TypeCastVote:
		var msg CastVoteMsg
		if err := json.Unmarshal(envelope.Raw, &msg); err != nil || msg.PlayerID == "" {
			c.sendError("Invalid cast_vote message.", false)
			return
		}
		c.submit(session.Action{Type: session.ActionCastVote, Target: msg.PlayerID})
	case TypeEndVoting:
		c.submit(session.Action{Type: session.ActionEndVoting})
	case TypeNewGame:
		c.submit(session.Action{Type: session.ActionNewGame})
	case TypeLeave:
		c.handleLeave()
	default:
		c.sendError("Unknown message type: "+envelope.Type, false)
	}
}

func (c *Client) handleCreateRoom(raw json.RawMessage) {
	var msg CreateRoomMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendError("Invalid create_room message.", false)
		return
	}
	if c.seated() {
		c.sendErr(roomerrors.ErrAlreadyConnected)
		return
	}
	category := strings.TrimSpace(msg.Category)
	if category == "" {
		category = words.DefaultCategory
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	code := game.GenerateRoomCode(c.Hub.Rand)
	room, me, err := c.Hub.Syncer.CreateRoom(ctx, code, category, game.NewPlayer(msg.Name, msg.Avatar))
	if err != nil {
		c.sendErr(err)
		return
	}
	c.attach(room, me.ID)
}

func (c *Client) handleJoinRoom(raw json.RawMessage) {
	var msg JoinRoomMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendError("Invalid join_room message.", false)
		return
	}
	if c.seated() {
		c.sendErr(roomerrors.ErrAlreadyConnected)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	room, me, err := c.Hub.Syncer.JoinRoom(ctx, msg.Code, game.NewPlayer(msg.Name, msg.Avatar))
	if err != nil {
		c.sendErr(err)
		return
	}
	c.attach(room, me.ID)
}

func (c *Client) handleResume(raw json.RawMessage) {
	var msg ResumeMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendError("Invalid resume message.", false)
		return
	}
	if c.seated() {
		c.sendErr(roomerrors.ErrAlreadyConnected)
		return
	}
	roomID, playerID, err := c.Hub.Tokens.ParsePlayerToken(msg.Token)
	if err != nil {
		c.sendErr(err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	room, err := c.Hub.Syncer.LoadRoom(ctx, roomID)
	if err != nil {
		c.sendErr(err)
		return
	}
	if _, ok := room.Player(playerID); !ok {
		c.sendErr(roomerrors.ErrNotInRoom)
		return
	}
	c.attach(room, playerID)
}

// attach confirms the seat and starts a session controller on room.
func (c *Client) attach(room *game.Room, playerID string) {
	token, err := c.Hub.Tokens.IssuePlayerToken(room.ID, playerID)
	if err != nil {
		slog.Error("failed to issue player token", "tag", "ws", "roomID", room.ID, "err", err)
		c.sendError("Could not issue a player token.", true)
		return
	}
	c.sendJSON(JoinedMsg{Type: TypeJoined, RoomID: room.ID, Code: room.Code, PlayerID: playerID, Token: token})

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	ctrl := session.New(c.Hub.Syncer, c.Hub.Syncer.Engine(), playerID, session.RenderFunc(c.sendView), session.Options{
		DisconnectGrace: c.Hub.Config.DisconnectGrace(),
		VoteSettle:      c.Hub.Config.VoteSettle(),
		OnEvict:         func() { c.evicted(gen, room.ID) },
	})

	c.mu.Lock()
	c.ctrl = ctrl
	c.roomID = room.ID
	c.playerID = playerID
	c.mu.Unlock()

	if err := ctrl.Mount(room.ID, room); err != nil {
		c.sendErr(err)
		c.detach(gen)
		ctrl.Close()
		return
	}
	slog.Info("client seated", "tag", "ws", "roomID", room.ID, "playerID", playerID)
}

func (c *Client) seated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctrl != nil
}

func (c *Client) controller() *session.Controller {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctrl
}

// detach forgets the seat of generation gen. It reports whether that seat was
// still the current one.
func (c *Client) detach(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.ctrl == nil {
		return false
	}
	c.ctrl = nil
	c.roomID = ""
	c.playerID = ""
	return true
}

// evicted runs after the controller of generation gen stopped for good.
func (c *Client) evicted(gen int, roomID string) {
	if !c.detach(gen) {
		return
	}
	slog.Info("client evicted", "tag", "ws", "roomID", roomID)
	c.sendJSON(EvictedMsg{Type: TypeEvicted, RoomID: roomID})
}

func (c *Client) submit(a session.Action) {
	ctrl := c.controller()
	if ctrl == nil {
		c.sendErr(roomerrors.ErrNotInRoom)
		return
	}
	if err := ctrl.Submit(a); err != nil {
		c.sendErr(err)
	}
}

func (c *Client) handleLeave() {
	c.mu.Lock()
	ctrl := c.ctrl
	c.gen++
	c.ctrl = nil
	c.roomID = ""
	c.playerID = ""
	c.mu.Unlock()

	if ctrl == nil {
		c.sendErr(roomerrors.ErrNotInRoom)
		return
	}
	if err := ctrl.Submit(session.Action{Type: session.ActionLeave}); err != nil && !errors.Is(err, roomerrors.ErrSessionClosed) {
		slog.Warn("leave failed", "tag", "ws", "err", err)
	}
	ctrl.Close()
}

// shutdown stops the session, flushing its queued writes. The player keeps
// the seat and may resume it with the token.
func (c *Client) shutdown() {
	c.mu.Lock()
	ctrl, roomID, playerID := c.ctrl, c.roomID, c.playerID
	c.gen++
	c.ctrl = nil
	c.mu.Unlock()
	if ctrl != nil {
		ctrl.Close()
		slog.Info("client session closed", "tag", "ws", "roomID", roomID, "playerID", playerID)
	}
}

func (c *Client) sendView(v session.View) {
	c.sendJSON(RoomStateMsg{Type: TypeRoomState, View: v})
}

func (c *Client) sendJSON(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to marshal outbound message", "tag", "ws", "err", err)
		return
	}
	wsutil.SafeSend(c.Send, data)
}

func (c *Client) sendErr(err error) {
	if roomerrors.IsValidation(err) {
		slog.Debug("rejected client message", "tag", "ws", "err", err)
	}
	c.sendError(err.Error(), roomerrors.IsRetryable(err))
}

func (c *Client) sendError(message string, retryable bool) {
	c.sendJSON(ErrorMsg{Type: TypeError, Message: message, Retryable: retryable})
}
