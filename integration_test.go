package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"impostor-draw-server/api"
	"impostor-draw-server/auth"
	"impostor-draw-server/config"
	"impostor-draw-server/game"
	"impostor-draw-server/roomsync"
	"impostor-draw-server/storage"
	"impostor-draw-server/ws"
)

// testConfig keeps games short: one lap of one attempt each, then voting.
func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.MaxRounds = 1
	cfg.MaxAttempts = 1
	cfg.DrawingTimeSec = 60
	cfg.VotingTimeSec = 60
	cfg.VoteSettleMS = 50
	cfg.DisconnectGraceMS = 200
	cfg.MessageBurst = 50
	return cfg
}

// setupTestServer creates a test HTTP server with the full server stack on a
// memory store.
func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := testConfig()
	store := storage.NewMemoryStore()
	syncer := roomsync.NewSyncer(store, game.NewEngine(cfg.Rules(), nil))
	tokens, err := auth.NewTokenManager("integration-secret", cfg.TokenTTL())
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	hub := ws.NewHub(cfg, syncer, tokens)
	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()

	server := httptest.NewServer(api.CreateServer(api.NewHandler(cfg, syncer), hub))
	t.Cleanup(func() {
		server.Close()
		cancel()
		<-hubDone
		store.Close()
	})
	return server
}

// connectWS creates a WebSocket connection to the test server.
func connectWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readMsg reads a JSON message from the WebSocket and returns it as a map.
func readMsg(t *testing.T, conn *websocket.Conn, deadline time.Time) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(deadline)
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	var msg map[string]interface{}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to unmarshal: %v\ndata: %s", err, string(data))
	}
	return msg
}

// readUntil skips messages until one satisfies match. Views are pushed on
// every change, so intermediate states are expected.
func readUntil(t *testing.T, conn *websocket.Conn, what string, match func(map[string]interface{}) bool) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		msg := readMsg(t, conn, deadline)
		if match(msg) {
			return msg
		}
	}
}

func ofType(typ string) func(map[string]interface{}) bool {
	return func(msg map[string]interface{}) bool { return msg["type"] == typ }
}

func inPhase(phase string) func(map[string]interface{}) bool {
	return func(msg map[string]interface{}) bool {
		return msg["type"] == "room_state" && msg["phase"] == phase
	}
}

// sendMsg sends a JSON message over the WebSocket.
func sendMsg(t *testing.T, conn *websocket.Conn, msg interface{}) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("failed to write: %v", err)
	}
}

type seat struct {
	conn     *websocket.Conn
	playerID string
	token    string
}

// seatPlayers creates a room with the first name and joins the rest.
func seatPlayers(t *testing.T, server *httptest.Server, names ...string) (code string, seats []seat) {
	t.Helper()
	for i, name := range names {
		conn := connectWS(t, server)
		if i == 0 {
			sendMsg(t, conn, map[string]string{"type": "create_room", "name": name, "avatar": game.Avatars[i], "category": "animales"})
		} else {
			sendMsg(t, conn, map[string]string{"type": "join_room", "code": code, "name": name, "avatar": game.Avatars[i]})
		}
		joined := readUntil(t, conn, name+" joined", ofType("joined"))
		if i == 0 {
			code = joined["code"].(string)
		}
		seats = append(seats, seat{conn: conn, playerID: joined["playerId"].(string), token: joined["token"].(string)})
	}
	return code, seats
}

func playerCount(n int) func(map[string]interface{}) bool {
	return func(msg map[string]interface{}) bool {
		players, _ := msg["players"].([]interface{})
		return msg["type"] == "room_state" && len(players) == n
	}
}

func TestIntegration_FullGame(t *testing.T) {
	server := setupTestServer(t)
	code, seats := seatPlayers(t, server, "Ana", "Beto", "Caro")
	if len(code) != game.RoomCodeLength {
		t.Fatalf("unexpected room code %q", code)
	}

	// The host needs to see everyone before starting.
	readUntil(t, seats[0].conn, "three players", playerCount(3))
	sendMsg(t, seats[0].conn, map[string]string{"type": "start_game"})

	impostor := ""
	words := map[string]bool{}
	for _, s := range seats {
		st := readUntil(t, s.conn, "card reveal", inPhase("cardReveal"))
		if st["isImpostor"] == true {
			if impostor != "" {
				t.Fatal("more than one impostor")
			}
			impostor = s.playerID
		}
		words[st["word"].(string)] = true
		sendMsg(t, s.conn, map[string]string{"type": "reveal_card"})
	}
	if impostor == "" {
		t.Fatal("nobody is the impostor")
	}
	if len(words) != 2 || !words[game.ImpostorWord] {
		t.Fatalf("expected one normal word and the impostor word, got %v", words)
	}

	readUntil(t, seats[0].conn, "all cards seen", func(msg map[string]interface{}) bool {
		return msg["type"] == "room_state" && msg["allCardsSeen"] == true
	})
	sendMsg(t, seats[0].conn, map[string]string{"type": "start_drawing"})

	for i, s := range seats {
		readUntil(t, s.conn, fmt.Sprintf("turn of player %d", i), func(msg map[string]interface{}) bool {
			return msg["type"] == "room_state" && msg["phase"] == "drawing" && msg["yourTurn"] == true
		})
		sendMsg(t, s.conn, map[string]string{"type": "finish_turn", "drawing": "data:image/png;base64,AAAA"})
	}

	for _, s := range seats {
		readUntil(t, s.conn, "voting", inPhase("voting"))
		sendMsg(t, s.conn, map[string]string{"type": "cast_vote", "playerId": impostor})
	}

	for _, s := range seats {
		res := readUntil(t, s.conn, "results", inPhase("results"))
		results := res["results"].(map[string]interface{})
		if results["correct"] != true {
			t.Errorf("expected the impostor to be caught, got %v", results)
		}
		if results["impostor"].(map[string]interface{})["id"] != impostor {
			t.Errorf("results name the wrong impostor: %v", results["impostor"])
		}
	}

	sendMsg(t, seats[1].conn, map[string]string{"type": "new_game"})
	for _, s := range seats {
		st := readUntil(t, s.conn, "back to waiting", inPhase("waiting"))
		if _, ok := st["word"]; ok {
			t.Errorf("word should be hidden while waiting, got %v", st["word"])
		}
	}

	resp, err := server.Client().Get(server.URL + "/api/rooms/" + code + "/drawings")
	if err != nil {
		t.Fatalf("drawings request: %v", err)
	}
	defer resp.Body.Close()
	var gallery struct {
		Drawings []roomsync.Drawing `json:"drawings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&gallery); err != nil {
		t.Fatalf("decode drawings: %v", err)
	}
	if len(gallery.Drawings) != 3 {
		t.Errorf("expected 3 drawings, got %d", len(gallery.Drawings))
	}
}

func TestIntegration_ResumeWithToken(t *testing.T) {
	server := setupTestServer(t)
	_, seats := seatPlayers(t, server, "Ana", "Beto")
	seats[1].conn.Close()

	conn := connectWS(t, server)
	sendMsg(t, conn, map[string]string{"type": "resume", "token": seats[1].token})
	joined := readUntil(t, conn, "joined", ofType("joined"))
	if joined["playerId"] != seats[1].playerID {
		t.Fatalf("resumed as %v, want %s", joined["playerId"], seats[1].playerID)
	}
	st := readUntil(t, conn, "room state", playerCount(2))
	if st["you"] != seats[1].playerID {
		t.Errorf("view is for %v, want %s", st["you"], seats[1].playerID)
	}
}

func TestIntegration_Errors(t *testing.T) {
	server := setupTestServer(t)
	conn := connectWS(t, server)

	testCases := []struct {
		name string
		msg  interface{}
	}{
		{name: "action outside a room", msg: map[string]string{"type": "start_game"}},
		{name: "unknown code", msg: map[string]string{"type": "join_room", "code": "ZZZZZZ", "name": "Ana", "avatar": game.Avatars[0]}},
		{name: "bad token", msg: map[string]string{"type": "resume", "token": "nope"}},
		{name: "empty name", msg: map[string]string{"type": "create_room", "name": " ", "avatar": game.Avatars[0]}},
		{name: "unknown avatar", msg: map[string]string{"type": "create_room", "name": "Ana", "avatar": "x"}},
		{name: "unknown category", msg: map[string]string{"type": "create_room", "name": "Ana", "avatar": game.Avatars[0], "category": "nope"}},
		{name: "unknown type", msg: map[string]string{"type": "flip_card"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sendMsg(t, conn, tc.msg)
			msg := readMsg(t, conn, time.Now().Add(3*time.Second))
			if msg["type"] != "error" {
				t.Fatalf("expected error, got %v", msg)
			}
			if msg["retryable"] != false {
				t.Errorf("expected a non-retryable error, got %v", msg)
			}
		})
	}
}

func TestIntegration_JoinAfterStartIsRejected(t *testing.T) {
	server := setupTestServer(t)
	code, seats := seatPlayers(t, server, "Ana", "Beto", "Caro")
	readUntil(t, seats[0].conn, "three players", playerCount(3))
	sendMsg(t, seats[0].conn, map[string]string{"type": "start_game"})
	readUntil(t, seats[0].conn, "card reveal", inPhase("cardReveal"))

	late := connectWS(t, server)
	sendMsg(t, late, map[string]string{"type": "join_room", "code": code, "name": "Dani", "avatar": game.Avatars[3]})
	msg := readMsg(t, late, time.Now().Add(3*time.Second))
	if msg["type"] != "error" {
		t.Fatalf("expected error joining a started game, got %v", msg)
	}
}
