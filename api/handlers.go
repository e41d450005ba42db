package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"impostor-draw-server/config"
	"impostor-draw-server/game"
	"impostor-draw-server/roomerrors"
	"impostor-draw-server/roomsync"
	"impostor-draw-server/words"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	Config *config.Config
	Syncer *roomsync.Syncer
}

// NewHandler creates a new API handler with the given dependencies.
func NewHandler(cfg *config.Config, syncer *roomsync.Syncer) *Handler {
	return &Handler{
		Config: cfg,
		Syncer: syncer,
	}
}

// Health reports that the process is serving.
func (h *Handler) Health(ctx *gin.Context) {
	ctx.String(http.StatusOK, "healthy")
}

// CategoryResponse is one selectable category. Words are left out.
type CategoryResponse struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Categories lists the word categories a room can be created with.
func (h *Handler) Categories(ctx *gin.Context) {
	cats := words.Categories()
	out := make([]CategoryResponse, len(cats))
	for i, c := range cats {
		out[i] = CategoryResponse{Key: c.Key, Name: c.Name, Count: len(c.Words)}
	}
	ctx.JSON(http.StatusOK, gin.H{"categories": out, "default": words.DefaultCategory})
}

// PlayerSummary is the public part of a player.
type PlayerSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// RoomSummary is what the join screen shows about a room. It never carries
// the words or the impostor.
type RoomSummary struct {
	ID         string          `json:"id"`
	Code       string          `json:"code"`
	Phase      game.Phase      `json:"phase"`
	Category   string          `json:"category"`
	Round      int             `json:"round"`
	Players    []PlayerSummary `json:"players"`
	MaxPlayers int             `json:"maxPlayers"`
	Joinable   bool            `json:"joinable"`
}

func (h *Handler) summarize(room *game.Room) RoomSummary {
	rules := h.Syncer.Engine().Rules
	s := RoomSummary{
		ID:         room.ID,
		Code:       room.Code,
		Phase:      room.Phase,
		Category:   room.SelectedCategory,
		Round:      room.Round,
		Players:    make([]PlayerSummary, len(room.Players)),
		MaxPlayers: rules.MaxPlayers,
		Joinable:   room.Phase == game.PhaseWaiting && len(room.Players) < rules.MaxPlayers,
	}
	for i, p := range room.Players {
		s.Players[i] = PlayerSummary{ID: p.ID, Name: p.Name, Avatar: p.Avatar}
	}
	return s
}

// Room looks a room up by its join code.
func (h *Handler) Room(ctx *gin.Context) {
	room, ok := h.findRoom(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, h.summarize(room))
}

// Drawings returns the drawing log of the room with the given code.
func (h *Handler) Drawings(ctx *gin.Context) {
	room, ok := h.findRoom(ctx)
	if !ok {
		return
	}
	drawings, err := h.Syncer.ListDrawings(ctx.Request.Context(), room.ID)
	if err != nil {
		slog.Error("failed to list drawings", "tag", "api", "roomID", room.ID, "err", err)
		ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "store-unavailable"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"roomId": room.ID, "drawings": drawings})
}

// findRoom resolves the :code parameter, writing the error response itself
// when it fails.
func (h *Handler) findRoom(ctx *gin.Context) (*game.Room, bool) {
	room, err := h.Syncer.FindRoomByCode(ctx.Request.Context(), ctx.Param("code"))
	switch {
	case err == nil:
		return room, true
	case errors.Is(err, roomerrors.ErrRoomNotFound):
		ctx.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "room-not-found"})
	default:
		slog.Error("room lookup failed", "tag", "api", "code", ctx.Param("code"), "err", err)
		ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "store-unavailable"})
	}
	return nil, false
}
