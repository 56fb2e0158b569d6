package http

import (
	"encoding/json"
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agora-api/agora/internal/auth"
	"github.com/agora-api/agora/internal/core"
	"github.com/agora-api/agora/internal/limiter"
	"github.com/agora-api/agora/internal/store"
	"github.com/agora-api/agora/internal/ws"
)

// --- Structs for request binding ---

type CreateNoteInput struct {
	Topic   string `json:"topic" binding:"required,min=1,max=100"`
	Content string `json:"content" binding:"required,min=1,max=5000"`
	Author  string `json:"author" binding:"omitempty,max=100"`
}

type UpdateNoteInput struct {
	Topic   *string `json:"topic" binding:"omitempty,min=1,max=100"`
	Content *string `json:"content" binding:"omitempty,min=1,max=5000"`
	Author  *string `json:"author" binding:"omitempty,max=100"`
}

// WsMessage is the JSON envelope pushed to WebSocket clients.
type WsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// --- Handlers ---

// Env holds the dependencies the handlers need.
type Env struct {
	Coordinator *core.Coordinator
	Gate        *auth.Gate
	Stats       *limiter.MemoryStats
	Hub         *ws.Hub
}

// apiKeyHeader carries the caller's credential.
const apiKeyHeader = "X-API-Key"

// caller derives the core's caller identity from the request: the raw
// credential, and a rate-limit key that is the account name for a
// valid key or the client IP otherwise.
func (e *Env) caller(c *gin.Context) core.Caller {
	cred := c.GetHeader(apiKeyHeader)
	key := c.ClientIP()
	if cred != "" {
		if acct, err := e.Gate.Resolve(cred); err == nil {
			key = "key:" + acct.Name
		}
	}
	return core.Caller{Credential: cred, Key: key}
}

// writeError maps the core's error taxonomy onto HTTP. The three
// auth failures stay distinguishable on the wire.
func writeError(c *gin.Context, err error) {
	var rle *core.RateLimitError
	switch {
	case errors.Is(err, store.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Note not found"})
	case errors.Is(err, auth.ErrMissingCredential):
		c.Header("WWW-Authenticate", "ApiKey")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "API key required. Please provide X-API-Key header"})
	case errors.Is(err, auth.ErrInvalidCredential):
		c.JSON(http.StatusForbidden, gin.H{"error": "Invalid API key"})
	case errors.Is(err, auth.ErrInsufficientRole):
		c.JSON(http.StatusForbidden, gin.H{"error": "Admin access required for this operation"})
	case errors.As(err, &rle):
		retry := int(math.Ceil(rle.RetryAfter.Seconds()))
		if retry < 1 {
			retry = 1
		}
		c.Header("Retry-After", strconv.Itoa(retry))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded. Please try again later."})
	default:
		log.Printf("internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func noteID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid note ID"})
		return 0, false
	}
	return uint(id), true
}

func (e *Env) CreateNote(c *gin.Context) {
	var input CreateNoteInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}

	note, err := e.Coordinator.CreateNote(c.Request.Context(), e.caller(c), input.Topic, input.Content, input.Author)
	if err != nil {
		writeError(c, err)
		return
	}

	e.broadcastMessage(WsMessage{Type: "new_note", Data: note})
	c.JSON(http.StatusCreated, note)
}

func (e *Env) GetNotes(c *gin.Context) {
	f := store.Filter{
		Topic:  c.Query("topic"),
		Author: c.Query("author"),
		Search: c.Query("search"),
	}
	if mv, err := strconv.Atoi(c.Query("min_votes")); err == nil {
		f.MinVotes = mv
	}
	if c.Query("sort") == "top" {
		f.Sort = store.SortTop
	}
	offset, _ := strconv.Atoi(c.Query("offset"))
	limit, _ := strconv.Atoi(c.Query("limit"))

	notes, err := e.Coordinator.ListNotes(c.Request.Context(), f, offset, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, notes)
}

func (e *Env) GetTopNotes(c *gin.Context) {
	notes, err := e.Coordinator.ListNotes(c.Request.Context(), store.Filter{Sort: store.SortTop}, 0, 10)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, notes)
}

func (e *Env) GetNote(c *gin.Context) {
	id, ok := noteID(c)
	if !ok {
		return
	}
	note, err := e.Coordinator.GetNote(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, note)
}

func (e *Env) UpdateNote(c *gin.Context) {
	id, ok := noteID(c)
	if !ok {
		return
	}
	var input UpdateNoteInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}

	note, err := e.Coordinator.UpdateNote(c.Request.Context(), e.caller(c), id, store.UpdateFields{
		Topic:   input.Topic,
		Content: input.Content,
		Author:  input.Author,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, note)
}

func (e *Env) VoteNote(c *gin.Context) {
	id, ok := noteID(c)
	if !ok {
		return
	}
	votes, err := e.Coordinator.VoteNote(c.Request.Context(), e.caller(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	payload := gin.H{"id": id, "votes": votes}
	e.broadcastMessage(WsMessage{Type: "vote", Data: payload})
	c.JSON(http.StatusOK, payload)
}

func (e *Env) PinNote(c *gin.Context) {
	id, ok := noteID(c)
	if !ok {
		return
	}
	pinned, err := e.Coordinator.PinNote(c.Request.Context(), e.caller(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	payload := gin.H{"id": id, "pinned": pinned}
	e.broadcastMessage(WsMessage{Type: "pin", Data: payload})
	c.JSON(http.StatusOK, payload)
}

func (e *Env) DeleteNote(c *gin.Context) {
	id, ok := noteID(c)
	if !ok {
		return
	}
	if err := e.Coordinator.DeleteNote(c.Request.Context(), e.caller(c), id); err != nil {
		writeError(c, err)
		return
	}

	e.broadcastMessage(WsMessage{Type: "delete", Data: gin.H{"id": id}})
	c.JSON(http.StatusOK, gin.H{"message": "Note deleted successfully"})
}

// GetStats reports rate-limit decision counters. Any authenticated
// user may read it.
func (e *Env) GetStats(c *gin.Context) {
	acct, err := e.Gate.Resolve(c.GetHeader(apiKeyHeader))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := e.Gate.Authorize(acct.Role, auth.RoleUser); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":  acct.Name,
		"role":  acct.Role,
		"total": e.Stats.Total(),
		"byOp":  e.Stats.ByOp(),
	})
}

func (e *Env) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "agora"})
}

func (e *Env) broadcastMessage(msg WsMessage) {
	if e.Hub == nil {
		return
	}
	jsonMsg, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Error marshalling WS message: %v", err)
		return
	}
	e.Hub.Broadcast <- jsonMsg
}
