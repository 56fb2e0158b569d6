// Package core sequences the guards around every mutation: the caller
// is authenticated and authorized first, then rate-limited, and only
// then does the store see the request. Reads pass straight through.
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/agora-api/agora/internal/auth"
	"github.com/agora-api/agora/internal/limiter"
	"github.com/agora-api/agora/internal/models"
	"github.com/agora-api/agora/internal/store"
)

// RateLimitError reports a denied admission, carrying how long the
// caller should wait before retrying.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// Caller identifies who is making a request: the presented credential
// (may be empty) and an opaque rate-limit key derived by the transport
// (API-key account name, client IP, ...).
type Caller struct {
	Credential string
	Key        string
}

// NoteStore is the slice of the store the coordinator drives.
type NoteStore interface {
	Create(ctx context.Context, topic, content, author string) (models.Note, error)
	Get(ctx context.Context, id uint) (models.Note, error)
	List(ctx context.Context, f store.Filter, offset, limit int) ([]models.Note, error)
	Update(ctx context.Context, id uint, fields store.UpdateFields) (models.Note, error)
	Vote(ctx context.Context, id uint) (int, error)
	Pin(ctx context.Context, id uint) (bool, error)
	Delete(ctx context.Context, id uint) error
}

// RateLimiter admits or denies a request for a caller key.
type RateLimiter interface {
	CheckAndRecord(key string, now time.Time) limiter.Decision
}

// Gate resolves credentials and authorizes roles.
type Gate interface {
	Resolve(credential string) (auth.Account, error)
	Authorize(role, required auth.Role) error
}

// Coordinator is the single entry point for note operations. All
// collaborators are injected at construction and owned elsewhere.
type Coordinator struct {
	store   NoteStore
	limiter RateLimiter
	gate    Gate
	stats   limiter.StatsStore // optional, best-effort
	now     func() time.Time
}

type Option func(*Coordinator)

// WithStats attaches a best-effort sink for admission decisions.
func WithStats(s limiter.StatsStore) Option {
	return func(c *Coordinator) { c.stats = s }
}

// WithClock overrides the time source. Tests use this.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func New(s NoteStore, l RateLimiter, g Gate, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:   s,
		limiter: l,
		gate:    g,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// guard runs the fixed check order for a mutation. Authorization comes
// before rate limiting so an unauthorized probe cannot burn someone
// else's quota; rate limiting comes before the store so denied
// requests never touch note state.
func (c *Coordinator) guard(ctx context.Context, caller Caller, op string, required auth.Role) error {
	if required != auth.RoleAnonymous {
		acct, err := c.gate.Resolve(caller.Credential)
		if err != nil {
			return err
		}
		if err := c.gate.Authorize(acct.Role, required); err != nil {
			return err
		}
	}

	dec := c.limiter.CheckAndRecord(caller.Key, c.now())
	if c.stats != nil {
		_ = c.stats.Record(ctx, limiter.Event{
			Key:     caller.Key,
			Allowed: dec.Allowed,
			Op:      op,
			At:      c.now(),
		})
	}
	if !dec.Allowed {
		return &RateLimitError{RetryAfter: dec.RetryAfter}
	}
	return nil
}

// CreateNote stores a new note. Open to anonymous callers, rate-limited.
func (c *Coordinator) CreateNote(ctx context.Context, caller Caller, topic, content, author string) (models.Note, error) {
	if err := c.guard(ctx, caller, "create", auth.RoleAnonymous); err != nil {
		return models.Note{}, err
	}
	return c.store.Create(ctx, topic, content, author)
}

// UpdateNote applies a partial update. Open to anonymous callers, rate-limited.
func (c *Coordinator) UpdateNote(ctx context.Context, caller Caller, id uint, fields store.UpdateFields) (models.Note, error) {
	if err := c.guard(ctx, caller, "update", auth.RoleAnonymous); err != nil {
		return models.Note{}, err
	}
	return c.store.Update(ctx, id, fields)
}

// VoteNote increments a note's vote count and returns the new count.
func (c *Coordinator) VoteNote(ctx context.Context, caller Caller, id uint) (int, error) {
	if err := c.guard(ctx, caller, "vote", auth.RoleAnonymous); err != nil {
		return 0, err
	}
	return c.store.Vote(ctx, id)
}

// PinNote toggles a note's pinned flag and returns the new state.
func (c *Coordinator) PinNote(ctx context.Context, caller Caller, id uint) (bool, error) {
	if err := c.guard(ctx, caller, "pin", auth.RoleAnonymous); err != nil {
		return false, err
	}
	return c.store.Pin(ctx, id)
}

// DeleteNote removes a note permanently. Admin only.
func (c *Coordinator) DeleteNote(ctx context.Context, caller Caller, id uint) error {
	if err := c.guard(ctx, caller, "delete", auth.RoleAdmin); err != nil {
		return err
	}
	return c.store.Delete(ctx, id)
}

// GetNote is a read; it bypasses both guards.
func (c *Coordinator) GetNote(ctx context.Context, id uint) (models.Note, error) {
	return c.store.Get(ctx, id)
}

// ListNotes is a read; it bypasses both guards.
func (c *Coordinator) ListNotes(ctx context.Context, f store.Filter, offset, limit int) ([]models.Note, error) {
	return c.store.List(ctx, f, offset, limit)
}
