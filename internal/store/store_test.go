package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/agora-api/agora/internal/models"
	"github.com/agora-api/agora/internal/store"
)

func newTestStore(t *testing.T) *store.NoteStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection so every goroutine sees the same in-memory database.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.Note{}))

	s, err := store.New(db)
	require.NoError(t, err)
	return s
}

func TestCreateAssignsSequentialIDsAndDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Create(ctx, "go", "generics are here", "")
	require.NoError(t, err)
	second, err := s.Create(ctx, "go", "and iterators too", "gopher")
	require.NoError(t, err)

	assert.Equal(t, uint(1), first.ID)
	assert.Equal(t, uint(2), second.ID)
	assert.Equal(t, "Anonymous", first.Author)
	assert.Equal(t, "gopher", second.Author)
	assert.Equal(t, 0, first.Votes)
	assert.False(t, first.Pinned)
	assert.False(t, first.CreatedAt.IsZero())
}

func TestCreateValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "", "content", "")
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = s.Create(ctx, "topic", "", "")
	assert.ErrorIs(t, err, store.ErrValidation)

	long := make([]rune, models.MaxTopicLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = s.Create(ctx, string(long), "content", "")
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), 999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestVote(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	note, err := s.Create(ctx, "t", "c", "")
	require.NoError(t, err)

	votes, err := s.Vote(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, votes)

	votes, err = s.Vote(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, votes)

	_, err = s.Vote(ctx, 999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestVoteConcurrentLosesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	note, err := s.Create(ctx, "t", "c", "")
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Vote(ctx, note.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, n, got.Votes)
}

func TestPinTogglesBackAfterTwoCalls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	note, err := s.Create(ctx, "t", "c", "")
	require.NoError(t, err)

	pinned, err := s.Pin(ctx, note.ID)
	require.NoError(t, err)
	assert.True(t, pinned)

	pinned, err = s.Pin(ctx, note.ID)
	require.NoError(t, err)
	assert.False(t, pinned)

	_, err = s.Pin(ctx, 999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteAndIDsNeverReused(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "t", "c1", "")
	require.NoError(t, err)
	second, err := s.Create(ctx, "t", "c2", "")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, second.ID))

	_, err = s.Get(ctx, second.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, second.ID), store.ErrNotFound)

	// The id of the deleted note is gone for good.
	third, err := s.Create(ctx, "t", "c3", "")
	require.NoError(t, err)
	assert.Equal(t, uint(3), third.ID)
}

func TestUpdatePartialFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	note, err := s.Create(ctx, "old", "old content", "alice")
	require.NoError(t, err)

	topic := "new"
	updated, err := s.Update(ctx, note.ID, store.UpdateFields{Topic: &topic})
	require.NoError(t, err)
	assert.Equal(t, "new", updated.Topic)
	assert.Equal(t, "old content", updated.Content)
	assert.Equal(t, "alice", updated.Author)

	empty := ""
	_, err = s.Update(ctx, note.ID, store.UpdateFields{Content: &empty})
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = s.Update(ctx, 999, store.UpdateFields{Topic: &topic})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListFiltersAndOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.Create(ctx, "go", "slices and maps", "alice")
	require.NoError(t, err)
	b, err := s.Create(ctx, "go", "channels everywhere", "bob")
	require.NoError(t, err)
	c, err := s.Create(ctx, "rust", "borrow checker", "alice")
	require.NoError(t, err)

	// b gets two votes, c gets one.
	_, err = s.Vote(ctx, b.ID)
	require.NoError(t, err)
	_, err = s.Vote(ctx, b.ID)
	require.NoError(t, err)
	_, err = s.Vote(ctx, c.ID)
	require.NoError(t, err)

	all, err := s.List(ctx, store.Filter{}, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []uint{a.ID, b.ID, c.ID}, []uint{all[0].ID, all[1].ID, all[2].ID})

	top, err := s.List(ctx, store.Filter{Sort: store.SortTop}, 0, 0)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, b.ID, top[0].ID)
	assert.Equal(t, c.ID, top[1].ID)
	assert.Equal(t, a.ID, top[2].ID)

	byTopic, err := s.List(ctx, store.Filter{Topic: "go"}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, byTopic, 2)

	byAuthor, err := s.List(ctx, store.Filter{Author: "alice"}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, byAuthor, 2)

	bySearch, err := s.List(ctx, store.Filter{Search: "channels"}, 0, 0)
	require.NoError(t, err)
	require.Len(t, bySearch, 1)
	assert.Equal(t, b.ID, bySearch[0].ID)

	voted, err := s.List(ctx, store.Filter{MinVotes: 2}, 0, 0)
	require.NoError(t, err)
	require.Len(t, voted, 1)
	assert.Equal(t, b.ID, voted[0].ID)

	page, err := s.List(ctx, store.Filter{}, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, b.ID, page[0].ID)
}

func TestListTopBreaksTiesByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.Create(ctx, "t", "c1", "")
	require.NoError(t, err)
	b, err := s.Create(ctx, "t", "c2", "")
	require.NoError(t, err)

	_, err = s.Vote(ctx, a.ID)
	require.NoError(t, err)
	_, err = s.Vote(ctx, b.ID)
	require.NoError(t, err)

	top, err := s.List(ctx, store.Filter{Sort: store.SortTop}, 0, 0)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, a.ID, top[0].ID)
	assert.Equal(t, b.ID, top[1].ID)
}
