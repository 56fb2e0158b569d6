package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/agora-api/agora/internal/models"
)

var (
	// ErrNotFound is returned when an operation references a note id
	// that does not exist (or no longer exists).
	ErrNotFound = errors.New("note not found")

	// ErrValidation is returned when input reaching the store is
	// malformed (empty required field, out-of-range length).
	ErrValidation = errors.New("invalid note input")
)

// Sort selects the ordering of List results.
type Sort string

const (
	// SortID orders by id ascending (creation order). The default.
	SortID Sort = ""
	// SortTop orders by votes descending, ties broken by id ascending.
	SortTop Sort = "top"
)

// Filter narrows List results. Zero values mean "no filter".
type Filter struct {
	Topic    string
	Author   string
	Search   string // substring match on content
	MinVotes int
	Sort     Sort
}

// UpdateFields carries a partial note update. Nil fields are left unchanged.
type UpdateFields struct {
	Topic   *string
	Content *string
	Author  *string
}

// NoteStore owns note records and performs atomic single-record
// mutations against the database. Vote and Pin are in-database
// read-modify-writes, so concurrent callers never lose updates.
type NoteStore struct {
	db     *gorm.DB
	nextID atomic.Uint64
}

// New builds a NoteStore over db. The id sequence is seeded from the
// highest existing id so that ids of deleted notes are never reused.
func New(db *gorm.DB) (*NoteStore, error) {
	s := &NoteStore{db: db}

	var maxID uint64
	row := db.Model(&models.Note{}).Select("COALESCE(MAX(id), 0)").Row()
	if err := row.Scan(&maxID); err != nil {
		return nil, fmt.Errorf("seed id sequence: %w", err)
	}
	s.nextID.Store(maxID)

	return s, nil
}

func validateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic must not be empty", ErrValidation)
	}
	if utf8.RuneCountInString(topic) > models.MaxTopicLength {
		return fmt.Errorf("%w: topic exceeds %d characters", ErrValidation, models.MaxTopicLength)
	}
	return nil
}

func validateContent(content string) error {
	if content == "" {
		return fmt.Errorf("%w: content must not be empty", ErrValidation)
	}
	if utf8.RuneCountInString(content) > models.MaxContentLength {
		return fmt.Errorf("%w: content exceeds %d characters", ErrValidation, models.MaxContentLength)
	}
	return nil
}

// Create stores a new note and returns it with its assigned id.
// An empty author defaults to Anonymous.
func (s *NoteStore) Create(ctx context.Context, topic, content, author string) (models.Note, error) {
	if err := validateTopic(topic); err != nil {
		return models.Note{}, err
	}
	if err := validateContent(content); err != nil {
		return models.Note{}, err
	}
	if author == "" {
		author = models.DefaultAuthor
	}

	note := models.Note{
		ID:        uint(s.nextID.Add(1)),
		Topic:     topic,
		Content:   content,
		Author:    author,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		return models.Note{}, fmt.Errorf("create note: %w", err)
	}
	return note, nil
}

// Get returns the note with the given id.
func (s *NoteStore) Get(ctx context.Context, id uint) (models.Note, error) {
	var note models.Note
	err := s.db.WithContext(ctx).First(&note, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Note{}, ErrNotFound
	}
	if err != nil {
		return models.Note{}, fmt.Errorf("get note: %w", err)
	}
	return note, nil
}

// List returns notes matching the filter. Each call runs a fresh query.
func (s *NoteStore) List(ctx context.Context, f Filter, offset, limit int) ([]models.Note, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := s.db.WithContext(ctx).Model(&models.Note{})
	if f.Topic != "" {
		q = q.Where("topic = ?", f.Topic)
	}
	if f.Author != "" {
		q = q.Where("author = ?", f.Author)
	}
	if f.Search != "" {
		q = q.Where("content LIKE ?", "%"+f.Search+"%")
	}
	if f.MinVotes > 0 {
		q = q.Where("votes >= ?", f.MinVotes)
	}

	switch f.Sort {
	case SortTop:
		q = q.Order("votes desc, id asc")
	default:
		q = q.Order("id asc")
	}

	var notes []models.Note
	if err := q.Offset(offset).Limit(limit).Find(&notes).Error; err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return notes, nil
}

// Update applies a partial update to the note and returns the new record.
func (s *NoteStore) Update(ctx context.Context, id uint, fields UpdateFields) (models.Note, error) {
	changes := map[string]interface{}{}
	if fields.Topic != nil {
		if err := validateTopic(*fields.Topic); err != nil {
			return models.Note{}, err
		}
		changes["topic"] = *fields.Topic
	}
	if fields.Content != nil {
		if err := validateContent(*fields.Content); err != nil {
			return models.Note{}, err
		}
		changes["content"] = *fields.Content
	}
	if fields.Author != nil {
		author := *fields.Author
		if author == "" {
			author = models.DefaultAuthor
		}
		changes["author"] = author
	}

	var note models.Note
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(changes) > 0 {
			res := tx.Model(&models.Note{}).Where("id = ?", id).Updates(changes)
			if res.Error != nil {
				return fmt.Errorf("update note: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return ErrNotFound
			}
		}
		if err := tx.First(&note, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("reload note: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Note{}, err
	}
	return note, nil
}

// Vote increments the note's vote count by one and returns the new
// count. The increment runs inside the database, not as a read
// followed by a write, so N concurrent votes always land as N.
func (s *NoteStore) Vote(ctx context.Context, id uint) (int, error) {
	var votes int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Note{}).Where("id = ?", id).
			UpdateColumn("votes", gorm.Expr("votes + ?", 1))
		if res.Error != nil {
			return fmt.Errorf("vote: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Model(&models.Note{}).Where("id = ?", id).
			Select("votes").Scan(&votes).Error
	})
	if err != nil {
		return 0, err
	}
	return votes, nil
}

// Pin flips the note's pinned flag and returns the new state. Pinning
// twice returns the note to its original state.
func (s *NoteStore) Pin(ctx context.Context, id uint) (bool, error) {
	var pinned bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Note{}).Where("id = ?", id).
			UpdateColumn("pinned", gorm.Expr("NOT pinned"))
		if res.Error != nil {
			return fmt.Errorf("pin: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Model(&models.Note{}).Where("id = ?", id).
			Select("pinned").Scan(&pinned).Error
	})
	if err != nil {
		return false, err
	}
	return pinned, nil
}

// Delete removes the note permanently. The caller is responsible for
// authorization.
func (s *NoteStore) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.Note{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete note: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
