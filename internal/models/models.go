package models

import (
	"time"
)

// Note is a single note in the Agora.
type Note struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	Topic     string    `gorm:"not null;size:100" json:"topic"`
	Content   string    `gorm:"not null;size:5000" json:"content"`
	Author    string    `gorm:"not null;default:Anonymous" json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	Votes     int       `gorm:"not null;default:0" json:"votes"`
	Pinned    bool      `gorm:"not null;default:false" json:"pinned"`
}

// DefaultAuthor is used when a note is created without an author name.
const DefaultAuthor = "Anonymous"

// Field length bounds, enforced by the store and mirrored by request binding.
const (
	MaxTopicLength   = 100
	MaxContentLength = 5000
)
