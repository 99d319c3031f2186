package models

import (
	"time"

	"gorm.io/gorm"
)

// UserMirror is a local snapshot of the remote users collection, populated by
// the presence sync worker. The leaderboard serves from it when the remote
// store is unreachable — availability over strict freshness.
type UserMirror struct {
	ID           string    `gorm:"primaryKey;size:128" json:"id"` // remote document id
	DisplayName  string    `gorm:"index;not null" json:"display_name"`
	Status       string    `gorm:"size:16;default:'offline'" json:"status"`
	PetName      string    `json:"pet_name"`
	PetSelection *int      `json:"pet_selection,omitempty"`
	HasPet       bool      `gorm:"default:false" json:"has_pet"`
	Tokens       int64     `gorm:"default:0" json:"tokens"`
	LastActive   time.Time `json:"last_active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (UserMirror) TableName() string { return "user_mirrors" }
