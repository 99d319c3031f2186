package models

import "time"

// KVEntry backs the local durable key-value persistence collaborator.
// Keys are scoped per user so one service instance can hold state for many
// devices/users.
// Table name: kv_entries
type KVEntry struct {
	UserID    string    `gorm:"primaryKey;size:128" json:"user_id"`
	Key       string    `gorm:"primaryKey;size:128" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (KVEntry) TableName() string { return "kv_entries" }
