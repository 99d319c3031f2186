package services

import (
	"context"
	"errors"
	"sync"

	"pet-companion-system/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Local persistence keys. Layout carried over from the mobile client's
// AsyncStorage so remote-seeded values stay interchangeable.
const (
	PetDataKey        = "@pet_data"
	PetStatsKey       = "petStats"
	LastUpdateTimeKey = "lastUpdateTime"
	BackgroundKey     = "selectedBackground"
)

// KVStore is the local durable key-value persistence collaborator. No
// transactions across keys; writes are best-effort from the caller's view.
type KVStore interface {
	Get(ctx context.Context, userID, key string) (string, bool, error)
	Set(ctx context.Context, userID, key, value string) error
}

// GormKVStore persists entries in the kv_entries table.
type GormKVStore struct {
	DB *gorm.DB
}

func NewGormKVStore(db *gorm.DB) *GormKVStore {
	return &GormKVStore{DB: db}
}

func (s *GormKVStore) Get(ctx context.Context, userID, key string) (string, bool, error) {
	var entry models.KVEntry
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND key = ?", userID, key).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return entry.Value, true, nil
}

func (s *GormKVStore) Set(ctx context.Context, userID, key, value string) error {
	entry := models.KVEntry{UserID: userID, Key: key, Value: value}
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
}

// MemoryKVStore is the dev/test KVStore.
type MemoryKVStore struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{data: make(map[string]map[string]string)}
}

func (s *MemoryKVStore) Get(_ context.Context, userID, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[userID][key]
	return v, ok, nil
}

func (s *MemoryKVStore) Set(_ context.Context, userID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[userID] == nil {
		s.data[userID] = make(map[string]string)
	}
	s.data[userID][key] = value
	return nil
}
