package services

import (
	"strings"

	"gorm.io/gorm"

	"pet-companion-system/models"
)

// UserDirectory serves the invite picker from the locally mirrored user
// table, so typing in the picker never hits the remote store per keystroke.
type UserDirectory struct {
	DB *gorm.DB
}

func NewUserDirectory(db *gorm.DB) *UserDirectory {
	return &UserDirectory{DB: db}
}

// Search finds users whose display name contains the query, excluding the
// caller. Empty queries return the most recently active users.
func (d *UserDirectory) Search(query, excludeID string, limit int) ([]models.UserMirror, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	tx := d.DB.Model(&models.UserMirror{}).
		Where("id <> ?", excludeID).
		Order("last_active DESC").
		Limit(limit)

	query = strings.TrimSpace(query)
	if query != "" {
		tx = tx.Where("display_name ILIKE ?", "%"+query+"%")
	}

	var users []models.UserMirror
	if err := tx.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}
