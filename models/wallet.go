package models

import (
	"time"

	"gorm.io/gorm"
)

// TokenWallet is the token/points ledger row for one user. The pet flows only
// read the balance and call credit/debit through the ledger service.
type TokenWallet struct {
	UserID  string `gorm:"primaryKey;size:128" json:"user_id"`
	Balance int64  `gorm:"not null;default:0" json:"balance"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (TokenWallet) TableName() string { return "token_wallets" }
