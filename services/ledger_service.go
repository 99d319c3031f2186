package services

import (
	"errors"
	"fmt"

	"pet-companion-system/models"

	"gorm.io/gorm"
)

var ErrInsufficientTokens = errors.New("insufficient tokens")

// TokenLedger is what the pet flows see of the wallet: balance reads plus
// credit/debit. LedgerService is the production implementation.
type TokenLedger interface {
	Balance(userID string) (int64, error)
	Credit(userID string, amount int64) (int64, error)
	Debit(userID string, amount int64) (int64, error)
}

// LedgerService owns the token_wallets table. Consumers only read balances
// and call Credit/Debit; wallet internals stay here.
type LedgerService struct {
	DB *gorm.DB
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{DB: db}
}

// Balance returns the user's current balance, creating an empty wallet on
// first touch (idempotent).
func (s *LedgerService) Balance(userID string) (int64, error) {
	wallet, err := s.ensureWallet(s.DB, userID)
	if err != nil {
		return 0, err
	}
	return wallet.Balance, nil
}

// Credit adds tokens (focus sessions, task completion).
func (s *LedgerService) Credit(userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	var balance int64
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		wallet, err := s.ensureWallet(tx, userID)
		if err != nil {
			return err
		}
		wallet.Balance += amount
		balance = wallet.Balance
		return tx.Save(wallet).Error
	})
	return balance, err
}

// Debit removes tokens, failing with ErrInsufficientTokens before any write
// when the balance does not cover the amount.
func (s *LedgerService) Debit(userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	var balance int64
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		wallet, err := s.ensureWallet(tx, userID)
		if err != nil {
			return err
		}
		if wallet.Balance < amount {
			return fmt.Errorf("%w: have %d, need %d", ErrInsufficientTokens, wallet.Balance, amount)
		}
		wallet.Balance -= amount
		balance = wallet.Balance
		return tx.Save(wallet).Error
	})
	return balance, err
}

func (s *LedgerService) ensureWallet(tx *gorm.DB, userID string) (*models.TokenWallet, error) {
	var wallet models.TokenWallet
	err := tx.Where("user_id = ?", userID).First(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		wallet = models.TokenWallet{UserID: userID, Balance: 0}
		if err := tx.Create(&wallet).Error; err != nil {
			return nil, err
		}
		return &wallet, nil
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}
