package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a verified customer. Rows are created on first
// successful phone verification and are never deleted. BonusBalance and
// LoyaltyLevel are owned by the settlement engine; Version guards their
// read-modify-write against concurrent orders by the same user.
type User struct {
	BaseModel
	Name         string  `json:"name"`
	Phone        string  `gorm:"uniqueIndex" json:"phone"`
	Email        string  `json:"email,omitempty"`
	BonusBalance int     `json:"bonus_balance"`
	TotalSpent   float64 `json:"total_spent"`
	LoyaltyLevel string  `json:"loyalty_level"`
	Version      int64   `json:"-"`

	BonusTransactions []BonusTransaction `json:"bonus_transactions,omitempty"`
	Orders            []Order            `json:"orders,omitempty"`
}

// Bonus transaction types. Closed set: the ledger records nothing else.
const (
	BonusTxRegistration  = "registration"
	BonusTxOrderPayment  = "order_payment"
	BonusTxOrderCashback = "order_cashback"
)

// BonusTransaction is one append-only ledger entry. For every user the
// sum of Amount over all entries equals the user's BonusBalance.
type BonusTransaction struct {
	BaseModel
	UserID       uuid.UUID  `gorm:"type:uuid;index" json:"user_id"`
	OrderID      *uuid.UUID `gorm:"type:uuid" json:"order_id,omitempty"`
	Type         string     `json:"type"`
	Amount       int        `json:"amount"`
	BalanceAfter int        `json:"balance_after"`
	OccurredAt   time.Time  `json:"occurred_at"`
}
