package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the credit_accounts table.
type Account struct {
	UserID           string     `gorm:"primaryKey"`
	Plan             string     `gorm:"not null"`
	Balance          int64      `gorm:"not null"`
	MonthlyAllowance int64      `gorm:"not null"`
	RolloverBalance  int64      `gorm:"not null"`
	CycleStartAt     *time.Time `gorm:""`
	CreatedAt        time.Time  `gorm:"not null"`
	UpdatedAt        time.Time  `gorm:"not null"`
}

func (Account) TableName() string { return "credit_accounts" }

// CreditTransaction mirrors the credit_transactions table. The
// partial unique index over (user_id, kind, reference_id) backstops
// reference deduplication for the credit-side kinds only: a spend may
// reuse its job reference on retry, so the deduct-fail-refund-retry
// flow records both spends. Rows without a reference carry NULL and
// never collide.
type CreditTransaction struct {
	TransactionID string         `gorm:"type:uuid;primaryKey"`
	UserID        string         `gorm:"not null;index:idx_credit_txn_user_created,priority:1;index:uniq_credit_txn_user_kind_reference,unique,priority:1"`
	Amount        int64          `gorm:"not null"`
	BalanceAfter  int64          `gorm:"not null"`
	Kind          string         `gorm:"not null;index:uniq_credit_txn_user_kind_reference,unique,priority:2"`
	ReferenceID   *string        `gorm:"index:uniq_credit_txn_user_kind_reference,unique,priority:3,where:kind = 'refund' OR kind = 'topup'"`
	Description   string         `gorm:"not null"`
	Metadata      datatypes.JSON `gorm:"not null"`
	CreatedAt     time.Time      `gorm:"not null;index:idx_credit_txn_user_created,priority:2"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }

func (transaction *CreditTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}
