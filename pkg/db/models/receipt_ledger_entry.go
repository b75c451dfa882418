package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vyris/vyris-backend/pkg/enums"
)

// ReceiptLedgerEntry records the mint outcome for one receipt hash.
type ReceiptLedgerEntry struct {
	ID           uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	ReceiptHash  string              `gorm:"column:receipt_hash;not null;uniqueIndex:ux_receipt_ledger_receipt_hash"`
	UserID       string              `gorm:"column:user_id;not null"`
	OriginalTxID *string             `gorm:"column:original_tx_id"`
	Status       enums.ReceiptStatus `gorm:"column:status;type:text;not null;index:idx_receipt_ledger_status_updated,priority:1"`
	MembershipID *uuid.UUID          `gorm:"column:membership_id;type:uuid"`
	ErrorDetail  *string             `gorm:"column:error_detail"`
	Attempts     int                 `gorm:"column:attempts;not null;default:1"`
	CreatedAt    time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time           `gorm:"column:updated_at;autoUpdateTime;index:idx_receipt_ledger_status_updated,priority:2"`
}

func (ReceiptLedgerEntry) TableName() string { return "receipt_ledger" }

func (e *ReceiptLedgerEntry) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
