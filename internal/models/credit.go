package models

import "time"

type PackageStatus string

const (
	PackageActive    PackageStatus = "active"
	PackageExhausted PackageStatus = "exhausted"
	PackageExpired   PackageStatus = "expired"
)

type LedgerReason string

const (
	ReasonBooking         LedgerReason = "booking"
	ReasonRefund          LedgerReason = "refund"
	ReasonManualGrant     LedgerReason = "manual_grant"
	ReasonManualDeduction LedgerReason = "manual_deduction"
	ReasonPurchase        LedgerReason = "purchase"
)

// CreditPackage is a block of credits a client acquired. Status is never
// stored; see DerivePackageStatus.
type CreditPackage struct {
	ID              string     `gorm:"type:uuid;primaryKey" json:"id"`
	ClientID        string     `gorm:"type:varchar(64);not null;index" json:"client_id"`
	TotalCredits    int        `gorm:"not null;check:total_credits >= 0" json:"total_credits"`
	ConsumedCredits int        `gorm:"not null;default:0;check:consumed_credits >= 0" json:"consumed_credits"`
	ExpiresAt       *time.Time `gorm:"index" json:"expires_at,omitempty"`
	SourceRef       *string    `gorm:"type:varchar(128);uniqueIndex" json:"source_ref,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (p *CreditPackage) Remaining() int {
	return p.TotalCredits - p.ConsumedCredits
}

func (p *CreditPackage) StatusAt(now time.Time) PackageStatus {
	return DerivePackageStatus(p.Remaining(), p.ExpiresAt, now)
}

// DerivePackageStatus: exhausted wins over expired, a nil expiry never expires.
func DerivePackageStatus(remaining int, expiresAt *time.Time, now time.Time) PackageStatus {
	if remaining <= 0 {
		return PackageExhausted
	}
	if expiresAt != nil && !expiresAt.After(now) {
		return PackageExpired
	}
	return PackageActive
}

// LedgerEntry rows are append-only.
type LedgerEntry struct {
	ID               string       `gorm:"type:uuid;primaryKey" json:"id"`
	PackageID        string       `gorm:"type:uuid;not null;index" json:"package_id"`
	ClientID         string       `gorm:"type:varchar(64);not null;index" json:"client_id"`
	BookingID        *string      `gorm:"type:uuid;index" json:"booking_id,omitempty"`
	UsageID          *string      `gorm:"type:uuid;index" json:"usage_id,omitempty"`
	ReversesEntryID  *string      `gorm:"type:uuid;uniqueIndex" json:"reverses_entry_id,omitempty"`
	Delta            int          `gorm:"not null" json:"delta"`
	ResultingBalance int          `gorm:"not null" json:"resulting_balance"`
	Reason           LedgerReason `gorm:"type:varchar(32);not null" json:"reason"`
	Note             string       `gorm:"type:text" json:"note,omitempty"`
	CreatedAt        time.Time    `gorm:"not null" json:"created_at"`
}
