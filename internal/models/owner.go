package models

import "time"

// Owner represents a pet owner financing one or more vet bills.
type Owner struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Email string `gorm:"type:text;not null;uniqueIndex"` // Contact email, enrollment lookup key.
	Name  string `gorm:"type:text"`                      // Display name.
	Phone string `gorm:"type:text"`                      // SMS-capable phone number.

	PaymentMethodRef string `gorm:"type:text"` // Payment rail customer/payment-method reference.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
