package models

import "time"

// ClinicStatus represents the lifecycle state of a clinic account.
type ClinicStatus int

// ClinicStatus constants define clinic account states.
const (
	// ClinicStatusActive marks a clinic eligible for new enrollments.
	ClinicStatusActive ClinicStatus = 1
	// ClinicStatusInactive marks a clinic closed to new enrollments.
	ClinicStatusInactive ClinicStatus = 2
)

// Clinic represents a veterinary clinic that receives payouts.
type Clinic struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name       string       `gorm:"type:text;not null"` // Clinic display name.
	Email      string       `gorm:"type:text"`          // Contact email.
	AccountRef string       `gorm:"type:text"`          // Payment rail connected-account reference.
	Status     ClinicStatus `gorm:"not null;default:1"` // Current account status.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
