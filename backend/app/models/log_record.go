package models

import "time"

// LogRecord is written once per completed job and never updated.
// JobID is null for submissions rejected before an id was assigned.
type LogRecord struct {
	ID           uint      `gorm:"primaryKey"`
	JobID        *uint64   `gorm:"uniqueIndex"`
	DeviceID     int       `gorm:"index;not null"`
	HardwareType string    `gorm:"size:64"`
	Serial       string    `gorm:"size:128"`
	ComPort      string    `gorm:"size:32"`
	MacAddress   string    `gorm:"size:32"`
	IP           string    `gorm:"size:64"`
	Username     string    `gorm:"size:128"`
	TestName     string    `gorm:"size:128;index"`
	Parameters   string    `gorm:"type:text"`
	Outcome      string    `gorm:"size:16;index"`
	Metrics      string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"index"`
}

// JobIDCounter is the single-row durable source of job ids.
type JobIDCounter struct {
	CounterID uint   `gorm:"primaryKey;autoIncrement:false"`
	NextJobID uint64 `gorm:"not null"`
}

// Operator is an API user allowed to submit jobs; admins may reset devices.
type Operator struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:191;not null"`
	PasswordHash string `gorm:"size:255;not null"`
	Role         string `gorm:"size:32;not null;default:operator"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
