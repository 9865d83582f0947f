package models

import "time"

const (
	StatusFree = "Free"
	StatusBusy = "Busy"
)

// ExternalDeviceID marks log records for unmanaged (remote) devices.
const ExternalDeviceID = -1

// DeviceStatus is the admission gate for one managed device. JobQueue holds
// the pending jobs as a JSON array, head first.
type DeviceStatus struct {
	DeviceID  int    `gorm:"primaryKey;autoIncrement:false"`
	Status    string `gorm:"size:16;not null;default:Free"`
	JobQueue  string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// Job is a queued unit of work. It is copied into the queue at submission and
// never changed afterwards.
type Job struct {
	JobID        uint64         `json:"job_id"`
	DeviceID     int            `json:"device_id"`
	HardwareType string         `json:"hardware_type"`
	Serial       string         `json:"serial"`
	ComPort      string         `json:"com_port"`
	MacAddress   string         `json:"mac_address"`
	TestName     string         `json:"test_name"`
	Iterations   int            `json:"iterations"`
	Parameters   map[string]any `json:"parameters"`
	SubmittedAt  time.Time      `json:"submitted_at"`
}
