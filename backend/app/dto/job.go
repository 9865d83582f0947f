package dto

import "time"

// SubmitRequest is the body of POST /jobs. Managed devices only need
// device_id and test_name; inventory metadata fills the rest.
type SubmitRequest struct {
	DeviceID     int            `json:"device_id"`
	HardwareType string         `json:"hardware_type"`
	Serial       string         `json:"serial"`
	ComPort      string         `json:"com_port"`
	MacAddress   string         `json:"mac_address"`
	TestName     string         `json:"test_name"`
	Iterations   int            `json:"iterations"`
	Parameters   map[string]any `json:"parameters"`
}

// SubmitResult is returned for every submission. JobID is null when the
// request was rejected before an id was reserved.
type SubmitResult struct {
	JobID   *uint64        `json:"job_id"`
	Outcome string         `json:"outcome"`
	Metrics map[string]any `json:"metrics"`
	Queued  bool           `json:"queued"`
}

const OutcomeQueued = "queued"

type DeviceView struct {
	ID           int      `json:"id"`
	HardwareType string   `json:"hardware_type"`
	Serial       string   `json:"serial"`
	ComPort      string   `json:"com_port"`
	MacAddress   string   `json:"mac_address"`
	Status       string   `json:"status"`
	QueueDepth   int      `json:"queue_depth"`
	QueuedJobs   []uint64 `json:"queued_jobs"`
}

type DrainResponse struct {
	DeviceID int `json:"device_id"`
	Executed int `json:"executed"`
}

type LogRecordView struct {
	JobID        *uint64        `json:"job_id"`
	DeviceID     int            `json:"device_id"`
	HardwareType string         `json:"hardware_type"`
	Serial       string         `json:"serial"`
	ComPort      string         `json:"com_port"`
	MacAddress   string         `json:"mac_address"`
	IP           string         `json:"ip,omitempty"`
	Username     string         `json:"username,omitempty"`
	TestName     string         `json:"test_name"`
	Parameters   map[string]any `json:"parameters"`
	Outcome      string         `json:"outcome"`
	Metrics      map[string]any `json:"metrics"`
	Timestamp    time.Time      `json:"timestamp"`
}

type PluginsResponse struct {
	Remote []string `json:"remote"`
	Local  []string `json:"local"`
}
