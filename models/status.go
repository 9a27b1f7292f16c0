package models

import "time"

// CollectorStatus is a point-in-time snapshot of one collector's counters.
// Counters are monotonic and reset only on process restart.
type CollectorStatus struct {
	Name    string `json:"name"`
	Source  Source `json:"source"`
	Running bool   `json:"running"`

	PollCount           uint64 `json:"pollCount"`
	SuccessCount        uint64 `json:"successCount"`
	ErrorCount          uint64 `json:"errorCount"`
	DataPointsCollected uint64 `json:"dataPointsCollected"`

	LastPollTime    time.Time `json:"lastPollTime,omitzero"`
	LastSuccessTime time.Time `json:"lastSuccessTime,omitzero"`
	LastError       string    `json:"lastError,omitempty"`
	LastErrorTime   time.Time `json:"lastErrorTime,omitzero"`

	TargetCount        int `json:"targetCount"`
	EnabledTargetCount int `json:"enabledTargetCount"`
}

// ManagerStatus is the aggregate snapshot exposed by the CollectorManager.
type ManagerStatus struct {
	Running       bool              `json:"isRunning"`
	StartedAt     time.Time         `json:"startedAt,omitzero"`
	Collectors    []CollectorStatus `json:"collectors"`
	MQTTConnected bool              `json:"mqttConnected"`
}

// ManagerStatistics sums monotonic counters across collectors.
type ManagerStatistics struct {
	PollCount           uint64        `json:"pollCount"`
	SuccessCount        uint64        `json:"successCount"`
	ErrorCount          uint64        `json:"errorCount"`
	DataPointsCollected uint64        `json:"dataPointsCollected"`
	Uptime              time.Duration `json:"uptimeNs"`
}
