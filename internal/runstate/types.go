package runstate

import "time"

// Record describes a started VM
type Record struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	PID           int       `json:"pid"`
	StartedAt     time.Time `json:"started_at"`
	MonitorSocket string    `json:"monitor_socket"`
	CloudInit     bool      `json:"cloud_init"`
	Drives        []string  `json:"drives,omitempty"`
	SSHPort       int       `json:"ssh_port,omitempty"`
	Args          []string  `json:"args,omitempty"`
}
