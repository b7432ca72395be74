// Package cluster identifies the running process for logs and metrics.
// Scaling to several worker processes is an independent-process deployment
// choice (each bound to the same listen socket); this package does not
// implement any membership or leader-election protocol, only the per-process
// identity operators use to tell instances apart.
package cluster

import (
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
)

// Metadata identifies one running server process.
type Metadata struct {
	NodeID    string    `json:"node_id"`
	Hostname  string    `json:"hostname"`
	StartTime time.Time `json:"start_time"`
	Version   string    `json:"version"`
	GoVersion string    `json:"go_version"`
}

// New builds process metadata, assigning a fresh NodeID and capturing the
// current time as StartTime. version is the build-time version string.
func New(version string) *Metadata {
	hostname, _ := os.Hostname()
	return &Metadata{
		NodeID:    uuid.New().String(),
		Hostname:  hostname,
		StartTime: time.Now(),
		Version:   version,
		GoVersion: runtime.Version(),
	}
}

// Uptime returns how long this process has been running.
func (m *Metadata) Uptime() time.Duration {
	return time.Since(m.StartTime)
}

// LogFields returns m's fields as a flat key/value slice suitable for
// slog.Logger.With, so every log line in the process carries node identity.
func (m *Metadata) LogFields() []interface{} {
	return []interface{}{
		"node_id", m.NodeID,
		"hostname", m.Hostname,
		"version", m.Version,
	}
}
