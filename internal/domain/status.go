package domain

import "time"

// RunStats are process-lifetime counters, reset only on restart.
type RunStats struct {
	Received    int64
	Sent        int64
	Forwarded   int64
	AutoReplies int64
}

// MonitorStatus is an observability snapshot of the contact monitor.
type MonitorStatus struct {
	Watched   []string
	LiveUnits int
	LastCheck string
}

// StatusSnapshot is the read-only view exposed to the operator surface.
type StatusSnapshot struct {
	Running       bool
	StartedAt     time.Time
	Uptime        time.Duration
	Stats         RunStats
	Monitoring    MonitorStatus
	OpenedWindows []string
	PendingCount  int
}
