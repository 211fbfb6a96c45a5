// Package types holds cache bookkeeping shared by stores and the cleanup worker.
package types

import "time"

// Stats summarises the content of an in-process store.
type Stats struct {
	Values      int       `json:"values"`
	Sets        int       `json:"sets"`
	Lists       int       `json:"lists"`
	Counters    int       `json:"counters"`
	ApproxBytes int64     `json:"approxBytes"`
	Expired     int       `json:"expired"`
	TakenAt     time.Time `json:"takenAt"`
}

// SweepResult reports one cleanup pass.
type SweepResult struct {
	Removed  int           `json:"removed"`
	Before   Stats         `json:"before"`
	After    Stats         `json:"after"`
	Duration time.Duration `json:"duration"`
}
