package domain

import "time"

// LeaderFollow links a copytrader to a leader. Follows are soft-deleted
// (Active=false) and never removed, so attribution history survives.
type LeaderFollow struct {
	CopytraderID  string     `json:"copytrader_id"`
	UserID        string     `json:"user_id"`
	LeaderAddress string     `json:"leader_address"`
	Active        bool       `json:"active"`
	StartedAt     time.Time  `json:"started_at"`
	StoppedAt     *time.Time `json:"stopped_at,omitempty"`
}
