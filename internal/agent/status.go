package agent

import (
	"time"

	"trawler/internal/position"
)

// Lifecycle states. Faulted marks a cycle that hit an operational error;
// the next clean cycle returns the agent to running.
const (
	StateStopped  = "stopped"
	StateStarting = "starting"
	StateRunning  = "running"
	StateStopping = "stopping"
	StateFaulted  = "faulted"
)

// Status is an immutable snapshot of the agent. Readers get the whole
// struct by value; nothing in it is shared with the loop's working state.
type Status struct {
	State            string              `json:"state"`
	CycleCount       uint64              `json:"cycle_count"`
	LastCycleAt      time.Time           `json:"last_cycle_at"`
	LastCycleFaulted bool                `json:"last_cycle_faulted"`
	LastError        string              `json:"last_error,omitempty"`
	Equity           float64             `json:"equity"`
	BuyingPower      float64             `json:"buying_power"`
	Deployed         float64             `json:"deployed"`
	DailyRealized    float64             `json:"daily_realized"`
	OpenCount        int                 `json:"open_count"`
	Positions        []position.Position `json:"positions"`
	Strategy         string              `json:"strategy"`
	ProfileVersion   int64               `json:"profile_version,omitempty"`
	UpdatedAt        time.Time           `json:"updated_at"`
}
