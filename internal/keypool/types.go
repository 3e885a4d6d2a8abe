// Package keypool implements the upstream credential pool: a persistent,
// concurrency-aware state machine over a set of upstream API keys, with
// lease/return semantics, exponential-backoff cooldown, and stuck-lease
// reclamation.
//
// The pool is the sole in-process authority over key state (spec §9);
// internal/store mirrors whatever the pool decides, it never decides on its
// own. The acquisition algorithm and cooldown arithmetic are grounded on
// routers/base.go and routers/round_robin.go in the teacher repository
// (generalized from "deployment" health/cooldown tracking to upstream
// credential rotation) and on original_source/backend/app/services/
// sqlite_key_manager.py's cool-down heap, which this pool's backoff formula
// matches exactly.
package keypool

import "time"

// State is one of the three mutually exclusive states an UpstreamKey can be
// in at any observation (spec §3, §4.2).
type State string

const (
	StateActive  State = "active"
	StateLeased  State = "in_use"
	StateCooling State = "cooling_down"
)

// Key is an upstream credential managed by the pool. Secret is never logged
// or externalized; only Identifier and Brief leave the pool in status
// responses (spec §9).
type Key struct {
	Identifier          string
	Secret              string
	Brief               string
	State               State
	FailureCount        int
	CooldownEntryCount  int
	CurrentCooldownSecs float64
	CooldownUntil       time.Time // zero unless Cooling
	InUseSince          time.Time // zero unless Leased
}

// Snapshot is a read-only copy of a Key's externally visible state, safe to
// hand out without holding the pool's lock (spec §4.2 status()).
type Snapshot struct {
	Identifier           string  `json:"identifier"`
	Brief                string  `json:"brief"`
	State                State   `json:"state"`
	CooldownSecsRemaining float64 `json:"cooldown_seconds_remaining"`
	FailureCount          int     `json:"failure_count"`
	CooldownEntryCount     int     `json:"cooldown_entry_count"`
	CurrentCooldownSecs   float64 `json:"current_cooldown_seconds"`
}

// StatusReport is the full response to GET /api/keys/status.
type StatusReport struct {
	Keys          []Snapshot `json:"keys"`
	TotalKeys     int        `json:"total_keys"`
	ActiveKeys    int        `json:"active_keys"`
	LeasedKeys    int        `json:"in_use_keys"`
	CoolingKeys   int        `json:"cooling_down_keys"`
}

// FailureClass classifies why a leased key was returned unsuccessfully
// (spec §4.2, §7's "Key return classification" column).
type FailureClass string

const (
	FailureRateLimited    FailureClass = "rate_limited"
	FailureUpstream5xx    FailureClass = "upstream_5xx"
	FailureAuthRejected   FailureClass = "auth_rejected"
	FailureTransient      FailureClass = "transient_client_or_network"
)

// ReturnOutcome is passed to Pool.Return to describe how a lease ended.
type ReturnOutcome struct {
	Success bool
	Class   FailureClass
	// RetryAfter, if non-zero, is an upstream-supplied retry-after duration
	// that overrides the computed cooldown length when it is longer
	// (spec §4.2's rate-limit-default-wait override).
	RetryAfter time.Duration
}
