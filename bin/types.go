/*
Package bin tracks the smart-bin fleet.

PURPOSE:
  Every deposit originates at a physical smart bin. This package holds
  the bin entity, its status state machine, and the Registry that
  applies device reports (status updates, heartbeats) and publishes
  bin events for real-time consumers.

KEY CONCEPTS IN THIS FILE (types.go):
  - SmartBin: A physical deposit device identified by a unique code
  - Status: online | offline | full | maintenance
  - Liveness: LastSeenAt is refreshed ONLY when a bin reports online
    (or heartbeats); an external monitor uses it to detect stale bins

STATE MACHINE:
  All transitions are externally driven (device report or operator
  action); none are forbidden. "full" and "maintenance" mark a bin as
  unserviceable, which the ledger engine MAY use to suppress deposits
  (policy flag, permissive by default).

SEE ALSO:
  - registry.go: SetStatus / Heartbeat operations
  - ledger/engine.go: deposit-side consumer of bin state
*/
package bin

import "time"

// =============================================================================
// IDENTIFIERS AND STATUS
// =============================================================================

type ID string

type Status string

const (
	StatusOnline      Status = "online"
	StatusOffline     Status = "offline"
	StatusFull        Status = "full"
	StatusMaintenance Status = "maintenance"
)

// Valid reports whether s is a member of the status enum.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusFull, StatusMaintenance:
		return true
	}
	return false
}

// Serviceable reports whether a bin in this status should accept new
// deposits. Offline bins are still serviceable: the device may simply
// have missed a report while continuing to collect bottles.
func (s Status) Serviceable() bool {
	return s != StatusFull && s != StatusMaintenance
}

// =============================================================================
// SMART BIN - Physical deposit device
// =============================================================================

type SmartBin struct {
	ID                    ID
	Code                  string // unique device code, e.g. "BIN-JKT-001"
	Name                  string
	Location              string
	Status                Status
	CapacityPercentage    int    // 0-100
	TotalBottlesCollected int64

	// LastSeenAt is refreshed only on online reports and heartbeats.
	// Zero value means the bin has never reported.
	LastSeenAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
