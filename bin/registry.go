/*
registry.go - Device registry operations

PURPOSE:
  Applies externally driven bin state changes: operator/device status
  reports and liveness heartbeats. The Registry is the only writer of
  bin status; bottle counters are incremented by the ledger engine as
  part of a completed deposit's unit of work.

EVENTS:
  Every accepted status change publishes a "smartbin.status" event.
  Publication is fire-and-forget and happens after the store write: a
  slow or broken subscriber never rolls back a state change.

SEE ALSO:
  - types.go: SmartBin entity and status enum
  - event/publisher.go: publisher implementations
*/
package bin

import (
	"context"
	"fmt"
	"time"
)

// EventStatusUpdated is published on every accepted status change.
const EventStatusUpdated = "smartbin.status"

// RegistryStore persists smart bins. Implemented by store/sqlite and
// ledger/store (memory).
type RegistryStore interface {
	GetBin(ctx context.Context, id ID) (*SmartBin, error)
	ListBins(ctx context.Context, status Status) ([]SmartBin, error) // empty status = all
	SaveBin(ctx context.Context, b SmartBin) error
}

// EventPublisher receives post-write bin events. Delivery is
// best-effort; Publish must not block.
type EventPublisher interface {
	Publish(event string, payload map[string]any)
}

// ErrNotFound is defined here rather than reusing the ledger's sentinel
// so the registry stays independent of the points core.
var ErrNotFound = fmt.Errorf("smart bin not found")

// ErrInvalidStatus rejects status values outside the enum.
var ErrInvalidStatus = fmt.Errorf("invalid smart bin status")

// =============================================================================
// REGISTRY
// =============================================================================

// Registry applies device reports and operator actions to the fleet.
type Registry struct {
	store  RegistryStore
	events EventPublisher
	now    func() time.Time // injectable for tests
}

func NewRegistry(store RegistryStore, events EventPublisher) *Registry {
	return &Registry{store: store, events: events, now: time.Now}
}

// StatusUpdate is an externally reported state change.
type StatusUpdate struct {
	Status             Status
	CapacityPercentage *int // nil = leave unchanged
}

// SetStatus applies a status report to a bin.
// LastSeenAt is refreshed only when the new status is online; a "full"
// or "maintenance" report says nothing about device liveness.
func (r *Registry) SetStatus(ctx context.Context, id ID, update StatusUpdate) (*SmartBin, error) {
	if !update.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, update.Status)
	}
	if update.CapacityPercentage != nil {
		if p := *update.CapacityPercentage; p < 0 || p > 100 {
			return nil, fmt.Errorf("%w: capacity_percentage %d out of range", ErrInvalidStatus, p)
		}
	}

	b, err := r.store.GetBin(ctx, id)
	if err != nil {
		return nil, err
	}

	b.Status = update.Status
	if update.CapacityPercentage != nil {
		b.CapacityPercentage = *update.CapacityPercentage
	}
	if update.Status == StatusOnline {
		b.LastSeenAt = r.now().UTC()
	}
	b.UpdatedAt = r.now().UTC()

	if err := r.store.SaveBin(ctx, *b); err != nil {
		return nil, err
	}

	r.publishStatus(b)
	return b, nil
}

// Heartbeat marks a bin online and refreshes its liveness timestamp.
// Equivalent to SetStatus(online) with no capacity change.
func (r *Registry) Heartbeat(ctx context.Context, id ID) (*SmartBin, error) {
	return r.SetStatus(ctx, id, StatusUpdate{Status: StatusOnline})
}

// Get returns a single bin.
func (r *Registry) Get(ctx context.Context, id ID) (*SmartBin, error) {
	return r.store.GetBin(ctx, id)
}

// List returns bins, optionally filtered by status.
func (r *Registry) List(ctx context.Context, status Status) ([]SmartBin, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return r.store.ListBins(ctx, status)
}

func (r *Registry) publishStatus(b *SmartBin) {
	if r.events == nil {
		return
	}
	payload := map[string]any{
		"bin_id":                  string(b.ID),
		"bin_code":                b.Code,
		"name":                    b.Name,
		"status":                  string(b.Status),
		"capacity_percentage":     b.CapacityPercentage,
		"total_bottles_collected": b.TotalBottlesCollected,
		"timestamp":               r.now().UTC(),
	}
	if !b.LastSeenAt.IsZero() {
		payload["last_seen_at"] = b.LastSeenAt
	}
	r.events.Publish(EventStatusUpdated, payload)
}
