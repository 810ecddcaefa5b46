package bin_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rofiuddin15/smartbin-api/bin"
	"github.com/rofiuddin15/smartbin-api/event"
	"github.com/rofiuddin15/smartbin-api/ledger/store"
)

func newRegistry(t *testing.T) (*bin.Registry, *store.Memory, *event.Memory) {
	t.Helper()
	mem := store.NewMemory()
	mem.PutBin(bin.SmartBin{ID: "b1", Code: "SB-001", Name: "Lobby", Status: bin.StatusOffline})
	events := event.NewMemory()
	return bin.NewRegistry(mem, events), mem, events
}

func intPtr(n int) *int { return &n }

func TestSetStatus_OnlineRefreshesLastSeen(t *testing.T) {
	// GIVEN: an offline bin that has never been seen
	// WHEN: it reports online with 40% capacity
	// THEN: status, capacity, and last-seen all move

	registry, _, events := newRegistry(t)
	ctx := context.Background()

	b, err := registry.SetStatus(ctx, "b1", bin.StatusUpdate{
		Status:             bin.StatusOnline,
		CapacityPercentage: intPtr(40),
	})
	require.NoError(t, err)

	assert.Equal(t, bin.StatusOnline, b.Status)
	assert.Equal(t, 40, b.CapacityPercentage)
	assert.False(t, b.LastSeenAt.IsZero())

	recorded := events.ByName(bin.EventStatusUpdated)
	require.Len(t, recorded, 1)
	assert.Equal(t, "online", recorded[0].Payload["status"])
	assert.Equal(t, "SB-001", recorded[0].Payload["bin_code"])
}

func TestSetStatus_FullDoesNotTouchLastSeen(t *testing.T) {
	// GIVEN: a bin last seen when it went online
	// WHEN: it later reports full
	// THEN: last-seen keeps the online timestamp; a full report says
	//       nothing about liveness

	registry, _, _ := newRegistry(t)
	ctx := context.Background()

	online, err := registry.Heartbeat(ctx, "b1")
	require.NoError(t, err)
	seenAt := online.LastSeenAt

	full, err := registry.SetStatus(ctx, "b1", bin.StatusUpdate{
		Status:             bin.StatusFull,
		CapacityPercentage: intPtr(100),
	})
	require.NoError(t, err)

	assert.Equal(t, bin.StatusFull, full.Status)
	assert.Equal(t, seenAt, full.LastSeenAt)
}

func TestSetStatus_Validation(t *testing.T) {
	registry, _, events := newRegistry(t)
	ctx := context.Background()

	_, err := registry.SetStatus(ctx, "b1", bin.StatusUpdate{Status: "exploded"})
	assert.ErrorIs(t, err, bin.ErrInvalidStatus)

	_, err = registry.SetStatus(ctx, "b1", bin.StatusUpdate{
		Status:             bin.StatusOnline,
		CapacityPercentage: intPtr(120),
	})
	assert.ErrorIs(t, err, bin.ErrInvalidStatus)

	_, err = registry.SetStatus(ctx, "missing", bin.StatusUpdate{Status: bin.StatusOnline})
	assert.ErrorIs(t, err, bin.ErrNotFound)

	// Rejected reports publish nothing
	assert.Empty(t, events.Events())
}

func TestSetStatus_CapacityUnchangedWhenOmitted(t *testing.T) {
	registry, _, _ := newRegistry(t)
	ctx := context.Background()

	_, err := registry.SetStatus(ctx, "b1", bin.StatusUpdate{
		Status:             bin.StatusOnline,
		CapacityPercentage: intPtr(75),
	})
	require.NoError(t, err)

	b, err := registry.SetStatus(ctx, "b1", bin.StatusUpdate{Status: bin.StatusMaintenance})
	require.NoError(t, err)
	assert.Equal(t, 75, b.CapacityPercentage)
}

func TestList_FilterValidation(t *testing.T) {
	registry, mem, _ := newRegistry(t)
	ctx := context.Background()
	mem.PutBin(bin.SmartBin{ID: "b2", Code: "SB-002", Name: "Station", Status: bin.StatusOnline})

	_, err := registry.List(ctx, "bogus")
	assert.ErrorIs(t, err, bin.ErrInvalidStatus)

	online, err := registry.List(ctx, bin.StatusOnline)
	require.NoError(t, err)
	require.Len(t, online, 1)
	assert.Equal(t, bin.ID("b2"), online[0].ID)
}

func TestServiceable(t *testing.T) {
	assert.True(t, bin.StatusOnline.Serviceable())
	assert.True(t, bin.StatusOffline.Serviceable())
	assert.False(t, bin.StatusFull.Serviceable())
	assert.False(t, bin.StatusMaintenance.Serviceable())
}
