package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertCreatesAvailableDevice(t *testing.T) {
	table := NewTable()
	table.Upsert(Device{ShortID: "dev12345", Name: "phone"})

	snap := table.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, StateAvailable, snap[0].State)
}

func TestUpsertRefreshesLastSeenAndClearsOffline(t *testing.T) {
	table := NewTable()
	table.Upsert(Device{ShortID: "dev12345"})
	table.Sweep(time.Now().Add(DeviceTimeout + time.Second))

	snap := table.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, StateOffline, snap[0].State)

	table.Upsert(Device{ShortID: "dev12345"})
	snap = table.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, StateAvailable, snap[0].State)
}

func TestSweepDemotesThenRemoves(t *testing.T) {
	table := NewTable()
	table.Upsert(Device{ShortID: "dev12345"})

	changed := table.Sweep(time.Now().Add(DeviceTimeout + time.Second))
	assert.True(t, changed)
	assert.Equal(t, StateOffline, table.Snapshot()[0].State)

	changed = table.Sweep(time.Now().Add(2*DeviceTimeout + time.Second))
	assert.True(t, changed)
	assert.Empty(t, table.Snapshot())
}

func TestSweepNoOpWhenNothingExpired(t *testing.T) {
	table := NewTable()
	table.Upsert(Device{ShortID: "dev12345"})
	<-table.Updates()

	changed := table.Sweep(time.Now())
	assert.False(t, changed)
}

func TestTableCapsAtMaxVisibleDevices(t *testing.T) {
	table := NewTable()
	for i := 0; i < MaxVisibleDevices+5; i++ {
		table.Upsert(Device{ShortID: string(rune('a' + i))})
	}

	assert.Len(t, table.Snapshot(), MaxVisibleDevices)
}

func TestUpsertEmitsOnUpdatesChannel(t *testing.T) {
	table := NewTable()
	table.Upsert(Device{ShortID: "dev12345"})

	select {
	case list := <-table.Updates():
		require.Len(t, list, 1)
		assert.Equal(t, "dev12345", list[0].ShortID)
	case <-time.After(time.Second):
		t.Fatal("expected an update")
	}
}
