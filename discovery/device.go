// Package discovery finds peers on the local network via mDNS service
// advertisement and browsing, with a UDP broadcast fallback, and
// maintains the resulting device table with timeout-driven eviction.
package discovery

import (
	"sort"
	"sync"
	"time"
)

// DeviceClass is the peer's platform tag, carried in full in the mDNS
// TXT record and as a single ASCII byte (the class string's first
// byte) in the UDP packet.
type DeviceClass string

const (
	ClassAndroid DeviceClass = "android"
	ClassWindows DeviceClass = "windows"
	ClassLinux   DeviceClass = "linux"
	ClassIOS     DeviceClass = "ios"
	ClassUnknown DeviceClass = "unknown"
)

func deviceClassFromByte(b byte) DeviceClass {
	switch b {
	case 'a':
		return ClassAndroid
	case 'w':
		return ClassWindows
	case 'l':
		return ClassLinux
	case 'i':
		return ClassIOS
	default:
		return ClassUnknown
	}
}

// ConnectionKind describes the medium a device was discovered over.
type ConnectionKind string

const (
	ConnWifi      ConnectionKind = "wifi"
	ConnBluetooth ConnectionKind = "bluetooth"
	ConnWebRTC    ConnectionKind = "webrtc"
)

// State is the device record's lifecycle state.
type State string

const (
	StateAvailable State = "available"
	StateBusy      State = "busy"
	StateOffline   State = "offline"
	StateTrusted   State = "trusted"
)

const (
	// DeviceTimeout is how long a record may go unrefreshed before it
	// is demoted to offline.
	DeviceTimeout = 15 * time.Second
	// MaxVisibleDevices caps the table; overflow new devices are
	// silently dropped.
	MaxVisibleDevices = 10
	// ScanInterval is how often both discovery backends rescan.
	ScanInterval = 3 * time.Second
	// CleanupInterval is how often the device table sweeps for
	// timed-out and expired records.
	CleanupInterval = 5 * time.Second
)

// Device is a discovered peer. ShortID is the equality key.
type Device struct {
	ShortID  string
	Name     string
	Class    DeviceClass
	Address  string
	Port     int
	Conn     ConnectionKind
	Version  uint16
	State    State
	LastSeen time.Time
}

// Table is the live device registry: created on first sighting,
// refreshed on every advertisement, demoted to offline after
// DeviceTimeout without a refresh, and deleted after 2*DeviceTimeout.
// Every mutation emits the full sorted-by-ShortID device list on
// Updates.
type Table struct {
	mu      sync.Mutex
	devices map[string]*Device
	updates chan []Device
}

// NewTable returns an empty table. Updates holds only the latest
// snapshot: a snapshot the caller has not read yet is replaced by the
// next one, so broadcasting never blocks.
func NewTable() *Table {
	return &Table{
		devices: make(map[string]*Device),
		updates: make(chan []Device, 1),
	}
}

// Updates returns the channel of full device-list snapshots, emitted
// on every change.
func (t *Table) Updates() <-chan []Device {
	return t.updates
}

// Upsert records a sighting of dev, refreshing LastSeen and clearing
// any offline demotion. If the table is at MaxVisibleDevices and dev is
// not already present, the sighting is dropped.
func (t *Table) Upsert(dev Device) {
	t.mu.Lock()
	defer t.mu.Unlock()

	dev.LastSeen = time.Now()
	if existing, ok := t.devices[dev.ShortID]; ok {
		dev.State = existing.State
		if dev.State == StateOffline {
			dev.State = StateAvailable
		}
		t.devices[dev.ShortID] = &dev
		t.broadcastLocked()
		return
	}

	if len(t.devices) >= MaxVisibleDevices {
		return
	}
	if dev.State == "" {
		dev.State = StateAvailable
	}
	t.devices[dev.ShortID] = &dev
	t.broadcastLocked()
}

// Sweep demotes devices unseen for DeviceTimeout to offline and
// removes devices unseen for 2*DeviceTimeout. Returns true if the
// table changed.
func (t *Table) Sweep(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	changed := false
	for id, d := range t.devices {
		age := now.Sub(d.LastSeen)
		switch {
		case age >= 2*DeviceTimeout:
			delete(t.devices, id)
			changed = true
		case age >= DeviceTimeout && d.State != StateOffline:
			d.State = StateOffline
			changed = true
		}
	}
	if changed {
		t.broadcastLocked()
	}
	return changed
}

// Snapshot returns an immutable copy of the current device list.
func (t *Table) Snapshot() []Device {
	t.mu.Lock()
	defer t.mu.Unlock()
	return snapshotLocked(t.devices)
}

func (t *Table) broadcastLocked() {
	list := snapshotLocked(t.devices)
	select {
	case <-t.updates:
	default:
	}
	t.updates <- list
}

func snapshotLocked(devices map[string]*Device) []Device {
	list := make([]Device, 0, len(devices))
	for _, d := range devices {
		list = append(list, *d)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ShortID < list[j].ShortID })
	return list
}
