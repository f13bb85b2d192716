package discovery

import (
	"context"
	"time"
)

// Identity is the information a Service advertises about itself.
type Identity struct {
	ShortID     string
	DisplayName string
	Class       DeviceClass
	Port        int
	Version     uint16
}

// Service runs mDNS advertising/browsing and the UDP broadcast
// fallback side by side and maintains the resulting Table. Either
// backend may fail to start without the other; a Service with neither
// backend running still exposes an (empty) Table.
type Service struct {
	table *Table
	self  Identity

	cancel context.CancelFunc
	done   chan struct{}
}

// New starts advertising and browsing for self. mDNS and UDP bind
// errors are logged by the caller via the returned errs slice but are
// non-fatal: discovery proceeds on whichever backend(s) started.
func New(self Identity) (*Service, []error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		table:  NewTable(),
		self:   self,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	ann := udpAnnouncement{
		Version: uint8(self.Version),
		ShortID: self.ShortID,
		Port:    uint16(self.Port),
		Class:   self.Class,
		Name:    self.DisplayName,
	}

	var errs []error
	sightings := make(chan Device, 32)

	if adv, err := newMDNSAdvertiser(ann, self.DisplayName); err != nil {
		errs = append(errs, err)
	} else {
		go func() {
			<-ctx.Done()
			adv.shutdown()
		}()
	}

	if browser, err := newMDNSBrowser(self.ShortID); err != nil {
		errs = append(errs, err)
	} else {
		go browser.run(ctx, sightings)
	}

	if bcast, err := newUDPBroadcaster(ann); err != nil {
		errs = append(errs, err)
	} else {
		go bcast.run(ctx, ScanInterval)
	}

	if listener, err := newUDPListener(self.ShortID); err != nil {
		errs = append(errs, err)
	} else {
		udpSightings := make(chan udpAnnouncement, 32)
		go listener.run(ctx, udpSightings)
		go func() {
			for a := range udpSightings {
				select {
				case sightings <- Device{
					ShortID: a.ShortID,
					Name:    a.Name,
					Class:   a.Class,
					Port:    int(a.Port),
					Conn:    ConnWifi,
					Version: uint16(a.Version),
					State:   StateAvailable,
				}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go s.ingest(ctx, sightings)
	go s.cleanupLoop(ctx)

	return s, errs
}

func (s *Service) ingest(ctx context.Context, sightings <-chan Device) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case dev := <-sightings:
			s.table.Upsert(dev)
		}
	}
}

func (s *Service) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.table.Sweep(time.Now())
		}
	}
}

// Updates returns the stream of full device-list snapshots.
func (s *Service) Updates() <-chan []Device {
	return s.table.Updates()
}

// Snapshot returns the current device list.
func (s *Service) Snapshot() []Device {
	return s.table.Snapshot()
}

// Stop halts both backends and the maintenance loops.
func (s *Service) Stop() {
	s.cancel()
}
