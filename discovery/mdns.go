package discovery

import (
	"context"
	"fmt"
	"strconv"

	"github.com/grandcat/zeroconf"
)

const mdnsServiceType = "_swiftdrop._tcp"
const mdnsDomain = "local."

// mdnsAdvertiser registers this device's service record.
type mdnsAdvertiser struct {
	server *zeroconf.Server
}

func newMDNSAdvertiser(self udpAnnouncement, displayName string) (*mdnsAdvertiser, error) {
	instance := "SwiftDrop-" + self.ShortID
	txt := []string{
		"dn=" + displayName,
		"dt=" + string(self.Class),
		"v=" + strconv.Itoa(int(self.Version)),
		"id=" + self.ShortID,
		"tp=" + strconv.Itoa(int(self.Port)),
	}

	server, err := zeroconf.Register(instance, mdnsServiceType, mdnsDomain, int(self.Port), txt, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: mdns register: %w", err)
	}
	return &mdnsAdvertiser{server: server}, nil
}

func (a *mdnsAdvertiser) shutdown() {
	a.server.Shutdown()
}

// mdnsBrowser resolves service entries into Device sightings, sent on
// the same channel the UDP fallback feeds, so the table ingestion path
// is shared.
type mdnsBrowser struct {
	resolver *zeroconf.Resolver
	self     string
}

func newMDNSBrowser(selfShortID string) (*mdnsBrowser, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: mdns resolver: %w", err)
	}
	return &mdnsBrowser{resolver: resolver, self: selfShortID}, nil
}

// run browses until ctx is cancelled, forwarding decoded sightings
// (address taken from the resolved IPv4 entry, not the TXT record) to
// out.
func (b *mdnsBrowser) run(ctx context.Context, out chan<- Device) {
	entries := make(chan *zeroconf.ServiceEntry, 16)
	go func() {
		for entry := range entries {
			dev, ok := deviceFromEntry(entry, b.self)
			if !ok {
				continue
			}
			select {
			case out <- dev:
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := b.resolver.Browse(ctx, mdnsServiceType, mdnsDomain, entries); err != nil {
		return
	}
	<-ctx.Done()
}

func deviceFromEntry(entry *zeroconf.ServiceEntry, self string) (Device, bool) {
	txt := txtMap(entry.Text)
	shortID := txt["id"]
	if shortID == "" || shortID == self {
		return Device{}, false
	}
	if len(entry.AddrIPv4) == 0 {
		return Device{}, false
	}

	port, _ := strconv.Atoi(txt["tp"])
	version, _ := strconv.Atoi(txt["v"])

	return Device{
		ShortID: shortID,
		Name:    txt["dn"],
		Class:   DeviceClass(txt["dt"]),
		Address: entry.AddrIPv4[0].String(),
		Port:    port,
		Conn:    ConnWifi,
		Version: uint16(version),
		State:   StateAvailable,
	}, true
}

func txtMap(txt []string) map[string]string {
	m := make(map[string]string, len(txt))
	for _, kv := range txt {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				m[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return m
}
