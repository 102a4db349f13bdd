package gateway

import (
	"log/slog"
	"net"
	"sync"
	"time"
)

const (
	// correlationWindow bounds how old a UDP sighting may be and still be
	// trusted to identify the house of a TCP peer at the same IP.
	correlationWindow = 30 * time.Second

	// udpEntryTTL is the hard expiry for UDP sightings.
	udpEntryTTL = 5 * time.Minute
)

type udpSighting struct {
	houseID  int
	lastSeen time.Time
}

// Correlator maps transient transport addresses to stable device identity.
// TCP addresses are high confidence (a status frame proves the serial behind
// them); UDP source addresses are lower confidence and expire. Correlation
// across the two ignores ports, which are ephemeral per connection/datagram.
type Correlator struct {
	mu sync.Mutex

	addrSerials    map[string]string // TCP remote address -> serial
	deviceHouseIDs map[string]int    // serial -> house id
	deviceZoneIDs  map[string]int    // serial -> zone id
	udpHouseIDs    map[string]udpSighting

	now    func() time.Time
	logger *slog.Logger
}

// NewCorrelator creates an identity correlator.
func NewCorrelator(logger *slog.Logger) *Correlator {
	return &Correlator{
		addrSerials:    make(map[string]string),
		deviceHouseIDs: make(map[string]int),
		deviceZoneIDs:  make(map[string]int),
		udpHouseIDs:    make(map[string]udpSighting),
		now:            time.Now,
		logger:         logger.With("component", "correlator"),
	}
}

// TrackAddress binds a TCP remote address to a serial number. Called on every
// decoded status frame so reconnects re-bind automatically.
func (c *Correlator) TrackAddress(addr, serial string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addrSerials[addr] = serial
}

// ForgetAddress drops the TCP address binding on disconnect. The per-serial
// house and zone ids survive; only the transport binding is transient.
func (c *Correlator) ForgetAddress(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.addrSerials, addr)
}

// SerialForAddress returns the serial currently bound to a TCP address.
func (c *Correlator) SerialForAddress(addr string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	serial, ok := c.addrSerials[addr]
	return serial, ok
}

// SerialForIP returns the serial of a device whose TCP connection shares the
// given address's IP. Used to attribute UDP broadcasts, whose source port
// never matches the TCP port. First match wins.
func (c *Correlator) SerialForIP(addr string) (string, bool) {
	ip := hostOnly(addr)
	c.mu.Lock()
	defer c.mu.Unlock()
	for tcpAddr, serial := range c.addrSerials {
		if hostOnly(tcpAddr) == ip {
			return serial, true
		}
	}
	return "", false
}

// SetIdentity records house and zone ids learned from a setup or status
// source that carries them. Zero values leave the current entry untouched.
func (c *Correlator) SetIdentity(serial string, houseID, zoneID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if houseID != 0 {
		c.deviceHouseIDs[serial] = houseID
	}
	if zoneID != 0 {
		c.deviceZoneIDs[serial] = zoneID
	}
}

// OnBroadcast records a UDP sighting. If the broadcast source address already
// maps to a known serial, the zone index and house id are adopted directly; a
// zero zone leaves the current entry untouched.
func (c *Correlator) OnBroadcast(addr string, zoneIndex, houseID int, hasHouseID bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hasHouseID {
		c.udpHouseIDs[addr] = udpSighting{houseID: houseID, lastSeen: c.now()}
	}

	ip := hostOnly(addr)
	for tcpAddr, serial := range c.addrSerials {
		if hostOnly(tcpAddr) != ip {
			continue
		}
		if zoneIndex != 0 {
			c.deviceZoneIDs[serial] = zoneIndex
		}
		if hasHouseID {
			c.deviceHouseIDs[serial] = houseID
		}
	}
}

// Correlate resolves the house id for a serial seen on a TCP address. If the
// serial has no known house id, recent UDP sightings from the same IP are
// consulted; the first fresh match wins. Expired sightings are purged on
// every pass.
func (c *Correlator) Correlate(serial, tcpAddr string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for addr, s := range c.udpHouseIDs {
		if now.Sub(s.lastSeen) > udpEntryTTL {
			delete(c.udpHouseIDs, addr)
		}
	}

	if id, ok := c.deviceHouseIDs[serial]; ok {
		return id, true
	}

	ip := hostOnly(tcpAddr)
	for addr, s := range c.udpHouseIDs {
		if hostOnly(addr) != ip {
			continue
		}
		if now.Sub(s.lastSeen) > correlationWindow {
			continue
		}
		c.deviceHouseIDs[serial] = s.houseID
		c.logger.Info("house id correlated from broadcast",
			"serial", serial, "house_id", s.houseID, "udp_addr", addr)
		return s.houseID, true
	}
	return 0, false
}

// HouseID returns the known house id for a serial, 0 if unknown.
func (c *Correlator) HouseID(serial string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceHouseIDs[serial]
}

// ZoneID returns the known zone id for a serial, 0 if unknown.
func (c *Correlator) ZoneID(serial string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceZoneIDs[serial]
}

// InferHouseID returns the most frequent house id across all tracked devices.
// Best effort for single-house deployments where correlation never fired;
// returns 0 when nothing is tracked.
func (c *Correlator) InferHouseID() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	counts := make(map[int]int)
	for _, id := range c.deviceHouseIDs {
		counts[id]++
	}
	best, bestCount := 0, 0
	for id, n := range counts {
		if n > bestCount {
			best, bestCount = id, n
		}
	}
	return best
}

// hostOnly strips the port from ip:port; ports are reassigned per
// connection/datagram and must not participate in identity.
func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
