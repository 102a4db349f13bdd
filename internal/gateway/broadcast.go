package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"breeze-gateway/internal/protocol"
)

// BroadcastListener opens one UDP socket per zone, starting at a base port.
// Devices in zone N broadcast to basePort+N. Datagrams are unordered and
// lossy; each one is decoded independently and fed to the bus.
type BroadcastListener struct {
	basePort int
	zones    int

	codec  *protocol.Codec
	bus    *EventBus
	logger *slog.Logger

	mu    sync.Mutex
	conns []*net.UDPConn
	wg    sync.WaitGroup
}

// NewBroadcastListener creates a listener for the given number of zones.
func NewBroadcastListener(basePort, zones int, codec *protocol.Codec, bus *EventBus, logger *slog.Logger) *BroadcastListener {
	return &BroadcastListener{
		basePort: basePort,
		zones:    zones,
		codec:    codec,
		bus:      bus,
		logger:   logger.With("component", "broadcast"),
	}
}

// Start binds every zone socket. Binding any zone port may fail; the first
// failure aborts startup and closes sockets already bound.
func (b *BroadcastListener) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for zone := 0; zone < b.zones; zone++ {
		port := b.basePort + zone
		conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
		if err != nil {
			for _, c := range b.conns {
				c.Close()
			}
			b.conns = nil
			return fmt.Errorf("bind udp zone %d on port %d: %w", zone, port, err)
		}
		b.conns = append(b.conns, conn)
		b.logger.Info("broadcast listener bound", "zone", zone, "port", port)

		b.wg.Add(1)
		go b.readLoop(zone, conn)
	}
	return nil
}

func (b *BroadcastListener) readLoop(zone int, conn *net.UDPConn) {
	defer b.wg.Done()
	buf := make([]byte, 64)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				b.logger.Error("udp read", "zone", zone, "error", err)
			}
			return
		}

		bs, err := b.codec.DecodeBroadcast(buf[:n])
		if err != nil {
			b.logger.Warn("discarding malformed broadcast", "zone", zone, "addr", src.String(), "error", err)
			continue
		}
		b.bus.Emit(Event{Type: EventBroadcastFrame, Data: BroadcastFrame{Broadcast: bs, Addr: src.String()}})
	}
}

// Stop closes every zone socket and waits for the read loops.
func (b *BroadcastListener) Stop() {
	b.mu.Lock()
	for _, c := range b.conns {
		c.Close()
	}
	b.conns = nil
	b.mu.Unlock()
	b.wg.Wait()
}
