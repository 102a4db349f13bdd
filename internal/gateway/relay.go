package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"breeze-gateway/internal/protocol"
)

const (
	cloudDialTimeout = 10 * time.Second
	relayWriteWait   = 5 * time.Second
)

type relayConn struct {
	device net.Conn

	// writeMu serializes writes onto the device socket. Cloud forwarding and
	// locally issued commands share the socket; interleaved partial frames
	// would corrupt the stream.
	writeMu sync.Mutex

	cloudMu sync.Mutex
	cloud   net.Conn
}

func (rc *relayConn) cloudConn() net.Conn {
	rc.cloudMu.Lock()
	defer rc.cloudMu.Unlock()
	return rc.cloud
}

func (rc *relayConn) setCloud(c net.Conn) {
	rc.cloudMu.Lock()
	rc.cloud = c
	rc.cloudMu.Unlock()
}

// Relay is the device-facing TCP server. Each accepted connection is one
// ventilation unit. When cloud forwarding is enabled, every connection gets a
// companion client connection to the real cloud endpoint and bytes are
// forwarded verbatim in both directions, so the device keeps its normal cloud
// features while the gateway observes and injects frames locally.
type Relay struct {
	listenAddr   string
	cloudAddr    string
	cloudEnabled bool

	codec  *protocol.Codec
	bus    *EventBus
	logger *slog.Logger

	mu       sync.Mutex
	conns    map[string]*relayConn
	listener net.Listener
	closed   bool
	wg       sync.WaitGroup
}

// NewRelay creates the device relay. cloudAddr is ignored when cloudEnabled
// is false; the gateway then operates standalone.
func NewRelay(listenAddr, cloudAddr string, cloudEnabled bool, codec *protocol.Codec, bus *EventBus, logger *slog.Logger) *Relay {
	return &Relay{
		listenAddr:   listenAddr,
		cloudAddr:    cloudAddr,
		cloudEnabled: cloudEnabled,
		codec:        codec,
		bus:          bus,
		logger:       logger.With("component", "relay"),
		conns:        make(map[string]*relayConn),
	}
}

// Start begins accepting device connections.
func (r *Relay) Start() error {
	ln, err := net.Listen("tcp", r.listenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", r.listenAddr, err)
	}
	r.mu.Lock()
	r.listener = ln
	r.mu.Unlock()

	r.logger.Info("device relay listening", "addr", r.listenAddr, "cloud_enabled", r.cloudEnabled)

	r.wg.Add(1)
	go r.acceptLoop(ln)
	return nil
}

func (r *Relay) acceptLoop(ln net.Listener) {
	defer r.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			r.mu.Lock()
			closed := r.closed
			r.mu.Unlock()
			if closed {
				return
			}
			r.logger.Error("accept", "error", err)
			continue
		}
		r.wg.Add(1)
		go r.handleConn(conn)
	}
}

func (r *Relay) handleConn(conn net.Conn) {
	defer r.wg.Done()

	addr := conn.RemoteAddr().String()
	rc := &relayConn{device: conn}

	r.mu.Lock()
	r.conns[addr] = rc
	r.mu.Unlock()

	r.logger.Info("device connected", "addr", addr)
	r.bus.Emit(Event{Type: EventDeviceConnected, Data: Transport{Addr: addr}})

	if r.cloudEnabled {
		cloud, err := net.DialTimeout("tcp", r.cloudAddr, cloudDialTimeout)
		if err != nil {
			// Standalone fallback: local control keeps working without cloud.
			r.logger.Warn("cloud dial failed, serving locally only", "addr", addr, "error", err)
		} else {
			rc.setCloud(cloud)
			r.logger.Info("cloud connected", "addr", addr, "cloud", r.cloudAddr)
			r.bus.Emit(Event{Type: EventCloudConnected, Data: Transport{Addr: addr}})
			r.wg.Add(1)
			go r.cloudLoop(addr, rc)
		}
	}

	r.deviceLoop(addr, rc)

	r.mu.Lock()
	delete(r.conns, addr)
	r.mu.Unlock()

	conn.Close()
	if cloud := rc.cloudConn(); cloud != nil {
		cloud.Close()
	}
	r.logger.Info("device disconnected", "addr", addr)
	r.bus.Emit(Event{Type: EventDeviceDisconnected, Data: Transport{Addr: addr}})
}

// deviceLoop reads from the device socket. Inbound frames are fixed-width and
// devices write one frame per segment, so each read is treated as one frame
// candidate and dispatched on length.
func (r *Relay) deviceLoop(addr string, rc *relayConn) {
	buf := make([]byte, 512)
	for {
		n, err := rc.device.Read(buf)
		if err != nil {
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		r.bus.Emit(Event{Type: EventRawDeviceData, Data: Transport{Addr: addr, Data: data}})

		if cloud := rc.cloudConn(); cloud != nil {
			if _, err := cloud.Write(data); err != nil {
				r.logger.Warn("cloud write failed", "addr", addr, "error", err)
				cloud.Close()
				rc.setCloud(nil)
				r.bus.Emit(Event{Type: EventCloudDisconnected, Data: Transport{Addr: addr}})
			}
		}

		r.dispatch(addr, data)
	}
}

func (r *Relay) dispatch(addr string, data []byte) {
	switch len(data) {
	case protocol.StatusFrameLen:
		status, err := r.codec.DecodeStatus(data)
		if err != nil {
			r.logger.Warn("discarding malformed status frame", "addr", addr, "error", err)
			return
		}
		r.bus.Emit(Event{Type: EventStatusFrame, Data: StatusFrame{Status: status, Addr: addr}})
	case protocol.InfoFrameLen:
		info, err := r.codec.DecodeInfo(data)
		if err != nil {
			r.logger.Warn("discarding malformed info frame", "addr", addr, "error", err)
			return
		}
		r.bus.Emit(Event{Type: EventDeviceInfo, Data: InfoFrame{Info: info, Addr: addr}})
	default:
		r.logger.Debug("unrecognized frame length", "addr", addr, "len", len(data))
	}
}

// cloudLoop forwards cloud bytes verbatim onto the device socket, serialized
// against local command writes.
func (r *Relay) cloudLoop(addr string, rc *relayConn) {
	defer r.wg.Done()
	buf := make([]byte, 512)
	for {
		cloud := rc.cloudConn()
		if cloud == nil {
			return
		}
		n, err := cloud.Read(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				r.logger.Warn("cloud connection lost", "addr", addr, "error", err)
				r.bus.Emit(Event{Type: EventCloudDisconnected, Data: Transport{Addr: addr}})
			}
			return
		}

		rc.writeMu.Lock()
		rc.device.SetWriteDeadline(time.Now().Add(relayWriteWait))
		_, werr := rc.device.Write(buf[:n])
		rc.writeMu.Unlock()
		if werr != nil {
			r.logger.Warn("device write failed", "addr", addr, "error", werr)
			rc.device.Close()
			return
		}
	}
}

// Write sends a locally encoded frame to the device at addr. Writing to an
// address with no live connection fails immediately; delivery is never
// retried here.
func (r *Relay) Write(addr string, data []byte) error {
	r.mu.Lock()
	rc, ok := r.conns[addr]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("no live connection for %s", addr)
	}

	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()
	rc.device.SetWriteDeadline(time.Now().Add(relayWriteWait))
	if _, err := rc.device.Write(data); err != nil {
		return fmt.Errorf("write to %s: %w", addr, err)
	}
	return nil
}

// Addr returns the listener's bound address, useful when listening on an
// ephemeral port.
func (r *Relay) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}

// Connected reports whether a device connection is live for addr.
func (r *Relay) Connected(addr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[addr]
	return ok
}

// Stop closes the listener and all live connections, then waits for the
// read loops to drain.
func (r *Relay) Stop() {
	r.mu.Lock()
	r.closed = true
	if r.listener != nil {
		r.listener.Close()
	}
	for _, rc := range r.conns {
		rc.device.Close()
		if cloud := rc.cloudConn(); cloud != nil {
			cloud.Close()
		}
	}
	r.mu.Unlock()
	r.wg.Wait()
}
