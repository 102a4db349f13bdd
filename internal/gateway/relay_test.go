package gateway

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"breeze-gateway/internal/protocol"
)

func newTestRelay(t *testing.T) (*Relay, *EventBus) {
	t.Helper()
	bus := NewEventBus(testLogger())
	r := NewRelay("127.0.0.1:0", "", false, protocol.NewCodec(testLogger()), bus, testLogger())
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(r.Stop)
	return r, bus
}

// buildStatusFrame assembles a 21-byte status frame for tests.
func buildStatusFrame(t *testing.T, serial string, fanSpeed protocol.FanSpeed) []byte {
	t.Helper()
	sn, err := protocol.EncodeSerial(serial)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, protocol.StatusFrameLen)
	buf[0] = 0x02
	copy(buf[2:8], sn[:])
	buf[8] = byte(protocol.OpSmart)
	buf[9] = byte(fanSpeed)
	buf[10] = byte(protocol.HumidityNormal)
	binary.LittleEndian.PutUint16(buf[11:13], uint16(215))
	buf[13] = 55
	buf[14] = byte(protocol.AirGood)
	buf[16] = byte(protocol.FilterGood)
	buf[17] = byte(protocol.RoleMaster)
	buf[18] = byte(protocol.OpAuto)
	buf[19] = byte(protocol.LightLow)
	buf[20] = 80
	return buf
}

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestRelayDecodesStatusFrames(t *testing.T) {
	r, bus := newTestRelay(t)

	statusCh := make(chan Event, 1)
	bus.On(EventStatusFrame, func(ev Event) { statusCh <- ev })

	conn, err := net.Dial("tcp", r.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	frame := buildStatusFrame(t, "A1B2C3D4E5F6", protocol.FanLow)
	if _, err := conn.Write(frame); err != nil {
		t.Fatal(err)
	}

	ev := waitEvent(t, statusCh)
	sf, ok := ev.Data.(StatusFrame)
	if !ok {
		t.Fatalf("event data = %T, want StatusFrame", ev.Data)
	}
	if sf.Status.SerialNumber != "A1B2C3D4E5F6" {
		t.Errorf("serial = %q", sf.Status.SerialNumber)
	}
	if sf.Addr != conn.LocalAddr().String() {
		t.Errorf("addr = %q, want %q", sf.Addr, conn.LocalAddr().String())
	}
	if !r.Connected(sf.Addr) {
		t.Error("relay does not report the connection live")
	}
}

func TestRelayWriteReachesDevice(t *testing.T) {
	r, bus := newTestRelay(t)

	connectedCh := make(chan Event, 1)
	bus.On(EventDeviceConnected, func(ev Event) { connectedCh <- ev })

	conn, err := net.Dial("tcp", r.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ev := waitEvent(t, connectedCh)
	addr := ev.Data.(Transport).Addr

	codec := protocol.NewCodec(testLogger())
	frame, err := codec.EncodeFilterReset("A1B2C3D4E5F6")
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Write(addr, frame); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, protocol.FilterResetFrameLen)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatal(err)
	}
	if got[0] != 0x02 || got[8] != 0x03 {
		t.Errorf("device received % X", got)
	}
}

func TestRelayWriteToDeadAddress(t *testing.T) {
	r, _ := newTestRelay(t)

	if err := r.Write("10.0.0.99:1234", []byte{0x02, 0x00}); err == nil {
		t.Fatal("write to unknown address did not fail")
	}
}

func TestRelayDiscardsUnknownFrameLengths(t *testing.T) {
	r, bus := newTestRelay(t)

	rawCh := make(chan Event, 1)
	statusCh := make(chan Event, 1)
	bus.On(EventRawDeviceData, func(ev Event) { rawCh <- ev })
	bus.On(EventStatusFrame, func(ev Event) { statusCh <- ev })

	conn, err := net.Dial("tcp", r.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{0x02, 0x00, 0xFF}); err != nil {
		t.Fatal(err)
	}

	ev := waitEvent(t, rawCh)
	if tr := ev.Data.(Transport); len(tr.Data) != 3 {
		t.Errorf("raw data length = %d, want 3", len(tr.Data))
	}
	select {
	case <-statusCh:
		t.Fatal("malformed frame produced a status event")
	case <-time.After(100 * time.Millisecond):
	}

	// Connection survives the malformed frame.
	frame := buildStatusFrame(t, "A1B2C3D4E5F6", protocol.FanLow)
	if _, err := conn.Write(frame); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, statusCh)
}

func TestRelayCloudProxy(t *testing.T) {
	cloudLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer cloudLn.Close()
	cloudLn.(*net.TCPListener).SetDeadline(time.Now().Add(2 * time.Second))

	bus := NewEventBus(testLogger())
	r := NewRelay("127.0.0.1:0", cloudLn.Addr().String(), true, protocol.NewCodec(testLogger()), bus, testLogger())
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(r.Stop)

	cloudUpCh := make(chan Event, 1)
	statusCh := make(chan Event, 1)
	bus.On(EventCloudConnected, func(ev Event) { cloudUpCh <- ev })
	bus.On(EventStatusFrame, func(ev Event) { statusCh <- ev })

	device, err := net.Dial("tcp", r.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer device.Close()

	cloud, err := cloudLn.Accept()
	if err != nil {
		t.Fatal(err)
	}
	defer cloud.Close()
	waitEvent(t, cloudUpCh)

	// Device bytes reach the cloud verbatim, and the decode tap still fires.
	frame := buildStatusFrame(t, "A1B2C3D4E5F6", protocol.FanLow)
	if _, err := device.Write(frame); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(frame))
	cloud.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(cloud, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, frame) {
		t.Errorf("cloud received % X, want % X", got, frame)
	}
	waitEvent(t, statusCh)

	// Cloud bytes reach the device verbatim.
	codec := protocol.NewCodec(testLogger())
	push, err := codec.EncodeFilterReset("A1B2C3D4E5F6")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cloud.Write(push); err != nil {
		t.Fatal(err)
	}
	got = make([]byte, len(push))
	device.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(device, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, push) {
		t.Errorf("device received % X, want % X", got, push)
	}

	// Local command writes share the device socket with cloud forwarding.
	if err := r.Write(device.LocalAddr().String(), push); err != nil {
		t.Fatal(err)
	}
	device.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(device, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, push) {
		t.Errorf("device received % X after local write, want % X", got, push)
	}
}

func TestRelayCloudDialFailureServesLocally(t *testing.T) {
	// Grab a port that is guaranteed closed.
	dead, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	deadAddr := dead.Addr().String()
	dead.Close()

	bus := NewEventBus(testLogger())
	r := NewRelay("127.0.0.1:0", deadAddr, true, protocol.NewCodec(testLogger()), bus, testLogger())
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(r.Stop)

	cloudUpCh := make(chan Event, 1)
	statusCh := make(chan Event, 1)
	bus.On(EventCloudConnected, func(ev Event) { cloudUpCh <- ev })
	bus.On(EventStatusFrame, func(ev Event) { statusCh <- ev })

	device, err := net.Dial("tcp", r.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer device.Close()

	if _, err := device.Write(buildStatusFrame(t, "A1B2C3D4E5F6", protocol.FanLow)); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, statusCh)

	select {
	case <-cloudUpCh:
		t.Fatal("cloud_connected emitted although the dial failed")
	default:
	}
}

func TestRelayEmitsDisconnect(t *testing.T) {
	r, bus := newTestRelay(t)

	disconnectedCh := make(chan Event, 1)
	bus.On(EventDeviceDisconnected, func(ev Event) { disconnectedCh <- ev })

	conn, err := net.Dial("tcp", r.Addr())
	if err != nil {
		t.Fatal(err)
	}
	conn.Close()

	ev := waitEvent(t, disconnectedCh)
	addr := ev.Data.(Transport).Addr
	if r.Connected(addr) {
		t.Error("relay still reports the connection live after disconnect")
	}
}
