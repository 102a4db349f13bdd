package gateway

import (
	"sync"
	"testing"
	"time"

	"breeze-gateway/internal/protocol"
	"breeze-gateway/internal/store"
)

type timeoutRecorder struct {
	mu       sync.Mutex
	failures []CommandFailure
}

func (r *timeoutRecorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := ev.Data.(CommandFailure); ok {
		r.failures = append(r.failures, f)
	}
}

func (r *timeoutRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failures)
}

func newTestCommandManager(t *testing.T, timeout time.Duration) (*CommandManager, *timeoutRecorder) {
	t.Helper()
	bus := NewEventBus(testLogger())
	rec := &timeoutRecorder{}
	bus.On(EventCommandTimeout, rec.record)
	m := NewCommandManager(protocol.NewCodec(testLogger()), bus, testLogger())
	m.timeout = timeout
	return m, rec
}

func lowSpeedDevice() *store.Device {
	return &store.Device{
		SerialNumber:      "A1B2C3D4E5F6",
		OperatingMode:     "SMART",
		LastOperatingMode: "AUTO",
		FanSpeed:          "LOW",
		HumidityLevel:     "NORMAL",
		LightSensitivity:  "LOW",
	}
}

func TestIssueAppliesOptimisticOverride(t *testing.T) {
	m, _ := newTestCommandManager(t, time.Minute)
	dev := lowSpeedDevice()

	override, frame, err := m.Issue(protocol.DeviceCommand{
		SerialNumber: dev.SerialNumber,
		FanSpeed:     "HIGH",
	}, dev)
	if err != nil {
		t.Fatal(err)
	}

	if override.FanSpeed != "HIGH" {
		t.Errorf("override fan speed = %q, want HIGH", override.FanSpeed)
	}
	if override.OperatingMode != "SMART" {
		t.Errorf("override operating mode = %q, want SMART (unrequested)", override.OperatingMode)
	}
	if dev.FanSpeed != "LOW" {
		t.Errorf("stored device mutated: fan speed = %q", dev.FanSpeed)
	}
	if len(frame) != protocol.SetParamsFrameLen {
		t.Errorf("frame length = %d, want %d", len(frame), protocol.SetParamsFrameLen)
	}
	if !m.HasPending(dev.SerialNumber) {
		t.Error("no pending entry after issue")
	}
}

func TestReconcileHoldsUnconfirmedField(t *testing.T) {
	m, _ := newTestCommandManager(t, time.Minute)
	dev := lowSpeedDevice()

	if _, _, err := m.Issue(protocol.DeviceCommand{SerialNumber: dev.SerialNumber, FanSpeed: "HIGH"}, dev); err != nil {
		t.Fatal(err)
	}

	// Stale frame pre-dating the device's own update.
	stale := lowSpeedDevice()
	stale.Temperature = 230
	merged := m.Reconcile(stale)

	if merged.FanSpeed != "HIGH" {
		t.Errorf("merged fan speed = %q, want HIGH (override held)", merged.FanSpeed)
	}
	if merged.Temperature != 230 {
		t.Errorf("merged temperature = %d, want 230 (observed wins for unrequested)", merged.Temperature)
	}
	if !m.HasPending(dev.SerialNumber) {
		t.Error("pending entry cleared by unconfirmed status")
	}
}

func TestReconcileClearsOnConfirmation(t *testing.T) {
	m, _ := newTestCommandManager(t, time.Minute)
	dev := lowSpeedDevice()

	if _, _, err := m.Issue(protocol.DeviceCommand{SerialNumber: dev.SerialNumber, FanSpeed: "HIGH"}, dev); err != nil {
		t.Fatal(err)
	}

	confirmed := lowSpeedDevice()
	confirmed.FanSpeed = "HIGH"
	got := m.Reconcile(confirmed)

	if got.FanSpeed != "HIGH" {
		t.Errorf("fan speed = %q, want HIGH", got.FanSpeed)
	}
	if m.HasPending(dev.SerialNumber) {
		t.Error("pending entry survived full confirmation")
	}

	// Raw status now passes through unmodified.
	raw := lowSpeedDevice()
	if got := m.Reconcile(raw); got.FanSpeed != "LOW" {
		t.Errorf("post-confirmation fan speed = %q, want LOW", got.FanSpeed)
	}
}

func TestSupersedeCancelsPriorTimer(t *testing.T) {
	m, rec := newTestCommandManager(t, 50*time.Millisecond)
	dev := lowSpeedDevice()

	if _, _, err := m.Issue(protocol.DeviceCommand{SerialNumber: dev.SerialNumber, FanSpeed: "HIGH"}, dev); err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.Issue(protocol.DeviceCommand{SerialNumber: dev.SerialNumber, OperatingMode: "NIGHT"}, dev); err != nil {
		t.Fatal(err)
	}

	time.Sleep(200 * time.Millisecond)

	// Only the superseding command may time out.
	if got := rec.count(); got != 1 {
		t.Fatalf("timeout events = %d, want 1", got)
	}
	rec.mu.Lock()
	cmd := rec.failures[0].Command
	rec.mu.Unlock()
	if cmd.OperatingMode != "NIGHT" {
		t.Errorf("timed-out command = %+v, want the superseding one", cmd)
	}
	if m.HasPending(dev.SerialNumber) {
		t.Error("pending entry survived its deadline")
	}
}

func TestTimeoutFiresWithoutStatus(t *testing.T) {
	m, rec := newTestCommandManager(t, 20*time.Millisecond)
	dev := lowSpeedDevice()

	if _, _, err := m.Issue(protocol.DeviceCommand{SerialNumber: dev.SerialNumber, FanSpeed: "HIGH"}, dev); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)

	if got := rec.count(); got != 1 {
		t.Errorf("timeout events = %d, want 1", got)
	}
}

func TestTimeoutSuppressedAfterStatus(t *testing.T) {
	m, rec := newTestCommandManager(t, 50*time.Millisecond)
	dev := lowSpeedDevice()

	if _, _, err := m.Issue(protocol.DeviceCommand{SerialNumber: dev.SerialNumber, FanSpeed: "HIGH"}, dev); err != nil {
		t.Fatal(err)
	}

	// Device responded, just not with the commanded value yet.
	m.Reconcile(lowSpeedDevice())

	time.Sleep(200 * time.Millisecond)

	if got := rec.count(); got != 0 {
		t.Errorf("timeout events = %d, want 0 after status was seen", got)
	}
	if m.HasPending(dev.SerialNumber) {
		t.Error("pending entry survived its deadline")
	}
}

func TestIssueResolvesLastSentinel(t *testing.T) {
	m, _ := newTestCommandManager(t, time.Minute)
	dev := lowSpeedDevice()

	override, _, err := m.Issue(protocol.DeviceCommand{SerialNumber: dev.SerialNumber, OperatingMode: "LAST"}, dev)
	if err != nil {
		t.Fatal(err)
	}
	if override.OperatingMode != "AUTO" {
		t.Errorf("override operating mode = %q, want AUTO (resolved LAST)", override.OperatingMode)
	}
}
