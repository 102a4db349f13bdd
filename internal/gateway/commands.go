package gateway

import (
	"log/slog"
	"sync"
	"time"

	"breeze-gateway/internal/protocol"
	"breeze-gateway/internal/store"
)

// defaultCommandTimeout is the response deadline for a set-parameters command.
const defaultCommandTimeout = 5 * time.Second

type pendingCommand struct {
	command    protocol.DeviceCommand
	resolved   protocol.Settings
	issuedAt   time.Time
	timer      *time.Timer
	generation uint64
	statusSeen bool
}

// CommandManager tracks one outstanding command per serial number. Issuing a
// command produces an optimistic override of the device state; subsequent
// genuine status frames are reconciled against the pending command so a stale
// frame cannot visibly undo the user's change before the device applies it.
type CommandManager struct {
	mu      sync.Mutex
	pending map[string]*pendingCommand
	nextGen uint64

	timeout time.Duration
	codec   *protocol.Codec
	bus     *EventBus
	logger  *slog.Logger
	now     func() time.Time
}

// NewCommandManager creates a command manager with the default 5 s deadline.
func NewCommandManager(codec *protocol.Codec, bus *EventBus, logger *slog.Logger) *CommandManager {
	return &CommandManager{
		pending: make(map[string]*pendingCommand),
		timeout: defaultCommandTimeout,
		codec:   codec,
		bus:     bus,
		logger:  logger.With("component", "commands"),
		now:     time.Now,
	}
}

func settingsFromDevice(d *store.Device) protocol.Settings {
	return protocol.Settings{
		OperatingMode:     d.OperatingMode,
		LastOperatingMode: d.LastOperatingMode,
		FanSpeed:          d.FanSpeed,
		HumidityLevel:     d.HumidityLevel,
		LightSensitivity:  d.LightSensitivity,
	}
}

// Issue records a pending command for the device and returns the optimistic
// override to publish plus the encoded frame to send. A prior pending command
// for the same serial is superseded: its timer is cancelled before the new one
// is armed, so no spurious timeout fires for the old command.
func (m *CommandManager) Issue(cmd protocol.DeviceCommand, current *store.Device) (*store.Device, []byte, error) {
	settings := settingsFromDevice(current)
	frame, err := m.codec.EncodeSetParams(cmd, settings)
	if err != nil {
		return nil, nil, err
	}
	resolved := m.codec.ResolveCommand(cmd, settings)

	m.mu.Lock()
	if old, ok := m.pending[cmd.SerialNumber]; ok {
		old.timer.Stop()
		m.logger.Debug("superseding pending command", "serial", cmd.SerialNumber)
	}
	m.nextGen++
	gen := m.nextGen
	p := &pendingCommand{
		command:    cmd,
		resolved:   resolved,
		issuedAt:   m.now(),
		generation: gen,
	}
	p.timer = time.AfterFunc(m.timeout, func() { m.onDeadline(cmd.SerialNumber, gen) })
	m.pending[cmd.SerialNumber] = p
	m.mu.Unlock()

	override := current.Clone()
	override.OperatingMode = resolved.OperatingMode
	override.FanSpeed = resolved.FanSpeed
	override.HumidityLevel = resolved.HumidityLevel
	override.LightSensitivity = resolved.LightSensitivity
	return override, frame, nil
}

// Reconcile merges a genuine observed status against any pending command for
// the serial. Observed values win for fields the command did not request;
// commanded values win for requested fields the device has not confirmed yet.
// Full confirmation clears the pending entry and cancels its timer.
func (m *CommandManager) Reconcile(observed *store.Device) *store.Device {
	m.mu.Lock()
	p, ok := m.pending[observed.SerialNumber]
	if !ok {
		m.mu.Unlock()
		return observed
	}
	p.statusSeen = true

	type hold struct {
		requested bool
		want      string
		got       *string
	}
	fields := []hold{
		{p.command.OperatingMode != "", p.resolved.OperatingMode, &observed.OperatingMode},
		{p.command.FanSpeed != "", p.resolved.FanSpeed, &observed.FanSpeed},
		{p.command.HumidityLevel != "", p.resolved.HumidityLevel, &observed.HumidityLevel},
		{p.command.LightSensitivity != "", p.resolved.LightSensitivity, &observed.LightSensitivity},
	}

	confirmed := true
	for _, f := range fields {
		if f.requested && *f.got != f.want {
			confirmed = false
		}
	}
	if confirmed {
		p.timer.Stop()
		delete(m.pending, observed.SerialNumber)
		m.mu.Unlock()
		m.logger.Debug("command confirmed", "serial", observed.SerialNumber)
		return observed
	}

	merged := observed.Clone()
	merged.OperatingMode = heldValue(p.command.OperatingMode, p.resolved.OperatingMode, observed.OperatingMode)
	merged.FanSpeed = heldValue(p.command.FanSpeed, p.resolved.FanSpeed, observed.FanSpeed)
	merged.HumidityLevel = heldValue(p.command.HumidityLevel, p.resolved.HumidityLevel, observed.HumidityLevel)
	merged.LightSensitivity = heldValue(p.command.LightSensitivity, p.resolved.LightSensitivity, observed.LightSensitivity)
	m.mu.Unlock()
	return merged
}

func heldValue(requested, want, observed string) string {
	if requested != "" {
		return want
	}
	return observed
}

// HasPending reports whether a command is outstanding for the serial.
func (m *CommandManager) HasPending(serial string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[serial]
	return ok
}

// onDeadline fires when the response deadline elapses. The generation check
// discards a timer that lost the race against a superseding Issue.
func (m *CommandManager) onDeadline(serial string, gen uint64) {
	m.mu.Lock()
	p, ok := m.pending[serial]
	if !ok || p.generation != gen {
		m.mu.Unlock()
		return
	}
	delete(m.pending, serial)
	statusSeen := p.statusSeen
	cmd := p.command
	m.mu.Unlock()

	if statusSeen {
		// The device reported status but never confirmed every requested
		// field; the override simply expires.
		m.logger.Warn("command never fully confirmed, releasing override", "serial", serial)
		return
	}
	m.logger.Warn("command timed out with no status response", "serial", serial)
	m.bus.Emit(Event{Type: EventCommandTimeout, Data: CommandFailure{
		SerialNumber: serial,
		Command:      cmd,
		Reason:       "no status received within deadline",
	}})
}
