package gateway

import (
	"log/slog"
	"sync"

	"breeze-gateway/internal/store"
)

// Registry is the canonical last-known state per serial number. It fronts the
// persistent store and tracks online/offline transitions. Persistence
// failures are logged and swallowed so live consumers keep receiving state.
type Registry struct {
	mu     sync.Mutex
	online map[string]bool

	store  store.Store
	bus    *EventBus
	logger *slog.Logger
}

// NewRegistry creates a registry over the given store.
func NewRegistry(s store.Store, bus *EventBus, logger *slog.Logger) *Registry {
	return &Registry{
		online: make(map[string]bool),
		store:  s,
		bus:    bus,
		logger: logger.With("component", "registry"),
	}
}

// Upsert persists the device record and marks it online, emitting a
// device_online event on the offline-to-online transition.
func (r *Registry) Upsert(dev *store.Device) {
	if err := r.store.SaveDevice(dev); err != nil {
		r.logger.Error("persist device", "serial", dev.SerialNumber, "error", err)
	}

	r.mu.Lock()
	wasOnline := r.online[dev.SerialNumber]
	r.online[dev.SerialNumber] = true
	r.mu.Unlock()

	if !wasOnline {
		r.logger.Info("device online", "serial", dev.SerialNumber, "addr", dev.RemoteAddress)
		r.bus.Emit(Event{Type: EventDeviceOnline, Data: StatusPayload{Device: dev.Clone()}})
	}
}

// MarkOffline flips the device to offline and emits a device_offline event.
// The stored record is kept; offline is a liveness statement, not a deletion.
func (r *Registry) MarkOffline(serial string) {
	r.mu.Lock()
	wasOnline := r.online[serial]
	r.online[serial] = false
	r.mu.Unlock()
	if !wasOnline {
		return
	}

	dev, err := r.store.GetDevice(serial)
	if err != nil {
		r.logger.Error("load device for offline event", "serial", serial, "error", err)
		dev = &store.Device{SerialNumber: serial}
	}
	r.logger.Info("device offline", "serial", serial)
	r.bus.Emit(Event{Type: EventDeviceOffline, Data: StatusPayload{Device: dev}})
}

// IsOnline reports the current liveness of a serial.
func (r *Registry) IsOnline(serial string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online[serial]
}

// Get returns the device record for a serial.
func (r *Registry) Get(serial string) (*store.Device, error) {
	return r.store.GetDevice(serial)
}

// GetByAddress returns the device currently bound to a transport address.
func (r *Registry) GetByAddress(addr string) (*store.Device, error) {
	return r.store.GetDeviceByAddress(addr)
}

// List returns all known device records.
func (r *Registry) List() ([]*store.Device, error) {
	return r.store.ListDevices()
}

// Delete removes a device record.
func (r *Registry) Delete(serial string) error {
	r.mu.Lock()
	delete(r.online, serial)
	r.mu.Unlock()
	return r.store.DeleteDevice(serial)
}
