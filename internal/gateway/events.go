package gateway

import (
	"log/slog"
	"sync"

	"breeze-gateway/internal/protocol"
	"breeze-gateway/internal/store"
)

// Event types
const (
	EventDeviceConnected    = "device_connected"
	EventDeviceDisconnected = "device_disconnected"
	EventCloudConnected     = "cloud_connected"
	EventCloudDisconnected  = "cloud_disconnected"
	EventRawDeviceData      = "raw_device_data"
	EventStatusFrame        = "status_frame"
	EventDeviceInfo         = "device_info"
	EventBroadcastFrame     = "broadcast_frame"
	EventStatusObserved     = "status_observed"
	EventBroadcastObserved  = "broadcast_observed"
	EventDeviceOnline       = "device_online"
	EventDeviceOffline      = "device_offline"
	EventCommandRequested   = "command_requested"
	EventFilterReset        = "filter_reset"
	EventWeatherUpdate      = "weather_update"
	EventDeviceSetup        = "device_setup"
	EventCommandTimeout     = "command_timeout"
	EventCommandSendFailed  = "command_send_failed"
)

// Transport carries an address for connect/disconnect and raw data events.
type Transport struct {
	Addr string `json:"addr"`
	Data []byte `json:"data,omitempty"`
}

// StatusFrame is a genuine decoded status with its transport address.
type StatusFrame struct {
	Status protocol.DeviceStatus
	Addr   string
}

// InfoFrame is a decoded device information frame with its transport address.
type InfoFrame struct {
	Info protocol.DeviceInfo
	Addr string
}

// BroadcastFrame is a decoded UDP broadcast with its datagram source address.
type BroadcastFrame struct {
	Broadcast protocol.BroadcastStatus
	Addr      string
}

// CommandFailure reports a command that could not be delivered or confirmed.
type CommandFailure struct {
	SerialNumber string                 `json:"serial_number"`
	Command      protocol.DeviceCommand `json:"command"`
	Reason       string                 `json:"reason"`
}

// StatusPayload carries the canonical published device state.
type StatusPayload struct {
	Device *store.Device `json:"device"`
}

// Event represents a gateway event.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus provides synchronous pub/sub for gateway events. Handlers run in
// registration order before Emit returns; a panicking handler is recovered so
// no socket or timer callback can take the process down.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[string][]busEntry
	allHandlers []busEntry
	nextID      uint64
	logger      *slog.Logger
}

type busEntry struct {
	id uint64
	fn EventHandler
}

// NewEventBus creates a new event bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers: make(map[string][]busEntry),
		logger:   logger,
	}
}

// On registers a handler for a specific event type.
// Returns an unsubscribe function.
func (eb *EventBus) On(eventType string, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	eb.handlers[eventType] = append(eb.handlers[eventType], busEntry{id: id, fn: handler})
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		entries := eb.handlers[eventType]
		for i, e := range entries {
			if e.id == id {
				eb.handlers[eventType] = append(entries[:i:i], entries[i+1:]...)
				break
			}
		}
	}
}

// OnAll registers a handler that receives all events.
// Returns an unsubscribe function.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	eb.allHandlers = append(eb.allHandlers, busEntry{id: id, fn: handler})
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		for i, e := range eb.allHandlers {
			if e.id == id {
				eb.allHandlers = append(eb.allHandlers[:i:i], eb.allHandlers[i+1:]...)
				break
			}
		}
	}
}

// Emit sends an event to all matching handlers in registration order.
func (eb *EventBus) Emit(event Event) {
	eb.mu.RLock()
	handlers := make([]EventHandler, 0, len(eb.handlers[event.Type])+len(eb.allHandlers))
	for _, e := range eb.handlers[event.Type] {
		handlers = append(handlers, e.fn)
	}
	for _, e := range eb.allHandlers {
		handlers = append(handlers, e.fn)
	}
	eb.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "type", event.Type, "panic", r)
				}
			}()
			h(event)
		}()
	}
}
