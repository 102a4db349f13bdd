package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"breeze-gateway/internal/gateway"
	"breeze-gateway/internal/protocol"
	"breeze-gateway/internal/store"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	HADiscovery bool
	HAPrefix    string
}

// Bridge connects the ventilation gateway to MQTT with HA autodiscovery.
// Each device gets a retained JSON state topic plus availability and cloud
// topics; commands arrive on per-device /set topics and are translated onto
// the gateway's event bus.
type Bridge struct {
	client pahomqtt.Client
	gw     *gateway.Gateway
	cfg    Config
	logger *slog.Logger
	unsub  func()

	// Per-device state accumulator. Broadcast-only fields (fan_status) ride
	// along with the last full status snapshot.
	mu     sync.Mutex
	states map[string]map[string]any // serial -> property map

	// Cloud state for connections whose serial is not yet known. The relay
	// dials the cloud before the first status frame binds the address, so the
	// publish is held until the serial resolves.
	cloudPending map[string]string // transport addr -> "connected"/"disconnected"
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(gw *gateway.Gateway, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := &Bridge{
		gw:           gw,
		cfg:          cfg,
		logger:       logger.With("component", "mqtt"),
		states:       make(map[string]map[string]any),
		cloudPending: make(map[string]string),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("breeze-gateway").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.onConnect()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	// The on-connect handler can fire before Connect returns, so the client
	// must be visible to it already.
	b.client = pahomqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

func (b *Bridge) onConnect() {
	b.logger.Info("MQTT connected")
	b.publishBridgeState("online")
	b.publishAllDiscovery()
	b.subscribeCommands()
}

// Start subscribes to gateway events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.gw.Bus().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.cfg.TopicPrefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event gateway.Event) {
	switch event.Type {
	case gateway.EventStatusObserved:
		b.handleStatusObserved(event)
	case gateway.EventBroadcastObserved:
		b.handleBroadcastObserved(event)
	case gateway.EventDeviceOnline:
		b.handleOnline(event, "online")
	case gateway.EventDeviceOffline:
		b.handleOnline(event, "offline")
	case gateway.EventCloudConnected:
		b.handleCloud(event, "connected")
	case gateway.EventCloudDisconnected:
		b.handleCloud(event, "disconnected")
	case gateway.EventCommandTimeout, gateway.EventCommandSendFailed:
		b.handleFailure(event)
	case gateway.EventDeviceDisconnected:
		b.handleTransportGone(event)
	}
}

func (b *Bridge) handleStatusObserved(event gateway.Event) {
	payload, ok := event.Data.(gateway.StatusPayload)
	if !ok || payload.Device == nil {
		return
	}
	dev := payload.Device

	b.mu.Lock()
	state, ok := b.states[dev.SerialNumber]
	if !ok {
		state = make(map[string]any)
		b.states[dev.SerialNumber] = state
	}
	mergeDeviceState(state, dev)
	data := mustJSON(state)
	cloudState, cloudHeld := b.cloudPending[dev.RemoteAddress]
	if cloudHeld {
		delete(b.cloudPending, dev.RemoteAddress)
	}
	b.mu.Unlock()

	b.publish(b.cfg.TopicPrefix+"/"+dev.SerialNumber, data, true)
	if cloudHeld {
		b.publish(b.cfg.TopicPrefix+"/"+dev.SerialNumber+"/cloud", []byte(cloudState), true)
	}
}

// mergeDeviceState writes the device snapshot into the accumulated state map,
// preserving broadcast-only keys.
func mergeDeviceState(state map[string]any, dev *store.Device) {
	state["operating_mode"] = dev.OperatingMode
	state["fan_speed"] = dev.FanSpeed
	state["humidity_level"] = dev.HumidityLevel
	state["light_sensitivity"] = dev.LightSensitivity
	state["device_role"] = dev.DeviceRole
	state["last_operating_mode"] = dev.LastOperatingMode
	state["temperature"] = dev.Temperature
	state["humidity"] = dev.Humidity
	state["air_quality"] = dev.AirQuality
	state["humidity_alarm"] = dev.HumidityAlarm
	state["night_alarm"] = dev.NightAlarm
	state["filter_status"] = dev.FilterStatus
	state["signal_strength"] = dev.SignalStrength
	state["house_id"] = dev.HouseID
	state["zone_id"] = dev.ZoneID
	state["last_seen"] = dev.LastUpdate.Format(time.RFC3339)
}

func (b *Bridge) handleBroadcastObserved(event gateway.Event) {
	bf, ok := event.Data.(gateway.BroadcastFrame)
	if !ok || bf.Broadcast.SerialNumber == "" {
		return
	}
	serial := bf.Broadcast.SerialNumber

	b.mu.Lock()
	state, ok := b.states[serial]
	if !ok {
		state = make(map[string]any)
		b.states[serial] = state
	}
	state["fan_status"] = bf.Broadcast.FanStatus.String()
	state["fan_mode"] = bf.Broadcast.FanMode.String()
	data := mustJSON(state)
	b.mu.Unlock()

	b.publish(b.cfg.TopicPrefix+"/"+serial, data, true)
}

func (b *Bridge) handleOnline(event gateway.Event, state string) {
	payload, ok := event.Data.(gateway.StatusPayload)
	if !ok || payload.Device == nil {
		return
	}
	serial := payload.Device.SerialNumber
	b.publish(b.cfg.TopicPrefix+"/"+serial+"/availability", []byte(state), true)

	if state == "online" && b.cfg.HADiscovery {
		b.publishDeviceDiscovery(payload.Device)
	}
}

func (b *Bridge) handleCloud(event gateway.Event, state string) {
	t, ok := event.Data.(gateway.Transport)
	if !ok {
		return
	}
	serial, ok := b.serialForTransport(t.Addr)
	if !ok {
		// The cloud dial happens before the first status frame binds the
		// address to a serial; hold the state until it does.
		b.mu.Lock()
		b.cloudPending[t.Addr] = state
		b.mu.Unlock()
		return
	}
	b.publish(b.cfg.TopicPrefix+"/"+serial+"/cloud", []byte(state), true)
}

// serialForTransport resolves a transport address against the live connection
// bindings first, then against stored records.
func (b *Bridge) serialForTransport(addr string) (string, bool) {
	if serial, ok := b.gw.SerialForAddress(addr); ok {
		return serial, true
	}
	dev, err := b.gw.Registry().GetByAddress(addr)
	if err != nil {
		return "", false
	}
	return dev.SerialNumber, true
}

func (b *Bridge) handleTransportGone(event gateway.Event) {
	t, ok := event.Data.(gateway.Transport)
	if !ok {
		return
	}
	b.mu.Lock()
	delete(b.cloudPending, t.Addr)
	b.mu.Unlock()
}

func (b *Bridge) handleFailure(event gateway.Event) {
	f, ok := event.Data.(gateway.CommandFailure)
	if !ok {
		return
	}
	b.publish(b.cfg.TopicPrefix+"/"+f.SerialNumber+"/error", mustJSON(map[string]string{
		"type":   event.Type,
		"reason": f.Reason,
	}), false)
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.cfg.TopicPrefix+"/bridge/state", []byte(state), true)
}

func (b *Bridge) publishAllDiscovery() {
	if !b.cfg.HADiscovery {
		return
	}
	devices, err := b.gw.Registry().List()
	if err != nil {
		b.logger.Error("list devices for discovery", "err", err)
		return
	}
	for _, dev := range devices {
		b.publishDeviceDiscovery(dev)
	}
}

func (b *Bridge) publishDeviceDiscovery(dev *store.Device) {
	for _, msg := range buildDiscovery(dev, b.cfg.TopicPrefix, b.cfg.HAPrefix) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.logger.Info("published HA discovery", "serial", dev.SerialNumber)
}

func (b *Bridge) subscribeCommands() {
	prefix := b.cfg.TopicPrefix
	b.client.Subscribe(prefix+"/+/set", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleSet(msg.Topic(), msg.Payload())
	})
	b.client.Subscribe(prefix+"/+/filter_reset/set", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleFilterReset(msg.Topic())
	})
}

// handleSet dispatches prefix/<serial>/set. The pseudo-serial "weather"
// carries an outdoor conditions push instead of a device command.
func (b *Bridge) handleSet(topic string, payload []byte) {
	serial := topicSegment(topic, b.cfg.TopicPrefix)
	if serial == "" {
		return
	}

	if serial == "weather" {
		var wu protocol.WeatherUpdate
		if err := json.Unmarshal(payload, &wu); err != nil {
			b.logger.Warn("invalid weather JSON", "err", err)
			return
		}
		b.gw.SendWeather(wu)
		return
	}

	var cmd protocol.DeviceCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Warn("invalid command JSON", "serial", serial, "err", err)
		return
	}
	cmd.SerialNumber = serial
	b.gw.SendCommand(cmd)
}

func (b *Bridge) handleFilterReset(topic string) {
	serial := topicSegment(topic, b.cfg.TopicPrefix)
	if serial == "" {
		return
	}
	b.gw.ResetFilter(serial)
}

// topicSegment extracts the serial segment following the prefix.
func topicSegment(topic, prefix string) string {
	rest := strings.TrimPrefix(topic, prefix+"/")
	if rest == topic {
		return ""
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[:i]
	}
	return rest
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}
