package gateway

import (
	"errors"
	"log/slog"
	"time"

	"breeze-gateway/internal/protocol"
	"breeze-gateway/internal/store"
)

// Config holds the gateway's transport settings.
type Config struct {
	ListenAddr   string
	CloudAddr    string
	CloudEnabled bool
	UDPBasePort  int
	Zones        int
	SweepCron    string
	StaleAfter   time.Duration
}

// Gateway wires the relay, broadcast listener, correlator, command manager,
// registry and sweeper together over the event bus. It is the single writer
// for device records: every mutation flows through its handlers, which the
// bus dispatches synchronously.
type Gateway struct {
	cfg Config

	codec      *protocol.Codec
	bus        *EventBus
	registry   *Registry
	correlator *Correlator
	commands   *CommandManager
	relay      *Relay
	broadcast  *BroadcastListener
	sweeper    *Sweeper
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a fully wired gateway over the given store.
func New(cfg Config, s store.Store, logger *slog.Logger) *Gateway {
	bus := NewEventBus(logger)
	codec := protocol.NewCodec(logger)
	g := &Gateway{
		cfg:        cfg,
		codec:      codec,
		bus:        bus,
		registry:   NewRegistry(s, bus, logger),
		correlator: NewCorrelator(logger),
		commands:   NewCommandManager(codec, bus, logger),
		logger:     logger.With("component", "gateway"),
		now:        time.Now,
	}
	g.relay = NewRelay(cfg.ListenAddr, cfg.CloudAddr, cfg.CloudEnabled, codec, bus, logger)
	g.broadcast = NewBroadcastListener(cfg.UDPBasePort, cfg.Zones, codec, bus, logger)
	g.sweeper = NewSweeper(g.registry, cfg.SweepCron, cfg.StaleAfter, logger)

	bus.On(EventStatusFrame, g.handleStatusFrame)
	bus.On(EventDeviceInfo, g.handleDeviceInfo)
	bus.On(EventBroadcastFrame, g.handleBroadcastFrame)
	bus.On(EventCommandRequested, g.handleCommandRequested)
	bus.On(EventFilterReset, g.handleFilterReset)
	bus.On(EventWeatherUpdate, g.handleWeatherUpdate)
	bus.On(EventDeviceSetup, g.handleDeviceSetup)
	bus.On(EventDeviceDisconnected, g.handleDisconnect)
	return g
}

// Bus exposes the event bus for external consumers (MQTT bridge, web server).
func (g *Gateway) Bus() *EventBus { return g.bus }

// Registry exposes read access to device records.
func (g *Gateway) Registry() *Registry { return g.registry }

// SerialForAddress reports the serial currently bound to a live TCP address.
// A fresh connection has no binding until its first status frame decodes.
func (g *Gateway) SerialForAddress(addr string) (string, bool) {
	return g.correlator.SerialForAddress(addr)
}

// Start brings up the TCP relay, the UDP zone listeners and the sweeper.
func (g *Gateway) Start() error {
	if err := g.relay.Start(); err != nil {
		return err
	}
	if err := g.broadcast.Start(); err != nil {
		g.relay.Stop()
		return err
	}
	if err := g.sweeper.Start(); err != nil {
		g.broadcast.Stop()
		g.relay.Stop()
		return err
	}
	return nil
}

// Stop tears everything down in reverse start order.
func (g *Gateway) Stop() {
	g.sweeper.Stop()
	g.broadcast.Stop()
	g.relay.Stop()
}

// SendCommand requests a partial settings update for a device.
func (g *Gateway) SendCommand(cmd protocol.DeviceCommand) {
	g.bus.Emit(Event{Type: EventCommandRequested, Data: cmd})
}

// ResetFilter requests a filter counter reset.
func (g *Gateway) ResetFilter(serial string) {
	g.bus.Emit(Event{Type: EventFilterReset, Data: serial})
}

// SendWeather pushes outdoor conditions to every connected device.
func (g *Gateway) SendWeather(wu protocol.WeatherUpdate) {
	g.bus.Emit(Event{Type: EventWeatherUpdate, Data: wu})
}

// SetupDevice assigns a device's role, zone and house.
func (g *Gateway) SetupDevice(setup protocol.DeviceSetup) {
	g.bus.Emit(Event{Type: EventDeviceSetup, Data: setup})
}

// handleStatusFrame turns a genuine decoded status frame into the canonical
// published device state: identity correlation, command reconciliation, then
// registry upsert and status_observed fan-out.
func (g *Gateway) handleStatusFrame(ev Event) {
	sf, ok := ev.Data.(StatusFrame)
	if !ok {
		return
	}
	serial := sf.Status.SerialNumber
	g.correlator.TrackAddress(sf.Addr, serial)
	houseID, _ := g.correlator.Correlate(serial, sf.Addr)
	zoneID := g.correlator.ZoneID(serial)

	dev := g.deviceFromStatus(sf.Status, sf.Addr, houseID, zoneID)
	dev = g.commands.Reconcile(dev)
	g.registry.Upsert(dev)
	g.bus.Emit(Event{Type: EventStatusObserved, Data: StatusPayload{Device: dev}})
}

func (g *Gateway) deviceFromStatus(status protocol.DeviceStatus, addr string, houseID, zoneID int) *store.Device {
	now := g.now()
	dev := &store.Device{
		SerialNumber:      status.SerialNumber,
		OperatingMode:     status.OperatingMode.String(),
		FanSpeed:          status.FanSpeed.String(),
		HumidityLevel:     status.HumidityLevel.String(),
		LightSensitivity:  status.LightSensitivity.String(),
		DeviceRole:        status.DeviceRole.String(),
		LastOperatingMode: status.LastOperatingMode.String(),
		Temperature:       status.Temperature,
		Humidity:          status.Humidity,
		AirQuality:        status.AirQuality.String(),
		HumidityAlarm:     status.HumidityAlarm,
		NightAlarm:        status.NightAlarm,
		FilterStatus:      status.FilterStatus.String(),
		SignalStrength:    status.SignalStrength,
		RemoteAddress:     addr,
		HouseID:           houseID,
		ZoneID:            zoneID,
		FirstSeen:         now,
		LastUpdate:        now,
	}
	if prev, err := g.registry.Get(status.SerialNumber); err == nil {
		dev.FirstSeen = prev.FirstSeen
		dev.RadioFwVersion = prev.RadioFwVersion
		dev.MicroFwVersion = prev.MicroFwVersion
		if dev.HouseID == 0 {
			dev.HouseID = prev.HouseID
		}
		if dev.ZoneID == 0 {
			dev.ZoneID = prev.ZoneID
		}
	}
	return dev
}

func (g *Gateway) handleDeviceInfo(ev Event) {
	inf, ok := ev.Data.(InfoFrame)
	if !ok {
		return
	}
	g.logger.Info("device info",
		"serial", inf.Info.SerialNumber,
		"radio_fw", inf.Info.RadioFwVersion,
		"micro_fw", inf.Info.MicroFwVersion)

	dev, err := g.registry.Get(inf.Info.SerialNumber)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			g.logger.Error("load device for info frame", "serial", inf.Info.SerialNumber, "error", err)
		}
		return
	}
	dev.RadioFwVersion = inf.Info.RadioFwVersion
	dev.MicroFwVersion = inf.Info.MicroFwVersion
	g.registry.Upsert(dev)
}

// handleBroadcastFrame feeds the correlator and republishes the broadcast
// with the serial attached when one is known for the source IP.
func (g *Gateway) handleBroadcastFrame(ev Event) {
	bf, ok := ev.Data.(BroadcastFrame)
	if !ok {
		return
	}
	g.correlator.OnBroadcast(bf.Addr, bf.Broadcast.ZoneIndex, bf.Broadcast.HouseID, bf.Broadcast.HasHouseID)

	bs := bf.Broadcast
	if serial, ok := g.correlator.SerialForIP(bf.Addr); ok {
		bs.SerialNumber = serial
	}
	g.bus.Emit(Event{Type: EventBroadcastObserved, Data: BroadcastFrame{Broadcast: bs, Addr: bf.Addr}})
}

func (g *Gateway) handleCommandRequested(ev Event) {
	cmd, ok := ev.Data.(protocol.DeviceCommand)
	if !ok {
		return
	}
	dev, err := g.registry.Get(cmd.SerialNumber)
	if err != nil {
		g.logger.Warn("command for unknown device", "serial", cmd.SerialNumber, "error", err)
		g.sendFailed(cmd, "unknown device")
		return
	}

	override, frame, err := g.commands.Issue(cmd, dev)
	if err != nil {
		g.logger.Error("encode command", "serial", cmd.SerialNumber, "error", err)
		g.sendFailed(cmd, "encode failed")
		return
	}

	// Optimistic: downstream consumers see the intended state immediately.
	// The override is published, never persisted; a genuine status frame is
	// the only thing that updates the stored record.
	g.bus.Emit(Event{Type: EventStatusObserved, Data: StatusPayload{Device: override}})

	if err := g.relay.Write(dev.RemoteAddress, frame); err != nil {
		g.logger.Warn("command delivery failed", "serial", cmd.SerialNumber, "error", err)
		g.sendFailed(cmd, err.Error())
	}
}

func (g *Gateway) sendFailed(cmd protocol.DeviceCommand, reason string) {
	g.bus.Emit(Event{Type: EventCommandSendFailed, Data: CommandFailure{
		SerialNumber: cmd.SerialNumber,
		Command:      cmd,
		Reason:       reason,
	}})
}

// handleFilterReset encodes and sends a fire-and-forget filter reset; it does
// not enter the command lifecycle.
func (g *Gateway) handleFilterReset(ev Event) {
	serial, ok := ev.Data.(string)
	if !ok {
		return
	}
	dev, err := g.registry.Get(serial)
	if err != nil {
		g.logger.Warn("filter reset for unknown device", "serial", serial, "error", err)
		return
	}
	frame, err := g.codec.EncodeFilterReset(serial)
	if err != nil {
		g.logger.Error("encode filter reset", "serial", serial, "error", err)
		return
	}
	if err := g.relay.Write(dev.RemoteAddress, frame); err != nil {
		g.logger.Warn("filter reset delivery failed", "serial", serial, "error", err)
	}
}

// handleWeatherUpdate fans the update out to every device with a live
// connection.
func (g *Gateway) handleWeatherUpdate(ev Event) {
	wu, ok := ev.Data.(protocol.WeatherUpdate)
	if !ok {
		return
	}
	devices, err := g.registry.List()
	if err != nil {
		g.logger.Error("list devices for weather update", "error", err)
		return
	}
	for _, dev := range devices {
		if !g.relay.Connected(dev.RemoteAddress) {
			continue
		}
		frame, err := g.codec.EncodeWeatherUpdate(dev.SerialNumber, wu)
		if err != nil {
			g.logger.Error("encode weather update", "serial", dev.SerialNumber, "error", err)
			continue
		}
		if err := g.relay.Write(dev.RemoteAddress, frame); err != nil {
			g.logger.Warn("weather delivery failed", "serial", dev.SerialNumber, "error", err)
		}
	}
}

func (g *Gateway) handleDeviceSetup(ev Event) {
	setup, ok := ev.Data.(protocol.DeviceSetup)
	if !ok {
		return
	}
	dev, err := g.registry.Get(setup.SerialNumber)
	if err != nil {
		g.logger.Warn("setup for unknown device", "serial", setup.SerialNumber, "error", err)
		return
	}
	frame, err := g.codec.EncodeDeviceSetup(setup)
	if err != nil {
		g.logger.Error("encode device setup", "serial", setup.SerialNumber, "error", err)
		return
	}
	if err := g.relay.Write(dev.RemoteAddress, frame); err != nil {
		g.logger.Warn("setup delivery failed", "serial", setup.SerialNumber, "error", err)
		return
	}
	g.correlator.SetIdentity(setup.SerialNumber, int(setup.HouseID), setup.ZoneIndex)
}

func (g *Gateway) handleDisconnect(ev Event) {
	t, ok := ev.Data.(Transport)
	if !ok {
		return
	}
	g.correlator.ForgetAddress(t.Addr)
}
