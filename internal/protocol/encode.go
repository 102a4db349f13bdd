package protocol

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
)

// Frame marker bytes shared by every frame.
const (
	frameMarker   = 0x02
	frameReserved = 0x00
)

// Outbound frame opcodes at offset 8.
const (
	opcodeSetParams   = 0x01
	opcodeFilterReset = 0x03
	opcodeWeather     = 0x04
)

// Outbound frame lengths.
const (
	SetParamsFrameLen   = 13
	FilterResetFrameLen = 9
	WeatherFrameLen     = 13
	DeviceSetupFrameLen = 16
)

// Codec encodes and decodes the device wire format. Encoding is pure and
// deterministic: the same inputs always produce identical bytes. The logger
// is only used for the documented unknown-enumerator warnings.
type Codec struct {
	logger *slog.Logger
}

// NewCodec creates a Codec.
func NewCodec(logger *slog.Logger) *Codec {
	return &Codec{logger: logger.With("component", "codec")}
}

func frameHeader(length int, serial string) ([]byte, error) {
	sn, err := EncodeSerial(serial)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	buf[0] = frameMarker
	buf[1] = frameReserved
	copy(buf[2:8], sn[:])
	return buf, nil
}

// EncodeSetParams builds the 13-byte "set operating parameters" frame. Unset
// command fields fall back to the device's current settings; unknown
// enumerator names fall back to a safe default with a warning, never an error.
func (c *Codec) EncodeSetParams(cmd DeviceCommand, current Settings) ([]byte, error) {
	buf, err := frameHeader(SetParamsFrameLen, cmd.SerialNumber)
	if err != nil {
		return nil, err
	}
	buf[8] = opcodeSetParams
	buf[9] = byte(c.resolveOperatingMode(cmd, current))
	buf[10] = byte(c.resolveFanSpeed(cmd, current))
	buf[11] = byte(c.resolveHumidityLevel(cmd, current))
	buf[12] = byte(c.resolveLightSensitivity(cmd, current))
	return buf, nil
}

// ResolveCommand returns the effective settings a command resolves to against
// the device's current settings, after LAST expansion and unknown-value
// fallbacks. The command lifecycle manager uses this for its optimistic
// override and reconciliation checks, so the published state always matches
// the bytes on the wire.
func (c *Codec) ResolveCommand(cmd DeviceCommand, current Settings) Settings {
	return Settings{
		OperatingMode:    c.resolveOperatingMode(cmd, current).String(),
		FanSpeed:         c.resolveFanSpeed(cmd, current).String(),
		HumidityLevel:    c.resolveHumidityLevel(cmd, current).String(),
		LightSensitivity: c.resolveLightSensitivity(cmd, current).String(),
	}
}

func pick(requested, current string) string {
	if requested != "" {
		return strings.ToUpper(requested)
	}
	return strings.ToUpper(current)
}

func (c *Codec) resolveOperatingMode(cmd DeviceCommand, current Settings) OperatingMode {
	name := pick(cmd.OperatingMode, current.OperatingMode)
	if name == OpLast.String() {
		name = strings.ToUpper(current.LastOperatingMode)
	}
	mode, err := ParseOperatingMode(name)
	if err != nil {
		c.logger.Warn("unknown operating mode, defaulting to SMART", "value", name, "serial", cmd.SerialNumber)
		return OpSmart
	}
	return mode
}

func (c *Codec) resolveFanSpeed(cmd DeviceCommand, current Settings) FanSpeed {
	name := pick(cmd.FanSpeed, current.FanSpeed)
	speed, err := ParseFanSpeed(name)
	if err != nil {
		// Unknown fan speeds must never fail a command.
		c.logger.Warn("unknown fan speed, defaulting to MEDIUM", "value", name, "serial", cmd.SerialNumber)
		return FanMedium
	}
	return speed
}

func (c *Codec) resolveHumidityLevel(cmd DeviceCommand, current Settings) HumidityLevel {
	name := pick(cmd.HumidityLevel, current.HumidityLevel)
	level, err := ParseHumidityLevel(name)
	if err != nil {
		c.logger.Warn("unknown humidity level, defaulting to NORMAL", "value", name, "serial", cmd.SerialNumber)
		return HumidityNormal
	}
	return level
}

func (c *Codec) resolveLightSensitivity(cmd DeviceCommand, current Settings) LightSensitivity {
	name := pick(cmd.LightSensitivity, current.LightSensitivity)
	sens, err := ParseLightSensitivity(name)
	if err != nil {
		c.logger.Warn("unknown light sensitivity, defaulting to OFF", "value", name, "serial", cmd.SerialNumber)
		return LightOff
	}
	return sens
}

// EncodeFilterReset builds the 9-byte filter reset frame.
func (c *Codec) EncodeFilterReset(serial string) ([]byte, error) {
	buf, err := frameHeader(FilterResetFrameLen, serial)
	if err != nil {
		return nil, err
	}
	buf[8] = opcodeFilterReset
	return buf, nil
}

// EncodeWeatherUpdate builds the 13-byte weather update frame. The
// temperature is carried as a signed 16-bit little-endian value: the sign is
// recorded separately and the magnitude is the temperature's digits
// left-aligned into four fixed-point digits (21.5 °C → 2150).
func (c *Codec) EncodeWeatherUpdate(serial string, wu WeatherUpdate) ([]byte, error) {
	buf, err := frameHeader(WeatherFrameLen, serial)
	if err != nil {
		return nil, err
	}
	buf[8] = opcodeWeather
	binary.LittleEndian.PutUint16(buf[9:11], uint16(weatherTemperature(wu.Temperature)))
	buf[11] = byte(wu.Humidity)
	buf[12] = byte(wu.AirQuality)
	return buf, nil
}

// weatherTemperature converts a signed tenths-of-a-degree value into the
// 4-digit fixed-point wire magnitude with the sign reapplied.
func weatherTemperature(tenths int) int16 {
	negative := tenths < 0
	v := tenths
	if negative {
		v = -v
	}
	// Left-align the digits into four fixed-point positions.
	if v > 0 {
		for v < 1000 {
			v *= 10
		}
		for v > 9999 {
			v /= 10
		}
	}
	if negative {
		v = -v
	}
	return int16(v)
}

// EncodeDeviceSetup builds the 16-byte role/zone/house assignment frame.
func (c *Codec) EncodeDeviceSetup(setup DeviceSetup) ([]byte, error) {
	buf, err := frameHeader(DeviceSetupFrameLen, setup.SerialNumber)
	if err != nil {
		return nil, err
	}
	role, err := ParseDeviceRole(strings.ToUpper(setup.DeviceRole))
	if err != nil {
		return nil, fmt.Errorf("encode device setup: %w", err)
	}
	buf[8] = 0x00
	buf[9] = 0x02
	buf[10] = byte(setup.ZoneIndex)
	buf[11] = byte(role)
	binary.LittleEndian.PutUint32(buf[12:16], setup.HouseID)
	return buf, nil
}
