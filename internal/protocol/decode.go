package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Inbound frame lengths. Inbound frames are fixed-width; the receive path
// dispatches on length alone.
const (
	StatusFrameLen         = 21
	InfoFrameLen           = 18
	BroadcastFrameLen      = 5
	BroadcastHouseFrameLen = 9
)

// 21-byte status frame layout. Offsets 0–7 are the shared marker/serial
// prefix; the remainder was taken from captured traffic of the deployed
// firmware and is not documented by the vendor. A firmware revision that
// moves a field means editing this table.
const (
	statusOffOperatingMode = 8
	statusOffFanSpeed      = 9
	statusOffHumidityLevel = 10
	statusOffTemperature   = 11 // int16 LE, tenths of a degree
	statusOffHumidity      = 13
	statusOffAirQuality    = 14
	statusOffAlarms        = 15 // bit0 humidity alarm, bit1 night alarm
	statusOffFilterStatus  = 16
	statusOffDeviceRole    = 17
	statusOffLastOpMode    = 18
	statusOffLightSens     = 19
	statusOffSignal        = 20
)

// 18-byte info frame layout: three 3-byte major.minor.patch version triplets
// after the shared prefix, one reserved trailing byte.
const (
	infoOffRadioFw   = 8
	infoOffMicroFw   = 11
	infoOffRadioATFw = 14
)

// ErrBadFrame reports a frame that does not match any known layout. The
// transport logs and discards; it never tears down the connection for this.
var ErrBadFrame = errors.New("frame does not match a known layout")

func checkFrame(data []byte, wantLen int) error {
	if len(data) != wantLen {
		return fmt.Errorf("%w: length %d, want %d", ErrBadFrame, len(data), wantLen)
	}
	if data[0] != frameMarker || data[1] != frameReserved {
		return fmt.Errorf("%w: bad marker %02X %02X", ErrBadFrame, data[0], data[1])
	}
	return nil
}

// DecodeStatus decodes a 21-byte device status frame.
func (c *Codec) DecodeStatus(data []byte) (DeviceStatus, error) {
	if err := checkFrame(data, StatusFrameLen); err != nil {
		return DeviceStatus{}, err
	}
	return DeviceStatus{
		SerialNumber:      DecodeSerial(data[2:8]),
		OperatingMode:     OperatingMode(data[statusOffOperatingMode]),
		FanSpeed:          FanSpeed(data[statusOffFanSpeed]),
		HumidityLevel:     HumidityLevel(data[statusOffHumidityLevel]),
		Temperature:       int(int16(binary.LittleEndian.Uint16(data[statusOffTemperature : statusOffTemperature+2]))),
		Humidity:          int(data[statusOffHumidity]),
		AirQuality:        AirQuality(data[statusOffAirQuality]),
		HumidityAlarm:     data[statusOffAlarms]&0x01 != 0,
		NightAlarm:        data[statusOffAlarms]&0x02 != 0,
		FilterStatus:      FilterStatus(data[statusOffFilterStatus]),
		DeviceRole:        DeviceRole(data[statusOffDeviceRole]),
		LastOperatingMode: OperatingMode(data[statusOffLastOpMode]),
		LightSensitivity:  LightSensitivity(data[statusOffLightSens]),
		SignalStrength:    int(data[statusOffSignal]),
	}, nil
}

// DecodeInfo decodes an 18-byte device information frame.
func (c *Codec) DecodeInfo(data []byte) (DeviceInfo, error) {
	if err := checkFrame(data, InfoFrameLen); err != nil {
		return DeviceInfo{}, err
	}
	ver := func(off int) string {
		return fmt.Sprintf("%d.%d.%d", data[off], data[off+1], data[off+2])
	}
	return DeviceInfo{
		SerialNumber:             DecodeSerial(data[2:8]),
		RadioFwVersion:           ver(infoOffRadioFw),
		MicroFwVersion:           ver(infoOffMicroFw),
		RadioATCommandsFwVersion: ver(infoOffRadioATFw),
	}, nil
}

// DecodeBroadcast decodes a UDP broadcast frame. Two layouts exist in the
// field: 5 bytes (zone, fan mode, fan status) and 9 bytes where newer
// firmware appends the house id as a 32-bit little-endian value.
func (c *Codec) DecodeBroadcast(data []byte) (BroadcastStatus, error) {
	if len(data) != BroadcastFrameLen && len(data) != BroadcastHouseFrameLen {
		return BroadcastStatus{}, fmt.Errorf("%w: broadcast length %d", ErrBadFrame, len(data))
	}
	if data[0] != frameMarker || data[1] != frameReserved {
		return BroadcastStatus{}, fmt.Errorf("%w: bad marker %02X %02X", ErrBadFrame, data[0], data[1])
	}
	bs := BroadcastStatus{
		ZoneIndex: int(data[2]),
		FanMode:   OperatingMode(data[3]),
		FanStatus: FanStatus(data[4]),
	}
	if len(data) == BroadcastHouseFrameLen {
		bs.HouseID = int(binary.LittleEndian.Uint32(data[5:9]))
		bs.HasHouseID = bs.HouseID > 0
	}
	return bs, nil
}
