package store

import "time"

// Device is the canonical last-known state of one ventilation unit. The
// serial number is the stable identity; the remote address is reassigned on
// every reconnect and must never be used as identity.
type Device struct {
	SerialNumber      string    `json:"serial_number"`
	OperatingMode     string    `json:"operating_mode"`
	FanSpeed          string    `json:"fan_speed"`
	HumidityLevel     string    `json:"humidity_level"`
	LightSensitivity  string    `json:"light_sensitivity"`
	DeviceRole        string    `json:"device_role"`
	LastOperatingMode string    `json:"last_operating_mode"`
	Temperature       int       `json:"temperature"` // tenths of a degree Celsius
	Humidity          int       `json:"humidity"`    // percent
	AirQuality        string    `json:"air_quality"`
	HumidityAlarm     bool      `json:"humidity_alarm"`
	NightAlarm        bool      `json:"night_alarm"`
	FilterStatus      string    `json:"filter_status"`
	SignalStrength    int       `json:"signal_strength,omitempty"`
	RadioFwVersion    string    `json:"radio_fw_version,omitempty"`
	MicroFwVersion    string    `json:"micro_fw_version,omitempty"`
	RemoteAddress     string    `json:"remote_address,omitempty"`
	HouseID           int       `json:"house_id,omitempty"`
	ZoneID            int       `json:"zone_id,omitempty"`
	FirstSeen         time.Time `json:"first_seen"`
	LastUpdate        time.Time `json:"last_update"`
}

// Clone returns a deep copy. Device has no reference fields today, but every
// mutation path copies before modifying so published snapshots stay immutable.
func (d *Device) Clone() *Device {
	c := *d
	return &c
}
