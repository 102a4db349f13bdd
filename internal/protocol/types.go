package protocol

// DeviceCommand is a partial update request for one device. Empty string
// fields mean "keep the device's current value"; they are resolved against the
// device's last-known settings at encode time. OperatingMode may be the LAST
// sentinel, which resolves to the device's previous operating mode.
type DeviceCommand struct {
	SerialNumber     string `json:"serial_number"`
	OperatingMode    string `json:"operating_mode,omitempty"`
	FanSpeed         string `json:"fan_speed,omitempty"`
	HumidityLevel    string `json:"humidity_level,omitempty"`
	LightSensitivity string `json:"light_sensitivity,omitempty"`
}

// Settings are the device's current settings used to resolve unset
// DeviceCommand fields.
type Settings struct {
	OperatingMode     string
	LastOperatingMode string
	FanSpeed          string
	HumidityLevel     string
	LightSensitivity  string
}

// DeviceStatus is a decoded 21-byte status frame.
type DeviceStatus struct {
	SerialNumber      string
	OperatingMode     OperatingMode
	FanSpeed          FanSpeed
	HumidityLevel     HumidityLevel
	Temperature       int // tenths of a degree Celsius
	Humidity          int // percent
	AirQuality        AirQuality
	HumidityAlarm     bool
	NightAlarm        bool
	FilterStatus      FilterStatus
	DeviceRole        DeviceRole
	LastOperatingMode OperatingMode
	LightSensitivity  LightSensitivity
	SignalStrength    int
}

// DeviceInfo is a decoded 18-byte device information frame.
type DeviceInfo struct {
	SerialNumber             string
	RadioFwVersion           string
	MicroFwVersion           string
	RadioATCommandsFwVersion string
}

// BroadcastStatus is a decoded UDP broadcast frame. The serial number is not
// on the wire; it is resolved later by correlating the datagram's source
// address against known TCP connections.
type BroadcastStatus struct {
	SerialNumber string // empty until correlated
	ZoneIndex    int
	FanMode      OperatingMode
	FanStatus    FanStatus
	HouseID      int
	HasHouseID   bool
}

// WeatherUpdate carries outdoor conditions pushed to every device.
type WeatherUpdate struct {
	Temperature int `json:"temperature"` // tenths of a degree Celsius, signed
	Humidity    int `json:"humidity"`    // percent
	AirQuality  int `json:"air_quality"`
}

// DeviceSetup assigns a device's role, zone and house.
type DeviceSetup struct {
	SerialNumber string `json:"serial_number"`
	DeviceRole   string `json:"device_role"`
	ZoneIndex    int    `json:"zone_index"`
	HouseID      uint32 `json:"house_id"`
}
