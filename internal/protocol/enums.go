package protocol

import "fmt"

// OperatingMode is the device behaviour selector.
type OperatingMode uint8

const (
	OpSmart            OperatingMode = 0
	OpAuto             OperatingMode = 1
	OpManualHeatRecov  OperatingMode = 2
	OpNight            OperatingMode = 3
	OpAwayHome         OperatingMode = 4
	OpSurveillance     OperatingMode = 5
	OpTimedExpulsion   OperatingMode = 6
	OpExpulsion        OperatingMode = 7
	OpIntake           OperatingMode = 8
	OpMasterSlaveFlow  OperatingMode = 9
	OpSlaveMasterFlow  OperatingMode = 10
	OpOff              OperatingMode = 11
	// OpLast is a command-only sentinel meaning "restore the mode that was
	// active before the current one". It never appears in a status frame.
	OpLast OperatingMode = 12
)

var operatingModeNames = map[OperatingMode]string{
	OpSmart:           "SMART",
	OpAuto:            "AUTO",
	OpManualHeatRecov: "MANUAL_HEAT_RECOVERY",
	OpNight:           "NIGHT",
	OpAwayHome:        "AWAY_HOME",
	OpSurveillance:    "SURVEILLANCE",
	OpTimedExpulsion:  "TIMED_EXPULSION",
	OpExpulsion:       "EXPULSION",
	OpIntake:          "INTAKE",
	OpMasterSlaveFlow: "MASTER_SLAVE_FLOW",
	OpSlaveMasterFlow: "SLAVE_MASTER_FLOW",
	OpOff:             "OFF",
	OpLast:            "LAST",
}

func (m OperatingMode) String() string {
	if s, ok := operatingModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("OperatingMode(%d)", uint8(m))
}

// ParseOperatingMode parses an operating mode name. The name comparison is
// exact; callers normalize case before calling.
func ParseOperatingMode(s string) (OperatingMode, error) {
	for m, name := range operatingModeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown operating mode %q", s)
}

// FanSpeed is the commanded fan speed.
type FanSpeed uint8

const (
	FanLow    FanSpeed = 0
	FanMedium FanSpeed = 1
	FanHigh   FanSpeed = 2
)

var fanSpeedNames = map[FanSpeed]string{
	FanLow:    "LOW",
	FanMedium: "MEDIUM",
	FanHigh:   "HIGH",
}

func (f FanSpeed) String() string {
	if s, ok := fanSpeedNames[f]; ok {
		return s
	}
	return fmt.Sprintf("FanSpeed(%d)", uint8(f))
}

func ParseFanSpeed(s string) (FanSpeed, error) {
	for f, name := range fanSpeedNames {
		if name == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown fan speed %q", s)
}

// HumidityLevel is the target humidity band.
type HumidityLevel uint8

const (
	HumidityDry    HumidityLevel = 0
	HumidityNormal HumidityLevel = 1
	HumidityMoist  HumidityLevel = 2
)

var humidityLevelNames = map[HumidityLevel]string{
	HumidityDry:    "DRY",
	HumidityNormal: "NORMAL",
	HumidityMoist:  "MOIST",
}

func (h HumidityLevel) String() string {
	if s, ok := humidityLevelNames[h]; ok {
		return s
	}
	return fmt.Sprintf("HumidityLevel(%d)", uint8(h))
}

func ParseHumidityLevel(s string) (HumidityLevel, error) {
	for h, name := range humidityLevelNames {
		if name == s {
			return h, nil
		}
	}
	return 0, fmt.Errorf("unknown humidity level %q", s)
}

// LightSensitivity controls the night-mode light sensor threshold.
type LightSensitivity uint8

const (
	LightOff    LightSensitivity = 0
	LightLow    LightSensitivity = 1
	LightMedium LightSensitivity = 2
)

var lightSensitivityNames = map[LightSensitivity]string{
	LightOff:    "OFF",
	LightLow:    "LOW",
	LightMedium: "MEDIUM",
}

func (l LightSensitivity) String() string {
	if s, ok := lightSensitivityNames[l]; ok {
		return s
	}
	return fmt.Sprintf("LightSensitivity(%d)", uint8(l))
}

func ParseLightSensitivity(s string) (LightSensitivity, error) {
	for l, name := range lightSensitivityNames {
		if name == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown light sensitivity %q", s)
}

// DeviceRole describes a unit's position in a master/slave airflow pair.
type DeviceRole uint8

const (
	RoleMaster              DeviceRole = 0
	RoleSlaveEqualMaster    DeviceRole = 1
	RoleSlaveOppositeMaster DeviceRole = 2
)

var deviceRoleNames = map[DeviceRole]string{
	RoleMaster:              "MASTER",
	RoleSlaveEqualMaster:    "SLAVE_EQUAL_MASTER",
	RoleSlaveOppositeMaster: "SLAVE_OPPOSITE_MASTER",
}

func (r DeviceRole) String() string {
	if s, ok := deviceRoleNames[r]; ok {
		return s
	}
	return fmt.Sprintf("DeviceRole(%d)", uint8(r))
}

func ParseDeviceRole(s string) (DeviceRole, error) {
	for r, name := range deviceRoleNames {
		if name == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown device role %q", s)
}

// AirQuality is the coarse air quality classification reported by the unit.
type AirQuality uint8

const (
	AirGood   AirQuality = 0
	AirMedium AirQuality = 1
	AirPoor   AirQuality = 2
)

var airQualityNames = map[AirQuality]string{
	AirGood:   "GOOD",
	AirMedium: "MEDIUM",
	AirPoor:   "POOR",
}

func (a AirQuality) String() string {
	if s, ok := airQualityNames[a]; ok {
		return s
	}
	return fmt.Sprintf("AirQuality(%d)", uint8(a))
}

// FilterStatus is the filter wear classification.
type FilterStatus uint8

const (
	FilterGood    FilterStatus = 0
	FilterMedium  FilterStatus = 1
	FilterReplace FilterStatus = 2
)

var filterStatusNames = map[FilterStatus]string{
	FilterGood:    "GOOD",
	FilterMedium:  "MEDIUM",
	FilterReplace: "REPLACE",
}

func (f FilterStatus) String() string {
	if s, ok := filterStatusNames[f]; ok {
		return s
	}
	return fmt.Sprintf("FilterStatus(%d)", uint8(f))
}

// FanStatus is the instantaneous fan state carried in UDP broadcasts.
type FanStatus uint8

const (
	FanStatusStop            FanStatus = 0
	FanStatusStartSlow       FanStatus = 1
	FanStatusStartMedium     FanStatus = 2
	FanStatusOff             FanStatus = 3
	FanStatusExpulsionNight  FanStatus = 4
	FanStatusExpulsionLow    FanStatus = 5
	FanStatusExpulsionMedium FanStatus = 6
	FanStatusExpulsionHigh   FanStatus = 7
	FanStatusIntakeNight     FanStatus = 8
	FanStatusIntakeLow       FanStatus = 9
	FanStatusIntakeMedium    FanStatus = 10
	FanStatusIntakeHigh      FanStatus = 11
)

var fanStatusNames = map[FanStatus]string{
	FanStatusStop:            "STOP",
	FanStatusStartSlow:       "START_SLOW",
	FanStatusStartMedium:     "START_MEDIUM",
	FanStatusOff:             "OFF",
	FanStatusExpulsionNight:  "EXPULSION_NIGHT",
	FanStatusExpulsionLow:    "EXPULSION_LOW",
	FanStatusExpulsionMedium: "EXPULSION_MEDIUM",
	FanStatusExpulsionHigh:   "EXPULSION_HIGH",
	FanStatusIntakeNight:     "INTAKE_NIGHT",
	FanStatusIntakeLow:       "INTAKE_LOW",
	FanStatusIntakeMedium:    "INTAKE_MEDIUM",
	FanStatusIntakeHigh:      "INTAKE_HIGH",
}

func (f FanStatus) String() string {
	if s, ok := fanStatusNames[f]; ok {
		return s
	}
	return fmt.Sprintf("FanStatus(%d)", uint8(f))
}
