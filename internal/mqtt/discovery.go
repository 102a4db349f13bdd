package mqtt

import (
	"encoding/json"
	"fmt"

	"breeze-gateway/internal/store"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/sensor/breeze_A1B2C3D4E5F6/temperature/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
	SwVersion    string   `json:"sw_version,omitempty"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic,omitempty"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	CommandTemplate   string   `json:"command_template,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	PayloadPress      string   `json:"payload_press,omitempty"`
	Options           []string `json:"options,omitempty"`
	Device            haDevice `json:"device"`
}

// operatingModeOptions are the modes a user can select. LAST is included so a
// dashboard can restore the previous mode; the command path resolves it.
var operatingModeOptions = []string{
	"SMART", "AUTO", "MANUAL_HEAT_RECOVERY", "NIGHT", "AWAY_HOME",
	"SURVEILLANCE", "TIMED_EXPULSION", "EXPULSION", "INTAKE",
	"MASTER_SLAVE_FLOW", "SLAVE_MASTER_FLOW", "OFF", "LAST",
}

var fanSpeedOptions = []string{"LOW", "MEDIUM", "HIGH"}
var humidityLevelOptions = []string{"DRY", "NORMAL", "MOIST"}
var lightSensitivityOptions = []string{"OFF", "LOW", "MEDIUM"}

func deviceIdentifier(dev *store.Device) string {
	return "breeze_" + dev.SerialNumber
}

func deviceDisplayName(dev *store.Device) string {
	return "Ventilation " + dev.SerialNumber
}

// buildDiscovery generates the HA discovery messages for one ventilation unit.
func buildDiscovery(dev *store.Device, prefix, haPrefix string) []discoveryMsg {
	nodeID := deviceIdentifier(dev)
	displayName := deviceDisplayName(dev)
	stateTopic := prefix + "/" + dev.SerialNumber
	cmdTopic := prefix + "/" + dev.SerialNumber + "/set"
	avail := prefix + "/" + dev.SerialNumber + "/availability"

	haDev := haDevice{
		Identifiers: []string{nodeID},
		Name:        displayName,
		SwVersion:   dev.MicroFwVersion,
	}

	var msgs []discoveryMsg

	msgs = append(msgs,
		buildSensor(haPrefix, nodeID, displayName, stateTopic, avail, haDev,
			"temperature", "Temperature", "temperature", "°C", "measurement",
			"{{ value_json.temperature | float / 10 }}"),
		buildSensor(haPrefix, nodeID, displayName, stateTopic, avail, haDev,
			"humidity", "Humidity", "humidity", "%", "measurement",
			"{{ value_json.humidity }}"),
		buildSensor(haPrefix, nodeID, displayName, stateTopic, avail, haDev,
			"air_quality", "Air Quality", "", "", "",
			"{{ value_json.air_quality }}"),
		buildSensor(haPrefix, nodeID, displayName, stateTopic, avail, haDev,
			"filter_status", "Filter Status", "", "", "",
			"{{ value_json.filter_status }}"),
		buildSensor(haPrefix, nodeID, displayName, stateTopic, avail, haDev,
			"signal_strength", "Signal Strength", "", "", "measurement",
			"{{ value_json.signal_strength }}"),
		buildSensor(haPrefix, nodeID, displayName, stateTopic, avail, haDev,
			"fan_status", "Fan Status", "", "", "",
			"{{ value_json.fan_status }}"),
		buildBinarySensor(haPrefix, nodeID, displayName, stateTopic, avail, haDev,
			"humidity_alarm", "Humidity Alarm", "moisture",
			"{{ 'ON' if value_json.humidity_alarm else 'OFF' }}"),
		buildBinarySensor(haPrefix, nodeID, displayName, stateTopic, avail, haDev,
			"night_alarm", "Night Alarm", "",
			"{{ 'ON' if value_json.night_alarm else 'OFF' }}"),
		buildSelect(haPrefix, nodeID, displayName, stateTopic, cmdTopic, avail, haDev,
			"operating_mode", "Operating Mode", operatingModeOptions,
			"{{ value_json.operating_mode }}",
			`{"operating_mode": "{{ value }}"}`),
		buildSelect(haPrefix, nodeID, displayName, stateTopic, cmdTopic, avail, haDev,
			"fan_speed", "Fan Speed", fanSpeedOptions,
			"{{ value_json.fan_speed }}",
			`{"fan_speed": "{{ value }}"}`),
		buildSelect(haPrefix, nodeID, displayName, stateTopic, cmdTopic, avail, haDev,
			"humidity_level", "Humidity Level", humidityLevelOptions,
			"{{ value_json.humidity_level }}",
			`{"humidity_level": "{{ value }}"}`),
		buildSelect(haPrefix, nodeID, displayName, stateTopic, cmdTopic, avail, haDev,
			"light_sensitivity", "Light Sensitivity", lightSensitivityOptions,
			"{{ value_json.light_sensitivity }}",
			`{"light_sensitivity": "{{ value }}"}`),
		buildButton(haPrefix, nodeID, displayName, avail, haDev,
			"filter_reset", "Filter Reset",
			prefix+"/"+dev.SerialNumber+"/filter_reset/set"),
	)

	return msgs
}

func buildSensor(haPrefix, nodeID, displayName, stateTopic, avail string, haDev haDevice,
	objectID, suffix, deviceClass, unit, stateClass, valueTmpl string) discoveryMsg {

	topic := fmt.Sprintf("%s/sensor/%s/%s/config", haPrefix, nodeID, objectID)
	payload := haDiscovery{
		Name:              displayName + " " + suffix,
		UniqueID:          nodeID + "_" + objectID,
		StateTopic:        stateTopic,
		AvailabilityTopic: avail,
		ValueTemplate:     valueTmpl,
		UnitOfMeasurement: unit,
		DeviceClass:       deviceClass,
		StateClass:        stateClass,
		Device:            haDev,
	}
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

func buildBinarySensor(haPrefix, nodeID, displayName, stateTopic, avail string, haDev haDevice,
	objectID, suffix, deviceClass, valueTmpl string) discoveryMsg {

	topic := fmt.Sprintf("%s/binary_sensor/%s/%s/config", haPrefix, nodeID, objectID)
	payload := haDiscovery{
		Name:              displayName + " " + suffix,
		UniqueID:          nodeID + "_" + objectID,
		StateTopic:        stateTopic,
		AvailabilityTopic: avail,
		ValueTemplate:     valueTmpl,
		DeviceClass:       deviceClass,
		PayloadOn:         "ON",
		PayloadOff:        "OFF",
		Device:            haDev,
	}
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

func buildSelect(haPrefix, nodeID, displayName, stateTopic, cmdTopic, avail string, haDev haDevice,
	objectID, suffix string, options []string, valueTmpl, cmdTmpl string) discoveryMsg {

	topic := fmt.Sprintf("%s/select/%s/%s/config", haPrefix, nodeID, objectID)
	payload := haDiscovery{
		Name:              displayName + " " + suffix,
		UniqueID:          nodeID + "_" + objectID,
		StateTopic:        stateTopic,
		CommandTopic:      cmdTopic,
		CommandTemplate:   cmdTmpl,
		AvailabilityTopic: avail,
		ValueTemplate:     valueTmpl,
		Options:           options,
		Device:            haDev,
	}
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

func buildButton(haPrefix, nodeID, displayName, avail string, haDev haDevice,
	objectID, suffix, cmdTopic string) discoveryMsg {

	topic := fmt.Sprintf("%s/button/%s/%s/config", haPrefix, nodeID, objectID)
	payload := haDiscovery{
		Name:              displayName + " " + suffix,
		UniqueID:          nodeID + "_" + objectID,
		CommandTopic:      cmdTopic,
		PayloadPress:      "RESET",
		AvailabilityTopic: avail,
		Device:            haDev,
	}
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
