package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetDevice(t *testing.T) {
	s := newTestStore(t)

	dev := &Device{
		SerialNumber:      "A1B2C3D4E5F6",
		OperatingMode:     "SMART",
		FanSpeed:          "MEDIUM",
		HumidityLevel:     "NORMAL",
		LightSensitivity:  "LOW",
		DeviceRole:        "MASTER",
		LastOperatingMode: "AUTO",
		Temperature:       215,
		Humidity:          55,
		AirQuality:        "GOOD",
		FilterStatus:      "GOOD",
		RemoteAddress:     "10.0.0.5:52344",
		HouseID:           7,
		ZoneID:            1,
		FirstSeen:         time.Now().Truncate(time.Millisecond),
		LastUpdate:        time.Now().Truncate(time.Millisecond),
	}

	if err := s.SaveDevice(dev); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDevice(dev.SerialNumber)
	if err != nil {
		t.Fatal(err)
	}

	if got.SerialNumber != dev.SerialNumber {
		t.Errorf("serial = %q, want %q", got.SerialNumber, dev.SerialNumber)
	}
	if got.OperatingMode != "SMART" || got.FanSpeed != "MEDIUM" {
		t.Errorf("mode/speed = %q/%q", got.OperatingMode, got.FanSpeed)
	}
	if got.Temperature != 215 || got.Humidity != 55 {
		t.Errorf("temperature/humidity = %d/%d", got.Temperature, got.Humidity)
	}
	if got.RemoteAddress != dev.RemoteAddress {
		t.Errorf("remote address = %q", got.RemoteAddress)
	}
	if got.HouseID != 7 || got.ZoneID != 1 {
		t.Errorf("house/zone = %d/%d", got.HouseID, got.ZoneID)
	}
}

func TestGetDeviceByAddress(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveDevice(&Device{SerialNumber: "000000000001", RemoteAddress: "10.0.0.5:52344"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveDevice(&Device{SerialNumber: "000000000002", RemoteAddress: "10.0.0.6:40001"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDeviceByAddress("10.0.0.6:40001")
	if err != nil {
		t.Fatal(err)
	}
	if got.SerialNumber != "000000000002" {
		t.Errorf("serial = %q, want 000000000002", got.SerialNumber)
	}

	if _, err := s.GetDeviceByAddress("192.168.1.1:1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing address: err = %v, want ErrNotFound", err)
	}
}

func TestDeleteDevice(t *testing.T) {
	s := newTestStore(t)

	dev := &Device{SerialNumber: "A1B2C3D4E5F6"}
	if err := s.SaveDevice(dev); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteDevice(dev.SerialNumber); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetDevice(dev.SerialNumber); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListDevices(t *testing.T) {
	s := newTestStore(t)

	serials := []string{"000000000001", "000000000002", "000000000003"}
	for _, sn := range serials {
		if err := s.SaveDevice(&Device{SerialNumber: sn}); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.ListDevices()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("list count = %d, want 3", len(list))
	}

	found := make(map[string]bool)
	for _, d := range list {
		found[d.SerialNumber] = true
	}
	for _, sn := range serials {
		if !found[sn] {
			t.Errorf("device %s not in list", sn)
		}
	}
}

func TestGetDeviceNotFound(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetDevice("FFFFFFFFFFFF"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
