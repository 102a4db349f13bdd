package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface for device records. Callers run in
// a single-writer context; implementations only need "one call completes
// before the next begins".
type Store interface {
	SaveDevice(dev *Device) error
	GetDevice(serial string) (*Device, error)
	GetDeviceByAddress(addr string) (*Device, error)
	DeleteDevice(serial string) error
	ListDevices() ([]*Device, error)

	Close() error
}
