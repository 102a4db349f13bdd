package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// SerialBytes is the length of a serial number on the wire.
const SerialBytes = 6

// EncodeSerial packs a 12-hex-character serial number into its 6-byte wire
// form: each two-character octet becomes one byte.
func EncodeSerial(serial string) ([SerialBytes]byte, error) {
	var out [SerialBytes]byte
	s := strings.ToUpper(serial)
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("parse serial number: %w", err)
	}
	if len(b) != SerialBytes {
		return out, fmt.Errorf("serial number must be %d bytes, got %d", SerialBytes, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// DecodeSerial is the inverse of EncodeSerial: 6 raw bytes to the canonical
// uppercase 12-hex-character form.
func DecodeSerial(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
