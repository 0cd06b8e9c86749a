package device

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// PairingCodeDigits is the length of the device pairing code: a random
// 4-digit number persisted per device.
const PairingCodeDigits = 4

// GeneratePairingCode creates a fresh random 4-digit pairing code,
// zero-padded, for advertising in the Bonjour TXT record.
func GeneratePairingCode() (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("device: generate pairing code: %w", err)
	}
	n := binary.BigEndian.Uint32(buf[:]) % 10000
	return fmt.Sprintf("%0*d", PairingCodeDigits, n), nil
}
