package functions

import "fmt"

// DonIDToBytes32 converts a DON identifier to its bytes32 form: UTF-8
// bytes right padded with zeros. At least one trailing zero is kept so the
// value reads back as a terminated string.
func DonIDToBytes32(donID string) ([32]byte, error) {
	var out [32]byte
	if donID == "" {
		return out, fmt.Errorf("DON id is empty")
	}
	if len(donID) > 31 {
		return out, fmt.Errorf("DON id %q is %d bytes, bytes32 strings must be less than 32 bytes", donID, len(donID))
	}
	copy(out[:], donID)
	return out, nil
}
