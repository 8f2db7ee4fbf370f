package chain

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// NormalizeAddress validates a hex account address and returns its EIP-55
// checksummed form. All-lower and all-upper inputs are accepted as-is; mixed
// case input must already carry a valid checksum.
func NormalizeAddress(raw string) (string, error) {
	addr := strings.TrimSpace(raw)
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return "", fmt.Errorf("address %q must start with 0x", raw)
	}
	body := addr[2:]
	if len(body) != 40 {
		return "", fmt.Errorf("address %q must have 40 hex characters", raw)
	}
	if _, err := hex.DecodeString(body); err != nil {
		return "", fmt.Errorf("address %q is not hex", raw)
	}

	checksummed := checksum(strings.ToLower(body))
	lower, upper := strings.ToLower(body), strings.ToUpper(body)
	if body != lower && body != upper && "0x"+body != checksummed {
		return "", fmt.Errorf("address %q has an invalid checksum", raw)
	}
	return checksummed, nil
}

// SameAddress compares two addresses ignoring case.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func checksum(lowerHex string) string {
	hash := Keccak256([]byte(lowerHex))
	out := make([]byte, 0, 42)
	out = append(out, '0', 'x')
	for i := 0; i < len(lowerHex); i++ {
		c := lowerHex[i]
		nibble := hash[i/2]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0x0f
		}
		if c >= 'a' && c <= 'f' && nibble >= 8 {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// Keccak256 returns the legacy Keccak-256 digest used by EVM chains.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// NormalizeTxHash lower-cases and validates a 32-byte transaction hash.
func NormalizeTxHash(raw string) (string, error) {
	hash := strings.ToLower(strings.TrimSpace(raw))
	if !strings.HasPrefix(hash, "0x") || len(hash) != 66 {
		return "", fmt.Errorf("transaction hash %q must be 0x-prefixed 32 bytes", raw)
	}
	if _, err := hex.DecodeString(hash[2:]); err != nil {
		return "", fmt.Errorf("transaction hash %q is not hex", raw)
	}
	return hash, nil
}
