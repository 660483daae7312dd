package ca

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// maxSerialBits bounds the random serial number generated for each leaf
// certificate. RFC 5280 allows up to 20 octets (160 bits); spec.md only
// requires "a cryptographically random positive integer", so this stays
// comfortably inside that bound.
const maxSerialBits = 159

// newSerial generates a random positive serial number.
func newSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), maxSerialBits)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("generating serial number: %w", err)
	}
	if n.Sign() == 0 {
		n.SetInt64(1)
	}
	return n, nil
}

// serialToHex renders a serial number as uppercase hex with no leading
// "0x", matching original_source's int2hex.
func serialToHex(n *big.Int) string {
	return strings.ToUpper(n.Text(16))
}

// hexToSerial parses the stored hex form back into a big.Int.
func hexToSerial(hexStr string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(hexStr, 16)
	if !ok {
		return nil, fmt.Errorf("invalid serial hex %q", hexStr)
	}
	return n, nil
}
