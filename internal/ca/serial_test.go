package ca

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSerialHexRoundTrip(t *testing.T) {
	n, err := newSerial()
	require.NoError(t, err)
	require.Equal(t, 1, n.Sign())

	hexStr := serialToHex(n)
	require.Equal(t, hexStr, strings.ToUpper(hexStr))

	got, err := hexToSerial(hexStr)
	require.NoError(t, err)
	require.Equal(t, 0, n.Cmp(got))
}

func TestHexToSerialInvalid(t *testing.T) {
	_, err := hexToSerial("not-hex!")
	require.Error(t, err)
}
