package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToJSONBRoundTrip(t *testing.T) {
	b, err := toJSONB(StoredError{Type: "malformed", Detail: "bad"})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"malformed","detail":"bad"}`, string(b))
}

func TestToJSONBNil(t *testing.T) {
	b, err := toJSONB(nil)
	require.NoError(t, err)
	require.Nil(t, b)
}

func TestParseErrorColumnEmpty(t *testing.T) {
	e, err := parseErrorColumn(nil)
	require.NoError(t, err)
	require.Nil(t, e)
}

func TestParseErrorColumnValue(t *testing.T) {
	e, err := parseErrorColumn([]byte(`{"type":"badCSR","detail":"nope"}`))
	require.NoError(t, err)
	require.Equal(t, &StoredError{Type: "badCSR", Detail: "nope"}, e)
}
