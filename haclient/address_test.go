package haclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityRoundTrip(t *testing.T) {
	addr := BrokerAddress{Host: "broker0.example.com", Port: 5672, Index: 0}
	identity := addr.Identity()
	assert.Equal(t, "rs-broker-broker0.example.com-5672", identity)

	host, port, err := ParseIdentity(identity)
	require.NoError(t, err)
	assert.Equal(t, addr.Host, host)
	assert.Equal(t, addr.Port, port)
}

func TestIdentityRoundTripHostWithHyphen(t *testing.T) {
	addr := BrokerAddress{Host: "broker-0.example.com", Port: 5673}
	identity := addr.Identity()

	host, port, err := ParseIdentity(identity)
	require.NoError(t, err)
	assert.Equal(t, addr.Host, host)
	assert.Equal(t, addr.Port, port)
}

func TestParseAddressesPairedElementWise(t *testing.T) {
	addrs, err := ParseAddresses("h0,h1,h2", "1000,1001,1002")
	require.NoError(t, err)
	require.Len(t, addrs, 3)
	for i, a := range addrs {
		assert.Equal(t, i, int(a.Index))
	}
	assert.Equal(t, "h1", addrs[1].Host)
	assert.EqualValues(t, 1001, addrs[1].Port)
}

func TestParseAddressesBroadcastSingleHost(t *testing.T) {
	addrs, err := ParseAddresses("onehost", "1000,1001,1002")
	require.NoError(t, err)
	require.Len(t, addrs, 3)
	for _, a := range addrs {
		assert.Equal(t, "onehost", a.Host)
	}
}

func TestParseAddressesBroadcastSinglePort(t *testing.T) {
	addrs, err := ParseAddresses("h0,h1,h2", "1000")
	require.NoError(t, err)
	require.Len(t, addrs, 3)
	for _, a := range addrs {
		assert.EqualValues(t, 1000, a.Port)
	}
}

func TestParseAddressesMismatchedLengthsFails(t *testing.T) {
	_, err := ParseAddresses("h0,h1,h2", "1000,1001")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestParseAddressesExplicitIndex(t *testing.T) {
	addrs, err := ParseAddresses("h0:2,h1:0,h2:1", "1000,1001,1002")
	require.NoError(t, err)
	require.Len(t, addrs, 3)
	byHost := map[string]uint16{}
	for _, a := range addrs {
		byHost[a.Host] = a.Index
	}
	assert.EqualValues(t, 2, byHost["h0"])
	assert.EqualValues(t, 0, byHost["h1"])
	assert.EqualValues(t, 1, byHost["h2"])
}

func TestParseAddressesDefaults(t *testing.T) {
	addrs, err := ParseAddresses("", "")
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, DefaultHost, addrs[0].Host)
	assert.Equal(t, DefaultPort, addrs[0].Port)
}
