package astropix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func datagram(t *testing.T, sample int, id uint32) []byte {
	t.Helper()
	data, err := NewReadout(AstroPix4, sampleReadout(t, sample), id, uint64(id)*10).MarshalBinary()
	require.NoError(t, err)
	return data
}

func TestMulticastReceiverGaps(t *testing.T) {
	receiver := &MulticastReceiver{Schema: AstroPix4}

	_, hits, err := receiver.handleDatagram(datagram(t, 2, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{sampleHit1}, hitHex(hits))

	// the fragment carried from readout 0 completes the first hit
	readout, hits, err := receiver.handleDatagram(datagram(t, 3, 1))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), readout.ID)
	assert.Equal(t, []string{sampleHit1, sampleHit2}, hitHex(hits))

	_, _, err = receiver.handleDatagram(datagram(t, 2, 3))
	require.NoError(t, err)
	// readout 4 is lost, the carry of readout 3 is dropped
	_, hits, err = receiver.handleDatagram(datagram(t, 3, 5))
	require.NoError(t, err)
	assert.Equal(t, []string{sampleHit2}, hitHex(hits))

	_, _, err = receiver.handleDatagram([]byte("hello"))
	assert.Error(t, err)

	assert.Equal(t, 4, receiver.Received)
	assert.Equal(t, 2, receiver.Lost)
	assert.Equal(t, 1, receiver.Invalid)
}

func TestMulticastReceiverRepeatedID(t *testing.T) {
	receiver := &MulticastReceiver{Schema: AstroPix4}
	_, _, err := receiver.handleDatagram(datagram(t, 2, 7))
	require.NoError(t, err)
	_, hits, err := receiver.handleDatagram(datagram(t, 3, 7))
	require.NoError(t, err)
	assert.Equal(t, []string{sampleHit2}, hitHex(hits))
	assert.Zero(t, receiver.Lost)
}

func TestMulticastAddr(t *testing.T) {
	addr, err := multicastAddr(DefaultMulticastGroup, DefaultMulticastPort)
	require.NoError(t, err)
	assert.Equal(t, "224.1.1.1:5007", addr.String())

	_, err = multicastAddr("127.0.0.1", 5007)
	assert.Error(t, err)
}
