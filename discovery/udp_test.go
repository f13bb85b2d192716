package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUDPPacketRoundTrip(t *testing.T) {
	ann := udpAnnouncement{
		Version: 1,
		ShortID: "abcd1234",
		Port:    51820,
		Class:   ClassLinux,
		Name:    "study-laptop",
	}
	encoded := encodeUDPPacket(ann)
	assert.GreaterOrEqual(t, len(encoded), udpMinPacketLen)

	decoded, err := decodeUDPPacket(encoded)
	require.NoError(t, err)
	assert.Equal(t, ann, decoded)
}

func TestUDPPacketMagicRejected(t *testing.T) {
	ann := udpAnnouncement{Version: 1, ShortID: "abcd1234", Port: 1, Class: ClassLinux, Name: "x"}
	encoded := encodeUDPPacket(ann)
	encoded[0] = 'X'

	_, err := decodeUDPPacket(encoded)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestUDPPacketTooShortRejected(t *testing.T) {
	_, err := decodeUDPPacket(make([]byte, udpMinPacketLen-1))
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestUDPPacketNameLengthOverrunRejected(t *testing.T) {
	ann := udpAnnouncement{Version: 1, ShortID: "abcd1234", Port: 1, Class: ClassLinux, Name: "short"}
	encoded := encodeUDPPacket(ann)
	encoded[19] = 0xFF // claim a name far longer than the buffer holds

	_, err := decodeUDPPacket(encoded)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestUDPPacketMinimumLength(t *testing.T) {
	ann := udpAnnouncement{Version: 1, ShortID: "abcd1234", Port: 1, Class: ClassLinux, Name: ""}
	encoded := encodeUDPPacket(ann)
	assert.Len(t, encoded, udpMinPacketLen)
}

func TestDeviceClassFromByte(t *testing.T) {
	cases := map[byte]DeviceClass{
		'a': ClassAndroid,
		'w': ClassWindows,
		'l': ClassLinux,
		'i': ClassIOS,
		'?': ClassUnknown,
	}
	for b, want := range cases {
		assert.Equal(t, want, deviceClassFromByte(b))
	}
}
