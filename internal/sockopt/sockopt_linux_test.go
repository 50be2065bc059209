//go:build linux

package sockopt

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func buildSockaddrIn(t *testing.T, ip [4]byte, port uint16) []byte {
	t.Helper()
	data := make([]byte, 16)
	binary.LittleEndian.PutUint16(data[0:2], unix.AF_INET)
	binary.BigEndian.PutUint16(data[2:4], port)
	copy(data[4:8], ip[:])
	return data
}

func TestParseSockaddrIn(t *testing.T) {
	data := buildSockaddrIn(t, [4]byte{127, 0, 0, 3}, 53)

	ip, port, err := parseSockaddrIn(data)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.3", ip.String())
	assert.Equal(t, uint16(53), port)
}

func TestParseSockaddrIn_TooShort(t *testing.T) {
	_, _, err := parseSockaddrIn(make([]byte, 4))
	assert.Error(t, err)
}

func TestParseSockaddrIn_WrongFamily(t *testing.T) {
	data := buildSockaddrIn(t, [4]byte{127, 0, 0, 3}, 53)
	binary.LittleEndian.PutUint16(data[0:2], unix.AF_INET6)

	_, _, err := parseSockaddrIn(data)
	assert.Error(t, err)
}
