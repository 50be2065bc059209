package forwarder

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/tproxyd/internal/config"
)

func TestUDPForwarder_ListenIPDefaultsToConfigListenIP(t *testing.T) {
	f := &UDPForwarder{}
	assert.True(t, f.listenIP().Equal(config.ListenIP))

	custom := net.IPv4(10, 0, 0, 1)
	f.ListenIP = custom
	assert.True(t, f.listenIP().Equal(custom))
}

func TestUDPForwarder_LoggerDefaultsToNop(t *testing.T) {
	f := &UDPForwarder{}
	require.NotNil(t, f.logger())
	assert.NotPanics(t, func() { f.logger().Info("no subscribers, must not panic") })
}

func TestUDPForwarder_OnReload_NoPortChangeSkipsRebuild(t *testing.T) {
	snap := &config.Snapshot{ListenPort: 10000}
	f := &UDPForwarder{Snapshot: config.NewAtomicSnapshot(snap)}

	assert.NotPanics(t, func() {
		f.onReload(actionReload(false))
	})
	// conn was never touched because PortChanged was false.
	assert.Nil(t, f.conn)
}

func TestUDPForwarder_Relay_UnmappedPortDropped(t *testing.T) {
	emptyMap, err := config.NewForwarderMap(nil)
	require.NoError(t, err)
	snap := &config.Snapshot{UDPMap: emptyMap}

	f := &UDPForwarder{Snapshot: config.NewAtomicSnapshot(snap)}
	f.sem = make(chan struct{}, 1)
	f.sem <- struct{}{}
	f.wg.Add(1)

	src := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1234}
	origDst := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 2), Port: 9999}

	assert.NotPanics(t, func() {
		f.relay(src, origDst, []byte("hello"))
	})
	assert.Len(t, f.sem, 0, "relay must release its semaphore permit on exit")
}
