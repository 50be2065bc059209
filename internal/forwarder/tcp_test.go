package forwarder

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/tproxyd/internal/config"
)

func TestTCPForwarder_ListenIPDefaultsToConfigListenIP(t *testing.T) {
	f := &TCPForwarder{}
	assert.True(t, f.listenIP().Equal(config.ListenIP))
}

func TestTCPForwarder_OnReload_NoPortChangeSkipsRebuild(t *testing.T) {
	snap := &config.Snapshot{ListenPort: 10000}
	f := &TCPForwarder{Snapshot: config.NewAtomicSnapshot(snap)}

	assert.NotPanics(t, func() {
		f.onReload(actionReload(false))
	})
	assert.Nil(t, f.ln)
}

// TestTCPForwarder_Relay_OriginalDestLookupFailure exercises relay against a
// real (non-transparent) loopback connection. Without an actual TPROXY
// redirect, SO_ORIGINAL_DST lookup fails, which is exactly the "missing"
// path §4.5 says to log and drop — this is the behavior a privileged,
// root-run integration test would also exercise, just reached here via a
// plain loopback pair rather than a real transparent socket.
func TestTCPForwarder_Relay_OriginalDestLookupFailure(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptErr := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
		}
		acceptErr <- err
	}()

	clientConn, err := net.Dial("tcp4", ln.Addr().String())
	require.NoError(t, err)
	defer clientConn.Close()

	require.NoError(t, <-acceptErr)

	tcpConn, ok := clientConn.(*net.TCPConn)
	require.True(t, ok)

	f := &TCPForwarder{Snapshot: config.NewAtomicSnapshot(&config.Snapshot{})}
	f.wg.Add(1)

	done := make(chan struct{})
	go func() {
		f.relay(tcpConn)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not return after a failed original-destination lookup")
	}
}
