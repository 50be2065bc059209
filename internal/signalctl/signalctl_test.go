package signalctl

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/tproxyd/internal/action"
	"github.com/relaymesh/tproxyd/internal/config"
)

func TestHandler_StopActionEndsRun(t *testing.T) {
	bus := action.NewBus()
	h := &Handler{Bus: bus, Snapshot: config.NewAtomicSnapshot(&config.Snapshot{})}

	done := make(chan error, 1)
	go func() { done <- h.Run() }()

	bus.Set(action.Action{Kind: action.Stop})

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after a STOP action")
	}
}

func TestHandler_PanickedActionEndsRun(t *testing.T) {
	bus := action.NewBus()
	h := &Handler{Bus: bus, Snapshot: config.NewAtomicSnapshot(&config.Snapshot{})}

	done := make(chan error, 1)
	go func() { done <- h.Run() }()

	bus.Set(action.Action{Kind: action.Panicked})

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after a PANICKED action")
	}
}

func TestHandler_SIGINTPublishesShutdown(t *testing.T) {
	bus := action.NewBus()
	h := &Handler{Bus: bus, Snapshot: config.NewAtomicSnapshot(&config.Snapshot{})}

	done := make(chan error, 1)
	go func() { done <- h.Run() }()

	// Give signal.Notify time to register before raising the signal.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after SIGINT")
	}
	assert.Equal(t, action.Shutdown, bus.Current().Kind)
}

func TestHandler_SIGHUPReloadsUnchangedConfigWithoutPublishing(t *testing.T) {
	path := writeConfigFile(t, `{"port":10000,"udp":[],"tcp":[]}`)

	snap, err := config.LoadSnapshot(path)
	require.NoError(t, err)

	bus := action.NewBus()
	h := &Handler{Bus: bus, Snapshot: config.NewAtomicSnapshot(snap), ConfigPath: path}

	watch := bus.Watch()
	h.handleReload()

	select {
	case <-watch:
		t.Fatal("unexpected action published for an unchanged configuration")
	default:
	}
	assert.Equal(t, action.Init, bus.Current().Kind)
}

func TestHandler_SIGHUPReloadsChangedConfigAndPublishesReload(t *testing.T) {
	path := writeConfigFile(t, `{"port":10000,"udp":[],"tcp":[]}`)

	snap, err := config.LoadSnapshot(path)
	require.NoError(t, err)

	bus := action.NewBus()
	asnap := config.NewAtomicSnapshot(snap)
	h := &Handler{Bus: bus, Snapshot: asnap, ConfigPath: path}

	require.NoError(t, os.WriteFile(path, []byte(`{"port":10001,"udp":[],"tcp":[]}`), 0o644))

	h.handleReload()

	act := bus.Current()
	assert.Equal(t, action.Reload, act.Kind)
	assert.True(t, act.PortChanged)
	assert.EqualValues(t, 10001, asnap.Load().ListenPort)
}

func TestHandler_StatusStringIncludesPort(t *testing.T) {
	h := &Handler{}
	assert.Equal(t, "Configured to listen at 127.0.0.2:10000", h.statusString(10000))
}

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := t.TempDir() + "/config.json"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}
