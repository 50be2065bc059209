package action

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_InitialState(t *testing.T) {
	b := NewBus()
	assert.Equal(t, Init, b.Current().Kind)
}

func TestBus_SetWakesWatcher(t *testing.T) {
	b := NewBus()
	watch := b.Watch()

	done := make(chan Action, 1)
	go func() {
		<-watch
		done <- b.Current()
	}()

	b.Set(Action{Kind: Shutdown})

	select {
	case got := <-done:
		assert.Equal(t, Shutdown, got.Kind)
	case <-time.After(time.Second):
		t.Fatal("watcher was not woken")
	}
}

func TestBus_OnlyLatestValueObserved(t *testing.T) {
	b := NewBus()
	watch := b.Watch()

	b.Set(Action{Kind: Reload, PortChanged: true})
	b.Set(Action{Kind: Shutdown})

	select {
	case <-watch:
	case <-time.After(time.Second):
		t.Fatal("watch channel was not closed")
	}
	assert.Equal(t, Shutdown, b.Current().Kind, "intermediate RELOAD should be coalesced away")
}

func TestBus_MultipleReaders(t *testing.T) {
	b := NewBus()
	const readers = 16

	var wg sync.WaitGroup
	results := make([]Kind, readers)
	for i := 0; i < readers; i++ {
		i := i
		watch := b.Watch()
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-watch
			results[i] = b.Current().Kind
		}()
	}

	b.Set(Action{Kind: Kill})
	wg.Wait()

	for i, k := range results {
		assert.Equalf(t, Kill, k, "reader %d saw stale action", i)
	}
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		k    Kind
		want string
	}{
		{Init, "INIT"},
		{Reload, "RELOAD"},
		{Shutdown, "SHUTDOWN"},
		{Kill, "KILL"},
		{Stop, "STOP"},
		{Panicked, "PANICKED"},
		{Kind(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.k.String())
	}
}

func TestKind_TerminalAndForced(t *testing.T) {
	require.True(t, Shutdown.Terminal())
	require.True(t, Kill.Terminal())
	require.True(t, Stop.Terminal())
	require.True(t, Panicked.Terminal())
	require.False(t, Init.Terminal())
	require.False(t, Reload.Terminal())

	assert.True(t, Kill.Forced())
	assert.True(t, Panicked.Forced())
	assert.False(t, Shutdown.Forced())
	assert.False(t, Stop.Forced())
}
